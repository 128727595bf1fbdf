package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tradewire/gofix/internal/engine"
	"github.com/tradewire/gofix/internal/fix"
)

// -------------------------------------------------------------------------
// Driver constants
// -------------------------------------------------------------------------

const (
	// timerTick is the clock-inspection cadence for every session.
	timerTick = 1 * time.Second

	// logoffWait bounds the graceful Stop: sessions get this long to
	// complete the Logout exchange before sockets are torn down.
	logoffWait = 10 * time.Second

	// logoffPoll is the logged-on re-check interval during Stop.
	logoffPoll = 100 * time.Millisecond
)

// ErrNoSessionForLogon indicates an inbound connection's first message did
// not resolve to a registered acceptor session.
var ErrNoSessionForLogon = errors.New("no session for inbound logon")

// -------------------------------------------------------------------------
// Acceptor — thread-per-connection flavor
// -------------------------------------------------------------------------

// ListenerConfig is one listening endpoint.
type ListenerConfig struct {
	Address string
	Options SocketOptions
}

// Acceptor listens on the configured ports and binds each inbound
// connection to a registered session when its Logon arrives. One goroutine
// runs per accepted socket; a shared ticker drives the session timers.
type Acceptor struct {
	engine  *engine.Engine
	configs []ListenerConfig
	logger  *slog.Logger

	mu        sync.Mutex
	listeners []net.Listener
	conns     map[net.Conn]struct{}

	wg       sync.WaitGroup
	stopping atomic.Bool
	cancel   context.CancelFunc
}

// NewAcceptor creates an acceptor for the listener set.
func NewAcceptor(e *engine.Engine, configs []ListenerConfig, logger *slog.Logger) *Acceptor {
	return &Acceptor{
		engine:  e,
		configs: configs,
		logger:  logger.With(slog.String("component", "acceptor")),
		conns:   make(map[net.Conn]struct{}),
	}
}

// Start opens the listeners and spawns the accept loops and the timer
// ticker. Non-blocking; Stop tears everything down.
func (a *Acceptor) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	for _, cfg := range a.configs {
		ln, err := cfg.Options.listen(ctx, cfg.Address)
		if err != nil {
			a.closeListeners()
			return fmt.Errorf("listen %s: %w", cfg.Address, err)
		}
		a.mu.Lock()
		a.listeners = append(a.listeners, ln)
		a.mu.Unlock()

		a.logger.Info("listening", slog.String("addr", cfg.Address))

		a.wg.Add(1)
		go a.acceptLoop(ln, cfg.Options)
	}

	a.wg.Add(1)
	go a.timerLoop(ctx)
	return nil
}

// Addrs returns the bound listener addresses. Useful when a listener was
// configured with port 0.
func (a *Acceptor) Addrs() []net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]net.Addr, 0, len(a.listeners))
	for _, ln := range a.listeners {
		out = append(out, ln.Addr())
	}
	return out
}

// acceptLoop accepts sockets until the listener closes.
func (a *Acceptor) acceptLoop(ln net.Listener, opts SocketOptions) {
	defer a.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !a.stopping.Load() {
				a.logger.Warn("accept failed", slog.String("error", err.Error()))
			}
			return
		}
		opts.apply(conn)
		a.trackConn(conn, true)

		a.wg.Add(1)
		go a.handleConn(conn)
	}
}

// handleConn is the per-connection read loop: frame, resolve the session on
// the first message, then feed the session until the transport dies.
func (a *Acceptor) handleConn(conn net.Conn) {
	defer a.wg.Done()
	defer a.trackConn(conn, false)

	reader := NewFrameReader(conn)
	frame, err := reader.ReadFrame()
	if err != nil {
		_ = conn.Close()
		return
	}

	sess, err := a.resolveSession(frame)
	if err != nil {
		a.logger.Warn("closing unresolvable connection",
			slog.String("remote", conn.RemoteAddr().String()),
			slog.String("error", err.Error()),
		)
		_ = conn.Close()
		return
	}

	responder := newConnResponder(conn)
	if err := sess.Connect(responder); err != nil {
		a.logger.Warn("session refused connection",
			slog.String("session", sess.ID().String()),
			slog.String("error", err.Error()),
		)
		_ = conn.Close()
		return
	}

	sess.ProcessIncoming(frame)
	for {
		frame, err := reader.ReadFrame()
		if err != nil {
			sess.OnTransportClosed()
			return
		}
		sess.ProcessIncoming(frame)
	}
}

// resolveSession maps the first inbound message to a registered acceptor
// session by reversing the counterparty's CompIDs.
func (a *Acceptor) resolveSession(frame []byte) (*fix.Session, error) {
	msg, err := fix.ParseMessage(frame)
	if err != nil {
		return nil, err
	}
	beginString, _ := msg.Header.Get(fix.TagBeginString)
	sender, _ := msg.Header.Get(fix.TagSenderCompID)
	target, _ := msg.Header.Get(fix.TagTargetCompID)

	sess, ok := a.engine.LookupByCompIDs(beginString, sender, target)
	if !ok || sess.IsInitiator() {
		return nil, fmt.Errorf("%s %s->%s: %w",
			beginString, sender, target, ErrNoSessionForLogon)
	}
	return sess, nil
}

// timerLoop drives every acceptor session's clocks once per second.
func (a *Acceptor) timerLoop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(timerTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, sess := range a.engine.Sessions() {
				if !sess.IsInitiator() {
					sess.CheckTimers(now)
				}
			}
		}
	}
}

// trackConn records or forgets an open socket for forced shutdown.
func (a *Acceptor) trackConn(conn net.Conn, add bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if add {
		a.conns[conn] = struct{}{}
	} else {
		delete(a.conns, conn)
	}
}

// Stop shuts the acceptor down. When force is false, every logged-on
// acceptor session first gets a Logout and up to ten seconds to complete
// the exchange; sockets close afterwards either way, and the accept and
// connection goroutines are joined.
func (a *Acceptor) Stop(force bool) {
	a.stopping.Store(true)

	if !force {
		logoutSessions(a.engine, false)
		waitLogoff(a.engine, false)
	}

	if a.cancel != nil {
		a.cancel()
	}
	a.closeListeners()

	a.mu.Lock()
	for conn := range a.conns {
		_ = conn.Close()
	}
	a.mu.Unlock()

	a.wg.Wait()
	a.logger.Info("acceptor stopped")
}

// closeListeners closes all listening sockets.
func (a *Acceptor) closeListeners() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ln := range a.listeners {
		_ = ln.Close()
	}
	a.listeners = nil
}

// -------------------------------------------------------------------------
// Shared stop helpers
// -------------------------------------------------------------------------

// logoutSessions initiates a Logout on the matching role's logged-on
// sessions.
func logoutSessions(e *engine.Engine, initiators bool) {
	for _, sess := range e.Sessions() {
		if sess.IsInitiator() == initiators && sess.IsLoggedOn() {
			sess.Logout()
		}
	}
}

// waitLogoff polls until no matching session is logged on or the grace
// period expires.
func waitLogoff(e *engine.Engine, initiators bool) {
	deadline := time.Now().Add(logoffWait)
	for time.Now().Before(deadline) {
		busy := false
		for _, sess := range e.Sessions() {
			if sess.IsInitiator() == initiators && sess.IsLoggedOn() {
				busy = true
				break
			}
		}
		if !busy {
			return
		}
		time.Sleep(logoffPoll)
	}
}
