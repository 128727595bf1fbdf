package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tradewire/gofix/internal/engine"
	"github.com/tradewire/gofix/internal/fix"
)

// DefaultReconnectInterval is the flat redial cadence when the settings
// leave ReconnectInterval unset. Backoff is intentionally not exponential:
// a flat interval is simpler to reason about and protocol-compliant.
const DefaultReconnectInterval = 30 * time.Second

// dialTimeout bounds one connection attempt.
const dialTimeout = 10 * time.Second

// DialConfig is one initiator session's connection target.
type DialConfig struct {
	SessionID         fix.SessionID
	Host              string
	Port              int
	ReconnectInterval time.Duration
	Options           SocketOptions
}

// connState is the initiator's view of one session's transport.
type connState uint8

const (
	stateDisconnected connState = iota
	statePending
	stateConnected
)

// Initiator dials the configured counterparties and keeps each session's
// transport alive. Sessions move between the disconnected, pending, and
// connected sets; the driver loop redials disconnected sessions that are
// enabled and inside their logon window.
type Initiator struct {
	engine  *engine.Engine
	configs map[fix.SessionID]DialConfig
	logger  *slog.Logger

	mu     sync.Mutex
	states map[fix.SessionID]connState
	conns  map[fix.SessionID]net.Conn
	nextAt map[fix.SessionID]time.Time

	wg       sync.WaitGroup
	stopping atomic.Bool
	cancel   context.CancelFunc
}

// NewInitiator creates an initiator for the dial set.
func NewInitiator(e *engine.Engine, configs []DialConfig, logger *slog.Logger) *Initiator {
	byID := make(map[fix.SessionID]DialConfig, len(configs))
	states := make(map[fix.SessionID]connState, len(configs))
	for _, cfg := range configs {
		if cfg.ReconnectInterval <= 0 {
			cfg.ReconnectInterval = DefaultReconnectInterval
		}
		byID[cfg.SessionID] = cfg
		states[cfg.SessionID] = stateDisconnected
	}
	return &Initiator{
		engine:  e,
		configs: byID,
		logger:  logger.With(slog.String("component", "initiator")),
		states:  states,
		conns:   make(map[fix.SessionID]net.Conn),
		nextAt:  make(map[fix.SessionID]time.Time),
	}
}

// Start spawns the driver loop and the timer ticker.
func (i *Initiator) Start(ctx context.Context) error {
	ctx, i.cancel = context.WithCancel(ctx)
	i.wg.Add(2)
	go i.driverLoop(ctx)
	go i.timerLoop(ctx)
	return nil
}

// driverLoop periodically dials every disconnected, enabled, in-window
// session. Dial attempts run inline; connected sockets get their own read
// goroutine.
func (i *Initiator) driverLoop(ctx context.Context) {
	defer i.wg.Done()
	ticker := time.NewTicker(timerTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			i.reconcile(ctx, now)
		}
	}
}

// reconcile moves sessions that lost their transport back to disconnected
// and dials the ones whose reconnect interval has elapsed.
func (i *Initiator) reconcile(ctx context.Context, now time.Time) {
	for id, cfg := range i.configs {
		sess, ok := i.engine.Lookup(id)
		if !ok {
			continue
		}

		i.mu.Lock()
		st := i.states[id]
		i.mu.Unlock()

		switch st {
		case statePending, stateConnected:
			if sess.Status() == fix.StatusDisconnected {
				i.dropConn(id)
			} else if st == statePending && sess.IsLoggedOn() {
				i.setState(id, stateConnected)
				i.logger.Info("session connected", slog.String("session", id.String()))
			}
		case stateDisconnected:
			if !sess.IsEnabled() || sess.IsLoggedOn() || !sess.InLogonWindow(now) {
				continue
			}
			i.mu.Lock()
			due := now.After(i.nextAt[id])
			if due {
				i.nextAt[id] = now.Add(cfg.ReconnectInterval)
			}
			i.mu.Unlock()
			if due {
				i.dial(ctx, sess, cfg)
			}
		}
	}
}

// dial attempts one connection and, on success, binds the transport and
// spawns the read loop. The session sends its Logon inside Connect.
func (i *Initiator) dial(ctx context.Context, sess *fix.Session, cfg DialConfig) {
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		i.logger.Warn("dial failed",
			slog.String("session", cfg.SessionID.String()),
			slog.String("addr", addr),
			slog.String("error", err.Error()),
		)
		return
	}
	cfg.Options.apply(conn)

	responder := newConnResponder(conn)
	if err := sess.Connect(responder); err != nil {
		i.logger.Warn("session refused transport",
			slog.String("session", cfg.SessionID.String()),
			slog.String("error", err.Error()),
		)
		_ = conn.Close()
		return
	}

	i.mu.Lock()
	i.states[cfg.SessionID] = statePending
	i.conns[cfg.SessionID] = conn
	i.mu.Unlock()

	i.logger.Info("dialed",
		slog.String("session", cfg.SessionID.String()),
		slog.String("addr", addr),
	)

	i.wg.Add(1)
	go i.readLoop(sess, conn)
}

// readLoop frames inbound messages until the socket dies.
func (i *Initiator) readLoop(sess *fix.Session, conn net.Conn) {
	defer i.wg.Done()
	reader := NewFrameReader(conn)
	for {
		frame, err := reader.ReadFrame()
		if err != nil {
			sess.OnTransportClosed()
			i.dropConn(sess.ID())
			return
		}
		sess.ProcessIncoming(frame)
	}
}

// timerLoop drives every initiator session's clocks once per second.
func (i *Initiator) timerLoop(ctx context.Context) {
	defer i.wg.Done()
	ticker := time.NewTicker(timerTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, sess := range i.engine.Sessions() {
				if sess.IsInitiator() {
					sess.CheckTimers(now)
				}
			}
		}
	}
}

// setState updates one session's transport state.
func (i *Initiator) setState(id fix.SessionID, st connState) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.states[id] = st
}

// dropConn closes and forgets a session's socket and marks it
// disconnected for redial.
func (i *Initiator) dropConn(id fix.SessionID) {
	i.mu.Lock()
	conn := i.conns[id]
	delete(i.conns, id)
	i.states[id] = stateDisconnected
	i.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Stop shuts the initiator down: graceful Logout with a bounded wait
// unless forced, then socket close and goroutine join. The enabled set is
// untouched, so a restarted driver logs the same sessions back on.
func (i *Initiator) Stop(force bool) {
	i.stopping.Store(true)

	if !force {
		logoutSessions(i.engine, true)
		waitLogoff(i.engine, true)
	}

	if i.cancel != nil {
		i.cancel()
	}

	i.mu.Lock()
	for id, conn := range i.conns {
		_ = conn.Close()
		i.states[id] = stateDisconnected
	}
	i.conns = make(map[fix.SessionID]net.Conn)
	i.mu.Unlock()

	i.wg.Wait()
	i.logger.Info("initiator stopped")
}
