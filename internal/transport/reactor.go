package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tradewire/gofix/internal/engine"
	"github.com/tradewire/gofix/internal/fix"
)

// -------------------------------------------------------------------------
// Reactor — single-threaded acceptor flavor
// -------------------------------------------------------------------------

// pollSlice is the per-socket read deadline inside one reactor cycle. Short
// enough that a hundred idle sockets still cycle well under the timer tick.
const pollSlice = 5 * time.Millisecond

// Reactor is the cooperative single-goroutine acceptor: one loop
// multiplexes the listeners and every accepted socket with short read
// deadlines, and drives the session timers at the tick boundary. No session
// is ever reentered while another is mid-callback, by construction.
type Reactor struct {
	engine  *engine.Engine
	configs []ListenerConfig
	logger  *slog.Logger

	listeners []net.Listener
	conns     []*reactorConn

	wg       sync.WaitGroup
	stopping atomic.Bool
	cancel   context.CancelFunc
}

// reactorConn is one multiplexed socket with its partial-frame buffer.
type reactorConn struct {
	conn    net.Conn
	buf     []byte
	session *fix.Session // nil until the first message resolves it
	dead    bool
}

// NewReactor creates the single-threaded acceptor.
func NewReactor(e *engine.Engine, configs []ListenerConfig, logger *slog.Logger) *Reactor {
	return &Reactor{
		engine:  e,
		configs: configs,
		logger:  logger.With(slog.String("component", "reactor")),
	}
}

// Start opens the listeners and spawns the single reactor goroutine.
func (r *Reactor) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)

	for _, cfg := range r.configs {
		ln, err := cfg.Options.listen(ctx, cfg.Address)
		if err != nil {
			r.closeAll()
			return err
		}
		r.listeners = append(r.listeners, ln)
		r.logger.Info("listening", slog.String("addr", cfg.Address))
	}

	r.wg.Add(1)
	go r.loop(ctx)
	return nil
}

// Addrs returns the bound listener addresses. Useful when a listener was
// configured with port 0.
func (r *Reactor) Addrs() []net.Addr {
	out := make([]net.Addr, 0, len(r.listeners))
	for _, ln := range r.listeners {
		out = append(out, ln.Addr())
	}
	return out
}

// loop is the reactor cycle: accept what is pending, give every socket one
// read slice, then fire the timers when the tick elapses.
func (r *Reactor) loop(ctx context.Context) {
	defer r.wg.Done()
	lastTick := time.Now()
	for {
		if ctx.Err() != nil {
			return
		}

		r.acceptPending()
		r.pollConns()
		r.reapDead()

		if now := time.Now(); now.Sub(lastTick) >= timerTick {
			lastTick = now
			for _, sess := range r.engine.Sessions() {
				if !sess.IsInitiator() {
					sess.CheckTimers(now)
				}
			}
		}
	}
}

// acceptPending polls each listener with a short deadline.
func (r *Reactor) acceptPending() {
	for _, ln := range r.listeners {
		tcp, ok := ln.(*net.TCPListener)
		if !ok {
			continue
		}
		_ = tcp.SetDeadline(time.Now().Add(pollSlice))
		conn, err := tcp.Accept()
		if err != nil {
			if !isTimeout(err) && !r.stopping.Load() {
				r.logger.Warn("accept failed", slog.String("error", err.Error()))
			}
			continue
		}
		r.conns = append(r.conns, &reactorConn{conn: conn})
	}
}

// pollConns gives every socket one read slice and feeds complete frames to
// its session.
func (r *Reactor) pollConns() {
	chunk := make([]byte, 4096)
	for _, rc := range r.conns {
		if rc.dead {
			continue
		}
		_ = rc.conn.SetReadDeadline(time.Now().Add(pollSlice))
		n, err := rc.conn.Read(chunk)
		if n > 0 {
			rc.buf = append(rc.buf, chunk[:n]...)
			r.drainFrames(rc)
		}
		if err != nil && !isTimeout(err) {
			r.closeConn(rc)
		}
	}
}

// drainFrames extracts every complete message buffered on the socket.
func (r *Reactor) drainFrames(rc *reactorConn) {
	for {
		frame, rest, err := ExtractFrame(rc.buf)
		rc.buf = rest
		if errors.Is(err, ErrGarbledFrame) {
			continue
		}
		if frame == nil {
			return
		}
		if rc.session == nil {
			if !r.bindSession(rc, frame) {
				return
			}
		}
		rc.session.ProcessIncoming(frame)
	}
}

// bindSession resolves the first inbound message to an acceptor session
// and attaches the transport.
func (r *Reactor) bindSession(rc *reactorConn, frame []byte) bool {
	msg, err := fix.ParseMessage(frame)
	if err != nil {
		r.closeConn(rc)
		return false
	}
	beginString, _ := msg.Header.Get(fix.TagBeginString)
	sender, _ := msg.Header.Get(fix.TagSenderCompID)
	target, _ := msg.Header.Get(fix.TagTargetCompID)

	sess, ok := r.engine.LookupByCompIDs(beginString, sender, target)
	if !ok || sess.IsInitiator() {
		r.logger.Warn("closing unresolvable connection",
			slog.String("remote", rc.conn.RemoteAddr().String()),
		)
		r.closeConn(rc)
		return false
	}
	if err := sess.Connect(newConnResponder(rc.conn)); err != nil {
		r.logger.Warn("session refused connection",
			slog.String("session", sess.ID().String()),
			slog.String("error", err.Error()),
		)
		r.closeConn(rc)
		return false
	}
	rc.session = sess
	return true
}

// closeConn tears one socket down and notifies its session.
func (r *Reactor) closeConn(rc *reactorConn) {
	if rc.dead {
		return
	}
	rc.dead = true
	_ = rc.conn.Close()
	if rc.session != nil {
		rc.session.OnTransportClosed()
	}
}

// reapDead compacts the connection slice.
func (r *Reactor) reapDead() {
	out := r.conns[:0]
	for _, rc := range r.conns {
		if !rc.dead {
			out = append(out, rc)
		}
	}
	r.conns = out
}

// Stop shuts the reactor down with the same graceful-logout contract as
// the threaded acceptor.
func (r *Reactor) Stop(force bool) {
	r.stopping.Store(true)

	if !force {
		logoutSessions(r.engine, false)
		waitLogoff(r.engine, false)
	}

	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.closeAll()
	r.logger.Info("reactor stopped")
}

// closeAll closes the listeners and every tracked socket.
func (r *Reactor) closeAll() {
	for _, ln := range r.listeners {
		_ = ln.Close()
	}
	r.listeners = nil
	for _, rc := range r.conns {
		if !rc.dead {
			rc.dead = true
			_ = rc.conn.Close()
		}
	}
	r.conns = nil
}

// isTimeout reports whether the error is a read or accept deadline expiry.
func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
