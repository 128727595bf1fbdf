package transport

import (
	"context"
	"net"
	"time"
)

// SocketOptions carries the per-listener and per-connection socket knobs
// from the session settings.
type SocketOptions struct {
	// NoDelay disables Nagle's algorithm (TCP_NODELAY).
	NoDelay bool

	// SendBufferSize sets SO_SNDBUF when positive.
	SendBufferSize int

	// ReceiveBufferSize sets SO_RCVBUF when positive.
	ReceiveBufferSize int

	// ReuseAddress sets SO_REUSEADDR on the listening socket.
	ReuseAddress bool
}

// apply configures an established connection.
func (o SocketOptions) apply(conn net.Conn) {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if o.NoDelay {
		_ = tcp.SetNoDelay(true)
	}
	if o.SendBufferSize > 0 {
		_ = tcp.SetWriteBuffer(o.SendBufferSize)
	}
	if o.ReceiveBufferSize > 0 {
		_ = tcp.SetReadBuffer(o.ReceiveBufferSize)
	}
}

// listen creates the TCP listener with the configured socket options.
func (o SocketOptions) listen(ctx context.Context, addr string) (net.Listener, error) {
	lc := net.ListenConfig{Control: o.listenControl()}
	return lc.Listen(ctx, "tcp", addr)
}

// writeTimeout bounds a single responder write so a wedged counterparty
// cannot hold the session lock forever.
const writeTimeout = 30 * time.Second
