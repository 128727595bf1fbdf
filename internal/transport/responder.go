package transport

import (
	"net"
	"sync"
	"time"
)

// connResponder adapts a net.Conn to the session's Responder contract. The
// session owns ordering (writes happen under the session lock); the
// responder only adds the write deadline and idempotent close.
type connResponder struct {
	conn net.Conn

	closeOnce sync.Once
}

// newConnResponder wraps an established connection.
func newConnResponder(conn net.Conn) *connResponder {
	return &connResponder{conn: conn}
}

// Send implements fix.Responder.
func (r *connResponder) Send(data []byte) bool {
	_ = r.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := r.conn.Write(data)
	return err == nil
}

// Disconnect implements fix.Responder.
func (r *connResponder) Disconnect() {
	r.closeOnce.Do(func() {
		_ = r.conn.Close()
	})
}
