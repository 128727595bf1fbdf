//go:build linux

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// listenControl returns the ListenConfig control hook applying
// SO_REUSEADDR before bind, so restarts can re-listen on a port still
// carrying TIME_WAIT sockets.
func (o SocketOptions) listenControl() func(network, address string, c syscall.RawConn) error {
	if !o.ReuseAddress {
		return nil
	}
	return func(_, _ string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
