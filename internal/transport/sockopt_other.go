//go:build !linux

package transport

import "syscall"

// listenControl is a no-op off Linux; the stdlib default listener already
// behaves acceptably for development use.
func (o SocketOptions) listenControl() func(network, address string, c syscall.RawConn) error {
	return nil
}
