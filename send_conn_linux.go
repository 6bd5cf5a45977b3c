//go:build linux

package qweave

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/qweave/qweave/internal/protocol"
)

// setReceiveBuffer grows the kernel receive buffer of the socket.
// SO_RCVBUFFORCE gets past net.core.rmem_max, but needs CAP_NET_ADMIN; when
// that fails, the regular (capped) SetReadBuffer result has to do.
func setReceiveBuffer(c *net.UDPConn) error {
	if err := c.SetReadBuffer(protocol.DesiredReceiveBufferSize); err != nil {
		return err
	}
	rawConn, err := c.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	if err := rawConn.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUFFORCE, protocol.DesiredReceiveBufferSize)
	}); err != nil {
		return err
	}
	if serr == unix.EPERM {
		return nil
	}
	return serr
}
