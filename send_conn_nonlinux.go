//go:build !linux

package qweave

import (
	"net"

	"github.com/qweave/qweave/internal/protocol"
)

func setReceiveBuffer(c *net.UDPConn) error {
	return c.SetReadBuffer(protocol.DesiredReceiveBufferSize)
}
