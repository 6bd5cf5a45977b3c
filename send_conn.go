package qweave

import (
	"net"
	"net/netip"

	"golang.org/x/net/ipv4"

	"github.com/qweave/qweave/internal/utils"
)

// ecnECT0 is the TOS codepoint declaring the transport ECN-capable, ECT(0).
const ecnECT0 = 0b10

// A udpSender sends packets over a single UDP socket, to any remote address.
type udpSender struct {
	conn *net.UDPConn
}

var _ Sender = &udpSender{}

// NewUDPSender wraps a UDP socket for sending. It marks outgoing packets as
// ECN-capable and grows the kernel receive buffer where the platform allows
// it. Both are best effort and only logged on failure.
func NewUDPSender(conn *net.UDPConn) Sender {
	logger := utils.DefaultLogger.WithPrefix("sender")
	if err := ipv4.NewConn(conn).SetTOS(ecnECT0); err != nil {
		logger.Debugf("Failed to set ECT(0) on outgoing packets: %s", err)
	}
	if err := setReceiveBuffer(conn); err != nil {
		logger.Debugf("Failed to increase receive buffer size: %s", err)
	}
	return &udpSender{conn: conn}
}

// Send transmits b to addr.
func (c *udpSender) Send(b []byte, addr netip.AddrPort) (int, error) {
	return c.conn.WriteToUDPAddrPort(b, addr)
}
