package qweave

import (
	"time"

	"github.com/qweave/qweave/internal/protocol"
)

// A ReceivedPacket is a packet handed to the connection by the demultiplexing
// layer. Header protection was already removed and the packet number decoded;
// the payload is still sealed.
type ReceivedPacket struct {
	// PacketNumber is the decoded, full packet number.
	PacketNumber protocol.PacketNumber
	// Header is the raw packet header. It is the associated data when
	// opening the payload.
	Header []byte
	// Payload is the protected packet payload.
	Payload []byte
	// RcvTime is the time the packet was read off the socket.
	RcvTime time.Time
	// ECN is the ECN codepoint from the IP header.
	ECN protocol.ECN
	// Spin is the spin bit. It is only meaningful for 1-RTT packets.
	Spin bool
}

// Size returns the wire size of the packet.
func (p *ReceivedPacket) Size() protocol.ByteCount {
	return protocol.ByteCount(len(p.Header) + len(p.Payload))
}
