package protocol

import (
	"fmt"
	"time"
)

// A PacketNumber in QUIC
type PacketNumber int64

// InvalidPacketNumber is a packet number that is never sent.
// In QUIC, 0 is a valid packet number.
const InvalidPacketNumber PacketNumber = -1

// A ByteCount in QUIC
type ByteCount int64

// MaxByteCount is the maximum value of a ByteCount
const MaxByteCount = ByteCount(1<<62 - 1)

// A Version is a QUIC version number.
type Version uint32

// Version1 is RFC 9000
const Version1 Version = 0x1

func (vn Version) String() string {
	switch vn {
	case Version1:
		return "v1"
	default:
		return fmt.Sprintf("%#x", uint32(vn))
	}
}

// A StatelessResetToken is a stateless reset token.
type StatelessResetToken [16]byte

func (t StatelessResetToken) String() string {
	return fmt.Sprintf("0x%x", t[:])
}

// DefaultAckDelayExponent is the default ack delay exponent
const DefaultAckDelayExponent = 3

// MaxAckDelayExponent is the maximum ack delay exponent
const MaxAckDelayExponent = 20

// DefaultConnectionReceiveWindow is the initial connection-level flow control window
const DefaultConnectionReceiveWindow = 512 * (1 << 10) // 512 kB

// DefaultMaxConnectionReceiveWindow is the default maximum connection-level flow control window
const DefaultMaxConnectionReceiveWindow = 15 * (1 << 20) // 15 MB

// WindowUpdateThreshold is the fraction of the receive window that has to be consumed
// before a higher offset is advertised to the peer
const WindowUpdateThreshold = 0.25

// MaxCryptoStreamOffset is the maximum offset allowed on any of the crypto streams
const MaxCryptoStreamOffset = 16 * (1 << 10)

// DatagramRcvQueueLen is the length of the receive queue for DATAGRAM frames
const DatagramRcvQueueLen = 128

// MaxDatagramFrameSize is the default maximum DATAGRAM frame size we accept
const MaxDatagramFrameSize = 1200

// DefaultMaxPaths is the number of network paths kept per connection before
// the least recently used one is evicted
const DefaultMaxPaths = 8

// DefaultPathTimerGranularity is the baseline retransmission timer granularity
// a new path starts out with
const DefaultPathTimerGranularity = 100 * time.Millisecond

// DesiredReceiveBufferSize is the kernel UDP receive buffer size that we'd like to use.
const DesiredReceiveBufferSize = (1 << 20) * 2 // 2 MB

// MaxAckDelay is the maximum time by which we delay sending an ACK
const MaxAckDelay = 25 * time.Millisecond

// DefaultMaxAckDelay is the max_ack_delay assumed when the peer omits the
// transport parameter
const DefaultMaxAckDelay = 25 * time.Millisecond

// MaxMaxAckDelay is the maximum value accepted for max_ack_delay,
// values of 2^14 ms or more are invalid
const MaxMaxAckDelay = (1<<14 - 1) * time.Millisecond

// DefaultActiveConnectionIDLimit is the active_connection_id_limit assumed
// when the peer omits the transport parameter
const DefaultActiveConnectionIDLimit = 2

// AckElicitingPacketsBeforeAck is the number of ack-eliciting packets received
// before an ACK is queued
const AckElicitingPacketsBeforeAck = 2

// MaxNumAckRanges is the maximum number of ACK ranges tracked per packet
// number space, and therefore the maximum number sent in a single ACK frame
const MaxNumAckRanges = 32
