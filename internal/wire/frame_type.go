package wire

import "github.com/qweave/qweave/internal/protocol"

// FrameType is the QUIC frame type as it appears on the wire.
type FrameType uint64

// The frame types this connection core processes. The constants match RFC 9000
// (and RFC 9221 for DATAGRAM), so a FrameType converts directly to the type byte.
const (
	PingFrameType               FrameType = 0x1
	AckFrameType                FrameType = 0x2
	AckECNFrameType             FrameType = 0x3
	CryptoFrameType             FrameType = 0x6
	NewTokenFrameType           FrameType = 0x7
	MaxDataFrameType            FrameType = 0x10
	DataBlockedFrameType        FrameType = 0x14
	NewConnectionIDFrameType    FrameType = 0x18
	RetireConnectionIDFrameType FrameType = 0x19
	ConnectionCloseFrameType    FrameType = 0x1c
	ApplicationCloseFrameType   FrameType = 0x1d
	HandshakeDoneFrameType      FrameType = 0x1e
	DatagramNoLengthFrameType   FrameType = 0x30
	DatagramWithLengthFrameType FrameType = 0x31
)

func (t FrameType) isAllowedAtEncLevel(encLevel protocol.EncryptionLevel) bool {
	//nolint:exhaustive
	switch encLevel {
	case protocol.EncryptionInitial, protocol.EncryptionHandshake:
		switch t {
		case CryptoFrameType, AckFrameType, AckECNFrameType, ConnectionCloseFrameType, PingFrameType:
			return true
		default:
			return false
		}
	case protocol.Encryption0RTT:
		// RFC 9000 section 12.5
		switch t {
		case CryptoFrameType, AckFrameType, AckECNFrameType, ConnectionCloseFrameType, NewTokenFrameType, RetireConnectionIDFrameType:
			return false
		default:
			return true
		}
	case protocol.Encryption1RTT:
		return true
	default:
		panic("unknown encryption level")
	}
}
