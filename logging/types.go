package logging

import (
	"github.com/qweave/qweave/internal/protocol"
	"github.com/qweave/qweave/internal/wire"
)

type (
	// A ByteCount is used to count bytes.
	ByteCount = protocol.ByteCount
	// A ConnectionID is a QUIC Connection ID.
	ConnectionID = protocol.ConnectionID
	// The EncryptionLevel is the encryption level of a packet.
	EncryptionLevel = protocol.EncryptionLevel
	// The PacketNumber is the packet number of a packet.
	PacketNumber = protocol.PacketNumber
	// The Perspective is the role of a QUIC endpoint (client or server).
	Perspective = protocol.Perspective
	// A Version is a QUIC version number.
	Version = protocol.Version
	// A Pathway is a local / remote address pair.
	Pathway = protocol.Pathway
	// A StatelessResetToken is a stateless reset token.
	StatelessResetToken = protocol.StatelessResetToken
)

type (
	// A Frame is a QUIC frame.
	Frame = wire.Frame
	// An AckRange is a range of acknowledged packet numbers.
	AckRange = wire.AckRange
	// The TransportParameters are QUIC transport parameters.
	TransportParameters = wire.TransportParameters

	// An AckFrame is an ACK frame.
	AckFrame = wire.AckFrame
	// A ConnectionCloseFrame is a CONNECTION_CLOSE frame.
	ConnectionCloseFrame = wire.ConnectionCloseFrame
	// A CryptoFrame is a CRYPTO frame.
	CryptoFrame = wire.CryptoFrame
	// A DataBlockedFrame is a DATA_BLOCKED frame.
	DataBlockedFrame = wire.DataBlockedFrame
	// A DatagramFrame is a DATAGRAM frame.
	DatagramFrame = wire.DatagramFrame
	// A HandshakeDoneFrame is a HANDSHAKE_DONE frame.
	HandshakeDoneFrame = wire.HandshakeDoneFrame
	// A MaxDataFrame is a MAX_DATA frame.
	MaxDataFrame = wire.MaxDataFrame
	// A NewConnectionIDFrame is a NEW_CONNECTION_ID frame.
	NewConnectionIDFrame = wire.NewConnectionIDFrame
	// A NewTokenFrame is a NEW_TOKEN frame.
	NewTokenFrame = wire.NewTokenFrame
	// A PingFrame is a PING frame.
	PingFrame = wire.PingFrame
	// A RetireConnectionIDFrame is a RETIRE_CONNECTION_ID frame.
	RetireConnectionIDFrame = wire.RetireConnectionIDFrame
)

const (
	// PerspectiveServer is used for a QUIC server
	PerspectiveServer = protocol.PerspectiveServer
	// PerspectiveClient is used for a QUIC client
	PerspectiveClient = protocol.PerspectiveClient
)

const (
	// EncryptionInitial is the Initial encryption level
	EncryptionInitial = protocol.EncryptionInitial
	// EncryptionHandshake is the Handshake encryption level
	EncryptionHandshake = protocol.EncryptionHandshake
	// Encryption0RTT is the 0-RTT encryption level
	Encryption0RTT = protocol.Encryption0RTT
	// Encryption1RTT is the 1-RTT encryption level
	Encryption1RTT = protocol.Encryption1RTT
)

// PacketDropReason is the reason why a packet is dropped.
type PacketDropReason uint8

const (
	// PacketDropKeyDiscarded is used when a packet is dropped because its encryption epoch was already retired
	PacketDropKeyDiscarded PacketDropReason = iota
	// PacketDropPayloadDecryptError is used when a packet is dropped because it fails AEAD authentication
	PacketDropPayloadDecryptError
	// PacketDropDuplicate is used when a packet is dropped because it was already received
	PacketDropDuplicate
)

func (r PacketDropReason) String() string {
	switch r {
	case PacketDropKeyDiscarded:
		return "key_discarded"
	case PacketDropPayloadDecryptError:
		return "payload_decrypt_error"
	case PacketDropDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// PacketLossReason is the reason why a packet was declared lost.
type PacketLossReason uint8

const (
	// PacketLossReorderingThreshold is used when a packet is declared lost because
	// enough packets sent after it were acknowledged
	PacketLossReorderingThreshold PacketLossReason = iota
	// PacketLossTimeThreshold is used when a packet is declared lost because it was
	// sent long enough before an acknowledged packet
	PacketLossTimeThreshold
)

func (r PacketLossReason) String() string {
	switch r {
	case PacketLossReorderingThreshold:
		return "reordering_threshold"
	case PacketLossTimeThreshold:
		return "time_threshold"
	default:
		return "unknown"
	}
}
