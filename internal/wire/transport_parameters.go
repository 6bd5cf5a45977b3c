package wire

import (
	"errors"
	"fmt"
	"time"

	"github.com/qweave/qweave/internal/protocol"
	"github.com/qweave/qweave/internal/qerr"
	"github.com/qweave/qweave/quicvarint"
)

type transportParameterID uint64

const (
	maxIdleTimeoutParameterID            transportParameterID = 0x1
	initialMaxDataParameterID            transportParameterID = 0x4
	ackDelayExponentParameterID          transportParameterID = 0xa
	maxAckDelayParameterID               transportParameterID = 0xb
	activeConnectionIDLimitParameterID   transportParameterID = 0xe
	initialSourceConnectionIDParameterID transportParameterID = 0xf
	// RFC 9221
	maxDatagramFrameSizeParameterID transportParameterID = 0x20
)

// TransportParameters is the set of negotiated settings the connection core
// consumes once the handshake driver has completed the final epoch.
type TransportParameters struct {
	MaxIdleTimeout time.Duration

	InitialMaxData protocol.ByteCount

	AckDelayExponent        uint8
	MaxAckDelay             time.Duration
	ActiveConnectionIDLimit uint64

	InitialSourceConnectionID protocol.ConnectionID

	// MaxDatagramFrameSize is 0 if the peer doesn't support DATAGRAM frames.
	MaxDatagramFrameSize protocol.ByteCount
}

// Unmarshal the transport parameters
func (p *TransportParameters) Unmarshal(data []byte) error {
	if err := p.unmarshal(data); err != nil {
		return &qerr.TransportError{
			ErrorCode:    qerr.TransportParameterError,
			ErrorMessage: err.Error(),
		}
	}
	return nil
}

func (p *TransportParameters) unmarshal(b []byte) error {
	// needed to check that every parameter is only sent at most once
	parameterIDs := make([]transportParameterID, 0, 8)

	// initialize the fields the peer is allowed to omit to their defaults
	p.AckDelayExponent = protocol.DefaultAckDelayExponent
	p.MaxAckDelay = protocol.DefaultMaxAckDelay
	p.ActiveConnectionIDLimit = protocol.DefaultActiveConnectionIDLimit

	var readInitialSourceConnectionID bool
	for len(b) > 0 {
		paramIDInt, l, err := quicvarint.Parse(b)
		if err != nil {
			return err
		}
		paramID := transportParameterID(paramIDInt)
		b = b[l:]
		paramLen, l, err := quicvarint.Parse(b)
		if err != nil {
			return err
		}
		b = b[l:]
		if uint64(len(b)) < paramLen {
			return fmt.Errorf("remaining length (%d) smaller than parameter length (%d)", len(b), paramLen)
		}
		parameterIDs = append(parameterIDs, paramID)
		switch paramID {
		case maxIdleTimeoutParameterID,
			initialMaxDataParameterID,
			ackDelayExponentParameterID,
			maxAckDelayParameterID,
			activeConnectionIDLimitParameterID,
			maxDatagramFrameSizeParameterID:
			if err := p.readNumericTransportParameter(b[:paramLen], paramID); err != nil {
				return err
			}
		case initialSourceConnectionIDParameterID:
			if paramLen > protocol.MaxConnIDLen {
				return fmt.Errorf("invalid connection ID length: %d", paramLen)
			}
			p.InitialSourceConnectionID = protocol.ParseConnectionID(b[:paramLen])
			readInitialSourceConnectionID = true
		default:
			// skip unknown parameters
		}
		b = b[paramLen:]
	}

	if !readInitialSourceConnectionID {
		return errors.New("missing initial_source_connection_id")
	}

	// check that every transport parameter was sent at most once
	for i, p1 := range parameterIDs {
		for _, p2 := range parameterIDs[i+1:] {
			if p1 == p2 {
				return fmt.Errorf("received duplicate transport parameter %#x", p1)
			}
		}
	}
	return nil
}

func (p *TransportParameters) readNumericTransportParameter(b []byte, paramID transportParameterID) error {
	val, l, err := quicvarint.Parse(b)
	if err != nil {
		return fmt.Errorf("error while reading transport parameter %d: %s", paramID, err)
	}
	if l != len(b) {
		return fmt.Errorf("inconsistent transport parameter length for transport parameter %#x", paramID)
	}
	//nolint:exhaustive // only these parameters are numeric
	switch paramID {
	case maxIdleTimeoutParameterID:
		p.MaxIdleTimeout = time.Duration(val) * time.Millisecond
	case initialMaxDataParameterID:
		p.InitialMaxData = protocol.ByteCount(val)
	case ackDelayExponentParameterID:
		if val > protocol.MaxAckDelayExponent {
			return fmt.Errorf("invalid value for ack_delay_exponent: %d (maximum %d)", val, protocol.MaxAckDelayExponent)
		}
		p.AckDelayExponent = uint8(val)
	case maxAckDelayParameterID:
		if val > uint64(protocol.MaxMaxAckDelay/time.Millisecond) {
			return fmt.Errorf("invalid value for max_ack_delay: %dms (maximum %dms)", val, protocol.MaxMaxAckDelay/time.Millisecond)
		}
		p.MaxAckDelay = time.Duration(val) * time.Millisecond
	case activeConnectionIDLimitParameterID:
		if val < 2 {
			return fmt.Errorf("invalid value for active_connection_id_limit: %d (minimum 2)", val)
		}
		p.ActiveConnectionIDLimit = val
	case maxDatagramFrameSizeParameterID:
		p.MaxDatagramFrameSize = protocol.ByteCount(val)
	default:
		return fmt.Errorf("TransportParameter BUG: transport parameter %d not found", paramID)
	}
	return nil
}

// Marshal the transport parameters
func (p *TransportParameters) Marshal(b []byte) []byte {
	if p.MaxIdleTimeout != 0 {
		b = p.marshalVarintParam(b, maxIdleTimeoutParameterID, uint64(p.MaxIdleTimeout/time.Millisecond))
	}
	if p.InitialMaxData != 0 {
		b = p.marshalVarintParam(b, initialMaxDataParameterID, uint64(p.InitialMaxData))
	}
	if p.AckDelayExponent != protocol.DefaultAckDelayExponent {
		b = p.marshalVarintParam(b, ackDelayExponentParameterID, uint64(p.AckDelayExponent))
	}
	if p.MaxAckDelay != protocol.DefaultMaxAckDelay {
		b = p.marshalVarintParam(b, maxAckDelayParameterID, uint64(p.MaxAckDelay/time.Millisecond))
	}
	if p.ActiveConnectionIDLimit != protocol.DefaultActiveConnectionIDLimit {
		b = p.marshalVarintParam(b, activeConnectionIDLimitParameterID, p.ActiveConnectionIDLimit)
	}
	b = quicvarint.Append(b, uint64(initialSourceConnectionIDParameterID))
	b = quicvarint.Append(b, uint64(p.InitialSourceConnectionID.Len()))
	b = append(b, p.InitialSourceConnectionID.Bytes()...)
	if p.MaxDatagramFrameSize != 0 {
		b = p.marshalVarintParam(b, maxDatagramFrameSizeParameterID, uint64(p.MaxDatagramFrameSize))
	}
	return b
}

func (p *TransportParameters) marshalVarintParam(b []byte, id transportParameterID, val uint64) []byte {
	b = quicvarint.Append(b, uint64(id))
	b = quicvarint.Append(b, uint64(quicvarint.Len(val)))
	return quicvarint.Append(b, val)
}

// String returns a string representation, intended for logging.
func (p *TransportParameters) String() string {
	s := fmt.Sprintf("&wire.TransportParameters{InitialSourceConnectionID: %s, InitialMaxData: %d, MaxIdleTimeout: %s, AckDelayExponent: %d, MaxAckDelay: %s, ActiveConnectionIDLimit: %d",
		p.InitialSourceConnectionID, p.InitialMaxData, p.MaxIdleTimeout, p.AckDelayExponent, p.MaxAckDelay, p.ActiveConnectionIDLimit)
	if p.MaxDatagramFrameSize != 0 {
		s += fmt.Sprintf(", MaxDatagramFrameSize: %d", p.MaxDatagramFrameSize)
	}
	s += "}"
	return s
}
