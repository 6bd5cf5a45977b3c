package wire

import (
	"errors"
	"fmt"
	"io"

	"github.com/qweave/qweave/internal/protocol"
	"github.com/qweave/qweave/internal/qerr"
	"github.com/qweave/qweave/quicvarint"
)

var errUnknownFrameType = errors.New("unknown frame type")

// The FrameParser parses QUIC frames, one by one.
type FrameParser struct {
	ackDelayExponent  uint8
	supportsDatagrams bool

	// To avoid allocating when parsing, keep a single ACK frame struct.
	// It is used over and over again.
	ackFrame *AckFrame
}

// NewFrameParser creates a new frame parser.
func NewFrameParser(supportsDatagrams bool) *FrameParser {
	return &FrameParser{
		supportsDatagrams: supportsDatagrams,
		ackFrame:          &AckFrame{},
	}
}

// ParseNext parses the next frame in b.
// It skips PADDING frames. If the end of b is reached without finding another
// frame, it returns a nil Frame.
// Frame types that are not permitted at the given encryption level are a
// FRAME_ENCODING_ERROR, as are malformed frame bodies.
func (p *FrameParser) ParseNext(b []byte, encLevel protocol.EncryptionLevel, v protocol.Version) (Frame, int, error) {
	var parsed int
	for len(b) != 0 {
		typ, l, err := quicvarint.Parse(b)
		parsed += l
		if err != nil {
			return nil, parsed, &qerr.TransportError{
				ErrorCode:    qerr.FrameEncodingError,
				ErrorMessage: err.Error(),
			}
		}
		b = b[l:]
		if typ == 0x0 { // skip PADDING frames
			continue
		}

		frameType := FrameType(typ)
		if !frameType.isAllowedAtEncLevel(encLevel) {
			return nil, parsed, &qerr.TransportError{
				ErrorCode:    qerr.FrameEncodingError,
				FrameType:    typ,
				ErrorMessage: fmt.Sprintf("%d not allowed at encryption level %s", frameType, encLevel),
			}
		}

		frame, l, err := p.parseFrame(frameType, b, encLevel, v)
		parsed += l
		if err != nil {
			return nil, parsed, &qerr.TransportError{
				ErrorCode:    qerr.FrameEncodingError,
				FrameType:    typ,
				ErrorMessage: err.Error(),
			}
		}
		return frame, parsed, nil
	}
	return nil, parsed, nil
}

func (p *FrameParser) parseFrame(frameType FrameType, b []byte, encLevel protocol.EncryptionLevel, v protocol.Version) (Frame, int, error) {
	//nolint:exhaustive // frame types outside this switch are handled by the default case
	switch frameType {
	case PingFrameType:
		return &PingFrame{}, 0, nil
	case AckFrameType, AckECNFrameType:
		ackDelayExponent := p.ackDelayExponent
		if encLevel != protocol.Encryption1RTT {
			ackDelayExponent = protocol.DefaultAckDelayExponent
		}
		p.ackFrame.Reset()
		l, err := parseAckFrame(p.ackFrame, b, frameType, ackDelayExponent, v)
		return p.ackFrame, l, err
	case CryptoFrameType:
		return parseCryptoFrame(b, v)
	case NewTokenFrameType:
		return parseNewTokenFrame(b, v)
	case MaxDataFrameType:
		return parseMaxDataFrame(b, v)
	case DataBlockedFrameType:
		return parseDataBlockedFrame(b, v)
	case NewConnectionIDFrameType:
		return parseNewConnectionIDFrame(b, v)
	case RetireConnectionIDFrameType:
		return parseRetireConnectionIDFrame(b, v)
	case ConnectionCloseFrameType, ApplicationCloseFrameType:
		return parseConnectionCloseFrame(b, frameType, v)
	case HandshakeDoneFrameType:
		return &HandshakeDoneFrame{}, 0, nil
	case DatagramNoLengthFrameType, DatagramWithLengthFrameType:
		if !p.supportsDatagrams {
			return nil, 0, errUnknownFrameType
		}
		return parseDatagramFrame(b, frameType, v)
	default:
		return nil, 0, errUnknownFrameType
	}
}

// SetAckDelayExponent sets the acknowledgment delay exponent (sent in the transport parameters).
// This value is used to scale the ACK Delay field in the ACK frame.
func (p *FrameParser) SetAckDelayExponent(exp uint8) {
	p.ackDelayExponent = exp
}

func replaceUnexpectedEOF(e error) error {
	if e == io.ErrUnexpectedEOF {
		return io.EOF
	}
	return e
}
