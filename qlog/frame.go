package qlog

import (
	"fmt"

	"github.com/qweave/qweave/internal/wire"
	"github.com/qweave/qweave/logging"

	"github.com/francoispqt/gojay"
)

type frame struct {
	Frame logging.Frame
}

var _ gojay.MarshalerJSONObject = frame{}

func (f frame) IsNil() bool { return false }
func (f frame) MarshalJSONObject(enc *gojay.Encoder) {
	switch fr := f.Frame.(type) {
	case *wire.PingFrame:
		marshalPingFrame(enc, fr)
	case *wire.AckFrame:
		marshalAckFrame(enc, fr)
	case *wire.CryptoFrame:
		marshalCryptoFrame(enc, fr)
	case *wire.NewTokenFrame:
		marshalNewTokenFrame(enc, fr)
	case *wire.MaxDataFrame:
		marshalMaxDataFrame(enc, fr)
	case *wire.DataBlockedFrame:
		marshalDataBlockedFrame(enc, fr)
	case *wire.NewConnectionIDFrame:
		marshalNewConnectionIDFrame(enc, fr)
	case *wire.RetireConnectionIDFrame:
		marshalRetireConnectionIDFrame(enc, fr)
	case *wire.ConnectionCloseFrame:
		marshalConnectionCloseFrame(enc, fr)
	case *wire.HandshakeDoneFrame:
		marshalHandshakeDoneFrame(enc, fr)
	case *wire.DatagramFrame:
		marshalDatagramFrame(enc, fr)
	default:
		panic(fmt.Sprintf("unknown frame type: %T", fr))
	}
}

type frames []logging.Frame

var _ gojay.MarshalerJSONArray = frames{}

func (fs frames) IsNil() bool { return fs == nil }
func (fs frames) MarshalJSONArray(enc *gojay.Encoder) {
	for _, f := range fs {
		enc.Object(frame{Frame: f})
	}
}

type ackRanges []wire.AckRange

func (ars ackRanges) IsNil() bool { return false }
func (ars ackRanges) MarshalJSONArray(enc *gojay.Encoder) {
	for _, r := range ars {
		enc.Array(ackRange(r))
	}
}

type ackRange wire.AckRange

func (ar ackRange) IsNil() bool { return false }
func (ar ackRange) MarshalJSONArray(enc *gojay.Encoder) {
	enc.AddInt64(int64(ar.Smallest)) // smallest
	if ar.Smallest != ar.Largest {
		enc.AddInt64(int64(ar.Largest)) // largest
	}
}

func marshalPingFrame(enc *gojay.Encoder, _ *wire.PingFrame) {
	enc.StringKey("frame_type", "ping")
}

func marshalAckFrame(enc *gojay.Encoder, f *wire.AckFrame) {
	enc.StringKey("frame_type", "ack")
	enc.Float64KeyOmitEmpty("ack_delay", milliseconds(f.DelayTime))
	enc.ArrayKey("acked_ranges", ackRanges(f.AckRanges))
	if hasECN := f.ECT0 > 0 || f.ECT1 > 0 || f.ECNCE > 0; hasECN {
		enc.Uint64Key("ect0", f.ECT0)
		enc.Uint64Key("ect1", f.ECT1)
		enc.Uint64Key("ce", f.ECNCE)
	}
}

func marshalCryptoFrame(enc *gojay.Encoder, f *wire.CryptoFrame) {
	enc.StringKey("frame_type", "crypto")
	enc.Int64Key("offset", int64(f.Offset))
	enc.Int64Key("length", int64(len(f.Data)))
}

func marshalNewTokenFrame(enc *gojay.Encoder, f *wire.NewTokenFrame) {
	enc.StringKey("frame_type", "new_token")
	enc.ObjectKey("token", &token{Raw: f.Token})
}

func marshalMaxDataFrame(enc *gojay.Encoder, f *wire.MaxDataFrame) {
	enc.StringKey("frame_type", "max_data")
	enc.Int64Key("maximum", int64(f.MaximumData))
}

func marshalDataBlockedFrame(enc *gojay.Encoder, f *wire.DataBlockedFrame) {
	enc.StringKey("frame_type", "data_blocked")
	enc.Int64Key("limit", int64(f.MaximumData))
}

func marshalNewConnectionIDFrame(enc *gojay.Encoder, f *wire.NewConnectionIDFrame) {
	enc.StringKey("frame_type", "new_connection_id")
	enc.Int64Key("sequence_number", int64(f.SequenceNumber))
	enc.Int64Key("retire_prior_to", int64(f.RetirePriorTo))
	enc.IntKey("length", f.ConnectionID.Len())
	enc.StringKey("connection_id", f.ConnectionID.String())
	enc.StringKey("stateless_reset_token", fmt.Sprintf("%x", f.StatelessResetToken))
}

func marshalRetireConnectionIDFrame(enc *gojay.Encoder, f *wire.RetireConnectionIDFrame) {
	enc.StringKey("frame_type", "retire_connection_id")
	enc.Int64Key("sequence_number", int64(f.SequenceNumber))
}

func marshalConnectionCloseFrame(enc *gojay.Encoder, f *wire.ConnectionCloseFrame) {
	errorSpace := "transport"
	if f.IsApplicationError {
		errorSpace = "application"
	}
	enc.StringKey("frame_type", "connection_close")
	enc.StringKey("error_space", errorSpace)
	if errName := transportError(f.ErrorCode).String(); !f.IsApplicationError && errName != "" {
		enc.StringKey("error_code", errName)
	} else {
		enc.Uint64Key("error_code", f.ErrorCode)
	}
	enc.Uint64Key("raw_error_code", f.ErrorCode)
	enc.StringKey("reason", f.ReasonPhrase)
}

func marshalHandshakeDoneFrame(enc *gojay.Encoder, _ *wire.HandshakeDoneFrame) {
	enc.StringKey("frame_type", "handshake_done")
}

func marshalDatagramFrame(enc *gojay.Encoder, f *wire.DatagramFrame) {
	enc.StringKey("frame_type", "datagram")
	enc.Int64Key("length", int64(len(f.Data)))
}

type token struct {
	Raw []byte
}

var _ gojay.MarshalerJSONObject = &token{}

func (t token) IsNil() bool { return false }
func (t token) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("data", fmt.Sprintf("%x", t.Raw))
}
