package qlog

import (
	"errors"
	"net/netip"
	"time"

	"github.com/qweave/qweave/internal/protocol"
	"github.com/qweave/qweave/internal/qerr"
	"github.com/qweave/qweave/internal/wire"
	"github.com/qweave/qweave/logging"

	"github.com/francoispqt/gojay"
)

func milliseconds(dur time.Duration) float64 { return float64(dur.Nanoseconds()) / 1e6 }

type eventDetails interface {
	Category() category
	Name() string
	gojay.MarshalerJSONObject
}

type event struct {
	RelativeTime time.Duration
	eventDetails
}

var _ gojay.MarshalerJSONObject = event{}

func (e event) IsNil() bool { return false }
func (e event) MarshalJSONObject(enc *gojay.Encoder) {
	enc.Float64Key("time", milliseconds(e.RelativeTime))
	enc.StringKey("name", e.Category().String()+":"+e.Name())
	enc.ObjectKey("data", e.eventDetails)
}

type eventConnectionStarted struct {
	SrcAddr  netip.AddrPort
	DestAddr netip.AddrPort

	SrcConnectionID  protocol.ConnectionID
	DestConnectionID protocol.ConnectionID
}

var _ eventDetails = &eventConnectionStarted{}

func (e eventConnectionStarted) Category() category { return categoryTransport }
func (e eventConnectionStarted) Name() string       { return "connection_started" }
func (e eventConnectionStarted) IsNil() bool        { return false }

func (e eventConnectionStarted) MarshalJSONObject(enc *gojay.Encoder) {
	if e.SrcAddr.Addr().Is4() {
		enc.StringKey("ip_version", "ipv4")
	} else {
		enc.StringKey("ip_version", "ipv6")
	}
	enc.StringKey("src_ip", e.SrcAddr.Addr().String())
	enc.IntKey("src_port", int(e.SrcAddr.Port()))
	enc.StringKey("dst_ip", e.DestAddr.Addr().String())
	enc.IntKey("dst_port", int(e.DestAddr.Port()))
	enc.StringKey("src_cid", e.SrcConnectionID.String())
	enc.StringKey("dst_cid", e.DestConnectionID.String())
}

type eventConnectionClosed struct {
	e error
}

func (e eventConnectionClosed) Category() category { return categoryTransport }
func (e eventConnectionClosed) Name() string       { return "connection_closed" }
func (e eventConnectionClosed) IsNil() bool        { return false }

func (e eventConnectionClosed) MarshalJSONObject(enc *gojay.Encoder) {
	var (
		transportErr   *qerr.TransportError
		applicationErr *qerr.ApplicationError
	)
	switch {
	case errors.As(e.e, &transportErr):
		ownr := ownerLocal
		if transportErr.Remote {
			ownr = ownerRemote
		}
		enc.StringKey("owner", ownr.String())
		enc.StringKey("connection_code", transportError(transportErr.ErrorCode).String())
		enc.StringKeyOmitEmpty("reason", transportErr.ErrorMessage)
	case errors.As(e.e, &applicationErr):
		ownr := ownerLocal
		if applicationErr.Remote {
			ownr = ownerRemote
		}
		enc.StringKey("owner", ownr.String())
		enc.Uint64Key("application_code", uint64(applicationErr.ErrorCode))
		enc.StringKeyOmitEmpty("reason", applicationErr.ErrorMessage)
	default:
		enc.StringKey("trigger", "error")
		enc.StringKey("reason", e.e.Error())
	}
}

type packetHeader struct {
	PacketType   string
	PacketNumber protocol.PacketNumber
}

var _ gojay.MarshalerJSONObject = packetHeader{}

func (h packetHeader) IsNil() bool { return false }
func (h packetHeader) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("packet_type", h.PacketType)
	enc.Int64Key("packet_number", int64(h.PacketNumber))
}

type rawInfo struct {
	Length protocol.ByteCount
}

var _ gojay.MarshalerJSONObject = rawInfo{}

func (i rawInfo) IsNil() bool { return false }
func (i rawInfo) MarshalJSONObject(enc *gojay.Encoder) {
	enc.Uint64Key("length", uint64(i.Length))
}

type eventPacketReceived struct {
	Header packetHeader
	Raw    rawInfo
	Frames frames
}

var _ eventDetails = eventPacketReceived{}

func (e eventPacketReceived) Category() category { return categoryTransport }
func (e eventPacketReceived) Name() string       { return "packet_received" }
func (e eventPacketReceived) IsNil() bool        { return false }

func (e eventPacketReceived) MarshalJSONObject(enc *gojay.Encoder) {
	enc.ObjectKey("header", e.Header)
	enc.ObjectKey("raw", e.Raw)
	enc.ArrayKeyOmitEmpty("frames", e.Frames)
}

type eventPacketDropped struct {
	Header  packetHeader
	Raw     rawInfo
	Trigger logging.PacketDropReason
}

func (e eventPacketDropped) Category() category { return categoryTransport }
func (e eventPacketDropped) Name() string       { return "packet_dropped" }
func (e eventPacketDropped) IsNil() bool        { return false }

func (e eventPacketDropped) MarshalJSONObject(enc *gojay.Encoder) {
	enc.ObjectKey("header", e.Header)
	enc.ObjectKey("raw", e.Raw)
	enc.StringKey("trigger", e.Trigger.String())
}

type eventPacketLost struct {
	Header  packetHeader
	Trigger logging.PacketLossReason
}

func (e eventPacketLost) Category() category { return categoryRecovery }
func (e eventPacketLost) Name() string       { return "packet_lost" }
func (e eventPacketLost) IsNil() bool        { return false }

func (e eventPacketLost) MarshalJSONObject(enc *gojay.Encoder) {
	enc.ObjectKey("header", e.Header)
	enc.StringKey("trigger", e.Trigger.String())
}

type eventKeyUpdated struct {
	KeyType keyType
}

func (e eventKeyUpdated) Category() category { return categorySecurity }
func (e eventKeyUpdated) Name() string       { return "key_updated" }
func (e eventKeyUpdated) IsNil() bool        { return false }

func (e eventKeyUpdated) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("trigger", "tls")
	enc.StringKey("key_type", e.KeyType.String())
}

type eventKeyDiscarded struct {
	KeyType keyType
}

func (e eventKeyDiscarded) Category() category { return categorySecurity }
func (e eventKeyDiscarded) Name() string       { return "key_discarded" }
func (e eventKeyDiscarded) IsNil() bool        { return false }

func (e eventKeyDiscarded) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("trigger", "tls")
	enc.StringKey("key_type", e.KeyType.String())
}

type eventTransportParameters struct {
	Owner  owner
	Params *wire.TransportParameters
}

func (e eventTransportParameters) Category() category { return categoryTransport }
func (e eventTransportParameters) Name() string       { return "parameters_set" }
func (e eventTransportParameters) IsNil() bool        { return false }

func (e eventTransportParameters) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("owner", e.Owner.String())
	enc.StringKey("initial_source_connection_id", e.Params.InitialSourceConnectionID.String())
	enc.Int64Key("max_idle_timeout", e.Params.MaxIdleTimeout.Milliseconds())
	enc.Uint64Key("initial_max_data", uint64(e.Params.InitialMaxData))
	enc.Uint8Key("ack_delay_exponent", e.Params.AckDelayExponent)
	enc.Int64Key("max_ack_delay", e.Params.MaxAckDelay.Milliseconds())
	enc.Uint64Key("active_connection_id_limit", e.Params.ActiveConnectionIDLimit)
	if e.Params.MaxDatagramFrameSize > 0 {
		enc.Uint64Key("max_datagram_frame_size", uint64(e.Params.MaxDatagramFrameSize))
	}
}

type eventPathEvicted struct {
	Pathway protocol.Pathway
}

func (e eventPathEvicted) Category() category { return categoryConnectivity }
func (e eventPathEvicted) Name() string       { return "path_evicted" }
func (e eventPathEvicted) IsNil() bool        { return false }

func (e eventPathEvicted) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("local_addr", e.Pathway.Local.String())
	enc.StringKey("remote_addr", e.Pathway.Remote.String())
}

