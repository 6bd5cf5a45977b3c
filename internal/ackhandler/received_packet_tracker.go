package ackhandler

import (
	"fmt"
	"time"

	"github.com/qweave/qweave/internal/protocol"
	"github.com/qweave/qweave/internal/utils"
	"github.com/qweave/qweave/internal/wire"
)

// The ReceivedPacketTracker tracks ACK-relevant state for received packets:
// the packet number ranges seen so far, the ECN counts, and whether an ACK
// needs to be assembled. It is the single point of truth for what a packet
// number space has received.
type ReceivedPacketTracker struct {
	largestObserved         protocol.PacketNumber
	largestObservedRcvdTime time.Time
	ignoreBelow             protocol.PacketNumber

	ect0, ect1, ecnce uint64

	packetHistory *receivedPacketHistory

	lastAck                                 *wire.AckFrame
	ackQueued                               bool // true if an ACK needs to be sent out as soon as possible
	ackElicitingPacketsReceivedSinceLastAck int
	ackAlarm                                time.Time

	logger utils.Logger
}

func NewReceivedPacketTracker(logger utils.Logger) *ReceivedPacketTracker {
	return &ReceivedPacketTracker{
		packetHistory: newReceivedPacketHistory(),
		logger:        logger,
	}
}

// IsPotentiallyDuplicate says if a packet with this packet number may have
// been received before. Callers must consult it before calling ReceivedPacket.
func (t *ReceivedPacketTracker) IsPotentiallyDuplicate(pn protocol.PacketNumber) bool {
	return t.packetHistory.IsPotentiallyDuplicate(pn)
}

// ReceivedPacket records a newly received packet.
func (t *ReceivedPacketTracker) ReceivedPacket(pn protocol.PacketNumber, ecn protocol.ECN, rcvTime time.Time, ackEliciting bool) error {
	if pn < t.ignoreBelow {
		// a delayed packet for a range that was already acknowledged and dropped
		return nil
	}

	isMissing := t.isMissing(pn)
	if pn >= t.largestObserved {
		t.largestObserved = pn
		t.largestObservedRcvdTime = rcvTime
	}

	if isNew := t.packetHistory.ReceivedPacket(pn); !isNew {
		return fmt.Errorf("ReceivedPacketTracker BUG: ReceivedPacket called for old / duplicate packet %d", pn)
	}

	switch ecn {
	case protocol.ECT0:
		t.ect0++
	case protocol.ECT1:
		t.ect1++
	case protocol.ECNCE:
		t.ecnce++
	}

	if ackEliciting {
		t.maybeQueueACK(pn, rcvTime, isMissing)
	}
	return nil
}

// IgnoreBelow sets a lower limit for acknowledging packets.
// Packets with packet numbers smaller than p will not be acked.
func (t *ReceivedPacketTracker) IgnoreBelow(pn protocol.PacketNumber) {
	if pn <= t.ignoreBelow {
		return
	}
	t.ignoreBelow = pn
	t.packetHistory.DeleteBelow(pn)
	if t.logger.Debug() {
		t.logger.Debugf("\tIgnoring all packets below %d.", pn)
	}
}

// isMissing says if a packet was reported missing in the last ACK.
func (t *ReceivedPacketTracker) isMissing(pn protocol.PacketNumber) bool {
	if t.lastAck == nil || pn < t.ignoreBelow {
		return false
	}
	return pn < t.lastAck.LargestAcked() && !t.lastAck.AcksPacket(pn)
}

func (t *ReceivedPacketTracker) hasNewMissingPackets() bool {
	if t.lastAck == nil {
		return false
	}
	highestRange := t.packetHistory.GetHighestAckRange()
	return highestRange.Smallest > t.lastAck.LargestAcked()+1 && highestRange.Len() == 1
}

func (t *ReceivedPacketTracker) maybeQueueACK(pn protocol.PacketNumber, rcvTime time.Time, wasMissing bool) {
	// always acknowledge the first packet
	if t.lastAck == nil {
		if !t.ackQueued {
			t.logger.Debugf("\tQueueing ACK because the first packet should be acknowledged.")
		}
		t.ackQueued = true
		return
	}

	if t.ackQueued {
		return
	}

	t.ackElicitingPacketsReceivedSinceLastAck++

	// A packet that was reported missing in an earlier ACK has now arrived.
	// Report the update immediately instead of waiting for the alarm.
	if wasMissing {
		if t.logger.Debug() {
			t.logger.Debugf("\tQueueing ACK because packet %d was missing before.", pn)
		}
		t.ackQueued = true
	}

	if t.ackElicitingPacketsReceivedSinceLastAck >= protocol.AckElicitingPacketsBeforeAck {
		if t.logger.Debug() {
			t.logger.Debugf("\tQueueing ACK because %d packets were received after the last ACK (threshold: %d).", t.ackElicitingPacketsReceivedSinceLastAck, protocol.AckElicitingPacketsBeforeAck)
		}
		t.ackQueued = true
	} else if t.ackAlarm.IsZero() {
		if t.logger.Debug() {
			t.logger.Debugf("\tSetting ACK timer to max ack delay: %s", protocol.MaxAckDelay)
		}
		t.ackAlarm = rcvTime.Add(protocol.MaxAckDelay)
	}

	if t.hasNewMissingPackets() {
		t.logger.Debugf("\tQueueing ACK because there's a new missing packet to report.")
		t.ackQueued = true
	}

	if t.ackQueued {
		// cancel the ACK alarm
		t.ackAlarm = time.Time{}
	}
}

// GetAckFrame assembles an ACK frame covering everything received so far.
// If onlyIfQueued is set, it only returns a frame when an ACK is queued or the
// ACK alarm has expired.
func (t *ReceivedPacketTracker) GetAckFrame(onlyIfQueued bool) *wire.AckFrame {
	now := time.Now()
	if !t.ackQueued && onlyIfQueued {
		if t.ackAlarm.IsZero() || t.ackAlarm.After(now) {
			return nil
		}
	}

	ack := &wire.AckFrame{
		DelayTime: max(0, now.Sub(t.largestObservedRcvdTime)),
		ECT0:      t.ect0,
		ECT1:      t.ect1,
		ECNCE:     t.ecnce,
	}
	ack.AckRanges = t.packetHistory.AppendAckRanges(ack.AckRanges)
	if len(ack.AckRanges) == 0 {
		return nil
	}

	t.lastAck = ack
	t.ackAlarm = time.Time{}
	t.ackQueued = false
	t.ackElicitingPacketsReceivedSinceLastAck = 0

	return ack
}

// GetAlarmTimeout returns the time when a delayed ACK is due, or the zero
// value if no alarm is armed.
func (t *ReceivedPacketTracker) GetAlarmTimeout() time.Time { return t.ackAlarm }
