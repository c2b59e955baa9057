package session

import "github.com/coloracle/netcore/pkg/cyclic"

// ackWindow tracks, on the receive side, which of the last 17 packet acks
// (the highest plus a 16-bit bitfield of the 16 before it) have actually
// arrived, so an outgoing packet can tell its peer everything it has seen
// in one shot without per-ack acknowledgment traffic.
type ackWindow struct {
	highestReceived uint16
	haveHighest     bool
	prevBitfield    uint16
}

// Observe folds a newly-received packet's ack number into the window. If
// ack is newer than the current highest by shift, the bitfield shifts
// forward by shift and the old highest becomes bit shift-1 of the new
// bitfield (bit 0 for a step of one; dropped if shift exceeds 16); if ack
// falls inside
// the trailing 16-ack range, the corresponding bit is set in place; acks
// older than that range are ignored (already reported, or too stale to
// matter).
func (w *ackWindow) Observe(ack uint16) {
	if !w.haveHighest {
		w.highestReceived = ack
		w.haveHighest = true
		return
	}
	if ack == w.highestReceived {
		return
	}
	if cyclic.GreaterThan(ack, w.highestReceived) {
		shift := ack - w.highestReceived
		if shift > 16 {
			w.prevBitfield = 0
		} else {
			w.prevBitfield = (w.prevBitfield << shift) | (1 << (shift - 1))
		}
		w.highestReceived = ack
		return
	}
	// ack is older than highestReceived: set its bit if it's within the
	// trailing 16-entry window.
	back := w.highestReceived - ack
	if back >= 1 && back <= 16 {
		w.prevBitfield |= 1 << (back - 1)
	}
}

// Snapshot returns the (highestReceived, bitfield) pair to stamp into an
// outgoing packet header.
func (w *ackWindow) Snapshot() (highest uint16, bitfield uint16) {
	return w.highestReceived, w.prevBitfield
}

// WasAcked reports whether ack is covered by a peer-reported
// (highest, bitfield) pair: either it equals highest, or it's one of the
// trailing 16 bits the bitfield marks as seen.
func WasAcked(highest, bitfield, ack uint16) bool {
	if ack == highest {
		return true
	}
	if cyclic.GreaterThan(ack, highest) {
		return false
	}
	back := highest - ack
	if back < 1 || back > 16 {
		return false
	}
	return bitfield&(1<<(back-1)) != 0
}
