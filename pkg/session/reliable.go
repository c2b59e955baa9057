package session

import "github.com/coloracle/netcore/pkg/cyclic"

// sendReliableWindow assigns monotonically increasing reliable ids on the
// send side and tracks which are still unconfirmed, so retransmission
// logic knows what to resend and flow control knows when to stop handing
// out new ids.
type sendReliableWindow struct {
	nextID      uint16
	unconfirmed map[uint16]bool
	oldest      uint16
	haveOldest  bool
	radius      int
}

func newSendReliableWindow(radius int) *sendReliableWindow {
	return &sendReliableWindow{unconfirmed: make(map[uint16]bool), radius: radius}
}

// CanAssign reports whether there's room in the window to hand out another
// id without outrunning how far behind the oldest unconfirmed message is
// allowed to be.
func (w *sendReliableWindow) CanAssign() bool {
	if !w.haveOldest {
		return true
	}
	return int(w.nextID-w.oldest) < w.radius
}

// Assign hands out the next reliable id and marks it unconfirmed.
func (w *sendReliableWindow) Assign() uint16 {
	id := w.nextID
	w.nextID++
	w.unconfirmed[id] = true
	if !w.haveOldest {
		w.oldest = id
		w.haveOldest = true
	}
	return id
}

// Confirm marks id as acked and advances the oldest-unconfirmed pointer
// past any now-empty run at the front of the window.
func (w *sendReliableWindow) Confirm(id uint16) {
	if !w.unconfirmed[id] {
		return
	}
	delete(w.unconfirmed, id)
	if id == w.oldest {
		for w.haveOldest && !w.unconfirmed[w.oldest] && w.oldest != w.nextID {
			w.oldest++
		}
	}
}

// IsConfirmed reports whether id has already been acked (or was never
// assigned in the first place).
func (w *sendReliableWindow) IsConfirmed(id uint16) bool { return !w.unconfirmed[id] }

// Pending returns the count of reliables still awaiting acknowledgment.
func (w *sendReliableWindow) Pending() int { return len(w.unconfirmed) }

// recvReliableWindow de-duplicates incoming reliable ids and bounds how far
// ahead of its low-water mark (nextExpected) an id may sit before it's
// rejected outright as a protocol violation — protection against a peer
// claiming wildly out-of-range ids to force unbounded map growth.
type recvReliableWindow struct {
	nextExpected uint16
	haveFloor    bool
	seen         map[uint16]bool
	radius       int
}

func newRecvReliableWindow(radius int) *recvReliableWindow {
	return &recvReliableWindow{seen: make(map[uint16]bool), radius: radius}
}

// Accept records id as received. ok is false if id is a duplicate of an
// already-accepted message (the caller should silently drop it); violation
// is true if id falls outside the confined window entirely (the caller
// should treat the peer as misbehaving).
func (w *recvReliableWindow) Accept(id uint16) (ok bool, violation bool) {
	if !w.haveFloor {
		w.nextExpected = id
		w.haveFloor = true
	}

	if cyclic.LessThan(id, w.nextExpected) {
		back := w.nextExpected - id
		if int(back) > w.radius {
			return false, true
		}
		return false, false // already delivered and advanced past
	}

	forward := id - w.nextExpected
	if int(forward) >= w.radius {
		return false, true
	}
	if w.seen[id] {
		return false, false
	}

	w.seen[id] = true
	for w.seen[w.nextExpected] {
		delete(w.seen, w.nextExpected)
		w.nextExpected++
	}
	return true, false
}
