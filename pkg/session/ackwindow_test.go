package session

import "testing"

func TestAckWindowObserveInOrder(t *testing.T) {
	var w ackWindow
	w.Observe(10)
	w.Observe(11)
	w.Observe(12)
	highest, bitfield := w.Snapshot()
	if highest != 12 {
		t.Fatalf("highest = %d, want 12", highest)
	}
	if !WasAcked(highest, bitfield, 12) || !WasAcked(highest, bitfield, 11) || !WasAcked(highest, bitfield, 10) {
		t.Fatalf("expected 10,11,12 all acked, bitfield=%016b", bitfield)
	}
	if WasAcked(highest, bitfield, 9) {
		t.Fatal("9 was never observed and should not be marked acked")
	}
}

func TestAckWindowOutOfOrderArrival(t *testing.T) {
	var w ackWindow
	w.Observe(10)
	w.Observe(12) // 11 skipped (lost or reordered)
	w.Observe(11) // arrives late
	highest, bitfield := w.Snapshot()
	if highest != 12 {
		t.Fatalf("highest = %d, want 12", highest)
	}
	if !WasAcked(highest, bitfield, 11) {
		t.Fatal("expected late-arriving 11 to be reflected in the bitfield")
	}
	if !WasAcked(highest, bitfield, 10) {
		t.Fatal("expected 10 to still be covered")
	}
}

func TestAckWindowWraparound(t *testing.T) {
	var w ackWindow
	w.Observe(0xFFFE)
	w.Observe(0xFFFF)
	w.Observe(0x0000)
	w.Observe(0x0001)
	highest, bitfield := w.Snapshot()
	if highest != 0x0001 {
		t.Fatalf("highest = %#x, want 0x1", highest)
	}
	if !WasAcked(highest, bitfield, 0x0000) || !WasAcked(highest, bitfield, 0xFFFF) {
		t.Fatalf("expected wraparound acks covered, bitfield=%016b", bitfield)
	}
}

func TestAckWindowSpanLimitedToSixteen(t *testing.T) {
	var w ackWindow
	for i := uint16(0); i <= 20; i++ {
		w.Observe(i)
	}
	highest, bitfield := w.Snapshot()
	if WasAcked(highest, bitfield, 3) {
		t.Fatal("ack 3 is more than 16 behind the highest of 20 and should have aged out")
	}
	if !WasAcked(highest, bitfield, 5) {
		t.Fatal("ack 5 is within the trailing 16-ack span and should still be covered")
	}
}
