package session

import (
	"testing"

	"github.com/coloracle/netcore/pkg/wire"
)

func seqMsg(id uint16) wire.Message {
	return wire.Message{SequenceID: id, Payload: []byte{byte(id)}}
}

func TestInOrderChannelDeliversImmediatelyInSequence(t *testing.T) {
	c := newInOrderChannel()
	out := c.Accept(seqMsg(0))
	if len(out) != 1 || out[0].SequenceID != 0 {
		t.Fatalf("expected immediate delivery of seq 0, got %v", out)
	}
	out = c.Accept(seqMsg(1))
	if len(out) != 1 || out[0].SequenceID != 1 {
		t.Fatalf("expected immediate delivery of seq 1, got %v", out)
	}
}

func TestInOrderChannelHoldsBackAndReleasesOnGapClose(t *testing.T) {
	c := newInOrderChannel()
	out := c.Accept(seqMsg(0))
	if len(out) != 1 {
		t.Fatalf("expected seq 0 delivered immediately, got %v", out)
	}

	out = c.Accept(seqMsg(2))
	if len(out) != 0 {
		t.Fatalf("expected seq 2 held back pending seq 1, got %v", out)
	}
	out = c.Accept(seqMsg(3))
	if len(out) != 0 {
		t.Fatalf("expected seq 3 held back pending seq 1, got %v", out)
	}
	if c.Pending() != 2 {
		t.Fatalf("pending = %d, want 2", c.Pending())
	}

	out = c.Accept(seqMsg(1))
	if len(out) != 3 {
		t.Fatalf("expected closing the gap to release seq 1,2,3 together, got %d messages", len(out))
	}
	for i, m := range out {
		if m.SequenceID != uint16(1+i) {
			t.Errorf("out[%d].SequenceID = %d, want %d", i, m.SequenceID, 1+i)
		}
	}
	if c.Pending() != 0 {
		t.Fatalf("pending = %d, want 0 after gap closed", c.Pending())
	}
}

func TestInOrderChannelSequenceIDsAssignedMonotonically(t *testing.T) {
	c := newInOrderChannel()
	a := c.NextSequenceID()
	b := c.NextSequenceID()
	cID := c.NextSequenceID()
	if a != 0 || b != 1 || cID != 2 {
		t.Fatalf("got %d,%d,%d want 0,1,2", a, b, cID)
	}
}
