package wire

import (
	"testing"

	"github.com/coloracle/netcore/pkg/netcoreerr"
)

type fakeLookup map[uint8]Flags

func (f fakeLookup) Lookup(id uint8) (Flags, bool) {
	v, ok := f[id]
	return v, ok
}

func TestWriteReadPacketRoundTrip(t *testing.T) {
	lookup := fakeLookup{
		1: {},
		2: {Option: OptReliable},
		3: {Option: OptReliable, Control: CtrlInOrder},
	}

	p := NewPacket()
	if !p.WriteHeader(Header{PeerIndex: 3, Ack: 10, HighestReceivedAck: 9, PrevAcksBitfield: 0x1}) {
		t.Fatal("WriteHeader failed")
	}
	if err := p.WriteMessage(&Message{TypeID: 1, Payload: []byte("hi")}); err != nil {
		t.Fatalf("write unreliable failed: %v", err)
	}
	if err := p.WriteMessage(&Message{TypeID: 2, Flags: Flags{Option: OptReliable}, ReliableID: 5, Payload: []byte("rel")}); err != nil {
		t.Fatalf("write reliable failed: %v", err)
	}
	if err := p.WriteMessage(&Message{TypeID: 3, Flags: Flags{Option: OptReliable, Control: CtrlInOrder}, ReliableID: 6, SequenceID: 2, Payload: []byte("ord")}); err != nil {
		t.Fatalf("write reliable-ordered failed: %v", err)
	}
	p.FinalizeHeader()

	raw := append([]byte(nil), p.Bytes()...)

	rp := NewPacketFromBytes(raw, len(raw))
	h, ok := rp.ReadHeader()
	if !ok {
		t.Fatal("ReadHeader failed")
	}
	if h.PeerIndex != 3 || h.Ack != 10 || h.HighestReceivedAck != 9 || h.PrevAcksBitfield != 1 {
		t.Errorf("header mismatch: %+v", h)
	}
	if !rp.ValidateLength(len(raw)) {
		t.Fatal("ValidateLength rejected a well-formed packet")
	}

	msgs, err := rp.ReadMessages(lookup)
	if err != nil {
		t.Fatalf("ReadMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if string(msgs[0].Payload) != "hi" {
		t.Errorf("msg0 payload = %q", msgs[0].Payload)
	}
	if msgs[1].ReliableID != 5 || string(msgs[1].Payload) != "rel" {
		t.Errorf("msg1 mismatch: %+v", msgs[1])
	}
	if msgs[2].ReliableID != 6 || msgs[2].SequenceID != 2 || string(msgs[2].Payload) != "ord" {
		t.Errorf("msg2 mismatch: %+v", msgs[2])
	}
}

func TestValidateLengthRejectsTamperedPacket(t *testing.T) {
	p := NewPacket()
	p.WriteHeader(Header{})
	p.WriteMessage(&Message{TypeID: 1, Payload: []byte("abc")})
	p.FinalizeHeader()
	raw := append([]byte(nil), p.Bytes()...)

	// Truncate the datagram so the running length no longer matches.
	truncated := raw[:len(raw)-1]
	rp := NewPacketFromBytes(truncated, len(truncated))
	rp.ReadHeader()
	if rp.ValidateLength(len(truncated)) {
		t.Fatal("expected ValidateLength to reject a truncated packet")
	}
}

func TestWriteMessageFailsWhenMessageTooLarge(t *testing.T) {
	p := NewPacket()
	p.WriteHeader(Header{})
	big := make([]byte, MaxPacketSize)
	if err := p.WriteMessage(&Message{TypeID: 1, Payload: big}); err != netcoreerr.ErrMessageTooLarge {
		t.Fatalf("WriteMessage error = %v, want ErrMessageTooLarge", err)
	}
}

func TestWriteMessageFailsWhenPacketFull(t *testing.T) {
	p := NewPacket()
	p.WriteHeader(Header{})
	payload := make([]byte, MaxPacketSize-packetHeaderSize-3-10)
	if err := p.WriteMessage(&Message{TypeID: 1, Payload: payload}); err != nil {
		t.Fatalf("first write should fit: %v", err)
	}
	if err := p.WriteMessage(&Message{TypeID: 2, Payload: make([]byte, 20)}); err != netcoreerr.ErrPacketFull {
		t.Fatalf("WriteMessage error = %v, want ErrPacketFull", err)
	}
}

func TestUnknownTypeIDIsProtocolViolation(t *testing.T) {
	p := NewPacket()
	p.WriteHeader(Header{})
	p.WriteMessage(&Message{TypeID: 9, Payload: []byte("x")})
	p.FinalizeHeader()
	raw := append([]byte(nil), p.Bytes()...)

	rp := NewPacketFromBytes(raw, len(raw))
	rp.ReadHeader()
	if _, err := rp.ReadMessages(fakeLookup{}); err == nil {
		t.Fatal("expected unknown type id to error")
	}
}
