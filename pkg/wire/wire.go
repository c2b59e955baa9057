// Package wire implements the packet and message framing layer: the fixed
// packet header, the variable-width message header, and the length
// validation pass that guards against truncated or tampered datagrams.
package wire

import (
	"encoding/binary"

	"github.com/coloracle/netcore/pkg/bytebuffer"
	"github.com/coloracle/netcore/pkg/netcoreerr"
)

const (
	// MaxPacketSize is MTU 1280 minus a 48-byte reserve for worst-case
	// IPv6+UDP header overhead.
	MaxPacketSize = 1232

	// MaxReliablesPerPacket bounds how many reliable messages one packet
	// may carry.
	MaxReliablesPerPacket = 32

	// InvalidAck is the reserved ack value meaning "this packet carries
	// no ack-able payload"; the send-side counter skips it.
	InvalidAck uint16 = 0xFFFF

	// packetHeaderSize is peer_index(1) + ack(2) + highest(2) + bitfield(2) + num_messages(1).
	packetHeaderSize = 8
)

// Order is the buffer-declared endianness used for every wire value in
// this package. Big-endian by default.
var Order binary.ByteOrder = binary.BigEndian

// Control flags describe what a message needs to be processed.
const (
	CtrlConnectionless uint32 = 1 << iota
	CtrlInOrder
)

// Option flags describe how a message needs to be sent.
const (
	OptReliable uint32 = 1 << iota
)

// Flags bundles a message definition's control/option bits; everything
// the framing layer needs to know to size a message header.
type Flags struct {
	Control uint32
	Option  uint32
}

func (f Flags) IsReliable() bool       { return f.Option&OptReliable != 0 }
func (f Flags) IsInOrder() bool        { return f.Control&CtrlInOrder != 0 }
func (f Flags) IsConnectionless() bool { return f.Control&CtrlConnectionless != 0 }

// DefinitionLookup resolves a wire type-id to its flags; implemented by
// the session's dispatch table. The framing layer never needs the
// handler itself, only enough to know which header fields are present.
type DefinitionLookup interface {
	Lookup(typeID uint8) (Flags, bool)
}

// Header is the fixed packet header.
type Header struct {
	PeerIndex          uint8
	Ack                uint16
	HighestReceivedAck uint16
	PrevAcksBitfield   uint16
}

// Message is a framed message: its type, optional reliable/sequence IDs,
// and a payload view. Payload backs into whatever buffer produced it —
// the packet's receive buffer when decoded, or the caller's own payload
// slice when queued for send. Payload is borrowed, not owned.
type Message struct {
	TypeID     uint8
	Flags      Flags
	ReliableID uint16
	SequenceID uint16
	Payload    []byte
	LastSendMs uint32
}

func (m *Message) IsReliable() bool { return m.Flags.IsReliable() }
func (m *Message) IsInOrder() bool  { return m.Flags.IsInOrder() }

// headerSize returns how many header bytes (beyond the u16 length prefix
// and u8 type id) this message's flags require.
func headerSize(f Flags) int {
	n := 0
	if f.IsReliable() {
		n += 2
		if f.IsInOrder() {
			n += 2
		}
	}
	return n
}

// Packet wraps a fixed MaxPacketSize buffer and implements the read/write
// passes of the wire protocol: header, message count, and a packed sequence of
// length-prefixed messages.
type Packet struct {
	buf           [MaxPacketSize]byte
	bb            *bytebuffer.ByteBuffer
	numMessages   uint8
	reliableCount uint8
	countBookmark bytebuffer.Bookmark
}

// NewPacket returns an empty packet ready for writing.
func NewPacket() *Packet {
	p := &Packet{}
	p.bb = bytebuffer.New(p.buf[:], Order)
	return p
}

// NewPacketFromBytes wraps a just-received datagram for reading. n is the
// number of bytes the socket returned.
func NewPacketFromBytes(data []byte, n int) *Packet {
	p := &Packet{}
	copy(p.buf[:], data[:n])
	p.bb = bytebuffer.NewReader(p.buf[:], n, Order)
	return p
}

// WriteHeader writes the fixed packet header and reserves a byte for the
// message count, to be patched by FinalizeHeader once all messages are
// written.
func (p *Packet) WriteHeader(h Header) bool {
	if !p.bb.WriteUint8(h.PeerIndex) {
		return false
	}
	if !p.bb.WriteUint16(h.Ack) {
		return false
	}
	if !p.bb.WriteUint16(h.HighestReceivedAck) {
		return false
	}
	if !p.bb.WriteUint16(h.PrevAcksBitfield) {
		return false
	}
	bm, ok := p.bb.Reserve(1)
	if !ok {
		return false
	}
	p.countBookmark = bm
	return true
}

// FinalizeHeader patches the reserved num_messages slot.
func (p *Packet) FinalizeHeader() {
	p.bb.WriteUint8At(p.countBookmark, p.numMessages)
}

// RemainingWrite reports how many bytes are left for message payloads.
func (p *Packet) RemainingWrite() int { return p.bb.RemainingWrite() }

// WriteMessage frames m into the packet: total_message_size, type_id,
// optional reliable_id/sequence_id, then the payload. Returns
// ErrMessageTooLarge if m could never fit in any packet regardless of how
// empty it is, or ErrPacketFull if it just doesn't fit what's left of this
// one or would push the packet's reliable count past
// MaxReliablesPerPacket (the ordinary case: unreliables that don't fit get
// dropped by the caller, reliables stay queued for the next packet).
func (p *Packet) WriteMessage(m *Message) error {
	hdr := headerSize(m.Flags)
	total := 2 + 1 + hdr + len(m.Payload)
	if total > MaxPacketSize-packetHeaderSize {
		return netcoreerr.ErrMessageTooLarge
	}
	if m.Flags.IsReliable() && p.reliableCount >= MaxReliablesPerPacket {
		return netcoreerr.ErrPacketFull
	}
	if total > p.bb.RemainingWrite() {
		return netcoreerr.ErrPacketFull
	}
	p.bb.WriteUint16(uint16(total))
	p.bb.WriteUint8(m.TypeID)
	if m.Flags.IsReliable() {
		p.bb.WriteUint16(m.ReliableID)
		if m.Flags.IsInOrder() {
			p.bb.WriteUint16(m.SequenceID)
		}
		p.reliableCount++
	}
	p.bb.WriteForward(m.Payload)
	p.numMessages++
	return nil
}

// NumMessages reports how many messages have been written so far.
func (p *Packet) NumMessages() uint8 { return p.numMessages }

// Bytes returns the packet's on-wire bytes (valid after FinalizeHeader).
func (p *Packet) Bytes() []byte { return p.bb.Bytes() }

// ReadHeader parses the fixed packet header from a received packet.
func (p *Packet) ReadHeader() (Header, bool) {
	var h Header
	if !p.bb.ReadUint8(&h.PeerIndex) {
		return h, false
	}
	if !p.bb.ReadUint16(&h.Ack) {
		return h, false
	}
	if !p.bb.ReadUint16(&h.HighestReceivedAck) {
		return h, false
	}
	if !p.bb.ReadUint16(&h.PrevAcksBitfield) {
		return h, false
	}
	if !p.bb.ReadUint8(&p.numMessages) {
		return h, false
	}
	return h, true
}

// ValidateLength iterates the packet's messages using each one's length
// prefix and checks the running offset lands exactly on the received
// byte count. A packet that fails this is dropped wholesale, no
// receipt recorded.
func (p *Packet) ValidateLength(totalBytes int) bool {
	offset := packetHeaderSize
	for i := uint8(0); i < p.numMessages; i++ {
		if offset+2 > totalBytes {
			return false
		}
		size := int(Order.Uint16(p.buf[offset : offset+2]))
		if size < 3 {
			return false
		}
		offset += size
	}
	return offset == totalBytes
}

// ReadMessages decodes all framed messages using lookup to resolve each
// type-id's flags. An unknown type-id aborts the whole pass (the packet
// already passed length validation, but content referencing an
// unregistered type is still a protocol violation).
func (p *Packet) ReadMessages(lookup DefinitionLookup) ([]Message, error) {
	msgs := make([]Message, 0, p.numMessages)
	for i := uint8(0); i < p.numMessages; i++ {
		var total uint16
		if !p.bb.ReadUint16(&total) {
			return nil, netcoreerr.ErrMessageCorrupt
		}
		var typeID uint8
		if !p.bb.ReadUint8(&typeID) {
			return nil, netcoreerr.ErrMessageCorrupt
		}
		flags, ok := lookup.Lookup(typeID)
		if !ok {
			return nil, netcoreerr.ErrUnknownMessageType
		}
		m := Message{TypeID: typeID, Flags: flags}
		if flags.IsReliable() {
			if !p.bb.ReadUint16(&m.ReliableID) {
				return nil, netcoreerr.ErrMessageCorrupt
			}
			if flags.IsInOrder() {
				if !p.bb.ReadUint16(&m.SequenceID) {
					return nil, netcoreerr.ErrMessageCorrupt
				}
			}
		}
		payloadSize := int(total) - (2 + 1 + headerSize(flags))
		if payloadSize < 0 {
			return nil, netcoreerr.ErrMessageCorrupt
		}
		payload, ok := p.bb.ReadBytes(payloadSize)
		if !ok {
			return nil, netcoreerr.ErrMessageCorrupt
		}
		m.Payload = payload
		msgs = append(msgs, m)
	}
	return msgs, nil
}
