// Package bytebuffer implements an endian-aware, in-place read/write cursor
// over a bounded byte region, used by every framing layer above it (packet
// headers, message headers, replication payloads).
package bytebuffer

import (
	"encoding/binary"
	"math"
)

// nilStringSentinel is the reserved byte that distinguishes a nil string
// from an empty one (a lone NUL).
const nilStringSentinel = 0xFF

// Bookmark is a reservation returned by Reserve, used to patch a value in
// after the fact (e.g. num_messages, written once the count is known).
type Bookmark int

// ByteBuffer is a borrowed byte region with a shared read/write cursor and
// a declared endianness. Invariant: cursor <= written <= capacity on the
// read side; cursor <= capacity on the write side.
type ByteBuffer struct {
	data     []byte
	cursor   int
	written  int
	order    binary.ByteOrder
}

// New wraps buf for writing; capacity is len(buf).
func New(buf []byte, order binary.ByteOrder) *ByteBuffer {
	if order == nil {
		order = binary.BigEndian
	}
	return &ByteBuffer{data: buf, order: order}
}

// NewReader wraps buf for reading n already-written bytes.
func NewReader(buf []byte, n int, order binary.ByteOrder) *ByteBuffer {
	b := New(buf, order)
	b.written = n
	return b
}

func (b *ByteBuffer) Capacity() int       { return len(b.data) }
func (b *ByteBuffer) Written() int        { return b.written }
func (b *ByteBuffer) Cursor() int         { return b.cursor }
func (b *ByteBuffer) RemainingWrite() int { return len(b.data) - b.cursor }
func (b *ByteBuffer) RemainingRead() int  { return b.written - b.cursor }
func (b *ByteBuffer) Bytes() []byte       { return b.data[:b.written] }
func (b *ByteBuffer) Order() binary.ByteOrder { return b.order }

// Advance moves the cursor forward n bytes without reading or writing
// (used after a caller has copied payload bytes directly).
func (b *ByteBuffer) Advance(n int) {
	b.cursor += n
	if b.cursor > b.written {
		b.written = b.cursor
	}
}

// Reset rewinds the cursor and write high-water mark to n (0 to fully
// reuse the backing region for a new message).
func (b *ByteBuffer) Reset(n int) {
	b.cursor = n
	b.written = n
}

// Reserve allocates size bytes at the current cursor without filling them,
// returning a bookmark that WriteAt can later patch. Used for num_messages
// and similar "patch in after the fact" fields.
func (b *ByteBuffer) Reserve(size int) (Bookmark, bool) {
	if b.cursor+size > len(b.data) {
		return 0, false
	}
	bm := Bookmark(b.cursor)
	b.cursor += size
	if b.cursor > b.written {
		b.written = b.cursor
	}
	return bm, true
}

func (b *ByteBuffer) writeAt(at int, v []byte) bool {
	if at+len(v) > len(b.data) {
		return false
	}
	copy(b.data[at:], v)
	return true
}

// WriteUint8At patches a single byte reserved earlier via Reserve(1).
func (b *ByteBuffer) WriteUint8At(bm Bookmark, v uint8) bool {
	return b.writeAt(int(bm), []byte{v})
}

// WriteUint16At patches a uint16 reserved earlier via Reserve(2).
func (b *ByteBuffer) WriteUint16At(bm Bookmark, v uint16) bool {
	buf := make([]byte, 2)
	b.order.PutUint16(buf, v)
	return b.writeAt(int(bm), buf)
}

// WriteUint8 appends a single byte, failing iff it would overflow capacity.
func (b *ByteBuffer) WriteUint8(v uint8) bool {
	if b.cursor+1 > len(b.data) {
		return false
	}
	b.data[b.cursor] = v
	b.cursor++
	if b.cursor > b.written {
		b.written = b.cursor
	}
	return true
}

func (b *ByteBuffer) WriteUint16(v uint16) bool {
	if b.cursor+2 > len(b.data) {
		return false
	}
	b.order.PutUint16(b.data[b.cursor:], v)
	b.cursor += 2
	if b.cursor > b.written {
		b.written = b.cursor
	}
	return true
}

func (b *ByteBuffer) WriteUint32(v uint32) bool {
	if b.cursor+4 > len(b.data) {
		return false
	}
	b.order.PutUint32(b.data[b.cursor:], v)
	b.cursor += 4
	if b.cursor > b.written {
		b.written = b.cursor
	}
	return true
}

func (b *ByteBuffer) WriteUint64(v uint64) bool {
	if b.cursor+8 > len(b.data) {
		return false
	}
	b.order.PutUint64(b.data[b.cursor:], v)
	b.cursor += 8
	if b.cursor > b.written {
		b.written = b.cursor
	}
	return true
}

func (b *ByteBuffer) WriteFloat32(f float32) bool {
	return b.WriteUint32(math.Float32bits(f))
}

// WriteForward appends raw bytes at the cursor, advancing it.
func (b *ByteBuffer) WriteForward(p []byte) bool {
	if b.cursor+len(p) > len(b.data) {
		return false
	}
	copy(b.data[b.cursor:], p)
	b.cursor += len(p)
	if b.cursor > b.written {
		b.written = b.cursor
	}
	return true
}

// WriteBackward appends raw bytes just before capacity and does not move
// the forward cursor; used for split/trailer fields written in reverse
// order relative to normal framing. Returns the offset written to.
func (b *ByteBuffer) WriteBackward(p []byte) (int, bool) {
	at := len(b.data) - len(p)
	if at < b.cursor {
		return 0, false
	}
	copy(b.data[at:], p)
	if at < b.written {
		// no-op: written tracks forward high-water only
	}
	return at, true
}

// WriteString writes s as UTF-8 bytes terminated by a NUL, or a single
// 0xFF sentinel byte if s is nil (represented here by the isNil flag,
// since Go strings can't be nil themselves).
func (b *ByteBuffer) WriteString(s string, isNil bool) bool {
	if isNil {
		return b.WriteUint8(nilStringSentinel)
	}
	need := len(s) + 1
	if b.cursor+need > len(b.data) {
		return false
	}
	copy(b.data[b.cursor:], s)
	b.cursor += len(s)
	b.data[b.cursor] = 0
	b.cursor++
	if b.cursor > b.written {
		b.written = b.cursor
	}
	return true
}

func (b *ByteBuffer) ReadUint8(out *uint8) bool {
	if b.cursor+1 > b.written {
		return false
	}
	*out = b.data[b.cursor]
	b.cursor++
	return true
}

func (b *ByteBuffer) ReadUint16(out *uint16) bool {
	if b.cursor+2 > b.written {
		return false
	}
	*out = b.order.Uint16(b.data[b.cursor:])
	b.cursor += 2
	return true
}

func (b *ByteBuffer) ReadUint32(out *uint32) bool {
	if b.cursor+4 > b.written {
		return false
	}
	*out = b.order.Uint32(b.data[b.cursor:])
	b.cursor += 4
	return true
}

func (b *ByteBuffer) ReadUint64(out *uint64) bool {
	if b.cursor+8 > b.written {
		return false
	}
	*out = b.order.Uint64(b.data[b.cursor:])
	b.cursor += 8
	return true
}

func (b *ByteBuffer) ReadFloat32(out *float32) bool {
	var bits uint32
	if !b.ReadUint32(&bits) {
		return false
	}
	*out = math.Float32frombits(bits)
	return true
}

// ReadBytes returns a zero-copy view of n bytes at the cursor.
func (b *ByteBuffer) ReadBytes(n int) ([]byte, bool) {
	if b.cursor+n > b.written {
		return nil, false
	}
	v := b.data[b.cursor : b.cursor+n]
	b.cursor += n
	return v, true
}

// ReadString returns a copy of the NUL-terminated string at the cursor
// (not a view into the buffer), or (nil-string=true) if the reserved 0xFF
// sentinel is seen first.
func (b *ByteBuffer) ReadString() (s string, isNil bool, ok bool) {
	if b.cursor >= b.written {
		return "", false, false
	}
	if b.data[b.cursor] == nilStringSentinel {
		b.cursor++
		return "", true, true
	}
	start := b.cursor
	for i := b.cursor; i < b.written; i++ {
		if b.data[i] == 0 {
			s = string(b.data[start:i])
			b.cursor = i + 1
			return s, false, true
		}
	}
	return "", false, false
}
