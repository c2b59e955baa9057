// Package netchan implements PacketChannel: a UDP endpoint wrapper that
// layers simulated loss and lag over a bound socket for test harnesses,
// backed by a fixed pool of packet slots to avoid per-read allocation.
package netchan

import (
	"container/heap"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/coloracle/netcore/pkg/netcoreerr"
	"github.com/coloracle/netcore/pkg/wire"
)

// MaxChannelPackets bounds the delayed-packet pool.
const MaxChannelPackets = 1000

// Interval is an inclusive [Min, Max] range a value is drawn uniformly
// from. A zero Interval (Min == Max == 0) disables the corresponding
// simulation.
type Interval struct {
	Min float64
	Max float64
}

func (iv Interval) isZero() bool { return iv.Min == 0 && iv.Max == 0 }

func (iv Interval) sample(r *rand.Rand) float64 {
	if iv.Max <= iv.Min {
		return iv.Min
	}
	return iv.Min + r.Float64()*(iv.Max-iv.Min)
}

// Config configures a Channel's socket binding and simulator.
type Config struct {
	PreferredPort int
	PortScanRange int // how many additional ports to try on bind failure
	LossPercent   Interval
	LagMs         Interval
	Rand          *rand.Rand // seeded PRNG driving loss/lag draws; defaults to a fresh source
}

// delayedPacket is one entry in the simulator's time-ordered min-heap.
type delayedPacket struct {
	readyAt time.Time
	addr    *net.UDPAddr
	slot    *packetSlot
}

type delayedPacketHeap []*delayedPacket

func (h delayedPacketHeap) Len() int            { return len(h) }
func (h delayedPacketHeap) Less(i, j int) bool  { return h[i].readyAt.Before(h[j].readyAt) }
func (h delayedPacketHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *delayedPacketHeap) Push(x interface{}) { *h = append(*h, x.(*delayedPacket)) }
func (h *delayedPacketHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// packetSlot is one pooled fixed-capacity receive buffer.
type packetSlot struct {
	buf [wire.MaxPacketSize]byte
	n   int
}

// Channel wraps a bound, non-blocking UDP socket and optionally simulates
// additional loss and lag over it.
type Channel struct {
	conn   *net.UDPConn
	cfg    Config
	rnd    *rand.Rand
	queue  delayedPacketHeap
	freelist []*packetSlot
	bypass bool
}

// Bind scans from cfg.PreferredPort across cfg.PortScanRange additional
// ports until one binds successfully.
func Bind(host string, cfg Config) (*Channel, error) {
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	rangeSize := cfg.PortScanRange
	if rangeSize <= 0 {
		rangeSize = 8
	}

	var lastErr error
	for i := 0; i <= rangeSize; i++ {
		port := cfg.PreferredPort + i
		addr := &net.UDPAddr{IP: net.ParseIP(host), Port: port}
		conn, err := net.ListenUDP("udp", addr)
		if err == nil {
			ch := &Channel{conn: conn, cfg: cfg, rnd: cfg.Rand}
			ch.bypass = cfg.LagMs.isZero() && cfg.LossPercent.isZero()
			ch.freelist = make([]*packetSlot, 0, MaxChannelPackets)
			for j := 0; j < MaxChannelPackets; j++ {
				ch.freelist = append(ch.freelist, &packetSlot{})
			}
			return ch, nil
		}
		lastErr = err
	}
	return nil, &netcoreerr.BindFailure{Preferred: cfg.PreferredPort, RangeSize: rangeSize, Cause: lastErr}
}

// LocalAddr returns the bound local address.
func (c *Channel) LocalAddr() *net.UDPAddr { return c.conn.LocalAddr().(*net.UDPAddr) }

// Close releases the underlying socket.
func (c *Channel) Close() error { return c.conn.Close() }

// SendTo is a direct passthrough to the socket — the simulator only
// applies on the receive side.
func (c *Channel) SendTo(addr *net.UDPAddr, data []byte) error {
	_, err := c.conn.WriteToUDP(data, addr)
	if err != nil && !netcoreerr.IsTransient(err) {
		return &netcoreerr.SocketError{Cause: err}
	}
	return nil
}

func (c *Channel) acquireSlot() *packetSlot {
	if len(c.freelist) == 0 {
		// Pool exhausted (spec: "fixed pool ... prevents per-read
		// allocation"); recycling the oldest queued entry keeps the
		// channel bounded instead of growing unboundedly.
		if len(c.queue) > 0 {
			oldest := heap.Pop(&c.queue).(*delayedPacket)
			return oldest.slot
		}
		return &packetSlot{}
	}
	n := len(c.freelist) - 1
	s := c.freelist[n]
	c.freelist = c.freelist[:n]
	return s
}

func (c *Channel) releaseSlot(s *packetSlot) {
	if len(c.freelist) < MaxChannelPackets {
		c.freelist = append(c.freelist, s)
	}
}

// pump performs one non-blocking socket read, classifying the result
// through the loss/lag simulator (or bypassing it entirely when both
// intervals are zero). Returns read=false if the socket had nothing
// waiting. In bypass mode the datagram is copied out and returned
// directly via addr/data; otherwise it is queued (or dropped) and
// addr/data are nil.
func (c *Channel) pump() (addr *net.UDPAddr, data []byte, bypassed bool, read bool) {
	c.conn.SetReadDeadline(time.Now())
	slot := c.acquireSlot()
	n, from, err := c.conn.ReadFromUDP(slot.buf[:])
	if err != nil {
		c.releaseSlot(slot)
		return nil, nil, false, false
	}
	slot.n = n

	if c.bypass {
		out := append([]byte(nil), slot.buf[:n]...)
		c.releaseSlot(slot)
		return from, out, true, true
	}

	lossDraw := c.cfg.LossPercent.sample(c.rnd)
	if c.rnd.Float64() < lossDraw {
		c.releaseSlot(slot)
		return nil, nil, false, true // consumed a read, but the packet was dropped
	}

	lagMs := c.cfg.LagMs.sample(c.rnd)
	readyAt := time.Now().Add(time.Duration(lagMs) * time.Millisecond)
	heap.Push(&c.queue, &delayedPacket{readyAt: readyAt, addr: from, slot: slot})
	return nil, nil, false, true
}

// RecvFrom performs one non-blocking socket read (feeding it through the
// loss/lag simulator, or straight through in bypass mode), then returns
// the earliest-timestamped queued packet whose delay has matured. ok is
// false if nothing matured this call — not necessarily that the socket
// is empty, since lag may still be holding packets back, or the single
// read attempted this call may simply have found nothing waiting.
func (c *Channel) RecvFrom() (addr *net.UDPAddr, data []byte, ok bool) {
	addrNow, dataNow, bypassed, _ := c.pump()
	if bypassed {
		return addrNow, dataNow, true
	}

	if len(c.queue) == 0 {
		return nil, nil, false
	}
	head := c.queue[0]
	if head.readyAt.After(time.Now()) {
		return nil, nil, false
	}
	entry := heap.Pop(&c.queue).(*delayedPacket)
	data = append([]byte(nil), entry.slot.buf[:entry.slot.n]...)
	c.releaseSlot(entry.slot)
	return entry.addr, data, true
}

// DrainAll implements the "tight loop until would-block" receive
// discipline: it first pumps every pending socket datagram
// into the simulator (or straight to fn, in bypass mode), then pops every
// matured queued packet and hands each to fn.
func (c *Channel) DrainAll(fn func(addr *net.UDPAddr, data []byte)) {
	for {
		addrNow, dataNow, bypassed, read := c.pump()
		if !read {
			break
		}
		if bypassed {
			fn(addrNow, dataNow)
		}
	}
	if c.bypass {
		return
	}
	now := time.Now()
	for len(c.queue) > 0 && !c.queue[0].readyAt.After(now) {
		entry := heap.Pop(&c.queue).(*delayedPacket)
		data := append([]byte(nil), entry.slot.buf[:entry.slot.n]...)
		c.releaseSlot(entry.slot)
		fn(entry.addr, data)
	}
}

func (e *delayedPacket) String() string {
	return fmt.Sprintf("delayedPacket{addr=%v readyAt=%v}", e.addr, e.readyAt)
}
