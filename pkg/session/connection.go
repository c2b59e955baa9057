package session

import (
	"net"
	"time"

	"github.com/coloracle/netcore/pkg/logger"
	"github.com/coloracle/netcore/pkg/netcoreerr"
	"github.com/coloracle/netcore/pkg/wire"
)

// ConnectionState mirrors the per-peer lifecycle: a freshly admitted
// connection starts Unconfirmed (no packet from the peer observed yet)
// and becomes Confirmed the first time a packet from the peer is
// received. Local marks the session's own loopback
// slot, which never sends or receives packets over the wire.
type ConnectionState int

const (
	StateLocal ConnectionState = iota
	StateUnconfirmed
	StateConfirmed
)

func (s ConnectionState) String() string {
	switch s {
	case StateLocal:
		return "local"
	case StateUnconfirmed:
		return "unconfirmed"
	case StateConfirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// ackBundle records which reliable ids rode along in the packet stamped
// with a given outgoing ack number, so that once the peer confirms that
// ack (echoing it back as HighestReceivedAck or setting its bit in the
// trailing bitfield) the send window knows exactly which reliables to
// retire.
type ackBundle struct {
	valid       bool
	reliableIDs []uint16
}

type queuedMessage struct {
	msg        wire.Message
	queuedAt   time.Time
	lastSentAt time.Time
	sent       bool
}

// Connection is one peer's complete per-connection protocol state: ack
// tracking in both directions, the reliable send/receive windows, the
// in-order hold-back buffer, and the liveness timers that drive bad/
// timed-out detection.
type Connection struct {
	Index  uint8
	Addr   *net.UDPAddr
	GUID   string
	State  ConnectionState
	IsBad  bool

	// ProtocolViolation is set when the peer is caught misbehaving at the
	// wire level (a reliable id arriving outside the sliding window). It
	// is distinct from IsBad, which tracks ordinary liveness decay: a
	// violating connection is queued for disconnect on the very next
	// tick rather than waiting out the liveness thresholds.
	ProtocolViolation bool

	timeSinceRecv      time.Duration
	timeSinceSend      time.Duration
	timeSinceHeartbeat time.Duration

	nextOutgoingAck uint16
	recvAckWindow   ackWindow

	sendReliables *sendReliableWindow
	recvReliables *recvReliableWindow
	inOrder       *inOrderChannel

	ackBundles [MaxAckBundles]ackBundle

	unsent   []*queuedMessage
	reliable map[uint16]*queuedMessage // keyed by ReliableID, for retransmit

	cfg Config
}

// NewConnection allocates a fresh per-peer state block at the given
// connection-table index.
func NewConnection(index uint8, addr *net.UDPAddr, cfg Config) *Connection {
	return &Connection{
		Index:         index,
		Addr:          addr,
		State:         StateUnconfirmed,
		sendReliables: newSendReliableWindow(ReliableRangeRadius),
		recvReliables: newRecvReliableWindow(ReliableRangeRadius),
		inOrder:       newInOrderChannel(),
		reliable:      make(map[uint16]*queuedMessage),
		cfg:           cfg,
	}
}

// Advance folds one tick's elapsed time into the connection's liveness
// timers. The session compares these against its Bad/Timeout thresholds.
func (c *Connection) Advance(dt time.Duration) {
	c.timeSinceRecv += dt
	c.timeSinceSend += dt
	c.timeSinceHeartbeat += dt
}

func (c *Connection) notedSend()    { c.timeSinceSend = 0 }
func (c *Connection) notedRecv()    { c.timeSinceRecv = 0 }
func (c *Connection) notedHeartbeat() { c.timeSinceHeartbeat = 0 }

// QueueMessage frames a new outgoing message from its definition and
// payload, assigning reliable/sequence ids as the definition's flags
// require, and appends it to the unsent queue for the next packet build.
// Returns ErrReliablePoolExhausted if def is reliable and the send window
// has no room for another unconfirmed id.
func (c *Connection) QueueMessage(def *Definition, payload []byte) error {
	m := wire.Message{TypeID: def.TypeID, Flags: def.Flags, Payload: payload}
	if def.Flags.IsReliable() {
		if !c.sendReliables.CanAssign() {
			return netcoreerr.ErrReliablePoolExhausted
		}
		m.ReliableID = c.sendReliables.Assign()
		if def.Flags.IsInOrder() {
			m.SequenceID = c.inOrder.NextSequenceID()
		}
	}
	qm := &queuedMessage{msg: m}
	c.unsent = append(c.unsent, qm)
	if def.Flags.IsReliable() {
		c.reliable[m.ReliableID] = qm
	}
	return nil
}

// dueForRetransmit collects unconfirmed reliable messages that have waited
// at least retryInterval since their last send, plus any that have never
// been sent at all (e.g. ones dropped from the unsent queue while the
// connection was bad).
func (c *Connection) dueForRetransmit(retryInterval time.Duration, now time.Time) []*queuedMessage {
	var due []*queuedMessage
	for id, qm := range c.reliable {
		if c.sendReliables.IsConfirmed(id) {
			delete(c.reliable, id)
			continue
		}
		if !qm.sent || now.Sub(qm.lastSentAt) >= retryInterval {
			due = append(due, qm)
		}
	}
	return due
}

// BuildOutgoingPackets drains the unsent queue plus any reliable due for
// retry into one or more packets, each stamped with a fresh ack number and
// the current receive-ack snapshot. Unreliable messages that don't fit in
// the current packet are dropped per the framing layer's rules; reliable
// messages that don't fit carry over into the next packet built by the
// same call.
func (c *Connection) BuildOutgoingPackets(now time.Time) []*wire.Packet {
	var pending []*queuedMessage
	if c.IsBad {
		// A bad connection stops sending new traffic entirely; it still
		// sends heartbeats so it can recover if the peer comes back.
		c.unsent = c.unsent[:0]
	} else {
		pending = append([]*queuedMessage{}, c.unsent...)
		c.unsent = c.unsent[:0]
		// A reliable queued since the last build is both in the unsent
		// queue and never-sent in c.reliable; list it only once.
		inPending := make(map[*queuedMessage]bool, len(pending))
		for _, qm := range pending {
			inPending[qm] = true
		}
		for _, qm := range c.dueForRetransmit(c.cfg.ReliableRetryInterval, now) {
			if !inPending[qm] {
				pending = append(pending, qm)
			}
		}
	}

	if len(pending) == 0 {
		return c.maybeHeartbeatPacket(now)
	}

	var packets []*wire.Packet
	for len(pending) > 0 {
		if c.nextOutgoingAck == wire.InvalidAck {
			c.nextOutgoingAck++
		}
		p, bundled, rest := c.fillOnePacket(pending)
		packets = append(packets, p)
		ack := c.nextOutgoingAck
		c.nextOutgoingAck++
		c.ackBundles[ack%MaxAckBundles] = ackBundle{valid: len(bundled) > 0, reliableIDs: bundled}
		pending = rest
		if len(pending) > 0 && len(pending[0].msg.Payload)+16 > wire.MaxPacketSize {
			// A single message can never fit; drop it to avoid looping
			// forever (should not happen given callers respect MaxPacketSize).
			pending = pending[1:]
		}
	}
	c.notedSend()
	return packets
}

func (c *Connection) fillOnePacket(pending []*queuedMessage) (*wire.Packet, []uint16, []*queuedMessage) {
	p := wire.NewPacket()
	highest, bitfield := c.recvAckWindow.Snapshot()
	p.WriteHeader(wire.Header{
		PeerIndex:          c.Index,
		Ack:                c.nextOutgoingAck,
		HighestReceivedAck: highest,
		PrevAcksBitfield:   bitfield,
	})

	var bundled []uint16
	i := 0
	for ; i < len(pending); i++ {
		qm := pending[i]
		if err := p.WriteMessage(&qm.msg); err != nil {
			if err == netcoreerr.ErrMessageTooLarge {
				continue // can never fit any packet, drop it
			}
			if qm.msg.IsReliable() {
				break // stays queued for next packet
			}
			continue // unreliable message dropped, doesn't fit
		}
		qm.sent = true
		qm.lastSentAt = time.Now()
		if qm.msg.IsReliable() {
			bundled = append(bundled, qm.msg.ReliableID)
		}
	}
	p.FinalizeHeader()
	return p, bundled, pending[i:]
}

// maybeHeartbeatPacket returns a single header-only keepalive packet if the
// heartbeat interval has elapsed with nothing else to send, or nil
// otherwise.
func (c *Connection) maybeHeartbeatPacket(now time.Time) []*wire.Packet {
	if c.timeSinceHeartbeat < c.cfg.HeartbeatInterval {
		return nil
	}
	p := wire.NewPacket()
	highest, bitfield := c.recvAckWindow.Snapshot()
	if c.nextOutgoingAck == wire.InvalidAck {
		c.nextOutgoingAck++
	}
	ack := c.nextOutgoingAck
	c.nextOutgoingAck++
	c.ackBundles[ack%MaxAckBundles] = ackBundle{}
	p.WriteHeader(wire.Header{PeerIndex: c.Index, Ack: ack, HighestReceivedAck: highest, PrevAcksBitfield: bitfield})
	p.FinalizeHeader()
	c.notedHeartbeat()
	c.notedSend()
	return []*wire.Packet{p}
}

// ReceivePacket folds a decoded header into the connection's ack state and
// returns the set of messages that are newly deliverable: unreliable and
// reliable-unordered messages deliver immediately (after dedup), in-order
// messages flow through the hold-back buffer and may release a run of
// several at once (or none yet).
func (c *Connection) ReceivePacket(h wire.Header, msgs []wire.Message) []wire.Message {
	c.notedRecv()
	if c.State == StateUnconfirmed {
		c.State = StateConfirmed
	}
	c.recvAckWindow.Observe(h.Ack)
	c.confirmReliables(h.HighestReceivedAck, h.PrevAcksBitfield)

	var out []wire.Message
	for _, m := range msgs {
		if m.IsReliable() {
			ok, violation := c.recvReliables.Accept(m.ReliableID)
			if violation {
				c.ProtocolViolation = true
				logger.Warn("connection %d: %v (reliable id %d)", c.Index, netcoreerr.ErrReliableOutOfWindow, m.ReliableID)
				continue
			}
			if !ok {
				continue // duplicate
			}
		}
		if m.IsInOrder() {
			out = append(out, c.inOrder.Accept(m)...)
			continue
		}
		out = append(out, m)
	}
	return out
}

// confirmReliables walks every ack bundle covered by the peer's reported
// (highest, bitfield) pair and retires the reliable ids each one carried.
func (c *Connection) confirmReliables(highest, bitfield uint16) {
	for slot := range c.ackBundles {
		b := &c.ackBundles[slot]
		if !b.valid {
			continue
		}
		ackID := ackIDForSlot(uint16(slot), highest)
		if !WasAcked(highest, bitfield, ackID) {
			continue
		}
		for _, id := range b.reliableIDs {
			c.sendReliables.Confirm(id)
		}
		b.valid = false
		b.reliableIDs = nil
	}
}

// ackIDForSlot recovers which ack number a ring slot most recently held,
// given the peer's current highest-seen ack as a reference point: of the
// (at most MaxAckBundles) candidate ids that map to this slot, the one at
// or before highest is the one we actually sent.
func ackIDForSlot(slot uint16, highest uint16) uint16 {
	base := highest - (highest % MaxAckBundles)
	candidate := base + slot
	if candidate > highest {
		candidate -= MaxAckBundles
	}
	return candidate
}

// Sender is the handle passed to a message handler: the connection the
// message arrived on (nil for connectionless traffic) and the raw source
// address, so a handler can reply even before a connection exists.
type Sender struct {
	Connection *Connection
	Addr       *net.UDPAddr
	session    *Session
}

// Reply queues msg for delivery back to whichever connection or raw
// address this sender represents.
func (s *Sender) Reply(typeID uint8, payload []byte) {
	s.session.sendTo(s, typeID, payload)
}
