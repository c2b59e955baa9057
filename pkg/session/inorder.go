package session

import "github.com/coloracle/netcore/pkg/wire"

// inOrderChannel enforces strict delivery order for messages flagged both
// reliable and in-order: arrivals that are ahead of the expected sequence
// id are held back until the gap closes, then released together.
type inOrderChannel struct {
	nextSend     uint16
	nextDeliver  uint16
	haveFloor    bool
	holdBack     map[uint16]wire.Message
}

func newInOrderChannel() *inOrderChannel {
	return &inOrderChannel{holdBack: make(map[uint16]wire.Message)}
}

// NextSequenceID returns the sequence id to stamp on the next outgoing
// in-order message.
func (c *inOrderChannel) NextSequenceID() uint16 {
	id := c.nextSend
	c.nextSend++
	return id
}

// Accept buffers an in-order message and returns every message now
// deliverable in sequence, in order — possibly none (still waiting on an
// earlier gap), possibly several (a gap just closed).
func (c *inOrderChannel) Accept(m wire.Message) []wire.Message {
	if !c.haveFloor {
		c.nextDeliver = m.SequenceID
		c.haveFloor = true
	}
	if m.SequenceID != c.nextDeliver {
		// Not the next deliverable id: hold it until the gap closes.
		// Resends of already-delivered reliable messages never reach
		// here, since the connection's reliable window drops duplicates
		// first.
		c.holdBack[m.SequenceID] = m
		return nil
	}

	out := []wire.Message{m}
	c.nextDeliver++
	for {
		next, ok := c.holdBack[c.nextDeliver]
		if !ok {
			break
		}
		delete(c.holdBack, c.nextDeliver)
		out = append(out, next)
		c.nextDeliver++
	}
	return out
}

// Pending reports how many messages are currently held back waiting on a
// gap to close.
func (c *inOrderChannel) Pending() int { return len(c.holdBack) }
