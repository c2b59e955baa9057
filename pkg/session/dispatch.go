package session

import (
	"fmt"

	"github.com/coloracle/netcore/pkg/wire"
)

// HandlerFunc processes one decoded message from a given sender. The
// handler may write replies through sender; it must not block.
type HandlerFunc func(sender *Sender, msg *wire.Message)

// Definition is one registered message type: its wire flags (reliability,
// ordering), a human name for logging, and the handler invoked on receipt.
type Definition struct {
	TypeID    uint8
	DebugName string
	Flags     wire.Flags
	Handler   HandlerFunc
}

// DispatchTable is a fixed 256-entry lookup replacing the inheritance-based
// message-class hierarchy of a virtual-dispatch design: each type-id maps
// directly to a flags+handler pair, registered once before a Session
// starts and consulted on both send and receive.
type DispatchTable struct {
	defs [256]*Definition
}

// NewDispatchTable returns an empty table with the core protocol messages
// pre-registered at their reserved ids.
func NewDispatchTable() *DispatchTable {
	t := &DispatchTable{}
	t.registerCoreMessages()
	return t
}

// Register adds a user-defined message type. id must be >= FirstUserMessageID
// and not already registered.
func (t *DispatchTable) Register(id uint8, name string, flags wire.Flags, handler HandlerFunc) error {
	if id < FirstUserMessageID {
		return fmt.Errorf("netcore: message id %d is reserved for the core protocol (ids below %d)", id, FirstUserMessageID)
	}
	return t.register(id, name, flags, handler)
}

func (t *DispatchTable) register(id uint8, name string, flags wire.Flags, handler HandlerFunc) error {
	if t.defs[id] != nil {
		return fmt.Errorf("netcore: message id %d (%s) already registered as %q", id, name, t.defs[id].DebugName)
	}
	t.defs[id] = &Definition{TypeID: id, DebugName: name, Flags: flags, Handler: handler}
	return nil
}

// Lookup implements wire.DefinitionLookup.
func (t *DispatchTable) Lookup(id uint8) (wire.Flags, bool) {
	d := t.defs[id]
	if d == nil {
		return wire.Flags{}, false
	}
	return d.Flags, true
}

func (t *DispatchTable) find(id uint8) *Definition { return t.defs[id] }
