// Package netobject implements replicated game-entity state: per-object
// creation/update/destroy plus the update-number staleness filter that
// keeps a reordered or duplicated update packet from clobbering newer
// state. It has no dependency on the session package itself — objects are
// addressed by a plain connection-table index, so the glue between the
// two lives in the consuming application, not in either library.
package netobject

import (
	"fmt"

	"github.com/coloracle/netcore/pkg/cyclic"
	"github.com/coloracle/netcore/pkg/netcoreerr"
)

// InvalidOwnerIndex marks a world/server-owned object with no controlling
// client connection.
const InvalidOwnerIndex uint8 = 0xFF

// MaxNetObjects bounds the live id space, starting conservatively per the
// original engine's own sizing.
const MaxNetObjects = 1000

// Protocol is the per-type behavior table a caller registers instead of
// subclassing a virtual NetObject base: how to allocate a fresh state
// value, how to decode its creation and update payloads, how to encode
// them back out, and how to tear it down.
type Protocol struct {
	TypeID    uint8
	DebugName string

	NewState     func() interface{}
	DecodeCreate func(state interface{}, data []byte) error
	DecodeUpdate func(state interface{}, data []byte) error
	EncodeCreate func(state interface{}) []byte
	EncodeUpdate func(state interface{}) []byte
	OnDestroy    func(state interface{})
}

// NetObject is one replicated entity: its identity, the type it was
// created from, which connection (if any) owns it, and the two
// independent staleness counters that guard against applying an
// out-of-date update.
type NetObject struct {
	ID         uint16
	TypeID     uint8
	OwnerIndex uint8
	State      interface{}

	// lastAuthorityUpdate tracks updates issued by the authoritative side
	// (typically the server): a new update is accepted if its number is
	// >= this counter, since the authority may legitimately resend the
	// same snapshot.
	lastAuthorityUpdate uint16
	haveAuthorityUpdate bool

	// lastOwnerUpdate tracks updates issued by the owning client: accepted
	// only with a strictly greater number, since an owner-submitted update
	// is a fresh input sample, not a resend of the same state.
	lastOwnerUpdate uint16
	haveOwnerUpdate bool
}

// IsOwnedBy reports whether connIndex is this object's controlling client.
func (o *NetObject) IsOwnedBy(connIndex uint8) bool {
	return o.OwnerIndex != InvalidOwnerIndex && o.OwnerIndex == connIndex
}

// System owns the full set of live NetObjects and the registered
// Protocol table, and hands out ids on Create.
type System struct {
	isAuthority bool
	protocols   [256]*Protocol
	objects     map[uint16]*NetObject
	nextID      uint16
	outUpdateNo uint16
}

// NewSystem constructs an object system. isAuthority marks the
// server/host side, which owns update-number generation for objects it
// creates and applies the "owner update" staleness rule to updates coming
// back from clients.
func NewSystem(isAuthority bool) *System {
	return &System{isAuthority: isAuthority, objects: make(map[uint16]*NetObject)}
}

// RegisterProtocol adds typeID's behavior table. Registering the same
// type id twice is an error.
func (s *System) RegisterProtocol(p *Protocol) error {
	if s.protocols[p.TypeID] != nil {
		return fmt.Errorf("netobject: type id %d (%s) already registered", p.TypeID, p.DebugName)
	}
	s.protocols[p.TypeID] = p
	return nil
}

func (s *System) protocolFor(typeID uint8) (*Protocol, error) {
	p := s.protocols[typeID]
	if p == nil {
		return nil, fmt.Errorf("netobject: type id %d is not registered", typeID)
	}
	return p, nil
}

// Create allocates a fresh id, decodes data as typeID's creation payload,
// and stores the resulting object under ownerIndex (InvalidOwnerIndex for
// a world/server-owned object).
func (s *System) Create(typeID uint8, ownerIndex uint8, data []byte) (*NetObject, error) {
	p, err := s.protocolFor(typeID)
	if err != nil {
		return nil, err
	}
	id, err := s.nextFreeID()
	if err != nil {
		return nil, err
	}
	state := p.NewState()
	if err := p.DecodeCreate(state, data); err != nil {
		return nil, netcoreerr.Wrap(err, fmt.Sprintf("netobject: decode create for type %d", typeID))
	}
	obj := &NetObject{ID: id, TypeID: typeID, OwnerIndex: ownerIndex, State: state}
	s.objects[id] = obj
	return obj, nil
}

// nextFreeID scans forward from the last id handed out for a slot not
// currently in use, wrapping at MaxNetObjects, and leaves s.nextID just
// past the id it returns so the common case (no reuse pressure) costs a
// single map lookup. IDs are not reserved across destroy, so a gap left
// behind by an earlier Destroy is fair game for reuse.
func (s *System) nextFreeID() (uint16, error) {
	start := s.nextID
	for tries := 0; tries < MaxNetObjects; tries++ {
		if _, inUse := s.objects[s.nextID]; !inUse {
			id := s.nextID
			s.nextID++
			if s.nextID == MaxNetObjects {
				s.nextID = 0
			}
			return id, nil
		}
		s.nextID++
		if s.nextID == MaxNetObjects {
			s.nextID = 0
		}
	}
	return 0, fmt.Errorf("netobject: all %d object ids are in use (started scan at %d)", MaxNetObjects, start)
}

// AdoptCreated registers an object whose id and state were already decided
// elsewhere — the receiving side of replication, where the server (not
// this system) assigned the id. A create for an id that is already live is
// ignored: the existing object is returned unchanged.
func (s *System) AdoptCreated(id uint16, typeID uint8, ownerIndex uint8, data []byte) (*NetObject, error) {
	if id >= MaxNetObjects {
		return nil, fmt.Errorf("netobject: id %d is out of range (max %d)", id, MaxNetObjects)
	}
	if existing, ok := s.objects[id]; ok {
		return existing, nil
	}
	p, err := s.protocolFor(typeID)
	if err != nil {
		return nil, err
	}
	state := p.NewState()
	if err := p.DecodeCreate(state, data); err != nil {
		return nil, netcoreerr.Wrap(err, fmt.Sprintf("netobject: decode create for type %d", typeID))
	}
	obj := &NetObject{ID: id, TypeID: typeID, OwnerIndex: ownerIndex, State: state}
	s.objects[id] = obj
	return obj, nil
}

// EncodeCreate serializes obj's full creation state for transmission to a
// newly-joined or newly-interested peer.
func (s *System) EncodeCreate(obj *NetObject) ([]byte, error) {
	p, err := s.protocolFor(obj.TypeID)
	if err != nil {
		return nil, err
	}
	return p.EncodeCreate(obj.State), nil
}

// Get looks up a live object by id.
func (s *System) Get(id uint16) (*NetObject, bool) {
	obj, ok := s.objects[id]
	return obj, ok
}

// All returns every currently live object.
func (s *System) All() []*NetObject {
	out := make([]*NetObject, 0, len(s.objects))
	for _, o := range s.objects {
		out = append(out, o)
	}
	return out
}

// Destroy removes obj from the system, invoking its protocol's OnDestroy
// hook if one is registered.
func (s *System) Destroy(id uint16) {
	obj, ok := s.objects[id]
	if !ok {
		return
	}
	if p := s.protocols[obj.TypeID]; p != nil && p.OnDestroy != nil {
		p.OnDestroy(obj.State)
	}
	delete(s.objects, id)
}

// NextOutgoingUpdateNumber hands out the next update counter value this
// system (acting as the authority for objects it updates) should stamp on
// an outgoing update.
func (s *System) NextOutgoingUpdateNumber() uint16 {
	n := s.outUpdateNo
	s.outUpdateNo++
	return n
}

// EncodeUpdate serializes obj's current state for transmission.
func (s *System) EncodeUpdate(obj *NetObject) ([]byte, error) {
	p, err := s.protocolFor(obj.TypeID)
	if err != nil {
		return nil, err
	}
	return p.EncodeUpdate(obj.State), nil
}

// ApplyAuthorityUpdate applies a server/authority-originated update to
// obj, filtering it through the >= staleness rule: an update carrying the
// same number as the last applied one is accepted (the authority may
// legitimately resend), but anything older is dropped.
func (s *System) ApplyAuthorityUpdate(obj *NetObject, updateNumber uint16, data []byte) (applied bool, err error) {
	if obj.haveAuthorityUpdate && isStale(updateNumber, obj.lastAuthorityUpdate, false) {
		return false, nil
	}
	p, err := s.protocolFor(obj.TypeID)
	if err != nil {
		return false, err
	}
	if err := p.DecodeUpdate(obj.State, data); err != nil {
		return false, netcoreerr.Wrap(err, fmt.Sprintf("netobject: decode update for type %d", obj.TypeID))
	}
	obj.lastAuthorityUpdate = updateNumber
	obj.haveAuthorityUpdate = true
	return true, nil
}

// ApplyOwnerUpdate applies a client-owner-originated update to obj,
// filtering it through the strict > staleness rule: an owner update is a
// fresh input sample, so a repeat of the same number is itself stale.
func (s *System) ApplyOwnerUpdate(obj *NetObject, updateNumber uint16, data []byte) (applied bool, err error) {
	if obj.haveOwnerUpdate && isStale(updateNumber, obj.lastOwnerUpdate, true) {
		return false, nil
	}
	p, err := s.protocolFor(obj.TypeID)
	if err != nil {
		return false, err
	}
	if err := p.DecodeUpdate(obj.State, data); err != nil {
		return false, netcoreerr.Wrap(err, fmt.Sprintf("netobject: decode update for type %d", obj.TypeID))
	}
	obj.lastOwnerUpdate = updateNumber
	obj.haveOwnerUpdate = true
	return true, nil
}

// isStale reports whether candidate should be rejected against last,
// accounting for u16 wraparound. strict selects the owner-update rule
// (candidate == last is stale); otherwise candidate == last is accepted.
func isStale(candidate, last uint16, strict bool) bool {
	if candidate == last {
		return strict
	}
	return cyclic.LessThan(candidate, last)
}
