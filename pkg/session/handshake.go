package session

import (
	"encoding/binary"

	"github.com/coloracle/netcore/pkg/bytebuffer"
	"github.com/coloracle/netcore/pkg/wire"
)

// Core protocol message ids, reserved below FirstUserMessageID.
const (
	msgPing        uint8 = 0
	msgPong        uint8 = 1
	msgJoinRequest uint8 = 2
	msgJoinAccept  uint8 = 3
	msgJoinDeny    uint8 = 4
	msgLeave       uint8 = 5
)

// registerCoreMessages reserves the core protocol ids with their wire
// flags and debug names. Handlers are left nil here and bound later by
// bindCoreHandlers once a Session exists to close over.
//
// JoinRequest and JoinAccept are reliable: Session.Join and
// handleJoinRequest each allocate their connection before sending, the
// same order the original engine creates m_hostConnection/newConn before
// calling SendMessageToThem, so both messages ride the normal
// reliable-retry path rather than a single fire-and-forget send. They
// stay marked connectionless too, since the very first request a host
// sees always arrives before any Connection exists for that address.
// JoinDeny has no connection to retry through (a denied joiner gets none
// allocated) and stays unreliable-connectionless.
func (t *DispatchTable) registerCoreMessages() {
	t.register(msgPing, "ping", wire.Flags{}, nil)
	t.register(msgPong, "pong", wire.Flags{}, nil)
	t.register(msgJoinRequest, "join_request", wire.Flags{Control: wire.CtrlConnectionless, Option: wire.OptReliable}, nil)
	t.register(msgJoinAccept, "join_accept", wire.Flags{Control: wire.CtrlConnectionless, Option: wire.OptReliable}, nil)
	t.register(msgJoinDeny, "join_deny", wire.Flags{Control: wire.CtrlConnectionless}, nil)
	t.register(msgLeave, "leave", wire.Flags{}, nil)
}

// bindCoreHandlers wires the core message ids to this session's join/leave
// state machine, now that a Session exists for the closures to reference.
func (t *DispatchTable) bindCoreHandlers(s *Session) {
	t.defs[msgPing].Handler = s.handlePing
	t.defs[msgPong].Handler = s.handlePong
	t.defs[msgJoinRequest].Handler = s.handleJoinRequest
	t.defs[msgJoinAccept].Handler = s.handleJoinAccept
	t.defs[msgJoinDeny].Handler = s.handleJoinDeny
	t.defs[msgLeave].Handler = s.handleLeave
}

// joinRequestPayload carries the nuonce a connecting client picked, used
// to correlate the eventual accept/deny against the right in-flight
// attempt, plus the GUID it wants to be known by.
type joinRequestPayload struct {
	Nuonce uint32
	GUID   string
}

func encodeJoinRequest(p joinRequestPayload) []byte {
	buf := make([]byte, 4+2+len(p.GUID))
	bb := bytebuffer.New(buf, binary.BigEndian)
	bb.WriteUint32(p.Nuonce)
	bb.WriteString(p.GUID, false)
	return bb.Bytes()
}

func decodeJoinRequest(data []byte) (joinRequestPayload, bool) {
	bb := bytebuffer.NewReader(data, len(data), binary.BigEndian)
	var p joinRequestPayload
	if !bb.ReadUint32(&p.Nuonce) {
		return p, false
	}
	s, _, ok := bb.ReadString()
	if !ok {
		return p, false
	}
	p.GUID = s
	return p, true
}

// joinAcceptPayload confirms the nuonce and hands back the slot the
// server assigned the new connection.
type joinAcceptPayload struct {
	Nuonce     uint32
	PeerIndex  uint8
}

func encodeJoinAccept(p joinAcceptPayload) []byte {
	buf := make([]byte, 5)
	bb := bytebuffer.New(buf, binary.BigEndian)
	bb.WriteUint32(p.Nuonce)
	bb.WriteUint8(p.PeerIndex)
	return bb.Bytes()
}

func decodeJoinAccept(data []byte) (joinAcceptPayload, bool) {
	bb := bytebuffer.NewReader(data, len(data), binary.BigEndian)
	var p joinAcceptPayload
	if !bb.ReadUint32(&p.Nuonce) {
		return p, false
	}
	if !bb.ReadUint8(&p.PeerIndex) {
		return p, false
	}
	return p, true
}

// DenyReason enumerates why a host rejected a join attempt, surfaced to
// the gameplay layer so it can decide the UI response.
type DenyReason uint8

const (
	DenyIncompatibleVersion DenyReason = iota
	DenyNotHost
	DenyNotJoinable
	DenyGameFull
	DenyGUIDTaken
)

func (r DenyReason) String() string {
	switch r {
	case DenyIncompatibleVersion:
		return "incompatible_version"
	case DenyNotHost:
		return "not_host"
	case DenyNotJoinable:
		return "not_joinable"
	case DenyGameFull:
		return "game_full"
	case DenyGUIDTaken:
		return "guid_taken"
	default:
		return "unknown"
	}
}

type joinDenyPayload struct {
	Nuonce uint32
	Reason DenyReason
}

func encodeJoinDeny(p joinDenyPayload) []byte {
	buf := make([]byte, 5)
	bb := bytebuffer.New(buf, binary.BigEndian)
	bb.WriteUint32(p.Nuonce)
	bb.WriteUint8(uint8(p.Reason))
	return bb.Bytes()
}

func decodeJoinDeny(data []byte) (joinDenyPayload, bool) {
	bb := bytebuffer.NewReader(data, len(data), binary.BigEndian)
	var p joinDenyPayload
	if !bb.ReadUint32(&p.Nuonce) {
		return p, false
	}
	var reason uint8
	if !bb.ReadUint8(&reason) {
		return p, false
	}
	p.Reason = DenyReason(reason)
	return p, true
}
