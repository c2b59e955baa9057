// Package session implements the connection and session layer: per-peer
// ack tracking and reliable/in-order delivery (Connection), and the
// session-wide join/host/leave state machine and tick loop (Session) that
// drive a set of connections over a single UDP socket.
package session

import (
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/coloracle/netcore/pkg/logger"
	"github.com/coloracle/netcore/pkg/netchan"
	"github.com/coloracle/netcore/pkg/netcoreerr"
	"github.com/coloracle/netcore/pkg/wire"
)

// SessionState is the top-level state machine a Session walks through:
// Invalid (still registering message definitions) -> Disconnected (idle,
// ready to host or join) -> Joining (handshake in flight) -> Connected.
type SessionState int

const (
	SessionInvalid SessionState = iota
	SessionDisconnected
	SessionJoining
	SessionConnected
)

func (s SessionState) String() string {
	switch s {
	case SessionInvalid:
		return "invalid"
	case SessionDisconnected:
		return "disconnected"
	case SessionJoining:
		return "joining"
	case SessionConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Session owns the connection table, the bound socket, and the dispatch
// table, and drives the whole protocol one Tick at a time.
type Session struct {
	cfg      Config
	state    SessionState
	dispatch *DispatchTable
	channel  *netchan.Channel
	listener Listener
	rnd      *rand.Rand

	connections [MaxConnections]*Connection
	addrIndex   map[string]uint8
	guidIndex   map[string]uint8

	isHost      bool
	isListening bool
	hostConn    *Connection

	// joinConn is the provisional connection a joining client allocates
	// for the host before the handshake completes, so JoinRequest rides
	// the normal reliable send/retry path instead of a fire-and-forget
	// connectionless send. Re-indexed to the host-assigned peer index
	// (and promoted to hostConn) once JoinAccept arrives.
	joinConn      *Connection
	pendingNuonce uint32
	pendingGUID   string
	joinElapsed   time.Duration
	joinActive    bool

	lastDenyReason DenyReason
}

// LastDenyReason reports why the most recent join attempt was denied,
// valid after Tick observes a JoinDeny and the session falls back to
// SessionDisconnected. The gameplay layer decides the UI response from it.
func (s *Session) LastDenyReason() DenyReason { return s.lastDenyReason }

// NewSession constructs a Session in the Invalid state, ready for message
// registration. listener may be nil, in which case lifecycle events are
// simply dropped.
func NewSession(cfg Config, listener Listener) *Session {
	if listener == nil {
		listener = NoopListener{}
	}
	seed := cfg.NuonceSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Session{
		cfg:       cfg,
		state:     SessionInvalid,
		dispatch:  NewDispatchTable(),
		listener:  listener,
		rnd:       rand.New(rand.NewSource(seed)),
		addrIndex: make(map[string]uint8),
		guidIndex: make(map[string]uint8),
	}
}

// RegisterMessage adds a user-defined message type. Only legal before
// Start, matching the "Invalid" sub-state of the original design where all
// message types must be nailed down before any traffic can flow.
func (s *Session) RegisterMessage(id uint8, name string, flags wire.Flags, handler HandlerFunc) error {
	if s.state != SessionInvalid {
		return netcoreerr.ErrNotInvalidState
	}
	return s.dispatch.Register(id, name, flags, handler)
}

// Start binds the underlying packet channel and moves the session to
// Disconnected, ready to Host or Join.
func (s *Session) Start(host string) error {
	if s.state != SessionInvalid {
		return netcoreerr.ErrNotInvalidState
	}
	ch, err := netchan.Bind(host, netchan.Config{
		PreferredPort: s.cfg.PreferredPort,
		PortScanRange: s.cfg.PortScanRange,
		LossPercent:   netchan.Interval(s.cfg.SimulatedLossPercent),
		LagMs:         netchan.Interval(s.cfg.SimulatedLagMs),
		Rand:          s.rnd,
	})
	if err != nil {
		return err
	}
	s.channel = ch
	s.dispatch.bindCoreHandlers(s)
	s.state = SessionDisconnected
	return nil
}

// LocalAddr returns the bound socket's local address.
func (s *Session) LocalAddr() *net.UDPAddr { return s.channel.LocalAddr() }

// Close releases the underlying socket.
func (s *Session) Close() error { return s.channel.Close() }

// State reports the session's current top-level state.
func (s *Session) State() SessionState { return s.state }

// Host moves a Disconnected session straight to Connected, acting as the
// authority other sessions Join against.
func (s *Session) Host() error {
	if s.state != SessionDisconnected {
		return netcoreerr.ErrNotDisconnectedState
	}
	s.isHost = true
	s.isListening = true
	s.state = SessionConnected
	return nil
}

// StartListening reopens a hosting session to new joiners. Hosting starts
// listening by default; StopListening/StartListening let a gamemode pause
// admission (e.g. mid-round) without tearing the session down.
func (s *Session) StartListening() { s.isListening = true }

// StopListening closes a hosting session to new joiners; existing
// connections are unaffected. Join attempts are denied with DenyNotJoinable.
func (s *Session) StopListening() { s.isListening = false }

// IsListening reports whether a hosting session currently accepts joiners.
func (s *Session) IsListening() bool { return s.isListening }

// Join allocates a provisional connection for addr, queues a reliable join
// request on it, and moves to Joining. The request rides the connection's
// normal reliable-retry cadence rather than a single fire-and-forget send,
// so a lost request or accept is redelivered well before JoinTimeout
// expires; the handshake completes (or fails) asynchronously as Tick
// processes the host's reply.
func (s *Session) Join(addr *net.UDPAddr, guid string) error {
	if s.state != SessionDisconnected {
		return netcoreerr.ErrNotDisconnectedState
	}
	s.pendingNuonce = s.rnd.Uint32()
	s.pendingGUID = guid
	s.joinElapsed = 0
	s.joinActive = true
	s.state = SessionJoining

	conn := NewConnection(0, addr, s.cfg)
	conn.GUID = guid
	s.connections[0] = conn
	s.addrIndex[addr.String()] = 0
	s.joinConn = conn

	payload := encodeJoinRequest(joinRequestPayload{Nuonce: s.pendingNuonce, GUID: guid})
	if err := conn.QueueMessage(s.dispatch.find(msgJoinRequest), payload); err != nil {
		logger.Warn("queue join request: %v", err)
	}
	return nil
}

// Leave notifies every connection and tears the session down to
// Disconnected.
func (s *Session) Leave() {
	if s.state != SessionConnected {
		return
	}
	def := s.dispatch.find(msgLeave)
	for i := range s.connections {
		c := s.connections[i]
		if c == nil {
			continue
		}
		if err := c.QueueMessage(def, nil); err != nil {
			logger.Warn("connection %d: queue leave notice: %v", c.Index, err)
		}
		for _, p := range c.BuildOutgoingPackets(time.Now()) {
			s.channel.SendTo(c.Addr, p.Bytes())
		}
		s.listener.OnConnectionLeave(c)
		s.connections[i] = nil
	}
	s.addrIndex = make(map[string]uint8)
	s.guidIndex = make(map[string]uint8)
	s.isHost = false
	s.isListening = false
	s.hostConn = nil
	s.state = SessionDisconnected
}

// Connections returns every currently admitted connection (nil slots
// omitted).
func (s *Session) Connections() []*Connection {
	out := make([]*Connection, 0, MaxConnections)
	for _, c := range s.connections {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// Connection looks up a connection by its table index.
func (s *Session) Connection(index uint8) *Connection {
	if int(index) >= MaxConnections {
		return nil
	}
	return s.connections[index]
}

// Ping queues a core liveness ping on c; the peer's core handler echoes it
// back as a pong automatically.
func (s *Session) Ping(c *Connection, payload []byte) {
	if err := c.QueueMessage(s.dispatch.find(msgPing), payload); err != nil {
		logger.Warn("connection %d: queue ping: %v", c.Index, err)
	}
}

// SendMessage queues typeID/payload for delivery on a specific connection.
func (s *Session) SendMessage(c *Connection, typeID uint8, payload []byte) error {
	def := s.dispatch.find(typeID)
	if def == nil {
		return fmt.Errorf("netcore: message id %d is not registered", typeID)
	}
	return c.QueueMessage(def, payload)
}

// Broadcast queues typeID/payload for delivery on every admitted
// connection.
func (s *Session) Broadcast(typeID uint8, payload []byte) error {
	def := s.dispatch.find(typeID)
	if def == nil {
		return fmt.Errorf("netcore: message id %d is not registered", typeID)
	}
	for _, c := range s.connections {
		if c == nil {
			continue
		}
		if err := c.QueueMessage(def, payload); err != nil {
			logger.Warn("connection %d: broadcast %q: %v", c.Index, def.DebugName, err)
		}
	}
	return nil
}

// Tick drains the socket, dispatches every decoded message, advances
// liveness timers, and flushes each connection's outgoing queue. dt is the
// elapsed wall time since the previous Tick.
func (s *Session) Tick(dt time.Duration) {
	if s.state == SessionJoining {
		s.joinElapsed += dt
		if s.joinElapsed >= s.cfg.JoinTimeout {
			s.joinActive = false
			s.state = SessionDisconnected
			if s.joinConn != nil {
				s.removeConnection(s.joinConn)
				s.joinConn = nil
			}
		}
	}

	if s.channel != nil {
		s.channel.DrainAll(s.onDatagram)
	}

	for i := range s.connections {
		c := s.connections[i]
		if c == nil {
			continue
		}
		c.Advance(dt)
		if c.ProtocolViolation {
			// Release-mode policy per the design notes: disconnect the
			// offender rather than kill the process (the debug-build
			// kill-path this replaces has no place in a long-running
			// session host).
			s.listener.OnConnectionLeave(c)
			s.removeConnection(c)
			continue
		}
		// A connection still carrying an in-flight join is governed by
		// joinElapsed/JoinTimeout above, not by the liveness thresholds
		// meant for already-established peers: the handshake hasn't had
		// its first ack round trip yet, so BadConnectionThreshold would
		// otherwise halt its join-request retries well before JoinTimeout
		// gives up on it.
		joining := s.state == SessionJoining && c == s.joinConn
		if !joining {
			if c.timeSinceRecv >= s.cfg.TimeoutThreshold {
				s.listener.OnConnectionTimedOut(c)
				s.removeConnection(c)
				continue
			}
			if !c.IsBad && c.timeSinceRecv >= s.cfg.BadConnectionThreshold {
				c.IsBad = true
				s.listener.OnConnectionBad(c)
			}
		}
		for _, p := range c.BuildOutgoingPackets(time.Now()) {
			s.channel.SendTo(c.Addr, p.Bytes())
		}
	}
}

func (s *Session) removeConnection(c *Connection) {
	s.connections[c.Index] = nil
	delete(s.addrIndex, c.Addr.String())
	delete(s.guidIndex, c.GUID)
	if s.hostConn == c {
		s.hostConn = nil
		s.state = SessionDisconnected
	}
}

func (s *Session) onDatagram(addr *net.UDPAddr, data []byte) {
	p := wire.NewPacketFromBytes(data, len(data))
	h, ok := p.ReadHeader()
	if !ok {
		return
	}
	if !p.ValidateLength(len(data)) {
		return
	}
	msgs, err := p.ReadMessages(s.dispatch)
	if err != nil {
		return
	}

	conn := s.connectionForAddr(addr)
	var delivered []wire.Message
	if conn != nil {
		delivered = conn.ReceivePacket(h, msgs)
	} else {
		for _, m := range msgs {
			def := s.dispatch.find(m.TypeID)
			if def == nil || !def.Flags.IsConnectionless() {
				continue
			}
			delivered = append(delivered, m)
		}
	}

	sender := &Sender{Connection: conn, Addr: addr, session: s}
	for i := range delivered {
		m := delivered[i]
		def := s.dispatch.find(m.TypeID)
		if def == nil || def.Handler == nil {
			continue
		}
		def.Handler(sender, &m)
	}
}

func (s *Session) connectionForAddr(addr *net.UDPAddr) *Connection {
	idx, ok := s.addrIndex[addr.String()]
	if !ok {
		return nil
	}
	return s.connections[idx]
}

func (s *Session) freeIndex() uint8 {
	for i := 0; i < MaxConnections; i++ {
		if s.connections[i] == nil {
			return uint8(i)
		}
	}
	return InvalidConnectionIndex
}

func (s *Session) allocateConnection(addr *net.UDPAddr, guid string) (*Connection, error) {
	count := 0
	for _, c := range s.connections {
		if c != nil {
			count++
		}
	}
	if count >= s.cfg.MaxAllowedConnections {
		return nil, netcoreerr.ErrSessionFull
	}
	idx := s.freeIndex()
	if idx == InvalidConnectionIndex {
		return nil, netcoreerr.ErrSessionFull
	}
	conn := NewConnection(idx, addr, s.cfg)
	conn.GUID = guid
	s.connections[idx] = conn
	s.addrIndex[addr.String()] = idx
	s.guidIndex[guid] = idx
	return conn, nil
}

func (s *Session) sendConnectionless(addr *net.UDPAddr, typeID uint8, payload []byte) {
	def := s.dispatch.find(typeID)
	if def == nil {
		return
	}
	p := wire.NewPacket()
	p.WriteHeader(wire.Header{PeerIndex: InvalidConnectionIndex})
	if err := p.WriteMessage(&wire.Message{TypeID: typeID, Flags: def.Flags, Payload: payload}); err != nil {
		logger.Error("connectionless send of %q to %s: %v", def.DebugName, addr, err)
		return
	}
	p.FinalizeHeader()
	s.channel.SendTo(addr, p.Bytes())
}

// sendTo routes a handler's reply either onto an established connection's
// queue or out as a raw connectionless packet, depending on whether sender
// already has a Connection.
func (s *Session) sendTo(sender *Sender, typeID uint8, payload []byte) {
	def := s.dispatch.find(typeID)
	if def == nil {
		return
	}
	if sender.Connection != nil {
		if err := sender.Connection.QueueMessage(def, payload); err != nil {
			logger.Warn("connection %d: reply %q: %v", sender.Connection.Index, def.DebugName, err)
		}
		return
	}
	s.sendConnectionless(sender.Addr, typeID, payload)
}

func (s *Session) handlePing(sender *Sender, msg *wire.Message) {
	sender.Reply(msgPong, msg.Payload)
}

func (s *Session) handlePong(sender *Sender, msg *wire.Message) {}

func (s *Session) handleJoinRequest(sender *Sender, msg *wire.Message) {
	req, ok := decodeJoinRequest(msg.Payload)
	if !ok {
		return
	}
	deny := func(reason DenyReason) {
		s.sendConnectionless(sender.Addr, msgJoinDeny, encodeJoinDeny(joinDenyPayload{Nuonce: req.Nuonce, Reason: reason}))
	}
	if !s.isHost || s.state != SessionConnected {
		deny(DenyNotHost)
		return
	}
	if !s.isListening {
		deny(DenyNotJoinable)
		return
	}
	if _, exists := s.guidIndex[req.GUID]; exists {
		deny(DenyGUIDTaken)
		return
	}
	conn, err := s.allocateConnection(sender.Addr, req.GUID)
	if err != nil {
		deny(DenyGameFull)
		return
	}
	// The request arrived before this connection existed (the first
	// contact from this address always does), so it never passed through
	// conn.ReceivePacket's own dedup. Seed the receive window with it
	// directly so a retransmit of the same request - sent because the
	// accept below gets lost - dedupes normally instead of re-running
	// this handler and spuriously denying the guid as already taken.
	conn.recvReliables.Accept(msg.ReliableID)
	accept := encodeJoinAccept(joinAcceptPayload{Nuonce: req.Nuonce, PeerIndex: conn.Index})
	if err := conn.QueueMessage(s.dispatch.find(msgJoinAccept), accept); err != nil {
		logger.Warn("connection %d: queue join accept: %v", conn.Index, err)
	}
	s.listener.OnConnectionJoined(conn)
}

// handleJoinAccept runs with sender.Connection already set to the
// provisional joinConn allocated by Join: the accept arrived as an
// ordinary reliable message on that connection, which is how its own
// earlier join request got confirmed. All that's left is re-indexing the
// connection from its placeholder slot 0 to the peer index the host
// actually assigned it.
func (s *Session) handleJoinAccept(sender *Sender, msg *wire.Message) {
	if s.state != SessionJoining || !s.joinActive || s.joinConn == nil {
		return
	}
	acc, ok := decodeJoinAccept(msg.Payload)
	if !ok || acc.Nuonce != s.pendingNuonce {
		return
	}
	conn := s.joinConn
	delete(s.addrIndex, conn.Addr.String())
	s.connections[conn.Index] = nil
	conn.Index = acc.PeerIndex
	conn.State = StateConfirmed
	s.connections[acc.PeerIndex] = conn
	s.addrIndex[sender.Addr.String()] = acc.PeerIndex
	s.hostConn = conn
	s.joinConn = nil
	s.joinActive = false
	s.state = SessionConnected
	s.listener.OnConnectionJoined(conn)
}

func (s *Session) handleJoinDeny(sender *Sender, msg *wire.Message) {
	if s.state != SessionJoining || !s.joinActive {
		return
	}
	deny, ok := decodeJoinDeny(msg.Payload)
	if !ok || deny.Nuonce != s.pendingNuonce {
		return
	}
	s.joinActive = false
	s.lastDenyReason = deny.Reason
	s.state = SessionDisconnected
	if s.joinConn != nil {
		s.removeConnection(s.joinConn)
		s.joinConn = nil
	}
}

func (s *Session) handleLeave(sender *Sender, msg *wire.Message) {
	if sender.Connection == nil {
		return
	}
	s.listener.OnConnectionLeave(sender.Connection)
	s.removeConnection(sender.Connection)
}
