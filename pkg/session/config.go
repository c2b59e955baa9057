package session

import "time"

// Core configuration limits.
const (
	MaxConnections      = 64
	MaxProtocolDefns    = 256
	MaxAckBundles       = 128
	ReliableRangeRadius = 1000

	// InvalidConnectionIndex marks a sender not (yet) in the connection
	// table, e.g. connectionless traffic before a join completes.
	InvalidConnectionIndex uint8 = 0xFF

	// FirstUserMessageID is the first type-id available to a caller's own
	// message definitions; ids below it are reserved for the core
	// handshake/liveness protocol.
	FirstUserMessageID uint8 = 16
)

// Config bundles the tunables a caller may override when starting a
// Session, in the teacher's plain-constructor-arguments style rather than
// a generic functional-options builder.
type Config struct {
	PreferredPort int
	PortScanRange int

	TickRate time.Duration // default 1/20s

	// HeartbeatInterval trades overhead for responsiveness; any value in
	// roughly [1s, 5s] preserves correctness, only overhead varies. Fixed
	// here at 2s.
	HeartbeatInterval time.Duration

	// ReliableRetryInterval is how long an unconfirmed reliable waits
	// before it is considered starved and eligible for retransmission.
	ReliableRetryInterval time.Duration

	// BadConnectionThreshold / TimeoutThreshold are the liveness cutoffs
	// of connection liveness.
	BadConnectionThreshold time.Duration
	TimeoutThreshold       time.Duration

	// JoinTimeout is the wall-clock limit on the Joining sub-state.
	JoinTimeout time.Duration

	MaxAllowedConnections int

	// NuonceSeed drives the deterministic PRNG that generates join
	// nuonces from a deterministic PRNG rather than OS randomness, so
	// runs are reproducible in tests. Defaults to the current time if zero.
	NuonceSeed int64

	SimulatedLossPercent Interval
	SimulatedLagMs       Interval
}

// Interval re-exports netchan.Interval's shape to keep session's public
// API free of an import most callers configuring a Session don't need to
// know about directly.
type Interval struct {
	Min float64
	Max float64
}

// DefaultConfig returns sane defaults: 20Hz ticking, a 2s heartbeat
// gap, 200ms reliable retry, 5s/15s bad/timeout thresholds, 15s join
// timeout, and the full MaxConnections allowance.
func DefaultConfig() Config {
	return Config{
		PreferredPort:          4334,
		PortScanRange:          8,
		TickRate:               50 * time.Millisecond,
		HeartbeatInterval:      2 * time.Second,
		ReliableRetryInterval:  200 * time.Millisecond,
		BadConnectionThreshold: 5 * time.Second,
		TimeoutThreshold:       15 * time.Second,
		JoinTimeout:            15 * time.Second,
		MaxAllowedConnections:  MaxConnections,
	}
}
