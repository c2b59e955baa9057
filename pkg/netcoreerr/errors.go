// Package netcoreerr classifies the four error families the networking
// core distinguishes: protocol violations, transient I/O, capacity limits,
// and lifecycle misuse.
package netcoreerr

import (
	"errors"
	"net"

	pkgerrors "github.com/pkg/errors"
)

// Sentinel errors for the protocol-violation family: the peer misbehaved.
// Policy is to drop the offending packet/message silently; these are
// returned so callers can log or (eventually) disconnect the offender.
var (
	ErrPacketLengthMismatch = errors.New("netcore: packet length validation failed")
	ErrUnknownMessageType   = errors.New("netcore: unknown message type id")
	ErrReliableOutOfWindow  = errors.New("netcore: reliable id beyond sliding window")
	ErrMessageCorrupt       = errors.New("netcore: message stream corrupt")
)

// Sentinel errors for the capacity family: pool/packet/buffer exhaustion.
var (
	ErrReliablePoolExhausted = errors.New("netcore: reliable pool exhausted")
	ErrMessageTooLarge       = errors.New("netcore: message too large for buffer")
	ErrPacketFull            = errors.New("netcore: packet full")
)

// Sentinel errors for the lifecycle family: session API misuse.
var (
	ErrNotInvalidState     = errors.New("netcore: register_message/start called outside Invalid state")
	ErrNotDisconnectedState = errors.New("netcore: host/join called outside Disconnected state")
	ErrSessionFull         = errors.New("netcore: connection table at capacity")
)

// BindFailure and SocketError are the two named failure modes of binding
// and using a UDP packet channel.
type BindFailure struct {
	Preferred int
	RangeSize int
	Cause     error
}

func (e *BindFailure) Error() string {
	return pkgerrors.Wrapf(e.Cause, "netcore: failed to bind UDP socket scanning %d ports from %d", e.RangeSize, e.Preferred).Error()
}
func (e *BindFailure) Unwrap() error { return e.Cause }

type SocketError struct {
	Cause error
}

func (e *SocketError) Error() string { return pkgerrors.Wrap(e.Cause, "netcore: socket error").Error() }
func (e *SocketError) Unwrap() error { return e.Cause }

// IsTransient classifies a net error as a non-fatal, suppressible I/O
// hiccup (would-block, timeout) versus one that should close the socket
// and mark the connection broken.
func IsTransient(err error) bool {
	if err == nil {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// Wrap annotates err with msg using github.com/pkg/errors, preserving the
// original cause for errors.Is/As at every I/O boundary that needs a
// traceback-carrying wrap rather than a bare sentinel.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(err, msg)
}
