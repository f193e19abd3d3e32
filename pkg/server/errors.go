package server

import (
	"errors"
	"fmt"

	"github.com/vango-dev/netsync/pkg/protocol"
)

// Sentinel errors for connection and manager operations.
var (
	// ErrPeerNotFound is returned when a peer has no live connection.
	ErrPeerNotFound = errors.New("server: peer not found")

	// ErrInvariantViolation marks a broken internal contract, such as the
	// updates channel not returning a MessageID. It is not recoverable; the
	// host should stop.
	ErrInvariantViolation = errors.New("server: invariant violation")
)

// ConnectionError wraps an error with the peer and operation that failed.
type ConnectionError struct {
	Peer protocol.PeerID
	Op   string // Operation that failed
	Err  error  // Underlying error
}

// Error returns the error message with peer context.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("server: peer %s: %s: %v", e.Peer, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// NewConnectionError creates a new ConnectionError.
func NewConnectionError(peer protocol.PeerID, op string, err error) *ConnectionError {
	return &ConnectionError{Peer: peer, Op: op, Err: err}
}

// TransportError is a failure reported by the channel transport while
// buffering or decoding. It aborts the current connection operation.
type TransportError struct {
	Peer    protocol.PeerID
	Channel string // Channel name, or "unknown"
	Op      string
	Err     error
}

// Error returns the error message.
func (e *TransportError) Error() string {
	if e.Channel == "" {
		return fmt.Sprintf("server: transport: peer %s: %s: %v", e.Peer, e.Op, e.Err)
	}
	return fmt.Sprintf("server: transport: peer %s: %s on channel %s: %v", e.Peer, e.Op, e.Channel, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}
