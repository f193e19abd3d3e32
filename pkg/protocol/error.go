package protocol

import (
	"errors"
	"fmt"
)

// Decoding errors.
var (
	ErrVarintOverflow     = errors.New("protocol: varint overflow")
	ErrAllocationTooLarge = errors.New("protocol: allocation size exceeds limit")
	ErrCollectionTooLarge = errors.New("protocol: collection count exceeds limit")
	ErrInvalidEnvelope    = errors.New("protocol: invalid envelope kind")
	ErrInvalidPacketType  = errors.New("protocol: invalid packet type")
	ErrInvalidTarget      = errors.New("protocol: invalid network target")
)

// Registry errors.
var (
	ErrUnknownMessageKind   = errors.New("protocol: unknown message kind")
	ErrUnknownComponentKind = errors.New("protocol: unknown component kind")
	ErrNoInputCodec         = errors.New("protocol: no input codec registered")
	ErrDuplicateKind        = errors.New("protocol: kind already registered")
)

// DecodeError records which part of an envelope failed to decode.
type DecodeError struct {
	Op  string
	Err error
}

// Error returns the error message.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("protocol: decode %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &DecodeError{Op: op, Err: err}
}
