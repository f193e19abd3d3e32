package transport

import "errors"

// Sentinel errors for the transport package.
var (
	// ErrUnknownChannel is returned when a channel kind is not registered.
	ErrUnknownChannel = errors.New("transport: unknown channel")

	// ErrDuplicateChannel is returned when a channel name is registered twice.
	ErrDuplicateChannel = errors.New("transport: channel already registered")

	// ErrMessageTooLarge is returned when a message cannot fit in one packet.
	ErrMessageTooLarge = errors.New("transport: message exceeds packet size")
)
