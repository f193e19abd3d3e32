package capture

import (
	"context"
	"errors"
)

// ErrInvalidKey is returned when an object key is empty or escapes the
// store's root.
var ErrInvalidKey = errors.New("capture: invalid key")

// Object is one finished capture.
type Object struct {
	Body        []byte
	ContentType string
	Metadata    map[string]string
}

// Store persists finished captures. Implementations must be safe for
// concurrent use.
type Store interface {
	Put(ctx context.Context, key string, obj Object) error
}
