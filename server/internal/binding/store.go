package binding

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Errors
var (
	ErrNotFound        = errors.New("identity not bound")
	ErrUnavailable     = errors.New("binding store unavailable")
	ErrInvalidIdentity = errors.New("invalid identity")
)

// Store is the identity binding store.
type Store interface {
	// Bind stores or overwrites the connection id for identity.
	Bind(ctx context.Context, identity, connID string) error

	// Resolve returns the connection id currently bound to identity.
	Resolve(ctx context.Context, identity string) (string, error)

	// Unbind removes the binding for identity. Removing an absent binding is not an error.
	Unbind(ctx context.Context, identity string) error
}

// ValidateIdentity rejects identities that cannot be stored as keys.
func ValidateIdentity(identity string) error {
	if strings.TrimSpace(identity) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidIdentity)
	}
	if len(identity) > 256 {
		return fmt.Errorf("%w: longer than 256 bytes", ErrInvalidIdentity)
	}
	return nil
}

// unavailable wraps a backend error so callers can match ErrUnavailable
// while the cause stays inspectable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
