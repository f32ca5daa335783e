// Package vault defines the Remote Vault client contract the Store
// uses during a pull operation, and an Azure Key Vault-shaped
// implementation built on azcore/azidentity.
package vault

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind distinguishes retryable transport failures from
// non-retryable auth denials.
type ErrorKind string

const (
	ErrTransport    ErrorKind = "Transport"
	ErrVaultForbidden ErrorKind = "Forbidden"
)

// Error is the error type returned by every Client.Fetch call.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("vault: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// AsError extracts a *Error from an error chain, if present.
func AsError(err error) (*Error, bool) {
	var ve *Error
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// Client reads named secrets from an external vault. Fetch is
// synchronous from the caller's perspective; implementations are free
// to use a non-blocking transport underneath. authToken is an identity
// token acquired out-of-band and treated as opaque.
type Client interface {
	Fetch(ctx context.Context, vaultName, secretName, authToken string) ([]byte, error)
}
