// Package backend defines the durable key->record contract shared by
// every storage engine azsecret can be configured with, and the error
// taxonomy a backend reports to the Store. Names are taken from the
// original Rust RocksDB backend's error enum: Initialization, Engine,
// Serialization, Deserialization, RawData.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azsecret/internal/record"
)

// Kind selects which concrete Backend implementation a daemon
// configuration wires up.
type Kind string

const (
	KindEmbeddedKV Kind = "embedded_kv"
	KindRelational Kind = "relational"
)

// ErrorKind names one of the five stable backend failure classes.
type ErrorKind string

const (
	ErrInitialization ErrorKind = "Initialization"
	ErrEngine         ErrorKind = "Engine"
	ErrSerialization  ErrorKind = "Serialization"
	ErrDeserialization ErrorKind = "Deserialization"
	ErrRawData        ErrorKind = "RawData"
)

// Error is the error type every Backend implementation returns.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backend: %s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("backend: %s: %s", e.Kind, e.Op)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// AsError extracts a *Error from an error chain, if present.
func AsError(err error) (*Error, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// Backend is the durable key->record mapping every storage engine
// implements. Write durability and the serializability-with-self
// guarantee described in spec §4.1 are the implementation's
// responsibility; Store layers the cross-id lease table on top.
type Backend interface {
	// Write persists record under id, replacing any prior value
	// atomically from the caller's point of view. Partial writes must
	// never be observable by concurrent readers.
	Write(ctx context.Context, id record.ID, rec *record.Record) error

	// Read returns the current record for id, or (nil, nil) if no
	// record exists.
	Read(ctx context.Context, id record.ID) (*record.Record, error)

	// Delete removes the record for id if present. Deleting a
	// non-existent id is not an error.
	Delete(ctx context.Context, id record.ID) error

	// Close releases resources held by the backend.
	Close() error
}
