// Package boltkv implements the embedded_kv backend variant on top of
// go.etcd.io/bbolt, a B+tree-backed single-file key-value store.
// Naming follows the BoltStateDB convention used elsewhere in the
// corpus for a thin bbolt wrapper exposed as a domain-specific store.
package boltkv

import (
	"context"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"

	"github.com/Azure/azsecret/internal/backend"
	"github.com/Azure/azsecret/internal/record"
)

var secretsBucket = []byte("secrets")

// Backend is a bbolt-backed implementation of backend.Backend. All
// reads and writes go through bbolt's own MVCC transactions, which
// gives azsecret the serializable-writes / consistent-reads guarantee
// the contract requires without any additional locking in this
// package.
type Backend struct {
	db *bbolt.DB
}

// Open creates (or reopens) a bbolt database file under dir, named
// store.db, creating dir if needed.
func Open(dir string) (*Backend, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, &backend.Error{Kind: backend.ErrInitialization, Op: "mkdir", Err: err}
	}
	path := filepath.Join(dir, "store.db")
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, &backend.Error{Kind: backend.ErrInitialization, Op: "open", Err: err}
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(secretsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, &backend.Error{Kind: backend.ErrInitialization, Op: "create bucket", Err: err}
	}
	return &Backend{db: db}, nil
}

func (b *Backend) Write(_ context.Context, id record.ID, rec *record.Record) error {
	encoded, err := backend.Encode(rec)
	if err != nil {
		return &backend.Error{Kind: backend.ErrSerialization, Op: "encode", Err: err}
	}
	err = b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(secretsBucket).Put([]byte(id), encoded)
	})
	if err != nil {
		return &backend.Error{Kind: backend.ErrEngine, Op: "write", Err: err}
	}
	return nil
}

func (b *Backend) Read(_ context.Context, id record.ID) (*record.Record, error) {
	var encoded []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(secretsBucket).Get([]byte(id))
		if v != nil {
			encoded = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, &backend.Error{Kind: backend.ErrEngine, Op: "read", Err: err}
	}
	if encoded == nil {
		return nil, nil
	}
	rec, err := backend.Decode(encoded)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (b *Backend) Delete(_ context.Context, id record.ID) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(secretsBucket).Delete([]byte(id))
	})
	if err != nil {
		return &backend.Error{Kind: backend.ErrEngine, Op: "delete", Err: err}
	}
	return nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}
