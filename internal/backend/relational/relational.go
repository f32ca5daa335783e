// Package relational implements the relational backend variant: a
// single table keyed by secret id with (ciphertext, iv, aad,
// key_handle) columns, initialized idempotently on Open. Grounded on
// the teacher's postgres secrets store (query shapes, context-aware
// database/sql usage) generalized from an account-scoped table to a
// bare id-keyed one.
package relational

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/Azure/azsecret/internal/backend"
	"github.com/Azure/azsecret/internal/record"
)

const schema = `
CREATE TABLE IF NOT EXISTS azsecret_records (
	id         TEXT PRIMARY KEY,
	ciphertext BYTEA NOT NULL,
	iv         BYTEA NOT NULL,
	aad        BYTEA NOT NULL,
	key_handle TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Backend is a database/sql-backed implementation of backend.Backend.
type Backend struct {
	db *sqlx.DB
}

// Open connects to a Postgres-compatible database at dsn and creates
// the records table if it does not already exist.
func Open(dsn string) (*Backend, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, &backend.Error{Kind: backend.ErrInitialization, Op: "connect", Err: err}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, &backend.Error{Kind: backend.ErrInitialization, Op: "create schema", Err: err}
	}
	return &Backend{db: db}, nil
}

// OpenWithDB wraps an already-open handle, used by tests with
// sqlmock; it still runs the idempotent schema creation.
func OpenWithDB(db *sql.DB, driverName string) (*Backend, error) {
	sdb := sqlx.NewDb(db, driverName)
	if _, err := sdb.Exec(schema); err != nil {
		return nil, &backend.Error{Kind: backend.ErrInitialization, Op: "create schema", Err: err}
	}
	return &Backend{db: sdb}, nil
}

type row struct {
	Ciphertext []byte `db:"ciphertext"`
	IV         []byte `db:"iv"`
	AAD        []byte `db:"aad"`
	KeyHandle  string `db:"key_handle"`
}

func (b *Backend) Write(ctx context.Context, id record.ID, rec *record.Record) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO azsecret_records (id, ciphertext, iv, aad, key_handle, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET
			ciphertext = EXCLUDED.ciphertext,
			iv = EXCLUDED.iv,
			aad = EXCLUDED.aad,
			key_handle = EXCLUDED.key_handle,
			updated_at = now()
	`, id, rec.Ciphertext, rec.IV, rec.AAD, rec.KeyHandle)
	if err != nil {
		return &backend.Error{Kind: backend.ErrEngine, Op: "write", Err: err}
	}
	return nil
}

func (b *Backend) Read(ctx context.Context, id record.ID) (*record.Record, error) {
	var r row
	err := b.db.GetContext(ctx, &r, `
		SELECT ciphertext, iv, aad, key_handle
		FROM azsecret_records
		WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, &backend.Error{Kind: backend.ErrEngine, Op: "read", Err: err}
	}
	rec := &record.Record{
		Ciphertext: r.Ciphertext,
		IV:         r.IV,
		AAD:        r.AAD,
		KeyHandle:  r.KeyHandle,
	}
	if !rec.Valid() {
		return nil, &backend.Error{Kind: backend.ErrRawData, Op: "read", Err: fmt.Errorf("row missing required column")}
	}
	return rec, nil
}

func (b *Backend) Delete(ctx context.Context, id record.ID) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM azsecret_records WHERE id = $1`, id)
	if err != nil {
		return &backend.Error{Kind: backend.ErrEngine, Op: "delete", Err: err}
	}
	return nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}
