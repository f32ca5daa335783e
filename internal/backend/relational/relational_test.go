package relational

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/azsecret/internal/backend"
	"github.com/Azure/azsecret/internal/record"
)

func newMockBackend(t *testing.T) (*Backend, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS azsecret_records").WillReturnResult(sqlmock.NewResult(0, 0))

	b, err := OpenWithDB(db, "postgres")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	return b, mock
}

func TestWriteUpsertsRecord(t *testing.T) {
	b, mock := newMockBackend(t)
	ctx := context.Background()

	rec := &record.Record{Ciphertext: []byte("c"), IV: []byte("i"), AAD: []byte("a"), KeyHandle: "h"}
	mock.ExpectExec("INSERT INTO azsecret_records").
		WithArgs("db-password", rec.Ciphertext, rec.IV, rec.AAD, rec.KeyHandle).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, b.Write(ctx, "db-password", rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReadMissingReturnsNilNil(t *testing.T) {
	b, mock := newMockBackend(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT ciphertext, iv, aad, key_handle").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"ciphertext", "iv", "aad", "key_handle"}))

	got, err := b.Read(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReadReturnsRecord(t *testing.T) {
	b, mock := newMockBackend(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"ciphertext", "iv", "aad", "key_handle"}).
		AddRow([]byte("c"), []byte("i"), []byte("a"), "h1")
	mock.ExpectQuery("SELECT ciphertext, iv, aad, key_handle").
		WithArgs("x").
		WillReturnRows(rows)

	got, err := b.Read(ctx, "x")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "h1", got.KeyHandle)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteIsIdempotent(t *testing.T) {
	b, mock := newMockBackend(t)
	ctx := context.Background()

	mock.ExpectExec("DELETE FROM azsecret_records").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, b.Delete(ctx, "missing"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEngineErrorIsWrapped(t *testing.T) {
	b, mock := newMockBackend(t)
	ctx := context.Background()

	mock.ExpectExec("DELETE FROM azsecret_records").
		WithArgs("x").
		WillReturnError(assert.AnError)

	err := b.Delete(ctx, "x")
	require.Error(t, err)
	be, ok := backend.AsError(err)
	require.True(t, ok)
	assert.Equal(t, backend.ErrEngine, be.Kind)
}
