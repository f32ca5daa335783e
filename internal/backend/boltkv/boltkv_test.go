package boltkv

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.etcd.io/bbolt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/azsecret/internal/authz"
	"github.com/Azure/azsecret/internal/backend"
	"github.com/Azure/azsecret/internal/envelope"
	"github.com/Azure/azsecret/internal/keyservice"
	"github.com/Azure/azsecret/internal/record"
	"github.com/Azure/azsecret/internal/store"
	"github.com/Azure/azsecret/internal/vault"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, _ := newTestBackendWithDir(t)
	return b
}

func newTestBackendWithDir(t *testing.T) (*Backend, string) {
	t.Helper()
	dir, err := os.MkdirTemp("", "azsecret-boltkv-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	b, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b, dir
}

func TestWriteReadDelete(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	got, err := b.Read(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	rec := &record.Record{
		Ciphertext: []byte("ct"),
		IV:         []byte("iv"),
		AAD:        []byte("aad"),
		KeyHandle:  "h1",
	}
	require.NoError(t, b.Write(ctx, "db-password", rec))

	got, err = b.Read(ctx, "db-password")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.Ciphertext, got.Ciphertext)
	assert.Equal(t, rec.KeyHandle, got.KeyHandle)

	require.NoError(t, b.Delete(ctx, "db-password"))
	got, err = b.Read(ctx, "db-password")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Deleting an already-absent id is not an error.
	require.NoError(t, b.Delete(ctx, "db-password"))
}

func TestWriteReplacesAtomically(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	first := &record.Record{Ciphertext: []byte("v1"), IV: []byte("i"), AAD: []byte("a"), KeyHandle: "h"}
	second := &record.Record{Ciphertext: []byte("v2"), IV: []byte("i"), AAD: []byte("a"), KeyHandle: "h"}

	require.NoError(t, b.Write(ctx, "x", first))
	require.NoError(t, b.Write(ctx, "x", second))

	got, err := b.Read(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, second.Ciphertext, got.Ciphertext)
}

func TestIsolationAcrossIDs(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	recI := &record.Record{Ciphertext: []byte("I"), IV: []byte("i"), AAD: []byte("a"), KeyHandle: "h"}
	recJ := &record.Record{Ciphertext: []byte("J"), IV: []byte("i"), AAD: []byte("a"), KeyHandle: "h"}
	require.NoError(t, b.Write(ctx, "I", recI))
	require.NoError(t, b.Write(ctx, "J", recJ))

	require.NoError(t, b.Delete(ctx, "I"))

	got, err := b.Read(ctx, "J")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, recJ.Ciphertext, got.Ciphertext)
}

func TestReadCorruptBytesIsRawData(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(secretsBucket).Put([]byte("bad"), []byte{0, 0, 0, 1})
	})
	require.NoError(t, err)

	_, err = b.Read(ctx, "bad")
	require.Error(t, err)
	be, ok := backend.AsError(err)
	require.True(t, ok)
	assert.Equal(t, backend.ErrRawData, be.Kind)
}

// TestP10PlaintextNeverOnDisk exercises spec §8's P10: a secret set
// through the full Store (Envelope + Key Service simulator + this
// backend) must never appear in cleartext in the backing file; the
// check looks for the full plaintext string.
func TestP10PlaintextNeverOnDisk(t *testing.T) {
	b, dir := newTestBackendWithDir(t)

	sim, err := keyservice.NewLocalSimulator(nil)
	require.NoError(t, err)
	env := envelope.New(sim)
	policy := authz.NewPolicy([]authz.Rule{
		{PrincipalMatch: "*", Allow: []record.Operation{record.OpSet}, IDPattern: "*"},
	})
	st := store.New(b, env, policy, &vault.StaticClient{})

	const plaintext = "correct-horse-battery-staple-9f3a"
	caller := record.CallerContext{Principal: "alice"}
	require.NoError(t, st.Set(context.Background(), caller, "db-password", []byte(plaintext)))

	// Force bbolt to flush to the underlying file before inspecting it.
	require.NoError(t, b.db.Sync())

	raw, err := os.ReadFile(filepath.Join(dir, "store.db"))
	require.NoError(t, err)
	assert.False(t, bytes.Contains(raw, []byte(plaintext)), "plaintext must never appear on disk")
}
