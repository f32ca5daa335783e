package envelope

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/azsecret/internal/apperrors"
	"github.com/Azure/azsecret/internal/keyservice"
	"github.com/Azure/azsecret/internal/record"
)

func newEnvelope(t *testing.T) *Envelope {
	t.Helper()
	sim, err := keyservice.NewLocalSimulator(nil)
	require.NoError(t, err)
	return New(sim)
}

func TestSealOpenRoundTrip(t *testing.T) {
	e := newEnvelope(t)
	ctx := context.Background()
	caller := record.CallerContext{UID: 1000, Principal: "alice"}

	rec, err := e.Seal(ctx, "db-password", caller, []byte("hunter2"))
	require.NoError(t, err)
	require.True(t, rec.Valid())

	plaintext, err := e.Open(ctx, "db-password", caller, rec)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(plaintext))
}

func TestOpenFailsForbiddenOnDifferentID(t *testing.T) {
	e := newEnvelope(t)
	ctx := context.Background()
	caller := record.CallerContext{Principal: "alice"}

	rec, err := e.Seal(ctx, "id-a", caller, []byte("secret"))
	require.NoError(t, err)

	// Mechanically move the record to a different id in the backend:
	// opening it under the new id must fail Forbidden, not decrypt.
	_, err = e.Open(ctx, "id-b", caller, rec)
	require.Error(t, err)
	ae, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeForbidden, ae.Code)
}

func TestOpenFailsForbiddenOnDifferentPrincipal(t *testing.T) {
	e := newEnvelope(t)
	ctx := context.Background()

	rec, err := e.Seal(ctx, "id-a", record.CallerContext{Principal: "alice"}, []byte("secret"))
	require.NoError(t, err)

	_, err = e.Open(ctx, "id-a", record.CallerContext{Principal: "bob"}, rec)
	require.Error(t, err)
	ae, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeForbidden, ae.Code)
}

func TestSealReusesKeyHandleAcrossWrites(t *testing.T) {
	e := newEnvelope(t)
	ctx := context.Background()
	caller := record.CallerContext{Principal: "alice"}

	rec1, err := e.Seal(ctx, "counter", caller, []byte("A"))
	require.NoError(t, err)
	rec2, err := e.Seal(ctx, "counter", caller, []byte("B"))
	require.NoError(t, err)

	assert.Equal(t, rec1.KeyHandle, rec2.KeyHandle)
}

func TestSealEmptyPlaintextIsValid(t *testing.T) {
	e := newEnvelope(t)
	ctx := context.Background()
	caller := record.CallerContext{Principal: "alice"}

	rec, err := e.Seal(ctx, "x", caller, []byte{})
	require.NoError(t, err)

	plaintext, err := e.Open(ctx, "x", caller, rec)
	require.NoError(t, err)
	assert.Equal(t, 0, len(plaintext))
}
