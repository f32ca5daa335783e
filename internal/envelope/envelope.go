// Package envelope turns a cleartext secret into a durable Record and
// back, without ever holding a raw key itself: every AEAD operation is
// delegated to a keyservice.Client. The AAD computation here is
// grounded on the teacher's envelopeAAD helper (info + 0x00 + subject
// framing), adapted to bind (id, principal) instead of (subject,
// info).
package envelope

import (
	"context"
	"crypto/sha256"

	"github.com/Azure/azsecret/internal/apperrors"
	"github.com/Azure/azsecret/internal/keyservice"
	"github.com/Azure/azsecret/internal/record"
)

// Envelope seals/opens Records using a Key Service client.
type Envelope struct {
	keys keyservice.Client
}

func New(keys keyservice.Client) *Envelope {
	return &Envelope{keys: keys}
}

// aad deterministically derives the Associated Authenticated Data for
// (id, principal): sha256(id) || 0x00 || sha256(principal). Hashing
// both fields keeps the persisted AAD a fixed, non-identifying size
// regardless of how long the id or principal name is.
func aad(id record.ID, principal string) []byte {
	idHash := sha256.Sum256([]byte(id))
	principalHash := sha256.Sum256([]byte(principal))
	out := make([]byte, 0, len(idHash)+1+len(principalHash))
	out = append(out, idHash[:]...)
	out = append(out, 0)
	out = append(out, principalHash[:]...)
	return out
}

// Seal obtains (creating if absent) the key handle for id, computes
// the AAD from (id, caller.Principal), and delegates encryption to the
// Key Service.
func (e *Envelope) Seal(ctx context.Context, id record.ID, caller record.CallerContext, plaintext []byte) (*record.Record, error) {
	handle, err := e.keys.GetOrCreateKey(ctx, id)
	if err != nil {
		return nil, translateKeyServiceErr(err)
	}

	a := aad(id, caller.Principal)
	ciphertext, iv, err := e.keys.Encrypt(ctx, handle, plaintext, a)
	if err != nil {
		return nil, translateKeyServiceErr(err)
	}

	return &record.Record{
		Ciphertext: ciphertext,
		IV:         iv,
		AAD:        a,
		KeyHandle:  handle,
	}, nil
}

// Open recomputes the expected AAD from (id, caller.Principal). If it
// does not match the record's stored AAD, Open fails Forbidden without
// ever calling the Key Service — this is what enforces invariant I4.
func (e *Envelope) Open(ctx context.Context, id record.ID, caller record.CallerContext, rec *record.Record) ([]byte, error) {
	expected := aad(id, caller.Principal)
	if !constantTimeEqual(expected, rec.AAD) {
		return nil, apperrors.Forbidden("associated data does not match caller/id binding")
	}

	plaintext, err := e.keys.Decrypt(ctx, rec.KeyHandle, rec.Ciphertext, rec.IV, rec.AAD)
	if err != nil {
		return nil, translateKeyServiceErr(err)
	}
	return plaintext, nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}

func translateKeyServiceErr(err error) error {
	if ke, ok := keyservice.AsError(err); ok {
		switch ke.Kind {
		case keyservice.ErrCryptoFailure:
			return apperrors.CryptoFailure("key service reported an AEAD failure", err)
		case keyservice.ErrKeyUnavailable:
			return apperrors.Upstream("key service", err)
		}
	}
	return apperrors.Internal("key service call failed", err)
}
