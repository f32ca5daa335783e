// Package store implements the Store (C6): orchestration of the
// Backend, Envelope, Authorizer and Remote Vault for each of
// {get, set, delete, pull}, owning the at-most-one-writer-per-id
// invariant.
package store

import (
	"context"
	"fmt"

	"github.com/Azure/azsecret/internal/apperrors"
	"github.com/Azure/azsecret/internal/authz"
	"github.com/Azure/azsecret/internal/backend"
	"github.com/Azure/azsecret/internal/envelope"
	"github.com/Azure/azsecret/internal/record"
	"github.com/Azure/azsecret/internal/vault"
)

// DefaultMaxSecretBytes is the default plaintext size cap (spec §4.5).
const DefaultMaxSecretBytes = 64 * 1024

// Store is the single entry point request handling invokes for every
// secret operation.
type Store struct {
	backend  backend.Backend
	envelope *envelope.Envelope
	policy   *authz.Policy
	vault    vault.Client
	leases   *leaseTable

	maxSecretBytes int
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithMaxSecretBytes overrides the default plaintext size cap.
func WithMaxSecretBytes(n int) Option {
	return func(s *Store) { s.maxSecretBytes = n }
}

func New(be backend.Backend, env *envelope.Envelope, policy *authz.Policy, vaultClient vault.Client, opts ...Option) *Store {
	s := &Store{
		backend:        be,
		envelope:       env,
		policy:         policy,
		vault:          vaultClient,
		leases:         newLeaseTable(),
		maxSecretBytes: DefaultMaxSecretBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get authorizes, reads, and opens the record for id. Gets never
// acquire the per-id write lease.
func (s *Store) Get(ctx context.Context, caller record.CallerContext, id record.ID) ([]byte, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if !s.policy.Authorize(caller.Principal, record.OpGet, id) {
		return nil, apperrors.Forbidden("caller is not authorized for get on this id")
	}

	rec, err := s.readRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apperrors.NotFound(id)
	}

	plaintext, err := s.envelope.Open(ctx, id, caller, rec)
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

// Set authorizes, then seals and writes plaintext under id, holding
// the per-id write lease for the duration.
func (s *Store) Set(ctx context.Context, caller record.CallerContext, id record.ID, plaintext []byte) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := s.validateSize(plaintext); err != nil {
		return err
	}
	if !s.policy.Authorize(caller.Principal, record.OpSet, id) {
		return apperrors.Forbidden("caller is not authorized for set on this id")
	}

	release := s.leases.acquire(id)
	defer release()

	return s.sealAndWrite(ctx, caller, id, plaintext)
}

// Delete authorizes, then removes the record for id, holding the
// per-id write lease for the duration. Deleting an absent id is not an
// error.
func (s *Store) Delete(ctx context.Context, caller record.CallerContext, id record.ID) error {
	if err := validateID(id); err != nil {
		return err
	}
	if !s.policy.Authorize(caller.Principal, record.OpDelete, id) {
		return apperrors.Forbidden("caller is not authorized for delete on this id")
	}

	release := s.leases.acquire(id)
	defer release()

	if err := s.backend.Delete(ctx, id); err != nil {
		return translateBackendErr(err)
	}
	return nil
}

// Pull authorizes, fetches plaintext from the remote vault, then seals
// and writes it under id exactly as Set does — the plaintext source is
// the only difference (spec §4.5).
func (s *Store) Pull(ctx context.Context, caller record.CallerContext, id record.ID, vaultName, authToken string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if !s.policy.Authorize(caller.Principal, record.OpPull, id) {
		return apperrors.Forbidden("caller is not authorized for pull on this id")
	}

	release := s.leases.acquire(id)
	defer release()

	plaintext, err := s.vault.Fetch(ctx, vaultName, id, authToken)
	if err != nil {
		return translateVaultErr(err)
	}
	if err := s.validateSize(plaintext); err != nil {
		return err
	}

	return s.sealAndWrite(ctx, caller, id, plaintext)
}

// sealAndWrite implements the shared tail of Set and Pull: if sealing
// fails, no backend mutation occurs and any pre-existing record is
// preserved (I2); if the backend write fails after sealing succeeded,
// a new key handle may already exist in the Key Service with no
// matching record — acceptable leakage per spec §9, not treated as
// data loss.
func (s *Store) sealAndWrite(ctx context.Context, caller record.CallerContext, id record.ID, plaintext []byte) error {
	rec, err := s.envelope.Seal(ctx, id, caller, plaintext)
	if err != nil {
		return err
	}
	if err := s.backend.Write(ctx, id, rec); err != nil {
		return translateBackendErr(err)
	}
	return nil
}

func (s *Store) readRecord(ctx context.Context, id record.ID) (*record.Record, error) {
	rec, err := s.backend.Read(ctx, id)
	if err != nil {
		return nil, translateBackendErr(err)
	}
	return rec, nil
}

func validateID(id record.ID) error {
	if id == "" {
		return apperrors.BadRequest("secret id must not be empty")
	}
	return nil
}

func (s *Store) validateSize(plaintext []byte) error {
	limit := s.maxSecretBytes
	if limit <= 0 {
		limit = DefaultMaxSecretBytes
	}
	if len(plaintext) > limit {
		return apperrors.BadRequest(fmt.Sprintf("plaintext exceeds maximum size of %d bytes", limit))
	}
	return nil
}

func translateBackendErr(err error) error {
	if be, ok := backend.AsError(err); ok {
		switch be.Kind {
		case backend.ErrRawData, backend.ErrDeserialization:
			return apperrors.CorruptData("backend record is not decodable", err)
		default:
			return apperrors.Backend(string(be.Kind), err)
		}
	}
	return apperrors.Backend("unknown", err)
}

func translateVaultErr(err error) error {
	if ve, ok := vault.AsError(err); ok {
		switch ve.Kind {
		case vault.ErrVaultForbidden:
			return apperrors.Forbidden("remote vault denied access")
		default:
			return apperrors.Upstream("vault", err)
		}
	}
	return apperrors.Upstream("vault", err)
}
