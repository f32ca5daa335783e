package keyservice

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
)

// LocalSimulator is an in-process stand-in for a live Key Service. It
// derives a per-handle AES-256 key with HKDF-SHA256 from a process-
// local root secret, grounded on the teacher's DeriveKey/Encrypt
// pattern. It is suitable for development and tests only: restarting
// the process changes the handle->id mapping's root secret by default
// unless callers pass a fixed root to NewLocalSimulator.
type LocalSimulator struct {
	mu         sync.Mutex
	rootSecret []byte
	handles    map[string]string // id -> handle
	nextSeq    int
}

// NewLocalSimulator creates a simulator rooted at rootSecret (exactly
// 32 bytes) or, if nil, a freshly generated random secret.
func NewLocalSimulator(rootSecret []byte) (*LocalSimulator, error) {
	if rootSecret == nil {
		rootSecret = make([]byte, 32)
		if _, err := rand.Read(rootSecret); err != nil {
			return nil, &Error{Kind: ErrKeyUnavailable, Op: "new_local_simulator", Err: err}
		}
	}
	if len(rootSecret) != 32 {
		return nil, &Error{Kind: ErrKeyUnavailable, Op: "new_local_simulator", Err: fmt.Errorf("root secret must be 32 bytes, got %d", len(rootSecret))}
	}
	return &LocalSimulator{
		rootSecret: rootSecret,
		handles:    make(map[string]string),
	}, nil
}

// GetOrCreateKey is idempotent per id: concurrent callers for the same
// id observe the same handle once both return.
func (s *LocalSimulator) GetOrCreateKey(_ context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if handle, ok := s.handles[id]; ok {
		return handle, nil
	}
	s.nextSeq++
	handle := fmt.Sprintf("sim-%d-%s", s.nextSeq, id)
	s.handles[id] = handle
	return handle, nil
}

func (s *LocalSimulator) Encrypt(_ context.Context, handle string, plaintext, aad []byte) ([]byte, []byte, error) {
	aead, err := s.aeadForHandle(handle)
	if err != nil {
		return nil, nil, err
	}
	iv := make([]byte, aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, &Error{Kind: ErrKeyUnavailable, Op: "encrypt", Err: err}
	}
	ciphertext := aead.Seal(nil, iv, plaintext, aad)
	return ciphertext, iv, nil
}

func (s *LocalSimulator) Decrypt(_ context.Context, handle string, ciphertext, iv, aad []byte) ([]byte, error) {
	aead, err := s.aeadForHandle(handle)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, iv, ciphertext, aad)
	if err != nil {
		return nil, &Error{Kind: ErrCryptoFailure, Op: "decrypt", Err: err}
	}
	return plaintext, nil
}

func (s *LocalSimulator) aeadForHandle(handle string) (cipher.AEAD, error) {
	key, err := s.deriveKey(handle)
	if err != nil {
		return nil, &Error{Kind: ErrKeyUnavailable, Op: "derive_key", Err: err}
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &Error{Kind: ErrKeyUnavailable, Op: "new_cipher", Err: err}
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, &Error{Kind: ErrKeyUnavailable, Op: "new_gcm", Err: err}
	}
	return aead, nil
}

func (s *LocalSimulator) deriveKey(handle string) ([]byte, error) {
	reader := hkdf.New(sha256.New, s.rootSecret, []byte(handle), []byte("azsecret-key-handle"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}
