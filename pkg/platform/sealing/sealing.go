// Package sealing encrypts per-tenant secrets at rest. Each tenant gets its
// own AES-256-GCM key derived from a master key with HKDF-SHA256, and the
// tenant id is bound as additional data so a sealed value copied into another
// tenant's row does not open.
package sealing

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	keyVersionV1 byte = 1
	keySize           = 32
	minMasterKey      = 32
)

var hkdfSalt = []byte("tempo/connected-apps")

// ErrMalformed is returned for sealed values that cannot be opened.
var ErrMalformed = errors.New("sealed value is malformed")

// Sealer seals and opens values for a scope (the tenant id).
type Sealer struct {
	master []byte
}

// New builds a Sealer from a master key of at least 32 bytes.
func New(masterKey []byte) (*Sealer, error) {
	if len(masterKey) < minMasterKey {
		return nil, fmt.Errorf("master key must be at least %d bytes", minMasterKey)
	}
	master := make([]byte, len(masterKey))
	copy(master, masterKey)
	return &Sealer{master: master}, nil
}

func (s *Sealer) aead(scope string) (cipher.AEAD, error) {
	reader := hkdf.New(sha256.New, s.master, hkdfSalt, []byte("app-data:"+scope))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext for scope. The output is version || nonce || ciphertext.
func (s *Sealer) Seal(scope string, plaintext []byte) ([]byte, error) {
	gcm, err := s.aead(scope)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 1+gcm.NonceSize(), 1+gcm.NonceSize()+len(plaintext)+gcm.Overhead())
	out[0] = keyVersionV1
	if _, err := rand.Read(out[1:]); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return gcm.Seal(out, out[1:], plaintext, []byte(scope)), nil
}

// Open decrypts a value produced by Seal for the same scope.
func (s *Sealer) Open(scope string, sealed []byte) ([]byte, error) {
	if len(sealed) == 0 || sealed[0] != keyVersionV1 {
		return nil, ErrMalformed
	}
	gcm, err := s.aead(scope)
	if err != nil {
		return nil, err
	}
	body := sealed[1:]
	if len(body) < gcm.NonceSize() {
		return nil, ErrMalformed
	}
	nonce, ciphertext := body[:gcm.NonceSize()], body[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(scope))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return plaintext, nil
}
