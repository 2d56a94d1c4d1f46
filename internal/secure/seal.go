// Package secure seals tokens at rest and derives storage keys for session ids.
package secure

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

var (
	// ErrShortSecret indicates a session secret below 32 bytes.
	ErrShortSecret = errors.New("secure: secret must be at least 32 bytes")
	// ErrTampered indicates a sealed value that fails authentication.
	ErrTampered = errors.New("secure: sealed value is invalid")
)

// Sealer encrypts short strings with a key derived from the session secret.
type Sealer struct {
	box   [32]byte
	idKey [32]byte
}

// NewSealer derives independent sealing and hashing keys from secret.
func NewSealer(secret []byte) (*Sealer, error) {
	if len(secret) < 32 {
		return nil, ErrShortSecret
	}
	return &Sealer{
		box:   blake2b.Sum256(append([]byte("cartable/seal\x00"), secret...)),
		idKey: blake2b.Sum256(append([]byte("cartable/id\x00"), secret...)),
	}, nil
}

// Seal encrypts plain. The empty string seals to the empty string.
func (s *Sealer) Seal(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}
	out := secretbox.Seal(nonce[:], []byte(plain), &nonce, &s.box)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrTampered
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &s.box)
	if !ok {
		return "", ErrTampered
	}
	return string(plain), nil
}

// HashID returns the storage key for a session id. Stores never see the
// cookie value itself.
func (s *Sealer) HashID(id string) string {
	h, _ := blake2b.New256(s.idKey[:])
	_, _ = h.Write([]byte(id))
	return hex.EncodeToString(h.Sum(nil))
}

// RandomToken returns n random bytes, base64url encoded.
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
