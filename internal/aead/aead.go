// Package aead provides the authenticated-encryption primitives sealfs
// builds everything else on top of: whole-record seal/open for names,
// attributes, directory entries and content chunks. There is no streaming
// seal/open; each record is sealed or opened in one call.
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Suite identifies which AEAD construction a record or data directory uses.
type Suite uint8

const (
	// ChaCha20 selects ChaCha20-Poly1305.
	ChaCha20 Suite = iota + 1
	// AES256GCM selects AES-256 in Galois/Counter Mode.
	AES256GCM
)

func (s Suite) String() string {
	switch s {
	case ChaCha20:
		return "chacha20-poly1305"
	case AES256GCM:
		return "aes-256-gcm"
	default:
		return "unknown"
	}
}

// KeySize is the symmetric key size required by both supported suites.
const KeySize = 32

// Engine is an AEAD construction keyed by a single symmetric key. Every
// on-disk ciphertext in sealfs — the master key record, inode attributes,
// directory entries, filenames, and content chunks — goes through an
// Engine's Seal/Open.
type Engine interface {
	Seal(nonce, associatedData, plaintext []byte) []byte
	Open(nonce, associatedData, ciphertext []byte) ([]byte, error)
	NonceSize() int
	Overhead() int
}

type aeadEngine struct {
	aead cipher.AEAD
}

// New constructs the Engine for the given suite and 32-byte key.
func New(suite Suite, key []byte) (Engine, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("aead: key must be %d bytes, got %d", KeySize, len(key))
	}

	var a cipher.AEAD
	var err error

	switch suite {
	case AES256GCM:
		var block cipher.Block
		block, err = aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("aead: new AES cipher: %w", err)
		}
		a, err = cipher.NewGCM(block)
	case ChaCha20:
		a, err = chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("aead: unsupported suite %v", suite)
	}
	if err != nil {
		return nil, fmt.Errorf("aead: new AEAD: %w", err)
	}

	return &aeadEngine{aead: a}, nil
}

// Seal encrypts plaintext, appending the authentication tag.
func (e *aeadEngine) Seal(nonce, associatedData, plaintext []byte) []byte {
	return e.aead.Seal(nil, nonce, plaintext, associatedData)
}

// Open authenticates and decrypts ciphertext. ErrAuthFailed is returned
// verbatim (never wrapped) so callers can recognize it with errors.Is.
func (e *aeadEngine) Open(nonce, associatedData, ciphertext []byte) ([]byte, error) {
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, associatedData)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

func (e *aeadEngine) NonceSize() int { return e.aead.NonceSize() }
func (e *aeadEngine) Overhead() int  { return e.aead.Overhead() }

// RandomNonce draws a nonce uniformly at random, sized for the given
// engine. Used for every whole-record seal (names, attributes, directory
// entries, the master key record) where reuse across records is prevented
// by randomness rather than a derived counter.
func RandomNonce(e Engine) ([]byte, error) {
	nonce := make([]byte, e.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("aead: generate nonce: %w", err)
	}
	return nonce, nil
}

// SealRandom seals plaintext under a freshly generated random nonce and
// returns nonce||ciphertext, the layout used by every whole-record store.
func SealRandom(e Engine, associatedData, plaintext []byte) ([]byte, error) {
	nonce, err := RandomNonce(e)
	if err != nil {
		return nil, err
	}
	sealed := e.Seal(nonce, associatedData, plaintext)
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// OpenPrefixed splits off the leading nonce before opening, the inverse of
// SealRandom.
func OpenPrefixed(e Engine, associatedData, blob []byte) ([]byte, error) {
	n := e.NonceSize()
	if len(blob) < n {
		return nil, ErrAuthFailed
	}
	return e.Open(blob[:n], associatedData, blob[n:])
}
