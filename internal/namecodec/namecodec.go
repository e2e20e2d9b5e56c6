// Package namecodec encrypts and decrypts the file and directory names
// sealfs stores on disk. Every name is sealed independently with a random
// nonce (spec §4.3): the same plaintext name encrypted twice, even in the
// same directory, yields two different ciphertexts, so on-disk listing
// never leaks which entries share a name. Lookup is therefore by decrypt-
// and-compare against every entry under the parent, an O(n) scan spec
// §4.3 explicitly permits.
package namecodec

import (
	"encoding/base64"
	"fmt"

	"github.com/sealfs/sealfs/internal/aead"
)

// maxNameLen is the longest plaintext name whose sealed form (12-byte
// nonce + name + 16-byte tag = 191 bytes) still encodes to at most 255
// base64 characters, the usual host filename length limit.
const maxNameLen = 163

// Codec encrypts and decrypts names under a single master key.
type Codec struct {
	engine aead.Engine
}

// New derives a Codec from the master key. The Codec holds its own AEAD
// engine; other stores build their engines from the same key separately.
func New(suite aead.Suite, masterKey []byte) (*Codec, error) {
	engine, err := aead.New(suite, masterKey)
	if err != nil {
		return nil, err
	}
	return &Codec{engine: engine}, nil
}

// Encrypt seals name for storage as a directory entry's file name on disk.
// The result is URL-safe base64 with no padding, so it is itself a valid
// filesystem path component.
func (c *Codec) Encrypt(parentIno uint64, name string) (string, error) {
	if len(name) > maxNameLen {
		return "", fmt.Errorf("namecodec: name exceeds %d bytes", maxNameLen)
	}
	ad := parentAssociatedData(parentIno)
	blob, err := aead.SealRandom(c.engine, ad, []byte(name))
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(blob), nil
}

// Decrypt recovers the plaintext name from an on-disk entry name. Returns
// aead.ErrAuthFailed if encoded is not a valid sealed record for this
// parent inode — callers translate that into a corruption error, since an
// unparseable entry under an authenticated data directory means the tree
// was tampered with or truncated, not that the password is wrong.
func (c *Codec) Decrypt(parentIno uint64, encoded string) (string, error) {
	blob, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", aead.ErrAuthFailed, err)
	}
	ad := parentAssociatedData(parentIno)
	plaintext, err := aead.OpenPrefixed(c.engine, ad, blob)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func parentAssociatedData(parentIno uint64) []byte {
	ad := make([]byte, 8)
	for i := 0; i < 8; i++ {
		ad[i] = byte(parentIno >> (56 - 8*i))
	}
	return ad
}
