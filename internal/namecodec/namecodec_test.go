package namecodec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sealfs/sealfs/internal/aead"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	key := bytes.Repeat([]byte{0x11}, aead.KeySize)
	c, err := New(aead.AES256GCM, key)
	require.NoError(t, err)
	return c
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := newTestCodec(t)

	encoded, err := c.Encrypt(42, "notes.txt")
	require.NoError(t, err)

	decoded, err := c.Decrypt(42, encoded)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", decoded)
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	c := newTestCodec(t)

	first, err := c.Encrypt(1, "same-name")
	require.NoError(t, err)
	second, err := c.Encrypt(1, "same-name")
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "encrypting the same name twice must not repeat ciphertext")
}

func TestDecryptFailsUnderWrongParent(t *testing.T) {
	c := newTestCodec(t)

	encoded, err := c.Encrypt(1, "secret")
	require.NoError(t, err)

	_, err = c.Decrypt(2, encoded)
	require.Error(t, err)
}

func TestEncryptRejectsOverlongName(t *testing.T) {
	c := newTestCodec(t)

	longName := make([]byte, maxNameLen+1)
	for i := range longName {
		longName[i] = 'a'
	}

	_, err := c.Encrypt(1, string(longName))
	require.Error(t, err)
}
