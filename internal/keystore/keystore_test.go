package keystore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sealfs/sealfs/internal/aead"
)

func TestInitThenOpenRoundTrips(t *testing.T) {
	dir := t.TempDir()

	store, err := Init(dir, []byte("correct horse battery staple"), aead.AES256GCM)
	require.NoError(t, err)
	require.Len(t, store.MasterKey(), aead.KeySize)
	originalKey := append([]byte(nil), store.MasterKey()...)
	store.Close()

	reopened, err := Open(dir, []byte("correct horse battery staple"), aead.AES256GCM)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, originalKey, reopened.MasterKey())
	assert.Equal(t, aead.AES256GCM, reopened.Suite())
}

func TestOpenWithWrongPasswordFails(t *testing.T) {
	dir := t.TempDir()

	store, err := Init(dir, []byte("right-password"), aead.ChaCha20)
	require.NoError(t, err)
	store.Close()

	_, err = Open(dir, []byte("wrong-password"), aead.ChaCha20)
	require.ErrorIs(t, err, ErrInvalidPassword)
}

func TestInitRefusesExistingKeyFile(t *testing.T) {
	dir := t.TempDir()

	store, err := Init(dir, []byte("password"), aead.AES256GCM)
	require.NoError(t, err)
	store.Close()

	_, err = Init(dir, []byte("password"), aead.AES256GCM)
	require.ErrorIs(t, err, ErrInvalidDataDirStructure)
}

func TestOpenMissingDataDirFails(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(dir, []byte("password"), aead.AES256GCM)
	require.ErrorIs(t, err, ErrInvalidDataDirStructure)
}

func TestChangePasswordPreservesMasterKey(t *testing.T) {
	dir := t.TempDir()

	store, err := Init(dir, []byte("old-password"), aead.AES256GCM)
	require.NoError(t, err)
	originalKey := append([]byte(nil), store.MasterKey()...)
	store.Close()

	require.NoError(t, ChangePassword(dir, []byte("old-password"), []byte("new-password"), aead.AES256GCM))

	// Old password no longer unseals the record.
	_, err = Open(dir, []byte("old-password"), aead.AES256GCM)
	require.ErrorIs(t, err, ErrInvalidPassword)

	reopened, err := Open(dir, []byte("new-password"), aead.AES256GCM)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, originalKey, reopened.MasterKey(), "change of password must not rotate the master key itself")
}

func TestCloseZeroesMasterKey(t *testing.T) {
	dir := t.TempDir()

	store, err := Init(dir, []byte("password"), aead.AES256GCM)
	require.NoError(t, err)

	store.Close()

	for _, b := range store.MasterKey() {
		require.Zero(t, b)
	}
}
