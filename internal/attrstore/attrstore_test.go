package attrstore

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sealfs/sealfs/internal/aead"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	key := bytes.Repeat([]byte{0x07}, aead.KeySize)
	engine, err := aead.New(aead.AES256GCM, key)
	require.NoError(t, err)
	return New(dir, engine)
}

func sampleAttr(ino uint64) FileAttr {
	now := time.Unix(1700000000, 0)
	return FileAttr{
		Ino:     ino,
		Size:    1234,
		Blocks:  3,
		Atime:   now,
		Mtime:   now,
		Ctime:   now,
		Crtime:  now,
		Kind:    RegularFile,
		Perm:    0o644,
		Nlink:   1,
		UID:     1000,
		GID:     1000,
		Blksize: 4096,
	}
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	s := newTestStore(t)
	attr := sampleAttr(7)

	require.NoError(t, s.Write(attr))

	got, err := s.Read(7)
	require.NoError(t, err)
	assert.Equal(t, attr.Ino, got.Ino)
	assert.Equal(t, attr.Size, got.Size)
	assert.Equal(t, attr.Kind, got.Kind)
	assert.Equal(t, attr.Perm, got.Perm)
	assert.True(t, attr.Mtime.Equal(got.Mtime))
}

func TestReadMissingInodeReturnsNotExist(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Read(999)
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestReadTamperedRecordFailsAuthentication(t *testing.T) {
	s := newTestStore(t)
	attr := sampleAttr(3)
	require.NoError(t, s.Write(attr))

	path := filepath.Join(s.dataDir, "inodes", "3")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o600))

	_, err = s.Read(3)
	require.ErrorIs(t, err, aead.ErrAuthFailed)
}

func TestUpdatePerformsReadModifyWrite(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write(sampleAttr(1)))

	updated, err := s.Update(1, func(a *FileAttr) {
		a.Size = 9999
	})
	require.NoError(t, err)
	assert.EqualValues(t, 9999, updated.Size)

	reread, err := s.Read(1)
	require.NoError(t, err)
	assert.EqualValues(t, 9999, reread.Size)
}

func TestRemoveIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write(sampleAttr(2)))

	require.NoError(t, s.Remove(2))
	require.NoError(t, s.Remove(2))

	_, err := s.Read(2)
	assert.True(t, os.IsNotExist(err))
}
