// Package attrstore persists per-inode FileAttr records under
// <data_dir>/inodes/<ino>, each sealed as a single authenticated record
// and written atomically. See spec §4.4.
package attrstore

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/renameio/v2"

	"github.com/sealfs/sealfs/internal/aead"
)

// Kind identifies what an inode represents.
type Kind uint8

const (
	RegularFile Kind = iota + 1
	Directory
	Symlink
)

// FileAttr is the per-inode metadata record. Timestamps are stored as
// Unix nanoseconds.
type FileAttr struct {
	Ino     uint64
	Size    uint64
	Blocks  uint64
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
	Crtime  time.Time
	Kind    Kind
	Perm    uint16
	Nlink   uint32
	UID     uint32
	GID     uint32
	Rdev    uint32
	Blksize uint32
	Flags   uint32
}

// Store reads and writes sealed FileAttr records under dataDir/inodes.
type Store struct {
	dataDir string
	engine  aead.Engine
}

// New returns a Store keyed by engine, rooted at dataDir.
func New(dataDir string, engine aead.Engine) *Store {
	return &Store{dataDir: dataDir, engine: engine}
}

func (s *Store) path(ino uint64) string {
	return filepath.Join(s.dataDir, "inodes", strconv.FormatUint(ino, 10))
}

// Read opens inodes/<ino>, decrypts it as a single authenticated record,
// and returns the FileAttr. A missing file maps to os.ErrNotExist;
// callers translate that to NotFound. An authentication failure is
// returned verbatim as aead.ErrAuthFailed; callers translate that to
// Corrupted.
func (s *Store) Read(ino uint64) (FileAttr, error) {
	data, err := os.ReadFile(s.path(ino))
	if err != nil {
		return FileAttr{}, err
	}

	ad := inoAssociatedData(ino)
	plaintext, err := aead.OpenPrefixed(s.engine, ad, data)
	if err != nil {
		return FileAttr{}, err
	}

	return unmarshalAttr(plaintext)
}

// Write serializes attr, seals it, and replaces inodes/<ino> atomically
// (write-to-temp in the same directory, then rename).
func (s *Store) Write(attr FileAttr) error {
	ad := inoAssociatedData(attr.Ino)
	blob, err := aead.SealRandom(s.engine, ad, marshalAttr(attr))
	if err != nil {
		return err
	}

	path := s.path(attr.Ino)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("attrstore: create inodes dir: %w", err)
	}
	return renameio.WriteFile(path, blob, 0o600)
}

// Update performs a read-modify-write of the attribute record under the
// caller's per-inode lock (fsengine holds that lock; this function does
// not take one of its own).
func (s *Store) Update(ino uint64, mutate func(*FileAttr)) (FileAttr, error) {
	attr, err := s.Read(ino)
	if err != nil {
		return FileAttr{}, err
	}
	mutate(&attr)
	if err := s.Write(attr); err != nil {
		return FileAttr{}, err
	}
	return attr, nil
}

// Remove deletes inodes/<ino>. Used on delete-on-last-close.
func (s *Store) Remove(ino uint64) error {
	err := os.Remove(s.path(ino))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func inoAssociatedData(ino uint64) []byte {
	ad := make([]byte, 8)
	binary.BigEndian.PutUint64(ad, ino)
	return ad
}

const attrRecordSize = 8*4 + 8*4 + 1 + 2 + 4 + 4 + 4 + 4 + 4 + 4

func marshalAttr(a FileAttr) []byte {
	buf := make([]byte, attrRecordSize)
	i := 0
	putU64(buf, &i, a.Ino)
	putU64(buf, &i, a.Size)
	putU64(buf, &i, a.Blocks)
	putU64(buf, &i, uint64(a.Atime.UnixNano()))
	putU64(buf, &i, uint64(a.Mtime.UnixNano()))
	putU64(buf, &i, uint64(a.Ctime.UnixNano()))
	putU64(buf, &i, uint64(a.Crtime.UnixNano()))
	buf[i] = byte(a.Kind)
	i++
	putU16(buf, &i, a.Perm)
	putU32(buf, &i, a.Nlink)
	putU32(buf, &i, a.UID)
	putU32(buf, &i, a.GID)
	putU32(buf, &i, a.Rdev)
	putU32(buf, &i, a.Blksize)
	putU32(buf, &i, a.Flags)
	return buf
}

func unmarshalAttr(data []byte) (FileAttr, error) {
	if len(data) != attrRecordSize {
		return FileAttr{}, fmt.Errorf("attrstore: record has wrong length %d", len(data))
	}
	i := 0
	var a FileAttr
	a.Ino = getU64(data, &i)
	a.Size = getU64(data, &i)
	a.Blocks = getU64(data, &i)
	a.Atime = time.Unix(0, int64(getU64(data, &i)))
	a.Mtime = time.Unix(0, int64(getU64(data, &i)))
	a.Ctime = time.Unix(0, int64(getU64(data, &i)))
	a.Crtime = time.Unix(0, int64(getU64(data, &i)))
	a.Kind = Kind(data[i])
	i++
	a.Perm = getU16(data, &i)
	a.Nlink = getU32(data, &i)
	a.UID = getU32(data, &i)
	a.GID = getU32(data, &i)
	a.Rdev = getU32(data, &i)
	a.Blksize = getU32(data, &i)
	a.Flags = getU32(data, &i)
	return a, nil
}

func putU64(buf []byte, i *int, v uint64) {
	binary.BigEndian.PutUint64(buf[*i:], v)
	*i += 8
}

func putU32(buf []byte, i *int, v uint32) {
	binary.BigEndian.PutUint32(buf[*i:], v)
	*i += 4
}

func putU16(buf []byte, i *int, v uint16) {
	binary.BigEndian.PutUint16(buf[*i:], v)
	*i += 2
}

func getU64(buf []byte, i *int) uint64 {
	v := binary.BigEndian.Uint64(buf[*i:])
	*i += 8
	return v
}

func getU32(buf []byte, i *int) uint32 {
	v := binary.BigEndian.Uint32(buf[*i:])
	*i += 4
	return v
}

func getU16(buf []byte, i *int) uint16 {
	v := binary.BigEndian.Uint16(buf[*i:])
	*i += 2
	return v
}
