// Package dirstore persists directory entries as one small encrypted
// file per entry under <data_dir>/contents/<parent_ino>/. The entry
// file's name is the encrypted entry name (see internal/namecodec); its
// contents decrypt to a fixed record {child_ino, kind}. See spec §4.5.
package dirstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/renameio/v2"

	"github.com/sealfs/sealfs/internal/aead"
	"github.com/sealfs/sealfs/internal/attrstore"
	"github.com/sealfs/sealfs/internal/namecodec"
)

// ErrNotFound is returned by Lookup and Remove when no entry matches.
var ErrNotFound = errors.New("dirstore: entry not found")

// ErrAlreadyExists is returned by Insert when an entry with the same
// name already exists under the parent.
var ErrAlreadyExists = errors.New("dirstore: entry already exists")

// Entry is one decoded directory entry.
type Entry struct {
	Name string
	Ino  uint64
	Kind attrstore.Kind
}

// Store reads and writes directory-entry files.
type Store struct {
	dataDir string
	engine  aead.Engine
	codec   *namecodec.Codec
}

// New returns a Store keyed by engine and codec, rooted at dataDir.
func New(dataDir string, engine aead.Engine, codec *namecodec.Codec) *Store {
	return &Store{dataDir: dataDir, engine: engine, codec: codec}
}

func (s *Store) dirPath(parentIno uint64) string {
	return filepath.Join(s.dataDir, "contents", fmt.Sprintf("%d", parentIno))
}

// Insert adds (name, childIno, kind) under parentIno. Fails with
// ErrAlreadyExists if an entry with the same name is already present.
func (s *Store) Insert(parentIno uint64, name string, childIno uint64, kind attrstore.Kind) error {
	if _, _, err := s.Lookup(parentIno, name); err == nil {
		return ErrAlreadyExists
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	return s.writeEntry(parentIno, name, childIno, kind)
}

func (s *Store) writeEntry(parentIno uint64, name string, childIno uint64, kind attrstore.Kind) error {
	dir := s.dirPath(parentIno)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("dirstore: create directory contents: %w", err)
	}

	encName, err := s.codec.Encrypt(parentIno, name)
	if err != nil {
		return err
	}

	payload := make([]byte, 9)
	binary.BigEndian.PutUint64(payload, childIno)
	payload[8] = byte(kind)

	ad := entryAssociatedData(parentIno)
	blob, err := aead.SealRandom(s.engine, ad, payload)
	if err != nil {
		return err
	}

	return renameio.WriteFile(filepath.Join(dir, encName), blob, 0o600)
}

// Remove deletes the entry named name under parentIno.
func (s *Store) Remove(parentIno uint64, name string) error {
	encName, err := s.findEncName(parentIno, name)
	if err != nil {
		return err
	}
	return os.Remove(filepath.Join(s.dirPath(parentIno), encName))
}

// findEncName returns the on-disk (encrypted) file name of the entry
// called name under parentIno, without decoding its payload.
func (s *Store) findEncName(parentIno uint64, name string) (string, error) {
	entries, err := s.readRaw(parentIno)
	if err != nil {
		return "", err
	}
	for _, re := range entries {
		plain, err := s.codec.Decrypt(parentIno, re.encName)
		if err != nil {
			return "", err
		}
		if plain == name {
			return re.encName, nil
		}
	}
	return "", ErrNotFound
}

// Lookup scans parentIno's entries, decrypting names until one matches.
func (s *Store) Lookup(parentIno uint64, name string) (uint64, attrstore.Kind, error) {
	entries, err := s.readRaw(parentIno)
	if err != nil {
		return 0, 0, err
	}
	for _, re := range entries {
		plain, err := s.codec.Decrypt(parentIno, re.encName)
		if err != nil {
			return 0, 0, err
		}
		if plain == name {
			ino, kind, err := decodePayload(s.engine, parentIno, re.blob)
			if err != nil {
				return 0, 0, err
			}
			return ino, kind, nil
		}
	}
	return 0, 0, ErrNotFound
}

// Readdir returns every entry under parentIno, sorted lexicographically
// by decrypted name with ties broken by inode number, giving a stable,
// restartable order across calls regardless of on-disk file order.
func (s *Store) Readdir(parentIno uint64) ([]Entry, error) {
	raw, err := s.readRaw(parentIno)
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(raw))
	for _, re := range raw {
		name, err := s.codec.Decrypt(parentIno, re.encName)
		if err != nil {
			return nil, err
		}
		ino, kind, err := decodePayload(s.engine, parentIno, re.blob)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Name: name, Ino: ino, Kind: kind})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Ino < out[j].Ino
	})
	return out, nil
}

// Rename moves an entry from (oldParent, oldName) to (newParent, newName).
// If an entry already occupies the destination it is replaced, matching
// POSIX rename semantics. fsengine holds the process-wide rename lock (§5)
// around cross-directory renames and only the parent directory's lock
// around same-directory ones; Rename itself only orders its own filesystem
// operations (insert destination, then remove source) so a crash between
// them never leaves the tree with neither.
func (s *Store) Rename(oldParent uint64, oldName string, newParent uint64, newName string) error {
	childIno, kind, err := s.Lookup(oldParent, oldName)
	if err != nil {
		return err
	}

	oldEncName, err := s.findEncName(oldParent, oldName)
	if err != nil {
		return err
	}

	staleDestEncName, err := s.findEncName(newParent, newName)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	// Entry files are named by their own freshly random ciphertext, so
	// inserting the destination cannot collide on disk with a stale
	// entry of the same plaintext name; a crash right after this insert
	// leaves two entries answering to newName until the cleanup below
	// runs, rather than losing the rename outright.
	if err := s.writeEntry(newParent, newName, childIno, kind); err != nil {
		return err
	}

	if staleDestEncName != "" {
		if err := os.Remove(filepath.Join(s.dirPath(newParent), staleDestEncName)); err != nil {
			return err
		}
	}

	return os.Remove(filepath.Join(s.dirPath(oldParent), oldEncName))
}

type rawEntry struct {
	encName string
	blob    []byte
}

func (s *Store) readRaw(parentIno uint64) ([]rawEntry, error) {
	dir := s.dirPath(parentIno)
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]rawEntry, 0, len(files))
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, f.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, rawEntry{encName: f.Name(), blob: data})
	}
	return out, nil
}

func decodePayload(engine aead.Engine, parentIno uint64, blob []byte) (uint64, attrstore.Kind, error) {
	plain, err := aead.OpenPrefixed(engine, entryAssociatedData(parentIno), blob)
	if err != nil {
		return 0, 0, err
	}
	if len(plain) != 9 {
		return 0, 0, fmt.Errorf("dirstore: entry payload has wrong length %d", len(plain))
	}
	ino := binary.BigEndian.Uint64(plain[:8])
	kind := attrstore.Kind(plain[8])
	return ino, kind, nil
}

func entryAssociatedData(parentIno uint64) []byte {
	ad := make([]byte, 8)
	binary.BigEndian.PutUint64(ad, parentIno)
	return ad
}
