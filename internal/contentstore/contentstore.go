// Package contentstore persists regular-file content as a sequence of
// independently sealed chunks under <data_dir>/contents/<ino>. See spec
// §4.6.
package contentstore

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/renameio/v2"

	"github.com/sealfs/sealfs/internal/aead"
)

// DefaultChunkSize is the plaintext size of each chunk when a mount does
// not override it.
const DefaultChunkSize = 256 * 1024

// header is the fixed-size prefix of contents/<ino>: the cipher suite and
// the chunk size this file was written with. Each chunk carries its own
// freshly drawn random nonce (see sealChunk/decryptChunk) rather than
// deriving one from a per-file base, so that re-sealing a chunk in place
// on overwrite never reuses a (key, nonce) pair.
type header struct {
	Suite     aead.Suite
	ChunkSize uint32
}

const headerSize = 1 + 4

func (h header) marshal() []byte {
	buf := make([]byte, headerSize)
	buf[0] = byte(h.Suite)
	binary.BigEndian.PutUint32(buf[1:5], h.ChunkSize)
	return buf
}

func unmarshalHeader(buf []byte) (header, error) {
	if len(buf) < headerSize {
		return header{}, fmt.Errorf("contentstore: truncated header")
	}
	var h header
	h.Suite = aead.Suite(buf[0])
	h.ChunkSize = binary.BigEndian.Uint32(buf[1:5])
	return h, nil
}

// Store reads and writes chunked file content.
type Store struct {
	dataDir   string
	engine    aead.Engine
	suite     aead.Suite
	chunkSize int
}

// New returns a Store keyed by engine, rooted at dataDir. chunkSize is
// used only for files created via Create; existing files carry their own
// chunk size in their header.
func New(dataDir string, suite aead.Suite, engine aead.Engine, chunkSize int) *Store {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Store{dataDir: dataDir, engine: engine, suite: suite, chunkSize: chunkSize}
}

func (s *Store) path(ino uint64) string {
	return filepath.Join(s.dataDir, "contents", strconv.FormatUint(ino, 10))
}

// Create initializes an empty content file for ino.
func (s *Store) Create(ino uint64) error {
	h := header{Suite: s.suite, ChunkSize: uint32(s.chunkSize)}
	path := s.path(ino)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("contentstore: create contents dir: %w", err)
	}
	return renameio.WriteFile(path, h.marshal(), 0o600)
}

func (s *Store) readHeader(ino uint64) (header, []byte, error) {
	data, err := os.ReadFile(s.path(ino))
	if err != nil {
		return header{}, nil, err
	}
	h, err := unmarshalHeader(data)
	if err != nil {
		return header{}, nil, err
	}
	return h, data[headerSize:], nil
}

// Read decrypts the chunks covering [offset, offset+len(buf)) against
// size (the plaintext length from FileAttr, not the ciphertext length),
// and copies the requested range into buf. Returns the number of bytes
// copied, which is less than len(buf) only when the read runs past size.
// On any chunk authentication failure, aead.ErrAuthFailed is returned and
// no bytes are copied into buf.
func (s *Store) Read(ino uint64, size uint64, offset int64, buf []byte) (int, error) {
	if offset < 0 || uint64(offset) >= size || len(buf) == 0 {
		return 0, nil
	}

	h, body, err := s.readHeader(ino)
	if err != nil {
		return 0, err
	}
	chunkSize := int(h.ChunkSize)

	end := uint64(offset) + uint64(len(buf))
	if end > size {
		end = size
	}

	scratch := make([]byte, len(buf))
	n := 0
	for pos := uint64(offset); pos < end; {
		chunkIdx := pos / uint64(chunkSize)
		chunkStart := chunkIdx * uint64(chunkSize)
		chunkPlain, err := s.decryptChunk(h, body, chunkIdx)
		if err != nil {
			return 0, err
		}

		within := pos - chunkStart
		avail := uint64(len(chunkPlain)) - within
		if avail == 0 {
			break
		}
		want := end - pos
		if want > avail {
			want = avail
		}
		copy(scratch[n:], chunkPlain[within:within+want])
		n += int(want)
		pos += want
	}

	copy(buf, scratch[:n])
	return n, nil
}

// WriteAll seals data into the chunks covering [offset, offset+len(data)),
// read-modify-seal-writing each affected chunk. A write past end-of-file
// zero-fills the gap. Returns the new plaintext size.
func (s *Store) WriteAll(ino uint64, size uint64, offset int64, data []byte) (uint64, error) {
	if offset < 0 {
		return size, fmt.Errorf("contentstore: negative offset")
	}
	if len(data) == 0 {
		return size, nil
	}

	h, body, err := s.readHeader(ino)
	if err != nil {
		return size, err
	}
	chunkSize := uint64(h.ChunkSize)

	newSize := size
	if end := uint64(offset) + uint64(len(data)); end > newSize {
		newSize = end
	}

	numChunks := (newSize + chunkSize - 1) / chunkSize
	sealedChunks := make([][]byte, numChunks)

	for idx := uint64(0); idx < numChunks; idx++ {
		chunkStart := idx * chunkSize
		plainLen := chunkSize
		if chunkStart+plainLen > newSize {
			plainLen = newSize - chunkStart
		}

		var plain []byte
		if chunkStart < size {
			existing, err := s.decryptChunk(h, body, idx)
			if err != nil {
				return size, err
			}
			plain = make([]byte, plainLen)
			copy(plain, existing)
		} else {
			plain = make([]byte, plainLen)
		}

		// Overlay the write range that intersects this chunk.
		writeStart := uint64(offset)
		writeEnd := writeStart + uint64(len(data))
		loIdx := chunkStart
		hiIdx := chunkStart + plainLen
		if writeEnd > loIdx && writeStart < hiIdx {
			lo := writeStart
			if lo < loIdx {
				lo = loIdx
			}
			hi := writeEnd
			if hi > hiIdx {
				hi = hiIdx
			}
			copy(plain[lo-chunkStart:hi-chunkStart], data[lo-writeStart:hi-writeStart])
		}

		sealed, err := s.sealChunk(h, idx, plain)
		if err != nil {
			return size, err
		}
		sealedChunks[idx] = sealed
	}

	out := make([]byte, 0, headerSize+sumLen(sealedChunks))
	out = append(out, h.marshal()...)
	for _, c := range sealedChunks {
		out = append(out, c...)
	}

	if err := renameio.WriteFile(s.path(ino), out, 0o600); err != nil {
		return size, err
	}
	return newSize, nil
}

// Truncate resizes the content to newSize, dropping whole chunks past
// the new end and re-sealing the final partial chunk with the tail
// zero-padded or trimmed to match.
func (s *Store) Truncate(ino uint64, size uint64, newSize uint64) error {
	h, body, err := s.readHeader(ino)
	if err != nil {
		return err
	}
	chunkSize := uint64(h.ChunkSize)

	numChunks := (newSize + chunkSize - 1) / chunkSize
	out := make([]byte, 0, headerSize)
	out = append(out, h.marshal()...)

	for idx := uint64(0); idx < numChunks; idx++ {
		chunkStart := idx * chunkSize
		plainLen := chunkSize
		if chunkStart+plainLen > newSize {
			plainLen = newSize - chunkStart
		}

		plain := make([]byte, plainLen)
		if chunkStart < size {
			existing, err := s.decryptChunk(h, body, idx)
			if err != nil {
				return err
			}
			copy(plain, existing)
		}

		sealed, err := s.sealChunk(h, idx, plain)
		if err != nil {
			return err
		}
		out = append(out, sealed...)
	}

	return renameio.WriteFile(s.path(ino), out, 0o600)
}

// Remove deletes contents/<ino>.
func (s *Store) Remove(ino uint64) error {
	err := os.Remove(s.path(ino))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *Store) chunkCiphertextSize(h header) int {
	return s.engine.NonceSize() + int(h.ChunkSize) + s.engine.Overhead()
}

// decryptChunk reads back the chunk at idx, which carries its own random
// nonce as a stored prefix (see sealChunk).
func (s *Store) decryptChunk(h header, body []byte, idx uint64) ([]byte, error) {
	stride := s.chunkCiphertextSize(h)
	start := int(idx) * stride
	if start+stride > len(body) {
		return nil, aead.ErrAuthFailed
	}
	record := body[start : start+stride]

	return aead.OpenPrefixed(s.engine, chunkAssociatedData(idx), record)
}

// sealChunk draws a fresh random nonce and seals plain under it, returning
// nonce||ciphertext. A chunk re-sealed in place on overwrite therefore
// never reuses a (key, nonce) pair, even though its index is unchanged.
func (s *Store) sealChunk(h header, idx uint64, plain []byte) ([]byte, error) {
	padded := make([]byte, h.ChunkSize)
	copy(padded, plain)

	return aead.SealRandom(s.engine, chunkAssociatedData(idx), padded)
}

func chunkAssociatedData(idx uint64) []byte {
	ad := make([]byte, 8)
	binary.BigEndian.PutUint64(ad, idx)
	return ad
}

func sumLen(chunks [][]byte) int {
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	return n
}
