// Package handle implements the process-wide open-file-handle table
// from spec §4.7: a map from handle ID to the per-open cursor state a
// read/write/flush/release call needs. Handle IDs are unique within a
// mount session and are never reused, mirroring the monotonic
// allocation gcsfuse's fileSystem.nextHandleID uses for fuseops.HandleID.
package handle

import (
	"errors"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrTooManyHandles is returned by Open once a Table has reached its
// rlimit-derived capacity.
var ErrTooManyHandles = errors.New("handle: too many open handles")

// ID identifies one open handle for the lifetime of a mount session.
type ID uint64

// State is the live cursor for one open regular file.
type State struct {
	Ino      uint64
	CanRead  bool
	CanWrite bool

	mu    sync.Mutex
	pos   int64
	dirty bool
}

// Position returns the handle's current plaintext read/write offset.
func (s *State) Position() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// Seek sets the handle's current offset.
func (s *State) Seek(pos int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = pos
}

// Advance moves the handle's offset forward by n, as after a read or
// write, and returns the new position.
func (s *State) Advance(n int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos += n
	return s.pos
}

// MarkDirty records that this handle has written data since the last
// flush.
func (s *State) MarkDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = true
}

// ClearDirty reports whether the handle was dirty and resets the flag.
// Flush calls it only to reset the flag; the attribute record is already
// rewritten by each write.
func (s *State) ClearDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.dirty
	s.dirty = false
	return was
}

// Table is the process-wide handle_id -> State map. Zero value is ready
// to use but unlimited; use New for an rlimit-capped table.
type Table struct {
	mu      sync.Mutex
	nextID  ID
	handles map[ID]*State
	limit   int // 0 means unlimited
}

// New returns an empty Table capped at a heuristic fraction of the
// process's open-file-descriptor limit, the way gcsfuse's
// ChooseTempDirLimitNumFiles sizes its own temp-file budget.
func New() *Table {
	return &Table{nextID: 1, handles: make(map[ID]*State), limit: chooseHandleLimit()}
}

// chooseHandleLimit asks the kernel for RLIMIT_NOFILE and budgets 75% of
// it for open sealfs handles, leaving headroom for the data directory's
// own chunk/inode/dirent file descriptors. Falls back to a conservative
// default if the limit can't be queried.
func chooseHandleLimit() int {
	const defaultLimit = 512
	const reasonableLimit = 1 << 15

	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		return defaultLimit
	}

	limit := rlimit.Cur/2 + rlimit.Cur/4
	if limit > reasonableLimit {
		limit = reasonableLimit
	}
	return int(limit)
}

// Open allocates a new handle over ino with the given permissions. It
// fails with ErrTooManyHandles once the table is at capacity.
func (t *Table) Open(ino uint64, canRead, canWrite bool) (ID, *State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.limit > 0 && len(t.handles) >= t.limit {
		return 0, nil, ErrTooManyHandles
	}

	id := t.nextID
	t.nextID++

	st := &State{Ino: ino, CanRead: canRead, CanWrite: canWrite}
	t.handles[id] = st
	return id, st, nil
}

// Get returns the State for id, or nil if it isn't open.
func (t *Table) Get(id ID) *State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handles[id]
}

// Release removes id from the table, returning its final State (or nil
// if it was already gone).
func (t *Table) Release(id ID) *State {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.handles[id]
	delete(t.handles, id)
	return st
}

// CountForInode returns how many open handles currently reference ino,
// used by fsengine to decide whether unlink may physically remove the
// inode's files immediately or must defer to delete-on-last-close.
func (t *Table) CountForInode(ino uint64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, st := range t.handles {
		if st.Ino == ino {
			n++
		}
	}
	return n
}
