// Package fsengine composes the stores into the POSIX-shaped Filesystem
// API from spec §4.8: it is the sole translator from store-level errors
// to the sealerr taxonomy, and the sole owner of the locking discipline
// from spec §5.
//
// LOCK ORDERING. Every inode (file or directory) has one per-inode
// RWMutex, obtained from Engine.inodeLock. A directory's own inode lock
// doubles as its directory-entry lock: content mutation and
// directory-entry mutation are both "mutate this inode," so a single
// exclusive acquisition covers both without a second lock class. The
// rename mutex is acquired only for cross-directory renames, and always
// before any per-inode lock, to avoid the lock-order inversion two
// concurrent renames of opposite direction would otherwise create.
package fsengine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sealfs/sealfs/internal/aead"
	"github.com/sealfs/sealfs/internal/attrstore"
	"github.com/sealfs/sealfs/internal/contentstore"
	"github.com/sealfs/sealfs/internal/dirstore"
	"github.com/sealfs/sealfs/internal/handle"
	"github.com/sealfs/sealfs/internal/keystore"
	"github.com/sealfs/sealfs/internal/namecodec"
	"github.com/sealfs/sealfs/internal/sealerr"
)

// RootIno is the reserved inode number of the mount's root directory.
const RootIno = 1

// Engine is one mounted data directory's live state.
type Engine struct {
	dataDir string
	keys    *keystore.Store
	attrs   *attrstore.Store
	dirs    *dirstore.Store
	content *contentstore.Store
	handles *handle.Table

	suidSupport bool

	inodeLocksMu sync.Mutex
	inodeLocks   map[uint64]*sync.RWMutex

	renameMu sync.Mutex

	nextInodeMu sync.Mutex
	nextInode   uint64

	pendingDeleteMu sync.Mutex
	pendingDelete   map[uint64]bool
}

// Config tunes a newly opened Engine.
type Config struct {
	ChunkSize int

	// SuidSupport, when false (the default), strips the setuid and setgid
	// bits from a newly created regular file's permission bits, mirroring
	// most mount tools' "suid_support off by default" stance so a copied
	// setuid binary cannot silently regain root-running powers once
	// unsealed into the mount (spec §4.8).
	SuidSupport bool
}

// Init creates a brand-new data directory: the sealed master key, and
// the root directory's attribute and (empty) content records.
func Init(dataDir string, password []byte, suite aead.Suite, cfg Config) (*Engine, error) {
	keys, err := keystore.Init(dataDir, password, suite)
	if err != nil {
		return nil, translateKeystoreErr("init", err)
	}

	eng, err := newEngine(dataDir, keys, cfg)
	if err != nil {
		keys.Close()
		return nil, err
	}

	now := time.Now()
	root := attrstore.FileAttr{
		Ino:     RootIno,
		Kind:    attrstore.Directory,
		Perm:    0o755,
		Nlink:   2,
		Atime:   now,
		Mtime:   now,
		Ctime:   now,
		Crtime:  now,
		Blksize: 4096,
	}
	if err := eng.attrs.Write(root); err != nil {
		return nil, sealerr.New(sealerr.Io, "init", err)
	}
	rootContents := filepath.Join(dataDir, "contents", strconv.FormatUint(RootIno, 10))
	if err := os.MkdirAll(rootContents, 0o700); err != nil {
		return nil, sealerr.New(sealerr.Io, "init", err)
	}

	eng.nextInode = RootIno + 1
	return eng, nil
}

// Open unseals an existing data directory's master key and wires up the
// stores over it.
func Open(dataDir string, password []byte, suite aead.Suite, cfg Config) (*Engine, error) {
	keys, err := keystore.Open(dataDir, password, suite)
	if err != nil {
		return nil, translateKeystoreErr("init", err)
	}

	eng, err := newEngine(dataDir, keys, cfg)
	if err != nil {
		keys.Close()
		return nil, err
	}

	next, err := discoverNextInode(dataDir)
	if err != nil {
		return nil, sealerr.New(sealerr.InvalidDataDirStructure, "init", err)
	}
	eng.nextInode = next
	return eng, nil
}

func newEngine(dataDir string, keys *keystore.Store, cfg Config) (*Engine, error) {
	engine, err := aead.New(keys.Suite(), keys.MasterKey())
	if err != nil {
		return nil, sealerr.New(sealerr.Other, "init", err)
	}
	codec, err := namecodec.New(keys.Suite(), keys.MasterKey())
	if err != nil {
		return nil, sealerr.New(sealerr.Other, "init", err)
	}

	return &Engine{
		dataDir:       dataDir,
		keys:          keys,
		attrs:         attrstore.New(dataDir, engine),
		dirs:          dirstore.New(dataDir, engine, codec),
		content:       contentstore.New(dataDir, keys.Suite(), engine, cfg.ChunkSize),
		handles:       handle.New(),
		suidSupport:   cfg.SuidSupport,
		inodeLocks:    make(map[uint64]*sync.RWMutex),
		pendingDelete: make(map[uint64]bool),
	}, nil
}

// Close zeros the master key. The Engine must not be used afterward.
func (e *Engine) Close() {
	e.keys.Close()
}

// ChangePassword reseals the master key under a new password, leaving
// all content and metadata untouched.
func ChangePassword(dataDir string, oldPassword, newPassword []byte, suite aead.Suite) error {
	if err := keystore.ChangePassword(dataDir, oldPassword, newPassword, suite); err != nil {
		return translateKeystoreErr("change_password", err)
	}
	return nil
}

func translateKeystoreErr(op string, err error) error {
	switch {
	case errors.Is(err, keystore.ErrInvalidPassword):
		return sealerr.New(sealerr.InvalidPassword, op, err)
	case errors.Is(err, keystore.ErrInvalidDataDirStructure):
		return sealerr.New(sealerr.InvalidDataDirStructure, op, err)
	default:
		return sealerr.New(sealerr.Other, op, err)
	}
}

func (e *Engine) inodeLock(ino uint64) *sync.RWMutex {
	e.inodeLocksMu.Lock()
	defer e.inodeLocksMu.Unlock()
	l, ok := e.inodeLocks[ino]
	if !ok {
		l = &sync.RWMutex{}
		e.inodeLocks[ino] = l
	}
	return l
}

func (e *Engine) markPendingDelete(ino uint64) {
	e.pendingDeleteMu.Lock()
	defer e.pendingDeleteMu.Unlock()
	e.pendingDelete[ino] = true
}

// takePendingDelete reports whether ino was marked for delete-on-last-
// close and clears the mark.
func (e *Engine) takePendingDelete(ino uint64) bool {
	e.pendingDeleteMu.Lock()
	defer e.pendingDeleteMu.Unlock()
	was := e.pendingDelete[ino]
	delete(e.pendingDelete, ino)
	return was
}

func (e *Engine) allocateInode() uint64 {
	e.nextInodeMu.Lock()
	defer e.nextInodeMu.Unlock()
	ino := e.nextInode
	e.nextInode++
	return ino
}

func discoverNextInode(dataDir string) (uint64, error) {
	entries, err := os.ReadDir(filepath.Join(dataDir, "inodes"))
	if err != nil {
		if os.IsNotExist(err) {
			return RootIno + 1, nil
		}
		return 0, err
	}

	max := uint64(RootIno)
	for _, ent := range entries {
		n, err := strconv.ParseUint(ent.Name(), 10, 64)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max + 1, nil
}

func translateReadAttrErr(op string, ino uint64, err error) error {
	if os.IsNotExist(err) {
		return sealerr.New(sealerr.NotFound, op, err)
	}
	if err == aead.ErrAuthFailed {
		return sealerr.New(sealerr.Corrupted, op, err)
	}
	return sealerr.New(sealerr.Io, op, fmt.Errorf("inode %d: %w", ino, err))
}
