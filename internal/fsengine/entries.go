package fsengine

import (
	"errors"
	"time"

	"github.com/sealfs/sealfs/internal/attrstore"
	"github.com/sealfs/sealfs/internal/dirstore"
	"github.com/sealfs/sealfs/internal/sealerr"
)

// setuidBits are the bits CreateNod strips from a new regular file's
// permissions unless the mount was opened with SuidSupport (spec §4.8).
const setuidBits = 0o4000 | 0o2000

// bumpDirCounters records that dir (whose already-read attr is updated in
// place) gained or lost sizeDelta child entries and nlinkDelta child
// subdirectories. Size is the live entry count spec §3 requires; Nlink is
// 2 plus the child-subdirectory count, since each subdirectory's own
// ".." entry is what adds a link back to its parent.
func (e *Engine) bumpDirCounters(ino uint64, attr *attrstore.FileAttr, sizeDelta, nlinkDelta int) error {
	attr.Size = uint64(int64(attr.Size) + int64(sizeDelta))
	attr.Nlink = uint32(int64(attr.Nlink) + int64(nlinkDelta))
	attr.Ctime = time.Now()
	if err := e.attrs.Write(*attr); err != nil {
		return sealerr.New(sealerr.Io, "update_dir_counters", err)
	}
	return nil
}

// checkDirWritable applies the classical owner/group/other rwx check for
// "may uid:gid create or remove an entry in dir" against dir's permission
// bits: write and execute are both required, uid 0 bypasses the check
// entirely, matching every other POSIX filesystem's root override.
func checkDirWritable(dir attrstore.FileAttr, uid, gid uint32) error {
	if uid == 0 {
		return nil
	}
	const wx = 0o3
	var bits uint16
	switch {
	case dir.UID == uid:
		bits = (dir.Perm >> 6) & 0o7
	case dir.GID == gid:
		bits = (dir.Perm >> 3) & 0o7
	default:
		bits = dir.Perm & 0o7
	}
	if bits&wx != wx {
		return sealerr.New(sealerr.PermissionDenied, "permission", nil)
	}
	return nil
}

// Lookup resolves name within parent and returns its FileAttr.
func (e *Engine) Lookup(parent uint64, name string) (attrstore.FileAttr, error) {
	lock := e.inodeLock(parent)
	lock.RLock()
	ino, _, err := e.dirs.Lookup(parent, name)
	lock.RUnlock()
	if err != nil {
		return attrstore.FileAttr{}, translateDirErr("lookup", err)
	}

	return e.readAttr("lookup", ino)
}

// GetAttr returns ino's current FileAttr without modifying it.
func (e *Engine) GetAttr(ino uint64) (attrstore.FileAttr, error) {
	return e.readAttr("get_attr", ino)
}

func (e *Engine) readAttr(op string, ino uint64) (attrstore.FileAttr, error) {
	lock := e.inodeLock(ino)
	lock.RLock()
	defer lock.RUnlock()
	attr, err := e.attrs.Read(ino)
	if err != nil {
		return attrstore.FileAttr{}, translateReadAttrErr(op, ino, err)
	}
	return attr, nil
}

// AttrTemplate carries the caller-supplied fields for a new inode;
// Engine fills in ino, nlink, and the timestamps.
type AttrTemplate struct {
	Perm uint16
	UID  uint32
	GID  uint32
	Rdev uint32
}

// CreateNod creates a new regular file under parent, opens it for the
// requested permissions, and returns the new handle alongside its
// FileAttr.
func (e *Engine) CreateNod(parent uint64, name string, tmpl AttrTemplate, wantRead, wantWrite bool) (HandleID, attrstore.FileAttr, error) {
	parentLock := e.inodeLock(parent)
	parentLock.Lock()
	defer parentLock.Unlock()

	parentAttr, err := e.attrs.Read(parent)
	if err != nil {
		return 0, attrstore.FileAttr{}, translateReadAttrErr("create_nod", parent, err)
	}
	if err := checkDirWritable(parentAttr, tmpl.UID, tmpl.GID); err != nil {
		return 0, attrstore.FileAttr{}, err
	}

	if _, _, err := e.dirs.Lookup(parent, name); err == nil {
		return 0, attrstore.FileAttr{}, sealerr.New(sealerr.AlreadyExists, "create_nod", nil)
	} else if !errors.Is(err, dirstore.ErrNotFound) {
		return 0, attrstore.FileAttr{}, translateDirErr("create_nod", err)
	}

	perm := tmpl.Perm
	if !e.suidSupport {
		perm &^= setuidBits
	}

	ino := e.allocateInode()
	now := time.Now()
	attr := attrstore.FileAttr{
		Ino:     ino,
		Kind:    attrstore.RegularFile,
		Perm:    perm,
		Nlink:   1,
		UID:     tmpl.UID,
		GID:     tmpl.GID,
		Rdev:    tmpl.Rdev,
		Blksize: 4096,
		Atime:   now,
		Mtime:   now,
		Ctime:   now,
		Crtime:  now,
	}

	if err := e.content.Create(ino); err != nil {
		return 0, attrstore.FileAttr{}, sealerr.New(sealerr.Io, "create_nod", err)
	}
	if err := e.attrs.Write(attr); err != nil {
		return 0, attrstore.FileAttr{}, sealerr.New(sealerr.Io, "create_nod", err)
	}
	if err := e.dirs.Insert(parent, name, ino, attrstore.RegularFile); err != nil {
		return 0, attrstore.FileAttr{}, translateDirErr("create_nod", err)
	}
	if err := e.bumpDirCounters(parent, &parentAttr, 1, 0); err != nil {
		return 0, attrstore.FileAttr{}, err
	}

	id, _, err := e.handles.Open(ino, wantRead, wantWrite)
	if err != nil {
		return 0, attrstore.FileAttr{}, sealerr.New(sealerr.TooManyOpenFiles, "create_nod", err)
	}
	return HandleID(id), attr, nil
}

// Mkdir creates a new, empty directory under parent, owned by uid:gid.
func (e *Engine) Mkdir(parent uint64, name string, mode uint16, uid, gid uint32) (attrstore.FileAttr, error) {
	parentLock := e.inodeLock(parent)
	parentLock.Lock()
	defer parentLock.Unlock()

	parentAttr, err := e.attrs.Read(parent)
	if err != nil {
		return attrstore.FileAttr{}, translateReadAttrErr("mkdir", parent, err)
	}
	if err := checkDirWritable(parentAttr, uid, gid); err != nil {
		return attrstore.FileAttr{}, err
	}

	if _, _, err := e.dirs.Lookup(parent, name); err == nil {
		return attrstore.FileAttr{}, sealerr.New(sealerr.AlreadyExists, "mkdir", nil)
	} else if !errors.Is(err, dirstore.ErrNotFound) {
		return attrstore.FileAttr{}, translateDirErr("mkdir", err)
	}

	ino := e.allocateInode()
	now := time.Now()
	attr := attrstore.FileAttr{
		Ino:     ino,
		Kind:    attrstore.Directory,
		Perm:    mode,
		Nlink:   2,
		UID:     uid,
		GID:     gid,
		Blksize: 4096,
		Atime:   now,
		Mtime:   now,
		Ctime:   now,
		Crtime:  now,
	}

	if err := e.attrs.Write(attr); err != nil {
		return attrstore.FileAttr{}, sealerr.New(sealerr.Io, "mkdir", err)
	}
	if err := e.dirs.Insert(parent, name, ino, attrstore.Directory); err != nil {
		return attrstore.FileAttr{}, translateDirErr("mkdir", err)
	}
	if err := e.bumpDirCounters(parent, &parentAttr, 1, 1); err != nil {
		return attrstore.FileAttr{}, err
	}

	return attr, nil
}

// Unlink removes a non-directory entry. If handles on the target are
// still open, the physical files are removed only on the last release
// (delete-on-last-close, spec §3/§8 invariant 7).
func (e *Engine) Unlink(parent uint64, name string) error {
	return e.removeEntry("unlink", parent, name, false)
}

// Rmdir removes an empty directory entry.
func (e *Engine) Rmdir(parent uint64, name string) error {
	return e.removeEntry("rmdir", parent, name, true)
}

func (e *Engine) removeEntry(op string, parent uint64, name string, wantDir bool) error {
	parentLock := e.inodeLock(parent)
	parentLock.Lock()
	defer parentLock.Unlock()

	parentAttr, err := e.attrs.Read(parent)
	if err != nil {
		return translateReadAttrErr(op, parent, err)
	}

	ino, kind, err := e.dirs.Lookup(parent, name)
	if err != nil {
		return translateDirErr(op, err)
	}

	isDir := kind == attrstore.Directory
	if wantDir && !isDir {
		return sealerr.New(sealerr.NotADirectory, op, nil)
	}
	if !wantDir && isDir {
		return sealerr.New(sealerr.IsADirectory, op, nil)
	}

	if isDir {
		children, err := e.dirs.Readdir(ino)
		if err != nil {
			return translateDirErr(op, err)
		}
		if len(children) > 0 {
			return sealerr.New(sealerr.NotEmpty, op, nil)
		}
	}

	if err := e.dirs.Remove(parent, name); err != nil {
		return translateDirErr(op, err)
	}

	nlinkDelta := 0
	if isDir {
		nlinkDelta = -1
	}
	if err := e.bumpDirCounters(parent, &parentAttr, -1, nlinkDelta); err != nil {
		return err
	}

	if e.handles.CountForInode(ino) == 0 {
		if err := e.content.Remove(ino); err != nil {
			return sealerr.New(sealerr.Io, op, err)
		}
		if err := e.attrs.Remove(ino); err != nil {
			return sealerr.New(sealerr.Io, op, err)
		}
	} else {
		e.markPendingDelete(ino)
	}
	return nil
}

// Rename moves an entry from (oldParent, oldName) to (newParent,
// newName). Cross-directory renames take the process-wide rename lock
// before either directory's inode lock, per the §5 lock ordering.
func (e *Engine) Rename(oldParent uint64, oldName string, newParent uint64, newName string) error {
	if oldParent == newParent {
		lock := e.inodeLock(oldParent)
		lock.Lock()
		defer lock.Unlock()
		return e.renameLocked(oldParent, oldName, newParent, newName)
	}

	e.renameMu.Lock()
	defer e.renameMu.Unlock()

	first, second := oldParent, newParent
	if second < first {
		first, second = second, first
	}
	l1, l2 := e.inodeLock(first), e.inodeLock(second)
	l1.Lock()
	defer l1.Unlock()
	l2.Lock()
	defer l2.Unlock()

	return e.renameLocked(oldParent, oldName, newParent, newName)
}

func (e *Engine) renameLocked(oldParent uint64, oldName string, newParent uint64, newName string) error {
	if destIno, destKind, err := e.dirs.Lookup(newParent, newName); err == nil {
		if destKind == attrstore.Directory {
			children, err := e.dirs.Readdir(destIno)
			if err != nil {
				return translateDirErr("rename", err)
			}
			if len(children) > 0 {
				return sealerr.New(sealerr.NotEmpty, "rename", nil)
			}
		}
	} else if !errors.Is(err, dirstore.ErrNotFound) {
		return translateDirErr("rename", err)
	}

	if err := e.dirs.Rename(oldParent, oldName, newParent, newName); err != nil {
		return translateDirErr("rename", err)
	}
	return nil
}

// DirEntry is one entry returned by Readdir, including the synthesized
// "." and ".." pseudo-entries.
type DirEntry struct {
	Name string
	Ino  uint64
	Kind attrstore.Kind
}

// Readdir returns parent's entries starting at offset, with "." and
// ".." synthesized first.
func (e *Engine) Readdir(parent uint64, offset int) ([]DirEntry, error) {
	lock := e.inodeLock(parent)
	lock.RLock()
	defer lock.RUnlock()

	parentAttr, err := e.attrs.Read(parent)
	if err != nil {
		return nil, translateReadAttrErr("readdir", parent, err)
	}
	if parentAttr.Kind != attrstore.Directory {
		return nil, sealerr.New(sealerr.NotADirectory, "readdir", nil)
	}

	raw, err := e.dirs.Readdir(parent)
	if err != nil {
		return nil, translateDirErr("readdir", err)
	}

	all := make([]DirEntry, 0, len(raw)+2)
	all = append(all, DirEntry{Name: ".", Ino: parent, Kind: attrstore.Directory})
	all = append(all, DirEntry{Name: "..", Ino: parent, Kind: attrstore.Directory})
	for _, re := range raw {
		all = append(all, DirEntry{Name: re.Name, Ino: re.Ino, Kind: re.Kind})
	}

	if offset >= len(all) {
		return nil, nil
	}
	return all[offset:], nil
}

// SetattrRequest carries the subset of FileAttr fields a setattr call
// wants to change; nil fields are left untouched.
type SetattrRequest struct {
	Size  *uint64
	Perm  *uint16
	UID   *uint32
	GID   *uint32
	Atime *time.Time
	Mtime *time.Time
}

// Setattr applies req to ino's attributes under the inode's exclusive
// lock and returns the updated FileAttr.
func (e *Engine) Setattr(ino uint64, req SetattrRequest) (attrstore.FileAttr, error) {
	lock := e.inodeLock(ino)
	lock.Lock()
	defer lock.Unlock()

	attr, err := e.attrs.Read(ino)
	if err != nil {
		return attrstore.FileAttr{}, translateReadAttrErr("setattr", ino, err)
	}

	if req.Size != nil && *req.Size != attr.Size {
		if err := e.content.Truncate(ino, attr.Size, *req.Size); err != nil {
			return attrstore.FileAttr{}, sealerr.New(sealerr.Io, "setattr", err)
		}
		attr.Size = *req.Size
	}
	if req.Perm != nil {
		attr.Perm = *req.Perm
	}
	if req.UID != nil {
		attr.UID = *req.UID
	}
	if req.GID != nil {
		attr.GID = *req.GID
	}
	if req.Atime != nil {
		attr.Atime = *req.Atime
	}
	if req.Mtime != nil {
		attr.Mtime = *req.Mtime
	}
	attr.Ctime = time.Now()

	if err := e.attrs.Write(attr); err != nil {
		return attrstore.FileAttr{}, sealerr.New(sealerr.Io, "setattr", err)
	}
	return attr, nil
}

func translateDirErr(op string, err error) error {
	switch {
	case errors.Is(err, dirstore.ErrNotFound):
		return sealerr.New(sealerr.NotFound, op, err)
	case errors.Is(err, dirstore.ErrAlreadyExists):
		return sealerr.New(sealerr.AlreadyExists, op, err)
	case err == nil:
		return nil
	default:
		return sealerr.New(sealerr.Corrupted, op, err)
	}
}
