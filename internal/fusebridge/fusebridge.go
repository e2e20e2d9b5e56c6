// Package fusebridge adapts an fsengine.Engine to jacobsa/fuse's
// fuseutil.FileSystem interface, the way gcsfuse's fs/fs.go adapts its own
// inode tree. Every method here does the same three things: resolve the
// operation's inode(s) against the engine, translate the result into the
// fuseops response shape, and translate any sealerr.Kind into the matching
// syscall errno.
//
// Symlinks are not wired up: spec left symlink operations unspecified, so
// CreateSymlink/ReadSymlink fall through to the embedded
// fuseutil.NotImplementedFileSystem, the same way gcsfuse itself leaves
// Rename unimplemented because GCS objects cannot be renamed atomically.
package fusebridge

import (
	"os"
	"sync"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/sealfs/sealfs/internal/attrstore"
	"github.com/sealfs/sealfs/internal/fsengine"
	"github.com/sealfs/sealfs/internal/sealerr"
)

// Config carries the mount-wide defaults gcsfuse's ServerConfig supplies
// for UID/GID/permission bits, since sealfs has no backing store of its own
// to ask for an owning user.
type Config struct {
	Uid uint32
	Gid uint32
}

// FileSystem implements fuseutil.FileSystem over a sealed data directory.
type FileSystem struct {
	fuseutil.NotImplementedFileSystem

	engine *fsengine.Engine
	cfg    Config

	dirHandlesMu  sync.Mutex
	nextDirHandle fuseops.HandleID
	dirHandles    map[fuseops.HandleID]*dirHandle
}

// New wraps engine for serving over FUSE.
func New(engine *fsengine.Engine, cfg Config) *FileSystem {
	return &FileSystem{
		engine:     engine,
		cfg:        cfg,
		dirHandles: make(map[fuseops.HandleID]*dirHandle),
	}
}

func (fs *FileSystem) Init(op *fuseops.InitOp) error {
	return nil
}

func (fs *FileSystem) LookUpInode(op *fuseops.LookUpInodeOp) error {
	attr, err := fs.engine.Lookup(uint64(op.Parent), op.Name)
	if err != nil {
		return translateErr(err)
	}
	op.Entry.Child = fuseops.InodeID(attr.Ino)
	op.Entry.Attributes = fs.toInodeAttributes(attr)
	return nil
}

func (fs *FileSystem) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) error {
	attr, err := fs.engine.GetAttr(uint64(op.Inode))
	if err != nil {
		return translateErr(err)
	}
	op.Attributes = fs.toInodeAttributes(attr)
	return nil
}

func (fs *FileSystem) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) error {
	req := fsengine.SetattrRequest{
		Atime: op.Atime,
		Mtime: op.Mtime,
	}
	if op.Size != nil {
		req.Size = op.Size
	}
	if op.Mode != nil {
		perm := uint16(op.Mode.Perm())
		req.Perm = &perm
	}

	attr, err := fs.engine.Setattr(uint64(op.Inode), req)
	if err != nil {
		return translateErr(err)
	}
	op.Attributes = fs.toInodeAttributes(attr)
	return nil
}

// ForgetInode is a no-op: unlike gcsfuse, which keeps a lookup-counted
// in-memory inode tree it must dispose of, sealfs's inodes live entirely on
// disk and carry no in-memory reference count to release.
func (fs *FileSystem) ForgetInode(op *fuseops.ForgetInodeOp) error {
	return nil
}

func (fs *FileSystem) MkDir(op *fuseops.MkDirOp) error {
	attr, err := fs.engine.Mkdir(uint64(op.Parent), op.Name, uint16(op.Mode.Perm()), fs.cfg.Uid, fs.cfg.Gid)
	if err != nil {
		return translateErr(err)
	}
	op.Entry.Child = fuseops.InodeID(attr.Ino)
	op.Entry.Attributes = fs.toInodeAttributes(attr)
	return nil
}

func (fs *FileSystem) CreateFile(op *fuseops.CreateFileOp) error {
	tmpl := fsengine.AttrTemplate{
		Perm: uint16(op.Mode.Perm()),
		UID:  fs.cfg.Uid,
		GID:  fs.cfg.Gid,
	}
	h, attr, err := fs.engine.CreateNod(uint64(op.Parent), op.Name, tmpl, true, true)
	if err != nil {
		return translateErr(err)
	}
	op.Entry.Child = fuseops.InodeID(attr.Ino)
	op.Entry.Attributes = fs.toInodeAttributes(attr)
	op.Handle = fuseops.HandleID(h)
	return nil
}

func (fs *FileSystem) RmDir(op *fuseops.RmDirOp) error {
	if err := fs.engine.Rmdir(uint64(op.Parent), op.Name); err != nil {
		return translateErr(err)
	}
	return nil
}

func (fs *FileSystem) Unlink(op *fuseops.UnlinkOp) error {
	if err := fs.engine.Unlink(uint64(op.Parent), op.Name); err != nil {
		return translateErr(err)
	}
	return nil
}

func (fs *FileSystem) OpenDir(op *fuseops.OpenDirOp) error {
	attr, err := fs.engine.GetAttr(uint64(op.Inode))
	if err != nil {
		return translateErr(err)
	}
	if attr.Kind != attrstore.Directory {
		return translateErr(sealerr.New(sealerr.NotADirectory, "open_dir", nil))
	}

	fs.dirHandlesMu.Lock()
	defer fs.dirHandlesMu.Unlock()
	id := fs.nextDirHandle
	fs.nextDirHandle++
	fs.dirHandles[id] = newDirHandle(fs.engine, uint64(op.Inode))
	op.Handle = id
	return nil
}

func (fs *FileSystem) ReadDir(op *fuseops.ReadDirOp) error {
	fs.dirHandlesMu.Lock()
	dh := fs.dirHandles[op.Handle]
	fs.dirHandlesMu.Unlock()
	if dh == nil {
		return translateErr(sealerr.New(sealerr.InvalidInput, "read_dir", nil))
	}

	data, err := dh.read(int(op.Offset), op.Size)
	if err != nil {
		return translateErr(err)
	}
	op.Data = data
	return nil
}

func (fs *FileSystem) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) error {
	fs.dirHandlesMu.Lock()
	defer fs.dirHandlesMu.Unlock()
	delete(fs.dirHandles, op.Handle)
	return nil
}

func (fs *FileSystem) OpenFile(op *fuseops.OpenFileOp) error {
	h, err := fs.engine.Open(uint64(op.Inode), true, true)
	if err != nil {
		return translateErr(err)
	}
	op.Handle = fuseops.HandleID(h)
	return nil
}

func (fs *FileSystem) ReadFile(op *fuseops.ReadFileOp) error {
	buf := make([]byte, op.Size)
	n, err := fs.engine.Read(uint64(op.Inode), op.Offset, buf, fsengine.HandleID(op.Handle))
	if err != nil {
		return translateErr(err)
	}
	op.Data = buf[:n]
	return nil
}

func (fs *FileSystem) WriteFile(op *fuseops.WriteFileOp) error {
	if err := fs.engine.WriteAll(uint64(op.Inode), op.Offset, op.Data, fsengine.HandleID(op.Handle)); err != nil {
		return translateErr(err)
	}
	return nil
}

func (fs *FileSystem) SyncFile(op *fuseops.SyncFileOp) error {
	if err := fs.engine.Flush(fsengine.HandleID(op.Handle)); err != nil {
		return translateErr(err)
	}
	return nil
}

func (fs *FileSystem) FlushFile(op *fuseops.FlushFileOp) error {
	if err := fs.engine.Flush(fsengine.HandleID(op.Handle)); err != nil {
		return translateErr(err)
	}
	return nil
}

func (fs *FileSystem) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) error {
	if err := fs.engine.Release(fsengine.HandleID(op.Handle)); err != nil {
		return translateErr(err)
	}
	return nil
}

func (fs *FileSystem) toInodeAttributes(attr attrstore.FileAttr) fuseops.InodeAttributes {
	mode := os.FileMode(attr.Perm)
	if attr.Kind == attrstore.Directory {
		mode |= os.ModeDir
	}
	return fuseops.InodeAttributes{
		Size:   attr.Size,
		Nlink:  uint64(attr.Nlink),
		Mode:   mode,
		Atime:  attr.Atime,
		Mtime:  attr.Mtime,
		Ctime:  attr.Ctime,
		Crtime: attr.Crtime,
		Uid:    attr.UID,
		Gid:    attr.GID,
	}
}
