package fsengine

import (
	"errors"
	"os"
	"time"

	"github.com/sealfs/sealfs/internal/aead"
	"github.com/sealfs/sealfs/internal/attrstore"
	"github.com/sealfs/sealfs/internal/handle"
	"github.com/sealfs/sealfs/internal/sealerr"
)

// HandleID is the engine-facing alias of handle.ID, kept distinct so
// callers depend on fsengine's API rather than internal/handle directly.
type HandleID = handle.ID

// Open validates that ino exists and is a regular file, then allocates
// a handle over it with the requested permissions.
func (e *Engine) Open(ino uint64, wantRead, wantWrite bool) (HandleID, error) {
	attr, err := e.readAttr("open", ino)
	if err != nil {
		return 0, err
	}
	if attr.Kind != attrstore.RegularFile {
		return 0, sealerr.New(sealerr.IsADirectory, "open", nil)
	}

	id, _, err := e.handles.Open(ino, wantRead, wantWrite)
	if err != nil {
		return 0, sealerr.New(sealerr.TooManyOpenFiles, "open", err)
	}
	return id, nil
}

// Read copies up to len(buf) plaintext bytes starting at offset into
// buf, returning the number of bytes copied.
func (e *Engine) Read(ino uint64, offset int64, buf []byte, h HandleID) (int, error) {
	st := e.handles.Get(h)
	if st == nil || st.Ino != ino {
		return 0, sealerr.New(sealerr.InvalidInput, "read", nil)
	}
	if !st.CanRead {
		return 0, sealerr.New(sealerr.PermissionDenied, "read", nil)
	}

	lock := e.inodeLock(ino)
	lock.RLock()
	attr, err := e.attrs.Read(ino)
	if err != nil {
		lock.RUnlock()
		return 0, translateReadAttrErr("read", ino, err)
	}
	n, err := e.content.Read(ino, attr.Size, offset, buf)
	lock.RUnlock()
	if err != nil {
		return 0, translateContentErr("read", err)
	}

	st.Advance(int64(n))
	return n, nil
}

// WriteAll seals data into ino's content at offset, growing the file
// (zero-filling any gap) if the write extends past the current size.
func (e *Engine) WriteAll(ino uint64, offset int64, data []byte, h HandleID) error {
	st := e.handles.Get(h)
	if st == nil || st.Ino != ino {
		return sealerr.New(sealerr.InvalidInput, "write_all", nil)
	}
	if !st.CanWrite {
		return sealerr.New(sealerr.PermissionDenied, "write_all", nil)
	}

	lock := e.inodeLock(ino)
	lock.Lock()
	defer lock.Unlock()

	attr, err := e.attrs.Read(ino)
	if err != nil {
		return translateReadAttrErr("write_all", ino, err)
	}

	newSize, err := e.content.WriteAll(ino, attr.Size, offset, data)
	if err != nil {
		return translateContentErr("write_all", err)
	}

	attr.Size = newSize
	attr.Mtime = time.Now()
	attr.Ctime = attr.Mtime
	if err := e.attrs.Write(attr); err != nil {
		return sealerr.New(sealerr.Io, "write_all", err)
	}

	st.Advance(int64(len(data)))
	st.MarkDirty()
	return nil
}

// Flush makes all of h's buffered writes durable. Since WriteAll already
// writes through to disk, Flush's remaining job is to clear the dirty
// flag; it exists as a distinct call so callers that buffer writes
// elsewhere have a defined sync point.
func (e *Engine) Flush(h HandleID) error {
	st := e.handles.Get(h)
	if st == nil {
		return sealerr.New(sealerr.InvalidInput, "flush", nil)
	}
	st.ClearDirty()
	return nil
}

// Release flushes and removes h from the handle table. If the inode was
// unlinked while this was its last open handle, the inode's files are
// physically removed now (delete-on-last-close).
func (e *Engine) Release(h HandleID) error {
	if err := e.Flush(h); err != nil {
		return err
	}

	st := e.handles.Release(h)
	if st == nil {
		return nil
	}

	lock := e.inodeLock(st.Ino)
	lock.Lock()
	defer lock.Unlock()

	if e.handles.CountForInode(st.Ino) > 0 {
		return nil
	}

	if e.takePendingDelete(st.Ino) {
		if err := e.content.Remove(st.Ino); err != nil {
			return sealerr.New(sealerr.Io, "release", err)
		}
		if err := e.attrs.Remove(st.Ino); err != nil {
			return sealerr.New(sealerr.Io, "release", err)
		}
	}
	return nil
}

func translateContentErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, aead.ErrAuthFailed) {
		return sealerr.New(sealerr.Corrupted, op, err)
	}
	if os.IsNotExist(err) {
		return sealerr.New(sealerr.NotFound, op, err)
	}
	return sealerr.New(sealerr.Io, op, err)
}
