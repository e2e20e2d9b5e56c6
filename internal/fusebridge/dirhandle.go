package fusebridge

import (
	"sync"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/sealfs/sealfs/internal/attrstore"
	"github.com/sealfs/sealfs/internal/fsengine"
)

// dirHandle buffers one Readdir listing per open directory handle, the way
// gcsfuse's own dirHandle buffers a GCS listing page: the plaintext entry
// set is read once and served out of the buffer across successive ReadDir
// calls at increasing offsets.
type dirHandle struct {
	engine *fsengine.Engine
	parent uint64

	mu      sync.Mutex
	entries []fuseutil.Dirent
	loaded  bool
}

func newDirHandle(engine *fsengine.Engine, parent uint64) *dirHandle {
	return &dirHandle{engine: engine, parent: parent}
}

func (dh *dirHandle) read(offset int, size int) ([]byte, error) {
	dh.mu.Lock()
	defer dh.mu.Unlock()

	if offset == 0 || !dh.loaded {
		if err := dh.load(); err != nil {
			return nil, err
		}
	}

	if offset > len(dh.entries) {
		return nil, nil
	}

	var out []byte
	for i := offset; i < len(dh.entries); i++ {
		appended := fuseutil.AppendDirent(out, dh.entries[i])
		if len(appended) > size {
			break
		}
		out = appended
	}
	return out, nil
}

func (dh *dirHandle) load() error {
	raw, err := dh.engine.Readdir(dh.parent, 0)
	if err != nil {
		return err
	}

	entries := make([]fuseutil.Dirent, 0, len(raw))
	for i, e := range raw {
		dtype := fuseutil.DT_File
		if e.Kind == attrstore.Directory {
			dtype = fuseutil.DT_Directory
		}
		entries = append(entries, fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  fuseops.InodeID(e.Ino),
			Name:   e.Name,
			Type:   dtype,
		})
	}
	dh.entries = entries
	dh.loaded = true
	return nil
}
