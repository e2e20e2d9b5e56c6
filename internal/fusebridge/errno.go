package fusebridge

import (
	"syscall"

	"github.com/sealfs/sealfs/internal/sealerr"
)

// translateErr maps a sealerr.Kind to the syscall.Errno the FUSE kernel
// driver expects back from a FileSystem method, the same mapping job
// gcsfuse's fs.go does inline at each call site with fuse.EEXIST,
// fuse.ENOTDIR, and so on — centralized here since sealfs has exactly one
// error taxonomy to translate from.
func translateErr(err error) error {
	if err == nil {
		return nil
	}

	switch sealerr.KindOf(err) {
	case sealerr.NotFound:
		return syscall.ENOENT
	case sealerr.AlreadyExists:
		return syscall.EEXIST
	case sealerr.NotEmpty:
		return syscall.ENOTEMPTY
	case sealerr.NotADirectory:
		return syscall.ENOTDIR
	case sealerr.IsADirectory:
		return syscall.EISDIR
	case sealerr.PermissionDenied:
		return syscall.EACCES
	case sealerr.InvalidInput:
		return syscall.EINVAL
	case sealerr.Corrupted:
		return syscall.EIO
	case sealerr.Io:
		return syscall.EIO
	case sealerr.TooManyOpenFiles:
		return syscall.EMFILE
	default:
		return syscall.EIO
	}
}
