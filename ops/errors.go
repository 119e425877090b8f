package ops

import (
	"syscall"

	"github.com/test-acc-vaccym/securefs/vfs"
)

// translate maps an internal error to the POSIX error number the
// mount frontend reports to the kernel, the single error-translation
// boundary called for by §7. Grounded on fusekit's sysErrno, generalized
// from Go's stdlib error sentinels to vfs.ErrKind.
func translate(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	switch vfs.KindOf(err) {
	case vfs.KindNotFound:
		return syscall.ENOENT
	case vfs.KindExists:
		return syscall.EEXIST
	case vfs.KindNotDir:
		return syscall.ENOTDIR
	case vfs.KindIsDir:
		return syscall.EISDIR
	case vfs.KindTypeMismatch:
		return syscall.EINVAL
	case vfs.KindReadonly:
		return syscall.EROFS
	case vfs.KindNotImplemented:
		return syscall.ENOSYS
	case vfs.KindAuthFail:
		return syscall.EIO
	case vfs.KindIO:
		return syscall.EIO
	case vfs.KindCorrupt:
		return syscall.EIO
	case vfs.KindNoSpace:
		return syscall.ENOSPC
	case vfs.KindNotEmpty:
		return syscall.ENOTEMPTY
	default:
		return syscall.EPERM
	}
}

// Errno exposes translate to the mount frontend package.
func Errno(err error) syscall.Errno {
	return translate(err)
}
