// Package ops implements the Operations Layer (§4.6–§4.8): the VFS
// surface callers actually invoke (getattr, open, create, read, write,
// truncate, unlink, mkdir, rmdir, readdir, chmod, chown, symlink,
// readlink, rename, utimens, flush, release, statfs), path resolution
// on top of the object graph, and the single boundary where internal
// errors become POSIX error numbers.
package ops

import (
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/test-acc-vaccym/securefs/platform"
	"github.com/test-acc-vaccym/securefs/vfs"
)

// Operations is the mount-agnostic core every frontend (FUSE, a test
// harness, a future NFS bridge) drives. It owns no transport-specific
// state; cmd/securefs-mount wraps it in go-fuse's node API.
type Operations struct {
	table    *vfs.FileTable
	svc      platform.Service
	log      zerolog.Logger
	readOnly bool
}

// New builds an Operations bound to table and svc, formatting the
// repository's root directory if this is the first mount. readOnly marks
// the mount read-only (§4.4): every mutating operation on the returned
// Operations, and every allocation through table, then fails with
// KindReadonly instead of touching the backing store (§4.6, §8.4).
func New(table *vfs.FileTable, svc platform.Service, log zerolog.Logger, readOnly bool) (*Operations, error) {
	o := &Operations{table: table, svc: svc, log: log, readOnly: readOnly}
	guard, err := table.EnsureRoot(uint32(svc.Getuid()), uint32(svc.Getgid()))
	if err != nil {
		return nil, err
	}
	guard.Close()
	if readOnly {
		table.SetReadOnly(true)
	}
	return o, nil
}

// Attr is the stat-like view the Operations Layer hands back to callers.
type Attr struct {
	Uid, Gid  uint32
	Mode      os.FileMode
	Nlink     uint32
	Size      int64
	Atime     time.Time
	Mtime     time.Time
	Ctime     time.Time
	Birthtime time.Time
}

// Getattr resolves path and returns its current metadata (§6).
func (o *Operations) Getattr(path string) (Attr, error) {
	id, _, err := o.resolve(path)
	if err != nil {
		return Attr{}, err
	}
	guard, err := o.table.OpenAs(id, vfs.FlavorAny)
	if err != nil {
		return Attr{}, err
	}
	defer guard.Close()

	fb := guard.Object().Base()
	fb.Lock()
	h, size := fb.Stat()
	fb.Unlock()

	return Attr{
		Uid: h.Uid, Gid: h.Gid, Mode: h.Mode, Nlink: h.Nlink, Size: size,
		Atime: h.Atime, Mtime: h.Mtime, Ctime: h.Ctime, Birthtime: h.Birthtime,
	}, nil
}

// Chmod updates path's permission bits, preserving its type nibble.
func (o *Operations) Chmod(path string, mode os.FileMode) error {
	if o.readOnly {
		return vfs.New(vfs.KindReadonly, "chmod", path, nil)
	}
	id, _, err := o.resolve(path)
	if err != nil {
		return err
	}
	guard, err := o.table.OpenAs(id, vfs.FlavorAny)
	if err != nil {
		return err
	}
	defer guard.Close()

	fb := guard.Object().Base()
	fb.Lock()
	defer fb.Unlock()
	fb.SetMode(mode)
	return fb.Flush()
}

// Chown updates path's uid/gid; -1 leaves the corresponding field
// unchanged.
func (o *Operations) Chown(path string, uid, gid int) error {
	if o.readOnly {
		return vfs.New(vfs.KindReadonly, "chown", path, nil)
	}
	id, _, err := o.resolve(path)
	if err != nil {
		return err
	}
	guard, err := o.table.OpenAs(id, vfs.FlavorAny)
	if err != nil {
		return err
	}
	defer guard.Close()

	fb := guard.Object().Base()
	fb.Lock()
	defer fb.Unlock()
	fb.SetOwner(uid, gid)
	return fb.Flush()
}

// Utimens updates path's access and modification times.
func (o *Operations) Utimens(path string, atime, mtime time.Time) error {
	if o.readOnly {
		return vfs.New(vfs.KindReadonly, "utimens", path, nil)
	}
	id, _, err := o.resolve(path)
	if err != nil {
		return err
	}
	guard, err := o.table.OpenAs(id, vfs.FlavorAny)
	if err != nil {
		return err
	}
	defer guard.Close()

	fb := guard.Object().Base()
	fb.Lock()
	defer fb.Unlock()
	fb.SetTimes(atime, mtime)
	return fb.Flush()
}

// Statfs reports aggregate filesystem usage via the platform backend.
func (o *Operations) Statfs() (platform.StatfsResult, error) {
	return o.svc.Statfs(".")
}
