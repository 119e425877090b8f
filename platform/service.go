// Package platform abstracts the host-filesystem operations the core
// relies on: opening random-access byte streams, directory mutation,
// stat/statfs, advisory locking, and the current user/group identity
// and clock. Two back-ends and host-filesystem divergence in general are
// expected to live behind this single interface (see win.cpp's OSService
// in the original reference and absfs.FileSystem in the teacher repo).
package platform

import (
	"errors"
	"io"
	"os"
	"time"
)

// ObjectKind is the type hint a directory traversal reports for each entry.
type ObjectKind uint8

const (
	KindUnknown ObjectKind = iota
	KindRegular
	KindDirectory
	KindSymlink
)

// RandomAccessFile is the byte-addressable host file handle the block
// stream reads and writes through.
type RandomAccessFile interface {
	io.Closer
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Truncate(size int64) error
	Sync() error
}

// StatResult carries the subset of host stat information the core needs;
// Present is false when the path does not exist (not an error).
type StatResult struct {
	Present bool
	Size    int64
	Mode    os.FileMode
	ModTime time.Time
	IsDir   bool
}

// StatfsResult mirrors the handful of statfs fields the Operations Layer
// surfaces to callers (see other_examples/marmos91-dnfs__fs.go's FSStat
// for the analogous shape).
type StatfsResult struct {
	BlockSize  uint32
	Blocks     uint64
	BlocksFree uint64
	Files      uint64
	FilesFree  uint64
}

// Traverser iterates the entries of one host directory.
type Traverser interface {
	// Next returns the next entry, or ok=false once exhausted.
	Next() (name string, kind ObjectKind, ok bool, err error)
	Close() error
}

// Service is the downward interface (§6) the core's FileTable and
// Directory index use to reach the host filesystem. Implementations must
// return ErrNotImplemented for operations they cannot faithfully provide
// (e.g. hardlink-style rename-replace semantics on some back-ends).
type Service interface {
	OpenFileStream(path string, flag int, mode os.FileMode) (RandomAccessFile, error)
	RemoveFile(path string) error
	RemoveDir(path string) error
	Mkdir(path string, mode os.FileMode) error
	Rename(oldpath, newpath string) error
	Stat(path string) (StatResult, error)
	Utimens(path string, atime, mtime time.Time) error
	Statfs(path string) (StatfsResult, error)
	Chmod(path string, mode os.FileMode) error
	CreateTraverser(dir string) (Traverser, error)
	Lock(path string) (io.Closer, error)
	Getuid() int
	Getgid() int
	Now() time.Time
	RaiseFDLimit() error
}

// ErrNotImplemented is returned by Service methods a given backend
// cannot faithfully provide.
var ErrNotImplemented = errors.New("platform: operation not implemented on this backend")
