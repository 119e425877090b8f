package platform

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/absfs/absfs"
	"github.com/absfs/memfs"
)

// AbsFSService implements Service by delegating to an absfs.FileSystem,
// the teacher's own filesystem abstraction. It backs tests (via an
// in-memory absfs/memfs filesystem) and can equally wrap any other
// absfs-compatible backend.
type AbsFSService struct {
	fs  absfs.FileSystem
	uid int
	gid int
}

// NewAbsFSService wraps base. uid/gid are supplied by the caller since
// absfs.FileSystem carries no notion of a POSIX process identity.
func NewAbsFSService(base absfs.FileSystem, uid, gid int) *AbsFSService {
	return &AbsFSService{fs: base, uid: uid, gid: gid}
}

// NewMemService builds an AbsFSService over a fresh in-memory
// absfs/memfs filesystem, for use in tests.
func NewMemService(uid, gid int) (*AbsFSService, error) {
	fs, err := memfs.NewFS()
	if err != nil {
		return nil, err
	}
	return NewAbsFSService(fs, uid, gid), nil
}

type absfsRandomAccessFile struct {
	f absfs.File
}

func (a *absfsRandomAccessFile) ReadAt(p []byte, off int64) (int, error)  { return a.f.ReadAt(p, off) }
func (a *absfsRandomAccessFile) WriteAt(p []byte, off int64) (int, error) { return a.f.WriteAt(p, off) }
func (a *absfsRandomAccessFile) Truncate(size int64) error                { return a.f.Truncate(size) }
func (a *absfsRandomAccessFile) Sync() error                              { return a.f.Sync() }
func (a *absfsRandomAccessFile) Close() error                             { return a.f.Close() }

func (s *AbsFSService) OpenFileStream(path string, flag int, mode os.FileMode) (RandomAccessFile, error) {
	f, err := s.fs.OpenFile(path, flag, mode)
	if err != nil {
		return nil, err
	}
	return &absfsRandomAccessFile{f: f}, nil
}

func (s *AbsFSService) RemoveFile(path string) error { return s.fs.Remove(path) }
func (s *AbsFSService) RemoveDir(path string) error  { return s.fs.Remove(path) }

func (s *AbsFSService) Mkdir(path string, mode os.FileMode) error {
	err := s.fs.Mkdir(path, mode)
	if err != nil && errors.Is(err, os.ErrExist) {
		return nil
	}
	return err
}

func (s *AbsFSService) Rename(oldpath, newpath string) error {
	return s.fs.Rename(oldpath, newpath)
}

func (s *AbsFSService) Stat(path string) (StatResult, error) {
	info, err := s.fs.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return StatResult{Present: false}, nil
		}
		return StatResult{}, err
	}
	return StatResult{
		Present: true,
		Size:    info.Size(),
		Mode:    info.Mode(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}, nil
}

func (s *AbsFSService) Utimens(path string, atime, mtime time.Time) error {
	return s.fs.Chtimes(path, atime, mtime)
}

func (s *AbsFSService) Statfs(path string) (StatfsResult, error) {
	// absfs.FileSystem exposes no statfs equivalent; report a
	// nominal, generously large filesystem.
	return StatfsResult{BlockSize: 4096, Blocks: 1 << 32, BlocksFree: 1 << 32}, nil
}

func (s *AbsFSService) Chmod(path string, mode os.FileMode) error {
	return s.fs.Chmod(path, mode)
}

type absfsTraverser struct {
	f       absfs.File
	entries []os.FileInfo
	idx     int
	loaded  bool
}

func (t *absfsTraverser) Next() (string, ObjectKind, bool, error) {
	if !t.loaded {
		entries, err := t.f.Readdir(-1)
		if err != nil {
			return "", KindUnknown, false, err
		}
		// Some absfs backends list "." and ".."; skip them so the
		// traversal matches the POSIX backend's.
		for _, info := range entries {
			if name := info.Name(); name != "." && name != ".." {
				t.entries = append(t.entries, info)
			}
		}
		t.loaded = true
	}
	if t.idx >= len(t.entries) {
		return "", KindUnknown, false, nil
	}
	info := t.entries[t.idx]
	t.idx++

	kind := KindRegular
	if info.IsDir() {
		kind = KindDirectory
	} else if info.Mode()&os.ModeSymlink != 0 {
		kind = KindSymlink
	}
	return info.Name(), kind, true, nil
}

func (t *absfsTraverser) Close() error { return t.f.Close() }

func (s *AbsFSService) CreateTraverser(dir string) (Traverser, error) {
	f, err := s.fs.Open(dir)
	if err != nil {
		return nil, err
	}
	return &absfsTraverser{f: f}, nil
}

// Lock is best-effort only: absfs.FileSystem has no native advisory
// locking primitive, so the repository lock degrades to an exclusive
// create of a lock file.
func (s *AbsFSService) Lock(path string) (io.Closer, error) {
	f, err := s.fs.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, errors.New("repository already locked")
	}
	return closerFunc(func() error {
		name := f.Name()
		f.Close()
		return s.fs.Remove(name)
	}), nil
}

type closerFunc func() error

func (c closerFunc) Close() error { return c() }

func (s *AbsFSService) Getuid() int { return s.uid }
func (s *AbsFSService) Getgid() int { return s.gid }

func (s *AbsFSService) Now() time.Time { return time.Now() }

func (s *AbsFSService) RaiseFDLimit() error { return nil }
