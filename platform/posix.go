package platform

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// PosixService implements Service directly against the local POSIX
// filesystem, used when the data directory is a real on-disk path
// rather than an in-memory test fixture.
type PosixService struct {
	root string

	once sync.Once
	uid  int
	gid  int
}

// NewPosixService roots a PosixService at dir; all paths passed to its
// methods are treated as relative to dir.
func NewPosixService(dir string) *PosixService {
	return &PosixService{root: dir}
}

func (p *PosixService) resolve(path string) string {
	return filepath.Join(p.root, path)
}

func (p *PosixService) OpenFileStream(path string, flag int, mode os.FileMode) (RandomAccessFile, error) {
	f, err := os.OpenFile(p.resolve(path), flag, mode)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (p *PosixService) RemoveFile(path string) error {
	return os.Remove(p.resolve(path))
}

func (p *PosixService) RemoveDir(path string) error {
	return os.Remove(p.resolve(path))
}

func (p *PosixService) Mkdir(path string, mode os.FileMode) error {
	err := os.Mkdir(p.resolve(path), mode)
	if err != nil && errors.Is(err, os.ErrExist) {
		return nil
	}
	return err
}

func (p *PosixService) Rename(oldpath, newpath string) error {
	return os.Rename(p.resolve(oldpath), p.resolve(newpath))
}

func (p *PosixService) Stat(path string) (StatResult, error) {
	info, err := os.Stat(p.resolve(path))
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

func (p *PosixService) Utimens(path string, atime, mtime time.Time) error {
	return os.Chtimes(p.resolve(path), atime, mtime)
}

func (p *PosixService) Statfs(path string) (StatfsResult, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(p.resolve(path), &st); err != nil {
		return StatfsResult{}, fmt.Errorf("statfs: %w", err)
	}
	return StatfsResult{
		BlockSize:  uint32(st.Bsize),
		Blocks:     st.Blocks,
		BlocksFree: st.Bfree,
		Files:      st.Files,
		FilesFree:  st.Ffree,
	}, nil
}

func (p *PosixService) Chmod(path string, mode os.FileMode) error {
	return os.Chmod(p.resolve(path), mode)
}

func (p *PosixService) CreateTraverser(dir string) (Traverser, error) {
	f, err := os.Open(p.resolve(dir))
	if err != nil {
		return nil, err
	}
	return &posixTraverser{f: f}, nil
}

type posixTraverser struct {
	f       *os.File
	entries []os.DirEntry
	idx     int
	loaded  bool
}

func (t *posixTraverser) Next() (string, ObjectKind, bool, error) {
	if !t.loaded {
		entries, err := t.f.ReadDir(-1)
		if err != nil {
			return "", KindUnknown, false, err
		}
		t.entries = entries
		t.loaded = true
	}
	if t.idx >= len(t.entries) {
		return "", KindUnknown, false, nil
	}
	entry := t.entries[t.idx]
	t.idx++

	kind := KindRegular
	if entry.IsDir() {
		kind = KindDirectory
	} else if entry.Type()&os.ModeSymlink != 0 {
		kind = KindSymlink
	}
	return entry.Name(), kind, true, nil
}

func (t *posixTraverser) Close() error { return t.f.Close() }

// flock implements an advisory whole-file lock via unix.Flock, released
// when the returned io.Closer is closed.
type flock struct {
	f *os.File
}

func (l *flock) Close() error {
	defer l.f.Close()
	return unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
}

func (p *PosixService) Lock(path string) (io.Closer, error) {
	f, err := os.OpenFile(p.resolve(path), os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("repository already locked: %w", err)
	}
	return &flock{f: f}, nil
}

func (p *PosixService) Getuid() int {
	p.once.Do(func() {
		p.uid = unix.Getuid()
		p.gid = unix.Getgid()
	})
	return p.uid
}

func (p *PosixService) Getgid() int {
	p.once.Do(func() {
		p.uid = unix.Getuid()
		p.gid = unix.Getgid()
	})
	return p.gid
}

func (p *PosixService) Now() time.Time { return time.Now() }

func (p *PosixService) RaiseFDLimit() error {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		return err
	}
	if rlimit.Cur >= rlimit.Max {
		return nil
	}
	rlimit.Cur = rlimit.Max
	return unix.Setrlimit(unix.RLIMIT_NOFILE, &rlimit)
}
