package ops

import (
	"bytes"
	"os"

	"github.com/test-acc-vaccym/securefs/vfs"
)

// FileHandle is the open-file state the Operations Layer returns for
// open/create; it keeps the object alive (via its Guard) for the
// lifetime of the handle, released on Release.
type FileHandle struct {
	guard    *vfs.Guard
	file     *vfs.RegularFile
	readOnly bool
}

// ReadAt reads from the open file, per §6's read operation.
func (h *FileHandle) ReadAt(buf []byte, off int64) (int, error) {
	h.file.Base().Lock()
	defer h.file.Base().Unlock()
	return h.file.ReadAt(buf, off)
}

// WriteAt writes to the open file, failing with KindReadonly on a
// read-only mount (§4.6, §8.4).
func (h *FileHandle) WriteAt(buf []byte, off int64) (int, error) {
	if h.readOnly {
		return 0, vfs.New(vfs.KindReadonly, "write", "", nil)
	}
	h.file.Base().Lock()
	defer h.file.Base().Unlock()
	return h.file.WriteAt(buf, off)
}

// Truncate resizes the open file.
func (h *FileHandle) Truncate(size int64) error {
	if h.readOnly {
		return vfs.New(vfs.KindReadonly, "truncate", "", nil)
	}
	h.file.Base().Lock()
	defer h.file.Base().Unlock()
	return h.file.Truncate(size)
}

// Flush persists the handle's pending state without closing it.
func (h *FileHandle) Flush() error {
	h.file.Base().Lock()
	defer h.file.Base().Unlock()
	return h.file.Flush()
}

// Release drops this handle's hold on the object (§6's release
// operation); the object is closed once no handle holds it, and its
// backing files are deleted only if no directory entry references it.
func (h *FileHandle) Release() error {
	return h.guard.Close()
}

// DirHandle is the open-directory state returned by OpenDir.
type DirHandle struct {
	guard *vfs.Guard
	dir   *vfs.Directory
}

// Readdir lists the directory's current entries.
func (h *DirHandle) Readdir() ([]vfs.DirEnt, error) {
	h.dir.Base().Lock()
	defer h.dir.Base().Unlock()
	return h.dir.List()
}

// Release closes the directory handle.
func (h *DirHandle) Release() error {
	return h.guard.Close()
}

func insertLocked(dir *vfs.Directory, name string, id [32]byte, flavor vfs.Flavor) error {
	dir.Base().Lock()
	defer dir.Base().Unlock()
	return dir.Insert(name, id, flavor)
}

func removeLocked(dir *vfs.Directory, name string) error {
	dir.Base().Lock()
	defer dir.Base().Unlock()
	return dir.Remove(name)
}

// abandonCreate unlinks and closes an object that CreateObject allocated
// but that never made it into a parent directory (a name collision, or a
// failure setting up a symlink's target). Without zeroing its link count
// first, release sees the nlink==1 CreateObject left it with and leaks
// the backing .data/.meta pair instead of purging them (§3's lifecycle:
// construct with nlink=0, only set to 1 once the directory entry exists).
func abandonCreate(guard *vfs.Guard) error {
	fb := guard.Object().Base()
	fb.Lock()
	fb.SetNlink(0)
	fb.Unlock()
	return guard.Close()
}

// OpenFile opens an existing regular file for read/write (§6's open).
func (o *Operations) OpenFile(path string) (*FileHandle, error) {
	id, flavor, err := o.resolve(path)
	if err != nil {
		return nil, err
	}
	if flavor != vfs.FlavorRegular {
		return nil, vfs.New(vfs.KindIsDir, "open", path, nil)
	}
	guard, err := o.table.OpenAs(id, vfs.FlavorRegular)
	if err != nil {
		return nil, err
	}
	return &FileHandle{guard: guard, file: guard.Object().(*vfs.RegularFile), readOnly: o.readOnly}, nil
}

// CreateFile implements the creation protocol (§4.6): allocate a fresh
// object, then bind it into the parent directory, failing with
// KindExists if the name is already taken.
func (o *Operations) CreateFile(path string, mode os.FileMode) (*FileHandle, error) {
	if o.readOnly {
		return nil, vfs.New(vfs.KindReadonly, "create", path, nil)
	}
	parentGuard, name, err := o.resolveParent(path)
	if err != nil {
		return nil, err
	}
	defer parentGuard.Close()
	dir := parentGuard.Object().(*vfs.Directory)

	id, err := vfs.GenerateID()
	if err != nil {
		return nil, err
	}
	guard, err := o.table.CreateObject(id, vfs.FlavorRegular, uint32(o.svc.Getuid()), uint32(o.svc.Getgid()), mode)
	if err != nil {
		return nil, err
	}
	if err := insertLocked(dir, name, id, vfs.FlavorRegular); err != nil {
		abandonCreate(guard)
		return nil, err
	}
	return &FileHandle{guard: guard, file: guard.Object().(*vfs.RegularFile), readOnly: o.readOnly}, nil
}

// OpenDir opens an existing directory for readdir.
func (o *Operations) OpenDir(path string) (*DirHandle, error) {
	id, flavor, err := o.resolve(path)
	if err != nil {
		return nil, err
	}
	if flavor != vfs.FlavorDirectory {
		return nil, vfs.New(vfs.KindNotDir, "opendir", path, nil)
	}
	guard, err := o.table.OpenAs(id, vfs.FlavorDirectory)
	if err != nil {
		return nil, err
	}
	return &DirHandle{guard: guard, dir: guard.Object().(*vfs.Directory)}, nil
}

// Mkdir creates a new, empty directory.
func (o *Operations) Mkdir(path string, mode os.FileMode) error {
	if o.readOnly {
		return vfs.New(vfs.KindReadonly, "mkdir", path, nil)
	}
	parentGuard, name, err := o.resolveParent(path)
	if err != nil {
		return err
	}
	defer parentGuard.Close()
	dir := parentGuard.Object().(*vfs.Directory)

	id, err := vfs.GenerateID()
	if err != nil {
		return err
	}
	guard, err := o.table.CreateObject(id, vfs.FlavorDirectory, uint32(o.svc.Getuid()), uint32(o.svc.Getgid()), os.ModeDir|mode)
	if err != nil {
		return err
	}
	if err := insertLocked(dir, name, id, vfs.FlavorDirectory); err != nil {
		abandonCreate(guard)
		return err
	}
	return guard.Close()
}

// Symlink creates a new symbolic link at linkPath pointing at target.
func (o *Operations) Symlink(target, linkPath string) error {
	if o.readOnly {
		return vfs.New(vfs.KindReadonly, "symlink", linkPath, nil)
	}
	parentGuard, name, err := o.resolveParent(linkPath)
	if err != nil {
		return err
	}
	defer parentGuard.Close()
	dir := parentGuard.Object().(*vfs.Directory)

	id, err := vfs.GenerateID()
	if err != nil {
		return err
	}
	guard, err := o.table.CreateObject(id, vfs.FlavorSymlink, uint32(o.svc.Getuid()), uint32(o.svc.Getgid()), os.ModeSymlink|0o777)
	if err != nil {
		return err
	}
	link := guard.Object().(*vfs.Symlink)
	if err := link.SetTarget(target); err != nil {
		abandonCreate(guard)
		return err
	}
	if err := insertLocked(dir, name, id, vfs.FlavorSymlink); err != nil {
		abandonCreate(guard)
		return err
	}
	return guard.Close()
}

// Readlink returns the target of the symlink at path.
func (o *Operations) Readlink(path string) (string, error) {
	id, flavor, err := o.resolve(path)
	if err != nil {
		return "", err
	}
	if flavor != vfs.FlavorSymlink {
		return "", vfs.New(vfs.KindTypeMismatch, "readlink", path, nil)
	}
	guard, err := o.table.OpenAs(id, vfs.FlavorSymlink)
	if err != nil {
		return "", err
	}
	defer guard.Close()
	return guard.Object().(*vfs.Symlink).Target()
}

// removeEmptyDirectory drops the entry named name from parentDir and
// zeros the link count of the directory object it pointed at, failing
// with KindNotEmpty if that directory still has entries. Shared by
// Rmdir and Unlink's directory branch, which the scenario in §8 expects
// to signal the same ENOTEMPTY/EEXIST rather than EISDIR.
func (o *Operations) removeEmptyDirectory(parentDir *vfs.Directory, name string, id [32]byte, op, path string) error {
	guard, err := o.table.OpenAs(id, vfs.FlavorDirectory)
	if err != nil {
		return err
	}
	childDir := guard.Object().(*vfs.Directory)
	childDir.Base().Lock()
	empty, err := childDir.Empty()
	childDir.Base().Unlock()
	if err != nil {
		guard.Close()
		return err
	}
	if !empty {
		guard.Close()
		return vfs.New(vfs.KindNotEmpty, op, path, nil)
	}

	if err := removeLocked(parentDir, name); err != nil {
		guard.Close()
		return err
	}
	fb := guard.Object().Base()
	fb.Lock()
	fb.SetNlink(0)
	fb.Unlock()
	return guard.Close()
}

// Unlink removes a directory entry, deleting the backing object once
// both its link count and reference count reach zero. A directory entry
// is accepted too (§8 scenario 3 expects unlink of a directory to signal
// ENOTEMPTY when it still holds entries, via the same structural
// precondition Rmdir checks, rather than EISDIR).
func (o *Operations) Unlink(path string) error {
	if o.readOnly {
		return vfs.New(vfs.KindReadonly, "unlink", path, nil)
	}
	parentGuard, name, err := o.resolveParent(path)
	if err != nil {
		return err
	}
	defer parentGuard.Close()
	dir := parentGuard.Object().(*vfs.Directory)

	id, flavor, err := lookupLocked(dir, name)
	if err != nil {
		return err
	}
	if flavor == vfs.FlavorDirectory {
		return o.removeEmptyDirectory(dir, name, id, "unlink", path)
	}
	if err := removeLocked(dir, name); err != nil {
		return err
	}

	guard, err := o.table.OpenAs(id, vfs.FlavorAny)
	if err != nil {
		return err
	}
	fb := guard.Object().Base()
	fb.Lock()
	fb.SetNlink(fb.Nlink() - 1)
	fb.Unlock()
	return guard.Close()
}

// Rmdir removes an empty directory.
func (o *Operations) Rmdir(path string) error {
	if o.readOnly {
		return vfs.New(vfs.KindReadonly, "rmdir", path, nil)
	}
	parentGuard, name, err := o.resolveParent(path)
	if err != nil {
		return err
	}
	defer parentGuard.Close()
	parentDir := parentGuard.Object().(*vfs.Directory)

	id, flavor, err := lookupLocked(parentDir, name)
	if err != nil {
		return err
	}
	if flavor != vfs.FlavorDirectory {
		return vfs.New(vfs.KindNotDir, "rmdir", path, nil)
	}
	return o.removeEmptyDirectory(parentDir, name, id, "rmdir", path)
}

// Link is NOT_IMPLEMENTED: the object model's single-parent-per-object
// layout (§9) has no slot for a second directory entry pointing at the
// same id, so POSIX hardlinks are out of scope rather than emulated.
func (o *Operations) Link(oldPath, newPath string) error {
	return vfs.New(vfs.KindNotImplemented, "link", newPath, nil)
}

// Rename moves the entry at oldPath to newPath. The whole critical
// section — locking the two parent directories in a fixed order (by
// object id) and adjusting the link count of any entry it overwrites —
// runs under the FileTable mutex via RenameLocked, so it always acquires
// locks in the M_T-before-FileBase order from §5 and never the reverse
// (which is what release, locking the same two in that order, requires
// to avoid deadlocking against a concurrent rename).
func (o *Operations) Rename(oldPath, newPath string) error {
	if o.readOnly {
		return vfs.New(vfs.KindReadonly, "rename", newPath, nil)
	}
	oldParentGuard, oldName, err := o.resolveParent(oldPath)
	if err != nil {
		return err
	}
	defer oldParentGuard.Close()
	newParentGuard, newName, err := o.resolveParent(newPath)
	if err != nil {
		return err
	}
	defer newParentGuard.Close()

	oldDir := oldParentGuard.Object().(*vfs.Directory)
	newDir := newParentGuard.Object().(*vfs.Directory)

	return o.table.RenameLocked(func(decrementNlink func(id [32]byte) error) error {
		first, second := oldDir, newDir
		oldDirID, newDirID := oldDir.ID(), newDir.ID()
		if bytes.Compare(oldDirID[:], newDirID[:]) > 0 {
			first, second = newDir, oldDir
		}
		sameDir := oldDir.ID() == newDir.ID()

		first.Base().Lock()
		if !sameDir {
			second.Base().Lock()
		}
		defer first.Base().Unlock()
		if !sameDir {
			defer second.Base().Unlock()
		}

		id, flavor, err := oldDir.Lookup(oldName)
		if err != nil {
			return err
		}

		if existingID, existingFlavor, err := newDir.Lookup(newName); err == nil {
			if existingFlavor == vfs.FlavorDirectory {
				return vfs.New(vfs.KindIsDir, "rename", newPath, nil)
			}
			if err := newDir.Remove(newName); err != nil {
				return err
			}
			if err := decrementNlink(existingID); err != nil {
				return err
			}
		}

		if err := oldDir.Remove(oldName); err != nil {
			return err
		}
		return newDir.Insert(newName, id, flavor)
	})
}
