package ops

import (
	"path"
	"strings"

	"github.com/test-acc-vaccym/securefs/vfs"
)

func splitComponents(p string) []string {
	p = strings.Trim(path.Clean(p), "/")
	if p == "" || p == "." {
		return nil
	}
	return strings.Split(p, "/")
}

// lookupLocked takes dir's object lock for the duration of the name
// lookup, per §4.3's rule that every read or write of an object's state
// happens under its own mutex.
func lookupLocked(dir *vfs.Directory, name string) ([32]byte, vfs.Flavor, error) {
	dir.Base().Lock()
	defer dir.Base().Unlock()
	return dir.Lookup(name)
}

// resolveDir walks from the root to the directory named by p (a clean,
// slash-separated path with no leading component resolution already
// done), per the path resolution step of §4.7 (open_base_dir in the
// original reference).
func (o *Operations) resolveDir(p string) ([32]byte, error) {
	id := vfs.RootID
	for _, part := range splitComponents(p) {
		guard, err := o.table.OpenAs(id, vfs.FlavorDirectory)
		if err != nil {
			return id, err
		}
		childID, flavor, err := lookupLocked(guard.Object().(*vfs.Directory), part)
		guard.Close()
		if err != nil {
			return id, err
		}
		if flavor != vfs.FlavorDirectory {
			return id, vfs.New(vfs.KindNotDir, "resolve", p, nil)
		}
		id = childID
	}
	return id, nil
}

// resolve finds the id and flavor of the object at p (open_all in the
// original reference).
func (o *Operations) resolve(p string) (id [32]byte, flavor vfs.Flavor, err error) {
	parts := splitComponents(p)
	if len(parts) == 0 {
		return vfs.RootID, vfs.FlavorDirectory, nil
	}
	parentID, err := o.resolveDir(strings.Join(parts[:len(parts)-1], "/"))
	if err != nil {
		return id, flavor, err
	}
	guard, err := o.table.OpenAs(parentID, vfs.FlavorDirectory)
	if err != nil {
		return id, flavor, err
	}
	defer guard.Close()
	return lookupLocked(guard.Object().(*vfs.Directory), parts[len(parts)-1])
}

// resolveParent opens and returns the guard for p's parent directory
// plus p's final name component. The caller must Close the guard.
func (o *Operations) resolveParent(p string) (*vfs.Guard, string, error) {
	parts := splitComponents(p)
	if len(parts) == 0 {
		return nil, "", vfs.New(vfs.KindExists, "resolve", p, nil)
	}
	parentID, err := o.resolveDir(strings.Join(parts[:len(parts)-1], "/"))
	if err != nil {
		return nil, "", err
	}
	guard, err := o.table.OpenAs(parentID, vfs.FlavorDirectory)
	if err != nil {
		return nil, "", err
	}
	return guard, parts[len(parts)-1], nil
}
