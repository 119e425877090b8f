package vfs

import (
	"os"
	"sync"
)

// FlavorAny tells FileTable.OpenAs to accept whatever flavor is already
// on disk, deferring the type check to the caller.
const FlavorAny Flavor = 255

type tableEntry struct {
	obj      Object
	refcount int32
}

// FileTable guarantees at most one live FileBase per object id (§4.3,
// §9): every lookup either returns the already-open representative or
// opens it fresh, and the reference count — not the object — decides
// when it is safe to close the backing files. Its mutex is always
// acquired before any individual object's lock (the M_T-before-object
// ordering from §5).
type FileTable struct {
	mu       sync.Mutex
	store    *Store
	entries  map[[32]byte]*tableEntry
	readOnly bool
}

// NewFileTable builds an empty table backed by store.
func NewFileTable(store *Store) *FileTable {
	return &FileTable{store: store, entries: make(map[[32]byte]*tableEntry)}
}

// SetReadOnly marks the table read-only; CreateObject starts rejecting
// new allocations with KindReadonly, matching a read-only mount's rule
// that no object may come into existence (§4.4).
func (ft *FileTable) SetReadOnly(ro bool) {
	ft.mu.Lock()
	ft.readOnly = ro
	ft.mu.Unlock()
}

// ReadOnly reports whether the table was mounted read-only.
func (ft *FileTable) ReadOnly() bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.readOnly
}

// OpenAs returns a Guard for id, opening it from the backing store if
// it is not already live. If want is not FlavorAny and the object's
// actual flavor differs, it fails with KindTypeMismatch without
// incrementing the reference count.
func (ft *FileTable) OpenAs(id [32]byte, want Flavor) (*Guard, error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	if e, ok := ft.entries[id]; ok {
		if want != FlavorAny && e.obj.Base().Flavor() != want {
			return nil, New(KindTypeMismatch, "open", "", nil)
		}
		e.refcount++
		return &Guard{table: ft, id: id, obj: e.obj}, nil
	}

	obj, err := ft.store.Open(id)
	if err != nil {
		return nil, err
	}
	if want != FlavorAny && obj.Base().Flavor() != want {
		obj.Base().closeStream()
		return nil, New(KindTypeMismatch, "open", "", nil)
	}
	ft.entries[id] = &tableEntry{obj: obj, refcount: 1}
	return &Guard{table: ft, id: id, obj: obj}, nil
}

// CreateObject allocates a brand-new object under id and registers it
// live with a reference count of one. Ids come from GenerateID, so an id
// that is already live here indicates corruption rather than a normal
// race; a name collision is detected afterwards, when the caller inserts
// the new id into the parent Directory.
func (ft *FileTable) CreateObject(id [32]byte, flavor Flavor, uid, gid uint32, mode os.FileMode) (*Guard, error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	if ft.readOnly {
		return nil, New(KindReadonly, "create", "", nil)
	}
	if _, ok := ft.entries[id]; ok {
		return nil, New(KindExists, "create", "", nil)
	}
	obj, err := ft.store.Create(id, flavor, uid, gid, mode)
	if err != nil {
		return nil, err
	}
	ft.entries[id] = &tableEntry{obj: obj, refcount: 1}
	return &Guard{table: ft, id: id, obj: obj}, nil
}

// EnsureRoot opens the root directory if one has already been
// initialized, or creates it (owned by uid/gid, mode 0755) if this is a
// freshly formatted repository.
func (ft *FileTable) EnsureRoot(uid, gid uint32) (*Guard, error) {
	if guard, err := ft.OpenAs(RootID, FlavorDirectory); err == nil {
		return guard, nil
	}
	return ft.CreateObject(RootID, FlavorDirectory, uid, gid, os.ModeDir|0o755)
}

// release drops one reference to id, closing and — if its link count has
// also reached zero — deleting the backing object once the count hits
// zero. Called only through Guard.Close.
func (ft *FileTable) release(id [32]byte) error {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	e, ok := ft.entries[id]
	if !ok {
		return nil
	}
	e.refcount--
	if e.refcount > 0 {
		return nil
	}

	fb := e.obj.Base()
	fb.Lock()
	flushErr := fb.Flush()
	nlink := fb.Nlink()
	closeErr := fb.closeStream()
	fb.Unlock()

	delete(ft.entries, id)

	if flushErr != nil {
		return flushErr
	}
	if closeErr != nil {
		return closeErr
	}
	if nlink == 0 {
		return ft.store.Remove(id)
	}
	return nil
}

// decrementNlinkLocked finds or opens id's object and drops its link
// count by one. Assumes ft.mu is already held by the caller (RenameLocked),
// so it touches ft.entries directly instead of going through OpenAs/Close,
// which would try to re-acquire ft.mu. If this is the object's only
// reference and its link count lands at zero, the object is finalized
// (closed, backing files removed) right here, mirroring release.
func (ft *FileTable) decrementNlinkLocked(id [32]byte) error {
	e, ok := ft.entries[id]
	if !ok {
		obj, err := ft.store.Open(id)
		if err != nil {
			return err
		}
		e = &tableEntry{obj: obj, refcount: 0}
		ft.entries[id] = e
	}

	fb := e.obj.Base()
	fb.Lock()
	fb.SetNlink(fb.Nlink() - 1)
	nlink := fb.Nlink()
	flushErr := fb.Flush()
	fb.Unlock()
	if flushErr != nil {
		return flushErr
	}

	if e.refcount > 0 {
		return nil
	}
	fb.Lock()
	closeErr := fb.closeStream()
	fb.Unlock()
	delete(ft.entries, id)
	if closeErr != nil {
		return closeErr
	}
	if nlink == 0 {
		return ft.store.Remove(id)
	}
	return nil
}

// RenameLocked runs fn with the FileTable mutex held for its entire
// duration, so a rename's directory locks and any nlink adjustment to
// an object it overwrites happen as one critical section entered in the
// M_T-before-FileBase order (§5) — never the reverse, which is what let
// a rename's directory locks interleave with release's M_T acquisition
// and deadlock. fn receives decrementNlink bound to this same critical
// section; it must not call back into OpenAs, CreateObject, or
// Guard.Close, all of which would try to re-lock ft.mu.
func (ft *FileTable) RenameLocked(fn func(decrementNlink func(id [32]byte) error) error) error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return fn(ft.decrementNlinkLocked)
}
