package vfs

// Guard is the handle the Operations Layer holds while it uses a live
// object, standing in for the reference-counted RAII wrapper of the
// original reference (FileGuard in operations.cpp). Close must be
// called exactly once per successful Open/Create.
type Guard struct {
	table *FileTable
	id    [32]byte
	obj   Object
}

// Object returns the live representative this guard protects.
func (g *Guard) Object() Object { return g.obj }

// Close releases this guard's reference, potentially closing and
// deleting the underlying object if it was the last one outstanding
// and the object's link count has reached zero.
func (g *Guard) Close() error {
	if g == nil {
		return nil
	}
	return g.table.release(g.id)
}
