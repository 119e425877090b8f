package vfs

// RegularFile is the FileBase variant backing ordinary file content: a
// plain byte array served directly by the underlying block stream.
type RegularFile struct {
	*FileBase
}

func newRegularFile(fb *FileBase) *RegularFile {
	return &RegularFile{FileBase: fb}
}

// ReadAt reads len(buf) bytes starting at off, per §6's read operation.
func (r *RegularFile) ReadAt(buf []byte, off int64) (int, error) {
	return r.stream.ReadAt(buf, off)
}

// WriteAt writes buf at off, extending the file if necessary.
func (r *RegularFile) WriteAt(buf []byte, off int64) (int, error) {
	n, err := r.stream.WriteAt(buf, off)
	if err == nil {
		r.touchMtime()
	}
	return n, err
}

// Truncate implements the truncate operation (§6), both growing and
// shrinking.
func (r *RegularFile) Truncate(size int64) error {
	if err := r.stream.Resize(size); err != nil {
		return err
	}
	r.touchMtime()
	return nil
}

// Size returns the current logical length.
func (r *RegularFile) Size() int64 {
	return r.stream.Size()
}
