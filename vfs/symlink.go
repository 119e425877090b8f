package vfs

// Symlink is the FileBase variant storing a UTF-8 link target as its
// entire payload (§4.4). Targets are small, so the whole content is
// read and rewritten on every access rather than treated as a stream.
type Symlink struct {
	*FileBase
}

func newSymlink(fb *FileBase) *Symlink {
	return &Symlink{FileBase: fb}
}

// Target returns the link's target path.
func (s *Symlink) Target() (string, error) {
	size := s.stream.Size()
	buf := make([]byte, size)
	if size > 0 {
		if _, err := s.stream.ReadAt(buf, 0); err != nil {
			return "", New(KindIO, "readlink", "", err)
		}
	}
	return string(buf), nil
}

// SetTarget overwrites the link's target, used only at creation time —
// symlink targets are immutable thereafter per §6.
func (s *Symlink) SetTarget(target string) error {
	if err := s.stream.Resize(int64(len(target))); err != nil {
		return err
	}
	if _, err := s.stream.WriteAt([]byte(target), 0); err != nil {
		return err
	}
	s.touchMtime()
	return nil
}
