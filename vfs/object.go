package vfs

// Object is the closed sum of the three live-object variants (§9):
// *RegularFile, *Directory, *Symlink. The Operations Layer type-switches
// on the concrete type (or checks Base().Flavor()) to decide which
// operations are valid.
type Object interface {
	Base() *FileBase
}
