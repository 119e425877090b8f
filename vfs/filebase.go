package vfs

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/test-acc-vaccym/securefs/blockstream"
	"github.com/test-acc-vaccym/securefs/crypto"
)

// FileBase is the in-memory representative of one object: its common
// header, its payload block stream, and the mutex that serializes all
// access to both (§4.3). Reference counting lives in the FileTable, not
// here, per the tagged-union design note in §9.
type FileBase struct {
	mu sync.Mutex

	id     [32]byte
	flavor Flavor
	header Header
	engine crypto.BlockAE
	stream *blockstream.Stream
	now    func() time.Time

	headerDirty bool
}

func newFileBase(id [32]byte, flavor Flavor, engine crypto.BlockAE, stream *blockstream.Stream, header Header, now func() time.Time) *FileBase {
	return &FileBase{id: id, flavor: flavor, engine: engine, stream: stream, header: header, now: now}
}

// Base returns fb itself, satisfying Object for every variant that
// embeds *FileBase.
func (fb *FileBase) Base() *FileBase { return fb }

// ID returns the object's 32-byte identifier.
func (fb *FileBase) ID() [32]byte { return fb.id }

// Flavor returns which of the three variants this object is.
func (fb *FileBase) Flavor() Flavor { return fb.flavor }

// Lock acquires the object's mutex. Callers must hold it for any read,
// write, or header mutation (§4.3, §5).
func (fb *FileBase) Lock() { fb.mu.Lock() }

// Unlock releases the object's mutex.
func (fb *FileBase) Unlock() { fb.mu.Unlock() }

// Stat returns a copy of the object's current header plus its logical
// size. Callers must hold the object's lock.
func (fb *FileBase) Stat() (Header, int64) {
	h := fb.header
	h.Mode = (h.Mode &^ os.ModeType) | fb.flavor.ModeType()
	return h, fb.stream.Size()
}

// SetMode updates the permission bits, preserving the type nibble, per
// the reference chmod's `mode &= 0777; mode |= original & S_IFMT`.
func (fb *FileBase) SetMode(mode os.FileMode) {
	fb.header.Mode = (mode & os.ModePerm) | fb.flavor.ModeType()
	fb.header.Ctime = fb.now().UTC()
	fb.headerDirty = true
}

// SetOwner updates uid/gid. A value of -1 leaves the corresponding field
// unchanged, matching POSIX chown semantics.
func (fb *FileBase) SetOwner(uid, gid int) {
	if uid >= 0 {
		fb.header.Uid = uint32(uid)
	}
	if gid >= 0 {
		fb.header.Gid = uint32(gid)
	}
	fb.header.Ctime = fb.now().UTC()
	fb.headerDirty = true
}

// SetTimes updates atime/mtime (utimens).
func (fb *FileBase) SetTimes(atime, mtime time.Time) {
	fb.header.Atime = atime
	fb.header.Mtime = mtime
	fb.header.Ctime = fb.now().UTC()
	fb.headerDirty = true
}

// Nlink returns the current link count.
func (fb *FileBase) Nlink() uint32 { return fb.header.Nlink }

// SetNlink sets the link count directly, used by create/unlink/rename.
func (fb *FileBase) SetNlink(n uint32) {
	fb.header.Nlink = n
	fb.header.Ctime = fb.now().UTC()
	fb.headerDirty = true
}

// Unlink marks the object for deletion at last close by zeroing nlink,
// per §3's lifecycle: actual host-file removal happens in FileTable.close
// once the reference count also reaches zero.
func (fb *FileBase) Unlink() {
	fb.SetNlink(0)
}

// touchMtime records a write/truncate against the object.
func (fb *FileBase) touchMtime() {
	now := fb.now().UTC()
	fb.header.Mtime = now
	fb.header.Ctime = now
	fb.headerDirty = true
}

// Flush forces the header and payload stream to durable storage.
func (fb *FileBase) Flush() error {
	if fb.headerDirty {
		blob, err := sealHeader(fb.engine, &fb.header)
		if err != nil {
			return New(KindIO, "flush", "", err)
		}
		if err := fb.stream.WriteHeaderRegion(blob); err != nil {
			return New(KindIO, "flush", "", err)
		}
		fb.headerDirty = false
	}
	if err := fb.stream.Flush(); err != nil {
		return New(KindIO, "flush", "", err)
	}
	return nil
}

// closeStream releases the underlying host file handles without
// deleting them; used by FileTable.close.
func (fb *FileBase) closeStream() error {
	if err := fb.stream.Close(); err != nil {
		return fmt.Errorf("close object %x: %w", fb.id[:4], err)
	}
	return nil
}
