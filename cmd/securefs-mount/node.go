package main

import (
	"context"
	"os"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/test-acc-vaccym/securefs/ops"
	"github.com/test-acc-vaccym/securefs/vfs"
)

// Node is the go-fuse inode backing one path in the mounted tree,
// delegating every operation to an *ops.Operations. Grounded on
// tractordev-wanix/fusekit's Node, generalized from an io/fs.FS wrapper
// to our Operations Layer.
type Node struct {
	fs.Inode
	ops  *ops.Operations
	path string
}

func (n *Node) child(name string) *Node {
	p := name
	if n.path != "" {
		p = n.path + "/" + name
	}
	return &Node{ops: n.ops, path: p}
}

func applyAttr(out *fuse.Attr, a ops.Attr) {
	out.Uid = a.Uid
	out.Gid = a.Gid
	out.Mode = uint32(a.Mode)
	out.Nlink = a.Nlink
	out.Size = uint64(a.Size)
	out.SetTimes(&a.Atime, &a.Mtime, &a.Ctime)
}

var _ = (fs.NodeGetattrer)((*Node)(nil))

func (n *Node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	a, err := n.ops.Getattr(n.path)
	if err != nil {
		return ops.Errno(err)
	}
	applyAttr(&out.Attr, a)
	return 0
}

var _ = (fs.NodeSetattrer)((*Node)(nil))

func (n *Node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if mode, ok := in.GetMode(); ok {
		if err := n.ops.Chmod(n.path, os.FileMode(mode)); err != nil {
			return ops.Errno(err)
		}
	}
	if uid, ok := in.GetUID(); ok {
		gid := -1
		if g, ok := in.GetGID(); ok {
			gid = int(g)
		}
		if err := n.ops.Chown(n.path, int(uid), gid); err != nil {
			return ops.Errno(err)
		}
	}
	if sz, ok := in.GetSize(); ok {
		if h, err := n.ops.OpenFile(n.path); err == nil {
			err := h.Truncate(int64(sz))
			h.Release()
			if err != nil {
				return ops.Errno(err)
			}
		}
	}
	if mtime, ok := in.GetMTime(); ok {
		atime := mtime
		if a, ok := in.GetATime(); ok {
			atime = a
		}
		if err := n.ops.Utimens(n.path, atime, mtime); err != nil {
			return ops.Errno(err)
		}
	}
	return n.Getattr(ctx, f, out)
}

var _ = (fs.NodeLookuper)((*Node)(nil))

func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child := n.child(name)
	a, err := n.ops.Getattr(child.path)
	if err != nil {
		return nil, ops.Errno(err)
	}
	applyAttr(&out.Attr, a)
	return n.NewInode(ctx, child, fs.StableAttr{Mode: uint32(a.Mode) & syscall.S_IFMT}), 0
}

var _ = (fs.NodeOpendirer)((*Node)(nil))

func (n *Node) Opendir(ctx context.Context) syscall.Errno {
	h, err := n.ops.OpenDir(n.path)
	if err != nil {
		return ops.Errno(err)
	}
	return ops.Errno(h.Release())
}

var _ = (fs.NodeReaddirer)((*Node)(nil))

func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	h, err := n.ops.OpenDir(n.path)
	if err != nil {
		return nil, ops.Errno(err)
	}
	defer h.Release()

	entries, err := h.Readdir()
	if err != nil {
		return nil, ops.Errno(err)
	}
	out := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		mode := uint32(fuse.S_IFREG)
		switch e.Kind {
		case vfs.FlavorDirectory:
			mode = fuse.S_IFDIR
		case vfs.FlavorSymlink:
			mode = fuse.S_IFLNK
		}
		out = append(out, fuse.DirEntry{Name: e.Name, Mode: mode})
	}
	return fs.NewListDirStream(out), 0
}

var _ = (fs.NodeMkdirer)((*Node)(nil))

func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child := n.child(name)
	if err := n.ops.Mkdir(child.path, os.FileMode(mode)); err != nil {
		return nil, ops.Errno(err)
	}
	a, err := n.ops.Getattr(child.path)
	if err != nil {
		return nil, ops.Errno(err)
	}
	applyAttr(&out.Attr, a)
	return n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFDIR}), 0
}

var _ = (fs.NodeRmdirer)((*Node)(nil))

func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return ops.Errno(n.ops.Rmdir(n.child(name).path))
}

var _ = (fs.NodeUnlinker)((*Node)(nil))

func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	return ops.Errno(n.ops.Unlink(n.child(name).path))
}

var _ = (fs.NodeRenamer)((*Node)(nil))

func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	np, ok := newParent.(*Node)
	if !ok {
		return syscall.EINVAL
	}
	return ops.Errno(n.ops.Rename(n.child(name).path, np.child(newName).path))
}

var _ = (fs.NodeSymlinker)((*Node)(nil))

func (n *Node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child := n.child(name)
	if err := n.ops.Symlink(target, child.path); err != nil {
		return nil, ops.Errno(err)
	}
	a, err := n.ops.Getattr(child.path)
	if err != nil {
		return nil, ops.Errno(err)
	}
	applyAttr(&out.Attr, a)
	return n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFLNK}), 0
}

var _ = (fs.NodeReadlinker)((*Node)(nil))

func (n *Node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, err := n.ops.Readlink(n.path)
	if err != nil {
		return nil, ops.Errno(err)
	}
	return []byte(target), 0
}

var _ = (fs.NodeCreater)((*Node)(nil))

func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	child := n.child(name)
	h, err := n.ops.CreateFile(child.path, os.FileMode(mode))
	if err != nil {
		return nil, nil, 0, ops.Errno(err)
	}
	a, err := n.ops.Getattr(child.path)
	if err != nil {
		h.Release()
		return nil, nil, 0, ops.Errno(err)
	}
	applyAttr(&out.Attr, a)
	inode := n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFREG})
	return inode, &FileHandle{h: h}, 0, 0
}

var _ = (fs.NodeOpener)((*Node)(nil))

func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	h, err := n.ops.OpenFile(n.path)
	if err != nil {
		return nil, 0, ops.Errno(err)
	}
	return &FileHandle{h: h}, 0, 0
}

// FileHandle is the go-fuse file handle for an open regular file.
type FileHandle struct {
	h *ops.FileHandle
}

var _ = (fs.FileReader)((*FileHandle)(nil))

func (fh *FileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := fh.h.ReadAt(dest, off)
	if err != nil && n == 0 {
		return nil, ops.Errno(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

var _ = (fs.FileWriter)((*FileHandle)(nil))

func (fh *FileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := fh.h.WriteAt(data, off)
	if err != nil {
		return uint32(n), ops.Errno(err)
	}
	return uint32(n), 0
}

var _ = (fs.FileFlusher)((*FileHandle)(nil))

func (fh *FileHandle) Flush(ctx context.Context) syscall.Errno {
	return ops.Errno(fh.h.Flush())
}

var _ = (fs.FileReleaser)((*FileHandle)(nil))

func (fh *FileHandle) Release(ctx context.Context) syscall.Errno {
	return ops.Errno(fh.h.Release())
}

var _ = (fs.FileSetattrer)((*FileHandle)(nil))

func (fh *FileHandle) Setattr(ctx context.Context, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if sz, ok := in.GetSize(); ok {
		if err := fh.h.Truncate(int64(sz)); err != nil {
			return ops.Errno(err)
		}
	}
	return 0
}
