package ops

import (
	"bytes"
	"os"
	"testing"

	"github.com/rs/zerolog"

	"github.com/test-acc-vaccym/securefs/crypto"
	"github.com/test-acc-vaccym/securefs/platform"
	"github.com/test-acc-vaccym/securefs/vfs"
)

func newTestOperations(t *testing.T) *Operations {
	t.Helper()
	return newTestOperationsReadOnly(t, false)
}

func newTestOperationsReadOnly(t *testing.T, readOnly bool) *Operations {
	t.Helper()
	svc, err := platform.NewMemService(1000, 1000)
	if err != nil {
		t.Fatalf("NewMemService failed: %v", err)
	}
	masterKey := bytes.Repeat([]byte{0x3C}, 32)
	store := vfs.NewStore(svc, masterKey, crypto.CipherAES256GCM, 64)
	table := vfs.NewFileTable(store)

	o, err := New(table, svc, zerolog.Nop(), readOnly)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return o
}

func TestOperations_CreateWriteReadFile(t *testing.T) {
	o := newTestOperations(t)
	h, err := o.CreateFile("/greeting.txt", 0o644)
	if err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	if _, err := h.WriteAt([]byte("hello"), 0); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	if err := h.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	h2, err := o.OpenFile("/greeting.txt")
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	defer h2.Release()
	buf := make([]byte, 5)
	if _, err := h2.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("expected hello, got %q", buf)
	}
}

func TestOperations_CreateExistingFails(t *testing.T) {
	o := newTestOperations(t)
	h, err := o.CreateFile("/dup.txt", 0o644)
	if err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	h.Release()

	if _, err := o.CreateFile("/dup.txt", 0o644); vfs.KindOf(err) != vfs.KindExists {
		t.Fatalf("expected KindExists, got %v", err)
	}
}

// countObjectFiles walks the backing store's object shards, counting the
// raw .data/.meta host files. Used to confirm a failed create doesn't
// leave an orphaned backing pair behind.
func countObjectFiles(t *testing.T, svc platform.Service) int {
	t.Helper()
	shards, err := svc.CreateTraverser("objects")
	if err != nil {
		t.Fatalf("CreateTraverser(objects) failed: %v", err)
	}
	defer shards.Close()

	count := 0
	for {
		shardName, kind, ok, err := shards.Next()
		if err != nil {
			t.Fatalf("traverse objects failed: %v", err)
		}
		if !ok {
			break
		}
		if kind != platform.KindDirectory {
			continue
		}
		files, err := svc.CreateTraverser("objects/" + shardName)
		if err != nil {
			t.Fatalf("CreateTraverser(objects/%s) failed: %v", shardName, err)
		}
		for {
			_, _, ok, err := files.Next()
			if err != nil {
				files.Close()
				t.Fatalf("traverse objects/%s failed: %v", shardName, err)
			}
			if !ok {
				break
			}
			count++
		}
		files.Close()
	}
	return count
}

func TestOperations_CreateExistingDoesNotLeakOrphan(t *testing.T) {
	o := newTestOperations(t)
	h, err := o.CreateFile("/dup.txt", 0o644)
	if err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	h.Release()

	before := countObjectFiles(t, o.svc)

	if _, err := o.CreateFile("/dup.txt", 0o644); vfs.KindOf(err) != vfs.KindExists {
		t.Fatalf("expected KindExists, got %v", err)
	}

	after := countObjectFiles(t, o.svc)
	if after != before {
		t.Fatalf("expected no orphaned object files after a failed create, had %d before and %d after", before, after)
	}
}

func TestOperations_MkdirAndReaddir(t *testing.T) {
	o := newTestOperations(t)
	if err := o.Mkdir("/sub", 0o755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	h, err := o.CreateFile("/sub/file.txt", 0o644)
	if err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	h.Release()

	dh, err := o.OpenDir("/sub")
	if err != nil {
		t.Fatalf("OpenDir failed: %v", err)
	}
	defer dh.Release()
	entries, err := dh.Readdir()
	if err != nil {
		t.Fatalf("Readdir failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "file.txt" {
		t.Fatalf("unexpected directory listing: %+v", entries)
	}
}

func TestOperations_RmdirRejectsNonEmpty(t *testing.T) {
	o := newTestOperations(t)
	if err := o.Mkdir("/nonempty", 0o755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	h, err := o.CreateFile("/nonempty/file.txt", 0o644)
	if err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	h.Release()

	if err := o.Rmdir("/nonempty"); vfs.KindOf(err) != vfs.KindNotEmpty {
		t.Fatalf("expected KindNotEmpty, got %v", err)
	}
}

func TestOperations_UnlinkOnNonEmptyDirReturnsNotEmpty(t *testing.T) {
	o := newTestOperations(t)
	if err := o.Mkdir("/nonempty", 0o755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	h, err := o.CreateFile("/nonempty/file.txt", 0o644)
	if err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	h.Release()

	if err := o.Unlink("/nonempty"); vfs.KindOf(err) != vfs.KindNotEmpty {
		t.Fatalf("expected KindNotEmpty from Unlink on a non-empty directory, got %v", err)
	}
}

func TestOperations_UnlinkRemovesEmptyDir(t *testing.T) {
	o := newTestOperations(t)
	if err := o.Mkdir("/empty", 0o755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	if err := o.Unlink("/empty"); err != nil {
		t.Fatalf("Unlink on an empty directory failed: %v", err)
	}
	if _, err := o.OpenDir("/empty"); vfs.KindOf(err) != vfs.KindNotFound {
		t.Fatalf("expected KindNotFound after unlinking the directory, got %v", err)
	}
}

func TestOperations_UnlinkRemovesEntry(t *testing.T) {
	o := newTestOperations(t)
	h, err := o.CreateFile("/gone.txt", 0o644)
	if err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	h.Release()

	if err := o.Unlink("/gone.txt"); err != nil {
		t.Fatalf("Unlink failed: %v", err)
	}
	if _, err := o.OpenFile("/gone.txt"); vfs.KindOf(err) != vfs.KindNotFound {
		t.Fatalf("expected KindNotFound after unlink, got %v", err)
	}
}

func TestOperations_RenameMovesEntry(t *testing.T) {
	o := newTestOperations(t)
	h, err := o.CreateFile("/old.txt", 0o644)
	if err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	h.WriteAt([]byte("data"), 0)
	h.Release()

	if err := o.Rename("/old.txt", "/new.txt"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if _, err := o.OpenFile("/old.txt"); vfs.KindOf(err) != vfs.KindNotFound {
		t.Fatalf("expected old path to be gone")
	}
	h2, err := o.OpenFile("/new.txt")
	if err != nil {
		t.Fatalf("OpenFile(new.txt) failed: %v", err)
	}
	defer h2.Release()
	buf := make([]byte, 4)
	h2.ReadAt(buf, 0)
	if string(buf) != "data" {
		t.Fatalf("expected data to follow the rename, got %q", buf)
	}
}

func TestOperations_SymlinkReadlink(t *testing.T) {
	o := newTestOperations(t)
	if err := o.Symlink("/target/path", "/link"); err != nil {
		t.Fatalf("Symlink failed: %v", err)
	}
	target, err := o.Readlink("/link")
	if err != nil {
		t.Fatalf("Readlink failed: %v", err)
	}
	if target != "/target/path" {
		t.Fatalf("expected /target/path, got %q", target)
	}
}

func TestOperations_ChmodPreservesType(t *testing.T) {
	o := newTestOperations(t)
	if err := o.Mkdir("/d", 0o755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	if err := o.Chmod("/d", 0o700); err != nil {
		t.Fatalf("Chmod failed: %v", err)
	}
	a, err := o.Getattr("/d")
	if err != nil {
		t.Fatalf("Getattr failed: %v", err)
	}
	if a.Mode&os.ModeDir == 0 {
		t.Fatalf("expected directory bit to survive chmod, got mode %v", a.Mode)
	}
	if a.Mode.Perm() != 0o700 {
		t.Fatalf("expected permission bits 0700, got %v", a.Mode.Perm())
	}
}

func TestOperations_RenameOverwritesExistingFile(t *testing.T) {
	o := newTestOperations(t)
	h1, err := o.CreateFile("/src.txt", 0o644)
	if err != nil {
		t.Fatalf("CreateFile(src) failed: %v", err)
	}
	h1.WriteAt([]byte("new"), 0)
	h1.Release()

	h2, err := o.CreateFile("/dst.txt", 0o644)
	if err != nil {
		t.Fatalf("CreateFile(dst) failed: %v", err)
	}
	h2.WriteAt([]byte("stale data"), 0)
	h2.Release()

	if err := o.Rename("/src.txt", "/dst.txt"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if _, err := o.OpenFile("/src.txt"); vfs.KindOf(err) != vfs.KindNotFound {
		t.Fatalf("expected source path to be gone")
	}
	h3, err := o.OpenFile("/dst.txt")
	if err != nil {
		t.Fatalf("OpenFile(dst.txt) failed: %v", err)
	}
	defer h3.Release()
	buf := make([]byte, 3)
	if _, err := h3.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if string(buf) != "new" {
		t.Fatalf("expected the overwritten destination to hold the source's data, got %q", buf)
	}
}

func TestOperations_ReadOnlyRejectsMutations(t *testing.T) {
	o := newTestOperationsReadOnly(t, true)

	if _, err := o.CreateFile("/blocked.txt", 0o644); vfs.KindOf(err) != vfs.KindReadonly {
		t.Fatalf("expected KindReadonly from CreateFile, got %v", err)
	}
	if err := o.Mkdir("/blocked", 0o755); vfs.KindOf(err) != vfs.KindReadonly {
		t.Fatalf("expected KindReadonly from Mkdir, got %v", err)
	}
	if err := o.Symlink("/target", "/blocked-link"); vfs.KindOf(err) != vfs.KindReadonly {
		t.Fatalf("expected KindReadonly from Symlink, got %v", err)
	}
	if err := o.Chmod("/", 0o700); vfs.KindOf(err) != vfs.KindReadonly {
		t.Fatalf("expected KindReadonly from Chmod, got %v", err)
	}
}

func TestOperations_LinkNotImplemented(t *testing.T) {
	o := newTestOperations(t)
	h, err := o.CreateFile("/a.txt", 0o644)
	if err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	h.Release()

	if err := o.Link("/a.txt", "/b.txt"); vfs.KindOf(err) != vfs.KindNotImplemented {
		t.Fatalf("expected KindNotImplemented, got %v", err)
	}
}
