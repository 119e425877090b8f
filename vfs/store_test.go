package vfs

import (
	"bytes"
	"os"
	"testing"

	"github.com/test-acc-vaccym/securefs/crypto"
	"github.com/test-acc-vaccym/securefs/platform"
)

func newTestTable(t *testing.T) *FileTable {
	t.Helper()
	svc, err := platform.NewMemService(1000, 1000)
	if err != nil {
		t.Fatalf("NewMemService failed: %v", err)
	}
	masterKey := bytes.Repeat([]byte{0x5A}, 32)
	store := NewStore(svc, masterKey, crypto.CipherAES256GCM, 64)
	return NewFileTable(store)
}

func TestFileTable_CreateOpenRegularFile(t *testing.T) {
	ft := newTestTable(t)
	id, err := GenerateID()
	if err != nil {
		t.Fatalf("GenerateID failed: %v", err)
	}

	guard, err := ft.CreateObject(id, FlavorRegular, 1000, 1000, 0o644)
	if err != nil {
		t.Fatalf("CreateObject failed: %v", err)
	}
	rf := guard.Object().(*RegularFile)
	if _, err := rf.WriteAt([]byte("payload bytes"), 0); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	if err := guard.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	guard2, err := ft.OpenAs(id, FlavorRegular)
	if err != nil {
		t.Fatalf("OpenAs failed: %v", err)
	}
	defer guard2.Close()
	rf2 := guard2.Object().(*RegularFile)
	buf := make([]byte, len("payload bytes"))
	if _, err := rf2.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if !bytes.Equal(buf, []byte("payload bytes")) {
		t.Fatalf("reopen mismatch: got %q", buf)
	}
}

func TestFileTable_SharesLiveObject(t *testing.T) {
	ft := newTestTable(t)
	id, err := GenerateID()
	if err != nil {
		t.Fatalf("GenerateID failed: %v", err)
	}
	guard1, err := ft.CreateObject(id, FlavorRegular, 0, 0, 0o644)
	if err != nil {
		t.Fatalf("CreateObject failed: %v", err)
	}
	guard2, err := ft.OpenAs(id, FlavorAny)
	if err != nil {
		t.Fatalf("OpenAs failed: %v", err)
	}
	if guard1.Object() != guard2.Object() {
		t.Fatalf("expected FileTable to return the same live representative for id")
	}
	guard1.Close()
	guard2.Close()
}

func TestFileTable_TypeMismatch(t *testing.T) {
	ft := newTestTable(t)
	id, err := GenerateID()
	if err != nil {
		t.Fatalf("GenerateID failed: %v", err)
	}
	guard, err := ft.CreateObject(id, FlavorRegular, 0, 0, 0o644)
	if err != nil {
		t.Fatalf("CreateObject failed: %v", err)
	}
	guard.Close()

	if _, err := ft.OpenAs(id, FlavorDirectory); KindOf(err) != KindTypeMismatch {
		t.Fatalf("expected KindTypeMismatch, got %v", err)
	}
}

func TestFileTable_ReadOnlyRejectsCreate(t *testing.T) {
	ft := newTestTable(t)
	ft.SetReadOnly(true)

	id, err := GenerateID()
	if err != nil {
		t.Fatalf("GenerateID failed: %v", err)
	}
	if _, err := ft.CreateObject(id, FlavorRegular, 0, 0, 0o644); KindOf(err) != KindReadonly {
		t.Fatalf("expected KindReadonly, got %v", err)
	}
}

func TestDirectory_InsertLookupRemove(t *testing.T) {
	ft := newTestTable(t)
	guard, err := ft.EnsureRoot(0, 0)
	if err != nil {
		t.Fatalf("EnsureRoot failed: %v", err)
	}
	defer guard.Close()
	root := guard.Object().(*Directory)

	fileID, err := GenerateID()
	if err != nil {
		t.Fatalf("GenerateID failed: %v", err)
	}
	if err := root.Insert("hello.txt", fileID, FlavorRegular); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	gotID, flavor, err := root.Lookup("hello.txt")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if gotID != fileID || flavor != FlavorRegular {
		t.Fatalf("lookup mismatch")
	}

	if err := root.Insert("hello.txt", fileID, FlavorRegular); KindOf(err) != KindExists {
		t.Fatalf("expected KindExists on duplicate insert, got %v", err)
	}

	if err := root.Remove("hello.txt"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, _, err := root.Lookup("hello.txt"); KindOf(err) != KindNotFound {
		t.Fatalf("expected KindNotFound after remove, got %v", err)
	}
}

func TestDirectory_ListDecryptsNames(t *testing.T) {
	ft := newTestTable(t)
	guard, err := ft.EnsureRoot(0, 0)
	if err != nil {
		t.Fatalf("EnsureRoot failed: %v", err)
	}
	defer guard.Close()
	root := guard.Object().(*Directory)

	names := []string{"a", "b", "c"}
	for _, n := range names {
		id, err := GenerateID()
		if err != nil {
			t.Fatalf("GenerateID failed: %v", err)
		}
		if err := root.Insert(n, id, FlavorRegular); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	entries, err := root.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != len(names) {
		t.Fatalf("expected %d entries, got %d", len(names), len(entries))
	}
	seen := make(map[string]bool)
	for _, e := range entries {
		seen[e.Name] = true
	}
	for _, n := range names {
		if !seen[n] {
			t.Fatalf("missing decrypted name %q", n)
		}
	}
}

func TestSymlink_TargetRoundTrip(t *testing.T) {
	ft := newTestTable(t)
	id, err := GenerateID()
	if err != nil {
		t.Fatalf("GenerateID failed: %v", err)
	}
	guard, err := ft.CreateObject(id, FlavorSymlink, 0, 0, os.ModeSymlink|0o777)
	if err != nil {
		t.Fatalf("CreateObject failed: %v", err)
	}
	link := guard.Object().(*Symlink)
	if err := link.SetTarget("/some/target"); err != nil {
		t.Fatalf("SetTarget failed: %v", err)
	}
	guard.Close()

	guard2, err := ft.OpenAs(id, FlavorSymlink)
	if err != nil {
		t.Fatalf("OpenAs failed: %v", err)
	}
	defer guard2.Close()
	target, err := guard2.Object().(*Symlink).Target()
	if err != nil {
		t.Fatalf("Target failed: %v", err)
	}
	if target != "/some/target" {
		t.Fatalf("expected /some/target, got %q", target)
	}
}
