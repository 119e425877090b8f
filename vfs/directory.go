package vfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/test-acc-vaccym/securefs/crypto"
)

// dirEntry is one name->object binding inside a Directory's index. Names
// are stored only as NameAE ciphertext (§4.5): the plaintext name never
// touches the backing store.
type dirEntry struct {
	NameCT []byte
	ID     [32]byte
	Kind   Flavor
}

// Directory is the FileBase variant holding a name index, encrypted with
// a deterministic AEAD (crypto.NameCipher) so lookups can compare
// ciphertext directly without decrypting every entry. Per the resolved
// Open Question (§9), entries are kept as a single sorted, contiguous
// list rather than a B-tree: simpler, and directories in this system are
// not expected to hold enough entries for O(log n) to matter.
type Directory struct {
	*FileBase

	nameCipher *crypto.NameCipher
	entries    []dirEntry
	loaded     bool
}

func newDirectory(fb *FileBase, nameCipher *crypto.NameCipher) *Directory {
	return &Directory{FileBase: fb, nameCipher: nameCipher}
}

func (d *Directory) ensureLoaded() error {
	if d.loaded {
		return nil
	}
	size := d.stream.Size()
	blob := make([]byte, size)
	if size > 0 {
		if _, err := d.stream.ReadAt(blob, 0); err != nil {
			return New(KindCorrupt, "readdir", "", err)
		}
	}
	entries, err := decodeEntries(blob)
	if err != nil {
		return New(KindCorrupt, "readdir", "", err)
	}
	d.entries = entries
	d.loaded = true
	return nil
}

func (d *Directory) persist() error {
	blob := encodeEntries(d.entries)
	if err := d.stream.Resize(int64(len(blob))); err != nil {
		return err
	}
	if _, err := d.stream.WriteAt(blob, 0); err != nil {
		return err
	}
	d.touchMtime()
	return nil
}

func (d *Directory) find(nameCT []byte) int {
	return sort.Search(len(d.entries), func(i int) bool {
		return bytes.Compare(d.entries[i].NameCT, nameCT) >= 0
	})
}

// Lookup resolves name to its object id and flavor within this
// directory, implementing the NOT_FOUND half of §4.7's resolution step.
func (d *Directory) Lookup(name string) (id [32]byte, flavor Flavor, err error) {
	if err := d.ensureLoaded(); err != nil {
		return id, flavor, err
	}
	nameCT, err := d.nameCipher.Seal(name)
	if err != nil {
		return id, flavor, New(KindIO, "lookup", name, err)
	}
	i := d.find(nameCT)
	if i >= len(d.entries) || bytes.Compare(d.entries[i].NameCT, nameCT) != 0 {
		return id, flavor, New(KindNotFound, "lookup", name, nil)
	}
	return d.entries[i].ID, d.entries[i].Kind, nil
}

// Insert adds a new name->object binding, failing with KindExists if the
// name is already bound (the creation protocol's EEXIST check, §4.6).
func (d *Directory) Insert(name string, id [32]byte, flavor Flavor) error {
	if err := d.ensureLoaded(); err != nil {
		return err
	}
	nameCT, err := d.nameCipher.Seal(name)
	if err != nil {
		return New(KindIO, "insert", name, err)
	}
	i := d.find(nameCT)
	if i < len(d.entries) && bytes.Compare(d.entries[i].NameCT, nameCT) == 0 {
		return New(KindExists, "insert", name, nil)
	}
	entry := dirEntry{NameCT: nameCT, ID: id, Kind: flavor}
	d.entries = append(d.entries, dirEntry{})
	copy(d.entries[i+1:], d.entries[i:])
	d.entries[i] = entry
	return d.persist()
}

// Remove deletes name's binding, failing with KindNotFound if absent.
func (d *Directory) Remove(name string) error {
	if err := d.ensureLoaded(); err != nil {
		return err
	}
	nameCT, err := d.nameCipher.Seal(name)
	if err != nil {
		return New(KindIO, "remove", name, err)
	}
	i := d.find(nameCT)
	if i >= len(d.entries) || bytes.Compare(d.entries[i].NameCT, nameCT) != 0 {
		return New(KindNotFound, "remove", name, nil)
	}
	d.entries = append(d.entries[:i], d.entries[i+1:]...)
	return d.persist()
}

// DirEnt is one decrypted directory entry, returned by List.
type DirEnt struct {
	Name string
	ID   [32]byte
	Kind Flavor
}

// List decrypts and returns every entry, for readdir (§6).
func (d *Directory) List() ([]DirEnt, error) {
	if err := d.ensureLoaded(); err != nil {
		return nil, err
	}
	out := make([]DirEnt, 0, len(d.entries))
	for _, e := range d.entries {
		name, err := d.nameCipher.Open(e.NameCT)
		if err != nil {
			return nil, New(KindAuthFail, "readdir", "", err)
		}
		out = append(out, DirEnt{Name: name, ID: e.ID, Kind: e.Kind})
	}
	return out, nil
}

// Empty reports whether the directory has any entries, for rmdir's
// ENOTEMPTY check.
func (d *Directory) Empty() (bool, error) {
	if err := d.ensureLoaded(); err != nil {
		return false, err
	}
	return len(d.entries) == 0, nil
}

func encodeEntries(entries []dirEntry) []byte {
	var total int
	total += 4
	for _, e := range entries {
		total += 2 + len(e.NameCT) + 32 + 1
	}
	buf := make([]byte, total)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(entries)))
	off += 4
	for _, e := range entries {
		binary.LittleEndian.PutUint16(buf[off:], uint16(len(e.NameCT)))
		off += 2
		copy(buf[off:], e.NameCT)
		off += len(e.NameCT)
		copy(buf[off:], e.ID[:])
		off += 32
		buf[off] = byte(e.Kind)
		off++
	}
	return buf
}

func decodeEntries(blob []byte) ([]dirEntry, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	if len(blob) < 4 {
		return nil, fmt.Errorf("truncated directory index")
	}
	count := binary.LittleEndian.Uint32(blob)
	off := 4
	entries := make([]dirEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+2 > len(blob) {
			return nil, fmt.Errorf("truncated directory entry %d", i)
		}
		nameLen := int(binary.LittleEndian.Uint16(blob[off:]))
		off += 2
		if off+nameLen+32+1 > len(blob) {
			return nil, fmt.Errorf("truncated directory entry %d", i)
		}
		nameCT := make([]byte, nameLen)
		copy(nameCT, blob[off:off+nameLen])
		off += nameLen
		var id [32]byte
		copy(id[:], blob[off:off+32])
		off += 32
		kind := Flavor(blob[off])
		off++
		entries = append(entries, dirEntry{NameCT: nameCT, ID: id, Kind: kind})
	}
	return entries, nil
}
