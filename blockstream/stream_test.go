package blockstream

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"github.com/test-acc-vaccym/securefs/crypto"
)

// memFile is a minimal in-memory platform.RandomAccessFile used to test
// the block stream without touching a real filesystem.
type memFile struct {
	buf []byte
}

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[off:end], p)
	return len(p), nil
}

func (m *memFile) Truncate(size int64) error {
	if size <= int64(len(m.buf)) {
		m.buf = m.buf[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, m.buf)
	m.buf = grown
	return nil
}

func (m *memFile) Sync() error { return nil }
func (m *memFile) Close() error { return nil }

func newTestStream(t *testing.T, blockSize uint32) *Stream {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	s, err := Create(&memFile{}, &memFile{}, crypto.CipherAES256GCM, key, blockSize)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return s
}

func TestStream_WriteReadWithinBlock(t *testing.T) {
	s := newTestStream(t, 64)
	data := []byte("hello, encrypted world")
	if _, err := s.WriteAt(data, 0); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	buf := make([]byte, len(data))
	if _, err := s.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if !bytes.Equal(buf, data) {
		t.Fatalf("roundtrip mismatch: got %q want %q", buf, data)
	}
}

func TestStream_WriteSpansMultipleBlocks(t *testing.T) {
	s := newTestStream(t, 16)
	data := bytes.Repeat([]byte("0123456789abcdef"), 5)
	if _, err := s.WriteAt(data, 5); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	buf := make([]byte, len(data))
	if _, err := s.ReadAt(buf, 5); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if !bytes.Equal(buf, data) {
		t.Fatalf("roundtrip mismatch across block boundaries")
	}
	if s.Size() != 5+int64(len(data)) {
		t.Fatalf("unexpected size: got %d want %d", s.Size(), 5+int64(len(data)))
	}
}

func TestStream_PartialBlockReadModifyWrite(t *testing.T) {
	s := newTestStream(t, 16)
	first := bytes.Repeat([]byte{'A'}, 16)
	if _, err := s.WriteAt(first, 0); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	if _, err := s.WriteAt([]byte("XY"), 4); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	want := append(append(append([]byte{}, first[:4]...), 'X', 'Y'), first[6:]...)
	buf := make([]byte, 16)
	if _, err := s.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if !bytes.Equal(buf, want) {
		t.Fatalf("partial overwrite mismatch: got %q want %q", buf, want)
	}
}

func TestStream_ResizeShrinkAndGrow(t *testing.T) {
	s := newTestStream(t, 16)
	data := bytes.Repeat([]byte{'Z'}, 40)
	if _, err := s.WriteAt(data, 0); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	if err := s.Resize(10); err != nil {
		t.Fatalf("Resize(shrink) failed: %v", err)
	}
	if s.Size() != 10 {
		t.Fatalf("expected size 10 after shrink, got %d", s.Size())
	}
	if err := s.Resize(20); err != nil {
		t.Fatalf("Resize(grow) failed: %v", err)
	}
	if s.Size() != 20 {
		t.Fatalf("expected size 20 after grow, got %d", s.Size())
	}
	buf := make([]byte, 20)
	n, err := s.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if n != 20 {
		t.Fatalf("expected ReadAt to return all 20 bytes of the grown file, got %d", n)
	}
	for i := 10; i < 20; i++ {
		if buf[i] != 0 {
			t.Fatalf("expected zero-filled hole at byte %d, got %d", i, buf[i])
		}
	}
}

func TestStream_HeaderRegionRoundTrip(t *testing.T) {
	s := newTestStream(t, 64)
	blob := bytes.Repeat([]byte{0x9}, 40)
	if err := s.WriteHeaderRegion(blob); err != nil {
		t.Fatalf("WriteHeaderRegion failed: %v", err)
	}
	got, err := s.ReadHeaderRegion()
	if err != nil {
		t.Fatalf("ReadHeaderRegion failed: %v", err)
	}
	if !bytes.Equal(got[:len(blob)], blob) {
		t.Fatalf("header region roundtrip mismatch")
	}
}

func TestStream_HeaderRegionWriteMarksDirty(t *testing.T) {
	s := newTestStream(t, 64)
	s.dirty = false
	if err := s.WriteHeaderRegion(bytes.Repeat([]byte{0x1}, 8)); err != nil {
		t.Fatalf("WriteHeaderRegion failed: %v", err)
	}
	if !s.dirty {
		t.Fatalf("expected a header-region write to mark the stream dirty")
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if s.dirty {
		t.Fatalf("expected Flush to clear dirty after syncing the header write")
	}
}

func TestStream_WriteAtSkipsAheadLeavesReadableHole(t *testing.T) {
	s := newTestStream(t, 16)
	if _, err := s.WriteAt([]byte("first"), 0); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	// Jump past several block-table entries (indices 1..3 at blockSize 16
	// are never written) straight to block 4.
	if _, err := s.WriteAt([]byte("later"), 64); err != nil {
		t.Fatalf("WriteAt (skip-ahead) failed: %v", err)
	}

	buf := make([]byte, 16)
	if _, err := s.ReadAt(buf, 16); err != nil {
		t.Fatalf("ReadAt over a skipped block failed: %v", err)
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("expected skipped block to read back as zero, got byte %d = %d", i, b)
		}
	}

	tail := make([]byte, 5)
	if _, err := s.ReadAt(tail, 64); err != nil {
		t.Fatalf("ReadAt on the written block failed: %v", err)
	}
	if string(tail) != "later" {
		t.Fatalf("expected %q, got %q", "later", tail)
	}
}

func TestStream_ReopenAfterClose(t *testing.T) {
	data := &memFile{}
	meta := &memFile{}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	s, err := Create(data, meta, crypto.CipherAES256GCM, key, 16)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	payload := []byte("persisted across reopen")
	if _, err := s.WriteAt(payload, 0); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(data, meta, key)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	buf := make([]byte, len(payload))
	if _, err := reopened.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt after reopen failed: %v", err)
	}
	if !bytes.Equal(buf, payload) {
		t.Fatalf("reopen mismatch: got %q want %q", buf, payload)
	}
}
