package vfs

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/test-acc-vaccym/securefs/crypto"
)

// Flavor is the closed, three-case sum type (§9) every live object
// belongs to. FileTable stores the sum directly as an Object.
type Flavor uint8

const (
	FlavorRegular Flavor = iota
	FlavorDirectory
	FlavorSymlink
)

func (f Flavor) String() string {
	switch f {
	case FlavorRegular:
		return "regular"
	case FlavorDirectory:
		return "directory"
	case FlavorSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// ModeType returns the type nibble (os.FileMode's high bits) for f,
// mirroring FileBase::mode_for_type in the original C++ reference.
func (f Flavor) ModeType() os.FileMode {
	switch f {
	case FlavorDirectory:
		return os.ModeDir
	case FlavorSymlink:
		return os.ModeSymlink
	default:
		return 0
	}
}

// FlavorOfMode recovers the Flavor from a full mode value's type bits.
func FlavorOfMode(mode os.FileMode) Flavor {
	switch {
	case mode&os.ModeDir != 0:
		return FlavorDirectory
	case mode&os.ModeSymlink != 0:
		return FlavorSymlink
	default:
		return FlavorRegular
	}
}

// Header is the common metadata every object carries (§3), encrypted
// and authenticated as part of its meta stream.
type Header struct {
	Uid, Gid         uint32
	Mode             os.FileMode
	Nlink            uint32
	Atime            time.Time
	Mtime            time.Time
	Ctime            time.Time
	Birthtime        time.Time
	SizeOfMeta       int64
}

func (h *Header) marshal() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, h.Uid)
	binary.Write(buf, binary.LittleEndian, h.Gid)
	binary.Write(buf, binary.LittleEndian, uint32(h.Mode))
	binary.Write(buf, binary.LittleEndian, h.Nlink)
	writeTime(buf, h.Atime)
	writeTime(buf, h.Mtime)
	writeTime(buf, h.Ctime)
	writeTime(buf, h.Birthtime)
	binary.Write(buf, binary.LittleEndian, h.SizeOfMeta)
	return buf.Bytes()
}

func (h *Header) unmarshal(data []byte) error {
	r := bytes.NewReader(data)
	var uid, gid, mode, nlink uint32
	if err := binary.Read(r, binary.LittleEndian, &uid); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &gid); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &mode); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &nlink); err != nil {
		return err
	}
	h.Uid, h.Gid, h.Mode, h.Nlink = uid, gid, os.FileMode(mode), nlink

	var err error
	if h.Atime, err = readTime(r); err != nil {
		return err
	}
	if h.Mtime, err = readTime(r); err != nil {
		return err
	}
	if h.Ctime, err = readTime(r); err != nil {
		return err
	}
	if h.Birthtime, err = readTime(r); err != nil {
		return err
	}
	return binary.Read(r, binary.LittleEndian, &h.SizeOfMeta)
}

func writeTime(buf *bytes.Buffer, t time.Time) {
	binary.Write(buf, binary.LittleEndian, t.UnixNano())
}

func readTime(r *bytes.Reader) (time.Time, error) {
	var nanos int64
	if err := binary.Read(r, binary.LittleEndian, &nanos); err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, nanos).UTC(), nil
}

// sealHeader encrypts a Header under engine, producing a nonce||ciphertext
// blob suitable for blockstream.Stream.WriteHeaderRegion.
func sealHeader(engine crypto.BlockAE, h *Header) ([]byte, error) {
	nonce := make([]byte, engine.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("seal header: %w", err)
	}
	ciphertext, err := engine.Encrypt(nonce, h.marshal())
	if err != nil {
		return nil, fmt.Errorf("seal header: %w", err)
	}
	out := make([]byte, len(nonce)+len(ciphertext))
	copy(out, nonce)
	copy(out[len(nonce):], ciphertext)
	return out, nil
}

// openHeader decrypts a blob produced by sealHeader.
func openHeader(engine crypto.BlockAE, blob []byte) (*Header, error) {
	nonceSize := engine.NonceSize()
	if len(blob) < nonceSize {
		return nil, fmt.Errorf("open header: %w", crypto.ErrAuthFailed)
	}
	nonce := blob[:nonceSize]
	rest := blob[nonceSize:]

	// Trim caller padding: real ciphertext length is fixed by the
	// serialized header size plus AEAD overhead; anything past that in
	// the fixed-size reserved region is zero padding.
	plainLen := len((&Header{}).marshal())
	ctLen := plainLen + engine.Overhead()
	if len(rest) < ctLen {
		return nil, fmt.Errorf("open header: %w", crypto.ErrAuthFailed)
	}
	plaintext, err := engine.Decrypt(nonce, rest[:ctLen])
	if err != nil {
		return nil, err
	}
	h := &Header{}
	if err := h.unmarshal(plaintext); err != nil {
		return nil, fmt.Errorf("open header: %w", err)
	}
	return h, nil
}
