package blockstream

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/test-acc-vaccym/securefs/crypto"
)

// Magic identifies a block-stream meta file. Version 1 is the only
// format this package writes or reads.
const (
	Magic   uint32 = 0x53464253 // "SFBS"
	Version uint8  = 1
)

const (
	// DefaultBlockSize matches the reference implementation's default
	// (see win.cpp's optimal_block_size()).
	DefaultBlockSize = 4096
	MinBlockSize     = 64
	MaxBlockSize     = 16 * 1024 * 1024

	nonceSize  = 12
	tagSize    = 16
	entrySize  = 4 + nonceSize + tagSize // plaintext size + nonce + tag
	headerSize = 4 + 1 + 1 + 4 + 4 + 16  // magic+version+cipher+blocksize+count+seed

	// CommonHeaderRegionSize reserves space right after the structural
	// header for the object's encrypted common metadata header (§3):
	// uid/gid/mode/nlink/times, written by package vfs. The block entry
	// table begins immediately after this region.
	CommonHeaderRegionSize = 512
)

// Header is the fixed-size prefix of every meta file.
type Header struct {
	Cipher     crypto.CipherSuite
	BlockSize  uint32
	BlockCount uint32
	Seed       [16]byte
}

func (h *Header) WriteTo(w io.Writer) (int64, error) {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, Magic)
	buf.WriteByte(Version)
	buf.WriteByte(byte(h.Cipher))
	binary.Write(buf, binary.LittleEndian, h.BlockSize)
	binary.Write(buf, binary.LittleEndian, h.BlockCount)
	buf.Write(h.Seed[:])
	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

func (h *Header) ReadFrom(r io.Reader) (int64, error) {
	buf := make([]byte, headerSize)
	n, err := io.ReadFull(r, buf)
	if err != nil {
		return int64(n), fmt.Errorf("read block stream header: %w", err)
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != Magic {
		return int64(n), fmt.Errorf("bad block stream magic: %#x", magic)
	}
	version := buf[4]
	if version != Version {
		return int64(n), fmt.Errorf("unsupported block stream version: %d", version)
	}
	h.Cipher = crypto.CipherSuite(buf[5])
	h.BlockSize = binary.LittleEndian.Uint32(buf[6:10])
	h.BlockCount = binary.LittleEndian.Uint32(buf[10:14])
	copy(h.Seed[:], buf[14:30])
	return int64(n), nil
}

// entry describes one block's position in the AEAD ciphertext stream.
type entry struct {
	PlaintextSize uint32
	Nonce         [nonceSize]byte
	Tag           [tagSize]byte
}

func (e *entry) encode() []byte {
	buf := make([]byte, entrySize)
	binary.LittleEndian.PutUint32(buf[0:4], e.PlaintextSize)
	copy(buf[4:4+nonceSize], e.Nonce[:])
	copy(buf[4+nonceSize:], e.Tag[:])
	return buf
}

func (e *entry) decode(buf []byte) error {
	if len(buf) != entrySize {
		return fmt.Errorf("malformed block entry: %d bytes", len(buf))
	}
	e.PlaintextSize = binary.LittleEndian.Uint32(buf[0:4])
	copy(e.Nonce[:], buf[4:4+nonceSize])
	copy(e.Tag[:], buf[4+nonceSize:])
	return nil
}

func entryOffset(index uint32) int64 {
	return int64(headerSize) + int64(CommonHeaderRegionSize) + int64(index)*int64(entrySize)
}

// ValidateBlockSize checks a repository-configured block size is within
// acceptable bounds.
func ValidateBlockSize(size uint32) error {
	if size < MinBlockSize {
		return fmt.Errorf("block size %d below minimum %d", size, MinBlockSize)
	}
	if size > MaxBlockSize {
		return fmt.Errorf("block size %d above maximum %d", size, MaxBlockSize)
	}
	return nil
}

// BlockCount returns how many blocks are needed to hold size plaintext bytes.
func BlockCount(size int64, blockSize uint32) uint32 {
	if size == 0 {
		return 0
	}
	return uint32((size + int64(blockSize) - 1) / int64(blockSize))
}
