package vfs

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/google/uuid"
)

// RootID is the fixed, all-zero identifier reserved for the filesystem
// root directory, which is allocated once at initialization rather than
// through GenerateID.
var RootID [32]byte

// GenerateID mints a fresh 32-byte object identifier. A UUIDv4 supplies
// the "this is a new, distinct thing" guarantee the rest of the
// ecosystem already relies on; folding in sixteen more random bytes
// and hashing down to 32 bytes gives the object-id keyspace size the
// backing store (§3) expects.
func GenerateID() ([32]byte, error) {
	var id [32]byte
	u, err := uuid.NewRandom()
	if err != nil {
		return id, fmt.Errorf("generate object id: %w", err)
	}
	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return id, fmt.Errorf("generate object id: %w", err)
	}
	h := sha256.New()
	h.Write(u[:])
	h.Write(salt[:])
	copy(id[:], h.Sum(nil))
	return id, nil
}
