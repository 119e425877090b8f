package crypto

import (
	"bytes"
	"testing"
)

func TestDeriveObjectKey_DifferentIDsDifferentKeys(t *testing.T) {
	master := bytes.Repeat([]byte{0x42}, 32)
	id1 := bytes.Repeat([]byte{0x01}, 32)
	id2 := bytes.Repeat([]byte{0x02}, 32)

	k1 := DeriveObjectKey(master, id1)
	k2 := DeriveObjectKey(master, id2)
	if bytes.Equal(k1, k2) {
		t.Fatalf("expected distinct object keys for distinct ids")
	}
	if len(k1) != 32 {
		t.Fatalf("expected a 32-byte object key, got %d", len(k1))
	}
}

func TestDeriveObjectKey_Deterministic(t *testing.T) {
	master := bytes.Repeat([]byte{0x42}, 32)
	id := bytes.Repeat([]byte{0x07}, 32)

	if !bytes.Equal(DeriveObjectKey(master, id), DeriveObjectKey(master, id)) {
		t.Fatalf("expected object key derivation to be deterministic")
	}
}

func TestDeriveNameKey_SixtyFourBytes(t *testing.T) {
	master := bytes.Repeat([]byte{0x11}, 32)
	key := DeriveNameKey(master)
	if len(key) != 64 {
		t.Fatalf("expected a 64-byte SIV key, got %d", len(key))
	}
}

func TestEnvKeyProvider_MissingVariable(t *testing.T) {
	p := NewEnvKeyProvider("SECUREFS_TEST_KEY_NOT_SET")
	if _, err := p.DeriveKey(nil); err == nil {
		t.Fatalf("expected an error when the environment variable is unset")
	}
}
