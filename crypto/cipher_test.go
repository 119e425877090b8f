package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestBlockAE_RoundTrip(t *testing.T) {
	for _, suite := range []CipherSuite{CipherAES256GCM, CipherChaCha20Poly1305} {
		t.Run(suite.String(), func(t *testing.T) {
			key := make([]byte, 32)
			if _, err := rand.Read(key); err != nil {
				t.Fatalf("failed to generate key: %v", err)
			}
			engine, err := NewBlockAE(suite, key)
			if err != nil {
				t.Fatalf("NewBlockAE failed: %v", err)
			}

			nonce := make([]byte, engine.NonceSize())
			if _, err := rand.Read(nonce); err != nil {
				t.Fatalf("failed to generate nonce: %v", err)
			}
			plaintext := []byte("the quick brown fox jumps over the lazy dog")
			sealed, err := engine.Encrypt(nonce, plaintext)
			if err != nil {
				t.Fatalf("encrypt failed: %v", err)
			}
			opened, err := engine.Decrypt(nonce, sealed)
			if err != nil {
				t.Fatalf("decrypt failed: %v", err)
			}
			if !bytes.Equal(opened, plaintext) {
				t.Fatalf("roundtrip mismatch: got %q want %q", opened, plaintext)
			}
		})
	}
}

func TestBlockAE_AuthFailure(t *testing.T) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	engine, err := NewBlockAE(CipherAES256GCM, key)
	if err != nil {
		t.Fatalf("NewBlockAE failed: %v", err)
	}
	nonce := make([]byte, engine.NonceSize())
	sealed, err := engine.Encrypt(nonce, []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	sealed[len(sealed)-1] ^= 0xFF
	if _, err := engine.Decrypt(nonce, sealed); err == nil {
		t.Fatalf("expected decrypt to fail on tampered ciphertext")
	}
}
