package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestSIV_EncryptDecrypt(t *testing.T) {
	key := make([]byte, 64)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	siv, err := NewSIV(key)
	if err != nil {
		t.Fatalf("failed to create SIV: %v", err)
	}

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"simple text", []byte("Hello, World!")},
		{"empty plaintext", []byte("")},
		{"long plaintext", bytes.Repeat([]byte("A"), 1000)},
		{"short plaintext", []byte("x")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext, err := siv.Encrypt(tt.plaintext)
			if err != nil {
				t.Fatalf("encrypt failed: %v", err)
			}
			plaintext, err := siv.Decrypt(ciphertext)
			if err != nil {
				t.Fatalf("decrypt failed: %v", err)
			}
			if !bytes.Equal(plaintext, tt.plaintext) {
				t.Fatalf("roundtrip mismatch: got %q want %q", plaintext, tt.plaintext)
			}
		})
	}
}

func TestSIV_Deterministic(t *testing.T) {
	key := make([]byte, 64)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	siv, err := NewSIV(key)
	if err != nil {
		t.Fatalf("failed to create SIV: %v", err)
	}

	a, err := siv.Encrypt([]byte("same-name"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	b, err := siv.Encrypt([]byte("same-name"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("SIV must be deterministic: got different ciphertexts for the same plaintext")
	}
}

func TestSIV_TamperDetected(t *testing.T) {
	key := make([]byte, 64)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	siv, err := NewSIV(key)
	if err != nil {
		t.Fatalf("failed to create SIV: %v", err)
	}
	ciphertext, err := siv.Encrypt([]byte("payload"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	ciphertext[0] ^= 0xFF
	if _, err := siv.Decrypt(ciphertext); err == nil {
		t.Fatalf("expected decrypt to fail on tampered ciphertext")
	}
}
