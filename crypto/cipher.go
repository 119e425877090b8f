package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// BlockAE is the per-block authenticated encryption contract the
// block stream relies on. Tag size is fixed at 16 bytes.
type BlockAE interface {
	Encrypt(nonce, plaintext []byte) ([]byte, error)
	Decrypt(nonce, ciphertext []byte) ([]byte, error)
	NonceSize() int
	Overhead() int
}

// AESGCMEngine implements BlockAE using AES-256-GCM.
type AESGCMEngine struct {
	aead cipher.AEAD
}

func NewAESGCMEngine(key []byte) (*AESGCMEngine, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("AES-256 requires a 32-byte key, got %d bytes", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &AESGCMEngine{aead: aead}, nil
}

func (e *AESGCMEngine) Encrypt(nonce, plaintext []byte) ([]byte, error) {
	if len(nonce) != e.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", e.NonceSize(), len(nonce))
	}
	return e.aead.Seal(nil, nonce, plaintext, nil), nil
}

func (e *AESGCMEngine) Decrypt(nonce, ciphertext []byte) ([]byte, error) {
	if len(nonce) != e.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", e.NonceSize(), len(nonce))
	}
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

func (e *AESGCMEngine) NonceSize() int { return e.aead.NonceSize() }
func (e *AESGCMEngine) Overhead() int  { return e.aead.Overhead() }

// ChaCha20Poly1305Engine implements BlockAE using ChaCha20-Poly1305.
type ChaCha20Poly1305Engine struct {
	aead cipher.AEAD
}

func NewChaCha20Poly1305Engine(key []byte) (*ChaCha20Poly1305Engine, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("ChaCha20-Poly1305 requires a %d-byte key, got %d bytes",
			chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create ChaCha20-Poly1305 cipher: %w", err)
	}
	return &ChaCha20Poly1305Engine{aead: aead}, nil
}

func (e *ChaCha20Poly1305Engine) Encrypt(nonce, plaintext []byte) ([]byte, error) {
	if len(nonce) != e.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", e.NonceSize(), len(nonce))
	}
	return e.aead.Seal(nil, nonce, plaintext, nil), nil
}

func (e *ChaCha20Poly1305Engine) Decrypt(nonce, ciphertext []byte) ([]byte, error) {
	if len(nonce) != e.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", e.NonceSize(), len(nonce))
	}
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

func (e *ChaCha20Poly1305Engine) NonceSize() int { return e.aead.NonceSize() }
func (e *ChaCha20Poly1305Engine) Overhead() int  { return e.aead.Overhead() }

// NewBlockAE creates a BlockAE engine for the given cipher suite and key.
func NewBlockAE(suite CipherSuite, key []byte) (BlockAE, error) {
	switch suite {
	case CipherAES256GCM, CipherAuto:
		return NewAESGCMEngine(key)
	case CipherChaCha20Poly1305:
		return NewChaCha20Poly1305Engine(key)
	default:
		return nil, ErrUnsupportedCipher
	}
}
