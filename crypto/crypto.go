package crypto

import "errors"

// Common sentinel errors surfaced by cipher and key-derivation operations.
var (
	ErrInvalidKey        = errors.New("invalid encryption key")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrAuthFailed        = errors.New("authentication failed - data may be corrupted or tampered")
	ErrUnsupportedCipher = errors.New("unsupported cipher suite")
)

// CipherSuite selects the block-level AEAD algorithm.
type CipherSuite uint8

const (
	// CipherAuto selects AES-256-GCM.
	CipherAuto CipherSuite = iota
	// CipherAES256GCM uses AES-256 in Galois/Counter Mode.
	CipherAES256GCM
	// CipherChaCha20Poly1305 uses the ChaCha20-Poly1305 AEAD.
	CipherChaCha20Poly1305
)

func (c CipherSuite) String() string {
	switch c {
	case CipherAuto:
		return "auto"
	case CipherAES256GCM:
		return "aes-256-gcm"
	case CipherChaCha20Poly1305:
		return "chacha20-poly1305"
	default:
		return "unknown"
	}
}

// HashFunc selects the hash function used by PBKDF2.
type HashFunc uint8

const (
	SHA256 HashFunc = iota
	SHA512
)
