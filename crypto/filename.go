package crypto

import "fmt"

// NameCipher implements NameAE: deterministic authenticated encryption
// of directory entry names, so that two entries with the same plaintext
// name collide deterministically and can be looked up by ciphertext
// equality without ever storing the plaintext.
type NameCipher struct {
	siv *SIV
}

// NewNameCipher builds a NameCipher from the repository's 64-byte name
// key (see DeriveNameKey), kept distinct from any object's payload key.
func NewNameCipher(nameKey []byte) (*NameCipher, error) {
	siv, err := NewSIV(nameKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create name cipher: %w", err)
	}
	return &NameCipher{siv: siv}, nil
}

// Seal encrypts a UTF-8 name, returning ciphertext of len(name)+16 bytes.
func (n *NameCipher) Seal(name string) ([]byte, error) {
	return n.siv.Encrypt([]byte(name))
}

// Open decrypts a name ciphertext produced by Seal, failing with
// ErrAuthFailed if the entry has been tampered with.
func (n *NameCipher) Open(ciphertext []byte) (string, error) {
	plaintext, err := n.siv.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
