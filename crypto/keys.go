package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"
	"os"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2Params configures PBKDF2-based master-key derivation.
type PBKDF2Params struct {
	Iterations int
	HashFunc   HashFunc
	SaltSize   int
	KeySize    int
}

// Argon2idParams configures Argon2id-based master-key derivation.
type Argon2idParams struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltSize    int
	KeySize     int
}

// KeyProvider supplies the repository master key from some external
// secret (a password, an environment variable, a hardware token).
type KeyProvider interface {
	DeriveKey(salt []byte) ([]byte, error)
	GenerateSalt() ([]byte, error)
}

// hashFuncToHash resolves a HashFunc to its constructor.
func hashFuncToHash(hf HashFunc) (func() hash.Hash, error) {
	switch hf {
	case SHA256:
		return sha256.New, nil
	case SHA512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("unsupported hash function: %v", hf)
	}
}

// PasswordKeyProvider derives the master key from a passphrase, using
// either Argon2id (recommended) or PBKDF2.
type PasswordKeyProvider struct {
	password     []byte
	useArgon2id  bool
	pbkdf2Params PBKDF2Params
	argon2Params Argon2idParams
}

func NewPasswordKeyProviderPBKDF2(password []byte, params PBKDF2Params) *PasswordKeyProvider {
	if params.Iterations == 0 {
		params.Iterations = 100000
	}
	if params.SaltSize == 0 {
		params.SaltSize = 32
	}
	if params.KeySize == 0 {
		params.KeySize = 32
	}
	return &PasswordKeyProvider{password: password, useArgon2id: false, pbkdf2Params: params}
}

func NewPasswordKeyProvider(password []byte, params Argon2idParams) *PasswordKeyProvider {
	if params.Memory == 0 {
		params.Memory = 64 * 1024
	}
	if params.Iterations == 0 {
		params.Iterations = 3
	}
	if params.Parallelism == 0 {
		params.Parallelism = 4
	}
	if params.SaltSize == 0 {
		params.SaltSize = 32
	}
	if params.KeySize == 0 {
		params.KeySize = 32
	}
	return &PasswordKeyProvider{password: password, useArgon2id: true, argon2Params: params}
}

func (p *PasswordKeyProvider) DeriveKey(salt []byte) ([]byte, error) {
	if len(p.password) == 0 {
		return nil, errors.New("password cannot be empty")
	}
	if len(salt) == 0 {
		return nil, errors.New("salt cannot be empty")
	}

	if p.useArgon2id {
		return argon2.IDKey(
			p.password,
			salt,
			p.argon2Params.Iterations,
			p.argon2Params.Memory,
			p.argon2Params.Parallelism,
			uint32(p.argon2Params.KeySize),
		), nil
	}

	hashFunc, err := hashFuncToHash(p.pbkdf2Params.HashFunc)
	if err != nil {
		return nil, err
	}
	return pbkdf2.Key(p.password, salt, p.pbkdf2Params.Iterations, p.pbkdf2Params.KeySize, hashFunc), nil
}

func (p *PasswordKeyProvider) GenerateSalt() ([]byte, error) {
	saltSize := p.pbkdf2Params.SaltSize
	if p.useArgon2id {
		saltSize = p.argon2Params.SaltSize
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// EnvKeyProvider reads a pre-derived 32-byte master key from an
// environment variable, bypassing password-based derivation entirely.
type EnvKeyProvider struct {
	envVar   string
	saltSize int
}

func NewEnvKeyProvider(envVar string) *EnvKeyProvider {
	return &EnvKeyProvider{envVar: envVar, saltSize: 32}
}

func (e *EnvKeyProvider) DeriveKey(salt []byte) ([]byte, error) {
	raw := os.Getenv(e.envVar)
	if raw == "" {
		return nil, fmt.Errorf("environment variable %s not set", e.envVar)
	}
	key := []byte(raw)
	if len(key) != 32 {
		return nil, fmt.Errorf("key from environment variable must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

func (e *EnvKeyProvider) GenerateSalt() ([]byte, error) {
	salt := make([]byte, e.saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// DeriveObjectKey derives a per-object payload key from the repository
// master key and the object's id, per the HMAC(master_key, id) contract.
func DeriveObjectKey(masterKey, id []byte) []byte {
	mac := hmac.New(sha256.New, masterKey)
	mac.Write(id)
	return mac.Sum(nil)
}

// DeriveNameKey derives the 64-byte SIV key used for filename encryption
// from the master key, kept distinct from per-object payload keys.
func DeriveNameKey(masterKey []byte) []byte {
	out := make([]byte, 64)
	h1 := hmac.New(sha256.New, masterKey)
	h1.Write([]byte("securefs-name-key-1"))
	copy(out[:32], h1.Sum(nil))

	h2 := hmac.New(sha256.New, masterKey)
	h2.Write([]byte("securefs-name-key-2"))
	copy(out[32:], h2.Sum(nil))
	return out
}
