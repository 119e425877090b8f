// Package crypto provides the cryptographic contracts the encrypted
// overlay filesystem treats as black boxes: block-level AEAD (BlockAE),
// deterministic AEAD for directory entry names (NameAE), and master-key
// and per-object key derivation.
//
// # Supported cipher suites
//
//   - AES-256-GCM
//   - ChaCha20-Poly1305
//
// Both provide authenticated encryption with 128-bit tags. AES-256-GCM
// comes from Go's standard crypto package (AES-NI accelerated where
// available); ChaCha20-Poly1305 comes from golang.org/x/crypto.
//
// # Key derivation
//
// The repository master key is derived from a passphrase via Argon2id
// (recommended, memory-hard) or PBKDF2 (FIPS-approved, CPU-only). Every
// object's payload key is then HMAC(master_key, id); directory entry
// names are protected under a separate key derived via DeriveNameKey.
package crypto
