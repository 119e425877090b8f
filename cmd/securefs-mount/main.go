// Command securefs-mount mounts an encrypted overlay filesystem backed
// by a plain directory of ciphertext objects, via FUSE.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/rs/zerolog"

	"github.com/test-acc-vaccym/securefs/crypto"
	"github.com/test-acc-vaccym/securefs/ops"
	"github.com/test-acc-vaccym/securefs/platform"
	"github.com/test-acc-vaccym/securefs/vfs"
)

// deriveMasterKey resolves the repository's master key, either straight
// from SECUREFS_MASTER_KEY or, if passwordEnv names a set environment
// variable, by running an Argon2id-based PasswordKeyProvider against a
// salt persisted next to the backend (generated on first mount so the
// same passphrase keeps deriving the same key across mounts).
func deriveMasterKey(backend, passwordEnv string) ([]byte, error) {
	if passwordEnv == "" {
		return crypto.NewEnvKeyProvider("SECUREFS_MASTER_KEY").DeriveKey(nil)
	}

	password := os.Getenv(passwordEnv)
	if password == "" {
		return nil, fmt.Errorf("environment variable %s not set", passwordEnv)
	}
	provider := crypto.NewPasswordKeyProvider([]byte(password), crypto.Argon2idParams{})

	saltPath := filepath.Join(backend, "keysalt")
	salt, err := os.ReadFile(saltPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read key salt: %w", err)
		}
		if salt, err = provider.GenerateSalt(); err != nil {
			return nil, fmt.Errorf("generate key salt: %w", err)
		}
		if err := os.MkdirAll(backend, 0o700); err != nil {
			return nil, fmt.Errorf("create backend directory: %w", err)
		}
		if err := os.WriteFile(saltPath, salt, 0o600); err != nil {
			return nil, fmt.Errorf("write key salt: %w", err)
		}
	}
	return provider.DeriveKey(salt)
}

func main() {
	var (
		backend     = flag.String("backend", "", "directory holding the encrypted object store")
		mountpath   = flag.String("mount", "", "mount point")
		blockSize   = flag.Uint("block-size", 4096, "payload block size in bytes")
		debug       = flag.Bool("debug", false, "enable FUSE debug logging")
		readOnly    = flag.Bool("readonly", false, "mount read-only; reject every mutating operation")
		passwordEnv = flag.String("password-env", "", "environment variable holding a passphrase; derives the master key with Argon2id instead of reading SECUREFS_MASTER_KEY directly")
	)
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if *backend == "" || *mountpath == "" {
		log.Fatal().Msg("-backend and -mount are required")
	}

	masterKey, err := deriveMasterKey(*backend, *passwordEnv)
	if err != nil {
		log.Fatal().Err(err).Msg("derive master key")
	}

	svc := platform.NewPosixService(*backend)

	store := vfs.NewStore(svc, masterKey, crypto.CipherAES256GCM, uint32(*blockSize))
	table := vfs.NewFileTable(store)

	operations, err := ops.New(table, svc, log, *readOnly)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize filesystem")
	}

	if err := os.MkdirAll(*mountpath, 0o755); err != nil {
		log.Fatal().Err(err).Msg("create mount point")
	}

	root := &Node{ops: operations}
	opts := &fs.Options{}
	opts.Debug = *debug
	opts.UID = uint32(svc.Getuid())
	opts.GID = uint32(svc.Getgid())

	server, err := fs.Mount(*mountpath, root, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("mount")
	}
	log.Info().Str("mount", *mountpath).Str("backend", *backend).Msg("mounted")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("unmounting")
		server.Unmount()
	}()

	server.Wait()
}
