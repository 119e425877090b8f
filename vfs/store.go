package vfs

import (
	"encoding/hex"
	"fmt"
	"os"
	"path"

	"github.com/test-acc-vaccym/securefs/blockstream"
	"github.com/test-acc-vaccym/securefs/crypto"
	"github.com/test-acc-vaccym/securefs/platform"
)

// Store maps object ids onto the backing data/meta file pairs (§3) and
// knows how to derive each object's per-object key from the repository
// master key (§4.1: HMAC(master_key, id)).
type Store struct {
	svc       platform.Service
	masterKey []byte
	suite     crypto.CipherSuite
	blockSize uint32
	dirMode   os.FileMode
}

// NewStore builds a Store rooted at svc, deriving per-object keys from
// masterKey and writing new block streams with suite/blockSize.
func NewStore(svc platform.Service, masterKey []byte, suite crypto.CipherSuite, blockSize uint32) *Store {
	return &Store{svc: svc, masterKey: masterKey, suite: suite, blockSize: blockSize, dirMode: 0o700}
}

// objectPaths shards ids two hex digits deep, mirroring how content-
// addressed stores keep any one directory from growing unbounded.
func (st *Store) objectPaths(id [32]byte) (dataPath, metaPath, shardDir string) {
	hexID := hex.EncodeToString(id[:])
	shardDir = path.Join("objects", hexID[:2])
	base := path.Join(shardDir, hexID)
	return base + ".data", base + ".meta", shardDir
}

func (st *Store) objectKey(id [32]byte) []byte {
	return crypto.DeriveObjectKey(st.masterKey, id[:])
}

func (st *Store) nameCipher() (*crypto.NameCipher, error) {
	return crypto.NewNameCipher(crypto.DeriveNameKey(st.masterKey))
}

// Create allocates fresh backing files for a brand-new object and
// returns its wrapped representative, per the creation protocol (§4.6).
func (st *Store) Create(id [32]byte, flavor Flavor, uid, gid uint32, mode os.FileMode) (Object, error) {
	dataPath, metaPath, shardDir := st.objectPaths(id)
	if err := st.svc.Mkdir("objects", st.dirMode); err != nil && err != platform.ErrNotImplemented {
		return nil, New(KindIO, "create", "", err)
	}
	if err := st.svc.Mkdir(shardDir, st.dirMode); err != nil && err != platform.ErrNotImplemented {
		return nil, New(KindIO, "create", "", err)
	}

	data, err := st.svc.OpenFileStream(dataPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, New(KindIO, "create", "", err)
	}
	meta, err := st.svc.OpenFileStream(metaPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		data.Close()
		return nil, New(KindIO, "create", "", err)
	}

	stream, err := blockstream.Create(data, meta, st.suite, st.objectKey(id), st.blockSize)
	if err != nil {
		data.Close()
		meta.Close()
		return nil, New(KindIO, "create", "", err)
	}

	now := st.svc.Now()
	header := Header{
		Uid: uid, Gid: gid,
		Mode:      mode,
		Nlink:     1,
		Atime:     now,
		Mtime:     now,
		Ctime:     now,
		Birthtime: now,
	}
	engine, err := crypto.NewBlockAE(st.suite, st.objectKey(id))
	if err != nil {
		return nil, New(KindIO, "create", "", err)
	}
	fb := newFileBase(id, flavor, engine, stream, header, st.svc.Now)
	fb.headerDirty = true

	obj, err := st.wrap(fb)
	if err != nil {
		return nil, err
	}
	if err := fb.Flush(); err != nil {
		return nil, err
	}
	return obj, nil
}

// Open loads an existing object's backing files and header.
func (st *Store) Open(id [32]byte) (Object, error) {
	dataPath, metaPath, _ := st.objectPaths(id)

	data, err := st.svc.OpenFileStream(dataPath, os.O_RDWR, 0)
	if err != nil {
		return nil, New(KindNotFound, "open", "", err)
	}
	meta, err := st.svc.OpenFileStream(metaPath, os.O_RDWR, 0)
	if err != nil {
		data.Close()
		return nil, New(KindNotFound, "open", "", err)
	}

	key := st.objectKey(id)
	stream, err := blockstream.Open(data, meta, key)
	if err != nil {
		data.Close()
		meta.Close()
		return nil, New(KindCorrupt, "open", "", err)
	}
	engine, err := crypto.NewBlockAE(st.suite, key)
	if err != nil {
		return nil, New(KindIO, "open", "", err)
	}

	blob, err := stream.ReadHeaderRegion()
	if err != nil {
		return nil, New(KindCorrupt, "open", "", err)
	}
	header, err := openHeader(engine, blob)
	if err != nil {
		return nil, New(KindAuthFail, "open", "", err)
	}

	fb := newFileBase(id, FlavorOfMode(header.Mode), engine, stream, *header, st.svc.Now)
	return st.wrap(fb)
}

// Remove deletes both backing files for id. Called once an object's
// link count and reference count have both reached zero.
func (st *Store) Remove(id [32]byte) error {
	dataPath, metaPath, _ := st.objectPaths(id)
	err1 := st.svc.RemoveFile(dataPath)
	err2 := st.svc.RemoveFile(metaPath)
	if err1 != nil {
		return New(KindIO, "remove", "", err1)
	}
	if err2 != nil {
		return New(KindIO, "remove", "", err2)
	}
	return nil
}

func (st *Store) wrap(fb *FileBase) (Object, error) {
	switch fb.flavor {
	case FlavorRegular:
		return newRegularFile(fb), nil
	case FlavorSymlink:
		return newSymlink(fb), nil
	case FlavorDirectory:
		nc, err := st.nameCipher()
		if err != nil {
			return nil, New(KindIO, "open", "", err)
		}
		return newDirectory(fb, nc), nil
	default:
		return nil, fmt.Errorf("store: unknown flavor %v", fb.flavor)
	}
}
