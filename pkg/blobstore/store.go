// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keychain.
//
// go-keychain is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package blobstore implements types.BlobStore over a storage.Backend,
// adding the per-user master-key envelope, the grant table, and the
// legacy USRPKEY_/CHR_/BLOB_ alias naming the core was built against.
package blobstore

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/automatethethings/keystore-core/pkg/adapters/kdf"
	"github.com/automatethethings/keystore-core/pkg/storage"
	filestorage "github.com/automatethethings/keystore-core/pkg/storage/file"
	memorystorage "github.com/automatethethings/keystore-core/pkg/storage/memory"
	"github.com/automatethethings/keystore-core/pkg/types"
)

// Store implements types.BlobStore over a storage.Backend. It owns three
// logical namespaces within that backend: blobs/<userID>/<path> for typed
// blobs, masterkeys/<userID> for the password-wrapped master key envelope,
// and grants/<ownerUID>/<alias>/<granteeUID> for the grant table.
type Store struct {
	mu      sync.RWMutex
	backend storage.Backend
	kdf     *kdf.Argon2Adapter

	// masterKeys caches each unlocked user's decrypted 32-byte master key.
	// A missing entry means Locked (envelope exists) or Uninitialized (it
	// doesn't); GetState tells the two apart by checking the backend.
	masterKeys map[int32][]byte

	grants map[string]*types.Grant
}

// record is the on-disk envelope around a types.Blob. ModifiedAt backs
// ModTime, which storage.Backend has no native concept of.
type record struct {
	Blob       types.Blob
	ModifiedAt int64
}

// masterKeyEnvelope is the password-wrapped master key persisted per user.
type masterKeyEnvelope struct {
	Salt       []byte
	Memory     uint32
	Time       uint32
	Threads    uint8
	Nonce      []byte
	Ciphertext []byte
}

// NewFileStore builds a Store backed by a directory on disk.
func NewFileStore(rootDir string) (*Store, error) {
	backend, err := filestorage.New(rootDir)
	if err != nil {
		return nil, fmt.Errorf("blobstore: %w", err)
	}
	s := newStore(backend)
	if err := s.hydrateGrants(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewMemoryStore builds a Store backed by an in-memory map, suitable for
// tests and for the software-only fallback configuration.
func NewMemoryStore() *Store {
	return newStore(memorystorage.New())
}

func newStore(backend storage.Backend) *Store {
	return &Store{
		backend:    backend,
		kdf:        kdf.NewArgon2idAdapter(),
		masterKeys: make(map[int32][]byte),
		grants:     make(map[string]*types.Grant),
	}
}

var _ types.BlobStore = (*Store)(nil)

// Put persists blob under path, scoped to userID's namespace. Encrypted and
// SuperEncrypted blobs are sealed under the user's cached master key; Put
// returns types.ErrLocked if that key isn't cached.
func (s *Store) Put(path string, blob *types.Blob, userID int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *blob
	if stored.Encrypted || stored.SuperEncrypted {
		masterKey, ok := s.masterKeys[userID]
		if !ok {
			return types.ErrLocked
		}
		sealed, err := sealValue(masterKey, path, stored.Value)
		if err != nil {
			return fmt.Errorf("blobstore: seal blob: %w", err)
		}
		stored.Value = sealed
	}

	rec := record{Blob: stored, ModifiedAt: time.Now().UnixMilli()}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("blobstore: encode blob: %w", err)
	}
	return s.backend.Put(blobKey(userID, path), data, nil)
}

// Get reads the blob at path in userID's namespace, unsealing it if it was
// stored Encrypted or SuperEncrypted.
func (s *Store) Get(path string, userID int32) (*types.Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getNoLock(path, userID)
}

func (s *Store) getNoLock(path string, userID int32) (*types.Blob, error) {
	data, err := s.backend.Get(blobKey(userID, path))
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, types.ErrKeyNotFound
		}
		return nil, fmt.Errorf("blobstore: read blob: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("blobstore: decode blob: %w", err)
	}

	blob := rec.Blob
	if blob.Encrypted || blob.SuperEncrypted {
		masterKey, ok := s.masterKeys[userID]
		if !ok {
			return nil, types.ErrLocked
		}
		opened, err := openValue(masterKey, path, blob.Value)
		if err != nil {
			return nil, fmt.Errorf("blobstore: unseal blob: %w", err)
		}
		blob.Value = opened
	}
	return &blob, nil
}

// Del removes the blob at path. blobType is accepted for interface
// compatibility; path already fully determines the storage key.
func (s *Store) Del(path string, blobType types.BlobType, userID int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Delete(blobKey(userID, path)); err != nil {
		if err == storage.ErrNotFound {
			return types.ErrKeyNotFound
		}
		return fmt.Errorf("blobstore: delete blob: %w", err)
	}
	return nil
}

// List returns the distinct aliases stored under userID whose canonical
// path has the given prefix.
func (s *Store) List(prefix string, userID int32) ([]types.Alias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys, err := s.backend.List(userNamespace(userID))
	if err != nil {
		return nil, fmt.Errorf("blobstore: list blobs: %w", err)
	}

	seen := make(map[types.Alias]bool)
	var aliases []types.Alias
	for _, key := range keys {
		path := trimUserNamespace(key, userID)
		if prefix != "" && !strings.HasPrefix(path, prefix) {
			continue
		}
		alias, ok := aliasFromPath(path)
		if !ok {
			continue
		}
		if !seen[alias] {
			seen[alias] = true
			aliases = append(aliases, alias)
		}
	}
	return aliases, nil
}

// ModTime returns path's last-modified time in userID's namespace.
func (s *Store) ModTime(path string, userID int32) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := s.backend.Get(blobKey(userID, path))
	if err != nil {
		return 0, false
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return 0, false
	}
	return rec.ModifiedAt, true
}

// IsHardwareBacked always reports false: this Store has no hardware backend
// of its own, it only persists what pkg/keymaster hands it.
func (s *Store) IsHardwareBacked(keyTypeName string) bool {
	return false
}

// IsEmpty reports whether userID has no blobs at all.
func (s *Store) IsEmpty(userID int32) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys, err := s.backend.List(userNamespace(userID))
	return err == nil && len(keys) == 0
}

func blobKey(userID int32, path string) string {
	return fmt.Sprintf("%s%s", userNamespace(userID), path)
}

func userNamespace(userID int32) string {
	return fmt.Sprintf("blobs/%d/", userID)
}

func trimUserNamespace(key string, userID int32) string {
	return strings.TrimPrefix(key, userNamespace(userID))
}
