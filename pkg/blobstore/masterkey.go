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

package blobstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"

	"github.com/automatethethings/keystore-core/pkg/adapters/kdf"
	"github.com/automatethethings/keystore-core/pkg/storage"
	"github.com/automatethethings/keystore-core/pkg/types"
)

const masterKeyLength = 32

func masterKeyStorageKey(userID int32) string {
	return fmt.Sprintf("masterkeys/%d", userID)
}

// GetState reports Unlocked if userID's master key is cached in memory,
// Locked if its envelope exists on disk but isn't decrypted, or
// Uninitialized if neither.
func (s *Store) GetState(userID int32) types.UserState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.masterKeys[userID]; ok {
		return types.StateUnlocked
	}
	if exists, _ := s.backend.Exists(masterKeyStorageKey(userID)); exists {
		return types.StateLocked
	}
	return types.StateUninitialized
}

// InitializeUser generates a fresh random master key, wraps it under
// password, and transitions userID straight to Unlocked.
func (s *Store) InitializeUser(userID int32, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if exists, _ := s.backend.Exists(masterKeyStorageKey(userID)); exists {
		return types.ErrKeyAlreadyExists
	}

	masterKey := make([]byte, masterKeyLength)
	if _, err := io.ReadFull(rand.Reader, masterKey); err != nil {
		return fmt.Errorf("blobstore: generate master key: %w", err)
	}

	if err := s.wrapAndPersist(userID, password, masterKey); err != nil {
		return err
	}
	s.masterKeys[userID] = masterKey
	return nil
}

// WriteMasterKey re-wraps the already-unlocked master key under a new
// password, leaving the key material itself unchanged.
func (s *Store) WriteMasterKey(userID int32, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	masterKey, ok := s.masterKeys[userID]
	if !ok {
		return types.ErrLocked
	}
	return s.wrapAndPersist(userID, password, masterKey)
}

// ReadMasterKey unwraps userID's envelope with password and, on success,
// caches the master key, transitioning Locked -> Unlocked.
func (s *Store) ReadMasterKey(userID int32, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.backend.Get(masterKeyStorageKey(userID))
	if err != nil {
		if err == storage.ErrNotFound {
			return types.ErrUninitialized
		}
		return fmt.Errorf("blobstore: read master key envelope: %w", err)
	}

	var env masterKeyEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("blobstore: decode master key envelope: %w", err)
	}

	kek, err := s.deriveKEK(password, &env)
	if err != nil {
		return fmt.Errorf("blobstore: derive kek: %w", err)
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return fmt.Errorf("blobstore: new aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("blobstore: new gcm: %w", err)
	}

	masterKey, err := gcm.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return types.ErrWrongPassword
	}

	s.masterKeys[userID] = masterKey
	return nil
}

// Lock discards userID's cached master key. The envelope on disk is
// untouched; ReadMasterKey re-derives it from the same password.
func (s *Store) Lock(userID int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if masterKey, ok := s.masterKeys[userID]; ok {
		for i := range masterKey {
			masterKey[i] = 0
		}
		delete(s.masterKeys, userID)
	}
	return nil
}

// ResetUser discards userID's master key and blobs. If keepCore is true,
// only Encrypted (or SuperEncrypted) blobs are deleted; plaintext blobs
// are left in place, since it's the master key backing them that's being
// destroyed (spec.md 8 scenario 6; key_store_service.cpp's resetUser
// "deleting encrypted entries" distinction).
func (s *Store) ResetUser(userID int32, keepCore bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if masterKey, ok := s.masterKeys[userID]; ok {
		for i := range masterKey {
			masterKey[i] = 0
		}
		delete(s.masterKeys, userID)
	}
	_ = s.backend.Delete(masterKeyStorageKey(userID))

	keys, err := s.backend.List(userNamespace(userID))
	if err != nil {
		return fmt.Errorf("blobstore: list blobs for reset: %w", err)
	}
	for _, key := range keys {
		if keepCore {
			data, err := s.backend.Get(key)
			if err == nil {
				var rec record
				if json.Unmarshal(data, &rec) == nil && !rec.Blob.Encrypted && !rec.Blob.SuperEncrypted {
					continue
				}
			}
		}
		_ = s.backend.Delete(key)
	}
	return nil
}

// CopyMasterKey copies srcUserID's master key envelope to dstUserID
// verbatim, along with the decrypted key if srcUserID is currently
// Unlocked.
func (s *Store) CopyMasterKey(srcUserID, dstUserID int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.backend.Get(masterKeyStorageKey(srcUserID))
	if err != nil {
		if err == storage.ErrNotFound {
			return types.ErrUninitialized
		}
		return fmt.Errorf("blobstore: read master key envelope: %w", err)
	}
	if err := s.backend.Put(masterKeyStorageKey(dstUserID), data, nil); err != nil {
		return fmt.Errorf("blobstore: write master key envelope: %w", err)
	}

	if masterKey, ok := s.masterKeys[srcUserID]; ok {
		copied := make([]byte, len(masterKey))
		copy(copied, masterKey)
		s.masterKeys[dstUserID] = copied
	}
	return nil
}

func (s *Store) wrapAndPersist(userID int32, password string, masterKey []byte) error {
	params := kdf.DefaultParams(kdf.AlgorithmArgon2id)
	salt := make([]byte, kdf.MinArgon2SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("blobstore: generate salt: %w", err)
	}
	params.Salt = salt

	kek, err := s.kdf.DeriveKey([]byte(password), params)
	if err != nil {
		return fmt.Errorf("blobstore: derive kek: %w", err)
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return fmt.Errorf("blobstore: new aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("blobstore: new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("blobstore: generate nonce: %w", err)
	}

	env := masterKeyEnvelope{
		Salt:       salt,
		Memory:     params.Memory,
		Time:       params.Time,
		Threads:    params.Threads,
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, masterKey, nil),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("blobstore: encode master key envelope: %w", err)
	}
	return s.backend.Put(masterKeyStorageKey(userID), data, nil)
}

func (s *Store) deriveKEK(password string, env *masterKeyEnvelope) ([]byte, error) {
	return s.kdf.DeriveKey([]byte(password), &kdf.MasterKeyKDFParams{
		Algorithm: kdf.AlgorithmArgon2id,
		Salt:      env.Salt,
		Memory:    env.Memory,
		Time:      env.Time,
		Threads:   env.Threads,
		KeyLength: masterKeyLength,
	})
}
