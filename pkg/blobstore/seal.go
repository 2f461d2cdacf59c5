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
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const blobSealInfo = "blob-value-seal-v1"

// sealValue derives a per-path AES-256-GCM key from masterKey via HKDF and
// seals value under it, prepending the nonce, the same shape
// pkg/backend/pkcs8's sealer uses for its own HKDF-derived sealing key.
func sealValue(masterKey []byte, path string, value []byte) ([]byte, error) {
	gcm, err := gcmFor(masterKey, path)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, value, nil), nil
}

// openValue reverses sealValue.
func openValue(masterKey []byte, path string, sealed []byte) ([]byte, error) {
	gcm, err := gcmFor(masterKey, path)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("sealed value too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func gcmFor(masterKey []byte, path string) (cipher.AEAD, error) {
	derived, err := deriveBlobKey(masterKey, path)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("new aes cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func deriveBlobKey(masterKey []byte, path string) ([]byte, error) {
	reader := hkdf.New(sha256.New, masterKey, []byte(path), []byte(blobSealInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive blob key: %w", err)
	}
	return key, nil
}
