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

package kdf

import (
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDFAdapter is an alternate MasterKeyKDF for deployments whose master
// key is already high-entropy (e.g. provisioned rather than
// password-derived), where Argon2's deliberate slowness buys nothing.
// blobstore.Store does not construct this by default; seal.go derives its
// own per-path HKDF stream directly for blob sealing, a separate concern
// from wrapping the master key envelope this adapter targets.
type HKDFAdapter struct{}

// NewHKDFAdapter builds an HKDF-backed MasterKeyKDF.
func NewHKDFAdapter() *HKDFAdapter {
	return &HKDFAdapter{}
}

// DeriveKey derives the envelope KEK with HKDF.
func (h *HKDFAdapter) DeriveKey(ikm []byte, params *MasterKeyKDFParams) ([]byte, error) {
	if err := h.ValidateParams(params); err != nil {
		return nil, err
	}

	if len(ikm) == 0 {
		return nil, ErrInvalidIKM
	}

	hash := params.Hash.New
	kdf := hkdf.New(hash, ikm, params.Salt, params.Info)

	key := make([]byte, params.KeyLength)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}

	return key, nil
}

// Algorithm reports AlgorithmHKDF.
func (h *HKDFAdapter) Algorithm() KDFAlgorithm {
	return AlgorithmHKDF
}

// ValidateParams rejects a nil/zero hash or a key length RFC 5869's
// 255*HashLen output-size bound can't satisfy. Salt and Info are both
// optional.
func (h *HKDFAdapter) ValidateParams(params *MasterKeyKDFParams) error {
	if params == nil {
		return ErrInvalidKeyLength
	}

	if params.Algorithm != AlgorithmHKDF {
		return ErrUnsupportedAlgorithm
	}

	if params.KeyLength <= 0 {
		return ErrInvalidKeyLength
	}

	if params.Hash == 0 {
		return ErrInvalidHash
	}

	if params.Hash.Size() == 0 {
		return ErrInvalidHash
	}

	if params.KeyLength > 255*params.Hash.Size() {
		return ErrInvalidKeyLength
	}

	return nil
}
