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
	"golang.org/x/crypto/pbkdf2"
)

const (
	// MinPBKDF2Iterations is the minimum recommended iteration count
	MinPBKDF2Iterations = 100000

	// MinPBKDF2SaltLength is the minimum recommended salt length in bytes
	MinPBKDF2SaltLength = 16
)

// PBKDF2Adapter is an alternate MasterKeyKDF for deployments that need
// FIPS-validated primitives over Argon2 for the same master-key envelope
// wrapping step NewArgon2idAdapter covers by default.
type PBKDF2Adapter struct{}

// NewPBKDF2Adapter builds a PBKDF2-backed MasterKeyKDF.
func NewPBKDF2Adapter() *PBKDF2Adapter {
	return &PBKDF2Adapter{}
}

// DeriveKey derives the envelope KEK with PBKDF2.
func (p *PBKDF2Adapter) DeriveKey(ikm []byte, params *MasterKeyKDFParams) ([]byte, error) {
	if err := p.ValidateParams(params); err != nil {
		return nil, err
	}

	if len(ikm) == 0 {
		return nil, ErrInvalidIKM
	}

	key := pbkdf2.Key(ikm, params.Salt, params.Iterations, params.KeyLength, params.Hash.New)

	return key, nil
}

// Algorithm reports AlgorithmPBKDF2.
func (p *PBKDF2Adapter) Algorithm() KDFAlgorithm {
	return AlgorithmPBKDF2
}

// ValidateParams enforces the OWASP iteration-count floor and a minimum
// salt length before DeriveKey runs.
func (p *PBKDF2Adapter) ValidateParams(params *MasterKeyKDFParams) error {
	if params == nil {
		return ErrInvalidKeyLength
	}

	if params.Algorithm != AlgorithmPBKDF2 {
		return ErrUnsupportedAlgorithm
	}

	if params.KeyLength <= 0 {
		return ErrInvalidKeyLength
	}

	if len(params.Salt) < MinPBKDF2SaltLength {
		return ErrInvalidSalt
	}

	if params.Iterations < MinPBKDF2Iterations {
		return ErrInvalidIterations
	}

	if params.Hash == 0 {
		return ErrInvalidHash
	}

	if params.Hash.Size() == 0 {
		return ErrInvalidHash
	}

	return nil
}
