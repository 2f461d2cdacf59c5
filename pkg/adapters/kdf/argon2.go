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
	"golang.org/x/crypto/argon2"
)

const (
	// MinArgon2SaltLength is the minimum recommended salt length in bytes
	MinArgon2SaltLength = 16

	// MinArgon2Memory is the minimum memory cost in KiB
	MinArgon2Memory = 8 * 1024 // 8 MiB

	// MinArgon2Time is the minimum time cost
	MinArgon2Time = 1

	// MinArgon2Threads is the minimum number of threads
	MinArgon2Threads = 1
)

// Argon2Adapter is the MasterKeyKDF blobstore.Store constructs by default:
// every master-key envelope wrapAndPersist writes is wrapped with this.
type Argon2Adapter struct {
	variant KDFAlgorithm
}

// NewArgon2Adapter builds an adapter for variant, falling back to
// AlgorithmArgon2id for anything else.
func NewArgon2Adapter(variant KDFAlgorithm) *Argon2Adapter {
	if variant != AlgorithmArgon2i && variant != AlgorithmArgon2id {
		variant = AlgorithmArgon2id
	}
	return &Argon2Adapter{
		variant: variant,
	}
}

// NewArgon2iAdapter builds an adapter using the side-channel-resistant
// Argon2i variant.
func NewArgon2iAdapter() *Argon2Adapter {
	return &Argon2Adapter{
		variant: AlgorithmArgon2i,
	}
}

// NewArgon2idAdapter builds an adapter using Argon2id, the variant
// NewFileStore and NewMemoryStore both wire in.
func NewArgon2idAdapter() *Argon2Adapter {
	return &Argon2Adapter{
		variant: AlgorithmArgon2id,
	}
}

// DeriveKey derives the envelope KEK with Argon2.
func (a *Argon2Adapter) DeriveKey(ikm []byte, params *MasterKeyKDFParams) ([]byte, error) {
	if err := a.ValidateParams(params); err != nil {
		return nil, err
	}

	if len(ikm) == 0 {
		return nil, ErrInvalidIKM
	}

	var key []byte

	switch a.variant {
	case AlgorithmArgon2i:
		key = argon2.Key(
			ikm,
			params.Salt,
			params.Time,
			params.Memory,
			params.Threads,
			uint32(params.KeyLength),
		)
	case AlgorithmArgon2id:
		key = argon2.IDKey(
			ikm,
			params.Salt,
			params.Time,
			params.Memory,
			params.Threads,
			uint32(params.KeyLength),
		)
	default:
		return nil, ErrUnsupportedAlgorithm
	}

	return key, nil
}

// Algorithm reports the adapter's configured variant.
func (a *Argon2Adapter) Algorithm() KDFAlgorithm {
	return a.variant
}

// ValidateParams enforces the cost floor masterkey.go's deriveKEK relies on
// when re-deriving a KEK from a previously persisted envelope's parameters.
func (a *Argon2Adapter) ValidateParams(params *MasterKeyKDFParams) error {
	if params == nil {
		return ErrInvalidKeyLength
	}

	if params.Algorithm != a.variant {
		// AlgorithmArgon2 names the family without a variant; defer to
		// whichever variant this adapter was constructed with.
		if params.Algorithm != AlgorithmArgon2 {
			return ErrUnsupportedAlgorithm
		}
	}

	if params.KeyLength <= 0 {
		return ErrInvalidKeyLength
	}

	if len(params.Salt) < MinArgon2SaltLength {
		return ErrInvalidSalt
	}

	if params.Memory < MinArgon2Memory {
		return ErrInvalidMemory
	}

	if params.Time < MinArgon2Time {
		return ErrInvalidTime
	}

	if params.Threads < MinArgon2Threads {
		return ErrInvalidThreads
	}

	return nil
}
