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

package keystore

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/automatethethings/keystore-core/pkg/types"
)

// EnforcementPolicy verifies, per spec.md 4.G, that a requested operation
// is permitted by a key's authorization list.
type EnforcementPolicy struct {
	nowMillis func() int64
}

// NewEnforcementPolicy creates a policy using nowMillis as its clock source
// for validity-window checks.
func NewEnforcementPolicy(nowMillis func() int64) *EnforcementPolicy {
	return &EnforcementPolicy{nowMillis: nowMillis}
}

// ComputeKeyID returns a stable identifier for the keymaster blob bytes,
// used to correlate authorizations across operations on the same key.
func ComputeKeyID(keymasterBlob []byte) types.KeyID {
	sum := sha256.Sum256(keymasterBlob)
	return types.KeyID(hex.EncodeToString(sum[:]))
}

// usageCounter tracks per-key-id usage within the process lifetime, a
// software-enforced approximation of "per boot" (the process is the unit
// of "boot" for this core).
type usageCounter struct {
	mu     sync.Mutex
	counts map[types.KeyID]int
}

func newUsageCounter() *usageCounter {
	return &usageCounter{counts: make(map[types.KeyID]int)}
}

func (u *usageCounter) increment(id types.KeyID) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.counts[id]++
	return u.counts[id]
}

// AuthorizeOperation checks purpose, algorithm/digest/padding/block-mode
// compatibility, the restricted-tag list, max-uses-per-boot, the
// active/origination-expire/usage-expire validity windows, and
// caller-nonce permission, against characteristics. opHandle is the
// keymaster operation handle (meaningful only once begin has returned one);
// isBegin distinguishes the begin call, which also checks
// origination-expiry, from update/finish, which do not.
func (p *EnforcementPolicy) AuthorizeOperation(purpose types.Purpose, keyID types.KeyID, characteristics *types.KeyCharacteristics, opParams types.AuthorizationList, opHandle types.OperationHandle, isBegin bool, usage *usageCounter) error {
	if tag, ok := opParams.ContainsRestricted(); ok {
		_ = tag
		return ErrRestrictedTag
	}

	union := characteristics.Union()

	if !union.AllowsPurpose(purpose) {
		return ErrInvalidPurpose
	}

	if alg, ok := opParams.Get(types.TagAlgorithm); ok {
		if !containsValue(union.GetAll(types.TagAlgorithm), alg) {
			return ErrInvalidAlgorithm
		}
	}
	if dig, ok := opParams.Get(types.TagDigest); ok {
		if allowed := union.GetAll(types.TagDigest); len(allowed) > 0 && !containsValue(allowed, dig) {
			return ErrInvalidAlgorithm
		}
	}
	if pad, ok := opParams.Get(types.TagPadding); ok {
		if allowed := union.GetAll(types.TagPadding); len(allowed) > 0 && !containsValue(allowed, pad) {
			return ErrInvalidAlgorithm
		}
	}
	if bm, ok := opParams.Get(types.TagBlockMode); ok {
		if allowed := union.GetAll(types.TagBlockMode); len(allowed) > 0 && !containsValue(allowed, bm) {
			return ErrInvalidAlgorithm
		}
	}

	if opParams.Has(types.TagIncludeUniqueID) && !union.Has(types.TagIncludeUniqueID) {
		return ErrInvalidAlgorithm
	}

	if _, wantsNonce := opParams.Get(types.TagCallerNonce); wantsNonce {
		if !union.Has(types.TagCallerNonce) {
			return ErrCallerNonceNotAllowed
		}
	}

	if max, ok := union.Get(types.TagMaxUsesPerBoot); ok && usage != nil && isBegin {
		limit, _ := max.(int)
		if usage.increment(keyID) > limit {
			return ErrMaxUsesExceeded
		}
	}

	if p.nowMillis != nil {
		now := p.nowMillis()
		if v, ok := union.Get(types.TagActiveDateTime); ok {
			if active, ok := v.(int64); ok && now < active {
				return ErrOutsideValidityWindow
			}
		}
		if isBegin {
			if v, ok := union.Get(types.TagOriginationExpireDateTime); ok {
				if expire, ok := v.(int64); ok && now > expire {
					return ErrOutsideValidityWindow
				}
			}
		}
		if v, ok := union.Get(types.TagUsageExpireDateTime); ok {
			if expire, ok := v.(int64); ok && now > expire {
				return ErrOutsideValidityWindow
			}
		}
	}

	return nil
}

func containsValue(values []any, target any) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
