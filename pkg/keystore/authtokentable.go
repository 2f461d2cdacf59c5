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
	"sync"

	"github.com/automatethethings/keystore-core/pkg/types"
)

// AuthTokenFindResult is the outcome of AuthTokenTable.Find.
type AuthTokenFindResult int

const (
	// FindOk means a matching, current token was found.
	FindOk AuthTokenFindResult = iota
	// FindNotRequired means the key does not require an auth token.
	FindNotRequired
	// FindTokenNotFound means no token matches the key's requirements.
	FindTokenNotFound
	// FindTokenExpired means a token matched everything except the
	// auth-timeout window.
	FindTokenExpired
	// FindWrongSid means a token's user_id is present but not authorized
	// for this key's user-secure-id list.
	FindWrongSid
	// FindOpHandleRequired means the key demands a per-operation token and
	// the operation handle is not yet known (the "begin before
	// authenticate" case, benign per spec.md 4.A).
	FindOpHandleRequired
)

// AuthTokenTable holds recently presented AuthTokens and matches them
// against a key's authorization list (spec.md 4.A). Add never evicts;
// tokens leave the table only through OnDeviceOffBody or Clear.
type AuthTokenTable struct {
	mu     sync.Mutex
	tokens []types.AuthToken
	// completed records operation handles whose owning operation finished.
	// No lookup in the table consults it; OnDeviceOffBody drops tokens by
	// age alone.
	completed map[types.OperationHandle]bool
	nowMillis func() int64
}

// NewAuthTokenTable creates an empty table. nowMillis supplies the current
// wall-clock time in unix millis; pass a fixed function in tests.
func NewAuthTokenTable(nowMillis func() int64) *AuthTokenTable {
	return &AuthTokenTable{
		completed: make(map[types.OperationHandle]bool),
		nowMillis: nowMillis,
	}
}

// Add inserts a newly presented auth token.
func (t *AuthTokenTable) Add(token types.AuthToken) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens = append(t.tokens, token)
}

// Clear empties the table, defeating stale tokens (invoked at password
// change, spec.md 4.A).
func (t *AuthTokenTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens = nil
	t.completed = make(map[types.OperationHandle]bool)
}

// MarkCompleted records that the operation bound to handle has finished,
// so the token matched to it is no longer needed for future update/finish
// calls on that operation.
func (t *AuthTokenTable) MarkCompleted(handle types.OperationHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed[handle] = true
}

// OnDeviceOffBody expires tokens whose characteristics would require
// continuous on-body presence. This is an implementation hint in spec.md,
// not an invariant check point: tokens older than staleAfterMillis are
// simply dropped.
func (t *AuthTokenTable) OnDeviceOffBody(staleAfterMillis int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.nowMillis == nil {
		return
	}
	now := t.nowMillis()
	kept := t.tokens[:0]
	for _, tok := range t.tokens {
		if now-tok.Timestamp <= staleAfterMillis {
			kept = append(kept, tok)
		}
	}
	t.tokens = kept
}

// Find looks for a token matching characteristics' authorization
// requirements for purpose, optionally constrained to a known operation
// handle (the per-operation-auth challenge). handleKnown distinguishes "no
// handle yet" (begin time) from "handle is zero" (never valid).
func (t *AuthTokenTable) Find(characteristics *types.KeyCharacteristics, purpose types.Purpose, handle types.OperationHandle, handleKnown bool) (types.AuthToken, AuthTokenFindResult) {
	union := characteristics.Union()
	if !characteristics.AuthenticationBound() {
		return types.AuthToken{}, FindNotRequired
	}

	sids := union.GetAll(types.TagUserSecureID)
	allowedAuthTypes := types.AuthTypeNone
	for _, v := range union.GetAll(types.TagUserAuthType) {
		if at, ok := v.(types.AuthenticatorType); ok {
			allowedAuthTypes |= at
		}
	}

	perOp := union.Has(types.TagAuthToken) // keystore-internal marker meaning "per-operation challenge required"

	var authTimeoutMillis int64 = -1
	if v, ok := union.Get(types.TagAuthTimeout); ok {
		if ms, ok := v.(int64); ok {
			authTimeoutMillis = ms
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	sawWrongSid := false
	var now int64
	if t.nowMillis != nil {
		now = t.nowMillis()
	}

	for _, tok := range t.tokens {
		if !sidMatches(sids, tok.UserSecureID) {
			sawWrongSid = true
			continue
		}
		if allowedAuthTypes != types.AuthTypeAny && allowedAuthTypes&tok.AuthenticatorType == 0 && allowedAuthTypes != types.AuthTypeNone {
			continue
		}
		if perOp {
			if !handleKnown {
				return types.AuthToken{}, FindOpHandleRequired
			}
			if tok.Challenge != uint64(handle) {
				continue
			}
		}
		if authTimeoutMillis >= 0 && t.nowMillis != nil && now-tok.Timestamp > authTimeoutMillis {
			return tok, FindTokenExpired
		}
		return tok, FindOk
	}

	if sawWrongSid {
		return types.AuthToken{}, FindWrongSid
	}
	return types.AuthToken{}, FindTokenNotFound
}

func sidMatches(sids []any, userSecureID int64) bool {
	if len(sids) == 0 {
		// No explicit SID list: any authenticated token's SID is accepted.
		return true
	}
	for _, v := range sids {
		if sid, ok := v.(int64); ok && sid == userSecureID {
			return true
		}
	}
	return false
}
