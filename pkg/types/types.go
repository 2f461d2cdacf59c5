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

// Package types contains shared type definitions used across the keystore
// core: UID arithmetic, blobs, authorization tags, and the collaborator
// interfaces (PermissionOracle, BlobStore, KeymasterDevice,
// AttestationIdSource, LivenessWatcher) the core is built against. This
// package has no dependency on pkg/keystore to prevent import cycles.
package types

import "fmt"

// UserIDStride is the divisor used to split a UID into (user_id, app_id).
const UserIDStride = 100000

// SELF is a UID sentinel meaning "use the caller's own UID".
const SELF UID = -1

// UID identifies a local client principal.
type UID int32

// UserID returns the user_id component of the UID (uid / UserIDStride).
func (u UID) UserID() int32 {
	return int32(u) / UserIDStride
}

// AppID returns the app_id component of the UID (uid mod UserIDStride).
func (u UID) AppID() int32 {
	return int32(u) % UserIDStride
}

func (u UID) String() string {
	return fmt.Sprintf("%d", int32(u))
}

// Alias is a caller-chosen key name.
type Alias string

// BlobType enumerates the kinds of blobs the core persists.
type BlobType int

const (
	// BlobGeneric is an opaque, non-keymaster blob (plain bytes).
	BlobGeneric BlobType = iota
	// BlobKeymasterBound is the keymaster-wrapped key handle.
	BlobKeymasterBound
	// BlobKeyCharacteristics is the serialized authorization list observed
	// at generation/import time.
	BlobKeyCharacteristics
	// BlobAny is a selector value only, never stored.
	BlobAny
)

func (t BlobType) String() string {
	switch t {
	case BlobGeneric:
		return "generic"
	case BlobKeymasterBound:
		return "keymaster_bound"
	case BlobKeyCharacteristics:
		return "key_characteristics"
	case BlobAny:
		return "any"
	default:
		return "unknown"
	}
}

// Blob is the persisted byte payload plus its independent flag set.
type Blob struct {
	// Value is the opaque payload (keymaster blob bytes, or plain bytes
	// for BlobGeneric).
	Value []byte

	// Type records which kind of blob this is.
	Type BlobType

	// Encrypted means the payload is enveloped under the owning user's
	// master key and requires it to read.
	Encrypted bool

	// SuperEncrypted marks a payload sealed under the same master-key
	// derived key as an Encrypted one; no second envelope is applied. It is
	// unreadable while Locked because the master key is cached only while
	// the user is Unlocked.
	SuperEncrypted bool

	// Fallback means the payload was produced by the software fallback
	// keymaster, not the primary hardware device.
	Fallback bool

	// CriticalToDeviceEncryption exempts the blob from reset_uid clears
	// when invoked for a UID with app_id == SYSTEM.
	CriticalToDeviceEncryption bool

	// InfoLen is the length, in bytes, of an opaque info prefix passed
	// through unexamined by the core.
	InfoLen uint32
}

// Grant enables a grantee UID to reference an owner's key by an alias of
// the grantee's choosing.
type Grant struct {
	OwnerUID   UID
	Alias      Alias
	GranteeUID UID
	GrantAlias Alias
}

// AuthenticatorType is a bitmask of authenticator kinds.
type AuthenticatorType uint32

const (
	AuthTypeNone        AuthenticatorType = 0
	AuthTypePassword    AuthenticatorType = 1 << 0
	AuthTypeFingerprint AuthenticatorType = 1 << 1
	AuthTypeAny         AuthenticatorType = AuthTypePassword | AuthTypeFingerprint
)

// AuthToken is an opaque attestation supplied by an external authenticator.
// Its HMAC is not verified by the core; correctness is delegated to the
// keymaster.
type AuthToken struct {
	Challenge         uint64
	UserSecureID      int64
	AuthenticatorID   uint64
	AuthenticatorType AuthenticatorType
	Timestamp         int64 // unix millis
	HMAC              []byte
}

// OperationHandle is the keymaster-assigned handle for a live operation; it
// also doubles as the "operation handle" challenge value for per-operation
// auth tokens.
type OperationHandle uint64

// OperationToken is the process-unique token the core hands back to callers
// to reference a live operation across begin/update/finish/abort.
type OperationToken string

// LivenessHandle is a caller-supplied token binding an operation to the
// caller's continued liveness.
type LivenessHandle string

// KeyID is the keymaster-computed stable identifier correlating
// authorizations across operations on the same key.
type KeyID string

// Purpose enumerates what a key may be used for.
type Purpose int

const (
	PurposeEncrypt Purpose = iota
	PurposeDecrypt
	PurposeSign
	PurposeVerify
	PurposeWrapKey
)

func (p Purpose) String() string {
	switch p {
	case PurposeEncrypt:
		return "encrypt"
	case PurposeDecrypt:
		return "decrypt"
	case PurposeSign:
		return "sign"
	case PurposeVerify:
		return "verify"
	case PurposeWrapKey:
		return "wrap_key"
	default:
		return "unknown"
	}
}

// Algorithm enumerates the key algorithms the keymaster understands.
type Algorithm int

const (
	AlgorithmRSA Algorithm = iota
	AlgorithmEC
	AlgorithmAES
	AlgorithmHMAC
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmRSA:
		return "rsa"
	case AlgorithmEC:
		return "ec"
	case AlgorithmAES:
		return "aes"
	case AlgorithmHMAC:
		return "hmac"
	default:
		return "unknown"
	}
}

// Digest enumerates supported message digests.
type Digest int

const (
	DigestNone Digest = iota
	DigestSHA256
	DigestSHA384
	DigestSHA512
)

// Padding enumerates supported padding/signature schemes.
type Padding int

const (
	PaddingNone Padding = iota
	PaddingPKCS7
	PaddingRSAOAEP
	PaddingRSAPKCS1
	PaddingRSAPSS
)

// BlockMode enumerates supported symmetric block modes.
type BlockMode int

const (
	BlockModeECB BlockMode = iota
	BlockModeCBC
	BlockModeCTR
	BlockModeGCM
)
