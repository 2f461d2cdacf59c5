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

package types

// UserState is the lifecycle state of a user's master key (spec.md 4.H).
//
// Its numeric values are not aligned with the same-named ResponseCodes
// (StateLocked is 2 while Locked is 1), so a UserState is surfaced where a
// ResponseCode is expected (GetState results) only through AsResponseCode.
type UserState int

const (
	StateUninitialized UserState = iota
	StateUnlocked
	StateLocked
)

func (s UserState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateUnlocked:
		return "unlocked"
	case StateLocked:
		return "locked"
	default:
		return "unknown_state"
	}
}

// AsResponseCode maps a UserState to the ResponseCode surfaced when a
// locking operation's outcome is the state itself (spec.md 7: "User-state
// mismatches on locking operations surface the state value directly").
func (s UserState) AsResponseCode() ResponseCode {
	switch s {
	case StateUninitialized:
		return Uninitialized
	case StateLocked:
		return Locked
	default:
		return NoError
	}
}

// Permission identifies a capability checked against the PermissionOracle.
type Permission string

const (
	PermissionGenerateKey      Permission = "generate_key"
	PermissionImportKey        Permission = "import_key"
	PermissionDeleteKey        Permission = "delete_key"
	PermissionUseKey           Permission = "use_key"
	PermissionManageUsers      Permission = "manage_users"
	PermissionNonPruneableOp   Permission = "non_pruneable_op"
	PermissionIncludeUniqueID  Permission = "include_unique_id"
	PermissionReadPrivilegedPhoneState Permission = "read_privileged_phone_state"
)

// PermissionOracle answers "may calling_uid perform this action?" and
// "has owner_uid granted calling_uid access to its key?" (spec.md 6).
type PermissionOracle interface {
	// Has reports whether callingUID/callingPID holds perm.
	Has(perm Permission, callingUID, callingPID int32) bool

	// IsGrantedTo reports whether targetUID's key is usable by callingUID
	// via a Grant.
	IsGrantedTo(callingUID, targetUID UID) bool

	// CheckPlatformPermission reports whether callingUID/callingPID holds
	// the named platform-level capability (e.g.
	// READ_PRIVILEGED_PHONE_STATE).
	CheckPlatformPermission(name string, uid, pid int32) bool
}

// BlobStore persists, retrieves, deletes, and lists per-UID typed blobs
// under a user, and owns the per-user master-key lifecycle and grant table
// (spec.md 6).
type BlobStore interface {
	Put(path string, blob *Blob, userID int32) error
	Get(path string, userID int32) (*Blob, error)
	Del(path string, blobType BlobType, userID int32) error
	List(prefix string, userID int32) ([]Alias, error)

	// GetKeyForName resolves (alias, uid, blobType) to its stored blob and
	// on-disk path.
	GetKeyForName(alias Alias, uid UID, blobType BlobType) (*Blob, string, error)

	// GetKeyNameForUidWithDir returns the canonical path for
	// (alias, uid, blobType) whether or not it currently exists.
	GetKeyNameForUidWithDir(alias Alias, uid UID, blobType BlobType) string

	// GetBlobFileNameIfExists returns the path only if the blob exists.
	GetBlobFileNameIfExists(alias Alias, uid UID, blobType BlobType) (string, bool)

	GetState(userID int32) UserState

	InitializeUser(userID int32, password string) error
	WriteMasterKey(userID int32, password string) error
	ReadMasterKey(userID int32, password string) error
	ResetUser(userID int32, keepCore bool) error
	CopyMasterKey(srcUserID, dstUserID int32) error
	Lock(userID int32) error

	AddGrant(g *Grant) error
	RemoveGrant(ownerUID UID, alias Alias, granteeUID UID) error
	RemoveAllGrantsToUid(uid UID) error
	ListGrantsToUid(uid UID) ([]*Grant, error)

	IsHardwareBacked(keyTypeName string) bool
	IsEmpty(userID int32) bool

	// ModTime returns the last-modified time of the blob at path, used by
	// getmtime. Returns ok=false if the blob does not exist.
	ModTime(path string, userID int32) (modTime int64, ok bool)
}

// KeymasterDevice is the interface satisfied by both the primary hardware
// device and the software fallback device (spec.md 6).
type KeymasterDevice interface {
	// Fallback reports whether this device is the software fallback.
	Fallback() bool

	AddRngEntropy(data []byte) error

	GenerateKey(attrs AuthorizationList) (blob []byte, characteristics *KeyCharacteristics, err error)
	ImportKey(attrs AuthorizationList, keyData []byte) (blob []byte, characteristics *KeyCharacteristics, err error)
	ExportKey(blob []byte, clientID, appData []byte) (keyData []byte, err error)
	GetKeyCharacteristics(blob []byte) (*KeyCharacteristics, error)

	Begin(purpose Purpose, blob []byte, params AuthorizationList) (handle OperationHandle, outParams AuthorizationList, err error)
	Update(handle OperationHandle, params AuthorizationList, input []byte) (consumed int, output []byte, outParams AuthorizationList, err error)
	Finish(handle OperationHandle, params AuthorizationList, input, signature []byte) (output []byte, outParams AuthorizationList, err error)
	Abort(handle OperationHandle) error

	UpgradeKey(blob []byte, params AuthorizationList) (newBlob []byte, err error)
	DeleteKey(blob []byte) error
	AttestKey(blob []byte, params AuthorizationList) (certChain [][]byte, err error)
}

// AttestationIdSource gathers the platform attestation application
// identifier for a calling UID (spec.md 6).
type AttestationIdSource interface {
	Gather(callingUID UID) ([]byte, error)
}

// LivenessWatcher is notified when a caller's liveness handle dies
// (spec.md 9's design note). KeyStoreCore implements this, aborting every
// operation bound to the dead handle.
type LivenessWatcher interface {
	OnDead(handle LivenessHandle)
}
