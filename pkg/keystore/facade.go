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

// Package keystore implements the keystore core: the service layer that
// sits between untrusted local callers and a keymaster module, enforcing
// authorization, pooling operations, matching authentication tokens, and
// persisting key blobs.
package keystore

import (
	"time"

	"github.com/automatethethings/keystore-core/pkg/logging"
	"github.com/automatethethings/keystore-core/pkg/metrics"
	"github.com/automatethethings/keystore-core/pkg/types"
)

// SystemAppID is the app_id reserved for the system principal, used to
// gate non-pruneable operations and CriticalToDeviceEncryption exemptions.
const SystemAppID = 1000

// AttestationApplicationIDMaxSize bounds the attestation application id
// gathered from AttestationIdSource before it's pushed into attestKey's
// params (spec.md 6).
const AttestationApplicationIDMaxSize = 1024

// IDRotationPeriod is the window after a factory-reset sentinel write
// during which attestKey augments its params with
// RESET_SINCE_ID_ROTATION (spec.md 6, ID_ROTATION_PERIOD).
const IDRotationPeriod = 30 * 24 * time.Hour

// Config configures a KeyStoreCore.
type Config struct {
	// Primary is the hardware-backed keymaster device. Required.
	Primary types.KeymasterDevice
	// Fallback is the software keymaster device used when Primary fails
	// a generate/import call. Required.
	Fallback types.KeymasterDevice
	// Store persists blobs and owns the per-user master-key lifecycle.
	// Required.
	Store types.BlobStore
	// Permissions answers caller-authorization questions. Required.
	Permissions types.PermissionOracle
	// AttestationIDs gathers the attestation application id for a UID.
	// Optional; when nil, or when Gather fails, attestKey proceeds
	// without an ATTESTATION_APPLICATION_ID parameter.
	AttestationIDs types.AttestationIdSource
	// Logger receives structured logs for every public operation.
	// Optional; a no-op logger is used if nil.
	Logger *logging.Logger
	// SystemAppID overrides the default SYSTEM app_id (1000).
	SystemAppID int32
	// Now supplies the wall clock in unix millis. Optional; defaults to
	// time.Now.
	Now func() int64
	// WorkingDir is where the factory-reset sentinel file ("timestamp")
	// lives. Optional; defaults to the process's current directory.
	WorkingDir string
	// MaxOperations overrides the default concurrent-operation cap (15).
	MaxOperations int
	// IDRotationPeriod overrides the default RESET_SINCE_ID_ROTATION
	// window (30 days).
	IDRotationPeriod time.Duration
}

// KeyStoreCore is the top-level facade composing the AuthTokenTable,
// OperationMap, EnforcementPolicy, and UserStateMachine into the public
// operations enumerated in spec.md 4.I and 4.J.
type KeyStoreCore struct {
	primary        types.KeymasterDevice
	fallback       types.KeymasterDevice
	store          types.BlobStore
	perm           types.PermissionOracle
	attestationIDs types.AttestationIdSource
	logger         *logging.Logger

	authTokens  *AuthTokenTable
	ops         *OperationMap
	enforcement *EnforcementPolicy
	users       *UserStateMachine
	codec       *KeyCharacteristicsCodec
	usage       *usageCounter

	systemAppID      int32
	nowMillis        func() int64
	workingDir       string
	maxOperations    int
	idRotationPeriod time.Duration
}

// New constructs a KeyStoreCore. Primary, Fallback, Store, and Permissions
// are required.
func New(cfg Config) (*KeyStoreCore, error) {
	if cfg.Primary == nil || cfg.Fallback == nil {
		return nil, ErrBackendRequired
	}
	if cfg.Store == nil {
		return nil, ErrBlobStoreRequired
	}
	if cfg.Permissions == nil {
		return nil, ErrPermissionOracleRequired
	}

	now := cfg.Now
	if now == nil {
		now = func() int64 { return time.Now().UnixMilli() }
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger(false)
	}

	systemAppID := cfg.SystemAppID
	if systemAppID == 0 {
		systemAppID = SystemAppID
	}

	workingDir := cfg.WorkingDir
	if workingDir == "" {
		workingDir = "."
	}

	maxOperations := cfg.MaxOperations
	if maxOperations == 0 {
		maxOperations = MaxOperations
	}

	idRotationPeriod := cfg.IDRotationPeriod
	if idRotationPeriod == 0 {
		idRotationPeriod = IDRotationPeriod
	}

	return &KeyStoreCore{
		primary:          cfg.Primary,
		fallback:         cfg.Fallback,
		store:            cfg.Store,
		perm:             cfg.Permissions,
		attestationIDs:   cfg.AttestationIDs,
		logger:           logger,
		authTokens:       NewAuthTokenTable(now),
		ops:              NewOperationMap(),
		enforcement:      NewEnforcementPolicy(now),
		users:            NewUserStateMachine(cfg.Store),
		codec:            NewKeyCharacteristicsCodec(),
		usage:            newUsageCounter(),
		systemAppID:      systemAppID,
		nowMillis:        now,
		workingDir:       workingDir,
		maxOperations:    maxOperations,
		idRotationPeriod: idRotationPeriod,
	}, nil
}

// OnDead implements types.LivenessWatcher: every operation bound to a dead
// liveness handle is aborted (spec.md 4.I "Liveness").
func (k *KeyStoreCore) OnDead(handle types.LivenessHandle) {
	for _, token := range k.ops.OperationsForLiveness(handle) {
		_ = k.Abort(token)
	}
}

var _ types.LivenessWatcher = (*KeyStoreCore)(nil)

// ========================================================================
// Lifecycle & enumeration primitives (thin proxies to UserStateMachine
// after a PermissionOracle check, spec.md 4.I)
// ========================================================================

// GetState returns userID's current lifecycle state.
func (k *KeyStoreCore) GetState(callingUID types.UID, userID int32) (types.UserState, error) {
	if err := k.checkPermission(types.PermissionManageUsers, callingUID); err != nil {
		return types.StateUninitialized, err
	}
	return k.users.GetState(userID), nil
}

// IsEmpty reports whether userID has no persisted blobs.
func (k *KeyStoreCore) IsEmpty(callingUID types.UID, userID int32) (bool, error) {
	if err := k.checkPermission(types.PermissionManageUsers, callingUID); err != nil {
		return false, err
	}
	return k.store.IsEmpty(userID), nil
}

// AddAuthToken inserts a newly presented auth token into the table. Any
// caller may present a token; the keymaster verifies the HMAC.
func (k *KeyStoreCore) AddAuthToken(token types.AuthToken) {
	k.authTokens.Add(token)
	metrics.OperationsTotal.WithLabelValues(metrics.OpAddAuthToken, metrics.DeviceKeymaster, metrics.StatusSuccess).Inc()
}

// OnUserAdded creates a new user, optionally inheriting parentUserID's
// master key.
func (k *KeyStoreCore) OnUserAdded(callingUID types.UID, newUserID, parentUserID int32) error {
	if err := k.checkPermission(types.PermissionManageUsers, callingUID); err != nil {
		return err
	}
	return k.users.OnUserAdded(newUserID, parentUserID)
}

// OnUserRemoved hard-resets a removed user.
func (k *KeyStoreCore) OnUserRemoved(callingUID types.UID, userID int32) error {
	if err := k.checkPermission(types.PermissionManageUsers, callingUID); err != nil {
		return err
	}
	return k.users.OnUserRemoved(userID)
}

// OnUserPasswordChanged dispatches the correct state transition for a
// password change, per spec.md 4.H.
func (k *KeyStoreCore) OnUserPasswordChanged(callingUID types.UID, userID int32, password string) error {
	if err := k.checkPermission(types.PermissionManageUsers, callingUID); err != nil {
		return err
	}
	if password == "" {
		k.authTokens.Clear()
	}
	err := k.users.OnUserPasswordChanged(userID, password)
	if err == nil {
		k.authTokens.Clear()
	}
	return err
}

// Lock transitions userID Unlocked -> Locked.
func (k *KeyStoreCore) Lock(callingUID types.UID, userID int32) (err error) {
	defer k.trackOperation(metrics.OpLock, metrics.DeviceKeymaster, callingUID)(&err)
	if err = k.checkPermission(types.PermissionManageUsers, callingUID); err != nil {
		return err
	}
	err = k.users.Lock(userID)
	return err
}

// Unlock transitions userID Locked -> Unlocked iff password decrypts.
func (k *KeyStoreCore) Unlock(callingUID types.UID, userID int32, password string) (err error) {
	defer k.trackOperation(metrics.OpUnlock, metrics.DeviceKeymaster, callingUID)(&err)
	if err = k.checkPermission(types.PermissionManageUsers, callingUID); err != nil {
		return err
	}
	err = k.users.ReadMasterKey(userID, password)
	return err
}

// Reset hard-resets userID to Uninitialized.
func (k *KeyStoreCore) Reset(callingUID types.UID, userID int32, keepCore bool) (err error) {
	defer k.trackOperation(metrics.OpReset, metrics.DeviceKeymaster, callingUID)(&err)
	if err = k.checkPermission(types.PermissionManageUsers, callingUID); err != nil {
		return err
	}
	err = k.users.ResetUser(userID, keepCore)
	return err
}

func (k *KeyStoreCore) checkPermission(perm types.Permission, callingUID types.UID) error {
	if k.perm.Has(perm, int32(callingUID), 0) {
		return nil
	}
	return ErrPermissionDenied
}

// trackOperation opens structured logging and latency tracking for one
// public operation and returns a finisher to run via defer against the
// call's named error return. It records OperationsTotal/OperationDuration
// through pkg/metrics and logs entry/exit through pkg/logging, satisfying
// the ambient logging/metrics requirement for every public operation
// (spec.md 7/9). device identifies which keymaster the operation reaches,
// or metrics.DeviceKeymaster for operations that aren't device-specific.
func (k *KeyStoreCore) trackOperation(operation, device string, uid types.UID) (done func(errp *error)) {
	start := time.Now()
	log := k.logger.WithOperation(operation, int32(uid))
	log.Debug("operation started")
	return func(errp *error) {
		elapsed := time.Since(start).Seconds()
		if errp != nil && *errp != nil {
			metrics.RecordError(operation, device, errorMetricLabel(*errp))
			metrics.RecordOperation(operation, device, metrics.StatusError, elapsed)
			log.Error(*errp)
			return
		}
		metrics.RecordOperation(operation, device, metrics.StatusSuccess, elapsed)
		log.Debug("operation completed")
	}
}
