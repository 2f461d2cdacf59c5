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
	"errors"

	"github.com/automatethethings/keystore-core/pkg/types"
)

// Construction errors
var (
	ErrBackendRequired          = errors.New("keystore: keymaster device is required")
	ErrBlobStoreRequired        = errors.New("keystore: blob store is required")
	ErrPermissionOracleRequired = errors.New("keystore: permission oracle is required")
)

// OperationMap errors
var (
	ErrInvalidOperationHandle = errors.New("keystore: invalid operation handle")
	ErrOperationMapFull       = errors.New("keystore: no pruneable operations remain to evict")
)

// Enforcement errors
var (
	ErrInvalidPurpose          = errors.New("keystore: purpose not authorized for key")
	ErrInvalidAlgorithm        = errors.New("keystore: algorithm/digest/padding/block-mode combination not authorized")
	ErrRestrictedTag           = errors.New("keystore: caller-supplied params contain a restricted tag")
	ErrMaxUsesExceeded         = errors.New("keystore: key max-uses-per-boot exceeded")
	ErrOutsideValidityWindow   = errors.New("keystore: operation outside key's validity window")
	ErrCallerNonceNotAllowed   = errors.New("keystore: caller-supplied nonce not permitted by key")
	ErrKeyUserNotAuthenticated = errors.New("keystore: key requires user authentication")
)

// Blob/key lifecycle errors. ErrKeyNotFound and ErrKeyAlreadyExists are
// aliases of the types package sentinels so BlobStore implementations can
// return them directly without importing this package.
var (
	ErrKeyNotFound            = types.ErrKeyNotFound
	ErrKeyAlreadyExists       = types.ErrKeyAlreadyExists
	ErrInvalidKeySize         = errors.New("keystore: key size out of range for algorithm")
	ErrUnsupportedAlgorithm   = errors.New("keystore: unsupported algorithm for legacy generate")
	ErrPublicExponentTooLarge = errors.New("keystore: RSA public exponent does not fit in a machine word")
)

// Permission / state errors. ErrLocked, ErrUninitialized and ErrWrongPassword
// alias the types package sentinels for the same reason.
var (
	ErrPermissionDenied = errors.New("keystore: permission denied")
	ErrLocked           = types.ErrLocked
	ErrUninitialized    = types.ErrUninitialized
	ErrWrongPassword    = types.ErrWrongPassword
)

// Attestation errors
var (
	ErrAttestationIDsRequested = errors.New("keystore: attestKey called with attestation-id tags; use attestDeviceIds")
	ErrAttestationAppIDTooLarge = errors.New("keystore: attestation application id exceeds maximum size")
	ErrPrivilegedPermissionRequired = errors.New("keystore: caller lacks READ_PRIVILEGED_PHONE_STATE")
)

// errorMetricLabel maps an operation error to a short, low-cardinality
// label for metrics.ErrorsTotal. Keymaster-native errors are labeled by
// their code; everything else falls back to its sentinel name, or
// "error" for anything unrecognized.
func errorMetricLabel(err error) string {
	if kmErr, ok := types.AsKeymasterError(err); ok {
		return "keymaster_" + kmErr.Code.String()
	}
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrLocked):
		return "locked"
	case errors.Is(err, ErrUninitialized):
		return "uninitialized"
	case errors.Is(err, ErrWrongPassword):
		return "wrong_password"
	case errors.Is(err, ErrKeyNotFound):
		return "key_not_found"
	case errors.Is(err, ErrKeyAlreadyExists):
		return "key_already_exists"
	case errors.Is(err, ErrKeyUserNotAuthenticated):
		return "key_user_not_authenticated"
	case errors.Is(err, ErrInvalidOperationHandle):
		return "invalid_operation_handle"
	case errors.Is(err, ErrRestrictedTag):
		return "restricted_tag"
	case errors.Is(err, ErrInvalidPurpose):
		return "invalid_purpose"
	case errors.Is(err, ErrInvalidAlgorithm):
		return "invalid_algorithm"
	case errors.Is(err, ErrMaxUsesExceeded):
		return "max_uses_exceeded"
	case errors.Is(err, ErrOutsideValidityWindow):
		return "outside_validity_window"
	case errors.Is(err, ErrCallerNonceNotAllowed):
		return "caller_nonce_not_allowed"
	case errors.Is(err, ErrAttestationIDsRequested):
		return "attestation_ids_requested"
	case errors.Is(err, ErrAttestationAppIDTooLarge):
		return "attestation_app_id_too_large"
	case errors.Is(err, ErrPrivilegedPermissionRequired):
		return "privileged_permission_required"
	default:
		return "error"
	}
}
