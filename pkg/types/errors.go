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

import (
	"errors"
	"fmt"
)

// BlobStore sentinel errors. These live here rather than in pkg/keystore so
// that BlobStore implementations (pkg/blobstore) can return the exact values
// pkg/keystore compares against without importing the service layer that
// consumes them; pkg/keystore re-exports them under its own names for
// existing call sites.
var (
	ErrKeyNotFound      = errors.New("blobstore: key not found")
	ErrKeyAlreadyExists = errors.New("blobstore: key already exists")
	ErrLocked           = errors.New("blobstore: user is locked")
	ErrUninitialized    = errors.New("blobstore: user is uninitialized")
	ErrWrongPassword    = errors.New("blobstore: wrong password")
)

// ResponseCode is the service's own small result taxonomy (spec.md 7).
// Reimplementations must NOT rely on the numeric overlap with UserState;
// that overlap is an accident of the system this was distilled from.
type ResponseCode int

const (
	NoError ResponseCode = iota
	Locked
	Uninitialized
	SystemError
	PermissionDenied
	KeyNotFound
	ValueCorrupted
	Undefined
	WrongPassword
	SignatureInvalid
	VerificationFailed
	OpAuthNeeded
)

func (c ResponseCode) String() string {
	switch c {
	case NoError:
		return "no_error"
	case Locked:
		return "locked"
	case Uninitialized:
		return "uninitialized"
	case SystemError:
		return "system_error"
	case PermissionDenied:
		return "permission_denied"
	case KeyNotFound:
		return "key_not_found"
	case ValueCorrupted:
		return "value_corrupted"
	case Undefined:
		return "undefined"
	case WrongPassword:
		return "wrong_password"
	case SignatureInvalid:
		return "signature_invalid"
	case VerificationFailed:
		return "verification_failed"
	case OpAuthNeeded:
		return "op_auth_needed"
	default:
		return "unknown_response_code"
	}
}

// KMErrorCode is the keymaster's rich error taxonomy (spec.md 7).
type KMErrorCode int

const (
	KMOk KMErrorCode = iota
	KMInvalidArgument
	KMKeyRequiresUpgrade
	KMKeyUserNotAuthenticated
	KMTooManyOperations
	KMInvalidOperationHandle
	KMAttestationApplicationIDMissing
	KMCannotAttestIDs
	KMUnknownError
)

func (c KMErrorCode) String() string {
	switch c {
	case KMOk:
		return "ok"
	case KMInvalidArgument:
		return "invalid_argument"
	case KMKeyRequiresUpgrade:
		return "key_requires_upgrade"
	case KMKeyUserNotAuthenticated:
		return "key_user_not_authenticated"
	case KMTooManyOperations:
		return "too_many_operations"
	case KMInvalidOperationHandle:
		return "invalid_operation_handle"
	case KMAttestationApplicationIDMissing:
		return "attestation_application_id_missing"
	case KMCannotAttestIDs:
		return "cannot_attest_ids"
	case KMUnknownError:
		return "unknown_error"
	default:
		return "unknown_km_error_code"
	}
}

// KeymasterError wraps a KMErrorCode as a Go error, optionally carrying the
// underlying transport/device failure.
type KeymasterError struct {
	Code KMErrorCode
	Err  error
}

func NewKeymasterError(code KMErrorCode, err error) *KeymasterError {
	return &KeymasterError{Code: code, Err: err}
}

func (e *KeymasterError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("keymaster: %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("keymaster: %s", e.Code)
}

func (e *KeymasterError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is(err, &KeymasterError{Code: X}) style comparisons
// against a bare code.
func (e *KeymasterError) Is(target error) bool {
	other, ok := target.(*KeymasterError)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// AsKeymasterError unwraps err looking for a *KeymasterError.
func AsKeymasterError(err error) (*KeymasterError, bool) {
	kmErr, ok := err.(*KeymasterError)
	return kmErr, ok
}
