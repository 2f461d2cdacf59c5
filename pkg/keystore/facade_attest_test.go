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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/automatethethings/keystore-core/pkg/types"
)

func TestAttestKeyRejectsAttestationIDTags(t *testing.T) {
	h := newTestHarness(t)
	const userID int32 = 1
	h.setupUser(t, userID, "password")
	uid := types.UID(userID*types.UserIDStride + 1)

	_, err := h.core.GenerateKey(uid, uid, "sign-key", GenerateKeyParams{Attrs: ecSignAttrs()})
	require.NoError(t, err)

	_, err = h.core.AttestKey(uid, uid, "sign-key", types.AuthorizationList{
		{Tag: types.TagAttestationIDSerial, Value: "whatever"},
	})
	require.ErrorIs(t, err, ErrAttestationIDsRequested)
}

func TestAttestKeyRequiresUseKeyPermission(t *testing.T) {
	h := newTestHarness(t)
	const userID int32 = 1
	h.setupUser(t, userID, "password")
	uid := types.UID(userID*types.UserIDStride + 1)

	_, err := h.core.GenerateKey(uid, uid, "sign-key", GenerateKeyParams{Attrs: ecSignAttrs()})
	require.NoError(t, err)

	unprivileged := types.UID(9 * types.UserIDStride)
	_, err = h.core.AttestKey(unprivileged, uid, "sign-key", nil)
	require.ErrorIs(t, err, ErrPermissionDenied)
}

func TestAttestKeyFailsWithoutHardwareAttestationRoot(t *testing.T) {
	h := newTestHarness(t)
	const userID int32 = 1
	h.setupUser(t, userID, "password")
	uid := types.UID(userID*types.UserIDStride + 1)

	_, err := h.core.GenerateKey(uid, uid, "sign-key", GenerateKeyParams{Attrs: ecSignAttrs()})
	require.NoError(t, err)

	_, err = h.core.AttestKey(uid, uid, "sign-key", nil)
	require.Error(t, err)
}

func TestAttestDeviceIdsRequiresPrivilegedPermission(t *testing.T) {
	h := newTestHarness(t)
	const userID int32 = 1
	h.setupUser(t, userID, "password")
	uid := types.UID(userID*types.UserIDStride + 1)

	_, err := h.core.AttestDeviceIds(uid, 0, nil)
	require.ErrorIs(t, err, ErrPrivilegedPermissionRequired)

	h.oracle.GrantPlatformPermission(uid.AppID(), "READ_PRIVILEGED_PHONE_STATE")
	_, err = h.core.AttestDeviceIds(uid, 0, nil)
	require.Error(t, err) // software primary has no attestation root either
}
