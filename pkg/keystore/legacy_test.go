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

func TestLegacyGenerateRejectsUnsupportedAlgorithm(t *testing.T) {
	h := newTestHarness(t)
	const userID int32 = 1
	h.setupUser(t, userID, "password")
	uid := types.UID(userID*types.UserIDStride + 1)

	code := h.core.LegacyGenerate(uid, uid, "bad-key", types.AlgorithmAES, 0, nil)
	require.Equal(t, types.Undefined, code)
}

func TestLegacyGenerateRejectsOutOfRangeKeySize(t *testing.T) {
	h := newTestHarness(t)
	const userID int32 = 1
	h.setupUser(t, userID, "password")
	uid := types.UID(userID*types.UserIDStride + 1)

	code := h.core.LegacyGenerate(uid, uid, "rsa-key", types.AlgorithmRSA, RSAMaxKeySize+1, nil)
	require.Equal(t, types.Undefined, code)
}

func TestLegacyGenerateECDefaultsKeySize(t *testing.T) {
	h := newTestHarness(t)
	const userID int32 = 1
	h.setupUser(t, userID, "password")
	uid := types.UID(userID*types.UserIDStride + 1)

	code := h.core.LegacyGenerate(uid, uid, "ec-key", types.AlgorithmEC, 0, nil)
	require.Equal(t, types.NoError, code)

	chr, err := h.core.GetKeyCharacteristics(uid, uid, "ec-key")
	require.NoError(t, err)
	size, ok := chr.Union().Get(types.TagKeySize)
	require.True(t, ok)
	require.Equal(t, ECDefaultKeySize, size)
}

func TestLegacyGenerateRSADefaultsKeySizeAndExponent(t *testing.T) {
	h := newTestHarness(t)
	const userID int32 = 1
	h.setupUser(t, userID, "password")
	uid := types.UID(userID*types.UserIDStride + 1)

	code := h.core.LegacyGenerate(uid, uid, "rsa-key", types.AlgorithmRSA, 0, nil)
	require.Equal(t, types.NoError, code)

	chr, err := h.core.GetKeyCharacteristics(uid, uid, "rsa-key")
	require.NoError(t, err)
	size, ok := chr.Union().Get(types.TagKeySize)
	require.True(t, ok)
	require.Equal(t, RSADefaultKeySize, size)
	exponent, ok := chr.Union().Get(types.TagRSAPublicExponent)
	require.True(t, ok)
	require.Equal(t, uint64(RSADefaultExponent), exponent)
}

func TestLegacySignAndVerifyRoundTrip(t *testing.T) {
	h := newTestHarness(t)
	const userID int32 = 1
	h.setupUser(t, userID, "password")
	uid := types.UID(userID*types.UserIDStride + 1)

	code := h.core.LegacyGenerate(uid, uid, "ec-key", types.AlgorithmEC, 0, nil)
	require.Equal(t, types.NoError, code)

	message := []byte("legacy sign/verify payload")
	signature, code := h.core.LegacySign(uid, uid, "ec-key", message)
	require.Equal(t, types.NoError, code)
	require.NotEmpty(t, signature)

	code = h.core.LegacyVerify(uid, uid, "ec-key", message, signature)
	require.Equal(t, types.NoError, code)
}

func TestLegacyVerifyRejectsWrongSignature(t *testing.T) {
	h := newTestHarness(t)
	const userID int32 = 1
	h.setupUser(t, userID, "password")
	uid := types.UID(userID*types.UserIDStride + 1)

	require.Equal(t, types.NoError, h.core.LegacyGenerate(uid, uid, "ec-key", types.AlgorithmEC, 0, nil))

	code := h.core.LegacyVerify(uid, uid, "ec-key", []byte("payload"), []byte("not-a-signature"))
	require.NotEqual(t, types.NoError, code)
}

func TestLegacyImportKey(t *testing.T) {
	h := newTestHarness(t)
	const userID int32 = 1
	h.setupUser(t, userID, "password")
	uid := types.UID(userID*types.UserIDStride + 1)

	code := h.core.LegacyImportKey(uid, uid, "imported-aes", types.AlgorithmAES, make([]byte, 32))
	require.Equal(t, types.NoError, code)
}

func TestLegacyGetPubkeyExportsPublicHalf(t *testing.T) {
	h := newTestHarness(t)
	const userID int32 = 1
	h.setupUser(t, userID, "password")
	uid := types.UID(userID*types.UserIDStride + 1)

	require.Equal(t, types.NoError, h.core.LegacyGenerate(uid, uid, "ec-key", types.AlgorithmEC, 0, nil))

	pub, code := h.core.LegacyGetPubkey(uid, uid, "ec-key")
	require.Equal(t, types.NoError, code)
	require.NotEmpty(t, pub)
}

func TestLegacyResponseCodeMapsSentinelErrors(t *testing.T) {
	require.Equal(t, types.NoError, toLegacyResponseCode(nil))
	require.Equal(t, types.Locked, toLegacyResponseCode(ErrLocked))
	require.Equal(t, types.Uninitialized, toLegacyResponseCode(ErrUninitialized))
	require.Equal(t, types.PermissionDenied, toLegacyResponseCode(ErrPermissionDenied))
	require.Equal(t, types.KeyNotFound, toLegacyResponseCode(ErrKeyNotFound))
	require.Equal(t, types.WrongPassword, toLegacyResponseCode(ErrWrongPassword))
	require.Equal(t, types.SystemError, toLegacyResponseCode(ErrKeyUserNotAuthenticated))
}
