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

package keymaster

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/automatethethings/keystore-core/pkg/types"
)

func rsaAttrs() types.AuthorizationList {
	return types.AuthorizationList{
		{Tag: types.TagAlgorithm, Value: types.AlgorithmRSA},
		{Tag: types.TagKeySize, Value: 2048},
		{Tag: types.TagPurpose, Value: types.PurposeSign},
		{Tag: types.TagPurpose, Value: types.PurposeVerify},
	}
}

func ecAttrs() types.AuthorizationList {
	return types.AuthorizationList{
		{Tag: types.TagAlgorithm, Value: types.AlgorithmEC},
		{Tag: types.TagKeySize, Value: 256},
	}
}

func aesAttrs() types.AuthorizationList {
	return types.AuthorizationList{
		{Tag: types.TagAlgorithm, Value: types.AlgorithmAES},
		{Tag: types.TagKeySize, Value: 256},
	}
}

func runSignVerify(t *testing.T, d *SoftwareDevice, blob []byte) {
	handle, _, err := d.Begin(types.PurposeSign, blob, nil)
	require.NoError(t, err)
	consumed, _, _, err := d.Update(handle, nil, []byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, len("hello world"), consumed)
	signature, _, err := d.Finish(handle, nil, nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, signature)

	vHandle, _, err := d.Begin(types.PurposeVerify, blob, nil)
	require.NoError(t, err)
	_, _, _, err = d.Update(vHandle, nil, []byte("hello world"))
	require.NoError(t, err)
	_, _, err = d.Finish(vHandle, nil, nil, signature)
	require.NoError(t, err)
}

func TestGenerateKeyRSASignVerify(t *testing.T) {
	d := NewSoftwareDevice()
	blob, chars, err := d.GenerateKey(rsaAttrs())
	require.NoError(t, err)
	require.NotEmpty(t, blob)
	require.True(t, chars.SoftwareEnforced.AllowsPurpose(types.PurposeSign))

	runSignVerify(t, d, blob)
}

func TestGenerateKeyECSignVerify(t *testing.T) {
	d := NewSoftwareDevice()
	blob, _, err := d.GenerateKey(ecAttrs())
	require.NoError(t, err)

	runSignVerify(t, d, blob)
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	d := NewSoftwareDevice()
	blob, _, err := d.GenerateKey(ecAttrs())
	require.NoError(t, err)

	handle, _, err := d.Begin(types.PurposeSign, blob, nil)
	require.NoError(t, err)
	_, _, _, err = d.Update(handle, nil, []byte("payload"))
	require.NoError(t, err)
	signature, _, err := d.Finish(handle, nil, nil, nil)
	require.NoError(t, err)
	signature[0] ^= 0xFF

	vHandle, _, err := d.Begin(types.PurposeVerify, blob, nil)
	require.NoError(t, err)
	_, _, _, err = d.Update(vHandle, nil, []byte("payload"))
	require.NoError(t, err)
	_, _, err = d.Finish(vHandle, nil, nil, signature)
	require.Error(t, err)
}

func TestEncryptDecryptAES(t *testing.T) {
	d := NewSoftwareDevice()
	blob, _, err := d.GenerateKey(aesAttrs())
	require.NoError(t, err)

	encHandle, _, err := d.Begin(types.PurposeEncrypt, blob, nil)
	require.NoError(t, err)
	_, _, _, err = d.Update(encHandle, nil, []byte("top secret"))
	require.NoError(t, err)
	ciphertext, _, err := d.Finish(encHandle, nil, nil, nil)
	require.NoError(t, err)
	require.NotEqual(t, []byte("top secret"), ciphertext)

	decHandle, _, err := d.Begin(types.PurposeDecrypt, blob, nil)
	require.NoError(t, err)
	_, _, _, err = d.Update(decHandle, nil, ciphertext)
	require.NoError(t, err)
	plaintext, _, err := d.Finish(decHandle, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, []byte("top secret"), plaintext)
}

func TestImportKeyRoundTrip(t *testing.T) {
	d := NewSoftwareDevice()
	genBlob, _, err := d.GenerateKey(ecAttrs())
	require.NoError(t, err)
	env, err := decodeEnvelope(genBlob)
	require.NoError(t, err)

	importBlob, chars, err := d.ImportKey(ecAttrs(), env.KeyDER)
	require.NoError(t, err)
	require.NotNil(t, chars)

	runSignVerify(t, d, importBlob)
}

func TestExportKeyReturnsPublicKey(t *testing.T) {
	d := NewSoftwareDevice()
	blob, _, err := d.GenerateKey(rsaAttrs())
	require.NoError(t, err)

	pubDER, err := d.ExportKey(blob, nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, pubDER)
}

func TestExportKeyRejectsSymmetric(t *testing.T) {
	d := NewSoftwareDevice()
	blob, _, err := d.GenerateKey(aesAttrs())
	require.NoError(t, err)

	_, err = d.ExportKey(blob, nil, nil)
	require.Error(t, err)
}

func TestGetKeyCharacteristicsRecoversAttrs(t *testing.T) {
	d := NewSoftwareDevice()
	blob, _, err := d.GenerateKey(rsaAttrs())
	require.NoError(t, err)

	chars, err := d.GetKeyCharacteristics(blob)
	require.NoError(t, err)
	require.True(t, chars.SoftwareEnforced.Has(types.TagAlgorithm))
}

func TestAbortDiscardsLiveOperation(t *testing.T) {
	d := NewSoftwareDevice()
	blob, _, err := d.GenerateKey(aesAttrs())
	require.NoError(t, err)

	handle, _, err := d.Begin(types.PurposeEncrypt, blob, nil)
	require.NoError(t, err)
	require.NoError(t, d.Abort(handle))

	_, _, _, err = d.Update(handle, nil, []byte("x"))
	require.Error(t, err)
}

func TestUpgradeKeyIsIdentity(t *testing.T) {
	d := NewSoftwareDevice()
	blob, _, err := d.GenerateKey(aesAttrs())
	require.NoError(t, err)

	upgraded, err := d.UpgradeKey(blob, nil)
	require.NoError(t, err)
	require.Equal(t, blob, upgraded)
}

func TestAttestKeyFails(t *testing.T) {
	d := NewSoftwareDevice()
	blob, _, err := d.GenerateKey(ecAttrs())
	require.NoError(t, err)

	_, err = d.AttestKey(blob, nil)
	require.Error(t, err)
	kmErr, ok := types.AsKeymasterError(err)
	require.True(t, ok)
	require.Equal(t, types.KMCannotAttestIDs, kmErr.Code)
}
