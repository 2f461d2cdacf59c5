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
	"math/big"

	"github.com/google/uuid"

	"github.com/automatethethings/keystore-core/pkg/types"
)

// Legacy RSA/EC key-size defaults and ranges for LegacyGenerate
// (spec.md 4.I, 6).
const (
	RSADefaultKeySize  = 2048
	RSAMinKeySize      = 512
	RSAMaxKeySize      = 4096
	RSADefaultExponent = 65537

	ECDefaultKeySize = 256
	ECMinKeySize     = 224
	ECMaxKeySize     = 521
)

// LegacyGenerate creates a key via the legacy entry point's size defaults
// and ranges: RSA defaults to 2048 bits in [512, 4096] with an optional
// big-endian public exponent; EC defaults to 256 bits in [224, 521]; any
// other algorithm is rejected.
func (k *KeyStoreCore) LegacyGenerate(callingUID, uid types.UID, alias types.Alias, algorithm types.Algorithm, keySize int, rsaPublicExponent []byte) types.ResponseCode {
	attrs := types.AuthorizationList{
		{Tag: types.TagAlgorithm, Value: algorithm},
		{Tag: types.TagPurpose, Value: types.PurposeSign},
		{Tag: types.TagPurpose, Value: types.PurposeVerify},
		{Tag: types.TagNoAuthRequired, Value: true},
	}

	switch algorithm {
	case types.AlgorithmRSA:
		if keySize == 0 {
			keySize = RSADefaultKeySize
		}
		if keySize < RSAMinKeySize || keySize > RSAMaxKeySize {
			return toLegacyResponseCode(ErrInvalidKeySize)
		}
		exponent := uint64(RSADefaultExponent)
		if len(rsaPublicExponent) > 0 {
			v := new(big.Int).SetBytes(rsaPublicExponent)
			if !v.IsUint64() {
				return toLegacyResponseCode(ErrPublicExponentTooLarge)
			}
			exponent = v.Uint64()
		}
		attrs = append(attrs,
			types.KeyParameter{Tag: types.TagKeySize, Value: keySize},
			types.KeyParameter{Tag: types.TagRSAPublicExponent, Value: exponent},
		)
	case types.AlgorithmEC:
		if keySize == 0 {
			keySize = ECDefaultKeySize
		}
		if keySize < ECMinKeySize || keySize > ECMaxKeySize {
			return toLegacyResponseCode(ErrInvalidKeySize)
		}
		attrs = append(attrs, types.KeyParameter{Tag: types.TagKeySize, Value: keySize})
	default:
		return toLegacyResponseCode(ErrUnsupportedAlgorithm)
	}

	_, err := k.GenerateKey(callingUID, uid, alias, GenerateKeyParams{Attrs: attrs, Encrypted: true})
	return toLegacyResponseCode(err)
}

// LegacyImportKey imports caller-supplied key material via the legacy
// entry point.
func (k *KeyStoreCore) LegacyImportKey(callingUID, uid types.UID, alias types.Alias, algorithm types.Algorithm, keyData []byte) types.ResponseCode {
	attrs := types.AuthorizationList{{Tag: types.TagAlgorithm, Value: algorithm}}
	_, err := k.ImportKey(callingUID, uid, alias, ImportKeyParams{Attrs: attrs, KeyData: keyData, Encrypted: true})
	return toLegacyResponseCode(err)
}

// LegacyGetPubkey exports the public half of (uid, alias)'s key.
func (k *KeyStoreCore) LegacyGetPubkey(callingUID, uid types.UID, alias types.Alias) ([]byte, types.ResponseCode) {
	keyData, err := k.ExportKey(callingUID, uid, alias, nil, nil)
	return keyData, toLegacyResponseCode(err)
}

// LegacySign drives a full sign operation through begin/update/finish
// (spec.md 4.J).
func (k *KeyStoreCore) LegacySign(callingUID, uid types.UID, alias types.Alias, data []byte) ([]byte, types.ResponseCode) {
	return k.legacySignVerify(callingUID, uid, alias, types.PurposeSign, data, nil)
}

// LegacyVerify drives a full verify operation through begin/update/finish.
func (k *KeyStoreCore) LegacyVerify(callingUID, uid types.UID, alias types.Alias, data, signature []byte) types.ResponseCode {
	_, code := k.legacySignVerify(callingUID, uid, alias, types.PurposeVerify, data, signature)
	return code
}

// legacySignVerify implements spec.md 4.J LegacySignVerify: look up the
// key's algorithm from characteristics, begin a pruneable operation bound
// to a fresh internal liveness handle, drive update to exhaustion, then
// finish. Any keymaster-native error collapses to SystemError; all other
// ResponseCode values pass through verbatim.
func (k *KeyStoreCore) legacySignVerify(callingUID, uid types.UID, alias types.Alias, purpose types.Purpose, data, signature []byte) ([]byte, types.ResponseCode) {
	resolvedUID := resolveUID(uid, callingUID)
	characteristics, err := k.readCharacteristics(resolvedUID, alias)
	if err != nil {
		return nil, toLegacyResponseCode(err)
	}
	algorithm, _ := characteristics.Union().Get(types.TagAlgorithm)

	params := types.AuthorizationList{
		{Tag: types.TagAlgorithm, Value: algorithm},
		{Tag: types.TagDigest, Value: types.DigestNone},
		{Tag: types.TagPadding, Value: types.PaddingNone},
	}

	liveness := types.LivenessHandle(uuid.NewString())
	begin, err := k.Begin(callingUID, uid, alias, purpose, params, true, liveness)
	if err != nil {
		return nil, toLegacyResponseCode(err)
	}

	var output []byte
	remaining := data
	for len(remaining) > 0 {
		consumed, chunk, _, err := k.Update(begin.Token, nil, remaining)
		if err != nil {
			_ = k.Abort(begin.Token)
			return nil, toLegacyResponseCode(err)
		}
		output = append(output, chunk...)
		if consumed == 0 {
			break
		}
		remaining = remaining[consumed:]
	}

	finishOutput, _, err := k.Finish(begin.Token, nil, remaining, signature)
	if err != nil {
		return nil, toLegacyResponseCode(err)
	}
	output = append(output, finishOutput...)
	return output, types.NoError
}

// toLegacyResponseCode maps a keystore error to the legacy ResponseCode
// space, preserving every ResponseCode verbatim and collapsing any
// keymaster-native error, including ErrKeyUserNotAuthenticated, to
// SystemError (spec.md 7).
func toLegacyResponseCode(err error) types.ResponseCode {
	if err == nil {
		return types.NoError
	}
	if _, ok := types.AsKeymasterError(err); ok {
		return types.SystemError
	}
	switch err {
	case ErrLocked:
		return types.Locked
	case ErrUninitialized:
		return types.Uninitialized
	case ErrPermissionDenied:
		return types.PermissionDenied
	case ErrKeyNotFound:
		return types.KeyNotFound
	case ErrWrongPassword:
		return types.WrongPassword
	case ErrInvalidKeySize, ErrUnsupportedAlgorithm, ErrPublicExponentTooLarge:
		return types.Undefined
	default:
		return types.SystemError
	}
}
