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

// Package keymaster implements types.KeymasterDevice against stdlib crypto.
// SoftwareDevice is the fallback device a KeyStoreCore reaches for when the
// primary (hardware-backed) device fails a generate or import call.
package keymaster

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"

	"github.com/automatethethings/keystore-core/pkg/types"
)

// SoftwareDevice is a types.KeymasterDevice backed entirely by Go's standard
// crypto library. It never reports KMTooManyOperations and never requires a
// blob upgrade; UpgradeKey is therefore an identity transform.
type SoftwareDevice struct {
	mu         sync.Mutex
	liveOps    map[types.OperationHandle]*liveOperation
	nextHandle uint64
}

type liveOperation struct {
	purpose types.Purpose
	env     blobEnvelope
	buf     []byte
}

// NewSoftwareDevice constructs an empty SoftwareDevice.
func NewSoftwareDevice() *SoftwareDevice {
	return &SoftwareDevice{liveOps: make(map[types.OperationHandle]*liveOperation)}
}

// Fallback reports true: this is always the software fallback device.
func (d *SoftwareDevice) Fallback() bool { return true }

// AddRngEntropy is a no-op. crypto/rand already draws from the OS CSPRNG;
// mixing in caller-supplied bytes without an HSM's entropy-pool primitive
// would only ever weaken, never strengthen, that guarantee.
func (d *SoftwareDevice) AddRngEntropy(data []byte) error { return nil }

// GenerateKey creates new key material for the algorithm named by attrs'
// TagAlgorithm and wraps it, together with a copy of attrs, in an opaque
// blob.
func (d *SoftwareDevice) GenerateKey(attrs types.AuthorizationList) ([]byte, *types.KeyCharacteristics, error) {
	algorithm, ok := algorithmOf(attrs)
	if !ok {
		return nil, nil, types.NewKeymasterError(types.KMInvalidArgument, errors.New("missing algorithm"))
	}

	env := blobEnvelope{Algorithm: algorithm, Attrs: attrs.Clone()}
	switch algorithm {
	case types.AlgorithmRSA:
		bits := intTag(attrs, types.TagKeySize, 2048)
		priv, err := rsa.GenerateKey(rand.Reader, bits)
		if err != nil {
			return nil, nil, types.NewKeymasterError(types.KMUnknownError, err)
		}
		der, err := x509.MarshalPKCS8PrivateKey(priv)
		if err != nil {
			return nil, nil, types.NewKeymasterError(types.KMUnknownError, err)
		}
		env.KeyDER = der
	case types.AlgorithmEC:
		curve := curveFor(intTag(attrs, types.TagKeySize, 256))
		priv, err := ecdsa.GenerateKey(curve, rand.Reader)
		if err != nil {
			return nil, nil, types.NewKeymasterError(types.KMUnknownError, err)
		}
		der, err := x509.MarshalPKCS8PrivateKey(priv)
		if err != nil {
			return nil, nil, types.NewKeymasterError(types.KMUnknownError, err)
		}
		env.KeyDER = der
	case types.AlgorithmAES, types.AlgorithmHMAC:
		bits := intTag(attrs, types.TagKeySize, 256)
		secret := make([]byte, bits/8)
		if _, err := rand.Read(secret); err != nil {
			return nil, nil, types.NewKeymasterError(types.KMUnknownError, err)
		}
		env.KeyBytes = secret
	default:
		return nil, nil, types.NewKeymasterError(types.KMInvalidArgument, fmt.Errorf("unsupported algorithm %s", algorithm))
	}

	blob, err := encodeEnvelope(env)
	if err != nil {
		return nil, nil, types.NewKeymasterError(types.KMUnknownError, err)
	}
	return blob, &types.KeyCharacteristics{SoftwareEnforced: attrs.Clone()}, nil
}

// ImportKey wraps caller-supplied key material (PKCS8 DER for RSA/EC, raw
// bytes for AES/HMAC) the same way GenerateKey wraps material it minted
// itself.
func (d *SoftwareDevice) ImportKey(attrs types.AuthorizationList, keyData []byte) ([]byte, *types.KeyCharacteristics, error) {
	algorithm, ok := algorithmOf(attrs)
	if !ok {
		return nil, nil, types.NewKeymasterError(types.KMInvalidArgument, errors.New("missing algorithm"))
	}

	env := blobEnvelope{Algorithm: algorithm, Attrs: attrs.Clone()}
	switch algorithm {
	case types.AlgorithmRSA, types.AlgorithmEC:
		if _, err := x509.ParsePKCS8PrivateKey(keyData); err != nil {
			return nil, nil, types.NewKeymasterError(types.KMInvalidArgument, err)
		}
		env.KeyDER = keyData
	case types.AlgorithmAES, types.AlgorithmHMAC:
		env.KeyBytes = keyData
	default:
		return nil, nil, types.NewKeymasterError(types.KMInvalidArgument, fmt.Errorf("unsupported algorithm %s", algorithm))
	}

	blob, err := encodeEnvelope(env)
	if err != nil {
		return nil, nil, types.NewKeymasterError(types.KMUnknownError, err)
	}
	return blob, &types.KeyCharacteristics{SoftwareEnforced: attrs.Clone()}, nil
}

// ExportKey returns the public half of an asymmetric key. Exporting a
// symmetric secret is refused; there is no "public half" of an AES or HMAC
// key to hand back.
func (d *SoftwareDevice) ExportKey(blob []byte, clientID, appData []byte) ([]byte, error) {
	env, err := decodeEnvelope(blob)
	if err != nil {
		return nil, types.NewKeymasterError(types.KMUnknownError, err)
	}
	switch env.Algorithm {
	case types.AlgorithmRSA, types.AlgorithmEC:
		priv, err := x509.ParsePKCS8PrivateKey(env.KeyDER)
		if err != nil {
			return nil, types.NewKeymasterError(types.KMUnknownError, err)
		}
		signer, ok := priv.(crypto.Signer)
		if !ok {
			return nil, types.NewKeymasterError(types.KMUnknownError, errors.New("key is not a signer"))
		}
		pubDER, err := x509.MarshalPKIXPublicKey(signer.Public())
		if err != nil {
			return nil, types.NewKeymasterError(types.KMUnknownError, err)
		}
		return pubDER, nil
	default:
		return nil, types.NewKeymasterError(types.KMInvalidArgument, errors.New("symmetric keys have no exportable public half"))
	}
}

// GetKeyCharacteristics recovers the authorization list the blob was created
// with.
func (d *SoftwareDevice) GetKeyCharacteristics(blob []byte) (*types.KeyCharacteristics, error) {
	env, err := decodeEnvelope(blob)
	if err != nil {
		return nil, types.NewKeymasterError(types.KMUnknownError, err)
	}
	return &types.KeyCharacteristics{SoftwareEnforced: env.Attrs}, nil
}

// Begin opens a live operation, buffering input until Finish.
func (d *SoftwareDevice) Begin(purpose types.Purpose, blob []byte, params types.AuthorizationList) (types.OperationHandle, types.AuthorizationList, error) {
	env, err := decodeEnvelope(blob)
	if err != nil {
		return 0, nil, types.NewKeymasterError(types.KMUnknownError, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextHandle++
	handle := types.OperationHandle(d.nextHandle)
	d.liveOps[handle] = &liveOperation{purpose: purpose, env: env}
	return handle, params, nil
}

// Update buffers input, fully consuming it; SoftwareDevice never produces
// intermediate output before Finish.
func (d *SoftwareDevice) Update(handle types.OperationHandle, params types.AuthorizationList, input []byte) (int, []byte, types.AuthorizationList, error) {
	d.mu.Lock()
	op, ok := d.liveOps[handle]
	d.mu.Unlock()
	if !ok {
		return 0, nil, nil, types.NewKeymasterError(types.KMInvalidOperationHandle, nil)
	}
	op.buf = append(op.buf, input...)
	return len(input), nil, nil, nil
}

// Finish drains the buffered input through the purpose-appropriate
// primitive and removes the live operation regardless of outcome.
func (d *SoftwareDevice) Finish(handle types.OperationHandle, params types.AuthorizationList, input, signature []byte) ([]byte, types.AuthorizationList, error) {
	d.mu.Lock()
	op, ok := d.liveOps[handle]
	delete(d.liveOps, handle)
	d.mu.Unlock()
	if !ok {
		return nil, nil, types.NewKeymasterError(types.KMInvalidOperationHandle, nil)
	}
	data := append(op.buf, input...)

	switch op.purpose {
	case types.PurposeSign:
		out, err := sign(op.env, data)
		return out, nil, err
	case types.PurposeVerify:
		err := verify(op.env, data, signature)
		return nil, nil, err
	case types.PurposeEncrypt:
		out, err := encryptSymmetric(op.env, data)
		return out, nil, err
	case types.PurposeDecrypt:
		out, err := decryptSymmetric(op.env, data)
		return out, nil, err
	default:
		return nil, nil, types.NewKeymasterError(types.KMInvalidArgument, fmt.Errorf("unsupported purpose %s", op.purpose))
	}
}

// Abort discards a live operation. Aborting an unknown handle is a no-op;
// the core itself only calls Abort on handles it has already seen.
func (d *SoftwareDevice) Abort(handle types.OperationHandle) error {
	d.mu.Lock()
	delete(d.liveOps, handle)
	d.mu.Unlock()
	return nil
}

// UpgradeKey is the identity transform: a software blob never needs
// firmware-version migration.
func (d *SoftwareDevice) UpgradeKey(blob []byte, params types.AuthorizationList) ([]byte, error) {
	return blob, nil
}

// DeleteKey is a no-op: all of a SoftwareDevice key's state lives in the
// blob the caller owns, there is nothing device-side to delete.
func (d *SoftwareDevice) DeleteKey(blob []byte) error { return nil }

// AttestKey always fails: a software fallback device has no attestation
// root to chain to.
func (d *SoftwareDevice) AttestKey(blob []byte, params types.AuthorizationList) ([][]byte, error) {
	return nil, types.NewKeymasterError(types.KMCannotAttestIDs, errors.New("software fallback device cannot attest"))
}

var _ types.KeymasterDevice = (*SoftwareDevice)(nil)

func sign(env blobEnvelope, data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	switch env.Algorithm {
	case types.AlgorithmRSA:
		priv, padding, err := rsaKey(env)
		if err != nil {
			return nil, err
		}
		if padding == types.PaddingRSAPSS {
			return rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest[:], nil)
		}
		return rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	case types.AlgorithmEC:
		priv, err := ecKey(env)
		if err != nil {
			return nil, err
		}
		return ecdsa.SignASN1(rand.Reader, priv, digest[:])
	case types.AlgorithmHMAC:
		mac := hmac.New(sha256.New, env.KeyBytes)
		mac.Write(data)
		return mac.Sum(nil), nil
	default:
		return nil, types.NewKeymasterError(types.KMInvalidArgument, fmt.Errorf("cannot sign with algorithm %s", env.Algorithm))
	}
}

func verify(env blobEnvelope, data, signature []byte) error {
	digest := sha256.Sum256(data)
	switch env.Algorithm {
	case types.AlgorithmRSA:
		priv, padding, err := rsaKey(env)
		if err != nil {
			return err
		}
		if padding == types.PaddingRSAPSS {
			err = rsa.VerifyPSS(&priv.PublicKey, crypto.SHA256, digest[:], signature, nil)
		} else {
			err = rsa.VerifyPKCS1v15(&priv.PublicKey, crypto.SHA256, digest[:], signature)
		}
		if err != nil {
			return types.NewKeymasterError(types.KMInvalidArgument, errors.New("signature verification failed"))
		}
		return nil
	case types.AlgorithmEC:
		priv, err := ecKey(env)
		if err != nil {
			return err
		}
		if !ecdsa.VerifyASN1(&priv.PublicKey, digest[:], signature) {
			return types.NewKeymasterError(types.KMInvalidArgument, errors.New("signature verification failed"))
		}
		return nil
	case types.AlgorithmHMAC:
		mac := hmac.New(sha256.New, env.KeyBytes)
		mac.Write(data)
		if !hmac.Equal(mac.Sum(nil), signature) {
			return types.NewKeymasterError(types.KMInvalidArgument, errors.New("signature verification failed"))
		}
		return nil
	default:
		return types.NewKeymasterError(types.KMInvalidArgument, fmt.Errorf("cannot verify with algorithm %s", env.Algorithm))
	}
}

func encryptSymmetric(env blobEnvelope, plaintext []byte) ([]byte, error) {
	gcm, err := gcmFor(env)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, types.NewKeymasterError(types.KMUnknownError, err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptSymmetric(env blobEnvelope, ciphertext []byte) ([]byte, error) {
	gcm, err := gcmFor(env)
	if err != nil {
		return nil, err
	}
	size := gcm.NonceSize()
	if len(ciphertext) < size {
		return nil, types.NewKeymasterError(types.KMInvalidArgument, errors.New("ciphertext shorter than nonce"))
	}
	nonce, sealed := ciphertext[:size], ciphertext[size:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, types.NewKeymasterError(types.KMInvalidArgument, errors.New("decryption failed"))
	}
	return plaintext, nil
}

func gcmFor(env blobEnvelope) (cipher.AEAD, error) {
	if env.Algorithm != types.AlgorithmAES {
		return nil, types.NewKeymasterError(types.KMInvalidArgument, fmt.Errorf("encrypt/decrypt requires AES, got %s", env.Algorithm))
	}
	block, err := aes.NewCipher(env.KeyBytes)
	if err != nil {
		return nil, types.NewKeymasterError(types.KMUnknownError, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, types.NewKeymasterError(types.KMUnknownError, err)
	}
	return gcm, nil
}

func rsaKey(env blobEnvelope) (*rsa.PrivateKey, types.Padding, error) {
	key, err := x509.ParsePKCS8PrivateKey(env.KeyDER)
	if err != nil {
		return nil, types.PaddingNone, types.NewKeymasterError(types.KMUnknownError, err)
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, types.PaddingNone, types.NewKeymasterError(types.KMInvalidArgument, errors.New("blob is not an RSA key"))
	}
	padding, _ := env.Attrs.Get(types.TagPadding)
	p, _ := padding.(types.Padding)
	return priv, p, nil
}

func ecKey(env blobEnvelope) (*ecdsa.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(env.KeyDER)
	if err != nil {
		return nil, types.NewKeymasterError(types.KMUnknownError, err)
	}
	priv, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, types.NewKeymasterError(types.KMInvalidArgument, errors.New("blob is not an EC key"))
	}
	return priv, nil
}

func algorithmOf(attrs types.AuthorizationList) (types.Algorithm, bool) {
	v, ok := attrs.Get(types.TagAlgorithm)
	if !ok {
		return 0, false
	}
	a, ok := v.(types.Algorithm)
	return a, ok
}

func intTag(attrs types.AuthorizationList, tag types.Tag, fallback int) int {
	v, ok := attrs.Get(tag)
	if !ok {
		return fallback
	}
	n, ok := v.(int)
	if !ok {
		return fallback
	}
	return n
}

func curveFor(bits int) elliptic.Curve {
	switch bits {
	case 224:
		return elliptic.P224()
	case 384:
		return elliptic.P384()
	case 521:
		return elliptic.P521()
	default:
		return elliptic.P256()
	}
}
