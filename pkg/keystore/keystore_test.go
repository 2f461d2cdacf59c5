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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/automatethethings/keystore-core/pkg/adapters/rbac"
	"github.com/automatethethings/keystore-core/pkg/attestation"
	"github.com/automatethethings/keystore-core/pkg/blobstore"
	"github.com/automatethethings/keystore-core/pkg/keymaster"
	"github.com/automatethethings/keystore-core/pkg/permission"
	"github.com/automatethethings/keystore-core/pkg/types"
)

// testSystemUID and testOperatorUID mirror cmd/keystored's demo: the system
// principal owns user_id 0 under SystemAppID, the operator owns user_id 1
// under app_id 1.
const (
	testSystemUID   types.UID = SystemAppID
	testOperatorUID types.UID = types.UserIDStride + 1
)

// testHarness bundles a KeyStoreCore with its real collaborators so tests
// can reach into the oracle or the store directly when a scenario needs
// more than the facade exposes.
type testHarness struct {
	core           *KeyStoreCore
	oracle         *permission.Oracle
	store          *blobstore.Store
	fallback       *keymaster.SoftwareDevice
	attestationIDs *attestation.LocalSource
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	store := blobstore.NewMemoryStore()
	fallback := keymaster.NewSoftwareDevice()
	oracle := permission.NewOracle(store)
	attestationIDs := attestation.NewLocalSource()

	core, err := New(Config{
		Primary:        fallback,
		Fallback:       fallback,
		Store:          store,
		Permissions:    oracle,
		AttestationIDs: attestationIDs,
		WorkingDir:     t.TempDir(),
	})
	require.NoError(t, err)

	require.NoError(t, oracle.AssignRole(testSystemUID.AppID(), rbac.RoleAdmin))
	require.NoError(t, oracle.AssignRole(testOperatorUID.AppID(), rbac.RoleOperator))

	return &testHarness{core: core, oracle: oracle, store: store, fallback: fallback, attestationIDs: attestationIDs}
}

// newTestHarnessWithPrimary builds a harness whose Primary device is the
// caller-supplied one, with the software device kept as Fallback, so tests
// can exercise the primary-fails-falls-back-to-software path.
func newTestHarnessWithPrimary(t *testing.T, primary types.KeymasterDevice) *testHarness {
	t.Helper()

	store := blobstore.NewMemoryStore()
	fallback := keymaster.NewSoftwareDevice()
	oracle := permission.NewOracle(store)
	attestationIDs := attestation.NewLocalSource()

	core, err := New(Config{
		Primary:        primary,
		Fallback:       fallback,
		Store:          store,
		Permissions:    oracle,
		AttestationIDs: attestationIDs,
		WorkingDir:     t.TempDir(),
	})
	require.NoError(t, err)

	require.NoError(t, oracle.AssignRole(testSystemUID.AppID(), rbac.RoleAdmin))
	require.NoError(t, oracle.AssignRole(testOperatorUID.AppID(), rbac.RoleOperator))

	return &testHarness{core: core, oracle: oracle, store: store, fallback: fallback, attestationIDs: attestationIDs}
}

// failingDevice is a types.KeymasterDevice whose generate/import calls
// always fail, used to exercise the facade's fall-back-to-software path
// without a real hardware backend.
type failingDevice struct{}

func (failingDevice) Fallback() bool                    { return false }
func (failingDevice) AddRngEntropy(data []byte) error   { return nil }
func (failingDevice) DeleteKey(blob []byte) error       { return nil }
func (failingDevice) Abort(types.OperationHandle) error { return nil }

func (failingDevice) GenerateKey(types.AuthorizationList) ([]byte, *types.KeyCharacteristics, error) {
	return nil, nil, errors.New("hardware device unavailable")
}

func (failingDevice) ImportKey(types.AuthorizationList, []byte) ([]byte, *types.KeyCharacteristics, error) {
	return nil, nil, errors.New("hardware device unavailable")
}

func (failingDevice) ExportKey(blob, clientID, appData []byte) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (failingDevice) GetKeyCharacteristics(blob []byte) (*types.KeyCharacteristics, error) {
	return nil, errors.New("not implemented")
}

func (failingDevice) Begin(types.Purpose, []byte, types.AuthorizationList) (types.OperationHandle, types.AuthorizationList, error) {
	return 0, nil, errors.New("not implemented")
}

func (failingDevice) Update(types.OperationHandle, types.AuthorizationList, []byte) (int, []byte, types.AuthorizationList, error) {
	return 0, nil, nil, errors.New("not implemented")
}

func (failingDevice) Finish(types.OperationHandle, types.AuthorizationList, []byte, []byte) ([]byte, types.AuthorizationList, error) {
	return nil, nil, errors.New("not implemented")
}

func (failingDevice) UpgradeKey(blob []byte, params types.AuthorizationList) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (failingDevice) AttestKey(blob []byte, params types.AuthorizationList) ([][]byte, error) {
	return nil, errors.New("not implemented")
}

var _ types.KeymasterDevice = failingDevice{}

// setupUser drives a fresh user_id through OnUserAdded/OnUserPasswordChanged
// as the system principal, landing it in StateUnlocked.
func (h *testHarness) setupUser(t *testing.T, userID int32, password string) {
	t.Helper()
	require.NoError(t, h.core.OnUserAdded(testSystemUID, userID, -1))
	require.NoError(t, h.core.OnUserPasswordChanged(testSystemUID, userID, password))
}

func ecSignAttrs() types.AuthorizationList {
	return types.AuthorizationList{
		{Tag: types.TagAlgorithm, Value: types.AlgorithmEC},
		{Tag: types.TagKeySize, Value: 256},
		{Tag: types.TagPurpose, Value: types.PurposeSign},
		{Tag: types.TagPurpose, Value: types.PurposeVerify},
		{Tag: types.TagNoAuthRequired, Value: true},
	}
}

func ecSignAuthBoundAttrs() types.AuthorizationList {
	return types.AuthorizationList{
		{Tag: types.TagAlgorithm, Value: types.AlgorithmEC},
		{Tag: types.TagKeySize, Value: 256},
		{Tag: types.TagPurpose, Value: types.PurposeSign},
		{Tag: types.TagPurpose, Value: types.PurposeVerify},
	}
}

func aesCryptAttrs() types.AuthorizationList {
	return types.AuthorizationList{
		{Tag: types.TagAlgorithm, Value: types.AlgorithmAES},
		{Tag: types.TagKeySize, Value: 256},
		{Tag: types.TagPurpose, Value: types.PurposeEncrypt},
		{Tag: types.TagPurpose, Value: types.PurposeDecrypt},
		{Tag: types.TagNoAuthRequired, Value: true},
	}
}
