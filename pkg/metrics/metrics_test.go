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

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordOperationIncrementsCounterAndHistogram(t *testing.T) {
	Enable()
	before := testutil.ToFloat64(OperationsTotal.WithLabelValues(OpGenerate, DevicePrimary, StatusSuccess))
	RecordOperation(OpGenerate, DevicePrimary, StatusSuccess, 0.01)
	after := testutil.ToFloat64(OperationsTotal.WithLabelValues(OpGenerate, DevicePrimary, StatusSuccess))
	require.Equal(t, before+1, after)
}

func TestRecordOperationNoopWhenDisabled(t *testing.T) {
	Disable()
	defer Enable()
	before := testutil.ToFloat64(OperationsTotal.WithLabelValues(OpAbort, DeviceFallback, StatusError))
	RecordOperation(OpAbort, DeviceFallback, StatusError, 0.01)
	after := testutil.ToFloat64(OperationsTotal.WithLabelValues(OpAbort, DeviceFallback, StatusError))
	require.Equal(t, before, after)
}

func TestRecordErrorIncrementsCounter(t *testing.T) {
	Enable()
	before := testutil.ToFloat64(ErrorsTotal.WithLabelValues(OpUnlock, DeviceKeymaster, "wrong_password"))
	RecordError(OpUnlock, DeviceKeymaster, "wrong_password")
	after := testutil.ToFloat64(ErrorsTotal.WithLabelValues(OpUnlock, DeviceKeymaster, "wrong_password"))
	require.Equal(t, before+1, after)
}

func TestSetOperationsInFlight(t *testing.T) {
	Enable()
	SetOperationsInFlight(7)
	require.Equal(t, float64(7), testutil.ToFloat64(OperationsInFlight))
}

func TestEnableDisableRoundTrip(t *testing.T) {
	Disable()
	require.False(t, IsEnabled())
	Enable()
	require.True(t, IsEnabled())
}
