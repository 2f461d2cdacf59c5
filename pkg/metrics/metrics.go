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

// Package metrics provides Prometheus instrumentation for the keystore
// core's public operations. It exposes per-operation counters and
// duration histograms plus resource gauges for process health.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all keystore metrics.
	Namespace = "keystore"

	// Label names
	LabelOperation = "operation"
	LabelDevice    = "device"
	LabelStatus    = "status"
	LabelErrorType = "error_type"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Device label values, identifying which keymaster handled a call.
	DevicePrimary  = "primary"
	DeviceFallback = "fallback"
	DeviceKeymaster = "keymaster"

	// Operation names, matching the public KeyStoreCore methods.
	OpGenerate         = "generate"
	OpImport           = "import"
	OpExport           = "export"
	OpGetCharacteristics = "get_characteristics"
	OpBegin            = "begin"
	OpUpdate           = "update"
	OpFinish           = "finish"
	OpAbort            = "abort"
	OpUpgrade          = "upgrade"
	OpAttest           = "attest"
	OpAttestDeviceIDs  = "attest_device_ids"
	OpClearUID         = "clear_uid"
	OpGrant            = "grant"
	OpUngrant          = "ungrant"
	OpAddAuthToken     = "add_auth_token"
	OpLock             = "lock"
	OpUnlock           = "unlock"
	OpReset            = "reset"
)

var (
	// OperationsTotal tracks the total number of keystore operations by
	// type, device, and status. Use RecordOperation to increment it with
	// the appropriate labels.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of keystore operations by type, device, and status",
		},
		[]string{LabelOperation, LabelDevice, LabelStatus},
	)

	// OperationDuration tracks the duration of keystore operations in
	// seconds. Buckets are sized for cryptographic operation latencies.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of keystore operations in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{LabelOperation, LabelDevice},
	)

	// ErrorsTotal tracks the total number of errors by operation, device,
	// and error type. Error types should be specific (e.g.
	// "key_not_found", "permission_denied", "locked").
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by operation, device, and error type",
		},
		[]string{LabelOperation, LabelDevice, LabelErrorType},
	)

	// OperationsInFlight holds the pooled-operation count last passed to
	// SetOperationsInFlight; nothing in pkg/keystore calls it, so the gauge
	// does not follow OperationMap.Count on its own.
	OperationsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "operations_in_flight",
			Help:      "Current number of pooled cryptographic operations",
		},
	)

	// Goroutines tracks the current number of goroutines in the process.
	// Updated periodically by the resource collector.
	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	// MemoryAllocBytes tracks the current bytes of allocated heap objects.
	// Updated periodically by the resource collector.
	MemoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Current bytes of allocated heap objects",
		},
	)

	// MemorySysBytes tracks the total bytes of memory obtained from the OS.
	// Updated periodically by the resource collector.
	MemorySysBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_sys_bytes",
			Help:      "Total bytes of memory obtained from the OS",
		},
	)

	// GCPauseTotalSeconds tracks the cumulative time spent in GC
	// stop-the-world pauses. Updated periodically by the resource collector.
	GCPauseTotalSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "gc_pause_total_seconds",
			Help:      "Cumulative time spent in GC stop-the-world pauses",
		},
	)

	// ServerUptime tracks process uptime in seconds since the collector
	// started.
	ServerUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "server_uptime_seconds",
			Help:      "Process uptime in seconds since startup",
		},
	)

	// enabled tracks whether metrics collection is enabled.
	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

// RecordOperation records a keystore operation with its duration and
// status. This is the primary entry point for operational metrics.
func RecordOperation(operation, device, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	OperationsTotal.WithLabelValues(operation, device, status).Inc()
	OperationDuration.WithLabelValues(operation, device).Observe(duration)
}

// RecordError records an error event with context about where it
// occurred.
func RecordError(operation, device, errorType string) {
	if !enabled.Load() {
		return
	}
	ErrorsTotal.WithLabelValues(operation, device, errorType).Inc()
}

// SetOperationsInFlight sets the current pooled-operation count.
func SetOperationsInFlight(count int) {
	if !enabled.Load() {
		return
	}
	OperationsInFlight.Set(float64(count))
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection. Useful for testing or when
// metrics are not desired.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
