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
	"context"
	"runtime"
	"time"
)

// ResourceCollector periodically samples goroutine count, heap usage,
// and GC pause time into the process gauges.
type ResourceCollector struct {
	ctx      context.Context
	cancel   context.CancelFunc
	interval time.Duration
	started  time.Time
}

// NewResourceCollector builds a collector that samples at interval until
// ctx is cancelled or Stop is called. interval should typically be
// 10-60 seconds.
func NewResourceCollector(ctx context.Context, interval time.Duration) *ResourceCollector {
	collectorCtx, cancel := context.WithCancel(ctx)
	return &ResourceCollector{
		ctx:      collectorCtx,
		cancel:   cancel,
		interval: interval,
		started:  time.Now(),
	}
}

// Start samples immediately, then on every tick, until the collector is
// stopped. Intended to run in its own goroutine.
func (rc *ResourceCollector) Start() {
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	rc.sample()
	for {
		select {
		case <-rc.ctx.Done():
			return
		case <-ticker.C:
			rc.sample()
		}
	}
}

// Stop halts the collector.
func (rc *ResourceCollector) Stop() {
	rc.cancel()
}

func (rc *ResourceCollector) sample() {
	if !IsEnabled() {
		return
	}

	Goroutines.Set(float64(runtime.NumGoroutine()))

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	MemoryAllocBytes.Set(float64(mem.Alloc))
	MemorySysBytes.Set(float64(mem.Sys))
	GCPauseTotalSeconds.Set(float64(mem.PauseTotalNs) / 1e9)

	ServerUptime.Set(time.Since(rc.started).Seconds())
}

// StartResourceCollector creates a collector and starts it in a new
// goroutine, returning the collector for lifecycle management.
func StartResourceCollector(ctx context.Context, interval time.Duration) *ResourceCollector {
	collector := NewResourceCollector(ctx, interval)
	go collector.Start()
	return collector
}
