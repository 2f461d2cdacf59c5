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
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestResourceCollectorSamplesOnStart(t *testing.T) {
	Enable()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewResourceCollector(ctx, time.Hour)
	go c.Start()
	defer c.Stop()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(Goroutines) > 0
	}, time.Second, 10*time.Millisecond)
}

func TestResourceCollectorStopHaltsSampling(t *testing.T) {
	ctx := context.Background()
	c := NewResourceCollector(ctx, time.Millisecond)
	go c.Start()
	c.Stop()
	// Stop should cancel the internal context without panicking on a
	// second call.
	c.Stop()
}
