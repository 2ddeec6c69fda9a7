package metrics

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/giygas/resource-metrics-api/interfaces"
	"github.com/giygas/resource-metrics-api/logging"
)

// Compile-time checks to ensure ResourceGauges publishes snapshots
var (
	_ interfaces.SnapshotPublisher = (*ResourceGauges)(nil)
	_ interfaces.ResourcePublisher = (*ResourceGauges)(nil)
)

// ResourceGauges turns resource snapshots into the system_* gauges
type ResourceGauges struct {
	registry    *Registry
	sampler     interfaces.ResourceSampler
	lastSampled atomic.Int64 // unix nanoseconds of the last published snapshot
}

// NewResourceGauges creates the publisher for registry, sampling with sampler
func NewResourceGauges(registry *Registry, sampler interfaces.ResourceSampler) *ResourceGauges {
	return &ResourceGauges{
		registry: registry,
		sampler:  sampler,
	}
}

// Publish overwrites the seven system gauges with snapshot
func (g *ResourceGauges) Publish(snapshot interfaces.ResourceSnapshot) {
	values := []struct {
		name  string
		value float64
	}{
		{SystemCPUUsage, snapshot.CPUUsage},
		{SystemTotalMemory, float64(snapshot.TotalMemory)},
		{SystemUsedMemory, float64(snapshot.UsedMemory)},
		{SystemTotalSwap, float64(snapshot.TotalSwap)},
		{SystemUsedSwap, float64(snapshot.UsedSwap)},
		{SystemTotalDiskSpace, float64(snapshot.TotalDiskSpace)},
		{SystemUsedDiskSpace, float64(snapshot.UsedDiskSpace)},
	}

	for _, v := range values {
		if err := g.registry.SetGauge(v.name, nil, v.value); err != nil {
			logging.Error("Failed to set system gauge", "metric", v.name, "error", err)
		}
	}

	sampledAt := snapshot.SampledAt
	if sampledAt.IsZero() {
		sampledAt = time.Now()
	}
	g.lastSampled.Store(sampledAt.UnixNano())
}

// SampleAndPublish takes one snapshot and publishes it. A pass interrupted by
// ctx is dropped: the gauges keep their previous values.
func (g *ResourceGauges) SampleAndPublish(ctx context.Context) error {
	snapshot, err := g.sampler.Sample(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			logging.Debug("Resource sample interrupted, dropping it", "error", err)
		} else {
			logging.Warn("Resource sample failed, dropping it", "error", err)
		}
		return fmt.Errorf("resource sample dropped: %w", err)
	}

	g.Publish(snapshot)
	logging.Debug("Resource sample published",
		"snapshot", snapshot.String(),
		"sample_duration_ms", snapshot.SampleDuration.Milliseconds())

	return nil
}

// LastSampled returns when the gauges were last written, zero if never
func (g *ResourceGauges) LastSampled() time.Time {
	ns := g.lastSampled.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
