// Package interfaces defines the contracts shared between the sampling,
// metrics and HTTP packages.
package interfaces

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// ResourceSnapshot is a single reading of the host resources.
// Byte values are absolute; CPUUsage is a percentage in [0, 100].
type ResourceSnapshot struct {
	CPUUsage       float64
	TotalMemory    uint64
	UsedMemory     uint64
	TotalSwap      uint64
	UsedSwap       uint64
	TotalDiskSpace uint64 // only partitions mounted at the configured mount point
	UsedDiskSpace  uint64
	SampledAt      time.Time
	SampleDuration time.Duration
}

// String renders the snapshot for logs, e.g. "cpu 12.5%, memory 3.1 GiB / 15 GiB, ..."
func (s ResourceSnapshot) String() string {
	return fmt.Sprintf("cpu %.1f%%, memory %s / %s, swap %s / %s, disk %s / %s",
		s.CPUUsage,
		humanize.IBytes(s.UsedMemory), humanize.IBytes(s.TotalMemory),
		humanize.IBytes(s.UsedSwap), humanize.IBytes(s.TotalSwap),
		humanize.IBytes(s.UsedDiskSpace), humanize.IBytes(s.TotalDiskSpace),
	)
}

// ResourceSampler defines the contract for reading host resources.
// Sample blocks for at least the CPU sampling interval. It only returns an
// error when ctx is done before the pass completes; unreadable resources are
// reported as zero values.
type ResourceSampler interface {
	Sample(ctx context.Context) (ResourceSnapshot, error)
}

// SnapshotPublisher writes a snapshot somewhere observable (gauges).
type SnapshotPublisher interface {
	Publish(snapshot ResourceSnapshot)
}

// ResourcePublisher samples the host and publishes the result in one pass.
type ResourcePublisher interface {
	SampleAndPublish(ctx context.Context) error
	LastSampled() time.Time
}

// Scheduler defines the contract for background jobs.
type Scheduler interface {
	// Lifecycle management
	Start() error
	Stop()
}

// SampleStatus exposes what the health endpoint reports about sampling.
type SampleStatus interface {
	LastSampled() time.Time
	Mode() string
}

// HealthChecker defines the contract for health checking operations.
type HealthChecker interface {
	HealthCheck() (status string, data map[string]any, httpStatus int)
}
