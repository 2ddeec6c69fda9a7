// Package sampler reads host resources (CPU, memory, swap, disk) and turns
// them into ResourceSnapshots. Host access goes through HostReader so the
// sampling rules can be tested without a real machine.
package sampler

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/giygas/resource-metrics-api/interfaces"
	"github.com/giygas/resource-metrics-api/logging"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// Compile-time check to ensure Sampler implements ResourceSampler
var _ interfaces.ResourceSampler = (*Sampler)(nil)

// HostReader is the subset of gopsutil the sampler needs
type HostReader interface {
	CPUTimes(ctx context.Context) (cpu.TimesStat, error)
	VirtualMemory(ctx context.Context) (*mem.VirtualMemoryStat, error)
	SwapMemory(ctx context.Context) (*mem.SwapMemoryStat, error)
	Partitions(ctx context.Context) ([]disk.PartitionStat, error)
	DiskUsage(ctx context.Context, path string) (*disk.UsageStat, error)
}

// Config holds the sampler tunables
type Config struct {
	MountPoint  string        // only partitions mounted exactly here are counted
	CPUInterval time.Duration // time between the two CPU readings
}

// Sampler produces one snapshot per call
type Sampler struct {
	host   HostReader
	config Config
}

// New creates a sampler reading the local host through gopsutil
func New(config Config) *Sampler {
	return NewWithReader(config, gopsutilReader{})
}

// NewWithReader creates a sampler over an arbitrary host reader
func NewWithReader(config Config, host HostReader) *Sampler {
	if config.MountPoint == "" {
		config.MountPoint = "/"
	}
	if config.CPUInterval <= 0 {
		config.CPUInterval = 200 * time.Millisecond
	}
	return &Sampler{host: host, config: config}
}

// Sample takes a fresh snapshot. It waits CPUInterval between the two CPU
// readings and returns ctx.Err() if ctx ends first. A resource that cannot be
// read is logged and reported as zero; it never fails the sample.
func (s *Sampler) Sample(ctx context.Context) (interfaces.ResourceSnapshot, error) {
	start := time.Now()
	var snapshot interfaces.ResourceSnapshot

	usage, err := s.cpuUsage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return interfaces.ResourceSnapshot{}, ctx.Err()
		}
		logging.Warn("Failed to read CPU usage", "error", err)
	}
	snapshot.CPUUsage = usage

	if vm, err := s.host.VirtualMemory(ctx); err != nil {
		logging.Warn("Failed to read memory", "error", err)
	} else {
		snapshot.TotalMemory, snapshot.UsedMemory = bounded(vm.Total, vm.Used)
	}

	if swap, err := s.host.SwapMemory(ctx); err != nil {
		logging.Warn("Failed to read swap", "error", err)
	} else {
		snapshot.TotalSwap, snapshot.UsedSwap = bounded(swap.Total, swap.Used)
	}

	snapshot.TotalDiskSpace, snapshot.UsedDiskSpace = s.diskSpace(ctx)

	if err := ctx.Err(); err != nil {
		return interfaces.ResourceSnapshot{}, err
	}

	snapshot.SampledAt = time.Now()
	snapshot.SampleDuration = snapshot.SampledAt.Sub(start)

	return snapshot, nil
}

// cpuUsage returns the busy percentage of all CPUs between two readings
// taken CPUInterval apart.
func (s *Sampler) cpuUsage(ctx context.Context) (float64, error) {
	first, err := s.host.CPUTimes(ctx)
	if err != nil {
		return 0, fmt.Errorf("first CPU reading: %w", err)
	}

	timer := time.NewTimer(s.config.CPUInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-timer.C:
	}

	second, err := s.host.CPUTimes(ctx)
	if err != nil {
		return 0, fmt.Errorf("second CPU reading: %w", err)
	}

	return busyPercent(first, second), nil
}

// busyPercent is the share of non-idle time between two cumulative readings,
// clamped to [0, 100]
func busyPercent(first, second cpu.TimesStat) float64 {
	firstBusy, firstTotal := busyAndTotal(first)
	secondBusy, secondTotal := busyAndTotal(second)

	total := secondTotal - firstTotal
	if total <= 0 {
		return 0
	}

	percent := (secondBusy - firstBusy) / total * 100
	switch {
	case percent < 0:
		return 0
	case percent > 100:
		return 100
	default:
		return percent
	}
}

// Guest time is already accounted in User and GuestNice in Nice
func busyAndTotal(t cpu.TimesStat) (busy, total float64) {
	total = t.User + t.System + t.Idle + t.Nice + t.Iowait + t.Irq + t.Softirq + t.Steal
	busy = total - t.Idle - t.Iowait
	return busy, total
}

// diskSpace reports the filesystem mounted at the configured mount point.
// Stacked mounts list the same mount point several times; they all resolve
// to the filesystem on top, so it is read once. No match yields zero totals.
func (s *Sampler) diskSpace(ctx context.Context) (total, used uint64) {
	partitions, err := s.host.Partitions(ctx)
	if err != nil {
		logging.Warn("Failed to list disk partitions", "error", err)
		return 0, 0
	}

	matched := slices.ContainsFunc(partitions, func(p disk.PartitionStat) bool {
		return p.Mountpoint == s.config.MountPoint
	})
	if !matched {
		logging.Debug("No partition mounted at the monitored mount point", "mount_point", s.config.MountPoint)
		return 0, 0
	}

	usage, err := s.host.DiskUsage(ctx, s.config.MountPoint)
	if err != nil {
		logging.Warn("Failed to read disk usage", "mount_point", s.config.MountPoint, "error", err)
		return 0, 0
	}

	return bounded(usage.Total, usage.Used)
}

// bounded returns total and used with used capped at total
func bounded(total, used uint64) (uint64, uint64) {
	if used > total {
		return total, total
	}
	return total, used
}

// gopsutilReader reads the local host
type gopsutilReader struct{}

func (gopsutilReader) CPUTimes(ctx context.Context) (cpu.TimesStat, error) {
	times, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return cpu.TimesStat{}, err
	}
	if len(times) == 0 {
		return cpu.TimesStat{}, fmt.Errorf("no CPU times reported")
	}
	return times[0], nil
}

func (gopsutilReader) VirtualMemory(ctx context.Context) (*mem.VirtualMemoryStat, error) {
	return mem.VirtualMemoryWithContext(ctx)
}

func (gopsutilReader) SwapMemory(ctx context.Context) (*mem.SwapMemoryStat, error) {
	return mem.SwapMemoryWithContext(ctx)
}

func (gopsutilReader) Partitions(ctx context.Context) ([]disk.PartitionStat, error) {
	return disk.PartitionsWithContext(ctx, true)
}

func (gopsutilReader) DiskUsage(ctx context.Context, path string) (*disk.UsageStat, error) {
	return disk.UsageWithContext(ctx, path)
}
