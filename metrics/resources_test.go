package metrics

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/giygas/resource-metrics-api/interfaces"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type stubSampler struct {
	snapshot interfaces.ResourceSnapshot
	err      error
	calls    int
}

func (s *stubSampler) Sample(ctx context.Context) (interfaces.ResourceSnapshot, error) {
	s.calls++
	if s.err != nil {
		return interfaces.ResourceSnapshot{}, s.err
	}
	return s.snapshot, nil
}

func TestResourceGaugesPublish(t *testing.T) {
	r := newTestRegistry(t)
	gauges := NewResourceGauges(r, &stubSampler{})

	sampledAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	gauges.Publish(interfaces.ResourceSnapshot{
		CPUUsage:       37.5,
		TotalMemory:    16 << 30,
		UsedMemory:     4 << 30,
		TotalSwap:      2 << 30,
		UsedSwap:       0,
		TotalDiskSpace: 500 << 30,
		UsedDiskSpace:  100 << 30,
		SampledAt:      sampledAt,
	})

	expected := map[string]float64{
		SystemCPUUsage:       37.5,
		SystemTotalMemory:    16 << 30,
		SystemUsedMemory:     4 << 30,
		SystemTotalSwap:      2 << 30,
		SystemUsedSwap:       0,
		SystemTotalDiskSpace: 500 << 30,
		SystemUsedDiskSpace:  100 << 30,
	}
	for name, want := range expected {
		m := findSeries(t, r, name, map[string]string{ServiceLabel: "test-service"})
		if got := m.GetGauge().GetValue(); got != want {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}

	if !gauges.LastSampled().Equal(sampledAt) {
		t.Errorf("LastSampled() = %v, want %v", gauges.LastSampled(), sampledAt)
	}
}

func TestResourceGaugesZeroDisk(t *testing.T) {
	r := newTestRegistry(t)
	gauges := NewResourceGauges(r, &stubSampler{})

	gauges.Publish(interfaces.ResourceSnapshot{CPUUsage: 5, TotalMemory: 1024, UsedMemory: 512})

	expected := `
# HELP system_total_disks_space Total disk space in bytes for the monitored mount point
# TYPE system_total_disks_space gauge
system_total_disks_space{service="test-service"} 0
# HELP system_used_disks_usage Used disk space in bytes for the monitored mount point
# TYPE system_used_disks_usage gauge
system_used_disks_usage{service="test-service"} 0
`
	err := testutil.GatherAndCompare(r.Gatherer(), strings.NewReader(expected),
		SystemTotalDiskSpace, SystemUsedDiskSpace)
	if err != nil {
		t.Errorf("unexpected disk gauges: %v", err)
	}
}

func TestResourceGaugesLastWriteWins(t *testing.T) {
	r := newTestRegistry(t)
	gauges := NewResourceGauges(r, &stubSampler{})

	gauges.Publish(interfaces.ResourceSnapshot{CPUUsage: 90})
	gauges.Publish(interfaces.ResourceSnapshot{CPUUsage: 10})

	if got := findSeries(t, r, SystemCPUUsage, nil).GetGauge().GetValue(); got != 10 {
		t.Errorf("%s = %v, want 10", SystemCPUUsage, got)
	}
}

func TestResourceGaugesPublishWithoutTimestamp(t *testing.T) {
	gauges := NewResourceGauges(newTestRegistry(t), &stubSampler{})

	if !gauges.LastSampled().IsZero() {
		t.Error("LastSampled() should be zero before any publish")
	}

	before := time.Now()
	gauges.Publish(interfaces.ResourceSnapshot{})

	if gauges.LastSampled().Before(before) {
		t.Errorf("LastSampled() = %v, want a time after %v", gauges.LastSampled(), before)
	}
}

func TestSampleAndPublish(t *testing.T) {
	r := newTestRegistry(t)
	sampler := &stubSampler{snapshot: interfaces.ResourceSnapshot{
		CPUUsage:    12,
		TotalMemory: 2048,
		UsedMemory:  1024,
		SampledAt:   time.Now(),
	}}
	gauges := NewResourceGauges(r, sampler)

	if err := gauges.SampleAndPublish(context.Background()); err != nil {
		t.Fatalf("SampleAndPublish() error = %v", err)
	}

	if sampler.calls != 1 {
		t.Errorf("sampler calls = %d, want 1", sampler.calls)
	}
	if got := findSeries(t, r, SystemUsedMemory, nil).GetGauge().GetValue(); got != 1024 {
		t.Errorf("%s = %v, want 1024", SystemUsedMemory, got)
	}
}

func TestSampleAndPublishDropsFailedSample(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"cancelled", context.Canceled},
		{"deadline", context.DeadlineExceeded},
		{"host failure", errors.New("host unreachable")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry(t)
			sampler := &stubSampler{snapshot: interfaces.ResourceSnapshot{CPUUsage: 50}}
			gauges := NewResourceGauges(r, sampler)

			if err := gauges.SampleAndPublish(context.Background()); err != nil {
				t.Fatalf("first SampleAndPublish() error = %v", err)
			}

			sampler.err = tt.err
			err := gauges.SampleAndPublish(context.Background())
			if !errors.Is(err, tt.err) {
				t.Errorf("SampleAndPublish() error = %v, want wrapping %v", err, tt.err)
			}

			// Gauges keep the previous pass
			if got := findSeries(t, r, SystemCPUUsage, nil).GetGauge().GetValue(); got != 50 {
				t.Errorf("%s = %v, want previous value 50", SystemCPUUsage, got)
			}
		})
	}
}
