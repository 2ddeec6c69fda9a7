// Package scheduler runs the periodic resource sampling job. Sampling off the
// request path keeps the CPU measurement pause out of request latencies; the
// gauges are refreshed every sample period and a staleness monitor warns when
// they stop moving.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/giygas/resource-metrics-api/config"
	"github.com/giygas/resource-metrics-api/interfaces"
	"github.com/giygas/resource-metrics-api/logging"
	"github.com/go-co-op/gocron"
)

// Compile-time checks to ensure Scheduler implements the shared interfaces
var (
	_ interfaces.Scheduler    = (*Scheduler)(nil)
	_ interfaces.SampleStatus = (*Scheduler)(nil)
)

// staleAfter is how many missed periods trigger a staleness warning
const staleAfter = 3

// Scheduler refreshes the resource gauges every period
type Scheduler struct {
	publisher interfaces.ResourcePublisher
	period    time.Duration
	scheduler *gocron.Scheduler

	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool

	stopMonitor chan struct{}
	stopOnce    sync.Once
}

// NewScheduler creates a scheduler sampling through publisher every period
func NewScheduler(publisher interfaces.ResourcePublisher, period time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		publisher:   publisher,
		period:      period,
		scheduler:   gocron.NewScheduler(time.Local),
		ctx:         ctx,
		cancel:      cancel,
		stopMonitor: make(chan struct{}),
	}
}

// Start publishes a first sample so the gauges exist before the first scrape,
// then schedules the following ones and the staleness monitor.
func (s *Scheduler) Start() error {
	if s.period <= 0 {
		return errors.New("sample period must be positive")
	}

	s.samplePass()
	if err := s.ctx.Err(); err != nil {
		return fmt.Errorf("scheduler stopped during the first sample: %w", err)
	}

	_, err := s.scheduler.Every(s.period).WaitForSchedule().SingletonMode().Do(s.samplePass)
	if err != nil {
		logging.Error("Failed to schedule resource sampling", "error", err)
		return fmt.Errorf("failed to schedule resource sampling: %w", err)
	}

	s.scheduler.StartAsync()
	logging.Info("Resource sampling scheduled", "period", s.period.String())

	s.startStalenessMonitoring()

	return nil
}

// Stop interrupts the running pass, if any, and stops scheduling new ones
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.scheduler.Stop()
		close(s.stopMonitor)
	})
}

// Mode reports periodic sampling
func (s *Scheduler) Mode() string {
	return config.SamplingPeriodic
}

// LastSampled returns when the gauges were last refreshed
func (s *Scheduler) LastSampled() time.Time {
	return s.publisher.LastSampled()
}

// samplePass runs one sample bounded by the period. Errors are logged by the
// publisher; a failed pass leaves the previous values in place.
func (s *Scheduler) samplePass() {
	// Prevent overlapping passes
	if !s.running.CompareAndSwap(false, true) {
		logging.Debug("Resource sample already in progress, skipping")
		return
	}
	defer s.running.Store(false)

	ctx, cancel := context.WithTimeout(s.ctx, s.period)
	defer cancel()

	_ = s.publisher.SampleAndPublish(ctx)
}

// startStalenessMonitoring warns when no sample was published for a while
func (s *Scheduler) startStalenessMonitoring() {
	limit := staleAfter * s.period

	go func() {
		ticker := time.NewTicker(limit)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopMonitor:
				return
			case <-ticker.C:
				if s.isStale(time.Now()) {
					logging.Warn("Resource gauges have not been refreshed recently",
						"last_sampled", s.publisher.LastSampled(),
						"limit", limit.String())
				}
			}
		}
	}()
}

func (s *Scheduler) isStale(now time.Time) bool {
	last := s.publisher.LastSampled()
	return last.IsZero() || now.Sub(last) > staleAfter*s.period
}

// OnRequest reports sampling driven by the request interceptor
type OnRequest struct {
	publisher interfaces.ResourcePublisher
}

var _ interfaces.SampleStatus = OnRequest{}

// NewOnRequest wraps publisher for status reporting in request mode
func NewOnRequest(publisher interfaces.ResourcePublisher) OnRequest {
	return OnRequest{publisher: publisher}
}

// Mode reports request-triggered sampling
func (o OnRequest) Mode() string {
	return config.SamplingRequest
}

// LastSampled returns when the gauges were last refreshed
func (o OnRequest) LastSampled() time.Time {
	return o.publisher.LastSampled()
}
