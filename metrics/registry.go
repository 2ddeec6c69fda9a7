package metrics

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

var (
	// ErrBucketConflict is returned when a histogram is declared twice with different buckets
	ErrBucketConflict = errors.New("histogram already registered with different buckets")
	// ErrInvalidBuckets is returned for empty, unsorted or NaN bucket boundaries
	ErrInvalidBuckets = errors.New("invalid histogram buckets")
	// ErrLabelMismatch is returned when a metric is used with another label set than its first use
	ErrLabelMismatch = errors.New("label names differ from the metric's first use")
	// ErrKindConflict is returned when a name is reused for another metric type
	ErrKindConflict = errors.New("metric name already used by another metric type")
)

// Labels maps label names to values for one series
type Labels map[string]string

type kind int

const (
	kindCounter kind = iota + 1
	kindHistogram
	kindGauge
)

func (k kind) String() string {
	switch k {
	case kindCounter:
		return "counter"
	case kindHistogram:
		return "histogram"
	case kindGauge:
		return "gauge"
	default:
		return "unknown"
	}
}

// family is one metric name with its fixed label names
type family struct {
	kind       kind
	labelNames []string
	counter    *prometheus.CounterVec
	histogram  *prometheus.HistogramVec
	gauge      *prometheus.GaugeVec
}

// Registry is the process-wide metric store. Series are created on first use
// and keyed by (name, sorted label set). It is safe for concurrent use: the
// family table is read-locked on the hot path and the series themselves are
// updated atomically by client_golang.
type Registry struct {
	service    string
	registry   *prometheus.Registry
	registerer prometheus.Registerer

	mu       sync.RWMutex
	buckets  map[string][]float64
	families map[string]*family
}

// NewRegistry creates a registry whose series all carry service=<service>
// and declares the given histograms. Any invalid or conflicting histogram
// declaration is returned so the process can refuse to start.
func NewRegistry(service string, histograms ...HistogramConfig) (*Registry, error) {
	if service == "" {
		return nil, errors.New("service name cannot be empty")
	}

	reg := prometheus.NewRegistry()
	r := &Registry{
		service:    service,
		registry:   reg,
		registerer: prometheus.WrapRegistererWith(prometheus.Labels{ServiceLabel: service}, reg),
		buckets:    make(map[string][]float64),
		families:   make(map[string]*family),
	}

	for _, h := range histograms {
		if err := r.RegisterHistogram(h.Name, h.Buckets); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Service returns the value of the constant service label
func (r *Registry) Service() string {
	return r.service
}

// Gatherer exposes the underlying registry for scraping libraries and tests
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// RegisterHistogram fixes the bucket boundaries of a histogram name before
// its first observation. Declaring the same buckets again is a no-op.
func (r *Registry) RegisterHistogram(name string, buckets []float64) error {
	if name == "" {
		return errors.New("histogram name cannot be empty")
	}
	if err := validateBuckets(buckets); err != nil {
		return fmt.Errorf("histogram %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.families[name]; ok && f.kind != kindHistogram {
		return fmt.Errorf("histogram %s: %w (%s)", name, ErrKindConflict, f.kind)
	}

	if existing, ok := r.buckets[name]; ok {
		if slices.Equal(existing, buckets) {
			return nil
		}
		return fmt.Errorf("histogram %s: %w: have %v, got %v", name, ErrBucketConflict, existing, buckets)
	}

	r.buckets[name] = slices.Clone(buckets)
	return nil
}

func validateBuckets(buckets []float64) error {
	if len(buckets) == 0 {
		return fmt.Errorf("%w: no boundaries", ErrInvalidBuckets)
	}
	for i, b := range buckets {
		if math.IsNaN(b) {
			return fmt.Errorf("%w: NaN boundary", ErrInvalidBuckets)
		}
		if i > 0 && b <= buckets[i-1] {
			return fmt.Errorf("%w: boundaries must be strictly increasing", ErrInvalidBuckets)
		}
	}
	return nil
}

// IncrementCounter adds 1 to the counter series for labels
func (r *Registry) IncrementCounter(name string, labels Labels) error {
	f, err := r.familyFor(name, kindCounter, labels)
	if err != nil {
		return err
	}

	c, err := f.counter.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return fmt.Errorf("counter %s: %w", name, err)
	}
	c.Inc()
	return nil
}

// RecordHistogram adds one observation to the histogram series for labels.
// A name that was never declared uses prometheus.DefBuckets.
func (r *Registry) RecordHistogram(name string, labels Labels, value float64) error {
	f, err := r.familyFor(name, kindHistogram, labels)
	if err != nil {
		return err
	}

	h, err := f.histogram.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return fmt.Errorf("histogram %s: %w", name, err)
	}
	h.Observe(value)
	return nil
}

// SetGauge overwrites the gauge series for labels, last write wins
func (r *Registry) SetGauge(name string, labels Labels, value float64) error {
	g, err := r.gauge(name, labels)
	if err != nil {
		return err
	}
	g.Set(value)
	return nil
}

// AddGauge adds delta (possibly negative) to the gauge series for labels
func (r *Registry) AddGauge(name string, labels Labels, delta float64) error {
	g, err := r.gauge(name, labels)
	if err != nil {
		return err
	}
	g.Add(delta)
	return nil
}

func (r *Registry) gauge(name string, labels Labels) (prometheus.Gauge, error) {
	f, err := r.familyFor(name, kindGauge, labels)
	if err != nil {
		return nil, err
	}

	g, err := f.gauge.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return nil, fmt.Errorf("gauge %s: %w", name, err)
	}
	return g, nil
}

// familyFor returns the family of name, creating and registering it on
// first use with the label names of labels.
func (r *Registry) familyFor(name string, k kind, labels Labels) (*family, error) {
	labelNames := sortedNames(labels)

	r.mu.RLock()
	f, ok := r.families[name]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		defer r.mu.Unlock()

		if f, ok = r.families[name]; !ok {
			var err error
			if f, err = r.newFamily(name, k, labelNames); err != nil {
				return nil, err
			}
			r.families[name] = f
		}
	}

	if f.kind != k {
		return nil, fmt.Errorf("%s %s: %w (%s)", k, name, ErrKindConflict, f.kind)
	}
	if !slices.Equal(f.labelNames, labelNames) {
		return nil, fmt.Errorf("%s %s: %w: have %v, got %v", k, name, ErrLabelMismatch, f.labelNames, labelNames)
	}
	return f, nil
}

// newFamily builds and registers the vector for name. Caller must hold mu.
func (r *Registry) newFamily(name string, k kind, labelNames []string) (*family, error) {
	if name == "" {
		return nil, errors.New("metric name cannot be empty")
	}

	buckets, declared := r.buckets[name]
	if declared && k != kindHistogram {
		return nil, fmt.Errorf("%s %s: %w (histogram)", k, name, ErrKindConflict)
	}

	f := &family{kind: k, labelNames: labelNames}
	var collector prometheus.Collector

	switch k {
	case kindCounter:
		f.counter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name,
			Help: helpFor(name),
		}, labelNames)
		collector = f.counter

	case kindHistogram:
		if !declared {
			buckets = prometheus.DefBuckets
		}
		f.histogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    helpFor(name),
			Buckets: buckets,
		}, labelNames)
		collector = f.histogram

	case kindGauge:
		f.gauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: name,
			Help: helpFor(name),
		}, labelNames)
		collector = f.gauge
	}

	if err := r.registerer.Register(collector); err != nil {
		return nil, fmt.Errorf("failed to register %s %s: %w", k, name, err)
	}

	if k == kindHistogram && !declared {
		r.buckets[name] = slices.Clone(buckets)
	}

	return f, nil
}

func sortedNames(labels Labels) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render serializes every series in the Prometheus text exposition format.
// Families are sorted by name, series by label values, so two calls without
// writes in between return identical bytes. A family that fails to encode is
// left out and its error joined into the returned error; the others are still
// rendered.
func (r *Registry) Render() ([]byte, error) {
	families, gatherErr := r.registry.Gather()

	var errs []error
	if gatherErr != nil {
		errs = append(errs, gatherErr)
	}

	var out, buf bytes.Buffer
	for _, mf := range families {
		buf.Reset()
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			errs = append(errs, fmt.Errorf("failed to render %s: %w", mf.GetName(), err))
			continue
		}
		out.Write(buf.Bytes())
	}

	return out.Bytes(), errors.Join(errs...)
}
