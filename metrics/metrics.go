// Package metrics provides the Prometheus instrumentation of the service.
// It exports:
//   - http_requests_total: Counter with method, route and status labels
//   - http_requests_duration_seconds: Histogram with the same labels
//   - http_requests_in_flight: Gauge for concurrent requests
//   - system_*: Gauges describing the host (CPU, memory, swap, disk)
//
// Every series carries a constant service label. Metrics live in an explicit
// Registry built once at startup and passed to the interceptor and to the
// /metrics handler.
package metrics

// Metric names
const (
	RequestsTotal    = "http_requests_total"
	RequestsDuration = "http_requests_duration_seconds"
	RequestsInFlight = "http_requests_in_flight"

	SystemCPUUsage       = "system_cpu_usage"
	SystemTotalMemory    = "system_total_memory"
	SystemUsedMemory     = "system_used_memory"
	SystemTotalSwap      = "system_total_swap"
	SystemUsedSwap       = "system_used_swap"
	SystemTotalDiskSpace = "system_total_disks_space"
	SystemUsedDiskSpace  = "system_used_disks_usage"

	RateLimiterBuckets = "rate_limiter_buckets_total"
)

// ServiceLabel is the constant label attached to every series
const ServiceLabel = "service"

// RequestDurationBuckets resolve both fast in-memory responses (5ms) and
// slow responses waiting on other services (10s).
var RequestDurationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

var helpTexts = map[string]string{
	RequestsTotal:        "Total HTTP requests",
	RequestsDuration:     "HTTP request latency",
	RequestsInFlight:     "Current in-flight requests",
	SystemCPUUsage:       "Average CPU usage in percent",
	SystemTotalMemory:    "Total memory in bytes",
	SystemUsedMemory:     "Used memory in bytes",
	SystemTotalSwap:      "Total swap space in bytes",
	SystemUsedSwap:       "Used swap space in bytes",
	SystemTotalDiskSpace: "Total disk space in bytes for the monitored mount point",
	SystemUsedDiskSpace:  "Used disk space in bytes for the monitored mount point",
	RateLimiterBuckets:   "Total number of rate limiter buckets (clients seen recently)",
}

// HistogramConfig declares the bucket boundaries of one histogram
type HistogramConfig struct {
	Name    string
	Buckets []float64
}

// DefaultHistograms returns the histogram configuration of the HTTP layer
func DefaultHistograms() []HistogramConfig {
	return []HistogramConfig{
		{Name: RequestsDuration, Buckets: RequestDurationBuckets},
	}
}

func helpFor(name string) string {
	if help, ok := helpTexts[name]; ok {
		return help
	}
	return name
}
