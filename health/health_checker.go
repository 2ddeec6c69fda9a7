// Package health reports whether the resource gauges are being refreshed.
package health

import (
	"math"
	"net/http"
	"time"

	"github.com/giygas/resource-metrics-api/config"
	"github.com/giygas/resource-metrics-api/interfaces"
)

// Missed periods before the gauges count as degraded, then unhealthy
const (
	degradedAfter  = 3
	unhealthyAfter = 10
)

// HealthCheckerImpl implements the interfaces.HealthChecker interface
type HealthCheckerImpl struct {
	status interfaces.SampleStatus
	period time.Duration
	now    func() time.Time
}

// NewHealthChecker creates a health checker over the sampling status.
// period is the periodic sampling interval; it is ignored in request mode.
func NewHealthChecker(status interfaces.SampleStatus, period time.Duration) interfaces.HealthChecker {
	return &HealthCheckerImpl{
		status: status,
		period: period,
		now:    time.Now,
	}
}

// HealthCheck grades the age of the last sample. In request mode the gauges
// only move with traffic, so their age says nothing about the service.
func (h *HealthCheckerImpl) HealthCheck() (status string, data map[string]any, httpStatus int) {
	mode := h.status.Mode()
	lastSampled := h.status.LastSampled()
	sampled := !lastSampled.IsZero()
	age := h.now().Sub(lastSampled)

	switch {
	case mode == config.SamplingRequest:
		status = "healthy"
		httpStatus = http.StatusOK

	case !sampled || age > unhealthyAfter*h.period:
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable

	case age > degradedAfter*h.period:
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable

	default:
		status = "healthy"
		httpStatus = http.StatusOK
	}

	data = map[string]any{
		"sampling_mode": mode,
	}
	if sampled {
		data["last_sample"] = lastSampled.Format(time.RFC3339)
		data["sample_age_seconds"] = math.Round(age.Seconds()*10) / 10
	} else {
		data["last_sample"] = nil
	}
	if mode == config.SamplingPeriodic {
		data["sample_period"] = h.period.String()
	}

	return status, data, httpStatus
}
