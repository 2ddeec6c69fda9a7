// Package handlers provides the HTTP handlers of the service: the demo
// routes the instrumentation is exercised with and the health endpoint.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/giygas/resource-metrics-api/interfaces"
	"github.com/giygas/resource-metrics-api/logging"
)

// HTTPHandler serves the application routes
type HTTPHandler struct {
	health    interfaces.HealthChecker
	delay     time.Duration
	startTime time.Time
}

// NewHTTPHandler creates the handlers. delay is how long /hello and /error
// wait before answering, to give the latency histogram something to measure.
func NewHTTPHandler(health interfaces.HealthChecker, delay time.Duration) *HTTPHandler {
	return &HTTPHandler{
		health:    health,
		delay:     delay,
		startTime: time.Now(),
	}
}

// HealthResponse defines the structure for consistent JSON ordering
type HealthResponse struct {
	Status        string         `json:"status"`
	Uptime        string         `json:"uptime"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	Sampling      map[string]any `json:"sampling"`
	System        map[string]any `json:"system"`
}

// RespondWithJSON writes a JSON response
func RespondWithJSON(w http.ResponseWriter, code int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logging.Error("Failed to marshal JSON response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	w.Write(data)
}

// RespondWithError writes a JSON error response
func RespondWithError(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, map[string]any{
		"error":   http.StatusText(code),
		"message": message,
		"code":    code,
	})
}

// writeText writes a plain text body with the given status
func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	w.Write([]byte(body))
}

// Home answers immediately
func (h *HTTPHandler) Home(w http.ResponseWriter, r *http.Request) {
	logging.Debug("Home")
	writeText(w, http.StatusOK, "Home")
}

// Hello answers after the configured delay
func (h *HTTPHandler) Hello(w http.ResponseWriter, r *http.Request) {
	if !h.wait(r.Context()) {
		return
	}
	writeText(w, http.StatusOK, "Hello, World!")
}

// Error answers with a 500 after the configured delay
func (h *HTTPHandler) Error(w http.ResponseWriter, r *http.Request) {
	if !h.wait(r.Context()) {
		return
	}
	writeText(w, http.StatusInternalServerError, "Home")
}

// wait sleeps for the configured delay. It returns false if the client went
// away first.
func (h *HTTPHandler) wait(ctx context.Context) bool {
	if h.delay <= 0 {
		return true
	}

	timer := time.NewTimer(h.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		logging.Debug("Client went away during the delay", "error", ctx.Err())
		return false
	case <-timer.C:
		return true
	}
}

// HealthCheck returns server health information
func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, sampling, httpStatus := h.health.HealthCheck()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(h.startTime)

	RespondWithJSON(w, httpStatus, HealthResponse{
		Status:        status,
		Uptime:        formatUptimeHuman(uptime),
		UptimeSeconds: uptime.Seconds(),
		Sampling:      sampling,
		System: map[string]any{
			"goroutines": runtime.NumGoroutine(),
			"memory": map[string]any{
				"alloc_mb": int(m.Alloc / 1024 / 1024),
				"sys_mb":   int(m.Sys / 1024 / 1024),
				"num_gc":   m.NumGC,
			},
		},
	})
}

// formatUptimeHuman formats duration into a human-readable string
func formatUptimeHuman(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	var parts []string

	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 || days > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 || hours > 0 || days > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	parts = append(parts, fmt.Sprintf("%ds", seconds))

	return strings.Join(parts, " ")
}
