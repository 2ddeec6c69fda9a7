package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/giygas/resource-metrics-api/logging"
	"github.com/go-chi/chi/v5"
)

// responseWriter captures the status code written by the handler
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.statusCode = http.StatusOK
		rw.wroteHeader = true
	}
	return rw.ResponseWriter.Write(b)
}

// Flush keeps streaming handlers working behind the interceptor
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		if !rw.wroteHeader {
			rw.statusCode = http.StatusOK
			rw.wroteHeader = true
		}
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Interceptor records one observation per request into the registry
type Interceptor struct {
	registry *Registry

	// request sampling mode
	sample        func(context.Context) error
	sampleTimeout time.Duration
	sampling      atomic.Bool
}

// InterceptorOption configures an Interceptor
type InterceptorOption func(*Interceptor)

// WithRequestSampling makes the interceptor trigger a resource sample after
// each request, off the response path. Requests finishing while a sample is
// running share that sample instead of starting another one.
func WithRequestSampling(sample func(context.Context) error, timeout time.Duration) InterceptorOption {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return func(i *Interceptor) {
		i.sample = sample
		i.sampleTimeout = timeout
	}
}

// NewInterceptor creates the request metrics middleware for registry
func NewInterceptor(registry *Registry, opts ...InterceptorOption) *Interceptor {
	i := &Interceptor{registry: registry}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Handler wraps next. The observation is recorded in a deferred call so that
// it happens whatever the handler does: a handler that panics before writing
// a status is recorded as 500 and the panic continues up the stack unchanged.
func (i *Interceptor) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		i.addInFlight(1)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		defer func() {
			rec := recover()

			// Measured before any sampling so the histogram only sees the handler
			duration := time.Since(start).Seconds()

			status := rw.statusCode
			if rec != nil && !rw.wroteHeader {
				status = http.StatusInternalServerError
			}

			// A client that left before any response has no status to report
			if rec != nil || rw.wroteHeader || r.Context().Err() == nil {
				i.observe(r.Method, routeLabel(r), status, duration)
			}
			i.addInFlight(-1)
			i.triggerSample(r.Context())

			if rec != nil {
				panic(rec)
			}
		}()

		next.ServeHTTP(rw, r)
	})
}

// observe updates the request counter then the latency histogram
func (i *Interceptor) observe(method, route string, status int, seconds float64) {
	labels := Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}

	if err := i.registry.IncrementCounter(RequestsTotal, labels); err != nil {
		logging.Error("Failed to record request count", "route", route, "error", err)
	}

	if err := i.registry.RecordHistogram(RequestsDuration, labels, seconds); err != nil {
		logging.Error("Failed to record request duration", "route", route, "error", err)
	}
}

func (i *Interceptor) addInFlight(delta float64) {
	if err := i.registry.AddGauge(RequestsInFlight, nil, delta); err != nil {
		logging.Error("Failed to update in-flight gauge", "error", err)
	}
}

// triggerSample starts a resource sample unless one is already running
func (i *Interceptor) triggerSample(ctx context.Context) {
	if i.sample == nil || !i.sampling.CompareAndSwap(false, true) {
		return
	}

	// The sample outlives the request: keep its values, not its cancellation
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.sampleTimeout)

	go func() {
		defer i.sampling.Store(false)
		defer cancel()

		_ = i.sample(ctx)
	}()
}

// routeLabel returns the matched route pattern (e.g. /items/{id}), or the raw
// path when no route matched so that 404s stay distinguishable.
func routeLabel(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return rawPath(r)
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}

	// Rejected by a middleware before routing: look the route up
	if rctx.Routes != nil {
		if pattern := rctx.Routes.Find(chi.NewRouteContext(), r.Method, r.URL.Path); pattern != "" {
			return pattern
		}
	}
	return rawPath(r)
}

// rawPath is the decoded request path made safe for a label value.
// Escapes like %ff decode to bytes that are not valid UTF-8.
func rawPath(r *http.Request) string {
	return strings.ToValidUTF8(r.URL.Path, "\uFFFD")
}
