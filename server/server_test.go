package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/giygas/resource-metrics-api/config"
	"github.com/giygas/resource-metrics-api/handlers"
	"github.com/giygas/resource-metrics-api/metrics"
)

type mockHealthChecker struct{}

func (mockHealthChecker) HealthCheck() (string, map[string]any, int) {
	return "healthy", map[string]any{"sampling_mode": config.SamplingPeriodic}, http.StatusOK
}

func testConfig() *config.Config {
	return &config.Config{
		Port:              "0",
		Address:           "127.0.0.1",
		Env:               config.EnvTest,
		MaxRequestBody:    1024 * 1024,
		MaxHeaderSize:     1024 * 1024,
		RateLimitRate:     1000,
		RateLimitCapacity: 1_000_000,
	}
}

func newTestServer(t *testing.T) (*Server, *metrics.Registry) {
	t.Helper()
	registry := newTestRegistry(t)
	interceptor := metrics.NewInterceptor(registry)
	handler := handlers.NewHTTPHandler(mockHealthChecker{}, 0)
	return NewServer(testConfig(), registry, interceptor, handler), registry
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rr := get(t, h, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /metrics: expected 200, got %d", rr.Code)
	}
	return rr.Body.String()
}

func TestNewServer(t *testing.T) {
	s, _ := newTestServer(t)

	if s.server.Addr != "127.0.0.1:0" {
		t.Errorf("Expected address 127.0.0.1:0, got %s", s.server.Addr)
	}
	if s.server.ReadTimeout != 15*time.Second || s.server.WriteTimeout != 15*time.Second {
		t.Error("Expected 15s read and write timeouts")
	}
	if s.Handler() == nil {
		t.Error("Handler() should not be nil")
	}
}

func TestServerAddressIPv6(t *testing.T) {
	cfg := testConfig()
	cfg.Address = "::"
	s := NewServer(cfg, newTestRegistry(t), metrics.NewInterceptor(newTestRegistry(t)),
		handlers.NewHTTPHandler(mockHealthChecker{}, 0))

	if s.server.Addr != "[::]:0" {
		t.Errorf("Expected bracketed IPv6 address, got %s", s.server.Addr)
	}
}

func TestRoutes(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		path         string
		expectedCode int
		expectedBody string
	}{
		{"/", http.StatusOK, "Home"},
		{"/hello", http.StatusOK, "Hello, World!"},
		{"/error", http.StatusInternalServerError, "Home"},
		{"/health", http.StatusOK, `"status":"healthy"`},
		{"/nope", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rr := get(t, s.Handler(), tt.path)
			if rr.Code != tt.expectedCode {
				t.Errorf("Expected status %d, got %d", tt.expectedCode, rr.Code)
			}
			if !strings.Contains(rr.Body.String(), tt.expectedBody) {
				t.Errorf("Expected body containing %q, got %q", tt.expectedBody, rr.Body.String())
			}
		})
	}
}

func TestRequestsAreInstrumented(t *testing.T) {
	s, _ := newTestServer(t)

	get(t, s.Handler(), "/hello")
	get(t, s.Handler(), "/hello")
	get(t, s.Handler(), "/error")
	get(t, s.Handler(), "/missing/42")

	body := scrape(t, s.Handler())

	expected := []string{
		`http_requests_total{method="GET",route="/hello",service="test-service",status="200"} 2`,
		`http_requests_total{method="GET",route="/error",service="test-service",status="500"} 1`,
		`http_requests_total{method="GET",route="/missing/42",service="test-service",status="404"} 1`,
		`http_requests_duration_seconds_count{method="GET",route="/hello",service="test-service",status="200"} 2`,
	}
	for _, line := range expected {
		if !strings.Contains(body, line) {
			t.Errorf("Expected scrape to contain %q\n%s", line, body)
		}
	}
}

func TestRejectedRequestsAreInstrumented(t *testing.T) {
	registry := newTestRegistry(t)
	cfg := testConfig()
	cfg.RateLimitRate = 0.001
	cfg.RateLimitCapacity = 20
	s := NewServer(cfg, registry, metrics.NewInterceptor(registry), handlers.NewHTTPHandler(mockHealthChecker{}, 0))

	get(t, s.Handler(), "/hello")
	if rr := get(t, s.Handler(), "/hello"); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", rr.Code)
	}

	body := scrape(t, s.Handler())
	if !strings.Contains(body, `http_requests_total{method="GET",route="/hello",service="test-service",status="429"} 1`) {
		t.Errorf("Expected the rejected request under its route\n%s", body)
	}
}

func TestRedirectedRequestsAreInstrumented(t *testing.T) {
	s, _ := newTestServer(t)

	if rr := get(t, s.Handler(), "/hello/"); rr.Code != http.StatusMovedPermanently {
		t.Fatalf("Expected 301, got %d", rr.Code)
	}

	body := scrape(t, s.Handler())
	if !strings.Contains(body, `http_requests_total{method="GET",route="/hello/",service="test-service",status="301"} 1`) {
		t.Errorf("Expected the redirected request to be counted\n%s", body)
	}
}

func TestAbandonedRequestIsNotCounted(t *testing.T) {
	registry := newTestRegistry(t)
	s := NewServer(testConfig(), registry, metrics.NewInterceptor(registry),
		handlers.NewHTTPHandler(mockHealthChecker{}, time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/error", nil).WithContext(ctx)
	s.Handler().ServeHTTP(httptest.NewRecorder(), req)

	body := scrape(t, s.Handler())
	if strings.Contains(body, `route="/error"`) {
		t.Errorf("Expected no observation for a request the client abandoned\n%s", body)
	}
}

func TestConcurrentRequestsAreCounted(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	const requests = 100
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Get(ts.URL + "/hello")
			if err != nil {
				t.Errorf("GET /hello: %v", err)
				return
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}()
	}
	wg.Wait()

	body := scrape(t, s.Handler())
	if !strings.Contains(body, `http_requests_total{method="GET",route="/hello",service="test-service",status="200"} 100`) {
		t.Errorf("Expected exactly %d counted requests\n%s", requests, body)
	}
}

func TestHealthEndpointJSON(t *testing.T) {
	s, _ := newTestServer(t)

	rr := get(t, s.Handler(), "/health")

	var response handlers.HealthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to decode /health: %v", err)
	}
	if response.Sampling["sampling_mode"] != config.SamplingPeriodic {
		t.Errorf("Expected sampling mode %q, got %v", config.SamplingPeriodic, response.Sampling["sampling_mode"])
	}
}

func TestServerLifecycle(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve a port: %v", err)
	}
	_, port, _ := net.SplitHostPort(listener.Addr().String())
	listener.Close()

	cfg := testConfig()
	cfg.Port = port
	registry := newTestRegistry(t)
	s := NewServer(cfg, registry, metrics.NewInterceptor(registry), handlers.NewHTTPHandler(mockHealthChecker{}, 0))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start()
	}()

	url := "http://127.0.0.1:" + port + "/hello"
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("Server never became reachable: %v", err)
	}
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			t.Errorf("Expected http.ErrServerClosed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}
