package logging

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

// TestLoggingMiddlewareSkipsQuietPaths verifies that /health and /metrics are not logged
func TestLoggingMiddlewareSkipsQuietPaths(t *testing.T) {
	var logOutput strings.Builder
	logger := slog.New(slog.NewTextHandler(&logOutput, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))

	for _, path := range []string{"/health", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			logOutput.Reset()
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))

			if rr.Code != http.StatusOK {
				t.Errorf("expected status 200, got %d", rr.Code)
			}
			if logs := logOutput.String(); logs != "" {
				t.Errorf("expected no logs for %s, got: %s", path, logs)
			}
		})
	}
}

func TestLoggingMiddlewareLogsRequest(t *testing.T) {
	var logOutput strings.Builder
	logger := slog.New(slog.NewTextHandler(&logOutput, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/hello?name=x", nil)
	req = req.WithContext(context.WithValue(req.Context(), middleware.RequestIDKey, "test-123"))
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	logs := logOutput.String()
	for _, want := range []string{
		"request_id=test-123",
		"method=GET",
		"path=/hello",
		`query="name=x"`,
		"status_code=418",
		"bytes_written=15",
		"level=INFO",
	} {
		if !strings.Contains(logs, want) {
			t.Errorf("expected %q in log output, got: %s", want, logs)
		}
	}
}

func TestLoggingMiddlewareServerErrorsAreWarnings(t *testing.T) {
	var logOutput strings.Builder
	logger := slog.New(slog.NewTextHandler(&logOutput, nil))

	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/error", nil))

	logs := logOutput.String()
	if !strings.Contains(logs, "level=WARN") || !strings.Contains(logs, "request_id=unknown") {
		t.Errorf("expected warn record with unknown request id, got: %s", logs)
	}
}

func TestResponseWriterWrapper(t *testing.T) {
	rr := httptest.NewRecorder()
	ww := &responseWriterWrapper{ResponseWriter: rr, statusCode: http.StatusOK}

	ww.WriteHeader(http.StatusCreated)
	n, err := ww.Write([]byte("abc"))

	if err != nil || n != 3 {
		t.Fatalf("Write = (%d, %v), want (3, nil)", n, err)
	}
	if ww.statusCode != http.StatusCreated || rr.Code != http.StatusCreated {
		t.Errorf("status not propagated: wrapper %d, recorder %d", ww.statusCode, rr.Code)
	}
	if ww.bytesWritten != 3 {
		t.Errorf("bytesWritten = %d, want 3", ww.bytesWritten)
	}
	if ww.Unwrap() != rr {
		t.Error("Unwrap must return the wrapped writer")
	}
}
