package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
)

type LoggingService struct {
	Logger *slog.Logger
	closer io.Closer
}

var DefaultLoggingService *LoggingService

// InitLogger initializes the global logger instance from a LOG_LEVEL string
// and makes it the slog default. Close the returned service on shutdown.
func InitLogger(dir, prefix, level string, retentionWeeks int, maxFileSize int64) *LoggingService {
	logger, closer := NewLogger(os.Stdout, Options{
		Dir:            dir,
		Prefix:         prefix,
		Level:          parseLogLevel(level),
		RetentionWeeks: retentionWeeks,
		MaxFileSize:    maxFileSize,
	})

	DefaultLoggingService = &LoggingService{Logger: logger, closer: closer}
	slog.SetDefault(logger)

	return DefaultLoggingService
}

// Close flushes and closes the log file, if any
func (s *LoggingService) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Current returns the service logger, or slog.Default() before InitLogger
func Current() *slog.Logger {
	if DefaultLoggingService == nil || DefaultLoggingService.Logger == nil {
		return slog.Default()
	}
	return DefaultLoggingService.Logger
}

// Package-level functions for direct access

func Info(msg string, args ...any) {
	log(slog.LevelInfo, msg, args...)
}

func Error(msg string, args ...any) {
	log(slog.LevelError, msg, args...)
}

func Warn(msg string, args ...any) {
	log(slog.LevelWarn, msg, args...)
}

func Debug(msg string, args ...any) {
	log(slog.LevelDebug, msg, args...)
}

// log falls back to a stderr console logger until InitLogger has run
func log(level slog.Level, msg string, args ...any) {
	if DefaultLoggingService == nil || DefaultLoggingService.Logger == nil {
		fallback := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
		fallback.Log(context.Background(), level, msg, args...)
		return
	}
	DefaultLoggingService.Logger.Log(context.Background(), level, msg, args...)
}
