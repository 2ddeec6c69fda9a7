// Package config has the configuration for the resource metrics API
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Environments
const (
	EnvDevelopment = "dev"
	EnvStaging     = "staging"
	EnvProduction  = "prod"
	EnvTest        = "test"
)

// Sampling modes
const (
	// SamplingPeriodic samples host resources on a fixed timer
	SamplingPeriodic = "periodic"
	// SamplingRequest samples host resources after every request
	SamplingRequest = "request"
)

var serviceNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.\-]*$`)

// Config holds all application configuration
type Config struct {
	Port              string
	Address           string
	Env               string
	LogLevel          string
	LogDir            string
	LogRetentionWeeks int   // Number of weeks to keep log files
	MaxLogFileSize    int64 // Maximum log file size in bytes
	MaxRequestBody    int64 // Maximum request body size in bytes
	MaxHeaderSize     int64 // Maximum header size in bytes

	// Metrics
	ServiceName       string
	DiskMountPoint    string
	CPUSampleInterval time.Duration
	SamplingMode      string
	SamplePeriod      time.Duration

	// Rate limiting (tokens per second and bucket size, per client)
	RateLimitRate     float64
	RateLimitCapacity int64

	// Artificial latency of the demo routes
	HandlerDelay time.Duration
}

// Load loads and validates configuration from environment variables
func Load() (*Config, error) {
	cpuInterval, cpuErr := getDurationEnv("CPU_SAMPLE_INTERVAL", 200*time.Millisecond)
	samplePeriod, periodErr := getDurationEnv("SAMPLE_PERIOD", 15*time.Second)
	handlerDelay, delayErr := getDurationEnv("HANDLER_DELAY", time.Second)
	if err := errors.Join(cpuErr, periodErr, delayErr); err != nil {
		return nil, fmt.Errorf("configuration parsing failed: %w", err)
	}

	cfg := &Config{
		Port:              getEnvWithDefault("PORT", "8000"),
		Address:           getEnvWithDefault("ADDRESS", "127.0.0.1"),
		Env:               strings.ToLower(getEnvWithDefault("ENV", EnvDevelopment)),
		LogLevel:          strings.ToLower(getEnvWithDefault("LOG_LEVEL", "info")),
		LogDir:            getEnvWithDefault("LOG_DIR", "logs"),
		LogRetentionWeeks: getIntEnvWithDefault("LOG_RETENTION_WEEKS", 4),         // 4 weeks default
		MaxLogFileSize:    getInt64EnvWithDefault("MAX_LOG_FILE_SIZE", 104857600), // 100MB default
		MaxRequestBody:    getInt64EnvWithDefault("MAX_REQUEST_BODY", 1048576),    // 1MB default
		MaxHeaderSize:     getInt64EnvWithDefault("MAX_HEADER_SIZE", 1048576),     // 1MB default

		ServiceName:       getEnvWithDefault("SERVICE_NAME", "resource-metrics-api"),
		DiskMountPoint:    getEnvWithDefault("DISK_MOUNT_POINT", "/"),
		CPUSampleInterval: cpuInterval,
		SamplingMode:      strings.ToLower(getEnvWithDefault("SAMPLING_MODE", SamplingPeriodic)),
		SamplePeriod:      samplePeriod,

		RateLimitRate:     getFloatEnvWithDefault("RATE_LIMIT_RATE", 3),
		RateLimitCapacity: getInt64EnvWithDefault("RATE_LIMIT_CAPACITY", 1000),

		HandlerDelay: handlerDelay,
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// validateConfig validates all configuration values
func validateConfig(cfg *Config) error {
	if err := validatePort(cfg.Port); err != nil {
		return fmt.Errorf("invalid PORT: %w", err)
	}

	if err := validateAddress(cfg.Address); err != nil {
		return fmt.Errorf("invalid ADDRESS: %w", err)
	}

	if err := validateEnv(cfg.Env); err != nil {
		return fmt.Errorf("invalid ENV: %w", err)
	}

	if err := validateLogLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	if err := validateSizeLimit(cfg.MaxRequestBody, "MAX_REQUEST_BODY"); err != nil {
		return fmt.Errorf("invalid MAX_REQUEST_BODY: %w", err)
	}

	if err := validateSizeLimit(cfg.MaxHeaderSize, "MAX_HEADER_SIZE"); err != nil {
		return fmt.Errorf("invalid MAX_HEADER_SIZE: %w", err)
	}

	if err := validateLogRetentionWeeks(cfg.LogRetentionWeeks); err != nil {
		return fmt.Errorf("invalid LOG_RETENTION_WEEKS: %w", err)
	}

	if err := validateMaxLogFileSize(cfg.MaxLogFileSize); err != nil {
		return fmt.Errorf("invalid MAX_LOG_FILE_SIZE: %w", err)
	}

	if err := validateServiceName(cfg.ServiceName); err != nil {
		return fmt.Errorf("invalid SERVICE_NAME: %w", err)
	}

	if err := validateMountPoint(cfg.DiskMountPoint); err != nil {
		return fmt.Errorf("invalid DISK_MOUNT_POINT: %w", err)
	}

	if err := validateSampling(cfg); err != nil {
		return err
	}

	if err := validateRateLimit(cfg.RateLimitRate, cfg.RateLimitCapacity); err != nil {
		return fmt.Errorf("invalid rate limit: %w", err)
	}

	if cfg.HandlerDelay < 0 {
		return fmt.Errorf("invalid HANDLER_DELAY: must not be negative, got: %s", cfg.HandlerDelay)
	}

	return nil
}

// validatePort validates the PORT environment variable
func validatePort(port string) error {
	if port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}

	portNum, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("PORT must be a valid number: %w", err)
	}

	if portNum < 1 || portNum > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}

	// Check for privileged ports
	if portNum < 1024 {
		return fmt.Errorf("PORT %d is privileged (less than 1024), use ports 1024-65535", portNum)
	}

	return nil
}

// validateAddress validates the ADDRESS environment variable
func validateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("ADDRESS cannot be empty")
	}

	if address == "localhost" || address == "0.0.0.0" || address == "::" {
		return nil
	}

	if ip := net.ParseIP(address); ip == nil {
		return fmt.Errorf("ADDRESS must be a valid IP address or 'localhost', got: %s", address)
	}

	return nil
}

// validateEnv validates the ENV environment variable
func validateEnv(env string) error {
	if env == "" {
		return fmt.Errorf("ENV cannot be empty")
	}

	validEnvs := []string{EnvDevelopment, EnvStaging, EnvProduction, EnvTest}
	if slices.Contains(validEnvs, strings.ToLower(env)) {
		return nil
	}

	return fmt.Errorf("ENV must be one of: %v, got: %s", validEnvs, env)
}

// validateLogLevel validates the LOG_LEVEL environment variable
func validateLogLevel(logLevel string) error {
	if logLevel == "" {
		return fmt.Errorf("LOG_LEVEL cannot be empty")
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if slices.Contains(validLevels, strings.ToLower(logLevel)) {
		return nil
	}

	return fmt.Errorf("LOG_LEVEL must be one of: %v, got: %s", validLevels, logLevel)
}

// validateSizeLimit validates size limit configuration values
func validateSizeLimit(size int64, configName string) error {
	if size <= 0 {
		return fmt.Errorf("%s must be positive, got: %d", configName, size)
	}

	if size > 100*1024*1024 { // 100MB
		return fmt.Errorf("%s is too large (max 100MB), got: %d bytes", configName, size)
	}

	return nil
}

// validateLogRetentionWeeks validates the LOG_RETENTION_WEEKS environment variable
func validateLogRetentionWeeks(weeks int) error {
	if weeks <= 0 {
		return fmt.Errorf("LOG_RETENTION_WEEKS must be positive, got: %d", weeks)
	}

	if weeks > 52 { // 1 year maximum
		return fmt.Errorf("LOG_RETENTION_WEEKS is too large (max 52 weeks), got: %d", weeks)
	}

	return nil
}

// validateMaxLogFileSize validates the MAX_LOG_FILE_SIZE environment variable
func validateMaxLogFileSize(size int64) error {
	if size <= 0 {
		return fmt.Errorf("MAX_LOG_FILE_SIZE must be positive, got: %d", size)
	}

	// Minimum 1MB, maximum 1GB
	if size < 1024*1024 {
		return fmt.Errorf("MAX_LOG_FILE_SIZE is too small (min 1MB), got: %d bytes", size)
	}

	if size > 1024*1024*1024 {
		return fmt.Errorf("MAX_LOG_FILE_SIZE is too large (max 1GB), got: %d bytes", size)
	}

	return nil
}

// validateServiceName checks the value used for the constant service label
func validateServiceName(name string) error {
	if name == "" {
		return fmt.Errorf("SERVICE_NAME cannot be empty")
	}

	if !serviceNamePattern.MatchString(name) {
		return fmt.Errorf("SERVICE_NAME may only contain letters, digits, '_', '-' and '.', got: %s", name)
	}

	return nil
}

// validateMountPoint requires an absolute, clean path. The mount point does
// not have to exist: an unmatched mount point reports zero disk space.
func validateMountPoint(mountPoint string) error {
	if mountPoint == "" {
		return fmt.Errorf("DISK_MOUNT_POINT cannot be empty")
	}

	if !filepath.IsAbs(mountPoint) {
		return fmt.Errorf("DISK_MOUNT_POINT must be an absolute path, got: %s", mountPoint)
	}

	if filepath.Clean(mountPoint) != mountPoint {
		return fmt.Errorf("DISK_MOUNT_POINT must be a clean path (e.g. %s), got: %s", filepath.Clean(mountPoint), mountPoint)
	}

	return nil
}

// validateSampling validates SAMPLING_MODE, SAMPLE_PERIOD and CPU_SAMPLE_INTERVAL together
func validateSampling(cfg *Config) error {
	if cfg.SamplingMode != SamplingPeriodic && cfg.SamplingMode != SamplingRequest {
		return fmt.Errorf("invalid SAMPLING_MODE: must be one of: [%s %s], got: %s",
			SamplingPeriodic, SamplingRequest, cfg.SamplingMode)
	}

	if cfg.CPUSampleInterval < 10*time.Millisecond || cfg.CPUSampleInterval > 5*time.Second {
		return fmt.Errorf("invalid CPU_SAMPLE_INTERVAL: must be between 10ms and 5s, got: %s", cfg.CPUSampleInterval)
	}

	if cfg.SamplingMode == SamplingPeriodic {
		if cfg.SamplePeriod < time.Second {
			return fmt.Errorf("invalid SAMPLE_PERIOD: must be at least 1s, got: %s", cfg.SamplePeriod)
		}

		if cfg.SamplePeriod <= cfg.CPUSampleInterval {
			return fmt.Errorf("invalid SAMPLE_PERIOD: must be longer than CPU_SAMPLE_INTERVAL (%s), got: %s",
				cfg.CPUSampleInterval, cfg.SamplePeriod)
		}
	}

	return nil
}

// validateRateLimit validates RATE_LIMIT_RATE and RATE_LIMIT_CAPACITY
func validateRateLimit(rate float64, capacity int64) error {
	if rate <= 0 {
		return fmt.Errorf("RATE_LIMIT_RATE must be positive, got: %g", rate)
	}

	if capacity <= 0 {
		return fmt.Errorf("RATE_LIMIT_CAPACITY must be positive, got: %d", capacity)
	}

	return nil
}

// getEnvWithDefault gets an environment variable with a default value
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnvWithDefault gets an environment variable as int with a default value
func getIntEnvWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getInt64EnvWithDefault gets an environment variable as int64 with a default value
func getInt64EnvWithDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getFloatEnvWithDefault gets an environment variable as float64 with a default value
func getFloatEnvWithDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getDurationEnv parses Go duration strings ("250ms", "15s"). A malformed
// value is an error, not the default.
func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// GetEnvVars returns a list of all expected environment variables
func GetEnvVars() []string {
	return []string{
		"PORT",
		"ADDRESS",
		"ENV",
		"LOG_LEVEL",
		"LOG_DIR",
		"LOG_RETENTION_WEEKS",
		"MAX_LOG_FILE_SIZE",
		"MAX_REQUEST_BODY",
		"MAX_HEADER_SIZE",
		"SERVICE_NAME",
		"DISK_MOUNT_POINT",
		"CPU_SAMPLE_INTERVAL",
		"SAMPLING_MODE",
		"SAMPLE_PERIOD",
		"RATE_LIMIT_RATE",
		"RATE_LIMIT_CAPACITY",
		"HANDLER_DELAY",
	}
}

// OverriddenEnvVars returns the expected variables that are set in the
// environment, in GetEnvVars order
func OverriddenEnvVars() []string {
	var set []string
	for _, key := range GetEnvVars() {
		if os.Getenv(key) != "" {
			set = append(set, key)
		}
	}
	return set
}
