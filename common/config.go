package common

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Conversion modes select how POST /convert answers.
const (
	// ModeSync converts inside the request and returns the first page.
	ModeSync = "sync"
	// ModeAsync accepts the request, returns a job id and converts in the background.
	ModeAsync = "async"
	// ModeAuto downloads first, then answers synchronously for small files
	// and defers large ones to a job.
	ModeAuto = "auto"
)

// Response modes select how pages are written.
const (
	ResponseBuffered  = "buffered"
	ResponseStreaming = "streaming"
)

// Config holds the service configuration.
type Config struct {
	Port              string
	LogLevel          string
	LogPretty         bool
	DatabaseDSN       string
	ConvertMode       string
	ResponseMode      string
	JobTTL            time.Duration
	CacheTTL          time.Duration
	MaxConcurrentJobs int
	FetchTimeout      time.Duration
	TempDir           string
}

// DefaultConfig returns the configuration used when no variable is set.
func DefaultConfig() Config {
	return Config{
		Port:              "8080",
		LogLevel:          "info",
		DatabaseDSN:       "file::memory:?cache=shared",
		ConvertMode:       ModeAuto,
		ResponseMode:      ResponseBuffered,
		JobTTL:            time.Hour,
		CacheTTL:          5 * time.Minute,
		MaxConcurrentJobs: 4,
	}
}

// LoadConfig reads the configuration from environment variables.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	var errs []error

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.DatabaseDSN = getEnv("DATABASE_DSN", cfg.DatabaseDSN)
	cfg.ConvertMode = getEnv("CONVERT_MODE", cfg.ConvertMode)
	cfg.ResponseMode = getEnv("RESPONSE_MODE", cfg.ResponseMode)
	cfg.TempDir = getEnv("TEMP_DIR", cfg.TempDir)

	if v := os.Getenv("LOG_PRETTY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("LOG_PRETTY: %w", err))
		}
		cfg.LogPretty = b
	}
	if v := os.Getenv("MAX_CONCURRENT_JOBS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("MAX_CONCURRENT_JOBS: %w", err))
		}
		cfg.MaxConcurrentJobs = n
	}
	errs = append(errs,
		durationEnv("JOB_TTL", &cfg.JobTTL),
		durationEnv("CACHE_TTL", &cfg.CacheTTL),
		durationEnv("FETCH_TIMEOUT", &cfg.FetchTimeout),
	)

	if err := errors.Join(errs...); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate checks that every field holds a supported value.
func (c Config) Validate() error {
	var problems ValidationErrors

	if err := ValidateRequired("PORT", c.Port); err != nil {
		problems = append(problems, *err)
	}
	if err := ValidateEnum("CONVERT_MODE", c.ConvertMode, []string{ModeSync, ModeAsync, ModeAuto}); err != nil {
		problems = append(problems, *err)
	}
	if err := ValidateEnum("RESPONSE_MODE", c.ResponseMode, []string{ResponseBuffered, ResponseStreaming}); err != nil {
		problems = append(problems, *err)
	}
	if err := ValidateEnum("LOG_LEVEL", c.LogLevel, []string{"debug", "info", "warn", "error"}); err != nil {
		problems = append(problems, *err)
	}
	if c.MaxConcurrentJobs < 1 {
		problems = append(problems, ValidationError{Field: "MAX_CONCURRENT_JOBS", Message: "MAX_CONCURRENT_JOBS must be at least 1"})
	}
	for field, d := range map[string]time.Duration{"JOB_TTL": c.JobTTL, "CACHE_TTL": c.CacheTTL, "FETCH_TIMEOUT": c.FetchTimeout} {
		if d < 0 {
			problems = append(problems, ValidationError{Field: field, Message: field + " must not be negative"})
		}
	}

	if len(problems) > 0 {
		return problems
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func durationEnv(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
