package common

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration
type Config struct {
	Pipeline struct {
		MaxRetries          int           `envconfig:"MAX_RETRIES" default:"2"`
		RetryBackoff        time.Duration `envconfig:"RETRY_BACKOFF" default:"2s"`
		ReviewTimeout       time.Duration `envconfig:"REVIEW_TIMEOUT" default:"24h"`
		ReviewSweepInterval time.Duration `envconfig:"REVIEW_SWEEP_INTERVAL" default:"10m"`
		ValidationTolerance float64       `envconfig:"VALIDATION_TOLERANCE" default:"0.01"`
		MaxPlausibleTotal   float64       `envconfig:"MAX_PLAUSIBLE_TOTAL" default:"1000000"`
		RequireRegistration bool          `envconfig:"VALIDATION_REQUIRE_REGISTRATION" default:"false"`
		Workers             int           `envconfig:"PIPELINE_WORKERS" default:"4"`
		QueueSize           int           `envconfig:"PIPELINE_QUEUE_SIZE" default:"256"`
		ProcessTimeout      time.Duration `envconfig:"PIPELINE_PROCESS_TIMEOUT" default:"3m"`
	}

	Database struct {
		DSN             string        `envconfig:"DB_URL" default:"file:receipts.db"`
		MaxConns        int32         `envconfig:"DB_MAX_CONNS" default:"10"`
		MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
		MaxConnIdleTime time.Duration `envconfig:"DB_MAX_CONN_IDLE_TIME" default:"5m"`
		DialTimeout     time.Duration `envconfig:"DB_DIAL_TIMEOUT" default:"3s"`
	}

	Ingest struct {
		WatchRoots  []string      `envconfig:"WATCH_ROOTS" default:"./pdfs"`
		InitialScan bool          `envconfig:"WATCH_INITIAL_SCAN" default:"true"`
		Debounce    time.Duration `envconfig:"WATCH_DEBOUNCE" default:"500ms"`
	}

	Archive struct {
		SuccessDir string `envconfig:"ARCHIVE_SUCCESS_DIR" default:"./success_pdfs"`
		ErrorDir   string `envconfig:"ARCHIVE_ERROR_DIR" default:"./error_pdfs"`
		LogPath    string `envconfig:"ARCHIVE_LOG_PATH" default:"./archive_log.jsonl"`
	}

	Extractor struct {
		Endpoint        string        `envconfig:"EXTRACTOR_ENDPOINT"`
		APIKey          string        `envconfig:"EXTRACTOR_API_KEY"`
		Timeout         time.Duration `envconfig:"EXTRACTOR_TIMEOUT" default:"45s"`
		DefaultCurrency string        `envconfig:"EXTRACTOR_DEFAULT_CURRENCY" default:"JPY"`
		LenientOptional bool          `envconfig:"EXTRACTOR_LENIENT_OPTIONAL" default:"true"`
		WorkDir         string        `envconfig:"EXTRACTOR_WORK_DIR" default:"./tmp"`
	}

	Server struct {
		Addr string `envconfig:"HTTP_ADDR" default:":8080"`
	}
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the handful of options that have no safe default.
func (c *Config) Validate() error {
	if c.Extractor.Endpoint == "" {
		return NewAppError("CONFIG_ERROR", "EXTRACTOR_ENDPOINT is required", ErrInvalidInput)
	}
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Pipeline.MaxRetries < 0 {
		return NewAppError("CONFIG_ERROR", "MAX_RETRIES must be >= 0", ErrInvalidInput)
	}
	if len(c.Ingest.WatchRoots) == 0 {
		return NewAppError("CONFIG_ERROR", "WATCH_ROOTS is required", ErrInvalidInput)
	}
	return nil
}
