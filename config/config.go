package config

import (
	"fmt"
	"net/url"
	"time"
)

// MinPacingInterval is the provider's minimum spacing between bulk calls.
const MinPacingInterval = time.Second

// Config holds enrichment configuration.
type Config struct {
	ProviderURL     string
	UserAgent       string
	Timeout         time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	PacingInterval  time.Duration
	BatchSize       int
	DailyQuota      int
	CacheTTL        time.Duration
	CacheSize       int
	ProgressEvery   int
	OutputFormat    string // csv or json
	Storage         string // memory or postgres
	DatabaseURL     string
	BlobBackend     string // file or s3
	BlobDir         string
	S3Bucket        string
	SecretSource    string // env or aws
	SecretName      string
	MetricsAddr     string
	Verbose         bool
}

// DefaultConfig returns the provider's published limits and local storage.
func DefaultConfig() *Config {
	return &Config{
		ProviderURL:     "https://api2.isbndb.com",
		UserAgent:       "bookprice/1.0",
		Timeout:         15 * time.Second,
		MaxRetries:      2,
		RetryBackoff:    500 * time.Millisecond,
		RetryBackoffMax: 4 * time.Second,
		PacingInterval:  1100 * time.Millisecond,
		BatchSize:       100,
		DailyQuota:      5000,
		CacheTTL:        7 * 24 * time.Hour,
		CacheSize:       50000,
		ProgressEvery:   50,
		OutputFormat:    "csv",
		Storage:         "memory",
		BlobBackend:     "file",
		BlobDir:         "data",
		SecretSource:    "env",
		SecretName:      "ISBNDB_API_KEY",
		Verbose:         false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.ProviderURL == "" {
		return fmt.Errorf("provider URL cannot be empty")
	}
	parsedURL, err := url.Parse(c.ProviderURL)
	if err != nil {
		return fmt.Errorf("invalid provider URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("provider URL must include a host")
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.PacingInterval < MinPacingInterval {
		return fmt.Errorf("pacing interval (%s) must be at least %s", c.PacingInterval, MinPacingInterval)
	}
	if c.BatchSize <= 0 || c.BatchSize > 100 {
		return fmt.Errorf("batch size must be between 1 and 100")
	}
	if c.DailyQuota <= 0 {
		return fmt.Errorf("daily quota must be positive")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive")
	}
	if c.ProgressEvery <= 0 {
		return fmt.Errorf("progress interval must be positive")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" {
		return fmt.Errorf("output format must be csv or json")
	}
	switch c.Storage {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("database URL required for postgres storage")
		}
	default:
		return fmt.Errorf("storage must be memory or postgres")
	}
	switch c.BlobBackend {
	case "file":
		if c.BlobDir == "" {
			return fmt.Errorf("blob dir cannot be empty")
		}
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("s3 bucket required for s3 blob backend")
		}
	default:
		return fmt.Errorf("blob backend must be file or s3")
	}
	if c.SecretSource != "env" && c.SecretSource != "aws" {
		return fmt.Errorf("secret source must be env or aws")
	}
	if c.SecretName == "" {
		return fmt.Errorf("secret name cannot be empty")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}
