package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvString returns the trimmed value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}

// EnvDuration parses key as a Go duration ("1s", "250ms").
func EnvDuration(key string) (time.Duration, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return d, true, nil
}

// ApplyEnv overrides fields from BOOKPRICE_* variables.
func (c *Config) ApplyEnv() error {
	strs := map[string]*string{
		"BOOKPRICE_PROVIDER_URL":  &c.ProviderURL,
		"BOOKPRICE_STORAGE":       &c.Storage,
		"BOOKPRICE_DATABASE_URL":  &c.DatabaseURL,
		"BOOKPRICE_BLOB_BACKEND":  &c.BlobBackend,
		"BOOKPRICE_BLOB_DIR":      &c.BlobDir,
		"BOOKPRICE_S3_BUCKET":     &c.S3Bucket,
		"BOOKPRICE_SECRET_SOURCE": &c.SecretSource,
		"BOOKPRICE_SECRET_NAME":   &c.SecretName,
		"BOOKPRICE_METRICS_ADDR":  &c.MetricsAddr,
	}
	for key, dst := range strs {
		if value, ok := EnvString(key); ok {
			*dst = value
		}
	}

	ints := map[string]*int{
		"BOOKPRICE_MAX_RETRIES": &c.MaxRetries,
		"BOOKPRICE_BATCH_SIZE":  &c.BatchSize,
		"BOOKPRICE_DAILY_QUOTA": &c.DailyQuota,
		"BOOKPRICE_CACHE_SIZE":  &c.CacheSize,
	}
	for key, dst := range ints {
		value, ok, err := EnvInt(key)
		if err != nil {
			return err
		}
		if ok {
			*dst = value
		}
	}

	durations := map[string]*time.Duration{
		"BOOKPRICE_TIMEOUT":   &c.Timeout,
		"BOOKPRICE_PACING":    &c.PacingInterval,
		"BOOKPRICE_CACHE_TTL": &c.CacheTTL,
	}
	for key, dst := range durations {
		value, ok, err := EnvDuration(key)
		if err != nil {
			return err
		}
		if ok {
			*dst = value
		}
	}
	return nil
}
