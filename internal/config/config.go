package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the recording engine daemon.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	RootDir       string
	IndexPath     string
	DatabaseURL   string
	OverridesPath string

	RotateInterval    time.Duration
	RetentionWindow   time.Duration
	RetentionInterval time.Duration

	StoragePollInterval  time.Duration
	StorageWarningBytes  int64
	StorageCriticalBytes int64

	SampleRate        int
	AudioSourcePath   string
	AutoRecordDefault bool
	AssumePermission  bool
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:             envOrDefault("BLACKBOX_BIND_ADDR", ":7600"),
		MetricsNamespace:     envOrDefault("BLACKBOX_METRICS_NAMESPACE", "blackbox"),
		AllowAnyOrigin:       false,
		RootDir:              envOrDefault("BLACKBOX_ROOT_DIR", "recordings"),
		IndexPath:            stringsTrimSpace("BLACKBOX_INDEX_PATH"),
		DatabaseURL:          stringsTrimSpace("DATABASE_URL"),
		OverridesPath:        stringsTrimSpace("BLACKBOX_OVERRIDES_PATH"),
		AudioSourcePath:      stringsTrimSpace("BLACKBOX_AUDIO_SOURCE"),
		ShutdownTimeout:      15 * time.Second,
		RotateInterval:       5 * time.Minute,
		RetentionWindow:      7 * 24 * time.Hour,
		RetentionInterval:    6 * time.Hour,
		StoragePollInterval:  30 * time.Second,
		StorageWarningBytes:  500 * 1024 * 1024,
		StorageCriticalBytes: 100 * 1024 * 1024,
		SampleRate:           16000,
		AutoRecordDefault:    true,
		AssumePermission:     true,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("BLACKBOX_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RotateInterval, err = durationFromEnv("BLACKBOX_ROTATE_INTERVAL", cfg.RotateInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.RetentionWindow, err = durationFromEnv("BLACKBOX_RETENTION_WINDOW", cfg.RetentionWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.RetentionInterval, err = durationFromEnv("BLACKBOX_RETENTION_INTERVAL", cfg.RetentionInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.StoragePollInterval, err = durationFromEnv("BLACKBOX_STORAGE_POLL_INTERVAL", cfg.StoragePollInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.StorageWarningBytes, err = int64FromEnv("BLACKBOX_STORAGE_WARNING_BYTES", cfg.StorageWarningBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.StorageCriticalBytes, err = int64FromEnv("BLACKBOX_STORAGE_CRITICAL_BYTES", cfg.StorageCriticalBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.SampleRate, err = intFromEnv("BLACKBOX_SAMPLE_RATE", cfg.SampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.AutoRecordDefault, err = boolFromEnv("BLACKBOX_AUTO_RECORD_DEFAULT", cfg.AutoRecordDefault)
	if err != nil {
		return Config{}, err
	}
	cfg.AssumePermission, err = boolFromEnv("BLACKBOX_ASSUME_PERMISSION", cfg.AssumePermission)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("BLACKBOX_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.IndexPath == "" && cfg.DatabaseURL == "" {
		cfg.IndexPath = filepath.Join(cfg.RootDir, "index.sqlite")
	}
	if cfg.OverridesPath == "" {
		cfg.OverridesPath = filepath.Join(cfg.RootDir, "overrides.json")
	}

	if cfg.RotateInterval < 10*time.Second {
		return Config{}, fmt.Errorf("BLACKBOX_ROTATE_INTERVAL must be at least 10s")
	}
	if cfg.RetentionWindow <= 0 {
		return Config{}, fmt.Errorf("BLACKBOX_RETENTION_WINDOW must be positive")
	}
	if cfg.StorageCriticalBytes >= cfg.StorageWarningBytes {
		return Config{}, fmt.Errorf("BLACKBOX_STORAGE_CRITICAL_BYTES must be below BLACKBOX_STORAGE_WARNING_BYTES")
	}
	if cfg.SampleRate <= 0 {
		return Config{}, fmt.Errorf("BLACKBOX_SAMPLE_RATE must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func int64FromEnv(key string, fallback int64) (int64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
