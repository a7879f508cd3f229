package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Source catalog and loading.
	SourcesFile     string
	SourceTimeout   time.Duration
	SourceCacheSize int
	ViewCacheSize   int

	// Remote time-series API (OAuth2 client credentials).
	TimeseriesBaseURL      string
	TimeseriesTokenURL     string
	TimeseriesClientID     string
	TimeseriesClientSecret string
	TimeseriesMaxElapsed   time.Duration

	// Report publication.
	KafkaEnabled     bool
	KafkaBrokers     []string
	KafkaReportTopic string

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	sourceTimeout, err := parsePositiveDuration("SOURCE_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}
	maxElapsed, err := parsePositiveDuration("TIMESERIES_MAX_ELAPSED", "30s")
	if err != nil {
		return nil, err
	}
	mapboxTimeout, err := parsePositiveDuration("MAPBOX_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}

	sourceCacheSize, err := parsePositiveInt("SOURCE_CACHE_SIZE", 32)
	if err != nil {
		return nil, err
	}
	viewCacheSize, err := parsePositiveInt("VIEW_CACHE_SIZE", 256)
	if err != nil {
		return nil, err
	}
	mapboxCacheSize, err := parsePositiveInt("MAPBOX_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		SourcesFile:     sharedcfg.EnvOrDefault("SOURCES_FILE", "sources.yaml"),
		SourceTimeout:   sourceTimeout,
		SourceCacheSize: sourceCacheSize,
		ViewCacheSize:   viewCacheSize,

		TimeseriesBaseURL:      sharedcfg.EnvOrDefault("TIMESERIES_BASE_URL", "https://api.meteomatics.com"),
		TimeseriesTokenURL:     sharedcfg.EnvOrDefault("TIMESERIES_TOKEN_URL", "https://login.meteomatics.com/api/v1/token"),
		TimeseriesClientID:     os.Getenv("TIMESERIES_CLIENT_ID"),
		TimeseriesClientSecret: os.Getenv("TIMESERIES_CLIENT_SECRET"),
		TimeseriesMaxElapsed:   maxElapsed,

		KafkaEnabled:     os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers:     sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaReportTopic: sharedcfg.EnvOrDefault("KAFKA_REPORT_TOPIC", "exceedance-reports"),

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: mapboxCacheSize,
	}

	if cfg.SourcesFile == "" {
		return nil, errors.New("SOURCES_FILE is required")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
	}
	if cfg.KafkaEnabled && cfg.KafkaReportTopic == "" {
		return nil, errors.New("KAFKA_REPORT_TOPIC is required")
	}
	if (cfg.TimeseriesClientID == "") != (cfg.TimeseriesClientSecret == "") {
		return nil, errors.New("TIMESERIES_CLIENT_ID and TIMESERIES_CLIENT_SECRET must be set together")
	}
	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}

	return cfg, nil
}

// TimeseriesEnabled reports whether remote API credentials are configured.
func (c *Config) TimeseriesEnabled() bool {
	return c.TimeseriesClientID != ""
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}
