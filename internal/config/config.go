package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

// Config holds the process settings of the lending engine.
type Config struct {
	LogLevel    string
	ServiceName string

	// OpsAddr is where /metrics, /healthz and /livez are served. Empty disables
	// the ops server.
	OpsAddr string
	// OTLPEndpoint enables trace export when set.
	OTLPEndpoint string

	SweepInterval time.Duration
	Seed          bool

	// RegistrationRate is registrations allowed per minute; zero disables the
	// throttle.
	RegistrationRate  float64
	RegistrationBurst int
}

// Default returns the settings used when no environment is set.
func Default() Config {
	return Config{
		LogLevel:          "info",
		ServiceName:       "libralend",
		OpsAddr:           ":9090",
		SweepInterval:     time.Hour,
		Seed:              true,
		RegistrationBurst: 5,
	}
}

// FromEnv overlays environment variables on Default.
func FromEnv() (Config, error) {
	cfg := Default()

	cfg.LogLevel = getEnv("LIBRALEND_LOG_LEVEL", cfg.LogLevel)
	cfg.ServiceName = getEnv("LIBRALEND_SERVICE_NAME", cfg.ServiceName)
	cfg.OpsAddr = getEnv("LIBRALEND_OPS_ADDR", cfg.OpsAddr)
	cfg.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)

	var err error
	if cfg.SweepInterval, err = time.ParseDuration(getEnv("LIBRALEND_SWEEP_INTERVAL", cfg.SweepInterval.String())); err != nil {
		return Config{}, fmt.Errorf("parse LIBRALEND_SWEEP_INTERVAL: %w", err)
	}
	if cfg.Seed, err = strconv.ParseBool(getEnv("LIBRALEND_SEED", strconv.FormatBool(cfg.Seed))); err != nil {
		return Config{}, fmt.Errorf("parse LIBRALEND_SEED: %w", err)
	}
	if cfg.RegistrationRate, err = strconv.ParseFloat(getEnv("LIBRALEND_REGISTRATION_RATE", "0"), 64); err != nil {
		return Config{}, fmt.Errorf("parse LIBRALEND_REGISTRATION_RATE: %w", err)
	}
	if cfg.RegistrationBurst, err = strconv.Atoi(getEnv("LIBRALEND_REGISTRATION_BURST", strconv.Itoa(cfg.RegistrationBurst))); err != nil {
		return Config{}, fmt.Errorf("parse LIBRALEND_REGISTRATION_BURST: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", c.SweepInterval)
	}
	if c.RegistrationRate < 0 {
		return fmt.Errorf("registration rate must not be negative, got %v", c.RegistrationRate)
	}
	if c.RegistrationRate > 0 && c.RegistrationBurst < 1 {
		return fmt.Errorf("registration burst must be at least 1 when throttling, got %d", c.RegistrationBurst)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
