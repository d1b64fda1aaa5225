// Package config loads the storefront agent configuration from the environment.
// An optional .env file in the working directory is loaded first.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/currency"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

type Config struct {
	Service   ServiceConfig
	Logging   LoggingConfig
	Tracing   TracingConfig
	Profiling ProfilingConfig
	API       APIConfig
	Store     StoreConfig
	Cart      CartConfig
	Shutdown  ShutdownConfig
}

type ServiceConfig struct {
	Name    string
	Version string
	Env     string
	Port    string
}

type LoggingConfig struct {
	Level string
}

type TracingConfig struct {
	Enabled    bool
	Endpoint   string
	SampleRate float64
}

type ProfilingConfig struct {
	Enabled  bool
	Endpoint string
}

// APIConfig points at the remote commerce API.
type APIConfig struct {
	BaseURL string
	Timeout string
}

// StoreConfig selects the durable key-value backend for tokens and the cart.
type StoreConfig struct {
	Driver        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
	DatabaseURL   string
}

type CartConfig struct {
	Currency          string
	ReconcileInterval string
	SyncQueueSize     int
}

type ShutdownConfig struct {
	Timeout             string
	ReadinessDrainDelay string
}

// Load reads the configuration from the environment, applying defaults.
func Load() *Config {
	// .env is optional
	_ = godotenv.Load()

	return &Config{
		Service: ServiceConfig{
			Name:    getEnv("SERVICE_NAME", "storefront-sync"),
			Version: getEnv("SERVICE_VERSION", "dev"),
			Env:     getEnv("ENV", "development"),
			Port:    getEnv("PORT", "8090"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Tracing: TracingConfig{
			Enabled:    getEnvBool("TRACING_ENABLED", false),
			Endpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
			SampleRate: getEnvFloat("TRACING_SAMPLE_RATE", 1.0),
		},
		Profiling: ProfilingConfig{
			Enabled:  getEnvBool("PROFILING_ENABLED", false),
			Endpoint: getEnv("PYROSCOPE_SERVER_ADDRESS", "http://localhost:4040"),
		},
		API: APIConfig{
			BaseURL: getEnv("API_BASE_URL", "http://localhost:8080/api/v1"),
			Timeout: getEnv("API_TIMEOUT", "15s"),
		},
		Store: StoreConfig{
			Driver:        getEnv("STORE_DRIVER", StoreMemory),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("REDIS_DB", 0),
			KeyPrefix:     getEnv("STORE_KEY_PREFIX", "storefront"),
			DatabaseURL:   getEnv("DATABASE_URL", ""),
		},
		Cart: CartConfig{
			Currency:          getEnv("CART_CURRENCY", "USD"),
			ReconcileInterval: getEnv("PRICE_RECONCILE_INTERVAL", "5m"),
			SyncQueueSize:     getEnvInt("SYNC_QUEUE_SIZE", 64),
		},
		Shutdown: ShutdownConfig{
			Timeout:             getEnv("SHUTDOWN_TIMEOUT", "10s"),
			ReadinessDrainDelay: getEnv("READINESS_DRAIN_DELAY", "0s"),
		},
	}
}

// Validate checks values Load cannot default away.
func (c *Config) Validate() error {
	var errs []error

	if c.Service.Port == "" {
		errs = append(errs, errors.New("PORT is required"))
	}

	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("API_BASE_URL %q is not an absolute URL", c.API.BaseURL))
	}

	switch c.Store.Driver {
	case StoreMemory, StoreRedis:
	case StorePostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER %q is not one of memory, redis, postgres", c.Store.Driver))
	}

	if _, err := currency.ParseISO(c.Cart.Currency); err != nil {
		errs = append(errs, fmt.Errorf("CART_CURRENCY %q: %w", c.Cart.Currency, err))
	}
	if c.Cart.SyncQueueSize <= 0 {
		errs = append(errs, errors.New("SYNC_QUEUE_SIZE must be positive"))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, errors.New("TRACING_SAMPLE_RATE must be within [0, 1]"))
	}

	for name, value := range map[string]string{
		"API_TIMEOUT":              c.API.Timeout,
		"PRICE_RECONCILE_INTERVAL": c.Cart.ReconcileInterval,
		"SHUTDOWN_TIMEOUT":         c.Shutdown.Timeout,
		"READINESS_DRAIN_DELAY":    c.Shutdown.ReadinessDrainDelay,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) GetAPITimeoutDuration() time.Duration {
	return parseDuration(c.API.Timeout, 15*time.Second)
}

// GetReconcileIntervalDuration returns the periodic price reconciliation
// interval; zero disables the loop.
func (c *Config) GetReconcileIntervalDuration() time.Duration {
	return parseDuration(c.Cart.ReconcileInterval, 5*time.Minute)
}

func (c *Config) GetShutdownTimeoutDuration() time.Duration {
	return parseDuration(c.Shutdown.Timeout, 10*time.Second)
}

func (c *Config) GetReadinessDrainDelayDuration() time.Duration {
	return parseDuration(c.Shutdown.ReadinessDrainDelay, 0)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvFloat(key string, defaultValue float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return v
}
