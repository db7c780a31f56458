// Package config loads and validates the runtime Configuration from
// environment variables with optional YAML file overrides.
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Ap3pp3rs94/signalbot/internal/signalerr"
)

type BackpressurePolicy string

const (
	BackpressureBlock       BackpressurePolicy = "block"
	BackpressureDropOldest  BackpressurePolicy = "drop_oldest"
	BackpressureReject      BackpressurePolicy = "reject"
)

type StorageKind string

const (
	StorageMemory      StorageKind = "memory"
	StorageEmbeddedSQL StorageKind = "embedded_sql"
	StorageKeyValue    StorageKind = "key_value"
)

type RateLimitConfig struct {
	Capacity        float64 `yaml:"capacity"`
	RefillPerSecond float64 `yaml:"refill_per_second"`
}

type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	OpenDuration     time.Duration `yaml:"open_duration"`
	RollingWindow    time.Duration `yaml:"rolling_window"`
}

type DLQConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Jitter         float64       `yaml:"jitter"`
}

// Config is the validated runtime configuration.
type Config struct {
	PhoneNumber string
	ServiceURL  string
	APIURL      string

	WorkerPoolSize int
	QueueCapacity  int
	Backpressure   BackpressurePolicy

	Storage             StorageKind
	StoragePath         string
	DurableQueueEnabled bool

	RateLimit      RateLimitConfig
	CircuitBreaker CircuitBreakerConfig
	DLQ            DLQConfig

	LogRedactionEnabled bool
	StructuredLogging   bool
	ShutdownGracePeriod time.Duration
	AdminAddr           string
}

// fileOverrides mirrors the subset of Config that may be set from a YAML
// file. Unset (zero-value) fields never override env/defaults.
type fileOverrides struct {
	WorkerPoolSize      int     `yaml:"worker_pool_size"`
	QueueCapacity       int     `yaml:"queue_capacity"`
	Backpressure        string  `yaml:"backpressure"`
	Storage             string  `yaml:"storage"`
	StoragePath         string  `yaml:"storage_path"`
	DurableQueueEnabled *bool   `yaml:"durable_queue_enabled"`
	RateLimit           RateLimitConfig `yaml:"rate_limit"`
	CircuitBreaker      struct {
		FailureThreshold int    `yaml:"failure_threshold"`
		OpenDuration     string `yaml:"open_duration"`
		RollingWindow    string `yaml:"rolling_window"`
	} `yaml:"circuit_breaker"`
	DLQ struct {
		MaxAttempts    int     `yaml:"max_attempts"`
		InitialBackoff string  `yaml:"initial_backoff"`
		Multiplier     float64 `yaml:"multiplier"`
		MaxBackoff     string  `yaml:"max_backoff"`
		Jitter         float64 `yaml:"jitter"`
	} `yaml:"dlq"`
	LogRedactionEnabled *bool `yaml:"log_redaction_enabled"`
	StructuredLogging   *bool `yaml:"structured_logging"`
	ShutdownGracePeriod string `yaml:"shutdown_grace_period"`
	AdminAddr           string `yaml:"admin_addr"`
}

// Defaults returns Config populated with the runtime's default values.
func Defaults() Config {
	return Config{
		WorkerPoolSize:      4,
		QueueCapacity:       200,
		Backpressure:        BackpressureBlock,
		Storage:             StorageMemory,
		DurableQueueEnabled: false,
		RateLimit:           RateLimitConfig{Capacity: 2, RefillPerSecond: 2},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			OpenDuration:     30 * time.Second,
			RollingWindow:    60 * time.Second,
		},
		DLQ: DLQConfig{
			MaxAttempts:    5,
			InitialBackoff: 5 * time.Second,
			Multiplier:     2,
			MaxBackoff:     300 * time.Second,
			Jitter:         0.1,
		},
		LogRedactionEnabled: true,
		StructuredLogging:   true,
		ShutdownGracePeriod: 10 * time.Second,
		AdminAddr:           ":9090",
	}
}

// Load reads Configuration from the environment, applying an optional YAML
// override file named by SIGNAL_CONFIG_FILE, then validates the result.
func Load() (Config, error) {
	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv("SIGNAL_CONFIG_FILE")); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, signalerr.New(signalerr.KindConfig, "", err)
		}
	}
	applyEnv(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, signalerr.New(signalerr.KindConfig, "", err)
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var raw fileOverrides
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(false)
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if raw.WorkerPoolSize > 0 {
		cfg.WorkerPoolSize = raw.WorkerPoolSize
	}
	if raw.QueueCapacity > 0 {
		cfg.QueueCapacity = raw.QueueCapacity
	}
	if raw.Backpressure != "" {
		cfg.Backpressure = BackpressurePolicy(raw.Backpressure)
	}
	if raw.Storage != "" {
		cfg.Storage = StorageKind(raw.Storage)
	}
	if raw.StoragePath != "" {
		cfg.StoragePath = raw.StoragePath
	}
	if raw.DurableQueueEnabled != nil {
		cfg.DurableQueueEnabled = *raw.DurableQueueEnabled
	}
	if raw.RateLimit.Capacity > 0 {
		cfg.RateLimit.Capacity = raw.RateLimit.Capacity
	}
	if raw.RateLimit.RefillPerSecond > 0 {
		cfg.RateLimit.RefillPerSecond = raw.RateLimit.RefillPerSecond
	}
	if raw.CircuitBreaker.FailureThreshold > 0 {
		cfg.CircuitBreaker.FailureThreshold = raw.CircuitBreaker.FailureThreshold
	}
	if d, err := time.ParseDuration(raw.CircuitBreaker.OpenDuration); err == nil && d > 0 {
		cfg.CircuitBreaker.OpenDuration = d
	}
	if d, err := time.ParseDuration(raw.CircuitBreaker.RollingWindow); err == nil && d > 0 {
		cfg.CircuitBreaker.RollingWindow = d
	}
	if raw.DLQ.MaxAttempts > 0 {
		cfg.DLQ.MaxAttempts = raw.DLQ.MaxAttempts
	}
	if d, err := time.ParseDuration(raw.DLQ.InitialBackoff); err == nil && d > 0 {
		cfg.DLQ.InitialBackoff = d
	}
	if raw.DLQ.Multiplier > 0 {
		cfg.DLQ.Multiplier = raw.DLQ.Multiplier
	}
	if d, err := time.ParseDuration(raw.DLQ.MaxBackoff); err == nil && d > 0 {
		cfg.DLQ.MaxBackoff = d
	}
	if raw.DLQ.Jitter > 0 {
		cfg.DLQ.Jitter = raw.DLQ.Jitter
	}
	if raw.LogRedactionEnabled != nil {
		cfg.LogRedactionEnabled = *raw.LogRedactionEnabled
	}
	if raw.StructuredLogging != nil {
		cfg.StructuredLogging = *raw.StructuredLogging
	}
	if d, err := time.ParseDuration(raw.ShutdownGracePeriod); err == nil && d > 0 {
		cfg.ShutdownGracePeriod = d
	}
	if raw.AdminAddr != "" {
		cfg.AdminAddr = raw.AdminAddr
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.PhoneNumber = getEnv("SIGNAL_PHONE_NUMBER", cfg.PhoneNumber)
	cfg.ServiceURL = getEnv("SIGNAL_SERVICE_URL", cfg.ServiceURL)
	cfg.APIURL = getEnv("SIGNAL_API_URL", cfg.APIURL)

	cfg.WorkerPoolSize = getEnvInt("SIGNAL_WORKER_POOL_SIZE", cfg.WorkerPoolSize)
	cfg.QueueCapacity = getEnvInt("SIGNAL_QUEUE_CAPACITY", cfg.QueueCapacity)
	if v := getEnv("SIGNAL_BACKPRESSURE", ""); v != "" {
		cfg.Backpressure = BackpressurePolicy(v)
	}
	if v := getEnv("SIGNAL_STORAGE", ""); v != "" {
		cfg.Storage = StorageKind(v)
	}
	cfg.StoragePath = getEnv("SIGNAL_STORAGE_PATH", cfg.StoragePath)
	cfg.DurableQueueEnabled = getEnvBool("SIGNAL_DURABLE_QUEUE_ENABLED", cfg.DurableQueueEnabled)
	cfg.LogRedactionEnabled = getEnvBool("SIGNAL_LOG_REDACTION_ENABLED", cfg.LogRedactionEnabled)
	cfg.StructuredLogging = getEnvBool("SIGNAL_STRUCTURED_LOGGING", cfg.StructuredLogging)
	cfg.AdminAddr = getEnv("SIGNAL_ADMIN_ADDR", cfg.AdminAddr)
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.PhoneNumber) == "" || cfg.PhoneNumber[0] != '+' {
		return fmt.Errorf("phone_number must be a non-empty E.164 string")
	}
	if _, err := url.Parse(cfg.ServiceURL); err != nil || cfg.ServiceURL == "" {
		return fmt.Errorf("service_url is invalid: %w", err)
	}
	if _, err := url.Parse(cfg.APIURL); err != nil || cfg.APIURL == "" {
		return fmt.Errorf("api_url is invalid: %w", err)
	}
	if cfg.WorkerPoolSize <= 0 {
		return fmt.Errorf("worker_pool_size must be positive")
	}
	if cfg.QueueCapacity <= 0 {
		return fmt.Errorf("queue_capacity must be positive")
	}
	switch cfg.Backpressure {
	case BackpressureBlock, BackpressureDropOldest, BackpressureReject:
	default:
		return fmt.Errorf("backpressure must be one of block|drop_oldest|reject, got %q", cfg.Backpressure)
	}
	switch cfg.Storage {
	case StorageMemory, StorageEmbeddedSQL, StorageKeyValue:
	default:
		return fmt.Errorf("storage must be one of memory|embedded_sql|key_value, got %q", cfg.Storage)
	}
	if cfg.Storage != StorageMemory && cfg.StoragePath == "" {
		return fmt.Errorf("storage_path is required for storage kind %q", cfg.Storage)
	}
	return nil
}

func getEnv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getEnvBool(key string, def bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}
