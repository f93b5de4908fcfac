// Package config loads service configuration from defaults, an optional
// YAML file, an optional .env file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "TIMEMACHINE_"

// Storage backends
const (
	BackendPebble = "pebble"
	BackendSQLite = "sqlite"
)

// Cache backends
const (
	CacheMemory = "memory"
	CacheBadger = "badger"
	CacheNone   = "none"
)

// Config is the complete service configuration
type Config struct {
	GRPCAddr    string `yaml:"grpc_addr" env:"GRPC_ADDR"`
	WebAddr     string `yaml:"web_addr" env:"WEB_ADDR"`
	MetricsAddr string `yaml:"metrics_addr" env:"METRICS_ADDR"`

	// Backend selects the revision, rename and page storage
	Backend  string `yaml:"backend" env:"BACKEND"`
	DataPath string `yaml:"data_path" env:"DATA_PATH"`

	// PresetsFile holds quick-pick dates, one "label|YYYY-MM-DD" per line
	PresetsFile string `yaml:"presets_file" env:"PRESETS_FILE"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	Cache   CacheConfig   `yaml:"cache" envPrefix:"CACHE_"`
	Log     LogConfig     `yaml:"log" envPrefix:"LOG_"`
	Tracing TracingConfig `yaml:"tracing" envPrefix:"TRACING_"`
}

// CacheConfig configures the resolver result cache
type CacheConfig struct {
	Backend    string        `yaml:"backend" env:"BACKEND"`
	Path       string        `yaml:"path" env:"PATH"`
	TTL        time.Duration `yaml:"ttl" env:"TTL"`
	MaxEntries int64         `yaml:"max_entries" env:"MAX_ENTRIES"`
	GCInterval time.Duration `yaml:"gc_interval" env:"GC_INTERVAL"`
}

// LogConfig configures logging
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Pretty bool   `yaml:"pretty" env:"PRETTY"`
}

// TracingConfig configures OpenTelemetry tracing
type TracingConfig struct {
	// Stdout exports spans as JSON on standard output
	Stdout bool `yaml:"stdout" env:"STDOUT"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		GRPCAddr:        ":50051",
		WebAddr:         ":8080",
		MetricsAddr:     ":9090",
		Backend:         BackendPebble,
		DataPath:        "./timemachine.db",
		ShutdownTimeout: 10 * time.Second,
		Cache: CacheConfig{
			Backend:    CacheMemory,
			TTL:        24 * time.Hour,
			MaxEntries: 100_000,
			GCInterval: 5 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: false,
		},
	}
}

// Load builds the configuration. path names an optional YAML file; an empty
// path skips it. A .env file in the working directory is read if present.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks option values
func (c Config) Validate() error {
	switch c.Backend {
	case BackendPebble, BackendSQLite:
	default:
		return fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, BackendPebble, BackendSQLite)
	}
	if strings.TrimSpace(c.DataPath) == "" {
		return fmt.Errorf("data path is required")
	}
	switch c.Cache.Backend {
	case CacheMemory, CacheNone:
	case CacheBadger:
		if c.Cache.Path == "" {
			return fmt.Errorf("cache path is required for the badger cache")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}
	return nil
}
