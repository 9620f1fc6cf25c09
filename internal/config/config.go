package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"sitekv/pkg/record"
	"sitekv/pkg/store"
)

// Config is the root of config.yaml.
type Config struct {
	Logger  LoggerConfig  `yaml:"logger"`
	Server  ServerConfig  `yaml:"http-server"`
	Store   StoreConfig   `yaml:"store"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type ServerConfig struct {
	Port              int           `yaml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
}

type StoreConfig struct {
	Path             string           `yaml:"path"`
	MaxValueBytes    int              `yaml:"max_value_bytes"`
	TenantQuotaBytes int64            `yaml:"tenant_quota_bytes"`
	QuotaOverrides   map[string]int64 `yaml:"quota_overrides"`
	IndexSizeHint    uint32           `yaml:"index_size_hint"`
}

type MetricsConfig struct {
	// TenantInterval is how often per-tenant usage gauges are refreshed.
	// Zero disables them.
	TenantInterval time.Duration `yaml:"tenant_interval"`
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "INFO",
			JSON:  false,
		},
		Server: ServerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
		},
		Store: StoreConfig{
			Path:             store.DefaultPath,
			MaxValueBytes:    record.DefaultMaxValue,
			TenantQuotaBytes: store.DefaultTenantQuotaBytes,
			IndexSizeHint:    1 << 10,
		},
		Metrics: MetricsConfig{
			TenantInterval: 15 * time.Second,
		},
	}
}

// Load reads the YAML file at path over Default(). A missing file yields the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Info("config file not found, using default config", "path", path)
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks value ranges. Quota override tenant names are checked when
// the store opens.
func (c Config) Validate() error {
	var errs []error

	if _, err := c.Logger.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("http-server.port %d out of range", c.Server.Port))
	}
	if c.Server.ReadHeaderTimeout < 0 {
		errs = append(errs, errors.New("http-server.read_header_timeout must not be negative"))
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if c.Metrics.TenantInterval < 0 {
		errs = append(errs, errors.New("metrics.tenant_interval must not be negative"))
	}
	if c.Store.MaxValueBytes < 1 {
		errs = append(errs, fmt.Errorf("store.max_value_bytes must be positive, got %d", c.Store.MaxValueBytes))
	}

	return errors.Join(errs...)
}

// SlogLevel maps the configured level name onto slog.
func (c LoggerConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Level)); err != nil {
		return lvl, fmt.Errorf("logger.level %q: %w", c.Level, err)
	}
	return lvl, nil
}

// StoreOptions maps the store section onto store.Options.
func (c Config) StoreOptions() store.Options {
	return store.Options{
		Path:             c.Store.Path,
		MaxValueBytes:    c.Store.MaxValueBytes,
		TenantQuotaBytes: c.Store.TenantQuotaBytes,
		QuotaOverrides:   c.Store.QuotaOverrides,
		IndexSizeHint:    c.Store.IndexSizeHint,
	}
}
