package gqlcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	rawzerolog "github.com/rs/zerolog"
	"github.com/surrealdb/gqlcache.go/pkg/connection"
	"github.com/surrealdb/gqlcache.go/pkg/constants"
	"github.com/surrealdb/gqlcache.go/pkg/logger"
	"github.com/surrealdb/gqlcache.go/pkg/logger/zerolog"
	"github.com/surrealdb/gqlcache.go/pkg/metrics"
	"github.com/surrealdb/gqlcache.go/pkg/schema"
	"gopkg.in/yaml.v3"
)

// Config describes an Environment. It can be loaded from YAML with LoadConfig.
type Config struct {
	// Endpoint is the GraphQL endpoint. http and https endpoints use POST,
	// ws and wss endpoints use graphql-transport-ws.
	Endpoint string            `yaml:"endpoint" validate:"required,url"`
	Timeout  time.Duration     `yaml:"timeout" validate:"gte=0"`
	Headers  map[string]string `yaml:"headers"`

	Retry   RetryConfig   `yaml:"retry"`
	Cache   CacheConfig   `yaml:"cache"`
	Breaker BreakerConfig `yaml:"breaker"`

	// SchemaPath is an SDL file. Without it the store does not know which
	// fields are non-null or which types implement an interface.
	SchemaPath string `yaml:"schema"`
	// SnapshotPath is loaded at start when present. Environment.SaveSnapshot writes it.
	SnapshotPath string `yaml:"snapshot"`

	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	// LogFormat json writes through zerolog, to LogFile when it is set.
	LogFormat        string `yaml:"log_format" validate:"omitempty,oneof=text json"`
	LogFile          string `yaml:"log_file"`
	MetricsNamespace string `yaml:"metrics_namespace"`

	Logger  logger.Logger      `yaml:"-"`
	Metrics *metrics.Collector `yaml:"-"`
}

type RetryConfig struct {
	// MaxRetries of zero disables retrying.
	MaxRetries   int           `yaml:"max_retries" validate:"gte=0,lte=10"`
	InitialDelay time.Duration `yaml:"initial_delay" validate:"gte=0"`
	MaxDelay     time.Duration `yaml:"max_delay" validate:"gte=0"`
}

type CacheConfig struct {
	// TTL of zero disables the response cache.
	TTL      time.Duration `yaml:"ttl" validate:"gte=0"`
	Capacity uint64        `yaml:"capacity"`
}

type BreakerConfig struct {
	// MaxFailures of zero disables the circuit breaker.
	MaxFailures uint32        `yaml:"max_failures"`
	OpenTimeout time.Duration `yaml:"open_timeout" validate:"gte=0"`
}

var validate = validator.New()

// NewConfig returns a Config for the endpoint at u with the default retry
// policy and no response cache.
func NewConfig(u *url.URL) *Config {
	retry := connection.NewExponentialBackoffRetryer()
	return &Config{
		Endpoint: u.String(),
		Retry: RetryConfig{
			MaxRetries:   retry.MaxRetries,
			InitialDelay: retry.InitialDelay,
			MaxDelay:     retry.MaxDelay,
		},
		LogLevel: "info",
	}
}

// LoadConfig reads a YAML config file, applies the GQLCACHE_ENDPOINT and
// GQLCACHE_LOG_LEVEL overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", constants.ErrConfiguration, path, err)
	}
	if cfg.SchemaPath != "" && !filepath.IsAbs(cfg.SchemaPath) {
		cfg.SchemaPath = filepath.Join(filepath.Dir(path), cfg.SchemaPath)
	}
	if cfg.SnapshotPath != "" && !filepath.IsAbs(cfg.SnapshotPath) {
		cfg.SnapshotPath = filepath.Join(filepath.Dir(path), cfg.SnapshotPath)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the struct tags and the endpoint scheme. Failures wrap
// constants.ErrConfiguration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", constants.ErrConfiguration, formatValidationError(err))
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("%w: endpoint: %v", constants.ErrConfiguration, err)
	}
	switch u.Scheme {
	case constants.HTTPScheme, constants.HTTPSecureScheme, constants.WebsocketScheme, constants.WebsocketSecureScheme:
	default:
		return fmt.Errorf("%w: %w: %q", constants.ErrConfiguration, constants.ErrUnsupportedScheme, u.Scheme)
	}
	return nil
}

func formatValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}
	msgs := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		field := strings.ToLower(e.Field())
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, e.Param()))
		case "url":
			msgs = append(msgs, fmt.Sprintf("%s must be a url", field))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid (%s)", field, e.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

// logger builds the configured logger and a function releasing its log file.
func (c *Config) logger() (logger.Logger, func() error, error) {
	noop := func() error { return nil }
	if c.Logger != nil {
		return c.Logger, noop, nil
	}
	if c.LogFormat == "json" {
		zl, err := zerolog.New().FromPath(c.LogFile).Level(zerologLevel(c.LogLevel)).Make()
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		return zl, zl.Close, nil
	}
	level := slog.LevelInfo
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return logger.NewText(os.Stderr, level), noop, nil
}

func zerologLevel(level string) rawzerolog.Level {
	switch level {
	case "debug":
		return rawzerolog.DebugLevel
	case "warn":
		return rawzerolog.WarnLevel
	case "error":
		return rawzerolog.ErrorLevel
	default:
		return rawzerolog.InfoLevel
	}
}

// FromConfig validates cfg and builds an Environment: it loads the schema,
// connects the transport chosen by the endpoint scheme, wraps it with the
// retry and cache layers that are enabled, and loads the snapshot.
func FromConfig(ctx context.Context, cfg *Config) (*Environment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l, closeLog, err := cfg.logger()
	if err != nil {
		return nil, err
	}
	m := cfg.Metrics
	if m == nil && cfg.MetricsNamespace != "" {
		m = metrics.NewCollector(cfg.MetricsNamespace)
	}

	var reg *schema.Registry
	if cfg.SchemaPath != "" {
		sdl, err := os.ReadFile(cfg.SchemaPath)
		if err != nil {
			_ = closeLog()
			return nil, fmt.Errorf("reading schema: %w", err)
		}
		if reg, err = schema.ParseSDL(string(sdl)); err != nil {
			_ = closeLog()
			return nil, err
		}
	}

	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		_ = closeLog()
		return nil, fmt.Errorf("%w: endpoint: %v", constants.ErrConfiguration, err)
	}
	cc := connection.NewConfig(u)
	cc.Logger = l
	cc.Metrics = m
	cc.Timeout = cfg.Timeout
	cc.Header = cfg.Headers
	cc.Breaker = connection.BreakerSettings{
		Name:        u.Host,
		MaxFailures: cfg.Breaker.MaxFailures,
		OpenTimeout: cfg.Breaker.OpenTimeout,
	}
	conn, err := connection.New(ctx, cc)
	if err != nil {
		_ = closeLog()
		return nil, err
	}

	if cfg.Retry.MaxRetries > 0 {
		retryer := connection.NewExponentialBackoffRetryer()
		retryer.MaxRetries = cfg.Retry.MaxRetries
		if cfg.Retry.InitialDelay > 0 {
			retryer.InitialDelay = cfg.Retry.InitialDelay
		}
		if cfg.Retry.MaxDelay > 0 {
			retryer.MaxDelay = cfg.Retry.MaxDelay
		}
		conn = connection.NewRetrying(conn, retryer, l)
	}
	if cfg.Cache.TTL > 0 {
		conn = connection.NewCaching(conn, cfg.Cache.TTL, cfg.Cache.Capacity, m)
	}

	env := NewEnvironment(conn, WithSchema(reg), WithLogger(l), WithMetrics(m))
	env.closeLog = closeLog
	if cfg.SnapshotPath != "" {
		if err := env.LoadSnapshot(cfg.SnapshotPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			_ = env.Close(ctx)
			return nil, err
		}
	}
	return env, nil
}
