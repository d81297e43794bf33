// Package config loads engine settings from config.toml and BUNDLE_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Log          LogConfig          `mapstructure:"log"`
	Allocation   AllocationConfig   `mapstructure:"allocation"`
	Availability AvailabilityConfig `mapstructure:"availability"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	Profiling    ProfilingConfig    `mapstructure:"profiling"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"` // stdout, stderr or a file path
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=postgres sqlite"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	Path            string        `mapstructure:"path"` // sqlite file, ":memory:" for ephemeral
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gt=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0,ltefield=MaxOpenConns"`
	ConnMaxLifetime int           `mapstructure:"conn_max_lifetime"` // minutes
	LogLevel        string        `mapstructure:"log_level"`
	SlowThreshold   time.Duration `mapstructure:"slow_threshold"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AllocationConfig struct {
	LedgerTimeout  time.Duration `mapstructure:"ledger_timeout" validate:"gte=0"`  // per Allocate/Reverse call
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl" validate:"gte=0"` // posting key retention
	PostingEnabled bool          `mapstructure:"posting_enabled"`
}

type AvailabilityConfig struct {
	CacheEnabled bool          `mapstructure:"cache_enabled"`
	CacheBackend string        `mapstructure:"cache_backend" validate:"oneof=memory redis"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
}

type TelemetryConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	CollectorEndpoint string        `mapstructure:"collector_endpoint"`
	SamplingRatio     float64       `mapstructure:"sampling_ratio" validate:"gte=0,lte=1"`
	ServiceName       string        `mapstructure:"service_name"`
	Insecure          bool          `mapstructure:"insecure"`
	MetricsInterval   time.Duration `mapstructure:"metrics_interval"`
	LogsEnabled       bool          `mapstructure:"logs_enabled"` // tee zap records to the collector
	DBTracing         bool          `mapstructure:"db_tracing"`   // a span per SQL statement
	LogFullSQL        bool          `mapstructure:"log_full_sql"` // query variables in DB spans
}

type ProfilingConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	ServerAddress   string `mapstructure:"server_address" validate:"required_if=Enabled true"`
	ApplicationName string `mapstructure:"application_name"` // defaults to app.name
	Contention      bool   `mapstructure:"contention"`        // goroutine and mutex profiles
	SpanProfiles    bool   `mapstructure:"span_profiles"`     // needs telemetry.enabled
}

// defaults lists every key. Env overrides only reach keys viper knows of,
// so keys without a meaningful default are registered with their zero value.
var defaults = map[string]any{
	"app.name": "bundle-engine",
	"app.env":  "development",

	"database.driver":            "sqlite",
	"database.host":              "localhost",
	"database.port":              5432,
	"database.user":              "postgres",
	"database.password":          "",
	"database.dbname":            "bundles",
	"database.sslmode":           "disable",
	"database.path":              "bundles.db",
	"database.max_open_conns":    25,
	"database.max_idle_conns":    5,
	"database.conn_max_lifetime": 60,
	"database.log_level":         "warn",
	"database.slow_threshold":    200 * time.Millisecond,

	"redis.host":     "localhost",
	"redis.port":     6379,
	"redis.password": "",
	"redis.db":       0,

	"log.level":  "info",
	"log.format": "console",
	"log.output": "stdout",

	"allocation.ledger_timeout":  5 * time.Second,
	"allocation.idempotency_ttl": 24 * time.Hour,
	"allocation.posting_enabled": true,

	"availability.cache_enabled": true,
	"availability.cache_backend": "memory",
	"availability.cache_ttl":     30 * time.Second,

	"telemetry.enabled":            false,
	"telemetry.collector_endpoint": "localhost:4317",
	"telemetry.sampling_ratio":     1.0,
	"telemetry.service_name":       "bundle-engine",
	"telemetry.insecure":           false,
	"telemetry.metrics_interval":   time.Minute,
	"telemetry.logs_enabled":       false,
	"telemetry.db_tracing":         false,
	"telemetry.log_full_sql":       false,

	"profiling.enabled":          false,
	"profiling.server_address":   "",
	"profiling.application_name": "",
	"profiling.contention":       false,
	"profiling.span_profiles":    false,
}

// Load reads ./config.toml or /etc/bundle-engine/config.toml when present.
// BUNDLE_<SECTION>_<KEY> environment variables win over the file, and the
// file wins over defaults.
func Load() (*Config, error) {
	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/bundle-engine")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return decode(v)
}

// LoadFile reads an explicit file. Environment overrides still apply.
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return decode(v)
}

// Default is the configuration Load returns with no file and no env.
func Default() *Config {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	cfg, err := decode(v)
	if err != nil {
		panic(fmt.Sprintf("config: built-in defaults are invalid: %v", err))
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("BUNDLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Profiling.ApplicationName == "" {
		cfg.Profiling.ApplicationName = cfg.App.Name
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var fieldRules = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report errors by config key rather than Go field name
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("mapstructure")
	})
	return v
}()

func (c *Config) validate() error {
	if err := fieldRules.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		msgs := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			key := strings.TrimPrefix(fe.Namespace(), "Config.")
			msgs = append(msgs, fmt.Sprintf("%s fails %s", key, ruleText(fe)))
		}
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}
	return c.productionRules()
}

func ruleText(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

// productionRules are the settings refused when app.env is production
func (c *Config) productionRules() error {
	if c.App.Env != "production" {
		return nil
	}
	if c.Database.Driver == "postgres" {
		if c.Database.Password == "" {
			return errors.New("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return errors.New("database.sslmode cannot be 'disable' in production")
		}
	}
	if c.Telemetry.LogFullSQL {
		return errors.New("telemetry.log_full_sql cannot be enabled in production")
	}
	return nil
}

// DSN is the postgres URL with user and password escaped
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     d.DBName,
		RawQuery: url.Values{"sslmode": {d.SSLMode}}.Encode(),
	}
	return u.String()
}

func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
