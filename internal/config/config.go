// Package config resolves the settings shared by the api, worker and cli binaries.
//
// Values come from, in increasing priority: built-in defaults, an optional YAML
// file, a .env file and SPLITLEDGER_* environment variables. Nested keys map to
// environment variables by replacing dots with underscores, so http.port is read
// from SPLITLEDGER_HTTP_PORT.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/dvloznov/splitledger/internal/logger"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "SPLITLEDGER"

const (
	DriverMemory   = "memory"
	DriverGCS      = "gcs"
	DriverPubSub   = "pubsub"
	DriverPostgres = "postgres"
)

// Config is the resolved application configuration.
type Config struct {
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	HTTP     HTTPConfig     `mapstructure:"http" yaml:"http"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Queue    QueueConfig    `mapstructure:"queue" yaml:"queue"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	BigQuery BigQueryConfig `mapstructure:"bigquery" yaml:"bigquery"`
	Email    EmailConfig    `mapstructure:"email" yaml:"email"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Port         int           `mapstructure:"port" yaml:"port"`
	BaseURL      string        `mapstructure:"base_url" yaml:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	// RateLimit is the sustained requests per second allowed per client IP. Zero disables limiting.
	RateLimit      float64  `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst      int      `mapstructure:"rate_burst" yaml:"rate_burst"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// StorageConfig selects the blob store holding uploaded CSV files.
type StorageConfig struct {
	Driver       string        `mapstructure:"driver" yaml:"driver"`
	Bucket       string        `mapstructure:"bucket" yaml:"bucket"`
	UploadPrefix string        `mapstructure:"upload_prefix" yaml:"upload_prefix"`
	PresignTTL   time.Duration `mapstructure:"presign_ttl" yaml:"presign_ttl"`
}

// QueueConfig selects the event transport.
type QueueConfig struct {
	Driver         string        `mapstructure:"driver" yaml:"driver"`
	ProjectID      string        `mapstructure:"project_id" yaml:"project_id"`
	TopicID        string        `mapstructure:"topic_id" yaml:"topic_id"`
	SubscriptionID string        `mapstructure:"subscription_id" yaml:"subscription_id"`
	Concurrency    int           `mapstructure:"concurrency" yaml:"concurrency"`
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	DedupeTTL      time.Duration `mapstructure:"dedupe_ttl" yaml:"dedupe_ttl"`
}

// DatabaseConfig selects the job and ledger stores.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver" yaml:"driver"`
	DSN      string `mapstructure:"dsn" yaml:"dsn"`
	MaxConns int32  `mapstructure:"max_conns" yaml:"max_conns"`
}

// BigQueryConfig enables the job run history table.
type BigQueryConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	ProjectID string `mapstructure:"project_id" yaml:"project_id"`
	Dataset   string `mapstructure:"dataset" yaml:"dataset"`
	Table     string `mapstructure:"table" yaml:"table"`
}

// EmailConfig configures outbound notifications.
type EmailConfig struct {
	Provider   string        `mapstructure:"provider" yaml:"provider"`
	Domain     string        `mapstructure:"domain" yaml:"domain"`
	APIKey     string        `mapstructure:"api_key" yaml:"api_key"`
	Sender     string        `mapstructure:"sender" yaml:"sender"`
	SenderName string        `mapstructure:"sender_name" yaml:"sender_name"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// PipelineConfig tunes background job maintenance.
type PipelineConfig struct {
	StaleAfter    time.Duration `mapstructure:"stale_after" yaml:"stale_after"`
	SweepSchedule string        `mapstructure:"sweep_schedule" yaml:"sweep_schedule"`
}

// SetDefaults registers every key with its default value.
// Keys must be registered for environment variables to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")

	v.SetDefault("http.port", 8080)
	v.SetDefault("http.base_url", "http://localhost:8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.rate_limit", 10.0)
	v.SetDefault("http.rate_burst", 20)
	v.SetDefault("http.allowed_origins", []string{"*"})

	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.bucket", "splitledger-uploads")
	v.SetDefault("storage.upload_prefix", "csv-uploads")
	v.SetDefault("storage.presign_ttl", time.Hour)

	v.SetDefault("queue.driver", DriverMemory)
	v.SetDefault("queue.project_id", "")
	v.SetDefault("queue.topic_id", "splitledger-events")
	v.SetDefault("queue.subscription_id", "splitledger-worker")
	v.SetDefault("queue.concurrency", 5)
	v.SetDefault("queue.max_attempts", 5)
	v.SetDefault("queue.dedupe_ttl", 10*time.Minute)

	v.SetDefault("database.driver", DriverMemory)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("bigquery.enabled", false)
	v.SetDefault("bigquery.project_id", "")
	v.SetDefault("bigquery.dataset", "splitledger")
	v.SetDefault("bigquery.table", "csv_job_runs")

	v.SetDefault("email.provider", "log")
	v.SetDefault("email.domain", "")
	v.SetDefault("email.api_key", "")
	v.SetDefault("email.sender", "")
	v.SetDefault("email.sender_name", "SplitLedger")
	v.SetDefault("email.timeout", 20*time.Second)

	v.SetDefault("pipeline.stale_after", 30*time.Minute)
	v.SetDefault("pipeline.sweep_schedule", "@every 5m")
}

// LoadDotEnv loads environment variables from the given files, or .env when none
// are named. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// Load resolves the configuration from v. A nil v uses a fresh viper instance.
// When configFile is set it must exist.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Queue.Driver = strings.ToLower(strings.TrimSpace(c.Queue.Driver))
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	c.Email.Provider = strings.ToLower(strings.TrimSpace(c.Email.Provider))
	c.HTTP.BaseURL = strings.TrimRight(c.HTTP.BaseURL, "/")
	if c.BigQuery.ProjectID == "" {
		c.BigQuery.ProjectID = c.Queue.ProjectID
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config.log_level: %w", err)
	}
	switch logger.Format(c.LogFormat) {
	case logger.FormatConsole, logger.FormatJSON:
	default:
		return fmt.Errorf("config.log_format must be console or json, got %q", c.LogFormat)
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("config.http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if _, err := url.ParseRequestURI(c.HTTP.BaseURL); err != nil {
		return fmt.Errorf("config.http.base_url: %w", err)
	}
	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("config.http.rate_limit must not be negative")
	}
	if c.HTTP.RateLimit > 0 && c.HTTP.RateBurst <= 0 {
		return fmt.Errorf("config.http.rate_burst must be positive when rate limiting is enabled")
	}

	switch c.Storage.Driver {
	case DriverMemory, DriverGCS:
	default:
		return fmt.Errorf("config.storage.driver must be memory or gcs, got %q", c.Storage.Driver)
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("config.storage.bucket is required")
	}
	if c.Storage.PresignTTL <= 0 {
		return fmt.Errorf("config.storage.presign_ttl must be positive")
	}

	switch c.Queue.Driver {
	case DriverMemory:
	case DriverPubSub:
		if c.Queue.ProjectID == "" || c.Queue.TopicID == "" {
			return fmt.Errorf("config.queue.project_id and config.queue.topic_id are required for pubsub")
		}
	default:
		return fmt.Errorf("config.queue.driver must be memory or pubsub, got %q", c.Queue.Driver)
	}
	if c.Queue.Concurrency <= 0 {
		return fmt.Errorf("config.queue.concurrency must be positive")
	}

	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("config.database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("config.database.driver must be memory or postgres, got %q", c.Database.Driver)
	}

	if c.BigQuery.Enabled && (c.BigQuery.ProjectID == "" || c.BigQuery.Dataset == "") {
		return fmt.Errorf("config.bigquery.project_id and config.bigquery.dataset are required when bigquery is enabled")
	}

	if c.Pipeline.StaleAfter <= 0 {
		return fmt.Errorf("config.pipeline.stale_after must be positive")
	}
	if _, err := cron.ParseStandard(c.Pipeline.SweepSchedule); err != nil {
		return fmt.Errorf("config.pipeline.sweep_schedule: %w", err)
	}
	return nil
}

// YAML renders the configuration with secrets masked.
func (c *Config) YAML() (string, error) {
	masked := *c
	masked.Email.APIKey = maskSecret(c.Email.APIKey)
	masked.Database.DSN = maskDSN(c.Database.DSN)

	out, err := yaml.Marshal(&masked)
	if err != nil {
		return "", fmt.Errorf("encoding config: %w", err)
	}
	return string(out), nil
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

// maskDSN hides the password of a URL or keyword/value connection string.
func maskDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" {
		return u.Redacted()
	}
	fields := strings.Fields(dsn)
	for i, f := range fields {
		if strings.HasPrefix(strings.ToLower(f), "password=") {
			fields[i] = "password=****"
		}
	}
	return strings.Join(fields, " ")
}
