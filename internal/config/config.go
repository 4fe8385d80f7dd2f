package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the automation engine.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Classifier ClassifierConfig `yaml:"classifier"`
	SES        SESConfig        `yaml:"ses"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Audit      AuditConfig      `yaml:"audit"`
}

// ServerConfig holds HTTP server configuration. APIKey protects the admin
// and operator endpoints; ingestion endpoints use per-source secrets.
type ServerConfig struct {
	Port   int    `yaml:"port"`
	Host   string `yaml:"host"`
	APIKey string `yaml:"api_key"`
}

// GetHost returns the listen host, with container detection.
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_minutes"`
}

// RedisConfig holds the optional Redis connection used for scheduler locks.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

// IngestConfig holds ingestion endpoint settings. Each source authenticates
// with a shared secret sent as a bearer token.
type IngestConfig struct {
	WebhookSecret string `yaml:"webhook_secret"`
	EmailSecret   string `yaml:"email_secret"`
	ChatSecret    string `yaml:"chat_secret"`
	// SESNotificationSecret guards the bounce/complaint notification
	// endpoint the SES feedback subscription posts to.
	SESNotificationSecret string `yaml:"ses_notification_secret"`
	AutoRoute             bool   `yaml:"auto_route"`
}

// ClassifierConfig holds the Bedrock classification adapter settings.
type ClassifierConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Region         string  `yaml:"region"`
	ModelID        string  `yaml:"model_id"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	MinConfidence  float64 `yaml:"min_confidence"`
}

// Timeout returns the configured timeout as a duration.
func (c ClassifierConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SESConfig holds AWS SES send settings.
type SESConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Region         string `yaml:"region"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	FromName       string `yaml:"from_name"`
	FromEmail      string `yaml:"from_email"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration.
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SchedulerConfig holds the sequence scheduler settings.
type SchedulerConfig struct {
	Enabled             bool `yaml:"enabled"`
	TickIntervalSeconds int  `yaml:"tick_interval_seconds"`
	BatchSize           int  `yaml:"batch_size"`
	MaxSendAttempts     int  `yaml:"max_send_attempts"`
}

// Interval returns the tick interval as a duration.
func (c SchedulerConfig) Interval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

// AuditConfig holds audit query paging limits.
type AuditConfig struct {
	DefaultPageSize int `yaml:"default_page_size"`
	MaxPageSize     int `yaml:"max_page_size"`
}

// Load reads and parses the configuration file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 5
	}
	if c.Classifier.Region == "" {
		c.Classifier.Region = "us-east-1"
	}
	if c.Classifier.ModelID == "" {
		c.Classifier.ModelID = "anthropic.claude-3-haiku-20240307-v1:0"
	}
	if c.Classifier.TimeoutSeconds == 0 {
		c.Classifier.TimeoutSeconds = 15
	}
	if c.Classifier.MinConfidence == 0 {
		c.Classifier.MinConfidence = 0.5
	}
	if c.SES.Region == "" {
		c.SES.Region = "us-east-1"
	}
	if c.SES.TimeoutSeconds == 0 {
		c.SES.TimeoutSeconds = 30
	}
	if c.Scheduler.TickIntervalSeconds == 0 {
		c.Scheduler.TickIntervalSeconds = 30
	}
	if c.Scheduler.BatchSize == 0 {
		c.Scheduler.BatchSize = 50
	}
	if c.Scheduler.MaxSendAttempts == 0 {
		c.Scheduler.MaxSendAttempts = 10
	}
	if c.Audit.DefaultPageSize == 0 {
		c.Audit.DefaultPageSize = 100
	}
	if c.Audit.MaxPageSize == 0 {
		c.Audit.MaxPageSize = 500
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file (if present) is loaded first, so secrets can live in .env
// locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("ADMIN_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("INGEST_WEBHOOK_SECRET"); v != "" {
		cfg.Ingest.WebhookSecret = v
	}
	if v := os.Getenv("INGEST_EMAIL_SECRET"); v != "" {
		cfg.Ingest.EmailSecret = v
	}
	if v := os.Getenv("INGEST_CHAT_SECRET"); v != "" {
		cfg.Ingest.ChatSecret = v
	}
	if v := os.Getenv("INGEST_SES_NOTIFICATION_SECRET"); v != "" {
		cfg.Ingest.SESNotificationSecret = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("BEDROCK_MODEL_ID"); v != "" {
		cfg.Classifier.ModelID = v
	}
	if v := os.Getenv("BEDROCK_REGION"); v != "" {
		cfg.Classifier.Region = v
	}

	return cfg, nil
}
