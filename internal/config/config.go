package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" yaml:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases" yaml:"databases"`
	Redis       RedisConfig               `json:"redis" yaml:"redis"`
	Webhook     WebhookConfig             `json:"webhook" yaml:"webhook"`
	Automation  AutomationConfig          `json:"automation" yaml:"automation"`
	Logging     LoggingConfig             `json:"logging" yaml:"logging"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address" yaml:"server_address"`
	Database          string `json:"database" yaml:"database"`
	MinWorkers        int    `json:"min_workers" yaml:"min_workers"`
	MaxWorkers        int    `json:"max_workers" yaml:"max_workers"`
	QueueSize         int    `json:"queue_size" yaml:"queue_size"`
	WorkerIdleTimeout int    `json:"worker_idle_timeout" yaml:"worker_idle_timeout"` // minutes
	TokenTTL          int    `json:"token_ttl" yaml:"token_ttl"`                     // hours
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"db_name" yaml:"db_name"`
	Params   string `json:"params" yaml:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// WebhookConfig drives outbound notifications to the automation system.
type WebhookConfig struct {
	URL            string  `json:"url" yaml:"url"`
	Enabled        bool    `json:"enabled" yaml:"enabled"`
	TimeoutSeconds float64 `json:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries     *int    `json:"max_retries" yaml:"max_retries"`
	BackoffFactor  float64 `json:"backoff_factor" yaml:"backoff_factor"` // seconds
	RetryStatuses  []int   `json:"retry_statuses" yaml:"retry_statuses"`
	Source         string  `json:"source" yaml:"source"`
}

type AutomationConfig struct {
	Secret string `json:"secret" yaml:"secret"`
}

type LoggingConfig struct {
	File  string `json:"file" yaml:"file"`
	Level string `json:"level" yaml:"level"`
}

const (
	DefaultWebhookTimeout    = 10 * time.Second
	DefaultWebhookRetries    = 2
	DefaultWebhookBackoff    = 500 * time.Millisecond
	DefaultWebhookSource     = "localfarmconnect"
	DefaultDatabase          = "sqlite3"
	defaultServerAddress     = ":8090"
	defaultTokenTTLHours     = 24
	defaultSQLiteDSN         = "farmconnect.db"
	defaultMySQLParams       = "parseTime=true&loc=UTC"
	defaultWorkerIdleMinutes = 1
)

// DefaultRetryStatuses are the webhook response codes worth another attempt.
var DefaultRetryStatuses = []int{500, 502, 503, 504}

// Load reads configuration from the provided path (defaults to config.json).
// A .env file next to the working directory is honoured, and environment
// variables override secrets and webhook settings.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("FARMCONNECT_CONFIG")
	}
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	cfg, err := Parse(data, filepath.Ext(absPath))
	if err != nil {
		return nil, err
	}

	for name, db := range cfg.Databases {
		if isSQLite(name) && db.DSN != "" && db.DSN != ":memory:" && !strings.HasPrefix(db.DSN, "file:") && !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases[name] = db
		}
	}
	return cfg, nil
}

// Parse decodes a JSON or YAML document, applies env overrides and defaults.
func Parse(data []byte, ext string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("FARMCONNECT_DB"); v != "" {
		c.BasicConfig.Database = v
	}
	if v := os.Getenv("FARMCONNECT_WEBHOOK_URL"); v != "" {
		c.Webhook.URL = v
	}
	if v := os.Getenv("FARMCONNECT_WEBHOOK_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Webhook.Enabled = enabled
		}
	}
	if v := os.Getenv("FARMCONNECT_AUTO_SECRET"); v != "" {
		c.Automation.Secret = v
	}
	if v := os.Getenv("FARMCONNECT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = defaultServerAddress
	}
	if c.BasicConfig.Database == "" {
		c.BasicConfig.Database = DefaultDatabase
	}
	if c.BasicConfig.MinWorkers <= 0 {
		c.BasicConfig.MinWorkers = 1
	}
	if c.BasicConfig.MaxWorkers < c.BasicConfig.MinWorkers {
		c.BasicConfig.MaxWorkers = c.BasicConfig.MinWorkers * 4
	}
	if c.BasicConfig.QueueSize <= 0 {
		c.BasicConfig.QueueSize = 256
	}
	if c.BasicConfig.WorkerIdleTimeout <= 0 {
		c.BasicConfig.WorkerIdleTimeout = defaultWorkerIdleMinutes
	}
	if c.BasicConfig.TokenTTL <= 0 {
		c.BasicConfig.TokenTTL = defaultTokenTTLHours
	}
	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	if db, ok := c.Databases[c.BasicConfig.Database]; !ok && isSQLite(c.BasicConfig.Database) {
		c.Databases[c.BasicConfig.Database] = DatabaseConfig{DSN: defaultSQLiteDSN}
	} else if ok && strings.EqualFold(c.BasicConfig.Database, "mysql") && db.Params == "" {
		db.Params = defaultMySQLParams
		c.Databases[c.BasicConfig.Database] = db
	}
	if c.Webhook.MaxRetries == nil {
		retries := DefaultWebhookRetries
		c.Webhook.MaxRetries = &retries
	}
	if len(c.Webhook.RetryStatuses) == 0 {
		c.Webhook.RetryStatuses = append([]int(nil), DefaultRetryStatuses...)
	}
	if c.Webhook.Source == "" {
		c.Webhook.Source = DefaultWebhookSource
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Webhook.Enabled && strings.TrimSpace(c.Webhook.URL) == "" {
		return fmt.Errorf("webhook.url must be configured when webhook is enabled")
	}
	if c.Webhook.TimeoutSeconds < 0 || c.Webhook.BackoffFactor < 0 {
		return fmt.Errorf("webhook timeout and backoff must not be negative")
	}
	if c.Webhook.MaxRetries != nil && *c.Webhook.MaxRetries < 0 {
		return fmt.Errorf("webhook.max_retries must not be negative")
	}
	if _, ok := c.Databases[c.BasicConfig.Database]; !ok {
		return fmt.Errorf("database config for %s not found", c.BasicConfig.Database)
	}
	return nil
}

// Timeout is the per-attempt webhook deadline.
func (w WebhookConfig) Timeout() time.Duration {
	if w.TimeoutSeconds <= 0 {
		return DefaultWebhookTimeout
	}
	return time.Duration(w.TimeoutSeconds * float64(time.Second))
}

// Backoff is the base factor of the exponential retry schedule.
func (w WebhookConfig) Backoff() time.Duration {
	if w.BackoffFactor <= 0 {
		return DefaultWebhookBackoff
	}
	return time.Duration(w.BackoffFactor * float64(time.Second))
}

// Retries reports the configured retry budget.
func (w WebhookConfig) Retries() int {
	if w.MaxRetries == nil {
		return DefaultWebhookRetries
	}
	return *w.MaxRetries
}

func isSQLite(name string) bool {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return true
	}
	return false
}
