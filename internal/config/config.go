package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	QueueBackendSQLite   = "sqlite"
	QueueBackendRedis    = "redis"
	QueueBackendFailover = "failover"
	QueueBackendMemory   = "memory"

	NotifyChannelLog      = "log"
	NotifyChannelTelegram = "telegram"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Remote     RemoteConfig     `yaml:"remote"`
	Sync       SyncConfig       `yaml:"sync"`
	Notify     NotifyConfig     `yaml:"notify"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

// RemoteConfig describes the Supabase project the engine writes to.
type RemoteConfig struct {
	URL       string          `yaml:"url"`
	AnonKey   string          `yaml:"anon_key"`
	Timeout   time.Duration   `yaml:"timeout"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Session   SessionConfig   `yaml:"session"`
}

// SessionConfig is an optional static credential, used when the app has not stored one.
type SessionConfig struct {
	UserID      string `yaml:"user_id"`
	AccessToken string `yaml:"access_token"`
}

type SyncConfig struct {
	QueueBackend       string        `yaml:"queue_backend"`
	RedisQueueKey      string        `yaml:"redis_queue_key"`
	MaxRetryCount      int           `yaml:"max_retry_count"`
	SessionLimit       int           `yaml:"session_limit"`
	PlanLimit          int           `yaml:"plan_limit"`
	FeedbackLimit      int           `yaml:"feedback_limit"`
	BackoffBase        time.Duration `yaml:"backoff_base"`
	BackoffCap         time.Duration `yaml:"backoff_cap"`
	NotifyThreshold    int           `yaml:"notify_threshold"`
	DeadLetterReportN  int           `yaml:"dead_letter_report_limit"`
	DisableStartupPass bool          `yaml:"disable_startup_pass"`
	PassTimeout        time.Duration `yaml:"pass_timeout"`
}

type NotifyConfig struct {
	Channels []string       `yaml:"channels"`
	Telegram TelegramConfig `yaml:"telegram"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
	Debug    bool   `yaml:"debug"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool            `yaml:"enabled"`
	HTTP      APIHTTPConfig   `yaml:"http"`
	Auth      APIAuthConfig   `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// Загружаем .env файл если существует
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Remote.URL == "" {
		return errors.New("remote url is required")
	}
	if !strings.HasPrefix(c.Remote.URL, "http://") && !strings.HasPrefix(c.Remote.URL, "https://") {
		return fmt.Errorf("remote url %q must be http(s)", c.Remote.URL)
	}

	switch c.Sync.QueueBackend {
	case QueueBackendSQLite, QueueBackendMemory:
	case QueueBackendRedis, QueueBackendFailover:
		if c.Redis.Address == "" {
			return fmt.Errorf("sync.queue_backend=%s requires redis.address", c.Sync.QueueBackend)
		}
	default:
		return fmt.Errorf("unknown sync.queue_backend %q", c.Sync.QueueBackend)
	}

	if c.Sync.BackoffCap < c.Sync.BackoffBase {
		return errors.New("sync.backoff_cap must not be below sync.backoff_base")
	}
	if c.Sync.MaxRetryCount <= 0 || c.Sync.NotifyThreshold <= 0 {
		return errors.New("sync.max_retry_count and sync.notify_threshold must be positive")
	}

	for _, ch := range c.Notify.Channels {
		switch ch {
		case NotifyChannelLog:
		case NotifyChannelTelegram:
			if c.Notify.Telegram.BotToken == "" || c.Notify.Telegram.ChatID == 0 {
				return errors.New("telegram notifications require bot_token and chat_id")
			}
		default:
			return fmt.Errorf("unknown notify channel %q", ch)
		}
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "transfit-syncd"
	}
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = 15 * time.Second
	}

	if c.Sync.QueueBackend == "" {
		c.Sync.QueueBackend = QueueBackendSQLite
	}
	if c.Sync.MaxRetryCount == 0 {
		c.Sync.MaxRetryCount = 5
	}
	if c.Sync.SessionLimit == 0 {
		c.Sync.SessionLimit = 50
	}
	if c.Sync.PlanLimit == 0 {
		c.Sync.PlanLimit = 10
	}
	if c.Sync.FeedbackLimit == 0 {
		c.Sync.FeedbackLimit = 50
	}
	if c.Sync.BackoffBase == 0 {
		c.Sync.BackoffBase = time.Second
	}
	if c.Sync.BackoffCap == 0 {
		c.Sync.BackoffCap = 32 * time.Second
	}
	if c.Sync.NotifyThreshold == 0 {
		c.Sync.NotifyThreshold = 3
	}
	if c.Sync.DeadLetterReportN == 0 {
		c.Sync.DeadLetterReportN = 500
	}
	if c.Sync.PassTimeout == 0 {
		c.Sync.PassTimeout = 2 * time.Minute
	}

	if len(c.Notify.Channels) == 0 {
		c.Notify.Channels = []string{NotifyChannelLog}
	}

	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	// auth enabled by default when API is enabled
	if c.API.Enabled && len(c.API.Auth.APIKeys) > 0 {
		c.API.Auth.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}

	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "data/backups"
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "data/exports"
	}
}
