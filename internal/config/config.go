package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App          AppConfig        `yaml:"app"`
	Logging      LoggingConfig    `yaml:"logging"`
	Database     DatabaseConfig   `yaml:"database"`
	Backup       BackupConfig     `yaml:"backup"`
	Redis        RedisConfig      `yaml:"redis"`
	API          APIConfig        `yaml:"api"`
	Monitoring   MonitoringConfig `yaml:"monitoring"`
	Sync         SyncConfig       `yaml:"sync"`
	Bridge       BridgeConfig     `yaml:"bridge"`
	Telegram     TelegramConfig   `yaml:"telegram"`
	Analytics    AnalyticsConfig  `yaml:"analytics"`
	Exports      ExportConfig     `yaml:"exports"`
	AccountsPath string           `yaml:"accounts_path"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
	StoragePath   string        `yaml:"storage_path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool {
	return c.Address != ""
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool `yaml:"enabled"`
	Port       int  `yaml:"port"`
	Reflection bool `yaml:"reflection"`
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

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
}

// SyncConfig tunes the scheduler.
type SyncConfig struct {
	MaxConcurrent       int            `yaml:"max_concurrent"`
	AllInterval         time.Duration  `yaml:"all_interval"`
	BootDelay           time.Duration  `yaml:"boot_delay"`
	PendingInterval     time.Duration  `yaml:"pending_interval"`
	OutdatedDelay       time.Duration  `yaml:"outdated_delay"`
	BlacklistedTokenIDs []string       `yaml:"blacklisted_token_ids"`
	PaginationConfig    map[string]int `yaml:"pagination"`
}

type BridgeConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`
	RPS      float64       `yaml:"rps"`
	Burst    int           `yaml:"burst"`
	Families []string      `yaml:"families"`
	Retry    RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
	Debug    bool   `yaml:"debug"`
}

type AnalyticsConfig struct {
	RedisList string `yaml:"redis_list"`
	LogEvents bool   `yaml:"log_events"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

// Load reads configPath after an optional .env file and applies environment
// overrides, defaults and validation.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	if err := config.applyEnv(os.LookupEnv); err != nil {
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
	if c.Sync.MaxConcurrent < 1 {
		return errors.New("sync.max_concurrent must be at least 1")
	}
	if c.Sync.AllInterval <= 0 || c.Sync.PendingInterval <= 0 {
		return errors.New("sync intervals must be positive")
	}
	if c.Sync.BootDelay < 0 || c.Sync.OutdatedDelay < 0 {
		return errors.New("sync delays must not be negative")
	}
	if c.Bridge.BaseURL == "" {
		return errors.New("bridge base url is required")
	}
	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == 0) {
		return errors.New("telegram bot token and chat id are required when alerts are enabled")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "bridgesync"
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 10
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 20
	}

	if c.Sync.MaxConcurrent == 0 {
		c.Sync.MaxConcurrent = 4
	}
	if c.Sync.AllInterval == 0 {
		c.Sync.AllInterval = 2 * time.Minute
	}
	if c.Sync.BootDelay == 0 {
		c.Sync.BootDelay = 2 * time.Second
	}
	if c.Sync.PendingInterval == 0 {
		c.Sync.PendingInterval = 10 * time.Second
	}
	if c.Sync.OutdatedDelay == 0 {
		c.Sync.OutdatedDelay = 2 * time.Minute
	}

	if c.Bridge.Timeout == 0 {
		c.Bridge.Timeout = 30 * time.Second
	}
	if c.Bridge.RPS == 0 {
		c.Bridge.RPS = 5
	}
	if c.Bridge.Burst == 0 {
		c.Bridge.Burst = 10
	}
	if c.Bridge.Retry.MaxRetries == 0 {
		c.Bridge.Retry.MaxRetries = 3
	}
	if c.Bridge.Retry.InitialDelay == 0 {
		c.Bridge.Retry.InitialDelay = 500 * time.Millisecond
	}
	if c.Bridge.Retry.MaxDelay == 0 {
		c.Bridge.Retry.MaxDelay = 10 * time.Second
	}
	if c.Bridge.Retry.BackoffFactor == 0 {
		c.Bridge.Retry.BackoffFactor = 2
	}

	if c.Backup.Interval == 0 {
		c.Backup.Interval = 24 * time.Hour
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "backups"
	}

	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
	if c.Analytics.RedisList == "" {
		c.Analytics.RedisList = "analytics:events"
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}

// applyEnv overrides sync knobs from SYNC_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("SYNC_MAX_CONCURRENT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SYNC_MAX_CONCURRENT: %w", err)
		}
		c.Sync.MaxConcurrent = n
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"SYNC_ALL_INTERVAL", &c.Sync.AllInterval},
		{"SYNC_BOOT_DELAY", &c.Sync.BootDelay},
		{"SYNC_PENDING_INTERVAL", &c.Sync.PendingInterval},
		{"SYNC_OUTDATED_CONSIDERED_DELAY", &c.Sync.OutdatedDelay},
	}
	for _, d := range durations {
		v, ok := lookup(d.name)
		if !ok || v == "" {
			continue
		}
		parsed, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	if v, ok := lookup("SYNC_BLACKLISTED_TOKEN_IDS"); ok && v != "" {
		c.Sync.BlacklistedTokenIDs = splitList(v)
	}
	return nil
}

// parseDuration accepts Go durations and bare millisecond counts.
func parseDuration(v string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
