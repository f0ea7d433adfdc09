package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Config struct {
	Server    ServerConfig
	Worker    WorkerConfig
	RateLimit RateLimitConfig
	Dispatch  DispatchConfig
	Feeds     FeedsConfig
	SMTP      SMTPConfig
	Gateways  GatewaysConfig
	DB        DatabaseConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host string
	Port int
	// RequestsPerSecond bounds API traffic, not outbound sends.
	RequestsPerSecond int
}

type WorkerConfig struct {
	Count      int
	BufferSize int
}

type RateLimitConfig struct {
	Ceiling int
	Window  time.Duration
}

type DispatchConfig struct {
	SendTimeout   time.Duration
	RetrySchedule string
	RetryMinAge   time.Duration
	RetryBatch    int
	PruneSchedule string
}

type FeedsConfig struct {
	Enabled      bool
	URLs         []string
	PollInterval time.Duration
	// Targets receive a system-generated fan-out of every new Actual alert.
	Targets []string
	Channel string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	NoVerify bool
}

type GatewaysConfig struct {
	SMSURL     string
	TropoURL   string
	TwitterURL string
	HTTPURL    string
}

type DatabaseConfig struct {
	Path          string
	BlobPath      string
	DirectoryPath string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:              getEnv("SERVER_HOST", "localhost"),
			Port:              getEnvInt("SERVER_PORT", 8080),
			RequestsPerSecond: getEnvInt("API_RPS", 20),
		},
		Worker: WorkerConfig{
			Count:      getEnvInt("WORKER_COUNT", 4),
			BufferSize: getEnvInt("WORKER_BUFFER_SIZE", 100),
		},
		RateLimit: RateLimitConfig{
			Ceiling: getEnvInt("RATE_LIMIT_CEILING", 100),
			Window:  getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Dispatch: DispatchConfig{
			SendTimeout:   getEnvDuration("SEND_TIMEOUT", 30*time.Second),
			RetrySchedule: getEnv("RETRY_SCHEDULE", "@every 1m"),
			RetryMinAge:   getEnvDuration("RETRY_MIN_AGE", time.Minute),
			RetryBatch:    getEnvInt("RETRY_BATCH", 200),
			PruneSchedule: getEnv("PRUNE_SCHEDULE", "@every 10m"),
		},
		Feeds: FeedsConfig{
			Enabled:      getEnvBool("FEED_ENABLED", false),
			URLs:         getEnvList("FEED_URLS", nil),
			PollInterval: getEnvDuration("FEED_POLL_INTERVAL", 5*time.Minute),
			Targets:      getEnvList("FEED_TARGETS", nil),
			Channel:      getEnv("FEED_CHANNEL", ""),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvInt("SMTP_PORT", 25),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", ""),
			NoVerify: getEnvBool("SMTP_NO_VERIFY", false),
		},
		Gateways: GatewaysConfig{
			SMSURL:     getEnv("SMS_GATEWAY_URL", ""),
			TropoURL:   getEnv("TROPO_URL", ""),
			TwitterURL: getEnv("TWITTER_URL", ""),
			HTTPURL:    getEnv("HTTP_GATEWAY_URL", ""),
		},
		DB: DatabaseConfig{
			Path:          getEnv("DB_PATH", "./data/cap-alerts.db"),
			BlobPath:      getEnv("BLOB_PATH", "./data/blobs.db"),
			DirectoryPath: getEnv("DIRECTORY_PATH", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.RequestsPerSecond < 1 {
		return fmt.Errorf("API_RPS must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Worker.Count < 1 {
		return fmt.Errorf("worker count must be at least 1")
	}
	if c.RateLimit.Ceiling < 1 {
		return fmt.Errorf("rate limit ceiling must be at least 1")
	}
	if c.RateLimit.Window < time.Second {
		return fmt.Errorf("rate limit window must be at least 1 second")
	}
	if c.Dispatch.SendTimeout <= 0 {
		return fmt.Errorf("send timeout must be positive")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, schedule := range map[string]string{"RETRY_SCHEDULE": c.Dispatch.RetrySchedule, "PRUNE_SCHEDULE": c.Dispatch.PruneSchedule} {
		if _, err := parser.Parse(schedule); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, schedule, err)
		}
	}

	if c.Feeds.Enabled {
		if len(c.Feeds.URLs) == 0 {
			return fmt.Errorf("FEED_URLS is required when feeds are enabled")
		}
		if c.Feeds.PollInterval < time.Minute {
			return fmt.Errorf("feed poll interval must be at least 1 minute")
		}
	}

	if c.SMTP.Host != "" && c.SMTP.From == "" {
		return fmt.Errorf("SMTP_FROM is required when SMTP_HOST is set")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma-separated value, dropping empty items.
func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
