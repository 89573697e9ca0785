package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"analytics-enginev1/internal/engine"
	"analytics-enginev1/internal/markethours"
	"analytics-enginev1/internal/model"
	"analytics-enginev1/internal/provider/twelvedata"
	"analytics-enginev1/internal/schedule"
)

// Candle sources.
const (
	SourceTwelveData = "twelvedata"
	SourceSQLite     = "sqlite"
)

// Config holds all application configuration. Values come from the YAML
// file, then environment variables override them.
type Config struct {
	LogLevel    string `yaml:"log_level"`
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	// Source selects the primary candle supplier: "twelvedata" or "sqlite".
	Source string `yaml:"source"`

	Engine     engine.Config     `yaml:"engine"`
	Session    SessionConfig     `yaml:"session"`
	TwelveData twelvedata.Config `yaml:"twelvedata"`
	Redis      RedisConfig       `yaml:"redis"`
	SQLite     SQLiteConfig      `yaml:"sqlite"`
	API        APIConfig         `yaml:"api"`
	Schedule   ScheduleConfig    `yaml:"schedule"`
	Notify     NotifyConfig      `yaml:"notify"`

	// Universes are static instrument lists consulted before Redis and SQLite.
	Universes map[string][]string `yaml:"universes"`

	HealthInterval time.Duration `yaml:"health_interval"`
}

// SessionConfig sets the trading-day boundary used by VWAP.
type SessionConfig struct {
	Zone  string `yaml:"zone"`
	Reset string `yaml:"reset"` // HH:MM
}

// RedisConfig configures the candle cache, universe sets and scan publisher.
// An empty Addr disables Redis entirely.
type RedisConfig struct {
	Addr              string        `yaml:"addr"`
	Password          string        `yaml:"password"`
	DB                int           `yaml:"db"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	CacheNamespace    string        `yaml:"cache_namespace"`
	UniverseNamespace string        `yaml:"universe_namespace"`
	Channel           string        `yaml:"channel"`
	LatestTTL         time.Duration `yaml:"latest_ttl"`
	BreakerFailures   int           `yaml:"breaker_failures"`
	BreakerReset      time.Duration `yaml:"breaker_reset"`
}

// SQLiteConfig configures the local candle store. An empty Path disables it.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// APIConfig configures the HTTP surface.
type APIConfig struct {
	DefaultTimeframes string        `yaml:"default_timeframes"`
	WatchMin          time.Duration `yaml:"watch_min"`
	WatchDefault      time.Duration `yaml:"watch_default"`
	WatchMax          time.Duration `yaml:"watch_max"`
}

// ScheduleConfig lists cron-driven scans.
type ScheduleConfig struct {
	Location   string         `yaml:"location"`
	RunOnStart bool           `yaml:"run_on_start"`
	Jobs       []schedule.Job `yaml:"jobs"`
}

// NotifyConfig configures alert destinations. Alerts are always logged.
type NotifyConfig struct {
	WebhookURL      string `yaml:"webhook_url"`
	TelegramToken   string `yaml:"telegram_token"`
	TelegramChatID  string `yaml:"telegram_chat_id"`
	TelegramBaseURL string `yaml:"telegram_base_url"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel:    "info",
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",
		Source:      SourceTwelveData,
		Engine:      engine.DefaultConfig(),
		TwelveData:  twelvedata.DefaultConfig(),
		Redis: RedisConfig{
			CacheTTL:        time.Minute,
			LatestTTL:       24 * time.Hour,
			BreakerFailures: 5,
			BreakerReset:    10 * time.Second,
		},
		SQLite: SQLiteConfig{Path: "data/candles.db"},
		API: APIConfig{
			DefaultTimeframes: "1h,4h,1d",
			WatchMin:          5 * time.Second,
			WatchDefault:      time.Minute,
			WatchMax:          time.Hour,
		},
		Schedule:       ScheduleConfig{Location: "UTC"},
		HealthInterval: 15 * time.Second,
	}
}

// Load reads path (optional), applies environment overrides and validates
// the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()

	session, err := markethours.NewSession(cfg.Session.Zone, cfg.Session.Reset)
	if err != nil {
		return nil, fmt.Errorf("config: session: %w", err)
	}
	cfg.Engine.Params.Session = session

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.HTTPAddr = getEnv("ANALYZER_HTTP_ADDR", c.HTTPAddr)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.Source = getEnv("ANALYZER_SOURCE", c.Source)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.SQLite.Path = getEnv("SQLITE_PATH", c.SQLite.Path)

	c.TwelveData.APIKey = getEnv("TWELVEDATA_API_KEY", c.TwelveData.APIKey)
	c.TwelveData.RequestsPerMinute = getEnvInt("TWELVEDATA_RPM", c.TwelveData.RequestsPerMinute)

	c.Engine.Concurrency = getEnvInt("ANALYZER_CONCURRENCY", c.Engine.Concurrency)
	c.Session.Zone = getEnv("SESSION_TZ", c.Session.Zone)

	c.Notify.WebhookURL = getEnv("ALERT_WEBHOOK_URL", c.Notify.WebhookURL)
	c.Notify.TelegramToken = getEnv("TELEGRAM_BOT_TOKEN", c.Notify.TelegramToken)
	c.Notify.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.Notify.TelegramChatID)
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Engine.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Source {
	case SourceTwelveData:
		if c.TwelveData.RequestsPerMinute < 0 {
			errs = append(errs, fmt.Errorf("twelvedata requests_per_minute %d is negative", c.TwelveData.RequestsPerMinute))
		}
	case SourceSQLite:
		if c.SQLite.Path == "" {
			errs = append(errs, errors.New("sqlite source needs SQLITE_PATH"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown source %q", c.Source))
	}
	if _, err := c.DefaultTimeframes(); err != nil {
		errs = append(errs, err)
	}
	if a := c.API; a.WatchMin <= 0 || a.WatchMin > a.WatchDefault || a.WatchDefault > a.WatchMax {
		errs = append(errs, fmt.Errorf("watch intervals must satisfy 0 < min <= default <= max, got %s/%s/%s", a.WatchMin, a.WatchDefault, a.WatchMax))
	}
	if _, err := c.ScheduleLocation(); err != nil {
		errs = append(errs, err)
	}
	seen := make(map[string]bool, len(c.Schedule.Jobs))
	for _, j := range c.Schedule.Jobs {
		if err := j.Validate(); err != nil {
			errs = append(errs, err)
		}
		if seen[j.Name] {
			errs = append(errs, fmt.Errorf("duplicate job %s", j.Name))
		}
		seen[j.Name] = true
	}
	for id, list := range c.Universes {
		if len(list) == 0 {
			errs = append(errs, fmt.Errorf("universe %s is empty", id))
		}
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, errors.New("telegram needs both token and chat id"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// DefaultTimeframes parses API.DefaultTimeframes.
func (c *Config) DefaultTimeframes() ([]model.Timeframe, error) {
	return model.ParseTimeframes(c.API.DefaultTimeframes)
}

// ScheduleLocation resolves the cron time zone.
func (c *Config) ScheduleLocation() (*time.Location, error) {
	if c.Schedule.Location == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Schedule.Location)
	if err != nil {
		return nil, fmt.Errorf("schedule location %q: %w", c.Schedule.Location, err)
	}
	return loc, nil
}

func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] ignoring invalid %s=%q", key, v)
		return fallback
	}
	return n
}
