// Package config loads shopwatch settings from an optional JSON/YAML file and
// secrets from the environment, and republishes validated file changes.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"shopwatch/internal/scheduler"
	logx "shopwatch/pkg/logx"
)

// Config is the file-backed configuration. Secrets never live here.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Catalog  CatalogConfig  `json:"catalog"`
	Poll     PollConfig     `json:"poll"`
	Dispatch DispatchConfig `json:"dispatch"`
	Storage  StorageConfig  `json:"storage"`
	Server   ServerConfig   `json:"server"`
}

type TelegramConfig struct {
	PollTimeout Duration `json:"poll_timeout"`
	// LogChatID receives forwarded log lines when logging.chat is enabled.
	LogChatID int64 `json:"log_chat_id,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type CatalogConfig struct {
	URL     string   `json:"url"`
	Timeout Duration `json:"timeout"`
}

// PollConfig controls the catalog timer. Interval is a Go duration ("5m"),
// HH:MM interval, or cron spec ("*/5 * * * *", "@every 5m").
type PollConfig struct {
	Interval   string `json:"interval"`
	RunOnStart bool   `json:"run_on_start"`
	Timezone   string `json:"timezone,omitempty"`
}

type DispatchConfig struct {
	RatePerSec  float64  `json:"rate_per_sec"`
	SendTimeout Duration `json:"send_timeout"`
}

// StorageConfig selects the subscriber store.
//
//	"storage": { "driver": "file", "path": "./subscribers.json" }
type StorageConfig struct {
	Driver      string   `json:"driver"`
	Path        string   `json:"path,omitempty"`
	BusyTimeout Duration `json:"busy_timeout,omitempty"`
	RedisAddr   string   `json:"redis_addr,omitempty"`
	RedisDB     int      `json:"redis_db,omitempty"`
	RedisKey    string   `json:"redis_key,omitempty"`
}

// ServerConfig controls the metrics/health HTTP server. Binding a non-loopback
// address needs SHOPWATCH_SERVER_TOKEN or allow_insecure.
type ServerConfig struct {
	Enabled       bool     `json:"enabled"`
	Addr          string   `json:"addr,omitempty"`
	Pprof         bool     `json:"pprof,omitempty"`
	AllowInsecure bool     `json:"allow_insecure,omitempty"`
	ReadTimeout   Duration `json:"read_timeout,omitempty"`
	IdleTimeout   Duration `json:"idle_timeout,omitempty"`
}

const (
	DefaultCatalogURL = "https://fortnite-api.com/v2/shop/br"
	DefaultInterval   = "5m"
	DefaultStorePath  = "./subscribers.json"
	DefaultServerAddr = "127.0.0.1:9090"
)

// Default returns the configuration used when no file exists. Parse decodes the
// file on top of it, so omitted keys keep these values.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{PollTimeout: Duration(10 * time.Second)},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Chat:    LoggingChat{MinLevel: "warn", RatePerSec: 1},
		},
		Catalog:  CatalogConfig{URL: DefaultCatalogURL, Timeout: Duration(30 * time.Second)},
		Poll:     PollConfig{Interval: DefaultInterval},
		Dispatch: DispatchConfig{RatePerSec: 25, SendTimeout: Duration(10 * time.Second)},
		Storage:  StorageConfig{Driver: "file", Path: DefaultStorePath},
		Server:   ServerConfig{Addr: DefaultServerAddr},
	}
}

// Validate checks values that cannot be expressed by the JSON schema alone.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := scheduler.ParseSchedule(c.Poll.Interval); err != nil {
		return fmt.Errorf("poll.interval: %w", err)
	}
	if _, err := time.LoadLocation(strings.TrimSpace(c.Poll.Timezone)); err != nil {
		return fmt.Errorf("poll.timezone: %w", err)
	}
	if strings.TrimSpace(c.Catalog.URL) == "" {
		return fmt.Errorf("catalog.url: required")
	}
	if c.Catalog.Timeout.D() <= 0 {
		return fmt.Errorf("catalog.timeout: must be > 0")
	}
	if c.Dispatch.RatePerSec < 0 {
		return fmt.Errorf("dispatch.rate_per_sec: must be >= 0")
	}
	if c.Dispatch.SendTimeout.D() <= 0 {
		return fmt.Errorf("dispatch.send_timeout: must be > 0")
	}
	if !validLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		return fmt.Errorf("logging.file.path: required when file logging is enabled")
	}
	if c.Logging.Chat.Enabled {
		if c.Telegram.LogChatID == 0 {
			return fmt.Errorf("telegram.log_chat_id: required when logging.chat is enabled")
		}
		if !validLevel(c.Logging.Chat.MinLevel) {
			return fmt.Errorf("logging.chat.min_level: unknown level %q", c.Logging.Chat.MinLevel)
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "file", "json", "sqlite":
	case "redis":
		if strings.TrimSpace(c.Storage.RedisAddr) == "" {
			return fmt.Errorf("storage.redis_addr: required for the redis driver")
		}
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if c.Server.Enabled {
		if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
			return fmt.Errorf("server.addr: %w", err)
		}
	}
	return nil
}

func validLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

// LogConfig maps the logging section onto the logx service config.
func (c *Config) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    c.Logging.Chat.Enabled,
			ChatID:     c.Telegram.LogChatID,
			MinLevel:   c.Logging.Chat.MinLevel,
			RatePerSec: c.Logging.Chat.RatePerSec,
		},
	}
}
