package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"dealbot/internal/deals"
	"dealbot/internal/notify"
	"dealbot/internal/ratelimit"
	"dealbot/internal/scheduler"
	"dealbot/internal/setup"
	"dealbot/internal/steam"
	"dealbot/internal/storage"
	"dealbot/pkg/logx"
)

// Config is the whole bot configuration. All durations are Go duration
// strings (e.g. "30s", "20m", "2h").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Steam     SteamConfig     `json:"steam,omitempty"`
	Cache     CacheConfig     `json:"cache,omitempty"`
	Setup     SetupConfig     `json:"setup,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`
	RateLimit RateLimitConfig `json:"rate_limit,omitempty"`
	Notify    NotifyConfig    `json:"notify,omitempty"`
	Storage   StorageConfig   `json:"storage"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	// AdminUserIDs may use admin-gated commands in any community.
	AdminUserIDs []int64 `json:"admin_user_ids,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty"`
	Console bool   `json:"console"`
	File    struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path,omitempty"`
	} `json:"file,omitempty"`
}

func (c LoggingConfig) ToLogx() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}

type SteamConfig struct {
	BaseURL    string `json:"base_url,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
	RatePerMin int    `json:"rate_per_min,omitempty"`
}

type CacheConfig struct {
	TTL         string `json:"ttl,omitempty"`
	MinDiscount int    `json:"min_discount,omitempty"`
}

type SetupConfig struct {
	Timeout string `json:"timeout,omitempty"`
}

type SchedulerConfig struct {
	RefreshEvery  string `json:"refresh_every,omitempty"`
	AutoPostEvery string `json:"auto_post_every,omitempty"`
}

type RateLimitConfig struct {
	Window string `json:"window,omitempty"`
	// ExemptCommands bypass the limiter entirely (default: help).
	ExemptCommands []string `json:"exempt_commands,omitempty"`
}

type NotifyConfig struct {
	Workers     int    `json:"workers,omitempty"`
	QueueSize   int    `json:"queue_size,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./dealbot_store.json" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
}

// Validate checks everything that can be checked without I/O. It is run at
// startup and again before each hot reload is committed.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	for path, raw := range map[string]string{
		"telegram.poll_timeout":     c.Telegram.PollTimeout,
		"steam.timeout":             c.Steam.Timeout,
		"cache.ttl":                 c.Cache.TTL,
		"setup.timeout":             c.Setup.Timeout,
		"scheduler.refresh_every":   c.Scheduler.RefreshEvery,
		"scheduler.auto_post_every": c.Scheduler.AutoPostEvery,
		"rate_limit.window":         c.RateLimit.Window,
		"notify.send_timeout":       c.Notify.SendTimeout,
		"storage.busy_timeout":      c.Storage.BusyTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	if c.Cache.MinDiscount < 0 || c.Cache.MinDiscount > 100 {
		return fmt.Errorf("cache.min_discount must be 0..100, got %d", c.Cache.MinDiscount)
	}
	return nil
}

// The To* helpers convert the string-typed wire config into the typed
// configs the components take. Validate has already rejected bad durations,
// so parse errors here fall back to the component defaults.

func (c *Config) ToSteam() steam.ClientConfig {
	timeout, _ := ParseDurationField("steam.timeout", c.Steam.Timeout)
	return steam.ClientConfig{
		BaseURL:    c.Steam.BaseURL,
		Timeout:    timeout,
		RatePerMin: c.Steam.RatePerMin,
	}
}

func (c *Config) ToCache() deals.CacheConfig {
	ttl, _ := ParseDurationField("cache.ttl", c.Cache.TTL)
	return deals.CacheConfig{TTL: ttl, MinDiscount: c.Cache.MinDiscount}
}

func (c *Config) SetupTimeout() time.Duration {
	d, _ := ParseDurationOrDefault("setup.timeout", c.Setup.Timeout, setup.DefaultTimeout)
	return d
}

func (c *Config) ToScheduler() scheduler.Config {
	refresh, _ := ParseDurationField("scheduler.refresh_every", c.Scheduler.RefreshEvery)
	autoPost, _ := ParseDurationField("scheduler.auto_post_every", c.Scheduler.AutoPostEvery)
	return scheduler.Config{RefreshEvery: refresh, AutoPostEvery: autoPost}
}

func (c *Config) RateLimitWindow() time.Duration {
	d, _ := ParseDurationOrDefault("rate_limit.window", c.RateLimit.Window, ratelimit.DefaultWindow)
	return d
}

func (c *Config) RateLimitExempt() []string {
	if len(c.RateLimit.ExemptCommands) > 0 {
		return c.RateLimit.ExemptCommands
	}
	return []string{"help"}
}

func (c *Config) ToNotify() notify.Config {
	sendTimeout, _ := ParseDurationField("notify.send_timeout", c.Notify.SendTimeout)
	return notify.Config{
		Workers:     c.Notify.Workers,
		QueueSize:   c.Notify.QueueSize,
		RatePerSec:  c.Notify.RatePerSec,
		SendTimeout: sendTimeout,
	}
}

func (c *Config) ToStorage() storage.Config {
	busy, _ := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	return storage.Config{Driver: c.Storage.Driver, Path: c.Storage.Path, BusyTimeout: busy}
}

func (c *Config) PollTimeout() time.Duration {
	d, _ := ParseDurationOrDefault("telegram.poll_timeout", c.Telegram.PollTimeout, 10*time.Second)
	return d
}

func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Telegram.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
