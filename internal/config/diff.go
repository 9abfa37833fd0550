package config

import (
	"reflect"
	"sort"
	"strings"

	"dealbot/pkg/logx"
)

// SummarizeChange returns the changed top-level sections and safe structured
// attrs for logging. The Telegram token is never logged, only whether it
// changed.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var changed []string
	var attrs []logx.Field

	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout ||
		!reflect.DeepEqual(oldCfg.Telegram.AdminUserIDs, newCfg.Telegram.AdminUserIDs) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.Int("telegram.admin_count", len(newCfg.Telegram.AdminUserIDs)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Steam != newCfg.Steam {
		changed = append(changed, "steam")
	}
	if oldCfg.Cache != newCfg.Cache {
		changed = append(changed, "cache")
		attrs = append(attrs,
			logx.String("cache.ttl", strings.TrimSpace(newCfg.Cache.TTL)),
			logx.Int("cache.min_discount", newCfg.Cache.MinDiscount),
		)
	}
	if oldCfg.Setup != newCfg.Setup {
		changed = append(changed, "setup")
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.refresh_every", strings.TrimSpace(newCfg.Scheduler.RefreshEvery)),
			logx.String("scheduler.auto_post_every", strings.TrimSpace(newCfg.Scheduler.AutoPostEvery)),
		)
	}
	if !reflect.DeepEqual(oldCfg.RateLimit, newCfg.RateLimit) {
		changed = append(changed, "rate_limit")
	}
	if oldCfg.Notify != newCfg.Notify {
		changed = append(changed, "notify")
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}
	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs, logx.Bool("metrics.enabled", newCfg.Metrics.Enabled))
	}

	sort.Strings(changed)
	return changed, attrs
}
