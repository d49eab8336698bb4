package config

import (
	"reflect"
	"strings"

	logx "fcfswatch/pkg/logx"
)

// SummarizeConfigChange lists the changed top-level sections and returns
// log fields describing the new values. Secrets (token, DSN, AMQP URL)
// are reported only as "set" booleans.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		attrs   []logx.Field
	)

	o, n := oldCfg.Telegram, newCfg.Telegram
	if o.Token != n.Token || o.GroupLog != n.GroupLog || o.PollTimeout != n.PollTimeout ||
		!reflect.DeepEqual(o.OwnerUserIDs, n.OwnerUserIDs) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", o.Token != n.Token),
			logx.Int("telegram.owner_count", len(n.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(n.GroupLog) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Catalog, newCfg.Catalog) {
		changed = append(changed, "catalog")
		attrs = append(attrs,
			logx.String("catalog.pacing", newCfg.Catalog.Pacing),
			logx.Strings("catalog.disabled_sources", newCfg.Catalog.DisabledSources),
		)
	}

	if !reflect.DeepEqual(oldCfg.Monitor, newCfg.Monitor) {
		changed = append(changed, "monitor")
		attrs = append(attrs,
			logx.String("monitor.mode", newCfg.Monitor.Mode),
			logx.Int("monitor.keywords", len(newCfg.Monitor.Keywords)),
			logx.Int("monitor.max_spaces", newCfg.Monitor.MaxSpaces),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		if newCfg.Notifier != nil {
			attrs = append(attrs,
				logx.Bool("notifier.enabled", newCfg.Notifier.IsEnabled()),
				logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
				logx.Int("notifier.retry_max", newCfg.Notifier.RetryMax),
			)
		}
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.dsn_set", newCfg.Storage.DSN != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		attrs = append(attrs, logx.Bool("http.enabled", newCfg.HTTP.Enabled), logx.String("http.addr", newCfg.HTTP.Addr))
	}

	if !reflect.DeepEqual(oldCfg.Events, newCfg.Events) {
		changed = append(changed, "events")
		attrs = append(attrs, logx.Bool("events.amqp", newCfg.Events.AMQP.Enabled))
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
	}
	return changed, attrs
}

// RequiresRestart reports sections whose changes only apply after a restart.
func RequiresRestart(section string) bool {
	switch section {
	case "storage", "http", "events", "systemd", "catalog":
		return true
	case "telegram":
		// token and poll timeout are bound at adapter construction
		return true
	}
	return false
}
