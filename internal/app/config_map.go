package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fcfswatch/internal/catalog"
	"fcfswatch/internal/config"
	"fcfswatch/internal/eventbus/amqpbridge"
	"fcfswatch/internal/httpapi"
	"fcfswatch/internal/monitor"
	"fcfswatch/internal/notifier"
	"fcfswatch/internal/storage"
	logx "fcfswatch/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	out := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
	// An unparsable or empty group_log leaves ChatID 0, which keeps the
	// Telegram sink inert.
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		if id, err := strconv.ParseInt(g, 10, 64); err == nil {
			out.Telegram.ChatID = id
		}
	}
	return out
}

func mapCatalog(cfg *config.Config) (catalog.Config, error) {
	c := cfg.Catalog
	out := catalog.Config{
		GraphQLEndpoint:   strings.TrimSpace(c.GraphQLEndpoint),
		SecondaryEndpoint: strings.TrimSpace(c.SecondaryEndpoint),
		RESTBase:          strings.TrimSpace(c.RESTBase),
		WebBase:           strings.TrimSpace(c.WebBase),
		UserAgent:         c.UserAgent,
		PageSize:          c.PageSize,
		Disabled:          c.DisabledSources,
	}
	if out.GraphQLEndpoint == "" {
		out.GraphQLEndpoint = catalog.DefaultGraphQLEndpoint
	}
	// The alternate query shape is served by the same host unless pointed
	// elsewhere. REST has no public default and stays opt-in.
	if out.SecondaryEndpoint == "" {
		out.SecondaryEndpoint = out.GraphQLEndpoint
	}
	if out.WebBase == "" {
		out.WebBase = catalog.DefaultWebBase
	}
	if out.PageSize < 0 {
		return catalog.Config{}, fmt.Errorf("catalog.page_size must be >= 0")
	}
	var err error
	if out.RequestTimeout, err = config.ParseDurationOrDefault("catalog.request_timeout", c.RequestTimeout, catalog.DefaultRequestTimeout); err != nil {
		return catalog.Config{}, err
	}
	if out.Pacing, err = config.ParseDurationOrDefault("catalog.pacing", c.Pacing, catalog.DefaultPacing); err != nil {
		return catalog.Config{}, err
	}
	return out, nil
}

func mapMonitor(cfg *config.Config) (monitor.Config, error) {
	m := cfg.Monitor
	mode, err := monitor.ParseMode(m.Mode)
	if err != nil {
		return monitor.Config{}, fmt.Errorf("monitor.mode: %w", err)
	}
	out := monitor.Config{
		Mode:             mode,
		MaxSpaces:        m.MaxSpaces,
		FailureThreshold: m.FailureThreshold,
		LinkPreview:      m.LinkPreview,
		Keywords:         m.Keywords,
		DropKinds:        m.DropKinds,
	}
	if out.MaxSpaces < 0 {
		return monitor.Config{}, fmt.Errorf("monitor.max_spaces must be >= 0")
	}
	if out.FailureThreshold < 0 {
		return monitor.Config{}, fmt.Errorf("monitor.failure_threshold must be >= 0")
	}
	// Intervals below one second would hammer the catalog.
	if out.SpaceInterval, err = config.ParseDurationAtLeast("monitor.space_interval", m.SpaceInterval, monitor.DefaultSpaceInterval, time.Second); err != nil {
		return monitor.Config{}, err
	}
	if out.AllInterval, err = config.ParseDurationAtLeast("monitor.all_interval", m.AllInterval, monitor.DefaultAllInterval, time.Second); err != nil {
		return monitor.Config{}, err
	}
	if out.StaleAfter, err = config.ParseDurationOrDefault("monitor.stale_after", m.StaleAfter, monitor.DefaultStaleAfter); err != nil {
		return monitor.Config{}, err
	}
	if out.SendPacing, err = config.ParseDurationOrDefault("monitor.send_pacing", m.SendPacing, monitor.DefaultSendPacing); err != nil {
		return monitor.Config{}, err
	}
	out.Location = time.UTC
	if tz := strings.TrimSpace(m.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return monitor.Config{}, fmt.Errorf("monitor.timezone: invalid %q: %w", tz, err)
		}
		out.Location = loc
	}
	return out, nil
}

func mapNotifier(cfg *config.Config) (notifier.Config, error) {
	out := notifier.Config{
		Enabled:         true,
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      3,
		RetryMax:        3,
		RetryBase:       500 * time.Millisecond,
		RetryMaxDelay:   10 * time.Second,
		SendTimeout:     15 * time.Second,
		DedupWindow:     time.Minute,
		DedupMaxEntries: 2000,
	}
	if cfg.Notifier == nil {
		return out, nil
	}
	n := cfg.Notifier
	out.Enabled = n.IsEnabled()
	if n.Workers != 0 {
		out.Workers = n.Workers
	}
	if n.QueueSize != 0 {
		out.QueueSize = n.QueueSize
	}
	if n.RatePerSec != 0 {
		out.RatePerSec = n.RatePerSec
	}
	if n.RetryMax != 0 {
		out.RetryMax = n.RetryMax
	}

	var err error
	if out.RetryBase, err = config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, out.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, out.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.SendTimeout, err = config.ParseDurationOrDefault("notifier.send_timeout", n.SendTimeout, out.SendTimeout); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationOrDefault("notifier.dedup_window", n.DedupWindow, out.DedupWindow); err != nil {
		return notifier.Config{}, err
	}

	if out.Workers < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.workers must be >= 0")
	}
	if out.QueueSize < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.queue_size must be >= 0")
	}
	if out.RatePerSec < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.rate_per_sec must be >= 0")
	}
	if out.RetryMax < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.retry_max must be >= 0")
	}
	return out, nil
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	out := storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), DSN: strings.TrimSpace(sc.DSN), Prefix: sc.Prefix}
	switch driver {
	case "", "memory":
		out.Driver = "memory"
	case "sqlite", "sqlite3":
		out.Driver = "sqlite"
		if out.Path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		out.BusyTimeout = busy
	case "postgres", "postgresql", "pgx":
		out.Driver = "postgres"
		if out.DSN == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=postgres")
		}
	case "redis":
		if out.DSN == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=redis")
		}
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	return out, nil
}

func mapHTTP(cfg *config.Config) (httpapi.Config, bool, error) {
	h := cfg.HTTP
	rt, err := config.ParseDurationField("http.read_timeout", h.ReadTimeout)
	if err != nil {
		return httpapi.Config{}, false, err
	}
	return httpapi.Config{Addr: strings.TrimSpace(h.Addr), Pprof: h.Pprof, ReadTimeout: rt}, h.Enabled, nil
}

func mapAMQP(cfg *config.Config) (amqpbridge.Config, bool, error) {
	a := cfg.Events.AMQP
	if !a.Enabled {
		return amqpbridge.Config{}, false, nil
	}
	if strings.TrimSpace(a.URL) == "" {
		return amqpbridge.Config{}, false, fmt.Errorf("events.amqp.url is required when events.amqp.enabled=true")
	}
	return amqpbridge.Config{URL: a.URL, Exchange: a.Exchange, RoutingKey: a.RoutingKey}, true, nil
}

func mapPollTimeout(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
}

// validateConfig rejects a config (at startup or on hot reload) that any
// component mapping would refuse.
func validateConfig(_ context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := mapPollTimeout(cfg); err != nil {
		return err
	}
	if _, err := mapCatalog(cfg); err != nil {
		return err
	}
	if _, err := mapMonitor(cfg); err != nil {
		return err
	}
	if _, err := mapNotifier(cfg); err != nil {
		return err
	}
	if _, err := mapStorage(cfg); err != nil {
		return err
	}
	if _, _, err := mapHTTP(cfg); err != nil {
		return err
	}
	if _, _, err := mapAMQP(cfg); err != nil {
		return err
	}
	return nil
}
