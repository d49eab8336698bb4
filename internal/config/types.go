package config

// Config is the on-disk configuration (JSON or YAML).
//
// Duration fields are Go duration strings ("500ms", "30s", "5m"). Empty
// or zero values fall back to the defaults applied when the app maps the
// config onto component configs.
type Config struct {
	Telegram TelegramConfig  `json:"telegram"`
	Logging  LoggingConfig   `json:"logging"`
	Catalog  CatalogConfig   `json:"catalog"`
	Monitor  MonitorConfig   `json:"monitor"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  StorageConfig   `json:"storage"`
	HTTP     HTTPConfig      `json:"http,omitempty"`
	Events   EventsConfig    `json:"events,omitempty"`
	Systemd  SystemdConfig   `json:"systemd,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	PollTimeout  string  `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// CatalogConfig points the fetchers at the remote campaign catalog.
//
// An empty endpoint disables that source. Defaults:
//   - graphql_endpoint: "https://graphigo.prd.galaxy.eco/query"
//   - page_size: 50
//   - request_timeout: "12s"
//   - pacing: "750ms" between calls to the same endpoint
type CatalogConfig struct {
	GraphQLEndpoint   string   `json:"graphql_endpoint"`
	SecondaryEndpoint string   `json:"secondary_endpoint,omitempty"`
	RESTBase          string   `json:"rest_base,omitempty"`
	WebBase           string   `json:"web_base,omitempty"`
	UserAgent         string   `json:"user_agent,omitempty"`
	PageSize          int      `json:"page_size,omitempty"`
	RequestTimeout    string   `json:"request_timeout,omitempty"`
	Pacing            string   `json:"pacing,omitempty"`
	DisabledSources   []string `json:"disabled_sources,omitempty"`
}

// MonitorConfig controls scanning, classification and health advisories.
//
// mode is "spaces" (scan the union of watched spaces every space_interval)
// or "all" (query the catalog broadly every all_interval).
type MonitorConfig struct {
	Mode             string   `json:"mode"`
	SpaceInterval    string   `json:"space_interval,omitempty"`
	AllInterval      string   `json:"all_interval,omitempty"`
	MaxSpaces        int      `json:"max_spaces,omitempty"`
	FailureThreshold int      `json:"failure_threshold,omitempty"`
	StaleAfter       string   `json:"stale_after,omitempty"`
	SendPacing       string   `json:"send_pacing,omitempty"`
	Keywords         []string `json:"keywords,omitempty"`
	DropKinds        []string `json:"drop_kinds,omitempty"`
	Timezone         string   `json:"timezone,omitempty"`
	LinkPreview      bool     `json:"link_preview,omitempty"`
}

// NotifierConfig controls transport pacing and retry. The notifier is the
// only delivery path, so it stays enabled unless "enabled": false is set.
type NotifierConfig struct {
	Enabled       *bool  `json:"enabled,omitempty"`
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	SendTimeout   string `json:"send_timeout,omitempty"`
	DedupWindow   string `json:"dedup_window,omitempty"`
}

// IsEnabled treats a missing section or a missing flag as enabled.
func (n *NotifierConfig) IsEnabled() bool {
	return n == nil || n.Enabled == nil || *n.Enabled
}

// StorageConfig selects the persistence driver.
//
//	"storage": { "driver": "sqlite", "path": "./data/fcfswatch.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://..." }
//	"storage": { "driver": "redis", "dsn": "redis://localhost:6379/0" }
//	"storage": { "driver": "memory" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // do not log
	BusyTimeout string `json:"busy_timeout,omitempty"`
	Prefix      string `json:"prefix,omitempty"` // redis key prefix
}

// HTTPConfig controls the operational HTTP endpoint (health, status,
// metrics, optional pprof). Bind to loopback unless fronted by a proxy.
type HTTPConfig struct {
	Enabled     bool   `json:"enabled"`
	Addr        string `json:"addr,omitempty"`
	Pprof       bool   `json:"pprof,omitempty"`
	ReadTimeout string `json:"read_timeout,omitempty"`
}

type EventsConfig struct {
	AMQP AMQPConfig `json:"amqp"`
}

// AMQPConfig forwards campaign detections to an exchange.
type AMQPConfig struct {
	Enabled    bool   `json:"enabled"`
	URL        string `json:"url,omitempty"` // do not log
	Exchange   string `json:"exchange,omitempty"`
	RoutingKey string `json:"routing_key,omitempty"`
}

type SystemdConfig struct {
	Notify bool `json:"notify"`
}
