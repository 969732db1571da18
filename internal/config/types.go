package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings ("500ms", "30s", "5m"). Zero values fall back to the
// component defaults, so an empty file (or no file at all) yields a working service.
type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	Logging   LoggingConfig   `json:"logging"`
	Network   NetworkConfig   `json:"network"`
	Speedtest SpeedtestConfig `json:"speedtest"`
	Telegram  TelegramConfig  `json:"telegram"`
	Alerts    *AlertsConfig   `json:"alerts,omitempty"`
	Pprof     PprofConfig     `json:"pprof,omitempty"`
}

// HTTPConfig controls the API listener.
//
// Addr, timeouts and CORS origins are read once at startup. RatePerSec/Burst are hot-reloadable.
type HTTPConfig struct {
	Addr            string   `json:"addr,omitempty"` // default: "127.0.0.1:8000"
	ReadTimeout     string   `json:"read_timeout,omitempty"`
	WriteTimeout    string   `json:"write_timeout,omitempty"`
	IdleTimeout     string   `json:"idle_timeout,omitempty"`
	ShutdownTimeout string   `json:"shutdown_timeout,omitempty"`
	CORSOrigins     []string `json:"cors_origins,omitempty"`

	// Per-client token bucket. 0 disables rate limiting.
	RatePerSec int `json:"rate_per_sec,omitempty"`
	Burst      int `json:"burst,omitempty"`
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

// NetworkConfig tunes the telemetry cache, the probes and the device scanner.
type NetworkConfig struct {
	RefreshInterval  string `json:"refresh_interval,omitempty"`  // default: "30s"
	BaselineInterval string `json:"baseline_interval,omitempty"` // default: "1s"
	PingTarget       string `json:"ping_target,omitempty"`       // default: "8.8.8.8"
	PublicIPURL      string `json:"public_ip_url,omitempty"`     // default: "https://api.ipify.org"
	ProbeTimeout     string `json:"probe_timeout,omitempty"`     // per subprocess/lookup, default: "5s"

	PacketLoss PacketLossConfig `json:"packet_loss"`
	History    HistoryConfig    `json:"history"`
	Scan       ScanConfig       `json:"scan"`
}

// PacketLossConfig selects the loss probe batch.
//
// Mode "accurate" sends Count echoes to every target; "fast" sends half as many to the first
// target only. ICMP uses raw/datagram sockets and falls back to the ping binary when denied.
type PacketLossConfig struct {
	Mode    string   `json:"mode,omitempty"`    // accurate | fast
	Targets []string `json:"targets,omitempty"` // default: 8.8.8.8, 1.1.1.1, 208.67.222.222
	Count   int      `json:"count,omitempty"`   // default: 20
	Timeout string   `json:"timeout,omitempty"` // per echo, default: "1s"
	ICMP    bool     `json:"icmp,omitempty"`
}

// HistoryConfig sets ring capacities. Changing capacities requires a restart.
type HistoryConfig struct {
	Bandwidth       int    `json:"bandwidth,omitempty"`        // default: 60
	Latency         int    `json:"latency,omitempty"`          // default: 20
	Transfer        int    `json:"transfer,omitempty"`         // default: 288
	TransferSpacing string `json:"transfer_spacing,omitempty"` // default: "5m"
}

type ScanConfig struct {
	// Enabled is a pointer so an omitted value means "on".
	Enabled    *bool  `json:"enabled,omitempty"`
	Interval   string `json:"interval,omitempty"`    // default: "5m"
	RangeStart int    `json:"range_start,omitempty"` // default: 1
	RangeEnd   int    `json:"range_end,omitempty"`   // default: 9
	Timeout    string `json:"timeout,omitempty"`     // per host, default: "1s"
}

// SpeedtestConfig tunes the active speed test.
type SpeedtestConfig struct {
	Threads          int     `json:"threads,omitempty"`      // default: 4
	Samples          int     `json:"samples,omitempty"`      // default: 1; median when > 1
	ServerCount      int     `json:"server_count,omitempty"` // closest candidates pinged, default: 5
	SettleDelay      string  `json:"settle_delay,omitempty"` // default: "100ms"
	DownloadFactor   float64 `json:"download_factor,omitempty"`
	UploadFactor     float64 `json:"upload_factor,omitempty"`
	MaxMbps          float64 `json:"max_mbps,omitempty"`
	MinMbps          float64 `json:"min_mbps,omitempty"`
	Timeout          string  `json:"timeout,omitempty"`            // whole run, default: "2m"
	StatusStaleAfter string  `json:"status_stale_after,omitempty"` // default: "120s"
	SavingMode       bool    `json:"saving_mode,omitempty"`
}

// TelegramConfig is shared by the log sink and the alert notifier.
type TelegramConfig struct {
	Token  string `json:"token,omitempty"`
	ChatID int64  `json:"chat_id,omitempty"`
}

// AlertsConfig controls link-quality alerts. Nil means disabled.
type AlertsConfig struct {
	Enabled          bool    `json:"enabled"`
	StabilityBelow   float64 `json:"stability_below,omitempty"`   // default: 50
	PacketLossAbove  float64 `json:"packet_loss_above,omitempty"` // default: 5
	Cooldown         string  `json:"cooldown,omitempty"`          // default: "15m"
	SpeedtestSummary bool    `json:"speedtest_summary,omitempty"`
	ThreadID         int     `json:"thread_id,omitempty"`
}

// PprofConfig mounts net/http/pprof on the API listener.
//
// The API binds to localhost by default; do not enable this on a public address.
type PprofConfig struct {
	Enabled              bool   `json:"enabled"`
	Prefix               string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	MutexProfileFraction int    `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int    `json:"block_profile_rate,omitempty"`
}
