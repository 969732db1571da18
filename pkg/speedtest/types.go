package speedtest

import (
	"errors"
	"time"
)

// Defaults applied by NewRunner for zero-valued RunConfig fields.
const (
	DefaultThreads        = 4
	DefaultSamples        = 1
	DefaultServerCount    = 5
	DefaultSettleDelay    = 100 * time.Millisecond
	DefaultDownloadFactor = 0.85
	DefaultUploadFactor   = 0.80
	DefaultMaxMbps        = 500
	DefaultMinMbps        = 1
)

var (
	// ErrNoServers means the directory returned no usable server.
	ErrNoServers = errors.New("speedtest: no servers available")
	// ErrImplausibleSpeed is returned when a corrected figure is negative or above the ceiling.
	ErrImplausibleSpeed = errors.New("speedtest: unrealistic speed values detected")
	// ErrTooSlow is returned when a corrected figure is below the floor.
	ErrTooSlow = errors.New("speedtest: speed too low to be reliable")
)

// ServerInfo describes the server a result was measured against.
type ServerInfo struct {
	Name     string  `json:"name"`
	Location string  `json:"location"`
	Sponsor  string  `json:"sponsor"`
	Latency  float64 `json:"latency"`
	Distance string  `json:"distance"`
}

// Result is a validated speed test measurement. Download and upload already carry the
// correction factors and are never zero on success.
type Result struct {
	Timestamp time.Time  `json:"timestamp"`
	Download  float64    `json:"download"`
	Upload    float64    `json:"upload"`
	Ping      float64    `json:"ping"`
	Server    ServerInfo `json:"server"`
	ISP       string     `json:"isp,omitempty"`

	Samples  int           `json:"-"`
	Duration time.Duration `json:"-"`
}

// Phase names reported through the progress callback.
const (
	PhaseSelecting = "selecting_server"
	PhaseDownload  = "download"
	PhaseUpload    = "upload"
	PhaseDone      = "done"
)

// ProgressFunc receives the current phase and an approximate completion percentage.
type ProgressFunc func(phase string, percent int)

// RunConfig controls a single run.
type RunConfig struct {
	// Parallel transfer streams per direction.
	Threads int
	// Download/upload measurements per run; the median is kept when > 1.
	Samples int
	// Closest candidates (by distance) that are pinged before picking the fastest.
	ServerCount int
	// Pause between the download and upload phases.
	SettleDelay time.Duration

	DownloadFactor float64
	UploadFactor   float64
	MaxMbps        float64
	MinMbps        float64

	SavingMode bool

	// OperationTimeout tunes the dial timeout of the dedicated HTTP client. It does not
	// wrap the context passed to Run.
	OperationTimeout time.Duration
	// PingConcurrency caps concurrent candidate pings.
	PingConcurrency int
}

func (c RunConfig) withDefaults() RunConfig {
	if c.Threads <= 0 {
		c.Threads = DefaultThreads
	}
	if c.Samples <= 0 {
		c.Samples = DefaultSamples
	}
	if c.ServerCount <= 0 {
		c.ServerCount = DefaultServerCount
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	if c.DownloadFactor <= 0 {
		c.DownloadFactor = DefaultDownloadFactor
	}
	if c.UploadFactor <= 0 {
		c.UploadFactor = DefaultUploadFactor
	}
	if c.MaxMbps <= 0 {
		c.MaxMbps = DefaultMaxMbps
	}
	if c.MinMbps <= 0 {
		c.MinMbps = DefaultMinMbps
	}
	if c.PingConcurrency <= 0 {
		c.PingConcurrency = 4
	}
	return c
}
