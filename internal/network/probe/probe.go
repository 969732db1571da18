// Package probe holds the active measurement primitives: latency, packet loss, link type,
// signal strength and address discovery.
//
// Probes never return errors for data they cannot obtain. They return a sentinel instead
// (0, Unknown, NotDetected) that callers must read as "no data".
package probe

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"hostpulse/pkg/logx"
)

// ConnectionType classifies the active link by interface name.
type ConnectionType string

const (
	WiFi     ConnectionType = "Wi-Fi"
	Ethernet ConnectionType = "Ethernet"
	VPN      ConnectionType = "VPN"
	Unknown  ConnectionType = "Unknown"
)

// NotDetected is the terminal fallback of the address lookups.
const NotDetected = "Not detected"

// Counters is one reading of the interface byte and packet counters, summed over every
// non-loopback interface.
type Counters struct {
	BytesSent   uint64
	BytesRecv   uint64
	PacketsSent uint64
	PacketsRecv uint64
}

// Prober is the capability set the telemetry cache samples on every refresh.
type Prober interface {
	Latency(ctx context.Context) float64
	PacketLoss(ctx context.Context) float64
	ConnectionType(ctx context.Context) ConnectionType
	SignalStrength(ctx context.Context, ct ConnectionType) int
	DNSServer(ctx context.Context) string
	MACAddress(ctx context.Context) string
	PublicIP(ctx context.Context) string
	Counters(ctx context.Context) (Counters, error)
	ActiveInterfaces(ctx context.Context) []string
}

// Loss modes.
const (
	LossAccurate = "accurate"
	LossFast     = "fast"
)

// LossConfig controls the packet loss batch.
type LossConfig struct {
	Mode    string
	Targets []string
	Count   int
	Timeout time.Duration
	// ICMP sends echoes from this process instead of running the ping binary. When the
	// socket cannot be opened the binary is used anyway.
	ICMP bool
}

type Config struct {
	PingTarget   string
	PublicIPURL  string
	ProbeTimeout time.Duration
	Loss         LossConfig
}

var DefaultLossTargets = []string{"8.8.8.8", "1.1.1.1", "208.67.222.222"}

func (c Config) withDefaults() Config {
	if c.PingTarget == "" {
		c.PingTarget = "8.8.8.8"
	}
	if c.PublicIPURL == "" {
		c.PublicIPURL = "https://api.ipify.org"
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.Loss.Mode != LossFast {
		c.Loss.Mode = LossAccurate
	}
	if len(c.Loss.Targets) == 0 {
		c.Loss.Targets = DefaultLossTargets
	}
	if c.Loss.Count <= 0 {
		c.Loss.Count = 20
	}
	if c.Loss.Timeout <= 0 {
		c.Loss.Timeout = time.Second
	}
	return c
}

// System probes the host it runs on.
type System struct {
	cfg  Config
	log  logx.Logger
	goos string
	run  CommandRunner
	hc   *http.Client
}

type Option func(*System)

// WithRunner replaces subprocess execution.
func WithRunner(r CommandRunner) Option { return func(s *System) { s.run = r } }

// WithGOOS overrides the platform used to pick tool arguments and parsers.
func WithGOOS(goos string) Option { return func(s *System) { s.goos = goos } }

// WithHTTPClient replaces the client used for the public IP lookup.
func WithHTTPClient(hc *http.Client) Option { return func(s *System) { s.hc = hc } }

func NewSystem(cfg Config, log logx.Logger, opts ...Option) *System {
	s := &System{
		cfg:  cfg.withDefaults(),
		log:  log,
		goos: runtime.GOOS,
		run:  ExecRunner,
		hc:   &http.Client{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *System) Config() Config { return s.cfg }

var _ Prober = (*System)(nil)
