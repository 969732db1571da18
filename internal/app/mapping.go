package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"hostpulse/internal/alert"
	"hostpulse/internal/config"
	"hostpulse/internal/network/probe"
	"hostpulse/internal/network/scan"
	"hostpulse/internal/network/speedtest"
	"hostpulse/internal/network/telemetry"
	"hostpulse/internal/observability/pprof"
	"hostpulse/pkg/logx"
	speedpkg "hostpulse/pkg/speedtest"
)

const (
	defaultAddr            = "127.0.0.1:8000"
	defaultRefreshInterval = 30 * time.Second
	defaultScanInterval    = 5 * time.Minute
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 90 * time.Second
	defaultIdleTimeout     = 2 * time.Minute
	defaultShutdownTimeout = 10 * time.Second
)

type httpSettings struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

func mapHTTPConfig(cfg *config.Config) (httpSettings, error) {
	h := cfg.HTTP
	out := httpSettings{Addr: strings.TrimSpace(h.Addr)}
	if out.Addr == "" {
		out.Addr = defaultAddr
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("http.read_timeout", h.ReadTimeout, defaultReadTimeout); err != nil {
		return httpSettings{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationOrDefault("http.write_timeout", h.WriteTimeout, defaultWriteTimeout); err != nil {
		return httpSettings{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("http.idle_timeout", h.IdleTimeout, defaultIdleTimeout); err != nil {
		return httpSettings{}, err
	}
	if out.ShutdownTimeout, err = config.ParseDurationOrDefault("http.shutdown_timeout", h.ShutdownTimeout, defaultShutdownTimeout); err != nil {
		return httpSettings{}, err
	}
	if h.RatePerSec < 0 || h.Burst < 0 {
		return httpSettings{}, errors.New("http.rate_per_sec and http.burst must be >= 0")
	}
	return out, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ChatID:     cfg.Telegram.ChatID,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapProbeConfig(cfg *config.Config) (probe.Config, error) {
	n := cfg.Network
	probeTimeout, err := config.ParseDurationField("network.probe_timeout", n.ProbeTimeout)
	if err != nil {
		return probe.Config{}, err
	}
	echoTimeout, err := config.ParseDurationField("network.packet_loss.timeout", n.PacketLoss.Timeout)
	if err != nil {
		return probe.Config{}, err
	}
	switch mode := strings.ToLower(strings.TrimSpace(n.PacketLoss.Mode)); mode {
	case "", probe.LossAccurate, probe.LossFast:
	default:
		return probe.Config{}, fmt.Errorf("network.packet_loss.mode: unknown mode %q", n.PacketLoss.Mode)
	}
	if n.PacketLoss.Count < 0 {
		return probe.Config{}, errors.New("network.packet_loss.count must be >= 0")
	}
	return probe.Config{
		PingTarget:   strings.TrimSpace(n.PingTarget),
		PublicIPURL:  strings.TrimSpace(n.PublicIPURL),
		ProbeTimeout: probeTimeout,
		Loss: probe.LossConfig{
			Mode:    strings.ToLower(strings.TrimSpace(n.PacketLoss.Mode)),
			Targets: append([]string(nil), n.PacketLoss.Targets...),
			Count:   n.PacketLoss.Count,
			Timeout: echoTimeout,
			ICMP:    n.PacketLoss.ICMP,
		},
	}, nil
}

func mapRunConfig(cfg *config.Config) (speedpkg.RunConfig, error) {
	s := cfg.Speedtest
	settle, err := config.ParseDurationField("speedtest.settle_delay", s.SettleDelay)
	if err != nil {
		return speedpkg.RunConfig{}, err
	}
	if s.MaxMbps < 0 || s.MinMbps < 0 || s.DownloadFactor < 0 || s.UploadFactor < 0 {
		return speedpkg.RunConfig{}, errors.New("speedtest factors and bounds must be >= 0")
	}
	if s.MaxMbps > 0 && s.MinMbps >= s.MaxMbps {
		return speedpkg.RunConfig{}, fmt.Errorf("speedtest.min_mbps (%v) must be below max_mbps (%v)", s.MinMbps, s.MaxMbps)
	}
	return speedpkg.RunConfig{
		Threads:        s.Threads,
		Samples:        s.Samples,
		ServerCount:    s.ServerCount,
		SettleDelay:    settle,
		DownloadFactor: s.DownloadFactor,
		UploadFactor:   s.UploadFactor,
		MaxMbps:        s.MaxMbps,
		MinMbps:        s.MinMbps,
		SavingMode:     s.SavingMode,
	}, nil
}

func mapSpeedtestOptions(cfg *config.Config) (speedtest.Options, error) {
	run, err := mapRunConfig(cfg)
	if err != nil {
		return speedtest.Options{}, err
	}
	timeout, err := config.ParseDurationField("speedtest.timeout", cfg.Speedtest.Timeout)
	if err != nil {
		return speedtest.Options{}, err
	}
	stale, err := config.ParseDurationField("speedtest.status_stale_after", cfg.Speedtest.StatusStaleAfter)
	if err != nil {
		return speedtest.Options{}, err
	}
	return speedtest.Options{Run: run, Timeout: timeout, StaleAfter: stale}, nil
}

func mapCacheOptions(cfg *config.Config) (telemetry.Options, error) {
	n := cfg.Network
	baseline, err := config.ParseDurationField("network.baseline_interval", n.BaselineInterval)
	if err != nil {
		return telemetry.Options{}, err
	}
	spacing, err := config.ParseDurationField("network.history.transfer_spacing", n.History.TransferSpacing)
	if err != nil {
		return telemetry.Options{}, err
	}
	bounds, err := mapRunConfig(cfg)
	if err != nil {
		return telemetry.Options{}, err
	}
	return telemetry.Options{
		BandwidthCap:    n.History.Bandwidth,
		LatencyCap:      n.History.Latency,
		TransferCap:     n.History.Transfer,
		TransferSpacing: spacing,
		Baseline:        baseline,
		Bounds:          bounds,
	}, nil
}

func mapRefreshInterval(cfg *config.Config) (time.Duration, error) {
	d, err := config.ParseDurationOrDefault("network.refresh_interval", cfg.Network.RefreshInterval, defaultRefreshInterval)
	if err != nil {
		return 0, err
	}
	if d < time.Second {
		return 0, fmt.Errorf("network.refresh_interval must be >= 1s, got %s", d)
	}
	return d, nil
}

type scanSettings struct {
	Enabled  bool
	Interval time.Duration
	Config   scan.Config
}

func mapScanConfig(cfg *config.Config) (scanSettings, error) {
	s := cfg.Network.Scan
	interval, err := config.ParseDurationOrDefault("network.scan.interval", s.Interval, defaultScanInterval)
	if err != nil {
		return scanSettings{}, err
	}
	timeout, err := config.ParseDurationField("network.scan.timeout", s.Timeout)
	if err != nil {
		return scanSettings{}, err
	}
	if s.RangeStart < 0 || s.RangeEnd < 0 || (s.RangeEnd > 0 && s.RangeStart > s.RangeEnd) {
		return scanSettings{}, fmt.Errorf("network.scan: invalid range %d..%d", s.RangeStart, s.RangeEnd)
	}
	return scanSettings{
		Enabled:  s.Enabled == nil || *s.Enabled,
		Interval: interval,
		Config:   scan.Config{RangeStart: s.RangeStart, RangeEnd: s.RangeEnd, Timeout: timeout},
	}, nil
}

func mapAlertConfig(cfg *config.Config) (alert.Config, error) {
	a := cfg.Alerts
	if a == nil {
		return alert.Config{}, nil
	}
	cooldown, err := config.ParseDurationField("alerts.cooldown", a.Cooldown)
	if err != nil {
		return alert.Config{}, err
	}
	if a.StabilityBelow > 100 {
		return alert.Config{}, errors.New("alerts.stability_below must be <= 100")
	}
	return alert.Config{
		Enabled:          a.Enabled,
		StabilityBelow:   a.StabilityBelow,
		PacketLossAbove:  a.PacketLossAbove,
		Cooldown:         cooldown,
		SpeedtestSummary: a.SpeedtestSummary,
		ChatID:           cfg.Telegram.ChatID,
		ThreadID:         a.ThreadID,
	}, nil
}

func mapPprofConfig(cfg *config.Config) (pprof.Config, error) {
	p := cfg.Pprof
	if p.MutexProfileFraction < 0 || p.BlockProfileRate < 0 {
		return pprof.Config{}, errors.New("pprof profile rates must be >= 0")
	}
	return pprof.Config{
		Enabled:              p.Enabled,
		Prefix:               p.Prefix,
		MutexProfileFraction: p.MutexProfileFraction,
		BlockProfileRate:     p.BlockProfileRate,
	}, nil
}

// settings is a fully parsed Config, ready to hand to components.
type settings struct {
	HTTP      httpSettings
	Log       logx.Config
	Probe     probe.Config
	Refresh   time.Duration
	Cache     telemetry.Options
	Scan      scanSettings
	Speedtest speedtest.Options
	Alerts    alert.Config
	Pprof     pprof.Config
}

func mapSettings(cfg *config.Config) (settings, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if lvl := strings.TrimSpace(cfg.Logging.Level); !logx.ValidLevel(lvl) {
		return settings{}, fmt.Errorf("logging.level: unknown level %q", lvl)
	}
	var (
		s   settings
		err error
	)
	s.Log = mapLogConfig(cfg)
	if s.HTTP, err = mapHTTPConfig(cfg); err != nil {
		return settings{}, err
	}
	if s.Probe, err = mapProbeConfig(cfg); err != nil {
		return settings{}, err
	}
	if s.Refresh, err = mapRefreshInterval(cfg); err != nil {
		return settings{}, err
	}
	if s.Cache, err = mapCacheOptions(cfg); err != nil {
		return settings{}, err
	}
	if s.Scan, err = mapScanConfig(cfg); err != nil {
		return settings{}, err
	}
	if s.Speedtest, err = mapSpeedtestOptions(cfg); err != nil {
		return settings{}, err
	}
	if s.Alerts, err = mapAlertConfig(cfg); err != nil {
		return settings{}, err
	}
	if s.Pprof, err = mapPprofConfig(cfg); err != nil {
		return settings{}, err
	}
	return s, nil
}

// validateConfig rejects a hot reload before it is committed.
func validateConfig(_ context.Context, cfg *config.Config) error {
	_, err := mapSettings(cfg)
	return err
}
