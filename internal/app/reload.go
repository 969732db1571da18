package app

import (
	"context"
	"strings"

	"hostpulse/internal/config"
	"hostpulse/pkg/logx"
)

// reloadLoop applies committed configs published by the config manager.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			next = latest(sub, next)
			a.applyConfig(lastApplied, next)
			lastApplied = next
		}
	}
}

// latest drains a burst of pending configs and keeps the newest.
func latest(sub chan *config.Config, cfg *config.Config) *config.Config {
	for {
		select {
		case newer := <-sub:
			if newer != nil {
				cfg = newer
			}
		default:
			return cfg
		}
	}
}

// applyConfig fans a validated config out to the live components. Listener settings, pprof,
// ring capacities and the Telegram client only change on restart.
func (a *App) applyConfig(prev, next *config.Config) {
	set, err := mapSettings(next)
	if err != nil {
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}
	sections, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(set.Log)

	p := a.newProber(set.Probe, a.log.With(logx.String("comp", "probe")))
	a.mu.Lock()
	a.prober = p
	a.mu.Unlock()
	a.cache.SetProber(p)
	a.cache.SetBounds(set.Cache.Bounds)

	a.applySchedules(set)
	a.api.SetRateLimit(next.HTTP.RatePerSec, next.HTTP.Burst)
	a.speed.SetOptions(set.Speedtest)
	if a.alerts != nil {
		a.alerts.SetConfig(set.Alerts)
	}

	a.mu.Lock()
	// The listener keeps its startup settings.
	set.HTTP, set.Pprof = a.set.HTTP, a.set.Pprof
	a.set = set
	a.mu.Unlock()

	if len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.Strings("sections", restart))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
