package config

import (
	"reflect"
	"sort"
	"strings"

	"hostpulse/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections, safe structured attrs for
// logging (secrets such as the Telegram token are never included), and the subset of changed
// sections that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	o, n := oldCfg.HTTP, newCfg.HTTP
	if o.RatePerSec != n.RatePerSec || o.Burst != n.Burst {
		changed = append(changed, "http.rate_limit")
		attrs = append(attrs, logx.Int("http.rate_per_sec", n.RatePerSec), logx.Int("http.burst", n.Burst))
	}
	o.RatePerSec, o.Burst, n.RatePerSec, n.Burst = 0, 0, 0, 0
	if !reflect.DeepEqual(o, n) {
		changed = append(changed, "http")
		restart = append(restart, "http")
		attrs = append(attrs, logx.String("http.addr", strings.TrimSpace(n.Addr)))
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	on, nn := oldCfg.Network, newCfg.Network
	if on.History != nn.History {
		changed = append(changed, "network.history")
		restart = append(restart, "network.history")
	}
	on.History, nn.History = HistoryConfig{}, HistoryConfig{}
	if !reflect.DeepEqual(on, nn) {
		changed = append(changed, "network")
		attrs = append(attrs,
			logx.String("network.refresh_interval", strings.TrimSpace(nn.RefreshInterval)),
			logx.String("network.packet_loss.mode", strings.TrimSpace(nn.PacketLoss.Mode)),
			logx.Int("network.packet_loss.targets", len(nn.PacketLoss.Targets)),
		)
	}

	if oldCfg.Speedtest != newCfg.Speedtest {
		changed = append(changed, "speedtest")
		attrs = append(attrs,
			logx.Int("speedtest.threads", newCfg.Speedtest.Threads),
			logx.Int("speedtest.samples", newCfg.Speedtest.Samples),
		)
	}

	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		restart = append(restart, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.Bool("telegram.chat_set", newCfg.Telegram.ChatID != 0),
		)
	}

	if !reflect.DeepEqual(oldCfg.Alerts, newCfg.Alerts) {
		changed = append(changed, "alerts")
		attrs = append(attrs, logx.Bool("alerts.enabled", newCfg.Alerts != nil && newCfg.Alerts.Enabled))
	}

	if oldCfg.Pprof != newCfg.Pprof {
		changed = append(changed, "pprof")
		restart = append(restart, "pprof")
	}

	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}
