package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestParseMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(filepath.Join(t.TempDir(), "absent.yaml"))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "info" || !cfg.Logging.Console {
		t.Fatalf("unexpected defaults: %+v", cfg.Logging)
	}
	if m.Get() != cfg {
		t.Fatalf("Load should commit the parsed config")
	}
}

func TestDecodeYAMLAndJSON(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		path string
		body string
	}{
		{
			name: "yaml",
			path: "c.yaml",
			body: "network:\n  refresh_interval: 15s\n  packet_loss:\n    targets: [1.1.1.1]\n    count: 5\nspeedtest:\n  threads: 8\n",
		},
		{
			name: "json",
			path: "c.json",
			body: `{"network":{"refresh_interval":"15s","packet_loss":{"targets":["1.1.1.1"],"count":5}},"speedtest":{"threads":8}}`,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Decode(tc.path, []byte(tc.body))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if cfg.Network.RefreshInterval != "15s" {
				t.Fatalf("refresh_interval=%q", cfg.Network.RefreshInterval)
			}
			if len(cfg.Network.PacketLoss.Targets) != 1 || cfg.Network.PacketLoss.Count != 5 {
				t.Fatalf("packet_loss=%+v", cfg.Network.PacketLoss)
			}
			if cfg.Speedtest.Threads != 8 {
				t.Fatalf("threads=%d", cfg.Speedtest.Threads)
			}
		})
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	if _, err := Decode("c.yaml", []byte("network:\n  refresh_every: 10s\n")); err == nil {
		t.Fatalf("expected unknown field error")
	}
	if _, err := Decode("c.json", []byte(`{"http":{}} {"http":{}}`)); err == nil {
		t.Fatalf("expected trailing data error")
	}
}

func TestDecodeEmptyYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("c.yml", []byte("\n"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("empty yaml should decode to defaults, got %+v", cfg.Logging)
	}
}

func TestParseDurationHelpers(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationOrDefault("x", "", 3*time.Second); err != nil || d != 3*time.Second {
		t.Fatalf("default: %v %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "250ms", time.Second); err != nil || d != 250*time.Millisecond {
		t.Fatalf("parsed: %v %v", d, err)
	}
	if _, err := ParseDurationField("network.refresh_interval", "-1s"); err == nil {
		t.Fatalf("expected negative duration error")
	}
	if _, err := ParseDurationField("network.refresh_interval", "soon"); err == nil {
		t.Fatalf("expected parse error")
	}
	if IntOrDefault(0, 7) != 7 || IntOrDefault(3, 7) != 3 {
		t.Fatalf("IntOrDefault")
	}
	if FloatOrDefault(-1, 0.85) != 0.85 {
		t.Fatalf("FloatOrDefault")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Telegram: TelegramConfig{Token: "a"}}
	newCfg := &Config{
		Telegram: TelegramConfig{Token: "b"},
		HTTP:     HTTPConfig{RatePerSec: 5},
		Network:  NetworkConfig{RefreshInterval: "10s"},
	}
	changed, attrs, restart := SummarizeConfigChange(oldCfg, newCfg)
	want := []string{"http.rate_limit", "network", "telegram"}
	if len(changed) != len(want) {
		t.Fatalf("changed=%v want %v", changed, want)
	}
	for i := range want {
		if changed[i] != want[i] {
			t.Fatalf("changed=%v want %v", changed, want)
		}
	}
	if len(restart) != 1 || restart[0] != "telegram" {
		t.Fatalf("restart=%v", restart)
	}
	if len(attrs) == 0 {
		t.Fatalf("expected attrs")
	}
}

func TestWatchPublishesValidatedChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hostpulse.yaml")
	writeFile(t, path, "network:\n  refresh_interval: 30s\n")

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Network.RefreshInterval == "1ns" {
			return errors.New("too fast")
		}
		return nil
	})
	sub := m.Subscribe(4)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(200 * time.Millisecond)
	writeFile(t, path, "network:\n  refresh_interval: 1ns\n")
	select {
	case cfg := <-sub:
		t.Fatalf("rejected config was published: %+v", cfg.Network)
	case <-time.After(800 * time.Millisecond):
	}

	writeFile(t, path, "network:\n  refresh_interval: 10s\n")
	select {
	case cfg := <-sub:
		if cfg.Network.RefreshInterval != "10s" {
			t.Fatalf("refresh_interval=%q", cfg.Network.RefreshInterval)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for config publish")
	}
	if got := m.Get().Network.RefreshInterval; got != "10s" {
		t.Fatalf("committed refresh_interval=%q", got)
	}
}
