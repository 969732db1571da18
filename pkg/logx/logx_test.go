package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestWithFieldsAreStructured(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "cache"))
	log.Info("refreshed", Float64("ping", 12.5), Err(errors.New("boom")), Err(nil))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("output is not json: %v (%q)", err, buf.String())
	}
	if m["comp"] != "cache" {
		t.Fatalf("comp=%v", m["comp"])
	}
	if m["ping"] != 12.5 {
		t.Fatalf("ping=%v", m["ping"])
	}
	if m["err"] != "boom" {
		t.Fatalf("err=%v", m["err"])
	}
	if _, ok := m["caller"]; !ok {
		t.Fatalf("expected caller field")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
	log.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("warn line missing: %q", buf.String())
	}
	if log.Enabled(LevelDebug) {
		t.Fatalf("debug should not be enabled")
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.Error("nothing happens")
	l.With(String("k", "v")).Info("still nothing")
}

func TestValidLevel(t *testing.T) {
	for _, s := range []string{"", "info", "DEBUG", " warning ", "trace", "error"} {
		if !ValidLevel(s) {
			t.Errorf("ValidLevel(%q)=false", s)
		}
	}
	if ValidLevel("loud") {
		t.Errorf("ValidLevel(loud)=true")
	}
}

func TestRenderLineSortsKeys(t *testing.T) {
	line := `{"level":"warn","time":"x","message":"link degraded","zeta":1,"alpha":"a"}`
	got := renderLine([]byte(line))
	want := "[WARN] link degraded\n- alpha=a\n- zeta=1"
	if got != want {
		t.Fatalf("renderLine=%q want %q", got, want)
	}
	if got := renderLine([]byte("  not json \n")); got != "not json" {
		t.Fatalf("raw fallback=%q", got)
	}
}

func TestStdLogWritesAtLevel(t *testing.T) {
	var buf bytes.Buffer
	std := NewWriter(&buf, "info").StdLog(LevelWarn)
	std.Printf("http: TLS handshake error")
	if !strings.Contains(buf.String(), `"level":"warn"`) {
		t.Fatalf("expected warn level line, got %q", buf.String())
	}
}

type recordingSender struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingSender) SendText(_ context.Context, chatID int64, _ int, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.texts)
}

func TestTelegramSinkRespectsMinLevel(t *testing.T) {
	sender := &recordingSender{}
	svc, log := New(Config{
		Level: "debug",
		Telegram: TelegramConfig{
			Enabled:    true,
			ChatID:     42,
			MinLevel:   "error",
			RatePerSec: 10,
		},
	}, sender)
	defer svc.Close()

	log.Warn("below threshold")
	log.Error("above threshold")

	deadline := time.Now().Add(2 * time.Second)
	for sender.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sender.count() != 1 {
		t.Fatalf("expected exactly one forwarded line, got %d", sender.count())
	}
	if !strings.Contains(sender.texts[0], "above threshold") {
		t.Fatalf("unexpected text %q", sender.texts[0])
	}
}
