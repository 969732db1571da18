package alert

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"hostpulse/internal/eventbus"
	"hostpulse/internal/network/speedtest"
	"hostpulse/internal/network/telemetry"
	"hostpulse/pkg/logx"
	speedpkg "hostpulse/pkg/speedtest"
)

type memSender struct {
	mu   sync.Mutex
	msgs []string
}

func (m *memSender) SendText(_ context.Context, _ int64, _ int, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, text)
	return nil
}

func (m *memSender) all() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.msgs...)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestService(cfg Config) (*Service, *memSender, *clock) {
	snd := &memSender{}
	clk := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := New(cfg, snd, eventbus.New(), logx.Nop(),
		WithClock(clk.now),
		WithLimiter(rate.NewLimiter(rate.Inf, 1)),
	)
	return s, snd, clk
}

func refreshed(stability, loss float64) eventbus.Event {
	return eventbus.Event{Type: eventbus.NetworkRefreshed, Data: telemetry.Snapshot{Ping: 20, Stability: stability, PacketLoss: loss}}
}

func TestDisabledSendsNothing(t *testing.T) {
	t.Parallel()
	s, snd, _ := newTestService(Config{})
	s.Handle(context.Background(), refreshed(10, 50))
	if n := len(snd.all()); n != 0 {
		t.Fatalf("sent %d messages while disabled", n)
	}
}

func TestStabilityAlertCooldownAndRecovery(t *testing.T) {
	t.Parallel()
	s, snd, clk := newTestService(Config{Enabled: true, Cooldown: 10 * time.Minute})
	ctx := context.Background()

	s.Handle(ctx, refreshed(30, 0))
	s.Handle(ctx, refreshed(31, 0))
	if got := snd.all(); len(got) != 1 || !strings.HasPrefix(got[0], "Link stability 30.0 below 50.0") {
		t.Fatalf("after first breach: %q", got)
	}

	clk.t = clk.t.Add(11 * time.Minute)
	s.Handle(ctx, refreshed(32, 0))
	if got := snd.all(); len(got) != 2 {
		t.Fatalf("cooldown elapsed, want repeat alert: %q", got)
	}

	s.Handle(ctx, refreshed(70, 0))
	s.Handle(ctx, refreshed(72, 0))
	got := snd.all()
	if len(got) != 3 || !strings.Contains(got[2], "recovered") {
		t.Fatalf("want one recovery message: %q", got)
	}
}

func TestUnmeasuredPingSkipsStability(t *testing.T) {
	t.Parallel()
	s, snd, _ := newTestService(Config{Enabled: true})
	s.Handle(context.Background(), eventbus.Event{Type: eventbus.NetworkRefreshed, Data: telemetry.Snapshot{Stability: 0}})
	if n := len(snd.all()); n != 0 {
		t.Fatalf("sent %d messages for unmeasured ping", n)
	}
}

func TestPacketLossAlert(t *testing.T) {
	t.Parallel()
	s, snd, _ := newTestService(Config{Enabled: true, PacketLossAbove: 2})
	s.Handle(context.Background(), refreshed(90, 3.33))
	if got := snd.all(); len(got) != 1 || got[0] != "Packet loss 3.33% above 2.00%" {
		t.Fatalf("got %q", got)
	}
}

func TestSpeedtestSummary(t *testing.T) {
	t.Parallel()
	s, snd, _ := newTestService(Config{Enabled: true, SpeedtestSummary: true})
	res := &speedpkg.Result{Download: 94.5, Upload: 18.25, Ping: 12.3, Server: speedpkg.ServerInfo{Name: "Acme", Location: "Oslo"}}
	s.Handle(context.Background(), eventbus.Event{Type: eventbus.SpeedtestFinished, Data: speedtest.RunEvent{Result: res}})
	s.Handle(context.Background(), eventbus.Event{Type: eventbus.SpeedtestFailed, Data: speedtest.RunEvent{Error: "no servers"}})
	got := snd.all()
	if len(got) != 2 {
		t.Fatalf("got %q", got)
	}
	if got[0] != "Speed test: down 94.50 Mbps, up 18.25 Mbps, ping 12.3 ms (Acme, Oslo)" {
		t.Fatalf("summary=%q", got[0])
	}
	if got[1] != "Speed test failed: no servers" {
		t.Fatalf("failure=%q", got[1])
	}
}

func TestRateLimiterDrops(t *testing.T) {
	t.Parallel()
	snd := &memSender{}
	s := New(Config{Enabled: true, SpeedtestSummary: true}, snd, nil, logx.Nop(),
		WithLimiter(rate.NewLimiter(rate.Every(time.Hour), 1)))
	ev := eventbus.Event{Type: eventbus.SpeedtestFailed, Data: speedtest.RunEvent{Error: "x"}}
	s.Handle(context.Background(), ev)
	s.Handle(context.Background(), ev)
	if n := len(snd.all()); n != 1 {
		t.Fatalf("sent %d want 1", n)
	}
}

func TestRunConsumesBus(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	snd := &memSender{}
	s := New(Config{Enabled: true, SpeedtestSummary: true}, snd, bus, logx.Nop(),
		WithLimiter(rate.NewLimiter(rate.Inf, 1)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(snd.all()) == 0 && time.Now().Before(deadline) {
		bus.Publish(eventbus.Event{Type: eventbus.SpeedtestFailed, Data: speedtest.RunEvent{Error: "boom"}})
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
	if len(snd.all()) == 0 {
		t.Fatalf("Run did not deliver any event")
	}
}
