// Package alert pushes short Telegram messages when link quality degrades or a speed test
// finishes. It only listens on the event bus and never touches the cache.
package alert

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"hostpulse/internal/eventbus"
	"hostpulse/internal/network/speedtest"
	"hostpulse/internal/network/telemetry"
	"hostpulse/pkg/logx"
)

const (
	DefaultStabilityBelow  = 50.0
	DefaultPacketLossAbove = 5.0
	DefaultCooldown        = 15 * time.Minute
)

// Sender is implemented by the Telegram client.
type Sender interface {
	SendText(ctx context.Context, chatID int64, threadID int, text string) error
}

type Config struct {
	Enabled          bool
	StabilityBelow   float64
	PacketLossAbove  float64
	Cooldown         time.Duration
	SpeedtestSummary bool
	ChatID           int64
	ThreadID         int
}

func (c Config) withDefaults() Config {
	if c.StabilityBelow <= 0 {
		c.StabilityBelow = DefaultStabilityBelow
	}
	if c.PacketLossAbove <= 0 {
		c.PacketLossAbove = DefaultPacketLossAbove
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	return c
}

type kind string

const (
	kindStability kind = "stability"
	kindLoss      kind = "packet_loss"
)

type Service struct {
	log    logx.Logger
	bus    eventbus.Bus
	sender Sender
	now    func() time.Time

	limiter *rate.Limiter

	mu       sync.Mutex
	cfg      Config
	lastSent map[kind]time.Time
	firing   map[kind]bool
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithLimiter replaces the outbound message limiter (default: one message per 10s, burst 3).
func WithLimiter(l *rate.Limiter) Option { return func(s *Service) { s.limiter = l } }

func New(cfg Config, sender Sender, bus eventbus.Bus, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:      log,
		bus:      bus,
		sender:   sender,
		now:      time.Now,
		limiter:  rate.NewLimiter(rate.Every(10*time.Second), 3),
		cfg:      cfg.withDefaults(),
		lastSent: map[kind]time.Time{},
		firing:   map[kind]bool{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetConfig applies thresholds on the fly. Cooldown state is kept.
func (s *Service) SetConfig(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Run consumes bus events until ctx ends.
func (s *Service) Run(ctx context.Context) {
	if s.bus == nil || s.sender == nil {
		return
	}
	ch, unsub := s.bus.Subscribe(32)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.Handle(ctx, ev)
		}
	}
}

// Handle processes one event. Exposed for tests and for synchronous callers.
func (s *Service) Handle(ctx context.Context, ev eventbus.Event) {
	cfg := s.config()
	if !cfg.Enabled {
		return
	}
	switch ev.Type {
	case eventbus.NetworkRefreshed:
		snap, ok := ev.Data.(telemetry.Snapshot)
		if !ok {
			return
		}
		s.checkLink(ctx, cfg, snap)
	case eventbus.SpeedtestFinished:
		if !cfg.SpeedtestSummary {
			return
		}
		run, ok := ev.Data.(speedtest.RunEvent)
		if !ok || run.Result == nil {
			return
		}
		r := run.Result
		msg := fmt.Sprintf("Speed test: down %.2f Mbps, up %.2f Mbps, ping %.1f ms (%s, %s)",
			r.Download, r.Upload, r.Ping, r.Server.Name, r.Server.Location)
		s.send(ctx, cfg, msg)
	case eventbus.SpeedtestFailed:
		if !cfg.SpeedtestSummary {
			return
		}
		if run, ok := ev.Data.(speedtest.RunEvent); ok {
			s.send(ctx, cfg, "Speed test failed: "+run.Error)
		}
	}
}

func (s *Service) checkLink(ctx context.Context, cfg Config, snap telemetry.Snapshot) {
	// Ping 0 means the probe could not measure; stability is meaningless then.
	if snap.Ping > 0 {
		s.evaluate(ctx, cfg, kindStability, snap.Stability < cfg.StabilityBelow,
			fmt.Sprintf("Link stability %.1f below %.1f (ping %.1f ms, jitter %.1f ms, loss %.2f%%)",
				snap.Stability, cfg.StabilityBelow, snap.Ping, snap.Jitter, snap.PacketLoss),
			fmt.Sprintf("Link stability recovered: %.1f", snap.Stability))
	}
	s.evaluate(ctx, cfg, kindLoss, snap.PacketLoss > cfg.PacketLossAbove,
		fmt.Sprintf("Packet loss %.2f%% above %.2f%%", snap.PacketLoss, cfg.PacketLossAbove),
		fmt.Sprintf("Packet loss recovered: %.2f%%", snap.PacketLoss))
}

// evaluate fires on a rising edge, or again while still bad once the cooldown has passed.
// A falling edge sends a single recovery message.
func (s *Service) evaluate(ctx context.Context, cfg Config, k kind, bad bool, alertMsg, okMsg string) {
	now := s.now()
	s.mu.Lock()
	was := s.firing[k]
	last := s.lastSent[k]
	fire := bad && (!was || now.Sub(last) >= cfg.Cooldown)
	recovered := !bad && was
	if fire {
		s.lastSent[k] = now
	}
	s.firing[k] = bad
	s.mu.Unlock()

	switch {
	case fire:
		s.send(ctx, cfg, alertMsg)
	case recovered:
		s.send(ctx, cfg, okMsg)
	}
}

func (s *Service) send(ctx context.Context, cfg Config, text string) {
	if !s.limiter.Allow() {
		s.log.Debug("alert dropped by rate limit", logx.String("text", text))
		return
	}
	text = strings.TrimSpace(text)
	if err := s.sender.SendText(ctx, cfg.ChatID, cfg.ThreadID, text); err != nil {
		s.log.Warn("alert send failed", logx.Err(err))
		return
	}
	s.log.Info("alert sent", logx.String("text", text))
}
