package probe

import (
	"context"
	"math"
	"sync"
	"time"

	"hostpulse/pkg/logx"
)

type lossCount struct {
	sent int
	lost int
}

// PacketLoss sends an echo batch and returns lost/sent as a percentage with two decimals.
// A target that cannot be probed at all counts every packet as lost.
func (s *System) PacketLoss(ctx context.Context) float64 {
	targets, count := s.lossPlan()

	results := make([]lossCount, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = s.lossTarget(ctx, target, count)
		}()
	}
	wg.Wait()

	var sent, lost int
	for _, r := range results {
		sent += r.sent
		lost += r.lost
	}
	return LossPercent(sent, lost)
}

// LossPercent rounds lost/sent to two decimals. No packets sent yields 0.
func LossPercent(sent, lost int) float64 {
	if sent <= 0 {
		return 0
	}
	return math.Round(float64(lost)/float64(sent)*100*100) / 100
}

func (s *System) lossPlan() ([]string, int) {
	l := s.cfg.Loss
	if l.Mode == LossFast {
		return l.Targets[:1], max(1, l.Count/2)
	}
	return l.Targets, l.Count
}

func (s *System) lossTarget(ctx context.Context, target string, count int) lossCount {
	timeout := s.cfg.Loss.Timeout
	// Budget: every echo may wait the full timeout, plus the 1s default send interval of ping.
	budget := time.Duration(count)*(timeout+time.Second) + s.cfg.ProbeTimeout
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	if s.cfg.Loss.ICMP {
		sent, recv, err := echoBatch(ctx, target, count, timeout)
		if err == nil {
			return lossCount{sent: sent, lost: sent - recv}
		}
		s.log.Debug("icmp echo unavailable, using ping binary", logx.String("target", target), logx.Err(err))
	}

	waitSec := max(1, int(timeout/time.Second))
	out, err := s.run(ctx, "ping", pingArgs(s.goos, target, count, waitSec)...)
	if sent, recv, ok := ParseLossCounts(s.goos, string(out)); ok {
		return lossCount{sent: sent, lost: max(0, sent-recv)}
	}
	s.log.Debug("packet loss probe failed", logx.String("target", target), logx.Err(err))
	return lossCount{sent: count, lost: count}
}
