package probe

import (
	"context"

	"hostpulse/pkg/logx"
)

// Latency sends one echo to the ping target and returns the round trip in ms.
// 0 means the probe failed. There is no retry.
func (s *System) Latency(ctx context.Context) float64 {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	out, err := s.run(ctx, "ping", pingArgs(s.goos, s.cfg.PingTarget, 1, 1)...)
	if err != nil {
		s.log.Debug("latency probe failed", logx.String("target", s.cfg.PingTarget), logx.Err(err))
		return 0
	}
	return ParseRTT(s.goos, string(out))
}
