package sysinfo

import (
	"context"
	"fmt"
	"sort"

	"github.com/shirou/gopsutil/v3/process"
)

type Process struct {
	PID         int32   `json:"pid"`
	Name        string  `json:"name"`
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryUsage uint64  `json:"memory_usage"` // RSS bytes
}

// Processes lists running processes ordered by resident memory, largest first. Processes that
// exit or deny access mid-listing are skipped. limit <= 0 returns all.
func (c *Collector) Processes(ctx context.Context, limit int) ([]Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("processes: %w", err)
	}
	out := make([]Process, 0, len(procs))
	for _, p := range procs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		pr := Process{PID: p.Pid, Name: name}
		if cpuPct, err := p.CPUPercentWithContext(ctx); err == nil {
			pr.CPUPercent = round2(cpuPct)
		}
		if mi, err := p.MemoryInfoWithContext(ctx); err == nil && mi != nil {
			pr.MemoryUsage = mi.RSS
		}
		out = append(out, pr)
	}
	return topByMemory(out, limit), nil
}

func topByMemory(ps []Process, limit int) []Process {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].MemoryUsage != ps[j].MemoryUsage {
			return ps[i].MemoryUsage > ps[j].MemoryUsage
		}
		return ps[i].PID < ps[j].PID
	})
	if limit > 0 && len(ps) > limit {
		ps = ps[:limit]
	}
	return ps
}
