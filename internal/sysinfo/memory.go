package sysinfo

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"
)

type Memory struct {
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	Available   uint64  `json:"available"`
	Cached      uint64  `json:"cached"`
	UsedPercent float64 `json:"percent"`
}

func (c *Collector) Memory(ctx context.Context) (Memory, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Memory{}, fmt.Errorf("virtual memory: %w", err)
	}
	return Memory{
		Total:       vm.Total,
		Used:        vm.Used,
		Available:   vm.Available,
		Cached:      vm.Cached,
		UsedPercent: round2(vm.UsedPercent),
	}, nil
}
