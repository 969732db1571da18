package sysinfo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const nvidiaQuery = "--query-gpu=name,utilization.gpu,temperature.gpu,clocks.gr,clocks.mem"

// GPU is the first adapter reported by nvidia-smi. Pointer fields are nil when the driver
// reports N/A.
type GPU struct {
	Name           string   `json:"name"`
	UsagePercent   *float64 `json:"gpu_usage_percent"`
	Temperature    *float64 `json:"gpu_temperature"`
	ClockMHz       *float64 `json:"gpu_clock_speed"`
	MemoryClockMHz *float64 `json:"vram_clock_speed"`
}

func (c *Collector) GPU(ctx context.Context) (GPU, error) {
	out, err := c.command(ctx, 5*time.Second, "nvidia-smi", nvidiaQuery, "--format=csv,noheader,nounits")
	if err != nil {
		return GPU{}, fmt.Errorf("nvidia-smi: %w", errors.Join(ErrUnavailable, err))
	}
	return parseNvidiaSMI(string(out))
}

func (c *Collector) GPUUsage(ctx context.Context) (float64, error) {
	g, err := c.GPU(ctx)
	if err != nil {
		return 0, err
	}
	if g.UsagePercent == nil {
		return 0, ErrUnavailable
	}
	return *g.UsagePercent, nil
}

func (c *Collector) GPUTemperature(ctx context.Context) (float64, error) {
	g, err := c.GPU(ctx)
	if err != nil {
		return 0, err
	}
	if g.Temperature == nil {
		return 0, ErrUnavailable
	}
	return *g.Temperature, nil
}

// parseNvidiaSMI reads the first CSV row of the query above.
func parseNvidiaSMI(out string) (GPU, error) {
	line := strings.TrimSpace(strings.SplitN(strings.TrimSpace(out), "\n", 2)[0])
	if line == "" {
		return GPU{}, ErrUnavailable
	}
	cols := strings.Split(line, ",")
	if len(cols) < 5 {
		return GPU{}, fmt.Errorf("nvidia-smi: unexpected output %q", line)
	}
	for i := range cols {
		cols[i] = strings.TrimSpace(cols[i])
	}
	return GPU{
		Name:           cols[0],
		UsagePercent:   parseOptional(cols[1]),
		Temperature:    parseOptional(cols[2]),
		ClockMHz:       parseOptional(cols[3]),
		MemoryClockMHz: parseOptional(cols[4]),
	}, nil
}

func parseOptional(s string) *float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
