package sysinfo

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
)

type CPUUsage struct {
	Usage             float64  `json:"cpu_usage"`
	BaseSpeedGHz      *float64 `json:"base_speed_ghz"`
	Sockets           int      `json:"sockets"`
	Cores             int      `json:"cores"`
	LogicalProcessors int      `json:"logical_processors"`
}

type CPUTemperature struct {
	Celsius float64 `json:"cpu_temperature"`
	Sensor  string  `json:"sensor,omitempty"`
}

// CPUUsage samples the average utilization across all logical CPUs.
func (c *Collector) CPUUsage(ctx context.Context) (CPUUsage, error) {
	per, err := cpu.PercentWithContext(ctx, c.sample, true)
	if err != nil {
		return CPUUsage{}, fmt.Errorf("cpu percent: %w", err)
	}
	if len(per) == 0 {
		return CPUUsage{}, ErrUnavailable
	}
	var sum float64
	for _, p := range per {
		sum += p
	}
	out := CPUUsage{Usage: math.Round(sum/float64(len(per))*10) / 10}

	if n, err := cpu.CountsWithContext(ctx, false); err == nil {
		out.Cores = n
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		out.LogicalProcessors = n
	}
	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		out.Sockets = countSockets(infos)
		if infos[0].Mhz > 0 {
			ghz := math.Round(infos[0].Mhz/10) / 100
			out.BaseSpeedGHz = &ghz
		}
	}
	return out, nil
}

func countSockets(infos []cpu.InfoStat) int {
	seen := map[string]struct{}{}
	for _, in := range infos {
		seen[in.PhysicalID] = struct{}{}
	}
	if len(seen) == 0 {
		return 1
	}
	return len(seen)
}

func (c *Collector) CPUTemperature(ctx context.Context) (CPUTemperature, error) {
	temps, err := host.SensorsTemperaturesWithContext(ctx)
	// Partial sensor errors still come with readings.
	if len(temps) == 0 {
		if err != nil {
			return CPUTemperature{}, fmt.Errorf("sensors: %w", err)
		}
		return CPUTemperature{}, ErrUnavailable
	}
	best, ok := pickCPUTemperature(temps)
	if !ok {
		return CPUTemperature{}, ErrUnavailable
	}
	return CPUTemperature{Celsius: math.Round(best.Temperature*10) / 10, Sensor: best.SensorKey}, nil
}

// pickCPUTemperature prefers package sensors, then AMD control/die sensors, then anything
// named like a CPU core. Ties go to the hotter sensor.
func pickCPUTemperature(temps []host.TemperatureStat) (host.TemperatureStat, bool) {
	var best host.TemperatureStat
	bestScore := -1
	for _, t := range temps {
		if t.Temperature <= 0 || math.IsNaN(t.Temperature) || math.IsInf(t.Temperature, 0) {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(t.SensorKey))
		score := 0
		switch {
		case strings.Contains(key, "package"):
			score += 50
		case strings.Contains(key, "tctl"), strings.Contains(key, "tdie"):
			score += 40
		}
		if strings.Contains(key, "coretemp") || strings.Contains(key, "k10temp") {
			score += 20
		}
		if strings.Contains(key, "cpu") {
			score += 10
		}
		if strings.Contains(key, "core") {
			score += 5
		}
		if score > bestScore || (score == bestScore && t.Temperature > best.Temperature) {
			best, bestScore = t, score
		}
	}
	return best, bestScore >= 0
}
