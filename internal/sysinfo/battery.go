package sysinfo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
)

// Battery mirrors the sysfs power_supply class of the first battery found.
type Battery struct {
	Level          float64 `json:"battery_level"`
	IsCharging     bool    `json:"is_charging"`
	ChargingStatus string  `json:"charging_status"`
	// TimeLeft is seconds until empty (or full while charging); -1 when unknown.
	TimeLeft         int64    `json:"time_left"`
	DischargeRateW   *float64 `json:"battery_discharge_rate"`
	SystemPowerUsage float64  `json:"system_power_usage"`
	SystemUptime     string   `json:"system_uptime"`
}

type PowerConsumption struct {
	Timestamp float64  `json:"timestamp"`
	CPUPower  float64  `json:"cpu_power"`
	GPUPower  *float64 `json:"gpu_power"`
	Status    string   `json:"status"`
}

func (c *Collector) Battery(ctx context.Context) (Battery, error) {
	b, err := readBattery(c.powerSupplyDir)
	if err != nil {
		return Battery{}, err
	}
	if pct, err := cpu.PercentWithContext(ctx, c.sample, false); err == nil && len(pct) > 0 {
		b.SystemPowerUsage = round2(pct[0])
	}
	if boot, err := host.BootTimeWithContext(ctx); err == nil {
		b.SystemUptime = formatUptime(time.Since(time.Unix(int64(boot), 0)))
	}
	return b, nil
}

// PowerConsumption reports CPU utilization as the CPU power proxy. GPU power is not measured.
func (c *Collector) PowerConsumption(ctx context.Context) (PowerConsumption, error) {
	pct, err := cpu.PercentWithContext(ctx, c.sample, false)
	if err != nil {
		return PowerConsumption{}, fmt.Errorf("cpu percent: %w", err)
	}
	if len(pct) == 0 {
		return PowerConsumption{}, ErrUnavailable
	}
	now := time.Now()
	return PowerConsumption{
		Timestamp: float64(now.UnixMilli()) / 1000,
		CPUPower:  round2(pct[0]),
		Status:    "success",
	}, nil
}

// readBattery scans dir for the first entry of type "Battery".
func readBattery(dir string) (Battery, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Battery{}, ErrNoBattery
	}
	for _, e := range entries {
		base := filepath.Join(dir, e.Name())
		if readString(base, "type") != "Battery" {
			continue
		}
		level, ok := readFloat(base, "capacity")
		if !ok {
			continue
		}
		status := readString(base, "status")
		b := Battery{
			Level:          level,
			ChargingStatus: status,
			IsCharging:     status == "Charging" || status == "Full",
			TimeLeft:       -1,
		}
		if w, ok := dischargeWatts(base); ok {
			b.DischargeRateW = &w
		}
		b.TimeLeft = timeLeft(base, status)
		return b, nil
	}
	return Battery{}, ErrNoBattery
}

// dischargeWatts prefers power_now (uW) and falls back to current_now (uA) * voltage_now (uV).
func dischargeWatts(base string) (float64, bool) {
	if p, ok := readFloat(base, "power_now"); ok && p > 0 {
		return round2(p / 1e6), true
	}
	cur, okC := readFloat(base, "current_now")
	volt, okV := readFloat(base, "voltage_now")
	if okC && okV && cur > 0 && volt > 0 {
		return round2(cur * volt / 1e12), true
	}
	return 0, false
}

func timeLeft(base, status string) int64 {
	now, full, rate := "energy_now", "energy_full", "power_now"
	if _, ok := readFloat(base, now); !ok {
		now, full, rate = "charge_now", "charge_full", "current_now"
	}
	level, okL := readFloat(base, now)
	capacity, okF := readFloat(base, full)
	r, okR := readFloat(base, rate)
	if !okL || !okR || r <= 0 {
		return -1
	}
	switch status {
	case "Discharging":
		return int64(level / r * 3600)
	case "Charging":
		if !okF || capacity <= level {
			return -1
		}
		return int64((capacity - level) / r * 3600)
	}
	return -1
}

func readString(base, name string) string {
	b, err := os.ReadFile(filepath.Join(base, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func readFloat(base, name string) (float64, bool) {
	s := readString(base, name)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}

// formatUptime renders "N day, H:MM:SS".
func formatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	days := total / 86400
	total %= 86400
	return fmt.Sprintf("%d day, %d:%02d:%02d", days, total/3600, (total%3600)/60, total%60)
}
