package sysinfo

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"hostpulse/pkg/logx"
)

type GamingStatus struct {
	Enabled bool `json:"gaming_mode"`
}

type GamingOptimizations struct {
	CPUPerformance      bool     `json:"cpu_performance"`
	ProcessPriority     string   `json:"process_priority"`
	BackgroundProcesses []string `json:"background_processes"`
	PowerPlan           string   `json:"power_plan"`
}

type GamingResult struct {
	Status        string              `json:"status"`
	Message       string              `json:"message"`
	Optimizations GamingOptimizations `json:"optimizations"`
}

func (c *Collector) GamingMode() GamingStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return GamingStatus{Enabled: c.gaming}
}

// EnableGamingMode raises the power plan and this process's priority. Steps that fail are
// reported in the result; the mode is still recorded as enabled.
func (c *Collector) EnableGamingMode(ctx context.Context) GamingResult {
	c.mu.Lock()
	c.gaming = true
	c.mu.Unlock()

	plan := c.highPerformancePlan(ctx)
	prio := c.setPriority(ctx, true)
	c.log.Info("gaming mode enabled", logx.String("power_plan", plan), logx.String("priority", prio))
	return GamingResult{
		Status:  "success",
		Message: "Gaming mode enabled",
		Optimizations: GamingOptimizations{
			CPUPerformance:      true,
			ProcessPriority:     prio,
			BackgroundProcesses: []string{},
			PowerPlan:           plan,
		},
	}
}

func (c *Collector) DisableGamingMode(ctx context.Context) GamingResult {
	c.mu.Lock()
	c.gaming = false
	c.mu.Unlock()

	plan := "Power plan reset to Balanced"
	if _, err := c.SetPowerPlan(ctx, PlanBalanced); err != nil {
		plan = "Failed to reset power plan: " + err.Error()
	}
	prio := c.setPriority(ctx, false)
	c.log.Info("gaming mode disabled", logx.String("power_plan", plan), logx.String("priority", prio))
	return GamingResult{
		Status:  "success",
		Message: "Gaming mode disabled",
		Optimizations: GamingOptimizations{
			CPUPerformance:      false,
			ProcessPriority:     prio,
			BackgroundProcesses: []string{},
			PowerPlan:           plan,
		},
	}
}

// highPerformancePlan tries the Ultimate Performance scheme on Windows before High Performance.
func (c *Collector) highPerformancePlan(ctx context.Context) string {
	if c.goos == "windows" {
		if _, err := c.command(ctx, 10*time.Second, "powercfg", "/setactive", schemeUltimate); err == nil {
			return "Power plan set to Ultimate Performance."
		}
	}
	if _, err := c.SetPowerPlan(ctx, PlanHighPerformance); err != nil {
		if errors.Is(err, ErrUnavailable) {
			return "Power plan unchanged."
		}
		return "Failed to set power plan: " + err.Error()
	}
	return "Power plan set to High Performance."
}

func (c *Collector) setPriority(ctx context.Context, high bool) string {
	pid := strconv.Itoa(int(c.pid))
	var (
		name string
		args []string
	)
	switch c.goos {
	case "windows":
		class := "32" // normal
		if high {
			class = "128"
		}
		name, args = "wmic", []string{"process", "where", "processid=" + pid, "CALL", "setpriority", class}
	default:
		nice := "0"
		if high {
			nice = "-5"
		}
		name, args = "renice", []string{"-n", nice, "-p", pid}
	}
	out, err := c.command(ctx, 5*time.Second, name, args...)
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = err.Error()
		}
		return "Failed to set priority: " + msg
	}
	if high {
		return "High priority set."
	}
	return "Priority reset to normal."
}
