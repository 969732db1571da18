package sysinfo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hostpulse/pkg/logx"
)

// Power plan names accepted by SetPowerPlan.
const (
	PlanHighPerformance = "High Performance"
	PlanBalanced        = "Balanced"
	PlanPowerSaver      = "Power Saver"
)

const (
	schemeUltimate = "e9a42b02-d5df-448d-aa00-03f14749eb61"
	schemeBalanced = "381b4222-f694-41f0-9685-ff5bb260df2e"
)

// windowsSchemes maps plan names and well-known GUIDs to powercfg aliases.
var windowsSchemes = map[string]string{
	PlanHighPerformance:                    "SCHEME_MIN",
	PlanPowerSaver:                         "SCHEME_MAX",
	PlanBalanced:                           schemeBalanced,
	"8c5e7fda-e8bf-4a96-9a85-a6e23a8c635c": "SCHEME_MIN",
	"a1841308-3541-4fab-bc81-f71556f20b4a": "SCHEME_MAX",
	schemeBalanced:                         schemeBalanced,
}

// linuxProfiles maps plan names to power-profiles-daemon profiles.
var linuxProfiles = map[string]string{
	PlanHighPerformance: "performance",
	PlanBalanced:        "balanced",
	PlanPowerSaver:      "power-saver",
	"performance":       "performance",
	"balanced":          "balanced",
	"power-saver":       "power-saver",
}

// powerPlanCommand returns the tool invocation that activates plan on goos.
func powerPlanCommand(goos, plan string) (string, []string, error) {
	plan = strings.TrimSpace(plan)
	if plan == "" {
		return "", nil, ErrUnknownPlan
	}
	switch goos {
	case "windows":
		scheme, ok := windowsSchemes[plan]
		if !ok {
			// Custom scheme GUIDs pass through.
			if len(plan) != 36 || strings.Count(plan, "-") != 4 {
				return "", nil, fmt.Errorf("%w: %s", ErrUnknownPlan, plan)
			}
			scheme = plan
		}
		return "powercfg", []string{"/setactive", scheme}, nil
	case "linux":
		profile, ok := linuxProfiles[plan]
		if !ok {
			return "", nil, fmt.Errorf("%w: %s", ErrUnknownPlan, plan)
		}
		return "powerprofilesctl", []string{"set", profile}, nil
	default:
		return "", nil, ErrUnavailable
	}
}

// SetPowerPlan switches the active power plan and returns a confirmation message.
func (c *Collector) SetPowerPlan(ctx context.Context, plan string) (string, error) {
	name, args, err := powerPlanCommand(c.goos, plan)
	if err != nil {
		return "", err
	}
	if out, err := c.command(ctx, 10*time.Second, name, args...); err != nil {
		return "", fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	c.log.Info("power plan switched", logx.String("plan", strings.TrimSpace(plan)), logx.String("tool", name))
	return "Switched to " + strings.TrimSpace(plan), nil
}
