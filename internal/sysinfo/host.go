package sysinfo

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
)

const unknown = "Unknown"

type SystemInfo struct {
	OS           string `json:"os"`
	OSVersion    string `json:"os_version"`
	Platform     string `json:"platform"`
	Hostname     string `json:"hostname"`
	Architecture string `json:"architecture"`
	Kernel       string `json:"kernel"`
	Uptime       string `json:"uptime"`
	CPU          string `json:"cpu"`
	GPU          string `json:"gpu"`
	Model        string `json:"systemModel"`
	Manufacturer string `json:"systemManufacturer"`
	ComputerName string `json:"computerName"`
}

func (c *Collector) SystemInfo(ctx context.Context) (SystemInfo, error) {
	hi, err := host.InfoWithContext(ctx)
	if err != nil {
		return SystemInfo{}, fmt.Errorf("host info: %w", err)
	}
	si := SystemInfo{
		OS:           hi.OS,
		OSVersion:    hi.PlatformVersion,
		Platform:     hi.Platform,
		Hostname:     hi.Hostname,
		Architecture: hi.KernelArch,
		Kernel:       hi.KernelVersion,
		Uptime:       formatUptime(time.Duration(hi.Uptime) * time.Second),
		CPU:          unknown,
		GPU:          unknown,
		Model:        unknown,
		Manufacturer: unknown,
		ComputerName: hi.Hostname,
	}
	if si.Architecture == "" {
		si.Architecture = runtime.GOARCH
	}
	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 && infos[0].ModelName != "" {
		si.CPU = strings.TrimSpace(infos[0].ModelName)
	}
	if g, err := c.GPU(ctx); err == nil && g.Name != "" {
		si.GPU = g.Name
	}
	if c.goos == "linux" {
		if v := readDMI("product_name"); v != "" {
			si.Model = v
		}
		if v := readDMI("sys_vendor"); v != "" {
			si.Manufacturer = v
		}
	}
	return si, nil
}

func readDMI(name string) string {
	b, err := os.ReadFile("/sys/class/dmi/id/" + name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
