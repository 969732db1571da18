package sysinfo

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

type Disk struct {
	Device     string  `json:"device"`
	Mountpoint string  `json:"mountpoint"`
	Filesystem string  `json:"fstype,omitempty"`
	Total      uint64  `json:"total"`
	Used       uint64  `json:"used"`
	Free       uint64  `json:"free"`
	Percent    float64 `json:"percent"`
}

// DiskUsage is the system volume summary.
type DiskUsage struct {
	Total   uint64  `json:"total_disk_space"`
	Used    uint64  `json:"used_disk_space"`
	Free    uint64  `json:"free_disk_space"`
	Percent float64 `json:"disk_usage_percent"`
}

var pseudoFS = map[string]struct{}{
	"autofs": {}, "cgroup": {}, "cgroup2": {}, "configfs": {}, "debugfs": {}, "devfs": {},
	"devpts": {}, "devtmpfs": {}, "fusectl": {}, "hugetlbfs": {}, "mqueue": {}, "nsfs": {},
	"overlay": {}, "proc": {}, "pstore": {}, "securityfs": {}, "squashfs": {}, "sysfs": {},
	"tmpfs": {}, "tracefs": {},
}

// Disks lists local volumes with their usage.
func (c *Collector) Disks(ctx context.Context) ([]Disk, error) {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("partitions: %w", err)
	}
	out := make([]Disk, 0, len(parts))
	for _, p := range localPartitions(parts, c.goos) {
		u, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil || u == nil || u.Total == 0 {
			continue
		}
		out = append(out, Disk{
			Device:     strings.TrimSpace(p.Device),
			Mountpoint: p.Mountpoint,
			Filesystem: strings.TrimSpace(p.Fstype),
			Total:      u.Total,
			Used:       u.Used,
			Free:       u.Free,
			Percent:    round2(u.UsedPercent),
		})
	}
	return out, nil
}

func (c *Collector) DiskUsage(ctx context.Context) (DiskUsage, error) {
	root := "/"
	if c.goos == "windows" {
		root = `C:\`
	}
	u, err := disk.UsageWithContext(ctx, root)
	if err != nil {
		return DiskUsage{}, fmt.Errorf("disk usage %s: %w", root, err)
	}
	return DiskUsage{Total: u.Total, Used: u.Used, Free: u.Free, Percent: round2(u.UsedPercent)}, nil
}

// localPartitions drops pseudo filesystems and duplicate mountpoints, sorted by mountpoint.
// On Windows only drive letters are kept.
func localPartitions(parts []disk.PartitionStat, goos string) []disk.PartitionStat {
	seen := map[string]struct{}{}
	out := make([]disk.PartitionStat, 0, len(parts))
	for _, p := range parts {
		mp := strings.TrimSpace(p.Mountpoint)
		if mp == "" {
			continue
		}
		if _, dup := seen[mp]; dup {
			continue
		}
		if goos == "windows" {
			if len(mp) < 2 || mp[1] != ':' {
				continue
			}
		} else if _, pseudo := pseudoFS[strings.ToLower(p.Fstype)]; pseudo {
			continue
		}
		seen[mp] = struct{}{}
		p.Mountpoint = mp
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mountpoint < out[j].Mountpoint })
	return out
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
