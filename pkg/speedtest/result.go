package speedtest

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// ServerMeta is the directory view of a server before formatting.
type ServerMeta struct {
	Name       string
	City       string
	Country    string
	CC         string
	Sponsor    string
	Latency    time.Duration
	DistanceKm float64
}

// Describe formats server metadata. When the directory omits the city it is taken from the
// part of the name (or sponsor) before the first comma.
func Describe(m ServerMeta) ServerInfo {
	city := strings.TrimSpace(m.City)
	if city == "" || strings.EqualFold(city, "unknown") {
		city = ""
		if head, _, ok := strings.Cut(m.Name, ","); ok {
			city = strings.TrimSpace(head)
		} else if head, _, ok := strings.Cut(m.Sponsor, ","); ok {
			city = strings.TrimSpace(head)
		}
	}
	name := m.Name
	if m.CC != "" {
		name = fmt.Sprintf("%s (%s)", m.Name, m.CC)
	}
	return ServerInfo{
		Name:     name,
		Location: strings.Trim(city+", "+m.Country, " ,"),
		Sponsor:  m.Sponsor,
		Latency:  float64(m.Latency) / float64(time.Millisecond),
		Distance: fmt.Sprintf("%.1f km", m.DistanceKm),
	}
}

// Median returns the median of xs, or 0 for an empty slice. xs is not modified.
func Median(xs []float64) float64 {
	switch len(xs) {
	case 0:
		return 0
	case 1:
		return xs[0]
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

// Finalize applies the correction factors to raw Mbps figures and validates them against
// the configured bounds. Rounding: speeds to 1 decimal, ping to whole milliseconds.
func Finalize(cfg RunConfig, rawDownload, rawUpload, pingMs float64) (download, upload, ping float64, err error) {
	cfg = cfg.withDefaults()
	if rawDownload < 0 || rawUpload < 0 || pingMs < 0 {
		return 0, 0, 0, fmt.Errorf("%w: negative value (dl=%.2f ul=%.2f ping=%.2f)", ErrImplausibleSpeed, rawDownload, rawUpload, pingMs)
	}
	download = rawDownload * cfg.DownloadFactor
	upload = rawUpload * cfg.UploadFactor
	if download > cfg.MaxMbps || upload > cfg.MaxMbps {
		return 0, 0, 0, fmt.Errorf("%w: dl=%.1f ul=%.1f limit=%.0f Mbps", ErrImplausibleSpeed, download, upload, cfg.MaxMbps)
	}
	if download < cfg.MinMbps || upload < cfg.MinMbps {
		return 0, 0, 0, fmt.Errorf("%w: dl=%.1f ul=%.1f floor=%.0f Mbps", ErrTooSlow, download, upload, cfg.MinMbps)
	}
	return round(download, 1), round(upload, 1), round(pingMs, 0), nil
}

// Validate checks an already-corrected result against the bounds. Callers that record
// results from other sources use it to keep implausible figures out of the cache.
func Validate(cfg RunConfig, r *Result) error {
	if r == nil {
		return fmt.Errorf("%w: nil result", ErrImplausibleSpeed)
	}
	cfg = cfg.withDefaults()
	if r.Download < 0 || r.Upload < 0 || r.Ping < 0 {
		return fmt.Errorf("%w: negative value", ErrImplausibleSpeed)
	}
	if r.Download > cfg.MaxMbps || r.Upload > cfg.MaxMbps {
		return fmt.Errorf("%w: dl=%.1f ul=%.1f limit=%.0f Mbps", ErrImplausibleSpeed, r.Download, r.Upload, cfg.MaxMbps)
	}
	if r.Download < cfg.MinMbps || r.Upload < cfg.MinMbps {
		return fmt.Errorf("%w: dl=%.1f ul=%.1f floor=%.0f Mbps", ErrTooSlow, r.Download, r.Upload, cfg.MinMbps)
	}
	return nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
