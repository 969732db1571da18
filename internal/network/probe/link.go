package probe

import (
	"context"
	"fmt"
	"slices"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"

	"hostpulse/pkg/logx"
)

var vpnPrefixes = []string{"tun", "tap", "wg", "ppp", "utun", "ipsec", "tailscale", "zt"}

// Classify maps an interface name to a connection type. Loopback and unrecognized names
// are Unknown.
func Classify(name string) ConnectionType {
	n := strings.ToLower(name)
	if n == "lo" || strings.HasPrefix(n, "lo0") || strings.Contains(n, "loopback") {
		return Unknown
	}
	if strings.Contains(n, "vpn") {
		return VPN
	}
	for _, p := range vpnPrefixes {
		if strings.HasPrefix(n, p) {
			return VPN
		}
	}
	switch {
	case strings.Contains(n, "wi"), strings.Contains(n, "wl"):
		return WiFi
	case strings.Contains(n, "eth"), strings.Contains(n, "en"):
		return Ethernet
	}
	return Unknown
}

// ClassifyFirst returns the type of the first name that classifies; enumeration order wins.
func ClassifyFirst(names []string) ConnectionType {
	for _, n := range names {
		if ct := Classify(n); ct != Unknown {
			return ct
		}
	}
	return Unknown
}

func isUp(i psnet.InterfaceStat) bool {
	return slices.Contains(i.Flags, "up")
}

func isLoopback(i psnet.InterfaceStat) bool {
	return slices.Contains(i.Flags, "loopback") || i.Name == "lo"
}

func (s *System) interfaces(ctx context.Context) []psnet.InterfaceStat {
	ifs, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		s.log.Debug("interface listing failed", logx.Err(err))
		return nil
	}
	return ifs
}

// ActiveInterfaces lists the names of interfaces that are up, in enumeration order.
func (s *System) ActiveInterfaces(ctx context.Context) []string {
	var out []string
	for _, i := range s.interfaces(ctx) {
		if isUp(i) {
			out = append(out, i.Name)
		}
	}
	return out
}

func (s *System) ConnectionType(ctx context.Context) ConnectionType {
	return ClassifyFirst(s.ActiveInterfaces(ctx))
}

// SignalStrength reports the wireless signal percentage for WiFi, 100 for an active
// Ethernet interface, and 0 when undetermined.
func (s *System) SignalStrength(ctx context.Context, ct ConnectionType) int {
	switch ct {
	case WiFi:
		ctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
		defer cancel()
		var (
			out []byte
			err error
		)
		switch s.goos {
		case "windows":
			out, err = s.run(ctx, "netsh", "wlan", "show", "interfaces")
		case "linux":
			out, err = s.run(ctx, "iwconfig")
		default:
			return 0
		}
		if err != nil && len(out) == 0 {
			s.log.Debug("signal probe failed", logx.Err(err))
			return 0
		}
		return ParseSignal(s.goos, string(out))
	case Ethernet:
		for _, name := range s.ActiveInterfaces(ctx) {
			if Classify(name) == Ethernet {
				return 100
			}
		}
	}
	return 0
}

// MACAddress returns the hardware address of the first active non-loopback interface,
// preferring one that carries an address.
func (s *System) MACAddress(ctx context.Context) string {
	var fallback string
	for _, i := range s.interfaces(ctx) {
		if !isUp(i) || isLoopback(i) || i.HardwareAddr == "" {
			continue
		}
		if len(i.Addrs) > 0 {
			return i.HardwareAddr
		}
		if fallback == "" {
			fallback = i.HardwareAddr
		}
	}
	if fallback != "" {
		return fallback
	}
	return NotDetected
}

// Counters sums byte and packet counters over non-loopback interfaces.
func (s *System) Counters(ctx context.Context) (Counters, error) {
	stats, err := psnet.IOCountersWithContext(ctx, true)
	if err != nil {
		return Counters{}, fmt.Errorf("read interface counters: %w", err)
	}
	return SumCounters(stats), nil
}

// SumCounters adds up per-interface counters, skipping loopback.
func SumCounters(stats []psnet.IOCountersStat) Counters {
	var c Counters
	for _, st := range stats {
		if st.Name == "lo" || strings.HasPrefix(st.Name, "lo0") || strings.Contains(strings.ToLower(st.Name), "loopback") {
			continue
		}
		c.BytesSent += st.BytesSent
		c.BytesRecv += st.BytesRecv
		c.PacketsSent += st.PacketsSent
		c.PacketsRecv += st.PacketsRecv
	}
	return c
}
