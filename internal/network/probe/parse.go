package probe

import (
	"bufio"
	"io"
	"math"
	"net"
	"regexp"
	"strconv"
	"strings"
)

var (
	unixRTT      = regexp.MustCompile(`time[=<](\d+(?:\.\d+)?) ?ms`)
	windowsAvg   = regexp.MustCompile(`Average = (\d+)ms`)
	unixCounts   = regexp.MustCompile(`(\d+) packets transmitted, (\d+) (?:packets )?received`)
	winSent      = regexp.MustCompile(`Sent = (\d+)`)
	winReceived  = regexp.MustCompile(`Received = (\d+)`)
	iwQuality    = regexp.MustCompile(`Quality=(\d+)/(\d+)`)
	netshSignal  = regexp.MustCompile(`Signal\s+:\s+(\d+)%`)
	ipconfigDNS  = regexp.MustCompile(`DNS Servers[ .]*:\s*([0-9]+\.[0-9]+\.[0-9]+\.[0-9]+)`)
	ipconfigNext = regexp.MustCompile(`^\s+([0-9]+\.[0-9]+\.[0-9]+\.[0-9]+)\s*$`)
	blankLine    = regexp.MustCompile(`\r?\n\r?\n`)
)

// ParseRTT extracts the round-trip time in milliseconds from single-echo ping output.
// It returns 0 when nothing matches.
func ParseRTT(goos, out string) float64 {
	re := unixRTT
	if goos == "windows" {
		re = windowsAvg
	}
	m := re.FindStringSubmatch(out)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v < 0 {
		return 0
	}
	return math.Round(v*10) / 10
}

// ParseLossCounts extracts (sent, received) from ping summary output.
func ParseLossCounts(goos, out string) (sent, received int, ok bool) {
	if goos == "windows" {
		s := winSent.FindStringSubmatch(out)
		r := winReceived.FindStringSubmatch(out)
		if s == nil || r == nil {
			return 0, 0, false
		}
		sent, _ = strconv.Atoi(s[1])
		received, _ = strconv.Atoi(r[1])
		return sent, received, sent > 0
	}
	m := unixCounts.FindStringSubmatch(out)
	if m == nil {
		return 0, 0, false
	}
	sent, _ = strconv.Atoi(m[1])
	received, _ = strconv.Atoi(m[2])
	return sent, received, sent > 0
}

// ParseSignal extracts a 0-100 wireless signal percentage from iwconfig (Linux) or
// netsh (Windows) output. 0 means undetermined.
func ParseSignal(goos, out string) int {
	if goos == "windows" {
		m := netshSignal.FindStringSubmatch(out)
		if m == nil {
			return 0
		}
		v, _ := strconv.Atoi(m[1])
		return clampPercent(v)
	}
	m := iwQuality.FindStringSubmatch(out)
	if m == nil {
		return 0
	}
	num, _ := strconv.Atoi(m[1])
	den, _ := strconv.Atoi(m[2])
	if den <= 0 {
		return 0
	}
	return clampPercent(num * 100 / den)
}

func clampPercent(v int) int {
	return max(0, min(100, v))
}

// ParseResolvConf returns the first nameserver in resolv.conf syntax, or "".
func ParseResolvConf(r io.Reader) string {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == "nameserver" {
			return fields[1]
		}
	}
	return ""
}

// ParseIPConfigDNS returns the first IPv4 DNS server of a connected adapter in
// `ipconfig /all` output, or "".
func ParseIPConfigDNS(out string) string {
	sections := blankLine.Split(out, -1)
	for _, sec := range sections {
		if strings.Contains(sec, "Media disconnected") {
			continue
		}
		if m := ipconfigDNS.FindStringSubmatch(sec); m != nil {
			return m[1]
		}
	}
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		if !strings.Contains(line, "DNS Servers") {
			continue
		}
		for j := i + 1; j < len(lines) && j <= i+4; j++ {
			if m := ipconfigNext.FindStringSubmatch(strings.TrimRight(lines[j], "\r")); m != nil {
				return m[1]
			}
		}
	}
	return ""
}

// RouterGuess returns the .1 address of ip's /24, or "" for non-IPv4 input.
func RouterGuess(ip string) string {
	v4 := net.ParseIP(ip).To4()
	if v4 == nil {
		return ""
	}
	return net.IPv4(v4[0], v4[1], v4[2], 1).String()
}
