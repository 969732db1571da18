package probe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"

	"hostpulse/pkg/logx"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	cases := map[string]ConnectionType{
		"wlan0":     WiFi,
		"wlp2s0":    WiFi,
		"Wi-Fi":     WiFi,
		"eth0":      Ethernet,
		"enp3s0":    Ethernet,
		"en0":       Ethernet,
		"Ethernet":  Ethernet,
		"tun0":      VPN,
		"wg0":       VPN,
		"utun3":     VPN,
		"OpenVPN 1": VPN,
		"lo":        Unknown,
		"lo0":       Unknown,
		"docker0":   Unknown,
	}
	for name, want := range cases {
		if got := Classify(name); got != want {
			t.Fatalf("Classify(%q)=%q want %q", name, got, want)
		}
	}
	if got := ClassifyFirst([]string{"lo", "docker0", "wlan0", "eth0"}); got != WiFi {
		t.Fatalf("ClassifyFirst=%q want first match", got)
	}
	if got := ClassifyFirst(nil); got != Unknown {
		t.Fatalf("ClassifyFirst(nil)=%q", got)
	}
}

func TestSumCountersSkipsLoopback(t *testing.T) {
	t.Parallel()
	got := SumCounters([]psnet.IOCountersStat{
		{Name: "lo", BytesSent: 1000, BytesRecv: 1000},
		{Name: "eth0", BytesSent: 10, BytesRecv: 20, PacketsSent: 1, PacketsRecv: 2},
		{Name: "wlan0", BytesSent: 5, BytesRecv: 7, PacketsSent: 3, PacketsRecv: 4},
	})
	want := Counters{BytesSent: 15, BytesRecv: 27, PacketsSent: 4, PacketsRecv: 6}
	if got != want {
		t.Fatalf("SumCounters=%+v want %+v", got, want)
	}
}

func TestLossPercent(t *testing.T) {
	t.Parallel()
	if got := LossPercent(60, 1); got != 1.67 {
		t.Fatalf("LossPercent(60,1)=%v", got)
	}
	if got := LossPercent(0, 0); got != 0 {
		t.Fatalf("LossPercent(0,0)=%v", got)
	}
}

// scriptedRunner answers ping invocations from a per-target table.
type scriptedRunner struct {
	mu    sync.Mutex
	calls []string
	out   map[string]string
}

func (r *scriptedRunner) run(_ context.Context, name string, args ...string) ([]byte, error) {
	target := args[len(args)-1]
	r.mu.Lock()
	r.calls = append(r.calls, name+" "+strings.Join(args, " "))
	r.mu.Unlock()
	out, ok := r.out[target]
	if !ok {
		return nil, errors.New("exit status 2")
	}
	return []byte(out), nil
}

func TestPacketLossCountsUnreachableTargetAsLost(t *testing.T) {
	t.Parallel()
	r := &scriptedRunner{out: map[string]string{
		"8.8.8.8": "20 packets transmitted, 20 received, 0% packet loss",
		"1.1.1.1": "20 packets transmitted, 18 received, 10% packet loss",
	}}
	s := NewSystem(Config{}, logx.Nop(), WithRunner(r.run), WithGOOS("linux"))
	// 208.67.222.222 fails entirely: 22 lost of 60.
	if got := s.PacketLoss(context.Background()); got != 36.67 {
		t.Fatalf("PacketLoss=%v want 36.67", got)
	}
	if len(r.calls) != 3 {
		t.Fatalf("calls=%v", r.calls)
	}
}

func TestPacketLossFastModeUsesFirstTarget(t *testing.T) {
	t.Parallel()
	r := &scriptedRunner{out: map[string]string{
		"9.9.9.9": "10 packets transmitted, 9 received, 10% packet loss",
	}}
	cfg := Config{Loss: LossConfig{Mode: LossFast, Targets: []string{"9.9.9.9", "8.8.8.8"}, Count: 20}}
	s := NewSystem(cfg, logx.Nop(), WithRunner(r.run), WithGOOS("linux"))
	if got := s.PacketLoss(context.Background()); got != 10 {
		t.Fatalf("PacketLoss=%v want 10", got)
	}
	if len(r.calls) != 1 || r.calls[0] != "ping -c 10 -W 1 9.9.9.9" {
		t.Fatalf("calls=%v", r.calls)
	}
}

func TestLatencyReturnsZeroOnFailure(t *testing.T) {
	t.Parallel()
	failing := func(context.Context, string, ...string) ([]byte, error) {
		return nil, errors.New("ping: not found")
	}
	s := NewSystem(Config{}, logx.Nop(), WithRunner(failing))
	if got := s.Latency(context.Background()); got != 0 {
		t.Fatalf("Latency=%v want 0", got)
	}

	ok := func(_ context.Context, name string, args ...string) ([]byte, error) {
		if name != "ping" || args[len(args)-1] != "8.8.8.8" {
			return nil, fmt.Errorf("unexpected %s %v", name, args)
		}
		return []byte("64 bytes from 8.8.8.8: icmp_seq=1 ttl=117 time=23.4 ms"), nil
	}
	s = NewSystem(Config{}, logx.Nop(), WithRunner(ok), WithGOOS("linux"))
	if got := s.Latency(context.Background()); got != 23.4 {
		t.Fatalf("Latency=%v want 23.4", got)
	}
}

func TestSignalStrengthWiFi(t *testing.T) {
	t.Parallel()
	run := func(_ context.Context, name string, _ ...string) ([]byte, error) {
		if name != "iwconfig" {
			return nil, fmt.Errorf("unexpected %s", name)
		}
		return []byte("wlan0 IEEE 802.11  ESSID:\"home\"\n Link Quality=35/70  Signal level=-75 dBm"), nil
	}
	s := NewSystem(Config{}, logx.Nop(), WithRunner(run), WithGOOS("linux"))
	if got := s.SignalStrength(context.Background(), WiFi); got != 50 {
		t.Fatalf("SignalStrength=%d want 50", got)
	}
	if got := s.SignalStrength(context.Background(), VPN); got != 0 {
		t.Fatalf("VPN signal=%d want 0", got)
	}
}

func TestPublicIPFallsBack(t *testing.T) {
	t.Parallel()
	good := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("203.0.113.7\n"))
	}))
	defer good.Close()
	s := NewSystem(Config{PublicIPURL: good.URL, ProbeTimeout: time.Second}, logx.Nop(), WithHTTPClient(good.Client()))
	if got := s.PublicIP(context.Background()); got != "203.0.113.7" {
		t.Fatalf("PublicIP=%q", got)
	}

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>rate limited</html>"))
	}))
	defer bad.Close()
	s = NewSystem(Config{PublicIPURL: bad.URL, ProbeTimeout: time.Second}, logx.Nop())
	if got := s.PublicIP(context.Background()); got == "<html>rate limited</html>" || got == "" {
		t.Fatalf("PublicIP should fall back, got %q", got)
	}
}
