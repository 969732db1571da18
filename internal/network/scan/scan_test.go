package scan

import (
	"context"
	"errors"
	"testing"
	"time"

	"hostpulse/pkg/logx"
)

func newTestScanner(localIP string, ipErr error, alive map[string]bool) *Scanner {
	return New(Config{}, logx.Nop(), nil, func(context.Context) string { return "aa:bb:cc:dd:ee:ff" },
		WithLocalIP(func(context.Context) (string, error) { return localIP, ipErr }),
		WithPinger(func(_ context.Context, ip string, _ time.Duration) bool { return alive[ip] }),
		WithLookup(func(_ context.Context, ip string) string {
			if ip == "192.168.1.4" {
				return "printer.lan"
			}
			return UnknownDevice
		}),
	)
}

func TestScanFindsHostsAndSynthesizesRouter(t *testing.T) {
	t.Parallel()
	s := newTestScanner("192.168.1.5", nil, map[string]bool{"192.168.1.4": true, "192.168.1.7": true})
	got := s.Scan(context.Background())

	want := []Device{
		{ID: "device-4", Name: "printer.lan", Status: StatusActive, IPAddress: "192.168.1.4", MACAddress: UnknownMAC},
		{ID: LocalDeviceID, Name: LocalDevice, Status: StatusActive, IPAddress: "192.168.1.5", MACAddress: "aa:bb:cc:dd:ee:ff"},
		{ID: "device-7", Name: UnknownDevice, Status: StatusActive, IPAddress: "192.168.1.7", MACAddress: UnknownMAC},
		{ID: RouterDeviceID, Name: RouterDevice, Status: StatusActive, IPAddress: "192.168.1.1", MACAddress: UnknownMAC},
	}
	if len(got) != len(want) {
		t.Fatalf("Scan=%+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("device %d=%+v want %+v", i, got[i], want[i])
		}
	}
}

func TestScanReachableRouterIsNotDuplicated(t *testing.T) {
	t.Parallel()
	s := newTestScanner("10.0.0.3", nil, map[string]bool{"10.0.0.1": true})
	got := s.Scan(context.Background())
	routers := 0
	for _, d := range got {
		if d.IPAddress == "10.0.0.1" {
			routers++
			if d.ID != "device-1" {
				t.Fatalf("router entry=%+v", d)
			}
		}
	}
	if routers != 1 {
		t.Fatalf("router entries=%d in %+v", routers, got)
	}
}

func TestScanLocalOutsideRangeStillListed(t *testing.T) {
	t.Parallel()
	s := newTestScanner("192.168.1.50", nil, nil)
	got := s.Scan(context.Background())
	if len(got) != 2 || got[0].ID != LocalDeviceID || got[0].IPAddress != "192.168.1.50" || got[1].ID != RouterDeviceID {
		t.Fatalf("Scan=%+v", got)
	}
}

func TestScanFailureReturnsLoopbackDevice(t *testing.T) {
	t.Parallel()
	s := newTestScanner("", errors.New("network unreachable"), nil)
	got := s.Scan(context.Background())
	if len(got) != 1 || got[0].ID != LocalDeviceID || got[0].IPAddress != "127.0.0.1" {
		t.Fatalf("Scan=%+v", got)
	}
}
