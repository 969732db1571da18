// Package scan sweeps the local /24 for reachable hosts.
package scan

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"hostpulse/internal/network/probe"
	"hostpulse/pkg/logx"
)

const (
	StatusActive   = "Active"
	UnknownMAC     = "Unknown"
	UnknownDevice  = "Unknown Device"
	LocalDeviceID  = "this-device"
	LocalDevice    = "This Device"
	RouterDeviceID = "router"
	RouterDevice   = "Router"
)

// Device is one reachable host. Records are rebuilt on every scan.
type Device struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	IPAddress  string `json:"ipAddress"`
	MACAddress string `json:"macAddress"`
}

type Config struct {
	RangeStart int
	RangeEnd   int
	Timeout    time.Duration
}

// Pinger reports whether ip answered a single echo within timeout.
type Pinger func(ctx context.Context, ip string, timeout time.Duration) bool

// Scanner sweeps a small host range with one echo per address.
type Scanner struct {
	cfg      Config
	log      logx.Logger
	localIP  func(ctx context.Context) (string, error)
	ping     Pinger
	lookup   func(ctx context.Context, ip string) string
	localMAC func(ctx context.Context) string
}

type Option func(*Scanner)

func WithLocalIP(fn func(ctx context.Context) (string, error)) Option {
	return func(s *Scanner) { s.localIP = fn }
}
func WithPinger(p Pinger) Option { return func(s *Scanner) { s.ping = p } }
func WithLookup(fn func(ctx context.Context, ip string) string) Option {
	return func(s *Scanner) { s.lookup = fn }
}
func WithLocalMAC(fn func(ctx context.Context) string) Option {
	return func(s *Scanner) { s.localMAC = fn }
}

// New builds a scanner that pings with run and reads the local MAC from mac.
func New(cfg Config, log logx.Logger, run probe.CommandRunner, mac func(ctx context.Context) string, opts ...Option) *Scanner {
	if cfg.RangeStart <= 0 {
		cfg.RangeStart = 1
	}
	if cfg.RangeEnd <= 0 {
		cfg.RangeEnd = 9
	}
	cfg.RangeEnd = min(cfg.RangeEnd, 254)
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	s := &Scanner{
		cfg:      cfg,
		log:      log,
		localIP:  probe.OutboundIP,
		ping:     CommandPinger(run),
		lookup:   reverseLookup,
		localMAC: mac,
	}
	if s.localMAC == nil {
		s.localMAC = func(context.Context) string { return probe.NotDetected }
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Scan returns the local device, every host in range that answered, and a router entry
// at .1 when it did not answer. When the local address cannot be determined it returns
// the local device alone at 127.0.0.1.
func (s *Scanner) Scan(ctx context.Context) []Device {
	localIP, err := s.localIP(ctx)
	prefix, ok := prefix24(localIP)
	if err != nil || !ok {
		s.log.Warn("device scan failed", logx.String("local_ip", localIP), logx.Err(err))
		return []Device{s.local(ctx, "127.0.0.1")}
	}

	n := s.cfg.RangeEnd - s.cfg.RangeStart + 1
	found := make([]*Device, n)
	var wg sync.WaitGroup
	for i := s.cfg.RangeStart; i <= s.cfg.RangeEnd; i++ {
		ip := prefix + strconv.Itoa(i)
		if ip == localIP {
			d := s.local(ctx, ip)
			found[i-s.cfg.RangeStart] = &d
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !s.ping(ctx, ip, s.cfg.Timeout) {
				return
			}
			found[i-s.cfg.RangeStart] = &Device{
				ID:         fmt.Sprintf("device-%d", i),
				Name:       s.lookup(ctx, ip),
				Status:     StatusActive,
				IPAddress:  ip,
				MACAddress: UnknownMAC,
			}
		}()
	}
	wg.Wait()

	devices := make([]Device, 0, n+2)
	hasLocal := false
	for _, d := range found {
		if d == nil {
			continue
		}
		if d.ID == LocalDeviceID {
			hasLocal = true
		}
		devices = append(devices, *d)
	}
	if !hasLocal {
		devices = append([]Device{s.local(ctx, localIP)}, devices...)
	}

	router := prefix + "1"
	for _, d := range devices {
		if d.IPAddress == router {
			return devices
		}
	}
	return append(devices, Device{
		ID:         RouterDeviceID,
		Name:       RouterDevice,
		Status:     StatusActive,
		IPAddress:  router,
		MACAddress: UnknownMAC,
	})
}

func (s *Scanner) local(ctx context.Context, ip string) Device {
	return Device{
		ID:         LocalDeviceID,
		Name:       LocalDevice,
		Status:     StatusActive,
		IPAddress:  ip,
		MACAddress: s.localMAC(ctx),
	}
}

func prefix24(ip string) (string, bool) {
	v4 := net.ParseIP(ip).To4()
	if v4 == nil {
		return "", false
	}
	return fmt.Sprintf("%d.%d.%d.", v4[0], v4[1], v4[2]), true
}

// CommandPinger pings through the system ping binary.
func CommandPinger(run probe.CommandRunner) Pinger {
	return func(ctx context.Context, ip string, timeout time.Duration) bool {
		ctx, cancel := context.WithTimeout(ctx, timeout+time.Second)
		defer cancel()
		wait := max(1, int(timeout/time.Second))
		var args []string
		if probe.IsWindows() {
			args = []string{"-n", "1", "-w", strconv.Itoa(wait * 1000), ip}
		} else {
			args = []string{"-c", "1", "-W", strconv.Itoa(wait), ip}
		}
		_, err := run(ctx, "ping", args...)
		return err == nil
	}
}

func reverseLookup(ctx context.Context, ip string) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	names, err := net.DefaultResolver.LookupAddr(ctx, ip)
	if err != nil || len(names) == 0 {
		return UnknownDevice
	}
	return strings.TrimSuffix(names[0], ".")
}
