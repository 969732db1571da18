package probe

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"strings"

	"hostpulse/pkg/logx"
)

const resolvConf = "/etc/resolv.conf"

// DNSServer returns the configured resolver, then the guessed router address, then
// NotDetected.
func (s *System) DNSServer(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	switch s.goos {
	case "windows":
		if out, err := s.run(ctx, "ipconfig", "/all"); err == nil {
			if dns := ParseIPConfigDNS(string(out)); dns != "" {
				return dns
			}
		}
	default:
		if f, err := os.Open(resolvConf); err == nil {
			dns := ParseResolvConf(f)
			_ = f.Close()
			if dns != "" {
				return dns
			}
		}
	}
	if ip, err := OutboundIP(ctx); err == nil {
		if r := RouterGuess(ip); r != "" {
			return r
		}
	}
	return NotDetected
}

// PublicIP asks the public IP service and falls back to the local outbound address.
func (s *System) PublicIP(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	ip, err := s.fetchPublicIP(ctx)
	if err == nil {
		return ip
	}
	s.log.Debug("public ip lookup failed", logx.String("url", s.cfg.PublicIPURL), logx.Err(err))
	if ip, err := OutboundIP(ctx); err == nil {
		return ip
	}
	return NotDetected
}

func (s *System) fetchPublicIP(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.PublicIPURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &net.AddrError{Err: "unexpected status " + resp.Status, Addr: s.cfg.PublicIPURL}
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 128))
	if err != nil {
		return "", err
	}
	ip := strings.TrimSpace(string(b))
	if net.ParseIP(ip) == nil {
		return "", &net.ParseError{Type: "IP address", Text: ip}
	}
	return ip, nil
}

// OutboundIP returns the local address the kernel would use to reach a public host. The UDP
// "connect" sends no packet.
func OutboundIP(ctx context.Context) (string, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp4", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
