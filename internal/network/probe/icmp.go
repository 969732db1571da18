package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// echoBatch sends count ICMP echoes to target one after another and counts the replies.
// It prefers an unprivileged datagram socket and falls back to a raw socket. An error means
// no socket could be opened or the target did not resolve; the caller then uses ping.
func echoBatch(ctx context.Context, target string, count int, timeout time.Duration) (sent, received int, err error) {
	ip, err := resolveIPv4(ctx, target)
	if err != nil {
		return 0, 0, err
	}

	conn, dst, err := listenICMP(ip)
	if err != nil {
		return 0, 0, err
	}
	defer conn.Close()

	id := os.Getpid() & 0xffff
	payload := []byte("hostpulse")
	buf := make([]byte, 1500)

	for seq := 1; seq <= count; seq++ {
		if ctx.Err() != nil {
			// Unsent echoes count as lost.
			return count, received, nil
		}
		msg := icmp.Message{
			Type: ipv4.ICMPTypeEcho,
			Body: &icmp.Echo{ID: id, Seq: seq, Data: payload},
		}
		wb, err := msg.Marshal(nil)
		if err != nil {
			return 0, 0, fmt.Errorf("marshal echo: %w", err)
		}
		sent++
		if _, err := conn.WriteTo(wb, dst); err != nil {
			continue
		}
		if awaitReply(ctx, conn, buf, seq, timeout) {
			received++
		}
	}
	return sent, received, nil
}

func awaitReply(ctx context.Context, conn *icmp.PacketConn, buf []byte, seq int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return false
	}
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return false
		}
		rm, err := icmp.ParseMessage(ipv4.ICMPTypeEchoReply.Protocol(), buf[:n])
		if err != nil || rm.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		// Datagram sockets rewrite the echo ID, so only the sequence is matched.
		if echo, ok := rm.Body.(*icmp.Echo); ok && echo.Seq == seq {
			return true
		}
	}
}

func listenICMP(ip net.IP) (*icmp.PacketConn, net.Addr, error) {
	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err == nil {
		return conn, &net.UDPAddr{IP: ip}, nil
	}
	raw, rawErr := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if rawErr == nil {
		return raw, &net.IPAddr{IP: ip}, nil
	}
	return nil, nil, fmt.Errorf("open icmp socket: %w", errors.Join(err, rawErr))
}

func resolveIPv4(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host).To4(); ip != nil {
		return ip, nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		if v4 := a.IP.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, fmt.Errorf("%s: no ipv4 address", host)
}
