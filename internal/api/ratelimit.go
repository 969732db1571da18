package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client IP. A zero rate disables limiting.
type RateLimiter struct {
	mu          sync.Mutex
	limit       rate.Limit
	burst       int
	clients     map[string]*clientLimit
	ttl         time.Duration
	lastCleanup time.Time
	now         func() time.Time
}

type clientLimit struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(perSec, burst int) *RateLimiter {
	rl := &RateLimiter{
		clients: map[string]*clientLimit{},
		ttl:     10 * time.Minute,
		now:     time.Now,
	}
	rl.SetLimit(perSec, burst)
	rl.lastCleanup = rl.now()
	return rl
}

// SetLimit changes the rate for existing and future clients.
func (rl *RateLimiter) SetLimit(perSec, burst int) {
	if burst <= 0 {
		burst = max(perSec*2, 1)
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.limit, rl.burst = rate.Limit(perSec), burst
	now := rl.now()
	for _, c := range rl.clients {
		c.lim.SetLimitAt(now, rl.limit)
		c.lim.SetBurstAt(now, burst)
	}
}

func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	if rl.limit <= 0 {
		rl.mu.Unlock()
		return true
	}
	now := rl.now()
	if now.Sub(rl.lastCleanup) >= rl.ttl {
		for k, c := range rl.clients {
			if now.Sub(c.lastSeen) >= rl.ttl {
				delete(rl.clients, k)
			}
		}
		rl.lastCleanup = now
	}
	c := rl.clients[ip]
	if c == nil {
		c = &clientLimit{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[ip] = c
	}
	c.lastSeen = now
	lim := c.lim
	rl.mu.Unlock()
	return lim.AllowN(now, 1)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
