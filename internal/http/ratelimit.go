package http

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// ipRateLimiter enforces per-client-IP request rate limits on the admin API
// using a token bucket per IP.
type ipRateLimiter struct {
	limiters sync.Map   // ip → *limiterEntry
	r        rate.Limit // refill rate (requests per second)
	burst    int
}

type limiterEntry struct {
	limiter *rate.Limiter
	// lastSeen is unix nanos, atomic: handler goroutines refresh it while
	// the cleanup loop reads it.
	lastSeen atomic.Int64
}

// newIPRateLimiter creates a limiter from requests-per-minute and burst.
// rpm <= 0 disables limiting.
func newIPRateLimiter(rpm, burst int) *ipRateLimiter {
	if burst <= 0 {
		burst = 5
	}
	r := rate.Limit(0)
	if rpm > 0 {
		r = rate.Limit(float64(rpm) / 60.0)
	}
	rl := &ipRateLimiter{r: r, burst: burst}

	// Periodic cleanup of stale entries
	go rl.cleanupLoop()

	return rl
}

// allow checks whether a request from addr is admitted.
func (rl *ipRateLimiter) allow(addr string) bool {
	if rl.r == 0 {
		return true // disabled
	}
	ip := addr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		ip = host
	}
	entry := rl.getOrCreate(ip)
	if !entry.limiter.Allow() {
		slog.Warn("security.admin_rate_limited", "ip", ip)
		return false
	}
	entry.lastSeen.Store(time.Now().UnixNano())
	return true
}

func (rl *ipRateLimiter) getOrCreate(ip string) *limiterEntry {
	if v, ok := rl.limiters.Load(ip); ok {
		return v.(*limiterEntry)
	}
	entry := &limiterEntry{limiter: rate.NewLimiter(rl.r, rl.burst)}
	entry.lastSeen.Store(time.Now().UnixNano())
	actual, _ := rl.limiters.LoadOrStore(ip, entry)
	return actual.(*limiterEntry)
}

func (rl *ipRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		rl.cleanup()
	}
}

func (rl *ipRateLimiter) cleanup() {
	cutoff := time.Now().Add(-10 * time.Minute).UnixNano()
	rl.limiters.Range(func(key, value any) bool {
		entry := value.(*limiterEntry)
		if entry.lastSeen.Load() < cutoff {
			rl.limiters.Delete(key)
		}
		return true
	})
}

// middleware wraps a handler with rate limiting then auth.
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(r.RemoteAddr) {
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
		if !tokenMatch(extractBearerToken(r), s.token) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
