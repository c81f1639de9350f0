package httpapi

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

type RateLimitConfig struct {
	PerMinute int
	Burst     int
}

// sweepInterval bounds how often idle buckets are collected.
const sweepInterval = time.Minute

// RateLimiter throttles requests per client IP with a token bucket. Join is
// reachable from customers' phones, so the limit guards against a single
// device hammering the endpoint. Buckets idle long enough to refill fully
// are swept, keeping the map bounded on a public endpoint.
type RateLimiter struct {
	mu        sync.Mutex
	rate      float64
	burst     float64
	bucket    map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	perMinute := cfg.PerMinute
	if perMinute <= 0 {
		perMinute = 60
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 20
	}
	return &RateLimiter{
		rate:      float64(perMinute) / 60.0,
		burst:     float64(burst),
		bucket:    make(map[string]*bucket),
		lastSweep: time.Now(),
	}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if ip != "" && !l.allow(ip) {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastSweep) >= sweepInterval {
		l.sweepLocked(now)
		l.lastSweep = now
	}
	b, ok := l.bucket[key]
	if !ok {
		l.bucket[key] = &bucket{tokens: l.burst - 1, last: now}
		return true
	}
	elapsed := now.Sub(b.last).Seconds()
	b.tokens = minFloat(l.burst, b.tokens+elapsed*l.rate)
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens -= 1
	return true
}

// sweepLocked drops buckets idle past a full refill window. A fully refilled
// bucket behaves identically to an absent one, so removal is invisible to
// callers. Caller must hold mu.
func (l *RateLimiter) sweepLocked(now time.Time) {
	for key, b := range l.bucket {
		if now.Sub(b.last).Seconds()*l.rate >= l.burst {
			delete(l.bucket, key)
		}
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
