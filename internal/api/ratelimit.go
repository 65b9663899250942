package api

import (
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"quiver/internal/config"
)

// RateLimitConfig sizes the token buckets in front of the API.
type RateLimitConfig struct {
	RequestsPerSecond float64 // every request, per client IP
	Burst             int
	ActionsPerSecond  float64 // draw, release and abort, per wielder
	ActionBurst       int
	IdleTTL           time.Duration // buckets unused this long are forgotten
}

// DefaultRateLimitConfig returns production-safe defaults
var DefaultRateLimitConfig = RateLimitFromLimits(config.DefaultLimits())

// RateLimitFromLimits derives the limiters from configured resource limits.
// Draw and release are separate requests, so the per-IP burst has to cover
// a full volley from one client.
func RateLimitFromLimits(l config.ResourceLimits) RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: l.RequestsPerSec,
		Burst:             l.RequestBurst,
		ActionsPerSecond:  l.ActionsPerSec,
		ActionBurst:       l.ActionBurst,
		IdleTTL:           10 * time.Minute,
	}
}

// KeyedLimiter keeps one token bucket per key. Buckets idle for longer
// than the TTL are swept while other keys are served.
type KeyedLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewKeyedLimiter creates a limiter refilling perSecond tokens per key.
// A non-positive rate disables limiting.
func NewKeyedLimiter(perSecond float64, burst int, ttl time.Duration) *KeyedLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &KeyedLimiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		burst:   burst,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Allow takes one token for key. When the bucket is empty it also returns
// how long until the next token.
func (l *KeyedLimiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > l.ttl {
		l.sweep(now)
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	r := b.lim.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return false, wait
	}
	return true, 0
}

func (l *KeyedLimiter) sweep(now time.Time) {
	cutoff := now.Add(-l.ttl)
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
	l.lastSweep = now
}

func (l *KeyedLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// ByClientIP limits every request by caller address. Mount it after
// middleware.RealIP so proxied callers are keyed by their own address.
func (l *KeyedLimiter) ByClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ok, wait := l.Allow(clientIP(r)); !ok {
			tooManyRequests(w, "rate_limit", wait)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ByWielder limits actions per wielder name, whichever client sends them.
// It must be mounted under a route with a {name} parameter.
func (l *KeyedLimiter) ByWielder(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ok, wait := l.Allow(chi.URLParam(r, "name")); !ok {
			tooManyRequests(w, "wielder_rate_limit", wait)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// tooManyRequests writes a 429 with Retry-After rounded up to whole seconds.
func tooManyRequests(w http.ResponseWriter, reason string, wait time.Duration) {
	RecordConnectionRejected(reason)
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
}

// clientIP returns the host part of RemoteAddr, which middleware.RealIP
// has already replaced with the forwarded address when one was sent.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// connLimiter caps concurrent connections per address.
type connLimiter struct {
	mu   sync.Mutex
	open map[string]int
	max  int
}

func newConnLimiter(perIP int) *connLimiter {
	return &connLimiter{open: make(map[string]int), max: perIP}
}

func (c *connLimiter) acquire(ip string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open[ip] >= c.max {
		return false
	}
	c.open[ip]++
	return true
}

func (c *connLimiter) release(ip string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open[ip] <= 1 {
		delete(c.open, ip)
		return
	}
	c.open[ip]--
}

func (c *connLimiter) count(ip string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open[ip]
}

// AllowedOrigins lists exact origins accepted in addition to loopback
// hosts on any port.
var AllowedOrigins []string

// IsAllowedOrigin reports whether a browser origin may call the API or open
// a viewer socket.
func IsAllowedOrigin(origin string) bool {
	for _, allowed := range AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Path != "" {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
