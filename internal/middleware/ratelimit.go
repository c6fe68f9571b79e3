package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sakif/authcore/internal/metrics"
)

// RateLimitConfig defines rate limiting parameters.
type RateLimitConfig struct {
	RequestsPerMinute int
	BurstSize         int
}

// DefaultRateLimitConfig returns default rate limiting configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 20,
		BurstSize:         5,
	}
}

const (
	// visitorIdle is how long an IP may stay quiet before its limiter is
	// forgotten; sweeps happen at most once per sweepEvery.
	visitorIdle = 10 * time.Minute
	sweepEvery  = time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-client-IP token bucket.
//
// Each IP gets its own rate.Limiter refilled at RequestsPerMinute with
// room for BurstSize requests at once. Idle entries are swept lazily on
// the request path, so the limiter owns no goroutine.
type RateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	metrics   *metrics.Metrics
	now       func() time.Time
	lastSweep time.Time
}

// NewRateLimiter creates a RateLimiter. Non-positive values fall back to
// DefaultRateLimitConfig.
func NewRateLimiter(cfg RateLimitConfig, m *metrics.Metrics) *RateLimiter {
	def := DefaultRateLimitConfig()
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = def.RequestsPerMinute
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = def.BurstSize
	}
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute)),
		burst:    cfg.BurstSize,
		metrics:  m,
		now:      time.Now,
	}
}

// allow reports whether ip may make a request now.
func (l *RateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= sweepEvery {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > visitorIdle {
				delete(l.visitors, k)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// Limit is the middleware. Apply it to individual routes with
// chi's r.With(limiter.Limit).
func (l *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.allow(clientIP(r)) {
			next.ServeHTTP(w, r)
			return
		}

		route := routePattern(r)
		if route == "" {
			route = r.URL.Path
		}
		l.metrics.RateLimited(route)

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", strconv.Itoa(int(time.Minute.Seconds())))
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate_limited","message":"Too many requests, try again later"}` + "\n"))
	})
}

// clientIP strips the port from RemoteAddr. chi's RealIP middleware runs
// first and has already replaced RemoteAddr with X-Forwarded-For or
// X-Real-IP when the service sits behind a proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
