// Package ratelimit implements a token-bucket limiter: one bucket per
// (client_ip, endpoint) pair, configured from a hot-reloadable JSON
// document and enforced as chi middleware.
package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/runicorn/runicorn/internal/config"
	"github.com/runicorn/runicorn/internal/telemetry"
)

// bucketKey identifies one token bucket.
type bucketKey struct {
	ip       string
	endpoint string
}

// Limiter owns every (ip, endpoint) token bucket and the current
// configuration, swapped atomically under mu when the backing file
// changes.
type Limiter struct {
	mu      sync.Mutex
	cfg     *config.RateLimitConfig
	buckets map[bucketKey]*entry
	log     *zap.Logger
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New builds a Limiter from an initial configuration. Call WatchConfig to keep
// it in sync with the backing file.
func New(cfg *config.RateLimitConfig, log *zap.Logger) *Limiter {
	return &Limiter{
		cfg:     cfg,
		buckets: make(map[bucketKey]*entry),
		log:     log.Named("ratelimit"),
	}
}

// SetConfig swaps in a freshly loaded configuration. Existing buckets are
// kept — only their shape changes on next Allow, since recreating every
// bucket on a reload would reset remaining burst capacity and make the
// limiter's effective rate impossible to reason about in the reload
// instant.
func (l *Limiter) SetConfig(cfg *config.RateLimitConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = cfg
}

// ruleFor returns the configured rule for endpoint, falling back to the
// default bucket shape.
func (l *Limiter) ruleFor(endpoint string) config.RateLimitRule {
	if r, ok := l.cfg.Endpoints[endpoint]; ok {
		return r
	}
	return l.cfg.Default
}

// Result carries the outcome of an Allow check, enough to populate the
// rate-limit response headers on both success and rejection.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetUnix int64
}

// Allow consumes one token from the (ip, endpoint) bucket, creating it on
// first use. Whitelisted localhost requests bypass limiting entirely when
// configured to do so.
func (l *Limiter) Allow(ip, endpoint string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.cfg.Settings.EnableRateLimiting {
		return Result{Allowed: true}
	}
	if l.cfg.Settings.WhitelistLocalhost && isLocalhost(ip) {
		return Result{Allowed: true}
	}

	rule := l.ruleFor(endpoint)
	key := bucketKey{ip: ip, endpoint: endpoint}
	burst := rule.BurstSize
	if burst <= 0 {
		burst = rule.MaxRequests
	}
	ratePerSec := rate.Limit(float64(rule.MaxRequests) / float64(rule.WindowSeconds))
	e, ok := l.buckets[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(ratePerSec, burst)}
		l.buckets[key] = e
	} else if e.limiter.Limit() != ratePerSec || e.limiter.Burst() != burst {
		e.limiter.SetLimit(ratePerSec)
		e.limiter.SetBurst(burst)
	}
	e.lastSeen = time.Now()

	allowed := e.limiter.Allow()
	remaining := int(e.limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	reset := time.Now().Add(time.Duration(rule.WindowSeconds) * time.Second).Unix()
	return Result{Allowed: allowed, Limit: rule.MaxRequests, Remaining: remaining, ResetUnix: reset}
}

// Sweep removes buckets idle for longer than maxIdle, bounding memory use
// as distinct client IPs churn through the process lifetime.
func (l *Limiter) Sweep(maxIdle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-maxIdle)
	for k, e := range l.buckets {
		if e.lastSeen.Before(cutoff) {
			delete(l.buckets, k)
		}
	}
}

func isLocalhost(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}

// Middleware enforces the limiter for every request, keyed by client IP
// (as resolved by chi's RealIP, which must run earlier in the chain) and
// the matched chi route pattern — so "/api/runs/{id}/metrics" is one
// bucket shared across all run IDs, per-endpoint
// (not per-resource) granularity.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		endpoint := routePattern(r)

		res := l.Allow(ip, endpoint)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetUnix, 10))

		if !res.Allowed {
			if l.cfg.Settings.LogViolations {
				l.log.Warn("rate limit exceeded", zap.String("ip", ip), zap.String("endpoint", endpoint))
			}
			telemetry.RateLimitRejections.WithLabelValues(endpoint).Inc()
			w.Header().Set("Retry-After", strconv.FormatInt(res.ResetUnix-time.Now().Unix(), 10))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limit exceeded","code":"rate_limited"}}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
		if rc.Routes != nil {
			tctx := chi.NewRouteContext()
			if rc.Routes.Match(tctx, r.Method, r.URL.Path) {
				if p := tctx.RoutePattern(); p != "" {
					return p
				}
			}
		}
	}
	return r.URL.Path
}
