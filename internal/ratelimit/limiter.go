// Package ratelimit keeps one token bucket per client and route, evicting
// buckets that have been idle longer than a TTL.
package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type Limiter struct {
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
	log     *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// New limits each key to rps with the given burst. A non-positive rps
// disables limiting.
func New(rps float64, burst int, idleTTL time.Duration, log *slog.Logger) *Limiter {
	if log == nil {
		log = slog.Default()
	}
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &Limiter{
		rps:     limit,
		burst:   burst,
		idleTTL: idleTTL,
		log:     log.With("component", "ratelimit"),
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Allow takes a token for key. When none is available it reports how long
// until the next one.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// Sweep drops buckets idle for longer than the TTL and returns how many
// remain.
func (l *Limiter) Sweep() int {
	cutoff := l.now().Add(-l.idleTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, k)
		}
	}
	return len(l.buckets)
}

// Run sweeps every half TTL until ctx ends.
func (l *Limiter) Run(ctx context.Context) {
	interval := l.idleTTL / 2
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n := l.Sweep()
			l.log.Debug("rate limit buckets swept", "remaining", n)
		}
	}
}

// Middleware limits each client per route pattern. It must be mounted
// inside a chi router so the pattern is resolved.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r) + " " + r.Method + " " + routePattern(r)
		ok, wait := l.Allow(key)
		if !ok {
			l.log.WarnContext(r.Context(), "rate limit exceeded", "key", key)
			secs := int(math.Ceil(wait.Seconds()))
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":   "rate_limited",
				"message": "Too many requests",
			})
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
	}
	return r.URL.Path
}
