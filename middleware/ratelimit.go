package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ibn-api/authcore"
)

const (
	rateLimitCleanupInterval = time.Minute
	rateLimitClientTTL       = 5 * time.Minute
)

type rateLimitClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPLimiter is a per-client-IP token bucket.
type IPLimiter struct {
	perSecond rate.Limit
	burst     int

	mu      sync.Mutex
	clients map[string]*rateLimitClient
	now     func() time.Time
}

// NewIPLimiter returns a limiter allowing perSecond requests per IP with the
// given burst. Idle clients are forgotten after five minutes once
// [IPLimiter.Run] is started.
func NewIPLimiter(perSecond float64, burst int) *IPLimiter {
	if burst < 1 {
		burst = 1
	}
	return &IPLimiter{
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		clients:   make(map[string]*rateLimitClient),
		now:       time.Now,
	}
}

// Allow reports whether one more request from ip fits the bucket.
func (l *IPLimiter) Allow(ip string) bool {
	if ip == "" {
		ip = "unknown"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	c, found := l.clients[ip]
	if !found {
		c = &rateLimitClient{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = l.now()
	return c.limiter.Allow()
}

// Run evicts idle clients until ctx ends.
func (l *IPLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(rateLimitCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.evict()
		case <-ctx.Done():
			return
		}
	}
}

func (l *IPLimiter) evict() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	now := l.now()
	for ip, c := range l.clients {
		if now.Sub(c.lastSeen) > rateLimitClientTTL {
			delete(l.clients, ip)
			n++
		}
	}
	return n
}

// Middleware answers 429 once a client IP exceeds its bucket.
func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(ClientIP(r)) {
			WriteError(w, http.StatusTooManyRequests, authcore.ErrLoginRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit builds an [IPLimiter], starts its cleanup loop bound to ctx and
// returns its middleware.
func RateLimit(ctx context.Context, perSecond float64, burst int) func(http.Handler) http.Handler {
	l := NewIPLimiter(perSecond, burst)
	go l.Run(ctx)
	return l.Middleware
}
