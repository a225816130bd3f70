package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds throttle budgets. A zero Max disables that throttle.
type Config struct {
	Prefix                string
	EnableIPThrottle      bool
	MaxLoginAttempts      int
	LoginWindow           time.Duration
	EnableRefreshThrottle bool
	MaxRefreshAttempts    int
	RefreshWindow         time.Duration
}

// Limiter enforces per-identifier, per-IP and per-session budgets.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

var incrScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// New creates a Limiter backed by redisClient.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "ac"
	}
	return &Limiter{redis: redisClient, config: cfg}
}

func (l *Limiter) loginKey(identifier string) string {
	return l.config.Prefix + ":rl:login:" + strings.ToLower(strings.TrimSpace(identifier))
}

func (l *Limiter) ipKey(ip string) string {
	return l.config.Prefix + ":rl:ip:" + ip
}

func (l *Limiter) refreshKey(sessionID string) string {
	return l.config.Prefix + ":rl:refresh:" + sessionID
}

func (l *Limiter) loginEnabled() bool {
	return l.config.MaxLoginAttempts > 0
}

// CheckLogin reports ErrRateLimited when the identifier or IP budget is spent.
func (l *Limiter) CheckLogin(ctx context.Context, identifier, ip string) error {
	if !l.loginEnabled() {
		return nil
	}
	if err := l.checkCounter(ctx, l.loginKey(identifier), l.config.MaxLoginAttempts); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		return l.checkCounter(ctx, l.ipKey(ip), l.config.MaxLoginAttempts)
	}
	return nil
}

// RecordLoginFailure counts one failed attempt against identifier and ip.
func (l *Limiter) RecordLoginFailure(ctx context.Context, identifier, ip string) error {
	if !l.loginEnabled() {
		return nil
	}
	if _, err := l.increment(ctx, l.loginKey(identifier), l.config.LoginWindow); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		if _, err := l.increment(ctx, l.ipKey(ip), l.config.LoginWindow); err != nil {
			return err
		}
	}
	return nil
}

// ResetLogin clears the identifier counter after a successful login. The IP
// counter is left to expire on its own.
func (l *Limiter) ResetLogin(ctx context.Context, identifier string) error {
	if !l.loginEnabled() {
		return nil
	}
	if err := l.redis.Del(ctx, l.loginKey(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// LoginAttempts returns the current identifier counter. Missing keys read as zero.
func (l *Limiter) LoginAttempts(ctx context.Context, identifier string) (int, error) {
	n, err := l.redis.Get(ctx, l.loginKey(identifier)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if n < 0 {
		return 0, nil
	}
	return int(n), nil
}

// CheckRefresh counts one refresh against the session and reports ErrRateLimited
// once the window budget is exceeded.
func (l *Limiter) CheckRefresh(ctx context.Context, sessionID string) error {
	if !l.config.EnableRefreshThrottle || l.config.MaxRefreshAttempts <= 0 {
		return nil
	}
	n, err := l.increment(ctx, l.refreshKey(sessionID), l.config.RefreshWindow)
	if err != nil {
		return err
	}
	if n > int64(l.config.MaxRefreshAttempts) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, limit int) error {
	n, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if n >= int64(limit) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	if window <= 0 {
		window = time.Minute
	}
	n, err := incrScript.Run(ctx, l.redis, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n, nil
}
