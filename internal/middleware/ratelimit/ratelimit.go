// Package ratelimit throttles requests per caller with a token bucket.
package ratelimit

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type RateLimiter struct {
	buckets map[string]*bucket
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	idle    time.Duration
	logger  *zap.Logger
	stop    chan struct{}
	once    sync.Once
}

type Config struct {
	RequestsPerSecond float64
	Burst             int
	// IdleTimeout drops buckets of callers that went quiet.
	IdleTimeout time.Duration
	Logger      *zap.Logger
}

func New(cfg Config) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 10 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(cfg.RequestsPerSecond),
		burst:   cfg.Burst,
		idle:    cfg.IdleTimeout,
		logger:  cfg.Logger,
		stop:    make(chan struct{}),
	}

	go rl.cleanup(cfg.IdleTimeout / 2)

	return rl
}

// Middleware keys buckets by the X-User-ID header when present, else by IP.
func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.IP()
		if userID := c.Get("X-User-ID"); userID != "" {
			key = "user:" + userID
		}

		if !rl.allow(key, time.Now()) {
			rl.logger.Warn("Rate limit exceeded",
				zap.String("key", key),
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
			)
			c.Set(fiber.HeaderRetryAfter, "1")
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Rate limit exceeded. Please try again later.",
			})
		}

		return c.Next()
	}
}

func (rl *RateLimiter) allow(key string, now time.Time) bool {
	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	rl.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.sweep(now)
		}
	}
}

func (rl *RateLimiter) sweep(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	n := 0
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > rl.idle {
			delete(rl.buckets, key)
			n++
		}
	}
	return n
}

func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}
