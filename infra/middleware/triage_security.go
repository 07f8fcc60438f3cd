package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"triage_server/pkg/apperr"
)

// SecurityHeaders sets the response headers of a JSON-only API.
func SecurityHeaders() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "no-referrer")
		c.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Set("Cache-Control", "no-store")
		return c.Next()
	}
}

// RateLimiter is a fixed-window limiter keyed by client IP.
type RateLimiter struct {
	mu       sync.Mutex
	windows  map[string]*window
	limit    int
	period   time.Duration
	now      func() time.Time
	lastScan time.Time
}

type window struct {
	count     int
	expiresAt time.Time
}

func NewRateLimiter(limit int, period time.Duration) *RateLimiter {
	return &RateLimiter{
		windows: make(map[string]*window),
		limit:   limit,
		period:  period,
		now:     time.Now,
	}
}

// Allow counts one request for key and returns the remaining budget and
// the end of the current window.
func (rl *RateLimiter) Allow(key string) (bool, int, time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.evict(now)

	w, ok := rl.windows[key]
	if !ok || !now.Before(w.expiresAt) {
		w = &window{expiresAt: now.Add(rl.period)}
		rl.windows[key] = w
	}
	if w.count >= rl.limit {
		return false, 0, w.expiresAt
	}
	w.count++
	return true, rl.limit - w.count, w.expiresAt
}

// evict drops expired windows at most once per period.
func (rl *RateLimiter) evict(now time.Time) {
	if now.Sub(rl.lastScan) < rl.period {
		return
	}
	rl.lastScan = now
	for key, w := range rl.windows {
		if !now.Before(w.expiresAt) {
			delete(rl.windows, key)
		}
	}
}

func (rl *RateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		allowed, remaining, reset := rl.Allow(c.IP())

		c.Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if !allowed {
			retryAfter := int(time.Until(reset).Seconds()) + 1
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
			return apperr.TooManyRequests(retryAfter)
		}
		return c.Next()
	}
}
