package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const requestIDKey = "request_id"

// requestLogger logs every request through slog, tagged with a request ID
// that is echoed in the X-Request-ID header.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)

		c.Next()

		status := c.Writer.Status()
		attrs := []slog.Attr{
			slog.String("request_id", id),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.String("client_ip", c.ClientIP()),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("errors", c.Errors.String()))
		}

		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		slog.LogAttrs(context.Background(), level, "request completed", attrs...)
	}
}

// limiterIdleTTL is how long a client's bucket survives without requests.
// By then it has refilled, so dropping it loses nothing.
const limiterIdleTTL = 10 * time.Minute

type clientLimiter struct {
	*rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps one token bucket per client key. Idle buckets are swept
// on access.
type rateLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu        sync.Mutex
	limits    map[string]*clientLimiter
	lastSweep time.Time
}

func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	return &rateLimiter{
		limit:  rate.Limit(perSecond),
		burst:  burst,
		now:    time.Now,
		limits: make(map[string]*clientLimiter),
	}
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	now := rl.now()
	if now.Sub(rl.lastSweep) >= limiterIdleTTL {
		rl.sweep(now)
	}
	l, ok := rl.limits[key]
	if !ok {
		l = &clientLimiter{Limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limits[key] = l
	}
	l.lastSeen = now
	rl.mu.Unlock()
	return l.AllowN(now, 1)
}

// sweep drops buckets idle for longer than limiterIdleTTL. rl.mu must be held.
func (rl *rateLimiter) sweep(now time.Time) {
	for key, l := range rl.limits {
		if now.Sub(l.lastSeen) > limiterIdleTTL {
			delete(rl.limits, key)
		}
	}
	rl.lastSweep = now
}

// rateLimit rejects clients that exceed their bucket with 429.
// A nil limiter lets everything through.
func rateLimit(rl *rateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl == nil {
			c.Next()
			return
		}
		ip := c.ClientIP()
		if !rl.allow(ip) {
			slog.Warn("rate limit exceeded", "client_ip", ip)
			c.Header("Retry-After", "1")
			abortWithError(c, http.StatusTooManyRequests, errRateLimited, "rate limit exceeded, try again later")
			return
		}
		c.Next()
	}
}
