// Package ratelimit throttles credential and analysis calls made through
// the companion server so a misbehaving dashboard cannot hammer the
// backend's login and scoring endpoints.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/merchantshield/internal/metrics"
	"golang.org/x/time/rate"
)

// Config configures a token bucket per key.
type Config struct {
	// Name labels rejections in metrics.
	Name string
	// RequestsPerMinute is the sustained rate per key.
	RequestsPerMinute int
	// BurstSize allows brief bursts above the rate.
	BurstSize int
	// IdleTTL drops buckets not touched for this long.
	IdleTTL time.Duration
}

// LoginConfig suits credential endpoints.
func LoginConfig() Config {
	return Config{Name: "login", RequestsPerMinute: 10, BurstSize: 5, IdleTTL: 10 * time.Minute}
}

// AnalyzeConfig suits scoring endpoints.
func AnalyzeConfig() Config {
	return Config{Name: "analyze", RequestsPerMinute: 120, BurstSize: 20, IdleTTL: 5 * time.Minute}
}

// Limiter keeps one rate.Limiter per key. Idle keys are swept lazily on
// Allow, so a Limiter owns no goroutine.
type Limiter struct {
	cfg       Config
	limit     rate.Limit
	mu        sync.Mutex
	keys      map[string]*entry
	now       func() time.Time
	lastSweep time.Time
}

type entry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// New creates a limiter.
func New(cfg Config) *Limiter {
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 5 * time.Minute
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	return &Limiter{
		cfg:   cfg,
		limit: rate.Limit(float64(cfg.RequestsPerMinute) / 60),
		keys:  make(map[string]*entry),
		now:   time.Now,
	}
}

// Allow takes a token for key and reports whether one was available. The
// second result is how long until the next token when denied.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	now := l.now()
	l.sweep(now)
	e, ok := l.keys[key]
	if !ok {
		e = &entry{lim: rate.NewLimiter(l.limit, l.cfg.BurstSize)}
		l.keys[key] = e
	}
	e.lastSeen = now
	l.mu.Unlock()

	r := e.lim.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Minute
	}
	wait := r.DelayFrom(now)
	if wait == 0 {
		return true, 0
	}
	// Denied requests must not consume a future token.
	r.CancelAt(now)
	if wait == rate.InfDuration {
		wait = time.Minute
	}
	return false, wait
}

func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.cfg.IdleTTL {
		return
	}
	l.lastSweep = now
	cutoff := now.Add(-l.cfg.IdleTTL)
	for key, e := range l.keys {
		if e.lastSeen.Before(cutoff) {
			delete(l.keys, key)
		}
	}
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

// Middleware limits by client IP and answers 429 with Retry-After.
func (l *Limiter) Middleware() gin.HandlerFunc {
	rejected := metrics.RateLimitRejectionsTotal.WithLabelValues(l.cfg.Name)
	return func(c *gin.Context) {
		ok, wait := l.Allow(c.ClientIP())
		if !ok {
			rejected.Inc()
			secs := int(math.Ceil(wait.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": secs,
			})
			return
		}
		c.Next()
	}
}
