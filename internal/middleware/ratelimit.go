package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"kazi/internal/config"
	appmetrics "kazi/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

// tokenBucket is a simple token bucket for rate limiting.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	ratePerSec float64 // tokens per second
	burst      float64
}

func newBucket(rpm, burst int) *tokenBucket {
	if rpm <= 0 {
		rpm = 60
	}
	if burst <= 0 {
		burst = rpm // default burst equals a minute worth
	}
	return &tokenBucket{
		tokens:     float64(burst),
		lastRefill: time.Now(),
		ratePerSec: float64(rpm) / 60.0,
		burst:      float64(burst),
	}
}

func (b *tokenBucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.ratePerSec
		if b.tokens > b.burst {
			b.tokens = b.burst
		}
		b.lastRefill = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// limiter keeps one bucket per client key; idle buckets expire from the cache.
type limiter struct {
	mu      sync.Mutex
	prefix  string
	rpm     int
	burst   int
	buckets *cache.Cache
}

func newLimiter(prefix string, rpm, burst int, ttl time.Duration) *limiter {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &limiter{
		prefix:  prefix,
		rpm:     rpm,
		burst:   burst,
		buckets: cache.New(ttl, 2*ttl),
	}
}

func (l *limiter) bucket(key string) *tokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.buckets.Get(key); ok {
		b := v.(*tokenBucket)
		// 访问即续期
		l.buckets.SetDefault(key, b)
		return b
	}
	b := newBucket(l.rpm, l.burst)
	l.buckets.SetDefault(key, b)
	return b
}

// RateLimitMiddleware applies per-path limits when configured and the global
// limit otherwise. The first Paths entry whose prefix matches wins.
func RateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	rl := cfg.Security.RateLimiting
	if !rl.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	var pathLimiters []*limiter
	for _, p := range rl.Paths {
		if !p.Enabled || p.RequestsPerMinute <= 0 || p.Prefix == "" {
			continue
		}
		pathLimiters = append(pathLimiters, newLimiter(p.Prefix, p.RequestsPerMinute, p.Burst, rl.IdleTTL))
	}
	var global *limiter
	if rl.RequestsPerMinute > 0 {
		global = newLimiter("global", rl.RequestsPerMinute, rl.Burst, rl.IdleTTL)
	}

	extractKey := func(c *gin.Context) string {
		if rl.KeyHeader != "" {
			if hVal := c.GetHeader(rl.KeyHeader); hVal != "" {
				// X-Forwarded-For: take the first hop
				if strings.EqualFold(rl.KeyHeader, "X-Forwarded-For") {
					return strings.TrimSpace(strings.Split(hVal, ",")[0])
				}
				return hVal
			}
		}
		if ip := c.ClientIP(); ip != "" {
			return ip
		}
		return "unknown"
	}

	reject := func(c *gin.Context, l *limiter) {
		appmetrics.IncRateLimitDrop(l.prefix)
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":   "Too Many Requests",
			"message": "rate limit exceeded",
		})
	}

	return func(c *gin.Context) {
		key := extractKey(c)
		if rl.KeyHeader != "" && contains(rl.WhitelistKeys, key) {
			c.Next()
			return
		}
		if contains(rl.WhitelistIPs, c.ClientIP()) {
			c.Next()
			return
		}

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		for _, pl := range pathLimiters {
			if strings.HasPrefix(path, pl.prefix) {
				if !pl.bucket(key).allow() {
					reject(c, pl)
					return
				}
				c.Next()
				return
			}
		}
		if global != nil && !global.bucket(key).allow() {
			reject(c, global)
			return
		}
		c.Next()
	}
}

func contains(hay []string, needle string) bool {
	for _, s := range hay {
		if s == needle {
			return true
		}
	}
	return false
}
