package api

import (
	"crypto/subtle"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"custody-ledger/internal/observability"
)

// RateLimitConfig sets the per-IP token bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// IPRateLimiter keeps one token bucket per client IP.
type IPRateLimiter struct {
	ips    map[string]*tokenBucket
	mu     sync.Mutex
	config RateLimitConfig
	now    func() time.Time
}

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
	rate       float64
	capacity   float64
	mu         sync.Mutex
}

// NewIPRateLimiter creates a limiter. now defaults to time.Now.
func NewIPRateLimiter(config RateLimitConfig, now func() time.Time) *IPRateLimiter {
	if now == nil {
		now = time.Now
	}
	return &IPRateLimiter{
		ips:    make(map[string]*tokenBucket),
		config: config,
		now:    now,
	}
}

func (tb *tokenBucket) tryConsume(now time.Time) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now

	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}

func (i *IPRateLimiter) bucket(ip string) *tokenBucket {
	i.mu.Lock()
	defer i.mu.Unlock()

	b, exists := i.ips[ip]
	if !exists {
		b = &tokenBucket{
			tokens:     float64(i.config.BurstSize),
			lastRefill: i.now(),
			rate:       i.config.RequestsPerSecond,
			capacity:   float64(i.config.BurstSize),
		}
		i.ips[ip] = b
	}
	return b
}

// Allow consumes one token for ip.
func (i *IPRateLimiter) Allow(ip string) bool {
	return i.bucket(ip).tryConsume(i.now())
}

// Middleware rejects requests over the limit with 429.
func (i *IPRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !i.Allow(c.ClientIP()) {
			fail(c, http.StatusTooManyRequests, "too many requests")
			return
		}
		c.Next()
	}
}

// requireKey checks X-API-Key against key. An empty key locks the group.
func requireKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader("X-API-Key")
		if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			fail(c, http.StatusUnauthorized, "invalid API key")
			return
		}
		c.Next()
	}
}

// requestLogger logs each request through logger and records its metric.
func requestLogger(logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		observability.RecordHTTPRequest(route, status)
		logger.Printf("%s %s %d %v %s", c.Request.Method, c.Request.URL.Path, status, time.Since(start), c.ClientIP())
	}
}
