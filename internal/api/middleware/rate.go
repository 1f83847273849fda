package middleware

import (
	"math"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
	// IdleTTL is how long an idle bucket is kept.
	IdleTTL time.Duration
	// Key picks the bucket a request draws from. Defaults to UserOrIP.
	Key func(c *gin.Context) string
	// Exempt lists route templates that are never limited.
	Exempt []string
}

// DefaultRateLimitConfig returns the limits used in production. Health
// probes and metric scrapes are exempt.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             200,
		IdleTTL:           10 * time.Minute,
		Key:               UserOrIP,
		Exempt:            []string{"/health", "/metrics"},
	}
}

// UserOrIP keys requests by the forwarded X-User-ID, falling back to the
// client IP. Session requests arrive through one upstream router, so the
// IP alone would put every user in one bucket.
func UserOrIP(c *gin.Context) string {
	if user := c.GetHeader("X-User-ID"); user != "" {
		return "user:" + user
	}
	return "ip:" + c.ClientIP()
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type buckets struct {
	limit rate.Limit
	burst int
	ttl   time.Duration

	mu     sync.Mutex
	byKey  map[string]*bucket
	pruned time.Time
}

func newBuckets(cfg RateLimitConfig) *buckets {
	return &buckets{
		limit:  rate.Limit(cfg.RequestsPerSecond),
		burst:  cfg.Burst,
		ttl:    cfg.IdleTTL,
		byKey:  make(map[string]*bucket),
		pruned: time.Now(),
	}
}

// take draws one token for key. When none is available it returns how long
// until one is.
func (b *buckets) take(key string, now time.Time) (bool, time.Duration) {
	b.mu.Lock()
	if now.Sub(b.pruned) > b.ttl {
		for k, bk := range b.byKey {
			if now.Sub(bk.lastSeen) > b.ttl {
				delete(b.byKey, k)
			}
		}
		b.pruned = now
	}
	bk, ok := b.byKey[key]
	if !ok {
		bk = &bucket{limiter: rate.NewLimiter(b.limit, b.burst)}
		b.byKey[key] = bk
	}
	bk.lastSeen = now
	limiter := bk.limiter
	b.mu.Unlock()

	r := limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (b *buckets) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byKey)
}

// RateLimit creates a token-bucket limiter with one bucket per Key.
// Rejected requests get 429 with Retry-After.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	if cfg.Key == nil {
		cfg.Key = UserOrIP
	}
	set := newBuckets(cfg)

	return func(c *gin.Context) {
		if slices.Contains(cfg.Exempt, c.FullPath()) {
			c.Next()
			return
		}

		ok, retry := set.take(cfg.Key(c), time.Now())
		if !ok {
			if retry > 0 {
				c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
