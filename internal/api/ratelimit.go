package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/mescon/cadence/internal/clock"
)

// maxTrackedClients bounds the limiter map; full buckets are pruned past it.
const maxTrackedClients = 1024

// RateLimiter keeps one token bucket per client key. Time is read from a
// TimeSource so tests can drive refills with a fake clock.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
	interval time.Duration
	base     time.Time
	source   clock.TimeSource
}

// NewRateLimiter allows burst requests at once, refilled by perInterval
// tokens every interval.
func NewRateLimiter(perInterval int, interval time.Duration, burst int, source clock.TimeSource) *RateLimiter {
	perInterval = max(perInterval, 1)
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Every(interval / time.Duration(perInterval)),
		burst:    burst,
		interval: interval,
		base:     time.Now(),
		source:   source,
	}
}

func (rl *RateLimiter) now() time.Time {
	return rl.base.Add(rl.source.Elapsed())
}

// Allow takes one token from key's bucket, reporting whether one was left.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	lim, ok := rl.limiters[key]
	if !ok {
		if len(rl.limiters) >= maxTrackedClients {
			rl.prune(now)
		}
		lim = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[key] = lim
	}
	return lim.AllowN(now, 1)
}

// prune drops limiters whose bucket has refilled. Caller holds mu.
func (rl *RateLimiter) prune(now time.Time) {
	for key, lim := range rl.limiters {
		if lim.TokensAt(now) >= float64(rl.burst) {
			delete(rl.limiters, key)
		}
	}
}

// Tracked returns how many clients currently hold a limiter.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	retryAfter := strconv.Itoa(max(1, int(rl.interval.Round(time.Second)/time.Second)))
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			c.Header("Retry-After", retryAfter)
			respondWithError(c, http.StatusTooManyRequests, ErrMsgTooManyRequests, nil)
			return
		}
		c.Next()
	}
}
