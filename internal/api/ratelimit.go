package api

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// clientLimiters bounds how many per-client limiters are tracked.
const clientLimiters = 10000

// RateLimitMiddleware allows rps requests per second for each client IP,
// with bursts of the same size.
func RateLimitMiddleware(rps int) gin.HandlerFunc {
	limiters, err := lru.New[string, *rate.Limiter](clientLimiters)
	if err != nil {
		panic(err)
	}
	var mu sync.Mutex

	limiterFor := func(ip string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		if l, ok := limiters.Get(ip); ok {
			return l
		}
		l := rate.NewLimiter(rate.Limit(rps), rps)
		limiters.Add(ip, l)
		return l
	}

	return func(c *gin.Context) {
		if !limiterFor(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
