// README: Per-passenger rate limit for booking mutations.
package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	ginlimiter "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"
)

const rateLimitPrefix = "rate_limiter:booking"

// RateLimit limits requests per authenticated caller. rate uses the limiter
// format, e.g. "10-M". Counters live in rdb so every instance shares them;
// a nil rdb keeps them in process memory. Must run after Auth.
func RateLimit(rate string, rdb *redis.Client) (gin.HandlerFunc, error) {
	r, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, err
	}
	store, err := newLimiterStore(rdb, r)
	if err != nil {
		return nil, err
	}
	return ginlimiter.NewMiddleware(limiter.New(store, r),
		ginlimiter.WithKeyGetter(func(c *gin.Context) string {
			if uid := CallerUID(c); uid != "" {
				return uid
			}
			return c.ClientIP()
		}),
		ginlimiter.WithLimitReachedHandler(func(c *gin.Context) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests. Please wait a moment."})
		}),
	), nil
}

func newLimiterStore(rdb *redis.Client, r limiter.Rate) (limiter.Store, error) {
	if rdb == nil {
		return memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: rateLimitPrefix}), nil
	}
	store, err := redisstore.NewStoreWithOptions(rdb, limiter.StoreOptions{
		Prefix:          rateLimitPrefix,
		MaxRetry:        3,
		CleanUpInterval: r.Period,
	})
	if err != nil {
		return nil, fmt.Errorf("redis limiter store: %w", err)
	}
	return store, nil
}
