package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"rider/internal/http/middleware"
)

func newLimitedRouter(t *testing.T, rate string, rdb *redis.Client) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	limit, err := middleware.RateLimit(rate, rdb)
	if err != nil {
		t.Fatalf("rate limit: %v", err)
	}
	r := gin.New()
	r.POST("/bookings", limit, func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})
	return r
}

func post(r http.Handler) int {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/bookings", nil))
	return w.Code
}

func TestRateLimit_InvalidRate(t *testing.T) {
	if _, err := middleware.RateLimit("ten per minute", nil); err == nil {
		t.Fatal("expected error for malformed rate")
	}
}

func TestRateLimit_MemoryStore(t *testing.T) {
	r := newLimitedRouter(t, "1-M", nil)
	if code := post(r); code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}
	if code := post(r); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
}

// Two routers over one Redis behave like two API instances.
func TestRateLimit_RedisStoreSharedAcrossInstances(t *testing.T) {
	addr := os.Getenv("RIDER_REDIS_ADDR")
	if addr == "" {
		t.Skip("RIDER_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	keys, _ := rdb.Keys(ctx, "rate_limiter:booking*").Result()
	if len(keys) > 0 {
		rdb.Del(ctx, keys...)
	}

	first := newLimitedRouter(t, "2-M", rdb)
	second := newLimitedRouter(t, "2-M", rdb)

	if code := post(first); code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}
	if code := post(second); code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}
	if code := post(first); code != http.StatusTooManyRequests {
		t.Fatalf("expected the shared limit to apply, got %d", code)
	}
}
