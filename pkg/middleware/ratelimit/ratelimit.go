package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/edutrack-api/pkg/errors"
	"github.com/noah-isme/edutrack-api/pkg/response"
)

// Counter increments a windowed counter and reports the new value.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisCounter implements a fixed-window counter with INCR and EXPIRE.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter wraps a Redis client.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

// Incr bumps key and sets its expiry on the first hit of a window.
func (r *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

// KeyFunc derives the bucket identity for a request.
type KeyFunc func(c *gin.Context) string

// Limiter enforces a per-key request budget over a fixed window.
type Limiter struct {
	counter Counter
	limit   int
	window  time.Duration
	prefix  string
	logger  *zap.Logger
	now     func() time.Time
}

// New builds a limiter allowing limit requests per window. A nil counter or a
// non-positive limit disables limiting.
func New(counter Counter, prefix string, limit int, window time.Duration, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if window <= 0 {
		window = time.Minute
	}
	// Buckets are counted in whole seconds.
	if window < time.Second {
		window = time.Second
	}
	return &Limiter{counter: counter, limit: limit, window: window, prefix: prefix, logger: logger, now: time.Now}
}

// Middleware rejects requests over budget with 429. Counter failures let the
// request through.
func (l *Limiter) Middleware(keyFn KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil || l.counter == nil || l.limit <= 0 {
			c.Next()
			return
		}
		id := keyFn(c)
		if id == "" {
			id = c.ClientIP()
		}
		bucket := l.now().Unix() / int64(l.window/time.Second)
		key := fmt.Sprintf("ratelimit:%s:%s:%d", l.prefix, id, bucket)

		count, err := l.counter.Incr(c.Request.Context(), key, l.window)
		if err != nil {
			l.logger.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}

		remaining := int64(l.limit) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(l.limit))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(l.limit) {
			c.Header("Retry-After", strconv.Itoa(int(l.window/time.Second)))
			response.Error(c, appErrors.ErrRateLimited)
			c.Abort()
			return
		}
		c.Next()
	}
}
