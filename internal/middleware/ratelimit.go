package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/civicworks/civic-ops-api/pkg/errors"
	"github.com/civicworks/civic-ops-api/pkg/response"
)

// CommentRateLimit caps comment submissions per client per day using a
// redis counter. Redis trouble fails open; throttling is best effort.
func CommentRateLimit(client *redis.Client, limit int, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		if client == nil || limit <= 0 {
			c.Next()
			return
		}

		key := fmt.Sprintf("civic:ratelimit:comments:%s:%s", c.ClientIP(), time.Now().UTC().Format("2006-01-02"))
		count, err := client.Incr(c.Request.Context(), key).Result()
		if err != nil {
			logger.Warn("comment rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if count == 1 {
			if err := client.Expire(c.Request.Context(), key, 24*time.Hour).Err(); err != nil {
				logger.Warn("comment rate limit expire failed", zap.Error(err))
			}
		}
		if count > int64(limit) {
			response.Error(c, appErrors.Clone(appErrors.ErrRateLimited, fmt.Sprintf("comment limit of %d per day reached", limit)))
			c.Abort()
			return
		}
		c.Next()
	}
}
