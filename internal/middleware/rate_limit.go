package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"waris-go/internal/config"
	"waris-go/pkg/database"
	"waris-go/pkg/log"
)

// ChatRateLimiter enforces per-client request quotas on the chat
// endpoints using fixed windows in Redis. The limiter fails open when
// Redis is unreachable; chat availability matters more than quotas.
func ChatRateLimiter(cfg config.RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Enabled {
			c.Next()
			return
		}

		clientIP := c.ClientIP()
		ctx := c.Request.Context()

		minuteKey := fmt.Sprintf("ratelimit:minute:%s", clientIP)
		minuteCount, err := database.RDB.Incr(ctx, minuteKey).Result()
		if err != nil {
			log.Warnf("[RateLimit] redis unavailable, allowing request: %v", err)
			c.Next()
			return
		}
		if minuteCount == 1 {
			_ = database.RDB.Expire(ctx, minuteKey, time.Minute).Err()
		}

		dayKey := fmt.Sprintf("ratelimit:day:%s", clientIP)
		dayCount, err := database.RDB.Incr(ctx, dayKey).Result()
		if err != nil {
			log.Warnf("[RateLimit] redis unavailable, allowing request: %v", err)
			c.Next()
			return
		}
		if dayCount == 1 {
			_ = database.RDB.Expire(ctx, dayKey, 24*time.Hour).Err()
		}

		if minuteCount > int64(cfg.RequestsPerMin) || dayCount > int64(cfg.RequestsPerDay) {
			log.Warnf("[RateLimit] client %s over quota: minute=%d day=%d", clientIP, minuteCount, dayCount)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "คำขอเกินจำนวนที่กำหนด กรุณาลองใหม่ภายหลัง",
			})
			return
		}

		c.Next()
	}
}
