package middleware

import (
	"net/http"

	"github.com/GoPolymarket/polyvault/internal/service"
	"github.com/gin-gonic/gin"
)

// RateLimitMiddleware must run after SignatureAuth.
func RateLimitMiddleware(registry *service.CallerRegistry) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := CallerFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		limiter := registry.Limiter(caller.Hex())
		if limiter == nil {
			// 调用方刚被删除，放行这一次
			c.Next()
			return
		}

		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": "1s",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
