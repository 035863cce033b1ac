package middleware

import (
	"net/http"

	"github.com/GoPolymarket/polyvault/internal/pkg/apperrors"
	"github.com/gin-gonic/gin"
)

// EmergencyPausePath stays writable in read-only mode.
const EmergencyPausePath = "/v1/admin/emergency-pause"

func ReadOnlyMiddleware(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			c.Next()
			return
		}

		if c.Request.Method == http.MethodPost && c.FullPath() == EmergencyPausePath {
			c.Next()
			return
		}

		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
		default:
			c.Error(apperrors.New(apperrors.ErrReadOnly, "read-only mode enabled", nil))
			c.Abort()
		}
	}
}
