package middleware

import (
	"github.com/GoPolymarket/polyvault/internal/pkg/apperrors"
	"github.com/GoPolymarket/polyvault/internal/vault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

type RoleChecker interface {
	HasRole(role vault.Role, account common.Address) bool
}

// RequireRole admits callers holding any of roles. The vault still checks
// the exact role of each operation.
func RequireRole(checker RoleChecker, roles ...vault.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := CallerFrom(c)
		if !ok {
			c.Error(apperrors.NewAuthFailed("unauthenticated"))
			c.Abort()
			return
		}
		for _, r := range roles {
			if checker.HasRole(r, caller) {
				c.Next()
				return
			}
		}
		c.Error(apperrors.New(apperrors.ErrUnauthorized, "caller has no admin role", vault.ErrUnauthorized))
		c.Abort()
	}
}
