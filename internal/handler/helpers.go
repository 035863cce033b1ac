package handler

import (
	"fmt"
	"strconv"
	"time"

	"github.com/GoPolymarket/polyvault/internal/middleware"
	"github.com/GoPolymarket/polyvault/internal/pkg/apperrors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

func callerOf(c *gin.Context) (common.Address, bool) {
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		c.Error(apperrors.NewAuthFailed("unauthorized: missing caller"))
	}
	return caller, ok
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return false
	}
	return true
}

// fail records err on the request log and hands it to ErrorHandler.
func fail(c *gin.Context, err error) {
	middleware.AddAuditContext(c, "error", err.Error())
	c.Error(err)
}

func queryInt(c *gin.Context, key string, def int) int {
	if raw := c.Query(key); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			return parsed
		}
	}
	return def
}

func pathAddress(c *gin.Context, key string) (common.Address, bool) {
	raw := c.Param(key)
	if !common.IsHexAddress(raw) {
		c.Error(apperrors.NewInvalidRequest(fmt.Sprintf("%s: %q is not an address", key, raw)))
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid time format")
}
