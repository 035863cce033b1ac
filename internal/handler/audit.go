package handler

import (
	"net/http"
	"time"

	"github.com/GoPolymarket/polyvault/internal/pkg/apperrors"
	"github.com/GoPolymarket/polyvault/internal/service"
	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	svc *service.AuditService
}

func NewAuditHandler(svc *service.AuditService) *AuditHandler {
	return &AuditHandler{svc: svc}
}

// List returns recorded requests, optionally for one caller.
func (h *AuditHandler) List(c *gin.Context) {
	limit := queryInt(c, "limit", 100)
	var fromPtr *time.Time
	var toPtr *time.Time
	if raw := c.Query("from"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			c.Error(apperrors.NewInvalidRequest(err.Error()))
			return
		}
		fromPtr = &t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			c.Error(apperrors.NewInvalidRequest(err.Error()))
			return
		}
		toPtr = &t
	}

	records, err := h.svc.List(c.Request.Context(), c.Query("caller"), limit, fromPtr, toPtr)
	if err != nil {
		c.Error(apperrors.New(apperrors.ErrInternal, err.Error(), err))
		return
	}
	c.JSON(http.StatusOK, records)
}
