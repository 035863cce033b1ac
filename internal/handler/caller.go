package handler

import (
	"net/http"

	"github.com/GoPolymarket/polyvault/internal/model"
	"github.com/GoPolymarket/polyvault/internal/pkg/apperrors"
	"github.com/GoPolymarket/polyvault/internal/service"
	"github.com/gin-gonic/gin"
)

// CallerHandler 管理调用方资料 (限流、禁用、合约钱包标记)
type CallerHandler struct {
	registry *service.CallerRegistry
}

func NewCallerHandler(registry *service.CallerRegistry) *CallerHandler {
	return &CallerHandler{registry: registry}
}

func (h *CallerHandler) List(c *gin.Context) {
	callers, err := h.registry.List(c.Request.Context(), queryInt(c, "limit", 100), queryInt(c, "offset", 0))
	if err != nil {
		c.Error(apperrors.New(apperrors.ErrInternal, err.Error(), err))
		return
	}
	c.JSON(http.StatusOK, callers)
}

func (h *CallerHandler) Upsert(c *gin.Context) {
	var req model.CallerRequest
	if !bind(c, &req) {
		return
	}
	p, err := h.registry.Upsert(c.Request.Context(), req)
	if err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *CallerHandler) Delete(c *gin.Context) {
	addr, ok := pathAddress(c, "address")
	if !ok {
		return
	}
	if err := h.registry.Delete(c.Request.Context(), addr.Hex()); err != nil {
		c.Error(apperrors.New(apperrors.ErrInternal, err.Error(), err))
		return
	}
	c.Status(http.StatusNoContent)
}
