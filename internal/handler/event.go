package handler

import (
	"net/http"
	"strconv"

	"github.com/GoPolymarket/polyvault/internal/model"
	"github.com/GoPolymarket/polyvault/internal/pkg/apperrors"
	"github.com/GoPolymarket/polyvault/internal/service"
	"github.com/gin-gonic/gin"
)

type EventHandler struct {
	svc    *service.EventService
	stream http.Handler
}

func NewEventHandler(svc *service.EventService, stream http.Handler) *EventHandler {
	return &EventHandler{svc: svc, stream: stream}
}

// List filters by source, type, actor and after_seq; newest first.
func (h *EventHandler) List(c *gin.Context) {
	f := model.EventFilter{
		Source: c.Query("source"),
		Type:   model.EventType(c.Query("type")),
		Actor:  c.Query("actor"),
		Limit:  queryInt(c, "limit", 100),
	}
	if raw := c.Query("after_seq"); raw != "" {
		seq, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.Error(apperrors.NewInvalidRequest("after_seq must be a number"))
			return
		}
		f.AfterSeq = seq
	}
	events, err := h.svc.List(c.Request.Context(), f)
	if err != nil {
		c.Error(apperrors.New(apperrors.ErrInternal, err.Error(), err))
		return
	}
	c.JSON(http.StatusOK, events)
}

func (h *EventHandler) Stream(c *gin.Context) {
	if h.stream == nil {
		c.Error(apperrors.New(apperrors.ErrNotFound, "event stream disabled", nil))
		return
	}
	h.stream.ServeHTTP(c.Writer, c.Request)
}
