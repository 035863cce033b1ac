package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/GoPolymarket/polyvault/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactAuditBodyAdmin(t *testing.T) {
	body := []byte(`{"action":"set_fee_recipient","signature":"0xdead","params":{"private_key":"k","recipient":"0xbeef"}}`)
	out := redactAuditBody("/v1/proposals", body)

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &data))
	assert.Equal(t, "***", data["signature"])
	params, ok := data["params"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "***", params["private_key"])
	assert.Equal(t, "0xbeef", params["recipient"])
}

func TestRedactAuditBodyNonSensitivePath(t *testing.T) {
	body := []byte(`{"amount":"100"}`)
	assert.Equal(t, string(body), redactAuditBody("/v1/deposit", body))
}

func TestRedactAuditBodyInvalidJSON(t *testing.T) {
	assert.Equal(t, "[redacted]", redactAuditBody("/v1/admin/fees", []byte("not-json")))
}

func TestRequestLogMiddlewareRecordsCalls(t *testing.T) {
	gin.SetMode(gin.TestMode)
	audit, err := service.NewAuditService("", nil)
	require.NoError(t, err)
	t.Cleanup(audit.Close)

	r := gin.New()
	r.Use(RequestLogMiddleware(audit))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/v1/admin/fees", func(c *gin.Context) {
		AddAuditContext(c, "op", "set_fees")
		c.JSON(http.StatusForbidden, gin.H{"error": "no"})
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/fees", bytes.NewBufferString(`{"performance_bps":1,"signature":"0x1"}`))
	req.Header.Set(HeaderCaller, "0x00000000000000000000000000000000000000a1")
	req.Header.Set(HeaderRequestID, "req-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-1", w.Header().Get(HeaderRequestID))

	logs, err := audit.List(context.Background(), "", 10, nil, nil)
	require.NoError(t, err)
	require.Len(t, logs, 1, "health checks are not audited")
	entry := logs[0]
	assert.Equal(t, "req-1", entry.ID)
	assert.Equal(t, http.StatusForbidden, entry.StatusCode)
	assert.Empty(t, entry.Caller)
	assert.Equal(t, "0x00000000000000000000000000000000000000a1", entry.Context["claimed_caller"])
	assert.Equal(t, "set_fees", entry.Context["op"])
	assert.JSONEq(t, `{"performance_bps":1,"signature":"***"}`, entry.RequestBody)
	assert.JSONEq(t, `{"error":"no"}`, entry.ResponseBody)
}
