package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/GoPolymarket/polyvault/internal/model"
	"github.com/GoPolymarket/polyvault/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	ContextRequestLog = "request_log"
	HeaderRequestID   = "X-Request-ID"
)

// 不记录的路径：探活、指标和长连接
var unauditedPaths = map[string]bool{
	"/health":           true,
	"/metrics":          true,
	"/v1/events/stream": true,
}

// 脱敏的请求路径前缀
var sensitivePrefixes = []string{"/v1/admin", "/v1/proposals", "/v1/faucet"}

var sensitiveKeys = map[string]bool{
	"private_key": true,
	"key":         true,
	"secret":      true,
	"password":    true,
	"dsn":         true,
	"signature":   true,
	"sig":         true,
}

type captureWriter struct {
	gin.ResponseWriter
	buf *bytes.Buffer
}

func (w captureWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

// RequestLogMiddleware hands one RequestLog per call to the audit service.
// Successful reads keep no response body; writes and failures keep it.
func RequestLogMiddleware(auditSvc *service.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if unauditedPaths[c.Request.URL.Path] {
			c.Next()
			return
		}
		start := time.Now()
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(HeaderRequestID, id)

		var reqBody []byte
		if c.Request.Body != nil {
			reqBody, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(reqBody))
		}

		entry := &model.RequestLog{
			ID:        id,
			Method:    c.Request.Method,
			Path:      c.Request.URL.Path,
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			CreatedAt: start.UTC(),
			Context:   make(map[string]interface{}),
		}
		c.Set(ContextRequestLog, entry)

		w := captureWriter{ResponseWriter: c.Writer, buf: &bytes.Buffer{}}
		c.Writer = w
		c.Next()

		// 未通过签名校验时记录声明的调用方
		if caller, ok := CallerFrom(c); ok {
			entry.Caller = caller.Hex()
		} else if claimed := c.GetHeader(HeaderCaller); claimed != "" {
			entry.Context["claimed_caller"] = claimed
		}
		entry.StatusCode = w.Status()
		entry.LatencyMs = time.Since(start).Milliseconds()
		entry.RequestBody = redactAuditBody(entry.Path, reqBody)
		if c.Request.Method != http.MethodGet || entry.StatusCode >= http.StatusBadRequest {
			entry.ResponseBody = redactAuditBody(entry.Path, w.buf.Bytes())
		}

		auditSvc.Log(entry)
	}
}

// AddAuditContext 向审计日志添加业务上下文
func AddAuditContext(c *gin.Context, key string, value interface{}) {
	if val, ok := c.Get(ContextRequestLog); ok {
		if entry, ok := val.(*model.RequestLog); ok {
			entry.Context[key] = value
		}
	}
}

func redactAuditBody(path string, body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if !isSensitivePath(path) {
		return string(body)
	}
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "[redacted]"
	}
	out, err := json.Marshal(redact(doc))
	if err != nil {
		return "[redacted]"
	}
	return string(out)
}

func isSensitivePath(path string) bool {
	for _, p := range sensitivePrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func redact(v interface{}) interface{} {
	switch node := v.(type) {
	case map[string]interface{}:
		for k, child := range node {
			if sensitiveKeys[strings.ToLower(strings.TrimSpace(k))] {
				node[k] = "***"
			} else {
				node[k] = redact(child)
			}
		}
	case []interface{}:
		for i, child := range node {
			node[i] = redact(child)
		}
	}
	return v
}
