package model

import (
	"time"
)

// RequestLog 一次 HTTP 调用的审计记录
type RequestLog struct {
	ID        string `json:"id"`     // 唯一请求 ID (UUID)
	Caller    string `json:"caller"` // 签名恢复出的调用方地址
	Method    string `json:"method"`
	Path      string `json:"path"`
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`

	// 请求详情
	RequestBody string `json:"request_body"` // 请求体 (脱敏后)

	// 响应详情
	StatusCode   int    `json:"status_code"`
	ResponseBody string `json:"response_body"`
	LatencyMs    int64  `json:"latency_ms"`

	// 业务上下文，例如操作名、事件序号
	Context map[string]interface{} `json:"context"`

	CreatedAt time.Time `json:"created_at"`
}
