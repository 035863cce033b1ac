package model

import "time"

// RateLimitConfig 调用方的限流规则
type RateLimitConfig struct {
	QPS   float64 `json:"qps" db:"qps"`     // 每秒请求数
	Burst int     `json:"burst" db:"burst"` // 突发桶大小
}

// CallerProfile 是一个已登记的调用方 (钱包、keeper、合约钱包)
type CallerProfile struct {
	Address   string          `json:"address" db:"address"`
	Name      string          `json:"name" db:"name"`
	Contract  bool            `json:"contract" db:"contract"` // 合约钱包，走 EIP-1271 校验
	Disabled  bool            `json:"disabled" db:"disabled"`
	Rate      RateLimitConfig `json:"rate_limit"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}
