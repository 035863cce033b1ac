package model

// 金额字段一律为十进制字符串形式的最小单位整数

// DepositRequest is the body of POST /v1/deposit.
type DepositRequest struct {
	Amount    string `json:"amount" binding:"required"`
	Receiver  string `json:"receiver,omitempty"`
	MinShares string `json:"min_shares,omitempty"`
}

// MintRequest is the body of POST /v1/mint.
type MintRequest struct {
	Shares    string `json:"shares" binding:"required"`
	Receiver  string `json:"receiver,omitempty"`
	MaxAssets string `json:"max_assets,omitempty"`
}

// ExitRequest is the body of POST /v1/withdraw (assets) and /v1/redeem (shares).
type ExitRequest struct {
	Amount     string `json:"amount" binding:"required"`
	Owner      string `json:"owner,omitempty"`
	Receiver   string `json:"receiver,omitempty"`
	MaxLossBps *int64 `json:"max_loss_bps,omitempty"`
}

type ApproveRequest struct {
	Spender string `json:"spender" binding:"required"`
	Amount  string `json:"amount" binding:"required"`
}

type ProcessQueueRequest struct {
	MaxCount int `json:"max_count"`
}

type PauseRequest struct {
	Reason string `json:"reason"`
}

type BreakerResetRequest struct {
	ResetHighWaterMark bool `json:"reset_high_water_mark"`
}

type FeesRequest struct {
	PerformanceBps int64 `json:"performance_bps"`
	ManagementBps  int64 `json:"management_bps"`
}

type DepositCapRequest struct {
	Cap string `json:"cap" binding:"required"`
}

type AddressRequest struct {
	Address string `json:"address" binding:"required"`
}

// StrategyRequest registers a simulated strategy adapter.
type StrategyRequest struct {
	Name         string `json:"name" binding:"required"`
	Address      string `json:"address" binding:"required"`
	TargetBps    int64  `json:"target_bps"`
	MaxDebt      string `json:"max_debt,omitempty"`
	LiquidityCap string `json:"liquidity_cap,omitempty"`
}

type AllocationRequest struct {
	TargetBps int64  `json:"target_bps"`
	MaxDebt   string `json:"max_debt,omitempty"`
}

type RoleRequest struct {
	Role    string `json:"role" binding:"required,oneof=owner guardian keeper"`
	Account string `json:"account" binding:"required"`
}

type ProposalRequest struct {
	Action string            `json:"action" binding:"required"`
	Params map[string]string `json:"params"`
}

// SimulateRequest moves a simulated strategy's balance (dev only).
type SimulateRequest struct {
	Strategy string `json:"strategy" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
}

// FaucetRequest mints test asset (dev only).
type FaucetRequest struct {
	Address string `json:"address" binding:"required"`
	Amount  string `json:"amount" binding:"required"`
}

type CallerRequest struct {
	Address  string  `json:"address" binding:"required"`
	Name     string  `json:"name"`
	Contract bool    `json:"contract"`
	Disabled bool    `json:"disabled"`
	QPS      float64 `json:"qps"`
	Burst    int     `json:"burst"`
}

// PreviewResponse answers GET /v1/preview/:op.
type PreviewResponse struct {
	Op     string `json:"op"`
	Input  string `json:"input"`
	Output string `json:"output"`
}

// BalanceResponse answers GET /v1/balances/:address.
type BalanceResponse struct {
	Address     string `json:"address"`
	Shares      string `json:"shares"`
	Assets      string `json:"assets"`
	AssetWallet string `json:"asset_wallet"`
	MaxDeposit  string `json:"max_deposit"`
}
