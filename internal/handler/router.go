package handler

import (
	"net/http"

	"github.com/GoPolymarket/polyvault/internal/config"
	"github.com/GoPolymarket/polyvault/internal/middleware"
	"github.com/GoPolymarket/polyvault/internal/service"
	"github.com/GoPolymarket/polyvault/internal/vault"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps 路由依赖
type Deps struct {
	Config      *config.Config
	Vault       *service.VaultService
	Events      *service.EventService
	Audit       *service.AuditService
	Callers     *service.CallerRegistry
	Stream      http.Handler
	Idempotency middleware.IdempotencyStore
	Auth        middleware.AuthConfig
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// 全局中间件
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())
	if d.Audit != nil {
		r.Use(middleware.RequestLogMiddleware(d.Audit))
	}
	r.Use(middleware.ReadOnlyMiddleware(d.Config.Server.ReadOnly))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"vault":  d.Vault.Address().Hex(),
			"paused": d.Vault.Status().Paused,
		})
	})
	if d.Config.Metrics.Enabled {
		r.GET(d.Config.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	vh := NewVaultHandler(d.Vault, d.Config.Vault.QueueBatchSize)

	// 公开只读接口
	pub := r.Group("/v1")
	{
		pub.GET("/vault", vh.Status)
		pub.GET("/preview/:op", vh.Preview)
		pub.GET("/balances/:address", vh.Balance)
		pub.GET("/queue", vh.Queue)
		pub.GET("/queue/:index", vh.QueueEntry)
		pub.GET("/queue/position/:address", vh.QueuePosition)
		pub.GET("/strategies", vh.Strategies)
		pub.GET("/roles", vh.Roles)
		pub.GET("/proposals", vh.Proposals)
		if d.Events != nil {
			eh := NewEventHandler(d.Events, d.Stream)
			pub.GET("/events", eh.List)
			pub.GET("/events/stream", eh.Stream)
		}
	}

	// 需要签名的用户操作
	signed := r.Group("/v1")
	signed.Use(middleware.SignatureAuth(d.Auth))
	signed.Use(middleware.RateLimitMiddleware(d.Callers))
	if d.Idempotency != nil {
		signed.Use(middleware.IdempotencyMiddleware(d.Idempotency))
	}
	{
		signed.POST("/deposit", vh.Deposit)
		signed.POST("/mint", vh.Mint)
		signed.POST("/withdraw", vh.Withdraw)
		signed.POST("/redeem", vh.Redeem)
		signed.POST("/emergency-withdraw", vh.EmergencyWithdraw)
		signed.POST("/approve", vh.Approve)
		signed.POST("/queue/process", vh.ProcessQueue)
	}

	// 管理接口：粗粒度角色门槛，具体权限由 vault 校验
	admin := signed.Group("/admin")
	admin.Use(middleware.RequireRole(d.Vault, vault.RoleOwner, vault.RoleGuardian, vault.RoleKeeper))
	{
		admin.POST("/harvest", vh.Harvest)
		admin.POST("/rebalance", vh.Rebalance)
		admin.POST("/pause", vh.Pause)
		admin.POST("/unpause", vh.Unpause)
		admin.POST("/emergency-pause", vh.EmergencyPause)
		admin.POST("/breaker/reset", vh.ResetBreaker)
		admin.POST("/fees", vh.SetFees)
		admin.POST("/deposit-cap", vh.SetDepositCap)
		admin.POST("/fee-recipient", vh.SetFeeRecipient)
		admin.POST("/strategy", vh.SetStrategy)
		admin.POST("/strategies", vh.AddStrategy)
		admin.PUT("/strategies/:address", vh.UpdateAllocation)
		admin.DELETE("/strategies/:address", vh.RemoveStrategy)
		admin.POST("/roles/grant", vh.GrantRole)
		admin.POST("/roles/revoke", vh.RevokeRole)
		admin.POST("/proposals", vh.Propose)
		admin.POST("/proposals/:id/execute", vh.ExecuteProposal)
		admin.POST("/proposals/:id/cancel", vh.CancelProposal)
		admin.POST("/simulate/gain", vh.SimulateGain)
		admin.POST("/simulate/loss", vh.SimulateLoss)
		admin.POST("/faucet", vh.Faucet)

		ch := NewCallerHandler(d.Callers)
		admin.GET("/callers", ch.List)
		admin.PUT("/callers", ch.Upsert)
		admin.DELETE("/callers/:address", ch.Delete)
		if d.Audit != nil {
			admin.GET("/requests", NewAuditHandler(d.Audit).List)
		}
	}

	return r
}
