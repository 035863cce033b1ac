package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/GoPolymarket/polyvault/internal/middleware"
	"github.com/GoPolymarket/polyvault/internal/model"
	"github.com/GoPolymarket/polyvault/internal/pkg/apperrors"
	"github.com/GoPolymarket/polyvault/internal/service"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

type VaultHandler struct {
	svc       *service.VaultService
	batchSize int
}

func NewVaultHandler(svc *service.VaultService, batchSize int) *VaultHandler {
	return &VaultHandler{svc: svc, batchSize: batchSize}
}

// ---- 只读接口 ----

func (h *VaultHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Status())
}

func (h *VaultHandler) Preview(c *gin.Context) {
	resp, err := h.svc.Preview(c.Param("op"), c.Query("amount"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *VaultHandler) Balance(c *gin.Context) {
	addr, ok := pathAddress(c, "address")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.svc.Balance(addr))
}

func (h *VaultHandler) Queue(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Queue(queryInt(c, "limit", 100)))
}

func (h *VaultHandler) QueueEntry(c *gin.Context) {
	index, err := strconv.ParseUint(c.Param("index"), 10, 64)
	if err != nil {
		c.Error(apperrors.NewInvalidRequest("index must be a number"))
		return
	}
	req, receipt, err := h.svc.QueueEntry(index)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req, "receipt": receipt})
}

func (h *VaultHandler) QueuePosition(c *gin.Context) {
	addr, ok := pathAddress(c, "address")
	if !ok {
		return
	}
	req, ahead, found := h.svc.QueuePosition(addr)
	if !found {
		c.Error(apperrors.New(apperrors.ErrNotFound, "no pending request for "+addr.Hex(), nil))
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req, "ahead": ahead})
}

func (h *VaultHandler) Strategies(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Strategies())
}

func (h *VaultHandler) Roles(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Roles())
}

// ---- 用户操作 (需签名) ----

func (h *VaultHandler) Deposit(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	var req model.DepositRequest
	if !bind(c, &req) {
		return
	}
	shares, err := h.svc.Deposit(c.Request.Context(), caller, req)
	if err != nil {
		fail(c, err)
		return
	}
	middleware.AddAuditContext(c, "op", "deposit")
	c.JSON(http.StatusOK, gin.H{"shares": shares.String()})
}

func (h *VaultHandler) Mint(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	var req model.MintRequest
	if !bind(c, &req) {
		return
	}
	assets, err := h.svc.Mint(c.Request.Context(), caller, req)
	if err != nil {
		fail(c, err)
		return
	}
	middleware.AddAuditContext(c, "op", "mint")
	c.JSON(http.StatusOK, gin.H{"assets": assets.String()})
}

func (h *VaultHandler) Withdraw(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	var req model.ExitRequest
	if !bind(c, &req) {
		return
	}
	queued, err := h.svc.Withdraw(c.Request.Context(), caller, req)
	if err != nil {
		fail(c, err)
		return
	}
	middleware.AddAuditContext(c, "queue_index", queued.Index)
	c.JSON(http.StatusAccepted, queued)
}

func (h *VaultHandler) Redeem(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	var req model.ExitRequest
	if !bind(c, &req) {
		return
	}
	queued, err := h.svc.Redeem(c.Request.Context(), caller, req)
	if err != nil {
		fail(c, err)
		return
	}
	middleware.AddAuditContext(c, "queue_index", queued.Index)
	c.JSON(http.StatusAccepted, queued)
}

func (h *VaultHandler) EmergencyWithdraw(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	paid, err := h.svc.EmergencyWithdraw(c.Request.Context(), caller)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assets": paid.String()})
}

func (h *VaultHandler) Approve(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	var req model.ApproveRequest
	if !bind(c, &req) {
		return
	}
	if err := h.svc.Approve(c.Request.Context(), caller, req); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "approved"})
}

func (h *VaultHandler) ProcessQueue(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	var req model.ProcessQueueRequest
	// 请求体可省略
	if c.Request.ContentLength > 0 && !bind(c, &req) {
		return
	}
	if req.MaxCount <= 0 {
		req.MaxCount = h.batchSize
	}
	res, err := h.svc.ProcessQueue(c.Request.Context(), caller, req.MaxCount)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *VaultHandler) Faucet(c *gin.Context) {
	var req model.FaucetRequest
	if !bind(c, &req) {
		return
	}
	if err := h.svc.Faucet(c.Request.Context(), req); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "minted"})
}

// ---- 管理操作 ----

func (h *VaultHandler) Harvest(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	res, err := h.svc.Harvest(c.Request.Context(), caller)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *VaultHandler) Rebalance(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	res, err := h.svc.Rebalance(c.Request.Context(), caller)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *VaultHandler) Pause(c *gin.Context) {
	h.simple(c, "paused", h.svc.Pause)
}

func (h *VaultHandler) Unpause(c *gin.Context) {
	h.simple(c, "unpaused", h.svc.Unpause)
}

func (h *VaultHandler) EmergencyPause(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	var req model.PauseRequest
	if !bind(c, &req) {
		return
	}
	if err := h.svc.EmergencyPause(c.Request.Context(), caller, req.Reason); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

func (h *VaultHandler) ResetBreaker(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	var req model.BreakerResetRequest
	if c.Request.ContentLength > 0 && !bind(c, &req) {
		return
	}
	if err := h.svc.ResetBreaker(c.Request.Context(), caller, req.ResetHighWaterMark); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func (h *VaultHandler) SetFees(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	var req model.FeesRequest
	if !bind(c, &req) {
		return
	}
	if err := h.svc.SetFees(c.Request.Context(), caller, req); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (h *VaultHandler) SetDepositCap(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	var req model.DepositCapRequest
	if !bind(c, &req) {
		return
	}
	if err := h.svc.SetDepositCap(c.Request.Context(), caller, req.Cap); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (h *VaultHandler) SetFeeRecipient(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	var req model.AddressRequest
	if !bind(c, &req) {
		return
	}
	if err := h.svc.SetFeeRecipient(c.Request.Context(), caller, req.Address); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (h *VaultHandler) SetStrategy(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	var req model.StrategyRequest
	if !bind(c, &req) {
		return
	}
	if err := h.svc.SetStrategy(c.Request.Context(), caller, req); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.svc.Strategies())
}

func (h *VaultHandler) AddStrategy(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	var req model.StrategyRequest
	if !bind(c, &req) {
		return
	}
	if err := h.svc.AddStrategy(c.Request.Context(), caller, req); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.svc.Strategies())
}

func (h *VaultHandler) UpdateAllocation(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	var req model.AllocationRequest
	if !bind(c, &req) {
		return
	}
	if err := h.svc.UpdateAllocation(c.Request.Context(), caller, c.Param("address"), req); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.svc.Strategies())
}

func (h *VaultHandler) RemoveStrategy(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	if err := h.svc.RemoveStrategy(c.Request.Context(), caller, c.Param("address")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.svc.Strategies())
}

func (h *VaultHandler) GrantRole(c *gin.Context) {
	h.role(c, h.svc.GrantRole)
}

func (h *VaultHandler) RevokeRole(c *gin.Context) {
	h.role(c, h.svc.RevokeRole)
}

func (h *VaultHandler) SimulateGain(c *gin.Context) {
	h.simulate(c, true)
}

func (h *VaultHandler) SimulateLoss(c *gin.Context) {
	h.simulate(c, false)
}

// ---- 治理 ----

func (h *VaultHandler) Proposals(c *gin.Context) {
	ops, err := h.svc.Proposals(c.Query("pending") == "true")
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, ops)
}

func (h *VaultHandler) Propose(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	var req model.ProposalRequest
	if !bind(c, &req) {
		return
	}
	op, err := h.svc.Propose(c.Request.Context(), caller, req)
	if err != nil {
		fail(c, err)
		return
	}
	middleware.AddAuditContext(c, "operation_id", op.ID)
	c.JSON(http.StatusCreated, op)
}

func (h *VaultHandler) ExecuteProposal(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	op, err := h.svc.ExecuteProposal(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, op)
}

func (h *VaultHandler) CancelProposal(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	op, err := h.svc.CancelProposal(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, op)
}

func (h *VaultHandler) simple(c *gin.Context, status string, fn func(ctx context.Context, caller common.Address) error) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	if err := fn(c.Request.Context(), caller); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (h *VaultHandler) role(c *gin.Context, fn func(ctx context.Context, caller common.Address, req model.RoleRequest) error) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	var req model.RoleRequest
	if !bind(c, &req) {
		return
	}
	if err := fn(c.Request.Context(), caller, req); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.svc.Roles())
}

func (h *VaultHandler) simulate(c *gin.Context, gain bool) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	var req model.SimulateRequest
	if !bind(c, &req) {
		return
	}
	if err := h.svc.SimulateYield(c.Request.Context(), caller, req, gain); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.svc.Strategies())
}
