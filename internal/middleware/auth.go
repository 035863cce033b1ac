package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/GoPolymarket/polyvault/internal/pkg/apperrors"
	"github.com/GoPolymarket/polyvault/internal/service"
	"github.com/GoPolymarket/polyvault/internal/signer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

const (
	HeaderCaller    = "X-Vault-Caller"
	HeaderTimestamp = "X-Vault-Timestamp"
	HeaderSignature = "X-Vault-Signature"

	ContextCallerKey  = "caller"
	ContextProfileKey = "caller_profile"
	ContextRequestKey = "signed_request"
)

// ContractVerifier checks signatures of contract wallets (EIP-1271).
type ContractVerifier interface {
	Verify(ctx context.Context, contract common.Address, digest common.Hash, signature string) (bool, error)
}

type AuthConfig struct {
	Domain   signer.Domain
	MaxSkew  time.Duration
	Registry *service.CallerRegistry
	// Contract 为 nil 时不做 EIP-1271 回退
	Contract ContractVerifier
	Now      func() time.Time
}

// SignatureAuth recovers the caller from the EIP-712 request signature and
// stores it in the context.
func SignatureAuth(cfg AuthConfig) gin.HandlerFunc {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return func(c *gin.Context) {
		rawCaller := c.GetHeader(HeaderCaller)
		rawTS := c.GetHeader(HeaderTimestamp)
		sig := c.GetHeader(HeaderSignature)
		if rawCaller == "" || rawTS == "" || sig == "" {
			abortAuth(c, "missing signature headers")
			return
		}
		if !common.IsHexAddress(rawCaller) {
			abortAuth(c, "invalid caller address")
			return
		}
		caller := common.HexToAddress(rawCaller)
		ts, err := strconv.ParseInt(rawTS, 10, 64)
		if err != nil {
			abortAuth(c, "invalid timestamp")
			return
		}
		if cfg.MaxSkew > 0 {
			skew := now().Sub(time.Unix(ts, 0))
			if skew < 0 {
				skew = -skew
			}
			if skew > cfg.MaxSkew {
				abortAuth(c, "timestamp outside allowed skew")
				return
			}
		}

		var body []byte
		if c.Request.Body != nil {
			body, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
		}
		req := signer.NewRequest(caller, c.Request.Method, c.Request.URL.RequestURI(), ts, body)

		profile, err := cfg.Registry.Resolve(c.Request.Context(), caller)
		if err != nil {
			if errors.Is(err, service.ErrCallerDisabled) {
				c.Error(apperrors.New(apperrors.ErrUnauthorized, "caller is disabled", err))
			} else {
				c.Error(apperrors.New(apperrors.ErrInternal, "caller lookup failed", err))
			}
			c.Abort()
			return
		}

		if verr := signer.VerifyRequest(cfg.Domain, req, sig); verr != nil {
			// 合约钱包走 EIP-1271
			if cfg.Contract == nil || !profile.Contract {
				abortAuth(c, verr.Error())
				return
			}
			ok, err := cfg.Contract.Verify(c.Request.Context(), caller, signer.Digest(cfg.Domain, req), sig)
			if err != nil {
				c.Error(apperrors.New(apperrors.ErrInternal, "contract signature check failed", err))
				c.Abort()
				return
			}
			if !ok {
				abortAuth(c, "contract wallet rejected signature")
				return
			}
		}

		c.Set(ContextCallerKey, caller)
		c.Set(ContextProfileKey, profile)
		c.Set(ContextRequestKey, req)
		c.Next()
	}
}

func abortAuth(c *gin.Context, msg string) {
	c.Error(apperrors.NewAuthFailed(msg))
	c.Abort()
}

// CallerFrom returns the authenticated caller.
func CallerFrom(c *gin.Context) (common.Address, bool) {
	v, ok := c.Get(ContextCallerKey)
	if !ok {
		return common.Address{}, false
	}
	addr, ok := v.(common.Address)
	return addr, ok
}
