// Package strategy defines the yield-source capability the vault deploys
// capital into. The vault and the strategy manager depend only on Strategy;
// concrete sources implement it independently.
package strategy

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var ErrUnauthorizedVault = errors.New("strategy: caller is not the bound vault")

// Strategy is the five-operation contract every yield source implements.
// Invest accounts for funds already transferred to Address(). Withdraw and
// WithdrawAllToVault move funds back to the bound vault and return the amount
// actually returned, which may be less than requested. Harvest reports the
// balance delta since the previous report.
type Strategy interface {
	Address() common.Address
	Invest(ctx context.Context, amount decimal.Decimal) error
	Withdraw(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error)
	WithdrawAllToVault(ctx context.Context) (decimal.Decimal, error)
	Harvest(ctx context.Context) (profit, loss decimal.Decimal, err error)
	CurrentBalance() decimal.Decimal
}

type callerKey struct{}

// WithCaller tags ctx with the address performing a strategy call.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the caller recorded by WithCaller.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	caller, ok := ctx.Value(callerKey{}).(common.Address)
	return caller, ok
}
