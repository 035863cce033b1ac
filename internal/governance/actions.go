package governance

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/GoPolymarket/polyvault/internal/vault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Runner executes fn against the vault under the caller's serialization.
type Runner func(ctx context.Context, fn func(ctx context.Context, v *vault.Vault) error) error

// VaultExecutor maps timelock actions onto vault setters, called with the
// timelock address as the privileged caller.
type VaultExecutor struct {
	caller common.Address
	run    Runner
}

func NewVaultExecutor(timelockAddr common.Address, run Runner) *VaultExecutor {
	return &VaultExecutor{caller: timelockAddr, run: run}
}

type action struct {
	required []string
	apply    func(ctx context.Context, v *vault.Vault, caller common.Address, p params) error
}

var actions = map[string]action{
	"set_fees": {
		required: []string{"performance_bps", "management_bps"},
		apply: func(ctx context.Context, v *vault.Vault, caller common.Address, p params) error {
			perf, err := p.int("performance_bps")
			if err != nil {
				return err
			}
			mgmt, err := p.int("management_bps")
			if err != nil {
				return err
			}
			return v.SetFees(ctx, caller, perf, mgmt)
		},
	},
	"set_deposit_cap": {
		required: []string{"cap"},
		apply: func(ctx context.Context, v *vault.Vault, caller common.Address, p params) error {
			limit, err := p.decimal("cap")
			if err != nil {
				return err
			}
			return v.SetDepositCap(ctx, caller, limit)
		},
	},
	"set_fee_recipient": {
		required: []string{"recipient"},
		apply: func(ctx context.Context, v *vault.Vault, caller common.Address, p params) error {
			to, err := p.address("recipient")
			if err != nil {
				return err
			}
			return v.SetFeeRecipient(ctx, caller, to)
		},
	},
	"set_profit_unlock_window": {
		required: []string{"window"},
		apply: func(ctx context.Context, v *vault.Vault, caller common.Address, p params) error {
			d, err := p.duration("window")
			if err != nil {
				return err
			}
			return v.SetProfitUnlockWindow(ctx, caller, d)
		},
	},
	"set_max_withdraw_delay": {
		required: []string{"delay"},
		apply: func(ctx context.Context, v *vault.Vault, caller common.Address, p params) error {
			d, err := p.duration("delay")
			if err != nil {
				return err
			}
			return v.SetMaxWithdrawDelay(ctx, caller, d)
		},
	},
	"grant_role": {
		required: []string{"role", "account"},
		apply: func(ctx context.Context, v *vault.Vault, caller common.Address, p params) error {
			role, account, err := p.roleAccount()
			if err != nil {
				return err
			}
			return v.GrantRole(ctx, caller, role, account)
		},
	},
	"revoke_role": {
		required: []string{"role", "account"},
		apply: func(ctx context.Context, v *vault.Vault, caller common.Address, p params) error {
			role, account, err := p.roleAccount()
			if err != nil {
				return err
			}
			return v.RevokeRole(ctx, caller, role, account)
		},
	},
	"update_allocation": {
		required: []string{"strategy", "target_bps"},
		apply: func(ctx context.Context, v *vault.Vault, caller common.Address, p params) error {
			addr, err := p.address("strategy")
			if err != nil {
				return err
			}
			bps, err := p.int("target_bps")
			if err != nil {
				return err
			}
			maxDebt := decimal.Zero
			if _, ok := p["max_debt"]; ok {
				if maxDebt, err = p.decimal("max_debt"); err != nil {
					return err
				}
			}
			return v.UpdateAllocation(ctx, caller, addr, bps, maxDebt)
		},
	},
	"remove_strategy": {
		required: []string{"strategy"},
		apply: func(ctx context.Context, v *vault.Vault, caller common.Address, p params) error {
			addr, err := p.address("strategy")
			if err != nil {
				return err
			}
			return v.RemoveStrategy(ctx, caller, addr)
		},
	},
}

// Actions lists the action names the executor understands.
func Actions() []string {
	out := make([]string, 0, len(actions))
	for name := range actions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (e *VaultExecutor) Validate(op Operation) error {
	a, ok := actions[op.Action]
	if !ok {
		return fmt.Errorf("action %q: %w", op.Action, vault.ErrInvalidArgument)
	}
	for _, k := range a.required {
		if _, ok := op.Params[k]; !ok {
			return fmt.Errorf("action %s needs %q: %w", op.Action, k, vault.ErrInvalidArgument)
		}
	}
	return nil
}

func (e *VaultExecutor) Execute(ctx context.Context, op Operation) error {
	if err := e.Validate(op); err != nil {
		return err
	}
	a := actions[op.Action]
	return e.run(ctx, func(ctx context.Context, v *vault.Vault) error {
		return a.apply(ctx, v, e.caller, params(op.Params))
	})
}

type params map[string]string

func (p params) int(k string) (int64, error) {
	n, err := strconv.ParseInt(p[k], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q: %w", k, p[k], vault.ErrInvalidArgument)
	}
	return n, nil
}

func (p params) decimal(k string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(p[k])
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s=%q: %w", k, p[k], vault.ErrInvalidArgument)
	}
	return d, nil
}

func (p params) duration(k string) (time.Duration, error) {
	d, err := time.ParseDuration(p[k])
	if err != nil {
		return 0, fmt.Errorf("%s=%q: %w", k, p[k], vault.ErrInvalidArgument)
	}
	return d, nil
}

func (p params) address(k string) (common.Address, error) {
	if !common.IsHexAddress(p[k]) {
		return common.Address{}, fmt.Errorf("%s=%q: %w", k, p[k], vault.ErrInvalidArgument)
	}
	return common.HexToAddress(p[k]), nil
}

func (p params) roleAccount() (vault.Role, common.Address, error) {
	role, err := vault.ParseRole(p["role"])
	if err != nil {
		return "", common.Address{}, err
	}
	account, err := p.address("account")
	return role, account, err
}
