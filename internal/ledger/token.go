// Package ledger implements the fungible balance primitive. The same Token
// type backs the simulated pooled asset and the vault's own share ledger.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrZeroAddress           = errors.New("zero address")
	ErrInvalidAmount         = errors.New("amount must be a non-negative whole number")
)

// Asset is the transfer/balance capability the vault consumes.
type Asset interface {
	Symbol() string
	BalanceOf(account common.Address) decimal.Decimal
	Transfer(from, to common.Address, amount decimal.Decimal) error
}

// Checkpointer is implemented by stateful collaborators that can roll back to
// the state captured when Checkpoint was called.
type Checkpointer interface {
	Checkpoint() (restore func())
}

type Token struct {
	mu         sync.RWMutex
	symbol     string
	decimals   int32
	supply     decimal.Decimal
	balances   map[common.Address]decimal.Decimal
	allowances map[common.Address]map[common.Address]decimal.Decimal
}

func NewToken(symbol string, decimals int32) *Token {
	return &Token{
		symbol:     symbol,
		decimals:   decimals,
		supply:     decimal.Zero,
		balances:   make(map[common.Address]decimal.Decimal),
		allowances: make(map[common.Address]map[common.Address]decimal.Decimal),
	}
}

func (t *Token) Symbol() string  { return t.symbol }
func (t *Token) Decimals() int32 { return t.decimals }

func (t *Token) TotalSupply() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.supply
}

func (t *Token) BalanceOf(account common.Address) decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balances[account]
}

func (t *Token) Transfer(from, to common.Address, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return fmt.Errorf("%s transfer: %w", t.symbol, ErrZeroAddress)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	bal := t.balances[from]
	if bal.LessThan(amount) {
		return fmt.Errorf("%s transfer %s from %s: %w", t.symbol, amount, from.Hex(), ErrInsufficientBalance)
	}
	t.set(from, bal.Sub(amount))
	t.set(to, t.balances[to].Add(amount))
	return nil
}

func (t *Token) Mint(to common.Address, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return fmt.Errorf("%s mint: %w", t.symbol, ErrZeroAddress)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.set(to, t.balances[to].Add(amount))
	t.supply = t.supply.Add(amount)
	return nil
}

func (t *Token) Burn(from common.Address, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	bal := t.balances[from]
	if bal.LessThan(amount) {
		return fmt.Errorf("%s burn %s from %s: %w", t.symbol, amount, from.Hex(), ErrInsufficientBalance)
	}
	t.set(from, bal.Sub(amount))
	t.supply = t.supply.Sub(amount)
	return nil
}

func (t *Token) Approve(owner, spender common.Address, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if spender == (common.Address{}) {
		return fmt.Errorf("%s approve: %w", t.symbol, ErrZeroAddress)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	inner, ok := t.allowances[owner]
	if !ok {
		inner = make(map[common.Address]decimal.Decimal)
		t.allowances[owner] = inner
	}
	if amount.IsZero() {
		delete(inner, spender)
		return nil
	}
	inner[spender] = amount
	return nil
}

func (t *Token) Allowance(owner, spender common.Address) decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.allowances[owner][spender]
}

// SpendAllowance consumes amount from owner's allowance to spender. Spending
// on one's own balance is always allowed.
func (t *Token) SpendAllowance(owner, spender common.Address, amount decimal.Decimal) error {
	if owner == spender {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	current := t.allowances[owner][spender]
	if current.LessThan(amount) {
		return fmt.Errorf("%s spender %s: %w", t.symbol, spender.Hex(), ErrInsufficientAllowance)
	}
	left := current.Sub(amount)
	if left.IsZero() {
		delete(t.allowances[owner], spender)
	} else {
		t.allowances[owner][spender] = left
	}
	return nil
}

// Accounts lists holders with a positive balance, sorted by address.
func (t *Token) Accounts() []common.Address {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]common.Address, 0, len(t.balances))
	for addr := range t.balances {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

func (t *Token) Checkpoint() func() {
	t.mu.RLock()
	supply := t.supply
	balances := make(map[common.Address]decimal.Decimal, len(t.balances))
	for k, v := range t.balances {
		balances[k] = v
	}
	allowances := make(map[common.Address]map[common.Address]decimal.Decimal, len(t.allowances))
	for owner, inner := range t.allowances {
		cp := make(map[common.Address]decimal.Decimal, len(inner))
		for k, v := range inner {
			cp[k] = v
		}
		allowances[owner] = cp
	}
	t.mu.RUnlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.supply = supply
		t.balances = balances
		t.allowances = allowances
	}
}

// Export returns the balance sheet for persistence.
func (t *Token) Export() map[string]decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(t.balances))
	for k, v := range t.balances {
		out[k.Hex()] = v
	}
	return out
}

// Import replaces all balances; supply is recomputed.
func (t *Token) Import(balances map[string]decimal.Decimal) error {
	next := make(map[common.Address]decimal.Decimal, len(balances))
	supply := decimal.Zero
	for k, v := range balances {
		if !common.IsHexAddress(k) {
			return fmt.Errorf("%s import: invalid address %q", t.symbol, k)
		}
		if err := checkAmount(v); err != nil {
			return err
		}
		if v.IsZero() {
			continue
		}
		next[common.HexToAddress(k)] = v
		supply = supply.Add(v)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances = next
	t.supply = supply
	return nil
}

// ExportAllowances returns owner -> spender -> amount keyed by hex address.
func (t *Token) ExportAllowances() map[string]map[string]decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]map[string]decimal.Decimal, len(t.allowances))
	for owner, inner := range t.allowances {
		if len(inner) == 0 {
			continue
		}
		m := make(map[string]decimal.Decimal, len(inner))
		for spender, v := range inner {
			m[spender.Hex()] = v
		}
		out[owner.Hex()] = m
	}
	return out
}

func (t *Token) ImportAllowances(in map[string]map[string]decimal.Decimal) error {
	next := make(map[common.Address]map[common.Address]decimal.Decimal, len(in))
	for owner, inner := range in {
		if !common.IsHexAddress(owner) {
			return fmt.Errorf("%s import allowance: invalid owner %q", t.symbol, owner)
		}
		m := make(map[common.Address]decimal.Decimal, len(inner))
		for spender, v := range inner {
			if !common.IsHexAddress(spender) {
				return fmt.Errorf("%s import allowance: invalid spender %q", t.symbol, spender)
			}
			if err := checkAmount(v); err != nil {
				return err
			}
			m[common.HexToAddress(spender)] = v
		}
		next[common.HexToAddress(owner)] = m
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.allowances = next
	return nil
}

func (t *Token) set(account common.Address, amount decimal.Decimal) {
	if amount.IsZero() {
		delete(t.balances, account)
		return
	}
	t.balances[account] = amount
}

func checkAmount(amount decimal.Decimal) error {
	if amount.Sign() < 0 || !amount.Equal(amount.Truncate(0)) {
		return ErrInvalidAmount
	}
	return nil
}
