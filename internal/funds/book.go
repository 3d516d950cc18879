// Package funds is the value-transfer primitive: atomic per-call moves between accounts.
package funds

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/dgnsrekt/optionvault/internal/apperr"
)

// Transferer moves amount of asset from one account to another, atomically per call.
type Transferer interface {
	Transfer(ctx context.Context, from, to, asset string, amount decimal.Decimal) error
}

// Book is an in-memory balance sheet.
type Book struct {
	mu       sync.RWMutex
	balances map[string]map[string]decimal.Decimal // account -> asset -> amount
}

var _ Transferer = (*Book)(nil)

// NewBook creates an empty Book.
func NewBook() *Book {
	return &Book{balances: make(map[string]map[string]decimal.Decimal)}
}

// Credit deposits funds from outside the system.
func (b *Book) Credit(account, asset string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("credit amount must not be negative: %w", apperr.ErrInvalidArgument)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.add(account, asset, amount)
	return nil
}

func (b *Book) add(account, asset string, amount decimal.Decimal) {
	acct, ok := b.balances[account]
	if !ok {
		acct = make(map[string]decimal.Decimal)
		b.balances[account] = acct
	}
	acct[asset] = acct[asset].Add(amount)
}

// Transfer moves amount between accounts. It fails without side effects if from is short.
func (b *Book) Transfer(_ context.Context, from, to, asset string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("transfer amount must not be negative: %w", apperr.ErrInvalidArgument)
	}
	if amount.IsZero() || from == to {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	have := b.balances[from][asset]
	if have.LessThan(amount) {
		return fmt.Errorf("%s holds %s %s, needs %s: %w", from, have, asset, amount, apperr.ErrInsufficientFunds)
	}
	b.balances[from][asset] = have.Sub(amount)
	b.add(to, asset, amount)
	return nil
}

// BalanceOf returns the account's balance of asset.
func (b *Book) BalanceOf(account, asset string) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balances[account][asset]
}

// Balances returns a copy of every balance of an account.
func (b *Book) Balances(account string) map[string]decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(b.balances[account]))
	for k, v := range b.balances[account] {
		out[k] = v
	}
	return out
}
