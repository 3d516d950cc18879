package funds

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/dgnsrekt/optionvault/internal/apperr"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestTransfer(t *testing.T) {
	b := NewBook()
	ctx := context.Background()
	if err := b.Credit("alice", "USDC", d("100")); err != nil {
		t.Fatal(err)
	}

	if err := b.Transfer(ctx, "alice", "bob", "USDC", d("40.5")); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if !b.BalanceOf("alice", "USDC").Equal(d("59.5")) || !b.BalanceOf("bob", "USDC").Equal(d("40.5")) {
		t.Errorf("unexpected balances %s / %s", b.BalanceOf("alice", "USDC"), b.BalanceOf("bob", "USDC"))
	}
}

func TestTransferInsufficientLeavesBalances(t *testing.T) {
	b := NewBook()
	_ = b.Credit("alice", "USDC", d("10"))

	err := b.Transfer(context.Background(), "alice", "bob", "USDC", d("10.01"))
	if !errors.Is(err, apperr.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if !b.BalanceOf("alice", "USDC").Equal(d("10")) || !b.BalanceOf("bob", "USDC").IsZero() {
		t.Error("failed transfer must not move funds")
	}
}

func TestTransferRejectsNegative(t *testing.T) {
	b := NewBook()
	if err := b.Transfer(context.Background(), "a", "b", "X", d("-1")); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
	if err := b.Credit("a", "X", d("-1")); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
	if err := b.Transfer(context.Background(), "a", "b", "X", decimal.Zero); err != nil {
		t.Errorf("zero transfer is a no-op, got %v", err)
	}
}
