package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dgnsrekt/optionvault/internal/apperr"
	"github.com/dgnsrekt/optionvault/internal/order"
)

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func newOption(holder, writer string, expiry time.Time) Option {
	return Option{
		Holder:           holder,
		Writer:           writer,
		Spec:             order.OptionSpec{Underlying: "ETH", Type: order.Call, Expiry: expiry},
		CollateralToken:  "ETH",
		LockedCollateral: decimal.NewFromInt(1),
		CreatedAt:        t0,
	}
}

func TestCreateAssignsSequentialIDs(t *testing.T) {
	l := New()
	a := l.Create(newOption("h", "w", t0.Add(time.Hour)))
	b := l.Create(newOption("h2", "w", t0.Add(time.Hour)))
	if a.ID != 1 || b.ID != 2 {
		t.Fatalf("expected ids 1 and 2, got %d and %d", a.ID, b.ID)
	}

	if ids := l.ByAccount("w"); len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Errorf("writer ids: %v", ids)
	}
	if ids := l.ByAccount("h2"); len(ids) != 1 || ids[0] != 2 {
		t.Errorf("holder ids: %v", ids)
	}
	if ids := l.ByAccount("nobody"); len(ids) != 0 {
		t.Errorf("expected no ids, got %v", ids)
	}
	if _, err := l.Get(3); !errors.Is(err, apperr.ErrOptionNotFound) {
		t.Errorf("expected ErrOptionNotFound, got %v", err)
	}
}

func TestTerminalStatesAreExclusive(t *testing.T) {
	l := New()
	o := l.Create(newOption("h", "w", t0))

	if _, err := l.MarkExercised(o.ID, decimal.NewFromInt(5), t0); err != nil {
		t.Fatal(err)
	}
	if _, err := l.MarkExercised(o.ID, decimal.NewFromInt(5), t0); !errors.Is(err, apperr.ErrAlreadyExercised) {
		t.Errorf("second exercise: expected ErrAlreadyExercised, got %v", err)
	}
	if _, err := l.MarkExpired(o.ID, t0); !errors.Is(err, apperr.ErrAlreadyExercised) {
		t.Errorf("expire after exercise: expected ErrAlreadyExercised, got %v", err)
	}

	got, _ := l.Get(o.ID)
	if !got.Exercised || got.Expired {
		t.Errorf("exercised and expired must be exclusive: %+v", got)
	}

	p := l.Create(newOption("h", "w", t0))
	_, _ = l.MarkExpired(p.ID, t0)
	if _, err := l.MarkExercised(p.ID, decimal.Zero, t0); !errors.Is(err, apperr.ErrAlreadyExpired) {
		t.Errorf("exercise after expiry: expected ErrAlreadyExpired, got %v", err)
	}
}

func TestDueForExpiryAndStats(t *testing.T) {
	l := New()
	l.Create(newOption("h", "w", t0.Add(-time.Minute)))
	l.Create(newOption("h", "w", t0))
	l.Create(newOption("h", "w", t0.Add(time.Minute)))
	closed := l.Create(newOption("h", "w", t0.Add(-time.Hour)))
	_, _ = l.MarkExpired(closed.ID, t0)

	due := l.DueForExpiry(t0)
	if len(due) != 2 || due[0] != 1 || due[1] != 2 {
		t.Errorf("expected [1 2] due, got %v", due)
	}

	s := l.Stats()
	if s.Total != 4 || s.Open != 3 || s.Expired != 1 || s.Exercised != 0 {
		t.Errorf("unexpected stats %+v", s)
	}
	if len(l.Open()) != 3 {
		t.Errorf("expected 3 open positions")
	}
}
