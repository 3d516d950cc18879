// Package ledger is the authoritative store of option positions.
//
// A position moves from open to exactly one of exercised or expired. Terminal
// positions never change again.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dgnsrekt/optionvault/internal/apperr"
	"github.com/dgnsrekt/optionvault/internal/order"
)

// Option is one written position.
type Option struct {
	ID               uint64           `json:"id"`
	Holder           string           `json:"holder"`
	Writer           string           `json:"writer"`
	Spec             order.OptionSpec `json:"spec"`
	OrderID          string           `json:"order_id"`
	CollateralToken  string           `json:"collateral_token"`
	LockedCollateral decimal.Decimal  `json:"locked_collateral"`
	PremiumToken     string           `json:"premium_token"`
	Premium          decimal.Decimal  `json:"premium"`
	CreatedAt        time.Time        `json:"created_at"`
	Exercised        bool             `json:"exercised"`
	Expired          bool             `json:"expired"`
	Payout           decimal.Decimal  `json:"payout"`
	ClosedAt         time.Time        `json:"closed_at,omitempty"`
}

// Closed reports whether the option is exercised or expired.
func (o Option) Closed() bool { return o.Exercised || o.Expired }

// Stats counts positions by state.
type Stats struct {
	Total     int `json:"total"`
	Open      int `json:"open"`
	Exercised int `json:"exercised"`
	Expired   int `json:"expired"`
}

// Ledger stores options by id.
type Ledger struct {
	mu        sync.RWMutex
	options   []Option // index id-1
	byAccount map[string][]uint64
}

// New creates an empty Ledger. Ids start at 1.
func New() *Ledger {
	return &Ledger{byAccount: make(map[string][]uint64)}
}

// Create stores a new open position and assigns the next id.
func (l *Ledger) Create(o Option) Option {
	l.mu.Lock()
	defer l.mu.Unlock()

	o.ID = uint64(len(l.options) + 1)
	o.Exercised, o.Expired = false, false
	l.options = append(l.options, o)
	l.byAccount[o.Holder] = append(l.byAccount[o.Holder], o.ID)
	if o.Writer != o.Holder {
		l.byAccount[o.Writer] = append(l.byAccount[o.Writer], o.ID)
	}
	return o
}

// Get returns a copy of the option.
func (l *Ledger) Get(id uint64) (Option, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if id == 0 || id > uint64(len(l.options)) {
		return Option{}, fmt.Errorf("option %d: %w", id, apperr.ErrOptionNotFound)
	}
	return l.options[id-1], nil
}

// ByAccount lists the ids where account is holder or writer, ascending.
func (l *Ledger) ByAccount(account string) []uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := append([]uint64(nil), l.byAccount[account]...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func terminalErr(o Option) error {
	if o.Exercised {
		return fmt.Errorf("option %d: %w", o.ID, apperr.ErrAlreadyExercised)
	}
	if o.Expired {
		return fmt.Errorf("option %d: %w", o.ID, apperr.ErrAlreadyExpired)
	}
	return nil
}

// MarkExercised closes an active option with its payout.
func (l *Ledger) MarkExercised(id uint64, payout decimal.Decimal, at time.Time) (Option, error) {
	return l.close(id, at, func(o *Option) {
		o.Exercised = true
		o.Payout = payout
	})
}

// MarkExpired closes an active option without payout.
func (l *Ledger) MarkExpired(id uint64, at time.Time) (Option, error) {
	return l.close(id, at, func(o *Option) { o.Expired = true })
}

func (l *Ledger) close(id uint64, at time.Time, fn func(*Option)) (Option, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id == 0 || id > uint64(len(l.options)) {
		return Option{}, fmt.Errorf("option %d: %w", id, apperr.ErrOptionNotFound)
	}
	o := &l.options[id-1]
	if err := terminalErr(*o); err != nil {
		return *o, err
	}
	fn(o)
	o.ClosedAt = at
	return *o, nil
}

// DueForExpiry lists open positions whose expiry is at or before now.
func (l *Ledger) DueForExpiry(now time.Time) []uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var ids []uint64
	for _, o := range l.options {
		if !o.Closed() && !now.Before(o.Spec.Expiry) {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

// Open lists every open position.
func (l *Ledger) Open() []Option {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Option
	for _, o := range l.options {
		if !o.Closed() {
			out = append(out, o)
		}
	}
	return out
}

// Stats counts options by state.
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := Stats{Total: len(l.options)}
	for _, o := range l.options {
		switch {
		case o.Exercised:
			s.Exercised++
		case o.Expired:
			s.Expired++
		default:
			s.Open++
		}
	}
	return s
}
