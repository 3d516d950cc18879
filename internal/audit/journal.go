// Package audit records administrator-visible events: overrides, breaker trips,
// halts and every option state transition.
package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Kind classifies an event.
type Kind string

const (
	KindAssetAdded            Kind = "asset_added"
	KindAssetDeactivated      Kind = "asset_deactivated"
	KindSourceAdded           Kind = "source_added"
	KindSourceToggled         Kind = "source_toggled"
	KindContinuousTrading     Kind = "continuous_trading"
	KindSyntheticUpdate       Kind = "synthetic_update"
	KindEmergencyPriceSet     Kind = "emergency_price_set"
	KindEmergencyPriceCleared Kind = "emergency_price_cleared"
	KindCircuitBreakerTripped Kind = "circuit_breaker_tripped"
	KindAssetHalted           Kind = "asset_halted"
	KindHaltCleared           Kind = "halt_cleared"
	KindTokenConfigured       Kind = "token_configured"
	KindOrderFilled           Kind = "order_filled"
	KindOrderCancelled        Kind = "order_cancelled"
	KindOptionExercised       Kind = "option_exercised"
	KindOptionExpired         Kind = "option_expired"
)

// Event is one journal entry.
type Event struct {
	ID       string            `json:"id"`
	Kind     Kind              `json:"kind"`
	Asset    string            `json:"asset,omitempty"`
	OptionID uint64            `json:"option_id,omitempty"`
	Actor    string            `json:"actor"`
	Detail   map[string]string `json:"detail,omitempty"`
	At       time.Time         `json:"at"`
}

// NewEvent stamps a fresh id and time.
func NewEvent(kind Kind, actor string) Event {
	return Event{
		ID:     uuid.NewString(),
		Kind:   kind,
		Actor:  actor,
		Detail: make(map[string]string),
		At:     time.Now().UTC(),
	}
}

// WithAsset sets the asset and returns the event.
func (e Event) WithAsset(symbol string) Event {
	e.Asset = symbol
	return e
}

// WithOption sets the option id and returns the event.
func (e Event) WithOption(id uint64) Event {
	e.OptionID = id
	return e
}

// With adds a detail field and returns the event.
func (e Event) With(key, value string) Event {
	if e.Detail == nil {
		e.Detail = make(map[string]string)
	}
	e.Detail[key] = value
	return e
}

// Journal persists events.
type Journal interface {
	Record(ctx context.Context, e Event) error
}

// Multi fans an event out to every journal and joins their errors.
type Multi []Journal

// Record writes to every sink and joins their errors.
func (m Multi) Record(ctx context.Context, e Event) error {
	var errs []error
	for _, j := range m {
		if err := j.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes events to a zap logger. Override and breaker events are logged at Warn.
type Log struct {
	logger *zap.Logger
}

// NewLog creates a Log sink.
func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

// Record logs alerts at Warn and everything else at Info.
func (l *Log) Record(_ context.Context, e Event) error {
	fields := []zap.Field{
		zap.String("event_id", e.ID),
		zap.String("kind", string(e.Kind)),
		zap.String("actor", e.Actor),
		zap.Time("at", e.At),
	}
	if e.Asset != "" {
		fields = append(fields, zap.String("asset", e.Asset))
	}
	if e.OptionID != 0 {
		fields = append(fields, zap.Uint64("option_id", e.OptionID))
	}
	for k, v := range e.Detail {
		fields = append(fields, zap.String(k, v))
	}

	if IsAlert(e.Kind) {
		l.logger.Warn("audit", fields...)
	} else {
		l.logger.Info("audit", fields...)
	}
	return nil
}

// IsAlert reports whether a kind is an administrator alert rather than routine bookkeeping.
func IsAlert(k Kind) bool {
	switch k {
	case KindEmergencyPriceSet, KindEmergencyPriceCleared, KindCircuitBreakerTripped,
		KindAssetHalted, KindHaltCleared:
		return true
	}
	return false
}

// Memory keeps events in order; used by tests and the /v1/audit read endpoint.
type Memory struct {
	mu     sync.RWMutex
	events []Event
	limit  int
}

// NewMemory keeps at most limit events (0 means unbounded).
func NewMemory(limit int) *Memory {
	return &Memory{limit: limit}
}

// Record appends e, dropping the oldest event past the limit.
func (m *Memory) Record(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	if m.limit > 0 && len(m.events) > m.limit {
		m.events = m.events[len(m.events)-m.limit:]
	}
	return nil
}

// Events returns a copy of the recorded events, oldest first.
func (m *Memory) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// OfKind returns recorded events of one kind.
func (m *Memory) OfKind(k Kind) []Event {
	var out []Event
	for _, e := range m.Events() {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

// Discard drops every event.
type Discard struct{}

// Record drops e.
func (Discard) Record(context.Context, Event) error { return nil }
