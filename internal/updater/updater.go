// Package updater refreshes committed asset prices with a fixed worker pool.
package updater

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/optionvault/internal/apperr"
	"github.com/dgnsrekt/optionvault/internal/oracle"
)

// PriceUpdater commits a fresh aggregate for one asset.
type PriceUpdater interface {
	UpdateAssetPrice(ctx context.Context, symbol string) (oracle.AggregatedPrice, error)
}

// Observer receives per-update timings.
type Observer interface {
	ObserveUpdate(symbol string, status oracle.Status, elapsed time.Duration)
}

// TaskResult is the outcome of one asset update.
type TaskResult struct {
	Symbol   string
	Price    oracle.AggregatedPrice
	Elapsed  time.Duration
	NotFound bool
	Error    error
}

// BatchResult tallies a batch run.
type BatchResult struct {
	Total    int
	Fresh    int
	Degraded int
	Stale    int
	NotFound int
	Failed   int
	Errors   []string
	Results  []TaskResult
}

// Manager runs price updates on a fixed worker pool.
type Manager struct {
	prices   PriceUpdater
	workers  int
	observer Observer
	logger   *zap.Logger
}

// NewManager creates a new Manager.
func NewManager(prices PriceUpdater, workers int, observer Observer, logger *zap.Logger) *Manager {
	if workers < 1 {
		workers = 1
	}
	return &Manager{prices: prices, workers: workers, observer: observer, logger: logger}
}

// Execute updates every symbol. One failure never affects the others.
func (m *Manager) Execute(ctx context.Context, symbols []string) (*BatchResult, error) {
	result := &BatchResult{Total: len(symbols)}

	if len(symbols) == 0 {
		return result, nil
	}

	jobs := make(chan string, len(symbols))
	results := make(chan TaskResult, len(symbols))

	var wg sync.WaitGroup
	for i := 0; i < m.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.worker(ctx, jobs, results)
		}()
	}

	go func() {
		defer close(jobs)
		for _, s := range symbols {
			select {
			case <-ctx.Done():
				return
			case jobs <- s:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		result.Results = append(result.Results, r)
		switch {
		case r.NotFound:
			result.NotFound++
		case r.Error != nil:
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", r.Symbol, r.Error))
		case r.Price.Status == oracle.StatusStale:
			result.Stale++
		case r.Price.Status == oracle.StatusDegraded:
			result.Degraded++
		default:
			result.Fresh++
		}
	}

	return result, ctx.Err()
}

func (m *Manager) worker(ctx context.Context, jobs <-chan string, results chan<- TaskResult) {
	for symbol := range jobs {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := m.update(ctx, symbol)

		select {
		case <-ctx.Done():
			return
		case results <- r:
		}
	}
}

func (m *Manager) update(ctx context.Context, symbol string) TaskResult {
	start := time.Now()
	p, err := m.prices.UpdateAssetPrice(ctx, symbol)
	r := TaskResult{Symbol: symbol, Price: p, Elapsed: time.Since(start)}

	if err != nil {
		if errors.Is(err, apperr.ErrAssetNotFound) {
			m.logger.Debug("asset not found", zap.String("asset", symbol))
			r.NotFound = true
			return r
		}
		m.logger.Warn("price update failed", zap.String("asset", symbol), zap.Error(err))
		r.Error = err
		return r
	}

	if m.observer != nil {
		m.observer.ObserveUpdate(symbol, p.Status, r.Elapsed)
	}
	m.logger.Debug("price updated",
		zap.String("asset", symbol),
		zap.String("price", p.WeightedPrice.String()),
		zap.Int64("confidence_bps", p.ConfidenceBps),
		zap.String("status", string(p.Status)))
	return r
}
