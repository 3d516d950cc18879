package ws

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/optionvault/internal/oracle"
)

// PriceReader is the read side of the oracle the streamer polls.
type PriceReader interface {
	GetPriceData(ctx context.Context, symbol string) (oracle.PriceData, error)
}

// Streamer pushes the current price of every subscribed asset each interval.
type Streamer struct {
	hub      *Hub
	prices   PriceReader
	interval time.Duration
	logger   *zap.Logger
}

// NewStreamer creates a new Streamer.
func NewStreamer(hub *Hub, prices PriceReader, interval time.Duration, logger *zap.Logger) *Streamer {
	if interval <= 0 {
		interval = time.Second
	}
	return &Streamer{
		hub:      hub,
		prices:   prices,
		interval: interval,
		logger:   logger,
	}
}

// Run streams until ctx is cancelled. The first tick is aligned to the top of
// a second so subscribers see predictable timing.
func (s *Streamer) Run(ctx context.Context) {
	now := time.Now()
	nextSecond := now.Truncate(time.Second).Add(time.Second)

	select {
	case <-ctx.Done():
		s.logger.Info("streamer cancelled during alignment")
		return
	case <-time.After(time.Until(nextSecond)):
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("price streamer started", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("price streamer stopping")
			return
		case <-ticker.C:
			s.broadcastNext(ctx)
		}
	}
}

// broadcastNext sends one price to each active group. Unknown symbols are skipped.
func (s *Streamer) broadcastNext(ctx context.Context) int {
	sent := 0
	for _, group := range s.hub.ActiveGroups() {
		symbol := symbolFromGroup(group)
		if symbol == "" {
			continue
		}

		pd, err := s.prices.GetPriceData(ctx, symbol)
		if err != nil {
			s.logger.Debug("failed to read price",
				zap.String("asset", symbol),
				zap.Error(err),
			)
			continue
		}

		s.hub.BroadcastData(group, pricePayload(pd))
		sent++
	}
	return sent
}
