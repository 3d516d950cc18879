package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// replayLine is one JSONL record: {"price": "300000000000", "decimals": 8, "updated_at": 1700000000}
type replayLine struct {
	Price     json.Number `json:"price"`
	Decimals  *int32      `json:"decimals"`
	UpdatedAt int64       `json:"updated_at"`
}

// ReplayProvider replays recorded readings from {dir}/{ref}.jsonl, one line per call.
// Lines without updated_at are stamped with the current time when served.
type ReplayProvider struct {
	data   map[string][]Reading
	index  *IndexCache
	now    func() time.Time
	logger *zap.Logger
}

var _ Provider = (*ReplayProvider)(nil)

// NewReplayProvider loads every .jsonl file under dir.
func NewReplayProvider(dir string, mode ReplayMode, logger *zap.Logger) (*ReplayProvider, error) {
	p := &ReplayProvider{
		data:   make(map[string][]Reading),
		index:  NewIndexCache(mode),
		now:    time.Now,
		logger: logger,
	}

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Ext(path) != ".jsonl" {
			return nil
		}

		ref := strings.TrimSuffix(filepath.Base(path), ".jsonl")
		readings, err := loadJSONL(path)
		if err != nil {
			logger.Warn("failed to load feed file", zap.String("path", path), zap.Error(err))
			return nil
		}

		p.data[ref] = readings
		logger.Info("loaded feed",
			zap.String("ref", ref),
			zap.Int("count", len(readings)),
		)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking feed directory: %w", err)
	}

	return p, nil
}

func loadJSONL(path string) ([]Reading, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var readings []Reading
	scanner := bufio.NewScanner(file)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec replayLine
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		price, ok := new(big.Int).SetString(rec.Price.String(), 10)
		if !ok {
			return nil, fmt.Errorf("line %d: price %q is not an integer", lineNum, rec.Price)
		}

		r := Reading{Price: price, Decimals: -1}
		if rec.Decimals != nil {
			r.Decimals = *rec.Decimals
		}
		if rec.UpdatedAt > 0 {
			r.UpdatedAt = time.Unix(rec.UpdatedAt, 0)
		}
		readings = append(readings, r)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return readings, nil
}

// LatestValue returns the next line for ref.
func (p *ReplayProvider) LatestValue(_ context.Context, ref string) (Reading, error) {
	readings, ok := p.data[ref]
	if !ok {
		return Reading{}, fmt.Errorf("%s: %w", ref, ErrFeedNotFound)
	}

	idx, exhausted := p.index.GetAndAdvance(ref, len(readings))
	if exhausted {
		return Reading{}, fmt.Errorf("%s at %d: %w", ref, idx, ErrFeedExhausted)
	}

	r := readings[idx]
	r.Price = new(big.Int).Set(r.Price)
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = p.now()
	}
	return r, nil
}

// Refs returns the loaded feed references.
func (p *ReplayProvider) Refs() []string {
	refs := make([]string, 0, len(p.data))
	for k := range p.data {
		refs = append(refs, k)
	}
	return refs
}

// Rewind resets playback for ref, or for all feeds when ref is empty.
func (p *ReplayProvider) Rewind(ref string) int {
	return p.index.Reset(ref)
}
