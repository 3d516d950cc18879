package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/optionvault/internal/access"
	"github.com/dgnsrekt/optionvault/internal/apperr"
	"github.com/dgnsrekt/optionvault/internal/config"
	"github.com/dgnsrekt/optionvault/internal/market"
	"github.com/dgnsrekt/optionvault/internal/oracle"
	"github.com/dgnsrekt/optionvault/internal/vault"
)

// Reloader re-reads the registry file and applies what it adds. Registered
// assets and sources are never modified or removed by a reload; token
// policies are replaced.
type Reloader struct {
	path   string
	access *access.Policy
	oracle *oracle.Oracle
	vault  *vault.Vault
	logger *zap.Logger

	reloadMu sync.Mutex // prevents concurrent reloads

	stateMu  sync.RWMutex
	loadedAt time.Time
}

// NewReloader creates a Reloader for the registry file at path.
func NewReloader(path string, policy *access.Policy, o *oracle.Oracle, v *vault.Vault, logger *zap.Logger) *Reloader {
	return &Reloader{
		path:     path,
		access:   policy,
		oracle:   o,
		vault:    v,
		logger:   logger,
		loadedAt: time.Now(),
	}
}

// LoadedAt returns when the registry was last applied.
func (rl *Reloader) LoadedAt() time.Time {
	rl.stateMu.RLock()
	defer rl.stateMu.RUnlock()
	return rl.loadedAt
}

// ReloadResult summarizes what a reload changed.
type ReloadResult struct {
	AssetsAdded   []string  `json:"assets_added"`
	SourcesAdded  int       `json:"sources_added"`
	TokensApplied int       `json:"tokens_applied"`
	LoadedAt      time.Time `json:"loaded_at"`
}

// Reload applies the registry file. Admin only. A failure part way leaves
// whatever was applied before it in place.
func (rl *Reloader) Reload(ctx context.Context, caller access.Caller) (*ReloadResult, error) {
	if err := rl.access.RequireAdmin(caller); err != nil {
		return nil, err
	}
	if !rl.reloadMu.TryLock() {
		return nil, fmt.Errorf("reload already in progress: %w", apperr.ErrInvalidArgument)
	}
	defer rl.reloadMu.Unlock()

	rl.logger.Info("starting registry reload", zap.String("path", rl.path), zap.String("caller", caller.ID))

	reg, err := config.Load(rl.path)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, apperr.ErrInvalidArgument)
	}

	result := &ReloadResult{AssetsAdded: []string{}}
	registry := rl.oracle.Registry()

	for _, ac := range reg.Assets {
		if _, ok := registry.Asset(ac.Symbol); !ok {
			err := rl.oracle.AddAsset(ctx, caller, oracle.Asset{
				Symbol:          ac.Symbol,
				Class:           market.Class(ac.Class),
				Active:          ac.IsActive(),
				MinSources:      ac.MinSources,
				MaxDeviationBps: ac.MaxDeviationBps,
				Continuous:      ac.Continuous,
			})
			if err != nil {
				return result, fmt.Errorf("asset %s: %w", ac.Symbol, err)
			}
			result.AssetsAdded = append(result.AssetsAdded, ac.Symbol)
		}

		existing := make(map[string]bool)
		for _, src := range registry.Sources(ac.Symbol) {
			existing[src.Provider+"/"+src.Ref] = true
		}
		for _, sc := range ac.Sources {
			if existing[sc.Provider+"/"+sc.Ref] {
				continue
			}
			_, err := rl.oracle.AddPriceSource(ctx, caller, oracle.PriceSource{
				Asset:       ac.Symbol,
				Provider:    sc.Provider,
				Ref:         sc.Ref,
				WeightBps:   sc.WeightBps,
				Staleness:   time.Duration(sc.StalenessSec) * time.Second,
				Decimals:    sc.Decimals,
				Active:      sc.IsActive(),
				Description: sc.Description,
			})
			if err != nil {
				return result, fmt.Errorf("asset %s source %s: %w", ac.Symbol, sc.Ref, err)
			}
			result.SourcesAdded++
		}
	}

	if err := rl.vault.LoadTokens(ctx, reg.Tokens); err != nil {
		return result, fmt.Errorf("%v: %w", err, apperr.ErrInvalidArgument)
	}
	result.TokensApplied = len(reg.Tokens)

	rl.stateMu.Lock()
	rl.loadedAt = time.Now()
	result.LoadedAt = rl.loadedAt
	rl.stateMu.Unlock()

	rl.logger.Info("registry reload complete",
		zap.Strings("assetsAdded", result.AssetsAdded),
		zap.Int("sourcesAdded", result.SourcesAdded),
		zap.Int("tokensApplied", result.TokensApplied),
	)
	return result, nil
}
