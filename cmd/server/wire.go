package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dgnsrekt/optionvault/internal/audit"
	"github.com/dgnsrekt/optionvault/internal/config"
	"github.com/dgnsrekt/optionvault/internal/feed"
	"github.com/dgnsrekt/optionvault/internal/oracle"
)

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// buildJournal fans audit events out to the log, the SSE broadcaster and any
// configured database or Kafka topic.
func buildJournal(cfg *config.ServerConfig, events *audit.Broadcaster, logger *zap.Logger) (audit.Journal, func(), error) {
	journal := audit.Multi{audit.NewLog(logger), events}
	var closers []func() error

	if cfg.AuditDSN != "" {
		sql, err := audit.OpenSQL(cfg.AuditDialect, cfg.AuditDSN)
		if err != nil {
			return nil, nil, err
		}
		journal = append(journal, sql)
		closers = append(closers, sql.Close)
	}
	if len(cfg.KafkaBrokers) > 0 {
		k := audit.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
		journal = append(journal, k)
		closers = append(closers, k.Close)
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("closing audit sink failed", zap.Error(err))
			}
		}
	}
	return journal, closeAll, nil
}

// buildProviders registers the static provider always, the replay provider
// when its directory loads and the HTTP provider when a base URL is set.
func buildProviders(cfg config.FeedsConfig, logger *zap.Logger) (*feed.Registry, error) {
	providers := feed.NewRegistry()

	static := feed.NewStaticProvider()
	now := time.Now()
	for _, s := range cfg.Static {
		price, err := decimal.NewFromString(s.Price)
		if err != nil {
			return nil, fmt.Errorf("static feed %s: %w", s.Ref, err)
		}
		static.SetDecimal(s.Ref, price, s.Decimals, now)
	}
	providers.Register(config.ProviderStatic, static)

	replay, err := feed.NewReplayProvider(cfg.ReplayDir, feed.ReplayMode(cfg.ReplayMode), logger)
	if err != nil {
		logger.Warn("replay feeds unavailable", zap.String("dir", cfg.ReplayDir), zap.Error(err))
	} else {
		providers.Register(config.ProviderReplay, replay)
	}

	if cfg.HTTPBaseURL != "" {
		providers.Register(config.ProviderHTTP, feed.NewHTTPProvider(
			cfg.HTTPBaseURL,
			cfg.HTTPRatePerSecond,
			time.Duration(cfg.HTTPTimeoutSec)*time.Second,
			time.Duration(cfg.HTTPRetryDelayMs)*time.Millisecond,
			cfg.HTTPRetryCount,
			logger,
		))
	}

	logger.Info("price feeds ready", zap.Strings("providers", providers.Names()))
	return providers, nil
}

// buildCache returns the Redis price cache when addr is set, otherwise memory.
func buildCache(ctx context.Context, addr string) (oracle.PriceCache, func(), error) {
	if addr == "" {
		return oracle.NewMemoryCache(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return oracle.NewRedisCache(client), func() { _ = client.Close() }, nil
}
