package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/punchamoorthee/reportledger/internal/config"
	"github.com/punchamoorthee/reportledger/internal/domain"
	"github.com/punchamoorthee/reportledger/internal/logging"
	"github.com/punchamoorthee/reportledger/internal/notify"
	"github.com/punchamoorthee/reportledger/internal/provider"
	"github.com/punchamoorthee/reportledger/internal/service"
	"github.com/punchamoorthee/reportledger/internal/settings"
	"github.com/punchamoorthee/reportledger/internal/store"
	"github.com/punchamoorthee/reportledger/internal/store/sqlite"
	"github.com/punchamoorthee/reportledger/internal/worker"
)

// app holds the wired process. close releases everything open opened.
type app struct {
	cfg   *config.Config
	log   zerolog.Logger
	store store.Store
	costs *settings.StoreBacked
	pool  *worker.Pool
	svc   *service.Service
	redis *redis.Client
}

func loadConfig(path string) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logging.New(cfg.LogLevel, cfg.Env, os.Stderr), nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.DBSource)
	case "sqlite":
		return sqlite.New(cfg.SQLitePath)
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app, error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	a := &app{cfg: cfg, log: log, store: st}

	sinks := notify.Multi{notify.NewLog(log), notify.NewAudit(st)}
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:         cfg.RedisAddr,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		sinks = append(sinks, notify.NewRedis(a.redis, cfg.RedisChannel))
		log.Info().Str("redis_addr", cfg.RedisAddr).Str("channel", cfg.RedisChannel).Msg("publishing events to redis")
	}

	var gen provider.Generator = provider.NewAnthropic(cfg.AnthropicAPIKey, cfg.ProviderModel)
	if cfg.AnthropicAPIKey == "" {
		log.Warn().Msg("ANTHROPIC_API_KEY not set, using offline report generator")
		gen = provider.Offline{}
	}

	a.costs = settings.NewStoreBacked(st, settings.Static{domain.CostKindPremiumReport: cfg.PremiumReportCost}, log)
	a.pool = worker.NewPool(cfg.WorkerQueueSize, log)
	a.svc = service.New(st, a.costs, gen, a.pool, notify.NewSafe(sinks, log), log, service.Config{
		ProviderTimeout:     cfg.ProviderTimeout,
		MaxOutput:           cfg.ProviderMaxOutput,
		LowBalanceThreshold: cfg.LowBalanceThreshold,
		SweepAfter:          cfg.SweepAfter,
	})
	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("store close failed")
	}
}
