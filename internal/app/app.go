// Package app assembles the job tracker process: both stores, the redis
// client with its health monitor, the cache services, the Gin engine and the
// HTTP server. It also owns the ordered teardown of all of them.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-jobtrack-backend/internal/cache"
	"github.com/tbourn/go-jobtrack-backend/internal/config"
	httpapi "github.com/tbourn/go-jobtrack-backend/internal/http"
	"github.com/tbourn/go-jobtrack-backend/internal/repo"
	"github.com/tbourn/go-jobtrack-backend/internal/services"
)

// PurgeSchedule is the cron spec of the expired idempotency record sweep.
const PurgeSchedule = "@every 1h"

// App is a fully wired process. Fields are exported for the command layer and
// tests; they must not be reassigned after New.
type App struct {
	Config    config.Config
	PrimaryDB *gorm.DB
	ChatDB    *gorm.DB
	Cache     *cache.Client
	JobCache  *cache.JobCache
	ChatCache *cache.ChatCache
	Engine    *gin.Engine
	Server    *http.Server

	log   zerolog.Logger
	sweep *cron.Cron
}

// New opens every dependency and registers the routes. A redis backend that
// cannot be reached is not an error: the caches start in fallback mode and the
// health monitor brings them back once redis answers.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, log: logger.With().Str("component", "app").Logger()}

	var err error
	if a.PrimaryDB, err = repo.OpenSQLite(cfg.DBPath); err != nil {
		return nil, fmt.Errorf("open primary store: %w", err)
	}
	if a.ChatDB, err = repo.OpenSQLite(cfg.ChatDBPath); err != nil {
		_ = repo.Close(a.PrimaryDB)
		return nil, fmt.Errorf("open chat store: %w", err)
	}
	if err := repo.AutoMigratePrimary(a.PrimaryDB); err != nil {
		a.closeStores()
		return nil, fmt.Errorf("migrate primary store: %w", err)
	}
	if err := repo.AutoMigrateChat(a.ChatDB); err != nil {
		a.closeStores()
		return nil, fmt.Errorf("migrate chat store: %w", err)
	}

	a.Cache = cache.NewClient(cfg.Redis, logger)
	if cfg.Redis.Enabled {
		if err := a.Cache.Connect(ctx); err != nil {
			a.log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable at startup; serving from the stores")
		}
		if err := a.Cache.StartHealthMonitor(cfg.Redis.HealthSchedule); err != nil {
			_ = a.Cache.Close(ctx)
			a.closeStores()
			return nil, err
		}
	}

	keys := cache.NewKeyBuilder(cfg.Cache.KeyPrefix)
	users := repo.Users{DB: a.PrimaryDB}
	a.JobCache = cache.NewJobCache(a.Cache, keys, repo.Jobs{DB: a.PrimaryDB}, users, cache.JobOptions(cfg.Cache), logger)
	a.ChatCache = cache.NewChatCache(a.Cache, keys, repo.Messages{DB: a.ChatDB}, users, cache.ChatOptions(cfg.Cache), logger)

	gin.SetMode(cfg.GinMode)
	a.Engine = gin.New()
	httpapi.RegisterRoutes(a.Engine, httpapi.Deps{
		PrimaryDB: a.PrimaryDB,
		ChatDB:    a.ChatDB,
		Cache:     a.Cache,
		JobCache:  a.JobCache,
		ChatCache: a.ChatCache,
		Publisher: services.LogPublisher{Log: logger.With().Str("component", "chat_events").Logger()},
	}, cfg)

	a.Server = &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           a.Engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
	return a, nil
}

// StartSweeper schedules PurgeIdempotency on PurgeSchedule. Calling it twice
// is a no-op.
func (a *App) StartSweeper() error {
	if a.sweep != nil {
		return nil
	}
	cr := cron.New()
	if _, err := cr.AddFunc(PurgeSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_, _ = a.PurgeIdempotency(ctx)
	}); err != nil {
		return err
	}
	cr.Start()
	a.sweep = cr
	return nil
}

// PurgeIdempotency deletes expired idempotency records and returns how many
// were removed.
func (a *App) PurgeIdempotency(ctx context.Context) (int64, error) {
	n, err := repo.PurgeExpiredIdempotency(ctx, a.PrimaryDB, time.Now().UTC())
	if err != nil {
		a.log.Warn().Err(err).Msg("idempotency purge failed")
		return 0, err
	}
	if n > 0 {
		a.log.Info().Int64("purged", n).Msg("expired idempotency records removed")
	}
	return n, nil
}

// Run serves HTTP until the server is shut down. A clean shutdown returns nil.
func (a *App) Run() error {
	a.log.Info().Str("addr", a.Server.Addr).Msg("http server listening")
	if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server, drains background cache warms, cancels
// breaker reset timers, stops the health monitor and the sweeper, then closes
// redis and both stores. Every step runs; the errors are joined.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.Server != nil {
		if err := a.Server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}
	if a.sweep != nil {
		select {
		case <-a.sweep.Stop().Done():
		case <-ctx.Done():
		}
		a.sweep = nil
	}
	if a.JobCache != nil {
		if err := a.JobCache.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("job cache: %w", err))
		}
	}
	if a.ChatCache != nil {
		if err := a.ChatCache.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("chat cache: %w", err))
		}
	}
	if a.Cache != nil {
		if err := a.Cache.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if err := repo.Close(a.ChatDB); err != nil {
		errs = append(errs, fmt.Errorf("chat store: %w", err))
	}
	if err := repo.Close(a.PrimaryDB); err != nil {
		errs = append(errs, fmt.Errorf("primary store: %w", err))
	}
	a.log.Info().Msg("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeStores() {
	_ = repo.Close(a.ChatDB)
	_ = repo.Close(a.PrimaryDB)
}
