// File: cmd/server/providers.go
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"matrimony_sync_backend/internal/config"
	"matrimony_sync_backend/internal/gateway"
	"matrimony_sync_backend/internal/gateway/gormstore"
	"matrimony_sync_backend/internal/gateway/memfeed"
	"matrimony_sync_backend/internal/gateway/pgfeed"
	"matrimony_sync_backend/internal/jobs"
	"matrimony_sync_backend/internal/platform/database"
	platformElasticsearch "matrimony_sync_backend/internal/platform/elasticsearch"
	"matrimony_sync_backend/internal/platform/logger"
	"matrimony_sync_backend/internal/profile"
	"matrimony_sync_backend/internal/session"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const startupTimeout = 30 * time.Second

func provideLogger(cfg *config.Config) (*zap.Logger, func(), error) {
	l, err := logger.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		// Sync on stdout/stderr returns EINVAL on some platforms; nothing to act on.
		if err := l.Sync(); err != nil {
			log.Printf("WARN: Failed to sync logger during cleanup: %v", err)
		}
	}
	return l, cleanup, nil
}

// provideDatabase opens the database and, when the realtime feed listens on
// Postgres, installs the row-change triggers it depends on.
func provideDatabase(cfg *config.Config, logger *zap.Logger) (*gorm.DB, func(), error) {
	db, err := database.NewGORM(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { database.CloseGORMDB(db, logger) }

	if cfg.RealtimeDriver == config.RealtimeDriverPostgres {
		ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
		defer cancel()
		if err := pgfeed.InstallTriggers(ctx, db); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("installing realtime triggers: %w", err)
		}
		logger.Info("Realtime triggers installed", zap.String("channel", pgfeed.NotifyChannel))
	}
	return db, cleanup, nil
}

func provideHub(cfg *config.Config, logger *zap.Logger) (*memfeed.Hub, func()) {
	hub := memfeed.NewHub(cfg.RealtimeBufferSize, logger, memfeed.WithPublishTimeout(cfg.RealtimePublishTimeout))
	return hub, hub.Close
}

// providePublisher returns the in-process hub for the memory driver. With the
// Postgres driver the database triggers publish changes instead.
func providePublisher(cfg *config.Config, hub *memfeed.Hub) gormstore.Publisher {
	if cfg.RealtimeDriver == config.RealtimeDriverMemory {
		return hub
	}
	return nil
}

func provideStore(db *gorm.DB, publisher gormstore.Publisher, logger *zap.Logger) gateway.Store {
	return gormstore.New(db, publisher, logger)
}

func provideFeed(cfg *config.Config, hub *memfeed.Hub, store gateway.Store, logger *zap.Logger) gateway.Feed {
	if cfg.RealtimeDriver == config.RealtimeDriverPostgres {
		return pgfeed.New(cfg.DBSource, store, logger)
	}
	return hub
}

// provideProfileSource picks where batched profile lookups go. Every source is
// wrapped in a circuit breaker so an unhealthy backend fails lookups fast.
func provideProfileSource(cfg *config.Config, store gateway.Store, logger *zap.Logger) (profile.Source, error) {
	var source profile.Source
	switch cfg.ProfileSource {
	case config.ProfileSourceElasticsearch:
		client, err := platformElasticsearch.NewClient(cfg, logger)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
		defer cancel()
		if err := platformElasticsearch.CreateProfilesIndexIfNotExists(ctx, client, logger); err != nil {
			return nil, err
		}
		source = profile.NewSearchSource(client.Client)
	default:
		source = profile.NewStoreSource(store)
	}
	return profile.NewBreakerSource(source, cfg.ProfileBreakerThreshold, logger), nil
}

func provideSessionDeps(cfg *config.Config, store gateway.Store, feed gateway.Feed, profiles profile.Source) session.Deps {
	return session.Deps{
		Store:    store,
		Feed:     feed,
		Profiles: profiles,
		Clock:    clock.New(),
		Settings: session.SettingsFromConfig(cfg),
	}
}

func provideRegistry(deps session.Deps, logger *zap.Logger) (*session.Registry, func()) {
	registry := session.NewRegistry(deps, logger)
	return registry, registry.Close
}

func provideSessionHandler(cfg *config.Config, registry *session.Registry, logger *zap.Logger) *session.Handler {
	return session.NewHandler(registry, cfg.CORSAllowedOrigins, logger)
}

func provideReconcileJob(cfg *config.Config, sessions jobs.SessionSet, logger *zap.Logger) *jobs.NotificationReconcileJob {
	return jobs.NewNotificationReconcileJob(sessions, cfg.NotificationReconcileSchedule, logger)
}
