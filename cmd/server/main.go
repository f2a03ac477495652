// File: cmd/server/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log" // Standard log for critical startup/shutdown messages before/after zap is active
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"matrimony_sync_backend/internal/config"
	"matrimony_sync_backend/internal/gateway"
	"matrimony_sync_backend/internal/gateway/gormstore"
	"matrimony_sync_backend/internal/platform/database"
	platformElasticsearch "matrimony_sync_backend/internal/platform/elasticsearch"
	"matrimony_sync_backend/internal/platform/logger"
	"matrimony_sync_backend/internal/profile"

	"go.uber.org/zap"
)

func main() {
	syncProfilesCmd := flag.NewFlagSet("sync-profiles", flag.ExitOnError)
	batchSize := syncProfilesCmd.Int("batch-size", 500, "Number of profiles sent per bulk indexing pass")

	if len(os.Args) > 1 && os.Args[1] == "sync-profiles" {
		_ = syncProfilesCmd.Parse(os.Args[2:])
		if err := syncProfiles(*batchSize); err != nil {
			log.Fatalf("FATAL: Profile synchronization failed: %v", err)
		}
		return
	}

	startServer()
}

func startServer() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	server, cleanup, err := initializeServer(cfg)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize server: %v", err)
	}
	defer cleanup()

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("FATAL: Server failed to start or crashed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("INFO: Received signal '%s'. Shutting down server...", sig)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ServerTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR: Server forced to shutdown due to error: %v", err)
	} else {
		log.Println("INFO: Server shutdown complete.")
	}
	log.Println("INFO: Application exiting.")
}

// syncProfiles copies every stored profile summary into the search index used
// by the elasticsearch profile source.
func syncProfiles(batchSize int) error {
	if batchSize <= 0 {
		return fmt.Errorf("batch-size must be positive, got %d", batchSize)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	appLogger, err := logger.New(cfg)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = appLogger.Sync() }()

	db, err := database.NewGORM(cfg, appLogger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer database.CloseGORMDB(db, appLogger)

	esClient, err := platformElasticsearch.NewClient(cfg, appLogger)
	if err != nil {
		return fmt.Errorf("initializing Elasticsearch client: %w", err)
	}

	ctx := context.Background()
	if err := platformElasticsearch.CreateProfilesIndexIfNotExists(ctx, esClient, appLogger); err != nil {
		return err
	}

	store := gormstore.New(db, nil, appLogger)
	var rows []gateway.Profile
	opts := gateway.QueryOptions{Order: []gateway.Order{{Column: "id"}}}
	if err := store.Read(ctx, gateway.Profiles, gateway.Filter{}, opts, &rows); err != nil {
		return fmt.Errorf("reading profiles: %w", err)
	}
	appLogger.Info("Starting profile synchronization to Elasticsearch...",
		zap.Int("profiles", len(rows)),
		zap.Int("batchSize", batchSize),
	)

	total := 0
	for start := 0; start < len(rows); start += batchSize {
		end := min(start+batchSize, len(rows))
		summaries := make([]profile.Summary, 0, end-start)
		for _, p := range rows[start:end] {
			summaries = append(summaries, profile.FromRecord(p))
		}
		indexed, err := platformElasticsearch.IndexProfiles(ctx, esClient, summaries, appLogger)
		total += indexed
		if err != nil {
			return fmt.Errorf("indexing batch starting at %d: %w", start, err)
		}
		appLogger.Info("Batch processed.", zap.Int("offset", start), zap.Int("indexed", indexed))
	}

	appLogger.Info("Profile synchronization completed successfully.", zap.Int("indexed", total))
	return nil
}
