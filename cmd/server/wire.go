// File: cmd/server/wire.go
//go:build wireinject
// +build wireinject

package main

import (
	"matrimony_sync_backend/internal/app"
	"matrimony_sync_backend/internal/config"
	"matrimony_sync_backend/internal/conversation"
	"matrimony_sync_backend/internal/firebase"
	"matrimony_sync_backend/internal/jobs"
	"matrimony_sync_backend/internal/middleware"
	"matrimony_sync_backend/internal/notification"
	"matrimony_sync_backend/internal/realtime"
	"matrimony_sync_backend/internal/session"

	"github.com/google/wire"
)

// initializeServer is the main Wire injector.
func initializeServer(cfg *config.Config) (*app.Server, func(), error) {
	wire.Build(
		// Platform Layer
		provideLogger,
		provideDatabase,

		// Auth
		firebase.NewFirebaseService,
		wire.Bind(new(middleware.TokenVerifier), new(*firebase.FirebaseService)),

		// Data gateway and realtime feed
		provideHub,
		providePublisher,
		provideStore,
		provideFeed,
		provideProfileSource,

		// Sessions
		provideSessionDeps,
		provideRegistry,
		wire.Bind(new(notification.FeedLocator), new(*session.Registry)),
		wire.Bind(new(conversation.StoreLocator), new(*session.Registry)),
		wire.Bind(new(realtime.ManagerLocator), new(*session.Registry)),
		wire.Bind(new(jobs.SessionSet), new(*session.Registry)),

		// Handlers
		provideSessionHandler,
		notification.NewHandler,
		conversation.NewHandler,
		realtime.NewHandler,
		provideReconcileJob,

		// Application Layer
		app.NewServer,
	)
	return nil, nil, nil
}
