// File: internal/app/server.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"matrimony_sync_backend/internal/common"
	"matrimony_sync_backend/internal/config"
	"matrimony_sync_backend/internal/conversation"
	"matrimony_sync_backend/internal/jobs"
	"matrimony_sync_backend/internal/middleware"
	"matrimony_sync_backend/internal/notification"
	"matrimony_sync_backend/internal/realtime"
	"matrimony_sync_backend/internal/session"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"go.uber.org/zap"
)

// Server struct holds the dependencies for the HTTP server.
type Server struct {
	httpServer *http.Server
	router     *gin.Engine
	cfg        *config.Config
	logger     *zap.Logger
	sessions   *session.Registry

	// Jobs
	reconcileJob *jobs.NotificationReconcileJob
}

// NewServer creates a new instance of our application server.
func NewServer(
	cfg *config.Config,
	logger *zap.Logger,
	verifier middleware.TokenVerifier,
	sessions *session.Registry,
	sessionHandler *session.Handler,
	notificationHandler *notification.Handler,
	conversationHandler *conversation.Handler,
	realtimeHandler *realtime.Handler,
	reconcileJob *jobs.NotificationReconcileJob,
) (*Server, error) {
	gin.SetMode(cfg.GinMode)
	if err := RegisterValidators(); err != nil {
		return nil, err
	}
	router := gin.New()

	// --- Global Middleware ---
	router.Use(middleware.ZapLogger(logger, cfg.GinMode))
	router.Use(middleware.ErrorHandler(logger))
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSAllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.RequestIDHeader}
	corsConfig.ExposeHeaders = []string{"Content-Length", middleware.RequestIDHeader}
	if len(corsConfig.AllowOrigins) == 0 || corsConfig.AllowOrigins[0] == "*" {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowCredentials = true
	}
	router.Use(cors.New(corsConfig))

	authMW := middleware.AuthMiddleware(verifier, logger.Named("AuthMiddleware"))

	// --- Setup Routes ---
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP", "sessions": sessions.Len()})
	})

	v1 := router.Group("/api/v1", authMW)
	sessionHandler.RegisterRoutes(v1)
	notificationHandler.RegisterRoutes(v1.Group("/notifications"))
	conversationHandler.RegisterRoutes(v1.Group("/conversations"))
	realtimeHandler.RegisterRoutes(v1.Group("/realtime"))

	addr := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	httpServer := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// WebSocket streams are long-lived; writes are bounded per frame instead.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer:   httpServer,
		router:       router,
		cfg:          cfg,
		logger:       logger,
		sessions:     sessions,
		reconcileJob: reconcileJob,
	}, nil
}

// RegisterValidators adds the custom binding tags used by request bodies.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		return fmt.Errorf("registering notblank validator: %w", err)
	}
	return nil
}

// Router exposes the HTTP handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	if s.reconcileJob != nil {
		if err := s.reconcileJob.SetupAndStart(); err != nil {
			s.logger.Error("Failed to setup and start notification reconcile job", zap.Error(err))
		}
	}

	s.logger.Info("HTTP Server starting",
		zap.String("address", s.httpServer.Addr),
		zap.String("gin_mode", s.cfg.GinMode),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("Failed to start HTTP server", zap.Error(err))
		return err
	}
	s.logger.Info("HTTP Server stopped")
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Attempting graceful server shutdown...")
	if s.reconcileJob != nil {
		s.reconcileJob.Stop()
	}
	// Closing sessions ends WebSocket streams, which Shutdown does not wait for.
	s.sessions.Close()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return common.ErrServiceUnavailable.WithDetails(err.Error())
	}
	return nil
}
