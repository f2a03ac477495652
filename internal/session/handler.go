package session

import (
	"net/http"
	"slices"

	"matrimony_sync_backend/internal/common"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Handler struct {
	registry *Registry
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler creates the session handler. allowedOrigins restricts WebSocket
// upgrades; "*" allows any origin.
func NewHandler(registry *Registry, allowedOrigins []string, logger *zap.Logger) *Handler {
	allowAll := len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*")
	return &Handler{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowAll || origin == "" || slices.Contains(allowedOrigins, origin)
			},
		},
		logger: logger,
	}
}

// RegisterRoutes sets up the session lifecycle and live update routes.
// All routes in this group should be authenticated.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/session", h.signIn)
	router.GET("/session", h.getSession)
	router.DELETE("/session", h.signOut)
	router.GET("/realtime/ws", h.stream)
}

func identityFromContext(c *gin.Context) Identity {
	return Identity{
		UserID:  common.GetUserIDFromContext(c),
		Email:   common.GetUserEmailFromContext(c),
		Name:    common.GetUserNameFromContext(c),
		Picture: common.GetUserPictureFromContext(c),
	}
}

func (h *Handler) signIn(c *gin.Context) {
	controller, err := h.registry.SignIn(c.Request.Context(), identityFromContext(c))
	if err != nil {
		common.RespondWithError(c, err)
		return
	}
	common.RespondCreated(c, "Session started.", controller.View())
}

func (h *Handler) getSession(c *gin.Context) {
	controller, err := h.registry.lookup(common.GetUserIDFromContext(c))
	if err != nil {
		common.RespondWithError(c, err)
		return
	}
	common.RespondOK(c, "Session retrieved successfully.", controller.View())
}

func (h *Handler) signOut(c *gin.Context) {
	if !h.registry.SignOut(common.GetUserIDFromContext(c)) {
		common.RespondWithError(c, common.ErrNoSession)
		return
	}
	common.RespondNoContent(c)
}

func (h *Handler) stream(c *gin.Context) {
	controller, err := h.registry.lookup(common.GetUserIDFromContext(c))
	if err != nil {
		common.RespondWithError(c, err)
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	controller.Broadcaster().Serve(conn, controller.initialEnvelopes()...)
}
