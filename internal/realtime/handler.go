package realtime

import (
	"matrimony_sync_backend/internal/common"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ManagerLocator finds the realtime manager of a signed-in user.
type ManagerLocator interface {
	Realtime(userID string) (*Manager, error)
}

// EnabledRequest toggles realtime updates.
type EnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type Handler struct {
	managers ManagerLocator
	logger   *zap.Logger
}

func NewHandler(managers ManagerLocator, logger *zap.Logger) *Handler {
	return &Handler{managers: managers, logger: logger}
}

// RegisterRoutes sets up the realtime control routes.
// All routes in this group should be authenticated.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/status", h.getStatus)
	router.POST("/reconnect", h.reconnect)
	router.PUT("/enabled", h.setEnabled)
}

func (h *Handler) manager(c *gin.Context) (*Manager, bool) {
	userID := common.GetUserIDFromContext(c)
	if userID == "" {
		common.RespondWithError(c, common.ErrUnauthorized.WithDetails("User ID not found in token."))
		return nil, false
	}
	m, err := h.managers.Realtime(userID)
	if err != nil {
		common.RespondWithError(c, err)
		return nil, false
	}
	return m, true
}

func (h *Handler) getStatus(c *gin.Context) {
	m, ok := h.manager(c)
	if !ok {
		return
	}
	common.RespondOK(c, "Realtime status retrieved successfully.", m.State())
}

func (h *Handler) reconnect(c *gin.Context) {
	m, ok := h.manager(c)
	if !ok {
		return
	}
	if err := m.Reconnect(c.Request.Context()); err != nil {
		h.logger.Warn("Manual reconnect failed", zap.Error(err))
	}
	common.RespondOK(c, "Reconnect requested.", m.State())
}

func (h *Handler) setEnabled(c *gin.Context) {
	m, ok := h.manager(c)
	if !ok {
		return
	}
	var req EnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondWithError(c, common.BindingError(err))
		return
	}
	if err := m.SetEnabled(c.Request.Context(), *req.Enabled); err != nil {
		h.logger.Warn("Enabling realtime failed", zap.Error(err))
	}
	common.RespondOK(c, "Realtime preference updated.", m.State())
}
