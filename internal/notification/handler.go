package notification

import (
	"net/http"

	"matrimony_sync_backend/internal/common"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// FeedLocator finds the live aggregator of a signed-in user.
type FeedLocator interface {
	Notifications(userID string) (*Aggregator, error)
}

type Handler struct {
	feeds  FeedLocator
	logger *zap.Logger
}

func NewHandler(feeds FeedLocator, logger *zap.Logger) *Handler {
	return &Handler{
		feeds:  feeds,
		logger: logger,
	}
}

// RegisterRoutes sets up the routes for notification operations.
// All routes in this group should be authenticated.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("", h.getNotifications)
	router.POST("/refresh", h.refreshNotifications)
	router.POST("/:notification_id/mark-read", h.markNotificationAsRead)
	router.POST("/mark-all-read", h.markAllNotificationsAsRead)
	router.DELETE("", h.clearNotifications)
}

func (h *Handler) feed(c *gin.Context) (*Aggregator, bool) {
	userID := common.GetUserIDFromContext(c)
	if userID == "" {
		common.RespondWithError(c, common.ErrUnauthorized.WithDetails("User ID not found in token."))
		return nil, false
	}
	agg, err := h.feeds.Notifications(userID)
	if err != nil {
		common.RespondWithError(c, err)
		return nil, false
	}
	return agg, true
}

func (h *Handler) getNotifications(c *gin.Context) {
	agg, ok := h.feed(c)
	if !ok {
		return
	}
	common.RespondOK(c, "Notifications retrieved successfully.", agg.Snapshot())
}

func (h *Handler) refreshNotifications(c *gin.Context) {
	agg, ok := h.feed(c)
	if !ok {
		return
	}
	common.RespondOK(c, "Notifications refreshed successfully.", agg.Fetch(c.Request.Context()))
}

func (h *Handler) markNotificationAsRead(c *gin.Context) {
	agg, ok := h.feed(c)
	if !ok {
		return
	}
	notificationID := c.Param("notification_id")
	if notificationID == "" {
		common.RespondWithError(c, common.ErrBadRequest.WithDetails("Notification ID is required."))
		return
	}

	changed := agg.MarkAsRead(c.Request.Context(), notificationID)
	h.logger.Debug("Mark notification read", zap.String("notification_id", notificationID), zap.Bool("changed", changed))
	common.RespondSuccess(c, http.StatusOK, "Notification marked as read successfully.", agg.Snapshot())
}

func (h *Handler) markAllNotificationsAsRead(c *gin.Context) {
	agg, ok := h.feed(c)
	if !ok {
		return
	}
	agg.MarkAllAsRead(c.Request.Context())
	common.RespondSuccess(c, http.StatusOK, "All notifications marked as read successfully.", agg.Snapshot())
}

func (h *Handler) clearNotifications(c *gin.Context) {
	agg, ok := h.feed(c)
	if !ok {
		return
	}
	agg.Clear()
	common.RespondNoContent(c)
}
