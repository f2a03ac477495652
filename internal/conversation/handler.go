package conversation

import (
	"errors"

	"matrimony_sync_backend/internal/common"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StoreLocator finds the live conversation store of a signed-in user.
type StoreLocator interface {
	Conversations(userID string) (*Store, error)
}

// SendMessageRequest is the body of a send.
type SendMessageRequest struct {
	Content string `json:"content" binding:"required,notblank,max=4000"`
}

// DraftRequest is the body of a draft update.
type DraftRequest struct {
	Text string `json:"text" binding:"max=4000"`
}

// MessagesResponse is the open conversation as returned to clients.
type MessagesResponse struct {
	ConversationID string      `json:"conversation_id"`
	Messages       interface{} `json:"messages"`
	Draft          string      `json:"draft,omitempty"`
}

type Handler struct {
	stores StoreLocator
	logger *zap.Logger
}

func NewHandler(stores StoreLocator, logger *zap.Logger) *Handler {
	return &Handler{stores: stores, logger: logger}
}

// RegisterRoutes sets up the routes for conversations.
// All routes in this group should be authenticated.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("", h.listConversations)
	router.GET("/:conversation_id/messages", h.openConversation)
	router.POST("/:conversation_id/messages", h.sendMessage)
	router.PUT("/:conversation_id/draft", h.saveDraft)
	router.DELETE("/:conversation_id/open", h.closeConversation)
}

func (h *Handler) store(c *gin.Context) (*Store, bool) {
	userID := common.GetUserIDFromContext(c)
	if userID == "" {
		common.RespondWithError(c, common.ErrUnauthorized.WithDetails("User ID not found in token."))
		return nil, false
	}
	store, err := h.stores.Conversations(userID)
	if err != nil {
		common.RespondWithError(c, err)
		return nil, false
	}
	return store, true
}

func (h *Handler) listConversations(c *gin.Context) {
	store, ok := h.store(c)
	if !ok {
		return
	}
	list, err := store.FetchConversations(c.Request.Context())
	if err != nil {
		common.RespondWithError(c, err)
		return
	}
	common.RespondOK(c, "Conversations retrieved successfully.", list)
}

func (h *Handler) openConversation(c *gin.Context) {
	store, ok := h.store(c)
	if !ok {
		return
	}
	conversationID := c.Param("conversation_id")
	msgs, err := store.Open(c.Request.Context(), conversationID)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	common.RespondOK(c, "Messages retrieved successfully.", MessagesResponse{
		ConversationID: conversationID,
		Messages:       msgs,
		Draft:          store.Draft(conversationID),
	})
}

func (h *Handler) sendMessage(c *gin.Context) {
	store, ok := h.store(c)
	if !ok {
		return
	}
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondWithError(c, common.BindingError(err))
		return
	}

	msg, err := store.Send(c.Request.Context(), c.Param("conversation_id"), req.Content)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	common.RespondCreated(c, "Message sent successfully.", msg)
}

func (h *Handler) saveDraft(c *gin.Context) {
	store, ok := h.store(c)
	if !ok {
		return
	}
	var req DraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondWithError(c, common.BindingError(err))
		return
	}
	store.SetDraft(c.Param("conversation_id"), req.Text)
	common.RespondNoContent(c)
}

func (h *Handler) closeConversation(c *gin.Context) {
	store, ok := h.store(c)
	if !ok {
		return
	}
	if open, _ := store.View(); open == c.Param("conversation_id") {
		store.Close()
	}
	common.RespondNoContent(c)
}

func (h *Handler) respondStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrEmptyContent):
		common.RespondWithError(c, common.NewValidationAPIError(map[string]string{"Content": err.Error()}))
	case errors.Is(err, ErrNoConversation):
		common.RespondWithError(c, common.ErrBadRequest.WithDetails(err.Error()))
	case errors.Is(err, ErrSendInFlight):
		common.RespondWithError(c, common.ErrConflict.WithDetails(err.Error()))
	default:
		h.logger.Debug("Conversation operation failed", zap.Error(err))
		common.RespondWithError(c, err)
	}
}
