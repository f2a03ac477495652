package conversation

import (
	"errors"
	"strings"
	"time"

	"matrimony_sync_backend/internal/gateway"
	"matrimony_sync_backend/internal/profile"
)

// TempIDPrefix marks messages that exist only locally until the server accepts them.
const TempIDPrefix = "temp-"

const (
	DefaultFreshFor      = 30 * time.Second
	DefaultMessageLimit  = 50
	DefaultListLimit     = 200
	DefaultCacheCapacity = 500
)

var (
	ErrEmptyContent   = errors.New("message content is empty")
	ErrNoConversation = errors.New("no conversation selected")
	ErrSendInFlight   = errors.New("a message is already being sent in this conversation")
)

// IsTemporary reports whether id was assigned locally to an unsent message.
func IsTemporary(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Entry is the cached message history of one conversation. A conversation is
// identified by the other participant's user id.
type Entry struct {
	ConversationID string            `json:"conversation_id"`
	Messages       []gateway.Message `json:"messages"`
	LastFetchedAt  time.Time         `json:"last_fetched_at"`
}

// Summary is one row of the conversation list.
type Summary struct {
	ConversationID string          `json:"conversation_id"`
	Partner        profile.Summary `json:"partner"`
	LastMessage    gateway.Message `json:"last_message"`
	UnreadCount    int             `json:"unread_count"`
}

// Update describes a change to a conversation, pushed to listeners.
type Update struct {
	ConversationID string            `json:"conversation_id"`
	Messages       []gateway.Message `json:"messages"`
	Draft          string            `json:"draft,omitempty"`
}

// Config tunes the store.
type Config struct {
	FreshFor      time.Duration
	MessageLimit  int
	ListLimit     int
	CacheCapacity int
}

func (c Config) withDefaults() Config {
	if c.FreshFor <= 0 {
		c.FreshFor = DefaultFreshFor
	}
	if c.MessageLimit <= 0 {
		c.MessageLimit = DefaultMessageLimit
	}
	if c.ListLimit <= 0 {
		c.ListLimit = DefaultListLimit
	}
	if c.CacheCapacity <= 0 {
		c.CacheCapacity = DefaultCacheCapacity
	}
	return c
}
