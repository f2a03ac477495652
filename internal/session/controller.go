package session

import (
	"context"
	"fmt"

	"matrimony_sync_backend/internal/config"
	"matrimony_sync_backend/internal/conversation"
	"matrimony_sync_backend/internal/gateway"
	"matrimony_sync_backend/internal/notification"
	"matrimony_sync_backend/internal/profile"
	"matrimony_sync_backend/internal/realtime"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Settings tunes the components built for every session.
type Settings struct {
	ProfileCacheCapacity   int
	Fetcher                profile.FetcherConfig
	NotificationFetchLimit int
	Conversation           conversation.Config
}

// SettingsFromConfig reads session settings from the application config.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		ProfileCacheCapacity: cfg.ProfileCacheCapacity,
		Fetcher: profile.FetcherConfig{
			Window:        cfg.ProfileBatchWindow,
			LookupTimeout: cfg.ProfileLookupTimeout,
		},
		NotificationFetchLimit: cfg.NotificationFetchLimit,
		Conversation: conversation.Config{
			FreshFor:      cfg.ConversationFreshness,
			MessageLimit:  cfg.ConversationMessageLimit,
			CacheCapacity: cfg.ConversationCacheCapacity,
		},
	}
}

// Deps are the shared backends every session is wired to.
type Deps struct {
	Store    gateway.Store
	Feed     gateway.Feed
	Profiles profile.Source
	Clock    clock.Clock
	Settings Settings
}

// Identity is the verified caller a session belongs to.
type Identity struct {
	UserID  string
	Email   string
	Name    string
	Picture string
}

// Controller owns every piece of sync state for one signed-in user. Nothing is
// shared between controllers except the backends in Deps.
type Controller struct {
	identity      Identity
	profiles      *profile.Fetcher
	notifications *notification.Aggregator
	conversations *conversation.Store
	realtime      *realtime.Manager
	broadcaster   *Broadcaster
	logger        *zap.Logger
}

// NewController builds the session components for id and links their change
// notifications to the session's WebSocket broadcaster.
func NewController(id Identity, deps Deps, logger *zap.Logger) (*Controller, error) {
	logger = logger.With(zap.String("user_id", id.UserID))
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}

	capacity := deps.Settings.ProfileCacheCapacity
	if capacity <= 0 {
		capacity = profile.DefaultCacheCapacity
	}
	cache, err := profile.NewCache(capacity)
	if err != nil {
		return nil, fmt.Errorf("creating profile cache: %w", err)
	}
	fetcher := profile.NewFetcher(cache, deps.Profiles, clk, deps.Settings.Fetcher, logger)
	aggregator := notification.NewAggregator(id.UserID, deps.Store, fetcher, deps.Settings.NotificationFetchLimit, logger)
	conversations, err := conversation.NewStore(id.UserID, deps.Store, fetcher, clk, deps.Settings.Conversation, logger)
	if err != nil {
		return nil, err
	}
	manager := realtime.NewManager(id.UserID, deps.Feed, aggregator, conversations, fetcher, logger)

	c := &Controller{
		identity:      id,
		profiles:      fetcher,
		notifications: aggregator,
		conversations: conversations,
		realtime:      manager,
		broadcaster:   NewBroadcaster(logger),
		logger:        logger.Named("SessionController"),
	}
	aggregator.OnChange(func(s notification.Snapshot) {
		c.broadcaster.Publish(Envelope{Type: EnvelopeNotifications, Data: s})
	})
	conversations.OnChange(func(u conversation.Update) {
		c.broadcaster.Publish(Envelope{Type: EnvelopeConversation, Data: u})
	})
	manager.OnChange(func(s realtime.State) {
		c.broadcaster.Publish(Envelope{Type: EnvelopeRealtime, Data: s})
	})
	return c, nil
}

// Start loads the notification feed and opens the realtime subscription. A failed
// subscription is reported through the realtime status rather than as an error.
func (c *Controller) Start(ctx context.Context) {
	c.notifications.Fetch(ctx)
	if err := c.realtime.Start(ctx); err != nil {
		c.logger.Warn("Realtime subscription unavailable at sign-in", zap.Error(err))
	}
}

// Close tears down the subscription and drops all cached session state.
func (c *Controller) Close() {
	c.realtime.Stop()
	c.conversations.Close()
	c.notifications.Clear()
	c.broadcaster.Close()
	c.logger.Info("Session closed")
}

func (c *Controller) Identity() Identity                      { return c.identity }
func (c *Controller) Profiles() *profile.Fetcher              { return c.profiles }
func (c *Controller) Notifications() *notification.Aggregator { return c.notifications }
func (c *Controller) Conversations() *conversation.Store      { return c.conversations }
func (c *Controller) Realtime() *realtime.Manager             { return c.realtime }
func (c *Controller) Broadcaster() *Broadcaster               { return c.broadcaster }

// View is the session summary returned to clients.
type View struct {
	UserID        string                `json:"user_id"`
	Email         string                `json:"email,omitempty"`
	Notifications notification.Snapshot `json:"notifications"`
	Realtime      realtime.State        `json:"realtime"`
}

// View summarizes the session.
func (c *Controller) View() View {
	return View{
		UserID:        c.identity.UserID,
		Email:         c.identity.Email,
		Notifications: c.notifications.Snapshot(),
		Realtime:      c.realtime.State(),
	}
}

// initialEnvelopes is what a newly attached WebSocket client receives first.
func (c *Controller) initialEnvelopes() []Envelope {
	return []Envelope{
		{Type: EnvelopeNotifications, Data: c.notifications.Snapshot()},
		{Type: EnvelopeRealtime, Data: c.realtime.State()},
	}
}
