package realtime

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"matrimony_sync_backend/internal/gateway"
	"matrimony_sync_backend/internal/notification"
	"matrimony_sync_backend/internal/profile"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ConnectionStatus is the coarse state of the realtime subscription.
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusError        ConnectionStatus = "error"
)

// ConnectionErrorMessage is stored while the subscription is in the error state.
const ConnectionErrorMessage = "Connection issue: realtime updates are unavailable. Retry to reconnect."

const eventTimeout = 10 * time.Second

// State is a snapshot of the manager.
type State struct {
	Status  ConnectionStatus `json:"status"`
	Error   string           `json:"error,omitempty"`
	Enabled bool             `json:"enabled"`
	Channel string           `json:"channel,omitempty"`
}

// NotificationSink receives notifications built from change events.
type NotificationSink interface {
	Add(n notification.Notification) bool
	MarkReadLocal(id string) bool
}

// MessageSink receives message rows from change events.
type MessageSink interface {
	Receive(ctx context.Context, msg gateway.Message) bool
	ApplyUpdate(msg gateway.Message) bool
}

// ProfileResolver enriches event actors.
type ProfileResolver interface {
	Get(ctx context.Context, id string) (profile.Summary, bool)
}

// Manager owns the single change-feed subscription of a signed-in user.
//
// Status only changes in response to lifecycle reports from the feed. Each
// subscription is tagged with a generation; reports from a subscription that has
// since been torn down are ignored. There is no automatic reconnect.
type Manager struct {
	userID        string
	feed          gateway.Feed
	notifications NotificationSink
	messages      MessageSink
	profiles      ProfileResolver
	logger        *zap.Logger

	mu         sync.Mutex
	status     ConnectionStatus
	errMsg     string
	enabled    bool
	generation uint64
	closedGen  uint64
	sub        gateway.Subscription
	channel    string
	listeners  []func(State)
}

// NewManager creates a disconnected, enabled manager.
func NewManager(userID string, feed gateway.Feed, notifications NotificationSink, messages MessageSink, profiles ProfileResolver, logger *zap.Logger) *Manager {
	return &Manager{
		userID:        userID,
		feed:          feed,
		notifications: notifications,
		messages:      messages,
		profiles:      profiles,
		logger:        logger.Named("RealtimeManager").With(zap.String("user_id", userID)),
		status:        StatusDisconnected,
		enabled:       true,
	}
}

// Bindings lists the change events a user's subscription observes.
func Bindings(userID string) []gateway.Binding {
	insert := []gateway.EventType{gateway.EventInsert}
	return []gateway.Binding{
		{Collection: gateway.Messages, Events: insert, Column: "receiver_id", Value: userID},
		{Collection: gateway.Messages, Events: insert, Column: "sender_id", Value: userID},
		{Collection: gateway.Messages, Events: []gateway.EventType{gateway.EventUpdate}, Column: "receiver_id", Value: userID},
		{Collection: gateway.Matches, Events: insert, Column: "user2_id", Value: userID},
		{Collection: gateway.ProfileInteractions, Events: insert, Column: "receiver_id", Value: userID},
	}
}

// OnChange registers fn to receive a state snapshot after every transition.
func (m *Manager) OnChange(fn func(State)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// Start subscribes if realtime is enabled and no subscription exists. The status
// moves to connecting until the feed reports on the subscription.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if !m.enabled || m.sub != nil {
		m.mu.Unlock()
		return nil
	}
	m.generation++
	gen := m.generation
	m.channel = fmt.Sprintf("notifications:%s:%s", m.userID, uuid.NewString()[:8])
	channel := m.channel
	m.status = StatusConnecting
	m.errMsg = ""
	state := m.stateLocked()
	m.mu.Unlock()
	m.emit(state)

	sub, err := m.feed.Subscribe(ctx, channel, Bindings(m.userID), m.eventHandler(gen), m.statusHandler(gen))

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		if sub != nil {
			_ = sub.Unsubscribe()
		}
		return nil
	}
	if err != nil {
		m.status = StatusError
		m.errMsg = ConnectionErrorMessage
		state = m.stateLocked()
		m.mu.Unlock()
		m.logger.Warn("Subscribing to change feed failed", zap.String("channel", channel), zap.Error(err))
		m.emit(state)
		return fmt.Errorf("subscribing to %s: %w", channel, err)
	}
	if m.closedGen == gen {
		// CLOSED arrived before Subscribe returned; keeping sub would block the next Start.
		m.mu.Unlock()
		_ = sub.Unsubscribe()
		m.logger.Info("Realtime subscription closed during setup", zap.String("channel", channel))
		return nil
	}
	m.sub = sub
	m.mu.Unlock()
	m.logger.Info("Realtime subscription created", zap.String("channel", channel))
	return nil
}

// Stop tears down the subscription and resets the status to disconnected.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.generation++
	sub := m.sub
	m.sub = nil
	m.channel = ""
	m.status = StatusDisconnected
	m.errMsg = ""
	state := m.stateLocked()
	m.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			m.logger.Warn("Unsubscribing failed", zap.String("channel", sub.Channel()), zap.Error(err))
		}
	}
	m.emit(state)
}

// Reconnect replaces the subscription with a fresh one.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.Stop()
	return m.Start(ctx)
}

// SetEnabled toggles realtime updates. Disabling tears the subscription down;
// enabling creates a fresh one.
func (m *Manager) SetEnabled(ctx context.Context, enabled bool) error {
	m.mu.Lock()
	m.enabled = enabled
	m.mu.Unlock()
	if !enabled {
		m.Stop()
		return nil
	}
	return m.Start(ctx)
}

func (m *Manager) statusHandler(gen uint64) gateway.StatusHandler {
	return func(s gateway.SubscriptionStatus, err error) {
		m.mu.Lock()
		if gen != m.generation {
			m.mu.Unlock()
			return
		}
		switch s {
		case gateway.StatusSubscribed:
			m.status = StatusConnected
			m.errMsg = ""
		case gateway.StatusChannelError, gateway.StatusTimedOut:
			m.status = StatusError
			m.errMsg = ConnectionErrorMessage
		case gateway.StatusClosed:
			m.status = StatusDisconnected
			m.errMsg = ""
			m.sub = nil
			m.closedGen = gen
		default:
			m.mu.Unlock()
			return
		}
		state := m.stateLocked()
		m.mu.Unlock()

		if s == gateway.StatusChannelError || s == gateway.StatusTimedOut {
			m.logger.Warn("Realtime subscription failed", zap.String("status", string(s)), zap.Error(err))
		} else {
			m.logger.Info("Realtime subscription status", zap.String("status", string(s)))
		}
		m.emit(state)
	}
}

func (m *Manager) eventHandler(gen uint64) gateway.EventHandler {
	return func(ev gateway.ChangeEvent) {
		m.mu.Lock()
		stale := gen != m.generation
		m.mu.Unlock()
		if stale {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()
		if err := m.route(ctx, ev); err != nil {
			m.logger.Warn("Dropping change event", zap.String("collection", string(ev.Collection)), zap.String("type", string(ev.Type)), zap.Error(err))
		}
	}
}

func (m *Manager) route(ctx context.Context, ev gateway.ChangeEvent) error {
	switch ev.Collection {
	case gateway.Messages:
		var msg gateway.Message
		if err := ev.Decode(&msg); err != nil {
			return err
		}
		switch ev.Type {
		case gateway.EventInsert:
			if msg.ReceiverID == m.userID {
				sender, ok := m.profiles.Get(ctx, msg.SenderID)
				m.notifications.Add(notification.FromMessage(msg, sender, ok))
			}
			m.messages.Receive(ctx, msg)
		case gateway.EventUpdate:
			if msg.Read && msg.ReceiverID == m.userID {
				m.notifications.MarkReadLocal(msg.ID)
			}
			m.messages.ApplyUpdate(msg)
		}
	case gateway.Matches:
		var match gateway.Match
		if err := ev.Decode(&match); err != nil {
			return err
		}
		if ev.Type != gateway.EventInsert || match.User2ID != m.userID {
			return nil
		}
		other, ok := m.profiles.Get(ctx, match.User1ID)
		m.notifications.Add(notification.FromMatch(match, m.userID, other, ok, false))
	case gateway.ProfileInteractions:
		var in gateway.ProfileInteraction
		if err := ev.Decode(&in); err != nil {
			return err
		}
		if ev.Type != gateway.EventInsert || in.InteractionType != gateway.InteractionLike {
			return nil
		}
		sender, ok := m.profiles.Get(ctx, in.SenderID)
		if n, known := notification.FromInteraction(in, sender, ok, false); known {
			m.notifications.Add(n)
		}
	}
	return nil
}

func (m *Manager) stateLocked() State {
	return State{Status: m.status, Error: m.errMsg, Enabled: m.enabled, Channel: m.channel}
}

func (m *Manager) emit(state State) {
	m.mu.Lock()
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(state)
	}
}
