package session

import (
	"context"
	"fmt"
	"sync"

	"matrimony_sync_backend/internal/common"
	"matrimony_sync_backend/internal/conversation"
	"matrimony_sync_backend/internal/gateway"
	"matrimony_sync_backend/internal/notification"
	"matrimony_sync_backend/internal/realtime"

	"go.uber.org/zap"
)

// Registry holds the live session of every signed-in user.
type Registry struct {
	deps   Deps
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Controller
}

func NewRegistry(deps Deps, logger *zap.Logger) *Registry {
	return &Registry{deps: deps, logger: logger.Named("SessionRegistry"), sessions: make(map[string]*Controller)}
}

// SignIn records the caller's profile and returns their session, creating and
// starting it on first sign-in. Signing in again returns the existing session.
func (r *Registry) SignIn(ctx context.Context, id Identity) (*Controller, error) {
	if id.UserID == "" {
		return nil, common.ErrUnauthorized.WithDetails("User ID not found in token.")
	}
	if existing, ok := r.Get(id.UserID); ok {
		return existing, nil
	}

	if err := r.upsertProfile(ctx, id); err != nil {
		return nil, err
	}

	c, err := NewController(id, r.deps, r.logger)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	c.Start(ctx)

	r.mu.Lock()
	if existing, ok := r.sessions[id.UserID]; ok {
		r.mu.Unlock()
		c.Close()
		return existing, nil
	}
	r.sessions[id.UserID] = c
	r.mu.Unlock()

	r.logger.Info("Session started", zap.String("user_id", id.UserID))
	return c, nil
}

// upsertProfile writes display claims to the profiles collection. Tokens without
// a name or picture leave an existing profile untouched.
func (r *Registry) upsertProfile(ctx context.Context, id Identity) error {
	if id.Name == "" && id.Picture == "" {
		return nil
	}
	p := &gateway.Profile{ID: id.UserID, Name: id.Name}
	if id.Picture != "" {
		picture := id.Picture
		p.ImageURL = &picture
	}
	if err := r.deps.Store.Write(ctx, gateway.Profiles, gateway.OpUpsert, p, gateway.Filter{}); err != nil {
		r.logger.Error("Upserting profile failed", zap.String("user_id", id.UserID), zap.Error(err))
		return err
	}
	return nil
}

// SignOut closes and forgets the user's session. It reports whether one existed.
func (r *Registry) SignOut(userID string) bool {
	r.mu.Lock()
	c, ok := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()
	if ok {
		c.Close()
	}
	return ok
}

// Get returns the user's live session.
func (r *Registry) Get(userID string) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.sessions[userID]
	return c, ok
}

// ForEach calls fn for a snapshot of the live sessions.
func (r *Registry) ForEach(fn func(*Controller)) {
	r.mu.RLock()
	sessions := make([]*Controller, 0, len(r.sessions))
	for _, c := range r.sessions {
		sessions = append(sessions, c)
	}
	r.mu.RUnlock()
	for _, c := range sessions {
		fn(c)
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close ends every session.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Controller)
	r.mu.Unlock()
	for _, c := range sessions {
		c.Close()
	}
}

func (r *Registry) lookup(userID string) (*Controller, error) {
	c, ok := r.Get(userID)
	if !ok {
		return nil, common.ErrNoSession
	}
	return c, nil
}

// Notifications implements notification.FeedLocator.
func (r *Registry) Notifications(userID string) (*notification.Aggregator, error) {
	c, err := r.lookup(userID)
	if err != nil {
		return nil, err
	}
	return c.Notifications(), nil
}

// Conversations implements conversation.StoreLocator.
func (r *Registry) Conversations(userID string) (*conversation.Store, error) {
	c, err := r.lookup(userID)
	if err != nil {
		return nil, err
	}
	return c.Conversations(), nil
}

// Realtime implements realtime.ManagerLocator.
func (r *Registry) Realtime(userID string) (*realtime.Manager, error) {
	c, err := r.lookup(userID)
	if err != nil {
		return nil, err
	}
	return c.Realtime(), nil
}
