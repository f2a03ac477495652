package notification

import (
	"context"
	"slices"
	"sync"

	"matrimony_sync_backend/internal/gateway"
	"matrimony_sync_backend/internal/profile"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

// DefaultFetchLimit caps how many records each category contributes to a fetch.
const DefaultFetchLimit = 100

// ProfileResolver enriches actor ids with display summaries.
type ProfileResolver interface {
	GetMany(ctx context.Context, ids []string) map[string]profile.Summary
	Clear()
}

// Aggregator maintains one user's unified notification feed and unread counter.
//
// The unread counter is reconciled from the authoritative unread-message count on
// every Fetch. Between fetches it moves by the incremental deltas of Add and the
// mark-read operations, so any drift lasts at most one fetch cycle.
type Aggregator struct {
	userID     string
	store      gateway.Store
	profiles   ProfileResolver
	fetchLimit int
	logger     *zap.Logger

	mu        sync.Mutex
	items     []Notification
	unread    int
	listeners []func(Snapshot)
	// addSeq numbers every Add; addedAt maps entry ids to the Add that inserted them.
	addSeq  uint64
	addedAt map[string]uint64
}

// NewAggregator creates an empty feed for userID.
func NewAggregator(userID string, store gateway.Store, profiles ProfileResolver, fetchLimit int, logger *zap.Logger) *Aggregator {
	if fetchLimit <= 0 {
		fetchLimit = DefaultFetchLimit
	}
	return &Aggregator{
		userID:     userID,
		store:      store,
		profiles:   profiles,
		fetchLimit: fetchLimit,
		logger:     logger.Named("NotificationAggregator").With(zap.String("user_id", userID)),
		addedAt:    make(map[string]uint64),
	}
}

// OnChange registers fn to receive a snapshot after every mutation.
func (a *Aggregator) OnChange(fn func(Snapshot)) {
	a.mu.Lock()
	a.listeners = append(a.listeners, fn)
	a.mu.Unlock()
}

// Fetch rebuilds the feed from the four notification categories. A category whose
// read fails contributes nothing; the rest of the feed is still produced. Entries
// added while the fetch was in flight and missing from its result are kept.
func (a *Aggregator) Fetch(ctx context.Context) Snapshot {
	a.mu.Lock()
	startSeq := a.addSeq
	a.mu.Unlock()

	var (
		likes, views []gateway.ProfileInteraction
		messages     []gateway.Message
		matches      []gateway.Match
	)
	recent := gateway.QueryOptions{Order: []gateway.Order{{Column: "created_at", Desc: true}}, Limit: a.fetchLimit}

	var wg conc.WaitGroup
	wg.Go(func() {
		likes = a.readInteractions(ctx, gateway.InteractionLike, recent)
	})
	wg.Go(func() {
		if err := a.store.Read(ctx, gateway.Messages, gateway.Where(gateway.Eq("receiver_id", a.userID)), recent, &messages); err != nil {
			a.logger.Warn("Fetching messages failed", zap.String("kind", string(gateway.KindOf(err))), zap.Error(err))
			messages = nil
		}
	})
	wg.Go(func() {
		views = a.readInteractions(ctx, gateway.InteractionView, recent)
	})
	wg.Go(func() {
		filter := gateway.Filter{}.Or(gateway.Eq("user1_id", a.userID)).Or(gateway.Eq("user2_id", a.userID))
		if err := a.store.Read(ctx, gateway.Matches, filter, recent, &matches); err != nil {
			a.logger.Warn("Fetching matches failed", zap.String("kind", string(gateway.KindOf(err))), zap.Error(err))
			matches = nil
		}
	})
	wg.Wait()

	actorIDs := make([]string, 0, len(likes)+len(views)+len(messages)+len(matches))
	for _, in := range likes {
		actorIDs = append(actorIDs, in.SenderID)
	}
	for _, in := range views {
		actorIDs = append(actorIDs, in.SenderID)
	}
	for _, m := range messages {
		actorIDs = append(actorIDs, m.SenderID)
	}
	for _, m := range matches {
		actorIDs = append(actorIDs, m.OtherParty(a.userID))
	}
	actors := a.profiles.GetMany(ctx, actorIDs)

	feed := make([]Notification, 0, cap(actorIDs))
	unread := 0
	for _, in := range append(likes, views...) {
		s, ok := actors[in.SenderID]
		if n, known := FromInteraction(in, s, ok, true); known {
			feed = append(feed, n)
		}
	}
	for _, m := range messages {
		s, ok := actors[m.SenderID]
		feed = append(feed, FromMessage(m, s, ok))
		if !m.Read {
			unread++
		}
	}
	for _, m := range matches {
		s, ok := actors[m.OtherParty(a.userID)]
		feed = append(feed, FromMatch(m, a.userID, s, ok, true))
	}
	feed = dedupe(feed)

	a.mu.Lock()
	kept := 0
	fetched := make(map[string]struct{}, len(feed))
	for _, n := range feed {
		fetched[n.ID] = struct{}{}
	}
	for _, n := range a.items {
		if _, ok := fetched[n.ID]; ok || a.addedAt[n.ID] <= startSeq {
			continue
		}
		feed = append(feed, n)
		kept++
		if !n.Read {
			unread++
		}
	}
	for id, seq := range a.addedAt {
		if seq <= startSeq {
			delete(a.addedAt, id)
		}
	}
	slices.SortStableFunc(feed, func(x, y Notification) int {
		return y.CreatedAt.Compare(x.CreatedAt)
	})
	a.items = feed
	a.unread = unread
	snap := a.snapshotLocked()
	a.mu.Unlock()

	a.logger.Debug("Notifications fetched",
		zap.Int("likes", len(likes)), zap.Int("messages", len(messages)),
		zap.Int("views", len(views)), zap.Int("matches", len(matches)),
		zap.Int("kept_live", kept), zap.Int("unread", unread))
	a.emit(snap)
	return snap
}

func (a *Aggregator) readInteractions(ctx context.Context, kind gateway.InteractionType, opts gateway.QueryOptions) []gateway.ProfileInteraction {
	var rows []gateway.ProfileInteraction
	filter := gateway.Where(gateway.Eq("receiver_id", a.userID), gateway.Eq("interaction_type", string(kind)))
	if err := a.store.Read(ctx, gateway.ProfileInteractions, filter, opts, &rows); err != nil {
		a.logger.Warn("Fetching interactions failed", zap.String("interaction_type", string(kind)), zap.String("kind", string(gateway.KindOf(err))), zap.Error(err))
		return nil
	}
	return rows
}

// Add inserts n at the head of the feed unless an entry with the same id exists.
// The feed is trimmed to FeedCap, dropping the oldest entries. It reports whether
// n was inserted.
func (a *Aggregator) Add(n Notification) bool {
	a.mu.Lock()
	for _, existing := range a.items {
		if existing.ID == n.ID {
			a.mu.Unlock()
			return false
		}
	}
	items := make([]Notification, 0, min(len(a.items)+1, FeedCap))
	items = append(items, n)
	items = append(items, a.items...)
	if len(items) > FeedCap {
		items = items[:FeedCap]
	}
	a.items = items
	a.addSeq++
	a.addedAt[n.ID] = a.addSeq
	if !n.Read {
		a.unread++
	}
	snap := a.snapshotLocked()
	a.mu.Unlock()

	a.emit(snap)
	return true
}

// MarkAsRead marks one notification read. The counter only moves when the entry
// was unread. For message notifications the read flag is also written to the
// server; a failed write is logged and the local change is kept.
func (a *Aggregator) MarkAsRead(ctx context.Context, id string) bool {
	a.mu.Lock()
	idx := a.indexLocked(id)
	if idx < 0 || a.items[idx].Read {
		a.mu.Unlock()
		return false
	}
	a.items[idx].Read = true
	if a.unread > 0 {
		a.unread--
	}
	isMessage := a.items[idx].Type == TypeMessage
	snap := a.snapshotLocked()
	a.mu.Unlock()

	a.emit(snap)
	if isMessage {
		err := a.store.Write(ctx, gateway.Messages, gateway.OpUpdate, map[string]interface{}{"read": true},
			gateway.Where(gateway.Eq("id", id), gateway.Eq("receiver_id", a.userID)))
		if err != nil {
			a.logger.Warn("Marking message read on server failed", zap.String("message_id", id), zap.Error(err))
		}
	}
	return true
}

// MarkAllAsRead marks every entry read and resets the counter. Unread message
// notifications are written to the server in one batch.
func (a *Aggregator) MarkAllAsRead(ctx context.Context) {
	a.mu.Lock()
	var messageIDs []string
	for i := range a.items {
		if !a.items[i].Read && a.items[i].Type == TypeMessage {
			messageIDs = append(messageIDs, a.items[i].ID)
		}
		a.items[i].Read = true
	}
	a.unread = 0
	snap := a.snapshotLocked()
	a.mu.Unlock()

	a.emit(snap)
	if len(messageIDs) == 0 {
		return
	}
	err := a.store.Write(ctx, gateway.Messages, gateway.OpUpdate, map[string]interface{}{"read": true},
		gateway.Where(gateway.In("id", messageIDs...), gateway.Eq("receiver_id", a.userID)))
	if err != nil {
		a.logger.Warn("Marking messages read on server failed", zap.Int("count", len(messageIDs)), zap.Error(err))
	}
}

// MarkReadLocal applies a read flag reported by the server without writing back.
func (a *Aggregator) MarkReadLocal(id string) bool {
	a.mu.Lock()
	idx := a.indexLocked(id)
	if idx < 0 || a.items[idx].Read {
		a.mu.Unlock()
		return false
	}
	a.items[idx].Read = true
	if a.unread > 0 {
		a.unread--
	}
	snap := a.snapshotLocked()
	a.mu.Unlock()

	a.emit(snap)
	return true
}

// Clear empties the feed and the profile cache.
func (a *Aggregator) Clear() {
	a.mu.Lock()
	a.items = nil
	a.unread = 0
	clear(a.addedAt)
	snap := a.snapshotLocked()
	a.mu.Unlock()

	a.profiles.Clear()
	a.emit(snap)
}

// Snapshot returns a copy of the current feed.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// UnreadCount returns the current unread counter.
func (a *Aggregator) UnreadCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unread
}

func (a *Aggregator) indexLocked(id string) int {
	for i := range a.items {
		if a.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (a *Aggregator) snapshotLocked() Snapshot {
	return Snapshot{Notifications: append([]Notification{}, a.items...), UnreadCount: a.unread}
}

func (a *Aggregator) emit(snap Snapshot) {
	a.mu.Lock()
	listeners := slices.Clone(a.listeners)
	a.mu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

func dedupe(feed []Notification) []Notification {
	seen := make(map[string]struct{}, len(feed))
	out := feed[:0]
	for _, n := range feed {
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		out = append(out, n)
	}
	return out
}
