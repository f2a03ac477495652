package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"matrimony_sync_backend/internal/gateway"
	"matrimony_sync_backend/internal/profile"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	me      = "user-me"
	partner = "user-partner"
)

type fakeGateway struct {
	mu       sync.Mutex
	messages []gateway.Message
	reads    int
	writes   []gateway.Filter
	readErr  error
	onInsert func(rec *gateway.Message) error
	onUpdate func(f gateway.Filter) error
}

func (g *fakeGateway) Read(_ context.Context, c gateway.Collection, _ gateway.Filter, _ gateway.QueryOptions, dest interface{}) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reads++
	if g.readErr != nil {
		return g.readErr
	}
	if c == gateway.Messages {
		// newest first, as the store requests
		rows := make([]gateway.Message, 0, len(g.messages))
		for i := len(g.messages) - 1; i >= 0; i-- {
			rows = append(rows, g.messages[i])
		}
		*(dest.(*[]gateway.Message)) = rows
	}
	return nil
}

func (g *fakeGateway) Write(_ context.Context, _ gateway.Collection, op gateway.WriteOp, payload interface{}, f gateway.Filter) error {
	switch op {
	case gateway.OpInsert:
		rec := payload.(*gateway.Message)
		if g.onInsert != nil {
			return g.onInsert(rec)
		}
		rec.EnsureID()
		return nil
	case gateway.OpUpdate:
		g.mu.Lock()
		g.writes = append(g.writes, f)
		g.mu.Unlock()
		if g.onUpdate != nil {
			return g.onUpdate(f)
		}
	}
	return nil
}

func (g *fakeGateway) readCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reads
}

func (g *fakeGateway) updateCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.writes)
}

type staticProfiles map[string]profile.Summary

func (p staticProfiles) GetMany(_ context.Context, ids []string) map[string]profile.Summary {
	out := map[string]profile.Summary{}
	for _, id := range ids {
		if s, ok := p[id]; ok {
			out[id] = s
		}
	}
	return out
}

func setupStore(t *testing.T, gw *fakeGateway) (*Store, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	store, err := NewStore(me, gw, staticProfiles{partner: {ID: partner, Name: "Priya"}}, clk, Config{}, zap.NewNop())
	require.NoError(t, err)
	return store, clk
}

func TestStore_Fetch_FreshnessBoundary(t *testing.T) {
	gw := &fakeGateway{messages: []gateway.Message{
		{ID: "m1", SenderID: partner, ReceiverID: me, Content: "hi", Read: true},
		{ID: "m2", SenderID: me, ReceiverID: partner, Content: "hello", Read: true},
	}}
	store, clk := setupStore(t, gw)
	ctx := context.Background()

	first, err := store.Fetch(ctx, partner)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "m1", first[0].ID, "messages are oldest first")
	assert.Equal(t, 1, gw.readCount())

	clk.Add(29 * time.Second)
	second, err := store.Fetch(ctx, partner)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, gw.readCount())

	clk.Add(2 * time.Second)
	_, err = store.Fetch(ctx, partner)
	require.NoError(t, err)
	assert.Equal(t, 2, gw.readCount())
}

func TestStore_Fetch_MarksIncomingRead(t *testing.T) {
	gw := &fakeGateway{messages: []gateway.Message{
		{ID: "m1", SenderID: partner, ReceiverID: me, Content: "hi"},
	}}
	store, _ := setupStore(t, gw)

	_, err := store.Fetch(context.Background(), partner)
	require.NoError(t, err)
	assert.Equal(t, 1, gw.updateCount())

	entry, ok := store.Cached(partner)
	require.True(t, ok)
	assert.True(t, entry.Messages[0].Read)
}

func TestStore_Fetch_Error(t *testing.T) {
	gw := &fakeGateway{readErr: gateway.E("read", gateway.KindNetwork, errors.New("offline"))}
	store, _ := setupStore(t, gw)

	_, err := store.Fetch(context.Background(), partner)
	require.Error(t, err)
	assert.True(t, gateway.IsKind(err, gateway.KindNetwork))
	_, cached := store.Cached(partner)
	assert.False(t, cached)
}

func TestStore_Send_OptimisticRoundTrip(t *testing.T) {
	release := make(chan struct{})
	serverTime := time.Date(2024, 5, 1, 12, 0, 5, 0, time.UTC)
	gw := &fakeGateway{onInsert: func(rec *gateway.Message) error {
		<-release
		rec.ID = "m1"
		rec.CreatedAt = serverTime
		return nil
	}}
	store, _ := setupStore(t, gw)
	ctx := context.Background()
	_, err := store.Open(ctx, partner)
	require.NoError(t, err)

	type result struct {
		msg gateway.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := store.Send(ctx, partner, "hello")
		done <- result{msg, err}
	}()

	require.Eventually(t, func() bool {
		_, view := store.View()
		return len(view) == 1
	}, time.Second, time.Millisecond)
	_, view := store.View()
	assert.True(t, IsTemporary(view[0].ID))
	assert.Equal(t, "hello", view[0].Content)
	assert.False(t, view[0].Read)

	_, err = store.Send(ctx, partner, "again")
	assert.ErrorIs(t, err, ErrSendInFlight)

	close(release)
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "m1", res.msg.ID)

	_, view = store.View()
	require.Len(t, view, 1)
	assert.Equal(t, "m1", view[0].ID)
	assert.Equal(t, serverTime, view[0].CreatedAt)

	entry, ok := store.Cached(partner)
	require.True(t, ok)
	require.Len(t, entry.Messages, 1)
	assert.Equal(t, "m1", entry.Messages[0].ID)

	list := store.Conversations()
	require.Len(t, list, 1)
	assert.Equal(t, partner, list[0].ConversationID)
	assert.Equal(t, "m1", list[0].LastMessage.ID)
}

func TestStore_Fetch_KeepsPendingSend(t *testing.T) {
	release := make(chan struct{})
	gw := &fakeGateway{
		messages: []gateway.Message{{ID: "m0", SenderID: partner, ReceiverID: me, Content: "hi", CreatedAt: time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)}},
		onInsert: func(rec *gateway.Message) error {
			<-release
			rec.ID = "m1"
			return nil
		},
	}
	store, clk := setupStore(t, gw)
	ctx := context.Background()
	_, err := store.Open(ctx, partner)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := store.Send(ctx, partner, "hello")
		done <- err
	}()
	require.Eventually(t, func() bool {
		_, view := store.View()
		return len(view) == 2
	}, time.Second, time.Millisecond)

	clk.Add(DefaultFreshFor + time.Second)
	msgs, err := store.Fetch(ctx, partner)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m0", msgs[0].ID)
	assert.True(t, IsTemporary(msgs[1].ID))
	_, view := store.View()
	require.Len(t, view, 2)
	assert.True(t, IsTemporary(view[1].ID))

	close(release)
	require.NoError(t, <-done)

	_, view = store.View()
	require.Len(t, view, 2)
	assert.Equal(t, "m0", view[0].ID)
	assert.Equal(t, "m1", view[1].ID)
	entry, ok := store.Cached(partner)
	require.True(t, ok)
	require.Len(t, entry.Messages, 2)
	assert.Equal(t, "m1", entry.Messages[1].ID)
}

func TestStore_Send_RollbackOnFailure(t *testing.T) {
	gw := &fakeGateway{onInsert: func(*gateway.Message) error {
		return gateway.E("insert", gateway.KindServer, errors.New("rejected"))
	}}
	store, _ := setupStore(t, gw)
	ctx := context.Background()
	_, err := store.Open(ctx, partner)
	require.NoError(t, err)
	store.SetDraft(partner, "hello")

	_, err = store.Send(ctx, partner, "hello")
	require.Error(t, err)
	assert.Equal(t, gateway.KindServer, gateway.KindOf(err))

	_, view := store.View()
	for _, m := range view {
		assert.NotEqual(t, "hello", m.Content)
	}
	assert.Equal(t, "hello", store.Draft(partner))
	entry, _ := store.Cached(partner)
	assert.Empty(t, entry.Messages)
	assert.Empty(t, store.Conversations())
}

func TestStore_Send_RejectsNoOps(t *testing.T) {
	store, _ := setupStore(t, &fakeGateway{})
	ctx := context.Background()

	_, err := store.Send(ctx, partner, "   \n\t")
	assert.ErrorIs(t, err, ErrEmptyContent)
	_, err = store.Send(ctx, "", "hello")
	assert.ErrorIs(t, err, ErrNoConversation)
}

func TestStore_Send_EchoBeforeConfirmation(t *testing.T) {
	release := make(chan struct{})
	gw := &fakeGateway{onInsert: func(rec *gateway.Message) error {
		<-release
		rec.ID = "m1"
		return nil
	}}
	store, _ := setupStore(t, gw)
	ctx := context.Background()
	_, err := store.Open(ctx, partner)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := store.Send(ctx, partner, "hello")
		done <- err
	}()
	require.Eventually(t, func() bool {
		_, view := store.View()
		return len(view) == 1
	}, time.Second, time.Millisecond)

	assert.True(t, store.Receive(ctx, gateway.Message{ID: "m1", SenderID: me, ReceiverID: partner, Content: "hello"}))
	close(release)
	require.NoError(t, <-done)

	_, view := store.View()
	require.Len(t, view, 1)
	assert.Equal(t, "m1", view[0].ID)
}

func TestStore_Receive_DedupesAndMarksOpenConversationRead(t *testing.T) {
	gw := &fakeGateway{}
	store, _ := setupStore(t, gw)
	ctx := context.Background()
	_, err := store.Open(ctx, partner)
	require.NoError(t, err)

	msg := gateway.Message{ID: "m9", SenderID: partner, ReceiverID: me, Content: "hey"}
	assert.True(t, store.Receive(ctx, msg))
	assert.False(t, store.Receive(ctx, msg))

	_, view := store.View()
	require.Len(t, view, 1)
	assert.True(t, view[0].Read)
	assert.Equal(t, 1, gw.updateCount())
}

func TestStore_Receive_ClosedConversationStaysUnread(t *testing.T) {
	gw := &fakeGateway{}
	store, _ := setupStore(t, gw)
	ctx := context.Background()

	assert.True(t, store.Receive(ctx, gateway.Message{ID: "m1", SenderID: partner, ReceiverID: me, Content: "hey"}))
	assert.False(t, store.Receive(ctx, gateway.Message{ID: "x", SenderID: "a", ReceiverID: "b"}))

	_, view := store.View()
	assert.Empty(t, view)
	assert.Equal(t, 0, gw.updateCount())
	list := store.Conversations()
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].UnreadCount)
}

func TestStore_ApplyUpdate(t *testing.T) {
	gw := &fakeGateway{messages: []gateway.Message{{ID: "m1", SenderID: me, ReceiverID: partner, Content: "hi"}}}
	store, _ := setupStore(t, gw)
	ctx := context.Background()
	_, err := store.Open(ctx, partner)
	require.NoError(t, err)

	assert.True(t, store.ApplyUpdate(gateway.Message{ID: "m1", SenderID: me, ReceiverID: partner, Content: "hi", Read: true}))
	_, view := store.View()
	assert.True(t, view[0].Read)
	assert.False(t, store.ApplyUpdate(gateway.Message{ID: "unknown", SenderID: me, ReceiverID: partner}))
}

func TestStore_FetchConversations(t *testing.T) {
	gw := &fakeGateway{messages: []gateway.Message{
		{ID: "1", SenderID: "other", ReceiverID: me, Content: "old", CreatedAt: time.Unix(1, 0)},
		{ID: "2", SenderID: partner, ReceiverID: me, Content: "unread", CreatedAt: time.Unix(2, 0)},
		{ID: "3", SenderID: me, ReceiverID: partner, Content: "reply", CreatedAt: time.Unix(3, 0)},
	}}
	store, _ := setupStore(t, gw)

	list, err := store.FetchConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, partner, list[0].ConversationID)
	assert.Equal(t, "Priya", list[0].Partner.Name)
	assert.Equal(t, "3", list[0].LastMessage.ID)
	assert.Equal(t, 1, list[0].UnreadCount)
	assert.Equal(t, profile.AnonymousName, list[1].Partner.Name)
	assert.Equal(t, list, store.Conversations())
}

func TestStore_OnChange(t *testing.T) {
	store, _ := setupStore(t, &fakeGateway{})
	var updates []Update
	store.OnChange(func(u Update) { updates = append(updates, u) })

	_, err := store.Send(context.Background(), partner, "hi")
	require.NoError(t, err)
	require.Len(t, updates, 2)
	assert.True(t, IsTemporary(updates[0].Messages[0].ID))
	assert.False(t, IsTemporary(updates[1].Messages[0].ID))
}
