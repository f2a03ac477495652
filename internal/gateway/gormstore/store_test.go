package gormstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"matrimony_sync_backend/internal/gateway"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []gateway.ChangeEvent
}

func (p *recordingPublisher) Publish(ev gateway.ChangeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) all() []gateway.ChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]gateway.ChangeEvent(nil), p.events...)
}

func setupStore(t *testing.T) (*Store, *recordingPublisher) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gateway.AllModels()...))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	pub := &recordingPublisher{}
	return New(db, pub, zap.NewNop()), pub
}

func TestStore_InsertAndRead(t *testing.T) {
	store, pub := setupStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, content := range []string{"first", "second", "third"} {
		msg := &gateway.Message{SenderID: "alice", ReceiverID: "bob", Content: content, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, store.Write(ctx, gateway.Messages, gateway.OpInsert, msg, gateway.Filter{}))
		assert.NotEmpty(t, msg.ID)
	}
	assert.Len(t, pub.all(), 3)

	var got []gateway.Message
	err := store.Read(ctx, gateway.Messages,
		gateway.Where(gateway.Eq("receiver_id", "bob")),
		gateway.QueryOptions{Order: []gateway.Order{{Column: "created_at", Desc: true}}, Limit: 2},
		&got)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "third", got[0].Content)
	assert.Equal(t, "second", got[1].Content)
}

func TestStore_Read_OrGroups(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	for _, m := range []*gateway.Message{
		{SenderID: "alice", ReceiverID: "bob", Content: "a->b"},
		{SenderID: "bob", ReceiverID: "alice", Content: "b->a"},
		{SenderID: "carol", ReceiverID: "bob", Content: "c->b"},
	} {
		require.NoError(t, store.Write(ctx, gateway.Messages, gateway.OpInsert, m, gateway.Filter{}))
	}

	var got []gateway.Message
	filter := gateway.Filter{}.
		Or(gateway.Eq("sender_id", "alice"), gateway.Eq("receiver_id", "bob")).
		Or(gateway.Eq("sender_id", "bob"), gateway.Eq("receiver_id", "alice"))
	require.NoError(t, store.Read(ctx, gateway.Messages, filter, gateway.QueryOptions{}, &got))
	assert.Len(t, got, 2)

	var profiles []gateway.Profile
	require.NoError(t, store.Write(ctx, gateway.Profiles, gateway.OpUpsert, &gateway.Profile{ID: "alice", Name: "Alice"}, gateway.Filter{}))
	require.NoError(t, store.Write(ctx, gateway.Profiles, gateway.OpUpsert, &gateway.Profile{ID: "bob", Name: "Bob"}, gateway.Filter{}))
	require.NoError(t, store.Read(ctx, gateway.Profiles, gateway.Where(gateway.In("id", "alice", "zed")), gateway.QueryOptions{}, &profiles))
	require.Len(t, profiles, 1)
	assert.Equal(t, "Alice", profiles[0].Name)
}

func TestStore_Upsert_UpdatesExisting(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, gateway.Profiles, gateway.OpUpsert, &gateway.Profile{ID: "p1", Name: "Old"}, gateway.Filter{}))
	require.NoError(t, store.Write(ctx, gateway.Profiles, gateway.OpUpsert, &gateway.Profile{ID: "p1", Name: "New"}, gateway.Filter{}))

	var got []gateway.Profile
	require.NoError(t, store.Read(ctx, gateway.Profiles, gateway.Where(gateway.Eq("id", "p1")), gateway.QueryOptions{}, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "New", got[0].Name)
}

func TestStore_Update_PublishesChangedRows(t *testing.T) {
	store, pub := setupStore(t)
	ctx := context.Background()
	msg := &gateway.Message{SenderID: "alice", ReceiverID: "bob", Content: "hi"}
	require.NoError(t, store.Write(ctx, gateway.Messages, gateway.OpInsert, msg, gateway.Filter{}))

	err := store.Write(ctx, gateway.Messages, gateway.OpUpdate, map[string]interface{}{"read": true}, gateway.Where(gateway.Eq("id", msg.ID)))
	require.NoError(t, err)

	events := pub.all()
	require.Len(t, events, 2)
	assert.Equal(t, gateway.EventUpdate, events[1].Type)
	var updated gateway.Message
	require.NoError(t, events[1].Decode(&updated))
	assert.True(t, updated.Read)
	assert.Equal(t, msg.ID, updated.ID)
}

func TestStore_Update_RejectsMissingFilter(t *testing.T) {
	store, _ := setupStore(t)
	err := store.Write(context.Background(), gateway.Messages, gateway.OpUpdate, map[string]interface{}{"read": true}, gateway.Filter{})
	require.Error(t, err)
	assert.Equal(t, gateway.KindValidation, gateway.KindOf(err))
}

func TestStore_Read_RejectsUnknownColumn(t *testing.T) {
	store, _ := setupStore(t)
	var got []gateway.Message
	err := store.Read(context.Background(), gateway.Messages, gateway.Where(gateway.Eq("1=1; drop table messages", "x")), gateway.QueryOptions{}, &got)
	require.Error(t, err)
	assert.Equal(t, gateway.KindValidation, gateway.KindOf(err))
}

func TestStore_Delete(t *testing.T) {
	store, pub := setupStore(t)
	ctx := context.Background()
	m := &gateway.Match{User1ID: "alice", User2ID: "bob"}
	require.NoError(t, store.Write(ctx, gateway.Matches, gateway.OpInsert, m, gateway.Filter{}))

	require.NoError(t, store.Write(ctx, gateway.Matches, gateway.OpDelete, nil, gateway.Where(gateway.Eq("id", m.ID))))

	var got []gateway.Match
	require.NoError(t, store.Read(ctx, gateway.Matches, gateway.Filter{}, gateway.QueryOptions{}, &got))
	assert.Empty(t, got)

	events := pub.all()
	require.Len(t, events, 2)
	assert.Equal(t, gateway.EventDelete, events[1].Type)
	assert.NotEmpty(t, events[1].OldRecord)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify("op", nil))
	assert.Equal(t, gateway.KindNotFound, gateway.KindOf(Classify("op", gorm.ErrRecordNotFound)))
	assert.Equal(t, gateway.KindNetwork, gateway.KindOf(Classify("op", context.DeadlineExceeded)))
	assert.Equal(t, gateway.KindNetwork, gateway.KindOf(Classify("op", fmt.Errorf("dial: %w", timeoutErr{}))))
	assert.Equal(t, gateway.KindValidation, gateway.KindOf(Classify("op", gorm.ErrDuplicatedKey)))
	assert.Equal(t, gateway.KindServer, gateway.KindOf(Classify("op", errors.New("boom"))))

	wrapped := gateway.E("inner", gateway.KindAuth, errors.New("denied"))
	assert.Same(t, wrapped, Classify("outer", wrapped))
}

func TestKindForSQLState(t *testing.T) {
	assert.Equal(t, gateway.KindNetwork, KindForSQLState("08006"))
	assert.Equal(t, gateway.KindAuth, KindForSQLState("28P01"))
	assert.Equal(t, gateway.KindAuth, KindForSQLState("42501"))
	assert.Equal(t, gateway.KindValidation, KindForSQLState("23505"))
	assert.Equal(t, gateway.KindServer, KindForSQLState("XX000"))
}
