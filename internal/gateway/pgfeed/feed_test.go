package pgfeed

import (
	"context"
	"errors"
	"testing"
	"time"

	"matrimony_sync_backend/internal/gateway"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockStore is a mock type for gateway.Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Read(ctx context.Context, c gateway.Collection, f gateway.Filter, opts gateway.QueryOptions, dest interface{}) error {
	args := m.Called(ctx, c, f, opts, dest)
	return args.Error(0)
}

func (m *MockStore) Write(ctx context.Context, c gateway.Collection, op gateway.WriteOp, payload interface{}, f gateway.Filter) error {
	args := m.Called(ctx, c, op, payload, f)
	return args.Error(0)
}

func byID(id string) interface{} {
	return mock.MatchedBy(func(f gateway.Filter) bool {
		return len(f.All) == 1 && f.All[0].Column == "id" && f.All[0].Value == id
	})
}

func (m *MockStore) expectMessage(id string, rows []gateway.Message, err error) {
	m.On("Read", mock.Anything, gateway.Messages, byID(id), mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			if err == nil {
				*(args.Get(4).(*[]gateway.Message)) = rows
			}
		}).Return(err)
}

type statusReport struct {
	status gateway.SubscriptionStatus
	err    error
}

func newTestSubscription(bindings []gateway.Binding, store gateway.Store) (*subscription, *[]gateway.ChangeEvent, *[]statusReport) {
	events := &[]gateway.ChangeEvent{}
	statuses := &[]statusReport{}
	sub := &subscription{
		channel:  "notifications:test",
		bindings: bindings,
		store:    store,
		onEvent:  func(ev gateway.ChangeEvent) { *events = append(*events, ev) },
		onStatus: func(s gateway.SubscriptionStatus, err error) { *statuses = append(*statuses, statusReport{s, err}) },
		done:     make(chan struct{}),
		logger:   zap.NewNop(),
	}
	return sub, events, statuses
}

func TestSubscription_Dispatch_FiltersByBinding(t *testing.T) {
	store := new(MockStore)
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	store.expectMessage("m1", []gateway.Message{{ID: "m1", SenderID: "bilal", ReceiverID: "asha", Content: "hi", CreatedAt: created}}, nil)
	sub, events, _ := newTestSubscription([]gateway.Binding{
		{Collection: gateway.Messages, Events: []gateway.EventType{gateway.EventInsert}, Column: "receiver_id", Value: "asha"},
	}, store)

	sub.dispatch(`{"type":"INSERT","table":"messages","record":{"id":"m1","sender_id":"bilal","receiver_id":"asha","read":false,"created_at":"2024-05-01T10:00:00.123456+00:00"},"old_record":null}`)
	sub.dispatch(`{"type":"INSERT","table":"messages","record":{"id":"m2","sender_id":"asha","receiver_id":"bilal"},"old_record":null}`)
	sub.dispatch(`{"type":"UPDATE","table":"messages","record":{"id":"m1","receiver_id":"asha"},"old_record":null}`)
	sub.dispatch(`not json`)

	require.Len(t, *events, 1)
	var msg gateway.Message
	require.NoError(t, (*events)[0].Decode(&msg))
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "hi", msg.Content, "content is read back from the store")
	assert.True(t, created.Equal(msg.CreatedAt))
	store.AssertNumberOfCalls(t, "Read", 1)
}

func TestSubscription_Dispatch_SkipsVanishedAndFailedRows(t *testing.T) {
	store := new(MockStore)
	store.expectMessage("gone", nil, nil)
	store.expectMessage("flaky", nil, gateway.E("read", gateway.KindNetwork, errors.New("offline")))
	sub, events, _ := newTestSubscription([]gateway.Binding{{Collection: gateway.Messages}}, store)

	sub.dispatch(`{"type":"INSERT","table":"messages","record":{"id":"gone","receiver_id":"asha"}}`)
	sub.dispatch(`{"type":"UPDATE","table":"messages","record":{"id":"flaky","receiver_id":"asha"}}`)
	sub.dispatch(`{"type":"INSERT","table":"messages","record":{"receiver_id":"asha"}}`)

	assert.Empty(t, *events)
	store.AssertNumberOfCalls(t, "Read", 2)
}

func TestSubscription_Dispatch_DeleteUsesCompactOldRow(t *testing.T) {
	store := new(MockStore)
	sub, events, _ := newTestSubscription([]gateway.Binding{
		{Collection: gateway.Messages, Events: []gateway.EventType{gateway.EventDelete}, Column: "receiver_id", Value: "asha"},
	}, store)

	sub.dispatch(`{"type":"DELETE","table":"messages","record":null,"old_record":{"id":"m1","sender_id":"bilal","receiver_id":"asha"}}`)

	require.Len(t, *events, 1)
	var msg gateway.Message
	require.NoError(t, (*events)[0].Decode(&msg))
	assert.Equal(t, "m1", msg.ID)
	store.AssertNotCalled(t, "Read", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTriggerFunction_LeavesOutFreeText(t *testing.T) {
	assert.Contains(t, triggerFunctionSQL, "- 'content'")
	assert.Contains(t, triggerFunctionSQL, "- 'image_url'")
	assert.NotContains(t, triggerFunctionSQL, "row_to_json(NEW)")
}

func TestSubscription_ListenerEventsMapToStatus(t *testing.T) {
	sub, _, statuses := newTestSubscription(nil, nil)
	cause := errors.New("connection reset")

	sub.handleListenerEvent(pq.ListenerEventConnected, nil)
	sub.handleListenerEvent(pq.ListenerEventDisconnected, cause)
	sub.handleListenerEvent(pq.ListenerEventConnectionAttemptFailed, cause)
	sub.handleListenerEvent(pq.ListenerEventReconnected, nil)

	require.Len(t, *statuses, 4)
	assert.Equal(t, gateway.StatusSubscribed, (*statuses)[0].status)
	assert.Equal(t, gateway.StatusChannelError, (*statuses)[1].status)
	assert.Equal(t, gateway.KindNetwork, gateway.KindOf((*statuses)[1].err))
	assert.Equal(t, gateway.StatusTimedOut, (*statuses)[2].status)
	assert.Equal(t, gateway.StatusSubscribed, (*statuses)[3].status)
}

func TestSubscription_ClosedIgnoresListenerEvents(t *testing.T) {
	sub, _, statuses := newTestSubscription(nil, nil)
	sub.closed.Store(true)

	sub.handleListenerEvent(pq.ListenerEventDisconnected, errors.New("gone"))
	assert.Empty(t, *statuses)
}

func TestFeed_Subscribe_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New("postgres://unused", new(MockStore), zap.NewNop()).Subscribe(ctx, "c", nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, gateway.KindNetwork, gateway.KindOf(err))
}
