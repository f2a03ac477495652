package gateway

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinding_Accepts_ColumnPredicate(t *testing.T) {
	ev, err := NewChangeEvent(EventInsert, Messages, Message{ID: "m1", SenderID: "alice", ReceiverID: "bob", Content: "hi"})
	require.NoError(t, err)

	assert.True(t, Binding{Collection: Messages, Events: []EventType{EventInsert}, Column: "receiver_id", Value: "bob"}.Accepts(ev))
	assert.False(t, Binding{Collection: Messages, Events: []EventType{EventInsert}, Column: "receiver_id", Value: "alice"}.Accepts(ev))
	assert.False(t, Binding{Collection: Messages, Events: []EventType{EventUpdate}}.Accepts(ev))
	assert.False(t, Binding{Collection: Matches}.Accepts(ev))
	assert.True(t, Binding{Collection: Messages}.Accepts(ev))
}

func TestChangeEvent_Decode_DeleteUsesOldRecord(t *testing.T) {
	ev, err := NewChangeEvent(EventDelete, Matches, Match{ID: "x", User1ID: "a", User2ID: "b"})
	require.NoError(t, err)
	assert.Empty(t, ev.Record)

	var m Match
	require.NoError(t, ev.Decode(&m))
	assert.Equal(t, "x", m.ID)
	assert.Equal(t, "b", m.OtherParty("a"))
	assert.Equal(t, "a", m.OtherParty("b"))
}

func TestChangeEvent_Decode_Empty(t *testing.T) {
	var m Message
	assert.Error(t, ChangeEvent{Type: EventInsert, Collection: Messages}.Decode(&m))
}

func TestKindOf(t *testing.T) {
	err := E("op", KindAuth, errors.New("token expired"))
	assert.Equal(t, KindAuth, KindOf(err))
	assert.True(t, IsKind(err, KindAuth))
	assert.Equal(t, KindServer, KindOf(errors.New("plain")))
	assert.False(t, IsKind(nil, KindServer))
	assert.Nil(t, E("op", KindNetwork, nil))
	assert.Contains(t, err.Error(), "token expired")
}
