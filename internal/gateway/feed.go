// File: internal/gateway/feed.go
package gateway

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
)

// EventType is the row-level change carried by a ChangeEvent.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// SubscriptionStatus is reported by a Feed as a subscription's lifecycle changes.
type SubscriptionStatus string

const (
	StatusSubscribed   SubscriptionStatus = "SUBSCRIBED"
	StatusChannelError SubscriptionStatus = "CHANNEL_ERROR"
	StatusTimedOut     SubscriptionStatus = "TIMED_OUT"
	StatusClosed       SubscriptionStatus = "CLOSED"
)

// ChangeEvent is a single row change pushed by the feed.
type ChangeEvent struct {
	Type       EventType       `json:"type"`
	Collection Collection      `json:"table"`
	Record     json.RawMessage `json:"record,omitempty"`
	OldRecord  json.RawMessage `json:"old_record,omitempty"`
}

// Decode unmarshals the new row (or the old row for deletes) into dest.
func (e ChangeEvent) Decode(dest interface{}) error {
	raw := e.Record
	if e.Type == EventDelete || len(raw) == 0 {
		raw = e.OldRecord
	}
	if len(raw) == 0 {
		return fmt.Errorf("change event on %s carries no record", e.Collection)
	}
	return json.Unmarshal(raw, dest)
}

// NewChangeEvent marshals record into an event for collection c.
func NewChangeEvent(t EventType, c Collection, record interface{}) (ChangeEvent, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return ChangeEvent{}, fmt.Errorf("marshalling %s change record: %w", c, err)
	}
	ev := ChangeEvent{Type: t, Collection: c}
	if t == EventDelete {
		ev.OldRecord = raw
	} else {
		ev.Record = raw
	}
	return ev, nil
}

// Binding selects which change events a subscription observes: a collection, a set
// of event types, and an optional column=value predicate.
type Binding struct {
	Collection Collection
	Events     []EventType
	Column     string
	Value      string
}

// Accepts reports whether ev satisfies the binding.
func (b Binding) Accepts(ev ChangeEvent) bool {
	if ev.Collection != b.Collection {
		return false
	}
	if len(b.Events) > 0 {
		matched := false
		for _, t := range b.Events {
			if t == ev.Type {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if b.Column == "" {
		return true
	}
	var row map[string]interface{}
	if err := ev.Decode(&row); err != nil {
		return false
	}
	v, ok := row[b.Column]
	if !ok || v == nil {
		return false
	}
	return fmt.Sprint(v) == b.Value
}

// Subscription is a live feed subscription.
type Subscription interface {
	Channel() string
	Unsubscribe() error
}

// EventHandler receives change events accepted by one of the subscription's bindings.
type EventHandler func(ChangeEvent)

// StatusHandler receives subscription lifecycle updates. err is set for error statuses.
type StatusHandler func(status SubscriptionStatus, err error)

// Feed is the server-push change-event stream.
type Feed interface {
	Subscribe(ctx context.Context, channel string, bindings []Binding, onEvent EventHandler, onStatus StatusHandler) (Subscription, error)
}
