// File: internal/gateway/memfeed/hub.go
package memfeed

import (
	"context"
	"errors"
	"sync"
	"time"

	"matrimony_sync_backend/internal/gateway"

	"go.uber.org/zap"
)

// ErrHubClosed is returned when subscribing to a closed hub.
var ErrHubClosed = errors.New("change feed hub is closed")

// ErrOverflow is reported with CHANNEL_ERROR when a subscriber stays behind for
// longer than the publish timeout.
var ErrOverflow = errors.New("subscriber buffer overflow")

const (
	defaultBufferSize     = 64
	defaultPublishTimeout = 5 * time.Second
)

// Hub is an in-process gateway.Feed. Writers publish change events and every
// subscription whose bindings accept an event receives it on its own goroutine.
type Hub struct {
	mu         sync.RWMutex
	subs       map[int64]*subscription
	nextID     int64
	bufferSize int
	timeout    time.Duration
	closed     bool
	logger     *zap.Logger
}

// Option configures a Hub.
type Option func(*Hub)

// WithPublishTimeout bounds how long Publish waits on a full subscriber buffer
// before dropping the subscriber.
func WithPublishTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.timeout = d
		}
	}
}

type subscription struct {
	id       int64
	channel  string
	bindings []gateway.Binding
	onEvent  gateway.EventHandler
	onStatus gateway.StatusHandler
	events   chan gateway.ChangeEvent
	stop     chan stopReason
	done     chan struct{}
	once     sync.Once
	hub      *Hub
}

type stopReason struct {
	status gateway.SubscriptionStatus
	err    error
}

// NewHub creates an empty hub. A bufferSize of zero uses the default.
func NewHub(bufferSize int, logger *zap.Logger, opts ...Option) *Hub {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	h := &Hub{
		subs:       make(map[int64]*subscription),
		bufferSize: bufferSize,
		timeout:    defaultPublishTimeout,
		logger:     logger.Named("MemFeed"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe implements gateway.Feed. SUBSCRIBED is reported before any event.
func (h *Hub) Subscribe(ctx context.Context, channel string, bindings []gateway.Binding, onEvent gateway.EventHandler, onStatus gateway.StatusHandler) (gateway.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, gateway.E("memfeed.Subscribe", gateway.KindNetwork, err)
	}
	if onEvent == nil {
		onEvent = func(gateway.ChangeEvent) {}
	}
	if onStatus == nil {
		onStatus = func(gateway.SubscriptionStatus, error) {}
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, gateway.E("memfeed.Subscribe", gateway.KindNetwork, ErrHubClosed)
	}
	h.nextID++
	sub := &subscription{
		id:       h.nextID,
		channel:  channel,
		bindings: bindings,
		onEvent:  onEvent,
		onStatus: onStatus,
		events:   make(chan gateway.ChangeEvent, h.bufferSize),
		stop:     make(chan stopReason, 1),
		done:     make(chan struct{}),
		hub:      h,
	}
	h.subs[sub.id] = sub
	h.mu.Unlock()

	h.logger.Debug("Subscription registered", zap.String("channel", channel), zap.Int("bindings", len(bindings)))
	go sub.run()
	return sub, nil
}

// Publish fans ev out to every matching subscription. When a subscriber's buffer
// is full Publish waits for room, so a bulk write is throttled to the pace of its
// slowest subscriber. A subscriber that makes no room within the publish timeout
// is dropped with CHANNEL_ERROR.
func (h *Hub) Publish(ev gateway.ChangeEvent) {
	h.mu.RLock()
	targets := make([]*subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.accepts(ev) {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		h.deliver(sub, ev)
	}
}

func (h *Hub) deliver(sub *subscription, ev gateway.ChangeEvent) {
	select {
	case sub.events <- ev:
		return
	case <-sub.done:
		return
	default:
	}

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()
	select {
	case sub.events <- ev:
	case <-sub.done:
	case <-timer.C:
		h.logger.Warn("Dropping slow subscriber",
			zap.String("channel", sub.channel),
			zap.Int("buffer_size", cap(sub.events)),
			zap.Duration("waited", h.timeout),
		)
		sub.terminate(gateway.StatusChannelError, ErrOverflow)
	}
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription with CLOSED and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.terminate(gateway.StatusClosed, nil)
	}
}

func (h *Hub) remove(id int64) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

func (s *subscription) Channel() string { return s.channel }

func (s *subscription) Unsubscribe() error {
	s.terminate(gateway.StatusClosed, nil)
	return nil
}

func (s *subscription) terminate(status gateway.SubscriptionStatus, err error) {
	s.once.Do(func() {
		s.hub.remove(s.id)
		close(s.done)
		s.stop <- stopReason{status: status, err: err}
	})
}

func (s *subscription) accepts(ev gateway.ChangeEvent) bool {
	for _, b := range s.bindings {
		if b.Accepts(ev) {
			return true
		}
	}
	return false
}

func (s *subscription) run() {
	s.onStatus(gateway.StatusSubscribed, nil)
	for {
		select {
		case reason := <-s.stop:
			s.onStatus(reason.status, reason.err)
			return
		case ev := <-s.events:
			s.onEvent(ev)
		}
	}
}
