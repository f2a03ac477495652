// File: internal/gateway/pgfeed/feed.go
package pgfeed

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"matrimony_sync_backend/internal/gateway"

	json "github.com/goccy/go-json"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NotifyChannel is the Postgres NOTIFY channel the row-change trigger writes to.
const NotifyChannel = "row_changes"

const (
	minReconnectInterval = 2 * time.Second
	maxReconnectInterval = time.Minute
	pingInterval         = 90 * time.Second
	reloadTimeout        = 10 * time.Second
)

// Feed is a gateway.Feed backed by Postgres LISTEN/NOTIFY.
//
// Notifications carry a compact copy of the changed row, enough to match
// bindings. Inserted and updated rows are then read back in full through the
// store before delivery, so payload size never depends on message length.
type Feed struct {
	dsn    string
	store  gateway.Store
	logger *zap.Logger
}

// New creates a feed that opens one listener connection per subscription and
// reads changed rows back through store.
func New(dsn string, store gateway.Store, logger *zap.Logger) *Feed {
	return &Feed{dsn: dsn, store: store, logger: logger.Named("PGFeed")}
}

type subscription struct {
	channel  string
	bindings []gateway.Binding
	listener *pq.Listener
	store    gateway.Store
	onEvent  gateway.EventHandler
	onStatus gateway.StatusHandler
	done     chan struct{}
	closed   atomic.Bool
	once     sync.Once
	logger   *zap.Logger
}

// Subscribe implements gateway.Feed. Connection loss is reported as CHANNEL_ERROR
// and failed reconnect attempts as TIMED_OUT; the listener keeps reconnecting
// until Unsubscribe is called.
func (f *Feed) Subscribe(ctx context.Context, channel string, bindings []gateway.Binding, onEvent gateway.EventHandler, onStatus gateway.StatusHandler) (gateway.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, gateway.E("pgfeed.Subscribe", gateway.KindNetwork, err)
	}
	if onEvent == nil {
		onEvent = func(gateway.ChangeEvent) {}
	}
	if onStatus == nil {
		onStatus = func(gateway.SubscriptionStatus, error) {}
	}

	sub := &subscription{
		channel:  channel,
		bindings: bindings,
		store:    f.store,
		onEvent:  onEvent,
		onStatus: onStatus,
		done:     make(chan struct{}),
		logger:   f.logger.With(zap.String("channel", channel)),
	}
	sub.listener = pq.NewListener(f.dsn, minReconnectInterval, maxReconnectInterval, sub.handleListenerEvent)

	go sub.run()
	return sub, nil
}

func (s *subscription) handleListenerEvent(ev pq.ListenerEventType, err error) {
	if s.closed.Load() {
		return
	}
	switch ev {
	case pq.ListenerEventConnected:
		s.logger.Info("Listener connected")
		s.onStatus(gateway.StatusSubscribed, nil)
	case pq.ListenerEventReconnected:
		s.logger.Info("Listener reconnected")
		s.onStatus(gateway.StatusSubscribed, nil)
	case pq.ListenerEventDisconnected:
		s.logger.Warn("Listener disconnected", zap.Error(err))
		s.onStatus(gateway.StatusChannelError, gateway.E("pgfeed.Listen", gateway.KindNetwork, err))
	case pq.ListenerEventConnectionAttemptFailed:
		s.logger.Warn("Listener connection attempt failed", zap.Error(err))
		s.onStatus(gateway.StatusTimedOut, gateway.E("pgfeed.Listen", gateway.KindNetwork, err))
	}
}

func (s *subscription) run() {
	if err := s.listener.Listen(NotifyChannel); err != nil {
		if s.closed.Load() {
			return
		}
		s.logger.Error("LISTEN failed", zap.Error(err))
		s.onStatus(gateway.StatusChannelError, gateway.E("pgfeed.Listen", gateway.KindNetwork, err))
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case n := <-s.listener.Notify:
			if n == nil {
				// Reconnected; notifications sent while disconnected are lost.
				continue
			}
			s.dispatch(n.Extra)
		case <-ticker.C:
			go func() {
				if err := s.listener.Ping(); err != nil && !s.closed.Load() {
					s.logger.Debug("Listener ping failed", zap.Error(err))
				}
			}()
		}
	}
}

func (s *subscription) dispatch(payload string) {
	var ev gateway.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		s.logger.Warn("Discarding malformed change payload", zap.Error(err))
		return
	}
	if !s.accepts(ev) {
		return
	}
	if ev.Type != gateway.EventDelete {
		record, err := s.reload(ev)
		if err != nil {
			s.logger.Warn("Reading changed row failed", zap.String("table", string(ev.Collection)), zap.Error(err))
			return
		}
		if record == nil {
			s.logger.Debug("Changed row no longer exists", zap.String("table", string(ev.Collection)))
			return
		}
		ev.Record = record
	}
	s.onEvent(ev)
}

func (s *subscription) accepts(ev gateway.ChangeEvent) bool {
	for _, b := range s.bindings {
		if b.Accepts(ev) {
			return true
		}
	}
	return false
}

// reload reads the full row named by the compact record of ev. It returns nil
// when the row is gone.
func (s *subscription) reload(ev gateway.ChangeEvent) (json.RawMessage, error) {
	var key struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(ev.Record, &key); err != nil || key.ID == "" {
		return nil, fmt.Errorf("change on %s carries no row id", ev.Collection)
	}
	rows, ok := gateway.NewRecordSlice(ev.Collection)
	if !ok {
		return nil, fmt.Errorf("unknown collection %q", ev.Collection)
	}

	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	if err := s.store.Read(ctx, ev.Collection, gateway.Where(gateway.Eq("id", key.ID)), gateway.QueryOptions{Limit: 1}, rows); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(rows)
	if err != nil {
		return nil, err
	}
	var records []json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

func (s *subscription) Channel() string { return s.channel }

func (s *subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.done)
		if cerr := s.listener.Close(); cerr != nil {
			err = fmt.Errorf("closing listener: %w", cerr)
		}
		s.onStatus(gateway.StatusClosed, nil)
	})
	return err
}

// triggerFunctionSQL notifies with the changed row minus its free-text columns,
// keeping payloads well under the 8000 byte NOTIFY limit. Deletes carry the
// compact old row since it cannot be read back.
const triggerFunctionSQL = `
CREATE OR REPLACE FUNCTION notify_row_change() RETURNS trigger AS $$
DECLARE
	compact jsonb;
BEGIN
	IF TG_OP = 'DELETE' THEN
		compact := to_jsonb(OLD);
	ELSE
		compact := to_jsonb(NEW);
	END IF;
	compact := compact - 'content' - 'image_url';
	PERFORM pg_notify('` + NotifyChannel + `', jsonb_build_object(
		'type', TG_OP,
		'table', TG_TABLE_NAME,
		'record', CASE WHEN TG_OP = 'DELETE' THEN NULL ELSE compact END,
		'old_record', CASE WHEN TG_OP = 'DELETE' THEN compact ELSE NULL END
	)::text);
	RETURN NULL;
END;
$$ LANGUAGE plpgsql;`

// InstallTriggers creates the notify function and attaches a row trigger to every
// feed-visible collection. It is idempotent.
func InstallTriggers(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).Exec(triggerFunctionSQL).Error; err != nil {
		return fmt.Errorf("creating notify function: %w", err)
	}
	for _, c := range []gateway.Collection{gateway.Messages, gateway.Matches, gateway.ProfileInteractions, gateway.Profiles} {
		trigger := fmt.Sprintf("%s_notify_row_change", c)
		stmts := []string{
			fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", trigger, c),
			fmt.Sprintf("CREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE ON %s FOR EACH ROW EXECUTE FUNCTION notify_row_change()", trigger, c),
		}
		for _, stmt := range stmts {
			if err := db.WithContext(ctx).Exec(stmt).Error; err != nil {
				return fmt.Errorf("installing trigger on %s: %w", c, err)
			}
		}
	}
	return nil
}
