package conversation

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"matrimony_sync_backend/internal/gateway"
	"matrimony_sync_backend/internal/profile"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// ProfileResolver enriches conversation partners with display summaries.
type ProfileResolver interface {
	GetMany(ctx context.Context, ids []string) map[string]profile.Summary
}

// Store holds one user's conversations: a bounded cache of message histories,
// the live view of the open conversation, compose drafts and the conversation list.
// Outgoing messages are shown immediately under a temporary id and reconciled
// with the server's record once the insert completes.
type Store struct {
	userID   string
	gw       gateway.Store
	profiles ProfileResolver
	clock    clock.Clock
	cfg      Config
	logger   *zap.Logger

	mu        sync.Mutex
	cache     *lru.Cache[string, *Entry]
	open      string
	view      []gateway.Message
	drafts    map[string]string
	sending   map[string]bool
	list      []Summary
	listeners []func(Update)
}

// NewStore creates an empty conversation store for userID.
func NewStore(userID string, gw gateway.Store, profiles ProfileResolver, clk clock.Clock, cfg Config, logger *zap.Logger) (*Store, error) {
	cfg = cfg.withDefaults()
	cache, err := lru.New[string, *Entry](cfg.CacheCapacity)
	if err != nil {
		return nil, fmt.Errorf("creating conversation cache: %w", err)
	}
	return &Store{
		userID:   userID,
		gw:       gw,
		profiles: profiles,
		clock:    clk,
		cfg:      cfg,
		logger:   logger.Named("ConversationStore").With(zap.String("user_id", userID)),
		cache:    cache,
		drafts:   make(map[string]string),
		sending:  make(map[string]bool),
	}, nil
}

// OnChange registers fn to receive conversation updates.
func (s *Store) OnChange(fn func(Update)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Open makes conversationID the active conversation and loads its messages.
func (s *Store) Open(ctx context.Context, conversationID string) ([]gateway.Message, error) {
	if conversationID == "" {
		return nil, ErrNoConversation
	}
	s.mu.Lock()
	if s.open != conversationID {
		s.open = conversationID
		s.view = nil
	}
	s.mu.Unlock()
	return s.Fetch(ctx, conversationID)
}

// Close clears the active conversation.
func (s *Store) Close() {
	s.mu.Lock()
	s.open = ""
	s.view = nil
	s.mu.Unlock()
}

// View returns the active conversation id and its live message list.
func (s *Store) View() (string, []gateway.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open, slices.Clone(s.view)
}

// Fetch returns the conversation's messages, oldest first. A cache entry younger
// than the freshness window is served without a round trip; otherwise the most
// recent messages are read and replace the entry. Either way the conversation's
// incoming messages are marked read.
func (s *Store) Fetch(ctx context.Context, conversationID string) ([]gateway.Message, error) {
	if conversationID == "" {
		return nil, ErrNoConversation
	}

	s.mu.Lock()
	if entry, ok := s.cache.Get(conversationID); ok && s.clock.Since(entry.LastFetchedAt) < s.cfg.FreshFor {
		msgs := slices.Clone(entry.Messages)
		if s.open == conversationID {
			s.view = slices.Clone(entry.Messages)
		}
		s.mu.Unlock()
		s.markConversationRead(ctx, conversationID)
		return msgs, nil
	}
	s.mu.Unlock()

	var rows []gateway.Message
	filter := gateway.Filter{}.
		Or(gateway.Eq("sender_id", s.userID), gateway.Eq("receiver_id", conversationID)).
		Or(gateway.Eq("sender_id", conversationID), gateway.Eq("receiver_id", s.userID))
	opts := gateway.QueryOptions{Order: []gateway.Order{{Column: "created_at", Desc: true}}, Limit: s.cfg.MessageLimit}
	if err := s.gw.Read(ctx, gateway.Messages, filter, opts, &rows); err != nil {
		s.logger.Warn("Fetching conversation failed", zap.String("conversation_id", conversationID), zap.Error(err))
		return nil, fmt.Errorf("fetching conversation %s: %w", conversationID, err)
	}
	slices.Reverse(rows)

	s.mu.Lock()
	// Sends still awaiting confirmation stay at the end until Send reconciles them.
	if old, ok := s.cache.Peek(conversationID); ok {
		rows = appendPending(rows, old.Messages)
	}
	if s.open == conversationID {
		rows = appendPending(rows, s.view)
	}
	entry := &Entry{ConversationID: conversationID, Messages: rows, LastFetchedAt: s.clock.Now()}
	s.cache.Add(conversationID, entry)
	if s.open == conversationID {
		s.view = slices.Clone(rows)
	}
	msgs := slices.Clone(rows)
	s.mu.Unlock()

	s.markConversationRead(ctx, conversationID)
	return msgs, nil
}

// markConversationRead marks the conversation's unread incoming messages read on
// the server, then locally. Failures are logged only.
func (s *Store) markConversationRead(ctx context.Context, conversationID string) {
	s.mu.Lock()
	var ids []string
	if entry, ok := s.cache.Peek(conversationID); ok {
		for _, m := range entry.Messages {
			if m.SenderID == conversationID && m.ReceiverID == s.userID && !m.Read && !IsTemporary(m.ID) {
				ids = append(ids, m.ID)
			}
		}
	}
	s.mu.Unlock()
	if len(ids) == 0 {
		return
	}

	err := s.gw.Write(ctx, gateway.Messages, gateway.OpUpdate, map[string]interface{}{"read": true},
		gateway.Where(gateway.In("id", ids...), gateway.Eq("receiver_id", s.userID)))
	if err != nil {
		s.logger.Warn("Marking conversation read failed", zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}

	s.mu.Lock()
	marked := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		marked[id] = struct{}{}
	}
	if entry, ok := s.cache.Peek(conversationID); ok {
		setRead(entry.Messages, marked)
	}
	if s.open == conversationID {
		setRead(s.view, marked)
	}
	for i := range s.list {
		if s.list[i].ConversationID == conversationID {
			s.list[i].UnreadCount = 0
		}
	}
	s.mu.Unlock()
}

// Send posts content to conversationID. The message appears immediately under a
// temporary id; on success it is replaced in place by the server record and the
// conversation moves to the top of the list. On failure the temporary record is
// removed, the draft is restored and the error is returned.
func (s *Store) Send(ctx context.Context, conversationID, content string) (gateway.Message, error) {
	if strings.TrimSpace(content) == "" {
		return gateway.Message{}, ErrEmptyContent
	}
	if conversationID == "" {
		return gateway.Message{}, ErrNoConversation
	}

	s.mu.Lock()
	if s.sending[conversationID] {
		s.mu.Unlock()
		return gateway.Message{}, ErrSendInFlight
	}
	s.sending[conversationID] = true
	delete(s.drafts, conversationID)

	temp := gateway.Message{
		ID:         TempIDPrefix + uuid.NewString(),
		SenderID:   s.userID,
		ReceiverID: conversationID,
		Content:    content,
		CreatedAt:  s.clock.Now(),
	}
	entry := s.entryLocked(conversationID)
	entry.Messages = append(entry.Messages, temp)
	if s.open == conversationID {
		s.view = append(s.view, temp)
	}
	update := s.updateLocked(conversationID)
	s.mu.Unlock()
	s.emit(update)

	record := gateway.Message{SenderID: s.userID, ReceiverID: conversationID, Content: content}
	err := s.gw.Write(ctx, gateway.Messages, gateway.OpInsert, &record, gateway.Filter{})

	s.mu.Lock()
	delete(s.sending, conversationID)
	if err != nil {
		s.removeLocked(conversationID, temp.ID)
		s.drafts[conversationID] = content
		update = s.updateLocked(conversationID)
		s.mu.Unlock()
		s.emit(update)
		s.logger.Warn("Sending message failed", zap.String("conversation_id", conversationID), zap.String("kind", string(gateway.KindOf(err))), zap.Error(err))
		return gateway.Message{}, fmt.Errorf("sending message: %w", err)
	}

	s.reconcileLocked(conversationID, temp.ID, record)
	s.touchListLocked(conversationID, record, false)
	update = s.updateLocked(conversationID)
	s.mu.Unlock()
	s.emit(update)
	return record, nil
}

// Receive applies a message pushed by the server. It is appended only where no
// message with the same id exists. Incoming messages for the open conversation are
// marked read on the server. It reports whether the message was new.
func (s *Store) Receive(ctx context.Context, msg gateway.Message) bool {
	var conversationID string
	switch s.userID {
	case msg.ReceiverID:
		conversationID = msg.SenderID
	case msg.SenderID:
		conversationID = msg.ReceiverID
	default:
		return false
	}

	s.mu.Lock()
	added := false
	if entry, ok := s.cache.Peek(conversationID); ok && indexOf(entry.Messages, msg.ID) < 0 {
		entry.Messages = append(entry.Messages, msg)
		added = true
	}
	isOpen := s.open == conversationID
	if isOpen && indexOf(s.view, msg.ID) < 0 {
		s.view = append(s.view, msg)
		added = true
	}
	incoming := msg.ReceiverID == s.userID
	if !s.listHasLocked(msg.ID) {
		s.touchListLocked(conversationID, msg, incoming && !isOpen && !msg.Read)
		added = true
	}
	update := s.updateLocked(conversationID)
	s.mu.Unlock()

	if !added {
		return false
	}
	s.emit(update)

	if isOpen && incoming && !msg.Read {
		err := s.gw.Write(ctx, gateway.Messages, gateway.OpUpdate, map[string]interface{}{"read": true},
			gateway.Where(gateway.Eq("id", msg.ID), gateway.Eq("receiver_id", s.userID)))
		if err != nil {
			s.logger.Warn("Auto mark-read failed", zap.String("message_id", msg.ID), zap.Error(err))
		} else {
			s.mu.Lock()
			marked := map[string]struct{}{msg.ID: {}}
			if entry, ok := s.cache.Peek(conversationID); ok {
				setRead(entry.Messages, marked)
			}
			setRead(s.view, marked)
			s.mu.Unlock()
		}
	}
	return true
}

// ApplyUpdate replaces a known message with the server's updated record.
func (s *Store) ApplyUpdate(msg gateway.Message) bool {
	conversationID := msg.SenderID
	if msg.SenderID == s.userID {
		conversationID = msg.ReceiverID
	}

	s.mu.Lock()
	changed := false
	if entry, ok := s.cache.Peek(conversationID); ok {
		if i := indexOf(entry.Messages, msg.ID); i >= 0 {
			entry.Messages[i] = msg
			changed = true
		}
	}
	if s.open == conversationID {
		if i := indexOf(s.view, msg.ID); i >= 0 {
			s.view[i] = msg
			changed = true
		}
	}
	update := s.updateLocked(conversationID)
	s.mu.Unlock()

	if changed {
		s.emit(update)
	}
	return changed
}

// FetchConversations rebuilds the conversation list from the user's recent messages.
func (s *Store) FetchConversations(ctx context.Context) ([]Summary, error) {
	var rows []gateway.Message
	filter := gateway.Filter{}.Or(gateway.Eq("sender_id", s.userID)).Or(gateway.Eq("receiver_id", s.userID))
	opts := gateway.QueryOptions{Order: []gateway.Order{{Column: "created_at", Desc: true}}, Limit: s.cfg.ListLimit}
	if err := s.gw.Read(ctx, gateway.Messages, filter, opts, &rows); err != nil {
		return nil, fmt.Errorf("fetching conversations: %w", err)
	}

	index := make(map[string]int)
	var list []Summary
	for _, m := range rows {
		other := m.SenderID
		if other == s.userID {
			other = m.ReceiverID
		}
		i, ok := index[other]
		if !ok {
			i = len(list)
			index[other] = i
			list = append(list, Summary{ConversationID: other, Partner: profile.Summary{ID: other, Name: profile.AnonymousName}, LastMessage: m})
		}
		if m.ReceiverID == s.userID && !m.Read {
			list[i].UnreadCount++
		}
	}

	partners := make([]string, 0, len(list))
	for _, c := range list {
		partners = append(partners, c.ConversationID)
	}
	found := s.profiles.GetMany(ctx, partners)
	for i := range list {
		if p, ok := found[list[i].ConversationID]; ok {
			list[i].Partner = p
		}
	}

	s.mu.Lock()
	s.list = list
	out := slices.Clone(list)
	s.mu.Unlock()
	return out, nil
}

// Conversations returns the current conversation list, most recent first.
func (s *Store) Conversations() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Summary{}, s.list...)
}

// Draft returns the compose text for a conversation.
func (s *Store) Draft(conversationID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drafts[conversationID]
}

// SetDraft stores the compose text for a conversation.
func (s *Store) SetDraft(conversationID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if text == "" {
		delete(s.drafts, conversationID)
		return
	}
	s.drafts[conversationID] = text
}

// Cached returns a copy of the cache entry for conversationID.
func (s *Store) Cached(conversationID string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache.Peek(conversationID)
	if !ok {
		return Entry{}, false
	}
	cp := *entry
	cp.Messages = slices.Clone(entry.Messages)
	return cp, true
}

func (s *Store) entryLocked(conversationID string) *Entry {
	if entry, ok := s.cache.Get(conversationID); ok {
		return entry
	}
	// A zero LastFetchedAt keeps the entry stale so the next Fetch reloads it.
	entry := &Entry{ConversationID: conversationID}
	s.cache.Add(conversationID, entry)
	return entry
}

// reconcileLocked swaps the temporary record for the server record. If the server
// record already arrived through the change feed, the temporary one is dropped.
func (s *Store) reconcileLocked(conversationID, tempID string, record gateway.Message) {
	if entry, ok := s.cache.Peek(conversationID); ok {
		entry.Messages = replaceTemp(entry.Messages, tempID, record)
	}
	if s.open == conversationID {
		s.view = replaceTemp(s.view, tempID, record)
	}
}

func (s *Store) removeLocked(conversationID, id string) {
	if entry, ok := s.cache.Peek(conversationID); ok {
		if i := indexOf(entry.Messages, id); i >= 0 {
			entry.Messages = slices.Delete(entry.Messages, i, i+1)
		}
	}
	if i := indexOf(s.view, id); i >= 0 {
		s.view = slices.Delete(s.view, i, i+1)
	}
}

func (s *Store) listHasLocked(messageID string) bool {
	for _, c := range s.list {
		if c.LastMessage.ID == messageID {
			return true
		}
	}
	return false
}

// touchListLocked moves the conversation to the top of the list with msg as preview.
func (s *Store) touchListLocked(conversationID string, msg gateway.Message, unread bool) {
	summary := Summary{ConversationID: conversationID, Partner: profile.Summary{ID: conversationID, Name: profile.AnonymousName}}
	for i, c := range s.list {
		if c.ConversationID == conversationID {
			summary = c
			s.list = slices.Delete(s.list, i, i+1)
			break
		}
	}
	summary.LastMessage = msg
	if unread {
		summary.UnreadCount++
	}
	s.list = slices.Insert(s.list, 0, summary)
}

func (s *Store) updateLocked(conversationID string) Update {
	u := Update{ConversationID: conversationID, Draft: s.drafts[conversationID]}
	if entry, ok := s.cache.Peek(conversationID); ok {
		u.Messages = slices.Clone(entry.Messages)
	}
	return u
}

func (s *Store) emit(u Update) {
	s.mu.Lock()
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(u)
	}
}

func replaceTemp(msgs []gateway.Message, tempID string, record gateway.Message) []gateway.Message {
	ti := indexOf(msgs, tempID)
	if indexOf(msgs, record.ID) >= 0 {
		if ti >= 0 {
			msgs = slices.Delete(msgs, ti, ti+1)
		}
		return msgs
	}
	if ti >= 0 {
		msgs[ti] = record
		return msgs
	}
	return append(msgs, record)
}

// appendPending appends the temporary records of from that rows does not hold.
func appendPending(rows, from []gateway.Message) []gateway.Message {
	for _, m := range from {
		if IsTemporary(m.ID) && indexOf(rows, m.ID) < 0 {
			rows = append(rows, m)
		}
	}
	return rows
}

func indexOf(msgs []gateway.Message, id string) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func setRead(msgs []gateway.Message, ids map[string]struct{}) {
	for i := range msgs {
		if _, ok := ids[msgs[i].ID]; ok {
			msgs[i].Read = true
		}
	}
}
