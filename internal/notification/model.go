package notification

import (
	"time"

	"matrimony_sync_backend/internal/gateway"
	"matrimony_sync_backend/internal/profile"
)

// Type defines the kind of event a notification reports.
type Type string

const (
	TypeLike    Type = "like"
	TypeMessage Type = "message"
	TypeView    Type = "view"
	TypeMatch   Type = "match"
)

// Phrases shown for each notification kind.
const (
	PhraseLike         = "liked your profile"
	PhraseMessage      = "sent you a message"
	PhraseView         = "viewed your profile"
	PhraseMatchRequest = "sent you a match request"
	PhraseMatched      = "matched with you"
)

// FeedCap is the maximum number of notifications kept after incremental inserts.
const FeedCap = 50

// Actor is the member whose action produced a notification.
type Actor struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Image *string `json:"image,omitempty"`
}

// Notification is one entry of the unified feed.
type Notification struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
	User      Actor     `json:"user"`
	Message   string    `json:"message"`
	Content   *string   `json:"content,omitempty"`
}

// Snapshot is a consistent copy of the feed and its unread counter.
type Snapshot struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int            `json:"unread_count"`
}

func actorFrom(id string, s profile.Summary, ok bool) Actor {
	if !ok {
		return Actor{ID: id, Name: profile.AnonymousName}
	}
	return Actor{ID: id, Name: s.DisplayName(), Image: s.Image}
}

// FromInteraction maps a like or view interaction received by the user.
// Fetched interactions carry no server read state and are reported as read.
func FromInteraction(in gateway.ProfileInteraction, sender profile.Summary, found bool, read bool) (Notification, bool) {
	n := Notification{
		ID:        in.ID,
		Read:      read,
		CreatedAt: in.CreatedAt,
		User:      actorFrom(in.SenderID, sender, found),
	}
	switch in.InteractionType {
	case gateway.InteractionLike:
		n.Type, n.Message = TypeLike, PhraseLike
	case gateway.InteractionView:
		n.Type, n.Message = TypeView, PhraseView
	default:
		return Notification{}, false
	}
	return n, true
}

// FromMessage maps a message received by the user.
func FromMessage(m gateway.Message, sender profile.Summary, found bool) Notification {
	content := m.Content
	return Notification{
		ID:        m.ID,
		Type:      TypeMessage,
		Read:      m.Read,
		CreatedAt: m.CreatedAt,
		User:      actorFrom(m.SenderID, sender, found),
		Message:   PhraseMessage,
		Content:   &content,
	}
}

// FromMatch maps a match involving userID. The phrase depends on which side of the
// match the user is on: the second party received a request, the first party was matched.
func FromMatch(m gateway.Match, userID string, other profile.Summary, found bool, read bool) Notification {
	phrase := PhraseMatched
	if m.User2ID == userID {
		phrase = PhraseMatchRequest
	}
	return Notification{
		ID:        m.ID,
		Type:      TypeMatch,
		Read:      read,
		CreatedAt: m.CreatedAt,
		User:      actorFrom(m.OtherParty(userID), other, found),
		Message:   phrase,
	}
}
