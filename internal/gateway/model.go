// File: internal/gateway/model.go
package gateway

import (
	"time"

	"github.com/google/uuid"
)

// Collection names a record collection exposed by the data gateway.
type Collection string

const (
	Profiles            Collection = "profiles"
	ProfileInteractions Collection = "profile_interactions"
	Messages            Collection = "messages"
	Matches             Collection = "matches"
)

// InteractionType distinguishes the kinds of profile interactions.
type InteractionType string

const (
	InteractionLike InteractionType = "like"
	InteractionView InteractionType = "view"
)

// MatchStatus is the lifecycle state of a match request.
type MatchStatus string

const (
	MatchPending  MatchStatus = "pending"
	MatchAccepted MatchStatus = "accepted"
)

// Identifiable is implemented by records whose primary key the gateway assigns on insert.
type Identifiable interface {
	EnsureID()
}

// Profile is the public summary of a member's profile.
type Profile struct {
	ID        string    `gorm:"type:varchar(128);primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null;default:''" json:"name"`
	ImageURL  *string   `gorm:"type:text" json:"image_url,omitempty"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Profile) TableName() string { return string(Profiles) }

// ProfileInteraction records a like, view or other action one member took on another's profile.
type ProfileInteraction struct {
	ID              string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	SenderID        string          `gorm:"type:varchar(128);not null;index:idx_interaction_receiver" json:"sender_id"`
	ReceiverID      string          `gorm:"type:varchar(128);not null;index:idx_interaction_receiver" json:"receiver_id"`
	InteractionType InteractionType `gorm:"type:varchar(32);not null;index:idx_interaction_receiver" json:"interaction_type"`
	CreatedAt       time.Time       `gorm:"not null;index" json:"created_at"`
}

func (ProfileInteraction) TableName() string { return string(ProfileInteractions) }

func (p *ProfileInteraction) EnsureID() {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
}

// Message is a direct message between two members.
type Message struct {
	ID         string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	SenderID   string    `gorm:"type:varchar(128);not null;index:idx_message_pair" json:"sender_id"`
	ReceiverID string    `gorm:"type:varchar(128);not null;index:idx_message_pair;index:idx_message_receiver_read" json:"receiver_id"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	Read       bool      `gorm:"not null;default:false;index:idx_message_receiver_read" json:"read"`
	CreatedAt  time.Time `gorm:"not null;index" json:"created_at"`
}

func (Message) TableName() string { return string(Messages) }

func (m *Message) EnsureID() {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
}

// Match links two members. User1 sent the request, User2 received it.
type Match struct {
	ID        string      `gorm:"type:varchar(36);primaryKey" json:"id"`
	User1ID   string      `gorm:"type:varchar(128);not null;index" json:"user1_id"`
	User2ID   string      `gorm:"type:varchar(128);not null;index" json:"user2_id"`
	Status    MatchStatus `gorm:"type:varchar(32);not null;default:'pending'" json:"status"`
	CreatedAt time.Time   `gorm:"not null;index" json:"created_at"`
}

func (Match) TableName() string { return string(Matches) }

func (m *Match) EnsureID() {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
}

// OtherParty returns the participant of the match that is not userID.
func (m Match) OtherParty(userID string) string {
	if m.User1ID == userID {
		return m.User2ID
	}
	return m.User1ID
}

// AllModels lists the persisted record types, for migrations.
func AllModels() []interface{} {
	return []interface{}{&Profile{}, &ProfileInteraction{}, &Message{}, &Match{}}
}

// NewRecordSlice returns a pointer to an empty slice of the record type stored in c.
func NewRecordSlice(c Collection) (interface{}, bool) {
	switch c {
	case Profiles:
		return &[]Profile{}, true
	case ProfileInteractions:
		return &[]ProfileInteraction{}, true
	case Messages:
		return &[]Message{}, true
	case Matches:
		return &[]Match{}, true
	}
	return nil, false
}
