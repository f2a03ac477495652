package profile

import (
	"context"

	"matrimony_sync_backend/internal/gateway"
)

// AnonymousName is shown for actors whose profile could not be resolved.
const AnonymousName = "Anonymous"

// Summary is the display record used to enrich notifications and conversations.
type Summary struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Image *string `json:"image,omitempty"`
}

// DisplayName returns the summary name, or AnonymousName when it is blank.
func (s Summary) DisplayName() string {
	if s.Name == "" {
		return AnonymousName
	}
	return s.Name
}

// FromRecord converts a gateway profile row into a Summary.
func FromRecord(p gateway.Profile) Summary {
	return Summary{ID: p.ID, Name: p.Name, Image: p.ImageURL}
}

// Source looks up profile summaries by id. Missing ids are simply absent from the result.
type Source interface {
	Lookup(ctx context.Context, ids []string) ([]Summary, error)
}
