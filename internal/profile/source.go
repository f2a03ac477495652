package profile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"matrimony_sync_backend/internal/gateway"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	json "github.com/goccy/go-json"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// StoreSource reads summaries from the profiles collection of the data gateway.
type StoreSource struct {
	store gateway.Store
}

func NewStoreSource(store gateway.Store) *StoreSource {
	return &StoreSource{store: store}
}

func (s *StoreSource) Lookup(ctx context.Context, ids []string) ([]Summary, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []gateway.Profile
	if err := s.store.Read(ctx, gateway.Profiles, gateway.Where(gateway.In("id", ids...)), gateway.QueryOptions{}, &rows); err != nil {
		return nil, fmt.Errorf("reading profiles: %w", err)
	}
	out := make([]Summary, 0, len(rows))
	for _, row := range rows {
		out = append(out, FromRecord(row))
	}
	return out, nil
}

// SearchIndex is the Elasticsearch index holding profile summaries.
const SearchIndex = "profiles"

// SearchSource reads summaries from the profiles search index with a multi-get.
type SearchSource struct {
	transport esapi.Transport
	index     string
}

// NewSearchSource creates a source backed by an Elasticsearch transport, usually
// the *elasticsearch.Client.
func NewSearchSource(transport esapi.Transport) *SearchSource {
	return &SearchSource{transport: transport, index: SearchIndex}
}

type mgetResponse struct {
	Docs []struct {
		ID     string   `json:"_id"`
		Found  bool     `json:"found"`
		Source *Summary `json:"_source"`
	} `json:"docs"`
}

func (s *SearchSource) Lookup(ctx context.Context, ids []string) ([]Summary, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(map[string]interface{}{"ids": ids})
	if err != nil {
		return nil, fmt.Errorf("encoding mget body: %w", err)
	}

	req := esapi.MgetRequest{Index: s.index, Body: bytes.NewReader(body)}
	res, err := req.Do(ctx, s.transport)
	if err != nil {
		return nil, gateway.E("profile.SearchSource", gateway.KindNetwork, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		kind := gateway.KindServer
		switch res.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			kind = gateway.KindAuth
		case http.StatusBadRequest:
			kind = gateway.KindValidation
		}
		return nil, gateway.E("profile.SearchSource", kind, fmt.Errorf("mget on %s: %s", s.index, res.Status()))
	}

	var parsed mgetResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding mget response: %w", err)
	}
	out := make([]Summary, 0, len(parsed.Docs))
	for _, doc := range parsed.Docs {
		if !doc.Found || doc.Source == nil {
			continue
		}
		summary := *doc.Source
		if summary.ID == "" {
			summary.ID = doc.ID
		}
		out = append(out, summary)
	}
	return out, nil
}

// BreakerSource guards another Source with a circuit breaker so a failing backend
// is not hammered on every flush.
type BreakerSource struct {
	next    Source
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerSource trips after failureThreshold consecutive failures.
func NewBreakerSource(next Source, failureThreshold uint32, logger *zap.Logger) *BreakerSource {
	if failureThreshold == 0 {
		failureThreshold = 5
	}
	log := logger.Named("ProfileBreaker")
	settings := gobreaker.Settings{
		Name: "profile-lookup",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker state changed", zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &BreakerSource{next: next, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerSource) Lookup(ctx context.Context, ids []string) ([]Summary, error) {
	out, err := b.breaker.Execute(func() (interface{}, error) {
		return b.next.Lookup(ctx, ids)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, gateway.E("profile.BreakerSource", gateway.KindNetwork, err)
		}
		return nil, err
	}
	summaries, _ := out.([]Summary)
	return summaries, nil
}

// State reports the breaker state, for diagnostics.
func (b *BreakerSource) State() gobreaker.State {
	return b.breaker.State()
}
