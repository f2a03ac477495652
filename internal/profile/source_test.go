package profile

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"matrimony_sync_backend/internal/gateway"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubStore struct {
	rows       []gateway.Profile
	err        error
	lastFilter gateway.Filter
}

func (s *stubStore) Read(_ context.Context, _ gateway.Collection, f gateway.Filter, _ gateway.QueryOptions, dest interface{}) error {
	s.lastFilter = f
	if s.err != nil {
		return s.err
	}
	*(dest.(*[]gateway.Profile)) = s.rows
	return nil
}

func (s *stubStore) Write(context.Context, gateway.Collection, gateway.WriteOp, interface{}, gateway.Filter) error {
	return nil
}

func TestStoreSource_Lookup(t *testing.T) {
	img := "https://cdn/a.png"
	store := &stubStore{rows: []gateway.Profile{{ID: "a", Name: "Asha", ImageURL: &img}}}
	src := NewStoreSource(store)

	got, err := src.Lookup(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, Summary{ID: "a", Name: "Asha", Image: &img}, got[0])
	require.Len(t, store.lastFilter.All, 1)
	assert.Equal(t, gateway.OpIn, store.lastFilter.All[0].Op)

	store.err = gateway.E("read", gateway.KindNetwork, errors.New("offline"))
	_, err = src.Lookup(context.Background(), []string{"a"})
	assert.True(t, gateway.IsKind(err, gateway.KindNetwork))
}

type transportFunc func(*http.Request) (*http.Response, error)

func (f transportFunc) Perform(req *http.Request) (*http.Response, error) { return f(req) }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestSearchSource_Lookup(t *testing.T) {
	var gotPath, gotBody string
	src := NewSearchSource(transportFunc(func(req *http.Request) (*http.Response, error) {
		gotPath = req.URL.Path
		b, _ := io.ReadAll(req.Body)
		gotBody = string(b)
		return jsonResponse(http.StatusOK, `{"docs":[
			{"_id":"a","found":true,"_source":{"id":"a","name":"Asha"}},
			{"_id":"b","found":false},
			{"_id":"c","found":true,"_source":{"name":"Chitra","image":"c.png"}}
		]}`), nil
	}))

	got, err := src.Lookup(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, "/profiles/_mget", gotPath)
	assert.JSONEq(t, `{"ids":["a","b","c"]}`, gotBody)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[1].ID)
	require.NotNil(t, got[1].Image)
	assert.Equal(t, "c.png", *got[1].Image)
}

func TestSearchSource_Lookup_ErrorStatus(t *testing.T) {
	src := NewSearchSource(transportFunc(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusForbidden, `{"error":"denied"}`), nil
	}))
	_, err := src.Lookup(context.Background(), []string{"a"})
	assert.True(t, gateway.IsKind(err, gateway.KindAuth))

	down := NewSearchSource(transportFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	}))
	_, err = down.Lookup(context.Background(), []string{"a"})
	assert.True(t, gateway.IsKind(err, gateway.KindNetwork))
}

func TestBreakerSource_TripsOpen(t *testing.T) {
	next := new(MockSource)
	next.On("Lookup", mock.Anything, mock.Anything).Return(nil, errors.New("boom"))
	src := NewBreakerSource(next, 2, zap.NewNop())
	ctx := context.Background()

	_, err := src.Lookup(ctx, []string{"a"})
	assert.Error(t, err)
	_, err = src.Lookup(ctx, []string{"a"})
	assert.Error(t, err)
	assert.Equal(t, gobreaker.StateOpen, src.State())

	_, err = src.Lookup(ctx, []string{"a"})
	assert.True(t, gateway.IsKind(err, gateway.KindNetwork))
	next.AssertNumberOfCalls(t, "Lookup", 2)
}

func TestBreakerSource_PassesThrough(t *testing.T) {
	next := new(MockSource)
	next.On("Lookup", mock.Anything, []string{"a"}).Return([]Summary{{ID: "a", Name: "Asha"}}, nil)
	src := NewBreakerSource(next, 0, zap.NewNop())

	got, err := src.Lookup(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
