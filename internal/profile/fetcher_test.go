package profile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockSource is a mock type for profile.Source
type MockSource struct {
	mock.Mock
}

func (m *MockSource) Lookup(ctx context.Context, ids []string) ([]Summary, error) {
	args := m.Called(ctx, ids)
	var out []Summary
	if args.Get(0) != nil {
		out = args.Get(0).([]Summary)
	}
	return out, args.Error(1)
}

type FetcherTestSuite struct {
	fetcher *Fetcher
	source  *MockSource
	clock   *clock.Mock
	cache   *Cache
}

func setupFetcherTestSuite(t *testing.T) *FetcherTestSuite {
	t.Helper()
	ts := &FetcherTestSuite{source: new(MockSource), clock: clock.NewMock()}
	cache, err := NewCache(10)
	require.NoError(t, err)
	ts.cache = cache
	ts.fetcher = NewFetcher(cache, ts.source, ts.clock, FetcherConfig{Window: 100 * time.Millisecond}, zap.NewNop())
	return ts
}

func name(s string) *string { return &s }

func TestFetcher_GetMany_CoalescesCallsIntoOneLookup(t *testing.T) {
	ts := setupFetcherTestSuite(t)
	ctx := context.Background()

	ts.source.On("Lookup", mock.Anything, mock.MatchedBy(func(ids []string) bool {
		return assert.ElementsMatch(t, []string{"a", "b", "c"}, ids)
	})).Return([]Summary{{ID: "a", Name: "Asha"}, {ID: "b", Name: "Bilal", Image: name("b.png")}}, nil).Once()

	var wg sync.WaitGroup
	results := make([]map[string]Summary, 3)
	for i, ids := range [][]string{{"a"}, {"b", "a"}, {"c"}} {
		wg.Add(1)
		go func(i int, ids []string) {
			defer wg.Done()
			results[i] = ts.fetcher.GetMany(ctx, ids)
		}(i, ids)
	}

	require.Eventually(t, func() bool { return ts.fetcher.Pending() == 3 }, time.Second, time.Millisecond)
	ts.clock.Add(50 * time.Millisecond)
	ts.source.AssertNotCalled(t, "Lookup", mock.Anything, mock.Anything)
	ts.clock.Add(60 * time.Millisecond)

	wg.Wait()
	assert.Equal(t, "Asha", results[0]["a"].Name)
	assert.Len(t, results[1], 2)
	assert.Empty(t, results[2])
	ts.source.AssertNumberOfCalls(t, "Lookup", 1)

	// Cached ids resolve without another lookup.
	again := ts.fetcher.GetMany(ctx, []string{"a", "b"})
	assert.Len(t, again, 2)
	ts.source.AssertNumberOfCalls(t, "Lookup", 1)
}

func TestFetcher_LaterCallRestartsWindow(t *testing.T) {
	ts := setupFetcherTestSuite(t)
	ctx := context.Background()
	ts.source.On("Lookup", mock.Anything, mock.Anything).Return([]Summary{{ID: "a", Name: "Asha"}, {ID: "b", Name: "Bilal"}}, nil).Once()

	done := make(chan struct{}, 2)
	go func() { ts.fetcher.Get(ctx, "a"); done <- struct{}{} }()
	require.Eventually(t, func() bool { return ts.fetcher.Pending() == 1 }, time.Second, time.Millisecond)
	ts.clock.Add(80 * time.Millisecond)

	go func() { ts.fetcher.Get(ctx, "b"); done <- struct{}{} }()
	require.Eventually(t, func() bool { return ts.fetcher.Pending() == 2 }, time.Second, time.Millisecond)
	ts.clock.Add(80 * time.Millisecond)
	ts.source.AssertNotCalled(t, "Lookup", mock.Anything, mock.Anything)

	ts.clock.Add(30 * time.Millisecond)
	<-done
	<-done
	ts.source.AssertNumberOfCalls(t, "Lookup", 1)
}

func TestFetcher_LookupFailureResolvesEmpty(t *testing.T) {
	ts := setupFetcherTestSuite(t)
	ts.source.On("Lookup", mock.Anything, []string{"x"}).Return(nil, errors.New("backend down")).Once()

	out := make(chan Summary, 1)
	found := make(chan bool, 1)
	go func() {
		s, ok := ts.fetcher.Get(context.Background(), "x")
		out <- s
		found <- ok
	}()
	require.Eventually(t, func() bool { return ts.fetcher.Pending() == 1 }, time.Second, time.Millisecond)
	ts.clock.Add(100 * time.Millisecond)

	assert.Equal(t, Summary{}, <-out)
	assert.False(t, <-found)
	assert.Equal(t, 0, ts.cache.Len())
}

func TestFetcher_CallerContextCancelled(t *testing.T) {
	ts := setupFetcherTestSuite(t)
	ts.cache.Add(Summary{ID: "known", Name: "Known"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := ts.fetcher.GetMany(ctx, []string{"known", "unknown"})
	assert.Len(t, got, 1)
	assert.Equal(t, 1, ts.fetcher.Pending())
}

func TestFetcher_Clear(t *testing.T) {
	ts := setupFetcherTestSuite(t)
	ts.cache.Add(Summary{ID: "a", Name: "Asha"})
	ts.fetcher.Clear()
	assert.Equal(t, 0, ts.cache.Len())
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	cache, err := NewCache(2)
	require.NoError(t, err)
	cache.Add(Summary{ID: "a"})
	cache.Add(Summary{ID: "b"})
	_, _ = cache.Get("a")
	cache.Add(Summary{ID: "c"})

	_, okA := cache.Get("a")
	_, okB := cache.Get("b")
	assert.True(t, okA)
	assert.False(t, okB)
	assert.Equal(t, 2, cache.Len())
}

func TestSummary_DisplayName(t *testing.T) {
	assert.Equal(t, AnonymousName, Summary{ID: "x"}.DisplayName())
	assert.Equal(t, "Asha", Summary{ID: "x", Name: "Asha"}.DisplayName())
}
