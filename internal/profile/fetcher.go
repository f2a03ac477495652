package profile

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const (
	// DefaultBatchWindow is how long the fetcher waits for more ids before looking them up.
	DefaultBatchWindow = 100 * time.Millisecond
	// DefaultLookupTimeout bounds a single batched lookup.
	DefaultLookupTimeout = 10 * time.Second
)

// FetcherConfig tunes the batching behaviour of a Fetcher.
type FetcherConfig struct {
	Window        time.Duration
	LookupTimeout time.Duration
}

// Fetcher coalesces profile lookups issued within a short window into one
// batched Source call and memoizes the results in a Cache.
//
// Every call that adds an uncached id restarts the window, so a burst of calls
// produces a single lookup once the burst subsides.
type Fetcher struct {
	cache  *Cache
	source Source
	clock  clock.Clock
	cfg    FetcherConfig
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	waiters []chan struct{}
	timer   *clock.Timer
}

// NewFetcher creates a fetcher over source. clk schedules flushes; pass clock.New()
// outside of tests.
func NewFetcher(cache *Cache, source Source, clk clock.Clock, cfg FetcherConfig, logger *zap.Logger) *Fetcher {
	if cfg.Window <= 0 {
		cfg.Window = DefaultBatchWindow
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	return &Fetcher{
		cache:   cache,
		source:  source,
		clock:   clk,
		cfg:     cfg,
		logger:  logger.Named("ProfileFetcher"),
		pending: make(map[string]struct{}),
	}
}

// Get resolves a single profile summary.
func (f *Fetcher) Get(ctx context.Context, id string) (Summary, bool) {
	found := f.GetMany(ctx, []string{id})
	s, ok := found[id]
	return s, ok
}

// GetMany resolves the given ids. Ids that could not be resolved are absent from
// the result; a failed lookup never surfaces as an error.
func (f *Fetcher) GetMany(ctx context.Context, ids []string) map[string]Summary {
	result := make(map[string]Summary, len(ids))
	var missing []string
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if s, ok := f.cache.Get(id); ok {
			result[id] = s
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return result
	}

	done := f.enqueue(missing)
	select {
	case <-done:
	case <-ctx.Done():
		f.logger.Debug("Profile lookup abandoned by caller", zap.Int("ids", len(missing)), zap.Error(ctx.Err()))
	}

	for _, id := range missing {
		if s, ok := f.cache.Get(id); ok {
			result[id] = s
		}
	}
	return result
}

// Pending returns the number of ids waiting for the next flush.
func (f *Fetcher) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// Clear empties the profile cache.
func (f *Fetcher) Clear() {
	f.cache.Purge()
}

func (f *Fetcher) enqueue(ids []string) <-chan struct{} {
	done := make(chan struct{})
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.pending[id] = struct{}{}
	}
	f.waiters = append(f.waiters, done)
	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = f.clock.AfterFunc(f.cfg.Window, f.flush)
	return done
}

func (f *Fetcher) flush() {
	f.mu.Lock()
	ids := make([]string, 0, len(f.pending))
	for id := range f.pending {
		if _, ok := f.cache.Get(id); !ok {
			ids = append(ids, id)
		}
	}
	waiters := f.waiters
	f.pending = make(map[string]struct{})
	f.waiters = nil
	f.timer = nil
	f.mu.Unlock()

	if len(ids) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), f.cfg.LookupTimeout)
		summaries, err := f.source.Lookup(ctx, ids)
		cancel()
		if err != nil {
			f.logger.Warn("Batch profile lookup failed", zap.Int("ids", len(ids)), zap.Error(err))
		} else {
			for _, s := range summaries {
				f.cache.Add(s)
			}
			f.logger.Debug("Batch profile lookup complete", zap.Int("requested", len(ids)), zap.Int("found", len(summaries)))
		}
	}

	for _, w := range waiters {
		close(w)
	}
}
