package price

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/solcrank/perp-keeper/internal/model"
)

// ErrNoPrice means every source failed and no fresh-enough cache entry
// exists.
var ErrNoPrice = errors.New("no usable price from any source")

// Config holds resolver settings.
type Config struct {
	SourceTimeout time.Duration // Per-source fetch bound
	CacheTTL      time.Duration // Max cache age for the fallback path
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SourceTimeout: 2500 * time.Millisecond,
		CacheTTL:      60 * time.Second,
	}
}

// Resolver cascades primary -> secondary -> cache.
type Resolver struct {
	cfg       Config
	primary   Source
	secondary Source
	logger    *slog.Logger

	group singleflight.Group

	mu          sync.RWMutex
	cache       map[string]model.PriceEntry
	staleServed map[string]bool // Mints currently being served from cache, to log the warning once

	now func() time.Time
}

// NewResolver creates a Resolver over the two external sources.
func NewResolver(cfg Config, primary, secondary Source, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SourceTimeout == 0 {
		cfg.SourceTimeout = DefaultConfig().SourceTimeout
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}

	return &Resolver{
		cfg:         cfg,
		primary:     primary,
		secondary:   secondary,
		logger:      logger,
		cache:       make(map[string]model.PriceEntry),
		staleServed: make(map[string]bool),
		now:         time.Now,
	}
}

// Resolve returns a validated price for the mint. Concurrent calls for
// the same mint share a single outbound fetch.
func (r *Resolver) Resolve(ctx context.Context, mint string) (model.PriceEntry, error) {
	v, err, _ := r.group.Do(mint, func() (any, error) {
		return r.resolve(ctx, mint)
	})
	if err != nil {
		return model.PriceEntry{}, err
	}
	return v.(model.PriceEntry), nil
}

func (r *Resolver) resolve(ctx context.Context, mint string) (model.PriceEntry, error) {
	if entry, ok := r.fetchFrom(ctx, r.primary, mint); ok {
		return entry, nil
	}
	if entry, ok := r.fetchFrom(ctx, r.secondary, mint); ok {
		return entry, nil
	}

	// Both external sources failed: serve the cache while it is fresh.
	r.mu.Lock()
	defer r.mu.Unlock()

	cached, ok := r.cache[mint]
	if !ok {
		return model.PriceEntry{}, ErrNoPrice
	}

	age := r.now().UnixMilli() - cached.FetchedAtMs
	if age >= r.cfg.CacheTTL.Milliseconds() {
		return model.PriceEntry{}, ErrNoPrice
	}

	if !r.staleServed[mint] {
		r.staleServed[mint] = true
		r.logger.Warn("serving cached price, external sources unavailable",
			"mint", mint,
			"age_ms", age,
		)
	}

	// The cached timestamp is preserved so a stale value never looks
	// artificially fresh.
	cached.Source = model.SourceCached
	return cached, nil
}

// fetchFrom queries one source under the per-source timeout and caches
// a validated result.
func (r *Resolver) fetchFrom(ctx context.Context, src Source, mint string) (model.PriceEntry, bool) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.SourceTimeout)
	defer cancel()

	priceE6, err := src.Quote(fetchCtx, mint)
	if err != nil {
		r.logger.Debug("price source failed",
			"source", string(src.Name()),
			"mint", mint,
			"error", err,
		)
		return model.PriceEntry{}, false
	}

	entry := model.PriceEntry{
		PriceE6:     priceE6,
		FetchedAtMs: r.now().UnixMilli(),
		Source:      src.Name(),
	}

	r.mu.Lock()
	r.cache[mint] = entry
	delete(r.staleServed, mint)
	r.mu.Unlock()

	return entry, true
}

// Cached returns the raw cache entry for a mint, if any. Reporting
// only; does not apply the freshness window.
func (r *Resolver) Cached(mint string) (model.PriceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[mint]
	return entry, ok
}
