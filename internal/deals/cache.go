package deals

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"dealbot/internal/metrics"
	"dealbot/internal/steam"
	"dealbot/pkg/logx"
)

// ErrUpstreamUnavailable means the refresh failed and no cached snapshot
// exists to fall back on. Transient; callers surface it and do not retry.
var ErrUpstreamUnavailable = errors.New("upstream catalog unavailable")

const (
	// DefaultTTL is how long a snapshot is served without touching upstream.
	DefaultTTL = 20 * time.Minute
	// MinDiscountPercent filters the catalog down to items worth alerting on.
	MinDiscountPercent = 20
)

// Snapshot is a cached, time-boxed copy of the catalog for one currency
// region. Items are ordered by descending discount; ties keep upstream
// order. Callers must treat Items as read-only.
type Snapshot struct {
	Currency  string
	Items     []steam.Item
	FetchedAt time.Time
	// Stale is set when the snapshot was served past its TTL because a
	// refresh failed. It stays set until the next successful fetch.
	Stale bool
}

type CacheConfig struct {
	TTL         time.Duration
	MinDiscount int
}

// Cache holds one snapshot per currency region and coalesces concurrent
// misses into a single upstream fetch.
type Cache struct {
	cfg     CacheConfig
	fetcher steam.Fetcher
	log     logx.Logger
	mets    *metrics.Collector

	mu      sync.Mutex
	entries map[string]Snapshot

	group singleflight.Group

	now func() time.Time
}

func NewCache(cfg CacheConfig, fetcher steam.Fetcher, log logx.Logger, mets *metrics.Collector) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MinDiscount <= 0 {
		cfg.MinDiscount = MinDiscountPercent
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Cache{
		cfg:     cfg,
		fetcher: fetcher,
		log:     log,
		mets:    mets,
		entries: map[string]Snapshot{},
		now:     time.Now,
	}
}

// Get returns the snapshot for the currency region, fetching from upstream
// only when the cached entry is missing or past its TTL.
func (c *Cache) Get(ctx context.Context, currency string) (Snapshot, error) {
	return c.get(ctx, currency, false)
}

// Refresh bypasses the TTL and forces an upstream fetch. A failed forced
// refresh still falls back to the previous snapshot (marked stale).
func (c *Cache) Refresh(ctx context.Context, currency string) (Snapshot, error) {
	return c.get(ctx, currency, true)
}

func (c *Cache) get(ctx context.Context, currency string, force bool) (Snapshot, error) {
	currency = normalizeCurrency(currency)

	if !force {
		c.mu.Lock()
		entry, ok := c.entries[currency]
		ttl := c.cfg.TTL
		fresh := ok && c.now().Sub(entry.FetchedAt) < ttl
		c.mu.Unlock()
		if fresh {
			c.mets.CacheLookup("hit")
			return entry, nil
		}
	}
	c.mets.CacheLookup("miss")

	// Concurrent misses for the same currency share one flight. The winner
	// re-checks freshness under the lock so a just-finished refresh is not
	// repeated.
	v, err, _ := c.group.Do(currency, func() (any, error) {
		if !force {
			c.mu.Lock()
			entry, ok := c.entries[currency]
			fresh := ok && c.now().Sub(entry.FetchedAt) < c.cfg.TTL
			c.mu.Unlock()
			if fresh {
				return entry, nil
			}
		}
		return c.refresh(ctx, currency)
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}

func (c *Cache) refresh(ctx context.Context, currency string) (Snapshot, error) {
	start := c.now()
	items, err := c.fetcher.FetchCatalog(ctx, currency)
	if err != nil {
		c.mets.FetchFail()
		c.mu.Lock()
		prev, ok := c.entries[currency]
		if ok {
			prev.Stale = true
			c.entries[currency] = prev
		}
		c.mu.Unlock()
		if ok {
			c.mets.StaleServed()
			c.log.Warn("catalog refresh failed; serving stale snapshot",
				logx.String("currency", currency),
				logx.Time("fetched_at", prev.FetchedAt),
				logx.Err(err),
			)
			return prev, nil
		}
		return Snapshot{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	c.mets.FetchSuccess(c.now().Sub(start))

	snap := Snapshot{
		Currency:  currency,
		Items:     Normalize(items, c.cfg.MinDiscount),
		FetchedAt: c.now(),
		Stale:     false,
	}
	c.mu.Lock()
	c.entries[currency] = snap
	c.mu.Unlock()

	c.log.Debug("snapshot refreshed",
		logx.String("currency", currency),
		logx.Int("items", len(snap.Items)),
	)
	return snap, nil
}

// Normalize filters and orders raw catalog items for alerting: only items at
// or above minDiscount survive, ordered by descending discount with upstream
// order preserved on ties, and duplicate names (case-folded) collapse to the
// first occurrence after ordering.
func Normalize(items []steam.Item, minDiscount int) []steam.Item {
	kept := make([]steam.Item, 0, len(items))
	for _, it := range items {
		if it.DiscountPercent >= minDiscount {
			kept = append(kept, it)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].DiscountPercent > kept[j].DiscountPercent
	})

	seen := make(map[string]struct{}, len(kept))
	out := kept[:0]
	for _, it := range kept {
		key := strings.ToLower(strings.TrimSpace(it.Name))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, it)
	}
	return out
}

func normalizeCurrency(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "us"
	}
	return s
}
