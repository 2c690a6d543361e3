package mapping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sssolid/crown-nexus/engine/domain"
)

// ErrCacheNotInitialized is returned by Match before the first successful refresh.
var ErrCacheNotInitialized = errors.New("mapping cache not initialized")

var tracer = otel.Tracer("crown-nexus/mapping")

// Loader supplies the active mappings for a refresh.
type Loader interface {
	ListActive(ctx context.Context) ([]domain.ModelMapping, error)
}

// Match is the winning mapping for a vehicle text. Ambiguous lists other
// matching mappings tied with the winner on priority and pattern length.
type Match struct {
	Mapping   domain.ModelMapping
	Ambiguous []domain.ModelMapping
}

// Duplicate is a pattern held by more than one active mapping at the same
// priority.
type Duplicate struct {
	Pattern  string  `json:"pattern"`
	Priority int     `json:"priority"`
	IDs      []int64 `json:"ids"`
}

// RefreshStats describes a completed refresh.
type RefreshStats struct {
	Loaded     int           `json:"loaded"`
	Duplicates int           `json:"duplicates"`
	LoadedAt   time.Time     `json:"loaded_at"`
	Duration   time.Duration `json:"duration_ns"`
}

type entry struct {
	m       domain.ModelMapping
	pattern string // lower-cased, whitespace kept
	length  int    // runes in pattern
}

type snapshot struct {
	entries    []entry
	duplicates []Duplicate
	loadedAt   time.Time
}

// Cache holds an immutable, sorted snapshot of the active mappings. Readers
// load the snapshot without locking; Refresh builds a new one and swaps it in.
type Cache struct {
	loader Loader
	logger *slog.Logger

	mu   sync.Mutex // serializes refreshes
	snap atomic.Pointer[snapshot]
}

// NewCache creates an empty cache. Match fails until Refresh succeeds.
func NewCache(loader Loader, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{loader: loader, logger: logger}
}

// Refresh reloads the active mappings. On failure the previous snapshot stays
// in place.
func (c *Cache) Refresh(ctx context.Context) (RefreshStats, error) {
	ctx, span := tracer.Start(ctx, "mapping.Refresh")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	mappings, err := c.loader.ListActive(ctx)
	if err != nil {
		refreshTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return RefreshStats{}, fmt.Errorf("mapping: refresh: %w", err)
	}

	snap := build(mappings, start)
	c.snap.Store(snap)

	for _, d := range snap.duplicates {
		c.logger.Warn("duplicate mapping pattern", "pattern", d.Pattern, "priority", d.Priority, "ids", d.IDs)
	}
	stats := RefreshStats{
		Loaded:     len(snap.entries),
		Duplicates: len(snap.duplicates),
		LoadedAt:   snap.loadedAt,
		Duration:   time.Since(start),
	}
	refreshTotal.WithLabelValues("ok").Inc()
	cacheEntries.Set(float64(stats.Loaded))
	span.SetAttributes(attribute.Int("mappings.loaded", stats.Loaded))
	c.logger.Info("mapping cache refreshed", "loaded", stats.Loaded, "duplicates", stats.Duplicates, "duration", stats.Duration)
	return stats, nil
}

// Match returns the highest-ranked active mapping whose pattern occurs in
// text, ignoring case, or nil when none does.
func (c *Cache) Match(text string) (*Match, error) {
	snap := c.snap.Load()
	if snap == nil {
		return nil, ErrCacheNotInitialized
	}
	lower := strings.ToLower(text)

	for i, e := range snap.entries {
		if !strings.Contains(lower, e.pattern) {
			continue
		}
		match := &Match{Mapping: e.m}
		for _, o := range snap.entries[i+1:] {
			if o.m.Priority != e.m.Priority || o.length != e.length {
				break
			}
			if strings.Contains(lower, o.pattern) {
				match.Ambiguous = append(match.Ambiguous, o.m)
			}
		}
		if len(match.Ambiguous) > 0 {
			c.logger.Warn("ambiguous mapping match", "text", text, "winner", e.m.ID, "tied", len(match.Ambiguous))
		}
		return match, nil
	}
	return nil, nil
}

// Diagnostics returns the duplicate patterns found by the last refresh.
func (c *Cache) Diagnostics() []Duplicate {
	snap := c.snap.Load()
	if snap == nil {
		return nil
	}
	return append([]Duplicate(nil), snap.duplicates...)
}

// Len returns the number of cached mappings.
func (c *Cache) Len() int {
	if snap := c.snap.Load(); snap != nil {
		return len(snap.entries)
	}
	return 0
}

// LoadedAt returns when the current snapshot was loaded, or the zero time.
func (c *Cache) LoadedAt() time.Time {
	if snap := c.snap.Load(); snap != nil {
		return snap.loadedAt
	}
	return time.Time{}
}

// Ready reports whether a refresh has ever succeeded.
func (c *Cache) Ready() bool { return c.snap.Load() != nil }

func build(mappings []domain.ModelMapping, loadedAt time.Time) *snapshot {
	entries := make([]entry, 0, len(mappings))
	for _, m := range mappings {
		p := strings.ToLower(m.Pattern)
		if !m.Active || strings.TrimSpace(p) == "" {
			continue
		}
		entries = append(entries, entry{m: m, pattern: p, length: utf8.RuneCountInString(p)})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.m.Priority != b.m.Priority {
			return a.m.Priority > b.m.Priority
		}
		if a.length != b.length {
			return a.length > b.length
		}
		return a.m.ID > b.m.ID
	})

	type key struct {
		pattern  string
		priority int
	}
	groups := make(map[key][]int64)
	var order []key
	for _, e := range entries {
		k := key{e.pattern, e.m.Priority}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], e.m.ID)
	}
	var dups []Duplicate
	for _, k := range order {
		if ids := groups[k]; len(ids) > 1 {
			dups = append(dups, Duplicate{Pattern: k.pattern, Priority: k.priority, IDs: ids})
		}
	}

	return &snapshot{entries: entries, duplicates: dups, loadedAt: loadedAt.UTC()}
}
