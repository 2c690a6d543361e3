package mapping

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/sssolid/crown-nexus/engine/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type staticLoader struct {
	mu       sync.Mutex
	mappings []domain.ModelMapping
	err      error
	calls    int
}

func (l *staticLoader) ListActive(context.Context) ([]domain.ModelMapping, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return append([]domain.ModelMapping(nil), l.mappings...), nil
}

func (l *staticLoader) set(ms ...domain.ModelMapping) {
	l.mu.Lock()
	l.mappings = ms
	l.mu.Unlock()
}

func mapping(id int64, pattern, model string, priority int) domain.ModelMapping {
	return domain.ModelMapping{ID: id, Pattern: pattern, Make: "Jeep", VehicleCode: "X", Model: model, Priority: priority, Active: true}
}

func refreshed(t *testing.T, ms ...domain.ModelMapping) *Cache {
	t.Helper()
	c := NewCache(&staticLoader{mappings: ms}, nil)
	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	return c
}

func TestCache_NotInitialized(t *testing.T) {
	c := NewCache(&staticLoader{}, nil)
	if _, err := c.Match("anything"); !errors.Is(err, ErrCacheNotInitialized) {
		t.Fatalf("expected ErrCacheNotInitialized, got %v", err)
	}
	if c.Ready() || c.Len() != 0 || !c.LoadedAt().IsZero() {
		t.Fatal("empty cache must report not ready")
	}
}

func TestCache_NoMatchIsNil(t *testing.T) {
	c := refreshed(t, mapping(1, "WK Grand Cherokee", "Grand Cherokee", 0))
	m, err := c.Match("2005 Ford F-150")
	if err != nil || m != nil {
		t.Fatalf("expected no match, got %+v %v", m, err)
	}
}

func TestCache_CaseInsensitiveContainment(t *testing.T) {
	c := refreshed(t, mapping(1, "WK Grand Cherokee", "Grand Cherokee", 0))
	m, err := c.Match("LIFTED wk GRAND cherokee LAREDO")
	if err != nil || m == nil || m.Mapping.ID != 1 {
		t.Fatalf("expected mapping 1, got %+v %v", m, err)
	}
}

func TestCache_PriorityWins(t *testing.T) {
	c := refreshed(t,
		mapping(1, "Grand Cherokee WK", "long but low", 1),
		mapping(2, "WK", "short but high", 5),
	)
	m, _ := c.Match("Grand Cherokee WK")
	if m.Mapping.ID != 2 {
		t.Fatalf("higher priority must win, got %d", m.Mapping.ID)
	}
}

func TestCache_LongerPatternWinsOnEqualPriority(t *testing.T) {
	c := refreshed(t,
		mapping(1, "Cherokee", "Cherokee", 0),
		mapping(2, "Grand Cherokee", "Grand Cherokee", 0),
	)
	m, _ := c.Match("WK Grand Cherokee")
	if m.Mapping.ID != 2 {
		t.Fatalf("longer pattern must win, got %d", m.Mapping.ID)
	}
	if len(m.Ambiguous) != 0 {
		t.Fatalf("different lengths are not ambiguous: %+v", m.Ambiguous)
	}
}

func TestCache_PatternLengthCountsRunes(t *testing.T) {
	// "Citroën" is 7 runes in 8 bytes; "Citroen2" is 8 runes in 8 bytes.
	c := refreshed(t,
		mapping(9, "Citroën", "umlaut", 0),
		mapping(1, "Citroen2", "ascii", 0),
	)
	m, _ := c.Match("citroën citroen2")
	if m.Mapping.ID != 1 {
		t.Fatalf("expected rune-longer pattern to win, got %d", m.Mapping.ID)
	}
}

func TestCache_HighestIDBreaksTies(t *testing.T) {
	c := refreshed(t,
		mapping(1, "WK", "older", 3),
		mapping(9, "wk", "newer", 3),
		mapping(5, "Wk", "middle", 3),
	)
	m, _ := c.Match("2005 WK Grand Cherokee")
	if m.Mapping.ID != 9 {
		t.Fatalf("most recently created must win, got %d", m.Mapping.ID)
	}
	if len(m.Ambiguous) != 2 {
		t.Fatalf("expected the two tied mappings to be reported, got %+v", m.Ambiguous)
	}
}

func TestCache_AmbiguityAcrossDifferentPatterns(t *testing.T) {
	c := refreshed(t,
		mapping(1, "WK", "a", 0),
		mapping(2, "ZJ", "b", 0),
	)
	m, _ := c.Match("WK ZJ swap")
	if m.Mapping.ID != 2 || len(m.Ambiguous) != 1 || m.Ambiguous[0].ID != 1 {
		t.Fatalf("unexpected match %+v", m)
	}
}

func TestCache_InactiveNeverMatches(t *testing.T) {
	inactive := mapping(1, "WK", "inactive", 100)
	inactive.Active = false
	c := refreshed(t, inactive)
	if m, _ := c.Match("WK"); m != nil {
		t.Fatalf("inactive mapping matched: %+v", m)
	}
	if c.Len() != 0 {
		t.Fatalf("inactive mapping cached")
	}
}

func TestCache_Diagnostics(t *testing.T) {
	c := refreshed(t,
		mapping(1, "WK", "a", 1),
		mapping(2, " wk ", "b", 1),
		mapping(3, "WK", "c", 2),
		mapping(4, "ZJ", "d", 1),
	)
	d := c.Diagnostics()
	if len(d) != 1 {
		t.Fatalf("expected one duplicate group, got %+v", d)
	}
	if d[0].Pattern != "wk" || d[0].Priority != 1 || len(d[0].IDs) != 2 {
		t.Fatalf("unexpected duplicate %+v", d[0])
	}
}

func TestCache_RefreshIsExplicit(t *testing.T) {
	loader := &staticLoader{mappings: []domain.ModelMapping{mapping(1, "WK", "old", 0)}}
	c := NewCache(loader, nil)
	ctx := context.Background()
	if _, err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	loader.set(mapping(2, "WK", "new", 0))
	if m, _ := c.Match("WK"); m.Mapping.ID != 1 {
		t.Fatal("store changes must not be visible before refresh")
	}
	stats, err := c.Refresh(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Loaded != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if m, _ := c.Match("WK"); m.Mapping.ID != 2 {
		t.Fatal("refresh must publish the new snapshot")
	}
}

func TestCache_FailedRefreshKeepsSnapshot(t *testing.T) {
	loader := &staticLoader{mappings: []domain.ModelMapping{mapping(1, "WK", "old", 0)}}
	c := NewCache(loader, nil)
	ctx := context.Background()
	c.Refresh(ctx)
	loaded := c.LoadedAt()

	loader.err = errors.New("neo4j down")
	if _, err := c.Refresh(ctx); err == nil {
		t.Fatal("expected refresh error")
	}
	if m, err := c.Match("WK"); err != nil || m.Mapping.ID != 1 {
		t.Fatalf("previous snapshot lost: %+v %v", m, err)
	}
	if !c.LoadedAt().Equal(loaded) {
		t.Fatal("LoadedAt changed on failed refresh")
	}
}

func TestCache_ConcurrentMatchDuringRefresh(t *testing.T) {
	loader := &staticLoader{mappings: []domain.ModelMapping{mapping(1, "WK", "v1", 0)}}
	c := NewCache(loader, nil)
	ctx := context.Background()
	c.Refresh(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				m, err := c.Match("2005 WK")
				if err != nil || m == nil {
					t.Errorf("reader saw %+v %v", m, err)
					return
				}
				// Every snapshot is complete: one of the two generations.
				if id := m.Mapping.ID; id != 1 && id != 2 {
					t.Errorf("torn snapshot: id %d", id)
					return
				}
			}
		}()
	}
	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			loader.set(mapping(2, "WK", "v2", 0))
		} else {
			loader.set(mapping(1, "WK", "v1", 0))
		}
		if _, err := c.Refresh(ctx); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()
}

func TestCache_TrailingSpaceIsPartOfPattern(t *testing.T) {
	c := refreshed(t, mapping(1, "WK ", "Grand Cherokee", 0))
	if m, _ := c.Match("WKX Widget"); m != nil {
		t.Fatalf("pattern with trailing space matched a longer token: %+v", m.Mapping)
	}
	if m, _ := c.Match("WK Grand Cherokee"); m == nil || m.Mapping.ID != 1 {
		t.Fatalf("expected match, got %+v", m)
	}
}
