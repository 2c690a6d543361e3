package resolve

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/sssolid/crown-nexus/engine/domain"
	"github.com/sssolid/crown-nexus/engine/mapping"
)

// fakeMatcher answers Match from a fixed table keyed by exact text.
type fakeMatcher struct {
	matches map[string]*mapping.Match
	err     error
}

func (f *fakeMatcher) Match(text string) (*mapping.Match, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.matches[text], nil
}

// fakeVehicles holds reference rows keyed by lower-cased "make|model".
type fakeVehicles struct {
	rows map[string][]domain.VehicleRow
	err  error

	mu      sync.Mutex
	queries []string
}

func (f *fakeVehicles) FindVehicles(_ context.Context, make, model string, yearMin, yearMax int) ([]domain.VehicleRow, error) {
	key := strings.ToLower(strings.TrimSpace(make) + "|" + strings.TrimSpace(model))
	f.mu.Lock()
	f.queries = append(f.queries, key)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.VehicleRow
	for _, r := range f.rows[key] {
		if r.Year >= yearMin && r.Year <= yearMax {
			out = append(out, r)
		}
	}
	return out, nil
}

// yearRows builds one row per year with ids starting at base.
func yearRows(make, model string, from, to, base int) []domain.VehicleRow {
	var out []domain.VehicleRow
	for y := from; y <= to; y++ {
		out = append(out, domain.VehicleRow{ID: base + y - from, Year: y, Make: make, Model: model})
	}
	return out
}

// fakePositions resolves normalized names from a table and counts lookups.
type fakePositions struct {
	ids map[string]int
	err error

	mu      sync.Mutex
	lookups []string
}

func (f *fakePositions) FindPosition(_ context.Context, normalized string) (int, bool, error) {
	f.mu.Lock()
	f.lookups = append(f.lookups, normalized)
	f.mu.Unlock()
	if f.err != nil {
		return 0, false, f.err
	}
	id, ok := f.ids[normalized]
	return id, ok, nil
}

var errStoreDown = errors.New("store down")
