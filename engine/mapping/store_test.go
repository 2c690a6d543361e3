package mapping

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sssolid/crown-nexus/engine/domain"
	"github.com/sssolid/crown-nexus/pkg/repo/repotest"
)

// memGraph answers the mapping store statements from an in-memory node set.
type memGraph struct {
	mu    sync.Mutex
	seq   int64
	nodes map[int64]map[string]any
	fail  error
}

func newMemGraph() *memGraph {
	return &memGraph{nodes: make(map[int64]map[string]any)}
}

func (g *memGraph) handle(cypher string, params map[string]any) ([]*neo4j.Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail != nil {
		return nil, g.fail
	}
	switch {
	case strings.Contains(cypher, "MERGE (s:Sequence"):
		g.seq++
		return []*neo4j.Record{repotest.ValueRecord("value", g.seq)}, nil
	case strings.HasPrefix(cypher, "CREATE"):
		props := copyProps(params["props"].(map[string]any))
		g.nodes[props["id"].(int64)] = props
		return []*neo4j.Record{repotest.NodeRecord("n", props)}, nil
	case strings.Contains(cypher, "SET n += $props"):
		id := params["id"].(int64)
		n, ok := g.nodes[id]
		if !ok {
			return nil, nil
		}
		for k, v := range params["props"].(map[string]any) {
			n[k] = v
		}
		return []*neo4j.Record{repotest.NodeRecord("n", copyProps(n))}, nil
	case strings.Contains(cypher, "DETACH DELETE"):
		id := params["id"].(int64)
		var deleted int64
		if _, ok := g.nodes[id]; ok {
			delete(g.nodes, id)
			deleted = 1
		}
		return []*neo4j.Record{repotest.ValueRecord("deleted", deleted)}, nil
	case strings.Contains(cypher, "count(n) AS total"):
		return []*neo4j.Record{repotest.ValueRecord("total", int64(len(g.filter(params))))}, nil
	case strings.Contains(cypher, "{id: $id}"):
		if n, ok := g.nodes[params["id"].(int64)]; ok {
			return []*neo4j.Record{repotest.NodeRecord("n", copyProps(n))}, nil
		}
		return nil, nil
	case strings.HasPrefix(cypher, "MATCH (n:ModelMapping)"):
		var recs []*neo4j.Record
		nodes := g.filter(params)
		offset, limit := 0, len(nodes)
		if _, paged := params["offset"]; paged {
			offset, limit = int(params["offset"].(int64)), int(params["limit"].(int64))
		}
		for i := offset; i < len(nodes) && i < offset+limit; i++ {
			recs = append(recs, repotest.NodeRecord("n", nodes[i]))
		}
		return recs, nil
	}
	return nil, nil
}

// filter applies the active filter and returns nodes in id order.
func (g *memGraph) filter(params map[string]any) []map[string]any {
	var out []map[string]any
	for id := int64(1); id <= g.seq; id++ {
		n, ok := g.nodes[id]
		if !ok {
			continue
		}
		if want, ok := params["f0"]; ok && n["active"] != want {
			continue
		}
		if sub, ok := params["c0"].(string); ok && !strings.Contains(strings.ToLower(n["pattern"].(string)), sub) {
			continue
		}
		out = append(out, copyProps(n))
	}
	return out
}

func copyProps(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func (n *recordingNotifier) MappingsChanged(_ context.Context, ev ChangeEvent) {
	n.mu.Lock()
	n.events = append(n.events, ev)
	n.mu.Unlock()
}

func newTestStore() (*Neo4jStore, *memGraph, *recordingNotifier, *repotest.Session) {
	g := newMemGraph()
	sess := repotest.New(g.handle)
	n := &recordingNotifier{}
	return NewNeo4jStore(sess, WithNotifier(n)), g, n, sess
}

func wk() domain.ModelMapping {
	return domain.ModelMapping{Pattern: "WK Grand Cherokee", Make: "Jeep", VehicleCode: "WK", Model: "Grand Cherokee", Priority: 10, Active: true}
}

func TestStore_CreateStoresEncodedTarget(t *testing.T) {
	store, g, notifier, _ := newTestStore()
	m, err := store.Create(context.Background(), wk())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if m.ID != 1 {
		t.Fatalf("expected id 1, got %d", m.ID)
	}
	if got := g.nodes[1]["target"]; got != "Jeep|WK|Grand Cherokee" {
		t.Fatalf("unexpected stored target %v", got)
	}
	if _, ok := g.nodes[1]["make"]; ok {
		t.Fatal("make must not be stored as its own property")
	}
	if m.Make != "Jeep" || m.VehicleCode != "WK" || m.Model != "Grand Cherokee" {
		t.Fatalf("typed fields not decoded: %+v", m)
	}
	if len(notifier.events) != 1 || notifier.events[0].Op != OpCreate {
		t.Fatalf("expected one create event, got %+v", notifier.events)
	}
}

func TestStore_CreateIDsIncrease(t *testing.T) {
	store, _, _, _ := newTestStore()
	ctx := context.Background()
	a, _ := store.Create(ctx, wk())
	b, _ := store.Create(ctx, wk())
	if b.ID <= a.ID {
		t.Fatalf("ids must increase with creation order: %d then %d", a.ID, b.ID)
	}
}

func TestStore_CreateRejectsInvalid(t *testing.T) {
	store, g, notifier, sess := newTestStore()
	m := wk()
	m.Make = "  "
	_, err := store.Create(context.Background(), m)
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || ve.Field != "make" {
		t.Fatalf("expected make ValidationError, got %v", err)
	}
	if len(g.nodes) != 0 || len(sess.Calls()) != 0 || len(notifier.events) != 0 {
		t.Fatal("invalid mapping must not reach the store")
	}
}

func TestStore_UpdatePatchesFields(t *testing.T) {
	store, g, notifier, _ := newTestStore()
	ctx := context.Background()
	created, _ := store.Create(ctx, wk())

	prio := 99
	model := "Grand Cherokee SRT"
	updated, err := store.Update(ctx, created.ID, domain.MappingPatch{Priority: &prio, Model: &model})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Priority != 99 || updated.Model != "Grand Cherokee SRT" || updated.Make != "Jeep" {
		t.Fatalf("unexpected update result %+v", updated)
	}
	if g.nodes[created.ID]["target"] != "Jeep|WK|Grand Cherokee SRT" {
		t.Fatalf("target not re-encoded: %v", g.nodes[created.ID]["target"])
	}
	if last := notifier.events[len(notifier.events)-1]; last.Op != OpUpdate || last.IDs[0] != created.ID {
		t.Fatalf("unexpected event %+v", last)
	}
}

func TestStore_UpdateValidatesResult(t *testing.T) {
	store, _, _, _ := newTestStore()
	ctx := context.Background()
	created, _ := store.Create(ctx, wk())
	empty := ""
	_, err := store.Update(ctx, created.ID, domain.MappingPatch{Pattern: &empty})
	if !errors.Is(err, domain.ErrInvalidMapping) {
		t.Fatalf("expected ErrInvalidMapping, got %v", err)
	}
}

func TestStore_NotFound(t *testing.T) {
	store, _, _, _ := newTestStore()
	ctx := context.Background()
	prio := 1
	if _, err := store.Update(ctx, 42, domain.MappingPatch{Priority: &prio}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("update: expected ErrNotFound, got %v", err)
	}
	if err := store.Delete(ctx, 42); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("delete: expected ErrNotFound, got %v", err)
	}
	if _, err := store.Get(ctx, 42); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("get: expected ErrNotFound, got %v", err)
	}
}

func TestStore_Delete(t *testing.T) {
	store, g, _, _ := newTestStore()
	ctx := context.Background()
	created, _ := store.Create(ctx, wk())
	if err := store.Delete(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(g.nodes) != 0 {
		t.Fatal("node not removed")
	}
}

func TestStore_ListPageAndFilter(t *testing.T) {
	store, _, _, sess := newTestStore()
	ctx := context.Background()
	for _, p := range []string{"WK Grand Cherokee", "ZJ Grand Cherokee", "TJ Wrangler"} {
		m := wk()
		m.Pattern = p
		if _, err := store.Create(ctx, m); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	page, err := store.List(ctx, ListQuery{Pattern: "grand", SortBy: "priority", Desc: true, Limit: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 2 || len(page.Items) != 1 || page.Limit != 1 {
		t.Fatalf("unexpected page %+v", page)
	}
	var listCypher string
	for _, c := range sess.Calls() {
		if strings.Contains(c.Cypher, "ORDER BY") {
			listCypher = c.Cypher
		}
	}
	if !strings.Contains(listCypher, "ORDER BY n.priority DESC") {
		t.Fatalf("sort not applied: %s", listCypher)
	}
}

func TestStore_ListRejectsUnknownSort(t *testing.T) {
	store, _, _, _ := newTestStore()
	_, err := store.List(context.Background(), ListQuery{SortBy: "target; DROP"})
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || ve.Field != "sort" {
		t.Fatalf("expected sort ValidationError, got %v", err)
	}
}

func TestStore_ListActiveSkipsInactive(t *testing.T) {
	store, _, _, _ := newTestStore()
	ctx := context.Background()
	active := wk()
	inactive := wk()
	inactive.Active = false
	store.Create(ctx, active)
	store.Create(ctx, inactive)

	got, err := store.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(got) != 1 || !got[0].Active {
		t.Fatalf("expected only the active mapping, got %+v", got)
	}
}

func TestStore_InfraErrorPropagates(t *testing.T) {
	store, g, _, _ := newTestStore()
	g.fail = errors.New("connection refused")
	if _, err := store.ListActive(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if _, err := store.Create(context.Background(), wk()); err == nil || errors.Is(err, domain.ErrInvalidMapping) {
		t.Fatalf("expected infra error, got %v", err)
	}
}

func TestStore_ImportThenRefreshVisible(t *testing.T) {
	store, _, _, _ := newTestStore()
	ctx := context.Background()
	res, err := store.BulkImport(ctx, []byte(`[{"pattern":"WK Grand Cherokee","make":"Jeep","vehicleCode":"WK","model":"Grand Cherokee","priority":10}]`))
	if err != nil || res.ImportedCount != 1 {
		t.Fatalf("import: %+v %v", res, err)
	}

	cache := NewCache(store, nil)
	if _, err := cache.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	m, err := cache.Match("2005 wk grand cherokee laredo")
	if err != nil || m == nil {
		t.Fatalf("expected match, got %v %v", m, err)
	}
	if m.Mapping.Make != "Jeep" || !m.Mapping.Active {
		t.Fatalf("unexpected mapping %+v", m.Mapping)
	}
}

func TestStore_ImportListRoundTrip(t *testing.T) {
	store, _, _, _ := newTestStore()
	ctx := context.Background()
	payload := `[
		{"pattern":"WK Grand Cherokee","make":"Jeep","vehicleCode":"WK","model":"Grand Cherokee","priority":10,"active":true},
		{"pattern":"TJ ","make":"Jeep","vehicleCode":"TJ","model":"Wrangler","priority":3},
		{"pattern":"Silverado","make":" Chevrolet ","vehicleCode":"GMT900","model":"Silverado 1500","active":false},
		{"pattern":"Land Rover L322","make":"Land Rover","vehicleCode":"L322","model":"Range  Rover","priority":-1,"active":true}
	]`
	want := []domain.ModelMapping{
		{Pattern: "WK Grand Cherokee", Make: "Jeep", VehicleCode: "WK", Model: "Grand Cherokee", Priority: 10, Active: true},
		{Pattern: "TJ ", Make: "Jeep", VehicleCode: "TJ", Model: "Wrangler", Priority: 3, Active: true},
		{Pattern: "Silverado", Make: " Chevrolet ", VehicleCode: "GMT900", Model: "Silverado 1500", Active: false},
		{Pattern: "Land Rover L322", Make: "Land Rover", VehicleCode: "L322", Model: "Range  Rover", Priority: -1, Active: true},
	}

	res, err := store.BulkImport(ctx, []byte(payload))
	if err != nil || res.ImportedCount != len(want) {
		t.Fatalf("import: %+v %v", res, err)
	}
	page, err := store.List(ctx, ListQuery{Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != int64(len(want)) {
		t.Fatalf("expected %d mappings, got %d", len(want), page.Total)
	}
	if diff := cmp.Diff(want, page.Items, cmpopts.IgnoreFields(domain.ModelMapping{}, "ID")); diff != "" {
		t.Fatalf("listed mappings differ from import (-want +got):\n%s", diff)
	}

	cache := NewCache(store, nil)
	if _, err := cache.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	tests := []struct {
		text   string
		wantID int64
	}{
		{"2005 wk grand cherokee laredo", res.IDs[0]},
		{"TJ Wrangler", res.IDs[1]},
		{"TJX Widget", 0},
		{"Silverado 1500", 0},
		{"Land Rover L322 HSE", res.IDs[3]},
	}
	for _, tt := range tests {
		m, err := cache.Match(tt.text)
		if err != nil {
			t.Fatalf("match %q: %v", tt.text, err)
		}
		var got int64
		if m != nil {
			got = m.Mapping.ID
		}
		if got != tt.wantID {
			t.Errorf("match %q: expected mapping %d, got %d", tt.text, tt.wantID, got)
		}
	}
}

func TestStore_ListActiveReadsOnce(t *testing.T) {
	store, _, _, sess := newTestStore()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		store.Create(ctx, wk())
	}
	inactive := wk()
	inactive.Active = false
	store.Create(ctx, inactive)

	before := len(sess.Calls())
	got, err := store.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 active mappings, got %d", len(got))
	}
	calls := sess.Calls()[before:]
	if len(calls) != 1 || strings.Contains(calls[0].Cypher, "SKIP") {
		t.Fatalf("expected a single unpaged read, got %+v", calls)
	}
}

func TestStore_CreateKeepsTextVerbatim(t *testing.T) {
	store, g, _, _ := newTestStore()
	m := wk()
	m.Pattern = "WK "
	created, err := store.Create(context.Background(), m)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Pattern != "WK " || g.nodes[created.ID]["pattern"] != "WK " {
		t.Fatalf("pattern not stored verbatim: %q / %v", created.Pattern, g.nodes[created.ID]["pattern"])
	}
}
