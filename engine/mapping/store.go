// Package mapping persists operator-maintained model mappings in Neo4j and
// serves them to resolution through an atomically refreshed in-memory cache.
package mapping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"github.com/sssolid/crown-nexus/engine/domain"
	"github.com/sssolid/crown-nexus/pkg/repo"
)

const (
	label       = "ModelMapping"
	sequenceKey = "model_mapping"
)

// sortKeys whitelists the API sort names and maps them to node properties.
// make, vehicleCode and model share the encoded target property, which
// orders by make first.
var sortKeys = map[string]string{
	"id":          "id",
	"pattern":     "pattern",
	"priority":    "priority",
	"active":      "active",
	"make":        "target",
	"vehicleCode": "target",
	"model":       "target",
}

// ListQuery selects a page of mappings.
type ListQuery struct {
	// Pattern filters by case-insensitive substring of the pattern.
	Pattern string
	SortBy  string
	Desc    bool
	Offset  int
	Limit   int
}

// Page is one page of a listing plus the total number of matches.
type Page[T any] struct {
	Items  []T   `json:"items"`
	Total  int64 `json:"total"`
	Offset int   `json:"offset"`
	Limit  int   `json:"limit"`
}

// ChangeEvent describes a committed mapping mutation.
type ChangeEvent struct {
	Op  string    `json:"op"`
	IDs []int64   `json:"ids"`
	At  time.Time `json:"at"`
}

// Change operations.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	OpImport = "import"
)

// Notifier is told about committed mutations. It never refreshes the cache.
type Notifier interface {
	MappingsChanged(ctx context.Context, ev ChangeEvent)
}

// Neo4jStore is the mapping store. Each mapping is a (:ModelMapping) node with
// its make, vehicle code and model packed into a single target property.
type Neo4jStore struct {
	repo     *repo.Neo4jRepo[domain.ModelMapping]
	notifier Notifier
	logger   *slog.Logger
}

// StoreOption configures a Neo4jStore.
type StoreOption func(*Neo4jStore)

// WithNotifier registers a mutation notifier.
func WithNotifier(n Notifier) StoreOption {
	return func(s *Neo4jStore) { s.notifier = n }
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Neo4jStore) { s.logger = l }
}

// NewNeo4jStore creates a store on the given session opener.
func NewNeo4jStore(opener repo.SessionOpener, opts ...StoreOption) *Neo4jStore {
	s := &Neo4jStore{logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	s.repo = repo.NewNeo4jRepo[domain.ModelMapping](opener, label, toProps, fromRecord,
		repo.WithSequence[domain.ModelMapping](sequenceKey))
	return s
}

// List returns one page of mappings and the total count for the filter.
func (s *Neo4jStore) List(ctx context.Context, q ListQuery) (Page[domain.ModelMapping], error) {
	opts := repo.ListOpts{Offset: q.Offset, Limit: q.Limit, Desc: q.Desc}
	if opts.Limit <= 0 {
		opts.Limit = repo.DefaultLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if q.SortBy != "" {
		prop, ok := sortKeys[q.SortBy]
		if !ok {
			return Page[domain.ModelMapping]{}, domain.NewValidationError("sort", q.SortBy,
				fmt.Errorf("unsupported sort key"))
		}
		opts.SortBy = prop
	}
	if p := strings.TrimSpace(q.Pattern); p != "" {
		opts.Contains = map[string]string{"pattern": p}
	}

	items, err := s.repo.List(ctx, opts)
	if err != nil {
		return Page[domain.ModelMapping]{}, fmt.Errorf("mapping: list: %w", err)
	}
	total, err := s.repo.Count(ctx, opts)
	if err != nil {
		return Page[domain.ModelMapping]{}, fmt.Errorf("mapping: count: %w", err)
	}
	if items == nil {
		items = []domain.ModelMapping{}
	}
	return Page[domain.ModelMapping]{Items: items, Total: total, Offset: opts.Offset, Limit: opts.Limit}, nil
}

// Get returns the mapping with the given id.
func (s *Neo4jStore) Get(ctx context.Context, id int64) (domain.ModelMapping, error) {
	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.ModelMapping{}, translate("get", id, err)
	}
	return m, nil
}

// Create validates and stores a new mapping. The cache is not refreshed.
func (s *Neo4jStore) Create(ctx context.Context, m domain.ModelMapping) (domain.ModelMapping, error) {
	created, err := s.create(ctx, m)
	if err != nil {
		return domain.ModelMapping{}, err
	}
	s.notify(ctx, OpCreate, created.ID)
	return created, nil
}

func (s *Neo4jStore) create(ctx context.Context, m domain.ModelMapping) (domain.ModelMapping, error) {
	if err := domain.ValidateMapping(m); err != nil {
		return domain.ModelMapping{}, err
	}
	created, err := s.repo.Create(ctx, m)
	if err != nil {
		return domain.ModelMapping{}, fmt.Errorf("mapping: create: %w", err)
	}
	return created, nil
}

// Update applies a partial update to an existing mapping.
func (s *Neo4jStore) Update(ctx context.Context, id int64, patch domain.MappingPatch) (domain.ModelMapping, error) {
	cur, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.ModelMapping{}, translate("update", id, err)
	}
	next := patch.Apply(cur)
	if err := domain.ValidateMapping(next); err != nil {
		return domain.ModelMapping{}, err
	}
	updated, err := s.repo.Update(ctx, id, next)
	if err != nil {
		return domain.ModelMapping{}, translate("update", id, err)
	}
	s.notify(ctx, OpUpdate, id)
	return updated, nil
}

// Delete removes a mapping.
func (s *Neo4jStore) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return translate("delete", id, err)
	}
	s.notify(ctx, OpDelete, id)
	return nil
}

// ListActive returns every active mapping in one read. Paging across
// sessions could skip rows when a mapping is deleted between pages.
func (s *Neo4jStore) ListActive(ctx context.Context) ([]domain.ModelMapping, error) {
	items, err := s.repo.All(ctx, map[string]any{"active": true})
	if err != nil {
		return nil, fmt.Errorf("mapping: list active: %w", err)
	}
	return items, nil
}

func (s *Neo4jStore) notify(ctx context.Context, op string, ids ...int64) {
	if s.notifier == nil || len(ids) == 0 {
		return
	}
	s.notifier.MappingsChanged(ctx, ChangeEvent{Op: op, IDs: ids, At: time.Now().UTC()})
}

func translate(op string, id int64, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("mapping %d: %w", id, domain.ErrNotFound)
	}
	return fmt.Errorf("mapping: %s %d: %w", op, id, err)
}

func toProps(m domain.ModelMapping) map[string]any {
	return map[string]any{
		"id":       m.ID,
		"pattern":  m.Pattern,
		"target":   formatTarget(m.Make, m.VehicleCode, m.Model),
		"priority": int64(m.Priority),
		"active":   m.Active,
	}
}

func fromRecord(rec *neo4j.Record) (domain.ModelMapping, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return domain.ModelMapping{}, fmt.Errorf("mapping: decode: %w", err)
	}
	props := node.Props
	id, _ := props["id"].(int64)
	pattern, _ := props["pattern"].(string)
	target, _ := props["target"].(string)
	priority, _ := props["priority"].(int64)
	active, _ := props["active"].(bool)

	mk, code, model, err := parseTarget(target)
	if err != nil {
		return domain.ModelMapping{}, fmt.Errorf("mapping %d: %w", id, err)
	}
	return domain.ModelMapping{
		ID:          id,
		Pattern:     pattern,
		Make:        mk,
		VehicleCode: code,
		Model:       model,
		Priority:    int(priority),
		Active:      active,
	}, nil
}
