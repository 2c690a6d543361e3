package repo

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jRepo is a generic Neo4j-backed repository keyed by an int64 property.
type Neo4jRepo[T any] struct {
	opener     SessionOpener
	label      string
	idKey      string
	sequence   string
	toMap      func(T) map[string]any
	fromRecord func(*neo4j.Record) (T, error)
}

// Neo4jOption configures a Neo4jRepo.
type Neo4jOption[T any] func(*Neo4jRepo[T])

// WithIDKey sets the property name used as the ID (default "id").
func WithIDKey[T any](key string) Neo4jOption[T] {
	return func(r *Neo4jRepo[T]) { r.idKey = key }
}

// WithSequence makes Create allocate ids from a (:Sequence {name}) counter
// node in the same transaction, so ids grow monotonically with creation order.
func WithSequence[T any](name string) Neo4jOption[T] {
	return func(r *Neo4jRepo[T]) { r.sequence = name }
}

// NewNeo4jRepo creates a new Neo4j-backed repository. fromRecord receives
// records whose node is bound to "n".
func NewNeo4jRepo[T any](
	opener SessionOpener,
	label string,
	toMap func(T) map[string]any,
	fromRecord func(*neo4j.Record) (T, error),
	opts ...Neo4jOption[T],
) *Neo4jRepo[T] {
	r := &Neo4jRepo[T]{
		opener:     opener,
		label:      SanitizeIdent(label),
		idKey:      "id",
		toMap:      toMap,
		fromRecord: fromRecord,
	}
	for _, o := range opts {
		o(r)
	}
	r.idKey = SanitizeIdent(r.idKey)
	return r
}

// Compile-time interface check.
var _ Repository[any, int64] = (*Neo4jRepo[any])(nil)

func (r *Neo4jRepo[T]) Get(ctx context.Context, id int64) (T, error) {
	var zero T
	sess := r.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH (n:%s {%s: $id}) RETURN n", r.label, r.idKey)
	result, err := sess.Run(ctx, cypher, map[string]any{"id": id})
	if err != nil {
		return zero, fmt.Errorf("repo: get %s: %w", r.label, err)
	}
	if !result.Next(ctx) {
		return zero, fmt.Errorf("%s %d: %w", r.label, id, ErrNotFound)
	}
	return r.fromRecord(result.Record())
}

func (r *Neo4jRepo[T]) List(ctx context.Context, opts ListOpts) ([]T, error) {
	sess := r.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	where, params := buildWhere(opts)
	params["offset"] = int64(offset)
	params["limit"] = int64(limit)

	cypher := fmt.Sprintf("MATCH (n:%s)%s RETURN n ORDER BY %s SKIP $offset LIMIT $limit",
		r.label, where, r.orderBy(opts))
	result, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, fmt.Errorf("repo: list %s: %w", r.label, err)
	}

	var items []T
	for result.Next(ctx) {
		item, err := r.fromRecord(result.Record())
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// All returns every node matching filter in id order from a single
// statement, so the result is one consistent read.
func (r *Neo4jRepo[T]) All(ctx context.Context, filter map[string]any) ([]T, error) {
	sess := r.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	where, params := buildWhere(ListOpts{Filter: filter})
	cypher := fmt.Sprintf("MATCH (n:%s)%s RETURN n ORDER BY n.%s ASC", r.label, where, r.idKey)
	result, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, fmt.Errorf("repo: list all %s: %w", r.label, err)
	}

	var items []T
	for result.Next(ctx) {
		item, err := r.fromRecord(result.Record())
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Count returns how many nodes match the filters in opts; paging is ignored.
func (r *Neo4jRepo[T]) Count(ctx context.Context, opts ListOpts) (int64, error) {
	sess := r.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	where, params := buildWhere(opts)
	cypher := fmt.Sprintf("MATCH (n:%s)%s RETURN count(n) AS total", r.label, where)
	result, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return 0, fmt.Errorf("repo: count %s: %w", r.label, err)
	}
	if !result.Next(ctx) {
		return 0, nil
	}
	total, _, err := neo4j.GetRecordValue[int64](result.Record(), "total")
	if err != nil {
		return 0, fmt.Errorf("repo: count %s: %w", r.label, err)
	}
	return total, nil
}

func (r *Neo4jRepo[T]) Create(ctx context.Context, entity T) (T, error) {
	var zero T
	sess := r.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	props := r.toMap(entity)
	out, err := sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		if r.sequence != "" {
			id, err := nextSequence(ctx, tx, r.sequence)
			if err != nil {
				return nil, err
			}
			props[r.idKey] = id
		}
		cypher := fmt.Sprintf("CREATE (n:%s $props) RETURN n", r.label)
		result, err := tx.Run(ctx, cypher, map[string]any{"props": props})
		if err != nil {
			return nil, err
		}
		if !result.Next(ctx) {
			return nil, fmt.Errorf("failed to create %s", r.label)
		}
		return r.fromRecord(result.Record())
	})
	if err != nil {
		return zero, fmt.Errorf("repo: create %s: %w", r.label, err)
	}
	created, ok := out.(T)
	if !ok {
		return zero, fmt.Errorf("repo: create %s: unexpected result %T", r.label, out)
	}
	return created, nil
}

// Update overwrites the properties of the node with the given id. The id
// property itself is never changed.
func (r *Neo4jRepo[T]) Update(ctx context.Context, id int64, entity T) (T, error) {
	var zero T
	sess := r.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	props := r.toMap(entity)
	props[r.idKey] = id
	cypher := fmt.Sprintf("MATCH (n:%s {%s: $id}) SET n += $props RETURN n", r.label, r.idKey)
	result, err := sess.Run(ctx, cypher, map[string]any{"id": id, "props": props})
	if err != nil {
		return zero, fmt.Errorf("repo: update %s: %w", r.label, err)
	}
	if !result.Next(ctx) {
		return zero, fmt.Errorf("%s %d: %w", r.label, id, ErrNotFound)
	}
	return r.fromRecord(result.Record())
}

func (r *Neo4jRepo[T]) Delete(ctx context.Context, id int64) error {
	sess := r.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH (n:%s {%s: $id}) DETACH DELETE n RETURN count(*) AS deleted", r.label, r.idKey)
	result, err := sess.Run(ctx, cypher, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("repo: delete %s: %w", r.label, err)
	}
	if !result.Next(ctx) {
		return fmt.Errorf("%s %d: %w", r.label, id, ErrNotFound)
	}
	deleted, _, err := neo4j.GetRecordValue[int64](result.Record(), "deleted")
	if err != nil {
		return fmt.Errorf("repo: delete %s: %w", r.label, err)
	}
	if deleted == 0 {
		return fmt.Errorf("%s %d: %w", r.label, id, ErrNotFound)
	}
	return nil
}

func (r *Neo4jRepo[T]) orderBy(opts ListOpts) string {
	key := r.idKey
	if opts.SortBy != "" {
		key = SanitizeIdent(opts.SortBy)
	}
	dir := "ASC"
	if opts.Desc {
		dir = "DESC"
	}
	if key == r.idKey {
		return fmt.Sprintf("n.%s %s", key, dir)
	}
	// id as secondary key keeps pages stable between calls.
	return fmt.Sprintf("n.%s %s, n.%s %s", key, dir, r.idKey, dir)
}

// nextSequence increments and returns the named counter.
func nextSequence(ctx context.Context, tx CypherRunner, name string) (int64, error) {
	cypher := `MERGE (s:Sequence {name: $name})
	           ON CREATE SET s.value = 0
	           SET s.value = s.value + 1
	           RETURN s.value AS value`
	result, err := tx.Run(ctx, cypher, map[string]any{"name": name})
	if err != nil {
		return 0, err
	}
	if !result.Next(ctx) {
		return 0, fmt.Errorf("sequence %s: no value", name)
	}
	v, _, err := neo4j.GetRecordValue[int64](result.Record(), "value")
	return v, err
}

// buildWhere renders the filter part of opts. Keys are sorted so the same
// options always produce the same statement.
func buildWhere(opts ListOpts) (string, map[string]any) {
	params := make(map[string]any)
	var clauses []string

	keys := make([]string, 0, len(opts.Filter))
	for k := range opts.Filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		p := fmt.Sprintf("f%d", i)
		clauses = append(clauses, fmt.Sprintf("n.%s = $%s", SanitizeIdent(k), p))
		params[p] = opts.Filter[k]
	}

	keys = keys[:0]
	for k := range opts.Contains {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		p := fmt.Sprintf("c%d", i)
		clauses = append(clauses, fmt.Sprintf("toLower(n.%s) CONTAINS $%s", SanitizeIdent(k), p))
		params[p] = strings.ToLower(opts.Contains[k])
	}

	if len(clauses) == 0 {
		return "", params
	}
	return " WHERE " + strings.Join(clauses, " AND "), params
}

// SanitizeIdent keeps only characters valid in an unquoted Cypher identifier.
func SanitizeIdent(s string) string {
	safe := make([]byte, 0, len(s))
	for i := range s {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			safe = append(safe, c)
		}
	}
	if len(safe) == 0 {
		return "_"
	}
	return string(safe)
}
