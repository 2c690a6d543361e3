package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"github.com/sssolid/crown-nexus/pkg/repo"
	"github.com/sssolid/crown-nexus/pkg/resilience"
)

// GraphStore reads the vehicle and position reference schema and maintains
// product fitment associations.
type GraphStore struct {
	opener  repo.SessionOpener
	breaker *resilience.Breaker
}

// Option configures a GraphStore.
type Option func(*GraphStore)

// WithBreaker routes every query through a circuit breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(g *GraphStore) { g.breaker = b }
}

// New creates a GraphStore on a driver.
func New(driver neo4j.DriverWithContext, opts ...Option) *GraphStore {
	return NewWithOpener(repo.NewDriverOpener(driver, ""), opts...)
}

// NewWithOpener creates a GraphStore on any session opener.
func NewWithOpener(opener repo.SessionOpener, opts ...Option) *GraphStore {
	g := &GraphStore{opener: opener}
	for _, o := range opts {
		o(g)
	}
	return g
}

// guard runs f through the breaker when one is configured.
func (g *GraphStore) guard(ctx context.Context, f func(context.Context) error) error {
	if g.breaker == nil {
		return f(ctx)
	}
	return g.breaker.Call(ctx, f)
}

// EnsureSchema creates the constraints and indexes the service relies on.
// Every statement is idempotent.
func (g *GraphStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE CONSTRAINT model_mapping_id IF NOT EXISTS FOR (n:ModelMapping) REQUIRE n.id IS UNIQUE`,
		`CREATE CONSTRAINT sequence_name IF NOT EXISTS FOR (n:Sequence) REQUIRE n.name IS UNIQUE`,
		`CREATE CONSTRAINT vehicle_id IF NOT EXISTS FOR (n:Vehicle) REQUIRE n.vehicle_id IS UNIQUE`,
		`CREATE CONSTRAINT position_id IF NOT EXISTS FOR (n:Position) REQUIRE n.position_id IS UNIQUE`,
		`CREATE CONSTRAINT fitment_id IF NOT EXISTS FOR (n:Fitment) REQUIRE n.id IS UNIQUE`,
		`CREATE CONSTRAINT product_id IF NOT EXISTS FOR (n:Product) REQUIRE n.id IS UNIQUE`,
		`CREATE INDEX vehicle_make_model IF NOT EXISTS FOR (n:Vehicle) ON (n.make, n.model)`,
		`CREATE INDEX position_name_key IF NOT EXISTS FOR (n:Position) ON (n.name_key)`,
	}
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	for _, s := range statements {
		if _, err := sess.Run(ctx, s, nil); err != nil {
			return fmt.Errorf("graph: ensure schema: %w", err)
		}
	}
	return nil
}

func intProp(props map[string]any, key string) int {
	switch v := props[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func intsProp(props map[string]any, key string) []int {
	raw, _ := props[key].([]any)
	out := make([]int, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case int64:
			out = append(out, int(n))
		case int:
			out = append(out, n)
		}
	}
	return out
}

// nodeProps reads the node bound to key.
func nodeProps(rec *neo4j.Record, key string) (map[string]any, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, key)
	if err != nil {
		return nil, err
	}
	return node.Props, nil
}
