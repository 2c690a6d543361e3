package repo

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// CypherResult is the minimal interface needed from a neo4j result.
type CypherResult interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// CypherRunner runs a single Cypher statement, either in a session or inside
// a managed transaction.
type CypherRunner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error)
}

// CypherSession is the minimal interface needed from a neo4j session.
type CypherSession interface {
	CypherRunner
	ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error)
	Close(ctx context.Context) error
}

// SessionOpener hands out sessions. Production code uses DriverOpener; tests
// substitute in-memory fakes.
type SessionOpener interface {
	OpenSession(ctx context.Context) CypherSession
}

// DriverOpener opens sessions on a real neo4j driver.
type DriverOpener struct {
	Driver   neo4j.DriverWithContext
	Database string
}

// NewDriverOpener wraps a driver. An empty database selects the server default.
func NewDriverOpener(driver neo4j.DriverWithContext, database string) *DriverOpener {
	return &DriverOpener{Driver: driver, Database: database}
}

func (o *DriverOpener) OpenSession(ctx context.Context) CypherSession {
	return &sessionAdapter{sess: o.Driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: o.Database})}
}

// sessionAdapter adapts neo4j.SessionWithContext to CypherSession.
type sessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *sessionAdapter) ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	return a.sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return work(txAdapter{tx: tx})
	})
}

func (a *sessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

type txAdapter struct {
	tx neo4j.ManagedTransaction
}

func (t txAdapter) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	return t.tx.Run(ctx, cypher, params)
}
