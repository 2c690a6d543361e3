// Package repotest provides an in-memory CypherSession for unit tests of
// Neo4j-backed stores. Every statement is recorded and answered by a
// caller-supplied handler.
package repotest

import (
	"context"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"github.com/sssolid/crown-nexus/pkg/repo"
)

// Call is one recorded statement.
type Call struct {
	Cypher string
	Params map[string]any
	InTx   bool
}

// Handler answers a statement with the records it should yield.
type Handler func(cypher string, params map[string]any) ([]*neo4j.Record, error)

// Session is a scripted repo.CypherSession. It is also its own SessionOpener.
type Session struct {
	Handler  Handler
	WriteErr error

	mu     sync.Mutex
	calls  []Call
	closed int
}

// New returns a session that answers through h. A nil handler yields no rows.
func New(h Handler) *Session {
	return &Session{Handler: h}
}

func (s *Session) OpenSession(_ context.Context) repo.CypherSession { return s }

func (s *Session) Run(_ context.Context, cypher string, params map[string]any) (repo.CypherResult, error) {
	return s.run(cypher, params, false)
}

func (s *Session) ExecuteWrite(_ context.Context, work func(tx repo.CypherRunner) (any, error)) (any, error) {
	if s.WriteErr != nil {
		return nil, s.WriteErr
	}
	return work(txRunner{s: s})
}

func (s *Session) Close(_ context.Context) error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

// Calls returns a copy of the recorded statements.
func (s *Session) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Closed reports how many times Close was called.
func (s *Session) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) run(cypher string, params map[string]any, inTx bool) (repo.CypherResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Cypher: cypher, Params: params, InTx: inTx})
	h := s.Handler
	s.mu.Unlock()

	if h == nil {
		return &Result{}, nil
	}
	recs, err := h(cypher, params)
	if err != nil {
		return nil, err
	}
	return &Result{records: recs}, nil
}

type txRunner struct{ s *Session }

func (t txRunner) Run(_ context.Context, cypher string, params map[string]any) (repo.CypherResult, error) {
	return t.s.run(cypher, params, true)
}

// Result iterates over a fixed set of records.
type Result struct {
	records []*neo4j.Record
	idx     int
}

func (r *Result) Next(_ context.Context) bool {
	if r.idx < len(r.records) {
		r.idx++
		return true
	}
	return false
}

func (r *Result) Record() *neo4j.Record {
	if r.idx == 0 || r.idx > len(r.records) {
		return nil
	}
	return r.records[r.idx-1]
}

// NodeRecord builds a record with a single node bound to key.
func NodeRecord(key string, props map[string]any) *neo4j.Record {
	return &neo4j.Record{Keys: []string{key}, Values: []any{dbtype.Node{Props: props}}}
}

// ValueRecord builds a record from alternating key/value pairs.
func ValueRecord(kv ...any) *neo4j.Record {
	rec := &neo4j.Record{}
	for i := 0; i+1 < len(kv); i += 2 {
		k, _ := kv[i].(string)
		rec.Keys = append(rec.Keys, k)
		rec.Values = append(rec.Values, kv[i+1])
	}
	return rec
}
