// Package repo defines the generic Repository interface, list options and the
// Cypher session abstractions shared by the Neo4j-backed stores.
package repo

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no node matches the requested id.
var ErrNotFound = errors.New("not found")

// Repository is a generic CRUD interface.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	Count(ctx context.Context, opts ListOpts) (int64, error)
	Create(ctx context.Context, entity T) (T, error)
	Update(ctx context.Context, id ID, entity T) (T, error)
	Delete(ctx context.Context, id ID) error
}

// ListOpts controls pagination, filtering and ordering for List operations.
type ListOpts struct {
	Offset int
	Limit  int
	// Filter matches properties exactly.
	Filter map[string]any
	// Contains matches string properties by case-insensitive substring.
	Contains map[string]string
	// SortBy names the property to order by; empty keeps the id order.
	SortBy string
	Desc   bool
}

// DefaultLimit is applied when ListOpts.Limit is not positive.
const DefaultLimit = 100
