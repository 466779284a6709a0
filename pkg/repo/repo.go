// Package repo provides a generic keyed repository over labelled Neo4j nodes.
package repo

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no node has the requested key.
var ErrNotFound = errors.New("repo: not found")

// Repository is a keyed node store. Upsert is idempotent on the key.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	Exists(ctx context.Context, id ID) (bool, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	Upsert(ctx context.Context, entity T) (T, error)
	Delete(ctx context.Context, id ID) error
}

// ListOpts controls pagination for List.
type ListOpts struct {
	Offset int
	Limit  int
}
