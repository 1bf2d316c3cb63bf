// Package engine plans and executes the incremental parquet build: a step
// registry, a dependency index over step targets, a manifest-driven planner
// and a sequential fail-fast executor.
package engine

import (
	"context"
)

// Conn is the slice of the query engine a step action needs: DDL/COPY
// statements, scalar counts, integer lists and batched inserts.
type Conn interface {
	Exec(ctx context.Context, query string, args ...any) error
	Count(ctx context.Context, query string, args ...any) (int64, error)
	Ints(ctx context.Context, query string, args ...any) ([]int64, error)
	InsertBatch(ctx context.Context, query string, rows [][]any) error
	Close() error
}

// Connector opens a fresh engine connection. The executor opens one per
// step; steps with bounded per-unit work open additional short-lived ones.
type Connector interface {
	Connect(ctx context.Context) (Conn, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context) (Conn, error)

// Connect calls f.
func (f ConnectorFunc) Connect(ctx context.Context) (Conn, error) {
	return f(ctx)
}

// Action is the body of a build step. It receives a connection scoped to the
// step and must leave only published artifacts behind on success.
type Action func(ctx context.Context, conn Conn) error
