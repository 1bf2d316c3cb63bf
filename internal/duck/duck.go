// Package duck wraps database/sql over the DuckDB driver with the session
// settings and the small set of query helpers the build steps need.
package duck

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"time"

	_ "github.com/marcboeker/go-duckdb"
)

// Settings configure a DuckDB session at open time.
type Settings struct {
	// MemoryLimit caps engine memory use, e.g. "12GB". Empty leaves the
	// engine default in place.
	MemoryLimit string
	// Threads is the engine worker count. Zero or negative means all cores.
	Threads int
}

// statements renders the SET statements applied to every new session.
func (s Settings) statements() []string {
	var stmts []string
	if s.MemoryLimit != "" {
		stmts = append(stmts, fmt.Sprintf("SET memory_limit='%s'", s.MemoryLimit))
	}
	threads := s.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	stmts = append(stmts, fmt.Sprintf("SET threads TO %d", threads))
	return stmts
}

// Opener opens in-memory DuckDB sessions with fixed settings applied.
type Opener struct {
	Settings Settings
}

// Open starts a fresh in-memory session and applies the session settings.
func (o Opener) Open(ctx context.Context) (*DB, error) {
	raw, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("opening duckdb: %w", err)
	}
	// Pooling would spread statements across separate in-memory databases;
	// a single connection keeps temp tables and SET values visible.
	raw.SetMaxOpenConns(1)

	for _, stmt := range o.Settings.statements() {
		if _, err := raw.ExecContext(ctx, stmt); err != nil {
			raw.Close()
			return nil, fmt.Errorf("applying %q: %w", stmt, err)
		}
	}

	return &DB{sql: raw}, nil
}

// DB is a single in-memory DuckDB session.
type DB struct {
	sql *sql.DB
}

// Exec runs a statement and discards its result.
func (d *DB) Exec(ctx context.Context, query string, args ...any) error {
	_, err := d.sql.ExecContext(ctx, query, args...)
	return err
}

// Count runs a query expected to yield exactly one integer value.
func (d *DB) Count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := d.sql.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Ints runs a query expected to yield a single integer column.
func (d *DB) Ints(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := d.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// InsertBatch runs the prepared insert once per row inside one transaction.
func (d *DB) InsertBatch(ctx context.Context, query string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		tx.Rollback()
		return err
	}
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			stmt.Close()
			tx.Rollback()
			return err
		}
	}
	if err := stmt.Close(); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Query runs a query and renders every value as text, NULLs as "NULL".
// The summary report only displays results, so typed scanning is not needed.
func (d *DB) Query(ctx context.Context, query string, args ...any) ([]string, [][]string, error) {
	rows, err := d.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var out [][]string
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		rendered := make([]string, len(cols))
		for i, v := range values {
			rendered[i] = renderValue(v)
		}
		out = append(out, rendered)
	}
	return cols, out, rows.Err()
}

func renderValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(t)
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
			return t.Format("2006-01-02")
		}
		return t.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprint(t)
	}
}

// Close releases the session.
func (d *DB) Close() error {
	return d.sql.Close()
}
