// Package database provides the two ways the authentication core talks
// to PostgreSQL: a row-set façade for configurable queries and a
// transaction runner with bounded retry for contended writes.
package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Row is one result row keyed by column name.
type Row map[string]any

// Querier executes parameterized SQL and returns row sets. It is the
// façade that configurable queries (extra cookies, notification email,
// uniqueness checks) run through, so the core never owns their schema.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) ([]Row, error)
	Exec(ctx context.Context, query string, args ...any) (int64, error)
}

// Facade implements Querier on top of sqlx.
type Facade struct {
	db *sqlx.DB
}

// NewFacade creates a new Facade instance
func NewFacade(db *sqlx.DB) *Facade {
	return &Facade{db: db}
}

// Open connects to PostgreSQL through the pgx stdlib driver and returns
// a Facade plus the underlying sqlx handle for lifecycle management.
func Open(dsn string) (*Facade, *sqlx.DB, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("database: open: %w", err)
	}
	return NewFacade(db), db, nil
}

// Query runs a parameterized query and returns all rows as maps.
func (f *Facade) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := f.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("database: query: %w", err)
	}
	defer rows.Close()

	var result []Row
	for rows.Next() {
		row := Row{}
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("database: scan: %w", err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: rows: %w", err)
	}
	return result, nil
}

// Exec runs a parameterized statement and returns the affected row count.
func (f *Facade) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := f.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("database: exec: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// String returns the value of the named column as a string, or "" when
// the column is absent or NULL.
func (r Row) String(column string) string {
	v, ok := r[column]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", s)
	}
}

// Bool returns the value of the named column as a bool; absent or NULL
// columns are false.
func (r Row) Bool(column string) bool {
	v, ok := r[column]
	if !ok || v == nil {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// Has reports whether the row contains the named column with a non-NULL
// value.
func (r Row) Has(column string) bool {
	v, ok := r[column]
	return ok && v != nil
}
