// Package adapter wraps the embedded analytic engine behind a small
// interface so the materializer and the query path never touch the driver
// directly.
package adapter

import (
	"context"
	"database/sql"
	"strings"
)

// Config holds the configuration for opening an engine connection.
type Config struct {
	// Type selects the registered adapter (e.g. "duckdb").
	Type string

	// Path is the database file. Empty or ":memory:" opens an in-memory
	// database that disappears with the connection.
	Path string

	// Options contains driver-specific settings applied after connecting.
	Options map[string]string
}

// Column represents a column of a materialized table.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	Position int
}

// Metadata describes a materialized table as the engine sees it.
type Metadata struct {
	Schema   string
	Name     string
	Columns  []Column
	RowCount int64
}

// Rows wraps sql.Rows to provide a consistent interface across adapters.
type Rows struct {
	*sql.Rows
}

// Adapter is the contract between the core and the analytic engine.
type Adapter interface {
	// Connect opens the connection described by cfg.
	Connect(ctx context.Context, cfg Config) error

	// Close closes the connection and releases resources.
	Close() error

	// Exec executes a statement that doesn't return rows.
	Exec(ctx context.Context, sql string) error

	// Query executes a statement that returns rows.
	Query(ctx context.Context, sql string) (*Rows, error)

	// GetTableMetadata retrieves column and row-count information for a table.
	GetTableMetadata(ctx context.Context, table string) (*Metadata, error)

	// ListTables returns the user tables of the default schema, sorted.
	ListTables(ctx context.Context) ([]string, error)

	// LoadCSV creates or replaces table from a CSV file with a header row,
	// letting the engine infer column types.
	LoadCSV(ctx context.Context, table string, path string) error

	// DialectName returns the SQL dialect this adapter speaks.
	DialectName() string
}

// QuoteIdent quotes an identifier for use in generated SQL.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral quotes a string literal for use in generated SQL.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
