package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

func init() {
	Register("duckdb", func(logger *slog.Logger) Adapter { return NewDuckDBAdapter(logger) })
}

// DuckDBAdapter implements Adapter for DuckDB.
type DuckDBAdapter struct {
	BaseSQLAdapter
}

// NewDuckDBAdapter creates a new DuckDB adapter instance.
// A nil logger discards output.
func NewDuckDBAdapter(logger *slog.Logger) *DuckDBAdapter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DuckDBAdapter{
		BaseSQLAdapter: BaseSQLAdapter{Logger: logger, DefaultSchema: "main"},
	}
}

// Connect opens DuckDB. Use ":memory:" (or an empty path) for an
// in-memory database.
func (a *DuckDBAdapter) Connect(ctx context.Context, cfg Config) error {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	a.Logger.Debug("connecting to duckdb", slog.String("path", path))

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	// Settings are applied in a stable order so failures are reproducible.
	keys := make([]string, 0, len(cfg.Options))
	for k := range cfg.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		stmt := fmt.Sprintf("SET %s = %s", k, QuoteLiteral(cfg.Options[k]))
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to apply duckdb option %s: %w", k, err)
		}
	}

	a.DB = db
	a.Cfg = cfg
	return nil
}

// LoadCSV creates or replaces a table from a CSV file with a header row.
// DuckDB infers the column types.
func (a *DuckDBAdapter) LoadCSV(ctx context.Context, table string, path string) error {
	if a.DB == nil {
		return fmt.Errorf("database connection not established")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	query := fmt.Sprintf(
		"CREATE OR REPLACE TABLE %s AS SELECT * FROM read_csv_auto(%s, header=true)",
		QuoteIdent(table),
		QuoteLiteral(absPath),
	)

	if err := a.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to load CSV: %w", err)
	}

	a.Logger.Debug("loaded csv", slog.String("table", table), slog.String("path", absPath))
	return nil
}

// DialectName returns "duckdb".
func (a *DuckDBAdapter) DialectName() string {
	return "duckdb"
}

var _ Adapter = (*DuckDBAdapter)(nil)
