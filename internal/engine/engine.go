// Package engine owns the per-invocation analytic database: it opens a
// fresh connection, materializes the mapped sheets into tables and runs
// SQL against them.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/leapstack-labs/queryx/internal/adapter"
	"github.com/leapstack-labs/queryx/internal/mapping"
	"github.com/leapstack-labs/queryx/internal/metrics"
	"github.com/leapstack-labs/queryx/internal/sheet"
)

// Config holds engine configuration.
type Config struct {
	// Adapter selects and configures the engine connection. An empty Type
	// means duckdb, an empty Path means in-memory.
	Adapter adapter.Config

	// QueryTimeout bounds a single Execute call. Zero means no limit.
	QueryTimeout time.Duration

	// MaxRows caps the rows returned by Execute. Zero means no limit.
	MaxRows int

	// TempDir receives the intermediate CSV files. Empty uses os.TempDir().
	TempDir string

	// Logger is the structured logger (optional, uses discard if nil).
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *metrics.Recorder
}

// Engine is one open connection plus the materializer that fills it.
type Engine struct {
	db      adapter.Adapter
	mat     *Materializer
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// New connects to the engine described by cfg. The connection starts
// empty; use MaterializeAll or Open to load data.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if cfg.Adapter.Type == "" {
		cfg.Adapter.Type = "duckdb"
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}

	logger.Debug("connecting to engine", "type", cfg.Adapter.Type)

	db, err := adapter.NewAdapter(cfg.Adapter, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine adapter: %w", err)
	}
	if err := db.Connect(ctx, cfg.Adapter); err != nil {
		return nil, fmt.Errorf("failed to connect to engine: %w", err)
	}

	return &Engine{
		db:      db,
		mat:     NewMaterializer(db, cfg.TempDir, logger, cfg.Metrics),
		cfg:     cfg,
		logger:  logger,
		metrics: cfg.Metrics,
	}, nil
}

// Open connects and materializes every mapped table from the given
// workbooks, in mapping order. Any ingestion failure closes the connection
// and aborts the whole batch with an *IngestionError.
func Open(ctx context.Context, cfg Config, tables []mapping.Table, books []*sheet.Workbook) (*Engine, error) {
	e, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := e.MaterializeAll(ctx, tables, books); err != nil {
		_ = e.Close()
		return nil, err
	}
	return e, nil
}

// OpenFiles is Open for workbooks not yet read. Unreadable files are
// ingestion errors.
func OpenFiles(ctx context.Context, cfg Config, tables []mapping.Table, paths []string) (*Engine, error) {
	books := make([]*sheet.Workbook, 0, len(paths))
	for _, p := range paths {
		wb, err := sheet.Open(p)
		if err != nil {
			return nil, &IngestionError{Workbook: p, Err: err}
		}
		books = append(books, wb)
	}
	return Open(ctx, cfg, tables, books)
}

// MaterializeAll loads every table from its source sheet. It stops at the
// first failure.
func (e *Engine) MaterializeAll(ctx context.Context, tables []mapping.Table, books []*sheet.Workbook) error {
	index := make(map[string]*sheet.Workbook, len(books))
	for _, wb := range books {
		index[wb.Path] = wb
	}

	for _, t := range tables {
		wb, ok := index[t.Key.Workbook]
		if !ok {
			return &IngestionError{Workbook: t.Key.Workbook, Sheet: t.Key.Sheet, Table: t.Name, Err: ErrWorkbookNotFound}
		}
		src, ok := wb.Sheet(t.Key.Sheet)
		if !ok {
			return &IngestionError{Workbook: t.Key.Workbook, Sheet: t.Key.Sheet, Table: t.Name, Err: ErrSheetNotFound}
		}
		if err := e.mat.Materialize(ctx, t, src); err != nil {
			return &IngestionError{Workbook: t.Key.Workbook, Sheet: t.Key.Sheet, Table: t.Name, Err: err}
		}
	}

	e.logger.Debug("materialized tables", "count", len(tables))
	return nil
}

// Tables lists the tables currently in the engine.
func (e *Engine) Tables(ctx context.Context) ([]string, error) {
	return e.db.ListTables(ctx)
}

// TableInfo reports a table's columns with the types the engine inferred,
// and its row count. table may be schema-qualified.
func (e *Engine) TableInfo(ctx context.Context, table string) (*adapter.Metadata, error) {
	return e.db.GetTableMetadata(ctx, table)
}

// Close releases the connection. Materialized data is discarded with
// in-memory databases.
func (e *Engine) Close() error {
	e.logger.Debug("closing engine")
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}
