package engine

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/leapstack-labs/queryx/internal/adapter"
	"github.com/leapstack-labs/queryx/internal/mapping"
	"github.com/leapstack-labs/queryx/internal/metrics"
	"github.com/leapstack-labs/queryx/internal/sheet"
)

// Materializer turns mapped sheets into engine tables.
type Materializer struct {
	db      adapter.Adapter
	tempDir string
	logger  *slog.Logger
	metrics *metrics.Recorder

	// shapes remembers the column list of every table this materializer
	// has created.
	shapes map[string][]string
}

// NewMaterializer creates a materializer writing through db.
func NewMaterializer(db adapter.Adapter, tempDir string, logger *slog.Logger, rec *metrics.Recorder) *Materializer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Materializer{
		db:      db,
		tempDir: tempDir,
		logger:  logger,
		metrics: rec,
		shapes:  make(map[string][]string),
	}
}

// Materialize creates or replaces the table for t from the rows of src.
//
// Rows are written under the mapped column names to an intermediate CSV
// and loaded with the engine's type inference. Rows shorter than the
// mapping are padded with empty cells; longer rows are truncated.
// Repeating the call with the same mapping and data yields the same table.
func (m *Materializer) Materialize(ctx context.Context, t mapping.Table, src sheet.Sheet) error {
	cols := t.ColumnNames()
	if len(cols) == 0 {
		return fmt.Errorf("table %q has no columns", t.Name)
	}
	if prev, ok := m.shapes[t.Name]; ok && !slices.Equal(prev, cols) {
		return fmt.Errorf("%w: %q has %v, now %v", ErrShapeConflict, t.Name, prev, cols)
	}

	path, err := m.writeCSV(cols, src.Rows)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(path) }()

	m.logger.Debug("materializing table",
		slog.String("table", t.Name),
		slog.String("sheet", src.Key.String()),
		slog.Int("rows", len(src.Rows)))

	if err := m.db.LoadCSV(ctx, t.Name, path); err != nil {
		return fmt.Errorf("failed to materialize %q: %w", t.Name, err)
	}

	m.shapes[t.Name] = cols
	m.metrics.ObserveMaterialize(len(src.Rows))
	return nil
}

func (m *Materializer) writeCSV(header []string, rows [][]string) (path string, err error) {
	f, err := os.CreateTemp(m.tempDir, "queryx-*.csv")
	if err != nil {
		return "", fmt.Errorf("failed to create staging file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("failed to write staging header: %w", err)
	}

	record := make([]string, len(header))
	for _, row := range rows {
		clear(record)
		copy(record, row)
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("failed to write staging row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close staging file: %w", err)
	}
	return f.Name(), nil
}
