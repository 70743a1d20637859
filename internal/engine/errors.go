package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrWorkbookNotFound = errors.New("workbook not uploaded")
	ErrSheetNotFound    = errors.New("sheet not found in workbook")
	ErrShapeConflict    = errors.New("table already materialized with different columns")
)

// IngestionError reports a source that could not be loaded. It aborts the
// whole materialization batch.
type IngestionError struct {
	Workbook string
	Sheet    string
	Table    string
	Err      error
}

func (e *IngestionError) Error() string {
	if e.Sheet == "" {
		return fmt.Sprintf("failed to ingest %s: %v", e.Workbook, e.Err)
	}
	return fmt.Sprintf("failed to ingest sheet %q of %s into %q: %v", e.Sheet, e.Workbook, e.Table, e.Err)
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}

// ExecutionError carries the engine's own message for a failed statement.
// It is an ordinary result for the query path, not a fault.
type ExecutionError struct {
	SQL     string
	Message string
	Err     error
}

func (e *ExecutionError) Error() string {
	return e.Message
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
