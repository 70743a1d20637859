package mapping

import (
	"errors"
	"fmt"
)

// Sentinel errors wrapped by ValidationError.
var (
	ErrDuplicateTable  = errors.New("duplicate table name")
	ErrDuplicateColumn = errors.New("duplicate column name")
	ErrEmptyIdentifier = errors.New("empty identifier")
	ErrUnknownSheet    = errors.New("unknown sheet")
	ErrUnknownColumn   = errors.New("unknown column index")
)

// ValidationError reports the identifier that breaks a mapping invariant.
type ValidationError struct {
	Err        error
	Sheet      string
	Table      string
	Column     string
	Identifier string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Column != "":
		return fmt.Sprintf("%v: column %q of table %q (sheet %s) maps to %q", e.Err, e.Column, e.Table, e.Sheet, e.Identifier)
	case e.Identifier != "":
		return fmt.Sprintf("%v: %q (sheet %s)", e.Err, e.Identifier, e.Sheet)
	default:
		return fmt.Sprintf("%v: sheet %s", e.Err, e.Sheet)
	}
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validate checks that every identifier is non-empty, table names are
// unique across the mapping and column names are unique within each table.
// It reports the first violation found in mapping order.
func Validate(tables []Table) error {
	seenTables := make(map[string]struct{}, len(tables))

	for _, t := range tables {
		if t.Name == "" {
			return &ValidationError{Err: ErrEmptyIdentifier, Sheet: t.Key.String()}
		}
		if _, dup := seenTables[t.Name]; dup {
			return &ValidationError{Err: ErrDuplicateTable, Sheet: t.Key.String(), Identifier: t.Name}
		}
		seenTables[t.Name] = struct{}{}

		seenCols := make(map[string]struct{}, len(t.Columns))
		for _, c := range t.Columns {
			if c.Name == "" {
				return &ValidationError{
					Err: ErrEmptyIdentifier, Sheet: t.Key.String(), Table: t.Name, Column: c.Original,
				}
			}
			if _, dup := seenCols[c.Name]; dup {
				return &ValidationError{
					Err: ErrDuplicateColumn, Sheet: t.Key.String(), Table: t.Name, Column: c.Original, Identifier: c.Name,
				}
			}
			seenCols[c.Name] = struct{}{}
		}
	}
	return nil
}
