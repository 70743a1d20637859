// Package mapping derives the relational schema proposal for a batch of
// uploaded sheets, applies user edits to it and holds the finalized result.
package mapping

import (
	"github.com/leapstack-labs/queryx/internal/ident"
	"github.com/leapstack-labs/queryx/internal/sheet"
)

// Column maps one raw header cell to its engine identifier.
type Column struct {
	Original string `json:"original" yaml:"original"`
	Name     string `json:"name" yaml:"name"`
}

// Table maps one source sheet to an engine table.
type Table struct {
	Key      sheet.Key `json:"key" yaml:"key"`
	Name     string    `json:"name" yaml:"name"`
	Columns  []Column  `json:"columns" yaml:"columns"`
	RowCount int       `json:"row_count" yaml:"row_count"`
}

// ColumnNames returns the mapped column identifiers in source order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// clone returns a deep copy so edits never alias a caller's slice.
func (t Table) clone() Table {
	t.Columns = append([]Column(nil), t.Columns...)
	return t
}

// Build proposes a mapping for every sheet, in order.
//
// Table names share one scope across the whole batch, so two sheets both
// titled "Q1 Sales" become q1_sales and q1_sales_2. Column names are scoped
// to their own sheet.
func Build(sheets []sheet.Sheet) []Table {
	tables := ident.NewScope()
	out := make([]Table, 0, len(sheets))

	for _, s := range sheets {
		cols := ident.NewScope()
		t := Table{
			Key:      s.Key,
			Name:     tables.Claim(ident.Sanitize(s.Key.Sheet)),
			Columns:  make([]Column, len(s.Columns)),
			RowCount: s.RowCount(),
		}
		for i, raw := range s.Columns {
			t.Columns[i] = Column{Original: raw, Name: cols.Claim(ident.Sanitize(raw))}
		}
		out = append(out, t)
	}
	return out
}
