// Package schema renders the textual schema descriptor handed to the
// language model.
package schema

import (
	"strings"

	"github.com/leapstack-labs/queryx/internal/mapping"
)

// Describe renders one line per table, in mapping order, of the form
// "name(col_a, col_b)". Only engine identifiers appear; original sheet and
// header names never leak into the descriptor.
func Describe(tables []mapping.Table) string {
	var b strings.Builder
	for i, t := range tables {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(t.Name)
		b.WriteByte('(')
		b.WriteString(strings.Join(t.ColumnNames(), ", "))
		b.WriteByte(')')
	}
	return b.String()
}
