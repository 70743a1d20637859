package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/leapstack-labs/queryx/internal/audit"
	"github.com/leapstack-labs/queryx/internal/engine"
	"github.com/leapstack-labs/queryx/internal/export"
	"github.com/leapstack-labs/queryx/internal/mapping"
)

// Result formats accepted by --format.
const (
	FormatTable    = "table"
	FormatJSON     = "json"
	FormatCSV      = "csv"
	FormatMarkdown = "md"
)

func renderResult(w io.Writer, res *engine.Result, format string) error {
	switch format {
	case FormatJSON:
		return renderJSON(w, res)
	case FormatCSV:
		_, err := export.Write(w, res, export.FormatCSV)
		return err
	case FormatMarkdown, "markdown":
		return renderMarkdown(w, res)
	default:
		return renderTable(w, res)
	}
}

func newTable(w io.Writer, cols []string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	header := make(table.Row, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	t.AppendHeader(header)
	return t
}

func resultTable(w io.Writer, res *engine.Result) table.Writer {
	t := newTable(w, res.Columns)
	for _, r := range res.Rows {
		row := make(table.Row, len(r))
		for i, v := range r {
			row[i] = formatValue(v)
		}
		t.AppendRow(row)
	}
	return t
}

func renderTable(w io.Writer, res *engine.Result) error {
	if res.RowCount() == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return nil
	}
	resultTable(w, res).Render()
	_, _ = fmt.Fprintf(w, "(%d rows%s)\n", res.RowCount(), truncatedNote(res))
	return nil
}

func renderMarkdown(w io.Writer, res *engine.Result) error {
	if res.RowCount() == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return nil
	}
	resultTable(w, res).RenderMarkdown()
	if res.Truncated {
		_, _ = fmt.Fprintf(w, "\n(%d rows%s)\n", res.RowCount(), truncatedNote(res))
	}
	return nil
}

func truncatedNote(res *engine.Result) string {
	if res.Truncated {
		return ", truncated"
	}
	return ""
}

// renderJSON writes one object per row with keys in column order.
func renderJSON(w io.Writer, res *engine.Result) error {
	var b strings.Builder
	b.WriteString("[")
	for i, r := range res.Rows {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("\n  {")
		for j, col := range res.Columns {
			if j > 0 {
				b.WriteString(", ")
			}
			k, _ := json.Marshal(col)
			var v any
			if j < len(r) {
				v = r[j]
			}
			val, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("failed to encode %s: %w", col, err)
			}
			b.Write(k)
			b.WriteString(": ")
			b.Write(val)
		}
		b.WriteString("}")
	}
	if len(res.Rows) > 0 {
		b.WriteString("\n")
	}
	b.WriteString("]\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	return export.Cell(v)
}

// renderMapping prints one row per column of every table.
func renderMapping(w io.Writer, tables []mapping.Table, markdown bool) {
	t := newTable(w, []string{"Workbook", "Sheet", "Table", "Rows", "#", "Column", "Name"})
	for _, tbl := range tables {
		for i, c := range tbl.Columns {
			t.AppendRow(table.Row{tbl.Key.Workbook, tbl.Key.Sheet, tbl.Name, tbl.RowCount, i, c.Original, c.Name})
		}
		if len(tbl.Columns) == 0 {
			t.AppendRow(table.Row{tbl.Key.Workbook, tbl.Key.Sheet, tbl.Name, tbl.RowCount, "", "", ""})
		}
	}
	if markdown {
		t.RenderMarkdown()
		return
	}
	t.Render()
}

// renderLog prints the prompt history, oldest first.
func renderLog(w io.Writer, entries []audit.Entry, verbose bool) {
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(w, "(no prompts logged)")
		return
	}
	for i, e := range entries {
		_, _ = fmt.Fprintf(w, "[%d] %s  %s  model=%s  tokens=%s\n",
			i+1, e.Timestamp.Format("2006-01-02 15:04:05"), e.Kind.Label(), e.Model, e.Tokens())
		_, _ = fmt.Fprintf(w, "    rule: %s\n", e.Rule)
		if e.Error != "" {
			_, _ = fmt.Fprintf(w, "    error: %s\n", e.Error)
		}
		if verbose {
			_, _ = fmt.Fprintf(w, "    prompt:\n%s\n", indent(e.Prompt, "      "))
			_, _ = fmt.Fprintf(w, "    response:\n%s\n", indent(e.Response, "      "))
		}
	}
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
