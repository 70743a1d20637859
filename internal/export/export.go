// Package export writes query results as downloadable CSV or XLSX files.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/leapstack-labs/queryx/internal/engine"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts "csv" and "xlsx" (case-insensitive); anything else
// is an error.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatXLSX:
		return f, nil
	case "excel":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("unsupported export format %q (expected csv or xlsx)", s)
	}
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// Filename builds "<base>_<YYYYMMDD_HHMMSS>.<ext>".
func Filename(base string, f Format, now time.Time) string {
	if base == "" {
		base = "query_results"
	}
	return fmt.Sprintf("%s_%s.%s", base, now.Format("20060102_150405"), f)
}

// Outcome reports what was actually written. When XLSX generation fails
// the data is written as CSV instead and Warning explains why.
type Outcome struct {
	Format  Format
	Warning string
}

// Write encodes res in format f to w. An XLSX failure degrades to CSV; the
// caller should surface Outcome.Warning and use Outcome.Format for the
// file extension.
func Write(w io.Writer, res *engine.Result, f Format) (Outcome, error) {
	if res == nil {
		return Outcome{}, fmt.Errorf("no result to export")
	}

	if f == FormatXLSX {
		var buf bytes.Buffer
		err := writeXLSX(&buf, res)
		if err == nil {
			if _, err := buf.WriteTo(w); err != nil {
				return Outcome{}, fmt.Errorf("failed to write xlsx: %w", err)
			}
			return Outcome{Format: FormatXLSX}, nil
		}
		warning := fmt.Sprintf("Error creating Excel file: %v. Falling back to CSV format.", err)
		if err := writeCSV(w, res); err != nil {
			return Outcome{}, err
		}
		return Outcome{Format: FormatCSV, Warning: warning}, nil
	}

	if err := writeCSV(w, res); err != nil {
		return Outcome{}, err
	}
	return Outcome{Format: FormatCSV}, nil
}

func writeCSV(w io.Writer, res *engine.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(res.Columns); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	record := make([]string, len(res.Columns))
	for _, row := range res.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) {
				record[i] = Cell(row[i])
			}
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

const sheetName = "Results"

func writeXLSX(w io.Writer, res *engine.Result) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}

	header := make([]any, len(res.Columns))
	for i, c := range res.Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return err
	}

	for r, row := range res.Rows {
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		values := make([]any, len(row))
		for i, v := range row {
			values[i] = xlsxValue(v)
		}
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return err
		}
	}

	return f.Write(w)
}

// xlsxValue keeps numbers and times native and stringifies the rest.
func xlsxValue(v any) any {
	switch v.(type) {
	case nil, bool, int, int8, int16, int32, int64, uint8, uint16, uint32, uint64, float32, float64, string, time.Time:
		return v
	default:
		return Cell(v)
	}
}

// Cell renders one value for text output. NULL becomes the empty string.
func Cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format("2006-01-02")
		}
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", x)
	}
}
