package sheet

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Built-in number format IDs that render as dates or times.
var builtinDateFormats = map[int]bool{
	14: true, 15: true, 16: true, 17: true, 18: true, 19: true, 20: true,
	21: true, 22: true, 45: true, 46: true, 47: true,
}

func readXLSX(path string) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := &xlsxReader{f: f, dateStyles: map[int]bool{}}
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		r.date1904 = *props.Date1904
	}

	wb := &Workbook{Path: path}
	for _, name := range f.GetSheetList() {
		rows, err := r.rows(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %q: %w", name, err)
		}
		wb.Sheets = append(wb.Sheets, newSheet(Key{Workbook: path, Sheet: name}, rows))
	}
	return wb, nil
}

// xlsxReader reads stored cell values rather than display text, so number
// formats such as "#,##0.00" do not turn numeric columns into text. Date
// formatted cells are rendered as ISO dates and booleans as true/false.
type xlsxReader struct {
	f          *excelize.File
	date1904   bool
	dateStyles map[int]bool
}

func (r *xlsxReader) rows(sheetName string) ([][]string, error) {
	rows, err := r.f.GetRows(sheetName, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		for j, value := range row {
			if value == "" {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				return nil, err
			}
			if row[j], err = r.convert(sheetName, cell, value); err != nil {
				return nil, err
			}
		}
	}
	return rows, nil
}

func (r *xlsxReader) convert(sheetName, cell, value string) (string, error) {
	typ, err := r.f.GetCellType(sheetName, cell)
	if err != nil {
		return "", err
	}
	switch typ {
	case excelize.CellTypeBool:
		if value == "1" || strings.EqualFold(value, "true") {
			return "true", nil
		}
		return "false", nil
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString, excelize.CellTypeFormula:
		return value, nil
	}

	serial, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return value, nil
	}
	style, err := r.f.GetCellStyle(sheetName, cell)
	if err != nil {
		return "", err
	}
	if !r.isDateStyle(style) {
		return value, nil
	}
	t, err := excelize.ExcelDateToTime(serial, r.date1904)
	if err != nil {
		return value, nil
	}
	if t.Equal(t.Truncate(24 * time.Hour)) {
		return t.Format(time.DateOnly), nil
	}
	return t.Format(time.DateTime), nil
}

func (r *xlsxReader) isDateStyle(idx int) bool {
	if v, ok := r.dateStyles[idx]; ok {
		return v
	}
	date := false
	if style, err := r.f.GetStyle(idx); err == nil && style != nil {
		if style.CustomNumFmt != nil {
			date = isDateFormatCode(*style.CustomNumFmt)
		} else {
			date = builtinDateFormats[style.NumFmt]
		}
	}
	r.dateStyles[idx] = date
	return date
}

// isDateFormatCode reports whether a custom number format renders a date
// or time: it has y, d, h or s outside quoted text and bracketed sections.
func isDateFormatCode(code string) bool {
	inQuote, inBracket := false, false
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case c == '\\':
			i++
		case c == '"':
			inQuote = !inQuote
		case inQuote:
		case c == '[':
			inBracket = true
		case c == ']':
			inBracket = false
		case inBracket:
		default:
			switch c {
			case 'y', 'Y', 'd', 'D', 'h', 'H', 's', 'S':
				return true
			}
		}
	}
	return false
}
