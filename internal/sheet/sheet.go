// Package sheet reads tabular workbooks (xlsx, csv) into ordered sheets of
// raw header names and string cells.
package sheet

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// keySeparator joins workbook and sheet in the string form of a Key.
const keySeparator = "::"

// ErrUnsupportedFormat is returned for files that are neither xlsx nor csv.
var ErrUnsupportedFormat = errors.New("unsupported workbook format")

// Key identifies one source sheet: the workbook it came from and its name
// inside that workbook.
type Key struct {
	Workbook string `json:"workbook" yaml:"workbook"`
	Sheet    string `json:"sheet" yaml:"sheet"`
}

// String renders the key as "<workbook>::<sheet>".
func (k Key) String() string {
	return k.Workbook + keySeparator + k.Sheet
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	i := strings.LastIndex(s, keySeparator)
	if i < 0 {
		return Key{}, fmt.Errorf("invalid sheet key %q: missing %q", s, keySeparator)
	}
	return Key{Workbook: s[:i], Sheet: s[i+len(keySeparator):]}, nil
}

// Sheet is one tab of a workbook: raw header names in file order and the
// data rows below them. A Sheet is never modified after it is read.
type Sheet struct {
	Key     Key
	Columns []string
	Rows    [][]string
}

// RowCount returns the number of data rows (header excluded).
func (s Sheet) RowCount() int {
	return len(s.Rows)
}

// Workbook is an ordered set of sheets read from one file.
type Workbook struct {
	Path   string
	Sheets []Sheet
}

// Sheet looks up a sheet by name.
func (w *Workbook) Sheet(name string) (Sheet, bool) {
	for _, s := range w.Sheets {
		if s.Key.Sheet == name {
			return s, true
		}
	}
	return Sheet{}, false
}

// Open reads a workbook, choosing the reader from the file extension.
func Open(path string) (*Workbook, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return readXLSX(path)
	case ".csv":
		return readCSV(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// Load opens every path in order. Sheet order within each workbook and
// workbook order across paths are preserved, which the naming scopes rely on.
func Load(paths []string) ([]*Workbook, error) {
	books := make([]*Workbook, 0, len(paths))
	for _, p := range paths {
		wb, err := Open(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read workbook %s: %w", p, err)
		}
		books = append(books, wb)
	}
	return books, nil
}

// Flatten returns all sheets of all workbooks in upload order.
func Flatten(books []*Workbook) []Sheet {
	var out []Sheet
	for _, wb := range books {
		out = append(out, wb.Sheets...)
	}
	return out
}

// newSheet splits raw rows into header and data, dropping fully blank rows.
// The header is as wide as the widest row.
func newSheet(key Key, raw [][]string) Sheet {
	s := Sheet{Key: key}
	if len(raw) == 0 {
		return s
	}

	// Readers trim trailing empty cells, so a data column may extend past
	// the last header cell.
	width := 0
	for _, row := range raw {
		width = max(width, len(row))
	}

	s.Columns = make([]string, width)
	for i := range s.Columns {
		var name string
		if i < len(raw[0]) {
			name = strings.TrimSpace(raw[0][i])
		}
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", i)
		}
		s.Columns[i] = name
	}

	for _, row := range raw[1:] {
		if blank(row) {
			continue
		}
		s.Rows = append(s.Rows, row)
	}
	return s
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
