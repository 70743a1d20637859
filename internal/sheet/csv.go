package sheet

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// readCSV treats a CSV file as a workbook with a single sheet named after
// the file. A UTF-8 or UTF-16 byte order mark is honoured.
func readCSV(path string) (*Workbook, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the user's own upload list
	if err != nil {
		return nil, fmt.Errorf("failed to open csv: %w", err)
	}
	defer func() { _ = f.Close() }()

	rows, err := readCSVRows(f)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return &Workbook{
		Path:   path,
		Sheets: []Sheet{newSheet(Key{Workbook: path, Sheet: name}, rows)},
	}, nil
}

func readCSVRows(r io.Reader) ([][]string, error) {
	dec := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))

	cr := csv.NewReader(dec)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	return rows, nil
}
