package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

// SheetFixture describes one tab of a generated workbook. The first row is
// the header.
type SheetFixture struct {
	Name string
	Rows [][]any
}

// WriteWorkbook writes an xlsx file with the given sheets, in order, and
// returns its path.
func WriteWorkbook(t testing.TB, dir, file string, sheets ...SheetFixture) string {
	t.Helper()

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", s.Name); err != nil {
				t.Fatalf("failed to rename first sheet: %v", err)
			}
		} else if _, err := f.NewSheet(s.Name); err != nil {
			t.Fatalf("failed to add sheet %q: %v", s.Name, err)
		}

		for r, row := range s.Rows {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			if err != nil {
				t.Fatalf("bad coordinates: %v", err)
			}
			values := row
			if err := f.SetSheetRow(s.Name, cell, &values); err != nil {
				t.Fatalf("failed to write row %d of %q: %v", r, s.Name, err)
			}
		}
	}

	path := filepath.Join(dir, file)
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("failed to save workbook: %v", err)
	}
	return path
}

// WriteFile writes content to dir/name and returns the path.
func WriteFile(t testing.TB, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// SalesWorkbook writes the canonical two-column sales fixture used across
// packages: a single "sales" sheet with region and amount.
func SalesWorkbook(t testing.TB, dir string) string {
	t.Helper()
	return WriteWorkbook(t, dir, "sales.xlsx", SheetFixture{
		Name: "sales",
		Rows: [][]any{
			{"Region", "Amount"},
			{"north", 100},
			{"south", 250},
			{"north", 50},
		},
	})
}

// FormattedSalesWorkbook writes a "sales" sheet whose amounts carry the
// "#,##0.00" number format and whose days are date formatted, as exported
// by most accounting tools.
func FormattedSalesWorkbook(t testing.TB, dir string) string {
	t.Helper()

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	const name = "sales"
	steps := []func() error{
		func() error { return f.SetSheetName("Sheet1", name) },
		func() error { return f.SetSheetRow(name, "A1", &[]any{"Region", "Amount", "Day"}) },
		func() error { return f.SetSheetRow(name, "A2", &[]any{"north", 1234.5, 45366}) },
		func() error { return f.SetSheetRow(name, "A3", &[]any{"south", 2000, 45367}) },
		func() error { return styleRange(f, name, "B2", "B3", &excelize.Style{NumFmt: 4}) },
		func() error { return styleRange(f, name, "C2", "C3", &excelize.Style{NumFmt: 14}) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("failed to build formatted workbook: %v", err)
		}
	}

	path := filepath.Join(dir, "formatted.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("failed to save workbook: %v", err)
	}
	return path
}

func styleRange(f *excelize.File, sheet, from, to string, style *excelize.Style) error {
	id, err := f.NewStyle(style)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, from, to, id)
}
