package engine

import (
	"context"
	"testing"
	"time"

	"github.com/leapstack-labs/queryx/internal/mapping"
	"github.com/leapstack-labs/queryx/internal/sheet"
	"github.com/leapstack-labs/queryx/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func salesBook() *sheet.Workbook {
	key := sheet.Key{Workbook: "q1.xlsx", Sheet: "Q1 Sales"}
	return &sheet.Workbook{
		Path: "q1.xlsx",
		Sheets: []sheet.Sheet{{
			Key:     key,
			Columns: []string{"Region", "Unit Price ($)", "Amt"},
			Rows: [][]string{
				{"north", "2.5", "100"},
				{"south", "4", "250"},
				{"north", "1"},
			},
		}},
	}
}

func testConfig(t *testing.T) Config {
	return Config{Logger: testutil.NewTestLogger(t), TempDir: t.TempDir()}
}

func TestOpen_MaterializesMappedTables(t *testing.T) {
	ctx := context.Background()
	books := []*sheet.Workbook{salesBook()}
	tables := mapping.Build(sheet.Flatten(books))

	e, err := Open(ctx, testConfig(t), tables, books)
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	names, err := e.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"q1_sales"}, names)

	meta, err := e.TableInfo(ctx, "q1_sales")
	require.NoError(t, err)
	var cols []string
	for _, c := range meta.Columns {
		cols = append(cols, c.Name)
	}
	assert.Equal(t, []string{"region", "unit_price", "amt"}, cols)
	assert.Equal(t, int64(3), meta.RowCount)

	res, err := e.Execute(ctx, `SELECT region, SUM(unit_price) AS total FROM q1_sales GROUP BY region ORDER BY region`)
	require.NoError(t, err)
	assert.Equal(t, []string{"region", "total"}, res.Columns)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "north", res.Rows[0][0])
	assert.InDelta(t, 3.5, res.Rows[0][1], 0.0001)
}

func TestMaterialize_ShortRowsArePadded(t *testing.T) {
	ctx := context.Background()
	books := []*sheet.Workbook{salesBook()}
	tables := mapping.Build(sheet.Flatten(books))

	e, err := Open(ctx, testConfig(t), tables, books)
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	res, err := e.Execute(ctx, `SELECT COUNT(*) AS n FROM q1_sales WHERE amt IS NULL`)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Rows[0][0])
}

func TestMaterialize_Idempotent(t *testing.T) {
	ctx := context.Background()
	book := salesBook()
	tables := mapping.Build(book.Sheets)

	e, err := New(ctx, testConfig(t))
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	for range 2 {
		require.NoError(t, e.MaterializeAll(ctx, tables, []*sheet.Workbook{book}))
	}

	res, err := e.Execute(ctx, `SELECT COUNT(*) FROM q1_sales`)
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.Rows[0][0], "re-materializing replaces rather than appends")
}

func TestMaterialize_ShapeConflict(t *testing.T) {
	ctx := context.Background()
	book := salesBook()
	tables := mapping.Build(book.Sheets)

	e, err := New(ctx, testConfig(t))
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	require.NoError(t, e.MaterializeAll(ctx, tables, []*sheet.Workbook{book}))

	changed := tables[0]
	changed.Columns = append([]mapping.Column(nil), changed.Columns...)
	changed.Columns[2].Name = "amount"

	err = e.MaterializeAll(ctx, []mapping.Table{changed}, []*sheet.Workbook{book})
	assert.ErrorIs(t, err, ErrShapeConflict)
}

func TestOpen_IngestionErrors(t *testing.T) {
	ctx := context.Background()
	books := []*sheet.Workbook{salesBook()}
	tables := mapping.Build(sheet.Flatten(books))

	t.Run("missing sheet", func(t *testing.T) {
		bad := append([]mapping.Table(nil), tables...)
		bad[0].Key.Sheet = "Q2 Sales"

		_, err := Open(ctx, testConfig(t), bad, books)
		var ierr *IngestionError
		require.ErrorAs(t, err, &ierr)
		assert.ErrorIs(t, err, ErrSheetNotFound)
		assert.Equal(t, "Q2 Sales", ierr.Sheet)
	})

	t.Run("missing workbook", func(t *testing.T) {
		_, err := Open(ctx, testConfig(t), tables, nil)
		assert.ErrorIs(t, err, ErrWorkbookNotFound)
	})

	t.Run("unreadable file", func(t *testing.T) {
		_, err := OpenFiles(ctx, testConfig(t), tables, []string{"missing.xlsx"})
		var ierr *IngestionError
		require.ErrorAs(t, err, &ierr)
		assert.Equal(t, "missing.xlsx", ierr.Workbook)
	})
}

func TestOpenFiles_FromWorkbookOnDisk(t *testing.T) {
	ctx := context.Background()
	path := testutil.SalesWorkbook(t, t.TempDir())

	books, err := sheet.Load([]string{path})
	require.NoError(t, err)
	tables := mapping.Build(sheet.Flatten(books))

	e, err := OpenFiles(ctx, testConfig(t), tables, []string{path})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	res, err := e.Execute(ctx, `SELECT SUM(amount) FROM sales WHERE region = 'north'`)
	require.NoError(t, err)
	assert.EqualValues(t, 150, res.Rows[0][0])
}

func TestOpenFiles_FormattedCellsKeepTypes(t *testing.T) {
	ctx := context.Background()
	path := testutil.FormattedSalesWorkbook(t, t.TempDir())

	books, err := sheet.Load([]string{path})
	require.NoError(t, err)
	e, err := OpenFiles(ctx, testConfig(t), mapping.Build(sheet.Flatten(books)), []string{path})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	res, err := e.Execute(ctx, `SELECT typeof(amount), typeof(day) FROM sales LIMIT 1`)
	require.NoError(t, err)
	assert.Equal(t, "DOUBLE", res.Rows[0][0])
	assert.Equal(t, "DATE", res.Rows[0][1])

	res, err = e.Execute(ctx, `SELECT SUM(amount), MAX(day) FROM sales`)
	require.NoError(t, err)
	assert.InDelta(t, 3234.5, res.Rows[0][0], 1e-9)
	day, ok := res.Rows[0][1].(time.Time)
	require.True(t, ok, "got %T", res.Rows[0][1])
	assert.Equal(t, "2024-03-16", day.Format(time.DateOnly))
}

func TestMaterialize_DataPastLastHeader(t *testing.T) {
	ctx := context.Background()
	path := testutil.WriteWorkbook(t, t.TempDir(), "notes.xlsx", testutil.SheetFixture{Name: "notes", Rows: [][]any{
		{"Region", "Amount"},
		{"north", 10, "late"},
		{"south", 20},
	}})

	books, err := sheet.Load([]string{path})
	require.NoError(t, err)
	e, err := OpenFiles(ctx, testConfig(t), mapping.Build(sheet.Flatten(books)), []string{path})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	res, err := e.Execute(ctx, `SELECT unnamed_2 FROM notes WHERE region = 'north'`)
	require.NoError(t, err)
	assert.Equal(t, "late", res.Rows[0][0])
}

func TestExecute_ErrorIsEngineMessage(t *testing.T) {
	ctx := context.Background()
	books := []*sheet.Workbook{salesBook()}

	e, err := Open(ctx, testConfig(t), mapping.Build(sheet.Flatten(books)), books)
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	_, err = e.Execute(ctx, `SELECT amount FROM q1_sales`)
	var xerr *ExecutionError
	require.ErrorAs(t, err, &xerr)
	assert.Contains(t, xerr.Message, "amount")
	assert.NotContains(t, xerr.Message, "failed to execute")
	assert.Equal(t, xerr.Message, err.Error())
}

func TestExecute_MaxRows(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.MaxRows = 2

	e, err := New(ctx, cfg)
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	res, err := e.Execute(ctx, `SELECT * FROM range(10)`)
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowCount())
	assert.True(t, res.Truncated)
}

func TestExecute_Timeout(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.QueryTimeout = time.Nanosecond

	e, err := New(ctx, cfg)
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	_, err = e.Execute(ctx, `SELECT COUNT(*) FROM range(100000000) a, range(1000) b`)
	var xerr *ExecutionError
	require.ErrorAs(t, err, &xerr)
	assert.Contains(t, xerr.Message, "timed out")
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "abc", normalize([]byte("abc")))
	assert.Equal(t, int64(5), normalize(int64(5)))
	assert.Nil(t, normalize(nil))
}
