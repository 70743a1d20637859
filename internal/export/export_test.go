package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/leapstack-labs/queryx/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func result() *engine.Result {
	return &engine.Result{
		Columns: []string{"region", "revenue", "day"},
		Rows: [][]any{
			{"north", int64(150), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
			{"south, east", 250.5, nil},
		},
	}
}

func TestWrite_CSV(t *testing.T) {
	var buf bytes.Buffer
	out, err := Write(&buf, result(), FormatCSV)
	require.NoError(t, err)

	assert.Equal(t, FormatCSV, out.Format)
	assert.Empty(t, out.Warning)
	assert.Equal(t, "region,revenue,day\nnorth,150,2024-03-01\n\"south, east\",250.5,\n", buf.String())
}

func TestWrite_XLSX(t *testing.T) {
	var buf bytes.Buffer
	out, err := Write(&buf, result(), FormatXLSX)
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, out.Format)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"region", "revenue", "day"}, rows[0])
	assert.Equal(t, "north", rows[1][0])
	assert.Equal(t, "150", rows[1][1])
}

func TestWrite_XLSXFallsBackToCSV(t *testing.T) {
	// One column more than a worksheet can hold.
	const width = 16385
	res := &engine.Result{Columns: make([]string, width), Rows: [][]any{make([]any, width)}}
	for i := range res.Columns {
		res.Columns[i] = fmt.Sprintf("c%d", i)
		res.Rows[0][i] = i
	}

	var buf bytes.Buffer
	out, err := Write(&buf, res, FormatXLSX)
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, out.Format)
	assert.Contains(t, out.Warning, "Falling back to CSV")

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Len(t, records[0], width)
	assert.Equal(t, "c16384", records[0][width-1])
	assert.Equal(t, "16384", records[1][width-1])
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWrite_Errors(t *testing.T) {
	_, err := Write(&bytes.Buffer{}, nil, FormatCSV)
	assert.Error(t, err)

	_, err = Write(failingWriter{}, result(), FormatCSV)
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"csv": FormatCSV, "XLSX": FormatXLSX, " excel ": FormatXLSX} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("pdf")
	assert.Error(t, err)
}

func TestFilename(t *testing.T) {
	now := time.Date(2024, 7, 9, 13, 4, 5, 0, time.UTC)
	assert.Equal(t, "query_results_20240709_130405.csv", Filename("", FormatCSV, now))
	assert.Equal(t, "revenue_20240709_130405.xlsx", Filename("revenue", FormatXLSX, now))
}

func TestFormat_ContentType(t *testing.T) {
	assert.Equal(t, "text/csv", FormatCSV.ContentType())
	assert.Contains(t, FormatXLSX.ContentType(), "spreadsheetml")
}

func TestCell(t *testing.T) {
	assert.Equal(t, "", Cell(nil))
	assert.Equal(t, "x", Cell([]byte("x")))
	assert.Equal(t, "2024-01-02T03:04:05Z", Cell(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))
	assert.Equal(t, "true", Cell(true))
}
