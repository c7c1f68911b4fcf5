package dataprocessing

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func newParser(t *testing.T) *StockReportParser {
	t.Helper()
	return NewStockReportParser(DefaultStockBounds(), nil)
}

func TestParseRowsWithTotalRow(t *testing.T) {
	rows := [][]string{
		{"SILVER WAREHOUSE STOCKS"},
		{"As of close of business"},
		{"Warehouse", "Registered", "Eligible", "Total", "Deposits", "Withdrawals"},
		{"Brinks Inc", "20,000,000", "40,000,000", "60,000,000", "100,000", "(50,000)"},
		{"CNT Depository", "10,000,000", "30,000,000", "40,000,000", "", ""},
		{"TOTAL", "30,000,000", "70,000,000", "100,000,000", "", ""},
	}

	report, err := newParser(t).ParseRows(rows)
	require.NoError(t, err)

	assert.Equal(t, 30_000_000.0, report.Registered)
	assert.Equal(t, 70_000_000.0, report.Eligible)
	assert.Equal(t, 100_000_000.0, report.Combined)
	assert.False(t, report.TotalsDerived)
	require.Len(t, report.Warehouses, 2)

	assert.Equal(t, "Brinks Inc", report.Warehouses[0].Name)
	require.NotNil(t, report.Warehouses[0].Withdrawals)
	assert.Equal(t, -50_000.0, *report.Warehouses[0].Withdrawals)
	assert.Empty(t, report.Warnings)
}

func TestParseRowsDerivesTotalsFromWarehouseSum(t *testing.T) {
	// No TOTAL row: totals come from the warehouse sum, with a warning
	// recording that they were derived, not reported.
	rows := [][]string{
		{"Warehouse", "Registered", "Eligible"},
		{"Brinks Inc", "20,000,000", "40,000,000"},
		{"CNT Depository", "10,000,000", "30,000,000"},
	}

	report, err := newParser(t).ParseRows(rows)
	require.NoError(t, err)

	assert.Equal(t, 30_000_000.0, report.Registered)
	assert.Equal(t, 70_000_000.0, report.Eligible)
	assert.Equal(t, 100_000_000.0, report.Combined)
	assert.True(t, report.TotalsDerived)
	require.NotEmpty(t, report.Warnings)
	assert.Contains(t, report.Warnings[0], "computed from warehouse sum")
}

func TestParseRowsShiftedColumns(t *testing.T) {
	// Column order varies release to release; mapping must follow headers,
	// not positions.
	rows := [][]string{
		{"Depository Name", "Eligible", "Adjustment", "Registered"},
		{"Brinks Inc", "40,000,000", "25,000", "20,000,000"},
		{"Grand Total", "40,000,000", "", "20,000,000"},
	}

	report, err := newParser(t).ParseRows(rows)
	require.NoError(t, err)

	assert.Equal(t, 20_000_000.0, report.Registered)
	assert.Equal(t, 40_000_000.0, report.Eligible)
	assert.Equal(t, 60_000_000.0, report.Combined)
	require.Len(t, report.Warehouses, 1)
	require.NotNil(t, report.Warehouses[0].Adjustments)
	assert.Equal(t, 25_000.0, *report.Warehouses[0].Adjustments)
}

func TestParseRowsCombinedMismatchWarns(t *testing.T) {
	// Combined off by more than 1% from registered+eligible: stored with a
	// warning, not rejected.
	rows := [][]string{
		{"Warehouse", "Registered", "Eligible", "Total"},
		{"Brinks Inc", "30,000,000", "70,000,000", "100,000,000"},
		{"TOTAL", "30,000,000", "70,000,000", "110,000,000"},
	}

	report, err := newParser(t).ParseRows(rows)
	require.NoError(t, err)
	assert.Equal(t, 110_000_000.0, report.Combined)

	found := false
	for _, w := range report.Warnings {
		if strings.Contains(w, "does not match") {
			found = true
		}
	}
	assert.True(t, found, "expected combined mismatch warning, got %v", report.Warnings)
}

func TestParseRowsOutOfBoundsWarns(t *testing.T) {
	rows := [][]string{
		{"Warehouse", "Registered", "Eligible"},
		{"Tiny Vault", "5,000", "5,000"},
	}

	report, err := newParser(t).ParseRows(rows)
	require.NoError(t, err)
	// 10k oz combined is far below the plausible floor.
	assert.NotEmpty(t, report.Warnings)
}

func TestParseRowsSkipsJunkRows(t *testing.T) {
	rows := [][]string{
		{"Warehouse", "Registered", "Eligible"},
		{"--", "1", "1"}, // label too short
		{"Warehouse subtotal header", "", ""},      // no numerics
		{"Inactive Depository", "0", "0"},          // zero holdings
		{"Brinks Inc", "20,000,000", "40,000,000"}, // real row
	}

	report, err := newParser(t).ParseRows(rows)
	require.NoError(t, err)
	require.Len(t, report.Warehouses, 1)
	assert.Equal(t, "Brinks Inc", report.Warehouses[0].Name)
}

func TestParseRowsNoHeaderRow(t *testing.T) {
	rows := [][]string{
		{"Some title"},
		{"Nothing", "useful", "here"},
	}
	_, err := newParser(t).ParseRows(rows)
	assert.ErrorIs(t, err, ErrNoHeaderRow)
}

func TestParseWorkbookBySheetName(t *testing.T) {
	buf := buildWorkbook(t, "Silver Stocks", [][]any{
		{"Warehouse", "Registered", "Eligible", "Total"},
		{"Brinks Inc", "30,000,000", "70,000,000", "100,000,000"},
		{"TOTAL", "30,000,000", "70,000,000", "100,000,000"},
	})

	report, err := newParser(t).Parse(bytes.NewReader(buf))
	require.NoError(t, err)
	assert.Equal(t, "Silver Stocks", report.SheetName)
	assert.Equal(t, 100_000_000.0, report.Combined)
}

func TestParseWorkbookBodyKeywordFallback(t *testing.T) {
	// Sheet name gives nothing away; discovery must fall back to scanning
	// the first rows for domain keywords.
	buf := buildWorkbook(t, "Sheet1", [][]any{
		{"Daily report"},
		{"Warehouse", "Registered", "Eligible"},
		{"Brinks Inc", "30,000,000", "70,000,000"},
	})

	report, err := newParser(t).Parse(bytes.NewReader(buf))
	require.NoError(t, err)
	assert.Equal(t, "Sheet1", report.SheetName)
	assert.Equal(t, 100_000_000.0, report.Combined)
	assert.True(t, report.TotalsDerived)
}

func TestParseWorkbookNoStockSheet(t *testing.T) {
	buf := buildWorkbook(t, "Gold Futures", [][]any{
		{"Contract", "Settlement"},
		{"GCQ5", "2411.2"},
	})

	_, err := newParser(t).Parse(bytes.NewReader(buf))
	assert.ErrorIs(t, err, ErrNoStockSheet)
}

func buildWorkbook(t *testing.T, sheet string, rows [][]any) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(sheet)
	require.NoError(t, err)
	f.SetActiveSheet(idx)
	if sheet != "Sheet1" {
		require.NoError(t, f.DeleteSheet("Sheet1"))
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}
