package dataprocessing

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"

	"github.com/xuri/excelize/v2"

	"silverpulse/pkg/contracts/domain"
)

// Sentinel errors for the two unrecoverable parser outcomes. Callers map
// these to NO_DATA; anything else is a PARSE_ERROR.
var (
	ErrNoStockSheet = errors.New("no stock sheet found in workbook")
	ErrNoHeaderRow  = errors.New("no header row with registered/eligible columns")
	ErrNoTotals     = errors.New("no usable totals in stock sheet")
)

// StockBounds holds the plausibility bounds applied to parsed totals.
// Violations become warnings on the snapshot, never hard failures.
type StockBounds struct {
	MinRegistered float64
	MaxRegistered float64
	MinEligible   float64
	MaxEligible   float64
	MinCombined   float64
	MaxCombined   float64
	// CombinedTolerance is the relative tolerance for combined vs
	// registered+eligible, default 1%.
	CombinedTolerance float64
}

// DefaultStockBounds returns the historically reasonable ounce ranges.
func DefaultStockBounds() StockBounds {
	return StockBounds{
		MinRegistered:     1_000_000,
		MaxRegistered:     1_000_000_000,
		MinEligible:       1_000_000,
		MaxEligible:       1_000_000_000,
		MinCombined:       2_000_000,
		MaxCombined:       2_000_000_000,
		CombinedTolerance: 0.01,
	}
}

// ParsedStockReport is the raw parse result before the adapter attaches
// date, deltas and provenance.
type ParsedStockReport struct {
	Registered    float64
	Eligible      float64
	Combined      float64
	Warehouses    []domain.WarehouseStock
	Warnings      []string
	SheetName     string
	RowsParsed    int
	TotalsDerived bool
}

var (
	sheetKeywords = []string{"silver", "stock", "registered", "eligible"}

	headerKeywords = map[string][]string{
		"warehouse":   {"warehouse", "depository", "name", "location"},
		"registered":  {"registered"},
		"eligible":    {"eligible"},
		"total":       {"total", "combined"},
		"deposits":    {"deposit", "receipt"},
		"withdrawals": {"withdrawal", "shipped"},
		"adjustments": {"adjustment", "adjust"},
	}
)

const (
	sheetScanRows  = 10
	headerScanRows = 20
)

// StockReportParser turns a downloaded stock report workbook into totals and
// per-warehouse rows. Sheet name and column order are not contractually
// stable, so both are discovered by keyword matching.
type StockReportParser struct {
	bounds StockBounds
	logger *slog.Logger
}

// NewStockReportParser creates a parser with the given bounds.
func NewStockReportParser(bounds StockBounds, logger *slog.Logger) *StockReportParser {
	if logger == nil {
		logger = slog.Default()
	}
	return &StockReportParser{
		bounds: bounds,
		logger: logger.With(slog.String("component", "stock_parser")),
	}
}

// Parse reads a workbook and extracts the stock report.
func (p *StockReportParser) Parse(r io.Reader) (*ParsedStockReport, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheetName, rows, err := p.findStockSheet(f)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("found stock sheet",
		slog.String("sheet_name", sheetName),
		slog.Int("total_rows", len(rows)))

	report, err := p.ParseRows(rows)
	if err != nil {
		return nil, err
	}
	report.SheetName = sheetName
	return report, nil
}

// findStockSheet locates the sheet holding the stock data: first by sheet
// name, then by scanning the first rows of each sheet for at least two
// domain keywords.
func (p *StockReportParser) findStockSheet(f *excelize.File) (string, [][]string, error) {
	for _, name := range f.GetSheetList() {
		if ContainsAny(name, sheetKeywords) {
			rows, err := f.GetRows(name)
			if err == nil && len(rows) > 0 {
				return name, rows, nil
			}
		}
	}

	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil || len(rows) == 0 {
			continue
		}
		var cells []string
		for i := 0; i < len(rows) && i < sheetScanRows; i++ {
			cells = append(cells, rows[i]...)
		}
		if CountKeywordHits(cells, sheetKeywords) >= 2 {
			return name, rows, nil
		}
	}

	return "", nil, ErrNoStockSheet
}

// findHeaderRow scans the first rows for one containing recognizable column
// labels. At minimum "registered" and "eligible" must both map.
func findHeaderRow(rows [][]string) (int, map[string]int, bool) {
	for i := 0; i < len(rows) && i < headerScanRows; i++ {
		row := rows[i]
		if len(row) < 2 {
			continue
		}

		columnMap := make(map[string]int)
		for j, cell := range row {
			if strings.TrimSpace(cell) == "" {
				continue
			}
			norm := NormalizeCell(cell)
			for key, keywords := range headerKeywords {
				if _, mapped := columnMap[key]; mapped {
					continue
				}
				for _, kw := range keywords {
					if strings.Contains(norm, kw) {
						columnMap[key] = j
						break
					}
				}
			}
		}

		_, hasReg := columnMap["registered"]
		_, hasEli := columnMap["eligible"]
		if hasReg && hasEli {
			return i, columnMap, true
		}
	}
	return -1, nil, false
}

// ParseRows parses an already-extracted row grid. Exposed separately so
// fixture tests can exercise the heuristics without building a workbook.
func (p *StockReportParser) ParseRows(rows [][]string) (*ParsedStockReport, error) {
	headerRow, columnMap, ok := findHeaderRow(rows)
	if !ok {
		return nil, ErrNoHeaderRow
	}

	report := &ParsedStockReport{}
	warehouseCol := columnMap["warehouse"] // zero value falls back to column 0

	var haveTotalRow bool
	for i := headerRow + 1; i < len(rows); i++ {
		row := rows[i]
		if len(row) < 2 || warehouseCol >= len(row) {
			continue
		}

		label := strings.TrimSpace(row[warehouseCol])
		labelNorm := NormalizeCell(label)
		if len(labelNorm) < 3 {
			continue
		}
		// Repeated header fragments inside the data area.
		if strings.Contains(labelNorm, "warehouse") || strings.Contains(labelNorm, "depository") {
			continue
		}

		registered, okReg := parseColumn(row, columnMap, "registered")
		eligible, okEli := parseColumn(row, columnMap, "eligible")
		if !okReg || !okEli {
			continue
		}

		if strings.Contains(labelNorm, "total") || strings.Contains(labelNorm, "grand") {
			report.Registered = registered
			report.Eligible = eligible
			if combined, okTot := parseColumn(row, columnMap, "total"); okTot && combined > 0 {
				report.Combined = combined
			} else {
				report.Combined = registered + eligible
			}
			haveTotalRow = true
			report.RowsParsed++
			continue
		}

		if registered <= 0 && eligible <= 0 {
			continue
		}

		wh := domain.WarehouseStock{
			Name:       label,
			Registered: registered,
			Eligible:   eligible,
		}
		wh.Deposits = parseOptionalColumn(row, columnMap, "deposits")
		wh.Withdrawals = parseOptionalColumn(row, columnMap, "withdrawals")
		wh.Adjustments = parseOptionalColumn(row, columnMap, "adjustments")
		report.Warehouses = append(report.Warehouses, wh)
		report.RowsParsed++
	}

	if !haveTotalRow && len(report.Warehouses) > 0 {
		for _, wh := range report.Warehouses {
			report.Registered += wh.Registered
			report.Eligible += wh.Eligible
		}
		report.Combined = report.Registered + report.Eligible
		report.TotalsDerived = true
		report.Warnings = append(report.Warnings, "no TOTAL row found - computed from warehouse sum")
	}

	if report.Combined == 0 {
		return nil, ErrNoTotals
	}

	report.Warnings = append(report.Warnings, p.bounds.check(report.Registered, report.Eligible, report.Combined)...)

	if len(report.Warnings) > 0 {
		p.logger.Warn("stock report parsed with warnings",
			slog.Int("warnings", len(report.Warnings)),
			slog.Any("details", report.Warnings))
	}

	return report, nil
}

func parseColumn(row []string, columnMap map[string]int, key string) (float64, bool) {
	idx, exists := columnMap[key]
	if !exists || idx >= len(row) {
		return 0, false
	}
	return ParseNumeric(row[idx])
}

func parseOptionalColumn(row []string, columnMap map[string]int, key string) *float64 {
	if v, ok := parseColumn(row, columnMap, key); ok {
		return &v
	}
	return nil
}

// check runs the plausibility bounds and the combined-vs-sum cross check.
func (b StockBounds) check(registered, eligible, combined float64) []string {
	var warnings []string

	if registered < b.MinRegistered || registered > b.MaxRegistered {
		warnings = append(warnings, fmt.Sprintf("registered %.0f oz outside expected range [%.0f, %.0f]",
			registered, b.MinRegistered, b.MaxRegistered))
	}
	if eligible < b.MinEligible || eligible > b.MaxEligible {
		warnings = append(warnings, fmt.Sprintf("eligible %.0f oz outside expected range [%.0f, %.0f]",
			eligible, b.MinEligible, b.MaxEligible))
	}
	if combined < b.MinCombined || combined > b.MaxCombined {
		warnings = append(warnings, fmt.Sprintf("combined %.0f oz outside expected range [%.0f, %.0f]",
			combined, b.MinCombined, b.MaxCombined))
	}

	tolerance := b.CombinedTolerance
	if tolerance <= 0 {
		tolerance = 0.01
	}
	expected := registered + eligible
	if expected > 0 && math.Abs(combined-expected) > expected*tolerance {
		warnings = append(warnings, fmt.Sprintf("combined (%.0f) does not match registered (%.0f) + eligible (%.0f)",
			combined, registered, eligible))
	}

	return warnings
}
