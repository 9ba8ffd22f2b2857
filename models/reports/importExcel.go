package reports

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/budget_backend/models"
	"bitbucket.org/mmdatafocus/budget_backend/utils"
	"github.com/xuri/excelize/v2"
)

// ImportRow is one data row of an uploaded planning sheet. Row is the
// 1-based sheet row, for error reporting.
type ImportRow struct {
	Row      int
	Customer string
	Item     string
	Brand    string
	Category string
	Periods  [models.PeriodCount]int
}

// ImportLayout maps the required columns to their 0-based index.
type ImportLayout struct {
	Customer int
	Item     int
	Brand    int
	Category int
	Periods  [models.PeriodCount]int
}

// DetectLayout finds the columns by header name, so sheets exported by
// WriteExcel and hand-made sheets with the same headers both load. BRAND and
// CATEGORY are optional and come back as -1 when missing.
func DetectLayout(header []string) (ImportLayout, error) {
	index := map[string]int{}
	for i, h := range header {
		key := strings.ToUpper(strings.TrimSpace(h))
		if _, seen := index[key]; !seen && key != "" {
			index[key] = i
		}
	}
	layout := ImportLayout{Brand: -1, Category: -1}
	var ok bool
	if layout.Customer, ok = index["CUSTOMER"]; !ok {
		return layout, utils.NewValidationError("header", "missing CUSTOMER column")
	}
	if layout.Item, ok = index["ITEM"]; !ok {
		return layout, utils.NewValidationError("header", "missing ITEM column")
	}
	if i, ok := index["BRAND"]; ok {
		layout.Brand = i
	}
	if i, ok := index["CATEGORY"]; ok {
		layout.Category = i
	}
	for p, label := range models.PeriodLabels {
		i, ok := index[label]
		if !ok {
			return layout, utils.NewValidationError("header", "missing %s column", label)
		}
		layout.Periods[p] = i
	}
	return layout, nil
}

func cellAt(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// ParseImportRows reads the first sheet of an xlsx workbook. Blank rows are
// skipped; a non-numeric or negative period cell fails the whole read with
// the row and column named.
func ParseImportRows(r io.Reader) ([]ImportRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, utils.NewValidationError("file", "not a readable xlsx workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, utils.NewValidationError("file", "workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, utils.NewValidationError("file", "sheet %s is empty", sheets[0])
	}
	layout, err := DetectLayout(rows[0])
	if err != nil {
		return nil, err
	}

	out := make([]ImportRow, 0, len(rows)-1)
	for n, row := range rows[1:] {
		sheetRow := n + 2
		customer, item := cellAt(row, layout.Customer), cellAt(row, layout.Item)
		if customer == "" && item == "" {
			continue
		}
		parsed := ImportRow{
			Row:      sheetRow,
			Customer: customer,
			Item:     item,
			Brand:    cellAt(row, layout.Brand),
			Category: cellAt(row, layout.Category),
		}
		for p, col := range layout.Periods {
			raw := cellAt(row, col)
			if raw == "" {
				continue
			}
			qty, err := strconv.Atoi(raw)
			if err != nil || qty < 0 {
				return nil, utils.NewValidationError(fmt.Sprintf("row %d %s", sheetRow, models.PeriodLabels[p]), "expected a non-negative whole number, got %q", raw)
			}
			parsed.Periods[p] = qty
		}
		out = append(out, parsed)
	}
	return out, nil
}

// LineItemInput turns the row into an upsert payload for kind and year.
// Periods are sent explicitly so the distributor is not involved.
func (r ImportRow) LineItemInput(kind models.LineItemKind, year int) *models.LineItemInput {
	periods := r.Periods
	input := &models.LineItemInput{
		Kind:        &kind,
		CustomerKey: &r.Customer,
		ItemKey:     &r.Item,
		Year:        &year,
		Periods:     &periods,
	}
	if r.Brand != "" {
		input.Brand = &r.Brand
	}
	if r.Category != "" {
		input.Category = &r.Category
	}
	return input
}
