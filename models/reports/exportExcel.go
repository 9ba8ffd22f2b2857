package reports

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"bitbucket.org/mmdatafocus/budget_backend/models"
	"bitbucket.org/mmdatafocus/budget_backend/utils"
	"github.com/xuri/excelize/v2"
)

const exportSheet = "Sheet1"

// ExportRow is one (customer, item) line of the planning export. Periods come
// from the budget line item, or from the forecast when there is no budget.
type ExportRow struct {
	Customer string
	Item     string
	Brand    string
	Category string
	Periods  [models.PeriodCount]int
	Budget   int
	Forecast int
}

// ExportHeaders is the column contract consumers depend on. Order matters.
func ExportHeaders(year int) []string {
	headers := make([]string, 0, 4+models.PeriodCount+2)
	headers = append(headers, "CUSTOMER", "ITEM", "BRAND", "CATEGORY")
	headers = append(headers, models.PeriodLabels[:]...)
	headers = append(headers, fmt.Sprintf("BUDGET%d", year), fmt.Sprintf("FORECAST%d", year))
	return headers
}

func (r ExportRow) GetCellValues() []interface{} {
	values := make([]interface{}, 0, 4+models.PeriodCount+2)
	values = append(values, r.Customer, r.Item, r.Brand, r.Category)
	for _, p := range r.Periods {
		values = append(values, p)
	}
	return append(values, r.Budget, r.Forecast)
}

// BuildExportRows merges the budget and forecast line items of year by their
// exact customer/item keys. Rows are sorted by customer, then item.
func BuildExportRows(items []*models.LineItem, year int) []ExportRow {
	type pair struct {
		budget   *models.LineItem
		forecast *models.LineItem
	}
	pairs := map[string]*pair{}
	order := make([]string, 0)
	for _, item := range items {
		if item.Year != year {
			continue
		}
		key := utils.NormalizeKey(item.CustomerKey) + "|" + utils.NormalizeKey(item.ItemKey)
		p, ok := pairs[key]
		if !ok {
			p = &pair{}
			pairs[key] = p
			order = append(order, key)
		}
		switch item.Kind {
		case models.LineItemKindBudget:
			p.budget = item
		case models.LineItemKindForecast:
			p.forecast = item
		}
	}

	rows := make([]ExportRow, 0, len(order))
	for _, key := range order {
		p := pairs[key]
		source := p.budget
		if source == nil {
			source = p.forecast
		}
		if source == nil {
			continue
		}
		row := ExportRow{
			Customer: source.CustomerKey,
			Item:     source.ItemKey,
			Brand:    source.Brand,
			Category: source.Category,
			Periods:  source.Periods,
		}
		if p.budget != nil {
			row.Budget = p.budget.TotalQuantity()
		}
		if p.forecast != nil {
			row.Forecast = p.forecast.TotalQuantity()
			if row.Brand == "" {
				row.Brand = p.forecast.Brand
			}
			if row.Category == "" {
				row.Category = p.forecast.Category
			}
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		ci, cj := strings.ToLower(rows[i].Customer), strings.ToLower(rows[j].Customer)
		if ci != cj {
			return ci < cj
		}
		return strings.ToLower(rows[i].Item) < strings.ToLower(rows[j].Item)
	})
	return rows
}

// WriteExcel renders rows as an xlsx workbook into w.
func WriteExcel(w io.Writer, rows []ExportRow, year int) error {
	f := excelize.NewFile()
	defer f.Close()

	headers := ExportHeaders(year)
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(exportSheet, cell, h); err != nil {
			return err
		}
	}
	for r, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		values := row.GetCellValues()
		if err := f.SetSheetRow(exportSheet, cell, &values); err != nil {
			return err
		}
	}
	return f.Write(w)
}
