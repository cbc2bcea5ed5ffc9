package extract

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"docmatch/internal/normalize"
	"docmatch/pkg/models"
)

// columnMap locates line-item columns in a table header. -1 means absent.
type columnMap struct {
	item  int
	desc  int
	qty   int
	price int
	total int
}

func headerColumns(header []string) (columnMap, bool) {
	cols := columnMap{item: -1, desc: -1, qty: -1, price: -1, total: -1}
	matched := false
	for i, cell := range header {
		label := strings.ToLower(strings.TrimSpace(cell))
		switch {
		case cols.item < 0 && (strings.Contains(label, "item") || label == "#" || label == "no" || label == "no." || strings.Contains(label, "sku") || strings.Contains(label, "code")):
			cols.item = i
			matched = true
		case cols.desc < 0 && strings.Contains(label, "desc"):
			cols.desc = i
			matched = true
		case cols.qty < 0 && (strings.Contains(label, "qty") || strings.Contains(label, "quantity")):
			cols.qty = i
			matched = true
		case cols.price < 0 && (strings.Contains(label, "unit") || strings.Contains(label, "price") || strings.Contains(label, "rate")):
			cols.price = i
			matched = true
		case cols.total < 0 && (strings.Contains(label, "total") || strings.Contains(label, "amount")):
			cols.total = i
			matched = true
		}
	}
	// A real items table names at least a description or quantity column.
	return cols, matched && (cols.desc >= 0 || cols.qty >= 0)
}

// positionalColumns is the layout fallback when a table has no recognizable
// header: item number, description, quantity, unit price, line total.
func positionalColumns(width int) columnMap {
	cols := columnMap{item: -1, desc: -1, qty: -1, price: -1, total: -1}
	if width > 0 {
		cols.item = 0
	}
	if width > 1 {
		cols.desc = 1
	}
	if width > 2 {
		cols.qty = 2
	}
	if width > 3 {
		cols.price = 3
	}
	if width > 4 {
		cols.total = 4
	}
	return cols
}

// parseLineItems extracts line items from all tables that look like item
// grids. Header rows are matched by column names; headerless grids fall back
// to positional columns, mirroring how layout services emit PO tables.
func parseLineItems(tables []models.Table) []models.LineItem {
	var items []models.LineItem
	for _, table := range tables {
		if len(table.Rows) < 2 {
			continue
		}
		cols, ok := headerColumns(table.Rows[0])
		if !ok {
			if len(table.Rows[0]) < 3 {
				continue
			}
			cols = positionalColumns(len(table.Rows[0]))
			// Without a header the first row may still be one; keep it
			// only if its quantity cell parses.
			if item, ok := parseItemRow(table.Rows[0], cols); ok {
				items = append(items, item)
			}
		}
		for _, row := range table.Rows[1:] {
			if item, ok := parseItemRow(row, cols); ok {
				items = append(items, item)
			}
		}
	}
	return items
}

func parseItemRow(row []string, cols columnMap) (models.LineItem, bool) {
	item := models.LineItem{}
	if cols.item >= 0 && cols.item < len(row) {
		item.ItemNumber = strings.TrimSpace(row[cols.item])
	}
	if cols.desc >= 0 && cols.desc < len(row) {
		item.Description = strings.TrimSpace(row[cols.desc])
	}
	item.Quantity = cellAmount(row, cols.qty)
	item.UnitPrice = cellAmount(row, cols.price)
	item.LineTotal = cellAmount(row, cols.total)

	// A usable row identifies the item and carries at least one numeric.
	if item.ItemNumber == "" && item.Description == "" {
		return models.LineItem{}, false
	}
	if item.Quantity == nil && item.UnitPrice == nil && item.LineTotal == nil {
		return models.LineItem{}, false
	}

	item.NormalizedKey = normalize.ItemNumber(item.ItemNumber)
	if item.LineTotal == nil && item.Quantity != nil && item.UnitPrice != nil {
		total := RoundMoney(item.Quantity.Mul(*item.UnitPrice))
		item.LineTotal = &total
	}
	return item, true
}

func cellAmount(row []string, col int) *decimal.Decimal {
	if col < 0 || col >= len(row) {
		return nil
	}
	cell := strings.TrimSpace(row[col])
	if cell == "" {
		return nil
	}
	amount, err := normalize.ParseAmount(cell)
	if err != nil {
		return nil
	}
	return &amount
}

// structuredTotals holds document-level amounts read from label/value rows
// of a totals sub-table.
type structuredTotals struct {
	subtotal  *decimal.Decimal
	taxAmount *decimal.Decimal
	taxRate   *decimal.Decimal
	total     *decimal.Decimal
}

var labelPercentRe = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)\s*%`)

// parseTotals scans tables for two-column label/value rows carrying
// subtotal, tax, and total amounts. A tax label like "Tax (8%)" also yields
// the rate.
func parseTotals(tables []models.Table) structuredTotals {
	var totals structuredTotals
	for _, table := range tables {
		for _, row := range table.Rows {
			if len(row) < 2 {
				continue
			}
			label := strings.ToLower(strings.TrimSpace(row[0]))
			value := strings.TrimSpace(row[len(row)-1])
			if label == "" || value == "" {
				continue
			}

			switch {
			case totals.subtotal == nil && strings.Contains(label, "subtotal"):
				if amount, err := normalize.ParseAmount(value); err == nil {
					totals.subtotal = &amount
				}
			case strings.Contains(label, "tax") || strings.Contains(label, "vat"):
				if totals.taxRate == nil {
					if m := labelPercentRe.FindStringSubmatch(label); m != nil {
						if rate, err := decimal.NewFromString(m[1]); err == nil {
							totals.taxRate = &rate
						}
					}
				}
				if totals.taxAmount == nil && !strings.Contains(value, "%") {
					if amount, err := normalize.ParseAmount(value); err == nil {
						totals.taxAmount = &amount
					}
				} else if totals.taxRate == nil {
					if m := labelPercentRe.FindStringSubmatch(value); m != nil {
						if rate, err := decimal.NewFromString(m[1]); err == nil {
							totals.taxRate = &rate
						}
					}
				}
			case totals.total == nil && strings.Contains(label, "total"):
				if amount, err := normalize.ParseAmount(value); err == nil {
					totals.total = &amount
				}
			}
		}
	}
	return totals
}
