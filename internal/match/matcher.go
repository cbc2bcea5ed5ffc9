// Package match pairs line items across a purchase order and an invoice and
// turns per-pair differences into typed discrepancies.
//
// Pairing is deterministic and runs in two phases: exact matching on the
// normalized item key, then global best-match assignment by description
// similarity for whatever is left. Fuzzy matching is never first-found; all
// candidate pairs are scored before any is accepted, so input order cannot
// flip an assignment.
package match

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"docmatch/internal/logger"
	"docmatch/pkg/models"
)

// Config holds the matching thresholds.
type Config struct {
	// FuzzyThreshold is the minimum description similarity for a fuzzy
	// pair, 0 to 1.
	FuzzyThreshold float64

	// PriceRelativeTolerance is the allowed relative unit-price deviation
	// as a fraction (0.001 = 0.1%).
	PriceRelativeTolerance decimal.Decimal

	// PriceAbsoluteFloor is the minimum absolute price tolerance.
	PriceAbsoluteFloor decimal.Decimal
}

// DefaultConfig returns the standard thresholds: 0.85 similarity, price
// tolerance of 0.01 absolute or 0.1% relative, whichever is larger.
func DefaultConfig() Config {
	return Config{
		FuzzyThreshold:         0.85,
		PriceRelativeTolerance: decimal.NewFromFloat(0.001),
		PriceAbsoluteFloor:     decimal.NewFromFloat(0.01),
	}
}

// Matcher pairs and compares line items.
type Matcher struct {
	config Config
	log    zerolog.Logger
}

func New(config Config) *Matcher {
	if config.FuzzyThreshold == 0 {
		config.FuzzyThreshold = 0.85
	}
	if config.PriceRelativeTolerance.IsZero() {
		config.PriceRelativeTolerance = decimal.NewFromFloat(0.001)
	}
	if config.PriceAbsoluteFloor.IsZero() {
		config.PriceAbsoluteFloor = decimal.NewFromFloat(0.01)
	}
	return &Matcher{config: config, log: logger.WithComponent("matcher")}
}

// Pair matches PO line items against invoice line items. Every input item
// appears in exactly one returned pair; an unmatched item yields a pair with
// a nil other side.
func (m *Matcher) Pair(poItems, invItems []models.LineItem) []models.MatchedPair {
	poUsed := make([]bool, len(poItems))
	invUsed := make([]bool, len(invItems))
	var pairs []models.MatchedPair

	// Phase 1: normalized-key matches. First unconsumed invoice item with
	// the same key wins; duplicate keys pair up in document order.
	invByKey := make(map[string][]int)
	for i, item := range invItems {
		if item.NormalizedKey != "" {
			invByKey[item.NormalizedKey] = append(invByKey[item.NormalizedKey], i)
		}
	}
	for p := range poItems {
		key := poItems[p].NormalizedKey
		if key == "" {
			continue
		}
		for _, i := range invByKey[key] {
			if invUsed[i] {
				continue
			}
			method := models.MatchNormalizedKey
			if strings.TrimSpace(poItems[p].ItemNumber) == strings.TrimSpace(invItems[i].ItemNumber) {
				method = models.MatchExactKey
			}
			pairs = append(pairs, models.MatchedPair{
				POItem:      &poItems[p],
				InvoiceItem: &invItems[i],
				Method:      method,
				Confidence:  100,
			})
			poUsed[p] = true
			invUsed[i] = true
			break
		}
	}

	// Phase 2: global best-match by description similarity. All surviving
	// candidates are scored, sorted, and accepted greedily from the top,
	// so a later PO item can still claim the best invoice item.
	type candidate struct {
		poIdx, invIdx int
		sim           float64
	}
	var candidates []candidate
	for p := range poItems {
		if poUsed[p] {
			continue
		}
		for i := range invItems {
			if invUsed[i] {
				continue
			}
			sim := TokenSetRatio(poItems[p].Description, invItems[i].Description)
			if sim >= m.config.FuzzyThreshold {
				candidates = append(candidates, candidate{poIdx: p, invIdx: i, sim: sim})
			}
		}
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		ca, cb := candidates[a], candidates[b]
		if ca.sim != cb.sim {
			return ca.sim > cb.sim
		}
		// Ties prefer items at the same position in their own sequence,
		// which is the only anchor left for blank item numbers.
		samePosA := ca.poIdx == ca.invIdx
		samePosB := cb.poIdx == cb.invIdx
		if samePosA != samePosB {
			return samePosA
		}
		if ca.poIdx != cb.poIdx {
			return ca.poIdx < cb.poIdx
		}
		return ca.invIdx < cb.invIdx
	})
	for _, c := range candidates {
		if poUsed[c.poIdx] || invUsed[c.invIdx] {
			continue
		}
		pairs = append(pairs, models.MatchedPair{
			POItem:      &poItems[c.poIdx],
			InvoiceItem: &invItems[c.invIdx],
			Method:      models.MatchFuzzyDescription,
			Confidence:  c.sim * 100,
			Similarity:  c.sim,
		})
		poUsed[c.poIdx] = true
		invUsed[c.invIdx] = true
	}

	// Phase 3: leftovers become one-sided pairs.
	for p := range poItems {
		if !poUsed[p] {
			pairs = append(pairs, models.MatchedPair{
				POItem: &poItems[p],
				Method: models.MatchUnmatched,
			})
		}
	}
	for i := range invItems {
		if !invUsed[i] {
			pairs = append(pairs, models.MatchedPair{
				InvoiceItem: &invItems[i],
				Method:      models.MatchUnmatched,
			})
		}
	}

	m.log.Debug().
		Int("po_items", len(poItems)).
		Int("invoice_items", len(invItems)).
		Int("pairs", len(pairs)).
		Msg("Line item pairing completed")
	return pairs
}

// AttachDelivery associates delivery-note items with already-established
// pairs, by normalized key first and description similarity second. Delivery
// items that attach to nothing are ignored; a delivery note confirms
// receipt, it does not introduce billable items.
func (m *Matcher) AttachDelivery(pairs []models.MatchedPair, dnItems []models.LineItem) {
	used := make([]bool, len(dnItems))

	for pi := range pairs {
		anchor := pairs[pi].POItem
		if anchor == nil {
			anchor = pairs[pi].InvoiceItem
		}
		if anchor == nil {
			continue
		}
		if anchor.NormalizedKey != "" {
			for d := range dnItems {
				if !used[d] && dnItems[d].NormalizedKey == anchor.NormalizedKey {
					pairs[pi].DeliveryItem = &dnItems[d]
					used[d] = true
					break
				}
			}
		}
	}

	for pi := range pairs {
		if pairs[pi].DeliveryItem != nil {
			continue
		}
		anchor := pairs[pi].POItem
		if anchor == nil {
			anchor = pairs[pi].InvoiceItem
		}
		if anchor == nil {
			continue
		}
		bestIdx, bestSim := -1, 0.0
		for d := range dnItems {
			if used[d] {
				continue
			}
			if sim := TokenSetRatio(anchor.Description, dnItems[d].Description); sim >= m.config.FuzzyThreshold && sim > bestSim {
				bestIdx, bestSim = d, sim
			}
		}
		if bestIdx >= 0 {
			pairs[pi].DeliveryItem = &dnItems[bestIdx]
			used[bestIdx] = true
		}
	}
}

// Compare inspects every pair and returns the line-level discrepancies:
// quantity mismatches, price changes, missing and extra items. Quantities
// compare exactly; prices within 0.01 absolute or 0.1% relative (whichever
// is larger) are considered unchanged. Monetary impact is signed from the
// buyer's perspective: positive means the invoice charges more than the
// purchase order authorizes.
func (m *Matcher) Compare(pairs []models.MatchedPair) []models.Discrepancy {
	var out []models.Discrepancy
	for _, pair := range pairs {
		switch {
		case pair.POItem != nil && pair.InvoiceItem == nil:
			impact := pair.POItem.EffectiveTotal().Neg()
			out = append(out, models.Discrepancy{
				Type:           models.MissingItem,
				Severity:       models.SeverityHigh,
				MonetaryImpact: impact,
				FieldValues: []models.FieldValue{
					itemFieldValue(models.RolePurchaseOrder, pair.POItem),
				},
				Message: fmt.Sprintf("PO item %s (%s) is not on the invoice", itemRef(pair.POItem), pair.POItem.Description),
			})
		case pair.InvoiceItem != nil && pair.POItem == nil:
			out = append(out, models.Discrepancy{
				Type:           models.ExtraItem,
				Severity:       models.SeverityHigh,
				MonetaryImpact: pair.InvoiceItem.EffectiveTotal(),
				FieldValues: []models.FieldValue{
					itemFieldValue(models.RoleInvoice, pair.InvoiceItem),
				},
				Message: fmt.Sprintf("Invoice item %s (%s) is not on the purchase order", itemRef(pair.InvoiceItem), pair.InvoiceItem.Description),
			})
		case pair.POItem != nil && pair.InvoiceItem != nil:
			out = append(out, m.comparePair(pair)...)
		}
	}
	return out
}

func (m *Matcher) comparePair(pair models.MatchedPair) []models.Discrepancy {
	po, inv := pair.POItem, pair.InvoiceItem
	var out []models.Discrepancy

	if po.Quantity != nil && inv.Quantity != nil && !po.Quantity.Equal(*inv.Quantity) {
		price := unitPriceOf(inv, po)
		impact := inv.Quantity.Sub(*po.Quantity).Mul(price)
		out = append(out, models.Discrepancy{
			Type:           models.QuantityMismatch,
			Severity:       models.SeverityMedium,
			MonetaryImpact: impact.Round(2),
			FieldValues: []models.FieldValue{
				{Document: models.RolePurchaseOrder, Field: "quantity", Value: po.Quantity.String()},
				{Document: models.RoleInvoice, Field: "quantity", Value: inv.Quantity.String()},
			},
			Message: fmt.Sprintf("Item %s quantity differs: PO %s vs invoice %s", itemRef(po), po.Quantity, inv.Quantity),
		})
	}

	switch {
	case po.UnitPrice != nil && inv.UnitPrice != nil:
		delta := inv.UnitPrice.Sub(*po.UnitPrice)
		if delta.Abs().GreaterThan(m.priceTolerance(*po.UnitPrice)) {
			qty := quantityOf(inv, po)
			out = append(out, models.Discrepancy{
				Type:           models.PriceChange,
				Severity:       models.SeverityMedium,
				MonetaryImpact: delta.Mul(qty).Round(2),
				FieldValues: []models.FieldValue{
					{Document: models.RolePurchaseOrder, Field: "unit_price", Value: po.UnitPrice.StringFixed(2)},
					{Document: models.RoleInvoice, Field: "unit_price", Value: inv.UnitPrice.StringFixed(2)},
				},
				Message: fmt.Sprintf("Item %s unit price changed from %s to %s", itemRef(po), po.UnitPrice.StringFixed(2), inv.UnitPrice.StringFixed(2)),
			})
		}
	default:
		// No unit prices on one side; fall back to line totals.
		poTotal, invTotal := po.EffectiveTotal(), inv.EffectiveTotal()
		delta := invTotal.Sub(poTotal)
		if delta.Abs().GreaterThan(m.priceTolerance(poTotal)) {
			out = append(out, models.Discrepancy{
				Type:           models.PriceChange,
				Severity:       models.SeverityMedium,
				MonetaryImpact: delta.Round(2),
				FieldValues: []models.FieldValue{
					{Document: models.RolePurchaseOrder, Field: "line_total", Value: poTotal.StringFixed(2)},
					{Document: models.RoleInvoice, Field: "line_total", Value: invTotal.StringFixed(2)},
				},
				Message: fmt.Sprintf("Item %s line total changed from %s to %s", itemRef(po), poTotal.StringFixed(2), invTotal.StringFixed(2)),
			})
		}
	}

	// Key-matched pairs with wildly different descriptions suggest an item
	// number was reused or misread.
	if pair.Method == models.MatchExactKey || pair.Method == models.MatchNormalizedKey {
		if po.Description != "" && inv.Description != "" && TokenSetRatio(po.Description, inv.Description) < 0.5 {
			out = append(out, models.Discrepancy{
				Type:     models.DescriptionMismatch,
				Severity: models.SeverityLow,
				FieldValues: []models.FieldValue{
					{Document: models.RolePurchaseOrder, Field: "description", Value: po.Description},
					{Document: models.RoleInvoice, Field: "description", Value: inv.Description},
				},
				Message: fmt.Sprintf("Item %s descriptions disagree: %q vs %q", itemRef(po), po.Description, inv.Description),
			})
		}
	}

	return out
}

func (m *Matcher) priceTolerance(baseline decimal.Decimal) decimal.Decimal {
	relative := baseline.Abs().Mul(m.config.PriceRelativeTolerance)
	if relative.GreaterThan(m.config.PriceAbsoluteFloor) {
		return relative
	}
	return m.config.PriceAbsoluteFloor
}

func unitPriceOf(preferred, fallback *models.LineItem) decimal.Decimal {
	if preferred.UnitPrice != nil {
		return *preferred.UnitPrice
	}
	if fallback.UnitPrice != nil {
		return *fallback.UnitPrice
	}
	return decimal.Zero
}

func quantityOf(preferred, fallback *models.LineItem) decimal.Decimal {
	if preferred.Quantity != nil {
		return *preferred.Quantity
	}
	if fallback.Quantity != nil {
		return *fallback.Quantity
	}
	return decimal.NewFromInt(1)
}

func itemRef(item *models.LineItem) string {
	if item.ItemNumber != "" {
		return item.ItemNumber
	}
	if item.NormalizedKey != "" {
		return item.NormalizedKey
	}
	return "(no number)"
}

func itemFieldValue(role models.DocumentRole, item *models.LineItem) models.FieldValue {
	return models.FieldValue{
		Document: role,
		Field:    "line_item",
		Value:    fmt.Sprintf("%s %s", itemRef(item), item.Description),
	}
}
