package reconcile

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"docmatch/internal/logger"
	"docmatch/pkg/models"
)

// documentSide is one document's extracted data tagged with its role, for
// cross-document field comparisons.
type documentSide struct {
	role models.DocumentRole
	data *models.ExtractedData
}

// fieldValidator compares document-level fields (currency, tax, totals)
// across the reconciled documents.
type fieldValidator struct {
	config Config
	log    zerolog.Logger
}

func newFieldValidator(config Config) *fieldValidator {
	return &fieldValidator{config: config, log: logger.WithComponent("field_validator")}
}

// compare returns the document-level discrepancies plus extraction warnings.
// A missing value on either side is a warning, never a mismatch; mismatches
// require two present, disagreeing values.
func (v *fieldValidator) compare(po, inv, dn *models.ExtractedData) ([]models.Discrepancy, []string) {
	var (
		discrepancies []models.Discrepancy
		warnings      []string
	)

	sides := []documentSide{
		{role: models.RolePurchaseOrder, data: po},
		{role: models.RoleInvoice, data: inv},
	}
	if dn != nil {
		sides = append(sides, documentSide{role: models.RoleDeliveryNote, data: dn})
	}

	discrepancies = append(discrepancies, v.compareCurrency(sides, &warnings)...)
	discrepancies = append(discrepancies, v.compareTax(po, inv, &warnings)...)
	discrepancies = append(discrepancies, v.compareTotals(po, inv, &warnings)...)
	return discrepancies, warnings
}

// compareCurrency checks every document pair for differing currency codes.
// Any two present, differing codes are a high-severity mismatch regardless
// of how well everything else agrees.
func (v *fieldValidator) compareCurrency(sides []documentSide, warnings *[]string) []models.Discrepancy {
	var present []documentSide
	for _, s := range sides {
		if s.data.CurrencyCode == "" {
			*warnings = append(*warnings, fmt.Sprintf("currency code could not be resolved on the %s", s.role))
			continue
		}
		present = append(present, s)
	}

	var out []models.Discrepancy
	for i := 0; i < len(present); i++ {
		for j := i + 1; j < len(present); j++ {
			a, b := present[i], present[j]
			if a.data.CurrencyCode == b.data.CurrencyCode {
				continue
			}
			out = append(out, models.Discrepancy{
				Type:     models.CurrencyMismatch,
				Severity: models.SeverityHigh,
				FieldValues: []models.FieldValue{
					currencyFieldValue(a),
					currencyFieldValue(b),
				},
				Message: fmt.Sprintf("Currency differs: %s in %s vs %s in %s",
					a.data.CurrencyCode, a.role, b.data.CurrencyCode, b.role),
			})
		}
	}
	return out
}

func currencyFieldValue(s documentSide) models.FieldValue {
	return models.FieldValue{
		Document: s.role,
		Field:    "currency_code",
		Value:    s.data.CurrencyCode,
		Method:   s.data.ExtractionMethods["currency_code"],
	}
}

// compareTax compares post-validation tax rates between PO and invoice, and
// tax amounts when the rates agree. Rates are percentage points on both
// sides; the extractor has already forced each side's amount to be
// consistent with its own rate.
func (v *fieldValidator) compareTax(po, inv *models.ExtractedData, warnings *[]string) []models.Discrepancy {
	var out []models.Discrepancy

	switch {
	case po.TaxRate == nil || inv.TaxRate == nil:
		if po.TaxRate == nil && inv.TaxRate != nil {
			*warnings = append(*warnings, "tax rate missing on the purchase_order, rate comparison skipped")
		}
		if inv.TaxRate == nil && po.TaxRate != nil {
			*warnings = append(*warnings, "tax rate missing on the invoice, rate comparison skipped")
		}
	default:
		diff := inv.TaxRate.Sub(*po.TaxRate)
		if diff.Abs().GreaterThan(v.config.TaxRateTolerancePts) {
			severity := models.SeverityMedium
			if diff.Abs().GreaterThan(decimal.NewFromInt(2)) {
				severity = models.SeverityHigh
			}
			impact := decimal.Zero
			if inv.Subtotal != nil {
				impact = inv.Subtotal.Mul(diff).Div(decimal.NewFromInt(100)).Round(2)
			}
			out = append(out, models.Discrepancy{
				Type:           models.TaxRateMismatch,
				Severity:       severity,
				MonetaryImpact: impact,
				FieldValues: []models.FieldValue{
					rateFieldValue(models.RolePurchaseOrder, po),
					rateFieldValue(models.RoleInvoice, inv),
				},
				Message: fmt.Sprintf("Tax rate differs: PO %s%% vs invoice %s%%",
					po.TaxRate.String(), inv.TaxRate.String()),
			})
			return out
		}
	}

	if po.TaxAmount != nil && inv.TaxAmount != nil {
		diff := inv.TaxAmount.Sub(*po.TaxAmount)
		if diff.Abs().GreaterThan(v.moneyTolerance(*po.TaxAmount)) {
			out = append(out, models.Discrepancy{
				Type:           models.TaxAmountMismatch,
				Severity:       models.SeverityMedium,
				MonetaryImpact: diff.Round(2),
				FieldValues: []models.FieldValue{
					amountFieldValue(models.RolePurchaseOrder, "tax_amount", po.TaxAmount, po),
					amountFieldValue(models.RoleInvoice, "tax_amount", inv.TaxAmount, inv),
				},
				Message: fmt.Sprintf("Tax amount differs: PO %s vs invoice %s",
					po.TaxAmount.StringFixed(2), inv.TaxAmount.StringFixed(2)),
			})
		}
	}
	return out
}

// compareTotals checks invoice total against PO total. Severity scales with
// the size of the difference relative to the PO total.
func (v *fieldValidator) compareTotals(po, inv *models.ExtractedData, warnings *[]string) []models.Discrepancy {
	if po.TotalAmount == nil || inv.TotalAmount == nil {
		if po.TotalAmount == nil {
			*warnings = append(*warnings, "total amount missing on the purchase_order, total comparison skipped")
		}
		if inv.TotalAmount == nil {
			*warnings = append(*warnings, "total amount missing on the invoice, total comparison skipped")
		}
		return nil
	}

	diff := inv.TotalAmount.Sub(*po.TotalAmount)
	if diff.Abs().LessThanOrEqual(v.moneyTolerance(*po.TotalAmount)) {
		return nil
	}

	severity := models.SeverityMedium
	if po.TotalAmount.IsPositive() {
		ratio := diff.Abs().Div(po.TotalAmount.Abs())
		switch {
		case ratio.GreaterThanOrEqual(decimal.NewFromFloat(0.10)):
			severity = models.SeverityCritical
		case ratio.GreaterThanOrEqual(decimal.NewFromFloat(0.02)):
			severity = models.SeverityHigh
		}
	}

	return []models.Discrepancy{{
		Type:           models.TotalMismatch,
		Severity:       severity,
		MonetaryImpact: diff.Round(2),
		FieldValues: []models.FieldValue{
			amountFieldValue(models.RolePurchaseOrder, "total_amount", po.TotalAmount, po),
			amountFieldValue(models.RoleInvoice, "total_amount", inv.TotalAmount, inv),
		},
		Message: fmt.Sprintf("Total differs by %s: PO %s vs invoice %s",
			diff.StringFixed(2), po.TotalAmount.StringFixed(2), inv.TotalAmount.StringFixed(2)),
	}}
}

func (v *fieldValidator) moneyTolerance(baseline decimal.Decimal) decimal.Decimal {
	relative := baseline.Abs().Mul(v.config.MoneyRelativeTolerance)
	if relative.GreaterThan(v.config.MoneyAbsoluteFloor) {
		return relative
	}
	return v.config.MoneyAbsoluteFloor
}

func rateFieldValue(role models.DocumentRole, data *models.ExtractedData) models.FieldValue {
	return models.FieldValue{
		Document: role,
		Field:    "tax_rate",
		Value:    data.TaxRate.String() + "%",
		Method:   data.ExtractionMethods["tax_rate"],
	}
}

func amountFieldValue(role models.DocumentRole, field string, value *decimal.Decimal, data *models.ExtractedData) models.FieldValue {
	return models.FieldValue{
		Document: role,
		Field:    field,
		Value:    value.StringFixed(2),
		Method:   data.ExtractionMethods[field],
	}
}
