package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MatchMethod records how a line-item pair was established.
type MatchMethod string

const (
	MatchExactKey         MatchMethod = "exact_key"
	MatchNormalizedKey    MatchMethod = "normalized_key"
	MatchFuzzyDescription MatchMethod = "fuzzy_description"
	MatchUnmatched        MatchMethod = "unmatched"
)

// MatchedPair links zero-or-one PO line item to zero-or-one Invoice line item,
// and optionally a delivery-note item. A pair with a nil side is an unmatched
// item on the other side.
type MatchedPair struct {
	POItem       *LineItem `json:"po_item,omitempty"`
	InvoiceItem  *LineItem `json:"invoice_item,omitempty"`
	DeliveryItem *LineItem `json:"delivery_item,omitempty"`

	Method MatchMethod `json:"match_method"`

	// Confidence is 0-100: 100 for key matches, scaled similarity for
	// fuzzy matches, 0 for unmatched.
	Confidence float64 `json:"match_confidence"`

	// Similarity is the description similarity score for fuzzy matches.
	Similarity float64 `json:"similarity,omitempty"`
}

// DiscrepancyType classifies a detected mismatch.
type DiscrepancyType string

const (
	QuantityMismatch    DiscrepancyType = "quantity_mismatch"
	PriceChange         DiscrepancyType = "price_change"
	MissingItem         DiscrepancyType = "missing_item"
	ExtraItem           DiscrepancyType = "extra_item"
	TaxRateMismatch     DiscrepancyType = "tax_rate_mismatch"
	TaxAmountMismatch   DiscrepancyType = "tax_amount_mismatch"
	CurrencyMismatch    DiscrepancyType = "currency_mismatch"
	TotalMismatch       DiscrepancyType = "total_mismatch"
	DescriptionMismatch DiscrepancyType = "description_mismatch"
)

// Severity ranks a discrepancy for downstream prioritization.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns an ordinal for sorting, critical highest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// FieldValue is one side of a compared value with its provenance.
type FieldValue struct {
	Document DocumentRole     `json:"document"`
	Field    string           `json:"field"`
	Value    string           `json:"value"`
	Method   ExtractionMethod `json:"extraction_method,omitempty"`
}

// Discrepancy is a typed finding with severity and signed monetary impact.
// Positive impact means the invoice charges more than the PO authorizes.
type Discrepancy struct {
	Type           DiscrepancyType `json:"type"`
	Severity       Severity        `json:"severity"`
	FieldValues    []FieldValue    `json:"field_values,omitempty"`
	MonetaryImpact decimal.Decimal `json:"monetary_impact"`
	Message        string          `json:"message"`
}

// MatchConfidence carries per-field confidences plus the weighted overall
// score (0-100).
type MatchConfidence struct {
	Overall float64            `json:"overall"`
	Fields  map[string]float64 `json:"fields,omitempty"`
}

// MatchingResult is the immutable outcome of one PO/Invoice pairing attempt.
// Re-runs recompute it in full; there is no incremental update.
type MatchingResult struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	// MatchedBy is "po_number" or "vendor_name" depending on how the
	// documents were paired.
	MatchedBy string `json:"matched_by"`

	PODocumentID           string `json:"po_document_id"`
	InvoiceDocumentID      string `json:"invoice_document_id"`
	DeliveryNoteDocumentID string `json:"delivery_note_document_id,omitempty"`

	TotalPOAmount      decimal.Decimal `json:"total_po_amount"`
	TotalInvoiceAmount decimal.Decimal `json:"total_invoice_amount"`
	TotalDifference    decimal.Decimal `json:"total_difference"`

	MatchConfidence MatchConfidence `json:"match_confidence"`
	LineItemPairs   []MatchedPair   `json:"line_item_pairs"`
	Discrepancies   []Discrepancy   `json:"discrepancies"`

	// Warnings are extraction-confidence notes (for example a missing
	// currency code) that are not discrepancies.
	Warnings []string `json:"warnings,omitempty"`

	// MatchingAttempted is false when a precondition failed; FailureReason
	// then explains why line-item matching was skipped.
	MatchingAttempted bool   `json:"matching_attempted"`
	FailureReason     string `json:"failure_reason,omitempty"`

	// PerfectMatch is true when there are no discrepancies and the total
	// difference is zero.
	PerfectMatch bool `json:"perfect_match"`
}
