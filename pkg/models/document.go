package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DocumentRole identifies which side of a purchasing flow a document belongs to.
type DocumentRole string

const (
	RolePurchaseOrder DocumentRole = "purchase_order"
	RoleInvoice       DocumentRole = "invoice"
	RoleDeliveryNote  DocumentRole = "delivery_note"
)

// ExtractionMethod records which extraction pass produced an accepted field value.
type ExtractionMethod string

const (
	// MethodStructured means the value came from a parsed table or a
	// high-confidence field candidate.
	MethodStructured ExtractionMethod = "structured"

	// MethodParagraph means the value came from label-windowed numeric
	// extraction over free text.
	MethodParagraph ExtractionMethod = "paragraph"

	// MethodLLM means the value was produced or corrected by the LLM
	// validation pass.
	MethodLLM ExtractionMethod = "llm"

	// MethodCalculated means the value was derived from line items
	// (ground truth) rather than read off the document.
	MethodCalculated ExtractionMethod = "calculated"

	// MethodCalculatedFallback means an extracted value failed ground-truth
	// validation and was replaced by the derived value.
	MethodCalculatedFallback ExtractionMethod = "calculated_fallback"
)

// BoundingBox is the page-relative location of an extracted value,
// kept for diagnostics and downstream highlighting.
type BoundingBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// FieldCandidate is one candidate value for a named field as produced by the
// upstream OCR/layout service. A document may carry several candidates for
// the same key.
type FieldCandidate struct {
	Key         string       `json:"key"`
	Value       string       `json:"value"`
	Confidence  float64      `json:"confidence"`
	Page        int          `json:"page,omitempty"`
	BoundingBox *BoundingBox `json:"bounding_box,omitempty"`
}

// Table is a grid of cell texts from the layout service. Row zero is usually,
// but not reliably, a header row.
type Table struct {
	Rows [][]string `json:"rows"`
}

// DocumentInput is the per-document bag of extraction candidates consumed
// from the OCR/layout service. Every part of it may be missing: no fields,
// no tables, no text.
type DocumentInput struct {
	DocumentID string           `json:"document_id"`
	Role       DocumentRole     `json:"role"`
	Fields     []FieldCandidate `json:"fields,omitempty"`
	Tables     []Table          `json:"tables,omitempty"`
	Paragraphs []string         `json:"paragraphs,omitempty"`
}

// Candidates returns all candidates for a field key, in document order.
func (d *DocumentInput) Candidates(key string) []FieldCandidate {
	var out []FieldCandidate
	for _, f := range d.Fields {
		if f.Key == key {
			out = append(out, f)
		}
	}
	return out
}

// BestCandidate returns the highest-confidence candidate for a field key.
func (d *DocumentInput) BestCandidate(key string) (FieldCandidate, bool) {
	var best FieldCandidate
	found := false
	for _, f := range d.Fields {
		if f.Key != key {
			continue
		}
		if !found || f.Confidence > best.Confidence {
			best = f
			found = true
		}
	}
	return best, found
}

// LineItem is a single purchasable line on a document. Created once during
// extraction and immutable afterwards.
type LineItem struct {
	ItemNumber    string           `json:"item_number"`
	NormalizedKey string           `json:"normalized_key"`
	Description   string           `json:"description"`
	Quantity      *decimal.Decimal `json:"quantity,omitempty"`
	UnitPrice     *decimal.Decimal `json:"unit_price,omitempty"`
	LineTotal     *decimal.Decimal `json:"line_total,omitempty"`
}

// EffectiveTotal returns the line total, falling back to quantity x unit
// price when the total was not extracted, and zero when neither is known.
func (li LineItem) EffectiveTotal() decimal.Decimal {
	if li.LineTotal != nil {
		return *li.LineTotal
	}
	if li.Quantity != nil && li.UnitPrice != nil {
		return li.Quantity.Mul(*li.UnitPrice)
	}
	return decimal.Zero
}

// ExtractedData is the normalized result of running the multi-pass extractor
// over one document.
type ExtractedData struct {
	DocumentID     string       `json:"document_id"`
	Role           DocumentRole `json:"role"`
	VendorName     string       `json:"vendor_name,omitempty"`
	DocumentNumber string       `json:"document_number,omitempty"`

	// PONumber is the purchase-order reference found on invoices and
	// delivery notes. For a purchase order it equals DocumentNumber.
	PONumber string `json:"po_number,omitempty"`

	DocumentDate *time.Time `json:"document_date,omitempty"`
	DueDate      *time.Time `json:"due_date,omitempty"`

	// CurrencyCode is an ISO 4217 code, or empty when no currency could be
	// resolved.
	CurrencyCode string `json:"currency_code,omitempty"`

	Subtotal    *decimal.Decimal `json:"subtotal,omitempty"`
	TaxRate     *decimal.Decimal `json:"tax_rate,omitempty"` // percent, 0-100
	TaxAmount   *decimal.Decimal `json:"tax_amount,omitempty"`
	TotalAmount *decimal.Decimal `json:"total_amount,omitempty"`

	LineItems []LineItem `json:"line_items,omitempty"`

	ConfidenceScores  map[string]float64          `json:"confidence_scores,omitempty"`
	ExtractionMethods map[string]ExtractionMethod `json:"extraction_methods,omitempty"`
}

// SetField records a field value's provenance and confidence. Nil maps are
// initialized on first use so zero-value ExtractedData stays usable.
func (e *ExtractedData) SetField(name string, method ExtractionMethod, confidence float64) {
	if e.ConfidenceScores == nil {
		e.ConfidenceScores = make(map[string]float64)
	}
	if e.ExtractionMethods == nil {
		e.ExtractionMethods = make(map[string]ExtractionMethod)
	}
	e.ConfidenceScores[name] = confidence
	e.ExtractionMethods[name] = method
}
