// Package extract turns per-document candidate bags from the OCR/layout
// service into normalized ExtractedData.
//
// Extraction is an explicit ordered pipeline per document: a structured pass
// over tables and field candidates, a paragraph pass using label-windowed
// numeric extraction for anything still unresolved, and an LLM validation
// pass that only runs for values disagreeing with line-item ground truth.
// Later passes never overwrite a value an earlier pass produced and
// validation accepted. A field that stays unresolved is left nil and flagged
// low-confidence; only external service outages abort a document.
package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"docmatch/internal/llm"
	"docmatch/internal/logger"
	"docmatch/internal/normalize"
	"docmatch/pkg/models"
)

// Config holds the validation tolerances for the extractor.
type Config struct {
	// RelativeTolerance is the allowed relative deviation from a
	// ground-truth expectation, as a fraction (0.01 = 1%).
	RelativeTolerance decimal.Decimal

	// AbsoluteFloor is the minimum absolute tolerance in currency units.
	AbsoluteFloor decimal.Decimal

	// LLMConfidenceMin is the minimum verdict confidence required before
	// an LLM correction is considered at all.
	LLMConfidenceMin float64
}

// DefaultConfig returns the default tolerances: 1% relative with a
// $0.01 floor.
func DefaultConfig() Config {
	return Config{
		RelativeTolerance: decimal.NewFromFloat(0.01),
		AbsoluteFloor:     decimal.NewFromFloat(0.01),
		LLMConfidenceMin:  0.7,
	}
}

// Extractor runs the multi-pass extraction pipeline. The validator may be
// nil, in which case disagreements resolve straight to calculated fallbacks.
type Extractor struct {
	validator llm.Validator
	config    Config
	log       zerolog.Logger
}

// New creates an extractor with the given LLM validator and config.
func New(validator llm.Validator, config Config) *Extractor {
	if config.RelativeTolerance.IsZero() {
		config.RelativeTolerance = decimal.NewFromFloat(0.01)
	}
	if config.AbsoluteFloor.IsZero() {
		config.AbsoluteFloor = decimal.NewFromFloat(0.01)
	}
	if config.LLMConfidenceMin == 0 {
		config.LLMConfidenceMin = 0.7
	}
	return &Extractor{
		validator: validator,
		config:    config,
		log:       logger.WithComponent("extractor"),
	}
}

var percent100 = decimal.NewFromInt(100)

// Extract runs all passes over one document and returns normalized data.
// It returns a *ServiceError only for inputs with no content at all or when
// an external service stays down; missing fields, missing tables, and
// validation conflicts all degrade in-place.
func (e *Extractor) Extract(ctx context.Context, in models.DocumentInput) (*models.ExtractedData, error) {
	const op = "Extract"
	start := time.Now()
	log := logger.WithDocument("extractor", in.DocumentID)

	if len(in.Fields) == 0 && len(in.Tables) == 0 && len(in.Paragraphs) == 0 {
		return nil, &ServiceError{
			Op:         op,
			Document:   in.Role,
			DocumentID: in.DocumentID,
			Err:        ErrEmptyDocument,
		}
	}

	data := &models.ExtractedData{
		DocumentID: in.DocumentID,
		Role:       in.Role,
	}

	e.extractIdentity(in, data)
	e.extractCurrency(in, data)

	data.LineItems = parseLineItems(in.Tables)
	if len(data.LineItems) > 0 {
		data.SetField("line_items", models.MethodStructured, 0.9)
	}

	amounts := e.collectAmounts(in, data)
	if err := e.validateAmounts(ctx, in, data, amounts); err != nil {
		return nil, err
	}

	log.Info().
		Str("role", string(in.Role)).
		Int("line_items", len(data.LineItems)).
		Bool("has_subtotal", data.Subtotal != nil).
		Bool("has_tax", data.TaxAmount != nil).
		Bool("has_total", data.TotalAmount != nil).
		Str("currency", data.CurrencyCode).
		Dur("elapsed", time.Since(start)).
		Msg("Document extraction completed")

	return data, nil
}

// extractIdentity resolves vendor, document numbers, and dates from field
// candidates. These never have a ground-truth expectation, so the best
// structured candidate wins.
func (e *Extractor) extractIdentity(in models.DocumentInput, data *models.ExtractedData) {
	if c, ok := in.BestCandidate("vendor_name"); ok {
		data.VendorName = strings.TrimSpace(c.Value)
		data.SetField("vendor_name", models.MethodStructured, c.Confidence)
	}

	numberKeys := []string{"document_number"}
	switch in.Role {
	case models.RolePurchaseOrder:
		numberKeys = append(numberKeys, "po_number")
	case models.RoleInvoice:
		numberKeys = append(numberKeys, "invoice_number")
	case models.RoleDeliveryNote:
		numberKeys = append(numberKeys, "delivery_note_number")
	}
	for _, key := range numberKeys {
		if c, ok := in.BestCandidate(key); ok {
			data.DocumentNumber = strings.TrimSpace(c.Value)
			data.SetField("document_number", models.MethodStructured, c.Confidence)
			break
		}
	}

	if c, ok := in.BestCandidate("po_number"); ok {
		data.PONumber = strings.TrimSpace(c.Value)
	} else if in.Role == models.RolePurchaseOrder {
		data.PONumber = data.DocumentNumber
	}

	for _, key := range []string{"document_date", "invoice_date", "order_date", "date"} {
		if c, ok := in.BestCandidate(key); ok {
			if date, ok := parseDate(c.Value); ok {
				data.DocumentDate = &date
				data.SetField("document_date", models.MethodStructured, c.Confidence)
				break
			}
		}
	}
	if c, ok := in.BestCandidate("due_date"); ok {
		if date, ok := parseDate(c.Value); ok {
			data.DueDate = &date
			data.SetField("due_date", models.MethodStructured, c.Confidence)
		}
	}
}

// extractCurrency resolves the currency code: explicit candidate first, then
// ISO code or symbol scan over the document text.
func (e *Extractor) extractCurrency(in models.DocumentInput, data *models.ExtractedData) {
	if c, ok := in.BestCandidate("currency_code"); ok {
		if res := normalize.Currency(c.Value); res.Method != normalize.CurrencyNotFound {
			data.CurrencyCode = res.Code
			data.SetField("currency_code", models.MethodStructured, c.Confidence)
			return
		}
	}

	var sb strings.Builder
	for _, p := range in.Paragraphs {
		sb.WriteString(p)
		sb.WriteByte('\n')
	}
	for _, t := range in.Tables {
		for _, row := range t.Rows {
			sb.WriteString(strings.Join(row, " "))
			sb.WriteByte('\n')
		}
	}

	res := normalize.Currency(sb.String())
	if res.Method == normalize.CurrencyNotFound {
		e.markUnresolved(data, "currency_code")
		return
	}
	data.CurrencyCode = res.Code
	data.SetField("currency_code", models.MethodParagraph, 0.7)
	e.log.Debug().
		Str("document_id", in.DocumentID).
		Str("code", res.Code).
		Str("resolution", string(res.Method)).
		Msg("Currency resolved from document text")
}

// amountState tracks one monetary field through the passes.
type amountState struct {
	value      *decimal.Decimal
	method     models.ExtractionMethod
	confidence float64
	// fromPercent is set for tax rates parsed off an explicit "%" token,
	// which are already on the 0-100 scale.
	fromPercent bool
}

func (s *amountState) set(v decimal.Decimal, method models.ExtractionMethod, conf float64) {
	s.value = &v
	s.method = method
	s.confidence = conf
}

type documentAmounts struct {
	subtotal  amountState
	taxRate   amountState
	taxAmount amountState
	total     amountState
}

// collectAmounts runs the structured and paragraph passes for the
// document-level amounts. The paragraph pass only fills fields the
// structured pass left unresolved.
func (e *Extractor) collectAmounts(in models.DocumentInput, data *models.ExtractedData) *documentAmounts {
	amounts := &documentAmounts{}

	// Structured pass: field candidates first (they carry confidence),
	// then label/value rows from totals tables.
	fieldAmount(in, &amounts.subtotal, "subtotal")
	fieldAmount(in, &amounts.taxAmount, "tax_amount", "tax")
	fieldRate(in, &amounts.taxRate, "tax_rate")
	fieldAmount(in, &amounts.total, "total_amount", "total")

	totals := parseTotals(in.Tables)
	tableAmount(&amounts.subtotal, totals.subtotal)
	tableAmount(&amounts.taxAmount, totals.taxAmount)
	tableAmount(&amounts.total, totals.total)
	if amounts.taxRate.value == nil && totals.taxRate != nil {
		amounts.taxRate.set(*totals.taxRate, models.MethodStructured, 0.85)
		amounts.taxRate.fromPercent = true
	}

	// Paragraph pass: label-windowed extraction over free text.
	text := strings.Join(in.Paragraphs, "\n")
	if text != "" {
		paragraphAmount(&amounts.subtotal, text, "subtotal")
		paragraphAmount(&amounts.taxAmount, text, "tax", "vat")
		paragraphAmount(&amounts.total, text, "total", "amount due")
		if amounts.taxRate.value == nil {
			for _, label := range []string{"tax", "vat"} {
				if rate, ok := normalize.PercentNear(label, text); ok {
					amounts.taxRate.set(rate, models.MethodParagraph, 0.7)
					amounts.taxRate.fromPercent = true
					break
				}
			}
		}
	}

	// Tax rates are stored as percentages (0-100). Structured sources
	// without an explicit "%" sometimes deliver fractions; normalize them.
	if amounts.taxRate.value != nil && !amounts.taxRate.fromPercent {
		if amounts.taxRate.value.GreaterThan(decimal.Zero) && amounts.taxRate.value.LessThanOrEqual(decimal.NewFromInt(1)) {
			normalized := amounts.taxRate.value.Mul(percent100)
			amounts.taxRate.value = &normalized
		}
	}

	return amounts
}

func fieldAmount(in models.DocumentInput, state *amountState, keys ...string) {
	if state.value != nil {
		return
	}
	for _, key := range keys {
		if c, ok := in.BestCandidate(key); ok {
			if amount, err := normalize.ParseAmount(c.Value); err == nil {
				state.set(amount, models.MethodStructured, c.Confidence)
				return
			}
		}
	}
}

// fieldRate is fieldAmount for percentage fields. Structured rate
// candidates often carry an explicit "%" suffix, which ParseAmount
// rejects; strip it and record that the value is already a percentage.
func fieldRate(in models.DocumentInput, state *amountState, keys ...string) {
	if state.value != nil {
		return
	}
	for _, key := range keys {
		c, ok := in.BestCandidate(key)
		if !ok {
			continue
		}
		raw := strings.TrimSpace(c.Value)
		explicit := strings.HasSuffix(raw, "%")
		if amount, err := normalize.ParseAmount(strings.TrimSuffix(raw, "%")); err == nil {
			state.set(amount, models.MethodStructured, c.Confidence)
			state.fromPercent = explicit
			return
		}
	}
}

func tableAmount(state *amountState, v *decimal.Decimal) {
	if state.value == nil && v != nil {
		state.set(*v, models.MethodStructured, 0.85)
	}
}

func paragraphAmount(state *amountState, text string, labels ...string) {
	if state.value != nil {
		return
	}
	for _, label := range labels {
		if amount, ok := normalize.AmountNear(label, text); ok {
			state.set(amount, models.MethodParagraph, 0.7)
			return
		}
	}
}

// validateAmounts is the validation pass: every extracted amount is checked
// against ground-truth expectations, with LLM arbitration for disagreements
// and the calculated value as the deterministic fallback.
func (e *Extractor) validateAmounts(ctx context.Context, in models.DocumentInput, data *models.ExtractedData, amounts *documentAmounts) error {
	groundTruth := Subtotal(data.LineItems)
	hasItems := len(data.LineItems) > 0

	// Subtotal: ground truth wins unless the extracted value is close, or
	// is corroborated by the tax/total cross-check.
	sub := amounts.subtotal
	switch {
	case sub.value == nil && hasItems:
		amounts.subtotal.set(groundTruth, models.MethodCalculated, 1.0)
	case sub.value != nil && hasItems && !WithinTolerance(*sub.value, groundTruth, e.tolerance(groundTruth)):
		if e.subtotalOverrideValid(amounts) {
			e.log.Debug().
				Str("document_id", in.DocumentID).
				Str("extracted", sub.value.StringFixed(2)).
				Str("calculated", groundTruth.StringFixed(2)).
				Msg("Keeping extracted subtotal, tax/total cross-check passed")
		} else {
			amounts.subtotal.set(groundTruth, models.MethodCalculatedFallback, 0.9)
		}
	}

	// Tax: validate the extracted amount against subtotal x rate / 100.
	if amounts.subtotal.value != nil && amounts.taxRate.value != nil {
		expected := RoundMoney(amounts.subtotal.value.Mul(*amounts.taxRate.value).Div(percent100))
		switch {
		case amounts.taxAmount.value == nil:
			amounts.taxAmount.set(expected, models.MethodCalculated, 1.0)
		case !WithinTolerance(*amounts.taxAmount.value, expected, e.tolerance(expected)):
			if err := e.arbitrate(ctx, in, &amounts.taxAmount, "tax_amount", expected); err != nil {
				return err
			}
		}
	}
	if amounts.taxRate.value == nil && amounts.taxAmount.value != nil &&
		amounts.subtotal.value != nil && amounts.subtotal.value.IsPositive() {
		rate := amounts.taxAmount.value.Div(*amounts.subtotal.value).Mul(percent100).Round(4)
		amounts.taxRate.set(rate, models.MethodCalculated, 1.0)
	}

	// Total: validate against subtotal + tax.
	if amounts.subtotal.value != nil && amounts.taxAmount.value != nil {
		expected := RoundMoney(amounts.subtotal.value.Add(*amounts.taxAmount.value))
		switch {
		case amounts.total.value == nil:
			amounts.total.set(expected, models.MethodCalculated, 1.0)
		case !WithinTolerance(*amounts.total.value, expected, e.tolerance(expected)):
			if err := e.arbitrate(ctx, in, &amounts.total, "total_amount", expected); err != nil {
				return err
			}
		}
	}

	e.commit(data, "subtotal", &amounts.subtotal, func(v *decimal.Decimal) { data.Subtotal = v })
	e.commit(data, "tax_rate", &amounts.taxRate, func(v *decimal.Decimal) { data.TaxRate = v })
	e.commit(data, "tax_amount", &amounts.taxAmount, func(v *decimal.Decimal) { data.TaxAmount = v })
	e.commit(data, "total_amount", &amounts.total, func(v *decimal.Decimal) { data.TotalAmount = v })
	return nil
}

// subtotalOverrideValid reports whether an extracted subtotal that disagrees
// with ground truth is corroborated by subtotal + tax = total.
func (e *Extractor) subtotalOverrideValid(amounts *documentAmounts) bool {
	if amounts.subtotal.value == nil || amounts.taxAmount.value == nil || amounts.total.value == nil {
		return false
	}
	implied := amounts.subtotal.value.Add(*amounts.taxAmount.value)
	return WithinTolerance(implied, *amounts.total.value, e.tolerance(*amounts.total.value))
}

// arbitrate resolves a value that disagrees with its ground-truth
// expectation: ask the LLM whether it was an extraction error, accept a
// corrected value only if the correction itself validates, and otherwise
// fall back to the calculated value.
func (e *Extractor) arbitrate(ctx context.Context, in models.DocumentInput, state *amountState, field string, expected decimal.Decimal) error {
	const op = "arbitrate"

	if e.validator == nil {
		state.set(expected, models.MethodCalculatedFallback, 0.9)
		return nil
	}

	verdict, err := e.validator.ValidateField(ctx, llm.ValidationRequest{
		Field:      field,
		RawText:    relevantText(in),
		Candidate:  *state.value,
		Calculated: expected,
	})
	if err != nil {
		return &ServiceError{
			Op:         op,
			Document:   in.Role,
			DocumentID: in.DocumentID,
			Field:      field,
			Err:        fmt.Errorf("%w: %v", ErrServiceUnavailable, err),
		}
	}

	if verdict == nil || verdict.Confidence < e.config.LLMConfidenceMin {
		state.set(expected, models.MethodCalculatedFallback, 0.9)
		return nil
	}

	if !verdict.IsExtractionError {
		// The model believes the printed value is genuine. Keep it; the
		// cross-document comparison will surface it if it matters.
		return nil
	}

	if verdict.CorrectedValue != nil && WithinTolerance(*verdict.CorrectedValue, expected, e.tolerance(expected)) {
		state.set(*verdict.CorrectedValue, models.MethodLLM, verdict.Confidence)
		return nil
	}
	state.set(expected, models.MethodCalculatedFallback, 0.9)
	return nil
}

func (e *Extractor) commit(data *models.ExtractedData, name string, state *amountState, assign func(*decimal.Decimal)) {
	if state.value == nil {
		e.markUnresolved(data, name)
		return
	}
	v := *state.value
	assign(&v)
	data.SetField(name, state.method, state.confidence)
}

func (e *Extractor) markUnresolved(data *models.ExtractedData, name string) {
	if data.ConfidenceScores == nil {
		data.ConfidenceScores = make(map[string]float64)
	}
	data.ConfidenceScores[name] = 0
}

func (e *Extractor) tolerance(baseline decimal.Decimal) decimal.Decimal {
	return Tolerance(baseline, e.config.RelativeTolerance, e.config.AbsoluteFloor)
}

// relevantText narrows the raw text handed to the LLM to the paragraphs that
// mention amounts, mirroring what a human would look at.
func relevantText(in models.DocumentInput) string {
	var kept []string
	for _, p := range in.Paragraphs {
		lower := strings.ToLower(p)
		if strings.Contains(lower, "tax") || strings.Contains(lower, "total") ||
			strings.Contains(lower, "subtotal") || strings.Contains(lower, "vat") {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		kept = in.Paragraphs
	}
	return strings.Join(kept, "\n")
}

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"02.01.2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

func parseDate(s string) (time.Time, bool) {
	trimmed := strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
