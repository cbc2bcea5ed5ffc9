// Package reconcile cross-checks extracted purchase orders, invoices, and
// delivery notes and produces a ranked MatchingResult.
//
// The orchestrator owns no mutable state between calls. Each invocation
// extracts its documents concurrently, waits for both required documents,
// and builds a fresh result; re-running a reconciliation recomputes it in
// full.
package reconcile

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"docmatch/internal/logger"
	"docmatch/internal/match"
	"docmatch/pkg/models"
)

// Config holds the cross-document comparison tolerances.
type Config struct {
	// TaxRateTolerancePts is the allowed PO/invoice tax rate difference in
	// percentage points.
	TaxRateTolerancePts decimal.Decimal

	// MoneyRelativeTolerance and MoneyAbsoluteFloor bound when two
	// monetary values count as equal, as a fraction and a currency amount.
	MoneyRelativeTolerance decimal.Decimal
	MoneyAbsoluteFloor     decimal.Decimal

	// Match configures line-item pairing.
	Match match.Config
}

// DefaultConfig returns the standard tolerances: 0.5 percentage points for
// tax rates, 0.01 absolute or 0.1% relative for money.
func DefaultConfig() Config {
	return Config{
		TaxRateTolerancePts:    decimal.NewFromFloat(0.5),
		MoneyRelativeTolerance: decimal.NewFromFloat(0.001),
		MoneyAbsoluteFloor:     decimal.NewFromFloat(0.01),
		Match:                  match.DefaultConfig(),
	}
}

// Extractor is the document extraction dependency.
type Extractor interface {
	Extract(ctx context.Context, in models.DocumentInput) (*models.ExtractedData, error)
}

// Orchestrator runs extraction and reconciliation end to end.
type Orchestrator struct {
	extractor Extractor
	matcher   *match.Matcher
	fields    *fieldValidator
	engine    *engine
	log       zerolog.Logger
}

// New creates an orchestrator. The extractor may be nil if only Reconcile
// (with pre-extracted data) will be used.
func New(extractor Extractor, config Config) *Orchestrator {
	if config.TaxRateTolerancePts.IsZero() {
		config.TaxRateTolerancePts = decimal.NewFromFloat(0.5)
	}
	if config.MoneyRelativeTolerance.IsZero() {
		config.MoneyRelativeTolerance = decimal.NewFromFloat(0.001)
	}
	if config.MoneyAbsoluteFloor.IsZero() {
		config.MoneyAbsoluteFloor = decimal.NewFromFloat(0.01)
	}
	return &Orchestrator{
		extractor: extractor,
		matcher:   match.New(config.Match),
		fields:    newFieldValidator(config),
		engine:    newEngine(),
		log:       logger.WithComponent("orchestrator"),
	}
}

// Reconcile cross-checks already-extracted documents. The delivery note is
// optional. When the PO or invoice is missing it returns a partial result
// with MatchingAttempted false alongside a *PreconditionError.
func (o *Orchestrator) Reconcile(ctx context.Context, po, inv, dn *models.ExtractedData) (*models.MatchingResult, error) {
	const op = "Reconcile"
	start := time.Now()

	result := newResult()
	if dn != nil {
		result.DeliveryNoteDocumentID = dn.DocumentID
	}

	var missing []models.DocumentRole
	if po == nil {
		missing = append(missing, models.RolePurchaseOrder)
	} else {
		result.PODocumentID = po.DocumentID
		result.TotalPOAmount = deref(po.TotalAmount)
	}
	if inv == nil {
		missing = append(missing, models.RoleInvoice)
	} else {
		result.InvoiceDocumentID = inv.DocumentID
		result.TotalInvoiceAmount = deref(inv.TotalAmount)
	}
	if len(missing) > 0 {
		err := &PreconditionError{Op: op, Missing: missing, Err: ErrMissingDocument}
		result.FailureReason = err.Error()
		return result, err
	}

	result.MatchedBy = o.pairingBasis(po, inv, &result.Warnings)
	result.TotalDifference = result.TotalInvoiceAmount.Sub(result.TotalPOAmount)

	result.LineItemPairs = o.matcher.Pair(po.LineItems, inv.LineItems)
	if dn != nil {
		o.matcher.AttachDelivery(result.LineItemPairs, dn.LineItems)
	}
	result.Discrepancies = o.matcher.Compare(result.LineItemPairs)

	fieldDiscrepancies, warnings := o.fields.compare(po, inv, dn)
	result.Discrepancies = append(result.Discrepancies, fieldDiscrepancies...)
	result.Warnings = append(result.Warnings, warnings...)
	result.MatchingAttempted = true

	o.engine.finalize(result, po, inv)

	o.log.Info().
		Str("result_id", result.ID).
		Str("matched_by", result.MatchedBy).
		Str("total_difference", result.TotalDifference.StringFixed(2)).
		Dur("elapsed", time.Since(start)).
		Msg("Reconciliation completed")
	return result, nil
}

// ReconcileDocuments extracts the given documents concurrently and then
// reconciles them. A terminal extraction failure on the PO or invoice
// yields a partial-failure result, not an error; the delivery note degrades
// to a warning.
func (o *Orchestrator) ReconcileDocuments(ctx context.Context, po, inv models.DocumentInput, dn *models.DocumentInput) (*models.MatchingResult, error) {
	inputs := []models.DocumentInput{po, inv}
	if dn != nil {
		inputs = append(inputs, *dn)
	}

	type extraction struct {
		data *models.ExtractedData
		err  error
	}
	extractions := make([]extraction, len(inputs))

	var wg sync.WaitGroup
	for i := range inputs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, err := o.extractor.Extract(ctx, inputs[i])
			extractions[i] = extraction{data: data, err: err}
		}(i)
	}
	wg.Wait()

	var failures []string
	for i, ex := range extractions {
		if ex.err == nil {
			continue
		}
		if inputs[i].Role == models.RoleDeliveryNote {
			continue
		}
		o.log.Error().
			Err(ex.err).
			Str("document_id", inputs[i].DocumentID).
			Str("role", string(inputs[i].Role)).
			Msg("Document extraction failed")
		failures = append(failures, string(inputs[i].Role)+": "+ex.err.Error())
	}
	if len(failures) > 0 {
		result := newResult()
		result.PODocumentID = po.DocumentID
		result.InvoiceDocumentID = inv.DocumentID
		if dn != nil {
			result.DeliveryNoteDocumentID = dn.DocumentID
		}
		if extractions[0].data != nil {
			result.TotalPOAmount = deref(extractions[0].data.TotalAmount)
		}
		if extractions[1].data != nil {
			result.TotalInvoiceAmount = deref(extractions[1].data.TotalAmount)
		}
		result.FailureReason = "extraction failed: " + strings.Join(failures, "; ")
		return result, nil
	}

	var dnData *models.ExtractedData
	if dn != nil {
		if ex := extractions[2]; ex.err != nil {
			o.log.Warn().Err(ex.err).Str("document_id", dn.DocumentID).Msg("Delivery note extraction failed, continuing without it")
		} else {
			dnData = ex.data
		}
	}

	result, err := o.Reconcile(ctx, extractions[0].data, extractions[1].data, dnData)
	if dn != nil && dnData == nil && result != nil {
		result.Warnings = append(result.Warnings, "delivery note could not be extracted and was ignored")
		result.DeliveryNoteDocumentID = dn.DocumentID
	}
	return result, err
}

// pairingBasis decides what the documents were matched on: PO numbers when
// both carry one, vendor names otherwise. Disagreement on the chosen basis
// becomes a warning rather than blocking reconciliation.
func (o *Orchestrator) pairingBasis(po, inv *models.ExtractedData, warnings *[]string) string {
	if po.PONumber != "" && inv.PONumber != "" {
		if !strings.EqualFold(strings.TrimSpace(po.PONumber), strings.TrimSpace(inv.PONumber)) {
			*warnings = append(*warnings, "PO number differs between documents: "+po.PONumber+" vs "+inv.PONumber)
		}
		return "po_number"
	}
	if po.VendorName != "" && inv.VendorName != "" &&
		!strings.EqualFold(strings.TrimSpace(po.VendorName), strings.TrimSpace(inv.VendorName)) {
		*warnings = append(*warnings, "vendor name differs between documents: "+po.VendorName+" vs "+inv.VendorName)
	}
	return "vendor_name"
}

func newResult() *models.MatchingResult {
	return &models.MatchingResult{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}
}

func deref(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
