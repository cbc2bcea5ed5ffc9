package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docmatch/pkg/models"
)

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// extractedDoc builds a consistent document: one line item, subtotal, 8%
// tax, and total, in USD.
func extractedDoc(role models.DocumentRole, id string) *models.ExtractedData {
	data := &models.ExtractedData{
		DocumentID:   id,
		Role:         role,
		VendorName:   "Acme Industrial GmbH",
		PONumber:     "PO-4711",
		CurrencyCode: "USD",
		Subtotal:     decPtr("5000.00"),
		TaxRate:      decPtr("8"),
		TaxAmount:    decPtr("400.00"),
		TotalAmount:  decPtr("5400.00"),
		LineItems: []models.LineItem{{
			ItemNumber:    "001",
			NormalizedKey: "1",
			Description:   "Industrial Pump",
			Quantity:      decPtr("2"),
			UnitPrice:     decPtr("2500.00"),
			LineTotal:     decPtr("5000.00"),
		}},
	}
	for _, field := range []string{"subtotal", "tax_rate", "tax_amount", "total_amount", "currency_code"} {
		data.SetField(field, models.MethodStructured, 0.95)
	}
	return data
}

func TestReconcilePerfectMatch(t *testing.T) {
	o := New(nil, DefaultConfig())
	result, err := o.Reconcile(context.Background(),
		extractedDoc(models.RolePurchaseOrder, "po-1"),
		extractedDoc(models.RoleInvoice, "inv-1"),
		nil)
	require.NoError(t, err)

	assert.True(t, result.MatchingAttempted)
	assert.Empty(t, result.Discrepancies)
	assert.True(t, result.TotalDifference.IsZero())
	assert.True(t, result.PerfectMatch)
	assert.Equal(t, "po_number", result.MatchedBy)
	assert.GreaterOrEqual(t, result.MatchConfidence.Overall, 95.0)
	assert.NotEmpty(t, result.ID)
}

func TestReconcilePerfectMatchLowExtractionConfidence(t *testing.T) {
	// Every field accepted by the paragraph pass at 0.7. A clean
	// reconciliation still clears 95 regardless of how the fields were
	// extracted.
	po := extractedDoc(models.RolePurchaseOrder, "po-1")
	inv := extractedDoc(models.RoleInvoice, "inv-1")
	for _, doc := range []*models.ExtractedData{po, inv} {
		for _, field := range []string{"subtotal", "tax_rate", "tax_amount", "total_amount", "currency_code"} {
			doc.SetField(field, models.MethodParagraph, 0.7)
		}
	}

	result, err := New(nil, DefaultConfig()).Reconcile(context.Background(), po, inv, nil)
	require.NoError(t, err)

	assert.Empty(t, result.Discrepancies)
	assert.True(t, result.PerfectMatch)
	assert.GreaterOrEqual(t, result.MatchConfidence.Overall, 95.0)
}

func TestReconcileMissingTotalsNotPerfectMatch(t *testing.T) {
	po := extractedDoc(models.RolePurchaseOrder, "po-1")
	inv := extractedDoc(models.RoleInvoice, "inv-1")
	po.TotalAmount = nil
	inv.TotalAmount = nil

	result, err := New(nil, DefaultConfig()).Reconcile(context.Background(), po, inv, nil)
	require.NoError(t, err)

	assert.True(t, result.TotalDifference.IsZero())
	assert.False(t, result.PerfectMatch)
	assert.NotEmpty(t, result.Warnings)
}

func TestReconcileCurrencyMismatchAlwaysSurfaces(t *testing.T) {
	po := extractedDoc(models.RolePurchaseOrder, "po-1")
	inv := extractedDoc(models.RoleInvoice, "inv-1")
	inv.CurrencyCode = "EUR"

	result, err := New(nil, DefaultConfig()).Reconcile(context.Background(), po, inv, nil)
	require.NoError(t, err)

	require.Len(t, result.Discrepancies, 1)
	d := result.Discrepancies[0]
	assert.Equal(t, models.CurrencyMismatch, d.Type)
	assert.Equal(t, models.SeverityHigh, d.Severity)
	assert.False(t, result.PerfectMatch)
}

func TestReconcileMissingCurrencyIsWarningNotMismatch(t *testing.T) {
	po := extractedDoc(models.RolePurchaseOrder, "po-1")
	inv := extractedDoc(models.RoleInvoice, "inv-1")
	inv.CurrencyCode = ""

	result, err := New(nil, DefaultConfig()).Reconcile(context.Background(), po, inv, nil)
	require.NoError(t, err)

	assert.Empty(t, result.Discrepancies)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "currency")
}

func TestReconcileTaxRateSeverityTiers(t *testing.T) {
	tests := []struct {
		name         string
		invoiceRate  string
		wantSeverity models.Severity
		wantFinding  bool
	}{
		{name: "within tolerance", invoiceRate: "8.3", wantFinding: false},
		{name: "small difference is medium", invoiceRate: "9.5", wantSeverity: models.SeverityMedium, wantFinding: true},
		{name: "large difference is high", invoiceRate: "11", wantSeverity: models.SeverityHigh, wantFinding: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			po := extractedDoc(models.RolePurchaseOrder, "po-1")
			inv := extractedDoc(models.RoleInvoice, "inv-1")
			inv.TaxRate = decPtr(tt.invoiceRate)
			// Keep everything else consistent with the changed rate so only
			// the rate comparison fires.
			rate := decimal.RequireFromString(tt.invoiceRate)
			tax := inv.Subtotal.Mul(rate).Div(decimal.NewFromInt(100)).Round(2)
			inv.TaxAmount = &tax
			total := inv.Subtotal.Add(tax)
			inv.TotalAmount = &total
			po.TaxAmount = inv.TaxAmount
			po.TotalAmount = inv.TotalAmount

			result, err := New(nil, DefaultConfig()).Reconcile(context.Background(), po, inv, nil)
			require.NoError(t, err)

			var found *models.Discrepancy
			for i := range result.Discrepancies {
				if result.Discrepancies[i].Type == models.TaxRateMismatch {
					found = &result.Discrepancies[i]
				}
			}
			if !tt.wantFinding {
				assert.Nil(t, found)
				return
			}
			require.NotNil(t, found)
			assert.Equal(t, tt.wantSeverity, found.Severity)
		})
	}
}

func TestReconcileTotalSeverityTiers(t *testing.T) {
	tests := []struct {
		name         string
		invoiceTotal string
		wantSeverity models.Severity
	}{
		{name: "over ten percent is critical", invoiceTotal: "6210.00", wantSeverity: models.SeverityCritical},
		{name: "over two percent is high", invoiceTotal: "5562.00", wantSeverity: models.SeverityHigh},
		{name: "small difference is medium", invoiceTotal: "5460.00", wantSeverity: models.SeverityMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			po := extractedDoc(models.RolePurchaseOrder, "po-1")
			inv := extractedDoc(models.RoleInvoice, "inv-1")
			inv.TotalAmount = decPtr(tt.invoiceTotal)

			result, err := New(nil, DefaultConfig()).Reconcile(context.Background(), po, inv, nil)
			require.NoError(t, err)

			var found *models.Discrepancy
			for i := range result.Discrepancies {
				if result.Discrepancies[i].Type == models.TotalMismatch {
					found = &result.Discrepancies[i]
				}
			}
			require.NotNil(t, found)
			assert.Equal(t, tt.wantSeverity, found.Severity)
			assert.False(t, result.PerfectMatch)
		})
	}
}

func TestReconcileDiscrepancyOrdering(t *testing.T) {
	po := extractedDoc(models.RolePurchaseOrder, "po-1")
	po.LineItems = append(po.LineItems, models.LineItem{
		ItemNumber:    "003",
		NormalizedKey: "3",
		Description:   "Hose Kit",
		Quantity:      decPtr("1"),
		UnitPrice:     decPtr("85.00"),
		LineTotal:     decPtr("85.00"),
	})
	inv := extractedDoc(models.RoleInvoice, "inv-1")
	inv.CurrencyCode = "EUR"
	inv.LineItems[0].UnitPrice = decPtr("2650.00")
	inv.LineItems[0].LineTotal = decPtr("5300.00")

	result, err := New(nil, DefaultConfig()).Reconcile(context.Background(), po, inv, nil)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(result.Discrepancies), 3)

	// Severity ranks never increase down the list; within a rank, absolute
	// impact never increases.
	for i := 1; i < len(result.Discrepancies); i++ {
		prev, cur := result.Discrepancies[i-1], result.Discrepancies[i]
		assert.GreaterOrEqual(t, prev.Severity.Rank(), cur.Severity.Rank())
		if prev.Severity.Rank() == cur.Severity.Rank() {
			assert.True(t, prev.MonetaryImpact.Abs().GreaterThanOrEqual(cur.MonetaryImpact.Abs()))
		}
	}
	assert.Equal(t, models.SeverityHigh, result.Discrepancies[0].Severity)
}

func TestReconcileMissingDocumentPrecondition(t *testing.T) {
	result, err := New(nil, DefaultConfig()).Reconcile(context.Background(),
		nil, extractedDoc(models.RoleInvoice, "inv-1"), nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingDocument)
	var precondErr *PreconditionError
	require.ErrorAs(t, err, &precondErr)
	assert.Contains(t, precondErr.Missing, models.RolePurchaseOrder)

	require.NotNil(t, result)
	assert.False(t, result.MatchingAttempted)
	assert.NotEmpty(t, result.FailureReason)
	assert.Equal(t, "inv-1", result.InvoiceDocumentID)
}

type fakeExtractor struct {
	data map[string]*models.ExtractedData
	errs map[string]error
}

func (f *fakeExtractor) Extract(ctx context.Context, in models.DocumentInput) (*models.ExtractedData, error) {
	if err := f.errs[in.DocumentID]; err != nil {
		return nil, err
	}
	if d, ok := f.data[in.DocumentID]; ok {
		return d, nil
	}
	return &models.ExtractedData{DocumentID: in.DocumentID, Role: in.Role}, nil
}

func TestReconcileDocumentsConcurrentExtraction(t *testing.T) {
	extractor := &fakeExtractor{data: map[string]*models.ExtractedData{
		"po-1":  extractedDoc(models.RolePurchaseOrder, "po-1"),
		"inv-1": extractedDoc(models.RoleInvoice, "inv-1"),
	}}
	o := New(extractor, DefaultConfig())

	result, err := o.ReconcileDocuments(context.Background(),
		models.DocumentInput{DocumentID: "po-1", Role: models.RolePurchaseOrder},
		models.DocumentInput{DocumentID: "inv-1", Role: models.RoleInvoice},
		nil)
	require.NoError(t, err)
	assert.True(t, result.MatchingAttempted)
	assert.True(t, result.PerfectMatch)
}

func TestReconcileDocumentsPartialFailure(t *testing.T) {
	extractor := &fakeExtractor{
		data: map[string]*models.ExtractedData{
			"inv-1": extractedDoc(models.RoleInvoice, "inv-1"),
		},
		errs: map[string]error{
			"po-1": errors.New("document ai: processor unavailable"),
		},
	}
	o := New(extractor, DefaultConfig())

	result, err := o.ReconcileDocuments(context.Background(),
		models.DocumentInput{DocumentID: "po-1", Role: models.RolePurchaseOrder},
		models.DocumentInput{DocumentID: "inv-1", Role: models.RoleInvoice},
		nil)
	require.NoError(t, err)

	assert.False(t, result.MatchingAttempted)
	assert.Contains(t, result.FailureReason, "purchase_order")
	assert.Equal(t, "po-1", result.PODocumentID)
	assert.Equal(t, "inv-1", result.InvoiceDocumentID)
	assert.Empty(t, result.LineItemPairs)
}

func TestReconcileDocumentsDeliveryNoteFailureDegrades(t *testing.T) {
	extractor := &fakeExtractor{
		data: map[string]*models.ExtractedData{
			"po-1":  extractedDoc(models.RolePurchaseOrder, "po-1"),
			"inv-1": extractedDoc(models.RoleInvoice, "inv-1"),
		},
		errs: map[string]error{
			"dn-1": errors.New("document ai: processor unavailable"),
		},
	}
	o := New(extractor, DefaultConfig())

	dn := &models.DocumentInput{DocumentID: "dn-1", Role: models.RoleDeliveryNote}
	result, err := o.ReconcileDocuments(context.Background(),
		models.DocumentInput{DocumentID: "po-1", Role: models.RolePurchaseOrder},
		models.DocumentInput{DocumentID: "inv-1", Role: models.RoleInvoice},
		dn)
	require.NoError(t, err)

	assert.True(t, result.MatchingAttempted)
	assert.Equal(t, "dn-1", result.DeliveryNoteDocumentID)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[len(result.Warnings)-1], "delivery note")
}
