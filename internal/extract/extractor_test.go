package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docmatch/internal/llm"
	"docmatch/pkg/models"
)

type fakeValidator struct {
	result *llm.ValidationResult
	err    error
	calls  int
}

func (f *fakeValidator) ValidateField(ctx context.Context, req llm.ValidationRequest) (*llm.ValidationResult, error) {
	f.calls++
	return f.result, f.err
}

func itemsTable() models.Table {
	return models.Table{Rows: [][]string{
		{"Item", "Description", "Qty", "Unit Price", "Amount"},
		{"001", "Industrial Pump", "2", "1,000.00", "2,000.00"},
	}}
}

func TestExtractMergedTotalsParagraph(t *testing.T) {
	// OCR merged the totals block into one paragraph. The value next to the
	// tax label must win over the larger total later in the same line.
	in := models.DocumentInput{
		DocumentID: "inv-1",
		Role:       models.RoleInvoice,
		Tables:     []models.Table{itemsTable()},
		Paragraphs: []string{"Subtotal: $2,000.00 Tax (8%): $160.00 Total: $2,160.00"},
	}

	data, err := New(nil, DefaultConfig()).Extract(context.Background(), in)
	require.NoError(t, err)

	require.NotNil(t, data.TaxAmount)
	assert.Equal(t, "160.00", data.TaxAmount.StringFixed(2))
	assert.Equal(t, models.MethodParagraph, data.ExtractionMethods["tax_amount"])

	require.NotNil(t, data.TaxRate)
	assert.Equal(t, "8", data.TaxRate.String())

	require.NotNil(t, data.Subtotal)
	assert.Equal(t, "2000.00", data.Subtotal.StringFixed(2))

	require.NotNil(t, data.TotalAmount)
	assert.Equal(t, "2160.00", data.TotalAmount.StringFixed(2))

	assert.Equal(t, "USD", data.CurrencyCode)
	require.Len(t, data.LineItems, 1)
	assert.Equal(t, "1", data.LineItems[0].NormalizedKey)
}

func TestExtractCalculatedFallbackWithoutValidator(t *testing.T) {
	// A bad structured candidate claims the tax is the grand total. With no
	// LLM available the value derived from line items must replace it.
	in := models.DocumentInput{
		DocumentID: "inv-2",
		Role:       models.RoleInvoice,
		Fields: []models.FieldCandidate{
			{Key: "tax_rate", Value: "8", Confidence: 0.9},
			{Key: "tax_amount", Value: "2160.00", Confidence: 0.9},
		},
		Tables: []models.Table{itemsTable()},
	}

	data, err := New(nil, DefaultConfig()).Extract(context.Background(), in)
	require.NoError(t, err)

	require.NotNil(t, data.TaxAmount)
	assert.Equal(t, "160.00", data.TaxAmount.StringFixed(2))
	assert.Equal(t, models.MethodCalculatedFallback, data.ExtractionMethods["tax_amount"])

	// Subtotal itself came straight from the line items.
	assert.Equal(t, models.MethodCalculated, data.ExtractionMethods["subtotal"])
	assert.Equal(t, "2000.00", data.Subtotal.StringFixed(2))
}

func TestExtractLLMCorrectionAccepted(t *testing.T) {
	validator := &fakeValidator{result: &llm.ValidationResult{
		IsExtractionError: true,
		CorrectedValue:    decPtr("160.00"),
		Confidence:        0.95,
	}}
	in := models.DocumentInput{
		DocumentID: "inv-3",
		Role:       models.RoleInvoice,
		Fields: []models.FieldCandidate{
			{Key: "tax_rate", Value: "8", Confidence: 0.9},
			{Key: "tax_amount", Value: "2160.00", Confidence: 0.9},
		},
		Tables: []models.Table{itemsTable()},
	}

	data, err := New(validator, DefaultConfig()).Extract(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, 1, validator.calls)

	assert.Equal(t, "160.00", data.TaxAmount.StringFixed(2))
	assert.Equal(t, models.MethodLLM, data.ExtractionMethods["tax_amount"])
	assert.InDelta(t, 0.95, data.ConfidenceScores["tax_amount"], 1e-9)
}

func TestExtractLLMKeepsGenuineValue(t *testing.T) {
	// The model is confident the printed value is real. It stays, and the
	// cross-document comparison gets to judge it instead.
	validator := &fakeValidator{result: &llm.ValidationResult{
		IsExtractionError: false,
		Confidence:        0.9,
	}}
	in := models.DocumentInput{
		DocumentID: "inv-4",
		Role:       models.RoleInvoice,
		Fields: []models.FieldCandidate{
			{Key: "tax_rate", Value: "8", Confidence: 0.9},
			{Key: "tax_amount", Value: "2160.00", Confidence: 0.9},
		},
		Tables: []models.Table{itemsTable()},
	}

	data, err := New(validator, DefaultConfig()).Extract(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "2160.00", data.TaxAmount.StringFixed(2))
	assert.Equal(t, models.MethodStructured, data.ExtractionMethods["tax_amount"])
}

func TestExtractLLMLowConfidenceFallsBack(t *testing.T) {
	validator := &fakeValidator{result: &llm.ValidationResult{
		IsExtractionError: true,
		CorrectedValue:    decPtr("999.00"),
		Confidence:        0.4,
	}}
	in := models.DocumentInput{
		DocumentID: "inv-5",
		Role:       models.RoleInvoice,
		Fields: []models.FieldCandidate{
			{Key: "tax_rate", Value: "8", Confidence: 0.9},
			{Key: "tax_amount", Value: "2160.00", Confidence: 0.9},
		},
		Tables: []models.Table{itemsTable()},
	}

	data, err := New(validator, DefaultConfig()).Extract(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "160.00", data.TaxAmount.StringFixed(2))
	assert.Equal(t, models.MethodCalculatedFallback, data.ExtractionMethods["tax_amount"])
}

func TestExtractValidatorOutageAborts(t *testing.T) {
	validator := &fakeValidator{err: errors.New("openai: connection refused")}
	in := models.DocumentInput{
		DocumentID: "inv-6",
		Role:       models.RoleInvoice,
		Fields: []models.FieldCandidate{
			{Key: "tax_rate", Value: "8", Confidence: 0.9},
			{Key: "tax_amount", Value: "2160.00", Confidence: 0.9},
		},
		Tables: []models.Table{itemsTable()},
	}

	_, err := New(validator, DefaultConfig()).Extract(context.Background(), in)
	require.Error(t, err)

	var serviceErr *ServiceError
	require.ErrorAs(t, err, &serviceErr)
	assert.Equal(t, "tax_amount", serviceErr.Field)
	assert.Equal(t, "inv-6", serviceErr.DocumentID)
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestExtractEmptyDocument(t *testing.T) {
	_, err := New(nil, DefaultConfig()).Extract(context.Background(), models.DocumentInput{
		DocumentID: "empty",
		Role:       models.RoleInvoice,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestExtractFractionalRateNormalized(t *testing.T) {
	// Structured numeric sources sometimes deliver the rate as a fraction.
	in := models.DocumentInput{
		DocumentID: "inv-7",
		Role:       models.RoleInvoice,
		Fields: []models.FieldCandidate{
			{Key: "tax_rate", Value: "0.08", Confidence: 0.9},
		},
		Tables: []models.Table{itemsTable()},
	}

	data, err := New(nil, DefaultConfig()).Extract(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, data.TaxRate)
	assert.Equal(t, "8", data.TaxRate.String())

	// With the rate known, the missing tax amount is derived.
	require.NotNil(t, data.TaxAmount)
	assert.Equal(t, "160.00", data.TaxAmount.StringFixed(2))
	assert.Equal(t, models.MethodCalculated, data.ExtractionMethods["tax_amount"])
}

func TestExtractStructuredRateWithPercentSign(t *testing.T) {
	// An explicit "%" on a structured rate candidate must not sink the
	// candidate, and marks the value as already a percentage.
	in := models.DocumentInput{
		DocumentID: "inv-9",
		Role:       models.RoleInvoice,
		Fields: []models.FieldCandidate{
			{Key: "tax_rate", Value: "8%", Confidence: 0.9},
		},
		Tables: []models.Table{itemsTable()},
	}

	data, err := New(nil, DefaultConfig()).Extract(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, data.TaxRate)
	assert.Equal(t, "8", data.TaxRate.String())
	assert.Equal(t, models.MethodStructured, data.ExtractionMethods["tax_rate"])

	require.NotNil(t, data.TaxAmount)
	assert.Equal(t, "160.00", data.TaxAmount.StringFixed(2))
}

func TestExtractDerivesRateFromAmount(t *testing.T) {
	in := models.DocumentInput{
		DocumentID: "inv-8",
		Role:       models.RoleInvoice,
		Fields: []models.FieldCandidate{
			{Key: "tax_amount", Value: "160.00", Confidence: 0.9},
		},
		Tables: []models.Table{itemsTable()},
	}

	data, err := New(nil, DefaultConfig()).Extract(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, data.TaxRate)
	assert.Equal(t, "8", data.TaxRate.String())
	assert.Equal(t, models.MethodCalculated, data.ExtractionMethods["tax_rate"])
}

func TestExtractIdentityFields(t *testing.T) {
	in := models.DocumentInput{
		DocumentID: "po-1",
		Role:       models.RolePurchaseOrder,
		Fields: []models.FieldCandidate{
			{Key: "po_number", Value: "PO-4711", Confidence: 0.98},
			{Key: "vendor_name", Value: "Acme Industrial GmbH", Confidence: 0.95},
			{Key: "document_date", Value: "2026-03-15", Confidence: 0.9},
		},
		Tables: []models.Table{itemsTable()},
	}

	data, err := New(nil, DefaultConfig()).Extract(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "PO-4711", data.DocumentNumber)
	assert.Equal(t, "PO-4711", data.PONumber)
	assert.Equal(t, "Acme Industrial GmbH", data.VendorName)
	require.NotNil(t, data.DocumentDate)
	assert.Equal(t, "2026-03-15", data.DocumentDate.Format("2006-01-02"))
}
