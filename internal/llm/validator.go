// Package llm implements the LLM validation contract used by the extraction
// pipeline: given a suspect extracted value and the value calculated from
// ground truth, the model judges whether the extraction was an error and may
// propose a corrected value.
//
// Every response is untrusted input. It is schema-validated before use, and
// anything malformed is treated as "no correction available" so the caller
// falls back to the calculated value deterministically.
package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
)

// ValidationRequest asks whether a candidate extracted value is an
// extraction error, given the surrounding raw text and the value derived
// from line-item ground truth.
type ValidationRequest struct {
	Field      string          `json:"field"`
	RawText    string          `json:"raw_text"`
	Candidate  decimal.Decimal `json:"candidate_value"`
	Calculated decimal.Decimal `json:"calculated_value"`
}

// ValidationResult is the schema-validated model verdict. CorrectedValue is
// nil when the model did not propose a replacement.
type ValidationResult struct {
	IsExtractionError bool             `json:"is_extraction_error"`
	CorrectedValue    *decimal.Decimal `json:"corrected_value"`
	Confidence        float64          `json:"confidence"`
}

// Validator is the validation oracle consumed by the extractor. A nil result
// with a nil error means no usable verdict was available; the caller must
// fall back to the calculated value.
type Validator interface {
	ValidateField(ctx context.Context, req ValidationRequest) (*ValidationResult, error)
}

const resultSchemaJSON = `{
	"type": "object",
	"properties": {
		"is_extraction_error": {"type": "boolean"},
		"corrected_value": {"type": ["number", "null"]},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	},
	"required": ["is_extraction_error", "confidence"]
}`

var resultSchema = jsonschema.MustCompileString("validation_result.json", resultSchemaJSON)

// ParseResult parses and schema-validates a raw model response. It strips
// markdown code fences first since models frequently wrap JSON in them.
// Returns nil when the response is not a valid verdict.
func ParseResult(raw string) *ValidationResult {
	cleaned := stripFences(raw)

	var generic any
	if err := json.Unmarshal([]byte(cleaned), &generic); err != nil {
		return nil
	}
	if err := resultSchema.Validate(generic); err != nil {
		return nil
	}

	var result ValidationResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil
	}
	return &result
}

func stripFences(response string) string {
	cleaned := strings.TrimSpace(response)
	if strings.HasPrefix(cleaned, "```json") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimSuffix(cleaned, "```")
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(cleaned, "```")
	}
	return strings.TrimSpace(cleaned)
}
