package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"docmatch/internal/logger"
)

// OpenAIConfig configures the OpenAI-backed validator.
type OpenAIConfig struct {
	Model       string
	Temperature float32

	// Timeout bounds a single validation call.
	Timeout time.Duration

	// MaxRetries is the retry budget for transient failures. Malformed
	// responses are never retried; they are business outcomes, not
	// transport errors.
	MaxRetries uint64
}

// DefaultOpenAIConfig returns the recommended validation-call settings.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		Model:       openai.GPT4oMini,
		Temperature: 0.1,
		Timeout:     15 * time.Second,
		MaxRetries:  2,
	}
}

// OpenAIValidator implements Validator against the OpenAI chat completion API.
type OpenAIValidator struct {
	client *openai.Client
	config OpenAIConfig
	log    zerolog.Logger
}

// NewOpenAIValidator creates a validator with the given API key and config.
func NewOpenAIValidator(apiKey string, config OpenAIConfig) *OpenAIValidator {
	if config.Model == "" {
		config.Model = openai.GPT4oMini
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	return &OpenAIValidator{
		client: openai.NewClient(apiKey),
		config: config,
		log:    logger.WithComponent("llm-validator"),
	}
}

// ValidateField asks the model whether the candidate value is an extraction
// error. Transient transport failures are retried with exponential backoff
// within the configured budget; after that the error is returned to the
// caller. An unparseable response yields (nil, nil).
func (v *OpenAIValidator) ValidateField(ctx context.Context, req ValidationRequest) (*ValidationResult, error) {
	const op = "ValidateField"

	prompt := buildValidationPrompt(req)

	var content string
	call := func() error {
		callCtx, cancel := context.WithTimeout(ctx, v.config.Timeout)
		defer cancel()

		resp, err := v.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model: v.config.Model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			Temperature: v.config.Temperature,
			MaxTokens:   300,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return backoff.Permanent(err)
			}
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("no response choices")
		}
		content = resp.Choices[0].Message.Content
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), v.config.MaxRetries), ctx)
	if err := backoff.Retry(call, policy); err != nil {
		return nil, fmt.Errorf("%s: validation call for field %q failed: %w", op, req.Field, err)
	}

	result := ParseResult(content)
	if result == nil {
		v.log.Warn().
			Str("field", req.Field).
			Str("response", content).
			Msg("Unparseable validation response, treating as no correction")
		return nil, nil
	}

	v.log.Debug().
		Str("field", req.Field).
		Bool("is_extraction_error", result.IsExtractionError).
		Float64("confidence", result.Confidence).
		Msg("Received validation verdict")

	return result, nil
}

func buildValidationPrompt(req ValidationRequest) string {
	return fmt.Sprintf(`You are validating a value extracted from a scanned business document.

Field: %s
Extracted value: %s
Value calculated from the document's line items: %s

Raw document text around the field:
%s

Decide whether the extracted value is an OCR/extraction error (for example a
neighboring total picked up by mistake) rather than a genuine value printed
on the document.

Respond only with JSON in this format:
{
  "is_extraction_error": true/false,
  "corrected_value": 123.45 or null,
  "confidence": 0.95
}

Set "corrected_value" to the value actually printed on the document, or null
if you cannot tell.`,
		req.Field,
		req.Candidate.StringFixed(2),
		req.Calculated.StringFixed(2),
		req.RawText)
}
