package extract

import (
	"errors"
	"fmt"

	"docmatch/pkg/models"
)

// Common extraction errors
var (
	// ErrServiceUnavailable is returned when an external service (layout
	// OCR or LLM validation) stays unreachable after the retry budget.
	ErrServiceUnavailable = errors.New("extraction service unavailable")

	// ErrEmptyDocument is returned when a document input carries no
	// fields, no tables, and no text.
	ErrEmptyDocument = errors.New("document input is empty")
)

// ServiceError reports an external-service failure during extraction,
// naming the document and field it happened on. Field-level extraction gaps
// never produce this; they degrade to calculated fallbacks instead.
type ServiceError struct {
	// Op is the operation that failed (e.g., "Extract", "validateTax").
	Op string

	// Document identifies the document being extracted.
	Document models.DocumentRole

	// DocumentID is the upstream identifier of the document.
	DocumentID string

	// Field is the field under validation when the service failed, if any.
	Field string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("extract: %s failed for %s %s field %q: %v", e.Op, e.Document, e.DocumentID, e.Field, e.Err)
	}
	return fmt.Sprintf("extract: %s failed for %s %s: %v", e.Op, e.Document, e.DocumentID, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is implements error matching for errors.Is.
func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}
