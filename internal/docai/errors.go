package docai

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPDF         = errors.New("invalid PDF document")
	ErrDocumentTooLarge   = errors.New("document exceeds maximum size")
	ErrMissingCredentials = errors.New("missing Google Cloud credentials")
	ErrInvalidConfig      = errors.New("invalid Document AI configuration")
	ErrQuotaExceeded      = errors.New("Document AI quota exceeded")
	ErrProcessorNotFound  = errors.New("Document AI processor not found")
	ErrProcessingFailed   = errors.New("document processing failed")
)

// ProcessingError wraps a Document AI failure with the operation and the
// document it occurred on.
type ProcessingError struct {
	Op         string
	DocumentID string
	Err        error
	Details    string
}

func (e *ProcessingError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (document: %s, %s)", e.Op, e.Err, e.DocumentID, e.Details)
	}
	return fmt.Sprintf("%s: %v (document: %s)", e.Op, e.Err, e.DocumentID)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

func wrapProcessing(op, documentID string, err error, details string) error {
	return &ProcessingError{Op: op, DocumentID: documentID, Err: err, Details: details}
}
