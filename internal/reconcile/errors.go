package reconcile

import (
	"errors"
	"fmt"
	"strings"

	"docmatch/pkg/models"
)

// ErrMissingDocument indicates a reconciliation was requested without one of
// the required documents.
var ErrMissingDocument = errors.New("required document missing")

// PreconditionError reports that matching could not be attempted. The
// partial result accompanying it still carries whatever was extracted.
type PreconditionError struct {
	Op      string
	Missing []models.DocumentRole
	Err     error
}

func (e *PreconditionError) Error() string {
	roles := make([]string, len(e.Missing))
	for i, r := range e.Missing {
		roles[i] = string(r)
	}
	return fmt.Sprintf("%s: matching not attempted, missing %s: %v", e.Op, strings.Join(roles, ", "), e.Err)
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

func (e *PreconditionError) Is(target error) bool {
	return target == ErrMissingDocument
}
