package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
	ErrPermanent     = errors.New("permanent failure")
)

// FailureClass groups stage errors by how the pipeline should resolve them.
type FailureClass string

const (
	// FailureTransient covers timeouts, rate limits and remote 5xx responses.
	FailureTransient FailureClass = "transient"
	// FailureValidation covers malformed collaborator output. Retryable.
	FailureValidation FailureClass = "validation"
	// FailurePermanent covers vanished inputs and other non-retryable faults.
	FailurePermanent FailureClass = "permanent"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps a stage error to the failure class the workflow manager uses
// when resolving a claim. Unknown errors are treated as transient so they get
// the retry budget.
func Classify(err error) FailureClass {
	switch {
	case err == nil:
		return FailureTransient
	case errors.Is(err, ErrPermanent), errors.Is(err, ErrNotFound), errors.Is(err, ErrConfiguration):
		return FailurePermanent
	case errors.Is(err, ErrValidation):
		return FailureValidation
	default:
		return FailureTransient
	}
}

// Retryable reports whether a failure of the given class may go back to pending.
func (c FailureClass) Retryable() bool {
	return c != FailurePermanent
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
