package stage

import (
	"podindex/internal/queue"
	"podindex/internal/services"
)

// Permanent wraps err so the workflow skips retries for it.
func Permanent(stage queue.Stage, operation, message string, err error) error {
	return services.Wrap(services.ErrPermanent, string(stage), operation, message, err)
}

// Validation wraps err as a retryable collaborator output problem.
func Validation(stage queue.Stage, operation, message string, err error) error {
	return services.Wrap(services.ErrValidation, string(stage), operation, message, err)
}

// Transient wraps err as a retryable infrastructure failure.
func Transient(stage queue.Stage, operation, message string, err error) error {
	return services.Wrap(services.ErrTransient, string(stage), operation, message, err)
}
