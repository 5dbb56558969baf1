package queue

import "errors"

var (
	// ErrLeaseLost means the claim was reaped or taken over before it was resolved.
	ErrLeaseLost = errors.New("lease lost")
	// ErrInvalidTransition means the stage was not in the state the operation requires.
	ErrInvalidTransition = errors.New("invalid stage transition")
	// ErrUnknownStage is returned for stage names outside the pipeline.
	ErrUnknownStage = errors.New("unknown stage")
)
