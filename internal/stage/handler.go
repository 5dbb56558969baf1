package stage

import (
	"context"

	"podindex/internal/queue"
)

// Handler describes the contract the workflow manager needs from each stage.
// Execute runs only after a successful claim and returns the result fields
// to persist on completion.
type Handler interface {
	Stage() queue.Stage
	Execute(context.Context, *queue.Episode) (queue.Result, error)
	HealthCheck(context.Context) Health
}
