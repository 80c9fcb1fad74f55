// Package jobs defines the background maintenance jobs run by the worker.
package jobs

import (
	"context"
	"time"
)

// Job is one kind of periodic work. Run is called with a context bounded
// by Timeout and must be safe to repeat.
type Job struct {
	Type    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}
