package telemetry

import (
	"context"

	"codeberg.org/mutker/vawtctl/internal/turbine"
)

// Collector receives every executed mode transition.
type Collector interface {
	Record(ctx context.Context, tr turbine.Transition) error
	Close() error
}

// Entry is a stored transition.
type Entry struct {
	RunID string
	turbine.Transition
}
