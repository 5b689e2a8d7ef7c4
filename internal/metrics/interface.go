package metrics

import (
	"context"
	"io"

	"codeberg.org/mutker/vawtctl/internal/turbine"
)

// Collector receives one record per control tick.
type Collector interface {
	Record(ctx context.Context, rec turbine.LogRecord) error
	Close() error
}

// Repository defines the interface for sample storage
type Repository interface {
	Record(sample Sample) error
	Flush() error
	Close() error
}

// Exporter writes stored samples of one run as CSV.
type Exporter interface {
	Export(ctx context.Context, runID string, w io.Writer) (int, error)
}

// Sample is a tick record tagged with the run that produced it.
type Sample struct {
	RunID string
	turbine.LogRecord
}
