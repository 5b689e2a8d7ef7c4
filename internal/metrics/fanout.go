package metrics

import (
	"context"

	"codeberg.org/mutker/vawtctl/internal/errors"
	"codeberg.org/mutker/vawtctl/internal/turbine"
)

// Fanout forwards each record to every collector. A failing collector does
// not stop delivery to the others.
type Fanout []Collector

func (f Fanout) Record(ctx context.Context, rec turbine.LogRecord) error {
	var errs []error
	for _, c := range f {
		if err := c.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, c := range f {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
