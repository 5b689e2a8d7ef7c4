package telemetry

import (
	"context"

	"codeberg.org/mutker/vawtctl/internal/errors"
	"codeberg.org/mutker/vawtctl/internal/logger"
	"codeberg.org/mutker/vawtctl/internal/turbine"
)

type service struct {
	repo  Repository
	runID string
}

type noopCollector struct{}

// NewService builds the transition journal for one run.
func NewService(cfg Config, runID string, log logger.Logger) (Collector, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if log == nil {
		log = logger.Default()
	}
	log = log.With("telemetry")

	if !cfg.Enabled {
		log.Debug().Msg("Transition journal disabled, using no-op collector")
		return noopCollector{}, nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		return nil, err
	}

	return &service{
		repo:  repo,
		runID: runID,
	}, nil
}

func (s *service) Record(ctx context.Context, tr turbine.Transition) error {
	errFactory := errors.New()

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		if err := s.repo.Store(ctx, Entry{RunID: s.runID, Transition: tr}); err != nil {
			return errFactory.Wrap(ErrTransitionCollection, err)
		}
	}

	return nil
}

func (s *service) Close() error {
	errFactory := errors.New()

	if err := s.repo.Close(); err != nil {
		return errFactory.Wrap(ErrServiceShutdown, err)
	}
	return nil
}

func (noopCollector) Record(_ context.Context, _ turbine.Transition) error {
	return nil
}

func (noopCollector) Close() error {
	return nil
}
