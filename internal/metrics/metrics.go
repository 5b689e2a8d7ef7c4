package metrics

import (
	"context"
	"sync"

	"codeberg.org/mutker/vawtctl/internal/errors"
	"codeberg.org/mutker/vawtctl/internal/logger"
	"codeberg.org/mutker/vawtctl/internal/turbine"
)

type service struct {
	repo   Repository
	cfg    Config
	runID  string
	mu     sync.Mutex
	closed bool
}

// No-op implementation
type noopCollector struct{}

// NewService builds the sample collector for one run. A disabled
// configuration yields a collector that drops everything.
func NewService(cfg Config, runID string, log logger.Logger) (Collector, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if log == nil {
		log = logger.Default()
	}
	log = log.With("metrics")

	if !cfg.Enabled {
		log.Debug().Msg("Sample collection disabled, using no-op collector")
		return &noopCollector{}, nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to create sample repository")
		return nil, err
	}

	log.Debug().
		Str("db_path", cfg.DBPath).
		Str("run_id", runID).
		Msg("Sample collection initialized")

	return &service{
		repo:  repo,
		cfg:   cfg,
		runID: runID,
	}, nil
}

func (s *service) Record(ctx context.Context, rec turbine.LogRecord) error {
	errFactory := errors.New()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errFactory.New(ErrClosed)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		if err := s.repo.Record(Sample{RunID: s.runID, LogRecord: rec}); err != nil {
			return errFactory.Wrap(ErrSampleCollection, err)
		}
	}

	return nil
}

func (s *service) Close() error {
	errFactory := errors.New()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.repo.Close(); err != nil {
		return errFactory.Wrap(ErrServiceShutdown, err)
	}
	return nil
}

func (*noopCollector) Record(_ context.Context, _ turbine.LogRecord) error {
	return nil
}

func (*noopCollector) Close() error {
	return nil
}
