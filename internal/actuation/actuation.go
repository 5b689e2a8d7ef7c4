// Package actuation forwards actuation commands to the dump-load PWM and the
// mechanical brake and keeps track of what was last applied.
package actuation

import (
	"math"
	"sync"

	"codeberg.org/mutker/vawtctl/internal/errors"
	"codeberg.org/mutker/vawtctl/internal/logger"
	"codeberg.org/mutker/vawtctl/internal/turbine"
)

// Actuator drives the physical outputs.
type Actuator interface {
	Apply(cmd turbine.ActuationCommand) error
}

// Controller is an Actuator that remembers its outputs.
type Controller interface {
	Actuator
	Current() turbine.ActuationCommand
	Last() turbine.ActuationCommand
	// FailSafe engages the brake and zeroes the duty cycle.
	FailSafe() error
}

type tracker struct {
	next    Actuator
	current turbine.ActuationCommand
	last    turbine.ActuationCommand
	applied bool
	mu      sync.RWMutex
	logger  logger.Logger
}

// NewTracker wraps an actuator. Commands with a duty cycle outside [0, 1]
// are rejected before reaching it.
func NewTracker(next Actuator, log logger.Logger) Controller {
	if log == nil {
		log = logger.Default()
	}
	return &tracker{
		next:    next,
		current: turbine.FailSafe(),
		last:    turbine.FailSafe(),
		logger:  log.With("actuation"),
	}
}

func (t *tracker) Apply(cmd turbine.ActuationCommand) error {
	errFactory := errors.New()
	t.mu.Lock()
	defer t.mu.Unlock()

	if math.IsNaN(cmd.DumpLoadDuty) || cmd.DumpLoadDuty < 0 || cmd.DumpLoadDuty > 1 {
		return errFactory.WithData(errors.ErrInvalidArgument, "duty cycle out of range")
	}

	if err := t.next.Apply(cmd); err != nil {
		return errFactory.Wrap(errors.ErrApplyCommand, err)
	}

	if t.applied && cmd == t.current {
		return nil
	}

	if !t.applied || cmd.MechanicalBrakeEngaged != t.current.MechanicalBrakeEngaged {
		t.logger.Info().
			Bool("brake", cmd.MechanicalBrakeEngaged).
			Float64("duty", cmd.DumpLoadDuty).
			Msg("Brake state applied")
	} else {
		t.logger.Debug().
			Float64("duty", cmd.DumpLoadDuty).
			Float64("previous", t.current.DumpLoadDuty).
			Msg("Duty cycle changed")
	}

	t.last = t.current
	t.current = cmd
	t.applied = true

	return nil
}

func (t *tracker) FailSafe() error {
	return t.Apply(turbine.FailSafe())
}

func (t *tracker) Current() turbine.ActuationCommand {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

func (t *tracker) Last() turbine.ActuationCommand {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}
