// Package regulation holds the soft-stall regulator used while the turbine
// runs at rated power.
package regulation

import (
	"math"
	"time"

	"go.einride.tech/pid"
)

// Config tunes the soft-stall PI loop.
type Config struct {
	ProportionalGain float64
	IntegralGain     float64
	// BaseDuty is the feed-forward duty the PI terms are added to.
	BaseDuty float64
	// IntegralLimit bounds |IntegralGain·∫e dt| in duty units.
	IntegralLimit float64
	MinDuty       float64
	MaxDuty       float64
}

// SoftStall is a PI controller on the power error (rated − measured). The
// integrator only lives while the turbine is in PowerRegulation; the owner
// calls Reset on entry and exit.
type SoftStall struct {
	cfg        Config
	controller pid.Controller
	duty       float64
}

func NewSoftStall(cfg Config) *SoftStall {
	return &SoftStall{
		cfg: cfg,
		controller: pid.Controller{
			Config: pid.ControllerConfig{
				ProportionalGain: cfg.ProportionalGain,
				IntegralGain:     cfg.IntegralGain,
			},
		},
		duty: cfg.BaseDuty,
	}
}

// Update runs one PI step and returns the clamped duty. dt must be positive.
func (s *SoftStall) Update(ratedPower, measuredPower float64, dt time.Duration) float64 {
	s.controller.Update(pid.ControllerInput{
		ReferenceSignal:  ratedPower,
		ActualSignal:     measuredPower,
		SamplingInterval: dt,
	})

	state := &s.controller.State
	if s.cfg.IntegralGain > 0 {
		bound := s.cfg.IntegralLimit / s.cfg.IntegralGain
		state.ControlErrorIntegral = math.Max(-bound, math.Min(bound, state.ControlErrorIntegral))
	} else {
		state.ControlErrorIntegral = 0
	}

	signal := s.cfg.ProportionalGain*state.ControlError + s.cfg.IntegralGain*state.ControlErrorIntegral
	state.ControlSignal = signal

	s.duty = math.Max(s.cfg.MinDuty, math.Min(s.cfg.MaxDuty, s.cfg.BaseDuty+signal))
	if math.IsNaN(s.duty) {
		s.duty = s.cfg.MinDuty
	}

	return s.duty
}

// Reset discards the integrator so a new PowerRegulation episode does not
// inherit wind-up from the previous one.
func (s *SoftStall) Reset() {
	s.controller.Reset()
	s.duty = s.cfg.BaseDuty
}

// Integral returns the clamped integral contribution in duty units.
func (s *SoftStall) Integral() float64 {
	return s.cfg.IntegralGain * s.controller.State.ControlErrorIntegral
}

// Duty returns the most recent output.
func (s *SoftStall) Duty() float64 {
	return s.duty
}
