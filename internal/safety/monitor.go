// Package safety classifies raw measurements against the protective limits.
// It only classifies; recovery policy belongs to the state machine.
package safety

import (
	"math"
	"strings"

	"codeberg.org/mutker/vawtctl/internal/logger"
)

// Thresholds are the protective limits. A measurement violates its limit
// only when strictly greater than it.
type Thresholds struct {
	Overspeed   float64 // rev/min
	Overvoltage float64 // V
	Overcurrent float64 // A
}

// Verdict is the result of one check.
type Verdict struct {
	Overspeed   bool
	Overvoltage bool
	Overcurrent bool

	// Invalid is set when a measurement is NaN or infinite. It cannot be
	// compared against a limit and is never safe.
	Invalid bool
	Safe    bool
}

// SafeVerdict is a verdict with no flags set.
func SafeVerdict() Verdict {
	return Verdict{Safe: true}
}

// Reason names the violated limits, e.g. "overspeed+overcurrent".
func (v Verdict) Reason() string {
	if v.Safe {
		return "safe"
	}

	var parts []string
	if v.Invalid {
		parts = append(parts, "invalid measurement")
	}
	if v.Overspeed {
		parts = append(parts, "overspeed")
	}
	if v.Overvoltage {
		parts = append(parts, "overvoltage")
	}
	if v.Overcurrent {
		parts = append(parts, "overcurrent")
	}
	if len(parts) == 0 {
		return "protection trip"
	}

	return strings.Join(parts, "+")
}

// Monitor holds the thresholds and the flags of the last check.
type Monitor struct {
	limits Thresholds
	last   Verdict
	logger logger.Logger
}

func New(limits Thresholds, log logger.Logger) *Monitor {
	if log == nil {
		log = logger.Default()
	}

	return &Monitor{
		limits: limits,
		last:   SafeVerdict(),
		logger: log.With("safety"),
	}
}

// Check classifies one set of measurements. The result depends only on the
// arguments and the thresholds.
func (m *Monitor) Check(rotorSpeed, busVoltage, busCurrent float64) Verdict {
	v := Verdict{
		Overspeed:   rotorSpeed > m.limits.Overspeed,
		Overvoltage: busVoltage > m.limits.Overvoltage,
		Overcurrent: busCurrent > m.limits.Overcurrent,
		Invalid:     !finite(rotorSpeed) || !finite(busVoltage) || !finite(busCurrent),
	}
	v.Safe = !(v.Overspeed || v.Overvoltage || v.Overcurrent || v.Invalid)

	if v.Invalid {
		m.logger.Warn().
			Float64("rotor_speed", rotorSpeed).
			Float64("bus_voltage", busVoltage).
			Float64("bus_current", busCurrent).
			Msg("Invalid measurement")
	}

	if v.Overspeed {
		m.logger.Warn().
			Float64("rotor_speed", rotorSpeed).
			Float64("limit", m.limits.Overspeed).
			Msg("Overspeed")
	}
	if v.Overvoltage {
		m.logger.Warn().
			Float64("bus_voltage", busVoltage).
			Float64("limit", m.limits.Overvoltage).
			Msg("Overvoltage")
	}
	if v.Overcurrent {
		m.logger.Warn().
			Float64("bus_current", busCurrent).
			Float64("limit", m.limits.Overcurrent).
			Msg("Overcurrent")
	}

	m.last = v

	return v
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// Reset clears the flags reported by the accessors. Thresholds are kept.
func (m *Monitor) Reset() {
	m.last = SafeVerdict()
}

func (m *Monitor) IsOverspeed() bool   { return m.last.Overspeed }
func (m *Monitor) IsOvervoltage() bool { return m.last.Overvoltage }
func (m *Monitor) IsOvercurrent() bool { return m.last.Overcurrent }

// Last returns the verdict of the most recent check.
func (m *Monitor) Last() Verdict {
	return m.last
}

// Thresholds returns the configured limits.
func (m *Monitor) Thresholds() Thresholds {
	return m.limits
}
