package statemachine

import (
	"fmt"

	"codeberg.org/mutker/vawtctl/internal/errors"
	"codeberg.org/mutker/vawtctl/internal/safety"
	"codeberg.org/mutker/vawtctl/internal/turbine"
)

// Observation is what a transition condition sees on one tick.
type Observation struct {
	Sample  turbine.SensorSample
	Power   float64
	Verdict safety.Verdict
}

// Rule is one row of the transition table. Rules are evaluated in order for
// the current mode and the first whose condition holds fires.
type Rule struct {
	From   turbine.Mode
	To     turbine.Mode
	Reason string
	When   func(Observation) bool
}

type edge struct {
	from, to turbine.Mode
}

// Edges reachable from tick rules. Entering Fault, leaving Fault and leaving
// Idle are driven by the machine itself and are not rule edges. The Startup
// edges are unused by DefaultRules and exist for tables with a spin-up phase.
var ruleEdges = map[edge]bool{
	{turbine.ModeStandby, turbine.ModePowerTracking}:         true,
	{turbine.ModeStandby, turbine.ModeStartup}:               true,
	{turbine.ModeStartup, turbine.ModePowerTracking}:         true,
	{turbine.ModeStartup, turbine.ModeStandby}:               true,
	{turbine.ModePowerTracking, turbine.ModePowerRegulation}: true,
	{turbine.ModePowerTracking, turbine.ModeStall}:           true,
	{turbine.ModePowerRegulation, turbine.ModePowerTracking}: true,
	{turbine.ModePowerRegulation, turbine.ModeStall}:         true,
	{turbine.ModeStall, turbine.ModeStandby}:                 true,
}

// Allowed reports whether the machine may ever move from one mode to another.
func Allowed(from, to turbine.Mode) bool {
	switch {
	case from == to:
		return false
	case to == turbine.ModeFault:
		return true
	case from == turbine.ModeFault:
		return to == turbine.ModeStandby
	case from == turbine.ModeIdle:
		return to == turbine.ModeStandby
	}

	return ruleEdges[edge{from, to}]
}

// DefaultRules builds the transition table for a configuration. Cut-out is
// listed ahead of regulation so high wind always wins.
func DefaultRules(cfg turbine.Configuration) []Rule {
	enter := cfg.RegulationEnterPower()
	exit := cfg.RegulationExitPower()

	windAboveCutOut := func(o Observation) bool {
		return o.Sample.WindSpeed > cfg.CutOutWindSpeed
	}

	return []Rule{
		{
			From:   turbine.ModeStandby,
			To:     turbine.ModePowerTracking,
			Reason: fmt.Sprintf("wind above cut-in (%.1f m/s)", cfg.CutInWindSpeed),
			When: func(o Observation) bool {
				return o.Sample.WindSpeed > cfg.CutInWindSpeed && o.Verdict.Safe
			},
		},
		{
			From:   turbine.ModePowerTracking,
			To:     turbine.ModeStall,
			Reason: fmt.Sprintf("wind above cut-out (%.1f m/s)", cfg.CutOutWindSpeed),
			When:   windAboveCutOut,
		},
		{
			From:   turbine.ModePowerTracking,
			To:     turbine.ModePowerRegulation,
			Reason: fmt.Sprintf("power above %.0f W", enter),
			When:   func(o Observation) bool { return o.Power > enter },
		},
		{
			From:   turbine.ModePowerRegulation,
			To:     turbine.ModeStall,
			Reason: fmt.Sprintf("wind above cut-out (%.1f m/s)", cfg.CutOutWindSpeed),
			When:   windAboveCutOut,
		},
		{
			From:   turbine.ModePowerRegulation,
			To:     turbine.ModePowerTracking,
			Reason: fmt.Sprintf("power below %.0f W", exit),
			When:   func(o Observation) bool { return o.Power < exit },
		},
		{
			From:   turbine.ModeStall,
			To:     turbine.ModeStandby,
			Reason: fmt.Sprintf("rotor below rated speed (%.0f rpm)", cfg.RatedRotorSpeed),
			When: func(o Observation) bool {
				return o.Sample.RotorSpeed < cfg.RatedRotorSpeed
			},
		},
	}
}

// ValidateRules rejects rules with no condition, rules on edges the machine
// must never take from a tick, and any rule that would leave Fault.
func ValidateRules(rules []Rule) error {
	errFactory := errors.New()

	for i, r := range rules {
		switch {
		case r.When == nil:
			return errFactory.WithData(errors.ErrInvalidTransitionRule,
				fmt.Sprintf("rule %d (%s -> %s) has no condition", i, r.From, r.To))
		case r.From == turbine.ModeFault:
			return errFactory.WithData(errors.ErrInvalidTransitionRule,
				fmt.Sprintf("rule %d leaves FAULT; only acknowledgement may", i))
		case r.To == turbine.ModeFault:
			return errFactory.WithData(errors.ErrInvalidTransitionRule,
				fmt.Sprintf("rule %d enters FAULT; only the safety verdict may", i))
		case !ruleEdges[edge{r.From, r.To}]:
			return errFactory.WithData(errors.ErrInvalidTransitionRule,
				fmt.Sprintf("rule %d: %s -> %s is not an allowed transition", i, r.From, r.To))
		}
	}

	return nil
}
