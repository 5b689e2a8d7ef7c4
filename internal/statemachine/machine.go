// Package statemachine owns the turbine operating mode. Each tick it consults
// the safety checker first, applies at most one transition from its table and
// then derives the actuation command for the resulting mode.
package statemachine

import (
	"time"

	"codeberg.org/mutker/vawtctl/internal/errors"
	"codeberg.org/mutker/vawtctl/internal/logger"
	"codeberg.org/mutker/vawtctl/internal/mppt"
	"codeberg.org/mutker/vawtctl/internal/regulation"
	"codeberg.org/mutker/vawtctl/internal/safety"
	"codeberg.org/mutker/vawtctl/internal/turbine"
)

const defaultHistory = 64

// Checker classifies measurements against the protective limits.
type Checker interface {
	Check(rotorSpeed, busVoltage, busCurrent float64) safety.Verdict
	Reset()
}

// Tracker searches for the maximum power point.
type Tracker interface {
	Update(power, windSpeed float64) float64
	Reset()
}

// Regulator holds output near rated power.
type Regulator interface {
	Update(ratedPower, measuredPower float64, dt time.Duration) float64
	Reset()
}

// Result is everything one tick produces.
type Result struct {
	Mode       turbine.Mode
	Verdict    safety.Verdict
	Command    turbine.ActuationCommand
	Record     turbine.LogRecord
	Transition *turbine.Transition
}

type Option func(*Machine)

func WithChecker(c Checker) Option { return func(m *Machine) { m.checker = c } }

func WithTracker(t Tracker) Option { return func(m *Machine) { m.tracker = t } }

func WithRegulator(r Regulator) Option { return func(m *Machine) { m.regulator = r } }

func WithRules(rules []Rule) Option { return func(m *Machine) { m.rules = rules } }

func WithLogger(l logger.Logger) Option { return func(m *Machine) { m.logger = l } }

// WithClock replaces time.Now for timestamps and regulator intervals.
func WithClock(now func() time.Time) Option { return func(m *Machine) { m.now = now } }

// WithHistory bounds the number of retained transitions.
func WithHistory(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.maxHistory = n
		}
	}
}

// Machine is not safe for concurrent use; drive it from one goroutine.
type Machine struct {
	cfg       turbine.Configuration
	checker   Checker
	tracker   Tracker
	regulator Regulator
	rules     []Rule
	logger    logger.Logger
	now       func() time.Time

	mode        turbine.Mode
	enteredAt   time.Time
	lastTick    time.Time
	lastVerdict safety.Verdict
	command     turbine.ActuationCommand
	// excursion is set on entering Fault or Stall and cleared when
	// PowerTracking resets the tracker.
	excursion bool

	history    []turbine.Transition
	maxHistory int
}

// New validates the configuration and the transition table and builds a
// machine in Idle. It refuses to build with invalid limits.
func New(cfg turbine.Configuration, opts ...Option) (*Machine, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Machine{
		cfg:         cfg,
		logger:      logger.Default(),
		now:         time.Now,
		mode:        turbine.ModeIdle,
		lastVerdict: safety.SafeVerdict(),
		command:     idleCommand(),
		maxHistory:  defaultHistory,
	}

	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("statemachine")

	if m.checker == nil {
		m.checker = safety.New(safety.Thresholds{
			Overspeed:   cfg.OverspeedThreshold,
			Overvoltage: cfg.OvervoltageThreshold,
			Overcurrent: cfg.OvercurrentThreshold,
		}, m.logger)
	}
	if m.tracker == nil {
		m.tracker = mppt.New(mppt.Config{
			BaseStep:       cfg.BaseStep,
			MinStep:        cfg.MinStep,
			TurbulenceGain: cfg.TurbulenceGain,
			InitialDuty:    cfg.InitialDuty,
			MinDuty:        cfg.MinDuty,
			MaxDuty:        cfg.MaxDuty,
		})
	}
	if m.regulator == nil {
		m.regulator = regulation.NewSoftStall(regulation.Config{
			ProportionalGain: cfg.SoftStall.ProportionalGain,
			IntegralGain:     cfg.SoftStall.IntegralGain,
			BaseDuty:         cfg.SoftStall.BaseDuty,
			IntegralLimit:    cfg.SoftStall.IntegralLimit,
			MinDuty:          cfg.MinDuty,
			MaxDuty:          cfg.MaxDuty,
		})
	}
	if m.rules == nil {
		m.rules = DefaultRules(cfg)
	}

	if err := ValidateRules(m.rules); err != nil {
		return nil, errFactory.Wrap(errors.ErrInitFailed, err)
	}

	m.enteredAt = m.now()

	return m, nil
}

// Start leaves Idle once the host has finished initialization.
func (m *Machine) Start() (turbine.Transition, error) {
	if m.mode != turbine.ModeIdle {
		return turbine.Transition{}, errors.New().WithData(errors.ErrNotStartable, m.mode.String())
	}

	tr := m.transition(m.now(), turbine.ModeStandby, "initialization complete")
	m.command = m.act(Observation{Verdict: m.lastVerdict}, m.now())

	return tr, nil
}

// Tick checks the sample against the protective limits and evaluates it.
func (m *Machine) Tick(sample turbine.SensorSample) Result {
	verdict := m.checker.Check(sample.RotorSpeed, sample.BusVoltage, sample.BusCurrent)
	return m.Evaluate(sample, verdict)
}

// Evaluate runs one tick with a verdict computed by the caller. An unsafe
// verdict moves the machine to Fault before any other rule is considered.
func (m *Machine) Evaluate(sample turbine.SensorSample, verdict safety.Verdict) Result {
	now := m.now()
	obs := Observation{Sample: sample, Power: sample.Power(), Verdict: verdict}
	m.lastVerdict = verdict

	var fired *turbine.Transition
	if !verdict.Safe {
		if m.mode != turbine.ModeFault {
			tr := m.transition(now, turbine.ModeFault, verdict.Reason())
			fired = &tr
		}
	} else if rule, ok := m.match(obs); ok {
		tr := m.transition(now, rule.To, rule.Reason)
		fired = &tr
	}

	m.command = m.act(obs, now)
	m.lastTick = now

	record := m.cfg.Record(sample, m.mode, m.command)
	record.Timestamp = now

	return Result{
		Mode:       m.mode,
		Verdict:    verdict,
		Command:    m.command,
		Record:     record,
		Transition: fired,
	}
}

// Acknowledge clears a Fault back to Standby. It is the only way out of
// Fault and is refused while the last verdict still reports a violation.
func (m *Machine) Acknowledge() (turbine.Transition, error) {
	errFactory := errors.New()

	if m.mode != turbine.ModeFault {
		return turbine.Transition{}, errFactory.WithData(errors.ErrNotFaulted, m.mode.String())
	}
	if !m.lastVerdict.Safe {
		return turbine.Transition{}, errFactory.WithData(errors.ErrFaultActive, m.lastVerdict.Reason())
	}

	m.checker.Reset()
	tr := m.transition(m.now(), turbine.ModeStandby, "fault acknowledged")
	m.command = m.act(Observation{Verdict: m.lastVerdict}, m.now())

	return tr, nil
}

// Trip forces Fault from outside a tick, e.g. when the host detects tick
// starvation. It reports false when already in Fault.
func (m *Machine) Trip(reason string) (turbine.Transition, bool) {
	if m.mode == turbine.ModeFault {
		return turbine.Transition{}, false
	}

	tr := m.transition(m.now(), turbine.ModeFault, reason)
	m.command = turbine.FailSafe()

	return tr, true
}

func (m *Machine) Mode() turbine.Mode { return m.mode }

// TimeInMode returns how long the current mode has been active.
func (m *Machine) TimeInMode() time.Duration { return m.now().Sub(m.enteredAt) }

func (m *Machine) LastVerdict() safety.Verdict { return m.lastVerdict }

// Command returns the most recent actuation command.
func (m *Machine) Command() turbine.ActuationCommand { return m.command }

func (m *Machine) Configuration() turbine.Configuration { return m.cfg }

// LastTransition returns the newest transition, if any.
func (m *Machine) LastTransition() (turbine.Transition, bool) {
	if len(m.history) == 0 {
		return turbine.Transition{}, false
	}
	return m.history[len(m.history)-1], true
}

// Transitions returns a copy of the retained transitions, oldest first.
func (m *Machine) Transitions() []turbine.Transition {
	out := make([]turbine.Transition, len(m.history))
	copy(out, m.history)
	return out
}

func (m *Machine) match(obs Observation) (Rule, bool) {
	for _, r := range m.rules {
		if r.From == m.mode && r.When(obs) {
			return r, true
		}
	}
	return Rule{}, false
}

// transition records the change before running exit and entry actions.
func (m *Machine) transition(now time.Time, to turbine.Mode, reason string) turbine.Transition {
	tr := turbine.Transition{Timestamp: now, From: m.mode, To: to, Reason: reason}

	m.history = append(m.history, tr)
	if len(m.history) > m.maxHistory {
		m.history = m.history[len(m.history)-m.maxHistory:]
	}

	event := m.logger.Info()
	if to == turbine.ModeFault {
		event = m.logger.Error()
	}
	event.
		Str("from", tr.From.String()).
		Str("to", tr.To.String()).
		Str("reason", reason).
		Msg("Mode transition")

	m.exit(m.mode)
	m.mode = to
	m.enteredAt = now
	m.enter(to)

	return tr
}

func (m *Machine) exit(mode turbine.Mode) {
	if mode == turbine.ModePowerRegulation {
		m.regulator.Reset()
	}
}

func (m *Machine) enter(mode turbine.Mode) {
	switch mode {
	case turbine.ModePowerTracking:
		if m.excursion {
			m.tracker.Reset()
			m.excursion = false
			m.logger.Debug().Msg("Search state reset after fault or stall")
		}
	case turbine.ModePowerRegulation:
		m.regulator.Reset()
	case turbine.ModeStall:
		m.excursion = true
		m.command = stallCommand()
	case turbine.ModeFault:
		m.excursion = true
		m.command = turbine.FailSafe()
	}
}

// act derives the command for the current mode.
func (m *Machine) act(obs Observation, now time.Time) turbine.ActuationCommand {
	switch m.mode {
	case turbine.ModeIdle:
		return idleCommand()
	case turbine.ModeStandby, turbine.ModeStartup:
		return turbine.ActuationCommand{DumpLoadDuty: 0, MechanicalBrakeEngaged: false}
	case turbine.ModePowerTracking:
		duty := m.tracker.Update(obs.Power, obs.Sample.WindSpeed)
		return turbine.ActuationCommand{DumpLoadDuty: duty}
	case turbine.ModePowerRegulation:
		duty := m.regulator.Update(m.cfg.RatedPower, obs.Power, m.interval(now))
		return turbine.ActuationCommand{DumpLoadDuty: duty}
	case turbine.ModeStall:
		return stallCommand()
	default:
		return turbine.FailSafe()
	}
}

// interval is the time since the previous tick, falling back to the
// configured tick interval when unknown or non-positive.
func (m *Machine) interval(now time.Time) time.Duration {
	if m.lastTick.IsZero() {
		return m.cfg.TickInterval
	}
	if dt := now.Sub(m.lastTick); dt > 0 {
		return dt
	}
	return m.cfg.TickInterval
}

func idleCommand() turbine.ActuationCommand {
	return turbine.ActuationCommand{DumpLoadDuty: 0, MechanicalBrakeEngaged: true}
}

func stallCommand() turbine.ActuationCommand {
	return turbine.ActuationCommand{DumpLoadDuty: 1, MechanicalBrakeEngaged: false}
}
