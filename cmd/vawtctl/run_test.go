package main

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"codeberg.org/mutker/vawtctl/internal/acquisition"
	"codeberg.org/mutker/vawtctl/internal/actuation"
	"codeberg.org/mutker/vawtctl/internal/config"
	"codeberg.org/mutker/vawtctl/internal/logger"
	"codeberg.org/mutker/vawtctl/internal/statemachine"
	"codeberg.org/mutker/vawtctl/internal/turbine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outputs struct {
	applied []turbine.ActuationCommand
	err     error
}

func (o *outputs) Apply(cmd turbine.ActuationCommand) error {
	if o.err != nil {
		return o.err
	}
	o.applied = append(o.applied, cmd)
	return nil
}

type sampleLog struct{ records []turbine.LogRecord }

func (s *sampleLog) Record(_ context.Context, rec turbine.LogRecord) error {
	s.records = append(s.records, rec)
	return nil
}

func (*sampleLog) Close() error { return nil }

type journalLog struct{ transitions []turbine.Transition }

func (j *journalLog) Record(_ context.Context, tr turbine.Transition) error {
	j.transitions = append(j.transitions, tr)
	return nil
}

func (*journalLog) Close() error { return nil }

func (j *journalLog) last() turbine.Transition {
	return j.transitions[len(j.transitions)-1]
}

type harness struct {
	*app
	now     time.Time
	out     *outputs
	samples *sampleLog
	journal *journalLog
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		now:     time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		out:     &outputs{},
		samples: &sampleLog{},
		journal: &journalLog{},
	}
	clock := func() time.Time { return h.now }

	cfg := config.Default()
	machine, err := statemachine.New(cfg.Turbine,
		statemachine.WithClock(clock), statemachine.WithLogger(logger.Nop()))
	require.NoError(t, err)

	h.app = &app{
		cfg:      &cfg,
		runID:    "test",
		machine:  machine,
		slot:     &acquisition.Slot{},
		actuator: actuation.NewTracker(h.out, logger.Nop()),
		samples:  h.samples,
		journal:  h.journal,
		acks:     make(chan struct{}, 1),
		started:  h.now,
		now:      clock,
		logger:   logger.Nop(),
	}

	tr, err := machine.Start()
	require.NoError(t, err)
	h.forward(context.Background(), tr)

	return h
}

// step advances the clock by one interval, stores a fresh sample and ticks.
func (h *harness) step(s turbine.SensorSample) {
	h.now = h.now.Add(h.cfg.Interval)
	h.slot.Store(s, h.now)
	h.tick(context.Background())
}

var (
	calm    = turbine.SensorSample{WindSpeed: 2, RotorSpeed: 0, BusVoltage: 0, BusCurrent: 0}
	breeze  = turbine.SensorSample{WindSpeed: 6, RotorSpeed: 100, BusVoltage: 40, BusCurrent: 5}
	surging = turbine.SensorSample{WindSpeed: 6, RotorSpeed: 100, BusVoltage: 70, BusCurrent: 5}
)

func TestTickWaitsForFirstSnapshot(t *testing.T) {
	h := newHarness(t)

	h.now = h.now.Add(h.cfg.StarvationTimeout)
	h.tick(context.Background())

	assert.Equal(t, turbine.ModeStandby, h.machine.Mode())
	assert.Empty(t, h.out.applied)
	assert.Empty(t, h.samples.records)

	h.now = h.now.Add(time.Millisecond)
	h.tick(context.Background())

	assert.Equal(t, turbine.ModeFault, h.machine.Mode())
	assert.Equal(t, staleReason, h.journal.last().Reason)
	assert.Equal(t, turbine.FailSafe(), h.actuator.Current())
}

func TestTickAppliesAndRecords(t *testing.T) {
	h := newHarness(t)

	h.step(calm)
	assert.Equal(t, turbine.ModeStandby, h.machine.Mode())
	assert.Equal(t, turbine.ActuationCommand{}, h.actuator.Current())

	h.step(breeze)
	assert.Equal(t, turbine.ModePowerTracking, h.machine.Mode())

	cmd := h.actuator.Current()
	assert.False(t, cmd.MechanicalBrakeEngaged)
	assert.GreaterOrEqual(t, cmd.DumpLoadDuty, turbine.DutyFloor)
	assert.LessOrEqual(t, cmd.DumpLoadDuty, turbine.DutyCeiling)

	require.Len(t, h.samples.records, 2)
	rec := h.samples.records[1]
	assert.Equal(t, turbine.ModePowerTracking, rec.Mode)
	assert.InDelta(t, 200, rec.Power, 1e-9)
	assert.Equal(t, cmd.DumpLoadDuty, rec.DutyCycle)

	require.Len(t, h.journal.transitions, 2)
	assert.Equal(t, turbine.ModeStandby, h.journal.last().From)
	assert.Equal(t, turbine.ModePowerTracking, h.journal.last().To)
}

func TestTickTripsOnStaleSnapshot(t *testing.T) {
	h := newHarness(t)

	h.step(breeze)
	require.Equal(t, turbine.ModePowerTracking, h.machine.Mode())

	h.now = h.now.Add(h.cfg.StarvationTimeout + time.Millisecond)
	h.tick(context.Background())

	assert.Equal(t, turbine.ModeFault, h.machine.Mode())
	assert.Equal(t, turbine.FailSafe(), h.actuator.Current())
	assert.Len(t, h.samples.records, 1)

	// Staying stale does not repeat the transition.
	h.now = h.now.Add(h.cfg.Interval)
	h.tick(context.Background())
	assert.Len(t, h.journal.transitions, 3)
}

func TestTickTripsWhenOutputsFail(t *testing.T) {
	h := newHarness(t)
	h.out.err = errors.New("pwm driver gone")

	h.step(breeze)

	assert.Equal(t, turbine.ModeFault, h.machine.Mode())
	assert.Equal(t, actuationReason, h.journal.last().Reason)
	assert.Empty(t, h.samples.records)
}

func TestTickFaultsOnUnreadableMeasurement(t *testing.T) {
	h := newHarness(t)

	h.step(breeze)
	require.Equal(t, turbine.ModePowerTracking, h.machine.Mode())

	h.step(turbine.SensorSample{WindSpeed: 6, RotorSpeed: math.NaN(), BusVoltage: 40, BusCurrent: 5})

	assert.Equal(t, turbine.ModeFault, h.machine.Mode())
	assert.Equal(t, turbine.FailSafe(), h.actuator.Current())
	assert.Equal(t, "invalid measurement", h.journal.last().Reason)
}

func TestAcknowledgeBetweenTicks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Refused outside Fault
	h.acknowledge(ctx)
	assert.Equal(t, turbine.ModeStandby, h.machine.Mode())

	h.step(surging)
	require.Equal(t, turbine.ModeFault, h.machine.Mode())
	assert.Equal(t, turbine.FailSafe(), h.actuator.Current())

	// Refused while the overvoltage persists
	h.acknowledge(ctx)
	assert.Equal(t, turbine.ModeFault, h.machine.Mode())

	h.step(calm)
	assert.Equal(t, turbine.ModeFault, h.machine.Mode(), "fault must not clear on its own")

	h.acknowledge(ctx)
	assert.Equal(t, turbine.ModeStandby, h.machine.Mode())
	assert.Equal(t, turbine.ActuationCommand{}, h.actuator.Current())
	assert.Equal(t, "fault acknowledged", h.journal.last().Reason)
}

func TestRequestAckMergesPending(t *testing.T) {
	h := newHarness(t)

	h.requestAck()
	h.requestAck()

	assert.Len(t, h.acks, 1)
}

func TestShutdownLeavesTurbineBraked(t *testing.T) {
	h := newHarness(t)
	h.step(breeze)

	h.shutdown()

	assert.Equal(t, turbine.FailSafe(), h.actuator.Current())
	assert.Equal(t, turbine.ModeFault, h.machine.Mode())
	assert.Equal(t, "shutdown", h.journal.last().Reason)
}
