package turbine_test

import (
	"math"
	"testing"
	"time"

	"codeberg.org/mutker/vawtctl/internal/errors"
	"codeberg.org/mutker/vawtctl/internal/turbine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModeString(t *testing.T) {
	assert.Equal(t, "STANDBY", turbine.ModeStandby.String())
	assert.Equal(t, "MPPT", turbine.ModePowerTracking.String())
	assert.Equal(t, "POWER_REG", turbine.ModePowerRegulation.String())
	assert.Equal(t, "FAULT", turbine.ModeFault.String())
	assert.Equal(t, "UNKNOWN", turbine.Mode(42).String())
	assert.Len(t, turbine.Modes(), 7)
}

func TestSamplePower(t *testing.T) {
	s := turbine.SensorSample{BusVoltage: 48, BusCurrent: 6}
	assert.InDelta(t, 288.0, s.Power(), 1e-9)
}

func TestTipSpeedRatio(t *testing.T) {
	// 180 rpm on a 0.6 m rotor in 7 m/s wind: ω = 6π rad/s.
	lambda := turbine.TipSpeedRatio(180, 7, 0.6)
	assert.InDelta(t, 6*math.Pi*0.6/7, lambda, 1e-9)

	assert.Zero(t, turbine.TipSpeedRatio(180, 0.49, 0.6))
	assert.Zero(t, turbine.TipSpeedRatio(180, 0, 0.6))
}

func TestPowerCoefficient(t *testing.T) {
	cp := turbine.PowerCoefficient(100, 5, 1.15, 1.8)
	assert.InDelta(t, 100/(0.5*1.15*1.8*125), cp, 1e-9)

	assert.Zero(t, turbine.PowerCoefficient(100, 0.2, 1.15, 1.8))
}

func TestRecord(t *testing.T) {
	cfg := turbine.DefaultConfiguration()
	s := turbine.SensorSample{WindSpeed: 7, RotorSpeed: 135, BusVoltage: 50, BusCurrent: 6.2}
	cmd := turbine.ActuationCommand{DumpLoadDuty: 0.32}

	rec := cfg.Record(s, turbine.ModePowerTracking, cmd)

	assert.Equal(t, turbine.ModePowerTracking, rec.Mode)
	assert.InDelta(t, 310.0, rec.Power, 1e-9)
	assert.InDelta(t, turbine.TipSpeedRatio(135, 7, 0.6), rec.Lambda, 1e-12)
	assert.InDelta(t, turbine.PowerCoefficient(310, 7, 1.15, 1.8), rec.Cp, 1e-12)
	assert.InDelta(t, 0.32, rec.DutyCycle, 1e-12)
	assert.False(t, rec.BrakeEngaged)
}

func TestDefaultConfigurationIsValid(t *testing.T) {
	cfg := turbine.DefaultConfiguration()
	require.NoError(t, cfg.Validate())
	assert.InDelta(t, 475.0, cfg.RegulationEnterPower(), 1e-9)
	assert.InDelta(t, 400.0, cfg.RegulationExitPower(), 1e-9)
}

func TestValidateRejectsInsaneLimits(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*turbine.Configuration)
		field  string
	}{
		{"zero radius", func(c *turbine.Configuration) { c.RotorRadius = 0 }, "rotor_radius"},
		{"lambda too high", func(c *turbine.Configuration) { c.OptimalTipSpeedRatio = 12 }, "optimal_tip_speed_ratio"},
		{"lambda NaN", func(c *turbine.Configuration) { c.OptimalTipSpeedRatio = math.NaN() }, "optimal_tip_speed_ratio"},
		{"overspeed below rated", func(c *turbine.Configuration) { c.OverspeedThreshold = 150 }, "overspeed_threshold"},
		{"negative overvoltage", func(c *turbine.Configuration) { c.OvervoltageThreshold = -1 }, "overvoltage_threshold"},
		{"duty floor below 0.10", func(c *turbine.Configuration) { c.MinDuty = 0.05 }, "min_duty"},
		{"duty ceiling above 0.90", func(c *turbine.Configuration) { c.MaxDuty = 0.95 }, "max_duty"},
		{"min step above base", func(c *turbine.Configuration) { c.MinStep = 0.05 }, "min_step"},
		{"cut-out below cut-in", func(c *turbine.Configuration) { c.CutOutWindSpeed = 2 }, "cut_out_wind_speed"},
		{"inverted hysteresis", func(c *turbine.Configuration) { c.RegulationExitRatio = 0.97 }, "regulation_exit_ratio"},
		{"zero tick", func(c *turbine.Configuration) { c.TickInterval = 0 }, "tick_interval"},
		{"soft-stall base outside bounds", func(c *turbine.Configuration) { c.SoftStall.BaseDuty = 0.95 }, "soft_stall.base_duty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := turbine.DefaultConfiguration()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrInvalidTurbineConfig))

			var verr *turbine.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field())
			assert.NotEmpty(t, verr.Reason())
		})
	}
}

func TestValidateReportsEveryViolation(t *testing.T) {
	cfg := turbine.DefaultConfiguration()
	cfg.RotorRadius = -1
	cfg.RatedPower = 0
	cfg.TickInterval = -time.Second

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rotor_radius")
	assert.Contains(t, err.Error(), "rated_power")
	assert.Contains(t, err.Error(), "tick_interval")
}

func TestFailSafe(t *testing.T) {
	cmd := turbine.FailSafe()
	assert.Zero(t, cmd.DumpLoadDuty)
	assert.True(t, cmd.MechanicalBrakeEngaged)
}
