package turbine

import (
	"fmt"
	"math"
	"time"

	"codeberg.org/mutker/vawtctl/internal/errors"
)

// Duty bounds every controller output must respect.
const (
	DutyFloor   = 0.10
	DutyCeiling = 0.90
)

// SoftStallGains tunes the PI controller used in PowerRegulation.
type SoftStallGains struct {
	ProportionalGain float64 `mapstructure:"proportional_gain"`
	IntegralGain     float64 `mapstructure:"integral_gain"`
	BaseDuty         float64 `mapstructure:"base_duty"`
	IntegralLimit    float64 `mapstructure:"integral_limit"`
}

// Configuration is fixed after initialization.
type Configuration struct {
	RotorRadius          float64 `mapstructure:"rotor_radius"`
	RotorHeight          float64 `mapstructure:"rotor_height"`
	SweptArea            float64 `mapstructure:"swept_area"`
	AirDensity           float64 `mapstructure:"air_density"`
	OptimalTipSpeedRatio float64 `mapstructure:"optimal_tip_speed_ratio"`

	RatedPower      float64 `mapstructure:"rated_power"`
	RatedRotorSpeed float64 `mapstructure:"rated_rotor_speed"`

	OverspeedThreshold   float64 `mapstructure:"overspeed_threshold"`
	OvervoltageThreshold float64 `mapstructure:"overvoltage_threshold"`
	OvercurrentThreshold float64 `mapstructure:"overcurrent_threshold"`

	BaseStep       float64 `mapstructure:"base_step"`
	MinStep        float64 `mapstructure:"min_step"`
	TurbulenceGain float64 `mapstructure:"turbulence_gain"`
	InitialDuty    float64 `mapstructure:"initial_duty"`
	MinDuty        float64 `mapstructure:"min_duty"`
	MaxDuty        float64 `mapstructure:"max_duty"`

	CutInWindSpeed  float64 `mapstructure:"cut_in_wind_speed"`
	CutOutWindSpeed float64 `mapstructure:"cut_out_wind_speed"`

	RegulationEnterRatio float64 `mapstructure:"regulation_enter_ratio"`
	RegulationExitRatio  float64 `mapstructure:"regulation_exit_ratio"`

	SoftStall SoftStallGains `mapstructure:"soft_stall"`

	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// DefaultConfiguration describes the 500 W helical Gorlov rotor.
func DefaultConfiguration() Configuration {
	return Configuration{
		RotorRadius:          0.6,
		RotorHeight:          1.5,
		SweptArea:            1.8,
		AirDensity:           1.15,
		OptimalTipSpeedRatio: 2.0,
		RatedPower:           500,
		RatedRotorSpeed:      180,
		OverspeedThreshold:   250,
		OvervoltageThreshold: 60,
		OvercurrentThreshold: 30,
		BaseStep:             0.02,
		MinStep:              0.002,
		TurbulenceGain:       0.5,
		InitialDuty:          0.30,
		MinDuty:              DutyFloor,
		MaxDuty:              DutyCeiling,
		CutInWindSpeed:       3.0,
		CutOutWindSpeed:      12.0,
		RegulationEnterRatio: 0.95,
		RegulationExitRatio:  0.80,
		SoftStall: SoftStallGains{
			ProportionalGain: 0.01,
			IntegralGain:     0.001,
			BaseDuty:         0.5,
			IntegralLimit:    0.4,
		},
		TickInterval: 100 * time.Millisecond,
	}
}

// ValidationError describes one rejected configuration field.
type ValidationError struct {
	field  string
	value  float64
	reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s=%g: %s", e.field, e.value, e.reason)
}

func (e *ValidationError) Field() string      { return e.field }
func (e *ValidationError) Value() interface{} { return e.value }
func (e *ValidationError) Reason() string     { return e.reason }

type validator struct {
	errs []error
}

func (v *validator) check(ok bool, field string, value float64, reason string) {
	if !ok || math.IsNaN(value) {
		v.errs = append(v.errs, &ValidationError{field: field, value: value, reason: reason})
	}
}

func within(x, lo, hi float64) bool {
	return x >= lo && x <= hi
}

// Validate rejects limits outside physically sane bounds. Every violation is
// reported.
func (c Configuration) Validate() error {
	v := &validator{}

	v.check(c.RotorRadius > 0 && c.RotorRadius <= 10, "rotor_radius", c.RotorRadius, "must be in (0, 10] m")
	v.check(c.RotorHeight >= 0 && c.RotorHeight <= 30, "rotor_height", c.RotorHeight, "must be in [0, 30] m")
	v.check(c.SweptArea > 0 && c.SweptArea <= 500, "swept_area", c.SweptArea, "must be in (0, 500] m²")
	v.check(within(c.AirDensity, 0.5, 1.5), "air_density", c.AirDensity, "must be in [0.5, 1.5] kg/m³")
	v.check(c.OptimalTipSpeedRatio > 0 && c.OptimalTipSpeedRatio <= 8, "optimal_tip_speed_ratio",
		c.OptimalTipSpeedRatio, "must be in (0, 8]")

	v.check(c.RatedPower > 0, "rated_power", c.RatedPower, "must be positive")
	v.check(c.RatedRotorSpeed > 0, "rated_rotor_speed", c.RatedRotorSpeed, "must be positive")
	v.check(c.OverspeedThreshold > c.RatedRotorSpeed, "overspeed_threshold", c.OverspeedThreshold,
		"must exceed rated_rotor_speed")
	v.check(c.OvervoltageThreshold > 0, "overvoltage_threshold", c.OvervoltageThreshold, "must be positive")
	v.check(c.OvercurrentThreshold > 0, "overcurrent_threshold", c.OvercurrentThreshold, "must be positive")

	v.check(within(c.MinDuty, DutyFloor, DutyCeiling), "min_duty", c.MinDuty, "must be in [0.10, 0.90]")
	v.check(within(c.MaxDuty, DutyFloor, DutyCeiling), "max_duty", c.MaxDuty, "must be in [0.10, 0.90]")
	v.check(c.MinDuty < c.MaxDuty, "max_duty", c.MaxDuty, "must exceed min_duty")
	v.check(within(c.InitialDuty, c.MinDuty, c.MaxDuty), "initial_duty", c.InitialDuty,
		"must lie within the duty bounds")
	v.check(c.BaseStep > 0 && c.BaseStep < c.MaxDuty-c.MinDuty, "base_step", c.BaseStep,
		"must be positive and smaller than the duty range")
	v.check(c.MinStep > 0 && c.MinStep <= c.BaseStep, "min_step", c.MinStep, "must be in (0, base_step]")
	v.check(c.TurbulenceGain >= 0, "turbulence_gain", c.TurbulenceGain, "must not be negative")

	v.check(c.CutInWindSpeed > 0, "cut_in_wind_speed", c.CutInWindSpeed, "must be positive")
	v.check(c.CutOutWindSpeed > c.CutInWindSpeed, "cut_out_wind_speed", c.CutOutWindSpeed,
		"must exceed cut_in_wind_speed")

	v.check(c.RegulationEnterRatio > 0 && c.RegulationEnterRatio <= 1, "regulation_enter_ratio",
		c.RegulationEnterRatio, "must be in (0, 1]")
	v.check(c.RegulationExitRatio > 0 && c.RegulationExitRatio < c.RegulationEnterRatio,
		"regulation_exit_ratio", c.RegulationExitRatio, "must be positive and below regulation_enter_ratio")

	v.check(c.SoftStall.ProportionalGain >= 0, "soft_stall.proportional_gain",
		c.SoftStall.ProportionalGain, "must not be negative")
	v.check(c.SoftStall.IntegralGain >= 0, "soft_stall.integral_gain",
		c.SoftStall.IntegralGain, "must not be negative")
	v.check(within(c.SoftStall.BaseDuty, c.MinDuty, c.MaxDuty), "soft_stall.base_duty",
		c.SoftStall.BaseDuty, "must lie within the duty bounds")
	v.check(c.SoftStall.IntegralLimit >= 0, "soft_stall.integral_limit",
		c.SoftStall.IntegralLimit, "must not be negative")

	v.check(c.TickInterval > 0, "tick_interval", c.TickInterval.Seconds(), "must be positive")

	if len(v.errs) == 0 {
		return nil
	}

	return errors.New().Wrap(errors.ErrInvalidTurbineConfig, errors.Join(v.errs...))
}

// RegulationEnterPower is the power above which PowerTracking hands over to
// PowerRegulation.
func (c Configuration) RegulationEnterPower() float64 {
	return c.RegulationEnterRatio * c.RatedPower
}

// RegulationExitPower is the power below which PowerRegulation hands back to
// PowerTracking.
func (c Configuration) RegulationExitPower() float64 {
	return c.RegulationExitRatio * c.RatedPower
}
