package turbine

import "math"

// CalmWindSpeed is the wind speed below which λ, Cp and turbulence
// intensity are reported as 0.
const CalmWindSpeed = 0.5

// TipSpeedRatio returns λ = ω·R / v for a rotor speed in rev/min.
func TipSpeedRatio(rotorSpeed, windSpeed, rotorRadius float64) float64 {
	if windSpeed < CalmWindSpeed {
		return 0
	}
	omega := rotorSpeed * 2 * math.Pi / 60
	return omega * rotorRadius / windSpeed
}

// PowerCoefficient returns Cp = P / (½·ρ·A·v³).
func PowerCoefficient(power, windSpeed, airDensity, sweptArea float64) float64 {
	if windSpeed < CalmWindSpeed {
		return 0
	}
	available := 0.5 * airDensity * sweptArea * windSpeed * windSpeed * windSpeed
	if available <= 0 {
		return 0
	}
	return power / available
}

// Record builds the log record for a tick.
func (c Configuration) Record(s SensorSample, mode Mode, cmd ActuationCommand) LogRecord {
	power := s.Power()
	return LogRecord{
		Mode:         mode,
		WindSpeed:    s.WindSpeed,
		RotorSpeed:   s.RotorSpeed,
		BusVoltage:   s.BusVoltage,
		BusCurrent:   s.BusCurrent,
		Power:        power,
		Lambda:       TipSpeedRatio(s.RotorSpeed, s.WindSpeed, c.RotorRadius),
		Cp:           PowerCoefficient(power, s.WindSpeed, c.AirDensity, c.SweptArea),
		DutyCycle:    cmd.DumpLoadDuty,
		BrakeEngaged: cmd.MechanicalBrakeEngaged,
	}
}
