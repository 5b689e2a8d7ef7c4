// Package turbine holds the types and configuration shared by the control
// core: operating modes, sensor samples, actuation commands and records.
package turbine

import "time"

// Mode is the operating mode of the turbine. Exactly one is active.
type Mode int

const (
	ModeIdle Mode = iota
	ModeStandby
	ModeStartup
	ModePowerTracking
	ModePowerRegulation
	ModeStall
	ModeFault
)

var modeNames = map[Mode]string{
	ModeIdle:            "IDLE",
	ModeStandby:         "STANDBY",
	ModeStartup:         "STARTUP",
	ModePowerTracking:   "MPPT",
	ModePowerRegulation: "POWER_REG",
	ModeStall:           "STALL",
	ModeFault:           "FAULT",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return "UNKNOWN"
}

// Modes lists every operating mode in declaration order.
func Modes() []Mode {
	return []Mode{
		ModeIdle, ModeStandby, ModeStartup, ModePowerTracking,
		ModePowerRegulation, ModeStall, ModeFault,
	}
}

// SensorSample is one coherent snapshot handed to the core per tick.
type SensorSample struct {
	WindSpeed  float64 // m/s
	RotorSpeed float64 // rev/min
	BusVoltage float64 // V
	BusCurrent float64 // A
}

// Power returns the DC bus power in watts.
func (s SensorSample) Power() float64 {
	return s.BusVoltage * s.BusCurrent
}

// ActuationCommand drives the converter/dump-load PWM channel and the brake.
type ActuationCommand struct {
	DumpLoadDuty           float64 // [0, 1]
	MechanicalBrakeEngaged bool
}

// FailSafe is the command issued in Fault and on shutdown.
func FailSafe() ActuationCommand {
	return ActuationCommand{DumpLoadDuty: 0, MechanicalBrakeEngaged: true}
}

// Transition records a single executed mode change.
type Transition struct {
	Timestamp time.Time
	From      Mode
	To        Mode
	Reason    string
}

// LogRecord is the per-tick record handed to the persistence collaborator.
type LogRecord struct {
	Timestamp    time.Time
	Mode         Mode
	WindSpeed    float64
	RotorSpeed   float64
	BusVoltage   float64
	BusCurrent   float64
	Power        float64
	Lambda       float64
	Cp           float64
	DutyCycle    float64
	BrakeEngaged bool
}
