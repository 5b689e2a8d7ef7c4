package acquisition

import (
	"context"
	"math"
	"sync"
	"time"

	"codeberg.org/mutker/vawtctl/internal/errors"
	"codeberg.org/mutker/vawtctl/internal/logger"
	"codeberg.org/mutker/vawtctl/internal/turbine"
	"gonum.org/v1/gonum/interp"
)

// Static Cp(λ) curve of the helical rotor.
var (
	cpLambda = []float64{0.5, 1.0, 1.5, 2.0, 2.5, 3.0, 3.5}
	cpValues = []float64{0.05, 0.15, 0.28, 0.35, 0.32, 0.25, 0.18}
)

// PlantConfig describes the single-degree-of-freedom rotor model.
type PlantConfig struct {
	Inertia         float64       `mapstructure:"inertia"`          // kg·m²
	Damping         float64       `mapstructure:"damping"`          // N·m·s
	RotorRadius     float64       `mapstructure:"rotor_radius"`     // m
	SweptArea       float64       `mapstructure:"swept_area"`       // m²
	AirDensity      float64       `mapstructure:"air_density"`      // kg/m³
	TorqueConstant  float64       `mapstructure:"torque_constant"`  // N·m per unit duty at 1 rad/s
	VoltageConstant float64       `mapstructure:"voltage_constant"` // V per rad/s
	BrakeTorque     float64       `mapstructure:"brake_torque"`     // N·m
	Step            time.Duration `mapstructure:"step"`
}

func DefaultPlant() PlantConfig {
	return PlantConfig{
		Inertia:         2.5,
		Damping:         0.5,
		RotorRadius:     0.6,
		SweptArea:       1.8,
		AirDensity:      1.15,
		TorqueConstant:  10,
		VoltageConstant: 2.5,
		BrakeTorque:     60,
		Step:            100 * time.Millisecond,
	}
}

// Plant integrates J·dω/dt = τ_aero − τ_gen − τ_brake − B·ω with explicit
// Euler steps.
type Plant struct {
	cfg   PlantConfig
	cp    interp.PiecewiseLinear
	omega float64 // rad/s
}

func NewPlant(cfg PlantConfig) (*Plant, error) {
	errFactory := errors.New()

	if cfg.Inertia <= 0 || cfg.Step <= 0 || cfg.VoltageConstant <= 0 {
		return nil, errFactory.WithData(ErrInvalidPlant, struct {
			Inertia         float64
			VoltageConstant float64
			Step            time.Duration
		}{
			Inertia:         cfg.Inertia,
			VoltageConstant: cfg.VoltageConstant,
			Step:            cfg.Step,
		})
	}

	p := &Plant{cfg: cfg}
	if err := p.cp.Fit(cpLambda, cpValues); err != nil {
		return nil, errFactory.Wrap(ErrInvalidPlant, err)
	}

	return p, nil
}

// Step advances the plant by one step under the given wind and command and
// returns what the sensors would read afterwards.
func (p *Plant) Step(windSpeed float64, cmd turbine.ActuationCommand) turbine.SensorSample {
	dt := p.cfg.Step.Seconds()

	lambda := p.omega * p.cfg.RotorRadius / math.Max(windSpeed, turbine.CalmWindSpeed)
	cp := p.cp.Predict(lambda)

	available := 0.5 * p.cfg.AirDensity * p.cfg.SweptArea * windSpeed * windSpeed * windSpeed
	tauAero := cp * available / math.Max(p.omega, 0.1)

	tauGen := p.cfg.TorqueConstant * cmd.DumpLoadDuty * p.omega
	var tauBrake float64
	if cmd.MechanicalBrakeEngaged && p.omega > 0 {
		tauBrake = p.cfg.BrakeTorque
	}

	p.omega += (tauAero - tauGen - tauBrake - p.cfg.Damping*p.omega) / p.cfg.Inertia * dt
	p.omega = math.Max(0, p.omega)

	volts := p.cfg.VoltageConstant * p.omega
	var amps float64
	if volts > 0 {
		amps = tauGen * p.omega / volts
	}

	return turbine.SensorSample{
		WindSpeed:  windSpeed,
		RotorSpeed: p.omega * 60 / (2 * math.Pi),
		BusVoltage: volts,
		BusCurrent: amps,
	}
}

// RotorSpeed returns the current rotor speed in rev/min.
func (p *Plant) RotorSpeed() float64 {
	return p.omega * 60 / (2 * math.Pi)
}

// WindProfile gives the wind speed at an elapsed time.
type WindProfile func(elapsed time.Duration) float64

// SteadyWind blows at a constant speed.
func SteadyWind(speed float64) WindProfile {
	return func(time.Duration) float64 { return speed }
}

// GustingWind oscillates around mean with the given amplitude and period.
func GustingWind(mean, amplitude float64, period time.Duration) WindProfile {
	if period <= 0 {
		return SteadyWind(mean)
	}
	return func(elapsed time.Duration) float64 {
		phase := 2 * math.Pi * elapsed.Seconds() / period.Seconds()
		return math.Max(0, mean+amplitude*math.Sin(phase))
	}
}

// Simulator drives a Plant from a wind profile and the last applied command.
// It is both the sensor source and the actuator of the simulated turbine.
type Simulator struct {
	plant  *Plant
	wind   WindProfile
	logger logger.Logger

	mu      sync.Mutex
	command turbine.ActuationCommand
}

func NewSimulator(plant *Plant, wind WindProfile, log logger.Logger) *Simulator {
	if log == nil {
		log = logger.Default()
	}
	return &Simulator{
		plant:   plant,
		wind:    wind,
		logger:  log.With("simulator"),
		command: turbine.FailSafe(),
	}
}

// Apply sets the command used from the next plant step on.
func (s *Simulator) Apply(cmd turbine.ActuationCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.command = cmd
	return nil
}

// Advance runs one plant step at the given elapsed time.
func (s *Simulator) Advance(elapsed time.Duration) turbine.SensorSample {
	s.mu.Lock()
	cmd := s.command
	s.mu.Unlock()

	return s.plant.Step(s.wind(elapsed), cmd)
}

// Run steps the plant in real time until the context ends.
func (s *Simulator) Run(ctx context.Context, slot *Slot) error {
	ticker := time.NewTicker(s.plant.cfg.Step)
	defer ticker.Stop()

	start := time.Now()
	s.logger.Info().Dur("step", s.plant.cfg.Step).Msg("Plant simulation started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			slot.Store(s.Advance(now.Sub(start)), now)
		}
	}
}
