// Package mppt implements the turbulence-adaptive hill-climb search for the
// maximum power point.
package mppt

import (
	"gonum.org/v1/gonum/stat"
)

// WindowLength is the number of wind-speed samples kept for the turbulence
// estimate: about 10 s at the 10 Hz tick.
const WindowLength = 100

// calmWindSpeed is the mean wind speed below which turbulence intensity is 0.
const calmWindSpeed = 0.5

// Config tunes the search. The caller guarantees MinDuty < MaxDuty and
// 0 < MinStep <= BaseStep.
type Config struct {
	BaseStep       float64
	MinStep        float64
	TurbulenceGain float64
	InitialDuty    float64
	MinDuty        float64
	MaxDuty        float64
}

// Controller is not safe for concurrent use. It expects Update to be called
// at a steady cadence so the buffered samples are evenly spaced.
type Controller struct {
	cfg Config

	duty      float64
	direction float64
	lastPower float64
	hasLast   bool
	lastStep  float64

	window [WindowLength]float64
	next   int
	filled int
}

func New(cfg Config) *Controller {
	c := &Controller{cfg: cfg}
	c.Reset()
	return c
}

// Update advances the search by one step and returns the new duty cycle.
func (c *Controller) Update(power, windSpeed float64) float64 {
	c.push(windSpeed)

	step := c.step()

	// The first observation has nothing to compare against and keeps the
	// current direction.
	if c.hasLast && power <= c.lastPower {
		c.direction = -c.direction
	}

	c.duty = clamp(c.duty+c.direction*step, c.cfg.MinDuty, c.cfg.MaxDuty)
	c.lastPower = power
	c.hasLast = true
	c.lastStep = step

	return c.duty
}

// Reset restores the safe-start state: initial duty, positive direction and
// an empty wind buffer.
func (c *Controller) Reset() {
	c.duty = clamp(c.cfg.InitialDuty, c.cfg.MinDuty, c.cfg.MaxDuty)
	c.direction = 1
	c.lastPower = 0
	c.hasLast = false
	c.lastStep = 0
	c.window = [WindowLength]float64{}
	c.next = 0
	c.filled = 0
}

// TurbulenceIntensity returns σ_v / mean over the buffered samples, or 0 when
// the buffer is empty or the mean wind speed is calm.
func (c *Controller) TurbulenceIntensity() float64 {
	if c.filled == 0 {
		return 0
	}

	mean, std := stat.PopMeanStdDev(c.window[:c.filled], nil)
	if mean < calmWindSpeed {
		return 0
	}

	return std / mean
}

// Duty returns the current duty cycle.
func (c *Controller) Duty() float64 { return c.duty }

// Direction returns +1 or -1.
func (c *Controller) Direction() int { return int(c.direction) }

// LastStep returns the step size applied by the most recent Update.
func (c *Controller) LastStep() float64 { return c.lastStep }

// Filled returns how many wind samples are buffered.
func (c *Controller) Filled() int { return c.filled }

func (c *Controller) push(windSpeed float64) {
	c.window[c.next] = windSpeed
	c.next = (c.next + 1) % WindowLength
	if c.filled < WindowLength {
		c.filled++
	}
}

// step shrinks the base step as wind-speed deviation grows. Until the buffer
// is full the base step is used unchanged.
func (c *Controller) step() float64 {
	if c.filled < WindowLength {
		return c.cfg.BaseStep
	}

	_, sigma := stat.PopMeanStdDev(c.window[:], nil)
	step := c.cfg.BaseStep / (1 + c.cfg.TurbulenceGain*sigma)
	if !(step >= c.cfg.MinStep) {
		return c.cfg.MinStep
	}

	return step
}

func clamp(value, minValue, maxValue float64) float64 {
	if !(value >= minValue) {
		return minValue
	}

	if value > maxValue {
		return maxValue
	}

	return value
}
