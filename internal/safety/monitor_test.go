package safety_test

import (
	"math"
	"testing"

	"codeberg.org/mutker/vawtctl/internal/logger"
	"codeberg.org/mutker/vawtctl/internal/safety"
	"github.com/stretchr/testify/assert"
)

func newMonitor() *safety.Monitor {
	return safety.New(safety.Thresholds{
		Overspeed:   250,
		Overvoltage: 60,
		Overcurrent: 30,
	}, logger.Nop())
}

func TestCheckWithinLimits(t *testing.T) {
	m := newMonitor()

	cases := [][3]float64{
		{0, 0, 0},
		{135, 48, 6},
		{250, 60, 30}, // ties are not violations
		{249.999, 59.999, 29.999},
	}

	for _, c := range cases {
		v := m.Check(c[0], c[1], c[2])
		assert.True(t, v.Safe, "expected safe for %v", c)
		assert.False(t, v.Overspeed || v.Overvoltage || v.Overcurrent)
		assert.Equal(t, "safe", v.Reason())
	}
}

func TestCheckEachLimitIndependently(t *testing.T) {
	tests := []struct {
		name        string
		rpm, v, i   float64
		overspeed   bool
		overvoltage bool
		overcurrent bool
		reason      string
	}{
		{"overspeed only", 300, 48, 6, true, false, false, "overspeed"},
		{"overvoltage only", 135, 60.1, 6, false, true, false, "overvoltage"},
		{"overcurrent only", 135, 48, 30.5, false, false, true, "overcurrent"},
		{"overspeed with others at limit", 250.1, 60, 30, true, false, false, "overspeed"},
		{"all three", 400, 80, 45, true, true, true, "overspeed+overvoltage+overcurrent"},
		{"speed and current", 260, 10, 31, true, false, true, "overspeed+overcurrent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMonitor()
			v := m.Check(tt.rpm, tt.v, tt.i)

			assert.False(t, v.Safe)
			assert.Equal(t, tt.overspeed, v.Overspeed)
			assert.Equal(t, tt.overvoltage, v.Overvoltage)
			assert.Equal(t, tt.overcurrent, v.Overcurrent)
			assert.Equal(t, tt.reason, v.Reason())

			assert.Equal(t, tt.overspeed, m.IsOverspeed())
			assert.Equal(t, tt.overvoltage, m.IsOvervoltage())
			assert.Equal(t, tt.overcurrent, m.IsOvercurrent())
		})
	}
}

func TestCheckIsStatelessAcrossCalls(t *testing.T) {
	m := newMonitor()

	assert.False(t, m.Check(300, 48, 6).Safe)
	v := m.Check(135, 48, 6)

	assert.True(t, v.Safe)
	assert.False(t, m.IsOverspeed())
}

func TestResetKeepsThresholds(t *testing.T) {
	m := newMonitor()
	m.Check(300, 70, 40)
	assert.True(t, m.IsOverspeed())

	m.Reset()

	assert.False(t, m.IsOverspeed())
	assert.False(t, m.IsOvervoltage())
	assert.False(t, m.IsOvercurrent())
	assert.True(t, m.Last().Safe)
	assert.Equal(t, 250.0, m.Thresholds().Overspeed)
	assert.False(t, m.Check(300, 48, 6).Safe)
}

func TestCheckRejectsNonFiniteMeasurements(t *testing.T) {
	m := newMonitor()
	nan := math.NaN()

	tests := []struct {
		name                  string
		rpm, voltage, current float64
		reason                string
	}{
		{"nan rotor speed", nan, 48, 6, "invalid measurement"},
		{"nan voltage", 135, nan, 6, "invalid measurement"},
		{"nan current", 135, 48, nan, "invalid measurement"},
		{"all nan", nan, nan, nan, "invalid measurement"},
		{"negative infinite current", 135, 48, math.Inf(-1), "invalid measurement"},
		{"infinite rotor speed", math.Inf(1), 48, 6, "invalid measurement+overspeed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := m.Check(tt.rpm, tt.voltage, tt.current)
			assert.False(t, v.Safe)
			assert.True(t, v.Invalid)
			assert.Equal(t, tt.reason, v.Reason())
		})
	}

	m.Reset()
	assert.False(t, m.Last().Invalid)
}
