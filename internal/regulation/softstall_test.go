package regulation_test

import (
	"testing"
	"time"

	"codeberg.org/mutker/vawtctl/internal/regulation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSoftStall() *regulation.SoftStall {
	return regulation.NewSoftStall(regulation.Config{
		ProportionalGain: 0.01,
		IntegralGain:     0.001,
		BaseDuty:         0.5,
		IntegralLimit:    0.4,
		MinDuty:          0.10,
		MaxDuty:          0.90,
	})
}

func TestSoftStallProportionalResponse(t *testing.T) {
	s := newSoftStall()

	// 10 W below rated for one second: 0.5 + 0.01·10 + 0.001·10·1.
	duty := s.Update(500, 490, time.Second)
	assert.InDelta(t, 0.61, duty, 1e-9)

	s.Reset()
	duty = s.Update(500, 500, time.Second)
	assert.InDelta(t, 0.5, duty, 1e-9)
}

func TestSoftStallOutputClamped(t *testing.T) {
	s := newSoftStall()

	assert.InDelta(t, 0.10, s.Update(500, 800, 100*time.Millisecond), 1e-12)

	s.Reset()
	assert.InDelta(t, 0.90, s.Update(500, 0, 100*time.Millisecond), 1e-12)
}

func TestSoftStallIntegralAntiWindup(t *testing.T) {
	s := newSoftStall()

	for i := 0; i < 10000; i++ {
		s.Update(500, 450, 100*time.Millisecond)
	}

	assert.InDelta(t, 0.4, s.Integral(), 1e-9)
	require.InDelta(t, 0.90, s.Duty(), 1e-12)

	// Once the error reverses the output leaves saturation within a bounded
	// number of ticks instead of unwinding a huge integral.
	ticks := 0
	for s.Update(500, 560, 100*time.Millisecond) >= 0.90 {
		ticks++
		require.Less(t, ticks, 100)
	}
}

func TestSoftStallResetClearsIntegrator(t *testing.T) {
	s := newSoftStall()
	for i := 0; i < 50; i++ {
		s.Update(500, 300, time.Second)
	}
	require.NotZero(t, s.Integral())

	s.Reset()

	assert.Zero(t, s.Integral())
	assert.InDelta(t, 0.5, s.Duty(), 1e-12)
}
