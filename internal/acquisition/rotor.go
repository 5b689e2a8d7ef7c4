package acquisition

import (
	"sync/atomic"
	"time"
)

// RotorPulse turns tachometer pulses into rotor speed. Pulse is called from
// the capture side and RPM from the control side; both are lock-free.
type RotorPulse struct {
	pulsesPerRev int64
	debounce     int64 // ns
	timeout      int64 // ns

	last   atomic.Int64 // unix ns of the last accepted pulse
	period atomic.Int64 // ns between the last two accepted pulses
}

func NewRotorPulse(pulsesPerRev int, debounce, timeout time.Duration) *RotorPulse {
	if pulsesPerRev < 1 {
		pulsesPerRev = 1
	}
	return &RotorPulse{
		pulsesPerRev: int64(pulsesPerRev),
		debounce:     int64(debounce),
		timeout:      int64(timeout),
	}
}

// Pulse records an edge. Edges closer than the debounce interval to the last
// accepted one are contact bounce and are dropped. Single writer only.
func (r *RotorPulse) Pulse(at time.Time) {
	now := at.UnixNano()
	prev := r.last.Load()

	if prev != 0 {
		dt := now - prev
		if dt < r.debounce || dt <= 0 {
			return
		}
		r.period.Store(dt)
	}
	r.last.Store(now)
}

// RPM returns the rotor speed, or 0 before two pulses or when the last pulse
// is older than the timeout.
func (r *RotorPulse) RPM(now time.Time) float64 {
	period := r.period.Load()
	last := r.last.Load()
	if period <= 0 || last == 0 {
		return 0
	}
	if r.timeout > 0 && now.UnixNano()-last > r.timeout {
		return 0
	}

	revPeriod := float64(period*r.pulsesPerRev) / float64(time.Second)
	return 60 / revPeriod
}
