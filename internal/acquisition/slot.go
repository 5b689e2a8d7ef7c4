// Package acquisition produces sensor snapshots for the control loop: a
// simulated plant, a serial hardware-in-the-loop link and the rotor pulse
// tachometer. Producers hand snapshots to the loop through a Slot.
package acquisition

import (
	"context"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/vawtctl/internal/turbine"
)

// Source fills a slot until the context ends or the source fails.
type Source interface {
	Run(ctx context.Context, slot *Slot) error
}

// Snapshot is a sample with the time it was captured.
type Snapshot struct {
	Sample   turbine.SensorSample
	Captured time.Time
}

// Age returns how old the snapshot is at now.
func (s Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.Captured)
}

// Slot holds the latest snapshot. Writers replace it whole, so a reader never
// sees fields from two different captures.
type Slot struct {
	v atomic.Pointer[Snapshot]
}

func (s *Slot) Store(sample turbine.SensorSample, captured time.Time) {
	s.v.Store(&Snapshot{Sample: sample, Captured: captured})
}

// Load returns the latest snapshot, or false if nothing was stored yet.
func (s *Slot) Load() (Snapshot, bool) {
	p := s.v.Load()
	if p == nil {
		return Snapshot{}, false
	}
	return *p, true
}
