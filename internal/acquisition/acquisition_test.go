package acquisition

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"codeberg.org/mutker/vawtctl/internal/errors"
	"codeberg.org/mutker/vawtctl/internal/logger"
	"codeberg.org/mutker/vawtctl/internal/turbine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePort struct {
	r      io.Reader
	w      bytes.Buffer
	closed bool
}

func (f *fakePort) Read(p []byte) (int, error)  { return f.r.Read(p) }
func (f *fakePort) Write(p []byte) (int, error) { return f.w.Write(p) }
func (f *fakePort) Close() error {
	f.closed = true
	if c, ok := f.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestSlot(t *testing.T) {
	var slot Slot

	_, ok := slot.Load()
	assert.False(t, ok)

	sample := turbine.SensorSample{WindSpeed: 5, RotorSpeed: 120, BusVoltage: 48, BusCurrent: 4}
	slot.Store(sample, epoch)

	snap, ok := slot.Load()
	require.True(t, ok)
	assert.Equal(t, sample, snap.Sample)
	assert.Equal(t, 250*time.Millisecond, snap.Age(epoch.Add(250*time.Millisecond)))
}

func TestRotorPulse(t *testing.T) {
	r := NewRotorPulse(1, 2*time.Millisecond, time.Second)

	assert.Zero(t, r.RPM(epoch))

	r.Pulse(epoch)
	assert.Zero(t, r.RPM(epoch), "one pulse has no period")

	r.Pulse(epoch.Add(100 * time.Millisecond))
	assert.InDelta(t, 600.0, r.RPM(epoch.Add(150*time.Millisecond)), 1e-9)

	// Bounce inside the debounce window is dropped.
	r.Pulse(epoch.Add(101 * time.Millisecond))
	assert.InDelta(t, 600.0, r.RPM(epoch.Add(150*time.Millisecond)), 1e-9)

	r.Pulse(epoch.Add(300 * time.Millisecond))
	assert.InDelta(t, 300.0, r.RPM(epoch.Add(300*time.Millisecond)), 1e-9)

	// Rotor stopped: no pulse within the timeout.
	assert.Zero(t, r.RPM(epoch.Add(1500*time.Millisecond)))
}

func TestRotorPulsePerRevolution(t *testing.T) {
	r := NewRotorPulse(4, 0, 0)
	r.Pulse(epoch)
	r.Pulse(epoch.Add(50 * time.Millisecond))

	// 4 pulses of 50 ms per revolution is 0.2 s per revolution.
	assert.InDelta(t, 300.0, r.RPM(epoch.Add(time.Hour)), 1e-9)
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		line    string
		kind    LineKind
		sample  turbine.SensorSample
		wantErr bool
	}{
		{line: "5.0,120,48.5,6.2", kind: LineSample, sample: turbine.SensorSample{WindSpeed: 5, RotorSpeed: 120, BusVoltage: 48.5, BusCurrent: 6.2}},
		{line: " 3.5, 135 ,48,6\r", kind: LineSample, sample: turbine.SensorSample{WindSpeed: 3.5, RotorSpeed: 135, BusVoltage: 48, BusCurrent: 6}},
		{line: "P", kind: LinePulse},
		{line: "", kind: LineIgnored},
		{line: "# VAWT HIL v1", kind: LineIgnored},
		{line: "5.0,120,48", kind: LineIgnored, wantErr: true},
		{line: "5.0,x,48,6", kind: LineIgnored, wantErr: true},
		{line: "5,nan,48,6", kind: LineIgnored, wantErr: true},
		{line: "5,120,NaN,6", kind: LineIgnored, wantErr: true},
		{line: "5,120,48,+Inf", kind: LineIgnored, wantErr: true},
		{line: "P,1250000", kind: LinePulse},
		{line: "P,soon", kind: LineIgnored, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			sample, kind, err := ParseLine(tt.line)
			if tt.wantErr {
				assert.True(t, errors.HasCode(err, ErrMalformedLine))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.sample, sample)
		})
	}
}

func TestSerialLinkReadsUntilEOF(t *testing.T) {
	port := &fakePort{r: strings.NewReader("# banner\n5.0,120,48,6\ngarbage\n6.0,130,49,7\n")}
	link := NewLink(port, SerialConfig{}, logger.Nop())
	link.now = func() time.Time { return epoch }

	var slot Slot
	err := link.Run(context.Background(), &slot)
	assert.True(t, errors.HasCode(err, ErrSourceFailed))

	snap, ok := slot.Load()
	require.True(t, ok)
	assert.Equal(t, turbine.SensorSample{WindSpeed: 6, RotorSpeed: 130, BusVoltage: 49, BusCurrent: 7}, snap.Sample)
	assert.Equal(t, epoch, snap.Captured)
}

func TestSerialLinkPulseMode(t *testing.T) {
	port := &fakePort{r: strings.NewReader("P\nP\n5.0,999,48,6\n")}
	link := NewLink(port, SerialConfig{PulsesPerRev: 1, PulseTimeout: time.Second}, logger.Nop())

	times := []time.Time{epoch, epoch.Add(200 * time.Millisecond), epoch.Add(250 * time.Millisecond)}
	link.now = func() time.Time {
		now := times[0]
		times = times[1:]
		return now
	}

	var slot Slot
	_ = link.Run(context.Background(), &slot)

	snap, ok := slot.Load()
	require.True(t, ok)
	assert.InDelta(t, 300.0, snap.Sample.RotorSpeed, 1e-9)
}

func TestSerialLinkSkipsNonFiniteSamples(t *testing.T) {
	port := &fakePort{r: strings.NewReader("5.0,120,48,6\n5,nan,48,6\nnan,nan,nan,nan\n")}
	link := NewLink(port, SerialConfig{}, logger.Nop())
	link.now = func() time.Time { return epoch }

	var slot Slot
	_ = link.Run(context.Background(), &slot)

	snap, ok := slot.Load()
	require.True(t, ok)
	assert.Equal(t, turbine.SensorSample{WindSpeed: 5, RotorSpeed: 120, BusVoltage: 48, BusCurrent: 6}, snap.Sample)
}

func TestPulseStamp(t *testing.T) {
	stamp, ok, err := PulseStamp("P,1500")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1500*time.Microsecond, stamp)

	_, ok, err = PulseStamp("P")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = PulseStamp("P,-3")
	assert.True(t, errors.HasCode(err, ErrMalformedLine))
}

func TestSerialLinkStampedPulsesSurviveBatching(t *testing.T) {
	// Both pulses arrive in one read; only the rig stamps tell them apart
	port := &fakePort{r: strings.NewReader("P,1000000\nP,1050000\n5.0,999,48,6\n")}
	link := NewLink(port, SerialConfig{PulsesPerRev: 1, Debounce: 2 * time.Millisecond, PulseTimeout: time.Second}, logger.Nop())
	link.now = func() time.Time { return epoch }

	var slot Slot
	_ = link.Run(context.Background(), &slot)

	snap, ok := slot.Load()
	require.True(t, ok)
	assert.InDelta(t, 1200.0, snap.Sample.RotorSpeed, 1e-9)
}

func TestSerialLinkReanchorsAfterCounterWrap(t *testing.T) {
	port := &fakePort{r: strings.NewReader("P,9000000\nP,100\nP,50100\n5.0,999,48,6\n")}
	link := NewLink(port, SerialConfig{PulsesPerRev: 1, PulseTimeout: time.Second}, logger.Nop())

	times := []time.Time{
		epoch,
		epoch.Add(100 * time.Millisecond),
		epoch.Add(100 * time.Millisecond),
		epoch.Add(110 * time.Millisecond),
	}
	link.now = func() time.Time {
		now := times[0]
		times = times[1:]
		return now
	}

	var slot Slot
	_ = link.Run(context.Background(), &slot)

	snap, ok := slot.Load()
	require.True(t, ok)
	assert.InDelta(t, 1200.0, snap.Sample.RotorSpeed, 1e-9)
}

func TestSerialLinkStopsOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	port := &fakePort{r: pr}
	link := NewLink(port, SerialConfig{}, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		var slot Slot
		done <- link.Run(ctx, &slot)
	}()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.True(t, port.closed)
}

func TestSerialLinkApply(t *testing.T) {
	port := &fakePort{r: strings.NewReader("")}
	link := NewLink(port, SerialConfig{}, logger.Nop())

	require.NoError(t, link.Apply(turbine.ActuationCommand{DumpLoadDuty: 0.3}))
	require.NoError(t, link.Apply(turbine.FailSafe()))
	assert.Equal(t, "0.300,0\n0.000,1\n", port.w.String())
}

func spin(t *testing.T, p *Plant, wind float64, cmd turbine.ActuationCommand, steps int) turbine.SensorSample {
	t.Helper()

	var s turbine.SensorSample
	for i := 0; i < steps; i++ {
		s = p.Step(wind, cmd)
		require.GreaterOrEqual(t, s.RotorSpeed, 0.0)
	}
	return s
}

func TestPlantSpinsUpUnloaded(t *testing.T) {
	p, err := NewPlant(DefaultPlant())
	require.NoError(t, err)

	s := spin(t, p, 8, turbine.ActuationCommand{}, 600)
	assert.Greater(t, s.RotorSpeed, 60.0)
	assert.Greater(t, s.BusVoltage, 0.0)
	assert.Zero(t, s.BusCurrent)
	assert.Equal(t, 8.0, s.WindSpeed)
}

func TestPlantLoadSlowsRotor(t *testing.T) {
	free, err := NewPlant(DefaultPlant())
	require.NoError(t, err)
	loaded, err := NewPlant(DefaultPlant())
	require.NoError(t, err)

	unloaded := spin(t, free, 8, turbine.ActuationCommand{}, 600)
	s := spin(t, loaded, 8, turbine.ActuationCommand{DumpLoadDuty: 0.3}, 600)

	assert.Less(t, s.RotorSpeed, unloaded.RotorSpeed)
	assert.Greater(t, s.BusCurrent, 0.0)
	assert.Greater(t, s.Power(), 0.0)
}

func TestPlantBrakeStopsRotor(t *testing.T) {
	p, err := NewPlant(DefaultPlant())
	require.NoError(t, err)

	spin(t, p, 8, turbine.ActuationCommand{}, 600)
	require.Greater(t, p.RotorSpeed(), 0.0)

	s := spin(t, p, 0, turbine.FailSafe(), 300)
	assert.Zero(t, s.RotorSpeed)
}

func TestInvalidPlant(t *testing.T) {
	cfg := DefaultPlant()
	cfg.Inertia = 0

	_, err := NewPlant(cfg)
	assert.True(t, errors.HasCode(err, ErrInvalidPlant))
}

func TestWindProfiles(t *testing.T) {
	assert.Equal(t, 7.0, SteadyWind(7)(time.Minute))

	gust := GustingWind(6, 2, 20*time.Second)
	assert.InDelta(t, 6.0, gust(0), 1e-9)
	assert.InDelta(t, 8.0, gust(5*time.Second), 1e-9)
	assert.InDelta(t, 4.0, gust(15*time.Second), 1e-9)

	calm := GustingWind(1, 5, 10*time.Second)
	assert.Zero(t, calm(7500*time.Millisecond))
}

func TestSimulatorAppliesCommand(t *testing.T) {
	p, err := NewPlant(DefaultPlant())
	require.NoError(t, err)

	sim := NewSimulator(p, SteadyWind(8), logger.Nop())

	// Starts braked.
	s := sim.Advance(0)
	assert.Zero(t, s.BusCurrent)

	require.NoError(t, sim.Apply(turbine.ActuationCommand{DumpLoadDuty: 0.3}))
	for i := 0; i < 100; i++ {
		s = sim.Advance(time.Duration(i) * 100 * time.Millisecond)
	}
	assert.Greater(t, s.BusCurrent, 0.0)
}
