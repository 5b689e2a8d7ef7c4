package acquisition

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/vawtctl/internal/errors"
	"codeberg.org/mutker/vawtctl/internal/logger"
	"codeberg.org/mutker/vawtctl/internal/turbine"
	"go.bug.st/serial"
)

const (
	defaultBaud         = 115200
	defaultPulseTimeout = 2 * time.Second
	defaultDebounce     = 2 * time.Millisecond
)

type SerialConfig struct {
	Port string `mapstructure:"port"`
	Baud int    `mapstructure:"baud"`
	// PulsesPerRev > 0 takes rotor speed from "P" pulse lines instead of the
	// rpm field. Bare "P" lines are stamped on arrival, so the pulse rate must
	// stay well under the line rate the port delivers unbatched: at 115200
	// baud and 2 ms debounce keep ppr*rpm/60 below 100 Hz (ppr <= 24 at the
	// 250 rpm overspeed limit). Rigs stamping "P,<µs>" have no such ceiling
	// beyond the debounce.
	PulsesPerRev int           `mapstructure:"pulses_per_rev"`
	Debounce     time.Duration `mapstructure:"debounce"`
	PulseTimeout time.Duration `mapstructure:"pulse_timeout"`
}

func DefaultSerial() SerialConfig {
	return SerialConfig{
		Port:         "/dev/ttyUSB0",
		Baud:         defaultBaud,
		Debounce:     defaultDebounce,
		PulseTimeout: defaultPulseTimeout,
	}
}

// LineKind classifies a line received from the link.
type LineKind int

const (
	LineSample LineKind = iota
	LinePulse
	LineIgnored
)

// ParseLine decodes one line. Samples are "wind,rpm,voltage,current" and
// every field must be finite; "P" or "P,<µs>" is a tachometer pulse; blank
// lines and lines starting with '#' are ignored.
func ParseLine(line string) (turbine.SensorSample, LineKind, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "" || strings.HasPrefix(line, "#"):
		return turbine.SensorSample{}, LineIgnored, nil
	case isPulse(line):
		if _, _, err := PulseStamp(line); err != nil {
			return turbine.SensorSample{}, LineIgnored, err
		}
		return turbine.SensorSample{}, LinePulse, nil
	}

	fields := strings.Split(line, ",")
	if len(fields) != 4 {
		return turbine.SensorSample{}, LineIgnored, errors.New().WithData(ErrMalformedLine, line)
	}

	var values [4]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return turbine.SensorSample{}, LineIgnored, errors.New().Wrap(ErrMalformedLine, err)
		}
		// ParseFloat accepts "nan" and "inf"; neither is a measurement
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return turbine.SensorSample{}, LineIgnored, errors.New().WithData(ErrMalformedLine, line)
		}
		values[i] = v
	}

	return turbine.SensorSample{
		WindSpeed:  values[0],
		RotorSpeed: values[1],
		BusVoltage: values[2],
		BusCurrent: values[3],
	}, LineSample, nil
}

func isPulse(line string) bool {
	head, _, _ := strings.Cut(line, ",")
	return head == "P" || head == "p"
}

// PulseStamp returns the rig-side capture time of a "P,<µs>" line. ok is
// false for a bare "P".
func PulseStamp(line string) (stamp time.Duration, ok bool, err error) {
	_, field, found := strings.Cut(strings.TrimSpace(line), ",")
	if !found {
		return 0, false, nil
	}

	us, err := strconv.ParseInt(strings.TrimSpace(field), 10, 64)
	if err != nil || us < 0 {
		return 0, false, errors.New().WithData(ErrMalformedLine, line)
	}
	return time.Duration(us) * time.Microsecond, true, nil
}

// FormatCommand encodes a command as "duty,brake".
func FormatCommand(cmd turbine.ActuationCommand) string {
	brake := 0
	if cmd.MechanicalBrakeEngaged {
		brake = 1
	}
	return fmt.Sprintf("%.3f,%d\n", cmd.DumpLoadDuty, brake)
}

// SerialLink exchanges samples and commands with a hardware-in-the-loop rig
// or the turbine's I/O board.
type SerialLink struct {
	rw     io.ReadWriteCloser
	pulse  *RotorPulse

	// Maps rig pulse stamps onto the host clock
	hostAnchor time.Time
	rigAnchor  time.Duration
	anchored   bool
	drift      time.Duration

	logger logger.Logger
	now    func() time.Time

	mu sync.Mutex
}

func OpenSerial(cfg SerialConfig, log logger.Logger) (*SerialLink, error) {
	baud := cfg.Baud
	if baud <= 0 {
		baud = defaultBaud
	}

	port, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, errors.New().WithData(ErrOpenPort, struct {
			Port  string
			Error string
		}{
			Port:  cfg.Port,
			Error: err.Error(),
		})
	}

	return NewLink(port, cfg, log), nil
}

// NewLink wraps an already open stream.
func NewLink(rw io.ReadWriteCloser, cfg SerialConfig, log logger.Logger) *SerialLink {
	if log == nil {
		log = logger.Default()
	}

	l := &SerialLink{
		rw:     rw,
		logger: log.With("serial"),
		now:    time.Now,
	}
	if cfg.PulsesPerRev > 0 {
		l.pulse = NewRotorPulse(cfg.PulsesPerRev, cfg.Debounce, cfg.PulseTimeout)
	}
	l.drift = cfg.PulseTimeout
	if l.drift <= 0 {
		l.drift = defaultPulseTimeout
	}

	return l
}

// Run reads lines until the context ends or the stream fails. Malformed
// lines are logged and skipped.
func (l *SerialLink) Run(ctx context.Context, slot *Slot) error {
	stop := context.AfterFunc(ctx, func() {
		// Unblocks the pending read
		l.rw.Close()
	})
	defer stop()

	scanner := bufio.NewScanner(l.rw)
	for scanner.Scan() {
		now := l.now()

		line := scanner.Text()
		sample, kind, err := ParseLine(line)
		if err != nil {
			l.logger.Warn().Err(err).Msg("Skipping malformed line")
			continue
		}

		switch kind {
		case LinePulse:
			if l.pulse != nil {
				l.pulse.Pulse(l.pulseTime(line, now))
			}
		case LineSample:
			if l.pulse != nil {
				sample.RotorSpeed = l.pulse.RPM(now)
			}
			slot.Store(sample, now)
		}
	}

	if ctx.Err() != nil {
		return nil
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	return errors.New().Wrap(ErrSourceFailed, err)
}

// pulseTime places a pulse on the host clock. Stamped pulses keep the rig's
// spacing relative to an anchor taken at the first stamp; the anchor is
// reset when the mapping drifts by more than the pulse timeout, e.g. after
// the rig counter wraps.
func (l *SerialLink) pulseTime(line string, now time.Time) time.Time {
	stamp, ok, _ := PulseStamp(line)
	if !ok {
		return now
	}

	if l.anchored {
		at := l.hostAnchor.Add(stamp - l.rigAnchor)
		if d := now.Sub(at); d >= -l.drift && d <= l.drift {
			return at
		}
	}

	l.hostAnchor, l.rigAnchor, l.anchored = now, stamp, true
	return now
}

// Apply writes the command to the link.
func (l *SerialLink) Apply(cmd turbine.ActuationCommand) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := io.WriteString(l.rw, FormatCommand(cmd)); err != nil {
		return errors.New().Wrap(ErrWritePort, err)
	}
	return nil
}

func (l *SerialLink) Close() error {
	return l.rw.Close()
}
