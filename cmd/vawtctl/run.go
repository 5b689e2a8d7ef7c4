package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/vawtctl/internal/acquisition"
	"codeberg.org/mutker/vawtctl/internal/actuation"
	"codeberg.org/mutker/vawtctl/internal/config"
	"codeberg.org/mutker/vawtctl/internal/errors"
	"codeberg.org/mutker/vawtctl/internal/logger"
	"codeberg.org/mutker/vawtctl/internal/metrics"
	"codeberg.org/mutker/vawtctl/internal/mqtt"
	"codeberg.org/mutker/vawtctl/internal/pid"
	"codeberg.org/mutker/vawtctl/internal/statemachine"
	"codeberg.org/mutker/vawtctl/internal/telemetry"
	"codeberg.org/mutker/vawtctl/internal/turbine"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const (
	staleReason     = "sensor snapshot stale"
	actuationReason = "actuation failed"
	shutdownTimeout = 5 * time.Second
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the turbine controller",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		if err := pid.Write(); err != nil {
			return err
		}
		defer func() {
			if err := pid.Remove(); err != nil {
				logger.Warn().Err(err).Msg("failed to remove pid file")
			}
		}()

		return run(cmd.Context(), cfg)
	},
}

func init() {
	f := runCmd.Flags()
	f.Duration("interval", config.DefaultInterval, "control tick interval")
	f.String("source", string(config.SourceSimulator), "sensor source: sim or serial")
	f.String("serial-port", "", "serial port of the hardware-in-the-loop rig")
	f.Float64("wind", 0, "mean wind speed of the simulated plant in m/s")
	f.String("metrics-db", "", "sample database path")
	f.String("mqtt-broker", "", "MQTT broker URL")
}

// source feeds the slot and receives the actuation commands.
type source interface {
	acquisition.Source
	actuation.Actuator
}

type app struct {
	cfg      *config.Config
	runID    string
	machine  *statemachine.Machine
	slot     *acquisition.Slot
	actuator actuation.Controller
	samples  metrics.Collector
	journal  telemetry.Collector
	acks     chan struct{}
	started  time.Time
	now      func() time.Time
	logger   logger.Logger
}

func run(ctx context.Context, cfg *config.Config) error {
	runID := uuid.NewString()
	log := logger.Default().With("host")
	log.Info().Str("run_id", runID).Str("source", string(cfg.Source.Kind)).
		Dur("interval", cfg.Interval).Msg("Starting turbine controller")

	machine, err := statemachine.New(cfg.Turbine, statemachine.WithLogger(logger.Default()))
	if err != nil {
		return err
	}

	src, err := openSource(cfg)
	if err != nil {
		return err
	}
	if c, ok := src.(io.Closer); ok {
		defer c.Close()
	}

	a := &app{
		cfg:      cfg,
		runID:    runID,
		machine:  machine,
		slot:     &acquisition.Slot{},
		actuator: actuation.NewTracker(src, nil),
		acks:     make(chan struct{}, 1),
		now:      time.Now,
		logger:   log,
	}

	if err := a.openSinks(); err != nil {
		return err
	}
	defer a.closeSinks()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-usr1:
				a.requestAck()
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- src.Run(ctx, a.slot)
	}()

	err = a.loop(ctx, errCh)
	a.shutdown()

	return err
}

func openSource(cfg *config.Config) (source, error) {
	switch cfg.Source.Kind {
	case config.SourceSerial:
		return acquisition.OpenSerial(cfg.Source.Serial, nil)
	default:
		plant, err := acquisition.NewPlant(cfg.Source.Plant)
		if err != nil {
			return nil, err
		}
		wind := acquisition.GustingWind(cfg.Source.WindMean, cfg.Source.GustAmplitude, cfg.Source.GustPeriod)
		return acquisition.NewSimulator(plant, wind, nil), nil
	}
}

// openSinks builds the record and transition sinks. Disabled stores are
// noops; the MQTT publisher is only created when enabled.
func (a *app) openSinks() error {
	samples, err := metrics.NewService(a.cfg.Metrics, a.runID, nil)
	if err != nil {
		return err
	}
	journal, err := telemetry.NewService(a.cfg.Telemetry, a.runID, nil)
	if err != nil {
		samples.Close()
		return err
	}

	sampleSinks := metrics.Fanout{samples}
	journalSinks := telemetry.Fanout{journal}

	if a.cfg.MQTT.Enabled {
		pub, err := mqtt.NewPublisher(a.cfg.MQTT, a.runID, nil)
		if err != nil {
			samples.Close()
			journal.Close()
			return err
		}
		pub.OnAcknowledge(a.requestAck)
		if err := pub.Connect(); err != nil {
			// The client keeps retrying in the background
			a.logger.Warn().Err(err).Msg("MQTT broker not reachable yet")
		}
		sampleSinks = append(sampleSinks, pub.Samples())
		journalSinks = append(journalSinks, pub)
	}

	a.samples = sampleSinks
	a.journal = journalSinks

	return nil
}

func (a *app) closeSinks() {
	if err := a.samples.Close(); err != nil {
		a.logger.Error().Err(err).Msg("failed to close sample sinks")
	}
	if err := a.journal.Close(); err != nil {
		a.logger.Error().Err(err).Msg("failed to close transition sinks")
	}
}

// requestAck queues an acknowledgement for the tick goroutine. Requests
// arriving while one is pending are merged.
func (a *app) requestAck() {
	select {
	case a.acks <- struct{}{}:
	default:
	}
}

func (a *app) loop(ctx context.Context, errCh <-chan error) error {
	a.started = a.now()

	if err := a.actuator.FailSafe(); err != nil {
		return err
	}

	tr, err := a.machine.Start()
	if err != nil {
		return err
	}
	a.forward(ctx, tr)

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info().Msg("Received termination signal")
			return nil
		case err := <-errCh:
			if err == nil {
				return nil
			}
			return errors.New().Wrap(errors.ErrSourceFailed, err)
		case <-a.acks:
			a.acknowledge(ctx)
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

// tick runs one control step on the newest snapshot. Before the first
// snapshot arrives, the time since start counts as its age.
func (a *app) tick(ctx context.Context) {
	now := a.now()

	snap, ok := a.slot.Load()
	age := now.Sub(a.started)
	if ok {
		age = snap.Age(now)
	}

	if age > a.cfg.StarvationTimeout {
		a.trip(ctx, staleReason, age)
		return
	}
	if !ok {
		return
	}

	res := a.machine.Tick(snap.Sample)
	if res.Transition != nil {
		a.forward(ctx, *res.Transition)
	}

	if err := a.actuator.Apply(res.Command); err != nil {
		a.logger.Error().Err(err).Msg("failed to apply actuation command")
		a.trip(ctx, actuationReason, age)
		return
	}

	if err := a.samples.Record(ctx, res.Record); err != nil {
		a.logger.Warn().Err(err).Msg("failed to record sample")
	}

	a.logger.Debug().
		Str("mode", res.Mode.String()).
		Float64("wind", res.Record.WindSpeed).
		Float64("rpm", res.Record.RotorSpeed).
		Float64("power", res.Record.Power).
		Float64("duty", res.Command.DumpLoadDuty).
		Bool("brake", res.Command.MechanicalBrakeEngaged).
		Msg("Tick")
}

func (a *app) trip(ctx context.Context, reason string, age time.Duration) {
	if tr, fired := a.machine.Trip(reason); fired {
		a.logger.Warn().Dur("age", age).Str("reason", reason).Msg("Tripped to fault")
		a.forward(ctx, tr)
	}
	if err := a.actuator.FailSafe(); err != nil {
		a.logger.Error().Err(err).Msg("failed to apply fail-safe command")
	}
}

func (a *app) acknowledge(ctx context.Context) {
	tr, err := a.machine.Acknowledge()
	if err != nil {
		a.logger.Warn().Err(err).Msg("Acknowledgement refused")
		return
	}

	a.forward(ctx, tr)
	if err := a.actuator.Apply(a.machine.Command()); err != nil {
		a.logger.Error().Err(err).Msg("failed to apply actuation command")
	}
}

// forward hands a transition to the journal sinks. The machine logs it.
func (a *app) forward(ctx context.Context, tr turbine.Transition) {
	a.logger.Debug().Str("to", tr.To.String()).Msg("Forwarding transition")

	if err := a.journal.Record(ctx, tr); err != nil {
		a.logger.Warn().Err(err).Msg("failed to record transition")
	}
}

// shutdown leaves the turbine braked with the dump load off.
func (a *app) shutdown() {
	if err := a.actuator.FailSafe(); err != nil {
		a.logger.Error().Err(err).Msg("failed to apply fail-safe command")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if tr, fired := a.machine.Trip("shutdown"); fired {
		a.forward(ctx, tr)
	}

	a.logger.Info().Msg("Exiting...")
}
