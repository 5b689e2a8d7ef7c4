package main

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"text/tabwriter"
	"time"

	"codeberg.org/mutker/vawtctl/internal/logger"
	"codeberg.org/mutker/vawtctl/internal/metrics"
	"codeberg.org/mutker/vawtctl/internal/pid"
	"codeberg.org/mutker/vawtctl/internal/statemachine"
	"codeberg.org/mutker/vawtctl/internal/telemetry"
	"codeberg.org/mutker/vawtctl/internal/turbine"
	"github.com/spf13/cobra"
)

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the configuration and print the resolved turbine limits",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		// Building the machine also validates the transition table
		if _, err := statemachine.New(cfg.Turbine); err != nil {
			return err
		}

		printTurbine(cmd, cfg.Turbine)
		fmt.Fprintf(cmd.OutOrStdout(), "\nsource: %s, interval: %s, starvation timeout: %s\n",
			cfg.Source.Kind, cfg.Interval, cfg.StarvationTimeout)

		return nil
	},
}

var ackCmd = &cobra.Command{
	Use:   "ack",
	Short: "Acknowledge a fault on the running controller",
	Long:  "Signals the running controller to leave FAULT for STANDBY unless a limit is still exceeded.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := pid.Signal(syscall.SIGUSR1); err != nil {
			return err
		}

		n, _ := pid.Read()
		fmt.Fprintf(cmd.OutOrStdout(), "acknowledgement sent to process %d\n", n)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write recorded samples as CSV",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		runID, _ := cmd.Flags().GetString("run")
		out, _ := cmd.Flags().GetString("out")

		exporter, closer, err := metrics.OpenExporter(cfg.Metrics.DBPath)
		if err != nil {
			return err
		}
		defer closer.Close()

		w := cmd.OutOrStdout()
		if out != "" {
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}

		n, err := exporter.Export(cmd.Context(), runID, w)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%d samples exported\n", n)

		return nil
	},
}

var transitionsCmd = &cobra.Command{
	Use:   "transitions",
	Short: "List the most recent mode transitions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		repo, err := telemetry.NewRepository(cfg.Telemetry, logger.Default())
		if err != nil {
			return err
		}
		defer repo.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()

		entries, err := repo.Recent(ctx, limit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tFROM\tTO\tREASON\tRUN")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				e.Timestamp.Local().Format(time.RFC3339), e.From, e.To, e.Reason, e.RunID)
		}
		return w.Flush()
	},
}

func init() {
	exportCmd.Flags().String("run", "", "run ID to export (default all runs)")
	exportCmd.Flags().StringP("out", "o", "", "output file (default stdout)")
	exportCmd.Flags().String("metrics-db", "", "sample database path")

	transitionsCmd.Flags().Int("limit", 20, "number of transitions to list")
}

func printTurbine(cmd *cobra.Command, t turbine.Configuration) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "rated power\t%.0f W\n", t.RatedPower)
	fmt.Fprintf(w, "rated rotor speed\t%.0f rpm\n", t.RatedRotorSpeed)
	fmt.Fprintf(w, "regulation enter / exit\t%.0f W / %.0f W\n", t.RegulationEnterPower(), t.RegulationExitPower())
	fmt.Fprintf(w, "cut-in / cut-out wind\t%.1f m/s / %.1f m/s\n", t.CutInWindSpeed, t.CutOutWindSpeed)
	fmt.Fprintf(w, "overspeed\t%.0f rpm\n", t.OverspeedThreshold)
	fmt.Fprintf(w, "overvoltage\t%.1f V\n", t.OvervoltageThreshold)
	fmt.Fprintf(w, "overcurrent\t%.1f A\n", t.OvercurrentThreshold)
	fmt.Fprintf(w, "duty range\t%.2f to %.2f (initial %.2f)\n", t.MinDuty, t.MaxDuty, t.InitialDuty)
	fmt.Fprintf(w, "hill-climb step\t%.3f (floor %.4f, k %.2f)\n", t.BaseStep, t.MinStep, t.TurbulenceGain)
	fmt.Fprintf(w, "soft stall\tKp %.3f, Ki %.4f, base %.2f\n",
		t.SoftStall.ProportionalGain, t.SoftStall.IntegralGain, t.SoftStall.BaseDuty)
	fmt.Fprintf(w, "rotor\tR %.2f m, H %.2f m, A %.2f m², λopt %.1f\n",
		t.RotorRadius, t.RotorHeight, t.SweptArea, t.OptimalTipSpeedRatio)
}
