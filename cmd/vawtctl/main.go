package main

import (
	"codeberg.org/mutker/vawtctl/internal/config"
	"codeberg.org/mutker/vawtctl/internal/logger"
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "vawtctl",
	Short: "Supervisory controller for a small vertical-axis wind turbine",
	Long:  "vawtctl runs the operating state machine of a vertical-axis wind turbine.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"configuration file (default $VAWTCTL_CONFIG or "+config.DefaultConfigPath+")")
	rootCmd.PersistentFlags().String("log-level", config.DefaultLogLevel, "log level: debug, info, warning or error")

	rootCmd.AddCommand(runCmd, checkConfigCmd, ackCmd, exportCmd, transitionsCmd)
}

// loadConfig resolves the configuration for a command and initializes the
// logger from it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	opts := []config.Option{config.WithFlags(cmd.Flags())}
	if configFile != "" {
		opts = append(opts, config.WithConfigFile(configFile))
	}

	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, err
	}

	logger.Init(cfg.LogLevel, logger.IsService())
	logger.Debug().Msg("Config loaded")

	return cfg, nil
}

func main() {
	cobra.CheckErr(rootCmd.Execute())
}
