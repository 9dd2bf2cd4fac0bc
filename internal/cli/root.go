// Package cli wires the picoserd commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/paulober/pyboard-serial-com/internal/config"
	"github.com/paulober/pyboard-serial-com/internal/logging"
)

// Execute runs the CLI. Invoked without a subcommand it serves the
// command protocol, which is what the parent process expects.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

type rootFlags struct {
	configPath string
	device     string
	baudRate   int
	logLevel   string
	logFormat  string
}

func newRootCmd(version string) *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "picoserd",
		Short:         "Serial session driver for MicroPython boards",
		Long:          "picoserd drives a MicroPython board over a serial link, exposing a line-delimited JSON command protocol on stdin/stdout.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags)
		},
	}

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Config file path")
	cmd.PersistentFlags().StringVarP(&flags.device, "device", "d", os.Getenv("PICOSERD_DEVICE"), "Serial device path")
	cmd.PersistentFlags().IntVarP(&flags.baudRate, "baudrate", "b", 0, "Serial baud rate")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "Log format (json, console)")

	cmd.AddCommand(
		newServeCmd(flags),
		newScanCmd(),
	)

	return cmd
}

// loadConfig resolves the effective configuration: defaults, then config
// file and environment, then explicit flags.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	loader := config.NewLoader()
	if flags.configPath != "" {
		loader.SetConfigFile(flags.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if flags.device != "" {
		cfg.Serial.Device = flags.device
	}
	if flags.baudRate != 0 {
		cfg.Serial.BaudRate = flags.baudRate
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Logging.Format = flags.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func initLogging(cfg *config.Config) {
	logging.Init(logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		EnableCaller: cfg.Logging.EnableCaller,
	})
}
