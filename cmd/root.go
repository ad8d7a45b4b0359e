// Package cmd provides the command-line interface of rtloop.
package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sarchlab/rtloop/config"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use: "rtloop",
	Short: "rtloop runs a soft real-time sensing and actuation pipeline " +
		"and reports its timing behavior.",
	Long: `rtloop runs a soft real-time sensing and actuation pipeline ` +
		`and reports deadline compliance, latency, jitter and contention. ` +
		`Every configuration option can be given as a flag, in an ` +
		`env-style or YAML file, or as an RTLOOP_ environment variable.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	f := rootCmd.PersistentFlags()

	f.String("config", "",
		"Options file, env-style or YAML (.yaml, .yml)")
	f.String("log-level", "info",
		"Log level: debug, info, warn or error")
	f.Duration("duration", 0,
		"Stop each run after this long, 0 runs until max_samples")
	f.Bool("monitor", false,
		"Serve the live monitor and Prometheus metrics over HTTP")
	f.Int("monitor-port", 0,
		"Port of the monitor, 0 picks a free port")
	f.Bool("open-browser", false,
		"Open the monitor in a browser")
	f.Bool("record", false,
		"Record every run into an SQLite database")
	f.String("record-file", "",
		"Database path without the .sqlite3 suffix, empty generates one")

	for _, name := range config.OptionNames() {
		f.String(flagName(name), "", "Option "+name)
	}
}

func flagName(option string) string {
	return strings.ReplaceAll(option, "_", "-")
}

// loadConfig merges the options file, the environment and the option flags
// that were set on the command line.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	flags := cmd.Flags()

	options := make(map[string]string)
	for _, name := range config.OptionNames() {
		f := flags.Lookup(flagName(name))
		if f != nil && f.Changed {
			options[name] = f.Value.String()
		}
	}

	file, err := flags.GetString("config")
	if err != nil {
		return config.Config{}, err
	}

	return config.Load(file, options)
}

func newLogger(cmd *cobra.Command) (*slog.Logger, error) {
	name, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", name)
	}

	h := slog.NewTextHandler(cmd.ErrOrStderr(),
		&slog.HandlerOptions{Level: level})

	return slog.New(h), nil
}

// Execute adds all child commands to the root command and runs it. It
// returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
		return 1
	}

	return 0
}
