package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once and print a summary.",
	Long: "`run` starts the pipeline with the given options and runs it " +
		"until max_samples is reached, --duration elapses or the process " +
		"is interrupted.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		name, _ := cmd.Flags().GetString("name")

		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		defer s.close()

		ctx, stop := signal.NotifyContext(cmd.Context(),
			os.Interrupt, syscall.SIGTERM)
		defer stop()

		r, err := s.run(ctx, name, cfg)
		if err != nil {
			return err
		}

		printSummary(s.out, r)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("name", "Pipeline", "Name of the run")
}
