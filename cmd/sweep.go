package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sarchlab/rtloop/config"
	"github.com/sarchlab/rtloop/model"
	"github.com/sarchlab/rtloop/monitoring"
)

var errUnboundedSweep = errors.New(
	"a sweep needs max_samples or --duration to end each run")

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the pipeline once per background load level.",
	Long: "`sweep` repeats the same run for every background load level " +
		"and prints how timing degrades as the load grows.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		levels, err := cmd.Flags().GetIntSlice("levels")
		if err != nil {
			return err
		}

		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		defer s.close()

		if cfg.MaxSamples == 0 && s.duration == 0 {
			return errUnboundedSweep
		}

		configs, err := sweepConfigs(cfg, levels)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(),
			os.Interrupt, syscall.SIGTERM)
		defer stop()

		var bar *monitoring.ProgressBar
		if s.monitor != nil {
			bar = s.monitor.CreateProgressBar("Load sweep", uint64(len(configs)))
			defer s.monitor.CompleteProgressBar(bar)
		}

		results := make([]result, 0, len(configs))
		for _, c := range configs {
			if ctx.Err() != nil {
				break
			}

			if bar != nil {
				bar.IncrementInProgress(1)
			}

			name := fmt.Sprintf("Load%d", c.BackgroundLoadThreads)
			r, err := s.run(ctx, name, c)
			if err != nil {
				return err
			}

			if bar != nil {
				bar.MoveInProgressToFinished(1)
			}

			printSummary(s.out, r)
			fmt.Fprintln(s.out)

			results = append(results, r)
		}

		printComparison(s.out, results)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().IntSlice("levels", config.LoadLevels,
		"Background load levels to run")
}

// sweepConfigs derives one validated configuration per load level.
func sweepConfigs(base config.Config, levels []int) ([]config.Config, error) {
	configs := make([]config.Config, 0, len(levels))
	for _, l := range levels {
		c := base
		c.BackgroundLoadThreads = l

		if err := c.Validate(); err != nil {
			return nil, err
		}

		configs = append(configs, c)
	}

	return configs, nil
}

func printComparison(w io.Writer, results []result) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LOAD\tCOMPLIANCE\tPROCESSED\tDROPOUTS\t"+
		"P99 PROCESS\tSENSOR JITTER\tMAX WAIT")

	for _, r := range results {
		var maxWait time.Duration
		for _, c := range r.Contention {
			maxWait = max(maxWait, c.MaxWait)
		}

		fmt.Fprintf(tw, "%d\t%.4f\t%d\t%d\t%v\t%v\t%v\n",
			r.Stats.LoadThreads,
			r.Snapshot.Compliance(),
			r.Stats.Processed,
			r.Snapshot.Dropouts,
			r.Snapshot.Stages[model.StageProcess].P99Latency,
			r.Snapshot.Stages[model.StageSensor].Jitter,
			maxWait)
	}
	tw.Flush()
}
