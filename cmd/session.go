package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/sarchlab/rtloop/config"
	"github.com/sarchlab/rtloop/datarecording"
	"github.com/sarchlab/rtloop/model"
	"github.com/sarchlab/rtloop/monitoring"
	"github.com/sarchlab/rtloop/pipeline"
	"github.com/sarchlab/rtloop/syncmgr"
	"github.com/sarchlab/rtloop/telemetry"
)

// session holds what is shared by the runs of one command invocation.
type session struct {
	logger   *slog.Logger
	out      io.Writer
	duration time.Duration

	monitor  *monitoring.Monitor
	metrics  *telemetry.PrometheusCollector
	recorder datarecording.DataRecorder
	runs     *datarecording.RunRecorder
}

// result is what a finished run reports.
type result struct {
	Name     string
	Config   config.Config
	Elapsed  time.Duration
	Snapshot telemetry.Snapshot
	Stats    pipeline.Stats

	Contention map[syncmgr.Resource]syncmgr.ContentionStats
	RunID      string
}

func newSession(cmd *cobra.Command) (*session, error) {
	logger, err := newLogger(cmd)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()

	s := &session{
		logger: logger,
		out:    cmd.OutOrStdout(),
	}

	if s.duration, err = flags.GetDuration("duration"); err != nil {
		return nil, err
	}

	if err := s.startMonitor(cmd); err != nil {
		return nil, err
	}

	record, _ := flags.GetBool("record")
	if record {
		path, _ := flags.GetString("record-file")
		s.recorder = datarecording.New(path)
		s.runs = datarecording.NewRunRecorder(s.recorder)
	}

	return s, nil
}

func (s *session) startMonitor(cmd *cobra.Command) error {
	flags := cmd.Flags()

	enabled, _ := flags.GetBool("monitor")
	if !enabled {
		return nil
	}

	port, _ := flags.GetInt("monitor-port")
	open, _ := flags.GetBool("open-browser")

	s.metrics = telemetry.NewPrometheus(prometheus.DefaultRegisterer, "rtloop")
	s.monitor = monitoring.NewMonitor().
		WithLogger(s.logger).
		WithPortNumber(port).
		WithBrowser(open)

	_, err := s.monitor.StartServer()

	return err
}

func (s *session) close() {
	if s.monitor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		if err := s.monitor.StopServer(ctx); err != nil {
			s.logger.Warn("stopping monitor", "error", err)
		}
	}

	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			s.logger.Warn("closing recorder", "error", err)
		}
	}
}

// run executes one pipeline until its sample limit, the session duration
// or the cancellation of ctx, whichever comes first.
func (s *session) run(
	ctx context.Context,
	name string,
	cfg config.Config,
) (result, error) {
	b := pipeline.MakeBuilder().
		WithConfig(cfg).
		WithLogger(s.logger)

	if s.metrics != nil {
		b = b.WithHook(s.metrics)
	}

	p := b.Build(name)

	if s.monitor != nil {
		s.monitor.RegisterTarget(p)
	}

	if s.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.duration)
		defer cancel()
	}

	start := time.Now()
	if err := p.Run(ctx); err != nil {
		return result{}, err
	}

	r := result{
		Name:       name,
		Config:     cfg,
		Elapsed:    time.Since(start),
		Snapshot:   p.Snapshot(),
		Stats:      p.Stats(),
		Contention: p.Manager().Contention(),
	}

	if s.runs != nil {
		r.RunID = s.runs.Record(datarecording.Run{
			Row:        runRow(r, start),
			Events:     p.Events(),
			Status:     p.Manager().StatusSnapshot(),
			Contention: r.Contention,
			Snapshot:   r.Snapshot,
		})
	}

	s.logger.Info("run finished",
		"run", name,
		"elapsed", r.Elapsed,
		"compliance", r.Snapshot.Compliance())

	return r, nil
}

func runRow(r result, start time.Time) datarecording.RunRow {
	return datarecording.RunRow{
		Name:           r.Name,
		SyncMode:       r.Config.SyncMode.String(),
		LoadThreads:    r.Stats.LoadThreads,
		SamplingPeriod: int64(r.Config.SamplingPeriod),
		MaxSamples:     r.Config.MaxSamples,
		Seed:           int64(r.Config.Seed),
		StartedAt:      start.UnixNano(),
		Duration:       int64(r.Elapsed),
		DroppedEvents:  int64(r.Stats.DroppedEvents),
	}
}

func printSummary(w io.Writer, r result) {
	fmt.Fprintf(w, "Run %s: %s, %d load threads, %v elapsed\n",
		r.Name, r.Config.SyncMode, r.Stats.LoadThreads,
		r.Elapsed.Round(time.Millisecond))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tCOUNT\tMISSED\tMEAN\tP99\tMAX\tJITTER\tTHROUGHPUT")

	for _, stage := range model.PipelineStages {
		st, ok := r.Snapshot.Stages[stage]
		if !ok {
			continue
		}

		fmt.Fprintf(tw, "%s\t%d\t%d\t%v\t%v\t%v\t%v\t%.1f/s\n",
			stage, st.Count, st.Missed,
			st.MeanLatency, st.P99Latency, st.MaxLatency,
			st.Jitter, st.Throughput)
	}
	tw.Flush()

	fmt.Fprintf(w, "Deadline compliance: %.4f\n", r.Snapshot.Compliance())
	fmt.Fprintf(w,
		"Dropouts: %d  Saturations: %d  Recalibrations: %d  "+
			"Late feedback: %d  Dropped events: %d\n",
		r.Snapshot.Dropouts, r.Snapshot.Saturations,
		r.Snapshot.Recalibrations, r.Snapshot.LateFeedback,
		r.Stats.DroppedEvents)

	printContention(w, r.Contention)

	if r.RunID != "" {
		fmt.Fprintf(w, "Recorded as run %s\n", r.RunID)
	}
}

func printContention(
	w io.Writer,
	contention map[syncmgr.Resource]syncmgr.ContentionStats,
) {
	resources := make([]syncmgr.Resource, 0, len(contention))
	for res := range contention {
		resources = append(resources, res)
	}
	sort.Slice(resources, func(i, j int) bool {
		return resources[i] < resources[j]
	})

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RESOURCE\tACQUISITIONS\tMEAN WAIT\tMAX WAIT\tTIMEOUTS")

	for _, res := range resources {
		c := contention[res]
		fmt.Fprintf(tw, "%s\t%d\t%v\t%v\t%d\n",
			res, c.Acquisitions, c.MeanWait(), c.MaxWait, c.Timeouts)
	}
	tw.Flush()
}
