package cmd

import (
	"bytes"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rtloop/config"
	"github.com/sarchlab/rtloop/model"
	"github.com/sarchlab/rtloop/pipeline"
	"github.com/sarchlab/rtloop/syncmgr"
	"github.com/sarchlab/rtloop/telemetry"
)

var _ = Describe("Flags", func() {
	It("should name one flag per option", func() {
		Expect(flagName("sampling_period_ms")).To(Equal("sampling-period-ms"))

		for _, name := range config.OptionNames() {
			Expect(rootCmd.PersistentFlags().Lookup(flagName(name))).
				NotTo(BeNil(), name)
		}
	})
})

var _ = Describe("Sweep", func() {
	It("should derive one configuration per level", func() {
		base := config.Default()
		base.MaxSamples = 10

		configs, err := sweepConfigs(base, []int{0, 4, 20})

		Expect(err).NotTo(HaveOccurred())
		Expect(configs).To(HaveLen(3))
		Expect(configs[1].BackgroundLoadThreads).To(Equal(4))
		Expect(configs[2].MaxSamples).To(Equal(10))
	})

	It("should reject an unsupported level", func() {
		_, err := sweepConfigs(config.Default(), []int{0, 3})

		Expect(err).To(MatchError(config.ErrFatalConfiguration))
	})

	It("should print one comparison row per run", func() {
		var buf bytes.Buffer

		printComparison(&buf, []result{
			{Stats: pipeline.Stats{LoadThreads: 0, Processed: 30}},
			{
				Stats: pipeline.Stats{LoadThreads: 20, Processed: 30},
				Contention: map[syncmgr.Resource]syncmgr.ContentionStats{
					syncmgr.ResourceLog: {MaxWait: 3 * time.Millisecond},
				},
			},
		})

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		Expect(lines).To(HaveLen(3))
		Expect(lines[0]).To(HavePrefix("LOAD"))
		Expect(lines[2]).To(HavePrefix("20"))
		Expect(lines[2]).To(HaveSuffix("3ms"))
	})
})

var _ = Describe("Summary", func() {
	It("should print stages in pipeline order", func() {
		var buf bytes.Buffer

		printSummary(&buf, result{
			Name:   "Pipeline",
			Config: config.Default(),
			Snapshot: telemetry.Snapshot{
				Stages: map[model.Stage]telemetry.StageSnapshot{
					model.StageControl: {Stage: model.StageControl, Count: 4},
					model.StageSensor:  {Stage: model.StageSensor, Count: 4},
				},
			},
			RunID: "abc",
		})

		out := buf.String()
		Expect(strings.Index(out, "sensor")).
			To(BeNumerically("<", strings.Index(out, "control")))
		Expect(out).To(ContainSubstring("Deadline compliance: 1.0000"))
		Expect(out).To(ContainSubstring("Recorded as run abc"))
	})
})

var _ = Describe("Run command", func() {
	It("should run a short pipeline and print its summary", func() {
		var out, errOut bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetErr(&errOut)
		rootCmd.SetArgs([]string{
			"run",
			"--log-level", "warn",
			"--sampling-period-ms", "1",
			"--max-samples", "5",
			"--actuator-cost-us", "10",
		})
		DeferCleanup(func() {
			rootCmd.SetArgs(nil)
			rootCmd.SetOut(nil)
			rootCmd.SetErr(nil)
		})

		Expect(Execute()).To(Equal(0), errOut.String())
		Expect(out.String()).To(ContainSubstring("Run Pipeline: LockFree"))
		Expect(out.String()).To(ContainSubstring("Deadline compliance"))
	})
})
