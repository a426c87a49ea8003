package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	localset "github.com/Swind/go-localset"
	"github.com/Swind/go-localset/core"
	"github.com/Swind/go-localset/internal/config"
	"github.com/Swind/go-localset/internal/workload"
	obs "github.com/Swind/go-localset/observability/prometheus"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a synthetic workload on a LocalSet",
	Long: `Spawn batches of local tasks, each with a chain of nested SpawnLocal
children, and drive every batch with one BlockOn on the configured host.

With --host multi_thread, every leaf task also awaits a send task spawned on
the runtime's workers, so wakes cross goroutines.`,
	RunE: runWorkload,
}

var (
	runOutput string        // Output format: text or yaml
	runHold   time.Duration // Keep the metrics server up after the run
)

func init() {
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "text", "output format: text or yaml")
	runCmd.Flags().DurationVar(&runHold, "hold", 0, "keep serving metrics for this long after the run")
	runCmd.Flags().Int("batches", 0, "number of BlockOn calls")
	runCmd.Flags().Int("tasks", 0, "local tasks per batch")
	runCmd.Flags().Int("depth", 0, "nested SpawnLocal levels per task")
	runCmd.Flags().Int("sleep-ms", 0, "milliseconds each leaf sleeps on the host")
	runCmd.Flags().String("host", "", "host runtime: current_thread or multi_thread")
	runCmd.Flags().Int("workers", 0, "workers of the multi_thread host")
	runCmd.Flags().Int("max-tasks-per-tick", 0, "tasks polled per tick")
	runCmd.Flags().Bool("wait-for-wake", false, "re-poll only when local work is queued or a wake arrives")
	runCmd.Flags().Bool("metrics", false, "serve Prometheus metrics while running")
	runCmd.Flags().String("metrics-addr", "", "metrics listen address")

	for flag, key := range map[string]string{
		"batches":            "workload.batches",
		"tasks":              "workload.tasks",
		"depth":              "workload.depth",
		"sleep-ms":           "workload.sleep_ms",
		"host":               "runtime.host",
		"workers":            "runtime.workers",
		"max-tasks-per-tick": "localset.max_tasks_per_tick",
		"wait-for-wake":      "localset.wait_for_wake",
		"metrics":            "metrics.enabled",
		"metrics-addr":       "metrics.addr",
	} {
		_ = viper.BindPFlag(key, runCmd.Flags().Lookup(flag))
	}

	rootCmd.AddCommand(runCmd)
}

func runWorkload(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if runOutput != "text" && runOutput != "yaml" {
		return fmt.Errorf("unknown output format %q (want text or yaml)", runOutput)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := core.NewJSONLogger(cmd.ErrOrStderr(), cfg.Logging.Level)
	report, err := execute(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if runOutput == "yaml" {
		return printReportYAML(cmd.OutOrStdout(), report)
	}
	printReportText(cmd.OutOrStdout(), report)
	return nil
}

// execute wires the LocalSet, the host runtime and optional metrics from
// cfg and runs the workload.
func execute(ctx context.Context, cfg *config.Config, logger core.Logger) (workload.Report, error) {
	setCfg := cfg.LocalSet.ToCore()
	setCfg.Logger = logger
	schedCfg := core.DefaultTaskSchedulerConfig()
	schedCfg.Logger = logger

	var (
		poller   *obs.SnapshotPoller
		reg      *prom.Registry
		exporter *obs.MetricsExporter
	)
	if cfg.Metrics.Enabled {
		var err error
		reg = prom.NewRegistry()
		if exporter, err = obs.NewMetricsExporter("localset", reg, obs.ExporterOptions{}); err != nil {
			return workload.Report{}, fmt.Errorf("metrics exporter: %w", err)
		}
		if poller, err = obs.NewSnapshotPoller(reg, cfg.Metrics.PollInterval()); err != nil {
			return workload.Report{}, fmt.Errorf("snapshot poller: %w", err)
		}
		setCfg.Metrics = exporter
		schedCfg.Metrics = exporter
	}

	ls := localset.NewLocalSetWithConfig(setCfg)
	defer ls.Close()

	if reg != nil {
		shutdown := serveStatus(cfg.Metrics.Addr, newStatusRouter(reg, ls, time.Now()), logger)
		defer shutdown()
	}

	var host core.Sleeper
	switch cfg.Runtime.Host {
	case config.HostMultiThread:
		rt := localset.NewRuntimeWithConfig("cli-runtime", cfg.Runtime.Workers, schedCfg)
		rt.Start(ctx)
		defer rt.Stop()
		if poller != nil {
			poller.AddRuntime(rt.Name(), rt)
		}
		host = rt
	default:
		ct := core.NewCurrentThread()
		defer ct.Shutdown()
		host = ct
	}

	if poller != nil {
		poller.AddLocalSet(ls.Name(), ls)
		poller.Start(ctx)
		defer poller.Stop()
	}

	logger.Info("workload starting",
		core.F("localset", ls.Name()),
		core.F("host", cfg.Runtime.Host),
		core.F("batches", cfg.Workload.Batches),
		core.F("tasks", cfg.Workload.Tasks),
		core.F("depth", cfg.Workload.Depth))

	report, err := workload.Run(ctx, ls, host, workload.Options{
		Batches: cfg.Workload.Batches,
		Tasks:   cfg.Workload.Tasks,
		Depth:   cfg.Workload.Depth,
		Sleep:   cfg.Workload.Sleep(),
	})
	if err != nil {
		return report, err
	}
	logger.Info("workload finished",
		core.F("elapsed", report.Elapsed.String()),
		core.F("ticks", report.Ticks))

	if cfg.Metrics.Enabled && runHold > 0 {
		logger.Info("holding metrics endpoint", core.F("addr", cfg.Metrics.Addr), core.F("for", runHold.String()))
		select {
		case <-time.After(runHold):
		case <-ctx.Done():
		}
	}
	return report, nil
}

func printReportText(w io.Writer, r workload.Report) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "LOCALSET RUN")
	fmt.Fprintln(w, strings.Repeat("─", 40))
	fmt.Fprintf(w, "LocalSet:        %s\n", r.LocalSet)
	fmt.Fprintf(w, "Host:            %s\n", r.Host)
	fmt.Fprintf(w, "Batches:         %d\n", r.Batches)
	fmt.Fprintf(w, "Tasks spawned:   %d\n", r.Spawned)
	fmt.Fprintf(w, "Checksum:        %d\n", r.Checksum)
	fmt.Fprintf(w, "Elapsed:         %s\n", r.Elapsed)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "SCHEDULER")
	fmt.Fprintln(w, strings.Repeat("─", 40))
	fmt.Fprintf(w, "Ticks:           %d\n", r.Ticks)
	fmt.Fprintf(w, "Polls:           %d\n", r.Polled)
	fmt.Fprintf(w, "Completed:       %d\n", r.Completed)
	fmt.Fprintf(w, "Panicked:        %d\n", r.Panicked)
	fmt.Fprintf(w, "Max tick size:   %d\n", r.MaxTickPolled)
	if r.Shared > 0 {
		fmt.Fprintf(w, "Send tasks:      %d\n", r.Shared)
	}
}

func printReportYAML(w io.Writer, r workload.Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return enc.Close()
}
