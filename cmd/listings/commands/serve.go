package commands

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/WessleyAI/wessley-listings/engine/sink"
	"github.com/WessleyAI/wessley-listings/pkg/metrics"
)

// DefaultSchedule runs every six hours.
const DefaultSchedule = "0 */6 * * *"

type serveFlags struct {
	launch      launchFlags
	schedule    string
	metricsPort int
	runNow      bool
	groups      []string
}

func newServeCmd(g *globals) *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run on a cron schedule and expose metrics and the last run over HTTP.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			groups, err := parseGroups(f.groups)
			if err != nil {
				return err
			}
			spec := f.schedule
			if spec == "" {
				spec = cfg.Schedule
			}
			if spec == "" {
				spec = DefaultSchedule
			}

			latest := &sink.Latest{}
			sinks, done, err := newSinks(ctx, cfg.Output, false, g.log, sink.Named{Name: "latest", Sink: latest})
			if err != nil {
				return err
			}
			defer done.close()

			launcher, err := newLauncher(ctx, cfg, f.launch, g.log)
			if err != nil {
				return err
			}
			defer launcher.Close()

			reg := metrics.New()
			o := newOrchestrator(cfg, launcher, sinks, reg, g.log)
			job := func() {
				report := o.Run(ctx, cfg.Only(groups...))
				g.log.Info("scheduled run finished",
					"runId", report.Summary.RunID,
					"state", report.Summary.State,
					"records", report.Summary.TotalRecords,
					"errors", len(report.Summary.Errors))
			}

			logger := cronLogger{log: g.log}
			c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
			id, err := c.AddFunc(spec, job)
			if err != nil {
				return fmt.Errorf("--schedule %q: %w", spec, err)
			}
			c.Start()
			g.log.Info("scheduler started", "schedule", spec, "next", c.Entry(id).Next)
			if f.runNow {
				go c.Entry(id).WrappedJob.Run()
			}

			srv := metrics.NewServer(fmt.Sprintf(":%d", f.metricsPort), reg, g.log, map[string]http.Handler{
				"/runs/last": latest,
			})
			err = srv.Run(ctx)
			<-c.Stop().Done()
			return err
		},
	}
	addLaunchFlags(cmd, &f.launch)
	cmd.Flags().StringVar(&f.schedule, "schedule", "", "cron spec; defaults to the config schedule, then "+DefaultSchedule)
	cmd.Flags().IntVar(&f.metricsPort, "metrics-port", 9090, "port serving /metrics, /healthz and /runs/last")
	cmd.Flags().BoolVar(&f.runNow, "run-now", false, "start a run immediately instead of waiting for the first tick")
	cmd.Flags().StringSliceVarP(&f.groups, "group", "g", nil, "only run these groups (repeatable)")
	return cmd
}

// cronLogger routes scheduler logs into slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}

var _ cron.Logger = cronLogger{}
