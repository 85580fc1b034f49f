package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/WessleyAI/wessley-listings/engine/orchestrator"
	"github.com/WessleyAI/wessley-listings/engine/sink"
)

type runFlags struct {
	launch      launchFlags
	dryRun      bool
	groups      []string
	artifactDir string
	asJSON      bool
}

func newRunCmd(g *globals) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scrape every configured dealer once and persist the run.",
		Example: `  listings run --group template-cms
  listings run --static --dry-run --json > run.json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if f.artifactDir != "" {
				cfg.Output.ArtifactDir = f.artifactDir
			}
			groups, err := parseGroups(f.groups)
			if err != nil {
				return err
			}

			sinks, done, err := newSinks(ctx, cfg.Output, f.dryRun, g.log)
			if err != nil {
				return err
			}
			defer done.close()

			launcher, err := newLauncher(ctx, cfg, f.launch, g.log)
			if err != nil {
				return err
			}
			defer launcher.Close()

			report := newOrchestrator(cfg, launcher, sinks, nil, g.log).Run(ctx, cfg.Only(groups...))
			if p := artifactPath(sinks); p != "" {
				g.log.Info("artifact written", "path", p)
			}

			out := cmd.OutOrStdout()
			if f.asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				renderSummary(out, report.Summary)
			}
			if report.Summary.State == string(orchestrator.StateFatallyAborted) {
				return fmt.Errorf("run %s aborted", report.Summary.RunID)
			}
			return nil
		},
	}
	addLaunchFlags(cmd, &f.launch)
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "write the artifact only, skip NATS, Neo4j and Qdrant")
	cmd.Flags().StringSliceVarP(&f.groups, "group", "g", nil, "only run these groups (repeatable)")
	cmd.Flags().StringVar(&f.artifactDir, "artifact-dir", "", "override output.artifactDir")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print the full run report as JSON instead of a table")
	return cmd
}

func addLaunchFlags(cmd *cobra.Command, lf *launchFlags) {
	cmd.Flags().BoolVar(&lf.static, "static", false, "fetch pages over plain HTTP instead of a browser")
	cmd.Flags().BoolVar(&lf.noBypass, "no-bypass", false, "with --static, send requests without the Cloudflare transport")
	cmd.Flags().StringVar(&lf.chromeURL, "chrome-url", "", "DevTools URL of a running browser to attach to")
	cmd.Flags().StringVar(&lf.chromeBin, "chrome-bin", "", "browser binary to launch")
}

func artifactPath(m sink.Multi) string {
	for _, n := range m {
		if a, ok := n.Sink.(*sink.Artifact); ok {
			return a.Path()
		}
	}
	return ""
}
