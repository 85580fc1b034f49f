package commands

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/WessleyAI/wessley-listings/engine/classify"
)

func newClassifyCmd(g *globals) *cobra.Command {
	lf := &launchFlags{}
	cmd := &cobra.Command{
		Use:   "classify <url>",
		Short: "Fingerprint a site and show which profile and strategy it would get.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			target := args[0]
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			launcher, err := newLauncher(ctx, cfg, *lf, g.log)
			if err != nil {
				return err
			}
			defer launcher.Close()

			page, err := launcher.NewPage(ctx)
			if err != nil {
				return err
			}
			defer page.Close()
			if err := page.Navigate(ctx, target); err != nil {
				return fmt.Errorf("navigate %s: %w", target, err)
			}

			prof := cfg.Registry().Resolve(target)
			c := classify.Classify(ctx, page)
			group := prof.Group
			if classify.ShouldOverride(prof) && c.Matched() {
				group = c.Group
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendRows([]table.Row{
				{"URL", target},
				{"Profile", prof.Domain},
				{"Profile group", prof.Group},
				{"Verified", prof.Verified},
				{"Classified as", c.Group},
				{"Signals", strings.Join(c.Signals, ", ")},
				{"Strategy", group},
			})
			t.SetStyle(table.StyleRounded)
			t.Render()
			return nil
		},
	}
	addLaunchFlags(cmd, lf)
	return cmd
}
