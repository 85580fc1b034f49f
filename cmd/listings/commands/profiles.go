package commands

import (
	"github.com/spf13/cobra"
)

func newProfilesCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List the site profiles: built-ins overlaid with the configured ones.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			renderProfiles(cmd.OutOrStdout(), cfg.Registry().Profiles())
			return nil
		},
	}
}
