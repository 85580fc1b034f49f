package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/WessleyAI/wessley-listings/engine/sink"
)

func newComparablesCmd(g *globals) *cobra.Command {
	var (
		q    sink.ComparableQuery
		km   int
		topK int
	)
	cmd := &cobra.Command{
		Use:     "comparables",
		Short:   "Find stored listings priced and aged like a given vehicle.",
		Example: "  listings comparables --brand Toyota --year 2019 --price 9990000 --km 45000",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("km") {
				q.MileageKm = &km
			}
			store, err := sink.NewQdrant(cfg.Output.Qdrant.Addr, cfg.Output.Qdrant.Collection)
			if err != nil {
				return err
			}
			defer store.Close()

			found, err := store.Comparables(ctx, q, topK)
			if err != nil {
				return err
			}
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Title", "Dealer", "Year", "Price", "Distance"})
			for _, c := range found {
				t.AppendRow(table.Row{c.Title, c.Dealer, c.Year, fmt.Sprintf("%.0f", c.Price), fmt.Sprintf("%.4f", c.Score)})
			}
			t.SetStyle(table.StyleRounded)
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&q.Brand, "brand", "", "restrict to this brand")
	cmd.Flags().StringVar(&q.Model, "model", "", "restrict to this model")
	cmd.Flags().IntVar(&q.Year, "year", 0, "model year (required)")
	cmd.Flags().Float64Var(&q.Price, "price", 0, "asking price (required)")
	cmd.Flags().IntVar(&km, "km", 0, "mileage in kilometres")
	cmd.Flags().IntVar(&topK, "top", 10, "number of results")
	_ = cmd.MarkFlagRequired("year")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}
