package commands

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/WessleyAI/wessley-listings/engine/sink"
	"github.com/WessleyAI/wessley-listings/pkg/natsutil"
)

func newWatchCmd(g *globals) *cobra.Command {
	var url, prefix string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print records and run summaries as they are published on NATS.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if url == "" {
				url = cfg.Output.NATS.URL
			}
			if url == "" {
				url = nats.DefaultURL
			}
			if prefix == "" {
				prefix = cfg.Output.NATS.Prefix
			}
			nc, err := nats.Connect(url, nats.Name("listings-watch"))
			if err != nil {
				return fmt.Errorf("nats connect: %w", err)
			}
			defer nc.Close()

			n := sink.NewNATS(nc, prefix)
			subs, err := watch(nc, n, &lockedPrinter{w: cmd.OutOrStdout()}, g)
			if err != nil {
				return err
			}
			for _, s := range subs {
				defer s.Unsubscribe()
			}
			g.log.Info("watching", "url", url, "prefix", n.Prefix)
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "nats-url", "", "NATS server; defaults to output.nats.url")
	cmd.Flags().StringVar(&prefix, "prefix", "", "subject prefix; defaults to output.nats.prefix")
	return cmd
}

func watch(nc *nats.Conn, n *sink.NATS, p *lockedPrinter, g *globals) ([]*nats.Subscription, error) {
	records, err := natsutil.Subscribe(nc, natsutil.Subject(n.Prefix, "records")+".*", g.log,
		func(_ context.Context, m sink.ListingMessage) {
			r := m.Record
			price := "-"
			if r.PriceAmount != nil {
				price = fmt.Sprintf("%.0f %s", *r.PriceAmount, r.PriceCurrencyGuess)
			}
			p.printf("%s  %-20s  %-40s  %s\n", shortID(m.RunID), m.Group, r.Title, price)
		})
	if err != nil {
		return nil, err
	}
	runs, err := natsutil.Subscribe(nc, n.RunsSubject(), g.log, func(_ context.Context, m sink.RunMessage) {
		p.mu.Lock()
		defer p.mu.Unlock()
		renderSummary(p.w, m.Summary)
	})
	if err != nil {
		_ = records.Unsubscribe()
		return nil, err
	}
	return []*nats.Subscription{records, runs}, nil
}

// lockedPrinter serializes output from concurrent subscriptions.
type lockedPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *lockedPrinter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}
