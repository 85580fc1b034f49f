package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/wessley-listings/engine/browser"
	"github.com/WessleyAI/wessley-listings/engine/config"
	"github.com/WessleyAI/wessley-listings/engine/domain"
	"github.com/WessleyAI/wessley-listings/engine/orchestrator"
	"github.com/WessleyAI/wessley-listings/engine/sink"
	"github.com/WessleyAI/wessley-listings/pkg/metrics"
)

// launchFlags choose how pages are loaded.
type launchFlags struct {
	static    bool
	noBypass  bool
	chromeURL string
	chromeBin string
}

func newLauncher(ctx context.Context, cfg config.File, lf launchFlags, log *slog.Logger) (browser.Launcher, error) {
	if lf.static {
		return browser.NewStatic(browser.StaticOptions{DisableBypass: lf.noBypass, Logger: log}), nil
	}
	headless := true
	if cfg.Options.Headless != nil {
		headless = *cfg.Options.Headless
	}
	r, err := browser.NewRod(ctx, browser.RodOptions{
		Headless:   headless,
		Bin:        lf.chromeBin,
		ControlURL: lf.chromeURL,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// closers releases sink connections in reverse order of opening.
type closers []func()

func (c closers) close() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// newSinks builds one sink per configured output. dryRun keeps only the
// artifact. extra sinks are appended as given.
func newSinks(ctx context.Context, out config.Output, dryRun bool, log *slog.Logger, extra ...sink.Named) (sink.Multi, closers, error) {
	var (
		m    sink.Multi
		done closers
	)
	if out.ArtifactDir != "" {
		m = append(m, sink.Named{Name: "artifact", Sink: sink.NewArtifact(out.ArtifactDir, true)})
	}
	if dryRun {
		return append(m, extra...), done, nil
	}

	if out.NATS.URL != "" {
		nc, err := nats.Connect(out.NATS.URL, nats.Name("listings"))
		if err != nil {
			return nil, done, fmt.Errorf("nats connect: %w", err)
		}
		done = append(done, nc.Close)
		m = append(m, sink.Named{Name: "nats", Sink: sink.NewNATS(nc, out.NATS.Prefix)})
	}

	if out.Neo4j.URI != "" {
		driver, err := sink.ConnectNeo4j(ctx, out.Neo4j.URI, out.Neo4j.User, out.Neo4j.Password)
		if err != nil {
			done.close()
			return nil, nil, err
		}
		done = append(done, func() {
			if err := driver.Close(context.Background()); err != nil {
				log.Warn("neo4j close", "error", err)
			}
		})
		m = append(m, sink.Named{Name: "neo4j", Sink: sink.NewNeo4j(driver, out.Neo4j.Database, log)})
	}

	if out.Qdrant.Addr != "" {
		q, err := newQdrant(ctx, out.Qdrant)
		if err != nil {
			done.close()
			return nil, nil, err
		}
		done = append(done, func() { _ = q.Close() })
		m = append(m, sink.Named{Name: "qdrant", Sink: q})
	}
	return append(m, extra...), done, nil
}

func newQdrant(ctx context.Context, c config.Qdrant) (*sink.Qdrant, error) {
	if c.Addr == "" {
		return nil, errors.New("qdrant: no address configured")
	}
	q, err := sink.NewQdrant(c.Addr, c.Collection)
	if err != nil {
		return nil, err
	}
	if err := q.EnsureCollection(ctx); err != nil {
		_ = q.Close()
		return nil, err
	}
	return q, nil
}

func newOrchestrator(cfg config.File, l browser.Launcher, s sink.Sink, reg *metrics.Registry, log *slog.Logger) *orchestrator.Orchestrator {
	return orchestrator.New(orchestrator.Deps{
		Registry: cfg.Registry(),
		Launcher: l,
		Sink:     s,
		Metrics:  reg,
		Logger:   log,
		Classify: cfg.Options.Classify,
	}, cfg.RunOptions())
}

// parseGroups canonicalizes --group values.
func parseGroups(names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	for _, name := range names {
		g, err := domain.ParseTechGroup(name)
		if err != nil {
			return nil, fmt.Errorf("--group: %w", err)
		}
		out = append(out, string(g))
	}
	return out, nil
}
