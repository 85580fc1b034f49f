package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/WessleyAI/wessley-listings/engine/browser"
	"github.com/WessleyAI/wessley-listings/engine/classify"
	"github.com/WessleyAI/wessley-listings/engine/domain"
	"github.com/WessleyAI/wessley-listings/engine/filter"
	"github.com/WessleyAI/wessley-listings/engine/normalize"
	"github.com/WessleyAI/wessley-listings/engine/strategy"
)

func (o *Orchestrator) newResult(g domain.TechGroup, d domain.Dealer) domain.DealerResult {
	return domain.DealerResult{
		DealerID:   d.Key(),
		DealerName: d.Name,
		SourceURL:  d.Target(),
		Group:      g,
		Records:    []domain.Record{},
		Errors:     []string{},
	}
}

// scrapeDealer runs the whole per-dealer flow in its own browser context.
// Every failure, panics included, ends up in the result's Errors with zero
// records.
func (o *Orchestrator) scrapeDealer(parent context.Context, g domain.TechGroup, d domain.Dealer, log *slog.Logger) (res domain.DealerResult) {
	start := o.now()
	res = o.newResult(g, d)
	log = log.With("dealer", d.Name)

	// Run cancellation stops dispatch, not dealers already started.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), o.opts.DealerTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "orchestrator.dealer", trace.WithAttributes(
		attribute.String("group", string(g)),
		attribute.String("dealer", d.Name),
		attribute.String("url", d.Target()),
	))
	defer span.End()

	fail := func(err error) {
		derr := domain.NewDealerError(d.Name, g, err)
		span.RecordError(derr)
		span.SetStatus(codes.Error, derr.Error())
		log.Warn("dealer failed", "err", err)
		res.Records = []domain.Record{}
		res.Errors = append(res.Errors, derr.Error())
	}
	defer func() {
		if v := recover(); v != nil {
			fail(&domain.PanicError{Value: v})
		}
		res.Duration = o.now().Sub(start)
	}()

	records, err := o.extract(ctx, g, d, &res, log)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", o.opts.DealerTimeout, err)
		}
		fail(err)
		return res
	}
	res.Records = records
	span.SetAttributes(attribute.Int("candidates", res.CandidateCount), attribute.Int("records", len(records)))
	log.Info("dealer scraped", "candidates", res.CandidateCount, "records", len(records), "via", res.ClassifiedAs)
	return res
}

// extract opens a page, picks the strategy, scrapes, normalizes and filters.
func (o *Orchestrator) extract(ctx context.Context, g domain.TechGroup, d domain.Dealer, res *domain.DealerResult, log *slog.Logger) ([]domain.Record, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	page, err := o.deps.Launcher.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			log.Debug("page close", "err", cerr)
		}
	}()

	prof := o.deps.Registry.Resolve(d.Target())
	group := g
	if prof.Verified && !prof.Generic && prof.Group.Valid() {
		group = prof.Group
	}
	if o.deps.Classify && classify.ShouldOverride(prof) {
		if cl, ok := o.fingerprint(ctx, page, d.Target(), log); ok {
			group = cl.Group
		}
	}
	res.ClassifiedAs = group

	cands, err := strategy.For(group, o.deps.Env).Scrape(ctx, page, prof, d)
	if err != nil {
		return nil, err
	}
	res.CandidateCount = len(cands)
	recs, err := normalize.Records(ctx, cands)
	if err != nil {
		return nil, err
	}
	records := filter.Apply(recs, o.opts.Filters.Merge(d.Filters))
	if records == nil {
		records = []domain.Record{}
	}
	return records, nil
}

// fingerprint loads the page once and fingerprints it. ok is false when the
// page did not load or no probe matched.
func (o *Orchestrator) fingerprint(ctx context.Context, page browser.Page, url string, log *slog.Logger) (classify.Classification, bool) {
	err := page.Navigate(ctx, url)
	if err != nil && !errors.Is(err, browser.ErrSettleTimeout) {
		log.Debug("classification skipped, page did not load", "err", err)
		return classify.Classification{}, false
	}
	cl := classify.Classify(ctx, page)
	log.Debug("classified", "group", cl.Group, "signals", cl.Signals)
	return cl, cl.Matched()
}
