// Package strategy holds one extraction strategy per technology group. Every
// strategy opens a dealer page, waits for listing content and turns it into
// candidates; they differ in how they wait, where they look and how they
// reach further pages.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/WessleyAI/wessley-listings/engine/browser"
	"github.com/WessleyAI/wessley-listings/engine/domain"
	"github.com/WessleyAI/wessley-listings/engine/intercept"
	"github.com/WessleyAI/wessley-listings/engine/navigate"
	"github.com/WessleyAI/wessley-listings/pkg/fn"
)

// Strategy is the contract every group variant implements.
type Strategy interface {
	Group() domain.TechGroup
	// Open navigates and waits for the page to settle. A settle timeout is
	// not an error: extraction continues with whatever loaded.
	Open(ctx context.Context, page browser.Page, url string) error
	// AwaitContent polls for a non-empty listing container.
	AwaitContent(ctx context.Context, page browser.Page, profile domain.SiteProfile) bool
	// ExtractCandidates reads candidates from the current document.
	ExtractCandidates(ctx context.Context, page browser.Page, profile domain.SiteProfile, dealer domain.Dealer) ([]domain.Candidate, error)
	// Scrape runs the full flow for one dealer: open, wait, navigate
	// further pages and extract.
	Scrape(ctx context.Context, page browser.Page, profile domain.SiteProfile, dealer domain.Dealer) ([]domain.Candidate, error)
}

// Env carries the tuning and collaborators shared by all strategies.
type Env struct {
	Nav           *navigate.Controller
	Logger        *slog.Logger
	AwaitAttempts int
	AwaitInterval time.Duration
	// MaxPages bounds link pagination, including the first page.
	MaxPages    int
	MaxScrolls  int
	MaxLoadMore int
	// SubmitDelay is the wait after submitting a search form.
	SubmitDelay time.Duration
	Retry       fn.RetryOpts
	Intercept   intercept.Options
	Now         func() time.Time
}

// DefaultEnv returns the stock tuning.
func DefaultEnv(log *slog.Logger) Env {
	if log == nil {
		log = slog.Default()
	}
	return Env{
		Nav:           navigate.New(log),
		Logger:        log,
		AwaitAttempts: 5,
		AwaitInterval: 750 * time.Millisecond,
		MaxPages:      5,
		MaxScrolls:    15,
		MaxLoadMore:   10,
		SubmitDelay:   2 * time.Second,
		Retry:         fn.RetryOpts{MaxAttempts: 2, InitialWait: time.Second, MaxWait: 5 * time.Second},
		Now:           time.Now,
	}
}

func (e Env) withDefaults() Env {
	d := DefaultEnv(e.Logger)
	if e.Nav == nil {
		e.Nav = d.Nav
	}
	if e.Logger == nil {
		e.Logger = d.Logger
	}
	if e.AwaitAttempts <= 0 {
		e.AwaitAttempts = d.AwaitAttempts
	}
	if e.MaxPages <= 0 {
		e.MaxPages = d.MaxPages
	}
	if e.MaxScrolls <= 0 {
		e.MaxScrolls = d.MaxScrolls
	}
	if e.MaxLoadMore <= 0 {
		e.MaxLoadMore = d.MaxLoadMore
	}
	if e.Retry.MaxAttempts <= 0 {
		e.Retry = d.Retry
	}
	if e.Retry.Retryable == nil {
		e.Retry.Retryable = retryableNavigation
	}
	if e.Now == nil {
		e.Now = time.Now
	}
	return e
}

// retryableNavigation rejects failures another attempt cannot fix.
func retryableNavigation(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// For returns the strategy of a group. The switch is exhaustive over the
// known groups; an unknown group falls back to the special chain.
func For(g domain.TechGroup, env Env) Strategy {
	env = env.withDefaults()
	switch g {
	case domain.GroupTemplateCMS:
		return &TemplateCMS{base: newBase(env, g, templateLayout)}
	case domain.GroupComponentFramework:
		return &ComponentFramework{base: newBase(env, g, componentLayout)}
	case domain.GroupCustomRendered:
		return &CustomRendered{base: newBase(env, g, customLayout)}
	case domain.GroupAggregatorPortal:
		return &AggregatorPortal{base: newBase(env, g, aggregatorLayout)}
	case domain.GroupSpecial:
		return newSpecial(env)
	default:
		env.Logger.Warn("unknown group, using special chain", "group", g)
		return newSpecial(env)
	}
}

// base implements the parts shared by every variant.
type base struct {
	env    Env
	group  domain.TechGroup
	layout layout
}

func newBase(env Env, g domain.TechGroup, l layout) base {
	return base{env: env, group: g, layout: l}
}

func (b *base) Group() domain.TechGroup { return b.group }

func (b *base) Open(ctx context.Context, page browser.Page, url string) error {
	res := fn.Retry(ctx, b.env.Retry, func(ctx context.Context) fn.Result[struct{}] {
		err := page.Navigate(ctx, url)
		if err == nil || errors.Is(err, browser.ErrSettleTimeout) {
			if err != nil {
				b.env.Logger.Warn("page did not settle, extracting what loaded", "group", b.group, "url", url)
			}
			return fn.Ok(struct{}{})
		}
		return fn.Err[struct{}](err)
	})
	if _, err := res.Unwrap(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, domain.ErrNavigation) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", domain.ErrNavigation, url, err)
	}
	return nil
}

func (b *base) AwaitContent(ctx context.Context, page browser.Page, profile domain.SiteProfile) bool {
	return b.await(ctx, page, profile, nil)
}

// await polls until the layout finds a container and extra (if set) holds.
func (b *base) await(ctx context.Context, page browser.Page, profile domain.SiteProfile, extra func(*snapshot) bool) bool {
	for attempt := 0; attempt < b.env.AwaitAttempts; attempt++ {
		if attempt > 0 && browser.Sleep(ctx, b.env.AwaitInterval) != nil {
			return false
		}
		snap, err := takeSnapshot(ctx, page)
		if err != nil {
			b.env.Logger.Debug("snapshot failed", "url", page.URL(), "err", err)
			continue
		}
		if _, ok := b.layout.container(snap.doc, profile); ok && (extra == nil || extra(snap)) {
			return true
		}
	}
	return false
}

func (b *base) ExtractCandidates(ctx context.Context, page browser.Page, profile domain.SiteProfile, dealer domain.Dealer) ([]domain.Candidate, error) {
	snap, err := takeSnapshot(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	cands, found := b.layout.extract(snap, profile, dealer.Name, b.env.Now())
	if !found {
		return nil, domain.ErrNoContent
	}
	return cands, nil
}

// maxPages is the dealer override or the env bound.
func (b *base) maxPages(d domain.Dealer) int {
	if d.MaxPages > 0 {
		return d.MaxPages
	}
	return b.env.MaxPages
}

// scrapeLinks extracts the current page and follows "next" links up to the
// page bound, skipping URLs already visited.
func (b *base) scrapeLinks(ctx context.Context, page browser.Page, profile domain.SiteProfile, dealer domain.Dealer, awaitFn func() bool) ([]domain.Candidate, error) {
	all, err := b.ExtractCandidates(ctx, page, profile, dealer)
	if err != nil {
		return nil, err
	}
	visited := map[string]bool{page.URL(): true}
	limit := b.maxPages(dealer)
	for pageNo := 2; pageNo <= limit; pageNo++ {
		if ctx.Err() != nil {
			break
		}
		pg := b.env.Nav.DetectPagination(ctx, page, profile.Hint(domain.HintNext))
		if pg.Kind != navigate.KindLinks || visited[pg.NextURL] {
			break
		}
		visited[pg.NextURL] = true
		if err := b.Open(ctx, page, pg.NextURL); err != nil {
			b.env.Logger.Warn("pagination stopped", "dealer", dealer.Name, "url", pg.NextURL, "err", err)
			break
		}
		if !awaitFn() {
			break
		}
		more, err := b.ExtractCandidates(ctx, page, profile, dealer)
		if err != nil {
			break
		}
		b.env.Logger.Debug("page extracted", "dealer", dealer.Name, "page", pageNo, "candidates", len(more))
		all = append(all, more...)
	}
	return reindex(dedupe(all)), nil
}
