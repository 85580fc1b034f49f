package strategy

import (
	"context"
	"errors"

	"github.com/WessleyAI/wessley-listings/engine/browser"
	"github.com/WessleyAI/wessley-listings/engine/domain"
	"github.com/WessleyAI/wessley-listings/engine/intercept"
	"github.com/WessleyAI/wessley-listings/engine/navigate"
)

// TemplateCMS handles theme-built sites: archive loops, lazy images and
// numbered pagination.
type TemplateCMS struct{ base }

func (s *TemplateCMS) Scrape(ctx context.Context, page browser.Page, profile domain.SiteProfile, dealer domain.Dealer) ([]domain.Candidate, error) {
	if err := s.Open(ctx, page, dealer.Target()); err != nil {
		return nil, err
	}
	if !s.AwaitContent(ctx, page, profile) {
		return nil, domain.ErrNoContent
	}
	return s.scrapeLinks(ctx, page, profile, dealer, func() bool { return s.AwaitContent(ctx, page, profile) })
}

// ComponentFramework handles client-rendered apps. It listens for listing
// API responses from before navigation, waits for hydration, and exhausts
// infinite scroll and "load more" controls.
type ComponentFramework struct{ base }

var frameworkRoots = "#__next, #__nuxt, #root, #app, [data-reactroot], [ng-version]"

// hydrated holds when no framework root exists or one has children.
func hydrated(snap *snapshot) bool {
	roots := snap.doc.Find(frameworkRoots)
	return roots.Length() == 0 || roots.Children().Length() > 0
}

func (s *ComponentFramework) AwaitContent(ctx context.Context, page browser.Page, profile domain.SiteProfile) bool {
	return s.await(ctx, page, profile, hydrated)
}

func (s *ComponentFramework) Scrape(ctx context.Context, page browser.Page, profile domain.SiteProfile, dealer domain.Dealer) ([]domain.Candidate, error) {
	opts := s.env.Intercept
	opts.Logger = s.env.Logger
	capture, err := intercept.Attach(page, profile, opts)
	if err != nil {
		s.env.Logger.Warn("response capture unavailable", "dealer", dealer.Name, "err", err)
	}
	if capture != nil {
		defer capture.Detach()
	}

	if err := s.Open(ctx, page, dealer.Target()); err != nil {
		return nil, err
	}
	ready := s.AwaitContent(ctx, page, profile)

	if ready || profile.Flags.HasInfiniteScroll {
		if profile.Flags.HasInfiniteScroll {
			s.env.Nav.ScrollToExhaustion(ctx, page, s.env.MaxScrolls)
		}
		pg := s.env.Nav.DetectPagination(ctx, page, profile.Hint(domain.HintNext))
		loadMore := profile.Hint(domain.HintLoadMore)
		if loadMore == "" && pg.Kind == navigate.KindLoadMore {
			loadMore = pg.LoadMoreSelector
		}
		if loadMore != "" {
			s.env.Nav.ClickLoadMore(ctx, page, loadMore, s.env.MaxLoadMore)
		}
	}

	var api []domain.Candidate
	if capture != nil {
		api = capture.Candidates(dealer.Name, page.URL())
	}
	dom, err := s.ExtractCandidates(ctx, page, profile, dealer)
	if err != nil && !errors.Is(err, domain.ErrNoContent) {
		return nil, err
	}
	if errors.Is(err, domain.ErrNoContent) && len(api) == 0 {
		return nil, domain.ErrNoContent
	}
	merged := Merge(api, dom)
	s.env.Logger.Debug("component extraction", "dealer", dealer.Name, "api", len(api), "dom", len(dom), "merged", len(merged))
	return merged, nil
}

// CustomRendered handles bespoke server-rendered markup, present at load.
type CustomRendered struct{ base }

func (s *CustomRendered) Scrape(ctx context.Context, page browser.Page, profile domain.SiteProfile, dealer domain.Dealer) ([]domain.Candidate, error) {
	if err := s.Open(ctx, page, dealer.Target()); err != nil {
		return nil, err
	}
	if !s.AwaitContent(ctx, page, profile) {
		return nil, domain.ErrNoContent
	}
	return s.scrapeLinks(ctx, page, profile, dealer, func() bool { return s.AwaitContent(ctx, page, profile) })
}

// AggregatorPortal handles marketplace portals. Without a listing URL it
// searches through the portal's form first; it paginates by "next" links
// only.
type AggregatorPortal struct{ base }

func (s *AggregatorPortal) Scrape(ctx context.Context, page browser.Page, profile domain.SiteProfile, dealer domain.Dealer) ([]domain.Candidate, error) {
	if err := s.Open(ctx, page, dealer.Target()); err != nil {
		return nil, err
	}
	if dealer.ListingURL == "" && dealer.SearchQuery != "" {
		if err := s.search(ctx, page, profile, dealer.SearchQuery); err != nil {
			s.env.Logger.Warn("search form not submitted, extracting landing page",
				"dealer", dealer.Name, "err", err)
		}
	}
	if !s.AwaitContent(ctx, page, profile) {
		return nil, domain.ErrNoContent
	}
	return s.scrapeLinks(ctx, page, profile, dealer, func() bool { return s.AwaitContent(ctx, page, profile) })
}

func (s *AggregatorPortal) search(ctx context.Context, page browser.Page, profile domain.SiteProfile, query string) error {
	input := profile.Hint(domain.HintSearchInput)
	if input == "" {
		input = "input[type=search], input[name=q], input[name*=search], input[name*=busca]"
	}
	submit := profile.Hint(domain.HintSearchSubmit)
	if submit == "" {
		submit = "button[type=submit], input[type=submit]"
	}
	if form := profile.Hint(domain.HintSearchForm); form != "" {
		input = form + " " + input
		submit = form + " " + submit
	}
	if err := page.Fill(ctx, input, query); err != nil {
		return err
	}
	if err := page.Click(ctx, submit); err != nil {
		return err
	}
	return browser.Sleep(ctx, s.env.SubmitDelay)
}

// Special tries the component, template and custom strategies in turn and
// keeps the first that yields a candidate.
type Special struct {
	env   Env
	chain []Strategy
}

func newSpecial(env Env) *Special {
	return &Special{env: env, chain: []Strategy{
		&ComponentFramework{base: newBase(env, domain.GroupComponentFramework, componentLayout)},
		&TemplateCMS{base: newBase(env, domain.GroupTemplateCMS, templateLayout)},
		&CustomRendered{base: newBase(env, domain.GroupCustomRendered, customLayout)},
	}}
}

func (s *Special) Group() domain.TechGroup { return domain.GroupSpecial }

func (s *Special) Open(ctx context.Context, page browser.Page, url string) error {
	return s.chain[0].Open(ctx, page, url)
}

func (s *Special) AwaitContent(ctx context.Context, page browser.Page, profile domain.SiteProfile) bool {
	for _, st := range s.chain {
		if st.AwaitContent(ctx, page, profile) {
			return true
		}
	}
	return false
}

func (s *Special) ExtractCandidates(ctx context.Context, page browser.Page, profile domain.SiteProfile, dealer domain.Dealer) ([]domain.Candidate, error) {
	var lastErr error
	for _, st := range s.chain {
		cands, err := st.ExtractCandidates(ctx, page, profile, dealer)
		if err == nil && len(cands) > 0 {
			return cands, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (s *Special) Scrape(ctx context.Context, page browser.Page, profile domain.SiteProfile, dealer domain.Dealer) ([]domain.Candidate, error) {
	var lastErr error
	emptyOK := false
	for _, st := range s.chain {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		cands, err := st.Scrape(ctx, page, profile, dealer)
		if err == nil && len(cands) > 0 {
			s.env.Logger.Debug("special chain resolved", "dealer", dealer.Name, "via", st.Group(), "candidates", len(cands))
			return cands, nil
		}
		if err == nil {
			emptyOK = true
			continue
		}
		lastErr = err
		// Navigation failures will not improve with another variant.
		if errors.Is(err, domain.ErrNavigation) {
			return nil, err
		}
	}
	if emptyOK {
		return nil, nil
	}
	return nil, lastErr
}
