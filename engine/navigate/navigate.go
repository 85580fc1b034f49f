// Package navigate detects and traverses pagination, infinite scroll and
// "load more" controls.
package navigate

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/WessleyAI/wessley-listings/engine/browser"
)

// Kind is the pagination style of a page.
type Kind string

const (
	KindLinks    Kind = "links"
	KindLoadMore Kind = "load-more"
	KindNone     Kind = "none"
)

// Pagination describes how to reach more results.
type Pagination struct {
	Kind    Kind
	NextURL string
	// LoadMoreSelector is set when Kind is KindLoadMore.
	LoadMoreSelector string
}

var paginationContainers = []string{
	".pagination",
	"nav.pagination",
	".pager",
	".paginacion",
	".page-numbers",
	"[class*=pagination]",
	"nav[aria-label*=agina]",
	"nav[aria-label*=agination]",
	"body",
}

var nextSelectors = []string{
	"a.next",
	"a[rel=next]",
	"a[aria-label*=Next]",
	"a[aria-label*=next]",
	"a[aria-label*=Siguiente]",
	"a[aria-label*=siguiente]",
}

var nextTexts = []string{"siguiente", "next", "›", "»", "próxima", "proxima"}

var loadMoreSelectors = []string{
	".load-more",
	"button.load-more",
	"[class*=load-more]",
	"[class*=loadMore]",
	"[data-testid*=load-more]",
}

var loadMoreTexts = []string{"ver más", "cargar más", "mostrar más", "load more", "show more", "ver mas", "cargar mas"}

// Controller drives navigation on a page.
type Controller struct {
	// ScrollDelay is the wait after each scroll before measuring height.
	ScrollDelay time.Duration
	// ClickDelay is the wait after each load-more click.
	ClickDelay time.Duration
	Logger     *slog.Logger
}

// New returns a controller with the stock delays.
func New(log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{ScrollDelay: 1500 * time.Millisecond, ClickDelay: 1500 * time.Millisecond, Logger: log}
}

// DetectPagination inspects the current document. hint, when non-empty, is
// tried as the next-link selector before the built-in patterns.
func (c *Controller) DetectPagination(ctx context.Context, page browser.Page, hint string) Pagination {
	doc, err := browser.Snapshot(ctx, page)
	if err != nil {
		return Pagination{Kind: KindNone}
	}
	return Detect(doc, page.URL(), hint)
}

// Detect finds a next link, else a load-more control, in doc.
func Detect(doc *goquery.Document, base, hint string) Pagination {
	if hint != "" {
		if href := hrefOf(doc.Find(hint).First()); href != "" {
			if abs := Resolve(base, href); abs != "" {
				return Pagination{Kind: KindLinks, NextURL: abs}
			}
		}
	}
	for _, csel := range paginationContainers {
		container := doc.Find(csel).First()
		if container.Length() == 0 {
			continue
		}
		if next := findNext(container); next != "" {
			if abs := Resolve(base, next); abs != "" && abs != base {
				return Pagination{Kind: KindLinks, NextURL: abs}
			}
		}
		if csel != "body" {
			// Only the first matching container is inspected.
			break
		}
	}
	if href := hrefOf(doc.Find("link[rel=next]").First()); href != "" {
		if abs := Resolve(base, href); abs != "" {
			return Pagination{Kind: KindLinks, NextURL: abs}
		}
	}
	if sel := findLoadMore(doc); sel != "" {
		return Pagination{Kind: KindLoadMore, LoadMoreSelector: sel}
	}
	return Pagination{Kind: KindNone}
}

func findNext(container *goquery.Selection) string {
	for _, sel := range nextSelectors {
		if href := hrefOf(container.Find(sel).First()); href != "" {
			return href
		}
	}
	var found string
	container.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		text := strings.ToLower(strings.TrimSpace(a.Text()))
		for _, t := range nextTexts {
			if text == t || strings.HasPrefix(text, t+" ") || strings.HasSuffix(text, " "+t) {
				found = hrefOf(a)
				return false
			}
		}
		return true
	})
	return found
}

func findLoadMore(doc *goquery.Document) string {
	for _, sel := range loadMoreSelectors {
		if doc.Find(sel).Length() > 0 {
			return sel
		}
	}
	var found string
	doc.Find("button, a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.ToLower(strings.Join(strings.Fields(s.Text()), " "))
		for _, t := range loadMoreTexts {
			if strings.Contains(text, t) {
				found = selectorFor(s)
				return false
			}
		}
		return true
	})
	return found
}

// selectorFor builds a selector for a load-more element found by text.
func selectorFor(s *goquery.Selection) string {
	tag := goquery.NodeName(s)
	if id, ok := s.Attr("id"); ok && id != "" {
		return tag + "#" + id
	}
	if cls := strings.Fields(s.AttrOr("class", "")); len(cls) > 0 {
		return tag + "." + strings.Join(cls, ".")
	}
	return tag
}

func hrefOf(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	href := strings.TrimSpace(s.AttrOr("href", ""))
	if href == "" || href == "#" || strings.HasPrefix(href, "javascript:") {
		return ""
	}
	return href
}

// Resolve makes ref absolute against base. It returns "" for refs that do
// not resolve to http(s).
func Resolve(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if b, err := url.Parse(base); err == nil {
		r = b.ResolveReference(r)
	}
	if r.Scheme != "http" && r.Scheme != "https" {
		return ""
	}
	r.Fragment = ""
	return r.String()
}

// ScrollToExhaustion scrolls until the page height fails to grow on two
// consecutive iterations or maxIterations is reached, and returns the
// number of iterations performed.
func (c *Controller) ScrollToExhaustion(ctx context.Context, page browser.Page, maxIterations int) int {
	if maxIterations <= 0 {
		return 0
	}
	last, err := page.ScrollHeight(ctx)
	if err != nil {
		return 0
	}
	stable, iterations := 0, 0
	for iterations < maxIterations {
		if ctx.Err() != nil {
			break
		}
		iterations++
		if err := page.ScrollToBottom(ctx); err != nil {
			c.Logger.Debug("scroll failed", "url", page.URL(), "err", err)
			break
		}
		if browser.Sleep(ctx, c.ScrollDelay) != nil {
			break
		}
		h, err := page.ScrollHeight(ctx)
		if err != nil {
			break
		}
		if h > last {
			stable = 0
			last = h
			continue
		}
		stable++
		if stable >= 2 {
			break
		}
	}
	c.Logger.Debug("scroll exhausted", "url", page.URL(), "iterations", iterations, "height", last)
	return iterations
}

// ClickLoadMore clicks selector until it disappears, a click fails or
// maxClicks is reached, and returns the number of successful clicks.
func (c *Controller) ClickLoadMore(ctx context.Context, page browser.Page, selector string, maxClicks int) int {
	clicks := 0
	for clicks < maxClicks && ctx.Err() == nil {
		if err := page.Click(ctx, selector); err != nil {
			break
		}
		clicks++
		if browser.Sleep(ctx, c.ClickDelay) != nil {
			break
		}
	}
	return clicks
}
