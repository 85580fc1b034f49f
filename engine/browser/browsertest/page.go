// Package browsertest provides a scripted in-memory browser.Page for tests.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/WessleyAI/wessley-listings/engine/browser"
)

// Page is a scripted page. HTML is served per URL from Pages; responses
// listed for a URL are delivered to subscribers when it is navigated.
type Page struct {
	// Pages maps URLs to documents.
	Pages map[string]string
	// Responses are replayed to matching subscribers on Navigate.
	Responses map[string][]browser.Response
	// NavErrors makes Navigate fail for a URL.
	NavErrors map[string]error
	// Heights is the sequence of scroll heights; each ScrollToBottom
	// advances one step and the last value repeats. Empty means flat.
	Heights []int
	// Clicks maps selectors to actions; clicking an unlisted selector
	// reports browser.ErrNotFound.
	Clicks map[string]func(p *Page) error

	mu          sync.Mutex
	current     string
	html        string
	scrolls     int
	subs        map[int]subscription
	nextSub     int
	navigations []string
	filled      map[string]string
	clicked     []string
	closed      bool
}

type subscription struct {
	match   func(string) bool
	handler func(browser.Response)
}

var _ browser.Page = (*Page)(nil)

// New returns a page serving pages.
func New(pages map[string]string) *Page {
	return &Page{Pages: pages}
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.navigations = append(p.navigations, url)
	if err := p.NavErrors[url]; err != nil {
		p.mu.Unlock()
		return err
	}
	html, ok := p.Pages[url]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("browsertest: no page for %s", url)
	}
	p.current, p.html, p.scrolls = url, html, 0
	var deliver []func()
	for _, resp := range p.Responses[url] {
		for _, s := range p.subs {
			if s.match(resp.URL) {
				s, resp := s, resp
				deliver = append(deliver, func() { s.handler(resp) })
			}
		}
	}
	p.mu.Unlock()
	for _, d := range deliver {
		d()
	}
	return nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, nil
}

// SetHTML replaces the current document, as a script would.
func (p *Page) SetHTML(html string) {
	p.mu.Lock()
	p.html = html
	p.mu.Unlock()
}

// AppendHTML inserts fragment before the closing body tag.
func (p *Page) AppendHTML(fragment string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i := strings.LastIndex(p.html, "</body>"); i >= 0 {
		p.html = p.html[:i] + fragment + p.html[i:]
		return
	}
	p.html += fragment
}

func (p *Page) ScrollHeight(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Heights) == 0 {
		return 1000, nil
	}
	i := min(p.scrolls, len(p.Heights)-1)
	return p.Heights[i], nil
}

func (p *Page) ScrollToBottom(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrolls++
	return nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	action, ok := p.Clicks[selector]
	if ok {
		p.clicked = append(p.clicked, selector)
	}
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", browser.ErrNotFound, selector)
	}
	if action == nil {
		return nil
	}
	return action(p)
}

func (p *Page) Fill(ctx context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.filled == nil {
		p.filled = make(map[string]string)
	}
	p.filled[selector] = value
	return nil
}

func (p *Page) OnResponse(match func(string) bool, handler func(browser.Response)) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subs == nil {
		p.subs = make(map[int]subscription)
	}
	id := p.nextSub
	p.nextSub++
	p.subs[id] = subscription{match: match, handler: handler}
	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}, nil
}

// Emit delivers resp to current subscribers, as a late background response.
func (p *Page) Emit(resp browser.Response) {
	p.mu.Lock()
	var hs []func(browser.Response)
	for _, s := range p.subs {
		if s.match(resp.URL) {
			hs = append(hs, s.handler)
		}
	}
	p.mu.Unlock()
	for _, h := range hs {
		h(resp)
	}
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.subs = nil
	return nil
}

// Navigations lists navigated URLs in order.
func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

// Scrolls returns how many times the page was scrolled since the last
// navigation.
func (p *Page) Scrolls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scrolls
}

// Clicked lists clicked selectors in order.
func (p *Page) Clicked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicked...)
}

// Filled returns the value typed into selector.
func (p *Page) Filled(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filled[selector]
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Subscribers returns the number of live response subscriptions.
func (p *Page) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Launcher hands out pages built by New.
type Launcher struct {
	New func() *Page

	mu     sync.Mutex
	pages  []*Page
	closed bool
}

var _ browser.Launcher = (*Launcher)(nil)

func (l *Launcher) NewPage(ctx context.Context) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := l.New()
	l.mu.Lock()
	l.pages = append(l.pages, p)
	l.mu.Unlock()
	return p, nil
}

func (l *Launcher) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

// Pages returns every page created so far.
func (l *Launcher) Pages() []*Page {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Page(nil), l.pages...)
}
