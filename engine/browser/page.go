// Package browser abstracts the page handle the extraction strategies drive.
//
// Two implementations ship: Rod, a headless Chrome controlled over the
// DevTools protocol, and Static, a plain HTTP fetcher for server-rendered
// sites. Tests use browsertest.Page.
package browser

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var (
	// ErrSettleTimeout means the page loaded but did not become idle in
	// time. Callers treat it as recoverable.
	ErrSettleTimeout = errors.New("page did not settle before timeout")
	ErrNotFound      = errors.New("element not found")
	ErrUnsupported   = errors.New("operation not supported by this page")
)

// Response is a background response body observed by the page.
type Response struct {
	URL      string
	Status   int
	MimeType string
	Body     []byte
}

// Page is one isolated page. Implementations need not be safe for
// concurrent use except for OnResponse handlers, which may run on any
// goroutine.
type Page interface {
	// URL returns the current document URL.
	URL() string
	Navigate(ctx context.Context, url string) error
	HTML(ctx context.Context) (string, error)
	ScrollHeight(ctx context.Context) (int, error)
	ScrollToBottom(ctx context.Context) error
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	// OnResponse subscribes to background (XHR/fetch) responses whose URL
	// satisfies match. The returned stop func ends the subscription.
	OnResponse(match func(url string) bool, handler func(Response)) (stop func(), err error)
	Close() error
}

// Launcher creates isolated pages.
type Launcher interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Snapshot parses the page's current HTML.
func Snapshot(ctx context.Context, p Page) (*goquery.Document, error) {
	html, err := p.HTML(ctx)
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
