package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net/http/cookiejar"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"

	"github.com/WessleyAI/wessley-listings/engine/domain"
)

// StaticOptions configure the HTTP page fetcher.
type StaticOptions struct {
	Timeout   time.Duration
	UserAgent string
	// DisableBypass skips the anti-bot transport, mainly for tests against
	// local servers.
	DisableBypass bool
	Logger        *slog.Logger
}

// Static opens pages with plain HTTP GETs. It suits server-rendered sites:
// there is no script execution, so scrolling never grows the page and no
// background responses are observed.
type Static struct {
	opts StaticOptions
	log  *slog.Logger
}

// NewStatic returns a static launcher.
func NewStatic(opts StaticOptions) *Static {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Static{opts: opts, log: log}
}

// NewPage returns a page with its own client and cookie jar.
func (s *Static) NewPage(context.Context) (Page, error) {
	client := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	if !s.opts.DisableBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}
	client.SetHeader("user-agent", s.opts.UserAgent)
	client.SetHeader("accept-language", "es-CL,es;q=0.9,en;q=0.8")
	client.SetTimeout(s.opts.Timeout)
	return &staticPage{client: client, log: s.log}, nil
}

func (s *Static) Close() error { return nil }

type staticPage struct {
	client *resty.Client
	log    *slog.Logger
	url    string
	html   string
}

func (p *staticPage) URL() string { return p.url }

func (p *staticPage) Navigate(ctx context.Context, url string) error {
	resp, err := p.client.R().SetContext(ctx).Get(url)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s: %v", domain.ErrNavigation, url, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: %s: status %d", domain.ErrNavigation, url, resp.StatusCode())
	}
	p.url = resp.RawResponse.Request.URL.String()
	p.html = string(resp.Body())
	p.log.Debug("static page loaded", "url", p.url, "bytes", len(p.html))
	return nil
}

func (p *staticPage) HTML(context.Context) (string, error) { return p.html, nil }

func (p *staticPage) ScrollHeight(context.Context) (int, error) { return len(p.html), nil }

func (p *staticPage) ScrollToBottom(context.Context) error { return nil }

func (p *staticPage) Click(context.Context, string) error { return ErrUnsupported }

func (p *staticPage) Fill(context.Context, string, string) error { return ErrUnsupported }

func (p *staticPage) OnResponse(func(string) bool, func(Response)) (func(), error) {
	return func() {}, nil
}

func (p *staticPage) Close() error { return nil }
