package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/WessleyAI/wessley-listings/engine/domain"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// RodOptions configure the headless browser.
type RodOptions struct {
	Headless bool
	// Bin is an explicit Chrome binary; empty lets the launcher find or
	// download one.
	Bin string
	// ControlURL connects to an already running browser instead of
	// launching one.
	ControlURL string
	// SettleTimeout bounds the wait for load and DOM stability after
	// navigation.
	SettleTimeout time.Duration
	// StableWindow is how long the DOM must stay unchanged to count as
	// settled.
	StableWindow time.Duration
	UserAgent    string
	Logger       *slog.Logger
}

// Rod launches pages in a headless Chrome, one incognito context per page.
type Rod struct {
	browser *rod.Browser
	launch  *launcher.Launcher
	opts    RodOptions
	log     *slog.Logger
}

// NewRod launches (or connects to) a browser.
func NewRod(ctx context.Context, opts RodOptions) (*Rod, error) {
	if opts.SettleTimeout <= 0 {
		opts.SettleTimeout = 20 * time.Second
	}
	if opts.StableWindow <= 0 {
		opts.StableWindow = 500 * time.Millisecond
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	r := &Rod{opts: opts, log: log}
	controlURL := opts.ControlURL
	if controlURL == "" {
		l := launcher.New().
			Context(ctx).
			Headless(opts.Headless).
			Set("user-agent", opts.UserAgent).
			Set("disable-blink-features", "AutomationControlled")
		if opts.Bin != "" {
			l = l.Bin(opts.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		r.launch = l
		controlURL = u
	}

	r.browser = rod.New().ControlURL(controlURL)
	if err := r.browser.Connect(); err != nil {
		r.cleanupLauncher()
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	log.Info("browser connected", "control_url", controlURL, "headless", opts.Headless)
	return r, nil
}

// NewPage opens a page in a fresh incognito context, so cookies, storage
// and network subscriptions never leak between dealers.
func (r *Rod) NewPage(ctx context.Context) (Page, error) {
	inc, err := r.browser.Context(ctx).Incognito()
	if err != nil {
		return nil, fmt.Errorf("browser: incognito: %w", err)
	}
	p, err := inc.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = inc.Close()
		return nil, fmt.Errorf("browser: new page: %w", err)
	}
	_ = proto.NetworkSetUserAgentOverride{UserAgent: r.opts.UserAgent}.Call(p)
	subCtx, cancel := context.WithCancel(context.Background())
	return &rodPage{
		ctx:    subCtx,
		cancel: cancel,
		ctxB:   inc,
		page:   p,
		opts:   r.opts,
		log:    r.log,
	}, nil
}

// Close shuts the browser down.
func (r *Rod) Close() error {
	var err error
	if r.browser != nil {
		err = r.browser.Close()
	}
	r.cleanupLauncher()
	return err
}

func (r *Rod) cleanupLauncher() {
	if r.launch != nil {
		r.launch.Kill()
		r.launch.Cleanup()
	}
}

type rodPage struct {
	// ctx scopes network subscriptions; cancelled on Close.
	ctx    context.Context
	cancel context.CancelFunc
	ctxB   *rod.Browser
	page   *rod.Page
	opts   RodOptions
	log    *slog.Logger

	netOnce sync.Once
	netErr  error
}

func (p *rodPage) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	if err := p.page.Context(ctx).Navigate(url); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrNavigation, url, err)
	}
	sctx, cancel := context.WithTimeout(ctx, p.opts.SettleTimeout)
	defer cancel()
	sp := p.page.Context(sctx)
	err := sp.WaitLoad()
	if err == nil {
		err = sp.WaitStable(p.opts.StableWindow)
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || sctx.Err() != nil {
			return ErrSettleTimeout
		}
		return fmt.Errorf("%w: %s: %v", domain.ErrNavigation, url, err)
	}
	return nil
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

func (p *rodPage) ScrollHeight(ctx context.Context) (int, error) {
	res, err := p.page.Context(ctx).Eval(`() => document.body ? document.body.scrollHeight : 0`)
	if err != nil {
		return 0, err
	}
	return res.Value.Int(), nil
}

func (p *rodPage) ScrollToBottom(ctx context.Context) error {
	_, err := p.page.Context(ctx).Eval(`() => window.scrollTo(0, document.body.scrollHeight)`)
	return err
}

func (p *rodPage) element(ctx context.Context, selector string) (*rod.Element, error) {
	el, err := p.page.Context(ctx).Sleeper(rod.NotFoundSleeper).Element(selector)
	if err != nil {
		var nf *rod.ElementNotFoundError
		if errors.As(err, &nf) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, selector)
		}
		return nil, err
	}
	return el, nil
}

func (p *rodPage) Click(ctx context.Context, selector string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.ScrollIntoView(); err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (p *rodPage) Fill(ctx context.Context, selector, value string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		p.log.Debug("select text failed", "selector", selector, "err", err)
	}
	return el.Input(value)
}

func (p *rodPage) OnResponse(match func(string) bool, handler func(Response)) (func(), error) {
	p.netOnce.Do(func() {
		p.netErr = proto.NetworkEnable{}.Call(p.page)
	})
	if p.netErr != nil {
		return nil, fmt.Errorf("browser: enable network: %w", p.netErr)
	}

	ctx, cancel := context.WithCancel(p.ctx)
	sub := p.page.Context(ctx)
	var mu sync.Mutex
	pending := make(map[proto.NetworkRequestID]*proto.NetworkResponse)

	wait := sub.EachEvent(func(e *proto.NetworkResponseReceived) {
		if e.Type != proto.NetworkResourceTypeXHR && e.Type != proto.NetworkResourceTypeFetch {
			return
		}
		if e.Response == nil || !match(e.Response.URL) {
			return
		}
		mu.Lock()
		pending[e.RequestID] = e.Response
		mu.Unlock()
	}, func(e *proto.NetworkLoadingFinished) {
		mu.Lock()
		resp := pending[e.RequestID]
		delete(pending, e.RequestID)
		mu.Unlock()
		if resp == nil {
			return
		}
		// Fetching the body is a protocol round trip; never block the event loop.
		go func(id proto.NetworkRequestID, resp *proto.NetworkResponse) {
			body, err := proto.NetworkGetResponseBody{RequestID: id}.Call(sub)
			if err != nil {
				p.log.Debug("response body unavailable", "url", resp.URL, "err", err)
				return
			}
			data := []byte(body.Body)
			if body.Base64Encoded {
				if data, err = base64.StdEncoding.DecodeString(body.Body); err != nil {
					return
				}
			}
			handler(Response{URL: resp.URL, Status: resp.Status, MimeType: resp.MIMEType, Body: data})
		}(e.RequestID, resp)
	})
	go wait()
	return cancel, nil
}

func (p *rodPage) Close() error {
	p.cancel()
	err := p.page.Close()
	if cerr := p.ctxB.Close(); err == nil {
		err = cerr
	}
	return err
}
