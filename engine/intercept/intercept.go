// Package intercept captures background JSON listing responses while a page
// loads and maps their items to candidates.
package intercept

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/WessleyAI/wessley-listings/engine/browser"
	"github.com/WessleyAI/wessley-listings/engine/domain"
	"github.com/WessleyAI/wessley-listings/engine/navigate"
)

const (
	// DefaultMaxPayloads bounds how many responses one capture keeps.
	DefaultMaxPayloads = 64
	// DefaultMaxBodyBytes bounds the size of a single response body.
	DefaultMaxBodyBytes = 5 << 20
)

var apiKeywords = []string{
	"vehicle", "vehicles", "vehiculo", "vehiculos", "auto", "autos", "car", "cars",
	"product", "products", "search", "inventory", "stock",
}

var (
	titleKeys   = []string{"title", "name", "model", "description", "vehicleName"}
	priceKeys   = []string{"price", "precio", "amount", "salePrice", "listPrice"}
	urlKeys     = []string{"url", "link", "permalink", "detailUrl", "href", "slug"}
	imageKeys   = []string{"image", "imageUrl", "thumbnail", "photo", "images"}
	detailsKeys = []string{"description", "details", "subtitle", "version", "km", "mileage", "year", "location"}
)

// Payload is one parsed response: the listing items it carried.
type Payload struct {
	URL   string
	Items []map[string]any
	At    time.Time
}

// Matcher reports whether a response URL belongs to a profile's listing
// endpoints, or looks like a listing API when none are configured.
func Matcher(p domain.SiteProfile) func(string) bool {
	endpoints := append([]string(nil), p.Endpoints...)
	return func(u string) bool {
		for _, e := range endpoints {
			if e != "" && strings.Contains(u, e) {
				return true
			}
		}
		return LooksLikeListingAPI(u)
	}
}

// LooksLikeListingAPI is the generic heuristic: an /api/ path plus a domain
// keyword.
func LooksLikeListingAPI(u string) bool {
	lower := strings.ToLower(u)
	if !strings.Contains(lower, "/api/") {
		return false
	}
	for _, k := range apiKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// Capture accumulates payloads for one dealer's page. It is safe for
// concurrent use; payloads arrive on browser goroutines.
type Capture struct {
	mu       sync.Mutex
	payloads []Payload
	dropped  int
	stop     func()
	maxItems int
	maxBody  int
	log      *slog.Logger
}

// Options bound a capture.
type Options struct {
	MaxPayloads  int
	MaxBodyBytes int
	Logger       *slog.Logger
}

// Attach subscribes to the page's background responses matching the
// profile. Call Detach when done.
func Attach(page browser.Page, profile domain.SiteProfile, opts Options) (*Capture, error) {
	if opts.MaxPayloads <= 0 {
		opts.MaxPayloads = DefaultMaxPayloads
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Capture{maxItems: opts.MaxPayloads, maxBody: opts.MaxBodyBytes, log: opts.Logger}
	stop, err := page.OnResponse(Matcher(profile), c.observe)
	if err != nil {
		return nil, fmt.Errorf("intercept: attach: %w", err)
	}
	c.stop = stop
	return c, nil
}

func (c *Capture) observe(resp browser.Response) {
	if resp.Status >= 400 || len(resp.Body) == 0 || len(resp.Body) > c.maxBody {
		return
	}
	items, ok := ParseItems(resp.Body)
	if !ok || len(items) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.payloads) >= c.maxItems {
		c.dropped++
		return
	}
	c.payloads = append(c.payloads, Payload{URL: resp.URL, Items: items, At: time.Now()})
	c.log.Debug("captured listing response", "url", resp.URL, "items", len(items))
}

// Detach ends the subscription. Already captured payloads stay readable.
func (c *Capture) Detach() {
	c.mu.Lock()
	stop := c.stop
	c.stop = nil
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Payloads returns a copy of what was captured so far.
func (c *Capture) Payloads() []Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Payload(nil), c.payloads...)
}

// Dropped returns how many payloads were discarded over the buffer bound.
func (c *Capture) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// ParseItems decodes a JSON body into listing items. Accepted envelopes are a
// bare array, {"results": [...]}, {"data": [...]} and {"data": {"results": [...]}}.
func ParseItems(body []byte) ([]map[string]any, bool) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, false
	}
	arr, ok := unwrap(v, 0)
	if !ok {
		return nil, false
	}
	items := make([]map[string]any, 0, len(arr))
	for _, el := range arr {
		if m, ok := el.(map[string]any); ok {
			items = append(items, m)
		}
	}
	return items, true
}

func unwrap(v any, depth int) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case map[string]any:
		if depth > 1 {
			return nil, false
		}
		for _, k := range []string{"results", "data"} {
			if inner, ok := t[k]; ok && inner != nil {
				if arr, ok := unwrap(inner, depth+1); ok {
					return arr, true
				}
			}
		}
	}
	return nil, false
}

// Candidates maps captured items to candidates, in capture order. Items
// without a title are dropped.
func (c *Capture) Candidates(dealer, baseURL string) []domain.Candidate {
	var out []domain.Candidate
	for _, p := range c.Payloads() {
		for _, item := range p.Items {
			cand, ok := ItemCandidate(item, dealer, baseURL)
			if !ok {
				continue
			}
			cand.DiscoveredAt = p.At
			cand.Index = len(out)
			out = append(out, cand)
		}
	}
	return out
}

// ItemCandidate maps one JSON item through the alias lists.
func ItemCandidate(item map[string]any, dealer, baseURL string) (domain.Candidate, bool) {
	title := firstString(item, titleKeys)
	if strings.TrimSpace(title) == "" {
		return domain.Candidate{}, false
	}
	c := domain.Candidate{
		DealerName:   dealer,
		RawTitle:     strings.TrimSpace(title),
		RawPriceText: firstString(item, priceKeys),
		Source:       domain.SourceInterceptedAPI,
		DiscoveredAt: time.Now(),
	}
	if u := firstString(item, urlKeys); u != "" {
		c.SourceURL = navigate.Resolve(baseURL, u)
	}
	if img := firstString(item, imageKeys); img != "" {
		c.ImageURL = navigate.Resolve(baseURL, img)
	}
	var details []string
	for _, k := range detailsKeys {
		if s := scalarString(item[k]); s != "" && s != c.RawTitle {
			details = append(details, s)
		}
	}
	c.RawDetailsText = strings.Join(details, " | ")
	return c, true
}

func firstString(item map[string]any, keys []string) string {
	for _, k := range keys {
		v, ok := item[k]
		if !ok || v == nil {
			continue
		}
		if s := scalarString(v); s != "" {
			return s
		}
		// images[0], or an {url: ...} object
		switch t := v.(type) {
		case []any:
			if len(t) > 0 {
				if s := scalarString(t[0]); s != "" {
					return s
				}
				if m, ok := t[0].(map[string]any); ok {
					if s := firstString(m, []string{"url", "src"}); s != "" {
						return s
					}
				}
			}
		case map[string]any:
			if s := firstString(t, []string{"url", "src", "value", "amount"}); s != "" {
				return s
			}
		}
	}
	return ""
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatFloat(t, 'f', 0, 64)
		}
		// Two decimals so the normalizer reads the dot as a decimal point.
		return strconv.FormatFloat(t, 'f', 2, 64)
	case bool, nil:
		return ""
	}
	return ""
}
