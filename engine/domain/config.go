package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Dealer is one configured dealership target.
type Dealer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// URL is the dealer's home or listing page.
	URL string `json:"url"`
	// ListingURL, when set, is opened instead of URL. Aggregator dealers
	// without one are searched through the portal's form.
	ListingURL  string        `json:"listingUrl,omitempty"`
	SearchQuery string        `json:"searchQuery,omitempty"`
	MaxPages    int           `json:"maxPages,omitempty"`
	Filters     *FilterConfig `json:"filters,omitempty"`
}

// Target returns the URL the dealer run should open.
func (d Dealer) Target() string {
	if d.ListingURL != "" {
		return d.ListingURL
	}
	return d.URL
}

// Key returns the dealer ID, falling back to the name.
func (d Dealer) Key() string {
	if d.ID != "" {
		return d.ID
	}
	return d.Name
}

// Validate checks that the dealer has a name and an absolute http(s) URL.
func (d Dealer) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidDealer)
	}
	u, err := url.Parse(d.Target())
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: %s: bad url %q", ErrInvalidDealer, d.Name, d.Target())
	}
	return nil
}

// GroupConfig is the configured set of dealers for one technology group.
type GroupConfig struct {
	Group   TechGroup `json:"group"`
	Enabled bool      `json:"enabled"`
	Dealers []Dealer  `json:"dealers"`
	// Concurrency is the per-group dealer ceiling; zero means the run default.
	Concurrency int `json:"concurrency,omitempty"`
}

// FilterConfig bounds which records are kept. Nil bounds are open.
type FilterConfig struct {
	PriceMin     *float64 `json:"priceMin,omitempty"`
	PriceMax     *float64 `json:"priceMax,omitempty"`
	YearMin      *int     `json:"yearMin,omitempty"`
	YearMax      *int     `json:"yearMax,omitempty"`
	MaxPerDealer int      `json:"maxPerDealer,omitempty"`
}

// Merge returns c with every bound set in o overriding it.
func (c FilterConfig) Merge(o *FilterConfig) FilterConfig {
	if o == nil {
		return c
	}
	out := c
	if o.PriceMin != nil {
		out.PriceMin = o.PriceMin
	}
	if o.PriceMax != nil {
		out.PriceMax = o.PriceMax
	}
	if o.YearMin != nil {
		out.YearMin = o.YearMin
	}
	if o.YearMax != nil {
		out.YearMax = o.YearMax
	}
	if o.MaxPerDealer > 0 {
		out.MaxPerDealer = o.MaxPerDealer
	}
	return out
}

// RunOptions tune the orchestrator.
type RunOptions struct {
	Concurrency   int           `json:"concurrency"`
	DealerDelay   time.Duration `json:"dealerDelay"`
	GroupDelay    time.Duration `json:"groupDelay"`
	DealerTimeout time.Duration `json:"dealerTimeout"`
	// BreakerThreshold opens a group's circuit after that many consecutive
	// dealer failures. Zero disables the breaker.
	BreakerThreshold int          `json:"breakerThreshold"`
	Filters          FilterConfig `json:"filters"`
}

// DefaultRunOptions returns the stock orchestrator tuning.
func DefaultRunOptions() RunOptions {
	return RunOptions{
		Concurrency:   1,
		DealerDelay:   3 * time.Second,
		GroupDelay:    5 * time.Second,
		DealerTimeout: 3 * time.Minute,
	}
}
