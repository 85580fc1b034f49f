// Package domain defines the core types shared by the listing engine: site
// profiles, scraped candidates, normalized records and the run aggregate tree.
package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TechGroup classifies how a target site is built.
type TechGroup string

const (
	GroupTemplateCMS        TechGroup = "template-cms"
	GroupComponentFramework TechGroup = "component-framework"
	GroupCustomRendered     TechGroup = "custom-rendered"
	GroupAggregatorPortal   TechGroup = "aggregator-portal"
	GroupSpecial            TechGroup = "special"
)

// GroupPriority is the fixed classifier order, most specific first.
var GroupPriority = []TechGroup{
	GroupComponentFramework,
	GroupTemplateCMS,
	GroupCustomRendered,
	GroupAggregatorPortal,
	GroupSpecial,
}

// Valid reports whether g is one of the known groups.
func (g TechGroup) Valid() bool {
	for _, known := range GroupPriority {
		if g == known {
			return true
		}
	}
	return false
}

// ParseTechGroup parses a group name, accepting underscores and any case.
func ParseTechGroup(s string) (TechGroup, error) {
	g := TechGroup(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-"))
	if !g.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownGroup, s)
	}
	return g, nil
}

// FeatureFlags describe navigation traits of a site.
type FeatureFlags struct {
	HasInfiniteScroll         bool `json:"hasInfiniteScroll"`
	RequiresResponseIntercept bool `json:"requiresResponseIntercept"`
	HasPagination             bool `json:"hasPagination"`
	HasLazyImages             bool `json:"hasLazyImages"`
}

// Or returns the union of two flag sets.
func (f FeatureFlags) Or(o FeatureFlags) FeatureFlags {
	return FeatureFlags{
		HasInfiniteScroll:         f.HasInfiniteScroll || o.HasInfiniteScroll,
		RequiresResponseIntercept: f.RequiresResponseIntercept || o.RequiresResponseIntercept,
		HasPagination:             f.HasPagination || o.HasPagination,
		HasLazyImages:             f.HasLazyImages || o.HasLazyImages,
	}
}

// Selector hint names understood by the extraction strategies.
const (
	HintContainer    = "container"
	HintItem         = "item"
	HintTitle        = "title"
	HintPrice        = "price"
	HintImage        = "image"
	HintLink         = "link"
	HintDetails      = "details"
	HintNext         = "next"
	HintLoadMore     = "loadMore"
	HintSearchForm   = "searchForm"
	HintSearchInput  = "searchInput"
	HintSearchSubmit = "searchSubmit"
)

// SiteProfile identifies one target site. Profiles are values: the registry
// hands out copies and nothing mutates them after load.
type SiteProfile struct {
	Domain        string            `json:"domain"`
	Group         TechGroup         `json:"group"`
	SelectorHints map[string]string `json:"selectorHints,omitempty"`
	Flags         FeatureFlags      `json:"flags"`
	// Endpoints are URL fragments identifying background listing responses.
	Endpoints []string `json:"endpoints,omitempty"`
	// Verified profiles are trusted as-is; unverified ones may be overridden by
	// the classifier.
	Verified bool `json:"verified"`
	Generic  bool `json:"-"`
}

// Hint returns the selector hint for name, or "".
func (p SiteProfile) Hint(name string) string {
	return p.SelectorHints[name]
}

// Clone returns a deep copy of p.
func (p SiteProfile) Clone() SiteProfile {
	out := p
	if p.SelectorHints != nil {
		out.SelectorHints = make(map[string]string, len(p.SelectorHints))
		for k, v := range p.SelectorHints {
			out.SelectorHints[k] = v
		}
	}
	out.Endpoints = append([]string(nil), p.Endpoints...)
	return out
}

// ExtractionSource records where a candidate came from.
type ExtractionSource string

const (
	SourceDOM            ExtractionSource = "dom"
	SourceInterceptedAPI ExtractionSource = "intercepted-api"
)

// Candidate is one scraped listing before normalization.
type Candidate struct {
	DealerName     string           `json:"dealerName"`
	SourceURL      string           `json:"sourceUrl,omitempty"`
	RawTitle       string           `json:"rawTitle"`
	RawPriceText   string           `json:"rawPriceText,omitempty"`
	RawDetailsText string           `json:"rawDetailsText,omitempty"`
	ImageURL       string           `json:"imageUrl,omitempty"`
	Source         ExtractionSource `json:"extractionSource"`
	DiscoveredAt   time.Time        `json:"discoveredAt"`
	// Index is the position of the candidate in extraction order.
	Index int `json:"index"`
}

// Key is the best-effort identity of a candidate: the source URL when known,
// otherwise dealer|title|index, which is not guaranteed unique.
func (c Candidate) Key() string {
	if c.SourceURL != "" {
		return c.SourceURL
	}
	return c.DealerName + "|" + strings.TrimSpace(c.RawTitle) + "|" + strconv.Itoa(c.Index)
}

// HasTitle reports whether the candidate carries a usable title.
func (c Candidate) HasTitle() bool {
	return strings.TrimSpace(c.RawTitle) != ""
}

// Record is the normalized form of exactly one Candidate.
type Record struct {
	Title              string    `json:"title"`
	PriceAmount        *float64  `json:"priceAmount"`
	PriceCurrencyGuess string    `json:"priceCurrencyGuess"`
	Year               *int      `json:"year"`
	MileageKm          *int      `json:"mileageKm"`
	Brand              *string   `json:"brand"`
	Model              *string   `json:"model"`
	Location           *string   `json:"location"`
	Candidate          Candidate `json:"candidate"`
}

// DealerResult is the per-dealer outcome of one run.
type DealerResult struct {
	DealerID       string        `json:"dealerId"`
	DealerName     string        `json:"dealerName"`
	SourceURL      string        `json:"sourceUrl"`
	Group          TechGroup     `json:"group"`
	ClassifiedAs   TechGroup     `json:"classifiedAs,omitempty"`
	Records        []Record      `json:"records"`
	Errors         []string      `json:"errors"`
	CandidateCount int           `json:"candidateCount"`
	Duration       time.Duration `json:"durationNs"`
}

// Failed reports whether the dealer run recorded an error.
func (r DealerResult) Failed() bool { return len(r.Errors) > 0 }
