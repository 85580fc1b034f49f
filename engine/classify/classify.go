// Package classify fingerprints a loaded page to decide its technology group.
package classify

import (
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/WessleyAI/wessley-listings/engine/browser"
	"github.com/WessleyAI/wessley-listings/engine/domain"
)

// Classification is the outcome of fingerprinting a page.
type Classification struct {
	Group domain.TechGroup
	// Signals names every probe that matched, across all groups.
	Signals []string
}

// probe is one independent piece of evidence.
type probe struct {
	signal string
	match  func(doc *goquery.Document, html string) bool
}

func has(sel string) func(*goquery.Document, string) bool {
	return func(doc *goquery.Document, _ string) bool { return doc.Find(sel).Length() > 0 }
}

func contains(substr string) func(*goquery.Document, string) bool {
	return func(_ *goquery.Document, html string) bool { return strings.Contains(html, substr) }
}

func metaGenerator(re *regexp.Regexp) func(*goquery.Document, string) bool {
	return func(doc *goquery.Document, _ string) bool {
		found := false
		doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if strings.EqualFold(s.AttrOr("name", ""), "generator") && re.MatchString(s.AttrOr("content", "")) {
				found = true
			}
			return !found
		})
		return found
	}
}

func anyAttrPrefix(prefix string) func(*goquery.Document, string) bool {
	return func(doc *goquery.Document, _ string) bool {
		found := false
		doc.Find("*").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			for _, n := range s.Nodes {
				for _, a := range n.Attr {
					if strings.HasPrefix(a.Key, prefix) {
						found = true
						return false
					}
				}
			}
			return true
		})
		return found
	}
}

func rootWithChildren(doc *goquery.Document, _ string) bool {
	return doc.Find("#root, #app").Children().Length() > 0
}

var (
	cmsGeneratorRe  = regexp.MustCompile(`(?i)wordpress|joomla|drupal|wix|squarespace|woocommerce`)
	resultCounterRe = regexp.MustCompile(`(?i)\d[\d.,]*\s+(resultados|results|avisos|veh[ií]culos encontrados)`)
	socialShopRe    = regexp.MustCompile(`(?i)facebook\.com/marketplace|instagram\.com/[^"']+/shop|mercadolibre\.c|mercadoshops`)
)

var probes = map[domain.TechGroup][]probe{
	domain.GroupComponentFramework: {
		{"next-root", has("#__next")},
		{"nuxt-root", has("#__nuxt")},
		{"react-root", has("[data-reactroot]")},
		{"angular-version", has("[ng-version]")},
		{"next-data", has("script#__NEXT_DATA__")},
		{"vue-scoped-attr", anyAttrPrefix("data-v-")},
		{"spa-root-hydrated", rootWithChildren},
	},
	domain.GroupTemplateCMS: {
		{"wp-content", contains("/wp-content/")},
		{"cms-generator", metaGenerator(cmsGeneratorRe)},
		{"elementor", has(".elementor")},
		{"woocommerce", has(".woocommerce, ul.products li.product")},
	},
	domain.GroupCustomRendered: {
		{"vehicle-markup", has(".vehicle, .vehiculo, .auto, .car-item")},
		{"stock-table", has("table tr.vehicle, table.stock, table.inventario")},
	},
	domain.GroupAggregatorPortal: {
		{"brand-model-search", has("form select[name*=marca], form select[name*=brand], form select[name*=make]")},
		{"rel-next", has("a[rel=next], link[rel=next]")},
		{"result-counter", func(doc *goquery.Document, _ string) bool {
			return resultCounterRe.MatchString(doc.Find("body").Text())
		}},
	},
	domain.GroupSpecial: {
		{"social-storefront", func(_ *goquery.Document, html string) bool { return socialShopRe.MatchString(html) }},
		{"og-social-site", has(`meta[property="og:site_name"][content="Facebook"], meta[property="og:site_name"][content="Instagram"]`)},
	},
}

// Document classifies an already parsed document.
func Document(doc *goquery.Document, html string) Classification {
	var c Classification
	for _, g := range domain.GroupPriority {
		for _, p := range probes[g] {
			if p.match(doc, html) {
				c.Signals = append(c.Signals, string(g)+":"+p.signal)
				if c.Group == "" {
					c.Group = g
				}
			}
		}
	}
	if c.Group == "" {
		c.Group = domain.GroupSpecial
		c.Signals = append(c.Signals, "no-match")
	}
	return c
}

// Classify fingerprints the page's current document. A snapshot failure
// degrades to the special group.
func Classify(ctx context.Context, page browser.Page) Classification {
	html, err := page.HTML(ctx)
	if err != nil {
		return Classification{Group: domain.GroupSpecial, Signals: []string{"snapshot-failed"}}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Classification{Group: domain.GroupSpecial, Signals: []string{"snapshot-failed"}}
	}
	return Document(doc, html)
}

// Matched reports whether a probe fired, as opposed to the no-match or
// snapshot-failed fallback.
func (c Classification) Matched() bool {
	for _, s := range c.Signals {
		if s != "no-match" && s != "snapshot-failed" {
			return true
		}
	}
	return false
}

// ShouldOverride reports whether a classifier result may replace the
// profile's group: only generic or unverified profiles are overridden.
func ShouldOverride(p domain.SiteProfile) bool {
	return p.Generic || !p.Verified
}
