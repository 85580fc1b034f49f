// Package profile maps dealership domains to site profiles.
package profile

import (
	"net/url"
	"sort"
	"strings"

	"github.com/WessleyAI/wessley-listings/engine/domain"
)

// Registry resolves domains to profiles. It is read-only after construction
// and safe for concurrent use.
type Registry struct {
	byDomain map[string]domain.SiteProfile
	keys     []string // longest first, then lexical
}

// NewRegistry builds a registry from the built-in profiles overlaid with
// extra. A later profile for the same domain replaces an earlier one.
func NewRegistry(extra ...domain.SiteProfile) *Registry {
	r := &Registry{byDomain: make(map[string]domain.SiteProfile)}
	for _, p := range append(Builtin(), extra...) {
		key := NormalizeDomain(p.Domain)
		if key == "" {
			continue
		}
		p = p.Clone()
		p.Domain = key
		p.Generic = false
		r.byDomain[key] = p
	}
	for k := range r.byDomain {
		r.keys = append(r.keys, k)
	}
	sort.Slice(r.keys, func(i, j int) bool {
		if len(r.keys[i]) != len(r.keys[j]) {
			return len(r.keys[i]) > len(r.keys[j])
		}
		return r.keys[i] < r.keys[j]
	})
	return r
}

// Resolve returns the profile for a domain or URL: exact match first, then
// the longest registered key contained in the normalized input, then the
// generic profile. It never fails.
func (r *Registry) Resolve(domainOrURL string) domain.SiteProfile {
	host := NormalizeDomain(domainOrURL)
	if host == "" {
		return Generic("")
	}
	if p, ok := r.byDomain[host]; ok {
		return p.Clone()
	}
	for _, k := range r.keys {
		if strings.Contains(host, k) {
			return r.byDomain[k].Clone()
		}
	}
	return Generic(host)
}

// Profiles lists registered profiles sorted by domain.
func (r *Registry) Profiles() []domain.SiteProfile {
	out := make([]domain.SiteProfile, 0, len(r.byDomain))
	for _, p := range r.byDomain {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

// Len returns the number of registered profiles.
func (r *Registry) Len() int { return len(r.byDomain) }

// NormalizeDomain strips scheme, credentials, port, path, query and a
// leading "www." and lower-cases the rest.
func NormalizeDomain(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	return strings.TrimPrefix(host, "www.")
}

// Generic returns the fallback profile: broad selector hints, all flags off.
func Generic(host string) domain.SiteProfile {
	return domain.SiteProfile{
		Domain:  host,
		Group:   domain.GroupCustomRendered,
		Generic: true,
		SelectorHints: map[string]string{
			domain.HintContainer: ".vehicles, .listing, .listings, .inventory, .products, .results, main",
			domain.HintItem:      ".vehicle, .car, .auto, .listing-item, .product, article, .card",
			domain.HintTitle:     "h2, h3, .title, .name, .product-title",
			domain.HintPrice:     ".price, .precio, [class*=price], [class*=precio]",
			domain.HintImage:     "img",
			domain.HintLink:      "a[href]",
			domain.HintDetails:   ".details, .specs, .features, .meta, ul",
		},
	}
}
