package strategy

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/WessleyAI/wessley-listings/engine/browser"
	"github.com/WessleyAI/wessley-listings/engine/domain"
	"github.com/WessleyAI/wessley-listings/engine/navigate"
)

type snapshot struct {
	doc  *goquery.Document
	html string
	url  string
}

func takeSnapshot(ctx context.Context, page browser.Page) (*snapshot, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	return &snapshot{doc: doc, html: html, url: page.URL()}, nil
}

// layout is the markup a variant expects, most specific first. Profile
// hints always come before these lists.
type layout struct {
	containers []string
	items      []string
	imageAttrs []string
}

var (
	genericContainers = []string{
		".vehicles", ".vehiculos", ".listing", ".listings", ".inventory", ".inventario",
		".products", ".results", ".resultados", ".grid", "main",
	}
	genericItems = []string{
		".vehicle", ".vehiculo", ".car", ".auto", ".listing-item", ".product", ".card", "article",
	}
	titleSelectors = []string{
		"h1", "h2", "h3", "h4", ".title", ".titulo", ".name", ".nombre",
		"[class*=title]", "[class*=titulo]", "[class*=name]",
	}
	priceSelectors = []string{
		".price", ".precio", "[class*=price]", "[class*=precio]", "[data-price]",
	}
	detailSelectors = []string{
		".details", ".detalles", ".specs", ".features", ".caracteristicas", ".meta", ".info", "ul",
	}
	srcFirst  = []string{"src", "data-src", "data-lazy-src", "data-original", "data-srcset", "srcset"}
	lazyFirst = []string{"data-src", "data-lazy-src", "data-original", "data-srcset", "srcset", "src"}

	priceTextRe = regexp.MustCompile(`(?i)(?:US\$|\$|€|£|USD|CLP|UF)\s*\d[\d.,]*`)
)

var (
	templateLayout = layout{
		containers: append([]string{
			"ul.products", ".products", ".elementor-posts", ".elementor-loop-container",
			".jet-listing-grid", ".listing", ".archive", ".posts", ".entry-content",
		}, genericContainers...),
		items: append([]string{
			"li.product", ".product", ".elementor-post", ".jet-listing-grid__item", "article", ".post",
		}, genericItems...),
		imageAttrs: lazyFirst,
	}
	componentLayout = layout{
		containers: append([]string{
			"[data-testid*=list]", "[data-testid*=grid]", "[class*=Listing]", "[class*=listing]",
			"[class*=Grid]", "[class*=results]",
		}, genericContainers...),
		items: append([]string{
			"[data-testid*=card]", "[data-testid*=item]", "[class*=Card]", "[class*=card]",
			"[class*=Item]",
		}, genericItems...),
		imageAttrs: lazyFirst,
	}
	customLayout = layout{
		containers: append([]string{
			"table.stock", "table.inventario", "table", "#stock", "#vehiculos", ".stock",
		}, genericContainers...),
		items: append([]string{
			"tr.vehicle", "tr.vehiculo", "tbody tr", ".item", ".stock-item",
		}, genericItems...),
		imageAttrs: srcFirst,
	}
	aggregatorLayout = layout{
		containers: append([]string{
			".search-results", ".results-list", "#results", ".listing-items", "ol.ui-search-layout",
		}, genericContainers...),
		items: append([]string{
			".result-item", ".search-result", ".listing-item", "li.ui-search-layout__item",
		}, genericItems...),
		imageAttrs: lazyFirst,
	}
)

func withHint(hint string, list []string) []string {
	if hint == "" {
		return list
	}
	return append([]string{hint}, list...)
}

// container returns the first present container, preferring one that holds
// items.
func (l layout) container(doc *goquery.Document, p domain.SiteProfile) (*goquery.Selection, bool) {
	c, _, ok := l.find(doc, p)
	return c, ok
}

func (l layout) find(doc *goquery.Document, p domain.SiteProfile) (*goquery.Selection, *goquery.Selection, bool) {
	var firstPresent *goquery.Selection
	for _, csel := range withHint(p.Hint(domain.HintContainer), l.containers) {
		c := doc.Find(csel)
		if c.Length() == 0 {
			continue
		}
		if firstPresent == nil {
			firstPresent = c.First()
		}
		for _, isel := range withHint(p.Hint(domain.HintItem), l.items) {
			if items := outermost(c, c.Find(isel), isel); items.Length() > 0 {
				return c, items, true
			}
		}
	}
	if firstPresent == nil {
		return nil, nil, false
	}
	return firstPresent, firstPresent.Children().Slice(0, 0), true
}

// outermost drops items nested inside another item of the same selector
// below container, so `[class*=card]` keeps .card and not its .card-body.
func outermost(container, items *goquery.Selection, sel string) *goquery.Selection {
	return items.FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.ParentsUntilSelection(container).Filter(sel).Length() == 0
	})
}

// extract maps every item to a candidate. found is false when no container
// is present at all.
func (l layout) extract(snap *snapshot, p domain.SiteProfile, dealer string, now time.Time) ([]domain.Candidate, bool) {
	_, items, found := l.find(snap.doc, p)
	if !found {
		return nil, false
	}
	var out []domain.Candidate
	items.Each(func(_ int, item *goquery.Selection) {
		c, ok := l.candidate(item, p, snap.url)
		if !ok {
			return
		}
		c.DealerName = dealer
		c.DiscoveredAt = now
		c.Index = len(out)
		out = append(out, c)
	})
	return out, true
}

func (l layout) candidate(item *goquery.Selection, p domain.SiteProfile, base string) (domain.Candidate, bool) {
	title := firstText(item, withHint(p.Hint(domain.HintTitle), titleSelectors))
	if title == "" {
		title = strings.TrimSpace(item.Find("a[title]").First().AttrOr("title", ""))
	}
	if title == "" {
		title = strings.TrimSpace(item.Find("img[alt]").First().AttrOr("alt", ""))
	}
	if title == "" {
		return domain.Candidate{}, false
	}

	c := domain.Candidate{RawTitle: title, Source: domain.SourceDOM}
	c.RawPriceText = firstText(item, withHint(p.Hint(domain.HintPrice), priceSelectors))
	if c.RawPriceText == "" {
		c.RawPriceText = priceTextRe.FindString(collapse(item.Text()))
	}
	c.SourceURL = l.link(item, p, base)
	c.ImageURL = l.image(item, p, base)
	c.RawDetailsText = firstText(item, withHint(p.Hint(domain.HintDetails), detailSelectors))
	if c.RawDetailsText == "" || c.RawDetailsText == title {
		c.RawDetailsText = strings.TrimSpace(strings.Replace(collapse(item.Text()), title, "", 1))
	}
	return c, true
}

func (l layout) link(item *goquery.Selection, p domain.SiteProfile, base string) string {
	var candidates []*goquery.Selection
	if h := p.Hint(domain.HintLink); h != "" {
		candidates = append(candidates, item.Find(h).First())
	}
	if goquery.NodeName(item) == "a" {
		candidates = append(candidates, item)
	}
	candidates = append(candidates, item.Find("a[href]"))
	for _, sel := range candidates {
		var found string
		sel.EachWithBreak(func(_ int, a *goquery.Selection) bool {
			href := strings.TrimSpace(a.AttrOr("href", ""))
			if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
				return true
			}
			found = navigate.Resolve(base, href)
			return found == ""
		})
		if found != "" {
			return found
		}
	}
	return ""
}

func (l layout) image(item *goquery.Selection, p domain.SiteProfile, base string) string {
	sel := "img, source"
	if h := p.Hint(domain.HintImage); h != "" {
		sel = h + ", " + sel
	}
	var found string
	item.Find(sel).EachWithBreak(func(_ int, img *goquery.Selection) bool {
		for _, attr := range l.imageAttrs {
			v := strings.TrimSpace(img.AttrOr(attr, ""))
			if strings.HasSuffix(attr, "srcset") {
				v = firstSrcsetURL(v)
			}
			if v == "" || strings.HasPrefix(v, "data:") {
				continue
			}
			if abs := navigate.Resolve(base, v); abs != "" {
				found = abs
				return false
			}
		}
		return true
	})
	return found
}

func firstSrcsetURL(srcset string) string {
	first, _, _ := strings.Cut(srcset, ",")
	fields := strings.Fields(first)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func firstText(item *goquery.Selection, selectors []string) string {
	for _, sel := range selectors {
		if t := collapse(item.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
