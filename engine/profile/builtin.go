package profile

import "github.com/WessleyAI/wessley-listings/engine/domain"

// Builtin returns the profiles shipped with the engine. Each call returns
// fresh values.
func Builtin() []domain.SiteProfile {
	return []domain.SiteProfile{
		{
			Domain:   "chileautos.cl",
			Group:    domain.GroupAggregatorPortal,
			Verified: true,
			Flags:    domain.FeatureFlags{HasPagination: true, HasLazyImages: true},
			SelectorHints: map[string]string{
				domain.HintContainer:    ".listing-items",
				domain.HintItem:         ".listing-item",
				domain.HintTitle:        "h3 a",
				domain.HintPrice:        ".price",
				domain.HintLink:         "h3 a",
				domain.HintDetails:      ".key-details",
				domain.HintNext:         "a.page-link.next",
				domain.HintSearchForm:   "form.search",
				domain.HintSearchInput:  "input[name=q]",
				domain.HintSearchSubmit: "button[type=submit]",
			},
		},
		{
			Domain:   "autocosmos.cl",
			Group:    domain.GroupAggregatorPortal,
			Verified: true,
			Flags:    domain.FeatureFlags{HasPagination: true},
			SelectorHints: map[string]string{
				domain.HintContainer: ".listing-container",
				domain.HintItem:      "article.listing-card",
				domain.HintTitle:     ".listing-card__title",
				domain.HintPrice:     ".listing-card__price",
				domain.HintLink:      "a.listing-card__link",
				domain.HintNext:      "a[rel=next]",
			},
		},
		{
			Domain:    "yapo.cl",
			Group:     domain.GroupComponentFramework,
			Verified:  true,
			Flags:     domain.FeatureFlags{HasInfiniteScroll: true, RequiresResponseIntercept: true, HasLazyImages: true},
			Endpoints: []string{"/api/v1/search", "/api/ads"},
			SelectorHints: map[string]string{
				domain.HintContainer: "[data-testid=listing-grid]",
				domain.HintItem:      "[data-testid=ad-card]",
				domain.HintTitle:     "h2",
				domain.HintPrice:     "[data-testid=price]",
			},
		},
		{
			Domain:   "mercadolibre.cl",
			Group:    domain.GroupSpecial,
			Verified: true,
			Flags:    domain.FeatureFlags{HasPagination: true, HasLazyImages: true},
			SelectorHints: map[string]string{
				domain.HintContainer: "ol.ui-search-layout",
				domain.HintItem:      "li.ui-search-layout__item",
				domain.HintTitle:     ".ui-search-item__title, .poly-component__title",
				domain.HintPrice:     ".andes-money-amount__fraction",
				domain.HintLink:      "a.ui-search-link, a.poly-component__title",
				domain.HintNext:      "li.andes-pagination__button--next a",
			},
		},
		{
			Domain:   "facebook.com",
			Group:    domain.GroupSpecial,
			Verified: false,
			Flags:    domain.FeatureFlags{HasInfiniteScroll: true},
		},
		{
			Domain:   "kovacs.cl",
			Group:    domain.GroupTemplateCMS,
			Verified: true,
			Flags:    domain.FeatureFlags{HasPagination: true, HasLazyImages: true},
			SelectorHints: map[string]string{
				domain.HintContainer: "ul.products",
				domain.HintItem:      "li.product",
				domain.HintTitle:     ".woocommerce-loop-product__title",
				domain.HintPrice:     ".price .amount",
				domain.HintLink:      "a.woocommerce-LoopProduct-link",
				domain.HintNext:      "a.next.page-numbers",
			},
		},
		{
			Domain:    "autofact.cl",
			Group:     domain.GroupComponentFramework,
			Verified:  false,
			Flags:     domain.FeatureFlags{RequiresResponseIntercept: true, HasInfiniteScroll: true},
			Endpoints: []string{"/api/vehicles"},
		},
		{
			Domain:   "automotorasantiago.cl",
			Group:    domain.GroupCustomRendered,
			Verified: true,
			Flags:    domain.FeatureFlags{HasPagination: true},
			SelectorHints: map[string]string{
				domain.HintContainer: "table.stock",
				domain.HintItem:      "tr.vehicle",
				domain.HintTitle:     "td.modelo",
				domain.HintPrice:     "td.precio",
				domain.HintLink:      "td.modelo a",
				domain.HintDetails:   "td.detalle",
			},
		},
	}
}
