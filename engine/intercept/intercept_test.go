package intercept

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WessleyAI/wessley-listings/engine/browser"
	"github.com/WessleyAI/wessley-listings/engine/browser/browsertest"
	"github.com/WessleyAI/wessley-listings/engine/domain"
	"github.com/WessleyAI/wessley-listings/engine/normalize"
)

func TestParseItemsEnvelopes(t *testing.T) {
	tests := []struct {
		name string
		body string
		n    int
		ok   bool
	}{
		{"bare array", `[{"title":"a"},{"title":"b"}]`, 2, true},
		{"results", `{"results":[{"title":"a"}],"total":1}`, 1, true},
		{"data", `{"data":[{"title":"a"},{"title":"b"},{"title":"c"}]}`, 3, true},
		{"nested", `{"data":{"results":[{"title":"a"}]}}`, 1, true},
		{"non-object elements skipped", `[1,"x",{"title":"a"}]`, 1, true},
		{"object without list", `{"ok":true}`, 0, false},
		{"html", `<html></html>`, 0, false},
		{"too deep", `{"data":{"data":{"results":[{"title":"a"}]}}}`, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, ok := ParseItems([]byte(tt.body))
			assert.Equal(t, tt.ok, ok)
			assert.Len(t, items, tt.n)
		})
	}
}

func TestLooksLikeListingAPI(t *testing.T) {
	assert.True(t, LooksLikeListingAPI("https://a.cl/api/v2/vehicles?page=1"))
	assert.True(t, LooksLikeListingAPI("https://a.cl/API/Search"))
	assert.False(t, LooksLikeListingAPI("https://a.cl/vehicles.json"))
	assert.False(t, LooksLikeListingAPI("https://a.cl/api/session"))
}

func TestMatcherEndpoints(t *testing.T) {
	m := Matcher(domain.SiteProfile{Endpoints: []string{"/graphql?op=Listings"}})
	assert.True(t, m("https://a.cl/graphql?op=Listings&v=1"))
	assert.True(t, m("https://a.cl/api/autos"))
	assert.False(t, m("https://a.cl/graphql?op=User"))
}

func TestItemCandidateAliases(t *testing.T) {
	item := map[string]any{
		"name":      "Suzuki Swift 2021",
		"precio":    float64(10990000),
		"permalink": "/autos/suzuki-swift-2021",
		"images":    []any{map[string]any{"url": "//cdn.a.cl/1.jpg"}},
		"km":        "25.000 km",
		"year":      float64(2021),
		"location":  nil,
	}
	c, ok := ItemCandidate(item, "Autos Sur", "https://a.cl/stock")
	require.True(t, ok)
	assert.Equal(t, "Suzuki Swift 2021", c.RawTitle)
	assert.Equal(t, "10990000", c.RawPriceText)
	assert.Equal(t, "https://a.cl/autos/suzuki-swift-2021", c.SourceURL)
	assert.Equal(t, "https://cdn.a.cl/1.jpg", c.ImageURL)
	assert.Equal(t, "25.000 km | 2021", c.RawDetailsText)
	assert.Equal(t, domain.SourceInterceptedAPI, c.Source)
	assert.Equal(t, "Autos Sur", c.DealerName)
}

func TestItemCandidateNumericPrices(t *testing.T) {
	items, ok := ParseItems([]byte(`[
		{"title":"Kia Rio 2020","price":18500.5},
		{"title":"Ford Ranger 2022","price":12345678.5},
		{"title":"Toyota Yaris 2019","price":9990000}
	]`))
	require.True(t, ok)
	require.Len(t, items, 3)

	tests := []struct {
		raw  string
		want float64
	}{
		{"18500.50", 18500.5},
		{"12345678.50", 12345678.5},
		{"9990000", 9990000},
	}
	for i, tt := range tests {
		c, ok := ItemCandidate(items[i], "Autos Sur", "https://a.cl/stock")
		require.True(t, ok)
		assert.Equal(t, tt.raw, c.RawPriceText)
		got, ok := normalize.CleanPrice(c.RawPriceText)
		require.True(t, ok)
		assert.Equal(t, tt.want, got, c.RawTitle)
	}
}

func TestItemCandidateTitlePriority(t *testing.T) {
	c, ok := ItemCandidate(map[string]any{"model": "Yaris", "title": "Toyota Yaris", "name": nil}, "d", "")
	require.True(t, ok)
	assert.Equal(t, "Toyota Yaris", c.RawTitle)

	_, ok = ItemCandidate(map[string]any{"price": "1000"}, "d", "")
	assert.False(t, ok)
}

func TestCaptureFromPage(t *testing.T) {
	const page = "https://a.cl/autos"
	p := browsertest.New(map[string]string{page: "<html></html>"})
	p.Responses = map[string][]browser.Response{page: {
		{URL: "https://a.cl/api/vehicles?page=1", Status: 200, Body: []byte(`{"results":[{"title":"Kia Rio","url":"/v/1"},{"name":""}]}`)},
		{URL: "https://a.cl/api/vehicles?page=2", Status: 500, Body: []byte(`{"results":[{"title":"x"}]}`)},
		{URL: "https://a.cl/static/app.js", Status: 200, Body: []byte(`[{"title":"ignored"}]`)},
		{URL: "https://a.cl/api/cars", Status: 200, Body: []byte(`not json`)},
	}}
	capture, err := Attach(p, domain.SiteProfile{}, Options{})
	require.NoError(t, err)
	require.NoError(t, p.Navigate(context.Background(), page))

	cands := capture.Candidates("Dealer", page)
	require.Len(t, cands, 1)
	assert.Equal(t, "https://a.cl/v/1", cands[0].SourceURL)
	assert.Equal(t, 0, cands[0].Index)

	capture.Detach()
	assert.Equal(t, 0, p.Subscribers())
	p.Emit(browser.Response{URL: "https://a.cl/api/cars", Status: 200, Body: []byte(`[{"title":"late"}]`)})
	assert.Len(t, capture.Payloads(), 1, "detached capture must not grow")
	capture.Detach()
}

func TestCaptureBounded(t *testing.T) {
	p := browsertest.New(nil)
	capture, err := Attach(p, domain.SiteProfile{}, Options{MaxPayloads: 2, MaxBodyBytes: 64})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		p.Emit(browser.Response{URL: "https://a.cl/api/autos", Status: 200, Body: []byte(fmt.Sprintf(`[{"title":"car %d"}]`, i))})
	}
	big := make([]byte, 100)
	p.Emit(browser.Response{URL: "https://a.cl/api/autos", Status: 200, Body: big})

	assert.Len(t, capture.Payloads(), 2)
	assert.Equal(t, 2, capture.Dropped())
	cands := capture.Candidates("d", "https://a.cl")
	require.Len(t, cands, 2)
	assert.Equal(t, "car 0", cands[0].RawTitle)
	assert.Equal(t, 1, cands[1].Index)
}
