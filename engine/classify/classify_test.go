package classify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/WessleyAI/wessley-listings/engine/browser"
	"github.com/WessleyAI/wessley-listings/engine/browser/browsertest"
	"github.com/WessleyAI/wessley-listings/engine/domain"
)

func classifyHTML(t *testing.T, html string) Classification {
	t.Helper()
	p := browsertest.New(map[string]string{"https://d.cl": html})
	if err := p.Navigate(context.Background(), "https://d.cl"); err != nil {
		t.Fatal(err)
	}
	return Classify(context.Background(), p)
}

func TestClassifyGroups(t *testing.T) {
	tests := []struct {
		name string
		html string
		want domain.TechGroup
	}{
		{"next", `<html><body><div id="__next"><div>x</div></div></body></html>`, domain.GroupComponentFramework},
		{"vue", `<html><body><div data-v-7ba5bd90 class="card"></div></body></html>`, domain.GroupComponentFramework},
		{"spa root", `<html><body><div id="app"><main></main></div></body></html>`, domain.GroupComponentFramework},
		{"wordpress", `<html><head><meta name="generator" content="WordPress 6.4"></head><body></body></html>`, domain.GroupTemplateCMS},
		{"wp-content", `<html><body><img src="/wp-content/uploads/a.jpg"></body></html>`, domain.GroupTemplateCMS},
		{"custom", `<html><body><div class="vehiculo"><h3>Kia</h3></div></body></html>`, domain.GroupCustomRendered},
		{"aggregator", `<html><body><form><select name="marca"></select></form><p>1.234 resultados</p></body></html>`, domain.GroupAggregatorPortal},
		{"social", `<html><body><a href="https://facebook.com/marketplace/item/1">x</a></body></html>`, domain.GroupSpecial},
		{"nothing", `<html><body><p>hola</p></body></html>`, domain.GroupSpecial},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyHTML(t, tt.html).Group)
		})
	}
}

func TestClassifyPriorityAndSignals(t *testing.T) {
	// A Next.js site that also links rel=next pages is a component-framework site.
	c := classifyHTML(t, `<html><head><link rel="next" href="/p2"></head><body><div id="__next"></div><img src="/wp-content/x.jpg"></body></html>`)
	assert.Equal(t, domain.GroupComponentFramework, c.Group)
	assert.Contains(t, c.Signals, "component-framework:next-root")
	assert.Contains(t, c.Signals, "template-cms:wp-content")
	assert.Contains(t, c.Signals, "aggregator-portal:rel-next")
}

type failingPage struct{ browser.Page }

func (failingPage) HTML(context.Context) (string, error) { return "", errors.New("target closed") }

func TestClassifySnapshotFailureDegrades(t *testing.T) {
	c := Classify(context.Background(), failingPage{})
	assert.Equal(t, domain.GroupSpecial, c.Group)
	assert.Equal(t, []string{"snapshot-failed"}, c.Signals)
	assert.False(t, c.Matched())
}

func TestMatched(t *testing.T) {
	assert.False(t, classifyHTML(t, `<html><body><p>hola</p></body></html>`).Matched())
	assert.True(t, classifyHTML(t, `<html><body><a href="https://facebook.com/marketplace/item/1">x</a></body></html>`).Matched())
}

func TestShouldOverride(t *testing.T) {
	assert.True(t, ShouldOverride(domain.SiteProfile{Generic: true, Verified: true}))
	assert.True(t, ShouldOverride(domain.SiteProfile{Verified: false}))
	assert.False(t, ShouldOverride(domain.SiteProfile{Verified: true}))
}
