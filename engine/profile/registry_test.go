package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WessleyAI/wessley-listings/engine/domain"
)

func TestNormalizeDomain(t *testing.T) {
	tests := map[string]string{
		"https://www.ChileAutos.cl/vehiculos?page=2": "chileautos.cl",
		"http://user:pw@autos.example.cl:8080/x":     "autos.example.cl",
		"WWW.Kovacs.cl":                              "kovacs.cl",
		"kovacs.cl/stock":                            "kovacs.cl",
		"":                                           "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeDomain(in), in)
	}
}

func TestResolveExact(t *testing.T) {
	r := NewRegistry()
	p := r.Resolve("https://www.chileautos.cl/vehiculos/autos")
	assert.Equal(t, "chileautos.cl", p.Domain)
	assert.Equal(t, domain.GroupAggregatorPortal, p.Group)
	assert.False(t, p.Generic)
}

func TestResolveContainmentLongestWins(t *testing.T) {
	r := NewRegistry(
		domain.SiteProfile{Domain: "autos.cl", Group: domain.GroupTemplateCMS},
		domain.SiteProfile{Domain: "sur.autos.cl", Group: domain.GroupCustomRendered},
	)
	p := r.Resolve("https://stock.sur.autos.cl/usados")
	assert.Equal(t, "sur.autos.cl", p.Domain)
	assert.Equal(t, domain.GroupCustomRendered, p.Group)

	p = r.Resolve("https://norte.autos.cl")
	assert.Equal(t, "autos.cl", p.Domain)
}

func TestResolveGenericFallback(t *testing.T) {
	r := NewRegistry()
	p := r.Resolve("https://unknown-dealer.cl")
	assert.True(t, p.Generic)
	assert.False(t, p.Verified)
	assert.Equal(t, "unknown-dealer.cl", p.Domain)
	assert.NotEmpty(t, p.Hint(domain.HintItem))

	assert.True(t, r.Resolve("::::").Generic)
}

func TestExtraProfilesOverrideBuiltin(t *testing.T) {
	r := NewRegistry(domain.SiteProfile{Domain: "www.yapo.cl", Group: domain.GroupCustomRendered})
	p := r.Resolve("yapo.cl")
	assert.Equal(t, domain.GroupCustomRendered, p.Group)
	assert.Equal(t, len(Builtin()), r.Len())
}

func TestResolveReturnsCopies(t *testing.T) {
	r := NewRegistry()
	p := r.Resolve("kovacs.cl")
	require.NotNil(t, p.SelectorHints)
	p.SelectorHints[domain.HintItem] = "mutated"
	assert.NotEqual(t, "mutated", r.Resolve("kovacs.cl").Hint(domain.HintItem))
}

func TestProfilesSorted(t *testing.T) {
	ps := NewRegistry().Profiles()
	for i := 1; i < len(ps); i++ {
		assert.Less(t, ps[i-1].Domain, ps[i].Domain)
	}
}
