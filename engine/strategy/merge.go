package strategy

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/WessleyAI/wessley-listings/engine/domain"
)

// titleSimilarity is the Jaro-Winkler score above which two URL-less
// candidates of the same dealer are taken to be the same listing.
const titleSimilarity = 0.93

// Merge combines intercepted and DOM candidates. Intercepted candidates come
// first and win on conflicts; DOM fields fill what the API left empty.
// Candidates are matched by source URL, and URL-less ones by fuzzy title.
func Merge(api, dom []domain.Candidate) []domain.Candidate {
	out := make([]domain.Candidate, 0, len(api)+len(dom))
	byURL := make(map[string]int)
	add := func(c domain.Candidate) {
		if i, ok := match(out, byURL, c); ok {
			out[i] = fill(out[i], c)
			if out[i].SourceURL != "" {
				byURL[out[i].SourceURL] = i
			}
			return
		}
		if c.SourceURL != "" {
			byURL[c.SourceURL] = len(out)
		}
		out = append(out, c)
	}
	for _, c := range api {
		add(c)
	}
	for _, c := range dom {
		add(c)
	}
	return reindex(out)
}

func match(out []domain.Candidate, byURL map[string]int, c domain.Candidate) (int, bool) {
	if c.SourceURL != "" {
		if i, ok := byURL[c.SourceURL]; ok {
			return i, true
		}
	}
	title := normTitle(c.RawTitle)
	for i, o := range out {
		// Fuzzy matching only pairs a candidate with one from the other
		// source where at least one side has no URL.
		if o.Source == c.Source || (o.SourceURL != "" && c.SourceURL != "") {
			continue
		}
		if matchr.JaroWinkler(title, normTitle(o.RawTitle), false) >= titleSimilarity {
			return i, true
		}
	}
	return 0, false
}

// fill copies into dst the fields it lacks from src.
func fill(dst, src domain.Candidate) domain.Candidate {
	if dst.SourceURL == "" {
		dst.SourceURL = src.SourceURL
	}
	if dst.RawPriceText == "" {
		dst.RawPriceText = src.RawPriceText
	}
	if dst.RawDetailsText == "" {
		dst.RawDetailsText = src.RawDetailsText
	}
	if dst.ImageURL == "" {
		dst.ImageURL = src.ImageURL
	}
	return dst
}

func normTitle(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// dedupe drops repeated source URLs, keeping the first occurrence.
func dedupe(cands []domain.Candidate) []domain.Candidate {
	seen := make(map[string]bool, len(cands))
	out := cands[:0:0]
	for _, c := range cands {
		if c.SourceURL != "" {
			if seen[c.SourceURL] {
				continue
			}
			seen[c.SourceURL] = true
		}
		out = append(out, c)
	}
	return out
}

// reindex renumbers candidates in their current order.
func reindex(cands []domain.Candidate) []domain.Candidate {
	for i := range cands {
		cands[i].Index = i
	}
	return cands
}
