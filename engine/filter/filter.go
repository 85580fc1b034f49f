// Package filter applies run-wide bounds to normalized records.
package filter

import "github.com/WessleyAI/wessley-listings/engine/domain"

// Apply keeps records whose known price and year fall inside cfg's bounds.
// A missing value is never a reason to drop a record. MaxPerDealer keeps
// the first N survivors of each dealer in input order.
func Apply(records []domain.Record, cfg domain.FilterConfig) []domain.Record {
	out := make([]domain.Record, 0, len(records))
	perDealer := make(map[string]int)
	for _, r := range records {
		if !inBounds(r, cfg) {
			continue
		}
		if cfg.MaxPerDealer > 0 {
			dealer := r.Candidate.DealerName
			if perDealer[dealer] >= cfg.MaxPerDealer {
				continue
			}
			perDealer[dealer]++
		}
		out = append(out, r)
	}
	return out
}

func inBounds(r domain.Record, cfg domain.FilterConfig) bool {
	if p := r.PriceAmount; p != nil {
		if cfg.PriceMin != nil && *p < *cfg.PriceMin {
			return false
		}
		if cfg.PriceMax != nil && *p > *cfg.PriceMax {
			return false
		}
	}
	if y := r.Year; y != nil {
		if cfg.YearMin != nil && *y < *cfg.YearMin {
			return false
		}
		if cfg.YearMax != nil && *y > *cfg.YearMax {
			return false
		}
	}
	return true
}
