// Package normalize turns raw listing candidates into typed vehicle records.
// All functions are pure and safe for concurrent use.
package normalize

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/WessleyAI/wessley-listings/engine/domain"
	"github.com/WessleyAI/wessley-listings/pkg/fn"
)

const (
	minExtractYear = 1990
	maxExtractYear = 2039

	// MinRecordYear and MaxRecordYear bound the years kept on a Record.
	MinRecordYear = 1990
	MaxRecordYear = 2030

	// DefaultCurrency is assumed when the price text names no currency.
	DefaultCurrency = "CLP"
)

var (
	priceTokenRe = regexp.MustCompile(`\d[\d.,]*`)
	digitRunRe   = regexp.MustCompile(`\d+`)
	mileageRe    = regexp.MustCompile(`(?i)(\d{1,3}(?:[.,]\d{3})+|\d+)\s*(?:km|kms|kilómetros|kilometros)\b`)
	mileageLblRe = regexp.MustCompile(`(?i)(?:km|kilometraje)\s*:\s*(\d{1,3}(?:[.,]\d{3})+|\d+)`)
	locationRe   = regexp.MustCompile(`(?i)(?:ubicaci[oó]n|ciudad|comuna|regi[oó]n|location)\s*:\s*([^|\n;]+)`)
	ufRe         = regexp.MustCompile(`\bUF\b`)
)

// CleanPrice parses the first numeric token of text as an amount.
//
// When both '.' and ',' appear, the last one is the decimal separator. When
// only one kind appears it is a thousands separator unless its last
// occurrence is followed by exactly two digits.
func CleanPrice(text string) (float64, bool) {
	tok := priceTokenRe.FindString(text)
	tok = strings.TrimRight(tok, ".,")
	if tok == "" {
		return 0, false
	}

	lastDot := strings.LastIndexByte(tok, '.')
	lastComma := strings.LastIndexByte(tok, ',')
	var intPart, frac string
	switch {
	case lastDot >= 0 && lastComma >= 0:
		dec := max(lastDot, lastComma)
		intPart, frac = tok[:dec], tok[dec+1:]
	case lastDot >= 0 || lastComma >= 0:
		idx := max(lastDot, lastComma)
		if len(tok)-idx-1 == 2 {
			intPart, frac = tok[:idx], tok[idx+1:]
		} else {
			intPart = tok
		}
	default:
		intPart = tok
	}

	intPart = strings.NewReplacer(".", "", ",", "").Replace(intPart)
	s := intPart
	if frac != "" {
		s += "." + frac
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ExtractYear returns the first standalone run of exactly four digits whose
// value lies in 1990..2039.
func ExtractYear(text string) (int, bool) {
	for _, run := range digitRunRe.FindAllString(text, -1) {
		if len(run) != 4 {
			continue
		}
		if y, ok := parseYear(run); ok && y >= minExtractYear && y <= maxExtractYear {
			return y, true
		}
	}
	return 0, false
}

func parseYear(s string) (int, bool) {
	y, err := strconv.Atoi(s)
	return y, err == nil
}

// ExtractMileage finds a number followed by a km unit, or following a
// "km:"/"kilometraje:" label.
func ExtractMileage(text string) (int, bool) {
	m := mileageRe.FindStringSubmatch(text)
	if m == nil {
		m = mileageLblRe.FindStringSubmatch(text)
	}
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.NewReplacer(".", "", ",", "").Replace(m[1]))
	if err != nil {
		return 0, false
	}
	return n, true
}

// ExtractLocation returns the value of a labelled location field.
func ExtractLocation(text string) (string, bool) {
	m := locationRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	loc := strings.TrimSpace(m[1])
	return loc, loc != ""
}

// GuessCurrency names the currency written in a price text, or CLP.
func GuessCurrency(text string) string {
	up := strings.ToUpper(text)
	switch {
	case strings.Contains(up, "US$"), strings.Contains(up, "USD"):
		return "USD"
	case ufRe.MatchString(up):
		return "UF"
	case strings.Contains(up, "EUR"), strings.Contains(text, "€"):
		return "EUR"
	case strings.Contains(text, "£"):
		return "GBP"
	}
	return DefaultCurrency
}

// Normalize maps one candidate to a record. It reports false when the
// candidate has no title, since such a candidate can never become a record.
func Normalize(c domain.Candidate) (domain.Record, bool) {
	title := strings.Join(strings.Fields(c.RawTitle), " ")
	if title == "" {
		return domain.Record{}, false
	}
	rec := domain.Record{
		Title:              title,
		PriceCurrencyGuess: GuessCurrency(c.RawPriceText),
		Candidate:          c,
	}
	if p, ok := CleanPrice(c.RawPriceText); ok {
		rec.PriceAmount = &p
	}

	yearText := title + " " + c.RawDetailsText
	if y, ok := ExtractYear(yearText); ok && y >= MinRecordYear && y <= MaxRecordYear {
		rec.Year = &y
	}
	if km, ok := ExtractMileage(c.RawDetailsText); ok {
		rec.MileageKm = &km
	} else if km, ok := ExtractMileage(title); ok {
		rec.MileageKm = &km
	}
	if brand, model, ok := ExtractBrandModel(title); ok {
		rec.Brand = &brand
		if model != "" {
			rec.Model = &model
		}
	}
	if loc, ok := ExtractLocation(c.RawDetailsText); ok {
		rec.Location = &loc
	}
	return rec, true
}

// All normalizes candidates in order, dropping untitled ones.
func All(candidates []domain.Candidate) []domain.Record {
	out := make([]domain.Record, 0, len(candidates))
	for _, c := range candidates {
		if rec, ok := Normalize(c); ok {
			out = append(out, rec)
		}
	}
	return out
}

// Stage is the traced pipeline form of All.
var Stage = fn.TracedStage("normalize.records", fn.MapStage(All))

// Records runs Stage and unwraps the result.
func Records(ctx context.Context, candidates []domain.Candidate) ([]domain.Record, error) {
	recs, err := Stage(ctx, candidates).Unwrap()
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	return recs, nil
}
