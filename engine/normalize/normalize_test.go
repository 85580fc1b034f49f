package normalize

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WessleyAI/wessley-listings/engine/domain"
	"github.com/WessleyAI/wessley-listings/pkg/fn"
)

func TestCleanPrice(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"$ 25.500.000", 25500000, true},
		{"USD 18,500", 18500, true},
		{"$45.000.000.-", 45000000, true},
		{"1.234,56 €", 1234.56, true},
		{"1,234.56", 1234.56, true},
		{"US$ 19.99", 19.99, true},
		{"Precio: 12.990.000 CLP", 12990000, true},
		{"9500000", 9500000, true},
		{"Consultar", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := CleanPrice(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 0.001)
		})
	}
}

func TestExtractYear(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"Toyota Yaris 2019", 2019, true},
		{"Año 1990", 1990, true},
		{"2039 concept", 2039, true},
		{"1989 classic", 0, false},
		{"2040 future", 0, false},
		{"Ref 12019 then 2015", 2015, true},
		{"$25.500.000", 0, false},
		{"sin año", 0, false},
	}
	for _, tt := range tests {
		got, ok := ExtractYear(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestExtractMileage(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"45.000 km", 45000, true},
		{"120000kms · Bencina", 120000, true},
		{"Kilometraje: 87,500", 87500, true},
		{"Km: 3.200", 3200, true},
		{"30.500 kilómetros", 30500, true},
		{"Automático", 0, false},
	}
	for _, tt := range tests {
		got, ok := ExtractMileage(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestExtractBrandModel(t *testing.T) {
	tests := []struct {
		in         string
		brand      string
		model      string
		recognized bool
	}{
		{"Toyota Yaris 1.5 GLI 2019", "Toyota", "Yaris 1.5", true},
		{"2020 Chevrolet Sail LT", "Chevrolet", "Sail LT", true},
		{"Land Rover Defender 110", "Land Rover", "Defender 110", true},
		{"MG ZS 2022 Comfort", "MG", "ZS Comfort", true},
		{"Mercedes-Benz C200", "Mercedes-Benz", "C200", true},
		{"Great Wall Poer", "Great Wall", "Poer", true},
		{"Hyundai", "Hyundai", "", true},
		{"Camioneta Lada Niva", "", "", false},
		{"Seating for seven", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			b, m, ok := ExtractBrandModel(tt.in)
			assert.Equal(t, tt.recognized, ok)
			assert.Equal(t, tt.brand, b)
			assert.Equal(t, tt.model, m)
		})
	}
}

func TestGuessCurrency(t *testing.T) {
	assert.Equal(t, "USD", GuessCurrency("US$ 18.500"))
	assert.Equal(t, "USD", GuessCurrency("usd 18,500"))
	assert.Equal(t, "UF", GuessCurrency("UF 850"))
	assert.Equal(t, "EUR", GuessCurrency("12.000 €"))
	assert.Equal(t, "CLP", GuessCurrency("$ 9.990.000"))
	assert.Equal(t, "CLP", GuessCurrency("FUFU 10"))
}

func TestNormalize(t *testing.T) {
	c := domain.Candidate{
		DealerName:     "Autos Sur",
		SourceURL:      "https://autossur.cl/v/1",
		RawTitle:       "  Toyota   Yaris 2019 ",
		RawPriceText:   "$ 9.990.000",
		RawDetailsText: "45.000 km | Ubicación: Temuco",
		Source:         domain.SourceDOM,
	}
	rec, ok := Normalize(c)
	require.True(t, ok)
	assert.Equal(t, "Toyota Yaris 2019", rec.Title)
	require.NotNil(t, rec.PriceAmount)
	assert.Equal(t, 9990000.0, *rec.PriceAmount)
	assert.Equal(t, "CLP", rec.PriceCurrencyGuess)
	require.NotNil(t, rec.Year)
	assert.Equal(t, 2019, *rec.Year)
	require.NotNil(t, rec.MileageKm)
	assert.Equal(t, 45000, *rec.MileageKm)
	require.NotNil(t, rec.Brand)
	assert.Equal(t, "Toyota", *rec.Brand)
	require.NotNil(t, rec.Model)
	assert.Equal(t, "Yaris", *rec.Model)
	require.NotNil(t, rec.Location)
	assert.Equal(t, "Temuco", *rec.Location)
	assert.Equal(t, c, rec.Candidate)
}

func TestNormalizePartial(t *testing.T) {
	rec, ok := Normalize(domain.Candidate{RawTitle: "Lada Niva 2035", RawPriceText: "Consultar"})
	require.True(t, ok)
	assert.Nil(t, rec.PriceAmount)
	assert.Nil(t, rec.Year, "year beyond the record range is dropped")
	assert.Nil(t, rec.Brand)
	assert.Nil(t, rec.Model)
	assert.Nil(t, rec.MileageKm)
}

func TestNormalizeRejectsUntitled(t *testing.T) {
	_, ok := Normalize(domain.Candidate{RawTitle: "   ", RawPriceText: "$1.000"})
	assert.False(t, ok)
}

func TestRecordsDropsUntitledKeepsOrder(t *testing.T) {
	recs, err := Records(context.Background(), []domain.Candidate{
		{RawTitle: "Kia Rio", Index: 0},
		{RawTitle: "", Index: 1},
		{RawTitle: "Kia Morning", Index: 2},
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 0, recs[0].Candidate.Index)
	assert.Equal(t, 2, recs[1].Candidate.Index)
}

func TestRecordsReturnsStageError(t *testing.T) {
	orig := Stage
	t.Cleanup(func() { Stage = orig })
	Stage = func(context.Context, []domain.Candidate) fn.Result[[]domain.Record] {
		return fn.Errf[[]domain.Record]("batch rejected")
	}

	recs, err := Records(context.Background(), []domain.Candidate{{RawTitle: "Kia Rio"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch rejected")
	assert.Nil(t, recs)
}
