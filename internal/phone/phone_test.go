package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		country string
		want    string
		code    string
		assumed bool
	}{
		{"italian mobile with plus", "+39 333 123 4567", "IT", "393331234567", "39", false},
		{"italian mobile national", "3331234567", "IT", "393331234567", "39", true},
		{"italian mobile with 00", "0039 333 1234567", "IT", "393331234567", "39", false},
		{"italian mobile without marker but full length", "393331234567", "IT", "393331234567", "39", false},
		{"italian landline keeps leading zero", "06 1234 5678", "IT", "390612345678", "39", true},
		{"us formatted", "(555) 123-4567", "US", "15551234567", "1", true},
		{"us with country code", "1 555 123 4567", "US", "15551234567", "1", false},
		{"uk trunk prefix", "07911 123456", "GB", "447911123456", "44", true},
		{"uk international", "+44 7911 123456", "GB", "447911123456", "44", false},
		{"foreign number under italian default", "+44 7911 123456", "IT", "447911123456", "44", false},
		{"french trunk", "06 12 34 56 78", "FR", "33612345678", "33", true},
		{"unknown default falls back to IT", "3331234567", "ZZ", "393331234567", "39", true},
		{"lowercase country", "3331234567", "it", "393331234567", "39", true},
		{"unrecognized international prefix", "+7 912 345 6789", "IT", "3979123456789", "39", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.raw, tt.country)
			assert.Equal(t, tt.want, got.Normalized)
			assert.Equal(t, tt.code, got.CountryCode)
			assert.Equal(t, tt.assumed, got.AssumedCountry)
		})
	}
}

func TestNormalize_FormatIdempotence(t *testing.T) {
	a := Normalize("+39 333 123 4567", "IT")
	b := Normalize("3331234567", "IT")
	assert.Equal(t, a.Normalized, b.Normalized)

	again := Normalize(a.Normalized, "IT")
	assert.Equal(t, a.Normalized, again.Normalized)
}

func TestNormalize_NoDigits(t *testing.T) {
	for _, raw := range []string{"", "   ", "n/a", "+"} {
		got := Normalize(raw, "IT")
		assert.True(t, got.Empty(), raw)
		assert.False(t, got.Plausible(), raw)
	}
}

func TestPlausible(t *testing.T) {
	assert.True(t, Normalize("3331234567", "IT").Plausible())
	assert.False(t, Normalize("12", "IT").Plausible())
	assert.False(t, Normalize("+39 1234567890123456", "IT").Plausible())
}

func TestPrefixesLongestFirst(t *testing.T) {
	for i := 1; i < len(prefixes); i++ {
		assert.GreaterOrEqual(t, len(prefixes[i-1].code), len(prefixes[i].code))
	}
}

func TestKnownCountry(t *testing.T) {
	assert.True(t, KnownCountry("it"))
	assert.True(t, KnownCountry(" GB "))
	assert.False(t, KnownCountry("XX"))
}
