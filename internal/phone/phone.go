// Package phone normalizes raw phone strings into the canonical identity key
// used to deduplicate contacts within a tenant.
package phone

import (
	"sort"
	"strings"
)

// Result is the canonical form of a raw phone string.
type Result struct {
	// Normalized is the digits-only international form (calling code + national number).
	Normalized string `json:"normalized"`
	// CountryCode is the calling code without the leading "+", e.g. "39".
	CountryCode string `json:"country_code"`
	// AssumedCountry reports that CountryCode came from the default country
	// rather than from a prefix present in the raw string.
	AssumedCountry bool `json:"assumed_country"`
}

// Empty reports whether the raw input carried no digits at all.
func (r Result) Empty() bool {
	return r.Normalized == ""
}

// country describes the national numbering plan of one calling code.
type country struct {
	code   string // calling code
	minLen int    // shortest national significant number
	maxLen int    // longest national significant number
	trunk  string // national trunk prefix dropped when dialing internationally
}

// countries maps ISO 3166-1 alpha-2 codes to numbering plans.
var countries = map[string]country{
	"US": {code: "1", minLen: 10, maxLen: 10, trunk: "1"},
	"CA": {code: "1", minLen: 10, maxLen: 10, trunk: "1"},
	"IT": {code: "39", minLen: 6, maxLen: 11},
	"SM": {code: "378", minLen: 6, maxLen: 10},
	"GB": {code: "44", minLen: 9, maxLen: 10, trunk: "0"},
	"IE": {code: "353", minLen: 7, maxLen: 9, trunk: "0"},
	"FR": {code: "33", minLen: 9, maxLen: 9, trunk: "0"},
	"DE": {code: "49", minLen: 6, maxLen: 13, trunk: "0"},
	"ES": {code: "34", minLen: 9, maxLen: 9},
	"PT": {code: "351", minLen: 9, maxLen: 9},
	"CH": {code: "41", minLen: 9, maxLen: 9, trunk: "0"},
	"AT": {code: "43", minLen: 4, maxLen: 13, trunk: "0"},
	"BE": {code: "32", minLen: 8, maxLen: 9, trunk: "0"},
	"NL": {code: "31", minLen: 9, maxLen: 9, trunk: "0"},
	"LU": {code: "352", minLen: 4, maxLen: 11},
	"MT": {code: "356", minLen: 8, maxLen: 8},
	"AL": {code: "355", minLen: 8, maxLen: 9, trunk: "0"},
	"RO": {code: "40", minLen: 9, maxLen: 9, trunk: "0"},
	"PL": {code: "48", minLen: 9, maxLen: 9},
	"GR": {code: "30", minLen: 10, maxLen: 10},
	"SE": {code: "46", minLen: 7, maxLen: 9, trunk: "0"},
	"BR": {code: "55", minLen: 10, maxLen: 11, trunk: "0"},
	"MX": {code: "52", minLen: 10, maxLen: 10},
	"AR": {code: "54", minLen: 10, maxLen: 11, trunk: "0"},
	"AE": {code: "971", minLen: 8, maxLen: 9, trunk: "0"},
	"IN": {code: "91", minLen: 10, maxLen: 10, trunk: "0"},
	"AU": {code: "61", minLen: 9, maxLen: 9, trunk: "0"},
}

// DefaultCountry is used when a tenant has no configured default country.
const DefaultCountry = "IT"

// prefixes holds every known calling code, longest first, with the widest
// national length range among the countries sharing it.
var prefixes = buildPrefixes()

func buildPrefixes() []country {
	byCode := make(map[string]country)
	for _, c := range countries {
		cur, ok := byCode[c.code]
		if !ok {
			byCode[c.code] = c
			continue
		}
		cur.minLen = min(cur.minLen, c.minLen)
		cur.maxLen = max(cur.maxLen, c.maxLen)
		byCode[c.code] = cur
	}

	out := make([]country, 0, len(byCode))
	for _, c := range byCode {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].code) != len(out[j].code) {
			return len(out[i].code) > len(out[j].code)
		}
		return out[i].code < out[j].code
	})
	return out
}

// KnownCountry reports whether iso names a country in the numbering table.
func KnownCountry(iso string) bool {
	_, ok := countries[strings.ToUpper(strings.TrimSpace(iso))]
	return ok
}

// Normalize converts raw into its canonical form, assuming defaultCountry
// (ISO alpha-2) when no international prefix can be recognized. It never
// fails: unrecognized formats come back with AssumedCountry set, and input
// without digits yields an empty Result.
//
// Prefix detection only runs when raw carries an explicit international
// marker ("+" or "00") or has more digits than the default country's longest
// national number. Everything else is read as a national number of the
// default country, so the same digits always map to the same key.
func Normalize(raw, defaultCountry string) Result {
	def, ok := countries[strings.ToUpper(strings.TrimSpace(defaultCountry))]
	if !ok {
		def = countries[DefaultCountry]
	}

	trimmed := strings.TrimSpace(raw)
	digits := digitsOnly(trimmed)
	if digits == "" {
		return Result{}
	}

	explicit := strings.HasPrefix(trimmed, "+")
	if !explicit && strings.HasPrefix(digits, "00") {
		explicit = true
		digits = digits[2:]
	}

	if explicit || len(digits) > def.maxLen {
		for _, p := range prefixes {
			if !strings.HasPrefix(digits, p.code) {
				continue
			}
			national := digits[len(p.code):]
			if len(national) >= p.minLen && len(national) <= p.maxLen {
				return Result{
					Normalized:  p.code + national,
					CountryCode: p.code,
				}
			}
		}
	}

	national := digits
	if def.trunk != "" && len(national) > def.maxLen && strings.HasPrefix(national, def.trunk) {
		national = national[len(def.trunk):]
	} else if def.trunk == "0" && strings.HasPrefix(national, "0") && len(national)-1 >= def.minLen {
		national = national[1:]
	}

	return Result{
		Normalized:     def.code + national,
		CountryCode:    def.code,
		AssumedCountry: true,
	}
}

// Plausible reports whether the normalized number has enough digits to be a
// dialable identity key.
func (r Result) Plausible() bool {
	n := len(r.Normalized) - len(r.CountryCode)
	return r.Normalized != "" && n >= 4 && len(r.Normalized) <= 15
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
