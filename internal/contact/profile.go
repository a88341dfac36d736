package contact

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/lead-intake/internal/model"
)

var (
	validate = validator.New()
	lower    = cases.Lower(language.Und)
)

// SanitizeProfile trims and NFC-normalizes names, lowercases the email and
// drops it when it is not a plausible address. A missing full name is built
// from the first and last names.
func SanitizeProfile(p model.Profile) model.Profile {
	out := model.Profile{
		FirstName: cleanName(p.FirstName),
		LastName:  cleanName(p.LastName),
		FullName:  cleanName(p.FullName),
		Email:     lower.String(strings.TrimSpace(p.Email)),
	}
	if out.Email != "" && validate.Var(out.Email, "email") != nil {
		out.Email = ""
	}
	if out.FullName == "" {
		out.FullName = strings.TrimSpace(out.FirstName + " " + out.LastName)
	}
	return out
}

func cleanName(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

// MergeProfile fills empty fields of existing from incoming. Non-empty
// stored values are never replaced, and empty incoming values never clear
// anything. It reports whether any field changed.
func MergeProfile(existing, incoming model.Profile) (model.Profile, bool) {
	changed := false
	fill := func(dst *string, src string) {
		if *dst == "" && src != "" {
			*dst = src
			changed = true
		}
	}
	fill(&existing.FirstName, incoming.FirstName)
	fill(&existing.LastName, incoming.LastName)
	fill(&existing.FullName, incoming.FullName)
	fill(&existing.Email, incoming.Email)
	return existing, changed
}
