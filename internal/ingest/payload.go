package ingest

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/sells-group/lead-intake/internal/model"
)

// Lead is what the pipeline reads out of an inbound payload.
type Lead struct {
	Phone      string
	Profile    model.Profile
	OccurredAt time.Time
}

// Field aliases in lookup order. Meta lead-ads payloads carry answers as
// field_data[{name, values}].
var (
	phonePaths = []string{
		"phone", "phone_number", "phoneNumber", "mobile", "telephone", "tel",
		"contact.phone", "lead.phone",
		metaField("phone_number"), metaField("phone"),
	}
	firstNamePaths = []string{"first_name", "firstName", "contact.first_name", metaField("first_name")}
	lastNamePaths  = []string{"last_name", "lastName", "contact.last_name", metaField("last_name")}
	fullNamePaths  = []string{"full_name", "fullName", "name", "contact.name", metaField("full_name")}
	emailPaths     = []string{"email", "contact.email", metaField("email")}
	occurredPaths  = []string{"occurred_at", "created_time", "timestamp"}
)

func metaField(name string) string {
	return `field_data.#(name=="` + name + `").values.0`
}

// ParsePayload extracts the lead fields from a JSON object. It fails only
// when body is not a JSON object; a missing phone yields an empty Phone.
func ParsePayload(body []byte) (Lead, bool) {
	if !gjson.ValidBytes(body) {
		return Lead{}, false
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return Lead{}, false
	}

	return Lead{
		Phone: first(root, phonePaths),
		Profile: model.Profile{
			FirstName: first(root, firstNamePaths),
			LastName:  first(root, lastNamePaths),
			FullName:  first(root, fullNamePaths),
			Email:     first(root, emailPaths),
		},
		OccurredAt: occurredAt(root),
	}, true
}

func first(root gjson.Result, paths []string) string {
	for _, p := range paths {
		r := root.Get(p)
		if r.Type != gjson.String && r.Type != gjson.Number {
			continue
		}
		if s := strings.TrimSpace(r.String()); s != "" {
			return s
		}
	}
	return ""
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// occurredAt reads the upstream event time. Numbers are unix seconds, or
// milliseconds when too large to be seconds. Unparseable values give zero.
func occurredAt(root gjson.Result) time.Time {
	for _, p := range occurredPaths {
		r := root.Get(p)
		switch r.Type {
		case gjson.Number:
			n := r.Int()
			if n <= 0 {
				continue
			}
			if n > 1e12 {
				return time.UnixMilli(n).UTC()
			}
			return time.Unix(n, 0).UTC()
		case gjson.String:
			for _, layout := range timeLayouts {
				if t, err := time.Parse(layout, r.Str); err == nil {
					return t.UTC()
				}
			}
		}
	}
	return time.Time{}
}
