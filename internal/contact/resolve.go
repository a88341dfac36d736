// Package contact owns the one-contact-per-identifying-phone rule within a
// tenant.
package contact

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/store"
)

// PhoneFinder looks up the active phone row for a normalized number.
type PhoneFinder interface {
	FindActivePhone(ctx context.Context, tenantID, normalized string) (*model.ContactPhone, error)
}

// Match identifies the contact that owns a number.
type Match struct {
	ContactID string
	PhoneID   string
}

// Resolve returns the owner of the active phone row for normalized, if any.
// Callers pass the transaction they will write through so the lookup and
// any following insert form one unit.
func Resolve(ctx context.Context, q PhoneFinder, tenantID, normalized string) (Match, bool, error) {
	p, err := q.FindActivePhone(ctx, tenantID, normalized)
	if store.IsNotFound(err) {
		return Match{}, false, nil
	}
	if err != nil {
		return Match{}, false, eris.Wrap(err, "contact: resolve")
	}
	return Match{ContactID: p.ContactID, PhoneID: p.ID}, true, nil
}
