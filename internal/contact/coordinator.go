package contact

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/keylock"
	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/phone"
	"github.com/sells-group/lead-intake/internal/resilience"
	"github.com/sells-group/lead-intake/internal/store"
)

var (
	// ErrInvalidIdentity means the signal carries no usable phone number.
	ErrInvalidIdentity = eris.New("contact: invalid identity")
	// ErrPhoneInUse means another active phone row already holds the number.
	ErrPhoneInUse = eris.New("contact: phone already in use")
	// ErrPhoneInactive means the phone row was already replaced.
	ErrPhoneInactive = eris.New("contact: phone is not active")
)

// Identity is a phone number as received plus its normalized form.
type Identity struct {
	TenantID string
	Raw      string
	Phone    phone.Result
}

// Key returns the serialization key for the identity.
func (id Identity) Key() string {
	return id.TenantID + "|" + id.Phone.Normalized
}

func (id Identity) validate() error {
	if id.TenantID == "" {
		return eris.Wrap(ErrInvalidIdentity, "contact: tenant is required")
	}
	if id.Phone.Empty() {
		return eris.Wrap(ErrInvalidIdentity, "contact: phone is required")
	}
	if !id.Phone.Plausible() {
		return eris.Wrapf(ErrInvalidIdentity, "contact: implausible phone %q", id.Phone.Normalized)
	}
	return nil
}

// UpsertInput is one signal's claim on an identity.
type UpsertInput struct {
	Identity
	Profile model.Profile
}

// Outcome reports what Upsert did.
type Outcome struct {
	ContactID string
	PhoneID   string
	Created   bool
	// Reactivated is set when an archived contact came back to active.
	Reactivated bool
}

// Coordinator creates or reuses contacts so that each active normalized
// number within a tenant maps to exactly one contact.
type Coordinator struct {
	store store.Store
	locks *keylock.Table
	retry resilience.RetryPolicy
}

// NewCoordinator creates a Coordinator. locks may be nil, in which case only
// the store's unique index serializes writers.
func NewCoordinator(s store.Store, locks *keylock.Table, retry resilience.RetryPolicy) *Coordinator {
	return &Coordinator{store: s, locks: locks, retry: retry}
}

// Upsert attaches the signal to the contact owning in.Phone, creating the
// contact and its primary phone when nobody owns it yet.
func (c *Coordinator) Upsert(ctx context.Context, in UpsertInput) (Outcome, error) {
	if err := in.validate(); err != nil {
		return Outcome{}, err
	}
	profile := SanitizeProfile(in.Profile)

	unlock, err := c.locks.Lock(ctx, in.Key())
	if err != nil {
		return Outcome{}, eris.Wrap(err, "contact: acquire identity lock")
	}
	defer unlock()

	out, err := resilience.DoVal(ctx, c.policy("contact.upsert", in.TenantID), func(ctx context.Context) (Outcome, error) {
		var out Outcome
		err := c.store.InTx(ctx, func(tx store.Tx) error {
			var err error
			out, err = upsertTx(ctx, tx, in.Identity, profile)
			return err
		})
		return out, err
	})
	if err != nil {
		return Outcome{}, eris.Wrap(err, "contact: upsert")
	}

	zap.L().Debug("contact: upserted",
		zap.String("tenant_id", in.TenantID),
		zap.String("contact_id", out.ContactID),
		zap.Bool("created", out.Created),
	)
	return out, nil
}

func upsertTx(ctx context.Context, tx store.Tx, id Identity, profile model.Profile) (Outcome, error) {
	match, found, err := Resolve(ctx, tx, id.TenantID, id.Phone.Normalized)
	if err != nil {
		return Outcome{}, err
	}

	if found {
		existing, err := tx.GetContact(ctx, id.TenantID, match.ContactID)
		if err != nil {
			return Outcome{}, eris.Wrap(err, "contact: load owner")
		}
		out := Outcome{ContactID: existing.ID, PhoneID: match.PhoneID}

		merged, changed := MergeProfile(existing.Profile, profile)
		if existing.Status == model.ContactStatusArchived {
			existing.Status = model.ContactStatusActive
			out.Reactivated = true
			changed = true
		}
		if changed {
			existing.Profile = merged
			if err := tx.UpdateContact(ctx, existing); err != nil {
				return Outcome{}, eris.Wrap(err, "contact: merge profile")
			}
		}
		return out, nil
	}

	ct := &model.Contact{TenantID: id.TenantID, Profile: profile, Status: model.ContactStatusNew}
	if err := tx.CreateContact(ctx, ct); err != nil {
		return Outcome{}, err
	}
	p := &model.ContactPhone{
		TenantID:       id.TenantID,
		ContactID:      ct.ID,
		Raw:            id.Raw,
		Normalized:     id.Phone.Normalized,
		CountryCode:    id.Phone.CountryCode,
		AssumedCountry: id.Phone.AssumedCountry,
		IsPrimary:      true,
	}
	if err := tx.CreatePhone(ctx, p); err != nil {
		return Outcome{}, err
	}
	return Outcome{ContactID: ct.ID, PhoneID: p.ID, Created: true}, nil
}

func (c *Coordinator) policy(op, tenantID string) resilience.RetryPolicy {
	p := c.retry
	p.Retryable = store.IsConflict
	p.OnRetry = resilience.LogRetries(op, zap.String("tenant_id", tenantID))
	return p
}
