package contact

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/resilience"
	"github.com/sells-group/lead-intake/internal/store"
)

// AddPhone attaches an extra, non-primary number to an existing contact.
// Adding a number the contact already owns returns the existing row.
func (c *Coordinator) AddPhone(ctx context.Context, id Identity, contactID string) (*model.ContactPhone, error) {
	if err := id.validate(); err != nil {
		return nil, err
	}
	unlock, err := c.locks.Lock(ctx, id.Key())
	if err != nil {
		return nil, eris.Wrap(err, "contact: acquire identity lock")
	}
	defer unlock()

	return resilience.DoVal(ctx, c.policy("contact.add_phone", id.TenantID), func(ctx context.Context) (*model.ContactPhone, error) {
		var added *model.ContactPhone
		err := c.store.InTx(ctx, func(tx store.Tx) error {
			if _, err := tx.GetContact(ctx, id.TenantID, contactID); err != nil {
				return err
			}
			owner, err := tx.FindActivePhone(ctx, id.TenantID, id.Phone.Normalized)
			switch {
			case err == nil && owner.ContactID == contactID:
				added = owner
				return nil
			case err == nil:
				return ErrPhoneInUse
			case !store.IsNotFound(err):
				return err
			}

			added = &model.ContactPhone{
				TenantID:       id.TenantID,
				ContactID:      contactID,
				Raw:            id.Raw,
				Normalized:     id.Phone.Normalized,
				CountryCode:    id.Phone.CountryCode,
				AssumedCountry: id.Phone.AssumedCountry,
			}
			return tx.CreatePhone(ctx, added)
		})
		return added, err
	})
}

// CorrectPhone replaces a phone row with a corrected number. The old row is
// deactivated, never deleted, and the new row inherits its primary flag.
func (c *Coordinator) CorrectPhone(ctx context.Context, id Identity, phoneID string) (*model.ContactPhone, error) {
	if err := id.validate(); err != nil {
		return nil, err
	}
	unlock, err := c.locks.Lock(ctx, id.Key())
	if err != nil {
		return nil, eris.Wrap(err, "contact: acquire identity lock")
	}
	defer unlock()

	corrected, err := resilience.DoVal(ctx, c.policy("contact.correct_phone", id.TenantID), func(ctx context.Context) (*model.ContactPhone, error) {
		var corrected *model.ContactPhone
		err := c.store.InTx(ctx, func(tx store.Tx) error {
			old, err := tx.GetPhone(ctx, id.TenantID, phoneID)
			if err != nil {
				return err
			}
			if !old.IsActive {
				return ErrPhoneInactive
			}
			if old.Normalized == id.Phone.Normalized {
				corrected = old
				return nil
			}

			_, err = tx.FindActivePhone(ctx, id.TenantID, id.Phone.Normalized)
			if err == nil {
				return ErrPhoneInUse
			}
			if !store.IsNotFound(err) {
				return err
			}

			if err := tx.DeactivatePhone(ctx, id.TenantID, old.ID, time.Now().UTC()); err != nil {
				return err
			}
			corrected = &model.ContactPhone{
				TenantID:       id.TenantID,
				ContactID:      old.ContactID,
				Raw:            id.Raw,
				Normalized:     id.Phone.Normalized,
				CountryCode:    id.Phone.CountryCode,
				AssumedCountry: id.Phone.AssumedCountry,
				IsPrimary:      old.IsPrimary,
			}
			return tx.CreatePhone(ctx, corrected)
		})
		return corrected, err
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("contact: phone corrected",
		zap.String("tenant_id", id.TenantID),
		zap.String("contact_id", corrected.ContactID),
		zap.String("old_phone_id", phoneID),
		zap.String("phone_id", corrected.ID),
	)
	return corrected, nil
}
