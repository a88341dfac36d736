package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-intake/internal/db"
	"github.com/sells-group/lead-intake/internal/model"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = eris.New("store: not found")
	// ErrConflict is returned when a write loses a race against a unique
	// index. The enclosing transaction has been rolled back and may be re-run.
	ErrConflict = eris.New("store: conflict")
)

// IsConflict reports whether err is, or wraps, ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Tx is the set of reads and writes that must share one atomic unit when
// resolving identities and deals.
type Tx interface {
	FindActivePhone(ctx context.Context, tenantID, normalized string) (*model.ContactPhone, error)
	GetPhone(ctx context.Context, tenantID, phoneID string) (*model.ContactPhone, error)
	CreatePhone(ctx context.Context, p *model.ContactPhone) error
	DeactivatePhone(ctx context.Context, tenantID, phoneID string, at time.Time) error

	GetContact(ctx context.Context, tenantID, contactID string) (*model.Contact, error)
	CreateContact(ctx context.Context, c *model.Contact) error
	UpdateContact(ctx context.Context, c *model.Contact) error

	FindOpenDeal(ctx context.Context, tenantID, contactID string, statuses []model.DealStatus) (*model.Deal, error)
	CreateDeal(ctx context.Context, d *model.Deal) error
}

// Store defines the persistence interface for the ingestion pipeline.
type Store interface {
	// InTx runs fn in one transaction. A unique-index rejection inside fn
	// surfaces as ErrConflict after rollback.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// Tenants and sources
	CreateTenant(ctx context.Context, t *model.Tenant) error
	GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error)
	CreateSource(ctx context.Context, src *model.Source) error
	GetSource(ctx context.Context, sourceID string) (*model.Source, error)
	SetSourceActive(ctx context.Context, sourceID string, active bool) error
	CreateStage(ctx context.Context, st model.PipelineStage) error
	FirstStage(ctx context.Context, tenantID string) (*model.PipelineStage, error)

	// Lead events
	InsertLeadEvent(ctx context.Context, ev *model.LeadEvent) error
	AttachLeadEventDeal(ctx context.Context, tenantID, eventID, dealID string) error
	ArchiveLeadEvent(ctx context.Context, tenantID, eventID string) error

	// Reads
	GetContact(ctx context.Context, tenantID, contactID string) (*model.Contact, error)
	ListPhones(ctx context.Context, tenantID, contactID string) ([]model.ContactPhone, error)
	ListLeadEvents(ctx context.Context, tenantID, contactID string) ([]model.LeadEvent, error)
	ListDeals(ctx context.Context, tenantID, contactID string) ([]model.Deal, error)
	CountContacts(ctx context.Context, tenantID string) (int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// classify maps driver errors onto the store sentinels.
func classify(err error, action string) error {
	if err == nil {
		return nil
	}
	if db.IsUniqueViolation(err) {
		return eris.Wrapf(ErrConflict, "%s: %s: %v", action, db.ConstraintName(err), err)
	}
	if db.IsSerializationFailure(err) {
		return eris.Wrapf(ErrConflict, "%s: %v", action, err)
	}
	return eris.Wrap(err, action)
}

func statusStrings(statuses []model.DealStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func fillContact(c *model.Contact, now time.Time) {
	if c.ID == "" {
		c.ID = newID()
	}
	if c.Status == "" {
		c.Status = model.ContactStatusNew
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
}

func fillPhone(p *model.ContactPhone, now time.Time) {
	if p.ID == "" {
		p.ID = newID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.IsActive = true
}

func fillDeal(d *model.Deal, now time.Time) {
	if d.ID == "" {
		d.ID = newID()
	}
	if d.Status == "" {
		d.Status = model.DealStatusOpen
	}
	if d.Currency == "" {
		d.Currency = "EUR"
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = d.CreatedAt
	}
}

func newID() string { return uuid.NewString() }
