// Package deal keeps at most one open deal per contact.
package deal

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/keylock"
	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/resilience"
	"github.com/sells-group/lead-intake/internal/store"
)

// DefaultStage is used when a tenant has no pipeline stages configured.
const DefaultStage = "new_lead"

// Outcome reports what UpsertOpenDeal did.
type Outcome struct {
	DealID  string
	Stage   string
	Created bool
}

// Request carries what the policy needs about the tenant and contact.
type Request struct {
	TenantID  string
	ContactID string
	// ReopenedCountsAsOpen makes a reopened_for_support deal satisfy the
	// open-deal rule.
	ReopenedCountsAsOpen bool
}

// Policy creates a deal on a contact's first qualifying signal and reuses
// the open deal afterwards.
type Policy struct {
	store        store.Store
	locks        *keylock.Table
	retry        resilience.RetryPolicy
	defaultStage string
}

// NewPolicy creates a Policy. An empty defaultStage falls back to
// DefaultStage.
func NewPolicy(s store.Store, locks *keylock.Table, retry resilience.RetryPolicy, defaultStage string) *Policy {
	if defaultStage == "" {
		defaultStage = DefaultStage
	}
	return &Policy{store: s, locks: locks, retry: retry, defaultStage: defaultStage}
}

// UpsertOpenDeal returns the contact's open deal, creating one at the
// tenant's first pipeline stage when none exists.
func (p *Policy) UpsertOpenDeal(ctx context.Context, req Request) (Outcome, error) {
	if req.TenantID == "" || req.ContactID == "" {
		return Outcome{}, eris.New("deal: tenant and contact are required")
	}

	stage, err := p.firstStage(ctx, req.TenantID)
	if err != nil {
		return Outcome{}, err
	}

	unlock, err := p.locks.Lock(ctx, req.TenantID+"|"+req.ContactID)
	if err != nil {
		return Outcome{}, eris.Wrap(err, "deal: acquire contact lock")
	}
	defer unlock()

	policy := p.retry
	policy.Retryable = store.IsConflict
	policy.OnRetry = resilience.LogRetries("deal.upsert",
		zap.String("tenant_id", req.TenantID),
		zap.String("contact_id", req.ContactID),
	)

	out, err := resilience.DoVal(ctx, policy, func(ctx context.Context) (Outcome, error) {
		var out Outcome
		err := p.store.InTx(ctx, func(tx store.Tx) error {
			open, err := tx.FindOpenDeal(ctx, req.TenantID, req.ContactID, model.OpenStatuses(req.ReopenedCountsAsOpen))
			if err == nil {
				out = Outcome{DealID: open.ID, Stage: open.Stage}
				return nil
			}
			if !store.IsNotFound(err) {
				return err
			}

			d := &model.Deal{
				TenantID:  req.TenantID,
				ContactID: req.ContactID,
				Stage:     stage,
				Status:    model.DealStatusOpen,
			}
			if err := tx.CreateDeal(ctx, d); err != nil {
				return err
			}
			out = Outcome{DealID: d.ID, Stage: d.Stage, Created: true}
			return nil
		})
		return out, err
	})
	if err != nil {
		return Outcome{}, eris.Wrap(err, "deal: upsert open deal")
	}

	if out.Created {
		zap.L().Info("deal: opened",
			zap.String("tenant_id", req.TenantID),
			zap.String("contact_id", req.ContactID),
			zap.String("deal_id", out.DealID),
			zap.String("stage", out.Stage),
		)
	}
	return out, nil
}

func (p *Policy) firstStage(ctx context.Context, tenantID string) (string, error) {
	st, err := p.store.FirstStage(ctx, tenantID)
	if store.IsNotFound(err) {
		return p.defaultStage, nil
	}
	if err != nil {
		return "", eris.Wrap(err, "deal: first stage")
	}
	return st.Key, nil
}
