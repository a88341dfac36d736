// Package ingest turns raw inbound lead payloads into a consistent contact,
// lead event and open deal.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/auth"
	"github.com/sells-group/lead-intake/internal/contact"
	"github.com/sells-group/lead-intake/internal/deal"
	"github.com/sells-group/lead-intake/internal/leadevent"
	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/phone"
	"github.com/sells-group/lead-intake/internal/publish"
	"github.com/sells-group/lead-intake/internal/resilience"
	"github.com/sells-group/lead-intake/internal/store"
)

// Authenticator validates source credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, sourceID, apiKey string) (*model.Source, error)
}

// TenantGetter loads tenant settings.
type TenantGetter interface {
	GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error)
}

// Request is an authenticated-channel submission, as received over HTTP.
type Request struct {
	SourceID string
	APIKey   string
	Body     []byte
}

// Signal is a submission whose origin is already trusted, such as manual
// entry or an import row.
type Signal struct {
	TenantID   string
	Source     model.SourceKind
	SourceID   string
	SourceName string
	Body       []byte
}

// Result is the outcome of a completed ingestion.
type Result struct {
	ContactID      string
	LeadEventID    string
	DealID         *string
	State          State
	ContactCreated bool
	DealCreated    bool
}

// Deps are the collaborators a Service sequences.
type Deps struct {
	Auth      Authenticator
	Tenants   TenantGetter
	Contacts  *contact.Coordinator
	Events    *leadevent.Recorder
	Deals     *deal.Policy
	Publisher publish.Publisher
	Breaker   *resilience.Breaker
}

// Options tune a Service.
type Options struct {
	// Timeout bounds one ingestion, retries included. Zero means no bound
	// beyond the caller's context.
	Timeout time.Duration
	// DefaultCountry is used when a tenant has none configured.
	DefaultCountry string
}

// Service is the ingestion entry point.
type Service struct {
	deps Deps
	opts Options
}

// NewService creates a Service. A nil Publisher publishes nothing.
func NewService(deps Deps, opts Options) *Service {
	if deps.Publisher == nil {
		deps.Publisher = publish.Nop{}
	}
	if !phone.KnownCountry(opts.DefaultCountry) {
		opts.DefaultCountry = phone.DefaultCountry
	}
	return &Service{deps: deps, opts: opts}
}

// Ingest authenticates req against its source and runs the pipeline.
func (s *Service) Ingest(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	src, err := guard(ctx, s.deps.Breaker, func(ctx context.Context) (*model.Source, error) {
		return s.deps.Auth.Authenticate(ctx, req.SourceID, req.APIKey)
	})
	switch {
	case errors.Is(err, auth.ErrMissingKey):
		return nil, s.reject(newError(KindUnauthorized, MsgMissingKey, err), req.SourceID)
	case errors.Is(err, auth.ErrInvalidKey):
		return nil, s.reject(newError(KindUnauthorized, MsgInvalidKey, err), req.SourceID)
	case errors.Is(err, auth.ErrUnknownSource):
		return nil, s.reject(newError(KindNotFound, MsgUnknownSource, err), req.SourceID)
	case err != nil:
		return nil, s.fail(StateReceived, err, zap.String("source_id", req.SourceID))
	}

	return s.run(ctx, Signal{
		TenantID:   src.TenantID,
		Source:     src.Kind,
		SourceID:   src.ID,
		SourceName: src.Name,
		Body:       req.Body,
	})
}

// IngestSignal runs the pipeline for a trusted submission. Validation
// happens before any write, so a rejected signal leaves no trace.
func (s *Service) IngestSignal(ctx context.Context, sig Signal) (*Result, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.run(ctx, sig)
}

// bound applies the ingestion timeout. It is called once per entry point so
// authentication and the pipeline share one deadline.
func (s *Service) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opts.Timeout)
}

func (s *Service) run(ctx context.Context, sig Signal) (*Result, error) {
	if sig.Source == "" {
		sig.Source = model.SourceWebhook
	}
	log := zap.L().With(zap.String("tenant_id", sig.TenantID), zap.String("source_id", sig.SourceID))
	st := StateReceived

	lead, ok := ParsePayload(sig.Body)
	if !ok {
		return nil, s.reject(newError(KindInvalidIdentity, MsgInvalidJSON, nil), sig.SourceID)
	}
	if lead.Phone == "" {
		return nil, s.reject(newError(KindInvalidIdentity, MsgPhoneRequired, nil), sig.SourceID)
	}

	tenant, err := guard(ctx, s.deps.Breaker, func(ctx context.Context) (*model.Tenant, error) {
		return s.deps.Tenants.GetTenant(ctx, sig.TenantID)
	})
	if store.IsNotFound(err) {
		return nil, s.reject(newError(KindNotFound, MsgUnknownTenant, err), sig.SourceID)
	}
	if err != nil {
		return nil, s.fail(st, err, zap.String("tenant_id", sig.TenantID))
	}

	country := tenant.DefaultCountry
	if !phone.KnownCountry(country) {
		country = s.opts.DefaultCountry
	}
	normalized := phone.Normalize(lead.Phone, country)
	if !normalized.Plausible() {
		return nil, s.reject(newError(KindInvalidIdentity, MsgInvalidPhone, nil), sig.SourceID)
	}
	st = s.advance(log, st, StateNormalized)

	// Rejection is no longer possible past this point; every error below is
	// a storage failure.
	outcome, err := guard(ctx, s.deps.Breaker, func(ctx context.Context) (contact.Outcome, error) {
		return s.deps.Contacts.Upsert(ctx, contact.UpsertInput{
			Identity: contact.Identity{TenantID: tenant.ID, Raw: lead.Phone, Phone: normalized},
			Profile:  lead.Profile,
		})
	})
	if err != nil {
		return nil, s.fail(st, err, zap.String("tenant_id", tenant.ID))
	}
	st = s.advance(log, st, StateIdentityResolved)
	st = s.advance(log, st, StateContactReady)
	log = log.With(zap.String("contact_id", outcome.ContactID))

	payload := json.RawMessage(sig.Body)
	ev, err := guard(ctx, s.deps.Breaker, func(ctx context.Context) (*model.LeadEvent, error) {
		return s.deps.Events.Record(ctx, leadevent.RecordInput{
			TenantID:   tenant.ID,
			ContactID:  outcome.ContactID,
			Source:     sig.Source,
			SourceID:   sig.SourceID,
			SourceName: sig.SourceName,
			Payload:    payload,
			OccurredAt: lead.OccurredAt,
		})
	})
	if err != nil {
		return nil, s.fail(st, err, zap.String("contact_id", outcome.ContactID))
	}
	st = s.advance(log, st, StateEventRecorded)

	res := &Result{ContactID: outcome.ContactID, LeadEventID: ev.ID, ContactCreated: outcome.Created}

	if tenant.AutoCreateDeals {
		d, err := guard(ctx, s.deps.Breaker, func(ctx context.Context) (deal.Outcome, error) {
			d, err := s.deps.Deals.UpsertOpenDeal(ctx, deal.Request{
				TenantID:             tenant.ID,
				ContactID:            outcome.ContactID,
				ReopenedCountsAsOpen: tenant.ReopenedCountsAsOpen,
			})
			if err != nil {
				return d, err
			}
			return d, s.deps.Events.AttachDeal(ctx, ev, d.DealID)
		})
		if err != nil {
			return nil, s.fail(st, err, zap.String("contact_id", outcome.ContactID), zap.String("lead_event_id", ev.ID))
		}
		res.DealID = &d.DealID
		res.DealCreated = d.Created
		st = s.advance(log, st, StateDealReady)
	}

	res.State = s.advance(log, st, StateCompleted)
	s.publish(ctx, log, tenant.ID, sig, ev, res)
	return res, nil
}

// publish runs after every lock and transaction is released. Failures are
// logged and never fail the ingestion.
func (s *Service) publish(ctx context.Context, log *zap.Logger, tenantID string, sig Signal, ev *model.LeadEvent, res *Result) {
	msg := publish.LeadIngested{
		TenantID:       tenantID,
		ContactID:      res.ContactID,
		LeadEventID:    res.LeadEventID,
		Source:         string(sig.Source),
		SourceID:       sig.SourceID,
		ContactCreated: res.ContactCreated,
		DealCreated:    res.DealCreated,
		ReceivedAt:     ev.ReceivedAt,
	}
	if res.DealID != nil {
		msg.DealID = *res.DealID
	}
	if err := s.deps.Publisher.Publish(ctx, msg); err != nil {
		log.Warn("ingest: publish failed", zap.String("lead_event_id", ev.ID), zap.Error(err))
	}
}

func (s *Service) advance(log *zap.Logger, from, to State) State {
	if !CanTransition(from, to) {
		// Programming error; keep going but make it loud.
		log.Error("ingest: illegal state transition", zap.Stringer("from", from), zap.Stringer("to", to))
	}
	log.Debug("ingest: state", zap.Stringer("state", to))
	return to
}

func (s *Service) reject(e *Error, sourceID string) error {
	zap.L().Info("ingest: rejected",
		zap.String("source_id", sourceID),
		zap.Stringer("kind", e.Kind),
		zap.String("reason", e.Message),
		zap.Stringer("state", StateRejected),
	)
	return e
}

// fail maps a storage-side error to StorageUnavailable and logs the full
// cause. Conflicts that outlived their retries land here too.
func (s *Service) fail(at State, err error, fields ...zap.Field) error {
	fields = append(fields,
		zap.Stringer("state", StateFailed),
		zap.Stringer("failed_at", at),
		zap.Bool("conflict", store.IsConflict(err)),
		zap.Bool("breaker_open", errors.Is(err, resilience.ErrOpen)),
		zap.String("cause", eris.ToString(err, true)),
	)
	zap.L().Error("ingest: failed", fields...)
	return newError(KindStorageUnavailable, MsgInternal, err)
}

func guard[T any](ctx context.Context, b *resilience.Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	return resilience.GuardVal(ctx, b, fn)
}
