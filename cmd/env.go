package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/auth"
	"github.com/sells-group/lead-intake/internal/clock"
	"github.com/sells-group/lead-intake/internal/config"
	"github.com/sells-group/lead-intake/internal/contact"
	"github.com/sells-group/lead-intake/internal/deal"
	"github.com/sells-group/lead-intake/internal/ingest"
	"github.com/sells-group/lead-intake/internal/keylock"
	"github.com/sells-group/lead-intake/internal/leadevent"
	"github.com/sells-group/lead-intake/internal/phone"
	"github.com/sells-group/lead-intake/internal/publish"
	"github.com/sells-group/lead-intake/internal/resilience"
	"github.com/sells-group/lead-intake/internal/store"
)

// appEnv holds the wired pipeline shared by every command.
type appEnv struct {
	Store     store.Store
	Contacts  *contact.Coordinator
	Service   *ingest.Service
	Publisher publish.Publisher
}

func (e *appEnv) Close() {
	e.Publisher.Close()
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	p := resilience.ConnectPolicy()
	p.Retryable = resilience.IsTransient
	p.OnRetry = resilience.LogRetries("store.connect", zap.String("driver", c.Store.Driver))

	return resilience.DoVal(ctx, p, func(ctx context.Context) (store.Store, error) {
		switch c.Store.Driver {
		case "sqlite":
			return store.NewSQLite(c.Store.DatabaseURL)
		case "postgres":
			return store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
				MaxConns: c.Store.MaxConns,
				MinConns: c.Store.MinConns,
			})
		default:
			return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
		}
	})
}

func initPublisher(c *config.Config) publish.Publisher {
	if c.NATS.URL == "" {
		zap.L().Debug("LEADS_NATS_URL not set, downstream publication disabled")
		return publish.Nop{}
	}
	p, err := publish.NewNATS(publish.NATSConfig{
		URL:            c.NATS.URL,
		SubjectPrefix:  c.NATS.SubjectPrefix,
		ConnectionName: c.NATS.ConnectionName,
		MaxReconnects:  c.NATS.MaxReconnects,
		ReconnectWait:  c.NATS.ReconnectWait,
	})
	if err != nil {
		// Ingestion must not depend on the broker.
		zap.L().Warn("nats connect failed, downstream publication disabled", zap.Error(err))
		return publish.Nop{}
	}
	return p
}

// newEnv wires the pipeline over an open store.
func newEnv(c *config.Config, st store.Store, pub publish.Publisher) *appEnv {
	retry := resilience.PolicyFrom(c.Ingest.RetryAttempts, c.Ingest.RetryBaseDelay, c.Ingest.RetryMaxDelay, c.Ingest.RetryJitter)
	locks := keylock.New()
	contacts := contact.NewCoordinator(st, locks, retry)

	breakerCfg := resilience.BreakerFrom(c.Breaker.Threshold, c.Breaker.Cooldown)
	svc := ingest.NewService(ingest.Deps{
		Auth:      auth.New(st),
		Tenants:   st,
		Contacts:  contacts,
		Events:    leadevent.NewRecorder(st, clock.NewMonotonic()),
		Deals:     deal.NewPolicy(st, locks, retry, c.Deal.DefaultStage),
		Publisher: pub,
		Breaker:   resilience.NewBreaker(breakerCfg),
	}, ingest.Options{
		Timeout:        c.Ingest.Timeout,
		DefaultCountry: c.Phone.DefaultCountry,
	})

	return &appEnv{Store: st, Contacts: contacts, Service: svc, Publisher: pub}
}

// initEnv opens the store, applies migrations and wires the pipeline.
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return newEnv(cfg, st, initPublisher(cfg)), nil
}

// identityFor normalizes raw with the tenant's default country.
func identityFor(ctx context.Context, st store.Store, tenantID, raw string) (contact.Identity, error) {
	tenant, err := st.GetTenant(ctx, tenantID)
	if err != nil {
		return contact.Identity{}, eris.Wrapf(err, "load tenant %s", tenantID)
	}
	country := tenant.DefaultCountry
	if !phone.KnownCountry(country) {
		country = cfg.Phone.DefaultCountry
	}
	return contact.Identity{TenantID: tenantID, Raw: raw, Phone: phone.Normalize(raw, country)}, nil
}
