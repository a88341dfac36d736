//go:build integration

package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sells-group/lead-intake/internal/model"
)

func newContainerStore(t *testing.T) *PostgresStore {
	t.Helper()
	ctx := context.Background()

	pg, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("leads_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := NewPostgres(ctx, dsn, &PoolConfig{MaxConns: 16})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestPostgresIntegration_ConcurrentPhoneClaims(t *testing.T) {
	s := newContainerStore(t)
	ctx := context.Background()
	tenant := seedTenant(t, s)

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.InTx(ctx, func(tx Tx) error {
				c := &model.Contact{TenantID: tenant.ID}
				if err := tx.CreateContact(ctx, c); err != nil {
					return err
				}
				return tx.CreatePhone(ctx, &model.ContactPhone{
					TenantID: tenant.ID, ContactID: c.ID, Raw: "+39 333 123 4567",
					Normalized: "393331234567", CountryCode: "39", IsPrimary: true,
				})
			})
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case IsConflict(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)

	count, err := s.CountContacts(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "losing transactions must not leave orphan contacts")
}

func TestPostgresIntegration_LeadEventsAreAppendOnly(t *testing.T) {
	s := newContainerStore(t)
	ctx := context.Background()
	tenant := seedTenant(t, s)
	c, _ := seedContact(t, s, tenant.ID, "393331234567")

	now := time.Now().UTC()
	ev := &model.LeadEvent{
		ID: "01J0000000000000000000000B", TenantID: tenant.ID, ContactID: c.ID,
		Source: model.SourceManual, Payload: []byte(`{"phone":"3331234567"}`),
		OccurredAt: now, ReceivedAt: now,
	}
	require.NoError(t, s.InsertLeadEvent(ctx, ev))
	require.NoError(t, s.ArchiveLeadEvent(ctx, tenant.ID, ev.ID))

	_, err := s.pool.Exec(ctx, `UPDATE lead_events SET source_name = 'edited' WHERE id = $1`, ev.ID)
	assert.Error(t, err)
	_, err = s.pool.Exec(ctx, `DELETE FROM lead_events WHERE id = $1`, ev.ID)
	assert.Error(t, err)
}
