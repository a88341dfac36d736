package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-intake/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "leads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func seedTenant(t *testing.T, s Store) *model.Tenant {
	t.Helper()
	tenant := &model.Tenant{Name: "Acme", DefaultCountry: "IT", AutoCreateDeals: true}
	require.NoError(t, s.CreateTenant(context.Background(), tenant))
	return tenant
}

func seedContact(t *testing.T, s Store, tenantID, normalized string) (*model.Contact, *model.ContactPhone) {
	t.Helper()
	c := &model.Contact{TenantID: tenantID, Profile: model.Profile{FirstName: "Mario"}}
	p := &model.ContactPhone{TenantID: tenantID, Raw: normalized, Normalized: normalized, CountryCode: "39", IsPrimary: true}
	err := s.InTx(context.Background(), func(tx Tx) error {
		if err := tx.CreateContact(context.Background(), c); err != nil {
			return err
		}
		p.ContactID = c.ID
		return tx.CreatePhone(context.Background(), p)
	})
	require.NoError(t, err)
	return c, p
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Ping(context.Background()))
}

func TestSQLite_TenantRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	tenant := seedTenant(t, s)

	got, err := s.GetTenant(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Name)
	assert.Equal(t, "IT", got.DefaultCountry)
	assert.True(t, got.AutoCreateDeals)
	assert.False(t, got.ReopenedCountsAsOpen)

	_, err = s.GetTenant(ctx, "missing")
	assert.True(t, IsNotFound(err))
}

func TestSQLite_SourceLifecycle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	tenant := seedTenant(t, s)

	src := &model.Source{TenantID: tenant.ID, Name: "Meta Ads", APIKeyHash: "abc", Active: true}
	require.NoError(t, s.CreateSource(ctx, src))
	assert.Equal(t, model.SourceWebhook, src.Kind)

	got, err := s.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, "abc", got.APIKeyHash)
	assert.True(t, got.Active)

	require.NoError(t, s.SetSourceActive(ctx, src.ID, false))
	got, err = s.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	assert.True(t, IsNotFound(s.SetSourceActive(ctx, "missing", true)))
}

func TestSQLite_ActivePhoneUniqueness(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	tenant := seedTenant(t, s)
	_, phone := seedContact(t, s, tenant.ID, "393331234567")

	// A second contact claiming the same active number loses, and its
	// contact row is rolled back with it.
	err := s.InTx(ctx, func(tx Tx) error {
		c := &model.Contact{TenantID: tenant.ID}
		if err := tx.CreateContact(ctx, c); err != nil {
			return err
		}
		return tx.CreatePhone(ctx, &model.ContactPhone{TenantID: tenant.ID, ContactID: c.ID, Raw: "x", Normalized: "393331234567", CountryCode: "39"})
	})
	assert.True(t, IsConflict(err), "got %v", err)

	n, err := s.CountContacts(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Once deactivated, the number may be claimed again.
	err = s.InTx(ctx, func(tx Tx) error {
		return tx.DeactivatePhone(ctx, tenant.ID, phone.ID, time.Now().UTC())
	})
	require.NoError(t, err)
	seedContact(t, s, tenant.ID, "393331234567")
}

func TestSQLite_FindActivePhone(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	tenant := seedTenant(t, s)
	c, _ := seedContact(t, s, tenant.ID, "393331234567")

	err := s.InTx(ctx, func(tx Tx) error {
		p, err := tx.FindActivePhone(ctx, tenant.ID, "393331234567")
		require.NoError(t, err)
		assert.Equal(t, c.ID, p.ContactID)
		assert.True(t, p.IsActive)
		assert.True(t, p.IsPrimary)
		assert.Nil(t, p.DeactivatedAt)

		_, err = tx.FindActivePhone(ctx, "other-tenant", "393331234567")
		assert.True(t, IsNotFound(err))
		return nil
	})
	require.NoError(t, err)
}

func TestSQLite_DeactivatePhoneTwice(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	tenant := seedTenant(t, s)
	_, p := seedContact(t, s, tenant.ID, "393331234567")

	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.InTx(ctx, func(tx Tx) error { return tx.DeactivatePhone(ctx, tenant.ID, p.ID, at) }))
	err := s.InTx(ctx, func(tx Tx) error { return tx.DeactivatePhone(ctx, tenant.ID, p.ID, at) })
	assert.True(t, IsNotFound(err))

	phones, err := s.ListPhones(ctx, tenant.ID, p.ContactID)
	require.NoError(t, err)
	require.Len(t, phones, 1)
	assert.False(t, phones[0].IsActive)
	require.NotNil(t, phones[0].DeactivatedAt)
	assert.True(t, at.Equal(*phones[0].DeactivatedAt))
}

func TestSQLite_OpenDealUniqueness(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	tenant := seedTenant(t, s)
	c, _ := seedContact(t, s, tenant.ID, "393331234567")

	create := func(status model.DealStatus) error {
		return s.InTx(ctx, func(tx Tx) error {
			return tx.CreateDeal(ctx, &model.Deal{TenantID: tenant.ID, ContactID: c.ID, Stage: "new_lead", Status: status})
		})
	}
	require.NoError(t, create(model.DealStatusOpen))
	assert.True(t, IsConflict(create(model.DealStatusOpen)))
	require.NoError(t, create(model.DealStatusReopenedForSupport))
	require.NoError(t, create(model.DealStatusWon))

	err := s.InTx(ctx, func(tx Tx) error {
		d, err := tx.FindOpenDeal(ctx, tenant.ID, c.ID, model.OpenStatuses(false))
		require.NoError(t, err)
		assert.Equal(t, model.DealStatusOpen, d.Status)
		return nil
	})
	require.NoError(t, err)

	deals, err := s.ListDeals(ctx, tenant.ID, c.ID)
	require.NoError(t, err)
	assert.Len(t, deals, 3)
}

func TestSQLite_FindOpenDeal_NoStatuses(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	err := s.InTx(ctx, func(tx Tx) error {
		_, err := tx.FindOpenDeal(ctx, "t", "c", nil)
		return err
	})
	assert.True(t, IsNotFound(err))
}

func TestSQLite_LeadEvents(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	tenant := seedTenant(t, s)
	c, _ := seedContact(t, s, tenant.ID, "393331234567")

	received := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	ev := &model.LeadEvent{
		ID: "01J0000000000000000000000A", TenantID: tenant.ID, ContactID: c.ID,
		Source: model.SourceWebhook, SourceID: "src", SourceName: "Meta Ads",
		Payload:    []byte(`{"phone":"+39 333 123 4567"}`),
		OccurredAt: received.Add(-time.Minute), ReceivedAt: received,
	}
	require.NoError(t, s.InsertLeadEvent(ctx, ev))

	var deal model.Deal
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		deal = model.Deal{TenantID: tenant.ID, ContactID: c.ID, Stage: "new_lead"}
		return tx.CreateDeal(ctx, &deal)
	}))
	require.NoError(t, s.AttachLeadEventDeal(ctx, tenant.ID, ev.ID, deal.ID))
	// A second attach never relinks.
	require.NoError(t, s.AttachLeadEventDeal(ctx, tenant.ID, ev.ID, "other"))
	require.NoError(t, s.ArchiveLeadEvent(ctx, tenant.ID, ev.ID))

	events, err := s.ListLeadEvents(ctx, tenant.ID, c.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	got := events[0]
	require.NotNil(t, got.DealID)
	assert.Equal(t, deal.ID, *got.DealID)
	assert.True(t, got.Archived)
	assert.JSONEq(t, `{"phone":"+39 333 123 4567"}`, string(got.Payload))
	assert.True(t, received.Equal(got.ReceivedAt))

	assert.True(t, IsNotFound(s.ArchiveLeadEvent(ctx, tenant.ID, "missing")))
}

func TestSQLite_FirstStage(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	tenant := seedTenant(t, s)

	_, err := s.FirstStage(ctx, tenant.ID)
	assert.True(t, IsNotFound(err))

	require.NoError(t, s.CreateStage(ctx, model.PipelineStage{TenantID: tenant.ID, Key: "qualified", Name: "Qualified", Position: 2}))
	require.NoError(t, s.CreateStage(ctx, model.PipelineStage{TenantID: tenant.ID, Key: "contacted", Name: "Contacted", Position: 1}))

	st, err := s.FirstStage(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, "contacted", st.Key)

	require.NoError(t, s.CreateStage(ctx, model.PipelineStage{TenantID: tenant.ID, Key: "qualified", Name: "Qualified", Position: 0}))
	st, err = s.FirstStage(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, "qualified", st.Key)
}

func TestSQLite_UpdateContact(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	tenant := seedTenant(t, s)
	c, _ := seedContact(t, s, tenant.ID, "393331234567")

	c.Email = "mario@example.com"
	c.Status = model.ContactStatusActive
	require.NoError(t, s.InTx(ctx, func(tx Tx) error { return tx.UpdateContact(ctx, c) }))

	got, err := s.GetContact(ctx, tenant.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "mario@example.com", got.Email)
	assert.Equal(t, "Mario", got.FirstName)
	assert.Equal(t, model.ContactStatusActive, got.Status)

	_, err = s.GetContact(ctx, tenant.ID, "missing")
	assert.True(t, IsNotFound(err))
}
