package contact

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-intake/internal/keylock"
	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/phone"
	"github.com/sells-group/lead-intake/internal/resilience"
	"github.com/sells-group/lead-intake/internal/store"
)

func newTestStore(t *testing.T) (*store.SQLiteStore, *model.Tenant) {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "contacts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))

	tenant := &model.Tenant{Name: "Acme", DefaultCountry: "IT"}
	require.NoError(t, s.CreateTenant(context.Background(), tenant))
	return s, tenant
}

func testPolicy() resilience.RetryPolicy {
	return resilience.RetryPolicy{Attempts: 5, Base: time.Millisecond, Cap: 5 * time.Millisecond, Factor: 2}
}

func newTestCoordinator(s store.Store) *Coordinator {
	return NewCoordinator(s, keylock.New(), testPolicy())
}

func identity(tenantID, raw string) Identity {
	return Identity{TenantID: tenantID, Raw: raw, Phone: phone.Normalize(raw, "IT")}
}
