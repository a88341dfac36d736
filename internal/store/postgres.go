package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // pgx5:// driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/db"
	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/resilience"
	"github.com/sells-group/lead-intake/migrations"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	connURL string
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `mapstructure:"max_conns"`
	MinConns int32 `mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 20
	pgxCfg.MinConns = 2
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			pgxCfg.MaxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			pgxCfg.MinConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, resilience.Transient(eris.Wrap(err, "postgres: ping"))
	}
	return &PostgresStore{pool: pool, connURL: connString, closeFn: pool.Close}, nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

// Migrate applies pending migrations from the embedded postgres/ directory.
func (s *PostgresStore) Migrate(_ context.Context) error {
	if s.connURL == "" {
		return eris.New("postgres: migrate: no connection url")
	}
	src, err := iofs.New(migrations.Postgres, "postgres")
	if err != nil {
		return eris.Wrap(err, "postgres: migrate: open source")
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(s.connURL))
	if err != nil {
		return eris.Wrap(err, "postgres: migrate: init")
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil || dbErr != nil {
			zap.L().Warn("postgres: migrate: close", zap.NamedError("source", srcErr), zap.NamedError("database", dbErr))
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return eris.Wrap(err, "postgres: migrate: up")
	}
	version, dirty, _ := m.Version()
	zap.L().Info("postgres: schema ready", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

// migrateURL rewrites a libpq-style URL to the scheme the pgx/v5 migrate
// driver registers.
func migrateURL(conn string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(conn, prefix) {
			return "pgx5://" + strings.TrimPrefix(conn, prefix)
		}
	}
	return conn
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// InTx implements Store.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(pgQueries{q: tx})
	})
	if err == nil || IsConflict(err) || IsNotFound(err) {
		return err
	}
	return classify(err, "postgres: tx")
}

// pgQueries runs Tx operations against either the pool or a transaction.
type pgQueries struct {
	q db.Querier
}

const pgPhoneCols = `id, tenant_id, contact_id, raw, normalized, country_code, assumed_country, is_primary, is_active, created_at, deactivated_at`

func scanPgPhone(row pgx.Row) (*model.ContactPhone, error) {
	var p model.ContactPhone
	err := row.Scan(&p.ID, &p.TenantID, &p.ContactID, &p.Raw, &p.Normalized, &p.CountryCode,
		&p.AssumedCountry, &p.IsPrimary, &p.IsActive, &p.CreatedAt, &p.DeactivatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (q pgQueries) FindActivePhone(ctx context.Context, tenantID, normalized string) (*model.ContactPhone, error) {
	p, err := scanPgPhone(q.q.QueryRow(ctx,
		`SELECT `+pgPhoneCols+` FROM contact_phones WHERE tenant_id = $1 AND normalized = $2 AND is_active`,
		tenantID, normalized,
	))
	if err != nil && !IsNotFound(err) {
		return nil, eris.Wrap(err, "postgres: find active phone")
	}
	return p, err
}

func (q pgQueries) GetPhone(ctx context.Context, tenantID, phoneID string) (*model.ContactPhone, error) {
	p, err := scanPgPhone(q.q.QueryRow(ctx,
		`SELECT `+pgPhoneCols+` FROM contact_phones WHERE tenant_id = $1 AND id = $2`,
		tenantID, phoneID,
	))
	if err != nil && !IsNotFound(err) {
		return nil, eris.Wrapf(err, "postgres: get phone %s", phoneID)
	}
	return p, err
}

func (q pgQueries) CreatePhone(ctx context.Context, p *model.ContactPhone) error {
	fillPhone(p, time.Now().UTC())
	_, err := q.q.Exec(ctx,
		`INSERT INTO contact_phones (id, tenant_id, contact_id, raw, normalized, country_code, assumed_country, is_primary, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true, $9)`,
		p.ID, p.TenantID, p.ContactID, p.Raw, p.Normalized, p.CountryCode, p.AssumedCountry, p.IsPrimary, p.CreatedAt,
	)
	return classify(err, "postgres: insert phone")
}

func (q pgQueries) DeactivatePhone(ctx context.Context, tenantID, phoneID string, at time.Time) error {
	tag, err := q.q.Exec(ctx,
		`UPDATE contact_phones SET is_active = false, is_primary = false, deactivated_at = $1 WHERE tenant_id = $2 AND id = $3 AND is_active`,
		at, tenantID, phoneID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: deactivate phone %s", phoneID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: active phone %s", phoneID)
	}
	return nil
}

const pgContactCols = `id, tenant_id, first_name, last_name, full_name, email, status, created_at, updated_at`

func scanPgContact(row pgx.Row) (*model.Contact, error) {
	var c model.Contact
	var status string
	err := row.Scan(&c.ID, &c.TenantID, &c.FirstName, &c.LastName, &c.FullName, &c.Email, &status, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Status = model.ContactStatus(status)
	return &c, nil
}

func (q pgQueries) GetContact(ctx context.Context, tenantID, contactID string) (*model.Contact, error) {
	c, err := scanPgContact(q.q.QueryRow(ctx,
		`SELECT `+pgContactCols+` FROM contacts WHERE tenant_id = $1 AND id = $2`,
		tenantID, contactID,
	))
	if err != nil && !IsNotFound(err) {
		return nil, eris.Wrapf(err, "postgres: get contact %s", contactID)
	}
	return c, err
}

func (q pgQueries) CreateContact(ctx context.Context, c *model.Contact) error {
	fillContact(c, time.Now().UTC())
	_, err := q.q.Exec(ctx,
		`INSERT INTO contacts (id, tenant_id, first_name, last_name, full_name, email, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.TenantID, c.FirstName, c.LastName, c.FullName, c.Email, string(c.Status), c.CreatedAt, c.UpdatedAt,
	)
	return classify(err, "postgres: insert contact")
}

func (q pgQueries) UpdateContact(ctx context.Context, c *model.Contact) error {
	c.UpdatedAt = time.Now().UTC()
	tag, err := q.q.Exec(ctx,
		`UPDATE contacts SET first_name = $1, last_name = $2, full_name = $3, email = $4, status = $5, updated_at = $6
		 WHERE tenant_id = $7 AND id = $8`,
		c.FirstName, c.LastName, c.FullName, c.Email, string(c.Status), c.UpdatedAt, c.TenantID, c.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update contact %s", c.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: contact %s", c.ID)
	}
	return nil
}

const pgDealCols = `id, tenant_id, contact_id, stage, status, value_cents, currency, created_at, updated_at`

func scanPgDeal(row pgx.Row) (*model.Deal, error) {
	var d model.Deal
	var status string
	err := row.Scan(&d.ID, &d.TenantID, &d.ContactID, &d.Stage, &status, &d.ValueCents, &d.Currency, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.Status = model.DealStatus(status)
	return &d, nil
}

func (q pgQueries) FindOpenDeal(ctx context.Context, tenantID, contactID string, statuses []model.DealStatus) (*model.Deal, error) {
	d, err := scanPgDeal(q.q.QueryRow(ctx,
		`SELECT `+pgDealCols+` FROM deals
		 WHERE tenant_id = $1 AND contact_id = $2 AND status = ANY($3)
		 ORDER BY created_at LIMIT 1`,
		tenantID, contactID, statusStrings(statuses),
	))
	if err != nil && !IsNotFound(err) {
		return nil, eris.Wrap(err, "postgres: find open deal")
	}
	return d, err
}

func (q pgQueries) CreateDeal(ctx context.Context, d *model.Deal) error {
	fillDeal(d, time.Now().UTC())
	_, err := q.q.Exec(ctx,
		`INSERT INTO deals (id, tenant_id, contact_id, stage, status, value_cents, currency, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.TenantID, d.ContactID, d.Stage, string(d.Status), d.ValueCents, d.Currency, d.CreatedAt, d.UpdatedAt,
	)
	return classify(err, "postgres: insert deal")
}

// CreateTenant implements Store.
func (s *PostgresStore) CreateTenant(ctx context.Context, t *model.Tenant) error {
	if t.ID == "" {
		t.ID = newID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tenants (id, name, default_country, auto_create_deals, reopened_counts_as_open, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.Name, t.DefaultCountry, t.AutoCreateDeals, t.ReopenedCountsAsOpen, t.CreatedAt,
	)
	return classify(err, "postgres: insert tenant")
}

// GetTenant implements Store.
func (s *PostgresStore) GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error) {
	var t model.Tenant
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, default_country, auto_create_deals, reopened_counts_as_open, created_at FROM tenants WHERE id = $1`,
		tenantID,
	).Scan(&t.ID, &t.Name, &t.DefaultCountry, &t.AutoCreateDeals, &t.ReopenedCountsAsOpen, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: tenant %s", tenantID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get tenant %s", tenantID)
	}
	return &t, nil
}

// CreateSource implements Store.
func (s *PostgresStore) CreateSource(ctx context.Context, src *model.Source) error {
	if src.ID == "" {
		src.ID = newID()
	}
	if src.Kind == "" {
		src.Kind = model.SourceWebhook
	}
	if src.CreatedAt.IsZero() {
		src.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO webhook_sources (id, tenant_id, name, kind, api_key_hash, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		src.ID, src.TenantID, src.Name, string(src.Kind), src.APIKeyHash, src.Active, src.CreatedAt,
	)
	return classify(err, "postgres: insert source")
}

// GetSource implements Store.
func (s *PostgresStore) GetSource(ctx context.Context, sourceID string) (*model.Source, error) {
	var src model.Source
	var kind string
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, name, kind, api_key_hash, active, created_at FROM webhook_sources WHERE id = $1`,
		sourceID,
	).Scan(&src.ID, &src.TenantID, &src.Name, &kind, &src.APIKeyHash, &src.Active, &src.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: source %s", sourceID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get source %s", sourceID)
	}
	src.Kind = model.SourceKind(kind)
	return &src, nil
}

// SetSourceActive implements Store.
func (s *PostgresStore) SetSourceActive(ctx context.Context, sourceID string, active bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE webhook_sources SET active = $1 WHERE id = $2`, active, sourceID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update source %s", sourceID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: source %s", sourceID)
	}
	return nil
}

var stageUpsert = db.UpsertConfig{
	Table:        "pipeline_stages",
	Columns:      []string{"tenant_id", "key", "name", "position"},
	ConflictKeys: []string{"tenant_id", "key"},
}

// CreateStage implements Store. Re-creating a stage key updates its name and
// position.
func (s *PostgresStore) CreateStage(ctx context.Context, st model.PipelineStage) error {
	query, err := db.UpsertSQL(stageUpsert)
	if err != nil {
		return eris.Wrap(err, "postgres: build stage upsert")
	}
	_, err = s.pool.Exec(ctx, query, st.TenantID, st.Key, st.Name, st.Position)
	return eris.Wrap(err, "postgres: upsert stage")
}

// FirstStage implements Store.
func (s *PostgresStore) FirstStage(ctx context.Context, tenantID string) (*model.PipelineStage, error) {
	var st model.PipelineStage
	err := s.pool.QueryRow(ctx,
		`SELECT tenant_id, key, name, position FROM pipeline_stages WHERE tenant_id = $1 ORDER BY position, key LIMIT 1`,
		tenantID,
	).Scan(&st.TenantID, &st.Key, &st.Name, &st.Position)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: first stage %s", tenantID)
	}
	return &st, nil
}

// InsertLeadEvent implements Store.
func (s *PostgresStore) InsertLeadEvent(ctx context.Context, ev *model.LeadEvent) error {
	payload := ev.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO lead_events (id, tenant_id, contact_id, deal_id, source, source_id, source_name, payload, occurred_at, received_at, archived)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, false)`,
		ev.ID, ev.TenantID, ev.ContactID, ev.DealID, string(ev.Source), ev.SourceID, ev.SourceName, string(payload), ev.OccurredAt, ev.ReceivedAt,
	)
	return eris.Wrap(err, "postgres: insert lead event")
}

// AttachLeadEventDeal links an event to the deal it produced. An already
// linked event is left untouched.
func (s *PostgresStore) AttachLeadEventDeal(ctx context.Context, tenantID, eventID, dealID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE lead_events SET deal_id = $1 WHERE tenant_id = $2 AND id = $3 AND deal_id IS NULL`,
		dealID, tenantID, eventID,
	)
	return eris.Wrapf(err, "postgres: attach deal to event %s", eventID)
}

// ArchiveLeadEvent implements Store.
func (s *PostgresStore) ArchiveLeadEvent(ctx context.Context, tenantID, eventID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE lead_events SET archived = true WHERE tenant_id = $1 AND id = $2`,
		tenantID, eventID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: archive event %s", eventID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: event %s", eventID)
	}
	return nil
}

// GetContact implements Store.
func (s *PostgresStore) GetContact(ctx context.Context, tenantID, contactID string) (*model.Contact, error) {
	return pgQueries{q: s.pool}.GetContact(ctx, tenantID, contactID)
}

// ListPhones implements Store.
func (s *PostgresStore) ListPhones(ctx context.Context, tenantID, contactID string) ([]model.ContactPhone, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgPhoneCols+` FROM contact_phones WHERE tenant_id = $1 AND contact_id = $2 ORDER BY created_at`,
		tenantID, contactID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list phones")
	}
	defer rows.Close()

	var out []model.ContactPhone
	for rows.Next() {
		p, err := scanPgPhone(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan phone")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list phones")
}

// ListLeadEvents implements Store.
func (s *PostgresStore) ListLeadEvents(ctx context.Context, tenantID, contactID string) ([]model.LeadEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, contact_id, deal_id, source, source_id, source_name, payload, occurred_at, received_at, archived
		 FROM lead_events WHERE tenant_id = $1 AND contact_id = $2 ORDER BY received_at, id`,
		tenantID, contactID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list lead events")
	}
	defer rows.Close()

	var out []model.LeadEvent
	for rows.Next() {
		var ev model.LeadEvent
		var source string
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.TenantID, &ev.ContactID, &ev.DealID, &source, &ev.SourceID, &ev.SourceName,
			&payload, &ev.OccurredAt, &ev.ReceivedAt, &ev.Archived); err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead event")
		}
		ev.Source = model.SourceKind(source)
		ev.Payload = payload
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list lead events")
}

// ListDeals implements Store.
func (s *PostgresStore) ListDeals(ctx context.Context, tenantID, contactID string) ([]model.Deal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgDealCols+` FROM deals WHERE tenant_id = $1 AND contact_id = $2 ORDER BY created_at`,
		tenantID, contactID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list deals")
	}
	defer rows.Close()

	var out []model.Deal
	for rows.Next() {
		d, err := scanPgDeal(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan deal")
		}
		out = append(out, *d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list deals")
}

// CountContacts implements Store.
func (s *PostgresStore) CountContacts(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM contacts WHERE tenant_id = $1`, tenantID).Scan(&n)
	return n, eris.Wrap(err, "postgres: count contacts")
}
