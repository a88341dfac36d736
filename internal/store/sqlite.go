package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/migrations"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is meant for
// single-node deployments and tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// Writes are funneled through a single connection so transactions never
// contend on SQLite's file lock.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// Migrate applies the embedded schema. It is idempotent.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migrations.SQLite)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InTx implements Store.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(liteQueries{q: tx}); err != nil {
		if IsConflict(err) || IsNotFound(err) {
			return err
		}
		return classify(err, "sqlite: tx")
	}
	return classify(tx.Commit(), "sqlite: commit")
}

type liteQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// liteQueries runs Tx operations against either the database or a transaction.
type liteQueries struct {
	q liteQuerier
}

type scanner interface {
	Scan(dest ...any) error
}

const litePhoneCols = `id, tenant_id, contact_id, raw, normalized, country_code, assumed_country, is_primary, is_active, created_at, deactivated_at`

func scanLitePhone(row scanner) (*model.ContactPhone, error) {
	var p model.ContactPhone
	var deactivated sql.NullTime
	err := row.Scan(&p.ID, &p.TenantID, &p.ContactID, &p.Raw, &p.Normalized, &p.CountryCode,
		&p.AssumedCountry, &p.IsPrimary, &p.IsActive, &p.CreatedAt, &deactivated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if deactivated.Valid {
		t := deactivated.Time
		p.DeactivatedAt = &t
	}
	return &p, nil
}

func (q liteQueries) FindActivePhone(ctx context.Context, tenantID, normalized string) (*model.ContactPhone, error) {
	p, err := scanLitePhone(q.q.QueryRowContext(ctx,
		`SELECT `+litePhoneCols+` FROM contact_phones WHERE tenant_id = ? AND normalized = ? AND is_active = 1`,
		tenantID, normalized,
	))
	if err != nil && !IsNotFound(err) {
		return nil, eris.Wrap(err, "sqlite: find active phone")
	}
	return p, err
}

func (q liteQueries) GetPhone(ctx context.Context, tenantID, phoneID string) (*model.ContactPhone, error) {
	p, err := scanLitePhone(q.q.QueryRowContext(ctx,
		`SELECT `+litePhoneCols+` FROM contact_phones WHERE tenant_id = ? AND id = ?`,
		tenantID, phoneID,
	))
	if err != nil && !IsNotFound(err) {
		return nil, eris.Wrapf(err, "sqlite: get phone %s", phoneID)
	}
	return p, err
}

func (q liteQueries) CreatePhone(ctx context.Context, p *model.ContactPhone) error {
	fillPhone(p, time.Now().UTC())
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO contact_phones (id, tenant_id, contact_id, raw, normalized, country_code, assumed_country, is_primary, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		p.ID, p.TenantID, p.ContactID, p.Raw, p.Normalized, p.CountryCode, p.AssumedCountry, p.IsPrimary, p.CreatedAt,
	)
	return classify(err, "sqlite: insert phone")
}

func (q liteQueries) DeactivatePhone(ctx context.Context, tenantID, phoneID string, at time.Time) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE contact_phones SET is_active = 0, is_primary = 0, deactivated_at = ? WHERE tenant_id = ? AND id = ? AND is_active = 1`,
		at, tenantID, phoneID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: deactivate phone %s", phoneID)
	}
	return checkRowsAffected(res, "active phone", phoneID)
}

const liteContactCols = `id, tenant_id, first_name, last_name, full_name, email, status, created_at, updated_at`

func scanLiteContact(row scanner) (*model.Contact, error) {
	var c model.Contact
	var status string
	err := row.Scan(&c.ID, &c.TenantID, &c.FirstName, &c.LastName, &c.FullName, &c.Email, &status, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Status = model.ContactStatus(status)
	return &c, nil
}

func (q liteQueries) GetContact(ctx context.Context, tenantID, contactID string) (*model.Contact, error) {
	c, err := scanLiteContact(q.q.QueryRowContext(ctx,
		`SELECT `+liteContactCols+` FROM contacts WHERE tenant_id = ? AND id = ?`,
		tenantID, contactID,
	))
	if err != nil && !IsNotFound(err) {
		return nil, eris.Wrapf(err, "sqlite: get contact %s", contactID)
	}
	return c, err
}

func (q liteQueries) CreateContact(ctx context.Context, c *model.Contact) error {
	fillContact(c, time.Now().UTC())
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO contacts (id, tenant_id, first_name, last_name, full_name, email, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TenantID, c.FirstName, c.LastName, c.FullName, c.Email, string(c.Status), c.CreatedAt, c.UpdatedAt,
	)
	return classify(err, "sqlite: insert contact")
}

func (q liteQueries) UpdateContact(ctx context.Context, c *model.Contact) error {
	c.UpdatedAt = time.Now().UTC()
	res, err := q.q.ExecContext(ctx,
		`UPDATE contacts SET first_name = ?, last_name = ?, full_name = ?, email = ?, status = ?, updated_at = ?
		 WHERE tenant_id = ? AND id = ?`,
		c.FirstName, c.LastName, c.FullName, c.Email, string(c.Status), c.UpdatedAt, c.TenantID, c.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update contact %s", c.ID)
	}
	return checkRowsAffected(res, "contact", c.ID)
}

const liteDealCols = `id, tenant_id, contact_id, stage, status, value_cents, currency, created_at, updated_at`

func scanLiteDeal(row scanner) (*model.Deal, error) {
	var d model.Deal
	var status string
	err := row.Scan(&d.ID, &d.TenantID, &d.ContactID, &d.Stage, &status, &d.ValueCents, &d.Currency, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.Status = model.DealStatus(status)
	return &d, nil
}

func (q liteQueries) FindOpenDeal(ctx context.Context, tenantID, contactID string, statuses []model.DealStatus) (*model.Deal, error) {
	if len(statuses) == 0 {
		return nil, ErrNotFound
	}
	args := []any{tenantID, contactID}
	for _, st := range statuses {
		args = append(args, string(st))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")

	d, err := scanLiteDeal(q.q.QueryRowContext(ctx,
		`SELECT `+liteDealCols+` FROM deals
		 WHERE tenant_id = ? AND contact_id = ? AND status IN (`+placeholders+`)
		 ORDER BY created_at LIMIT 1`,
		args...,
	))
	if err != nil && !IsNotFound(err) {
		return nil, eris.Wrap(err, "sqlite: find open deal")
	}
	return d, err
}

func (q liteQueries) CreateDeal(ctx context.Context, d *model.Deal) error {
	fillDeal(d, time.Now().UTC())
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO deals (id, tenant_id, contact_id, stage, status, value_cents, currency, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.TenantID, d.ContactID, d.Stage, string(d.Status), d.ValueCents, d.Currency, d.CreatedAt, d.UpdatedAt,
	)
	return classify(err, "sqlite: insert deal")
}

// CreateTenant implements Store.
func (s *SQLiteStore) CreateTenant(ctx context.Context, t *model.Tenant) error {
	if t.ID == "" {
		t.ID = newID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, default_country, auto_create_deals, reopened_counts_as_open, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.DefaultCountry, t.AutoCreateDeals, t.ReopenedCountsAsOpen, t.CreatedAt,
	)
	return classify(err, "sqlite: insert tenant")
}

// GetTenant implements Store.
func (s *SQLiteStore) GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error) {
	var t model.Tenant
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, default_country, auto_create_deals, reopened_counts_as_open, created_at FROM tenants WHERE id = ?`,
		tenantID,
	).Scan(&t.ID, &t.Name, &t.DefaultCountry, &t.AutoCreateDeals, &t.ReopenedCountsAsOpen, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: tenant %s", tenantID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get tenant %s", tenantID)
	}
	return &t, nil
}

// CreateSource implements Store.
func (s *SQLiteStore) CreateSource(ctx context.Context, src *model.Source) error {
	if src.ID == "" {
		src.ID = newID()
	}
	if src.Kind == "" {
		src.Kind = model.SourceWebhook
	}
	if src.CreatedAt.IsZero() {
		src.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_sources (id, tenant_id, name, kind, api_key_hash, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		src.ID, src.TenantID, src.Name, string(src.Kind), src.APIKeyHash, src.Active, src.CreatedAt,
	)
	return classify(err, "sqlite: insert source")
}

// GetSource implements Store.
func (s *SQLiteStore) GetSource(ctx context.Context, sourceID string) (*model.Source, error) {
	var src model.Source
	var kind string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, kind, api_key_hash, active, created_at FROM webhook_sources WHERE id = ?`,
		sourceID,
	).Scan(&src.ID, &src.TenantID, &src.Name, &kind, &src.APIKeyHash, &src.Active, &src.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: source %s", sourceID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get source %s", sourceID)
	}
	src.Kind = model.SourceKind(kind)
	return &src, nil
}

// SetSourceActive implements Store.
func (s *SQLiteStore) SetSourceActive(ctx context.Context, sourceID string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE webhook_sources SET active = ? WHERE id = ?`, active, sourceID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update source %s", sourceID)
	}
	return checkRowsAffected(res, "source", sourceID)
}

// CreateStage implements Store.
func (s *SQLiteStore) CreateStage(ctx context.Context, st model.PipelineStage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_stages (tenant_id, key, name, position) VALUES (?, ?, ?, ?)
		 ON CONFLICT (tenant_id, key) DO UPDATE SET name = excluded.name, position = excluded.position`,
		st.TenantID, st.Key, st.Name, st.Position,
	)
	return eris.Wrap(err, "sqlite: upsert stage")
}

// FirstStage implements Store.
func (s *SQLiteStore) FirstStage(ctx context.Context, tenantID string) (*model.PipelineStage, error) {
	var st model.PipelineStage
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, key, name, position FROM pipeline_stages WHERE tenant_id = ? ORDER BY position, key LIMIT 1`,
		tenantID,
	).Scan(&st.TenantID, &st.Key, &st.Name, &st.Position)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: first stage %s", tenantID)
	}
	return &st, nil
}

// InsertLeadEvent implements Store.
func (s *SQLiteStore) InsertLeadEvent(ctx context.Context, ev *model.LeadEvent) error {
	payload := ev.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lead_events (id, tenant_id, contact_id, deal_id, source, source_id, source_name, payload, occurred_at, received_at, archived)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		ev.ID, ev.TenantID, ev.ContactID, ev.DealID, string(ev.Source), ev.SourceID, ev.SourceName, string(payload), ev.OccurredAt, ev.ReceivedAt,
	)
	return eris.Wrap(err, "sqlite: insert lead event")
}

// AttachLeadEventDeal links an event to the deal it produced. An already
// linked event is left untouched.
func (s *SQLiteStore) AttachLeadEventDeal(ctx context.Context, tenantID, eventID, dealID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE lead_events SET deal_id = ? WHERE tenant_id = ? AND id = ? AND deal_id IS NULL`,
		dealID, tenantID, eventID,
	)
	return eris.Wrapf(err, "sqlite: attach deal to event %s", eventID)
}

// ArchiveLeadEvent implements Store.
func (s *SQLiteStore) ArchiveLeadEvent(ctx context.Context, tenantID, eventID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE lead_events SET archived = 1 WHERE tenant_id = ? AND id = ?`,
		tenantID, eventID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: archive event %s", eventID)
	}
	return checkRowsAffected(res, "lead event", eventID)
}

// GetContact implements Store.
func (s *SQLiteStore) GetContact(ctx context.Context, tenantID, contactID string) (*model.Contact, error) {
	return liteQueries{q: s.db}.GetContact(ctx, tenantID, contactID)
}

// ListPhones implements Store.
func (s *SQLiteStore) ListPhones(ctx context.Context, tenantID, contactID string) ([]model.ContactPhone, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+litePhoneCols+` FROM contact_phones WHERE tenant_id = ? AND contact_id = ? ORDER BY created_at`,
		tenantID, contactID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list phones")
	}
	defer rows.Close()

	var out []model.ContactPhone
	for rows.Next() {
		p, err := scanLitePhone(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan phone")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list phones")
}

// ListLeadEvents implements Store.
func (s *SQLiteStore) ListLeadEvents(ctx context.Context, tenantID, contactID string) ([]model.LeadEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, contact_id, deal_id, source, source_id, source_name, payload, occurred_at, received_at, archived
		 FROM lead_events WHERE tenant_id = ? AND contact_id = ? ORDER BY received_at, id`,
		tenantID, contactID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list lead events")
	}
	defer rows.Close()

	var out []model.LeadEvent
	for rows.Next() {
		var ev model.LeadEvent
		var dealID sql.NullString
		var source, payload string
		if err := rows.Scan(&ev.ID, &ev.TenantID, &ev.ContactID, &dealID, &source, &ev.SourceID, &ev.SourceName,
			&payload, &ev.OccurredAt, &ev.ReceivedAt, &ev.Archived); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead event")
		}
		if dealID.Valid {
			id := dealID.String
			ev.DealID = &id
		}
		ev.Source = model.SourceKind(source)
		ev.Payload = []byte(payload)
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list lead events")
}

// ListDeals implements Store.
func (s *SQLiteStore) ListDeals(ctx context.Context, tenantID, contactID string) ([]model.Deal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+liteDealCols+` FROM deals WHERE tenant_id = ? AND contact_id = ? ORDER BY created_at`,
		tenantID, contactID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list deals")
	}
	defer rows.Close()

	var out []model.Deal
	for rows.Next() {
		d, err := scanLiteDeal(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan deal")
		}
		out = append(out, *d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list deals")
}

// CountContacts implements Store.
func (s *SQLiteStore) CountContacts(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM contacts WHERE tenant_id = ?`, tenantID).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count contacts")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %s", entity, id)
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: %s %s", entity, id)
	}
	return nil
}
