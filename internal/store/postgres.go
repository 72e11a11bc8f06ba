package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen-cli/internal/cache"
	"github.com/sells-group/leadgen-cli/internal/company"
	"github.com/sells-group/leadgen-cli/internal/db"
	"github.com/sells-group/leadgen-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

var _ Store = (*PostgresStore)(nil)

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id              BIGSERIAL PRIMARY KEY,
	name            TEXT NOT NULL,
	normalized_name TEXT NOT NULL UNIQUE,
	legal_name      TEXT NOT NULL DEFAULT '',
	tax_id          TEXT NOT NULL DEFAULT '',
	domain          TEXT NOT NULL DEFAULT '',
	social_url      TEXT NOT NULL DEFAULT '',
	revenue         DOUBLE PRECISION NOT NULL DEFAULT 0,
	employees       INTEGER NOT NULL DEFAULT 0,
	sector          TEXT NOT NULL DEFAULT '',
	city            TEXT NOT NULL DEFAULT '',
	state           TEXT NOT NULL DEFAULT '',
	contacts        JSONB NOT NULL DEFAULT '[]',
	triggers        JSONB NOT NULL DEFAULT '[]',
	sources         JSONB NOT NULL DEFAULT '{}',
	enriched_at     TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_companies_tax_id ON companies(tax_id);
CREATE INDEX IF NOT EXISTS idx_companies_domain ON companies(domain);

CREATE TABLE IF NOT EXISTS leads (
	id                 BIGSERIAL PRIMARY KEY,
	company_id         BIGINT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	trigger_job        JSONB NOT NULL,
	related_jobs       JSONB NOT NULL DEFAULT '[]',
	suggested_contacts JSONB NOT NULL DEFAULT '[]',
	score              INTEGER NOT NULL DEFAULT 0,
	fresh              BOOLEAN NOT NULL DEFAULT true,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_leads_company ON leads(company_id);
CREATE INDEX IF NOT EXISTS idx_leads_score ON leads(score DESC);

CREATE TABLE IF NOT EXISTS notes (
	id         BIGSERIAL PRIMARY KEY,
	company_id BIGINT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	lead_id    BIGINT NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
	body       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_notes_company ON notes(company_id);

CREATE TABLE IF NOT EXISTS cache_entries (
	namespace  TEXT NOT NULL,
	key        TEXT NOT NULL,
	payload    BYTEA,
	success    BOOLEAN NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	expires_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (namespace, key)
);

CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at);

CREATE TABLE IF NOT EXISTS usage_ledger (
	id         BIGSERIAL PRIMARY KEY,
	run_id     TEXT NOT NULL DEFAULT '',
	provider   TEXT NOT NULL,
	operation  TEXT NOT NULL,
	calls      INTEGER NOT NULL,
	cost_usd   DOUBLE PRECISION NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_usage_ledger_created_at ON usage_ledger(created_at);

CREATE TABLE IF NOT EXISTS registry (
	tax_id          TEXT PRIMARY KEY,
	legal_name      TEXT NOT NULL,
	trade_name      TEXT NOT NULL DEFAULT '',
	normalized_name TEXT NOT NULL,
	sector          TEXT NOT NULL DEFAULT '',
	city            TEXT NOT NULL DEFAULT '',
	state           TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT '',
	capital         DOUBLE PRECISION NOT NULL DEFAULT 0,
	partners        JSONB NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_registry_normalized_name ON registry(normalized_name);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	postings   INTEGER NOT NULL DEFAULT 0,
	summary    JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// pgQuerier is satisfied by db.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// --- Companies ---

func (s *PostgresStore) ListCompanies(ctx context.Context) ([]model.Company, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+companyColumns+` FROM companies ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list companies")
	}
	defer rows.Close()

	var out []model.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan company")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list companies iterate")
}

func (s *PostgresStore) GetCompany(ctx context.Context, id int64) (*model.Company, error) {
	return pgGetCompany(ctx, s.pool, id)
}

func pgGetCompany(ctx context.Context, q pgQuerier, id int64) (*model.Company, error) {
	c, err := scanCompany(q.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get company %d", id)
	}
	return c, nil
}

func (s *PostgresStore) GetCompanyByName(ctx context.Context, normalizedName string) (*model.Company, error) {
	c, err := scanCompany(s.pool.QueryRow(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE normalized_name = $1`, normalizedName))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get company by name %q", normalizedName)
	}
	return c, nil
}

func (s *PostgresStore) GetOrCreateCompany(ctx context.Context, c *model.Company) (bool, error) {
	if c.NormalizedName == "" {
		c.NormalizedName = company.NormalizeName(c.Name)
	}
	js, err := marshalCompany(c)
	if err != nil {
		return false, eris.Wrap(err, "postgres")
	}
	now := time.Now().UTC()

	err = s.pool.QueryRow(ctx,
		`INSERT INTO companies (name, normalized_name, legal_name, tax_id, domain, social_url, revenue, employees,
			sector, city, state, contacts, triggers, sources, enriched_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
		 ON CONFLICT (normalized_name) DO NOTHING
		 RETURNING id`,
		c.Name, c.NormalizedName, c.LegalName, c.TaxID, c.Domain, c.SocialURL, c.Revenue, c.Employees,
		c.Sector, c.City, c.State, js.contacts, js.triggers, js.sources, c.EnrichedAt, now,
	).Scan(&c.ID)
	if isNoRows(err) {
		existing, err := s.GetCompanyByName(ctx, c.NormalizedName)
		if err != nil {
			return false, err
		}
		if existing == nil {
			return false, eris.Errorf("postgres: company %q vanished after conflict", c.NormalizedName)
		}
		*c = *existing
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "postgres: insert company")
	}
	c.CreatedAt, c.UpdatedAt = now, now
	return true, nil
}

func (s *PostgresStore) UpdateCompany(ctx context.Context, c *model.Company) error {
	return pgUpdateCompany(ctx, s.pool, c)
}

func pgUpdateCompany(ctx context.Context, q pgQuerier, c *model.Company) error {
	js, err := marshalCompany(c)
	if err != nil {
		return eris.Wrap(err, "postgres")
	}
	c.UpdatedAt = time.Now().UTC()
	tag, err := q.Exec(ctx,
		`UPDATE companies SET name = $1, legal_name = $2, tax_id = $3, domain = $4, social_url = $5, revenue = $6,
			employees = $7, sector = $8, city = $9, state = $10, contacts = $11, triggers = $12, sources = $13,
			enriched_at = $14, updated_at = $15
		 WHERE id = $16`,
		c.Name, c.LegalName, c.TaxID, c.Domain, c.SocialURL, c.Revenue,
		c.Employees, c.Sector, c.City, c.State, js.contacts, js.triggers, js.sources,
		c.EnrichedAt, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update company %d", c.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "company %d", c.ID)
	}
	return nil
}

func (s *PostgresStore) CountLeads(ctx context.Context, companyID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM leads WHERE company_id = $1`, companyID).Scan(&n)
	return n, eris.Wrapf(err, "postgres: count leads %d", companyID)
}

// InTx runs fn inside a database transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx company.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit tx")
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetCompany(ctx context.Context, id int64) (*model.Company, error) {
	return pgGetCompany(ctx, t.tx, id)
}

func (t *pgTx) UpdateCompany(ctx context.Context, c *model.Company) error {
	return pgUpdateCompany(ctx, t.tx, c)
}

func (t *pgTx) DeleteCompany(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM companies WHERE id = $1`, id)
	return eris.Wrapf(err, "postgres: delete company %d", id)
}

func (t *pgTx) ReassignLeads(ctx context.Context, fromID, toID int64) (int, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE leads SET company_id = $1, updated_at = now() WHERE company_id = $2`, toID, fromID)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: reassign leads %d", fromID)
	}
	return int(tag.RowsAffected()), nil
}

func (t *pgTx) ReassignNotes(ctx context.Context, fromID, toID int64) (int, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE notes SET company_id = $1 WHERE company_id = $2`, toID, fromID)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: reassign notes %d", fromID)
	}
	return int(tag.RowsAffected()), nil
}

// --- Leads ---

func (s *PostgresStore) LatestLead(ctx context.Context, companyID int64) (*model.Lead, error) {
	l, err := scanLead(s.pool.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE company_id = $1 ORDER BY id DESC LIMIT 1`, companyID))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: latest lead for company %d", companyID)
	}
	return l, nil
}

func (s *PostgresStore) CreateLead(ctx context.Context, l *model.Lead) error {
	js, err := marshalLead(l)
	if err != nil {
		return eris.Wrap(err, "postgres")
	}
	now := time.Now().UTC()
	err = s.pool.QueryRow(ctx,
		`INSERT INTO leads (company_id, trigger_job, related_jobs, suggested_contacts, score, fresh, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7) RETURNING id`,
		l.CompanyID, js.trigger, js.related, js.contacts, l.Score, l.Fresh, now,
	).Scan(&l.ID)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert lead for company %d", l.CompanyID)
	}
	l.CreatedAt, l.UpdatedAt = now, now
	return nil
}

func (s *PostgresStore) UpdateLead(ctx context.Context, l *model.Lead) error {
	js, err := marshalLead(l)
	if err != nil {
		return eris.Wrap(err, "postgres")
	}
	l.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET trigger_job = $1, related_jobs = $2, suggested_contacts = $3, score = $4, fresh = $5, updated_at = $6
		 WHERE id = $7`,
		js.trigger, js.related, js.contacts, l.Score, l.Fresh, l.UpdatedAt, l.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead %d", l.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "lead %d", l.ID)
	}
	return nil
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE true`
	args := []any{}
	argIdx := 1

	if filter.CompanyID > 0 {
		query += fmt.Sprintf(` AND company_id = $%d`, argIdx)
		args = append(args, filter.CompanyID)
		argIdx++
	}
	if filter.MinScore > 0 {
		query += fmt.Sprintf(` AND score >= $%d`, argIdx)
		args = append(args, filter.MinScore)
		argIdx++
	}
	if filter.FreshOnly {
		query += ` AND fresh`
	}
	query += fmt.Sprintf(` ORDER BY score DESC, id ASC LIMIT $%d`, argIdx)
	args = append(args, limitOr(filter.Limit))
	argIdx++
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var out []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		out = append(out, *l)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list leads iterate")
}

func (s *PostgresStore) AddNote(ctx context.Context, n *model.Note) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO notes (company_id, lead_id, body)
		 SELECT company_id, id, $1 FROM leads WHERE id = $2
		 RETURNING id, company_id, created_at`,
		n.Body, n.LeadID,
	).Scan(&n.ID, &n.CompanyID, &n.CreatedAt)
	if isNoRows(err) {
		return eris.Wrapf(ErrNotFound, "lead %d", n.LeadID)
	}
	return eris.Wrapf(err, "postgres: insert note for lead %d", n.LeadID)
}

// --- Cache backend ---

const cacheColumns = `namespace, key, payload, success, reason, expires_at, created_at`

func scanCacheEntry(row scannable) (*cache.Entry, error) {
	var e cache.Entry
	if err := row.Scan(&e.Namespace, &e.Key, &e.Payload, &e.Success, &e.Reason, &e.ExpiresAt, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) GetCacheEntry(ctx context.Context, namespace, key string) (*cache.Entry, error) {
	e, err := scanCacheEntry(s.pool.QueryRow(ctx,
		`SELECT `+cacheColumns+` FROM cache_entries WHERE namespace = $1 AND key = $2`, namespace, key))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get cache entry")
	}
	return e, nil
}

func (s *PostgresStore) PutCacheEntry(ctx context.Context, e cache.Entry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cache_entries (`+cacheColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (namespace, key) DO UPDATE SET
			payload = EXCLUDED.payload, success = EXCLUDED.success, reason = EXCLUDED.reason,
			expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at`,
		e.Namespace, e.Key, e.Payload, e.Success, e.Reason, e.ExpiresAt, e.CreatedAt,
	)
	return eris.Wrap(err, "postgres: put cache entry")
}

func (s *PostgresStore) DeleteExpiredCacheEntries(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cache_entries WHERE expires_at < $1`, now)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired cache entries")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ListExpiringCacheEntries(ctx context.Context, now, until time.Time) ([]cache.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+cacheColumns+` FROM cache_entries
		 WHERE expires_at >= $1 AND expires_at <= $2 ORDER BY expires_at`, now, until)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list expiring cache entries")
	}
	defer rows.Close()

	var out []cache.Entry
	for rows.Next() {
		e, err := scanCacheEntry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan cache entry")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list expiring iterate")
}

// --- Usage ledger ---

func (s *PostgresStore) RecordUsage(ctx context.Context, rec model.UsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_ledger (run_id, provider, operation, calls, cost_usd, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.RunID, rec.Provider, rec.Operation, rec.Calls, rec.CostUSD, rec.CreatedAt,
	)
	return eris.Wrap(err, "postgres: record usage")
}

func (s *PostgresStore) UsageSummary(ctx context.Context, since time.Time) ([]model.UsageTotal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT provider, SUM(calls)::int, SUM(cost_usd) FROM usage_ledger
		 WHERE created_at >= $1 GROUP BY provider ORDER BY provider`, since)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: usage summary")
	}
	defer rows.Close()

	var out []model.UsageTotal
	for rows.Next() {
		var u model.UsageTotal
		if err := rows.Scan(&u.Provider, &u.Calls, &u.CostUSD); err != nil {
			return nil, eris.Wrap(err, "postgres: scan usage")
		}
		out = append(out, u)
	}
	return out, eris.Wrap(rows.Err(), "postgres: usage summary iterate")
}

// --- Registry ---

func (s *PostgresStore) GetRegistryRecord(ctx context.Context, taxID string) (*model.RegistryRecord, error) {
	r, err := scanRegistry(s.pool.QueryRow(ctx, `SELECT `+registryColumns+` FROM registry WHERE tax_id = $1`, taxID))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get registry %s", taxID)
	}
	return r, nil
}

func (s *PostgresStore) FindRegistryByName(ctx context.Context, name string) (*model.RegistryRecord, error) {
	r, err := scanRegistry(s.pool.QueryRow(ctx,
		`SELECT `+registryColumns+` FROM registry WHERE normalized_name = $1 ORDER BY tax_id LIMIT 1`,
		company.NormalizeName(name)))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find registry by name %q", name)
	}
	return r, nil
}

var registryUpsert = db.UpsertConfig{
	Table: "registry",
	Columns: []string{
		"tax_id", "legal_name", "trade_name", "normalized_name", "sector",
		"city", "state", "status", "capital", "partners",
	},
	ConflictKeys:  []string{"tax_id"},
	SkipUnchanged: true,
}

// UpsertRegistryRecords bulk loads registry records via COPY into a temp
// table followed by INSERT ... ON CONFLICT.
func (s *PostgresStore) UpsertRegistryRecords(ctx context.Context, recs []model.RegistryRecord) (int64, error) {
	rows := make([][]any, 0, len(recs))
	for _, r := range recs {
		partners, err := marshalJSON(r.Partners, "[]")
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal partners")
		}
		rows = append(rows, []any{
			r.TaxID, r.LegalName, r.TradeName, registryName(r), r.Sector,
			r.City, r.State, r.Status, r.Capital, string(partners),
		})
	}
	n, err := db.BulkUpsert(ctx, s.pool, registryUpsert, rows)
	return n, eris.Wrap(err, "postgres: upsert registry")
}

// --- Runs ---

func (s *PostgresStore) CreateRun(ctx context.Context, postings int) (*model.Run, error) {
	run := newRun(postings)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, postings, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		run.ID, string(run.Status), run.Postings, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, summary *model.RunSummary) error {
	summaryJSON, err := marshalJSON(summary, "null")
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, summary = $2, updated_at = $3 WHERE id = $4`,
		string(status), summaryJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanRun(s.pool.QueryRow(ctx,
		`SELECT id, status, postings, summary, created_at, updated_at FROM runs WHERE id = $1`, runID))
	if isNoRows(err) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, status, postings, summary, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, limitOr(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}
