package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/leadgen-cli/internal/cache"
	"github.com/sells-group/leadgen-cli/internal/company"
	"github.com/sells-group/leadgen-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode and foreign keys. A single connection avoids SQLITE_BUSY on writes.
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
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// sqliteMigrations are applied in order; version = index + 1.
var sqliteMigrations = [][]string{
	{
		`CREATE TABLE companies (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			name            TEXT NOT NULL,
			normalized_name TEXT NOT NULL UNIQUE,
			legal_name      TEXT NOT NULL DEFAULT '',
			tax_id          TEXT NOT NULL DEFAULT '',
			domain          TEXT NOT NULL DEFAULT '',
			social_url      TEXT NOT NULL DEFAULT '',
			revenue         REAL NOT NULL DEFAULT 0,
			employees       INTEGER NOT NULL DEFAULT 0,
			sector          TEXT NOT NULL DEFAULT '',
			city            TEXT NOT NULL DEFAULT '',
			state           TEXT NOT NULL DEFAULT '',
			contacts        TEXT NOT NULL DEFAULT '[]',
			triggers        TEXT NOT NULL DEFAULT '[]',
			sources         TEXT NOT NULL DEFAULT '{}',
			enriched_at     DATETIME,
			created_at      DATETIME NOT NULL,
			updated_at      DATETIME NOT NULL
		)`,
		`CREATE INDEX idx_companies_tax_id ON companies(tax_id)`,
		`CREATE INDEX idx_companies_domain ON companies(domain)`,
		`CREATE TABLE leads (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			company_id         INTEGER NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
			trigger_job        TEXT NOT NULL,
			related_jobs       TEXT NOT NULL DEFAULT '[]',
			suggested_contacts TEXT NOT NULL DEFAULT '[]',
			score              INTEGER NOT NULL DEFAULT 0,
			fresh              INTEGER NOT NULL DEFAULT 1,
			created_at         DATETIME NOT NULL,
			updated_at         DATETIME NOT NULL
		)`,
		`CREATE INDEX idx_leads_company ON leads(company_id)`,
		`CREATE TABLE notes (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			company_id INTEGER NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
			lead_id    INTEGER NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
			body       TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX idx_notes_company ON notes(company_id)`,
		`CREATE TABLE cache_entries (
			namespace  TEXT NOT NULL,
			key        TEXT NOT NULL,
			payload    BLOB,
			success    INTEGER NOT NULL,
			reason     TEXT NOT NULL DEFAULT '',
			expires_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (namespace, key)
		)`,
		`CREATE INDEX idx_cache_entries_expires_at ON cache_entries(expires_at)`,
		`CREATE TABLE usage_ledger (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id     TEXT NOT NULL DEFAULT '',
			provider   TEXT NOT NULL,
			operation  TEXT NOT NULL,
			calls      INTEGER NOT NULL,
			cost_usd   REAL NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX idx_usage_ledger_created_at ON usage_ledger(created_at)`,
		`CREATE TABLE registry (
			tax_id          TEXT PRIMARY KEY,
			legal_name      TEXT NOT NULL,
			trade_name      TEXT NOT NULL DEFAULT '',
			normalized_name TEXT NOT NULL,
			sector          TEXT NOT NULL DEFAULT '',
			city            TEXT NOT NULL DEFAULT '',
			state           TEXT NOT NULL DEFAULT '',
			status          TEXT NOT NULL DEFAULT '',
			capital         REAL NOT NULL DEFAULT 0,
			partners        TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE INDEX idx_registry_normalized_name ON registry(normalized_name)`,
		`CREATE TABLE runs (
			id         TEXT PRIMARY KEY,
			status     TEXT NOT NULL,
			postings   INTEGER NOT NULL DEFAULT 0,
			summary    TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX idx_runs_status ON runs(status)`,
	},
}

// Migrate runs all pending schema migrations, each in its own transaction.
// Applied versions are tracked in schema_migrations.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return eris.Wrap(err, "sqlite: create schema_migrations")
	}

	for i, stmts := range sqliteMigrations {
		version := i + 1

		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return eris.Wrapf(err, "sqlite: check migration %d", version)
		}
		if exists > 0 {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return eris.Wrapf(err, "sqlite: begin migration %d", version)
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback() //nolint:errcheck
				return eris.Wrapf(err, "sqlite: migration %d", version)
			}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			tx.Rollback() //nolint:errcheck
			return eris.Wrapf(err, "sqlite: record migration %d", version)
		}
		if err := tx.Commit(); err != nil {
			return eris.Wrapf(err, "sqlite: commit migration %d", version)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqlQuerier is satisfied by *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// --- Companies ---

func (s *SQLiteStore) ListCompanies(ctx context.Context) ([]model.Company, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+companyColumns+` FROM companies ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list companies")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan company")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list companies iterate")
}

func (s *SQLiteStore) GetCompany(ctx context.Context, id int64) (*model.Company, error) {
	return sqliteGetCompany(ctx, s.db, id)
}

func sqliteGetCompany(ctx context.Context, q sqlQuerier, id int64) (*model.Company, error) {
	c, err := scanCompany(q.QueryRowContext(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = ?`, id))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get company %d", id)
	}
	return c, nil
}

func (s *SQLiteStore) GetCompanyByName(ctx context.Context, normalizedName string) (*model.Company, error) {
	c, err := scanCompany(s.db.QueryRowContext(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE normalized_name = ?`, normalizedName))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get company by name %q", normalizedName)
	}
	return c, nil
}

func (s *SQLiteStore) GetOrCreateCompany(ctx context.Context, c *model.Company) (bool, error) {
	if c.NormalizedName == "" {
		c.NormalizedName = company.NormalizeName(c.Name)
	}
	js, err := marshalCompany(c)
	if err != nil {
		return false, eris.Wrap(err, "sqlite")
	}
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO companies (name, normalized_name, legal_name, tax_id, domain, social_url, revenue, employees,
			sector, city, state, contacts, triggers, sources, enriched_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (normalized_name) DO NOTHING`,
		c.Name, c.NormalizedName, c.LegalName, c.TaxID, c.Domain, c.SocialURL, c.Revenue, c.Employees,
		c.Sector, c.City, c.State, string(js.contacts), string(js.triggers), string(js.sources), c.EnrichedAt, now, now,
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: insert company")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		existing, err := s.GetCompanyByName(ctx, c.NormalizedName)
		if err != nil {
			return false, err
		}
		if existing == nil {
			return false, eris.Errorf("sqlite: company %q vanished after conflict", c.NormalizedName)
		}
		*c = *existing
		return false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: last insert id")
	}
	c.ID = id
	c.CreatedAt, c.UpdatedAt = now, now
	return true, nil
}

func (s *SQLiteStore) UpdateCompany(ctx context.Context, c *model.Company) error {
	return sqliteUpdateCompany(ctx, s.db, c)
}

func sqliteUpdateCompany(ctx context.Context, q sqlQuerier, c *model.Company) error {
	js, err := marshalCompany(c)
	if err != nil {
		return eris.Wrap(err, "sqlite")
	}
	c.UpdatedAt = time.Now().UTC()
	res, err := q.ExecContext(ctx,
		`UPDATE companies SET name = ?, legal_name = ?, tax_id = ?, domain = ?, social_url = ?, revenue = ?,
			employees = ?, sector = ?, city = ?, state = ?, contacts = ?, triggers = ?, sources = ?,
			enriched_at = ?, updated_at = ?
		 WHERE id = ?`,
		c.Name, c.LegalName, c.TaxID, c.Domain, c.SocialURL, c.Revenue,
		c.Employees, c.Sector, c.City, c.State, string(js.contacts), string(js.triggers), string(js.sources),
		c.EnrichedAt, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update company %d", c.ID)
	}
	return checkRowsAffected(res, "company", c.ID)
}

func (s *SQLiteStore) CountLeads(ctx context.Context, companyID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads WHERE company_id = ?`, companyID).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count leads %d", companyID)
}

// InTx runs fn inside a database transaction.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx company.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	if err := fn(&sqliteTx{tx: tx}); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) GetCompany(ctx context.Context, id int64) (*model.Company, error) {
	return sqliteGetCompany(ctx, t.tx, id)
}

func (t *sqliteTx) UpdateCompany(ctx context.Context, c *model.Company) error {
	return sqliteUpdateCompany(ctx, t.tx, c)
}

func (t *sqliteTx) DeleteCompany(ctx context.Context, id int64) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM companies WHERE id = ?`, id)
	return eris.Wrapf(err, "sqlite: delete company %d", id)
}

func (t *sqliteTx) ReassignLeads(ctx context.Context, fromID, toID int64) (int, error) {
	res, err := t.tx.ExecContext(ctx, `UPDATE leads SET company_id = ?, updated_at = ? WHERE company_id = ?`,
		toID, time.Now().UTC(), fromID)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: reassign leads %d", fromID)
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (t *sqliteTx) ReassignNotes(ctx context.Context, fromID, toID int64) (int, error) {
	res, err := t.tx.ExecContext(ctx, `UPDATE notes SET company_id = ? WHERE company_id = ?`, toID, fromID)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: reassign notes %d", fromID)
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// --- Leads ---

func (s *SQLiteStore) LatestLead(ctx context.Context, companyID int64) (*model.Lead, error) {
	l, err := scanLead(s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE company_id = ? ORDER BY id DESC LIMIT 1`, companyID))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: latest lead for company %d", companyID)
	}
	return l, nil
}

func (s *SQLiteStore) CreateLead(ctx context.Context, l *model.Lead) error {
	js, err := marshalLead(l)
	if err != nil {
		return eris.Wrap(err, "sqlite")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (company_id, trigger_job, related_jobs, suggested_contacts, score, fresh, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.CompanyID, string(js.trigger), string(js.related), string(js.contacts), l.Score, l.Fresh, now, now,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert lead for company %d", l.CompanyID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return eris.Wrap(err, "sqlite: last insert id")
	}
	l.ID = id
	l.CreatedAt, l.UpdatedAt = now, now
	return nil
}

func (s *SQLiteStore) UpdateLead(ctx context.Context, l *model.Lead) error {
	js, err := marshalLead(l)
	if err != nil {
		return eris.Wrap(err, "sqlite")
	}
	l.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET trigger_job = ?, related_jobs = ?, suggested_contacts = ?, score = ?, fresh = ?, updated_at = ?
		 WHERE id = ?`,
		string(js.trigger), string(js.related), string(js.contacts), l.Score, l.Fresh, l.UpdatedAt, l.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead %d", l.ID)
	}
	return checkRowsAffected(res, "lead", l.ID)
}

func (s *SQLiteStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE 1=1`
	var args []any
	if filter.CompanyID > 0 {
		query += ` AND company_id = ?`
		args = append(args, filter.CompanyID)
	}
	if filter.MinScore > 0 {
		query += ` AND score >= ?`
		args = append(args, filter.MinScore)
	}
	if filter.FreshOnly {
		query += ` AND fresh = 1`
	}
	query += ` ORDER BY score DESC, id ASC LIMIT ?`
	args = append(args, limitOr(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		out = append(out, *l)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list leads iterate")
}

func (s *SQLiteStore) AddNote(ctx context.Context, n *model.Note) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notes (company_id, lead_id, body, created_at)
		 SELECT company_id, id, ?, ? FROM leads WHERE id = ?`,
		n.Body, now, n.LeadID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert note for lead %d", n.LeadID)
	}
	if err := checkRowsAffected(res, "lead", n.LeadID); err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return eris.Wrap(err, "sqlite: last insert id")
	}
	n.ID = id
	n.CreatedAt = now
	return s.db.QueryRowContext(ctx, `SELECT company_id FROM notes WHERE id = ?`, id).Scan(&n.CompanyID)
}

// --- Cache backend ---

func (s *SQLiteStore) GetCacheEntry(ctx context.Context, namespace, key string) (*cache.Entry, error) {
	var e cache.Entry
	var expires, created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT namespace, key, payload, success, reason, expires_at, created_at
		 FROM cache_entries WHERE namespace = ? AND key = ?`, namespace, key,
	).Scan(&e.Namespace, &e.Key, &e.Payload, &e.Success, &e.Reason, &expires, &created)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cache entry")
	}
	e.ExpiresAt = time.UnixMilli(expires).UTC()
	e.CreatedAt = time.UnixMilli(created).UTC()
	return &e, nil
}

func (s *SQLiteStore) PutCacheEntry(ctx context.Context, e cache.Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (namespace, key, payload, success, reason, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (namespace, key) DO UPDATE SET
			payload = excluded.payload, success = excluded.success, reason = excluded.reason,
			expires_at = excluded.expires_at, created_at = excluded.created_at`,
		e.Namespace, e.Key, e.Payload, e.Success, e.Reason, e.ExpiresAt.UnixMilli(), e.CreatedAt.UnixMilli(),
	)
	return eris.Wrap(err, "sqlite: put cache entry")
}

func (s *SQLiteStore) DeleteExpiredCacheEntries(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at < ?`, now.UnixMilli())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired cache entries")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) ListExpiringCacheEntries(ctx context.Context, now, until time.Time) ([]cache.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT namespace, key, payload, success, reason, expires_at, created_at
		 FROM cache_entries WHERE expires_at >= ? AND expires_at <= ? ORDER BY expires_at`,
		now.UnixMilli(), until.UnixMilli(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list expiring cache entries")
	}
	defer rows.Close() //nolint:errcheck

	var out []cache.Entry
	for rows.Next() {
		var e cache.Entry
		var expires, created int64
		if err := rows.Scan(&e.Namespace, &e.Key, &e.Payload, &e.Success, &e.Reason, &expires, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cache entry")
		}
		e.ExpiresAt = time.UnixMilli(expires).UTC()
		e.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list expiring iterate")
}

// --- Usage ledger ---

func (s *SQLiteStore) RecordUsage(ctx context.Context, rec model.UsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_ledger (run_id, provider, operation, calls, cost_usd, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Provider, rec.Operation, rec.Calls, rec.CostUSD, rec.CreatedAt.UnixMilli(),
	)
	return eris.Wrap(err, "sqlite: record usage")
}

func (s *SQLiteStore) UsageSummary(ctx context.Context, since time.Time) ([]model.UsageTotal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, SUM(calls), SUM(cost_usd) FROM usage_ledger
		 WHERE created_at >= ? GROUP BY provider ORDER BY provider`, since.UnixMilli())
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: usage summary")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.UsageTotal
	for rows.Next() {
		var u model.UsageTotal
		if err := rows.Scan(&u.Provider, &u.Calls, &u.CostUSD); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan usage")
		}
		out = append(out, u)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: usage summary iterate")
}

// --- Registry ---

const registryColumns = `tax_id, legal_name, trade_name, sector, city, state, status, capital, partners`

func (s *SQLiteStore) GetRegistryRecord(ctx context.Context, taxID string) (*model.RegistryRecord, error) {
	r, err := scanRegistry(s.db.QueryRowContext(ctx, `SELECT `+registryColumns+` FROM registry WHERE tax_id = ?`, taxID))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get registry %s", taxID)
	}
	return r, nil
}

func (s *SQLiteStore) FindRegistryByName(ctx context.Context, name string) (*model.RegistryRecord, error) {
	r, err := scanRegistry(s.db.QueryRowContext(ctx,
		`SELECT `+registryColumns+` FROM registry WHERE normalized_name = ? ORDER BY tax_id LIMIT 1`,
		company.NormalizeName(name)))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find registry by name %q", name)
	}
	return r, nil
}

func (s *SQLiteStore) UpsertRegistryRecords(ctx context.Context, recs []model.RegistryRecord) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin registry upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO registry (tax_id, legal_name, trade_name, normalized_name, sector, city, state, status, capital, partners)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tax_id) DO UPDATE SET
			legal_name = excluded.legal_name, trade_name = excluded.trade_name,
			normalized_name = excluded.normalized_name, sector = excluded.sector, city = excluded.city,
			state = excluded.state, status = excluded.status, capital = excluded.capital,
			partners = excluded.partners`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare registry upsert")
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	for _, r := range recs {
		partners, err := marshalJSON(r.Partners, "[]")
		if err != nil {
			return n, eris.Wrap(err, "sqlite: marshal partners")
		}
		if _, err := stmt.ExecContext(ctx, r.TaxID, r.LegalName, r.TradeName, registryName(r),
			r.Sector, r.City, r.State, r.Status, r.Capital, string(partners)); err != nil {
			return n, eris.Wrapf(err, "sqlite: upsert registry %s", r.TaxID)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit registry upsert")
	}
	return n, nil
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, postings int) (*model.Run, error) {
	run := newRun(postings)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, postings, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, string(run.Status), run.Postings, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return run, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, summary *model.RunSummary) error {
	summaryJSON, err := marshalJSON(summary, "null")
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, summary = ?, updated_at = ? WHERE id = ?`,
		string(status), string(summaryJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffectedStr(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT id, status, postings, summary, created_at, updated_at FROM runs WHERE id = ?`, runID))
	if isNoRows(err) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, status, postings, summary, created_at, updated_at FROM runs WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limitOr(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %d", entity, id)
	}
	return nil
}

func checkRowsAffectedStr(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}
