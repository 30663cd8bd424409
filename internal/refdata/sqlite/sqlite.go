// Package sqlite implements the refdata Vocabulary Store on modernc.org/sqlite
// for local use and tests.
package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/refdata/internal/refdata"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements refdata.Store on SQLite.
type Store struct {
	queries
	db *sql.DB
}

var _ refdata.Store = (*Store)(nil)

// New opens the SQLite database at path. Transactions take the write lock
// up front so read-then-write sequences serialize.
func New(path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &Store{queries: queries{q: db}, db: db}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS facets (
	facet_name         TEXT PRIMARY KEY,
	data_type          TEXT NOT NULL,
	has_reference_data INTEGER NOT NULL DEFAULT 0,
	created_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS fields (
	namespace   TEXT NOT NULL,
	name        TEXT NOT NULL,
	data_type   TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (namespace, name)
);

CREATE TABLE IF NOT EXISTS facet_mappings (
	facet_name   TEXT NOT NULL REFERENCES facets(facet_name) ON DELETE CASCADE,
	content_type TEXT NOT NULL,
	json_path    TEXT NOT NULL,
	PRIMARY KEY (facet_name, content_type, json_path)
);

CREATE TABLE IF NOT EXISTS reference_values (
	id               TEXT PRIMARY KEY,
	facet_name       TEXT NOT NULL REFERENCES facets(facet_name) ON DELETE CASCADE,
	canonical_value  TEXT NOT NULL,
	normalized_value TEXT NOT NULL,
	display_label    TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL CHECK (status IN ('active', 'suggested', 'deprecated')),
	created_at       DATETIME NOT NULL,
	promoted_at      DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS reference_values_active_key
	ON reference_values(facet_name, normalized_value) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS reference_values_facet_idx
	ON reference_values(facet_name, status, created_at);

CREATE TABLE IF NOT EXISTS reference_value_aliases (
	id                 TEXT PRIMARY KEY,
	reference_value_id TEXT NOT NULL REFERENCES reference_values(id) ON DELETE CASCADE,
	facet_name         TEXT NOT NULL,
	alias_value        TEXT NOT NULL,
	normalized_value   TEXT NOT NULL,
	source_hint        TEXT NOT NULL DEFAULT '',
	match_method       TEXT NOT NULL CHECK (match_method IN ('baseline', 'manual', 'auto_matched', 'llm_suggested')),
	confidence         REAL CHECK (confidence IS NULL OR (confidence >= 0 AND confidence <= 1)),
	retired            INTEGER NOT NULL DEFAULT 0,
	created_at         DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS reference_value_aliases_key
	ON reference_value_aliases(facet_name, normalized_value) WHERE retired = 0;
CREATE INDEX IF NOT EXISTS reference_value_aliases_value_idx
	ON reference_value_aliases(reference_value_id);
`

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// InTx runs fn in one transaction.
func (s *Store) InTx(ctx context.Context, fn func(q refdata.Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(queries{q: tx}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

type queries struct {
	q execer
}

// Lock is a no-op: immediate transactions already hold the database write lock.
func (queries) Lock(context.Context, string) error { return nil }

// --- Catalog ---

func (s queries) GetFacet(ctx context.Context, name string) (*refdata.Facet, error) {
	var f refdata.Facet
	err := s.q.QueryRowContext(ctx,
		`SELECT facet_name, data_type, has_reference_data, created_at FROM facets WHERE facet_name = ?`, name,
	).Scan(&f.Name, &f.DataType, &f.HasReferenceData, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(refdata.ErrNotFound, "sqlite: facet %s", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get facet %s", name)
	}
	return &f, nil
}

func (s queries) ListFacets(ctx context.Context) ([]refdata.Facet, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT facet_name, data_type, has_reference_data, created_at FROM facets ORDER BY facet_name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list facets")
	}
	defer rows.Close() //nolint:errcheck

	var out []refdata.Facet
	for rows.Next() {
		var f refdata.Facet
		if err := rows.Scan(&f.Name, &f.DataType, &f.HasReferenceData, &f.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan facet")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate facets")
}

func (s queries) ListMappings(ctx context.Context, facet string) ([]refdata.FacetMapping, error) {
	query := `SELECT facet_name, content_type, json_path FROM facet_mappings`
	var args []any
	if facet != "" {
		query += ` WHERE facet_name = ?`
		args = append(args, facet)
	}
	query += ` ORDER BY facet_name, content_type, json_path`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list mappings")
	}
	defer rows.Close() //nolint:errcheck

	var out []refdata.FacetMapping
	for rows.Next() {
		var m refdata.FacetMapping
		if err := rows.Scan(&m.FacetName, &m.ContentType, &m.JSONPath); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan mapping")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate mappings")
}

func (s queries) ListFields(ctx context.Context) ([]refdata.Field, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT namespace, name, data_type, description FROM fields ORDER BY namespace, name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list fields")
	}
	defer rows.Close() //nolint:errcheck

	var out []refdata.Field
	for rows.Next() {
		var f refdata.Field
		if err := rows.Scan(&f.Namespace, &f.Name, &f.DataType, &f.Description); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan field")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate fields")
}

func (s queries) UpsertField(ctx context.Context, f refdata.Field) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO fields (namespace, name, data_type, description) VALUES (?, ?, ?, ?)
		 ON CONFLICT (namespace, name) DO UPDATE SET data_type = excluded.data_type, description = excluded.description`,
		f.Namespace, f.Name, f.DataType, f.Description,
	)
	return eris.Wrapf(err, "sqlite: upsert field %s.%s", f.Namespace, f.Name)
}

func (s queries) UpsertFacet(ctx context.Context, f refdata.Facet) error {
	created := f.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO facets (facet_name, data_type, has_reference_data, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (facet_name) DO UPDATE SET data_type = excluded.data_type, has_reference_data = excluded.has_reference_data`,
		f.Name, string(f.DataType), f.HasReferenceData, created,
	)
	return eris.Wrapf(err, "sqlite: upsert facet %s", f.Name)
}

func (s queries) ReplaceMappings(ctx context.Context, facet string, mappings []refdata.FacetMapping) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM facet_mappings WHERE facet_name = ?`, facet); err != nil {
		return eris.Wrapf(err, "sqlite: clear mappings of %s", facet)
	}
	for _, m := range mappings {
		if _, err := s.q.ExecContext(ctx,
			`INSERT INTO facet_mappings (facet_name, content_type, json_path) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
			facet, m.ContentType, m.JSONPath,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert mapping of %s", facet)
		}
	}
	return nil
}

// --- Reference values ---

const valueColumns = `id, facet_name, canonical_value, normalized_value, display_label, description, status, created_at, promoted_at`

func (s queries) ListValues(ctx context.Context, facet string, statuses ...refdata.Status) ([]refdata.ReferenceValue, error) {
	query := `SELECT ` + valueColumns + ` FROM reference_values WHERE facet_name = ?`
	args := []any{facet}
	query, args = withStatuses(query, args, statuses)
	query += ` ORDER BY created_at, id`
	return s.selectValues(ctx, query, args...)
}

func (s queries) GetValue(ctx context.Context, facet, id string) (*refdata.ReferenceValue, error) {
	values, err := s.selectValues(ctx,
		`SELECT `+valueColumns+` FROM reference_values WHERE facet_name = ? AND id = ?`, facet, id)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, eris.Wrapf(refdata.ErrNotFound, "sqlite: reference value %s in %s", id, facet)
	}
	return &values[0], nil
}

func (s queries) FindValuesByNormalized(ctx context.Context, facet, normalized string, statuses ...refdata.Status) ([]refdata.ReferenceValue, error) {
	query := `SELECT ` + valueColumns + ` FROM reference_values WHERE facet_name = ? AND normalized_value = ?`
	args := []any{facet, normalized}
	query, args = withStatuses(query, args, statuses)
	query += ` ORDER BY created_at, id`
	return s.selectValues(ctx, query, args...)
}

func (s queries) InsertValue(ctx context.Context, v *refdata.ReferenceValue) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO reference_values (`+valueColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.FacetName, v.CanonicalValue, v.NormalizedValue, v.DisplayLabel, v.Description,
		string(v.Status), v.CreatedAt, nullTime(v.PromotedAt),
	)
	if err != nil {
		return mapUnique(err, "sqlite: insert reference value")
	}
	return nil
}

func (s queries) UpdateValueStatus(ctx context.Context, id string, status refdata.Status, promotedAt *time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE reference_values SET status = ?, promoted_at = ? WHERE id = ?`,
		string(status), nullTime(promotedAt), id,
	)
	if err != nil {
		return mapUnique(err, "sqlite: update reference value status")
	}
	return checkRowsAffected(res, "reference value", id)
}

func (s queries) DeleteValue(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM reference_values WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete reference value %s", id)
	}
	return checkRowsAffected(res, "reference value", id)
}

func (s queries) DeleteFacetValues(ctx context.Context, facet string) (int64, error) {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM reference_value_aliases WHERE facet_name = ?`, facet); err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete aliases of %s", facet)
	}
	res, err := s.q.ExecContext(ctx, `DELETE FROM reference_values WHERE facet_name = ?`, facet)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete values of %s", facet)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

func (s queries) SeedValues(ctx context.Context, values []refdata.ReferenceValue) (int64, error) {
	for i := range values {
		if err := s.InsertValue(ctx, &values[i]); err != nil {
			return int64(i), err
		}
	}
	return int64(len(values)), nil
}

func (s queries) selectValues(ctx context.Context, query string, args ...any) ([]refdata.ReferenceValue, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query reference values")
	}
	defer rows.Close() //nolint:errcheck

	var out []refdata.ReferenceValue
	for rows.Next() {
		var (
			v        refdata.ReferenceValue
			promoted sql.NullTime
		)
		if err := rows.Scan(&v.ID, &v.FacetName, &v.CanonicalValue, &v.NormalizedValue,
			&v.DisplayLabel, &v.Description, &v.Status, &v.CreatedAt, &promoted); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan reference value")
		}
		if promoted.Valid {
			t := promoted.Time
			v.PromotedAt = &t
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate reference values")
}

// --- Aliases ---

const aliasColumns = `id, reference_value_id, facet_name, alias_value, normalized_value, source_hint, match_method, confidence, retired, created_at`

func (s queries) ListAliases(ctx context.Context, facet string) ([]refdata.Alias, error) {
	return s.selectAliases(ctx,
		`SELECT `+aliasColumns+` FROM reference_value_aliases WHERE facet_name = ? AND retired = 0 ORDER BY created_at, id`, facet)
}

func (s queries) ListValueAliases(ctx context.Context, valueID string) ([]refdata.Alias, error) {
	return s.selectAliases(ctx,
		`SELECT `+aliasColumns+` FROM reference_value_aliases WHERE reference_value_id = ? AND retired = 0 ORDER BY created_at, id`, valueID)
}

func (s queries) FindAlias(ctx context.Context, facet, normalized string) (*refdata.Alias, error) {
	aliases, err := s.selectAliases(ctx,
		`SELECT `+aliasColumns+` FROM reference_value_aliases WHERE facet_name = ? AND normalized_value = ? AND retired = 0`,
		facet, normalized)
	if err != nil || len(aliases) == 0 {
		return nil, err
	}
	return &aliases[0], nil
}

func (s queries) InsertAlias(ctx context.Context, a *refdata.Alias) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO reference_value_aliases (`+aliasColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ReferenceValueID, a.FacetName, a.AliasValue, a.NormalizedValue, a.SourceHint,
		string(a.MatchMethod), nullFloat(a.Confidence), a.Retired, a.CreatedAt,
	)
	if err != nil {
		return mapUnique(err, "sqlite: insert alias")
	}
	return nil
}

func (s queries) DeleteAlias(ctx context.Context, valueID, aliasID string) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM reference_value_aliases WHERE id = ? AND reference_value_id = ?`, aliasID, valueID)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: delete alias %s", aliasID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s queries) ReparentAliases(ctx context.Context, fromValueID, toValueID string) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE reference_value_aliases SET reference_value_id = ? WHERE reference_value_id = ? AND retired = 0`,
		toValueID, fromValueID)
	if err != nil {
		return 0, mapUnique(err, "sqlite: reparent aliases")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

func (s queries) RetireAliases(ctx context.Context, valueID string) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE reference_value_aliases SET retired = 1 WHERE reference_value_id = ? AND retired = 0`, valueID)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: retire aliases of %s", valueID)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

func (s queries) SeedAliases(ctx context.Context, aliases []refdata.Alias) (int64, error) {
	for i := range aliases {
		if err := s.InsertAlias(ctx, &aliases[i]); err != nil {
			return int64(i), err
		}
	}
	return int64(len(aliases)), nil
}

func (s queries) selectAliases(ctx context.Context, query string, args ...any) ([]refdata.Alias, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query aliases")
	}
	defer rows.Close() //nolint:errcheck

	var out []refdata.Alias
	for rows.Next() {
		var (
			a          refdata.Alias
			confidence sql.NullFloat64
		)
		if err := rows.Scan(&a.ID, &a.ReferenceValueID, &a.FacetName, &a.AliasValue, &a.NormalizedValue,
			&a.SourceHint, &a.MatchMethod, &confidence, &a.Retired, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan alias")
		}
		if confidence.Valid {
			a.Confidence = refdata.Float(confidence.Float64)
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate aliases")
}

// --- helpers ---

func withStatuses(query string, args []any, statuses []refdata.Status) (string, []any) {
	if len(statuses) == 0 {
		return query, args
	}
	marks := make([]string, len(statuses))
	for i, st := range statuses {
		marks[i] = "?"
		args = append(args, string(st))
	}
	return query + ` AND status IN (` + strings.Join(marks, ", ") + `)`, args
}

// mapUnique translates unique index violations into the refdata duplicate
// errors.
func mapUnique(err error, msg string) error {
	text := err.Error()
	switch {
	case strings.Contains(text, "UNIQUE constraint failed: reference_value_aliases."):
		return eris.Wrap(refdata.ErrDuplicateAlias, msg)
	case strings.Contains(text, "UNIQUE constraint failed: reference_values.facet_name"):
		return eris.Wrap(refdata.ErrDuplicateCanonicalValue, msg)
	default:
		return eris.Wrap(err, msg)
	}
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(refdata.ErrNotFound, "sqlite: %s %s", entity, id)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
