// Package postgres implements the refdata Vocabulary Store on Postgres.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/refdata/internal/db"
	"github.com/sells-group/refdata/internal/refdata"
)

const (
	activeValueKey = "reference_values_active_key"
	aliasKey       = "reference_value_aliases_key"
)

// Store implements refdata.Store using a pgx pool.
type Store struct {
	queries
	pool db.Pool
}

var _ refdata.Store = (*Store)(nil)

// NewStore creates a Store backed by pool.
func NewStore(pool db.Pool) *Store {
	return &Store{queries: queries{q: pool}, pool: pool}
}

// Pool returns the underlying pool.
func (s *Store) Pool() db.Pool {
	return s.pool
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// InTx runs fn in a single transaction.
func (s *Store) InTx(ctx context.Context, fn func(q refdata.Queries) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(queries{q: tx, tx: true}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit tx")
}

type queries struct {
	q  db.Querier
	tx bool
}

// Lock takes a transaction-scoped advisory lock on key. Outside a transaction
// it is a no-op.
func (s queries) Lock(ctx context.Context, key string) error {
	if !s.tx {
		return nil
	}
	_, err := s.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key)
	return eris.Wrap(err, "postgres: advisory lock")
}

// --- Catalog ---

func (s queries) GetFacet(ctx context.Context, name string) (*refdata.Facet, error) {
	var f refdata.Facet
	err := s.q.QueryRow(ctx,
		`SELECT facet_name, data_type, has_reference_data, created_at FROM facets WHERE facet_name = $1`, name,
	).Scan(&f.Name, &f.DataType, &f.HasReferenceData, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(refdata.ErrNotFound, "postgres: facet %s", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get facet %s", name)
	}
	return &f, nil
}

func (s queries) ListFacets(ctx context.Context) ([]refdata.Facet, error) {
	rows, err := s.q.Query(ctx,
		`SELECT facet_name, data_type, has_reference_data, created_at FROM facets ORDER BY facet_name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list facets")
	}
	defer rows.Close()

	var out []refdata.Facet
	for rows.Next() {
		var f refdata.Facet
		if err := rows.Scan(&f.Name, &f.DataType, &f.HasReferenceData, &f.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan facet")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate facets")
}

func (s queries) ListMappings(ctx context.Context, facet string) ([]refdata.FacetMapping, error) {
	rows, err := s.q.Query(ctx,
		`SELECT facet_name, content_type, json_path FROM facet_mappings
		 WHERE $1 = '' OR facet_name = $1
		 ORDER BY facet_name, content_type, json_path`, facet)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list mappings")
	}
	defer rows.Close()

	var out []refdata.FacetMapping
	for rows.Next() {
		var m refdata.FacetMapping
		if err := rows.Scan(&m.FacetName, &m.ContentType, &m.JSONPath); err != nil {
			return nil, eris.Wrap(err, "postgres: scan mapping")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate mappings")
}

func (s queries) ListFields(ctx context.Context) ([]refdata.Field, error) {
	rows, err := s.q.Query(ctx,
		`SELECT namespace, name, data_type, description FROM fields ORDER BY namespace, name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list fields")
	}
	defer rows.Close()

	var out []refdata.Field
	for rows.Next() {
		var f refdata.Field
		if err := rows.Scan(&f.Namespace, &f.Name, &f.DataType, &f.Description); err != nil {
			return nil, eris.Wrap(err, "postgres: scan field")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate fields")
}

func (s queries) UpsertField(ctx context.Context, f refdata.Field) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO fields (namespace, name, data_type, description) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (namespace, name) DO UPDATE SET data_type = EXCLUDED.data_type, description = EXCLUDED.description`,
		f.Namespace, f.Name, f.DataType, f.Description,
	)
	return eris.Wrapf(err, "postgres: upsert field %s.%s", f.Namespace, f.Name)
}

func (s queries) UpsertFacet(ctx context.Context, f refdata.Facet) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO facets (facet_name, data_type, has_reference_data) VALUES ($1, $2, $3)
		 ON CONFLICT (facet_name) DO UPDATE SET data_type = EXCLUDED.data_type, has_reference_data = EXCLUDED.has_reference_data`,
		f.Name, string(f.DataType), f.HasReferenceData,
	)
	return eris.Wrapf(err, "postgres: upsert facet %s", f.Name)
}

func (s queries) ReplaceMappings(ctx context.Context, facet string, mappings []refdata.FacetMapping) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM facet_mappings WHERE facet_name = $1`, facet); err != nil {
		return eris.Wrapf(err, "postgres: clear mappings of %s", facet)
	}
	if len(mappings) == 0 {
		return nil
	}
	rows := make([][]any, len(mappings))
	for i, m := range mappings {
		rows[i] = []any{facet, m.ContentType, m.JSONPath}
	}
	_, err := db.CopyFrom(ctx, s.q, "facet_mappings", []string{"facet_name", "content_type", "json_path"}, rows)
	return eris.Wrapf(err, "postgres: copy mappings of %s", facet)
}

// --- Reference values ---

const valueColumns = `id, facet_name, canonical_value, normalized_value, display_label, description, status, created_at, promoted_at`

func (s queries) ListValues(ctx context.Context, facet string, statuses ...refdata.Status) ([]refdata.ReferenceValue, error) {
	return s.selectValues(ctx,
		`SELECT `+valueColumns+` FROM reference_values
		 WHERE facet_name = $1 AND (cardinality($2::text[]) = 0 OR status = ANY($2))
		 ORDER BY created_at, id`,
		facet, statusArgs(statuses))
}

func (s queries) GetValue(ctx context.Context, facet, id string) (*refdata.ReferenceValue, error) {
	query := `SELECT ` + valueColumns + ` FROM reference_values WHERE facet_name = $1 AND id = $2`
	if s.tx {
		query += ` FOR UPDATE`
	}
	values, err := s.selectValues(ctx, query, facet, id)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, eris.Wrapf(refdata.ErrNotFound, "postgres: reference value %s in %s", id, facet)
	}
	return &values[0], nil
}

func (s queries) FindValuesByNormalized(ctx context.Context, facet, normalized string, statuses ...refdata.Status) ([]refdata.ReferenceValue, error) {
	return s.selectValues(ctx,
		`SELECT `+valueColumns+` FROM reference_values
		 WHERE facet_name = $1 AND normalized_value = $2 AND (cardinality($3::text[]) = 0 OR status = ANY($3))
		 ORDER BY created_at, id`,
		facet, normalized, statusArgs(statuses))
}

func (s queries) InsertValue(ctx context.Context, v *refdata.ReferenceValue) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO reference_values (`+valueColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		v.ID, v.FacetName, v.CanonicalValue, v.NormalizedValue, v.DisplayLabel, v.Description,
		string(v.Status), v.CreatedAt, v.PromotedAt,
	)
	return mapUnique(err, "postgres: insert reference value")
}

func (s queries) UpdateValueStatus(ctx context.Context, id string, status refdata.Status, promotedAt *time.Time) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE reference_values SET status = $2, promoted_at = $3 WHERE id = $1`,
		id, string(status), promotedAt,
	)
	if err != nil {
		return mapUnique(err, "postgres: update reference value status")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(refdata.ErrNotFound, "postgres: reference value %s", id)
	}
	return nil
}

func (s queries) DeleteValue(ctx context.Context, id string) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM reference_values WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete reference value %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(refdata.ErrNotFound, "postgres: reference value %s", id)
	}
	return nil
}

// DeleteFacetValues removes every value of facet; aliases cascade.
func (s queries) DeleteFacetValues(ctx context.Context, facet string) (int64, error) {
	tag, err := s.q.Exec(ctx, `DELETE FROM reference_values WHERE facet_name = $1`, facet)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: delete values of %s", facet)
	}
	return tag.RowsAffected(), nil
}

func (s queries) SeedValues(ctx context.Context, values []refdata.ReferenceValue) (int64, error) {
	rows := make([][]any, len(values))
	for i, v := range values {
		rows[i] = []any{v.ID, v.FacetName, v.CanonicalValue, v.NormalizedValue, v.DisplayLabel,
			v.Description, string(v.Status), v.CreatedAt, v.PromotedAt}
	}
	n, err := db.CopyFrom(ctx, s.q, "reference_values", splitColumns(valueColumns), rows)
	if err != nil {
		return 0, mapUnique(err, "postgres: seed reference values")
	}
	return n, nil
}

func (s queries) selectValues(ctx context.Context, query string, args ...any) ([]refdata.ReferenceValue, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query reference values")
	}
	defer rows.Close()

	var out []refdata.ReferenceValue
	for rows.Next() {
		var v refdata.ReferenceValue
		if err := rows.Scan(&v.ID, &v.FacetName, &v.CanonicalValue, &v.NormalizedValue,
			&v.DisplayLabel, &v.Description, &v.Status, &v.CreatedAt, &v.PromotedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan reference value")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate reference values")
}

// --- Aliases ---

const aliasColumns = `id, reference_value_id, facet_name, alias_value, normalized_value, source_hint, match_method, confidence, retired, created_at`

func (s queries) ListAliases(ctx context.Context, facet string) ([]refdata.Alias, error) {
	return s.selectAliases(ctx,
		`SELECT `+aliasColumns+` FROM reference_value_aliases
		 WHERE facet_name = $1 AND NOT retired ORDER BY created_at, id`, facet)
}

func (s queries) ListValueAliases(ctx context.Context, valueID string) ([]refdata.Alias, error) {
	return s.selectAliases(ctx,
		`SELECT `+aliasColumns+` FROM reference_value_aliases
		 WHERE reference_value_id = $1 AND NOT retired ORDER BY created_at, id`, valueID)
}

func (s queries) FindAlias(ctx context.Context, facet, normalized string) (*refdata.Alias, error) {
	aliases, err := s.selectAliases(ctx,
		`SELECT `+aliasColumns+` FROM reference_value_aliases
		 WHERE facet_name = $1 AND normalized_value = $2 AND NOT retired`, facet, normalized)
	if err != nil || len(aliases) == 0 {
		return nil, err
	}
	return &aliases[0], nil
}

func (s queries) InsertAlias(ctx context.Context, a *refdata.Alias) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO reference_value_aliases (`+aliasColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.ReferenceValueID, a.FacetName, a.AliasValue, a.NormalizedValue, a.SourceHint,
		string(a.MatchMethod), a.Confidence, a.Retired, a.CreatedAt,
	)
	return mapUnique(err, "postgres: insert alias")
}

func (s queries) DeleteAlias(ctx context.Context, valueID, aliasID string) (bool, error) {
	tag, err := s.q.Exec(ctx,
		`DELETE FROM reference_value_aliases WHERE id = $1 AND reference_value_id = $2`, aliasID, valueID)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: delete alias %s", aliasID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s queries) ReparentAliases(ctx context.Context, fromValueID, toValueID string) (int64, error) {
	tag, err := s.q.Exec(ctx,
		`UPDATE reference_value_aliases SET reference_value_id = $2 WHERE reference_value_id = $1 AND NOT retired`,
		fromValueID, toValueID)
	if err != nil {
		return 0, mapUnique(err, "postgres: reparent aliases")
	}
	return tag.RowsAffected(), nil
}

func (s queries) RetireAliases(ctx context.Context, valueID string) (int64, error) {
	tag, err := s.q.Exec(ctx,
		`UPDATE reference_value_aliases SET retired = true WHERE reference_value_id = $1 AND NOT retired`, valueID)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: retire aliases of %s", valueID)
	}
	return tag.RowsAffected(), nil
}

func (s queries) SeedAliases(ctx context.Context, aliases []refdata.Alias) (int64, error) {
	rows := make([][]any, len(aliases))
	for i, a := range aliases {
		rows[i] = []any{a.ID, a.ReferenceValueID, a.FacetName, a.AliasValue, a.NormalizedValue,
			a.SourceHint, string(a.MatchMethod), a.Confidence, a.Retired, a.CreatedAt}
	}
	n, err := db.CopyFrom(ctx, s.q, "reference_value_aliases", splitColumns(aliasColumns), rows)
	if err != nil {
		return 0, mapUnique(err, "postgres: seed aliases")
	}
	return n, nil
}

func (s queries) selectAliases(ctx context.Context, query string, args ...any) ([]refdata.Alias, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query aliases")
	}
	defer rows.Close()

	var out []refdata.Alias
	for rows.Next() {
		var a refdata.Alias
		if err := rows.Scan(&a.ID, &a.ReferenceValueID, &a.FacetName, &a.AliasValue, &a.NormalizedValue,
			&a.SourceHint, &a.MatchMethod, &a.Confidence, &a.Retired, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan alias")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate aliases")
}

// --- helpers ---

func statusArgs(statuses []refdata.Status) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

// mapUnique translates unique violations of the vocabulary indexes into the
// refdata duplicate errors.
func mapUnique(err error, msg string) error {
	if err == nil {
		return nil
	}
	if constraint, ok := db.UniqueViolation(err); ok {
		switch constraint {
		case activeValueKey:
			return eris.Wrap(refdata.ErrDuplicateCanonicalValue, msg)
		case aliasKey:
			return eris.Wrap(refdata.ErrDuplicateAlias, msg)
		}
	}
	return eris.Wrap(err, msg)
}
