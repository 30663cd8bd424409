// Package index reads distinct raw facet values out of the document index.
package index

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/refdata/internal/db"
	"github.com/sells-group/refdata/internal/refdata"
)

// Config locates the documents table and its columns.
type Config struct {
	Table             string
	IDColumn          string
	ContentTypeColumn string
	MetadataColumn    string
}

// DefaultConfig matches the documents table created by the refdata migrations.
func DefaultConfig() Config {
	return Config{
		Table:             "documents",
		IDColumn:          "id",
		ContentTypeColumn: "content_type",
		MetadataColumn:    "metadata",
	}
}

// PostgresScanner implements refdata.Index over a table of documents whose
// metadata is stored as JSONB.
type PostgresScanner struct {
	q     db.Querier
	query string
}

var _ refdata.Index = (*PostgresScanner)(nil)

// NewPostgresScanner creates a scanner. Empty config fields take defaults.
func NewPostgresScanner(q db.Querier, cfg Config) *PostgresScanner {
	def := DefaultConfig()
	if cfg.Table == "" {
		cfg.Table = def.Table
	}
	if cfg.IDColumn == "" {
		cfg.IDColumn = def.IDColumn
	}
	if cfg.ContentTypeColumn == "" {
		cfg.ContentTypeColumn = def.ContentTypeColumn
	}
	if cfg.MetadataColumn == "" {
		cfg.MetadataColumn = def.MetadataColumn
	}
	return &PostgresScanner{q: q, query: buildScanQuery(cfg)}
}

// buildScanQuery expands every JSON path over the matching documents and
// counts distinct documents per scalar value. Strings are unquoted; other
// scalars keep their JSON text.
func buildScanQuery(cfg Config) string {
	return fmt.Sprintf(`SELECT v.value, count(DISTINCT d.%[2]s) AS documents
FROM %[1]s d
CROSS JOIN LATERAL unnest($2::text[]) AS p(path)
CROSS JOIN LATERAL jsonb_path_query(d.%[4]s, p.path::jsonpath) AS j(item)
CROSS JOIN LATERAL (
	SELECT CASE WHEN jsonb_typeof(j.item) = 'string' THEN j.item #>> '{}' ELSE j.item::text END
) AS v(value)
WHERE d.%[3]s = ANY($1::text[])
  AND jsonb_typeof(j.item) NOT IN ('null', 'object', 'array')
GROUP BY v.value
ORDER BY documents DESC, v.value`,
		pgx.Identifier(strings.Split(cfg.Table, ".")).Sanitize(),
		pgx.Identifier{cfg.IDColumn}.Sanitize(),
		pgx.Identifier{cfg.ContentTypeColumn}.Sanitize(),
		pgx.Identifier{cfg.MetadataColumn}.Sanitize(),
	)
}

// ScanDistinctValues returns each distinct raw value found under jsonPaths in
// documents of contentTypes, with the number of documents carrying it.
func (s *PostgresScanner) ScanDistinctValues(ctx context.Context, contentTypes, jsonPaths []string) ([]refdata.ValueCount, error) {
	if len(contentTypes) == 0 || len(jsonPaths) == 0 {
		return []refdata.ValueCount{}, nil
	}

	rows, err := s.q.Query(ctx, s.query, contentTypes, jsonPaths)
	if err != nil {
		return nil, eris.Wrap(err, "index: scan distinct values")
	}
	defer rows.Close()

	out := []refdata.ValueCount{}
	for rows.Next() {
		var vc refdata.ValueCount
		if err := rows.Scan(&vc.Value, &vc.Count); err != nil {
			return nil, eris.Wrap(err, "index: scan row")
		}
		out = append(out, vc)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "index: iterate rows")
	}

	zap.L().Debug("index: scanned distinct values",
		zap.Strings("content_types", contentTypes),
		zap.Strings("json_paths", jsonPaths),
		zap.Int("values", len(out)),
	)
	return out, nil
}
