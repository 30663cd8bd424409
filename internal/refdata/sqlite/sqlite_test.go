package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/refdata/internal/refdata"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(filepath.Join(t.TempDir(), "refdata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.UpsertFacet(context.Background(), refdata.Facet{Name: "agency", DataType: refdata.DataTypeString, HasReferenceData: true}))
	return st
}

func value(id, canonical string, status refdata.Status) *refdata.ReferenceValue {
	return &refdata.ReferenceValue{
		ID:              id,
		FacetName:       "agency",
		CanonicalValue:  canonical,
		NormalizedValue: refdata.Normalize(canonical),
		Status:          status,
		CreatedAt:       time.Now().UTC(),
	}
}

func alias(id, valueID, text string) *refdata.Alias {
	return &refdata.Alias{
		ID:               id,
		ReferenceValueID: valueID,
		FacetName:        "agency",
		AliasValue:       text,
		NormalizedValue:  refdata.Normalize(text),
		MatchMethod:      refdata.MatchManual,
		CreatedAt:        time.Now().UTC(),
	}
}

func TestSQLite_FacetCatalog(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	f, err := st.GetFacet(ctx, "agency")
	require.NoError(t, err)
	assert.True(t, f.HasReferenceData)
	assert.False(t, f.CreatedAt.IsZero())

	_, err = st.GetFacet(ctx, "missing")
	assert.True(t, errors.Is(err, refdata.ErrNotFound))

	require.NoError(t, st.ReplaceMappings(ctx, "agency", []refdata.FacetMapping{
		{ContentType: "solicitation", JSONPath: "$.agency"},
		{ContentType: "award", JSONPath: "$.funding_agency"},
	}))
	mappings, err := st.ListMappings(ctx, "agency")
	require.NoError(t, err)
	require.Len(t, mappings, 2)
	assert.Equal(t, "award", mappings[0].ContentType)

	require.NoError(t, st.ReplaceMappings(ctx, "agency", nil))
	mappings, err = st.ListMappings(ctx, "agency")
	require.NoError(t, err)
	assert.Empty(t, mappings)
}

func TestSQLite_ActiveCanonicalUnique(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertValue(ctx, value("v1", "NASA", refdata.StatusActive)))
	err := st.InsertValue(ctx, value("v2", "nasa", refdata.StatusActive))
	assert.True(t, errors.Is(err, refdata.ErrDuplicateCanonicalValue))

	// Suggested and deprecated duplicates are allowed by the index.
	require.NoError(t, st.InsertValue(ctx, value("v3", "NASA", refdata.StatusSuggested)))
	require.NoError(t, st.InsertValue(ctx, value("v4", "NASA", refdata.StatusDeprecated)))
}

func TestSQLite_AliasUniqueAmongUnretired(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertValue(ctx, value("v1", "Department of Homeland Security", refdata.StatusActive)))
	require.NoError(t, st.InsertValue(ctx, value("v2", "Homeland Security Dept", refdata.StatusActive)))
	require.NoError(t, st.InsertAlias(ctx, alias("a1", "v1", "DHS")))

	err := st.InsertAlias(ctx, alias("a2", "v2", "dhs"))
	assert.True(t, errors.Is(err, refdata.ErrDuplicateAlias))

	n, err := st.RetireAliases(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	found, err := st.FindAlias(ctx, "agency", "dhs")
	require.NoError(t, err)
	assert.Nil(t, found)
	require.NoError(t, st.InsertAlias(ctx, alias("a2", "v2", "dhs")))
}

func TestSQLite_ListValuesOrderAndFilter(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first := value("v1", "NASA", refdata.StatusActive)
	second := value("v2", "USAF", refdata.StatusSuggested)
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	require.NoError(t, st.InsertValue(ctx, first))
	require.NoError(t, st.InsertValue(ctx, second))

	all, err := st.ListValues(ctx, "agency")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "v1", all[0].ID)

	active, err := st.ListValues(ctx, "agency", refdata.StatusActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "NASA", active[0].CanonicalValue)
}

func TestSQLite_UpdateStatusAndPromotedAt(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertValue(ctx, value("v1", "NASA", refdata.StatusSuggested)))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.UpdateValueStatus(ctx, "v1", refdata.StatusActive, &now))

	v, err := st.GetValue(ctx, "agency", "v1")
	require.NoError(t, err)
	assert.Equal(t, refdata.StatusActive, v.Status)
	require.NotNil(t, v.PromotedAt)
	assert.True(t, now.Equal(*v.PromotedAt))

	err = st.UpdateValueStatus(ctx, "nope", refdata.StatusActive, nil)
	assert.True(t, errors.Is(err, refdata.ErrNotFound))
}

func TestSQLite_ReparentAndCascade(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertValue(ctx, value("v1", "NASA", refdata.StatusActive)))
	require.NoError(t, st.InsertValue(ctx, value("v2", "N.A.S.A.", refdata.StatusSuggested)))
	conf := alias("a1", "v2", "National Aeronautics and Space Administration")
	conf.MatchMethod = refdata.MatchLLMSuggested
	conf.Confidence = refdata.Float(0.92)
	require.NoError(t, st.InsertAlias(ctx, conf))

	moved, err := st.ReparentAliases(ctx, "v2", "v1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), moved)

	aliases, err := st.ListValueAliases(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, aliases, 1)
	require.NotNil(t, aliases[0].Confidence)
	assert.InDelta(t, 0.92, *aliases[0].Confidence, 1e-9)

	require.NoError(t, st.DeleteValue(ctx, "v1"))
	remaining, err := st.ListAliases(ctx, "agency")
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestSQLite_InTxRollsBack(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := st.InTx(ctx, func(q refdata.Queries) error {
		if err := q.InsertValue(ctx, value("v1", "NASA", refdata.StatusActive)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	values, err := st.ListValues(ctx, "agency")
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestSQLite_DeleteFacetValues(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	n, err := st.SeedValues(ctx, []refdata.ReferenceValue{*value("v1", "NASA", refdata.StatusActive), *value("v2", "USAF", refdata.StatusSuggested)})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	_, err = st.SeedAliases(ctx, []refdata.Alias{*alias("a1", "v1", "Space Agency")})
	require.NoError(t, err)

	deleted, err := st.DeleteFacetValues(ctx, "agency")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	aliases, err := st.ListAliases(ctx, "agency")
	require.NoError(t, err)
	assert.Empty(t, aliases)
}
