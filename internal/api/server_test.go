package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/refdata/internal/refdata"
	"github.com/sells-group/refdata/internal/refdata/sqlite"
	"github.com/sells-group/refdata/internal/resilience"
)

type fakeIndex struct {
	values []refdata.ValueCount
	err    error
}

func (f *fakeIndex) ScanDistinctValues(context.Context, []string, []string) ([]refdata.ValueCount, error) {
	return f.values, f.err
}

type fixture struct {
	srv    *httptest.Server
	engine *refdata.Engine
}

func newFixture(t *testing.T, ix refdata.Index) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := sqlite.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.UpsertFacet(ctx, refdata.Facet{Name: "agency", DataType: refdata.DataTypeString, HasReferenceData: true}))
	require.NoError(t, st.ReplaceMappings(ctx, "agency", []refdata.FacetMapping{
		{FacetName: "agency", ContentType: "solicitation", JSONPath: "$.agency"},
	}))

	opts := []refdata.Option{refdata.WithScanRetry(resilience.RetryConfig{MaxAttempts: 1})}
	if ix != nil {
		opts = append(opts, refdata.WithIndex(ix))
	}
	e := refdata.NewEngine(st, opts...)
	srv := httptest.NewServer(New(e, WithAllowedOrigins([]string{"https://ops.example.com"})).Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, engine: e}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rdr)
	require.NoError(t, err)
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() }) //nolint:errcheck
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decodeBody[map[string]string](t, resp)["status"])
}

func TestListFacets(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(t, http.MethodGet, "/facets", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[struct {
		Facets []refdata.Facet `json:"facets"`
	}](t, resp)
	require.Len(t, body.Facets, 1)
	assert.Equal(t, "agency", body.Facets[0].Name)
}

func TestValueLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodPost, "/facets/agency/values", refdata.CreateRequest{
		CanonicalValue: "National Aeronautics and Space Administration",
		Aliases:        []string{"NASA"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[refdata.ReferenceValue](t, resp)
	assert.Equal(t, refdata.StatusActive, created.Status)

	resp = f.do(t, http.MethodPost, "/facets/agency/values/"+created.ID+"/aliases", map[string]any{
		"alias_value": "N.A.S.A.",
		"source_hint": "sam.gov",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	alias := decodeBody[refdata.Alias](t, resp)
	assert.Equal(t, refdata.MatchManual, alias.MatchMethod)

	resp = f.do(t, http.MethodPost, "/facets/agency/values/"+created.ID+"/aliases", map[string]any{
		"alias_value": "national aeronautics and space administration",
	})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode, "own canonical text adds nothing")

	resp = f.do(t, http.MethodGet, "/facets/agency/resolve?value=n.a.s.a.", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resolved := decodeBody[resolveResponse](t, resp)
	require.NotNil(t, resolved.Value)
	assert.Equal(t, created.ID, resolved.Value.ID)

	resp = f.do(t, http.MethodDelete, "/facets/agency/values/"+created.ID+"/aliases/"+alias.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/facets/agency/values/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/facets/agency/resolve?value=NASA", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, decodeBody[resolveResponse](t, resp).Value)
}

func TestSuggestionModeration(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodPost, "/facets/agency/suggestions", saveSuggestionsRequest{Groups: []refdata.Group{
		{CanonicalValue: "Smithsonian Institution", Aliases: []string{"SI"}, Confidence: refdata.Float(0.9)},
		{CanonicalValue: "Peace Corps", Aliases: []string{}},
	}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	saved := decodeBody[refdata.SaveResult](t, resp)
	assert.Equal(t, 2, saved.ValuesCreated)

	resp = f.do(t, http.MethodGet, "/facets/agency/values", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[map[string][]refdata.ReferenceValue](t, resp)["values"])

	resp = f.do(t, http.MethodGet, "/facets/agency/values?include_suggested=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	values := decodeBody[map[string][]refdata.ReferenceValue](t, resp)["values"]
	require.Len(t, values, 2)

	ids := map[string]string{}
	for _, v := range values {
		ids[v.CanonicalValue] = v.ID
	}

	resp = f.do(t, http.MethodPost, "/facets/agency/values/"+ids["Smithsonian Institution"]+"/approve", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	promoted := decodeBody[refdata.PromoteResult](t, resp)
	assert.Equal(t, refdata.StatusActive, promoted.Value.Status)

	resp = f.do(t, http.MethodPost, "/facets/agency/values/"+ids["Smithsonian Institution"]+"/approve", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "approving an active value is an invalid transition")

	resp = f.do(t, http.MethodPost, "/facets/agency/values/"+ids["Peace Corps"]+"/reject", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/facets/agency/values/"+ids["Peace Corps"]+"/reject", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(t, http.MethodPost, "/facets/agency/values", refdata.CreateRequest{CanonicalValue: "NASA"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		kind   string
	}{
		{"unknown facet", http.MethodGet, "/facets/missing/values", nil, http.StatusNotFound, "NotFound"},
		{"malformed facet", http.MethodGet, "/facets/Bad-Name/values", nil, http.StatusBadRequest, "ValidationError"},
		{"duplicate canonical", http.MethodPost, "/facets/agency/values", refdata.CreateRequest{CanonicalValue: "nasa"}, http.StatusConflict, "DuplicateCanonicalValue"},
		{"bad body", http.MethodPost, "/facets/agency/values", `{"canonical":`, http.StatusBadRequest, "ValidationError"},
		{"unknown field", http.MethodPost, "/facets/agency/values", `{"name":"x"}`, http.StatusBadRequest, "ValidationError"},
		{"bad flag", http.MethodGet, "/facets/agency/values?include_suggested=maybe", nil, http.StatusBadRequest, "ValidationError"},
		{"resolve without value", http.MethodGet, "/facets/agency/resolve", nil, http.StatusBadRequest, "ValidationError"},
		{"discover without index", http.MethodGet, "/facets/agency/discover", nil, http.StatusBadGateway, "UpstreamUnavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.kind, decodeBody[errorBody](t, resp).Kind)
		})
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(eris.Wrap(refdata.ErrDuplicateAlias, "wrapped")))
	assert.Equal(t, http.StatusConflict, statusFor(refdata.ErrInvalidState))
	assert.Equal(t, http.StatusBadGateway, statusFor(refdata.Upstream("index", assert.AnError)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}

func TestDiscover(t *testing.T) {
	f := newFixture(t, &fakeIndex{values: []refdata.ValueCount{
		{Value: "NASA", Count: 4},
		{Value: "USAF", Count: 2},
	}})
	_, err := f.engine.CreateReferenceValue(context.Background(), "agency", refdata.CreateRequest{CanonicalValue: "NASA"})
	require.NoError(t, err)

	resp := f.do(t, http.MethodGet, "/facets/agency/discover", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decodeBody[refdata.DiscoveryResult](t, resp)
	assert.Equal(t, 2, res.ScannedValues)
	assert.Equal(t, 1, res.ResolvedValues)
	require.Len(t, res.UnmappedValues, 1)
	assert.Equal(t, "USAF", res.UnmappedValues[0].Value)
}

func TestDiscover_IndexFailure(t *testing.T) {
	f := newFixture(t, &fakeIndex{err: assert.AnError})
	resp := f.do(t, http.MethodGet, "/facets/agency/discover", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestBaselineExportImport(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(t, http.MethodPost, "/facets/agency/values", refdata.CreateRequest{CanonicalValue: "NASA", Aliases: []string{"N.A.S.A."}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/baseline/export", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))
	assert.Equal(t, "1", resp.Header.Get("X-Refdata-Values"))
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	doc := buf.String()
	assert.Contains(t, doc, "canonical_value: NASA")

	resp = f.do(t, http.MethodPost, "/baseline/import", doc)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decodeBody[errorBody](t, resp).Error, "unsaved edits will be lost")

	edited := strings.Replace(doc, "canonical_value: NASA", "canonical_value: Space Agency", 1)
	resp = f.do(t, http.MethodPost, "/baseline/import?confirm=true", edited)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decodeBody[map[string]int64](t, resp)
	assert.Equal(t, int64(1), res["reference_values_flushed"])
	assert.Equal(t, int64(1), res["reference_values_seeded"])

	resp = f.do(t, http.MethodGet, "/facets/agency/resolve?value=N.A.S.A.", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resolved := decodeBody[resolveResponse](t, resp)
	require.NotNil(t, resolved.Value)
	assert.Equal(t, "Space Agency", resolved.Value.CanonicalValue)
}

func TestBaselineImport_BodyLimit(t *testing.T) {
	f := newFixture(t, nil)
	srv := httptest.NewServer(New(f.engine, WithMaxBaselineBytes(64)).Handler())
	t.Cleanup(srv.Close)

	body := "version: 1\nfacets: []\n# " + strings.Repeat("x", 128) + "\n"
	resp, err := srv.Client().Post(srv.URL+"/baseline/import?confirm=true", "application/yaml", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	got := decodeBody[errorBody](t, resp)
	assert.Equal(t, "ValidationError", got.Kind)
	assert.Contains(t, got.Error, "64 bytes")
}

func TestCORS(t *testing.T) {
	f := newFixture(t, nil)
	req, err := http.NewRequest(http.MethodOptions, f.srv.URL+"/facets", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://ops.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, "https://ops.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}
