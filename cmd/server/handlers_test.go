package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/lexgraph"
	"github.com/brunobiangulo/lexgraph/graph"
	"github.com/brunobiangulo/lexgraph/retrieval"
	"github.com/brunobiangulo/lexgraph/source"
	"github.com/brunobiangulo/lexgraph/store"
	"github.com/brunobiangulo/lexgraph/vector"
)

type mockEngine struct {
	built      []source.ManifestEntry
	queryErr   error
	evidence   *retrieval.Evidence
	queries    []store.QueryLog
	queryLimit int
}

func (m *mockEngine) Build(ctx context.Context, acts []source.ManifestEntry) (*lexgraph.BuildReport, error) {
	m.built = acts
	return &lexgraph.BuildReport{RunID: "run-1", Built: len(acts)}, nil
}

func (m *mockEngine) Link(ctx context.Context) (*graph.LinkStats, error) {
	return &graph.LinkStats{CitesResolved: 3}, nil
}

func (m *mockEngine) LinkActs(ctx context.Context, actIDs []string) (*graph.LinkStats, error) {
	return &graph.LinkStats{}, nil
}

func (m *mockEngine) Index(ctx context.Context) (*vector.IndexStats, error) {
	return &vector.IndexStats{Sections: 2}, nil
}

func (m *mockEngine) Query(ctx context.Context, question string) (*retrieval.Evidence, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	return m.evidence, nil
}

func (m *mockEngine) Stats(ctx context.Context) (*lexgraph.Stats, error) {
	return &lexgraph.Stats{Graph: &graph.Stats{Nodes: map[string]int{"Act": 1}}, Vectors: map[string]int{}}, nil
}

func (m *mockEngine) RecentQueries(ctx context.Context, limit int) ([]store.QueryLog, error) {
	m.queryLimit = limit
	return m.queries, nil
}

func (m *mockEngine) Close() error { return nil }

func serve(t *testing.T, e lexgraph.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	newHandler(e).routes().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := serve(t, &mockEngine{}, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestQuery(t *testing.T) {
	eng := &mockEngine{evidence: &retrieval.Evidence{
		Query: "land revenue",
		Tier:  retrieval.TierPrimary,
		Items: []retrieval.EvidenceItem{{SectionID: "1851_12-sec-10"}},
		Trace: &retrieval.SearchTrace{FusedResults: 1},
	}}

	rec := serve(t, eng, http.MethodPost, "/query", `{"query":"land revenue"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var ev retrieval.Evidence
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ev))
	assert.Equal(t, retrieval.TierPrimary, ev.Tier)
	assert.Equal(t, []string{"1851_12-sec-10"}, ev.SectionIDs())
	assert.Nil(t, ev.Trace, "trace is only returned on request")
}

func TestQuery_Validation(t *testing.T) {
	rec := serve(t, &mockEngine{}, http.MethodPost, "/query", `{"query":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, &mockEngine{}, http.MethodPost, "/query", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuery_EngineError(t *testing.T) {
	eng := &mockEngine{queryErr: fmt.Errorf("boom")}
	rec := serve(t, eng, http.MethodPost, "/query", `{"query":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestBuild_Manifest(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "acts.csv")
	content := "act_id,year,seq,file_path,act_title\n1851_12,1851,12,1851_12.jsonl,THE MADRAS CITY LAND REVENUE ACT\n"
	require.NoError(t, os.WriteFile(manifest, []byte(content), 0o644))

	eng := &mockEngine{}
	rec := serve(t, eng, http.MethodPost, "/build", fmt.Sprintf(`{"manifest":%q}`, manifest))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, eng.built, 1)
	assert.Equal(t, "1851_12", eng.built[0].ActID)
}

func TestBuild_Validation(t *testing.T) {
	rec := serve(t, &mockEngine{}, http.MethodPost, "/build", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, &mockEngine{}, http.MethodPost, "/build", `{"manifest":"/does/not/exist.csv"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLinkIndexStats(t *testing.T) {
	eng := &mockEngine{}

	rec := serve(t, eng, http.MethodPost, "/link", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cites_resolved":3`)

	rec = serve(t, eng, http.MethodPost, "/index", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sections":2`)

	rec = serve(t, eng, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"Act":1`)
}

func TestQueries(t *testing.T) {
	eng := &mockEngine{}
	rec := serve(t, eng, http.MethodGet, "/queries", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	assert.Equal(t, 20, eng.queryLimit)

	eng.queries = []store.QueryLog{{Query: "land revenue", Tier: "primary", SectionIDs: []string{"1851_12-sec-10"}}}
	rec = serve(t, eng, http.MethodGet, "/queries?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, eng.queryLimit)
	assert.Contains(t, rec.Body.String(), `"section_ids":["1851_12-sec-10"]`)

	rec = serve(t, eng, http.MethodGet, "/queries?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthMiddleware(t *testing.T) {
	h := authMiddleware("secret", newHandler(&mockEngine{}).routes())

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogMiddlewareSetsRequestID(t *testing.T) {
	h := logMiddleware(newHandler(&mockEngine{}).routes())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}
