package mcpserver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/lexgraph"
	"github.com/brunobiangulo/lexgraph/graph"
	"github.com/brunobiangulo/lexgraph/retrieval"
)

type mockEngine struct {
	evidence *retrieval.Evidence
	queryErr error
	stats    *lexgraph.Stats

	lastQuery string
}

func (m *mockEngine) Query(ctx context.Context, question string) (*retrieval.Evidence, error) {
	m.lastQuery = question
	return m.evidence, m.queryErr
}

func (m *mockEngine) Stats(ctx context.Context) (*lexgraph.Stats, error) {
	return m.stats, nil
}

func sampleEvidence() *retrieval.Evidence {
	return &retrieval.Evidence{
		Query: "land revenue",
		Tier:  retrieval.TierPrimary,
		Items: []retrieval.EvidenceItem{
			{SectionID: "1851_12-sec-10", Citation: "Section 10"},
			{SectionID: "1851_12-sec-2", Citation: "Section 2"},
		},
		Trace: &retrieval.SearchTrace{FusedResults: 2},
	}
}

func TestRetrieveEvidence(t *testing.T) {
	eng := &mockEngine{evidence: sampleEvidence()}
	server := NewServer(eng, "test")

	_, out, err := server.handleRetrieveEvidence(context.Background(), nil, RetrieveEvidenceInput{Query: "  land revenue "})
	require.NoError(t, err)
	assert.Equal(t, "land revenue", eng.lastQuery)
	assert.Equal(t, retrieval.TierPrimary, out.Tier)
	assert.Len(t, out.Items, 2)
	assert.Nil(t, out.Trace)
}

func TestRetrieveEvidence_MaxResultsAndTrace(t *testing.T) {
	server := NewServer(&mockEngine{evidence: sampleEvidence()}, "test")

	_, out, err := server.handleRetrieveEvidence(context.Background(), nil, RetrieveEvidenceInput{Query: "land", MaxResults: 1, WithTrace: true})
	require.NoError(t, err)
	require.Len(t, out.Items, 1)
	assert.Equal(t, "1851_12-sec-10", out.Items[0].SectionID)
	require.NotNil(t, out.Trace)
	assert.Equal(t, 2, out.Trace.FusedResults)
}

func TestRetrieveEvidence_NoEvidenceIsNotAnError(t *testing.T) {
	ev := &retrieval.Evidence{Query: "zzz", Tier: retrieval.TierNone, NoEvidence: true, Message: retrieval.NoEvidenceMessage}
	server := NewServer(&mockEngine{evidence: ev}, "test")

	_, out, err := server.handleRetrieveEvidence(context.Background(), nil, RetrieveEvidenceInput{Query: "zzz"})
	require.NoError(t, err)
	assert.True(t, out.NoEvidence)
	assert.Equal(t, retrieval.NoEvidenceMessage, out.Message)
	assert.NotNil(t, out.Items)
	assert.Empty(t, out.Items)
}

func TestRetrieveEvidence_RequiresQuery(t *testing.T) {
	server := NewServer(&mockEngine{}, "test")

	_, _, err := server.handleRetrieveEvidence(context.Background(), nil, RetrieveEvidenceInput{Query: "   "})
	assert.Error(t, err)
}

func TestRetrieveEvidence_EngineError(t *testing.T) {
	boom := errors.New("boom")
	server := NewServer(&mockEngine{queryErr: boom}, "test")

	_, _, err := server.handleRetrieveEvidence(context.Background(), nil, RetrieveEvidenceInput{Query: "x"})
	assert.ErrorIs(t, err, boom)
}

func TestGraphStats(t *testing.T) {
	eng := &mockEngine{stats: &lexgraph.Stats{
		Graph:   &graph.Stats{Nodes: map[string]int{"Section": 3}, Edges: map[string]int{"CITES": 1}},
		Vectors: map[string]int{"sections": 3},
	}}
	server := NewServer(eng, "test")

	_, out, err := server.handleGraphStats(context.Background(), nil, GraphStatsInput{})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Nodes["Section"])
	assert.Equal(t, 1, out.Edges["CITES"])
	assert.Equal(t, 3, out.Vectors["sections"])
}
