package vector

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/lexgraph/graph"
)

type mockEmbedder struct {
	mu     sync.Mutex
	calls  []int
	poison string
}

func (m *mockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, len(texts))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if m.poison != "" && strings.Contains(t, m.poison) {
			return nil, errors.New("embed rejected")
		}
		out[i] = []float32{float32(len(t)), 1, 0, 0}
	}
	return out, nil
}

type memVectors struct {
	recs map[string]map[string]Record
}

func (m *memVectors) UpsertVectors(_ context.Context, collection string, recs []Record) error {
	if m.recs == nil {
		m.recs = map[string]map[string]Record{}
	}
	if m.recs[collection] == nil {
		m.recs[collection] = map[string]Record{}
	}
	for _, r := range recs {
		m.recs[collection][r.RefID] = r
	}
	return nil
}

func (m *memVectors) SearchVectors(_ context.Context, collection string, _ []float32, k int, filter map[string]string) ([]Hit, error) {
	var out []Hit
	for _, r := range m.recs[collection] {
		match := true
		for key, v := range filter {
			if r.Metadata[key] != v {
				match = false
			}
		}
		if match {
			out = append(out, Hit{RefID: r.RefID, Label: r.Label, Score: 1, Metadata: r.Metadata})
		}
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (m *memVectors) CountVectors(_ context.Context, collection string) (int, error) {
	return len(m.recs[collection]), nil
}

type fakeSource struct {
	acts     []graph.Act
	sections []graph.Section
	ents     *graph.Entities
}

func (f fakeSource) ListActs(context.Context) ([]graph.Act, error)         { return f.acts, nil }
func (f fakeSource) ListSections(context.Context) ([]graph.Section, error) { return f.sections, nil }
func (f fakeSource) ListEntities(context.Context) (*graph.Entities, error) { return f.ents, nil }

func testSource(nSections int) fakeSource {
	src := fakeSource{
		acts: []graph.Act{{ID: "1851_12", Title: "THE MADRAS CITY LAND REVENUE ACT, 1851", Year: 1851}, {ID: "1900_1", Year: 1900}},
		ents: &graph.Entities{
			Terms:       []graph.DefinedTerm{{ID: "1851_12|collector", Name: "Collector", ActID: "1851_12", SectionID: "1851_12-sec-1"}},
			Roles:       []graph.Role{{ID: "collector", Name: "Collector"}},
			Obligations: []graph.Obligation{{ID: "1851_12-sec-1|ob|0", SectionID: "1851_12-sec-1", Actor: "owner", Action: "pay the tax", Conditions: "on demand"}},
			RoleActs:    map[string][]string{"collector": {"1851_12"}},
		},
	}
	for i := 1; i <= nSections; i++ {
		no := strconv.Itoa(i)
		src.sections = append(src.sections, graph.Section{
			ID:        "1851_12-sec-" + no,
			ActID:     "1851_12",
			SectionNo: no,
			Citation:  "Section " + no,
			Heading:   "Heading " + no,
			Text:      "Body text about land revenue.",
		})
	}
	return src
}

func TestDocumentsExcludeIdentifiers(t *testing.T) {
	src := testSource(1)
	acts := map[string]graph.Act{"1851_12": src.acts[0]}
	recs := SectionRecords(src.sections, acts)
	require.Len(t, recs, 1)

	doc := recs[0].Document
	assert.True(t, strings.HasPrefix(doc, "THE MADRAS CITY LAND REVENUE ACT, 1851\nHeading 1"))
	assert.NotContains(t, doc, "1851_12-sec-1")
	assert.NotContains(t, doc, "Section 1")

	meta := recs[0].Metadata
	assert.Equal(t, "1851_12-sec-1", meta[MetaRefID])
	assert.Equal(t, "Section", meta[MetaNodeLabel])
	assert.Equal(t, "1", meta[MetaSectionNo])
	assert.Equal(t, "Section 1", meta[MetaCitation])
	assert.Equal(t, "1851", meta[MetaActYear])
}

func TestActDocumentFallback(t *testing.T) {
	assert.Equal(t, "Act of 1900", ActDocument(graph.Act{ID: "1900_1", Year: 1900}))
	assert.Equal(t, "THE ACT", ActDocument(graph.Act{Title: " THE ACT "}))
}

func TestEntityDocuments(t *testing.T) {
	o := graph.Obligation{Actor: "owner", Action: "pay the tax", Conditions: "on demand"}
	doc := ObligationDocument(o, graph.Section{Heading: "Payment"}, graph.Act{Title: "The Act"})
	assert.True(t, strings.HasPrefix(doc, "Obligation: owner must pay the tax when on demand\n"))

	p := graph.Power{Actor: "Collector", Action: "inspect"}
	assert.True(t, strings.HasPrefix(PowerDocument(p, graph.Section{}, graph.Act{}), "Power: Collector may inspect\n"))
}

func TestIndexBatchesAndCounts(t *testing.T) {
	emb := &mockEmbedder{}
	vs := &memVectors{}
	m := NewManager(vs, emb, Config{})

	stats, err := m.Index(context.Background(), testSource(65))
	require.NoError(t, err)

	assert.Equal(t, 65, stats.Sections)
	assert.Equal(t, 2, stats.Acts)
	assert.Equal(t, 3, stats.Entities)
	assert.Zero(t, stats.Skipped)
	assert.Equal(t, []int{30, 30, 5, 2, 3}, emb.calls)

	counts, err := m.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"sections": 65, "acts": 2, "entities": 3}, counts)

	// Reindexing replaces by ref id.
	_, err = m.Index(context.Background(), testSource(65))
	require.NoError(t, err)
	n, _ := vs.CountVectors(context.Background(), CollectionSections)
	assert.Equal(t, 65, n)
}

func TestIndexFallsBackToSingleItems(t *testing.T) {
	src := testSource(3)
	src.sections[1].Text = "POISON text"
	emb := &mockEmbedder{poison: "POISON"}
	vs := &memVectors{}
	m := NewManager(vs, emb, Config{})

	stats, err := m.Index(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Sections)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, []int{3, 1, 1, 1}, emb.calls[:4])
	_, ok := vs.recs[CollectionSections]["1851_12-sec-2"]
	assert.False(t, ok)
}

func TestSearchWithFilter(t *testing.T) {
	vs := &memVectors{}
	m := NewManager(vs, &mockEmbedder{}, Config{})
	_, err := m.Index(context.Background(), testSource(3))
	require.NoError(t, err)

	hits, err := m.Search(context.Background(), CollectionSections, "revenue", 50, map[string]string{MetaSectionNo: "2"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "1851_12-sec-2", hits[0].RefID)

	_, err = m.Search(context.Background(), "bogus", "q", 5, nil)
	assert.ErrorIs(t, err, ErrUnknownCollection)
}
