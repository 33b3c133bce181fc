package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/lexgraph/llm"
	"github.com/brunobiangulo/lexgraph/segment"
)

type mockChat struct {
	mu        sync.Mutex
	responses []string
	err       error
	prompts   []string
	temps     []*float64
}

func (m *mockChat) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, req.Messages[len(req.Messages)-1].Content)
	m.temps = append(m.temps, req.Temperature)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return &llm.ChatResponse{Content: "[]"}, nil
	}
	r := m.responses[0]
	m.responses = m.responses[1:]
	return &llm.ChatResponse{Content: r, Model: "test-model"}, nil
}

func (m *mockChat) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("not implemented")
}

func newTestBatcher(chat llm.Provider) (*Batcher, *int) {
	b := NewBatcher(chat, Config{Model: "cfg-model"})
	sleeps := 0
	b.sleep = func(context.Context, time.Duration) { sleeps++ }
	return b, &sleeps
}

func annotated(texts ...string) []segment.AnnotatedSection {
	out := make([]segment.AnnotatedSection, len(texts))
	for i, t := range texts {
		out[i] = segment.Annotate(segment.SegmentedSection{SectionNo: string(rune('1' + i)), Text: t})
	}
	return out
}

func TestSplitSentences(t *testing.T) {
	got := SplitSentences("The owner shall pay. Is it due?  Yes! v.1.2 stays whole")
	assert.Equal(t, []string{"The owner shall pay.", "Is it due?", "Yes!", "v.1.2 stays whole"}, got)
}

func TestCandidateSentences(t *testing.T) {
	text := "This Act extends to the city. The collector may inspect. " +
		"Whoever fails shall be punishable with fine. Nothing else."
	got := CandidateSentences(text, 8)
	assert.Equal(t, []string{"The collector may inspect.", "Whoever fails shall be punishable with fine."}, got)

	many := strings.Repeat("He shall go. ", 20)
	assert.Len(t, CandidateSentences(many, 8), 8)

	assert.Empty(t, CandidateSentences("Mayor Smith arrived.", 8), "keywords need word boundaries")
}

func TestParseBatchResponse(t *testing.T) {
	raw := "```json\n" + `[
	  {"section_index": 0, "roles": ["Collector", 3], "obligations": [{"actor":"owner","action":"pay tax","conditions":null,"source_span":"shall pay"}, "junk"],
	   "penalties": [{"subject":"owner","description":"fine","imprisonment":null,"fine_amount":500,"source_span":"fine"}]},
	  {"section_index": 2, "powers": [], "rights": null}
	]` + "\n```"

	got, err := ParseBatchResponse(raw, []int{0, 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"Collector"}, got[0].Roles)
	require.Len(t, got[0].Obligations, 1)
	assert.Equal(t, Text(""), got[0].Obligations[0].Conditions)
	require.Len(t, got[0].Penalties, 1)
	assert.Equal(t, Text("500"), got[0].Penalties[0].FineAmount)
	assert.True(t, got[2].Empty())
}

func TestParseBatchResponseRejectsShapes(t *testing.T) {
	cases := map[string]string{
		"not json":        "sorry, I cannot help",
		"object":          `{"section_index": 0, "roles": []}`,
		"missing index":   `[{"roles": []}]`,
		"string index":    `[{"section_index": "zero"}]`,
		"unknown index":   `[{"section_index": 7}]`,
		"list not array":  `[{"section_index": 0, "roles": "x"}]`,
		"element scalar":  `[1, 2]`,
		"truncated array": `[{"section_index": 0, "roles": [`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseBatchResponse(raw, []int{0})
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestEnrichBatchesAndMerges(t *testing.T) {
	secs := annotated(
		"The collector shall levy the tax.", // 0
		"Short title.",                      // 1, no candidates
		"The owner may appeal.",             // 2
		"The officer shall record it.",      // 3
		"The board may inspect.",            // 4
		"A clerk shall file the return.",    // 5
		"Whoever fails is liable to fine.",  // 6
	)

	resp1, _ := json.Marshal([]map[string]any{
		{"section_index": 0, "roles": []string{"Collector", "collector", "Owner"}},
		{"section_index": 2, "rights": []map[string]any{{"holder": "owner", "description": "appeal"}}},
	})
	resp2, _ := json.Marshal([]map[string]any{
		{"section_index": 6, "penalties": []map[string]any{{"subject": "whoever", "description": "fine", "fine_amount": "100"}}},
	})
	chat := &mockChat{responses: []string{string(resp1), string(resp2)}}
	b, sleeps := newTestBatcher(chat)

	out, stats := b.Enrich(context.Background(), secs)

	require.Len(t, out, 7)
	assert.Equal(t, Stats{Sections: 7, Candidates: 6, Batches: 2, LLMUsed: 3}, stats)
	assert.Equal(t, 0, *sleeps)
	require.Len(t, chat.prompts, 2)
	assert.Contains(t, chat.prompts[0], "SECTION 0:\n1. The collector shall levy the tax.")
	assert.NotContains(t, chat.prompts[0], "SECTION 1:")
	assert.Contains(t, chat.prompts[1], "SECTION 6:")

	assert.Equal(t, []string{"Collector", "Owner"}, out[0].Roles)
	assert.True(t, out[0].LLMUsed)
	assert.Equal(t, "test-model", out[0].LLMModel)
	assert.False(t, out[1].LLMUsed)
	assert.False(t, out[3].LLMUsed, "section omitted from response stays empty")
	assert.Equal(t, Text("100"), out[6].Penalties[0].FineAmount)
}

func TestEnrichFailedBatchIsSkipped(t *testing.T) {
	secs := annotated("The collector shall levy.", "The owner may appeal.")
	chat := &mockChat{responses: []string{`{"not": "an array"}`}}
	b, sleeps := newTestBatcher(chat)

	out, stats := b.Enrich(context.Background(), secs)

	assert.Equal(t, 1, stats.FailedBatches)
	assert.Equal(t, 1, *sleeps, "one backoff per failed batch")
	for _, s := range out {
		assert.False(t, s.LLMUsed)
		assert.True(t, s.Extraction.Empty())
	}
}

func TestCallBatchTransportError(t *testing.T) {
	chat := &mockChat{err: errors.New("connection refused")}
	b, _ := newTestBatcher(chat)

	_, err := b.CallBatch(context.Background(), []BatchItem{{Index: 4, Sentences: []string{"x shall y"}}})
	var be *BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, []int{4}, be.Indices)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCallBatchSendsZeroTemperature(t *testing.T) {
	chat := &mockChat{responses: []string{`[{"section_index":0,"roles":["Collector"]}]`}}
	b, _ := newTestBatcher(chat)

	_, err := b.CallBatch(context.Background(), []BatchItem{{Index: 0, Sentences: []string{"The Collector shall assess."}}})
	require.NoError(t, err)
	require.Len(t, chat.temps, 1)
	require.NotNil(t, chat.temps[0])
	assert.Zero(t, *chat.temps[0])
}

func TestMergeIsAdditive(t *testing.T) {
	sec := EnrichedSection{}
	Merge(&sec, Extraction{Roles: []string{"Magistrate"}, Obligations: []Obligation{{Actor: "a"}}}, "m1")
	Merge(&sec, Extraction{Roles: []string{"magistrate", "Clerk"}, Obligations: []Obligation{{Actor: "b"}}}, "m2")

	assert.Equal(t, []string{"Clerk", "Magistrate"}, sec.Roles)
	assert.Len(t, sec.Obligations, 2)
	assert.True(t, sec.LLMUsed)
	assert.Equal(t, "m2", sec.LLMModel)

	empty := EnrichedSection{}
	Merge(&empty, Extraction{}, "m1")
	assert.False(t, empty.LLMUsed)
	assert.Equal(t, "", empty.LLMModel)
}
