// Package enrich extracts roles, obligations, powers, penalties and rights
// from section text with an LLM, batching several sections per call.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/brunobiangulo/lexgraph/llm"
	"github.com/brunobiangulo/lexgraph/segment"
)

const (
	defaultBatchSize     = 5
	defaultMaxCandidates = 8
	defaultBackoff       = time.Second
	defaultBatchTimeout  = 90 * time.Second
)

// ErrMalformedResponse is wrapped by BatchError when the model output is not
// a JSON array of per-section objects.
var ErrMalformedResponse = errors.New("enrich: malformed batch response")

// BatchError reports a failed batch. The whole batch yields no extraction.
type BatchError struct {
	Indices []int
	Err     error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("enrich: batch %v failed: %v", e.Indices, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Config tunes the batcher. Zero values take defaults.
type Config struct {
	Model           string        `json:"model" yaml:"model" mapstructure:"model"`
	BatchSize       int           `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`
	MaxCandidates   int           `json:"max_candidates" yaml:"max_candidates" mapstructure:"max_candidates"`
	FailureBackoff  time.Duration `json:"failure_backoff" yaml:"failure_backoff" mapstructure:"failure_backoff"`
	PerBatchTimeout time.Duration `json:"per_batch_timeout" yaml:"per_batch_timeout" mapstructure:"per_batch_timeout"`
}

// BatchItem is one section's numbered candidate block.
type BatchItem struct {
	Index     int
	Sentences []string
}

// Stats summarises one Enrich call.
type Stats struct {
	Sections      int `json:"sections"`
	Candidates    int `json:"candidates"`
	Batches       int `json:"batches"`
	FailedBatches int `json:"failed_batches"`
	LLMUsed       int `json:"llm_used"`
}

// Batcher sends candidate sentences to the chat model in fixed-size batches.
type Batcher struct {
	chat llm.Provider
	cfg  Config

	sleep func(context.Context, time.Duration)
}

// NewBatcher creates a batcher over a chat provider.
func NewBatcher(chat llm.Provider, cfg Config) *Batcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = defaultMaxCandidates
	}
	if cfg.FailureBackoff < 0 {
		cfg.FailureBackoff = 0
	} else if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = defaultBackoff
	}
	if cfg.PerBatchTimeout <= 0 {
		cfg.PerBatchTimeout = defaultBatchTimeout
	}
	return &Batcher{chat: chat, cfg: cfg, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Enrich runs candidate selection, batched extraction and merge over one
// act's sections. A failed batch is logged, backed off once and skipped;
// its sections keep an empty extraction. Enrich never returns an error for
// a batch failure; it only stops early when ctx is done.
func (b *Batcher) Enrich(ctx context.Context, secs []segment.AnnotatedSection) ([]EnrichedSection, Stats) {
	out := make([]EnrichedSection, len(secs))
	stats := Stats{Sections: len(secs)}

	var items []BatchItem
	for i, s := range secs {
		out[i] = EnrichedSection{AnnotatedSection: s}
		if cands := CandidateSentences(s.Text, b.cfg.MaxCandidates); len(cands) > 0 {
			items = append(items, BatchItem{Index: i, Sentences: cands})
		}
	}
	stats.Candidates = len(items)

	for start := 0; start < len(items); start += b.cfg.BatchSize {
		if ctx.Err() != nil {
			slog.Warn("enrich: stopping early", "error", ctx.Err())
			break
		}
		end := min(start+b.cfg.BatchSize, len(items))
		batch := items[start:end]
		stats.Batches++

		results, model, err := b.call(ctx, batch)
		if err != nil {
			stats.FailedBatches++
			slog.Warn("enrich: batch failed, skipping", "sections", len(batch), "error", err)
			b.sleep(ctx, b.cfg.FailureBackoff)
			continue
		}
		for _, it := range batch {
			if ext, ok := results[it.Index]; ok {
				Merge(&out[it.Index], ext, model)
			}
		}
	}

	for i := range out {
		if out[i].LLMUsed {
			stats.LLMUsed++
		}
	}
	return out, stats
}

// CallBatch sends one batch and returns extractions keyed by section index.
// Any transport or shape failure is returned as *BatchError.
func (b *Batcher) CallBatch(ctx context.Context, batch []BatchItem) (map[int]Extraction, error) {
	res, _, err := b.call(ctx, batch)
	return res, err
}

func (b *Batcher) call(ctx context.Context, batch []BatchItem) (map[int]Extraction, string, error) {
	if len(batch) == 0 {
		return map[int]Extraction{}, "", nil
	}
	indices := make([]int, len(batch))
	for i, it := range batch {
		indices[i] = it.Index
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.PerBatchTimeout)
	defer cancel()

	resp, err := b.chat.Chat(callCtx, llm.ChatRequest{
		Model: b.cfg.Model,
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(batch)},
		},
		Temperature: llm.Temperature(0),
	})
	if err != nil {
		return nil, "", &BatchError{Indices: indices, Err: fmt.Errorf("llm chat: %w", err)}
	}

	results, err := ParseBatchResponse(resp.Content, indices)
	if err != nil {
		return nil, "", &BatchError{Indices: indices, Err: err}
	}

	model := resp.Model
	if model == "" {
		model = b.cfg.Model
	}
	return results, model, nil
}

const systemPrompt = "You are a structured legal information extractor. " +
	"You MUST respond with a valid JSON array only, matching the requested schema."

const batchPrompt = `You are a legal information extraction system for statutes.

For EACH SECTION below, extract:

- roles: distinct entities who act in the law (e.g. "District Magistrate", "keeper of a sarai").
- obligations: duties that MUST be performed.
- powers: actions that an authority MAY do or has power to do.
- penalties: legal consequences like imprisonment, fine, etc.
- rights: any explicit rights granted to persons.

Return a STRICT JSON array. Each element corresponds to ONE section:

{
  "section_index": <integer index exactly as given>,
  "roles": ["role1", "role2"],
  "obligations": [{"actor": "string", "action": "string", "conditions": "string or null", "source_span": "exact sentence or phrase"}],
  "powers": [{"actor": "string", "action": "string", "conditions": "string or null", "source_span": "exact sentence or phrase"}],
  "penalties": [{"subject": "string", "description": "string", "imprisonment": "string or null", "fine_amount": "number or null", "source_span": "exact sentence or phrase"}],
  "rights": [{"holder": "string", "description": "string", "conditions": "string or null", "source_span": "exact sentence or phrase"}]
}

If something is not present for a section, use empty lists.

SECTIONS (each starts with 'SECTION <index>'):

%s
`

func buildPrompt(batch []BatchItem) string {
	blocks := make([]string, len(batch))
	for i, it := range batch {
		var sb strings.Builder
		fmt.Fprintf(&sb, "SECTION %d:", it.Index)
		for n, s := range it.Sentences {
			fmt.Fprintf(&sb, "\n%d. %s", n+1, s)
		}
		blocks[i] = sb.String()
	}
	return fmt.Sprintf(batchPrompt, strings.Join(blocks, "\n\n"))
}

// codeBlockRe strips markdown code fences from LLM output.
var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// extractJSONArray finds the outermost JSON array in the response text.
func extractJSONArray(raw string) (string, error) {
	if m := codeBlockRe.FindStringSubmatch(raw); len(m) > 1 {
		raw = m[1]
	}
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "[") {
		return raw, nil
	}
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start >= 0 && end > start && !strings.Contains(raw[:start], "{") {
		return raw[start : end+1], nil
	}
	return "", fmt.Errorf("%w: no JSON array found", ErrMalformedResponse)
}

var listFields = []string{"roles", "obligations", "powers", "penalties", "rights"}

// ParseBatchResponse validates and decodes a batch response. The response
// must be an array of objects, each with an integer section_index drawn
// from want; list fields, when present, must be arrays. Non-object entries
// inside the entity lists are dropped.
func ParseBatchResponse(raw string, want []int) (map[int]Extraction, error) {
	body, err := extractJSONArray(raw)
	if err != nil {
		return nil, err
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(body), &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	allowed := make(map[int]bool, len(want))
	for _, i := range want {
		allowed[i] = true
	}

	out := make(map[int]Extraction, len(items))
	for n, item := range items {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(item, &obj); err != nil || obj == nil {
			return nil, fmt.Errorf("%w: element %d is not an object", ErrMalformedResponse, n)
		}

		var idx int
		rawIdx, ok := obj["section_index"]
		if !ok {
			return nil, fmt.Errorf("%w: element %d has no section_index", ErrMalformedResponse, n)
		}
		if err := json.Unmarshal(rawIdx, &idx); err != nil {
			return nil, fmt.Errorf("%w: element %d section_index: %v", ErrMalformedResponse, n, err)
		}
		if !allowed[idx] {
			return nil, fmt.Errorf("%w: unexpected section_index %d", ErrMalformedResponse, idx)
		}

		lists := make(map[string][]json.RawMessage, len(listFields))
		for _, f := range listFields {
			v, ok := obj[f]
			if !ok || string(v) == "null" {
				continue
			}
			var arr []json.RawMessage
			if err := json.Unmarshal(v, &arr); err != nil {
				return nil, fmt.Errorf("%w: section %d field %q is not an array", ErrMalformedResponse, idx, f)
			}
			lists[f] = arr
		}

		ext := out[idx]
		for _, r := range lists["roles"] {
			var s string
			if json.Unmarshal(r, &s) == nil && strings.TrimSpace(s) != "" {
				ext.Roles = append(ext.Roles, strings.TrimSpace(s))
			}
		}
		ext.Obligations = append(ext.Obligations, decodeObjects[Obligation](lists["obligations"])...)
		ext.Powers = append(ext.Powers, decodeObjects[Power](lists["powers"])...)
		ext.Penalties = append(ext.Penalties, decodeObjects[Penalty](lists["penalties"])...)
		ext.Rights = append(ext.Rights, decodeObjects[Right](lists["rights"])...)
		out[idx] = ext
	}
	return out, nil
}

func decodeObjects[T any](raw []json.RawMessage) []T {
	var out []T
	for _, r := range raw {
		trimmed := strings.TrimSpace(string(r))
		if !strings.HasPrefix(trimmed, "{") {
			continue
		}
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}
