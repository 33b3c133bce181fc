// Package retrieval selects the evidence set for a query: lexical and vector
// search fused with RRF, then three fallbacks, then graph context assembly.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/brunobiangulo/lexgraph/graph"
	"github.com/brunobiangulo/lexgraph/vector"
)

// NoEvidenceMessage is returned when every tier comes back empty.
const NoEvidenceMessage = "I could not find any relevant sections in the knowledge graph for this query. " +
	"Please try rephrasing it, or mention an Act name or section number explicitly."

// ErrNoEvidence is reported by Evidence.Err when nothing was found.
var ErrNoEvidence = errors.New("retrieval: no evidence")

// Tiers, in the order they are tried.
const (
	TierPrimary  = "primary"
	TierLocator  = "locator"
	TierSemantic = "semantic"
	TierActTitle = "act_title"
	TierNone     = "none"
)

// Lexical modes.
const (
	LexicalContains = "contains"
	LexicalFTS      = "fts"
)

// GraphReader is the read side of the graph the engine needs.
type GraphReader interface {
	LexicalSearch(ctx context.Context, query string, limit int) ([]string, error)
	FullTextSearch(ctx context.Context, match string, limit int) ([]string, error)
	SectionsByLocator(ctx context.Context, locator string) ([]string, error)
	SectionsOfActs(ctx context.Context, actIDs []string, limit int) ([]string, error)
	SectionsByActTitle(ctx context.Context, query string, limit int) ([]string, error)
	SectionContexts(ctx context.Context, ids []string) ([]graph.SectionContext, error)
}

// VectorSearcher embeds a query and searches one collection.
type VectorSearcher interface {
	Search(ctx context.Context, collection, query string, k int, filter map[string]string) ([]vector.Hit, error)
}

// Config holds retrieval engine configuration. Zero values take defaults.
type Config struct {
	LexicalMode      string `json:"lexical_mode" yaml:"lexical_mode" mapstructure:"lexical_mode"`
	CandidateK       int    `json:"candidate_k" yaml:"candidate_k" mapstructure:"candidate_k"`
	MaxResults       int    `json:"max_results" yaml:"max_results" mapstructure:"max_results"`
	ActSectionLimit  int    `json:"act_section_limit" yaml:"act_section_limit" mapstructure:"act_section_limit"`
	TitleLimit       int    `json:"title_limit" yaml:"title_limit" mapstructure:"title_limit"`
	SummaryChars     int    `json:"summary_chars" yaml:"summary_chars" mapstructure:"summary_chars"`
	TextChars        int    `json:"text_chars" yaml:"text_chars" mapstructure:"text_chars"`
	CitedPreviewChar int    `json:"cited_preview_chars" yaml:"cited_preview_chars" mapstructure:"cited_preview_chars"`
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		LexicalMode:      LexicalContains,
		CandidateK:       50,
		MaxResults:       10,
		ActSectionLimit:  40,
		TitleLimit:       20,
		SummaryChars:     800,
		TextChars:        1500,
		CitedPreviewChar: 400,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.LexicalMode == "" {
		c.LexicalMode = d.LexicalMode
	}
	if c.CandidateK <= 0 {
		c.CandidateK = d.CandidateK
	}
	if c.MaxResults <= 0 {
		c.MaxResults = d.MaxResults
	}
	if c.ActSectionLimit <= 0 {
		c.ActSectionLimit = d.ActSectionLimit
	}
	if c.TitleLimit <= 0 {
		c.TitleLimit = d.TitleLimit
	}
	if c.SummaryChars <= 0 {
		c.SummaryChars = d.SummaryChars
	}
	if c.TextChars <= 0 {
		c.TextChars = d.TextChars
	}
	if c.CitedPreviewChar <= 0 {
		c.CitedPreviewChar = d.CitedPreviewChar
	}
	return c
}

// SearchTrace records how a query was answered.
type SearchTrace struct {
	Locator         string                     `json:"locator,omitempty"`
	LexicalMode     string                     `json:"lexical_mode"`
	FTSQuery        string                     `json:"fts_query,omitempty"`
	VecResults      int                        `json:"vec_results"`
	LexicalResults  int                        `json:"lexical_results"`
	FusedResults    int                        `json:"fused_results"`
	LocatorResults  int                        `json:"locator_results,omitempty"`
	SemanticResults int                        `json:"semantic_results,omitempty"`
	TitleResults    int                        `json:"title_results,omitempty"`
	TiersTried      []string                   `json:"tiers_tried"`
	ElapsedMs       int64                      `json:"elapsed_ms"`
	PerResult       map[string]FusedResultInfo `json:"per_result,omitempty"`
}

// Engine runs the retrieval cascade.
type Engine struct {
	graph   GraphReader
	vectors VectorSearcher
	cfg     Config
}

// New creates a retrieval engine.
func New(g GraphReader, v VectorSearcher, cfg Config) *Engine {
	return &Engine{graph: g, vectors: v, cfg: cfg.withDefaults()}
}

// Retrieve runs the tiers in order and stops at the first non-empty one.
// An exhausted cascade is not an error: the returned Evidence has
// NoEvidence set.
func (e *Engine) Retrieve(ctx context.Context, query string) (*Evidence, error) {
	start := time.Now()
	trace := &SearchTrace{LexicalMode: e.cfg.LexicalMode}
	ev := &Evidence{Query: query, Trace: trace}

	locator, hasLocator := DetectLocator(query)
	trace.Locator = locator

	ids, err := e.primary(ctx, query, locator, trace)
	if err != nil {
		return nil, err
	}
	tier := TierPrimary
	trace.TiersTried = append(trace.TiersTried, TierPrimary)

	if len(ids) == 0 && hasLocator {
		trace.TiersTried = append(trace.TiersTried, TierLocator)
		if ids, err = e.graph.SectionsByLocator(ctx, locator); err != nil {
			return nil, fmt.Errorf("locator lookup: %w", err)
		}
		trace.LocatorResults = len(ids)
		tier = TierLocator
	}

	if len(ids) == 0 {
		trace.TiersTried = append(trace.TiersTried, TierSemantic)
		if ids, err = e.semantic(ctx, query); err != nil {
			return nil, err
		}
		trace.SemanticResults = len(ids)
		tier = TierSemantic
	}

	if len(ids) == 0 {
		trace.TiersTried = append(trace.TiersTried, TierActTitle)
		if ids, err = e.graph.SectionsByActTitle(ctx, query, e.cfg.TitleLimit); err != nil {
			return nil, fmt.Errorf("act title lookup: %w", err)
		}
		trace.TitleResults = len(ids)
		tier = TierActTitle
	}

	if len(ids) == 0 {
		ev.Tier = TierNone
		ev.NoEvidence = true
		ev.Message = NoEvidenceMessage
		trace.ElapsedMs = time.Since(start).Milliseconds()
		slog.Info("retrieval: no evidence", "query_len", len(query), "locator", locator)
		return ev, nil
	}

	ctxs, err := e.graph.SectionContexts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading section contexts: %w", err)
	}
	ev.Tier = tier
	ev.Items = make([]EvidenceItem, 0, len(ctxs))
	for _, sc := range ctxs {
		item := e.assemble(sc)
		if info, ok := trace.PerResult[sc.Section.ID]; ok {
			item.Score = info.Score
		}
		ev.Items = append(ev.Items, item)
	}
	if len(ev.Items) == 0 {
		ev.NoEvidence = true
		ev.Message = NoEvidenceMessage
	}

	trace.ElapsedMs = time.Since(start).Milliseconds()
	slog.Debug("retrieval: evidence assembled",
		"tier", ev.Tier, "items", len(ev.Items), "elapsed_ms", trace.ElapsedMs)
	return ev, nil
}

// primary runs vector and lexical search concurrently and fuses them.
// A failing method is logged; the tier only errors when both fail.
func (e *Engine) primary(ctx context.Context, query, locator string, trace *SearchTrace) ([]string, error) {
	type result struct {
		ids []string
		err error
	}

	vecCh := make(chan result, 1)
	lexCh := make(chan result, 1)

	go func() {
		var filter map[string]string
		if locator != "" {
			filter = map[string]string{vector.MetaSectionNo: locator}
		}
		hits, err := e.vectors.Search(ctx, vector.CollectionSections, query, e.cfg.CandidateK, filter)
		ids := make([]string, 0, len(hits))
		for _, h := range hits {
			ids = append(ids, h.RefID)
		}
		vecCh <- result{ids, err}
	}()

	go func() {
		var (
			ids []string
			err error
		)
		if e.cfg.LexicalMode == LexicalFTS {
			match := sanitizeFTSQuery(query)
			trace.FTSQuery = match
			ids, err = e.graph.FullTextSearch(ctx, match, e.cfg.CandidateK)
		} else {
			ids, err = e.graph.LexicalSearch(ctx, query, e.cfg.CandidateK)
		}
		lexCh <- result{ids, err}
	}()

	vecRes := <-vecCh
	lexRes := <-lexCh

	if vecRes.err != nil {
		slog.Warn("retrieval: vector search failed", "error", vecRes.err)
	}
	if lexRes.err != nil {
		slog.Warn("retrieval: lexical search failed", "error", lexRes.err)
	}
	if vecRes.err != nil && lexRes.err != nil {
		return nil, fmt.Errorf("primary search: vector: %v; lexical: %w", vecRes.err, lexRes.err)
	}

	trace.VecResults = len(vecRes.ids)
	trace.LexicalResults = len(lexRes.ids)

	fused, info := fuseRRF(vecRes.ids, lexRes.ids, e.cfg.MaxResults)
	trace.FusedResults = len(fused)
	trace.PerResult = info
	return fused, nil
}

// semantic searches sections and acts, merges the hits by score, and
// expands act hits to their sections.
func (e *Engine) semantic(ctx context.Context, query string) ([]string, error) {
	secHits, err := e.vectors.Search(ctx, vector.CollectionSections, query, e.cfg.CandidateK, nil)
	if err != nil {
		slog.Warn("retrieval: semantic section search failed", "error", err)
	}
	actHits, err2 := e.vectors.Search(ctx, vector.CollectionActs, query, e.cfg.CandidateK, nil)
	if err2 != nil {
		slog.Warn("retrieval: semantic act search failed", "error", err2)
	}
	if err != nil && err2 != nil {
		return nil, fmt.Errorf("semantic search: %w", errors.Join(err, err2))
	}

	type tagged struct {
		hit   vector.Hit
		isAct bool
	}
	merged := make([]tagged, 0, len(secHits)+len(actHits))
	for _, h := range secHits {
		merged = append(merged, tagged{hit: h})
	}
	for _, h := range actHits {
		merged = append(merged, tagged{hit: h, isAct: true})
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].hit.Score > merged[j].hit.Score
	})
	if len(merged) > e.cfg.CandidateK {
		merged = merged[:e.cfg.CandidateK]
	}

	var sectionIDs, actIDs []string
	for _, t := range merged {
		if t.isAct {
			actIDs = append(actIDs, t.hit.RefID)
		} else {
			sectionIDs = append(sectionIDs, t.hit.RefID)
		}
	}

	if len(actIDs) > 0 {
		expanded, err := e.graph.SectionsOfActs(ctx, actIDs, e.cfg.ActSectionLimit)
		if err != nil {
			return nil, fmt.Errorf("expanding acts: %w", err)
		}
		sectionIDs = append(sectionIDs, expanded...)
	}

	return dedupe(sectionIDs, e.cfg.MaxResults), nil
}

// dedupe keeps the first occurrence of each id, up to limit ids.
func dedupe(ids []string, limit int) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, min(len(ids), limit))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
		if len(out) == limit {
			break
		}
	}
	return out
}
