package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brunobiangulo/lexgraph/enrich"
	"github.com/brunobiangulo/lexgraph/segment"
)

// SectionGraph is one section ready to be written: the act and section
// nodes, every attached entity, and the citations to resolve later.
type SectionGraph struct {
	Act         Act
	Section     Section
	Terms       []DefinedTerm
	Roles       []Role
	Obligations []Obligation
	Powers      []Power
	Penalties   []Penalty
	Rights      []Right
	Citations   []CitationRef
}

// Validate checks the fields every key is derived from.
func (g *SectionGraph) Validate() error {
	switch {
	case g.Act.ID == "":
		return fmt.Errorf("%w: missing act id", ErrInvalidSection)
	case g.Section.SectionNo == "":
		return fmt.Errorf("%w: missing section number", ErrInvalidSection)
	case g.Section.ID == "":
		return fmt.Errorf("%w: missing section id", ErrInvalidSection)
	case g.Section.ActID != g.Act.ID:
		return fmt.Errorf("%w: section %s belongs to %q, not %q", ErrInvalidSection, g.Section.ID, g.Section.ActID, g.Act.ID)
	}
	return nil
}

// FromEnriched converts an enriched section into its graph form.
func FromEnriched(sec enrich.EnrichedSection) *SectionGraph {
	secID := sec.SectionID
	if secID == "" && sec.ActID != "" && sec.SectionNo != "" {
		secID = segment.SectionID(sec.ActID, sec.SectionNo)
	}

	g := &SectionGraph{
		Act: Act{
			ID:        sec.ActID,
			Title:     strings.TrimSpace(sec.ActTitle),
			Year:      sec.ActYear,
			ActNumber: sec.ActSeq,
		},
		Section: Section{
			ID:        secID,
			ActID:     sec.ActID,
			SectionNo: sec.SectionNo,
			Citation:  sec.Citation,
			Heading:   sec.Heading,
			Text:      sec.Text,
			Chapter:   sec.Chapter,
			Pages:     sec.Pages,
			HasLLM:    sec.LLMUsed,
			LLMModel:  sec.LLMModel,
		},
	}

	seenTerm := make(map[string]bool)
	for _, d := range sec.Definitions {
		name := strings.TrimSpace(d.Term)
		id := TermID(sec.ActID, name)
		if name == "" || seenTerm[id] {
			continue
		}
		seenTerm[id] = true
		g.Terms = append(g.Terms, DefinedTerm{ID: id, Name: name, ActID: sec.ActID, SectionID: secID})
	}

	seenRole := make(map[string]bool)
	for _, r := range sec.Roles {
		name := strings.TrimSpace(r)
		id := RoleID(name)
		if id == "" || seenRole[id] {
			continue
		}
		seenRole[id] = true
		g.Roles = append(g.Roles, Role{ID: id, Name: name})
	}

	for i, o := range sec.Obligations {
		g.Obligations = append(g.Obligations, Obligation{
			ID:         EntityID(secID, KindObligation, i),
			SectionID:  secID,
			Actor:      string(o.Actor),
			Action:     string(o.Action),
			Conditions: string(o.Conditions),
			SourceSpan: string(o.SourceSpan),
		})
	}
	for i, p := range sec.Powers {
		g.Powers = append(g.Powers, Power{
			ID:         EntityID(secID, KindPower, i),
			SectionID:  secID,
			Actor:      string(p.Actor),
			Action:     string(p.Action),
			Conditions: string(p.Conditions),
			SourceSpan: string(p.SourceSpan),
		})
	}
	for i, p := range sec.Penalties {
		g.Penalties = append(g.Penalties, Penalty{
			ID:           EntityID(secID, KindPenalty, i),
			SectionID:    secID,
			Subject:      string(p.Subject),
			Description:  string(p.Description),
			Imprisonment: string(p.Imprisonment),
			FineAmount:   string(p.FineAmount),
			SourceSpan:   string(p.SourceSpan),
		})
	}
	for i, r := range sec.Rights {
		g.Rights = append(g.Rights, Right{
			ID:          EntityID(secID, KindRight, i),
			SectionID:   secID,
			Holder:      string(r.Holder),
			Description: string(r.Description),
			Conditions:  string(r.Conditions),
			SourceSpan:  string(r.SourceSpan),
		})
	}

	for _, c := range sec.SectionCitations() {
		g.Citations = append(g.Citations, CitationRef{
			SourceID:        secID,
			SourceActID:     sec.ActID,
			TargetSectionID: c.TargetSectionID,
			TargetActID:     c.TargetActID,
			SectionNo:       c.SectionNo,
			Raw:             c.Raw,
		})
	}
	return g
}

// UpsertStats summarises an UpsertAll call.
type UpsertStats struct {
	Written int `json:"written"`
	Failed  int `json:"failed"`
}

// Upserter writes enriched sections through a Store.
type Upserter struct {
	store Store
}

// NewUpserter creates an Upserter.
func NewUpserter(s Store) *Upserter {
	return &Upserter{store: s}
}

// Upsert writes one section in a single transaction.
func (u *Upserter) Upsert(ctx context.Context, sec enrich.EnrichedSection) error {
	g := FromEnriched(sec)
	if err := g.Validate(); err != nil {
		return err
	}
	if err := u.store.UpsertSection(ctx, g); err != nil {
		return fmt.Errorf("upserting section %s: %w", g.Section.ID, err)
	}
	return nil
}

// UpsertAll writes sections one by one. A failed section is logged and
// skipped; an error is returned only when every section failed.
func (u *Upserter) UpsertAll(ctx context.Context, secs []enrich.EnrichedSection) (UpsertStats, error) {
	var (
		stats    UpsertStats
		firstErr error
	)
	for _, sec := range secs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := u.Upsert(ctx, sec); err != nil {
			stats.Failed++
			if firstErr == nil {
				firstErr = err
			}
			slog.Warn("upsert: section failed", "section", sec.SectionID, "error", err)
			continue
		}
		stats.Written++
	}
	if stats.Written == 0 && stats.Failed > 0 {
		return stats, fmt.Errorf("upsert: all %d sections failed; first error: %w", stats.Failed, firstErr)
	}
	return stats, nil
}
