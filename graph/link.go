package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// LinkStats reports what each linker pass added.
type LinkStats struct {
	CitesResolved       int           `json:"cites_resolved"`
	UnresolvedCitations int           `json:"unresolved_citations"`
	SameTermLinks       int           `json:"same_term_links"`
	RoleActLinks        int           `json:"role_act_links"`
	CoOccurrencePairs   int           `json:"co_occurrence_pairs"`
	SectionsScored      int           `json:"sections_scored"`
	Duration            time.Duration `json:"duration"`
}

// Linker runs the cross-section passes once every act has been loaded.
// Each pass only merges, so a rerun adds nothing except co-occurrence
// counts, which accumulate.
type Linker struct {
	store Store
}

// NewLinker creates a Linker.
func NewLinker(s Store) *Linker {
	return &Linker{store: s}
}

type linkPass struct {
	name string
	fn   func(context.Context, *LinkStats) error
}

// Run executes every pass in order. Co-occurrence counts are added for
// every section in the graph.
func (l *Linker) Run(ctx context.Context) (*LinkStats, error) {
	return l.run(ctx, func(ctx context.Context, stats *LinkStats) error {
		return l.CountCoOccurrences(ctx, stats)
	})
}

// RunActs executes every pass but adds co-occurrence counts only for the
// sections of actIDs. The other passes merge and are safe to repeat, so an
// incremental rebuild can relink without inflating the counts of acts that
// were already counted. An empty actIDs adds no counts.
func (l *Linker) RunActs(ctx context.Context, actIDs []string) (*LinkStats, error) {
	acts := make(map[string]bool, len(actIDs))
	for _, id := range actIDs {
		acts[id] = true
	}
	return l.run(ctx, func(ctx context.Context, stats *LinkStats) error {
		return l.countCoOccurrences(ctx, stats, func(sr SectionRoles) bool { return acts[sr.ActID] })
	})
}

func (l *Linker) run(ctx context.Context, coOccur func(context.Context, *LinkStats) error) (*LinkStats, error) {
	start := time.Now()
	stats := &LinkStats{}

	passes := []linkPass{
		{"resolve_citations", l.ResolveCitations},
		{"same_terms", l.LinkSameTerms},
		{"roles_to_acts", l.LinkRolesToActs},
		{"co_occurrence", coOccur},
		{"severity", l.ScoreSeverity},
	}
	for _, p := range passes {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		t := time.Now()
		if err := p.fn(ctx, stats); err != nil {
			return stats, fmt.Errorf("link pass %s: %w", p.name, err)
		}
		slog.Info("link: pass done", "pass", p.name, "elapsed", time.Since(t))
	}

	stats.Duration = time.Since(start)
	slog.Info("link: complete",
		"cites", stats.CitesResolved,
		"unresolved", stats.UnresolvedCitations,
		"same_terms", stats.SameTermLinks,
		"role_acts", stats.RoleActLinks,
		"co_occurrence_pairs", stats.CoOccurrencePairs,
		"scored", stats.SectionsScored,
		"elapsed", stats.Duration)
	return stats, nil
}

// ResolveCitations turns recorded citations into CITES edges. A citation
// whose target section does not exist is counted and dropped. A section
// citing its own number gets a CITES edge to itself.
func (l *Linker) ResolveCitations(ctx context.Context, stats *LinkStats) error {
	refs, err := l.store.ListCitations(ctx)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		target, ok, err := l.resolve(ctx, ref)
		if err != nil {
			return err
		}
		if !ok {
			stats.UnresolvedCitations++
			slog.Debug("link: unresolved citation", "source", ref.SourceID, "raw", ref.Raw)
			continue
		}
		if err := l.store.MergeCites(ctx, ref.SourceID, target); err != nil {
			return err
		}
		stats.CitesResolved++
	}
	return nil
}

func (l *Linker) resolve(ctx context.Context, ref CitationRef) (string, bool, error) {
	if ref.TargetSectionID != "" {
		ok, err := l.store.SectionExists(ctx, ref.TargetSectionID)
		if err != nil || ok {
			return ref.TargetSectionID, ok, err
		}
	}
	if ref.SectionNo == "" {
		return "", false, nil
	}
	actID := ref.TargetActID
	if actID == "" {
		actID = ref.SourceActID
	}
	return l.store.FindSection(ctx, actID, ref.SectionNo)
}

// LinkSameTerms connects defined terms with the same case-folded name in
// different acts. Each pair is linked once, from the lower id to the higher.
func (l *Linker) LinkSameTerms(ctx context.Context, stats *LinkStats) error {
	terms, err := l.store.ListDefinedTerms(ctx)
	if err != nil {
		return err
	}
	byName := make(map[string][]string)
	for _, t := range terms {
		name := strings.ToLower(strings.TrimSpace(t.Name))
		if name == "" {
			continue
		}
		byName[name] = append(byName[name], t.ID)
	}

	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		ids := byName[n]
		sort.Strings(ids)
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				if ids[i] == ids[j] {
					continue
				}
				if err := l.store.MergeSameTerm(ctx, ids[i], ids[j]); err != nil {
					return err
				}
				stats.SameTermLinks++
			}
		}
	}
	return nil
}

// LinkRolesToActs adds APPEARS_IN_ACT from every mentioned role to the act
// of each section mentioning it.
func (l *Linker) LinkRolesToActs(ctx context.Context, stats *LinkStats) error {
	sections, err := l.store.ListSectionRoles(ctx)
	if err != nil {
		return err
	}
	seen := make(map[[2]string]bool)
	for _, sr := range sections {
		for _, r := range sr.RoleIDs {
			key := [2]string{r, sr.ActID}
			if seen[key] {
				continue
			}
			seen[key] = true
			if err := l.store.MergeAppearsInAct(ctx, r, sr.ActID); err != nil {
				return err
			}
			stats.RoleActLinks++
		}
	}
	return nil
}

// CountCoOccurrences counts, for every unordered pair of distinct roles,
// the sections mentioning both and adds that count to the pair's edge.
func (l *Linker) CountCoOccurrences(ctx context.Context, stats *LinkStats) error {
	return l.countCoOccurrences(ctx, stats, nil)
}

func (l *Linker) countCoOccurrences(ctx context.Context, stats *LinkStats, keep func(SectionRoles) bool) error {
	sections, err := l.store.ListSectionRoles(ctx)
	if err != nil {
		return err
	}
	if keep != nil {
		kept := sections[:0]
		for _, sr := range sections {
			if keep(sr) {
				kept = append(kept, sr)
			}
		}
		sections = kept
	}
	counts := CoOccurrences(sections)

	pairs := make([][2]string, 0, len(counts))
	for p := range counts {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})

	for _, p := range pairs {
		if err := l.store.IncrementCoOccurrence(ctx, p[0], p[1], counts[p]); err != nil {
			return err
		}
		stats.CoOccurrencePairs++
	}
	return nil
}

// CoOccurrences counts sections per canonical role pair.
func CoOccurrences(sections []SectionRoles) map[[2]string]int {
	counts := make(map[[2]string]int)
	for _, sr := range sections {
		roles := uniqueSorted(sr.RoleIDs)
		for i := 0; i < len(roles); i++ {
			for j := i + 1; j < len(roles); j++ {
				counts[[2]string{roles[i], roles[j]}]++
			}
		}
	}
	return counts
}

func uniqueSorted(in []string) []string {
	set := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || set[s] {
			continue
		}
		set[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ScoreSeverity sets severity_score on every section from its penalties.
func (l *Linker) ScoreSeverity(ctx context.Context, stats *LinkStats) error {
	penalties, err := l.store.ListPenalties(ctx)
	if err != nil {
		return err
	}
	scores := make(map[string]int, len(penalties))
	for secID, ps := range penalties {
		if len(ps) == 0 {
			continue
		}
		scores[secID] = SeverityScore(ps)
	}
	if err := l.store.SetSeverities(ctx, scores); err != nil {
		return err
	}
	stats.SectionsScored = len(scores)
	return nil
}
