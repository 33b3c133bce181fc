package graph

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/lexgraph/enrich"
	"github.com/brunobiangulo/lexgraph/segment"
)

// memStore is an in-memory Store with merge-by-key semantics.
type memStore struct {
	acts      map[string]Act
	sections  map[string]Section
	terms     map[string]DefinedTerm
	roles     map[string]Role
	mentions  map[string]map[string]bool
	penalties map[string]Penalty
	citations map[string]CitationRef
	cites     map[[2]string]bool
	sameTerm  map[[2]string]bool
	appears   map[[2]string]bool
	coOccur   map[[2]string]int
	fail      error
}

func newMemStore() *memStore {
	return &memStore{
		acts:      map[string]Act{},
		sections:  map[string]Section{},
		terms:     map[string]DefinedTerm{},
		roles:     map[string]Role{},
		mentions:  map[string]map[string]bool{},
		penalties: map[string]Penalty{},
		citations: map[string]CitationRef{},
		cites:     map[[2]string]bool{},
		sameTerm:  map[[2]string]bool{},
		appears:   map[[2]string]bool{},
		coOccur:   map[[2]string]int{},
	}
}

func (m *memStore) UpsertSection(_ context.Context, g *SectionGraph) error {
	if m.fail != nil {
		return m.fail
	}
	act, ok := m.acts[g.Act.ID]
	if !ok {
		act = g.Act
	} else {
		if g.Act.Title != "" {
			act.Title = g.Act.Title
		}
		if g.Act.Year != 0 {
			act.Year = g.Act.Year
		}
	}
	m.acts[act.ID] = act
	m.sections[g.Section.ID] = g.Section
	for _, t := range g.Terms {
		m.terms[t.ID] = t
	}
	if m.mentions[g.Section.ID] == nil {
		m.mentions[g.Section.ID] = map[string]bool{}
	}
	for _, r := range g.Roles {
		if _, ok := m.roles[r.ID]; !ok {
			m.roles[r.ID] = r
		}
		m.mentions[g.Section.ID][r.ID] = true
	}
	for _, p := range g.Penalties {
		m.penalties[p.ID] = p
	}
	for _, c := range g.Citations {
		m.citations[c.SourceID+"|"+c.Raw+"|"+c.SectionNo] = c
	}
	return nil
}

func (m *memStore) SetActTitle(_ context.Context, actID, title string) error {
	a := m.acts[actID]
	a.ID, a.Title = actID, title
	m.acts[actID] = a
	return nil
}

func (m *memStore) ListCitations(context.Context) ([]CitationRef, error) {
	var out []CitationRef
	for _, c := range m.citations {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID+out[i].Raw < out[j].SourceID+out[j].Raw })
	return out, nil
}

func (m *memStore) SectionExists(_ context.Context, id string) (bool, error) {
	_, ok := m.sections[id]
	return ok, nil
}

func (m *memStore) FindSection(_ context.Context, actID, no string) (string, bool, error) {
	for id, s := range m.sections {
		if s.ActID == actID && s.SectionNo == no {
			return id, true, nil
		}
	}
	return "", false, nil
}

func (m *memStore) MergeCites(_ context.Context, from, to string) error {
	m.cites[[2]string{from, to}] = true
	return nil
}

func (m *memStore) ListDefinedTerms(context.Context) ([]DefinedTerm, error) {
	var out []DefinedTerm
	for _, t := range m.terms {
		out = append(out, t)
	}
	return out, nil
}

func (m *memStore) MergeSameTerm(_ context.Context, from, to string) error {
	m.sameTerm[[2]string{from, to}] = true
	return nil
}

func (m *memStore) ListSectionRoles(context.Context) ([]SectionRoles, error) {
	var out []SectionRoles
	for secID, roles := range m.mentions {
		sr := SectionRoles{SectionID: secID, ActID: m.sections[secID].ActID}
		for r := range roles {
			sr.RoleIDs = append(sr.RoleIDs, r)
		}
		out = append(out, sr)
	}
	return out, nil
}

func (m *memStore) MergeAppearsInAct(_ context.Context, roleID, actID string) error {
	m.appears[[2]string{roleID, actID}] = true
	return nil
}

func (m *memStore) IncrementCoOccurrence(_ context.Context, from, to string, n int) error {
	m.coOccur[[2]string{from, to}] += n
	return nil
}

func (m *memStore) ListPenalties(context.Context) (map[string][]Penalty, error) {
	out := map[string][]Penalty{}
	for _, p := range m.penalties {
		out[p.SectionID] = append(out[p.SectionID], p)
	}
	return out, nil
}

func (m *memStore) SetSeverities(_ context.Context, scores map[string]int) error {
	for id, s := range m.sections {
		v := scores[id]
		s.Severity = &v
		m.sections[id] = s
	}
	return nil
}

func (m *memStore) ListActs(context.Context) ([]Act, error)         { return nil, nil }
func (m *memStore) ListSections(context.Context) ([]Section, error) { return nil, nil }
func (m *memStore) ListEntities(context.Context) (*Entities, error) { return &Entities{}, nil }
func (m *memStore) Stats(context.Context) (*Stats, error)           { return &Stats{}, nil }
func (m *memStore) Close() error                                    { return nil }

func enriched(actID, no, text string, roles ...string) enrich.EnrichedSection {
	seg := segment.SegmentedSection{
		ActID:     actID,
		ActYear:   1851,
		ActTitle:  "THE TEST ACT, 1851",
		SectionID: segment.SectionID(actID, no),
		SectionNo: no,
		Citation:  "Section " + no,
		Text:      text,
	}
	sec := enrich.EnrichedSection{AnnotatedSection: segment.Annotate(seg)}
	sec.Roles = roles
	return sec
}

func TestFromEnrichedKeys(t *testing.T) {
	sec := enriched("1851_1", "4", `"Collector" means the officer. See section 3.`, "Collector", "collector ", "Owner")
	sec.Obligations = []enrich.Obligation{{Actor: "owner", Action: "pay"}}
	sec.Penalties = []enrich.Penalty{{Subject: "owner", Imprisonment: "six months", FineAmount: "500"}}

	g := FromEnriched(sec)
	require.NoError(t, g.Validate())

	assert.Equal(t, "1851_1-sec-4", g.Section.ID)
	require.Len(t, g.Terms, 1)
	assert.Equal(t, "1851_1|collector", g.Terms[0].ID)
	assert.Equal(t, []Role{{ID: "collector", Name: "Collector"}, {ID: "owner", Name: "Owner"}}, g.Roles)
	assert.Equal(t, "1851_1-sec-4|ob|0", g.Obligations[0].ID)
	assert.Equal(t, "1851_1-sec-4|pen|0", g.Penalties[0].ID)
	require.Len(t, g.Citations, 1)
	assert.Equal(t, "3", g.Citations[0].SectionNo)
}

func TestValidateRejectsMissingKeys(t *testing.T) {
	g := FromEnriched(enrich.EnrichedSection{})
	assert.ErrorIs(t, g.Validate(), ErrInvalidSection)

	g = FromEnriched(enriched("1851_1", "1", "x"))
	g.Section.ActID = "other"
	assert.ErrorIs(t, g.Validate(), ErrInvalidSection)
}

func TestUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	u := NewUpserter(s)
	sec := enriched("1851_1", "1", "The collector shall levy.", "Collector")

	require.NoError(t, u.Upsert(ctx, sec))
	require.NoError(t, u.Upsert(ctx, sec))

	assert.Len(t, s.sections, 1)
	assert.Len(t, s.roles, 1)
	assert.Len(t, s.acts, 1)
}

func TestUpsertAllSkipsBadSections(t *testing.T) {
	s := newMemStore()
	u := NewUpserter(s)

	stats, err := u.UpsertAll(context.Background(), []enrich.EnrichedSection{
		enriched("1851_1", "1", "ok"),
		{},
	})
	require.NoError(t, err)
	assert.Equal(t, UpsertStats{Written: 1, Failed: 1}, stats)

	_, err = u.UpsertAll(context.Background(), []enrich.EnrichedSection{{}})
	assert.ErrorIs(t, err, ErrInvalidSection)
}

func TestLinkerPasses(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	u := NewUpserter(s)

	a1 := enriched("1851_1", "1", `"Collector" means the officer.`, "Collector", "Owner")
	a2 := enriched("1851_1", "2", "As provided in section 1 and section 9.", "Collector", "Owner", "Clerk")
	a2.Penalties = []enrich.Penalty{
		{Subject: "owner", Imprisonment: "one year", FineAmount: "100"},
		{Subject: "owner", FineAmount: "50"},
	}
	b1 := enriched("1860_2", "1", `"Collector" includes a deputy.`, "Collector")

	for _, sec := range []enrich.EnrichedSection{a1, a2, b1} {
		require.NoError(t, u.Upsert(ctx, sec))
	}

	stats, err := NewLinker(s).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.CitesResolved)
	assert.Equal(t, 1, stats.UnresolvedCitations)
	assert.True(t, s.cites[[2]string{"1851_1-sec-2", "1851_1-sec-1"}])

	assert.Equal(t, 1, stats.SameTermLinks)
	assert.True(t, s.sameTerm[[2]string{"1851_1|collector", "1860_2|collector"}])

	assert.True(t, s.appears[[2]string{"collector", "1851_1"}])
	assert.True(t, s.appears[[2]string{"collector", "1860_2"}])
	assert.Equal(t, 4, stats.RoleActLinks)

	assert.Equal(t, 2, s.coOccur[[2]string{"collector", "owner"}])
	assert.Equal(t, 1, s.coOccur[[2]string{"clerk", "collector"}])
	_, reversed := s.coOccur[[2]string{"owner", "collector"}]
	assert.False(t, reversed)

	require.NotNil(t, s.sections["1851_1-sec-2"].Severity)
	assert.Equal(t, 6, *s.sections["1851_1-sec-2"].Severity)
	require.NotNil(t, s.sections["1851_1-sec-1"].Severity)
	assert.Equal(t, 0, *s.sections["1851_1-sec-1"].Severity)
	assert.Equal(t, 1, stats.SectionsScored)

	// A second run merges the same edges and sets the same scores.
	again, err := NewLinker(s).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, stats.CitesResolved, again.CitesResolved)
	assert.Len(t, s.cites, 1)
	assert.Equal(t, 6, *s.sections["1851_1-sec-2"].Severity)
}

func TestPenaltySeverity(t *testing.T) {
	assert.Equal(t, 1, Penalty{}.Severity())
	assert.Equal(t, 3, Penalty{Imprisonment: "1 year"}.Severity())
	assert.Equal(t, 2, Penalty{FineAmount: "10"}.Severity())
	assert.Equal(t, 4, Penalty{Imprisonment: "1 year", FineAmount: "10"}.Severity())
	assert.Equal(t, 0, SeverityScore(nil))
}

func TestCoOccurrencesCanonicalPairs(t *testing.T) {
	got := CoOccurrences([]SectionRoles{
		{RoleIDs: []string{"b", "a", "a"}},
		{RoleIDs: []string{"a", "b", "c"}},
	})
	assert.Equal(t, map[[2]string]int{{"a", "b"}: 2, {"a", "c"}: 1, {"b", "c"}: 1}, got)
}

func TestLinkerKeepsExplicitSelfCitation(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	u := NewUpserter(s)

	sec := enriched("1851_12", "5", "Any person who contravenes the provisions of section 5 shall be liable.")
	require.Len(t, sec.SectionCitations(), 1)
	require.NoError(t, u.Upsert(ctx, sec))

	stats, err := NewLinker(s).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CitesResolved)
	assert.Equal(t, 0, stats.UnresolvedCitations)
	assert.True(t, s.cites[[2]string{"1851_12-sec-5", "1851_12-sec-5"}], "self-citation edge missing")
}

func TestRunActsCountsOnlyGivenActs(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	u := NewUpserter(s)
	require.NoError(t, u.Upsert(ctx, enriched("1851_12", "1", "The Collector may distrain.", "Collector", "Owner")))

	l := NewLinker(s)
	_, err := l.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.coOccur[[2]string{"collector", "owner"}])

	// Relinking after builds that added nothing new leaves counts alone.
	for i := 0; i < 3; i++ {
		stats, err := l.RunActs(ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, stats.CoOccurrencePairs)
	}
	assert.Equal(t, 1, s.coOccur[[2]string{"collector", "owner"}])

	require.NoError(t, u.Upsert(ctx, enriched("1860_45", "1", "The Collector shall notify the owner.", "Collector", "Owner")))
	stats, err := l.RunActs(ctx, []string{"1860_45"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CoOccurrencePairs)
	assert.Equal(t, 2, s.coOccur[[2]string{"collector", "owner"}])
	assert.True(t, s.appears[[2]string{"collector", "1860_45"}], "merge passes still run over the whole graph")
}
