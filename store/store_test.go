//go:build cgo

package store

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/brunobiangulo/lexgraph/graph"
	"github.com/brunobiangulo/lexgraph/vector"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath, 4) // dim=4 for test vectors
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sectionGraph(actID, title, no, text string) *graph.SectionGraph {
	id := actID + "-sec-" + no
	return &graph.SectionGraph{
		Act: graph.Act{ID: actID, Title: title, Year: 1851, ActNumber: 12},
		Section: graph.Section{
			ID:        id,
			ActID:     actID,
			SectionNo: no,
			Citation:  "Section " + no,
			Heading:   "Heading " + no,
			Text:      text,
			Pages:     []int{1, 2},
		},
	}
}

func mustUpsert(t *testing.T, s *Store, g *graph.SectionGraph) {
	t.Helper()
	if err := s.UpsertSection(context.Background(), g); err != nil {
		t.Fatalf("upserting %s: %v", g.Section.ID, err)
	}
}

// ---------------------------------------------------------------------------
// Schema / construction
// ---------------------------------------------------------------------------

func TestNew(t *testing.T) {
	s := newTestStore(t)
	if s.EmbeddingDim() != 4 {
		t.Fatalf("expected embedding dim 4, got %d", s.EmbeddingDim())
	}
	if s.DB() == nil {
		t.Fatal("expected non-nil *sql.DB")
	}
	v, err := s.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if v != len(migrations) {
		t.Fatalf("expected schema version %d, got %d", len(migrations), v)
	}
}

func TestNewCreatesParentDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub", "dir")
	s, err := New(filepath.Join(dir, "test.db"), 4)
	if err != nil {
		t.Fatalf("creating store in nested dir: %v", err)
	}
	s.Close()
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := New(path, 4)
	if err != nil {
		t.Fatal(err)
	}
	mustUpsert(t, s, sectionGraph("1851_12", "THE ACT, 1851", "1", "text"))
	s.Close()

	s, err = New(path, 4)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer s.Close()
	ok, err := s.SectionExists(context.Background(), "1851_12-sec-1")
	if err != nil || !ok {
		t.Fatalf("expected section after reopen, ok=%v err=%v", ok, err)
	}
}

// ---------------------------------------------------------------------------
// Graph writes
// ---------------------------------------------------------------------------

func TestUpsertSectionIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g := sectionGraph("1851_12", "THE ACT, 1851", "4", "The owner shall pay.")
	g.Terms = []graph.DefinedTerm{{ID: "1851_12|owner", Name: "owner", ActID: "1851_12", SectionID: g.Section.ID}}
	g.Roles = []graph.Role{{ID: "owner", Name: "Owner"}}
	g.Obligations = []graph.Obligation{{ID: g.Section.ID + "|ob|0", SectionID: g.Section.ID, Actor: "Owner", Action: "pay"}}
	g.Citations = []graph.CitationRef{{SourceID: g.Section.ID, SourceActID: "1851_12", SectionNo: "3", Raw: "section 3"}}

	mustUpsert(t, s, g)
	first, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	mustUpsert(t, s, g)
	second, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("second upsert changed counts:\n%v\n%v", first, second)
	}
	if first.Nodes[graph.LabelSection] != 1 || first.Nodes[graph.LabelRole] != 1 {
		t.Fatalf("unexpected node counts: %v", first.Nodes)
	}
	for _, rel := range []string{graph.RelHasSection, graph.RelOfAct, graph.RelDefines, graph.RelMentionsRole, graph.RelImposesObligation, graph.RelObligationOn} {
		if first.Edges[rel] != 1 {
			t.Errorf("expected 1 %s edge, got %d", rel, first.Edges[rel])
		}
	}
	refs, err := s.ListCitations(ctx)
	if err != nil || len(refs) != 1 {
		t.Fatalf("expected 1 citation, got %d (err %v)", len(refs), err)
	}
}

func TestUpsertRejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	g := sectionGraph("", "", "1", "x")
	if err := s.UpsertSection(context.Background(), g); !errors.Is(err, graph.ErrInvalidSection) {
		t.Fatalf("expected ErrInvalidSection, got %v", err)
	}
}

func TestActTitleAndYearCoalesce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustUpsert(t, s, sectionGraph("1851_12", "THE MADRAS CITY LAND REVENUE ACT, 1851", "1", "a"))
	g := sectionGraph("1851_12", "", "2", "b")
	g.Act.Year = 0
	mustUpsert(t, s, g)

	act, err := s.GetAct(ctx, "1851_12")
	if err != nil {
		t.Fatal(err)
	}
	if act.Title != "THE MADRAS CITY LAND REVENUE ACT, 1851" || act.Year != 1851 {
		t.Fatalf("empty values overwrote act: %+v", act)
	}

	if err := s.SetActTitle(ctx, "1851_12", "Renamed Act, 1851"); err != nil {
		t.Fatal(err)
	}
	act, _ = s.GetAct(ctx, "1851_12")
	if act.Title != "Renamed Act, 1851" {
		t.Fatalf("SetActTitle not applied: %q", act.Title)
	}
}

func TestSectionPropertiesReplaced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustUpsert(t, s, sectionGraph("1851_12", "T", "1", "old text"))
	g := sectionGraph("1851_12", "T", "1", "new text")
	g.Section.HasLLM = true
	g.Section.LLMModel = "m"
	mustUpsert(t, s, g)

	sec, err := s.GetSection(ctx, "1851_12-sec-1")
	if err != nil {
		t.Fatal(err)
	}
	if sec.Text != "new text" || !sec.HasLLM || sec.LLMModel != "m" {
		t.Fatalf("section not replaced: %+v", sec)
	}
	if !reflect.DeepEqual(sec.Pages, []int{1, 2}) {
		t.Fatalf("pages round trip: %v", sec.Pages)
	}
	if sec.Severity != nil {
		t.Fatalf("severity should be unset before linking, got %d", *sec.Severity)
	}
}

func TestActorRoleKeepsFirstName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g := sectionGraph("1851_12", "T", "1", "x")
	g.Penalties = []graph.Penalty{{ID: g.Section.ID + "|pen|0", SectionID: g.Section.ID, Subject: "Owner", FineAmount: "500"}}
	g.Rights = []graph.Right{{ID: g.Section.ID + "|right|0", SectionID: g.Section.ID, Holder: "owner"}}
	mustUpsert(t, s, g)

	ents, err := s.ListEntities(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ents.Roles) != 1 || ents.Roles[0].Name != "Owner" {
		t.Fatalf("expected single role named Owner, got %+v", ents.Roles)
	}
	for _, pair := range [][2]string{
		{g.Section.ID + "|pen|0", graph.RelAppliesTo},
		{g.Section.ID + "|right|0", graph.RelRightOf},
	} {
		got, err := s.Neighbors(ctx, pair[0], pair[1])
		if err != nil || len(got) != 1 || got[0] != "owner" {
			t.Errorf("%s -[%s]-> %v (err %v)", pair[0], pair[1], got, err)
		}
	}
	mentions, _ := s.Neighbors(ctx, g.Section.ID, graph.RelMentionsRole)
	if len(mentions) != 0 {
		t.Fatalf("actor-only roles must not be mentioned, got %v", mentions)
	}
}

// ---------------------------------------------------------------------------
// Linker over SQLite
// ---------------------------------------------------------------------------

func TestLinkerSelfCitation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g := sectionGraph("1851_12", "T", "5", "Any person who contravenes the provisions of section 5 shall be liable.")
	g.Citations = []graph.CitationRef{{SourceID: g.Section.ID, SourceActID: "1851_12", SectionNo: "5", Raw: "section 5"}}
	mustUpsert(t, s, g)

	stats, err := graph.NewLinker(s).Run(ctx)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if stats.CitesResolved != 1 || stats.UnresolvedCitations != 0 {
		t.Fatalf("expected the self-citation to resolve, got %+v", stats)
	}
	cites, _ := s.Neighbors(ctx, g.Section.ID, graph.RelCites)
	if !reflect.DeepEqual(cites, []string{g.Section.ID}) {
		t.Fatalf("expected CITES self-edge, got %v", cites)
	}
}

func TestLinkerSeverityAndCoOccurrence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := sectionGraph("1851_12", "T", "1", "See section 2.")
	a.Roles = []graph.Role{{ID: "collector", Name: "Collector"}, {ID: "owner", Name: "Owner"}}
	a.Citations = []graph.CitationRef{{SourceID: a.Section.ID, SourceActID: "1851_12", SectionNo: "2", Raw: "section 2"}}
	b := sectionGraph("1851_12", "T", "2", "Penal section.")
	b.Roles = []graph.Role{{ID: "owner", Name: "Owner"}, {ID: "collector", Name: "Collector"}}
	mustUpsert(t, s, a)
	mustUpsert(t, s, b)

	if _, err := graph.NewLinker(s).Run(ctx); err != nil {
		t.Fatalf("link: %v", err)
	}
	sec, _ := s.GetSection(ctx, b.Section.ID)
	if sec.Severity == nil || *sec.Severity != 0 {
		t.Fatalf("expected severity 0 without penalties, got %v", sec.Severity)
	}
	cites, _ := s.Neighbors(ctx, a.Section.ID, graph.RelCites)
	if !reflect.DeepEqual(cites, []string{b.Section.ID}) {
		t.Fatalf("expected CITES edge, got %v", cites)
	}
	n, _ := s.CoOccurrence(ctx, "collector", "owner")
	if n != 2 {
		t.Fatalf("expected co-occurrence 2, got %d", n)
	}
	if rev, _ := s.CoOccurrence(ctx, "owner", "collector"); rev != 0 {
		t.Fatalf("co-occurrence must be stored once per pair, reverse has %d", rev)
	}

	// Adding a penalty with imprisonment and fine raises severity by 3+1.
	b.Penalties = []graph.Penalty{{ID: b.Section.ID + "|pen|0", SectionID: b.Section.ID, Imprisonment: "one year", FineAmount: "100"}}
	mustUpsert(t, s, b)
	stats := &graph.LinkStats{}
	if err := graph.NewLinker(s).ScoreSeverity(ctx, stats); err != nil {
		t.Fatal(err)
	}
	sec, _ = s.GetSection(ctx, b.Section.ID)
	if sec.Severity == nil || *sec.Severity != 4 {
		t.Fatalf("expected severity 4, got %v", sec.Severity)
	}
	if err := graph.NewLinker(s).ScoreSeverity(ctx, stats); err != nil {
		t.Fatal(err)
	}
	sec, _ = s.GetSection(ctx, b.Section.ID)
	if *sec.Severity != 4 {
		t.Fatalf("severity must be set, not incremented: %d", *sec.Severity)
	}
}

// ---------------------------------------------------------------------------
// Retrieval reads
// ---------------------------------------------------------------------------

func seedRetrieval(t *testing.T, s *Store) {
	t.Helper()
	mustUpsert(t, s, sectionGraph("1851_12", "THE MADRAS CITY LAND REVENUE ACT, 1851", "10", "Land revenue shall be paid to the Collector."))
	mustUpsert(t, s, sectionGraph("1851_12", "THE MADRAS CITY LAND REVENUE ACT, 1851", "2", "Revenue of 100% is due; land revenue applies."))
	mustUpsert(t, s, sectionGraph("1851_12", "THE MADRAS CITY LAND REVENUE ACT, 1851", "10A", "Appeals lie to the Board."))
	mustUpsert(t, s, sectionGraph("1867_3", "THE SARAIS ACT, 1867", "1", "Every keeper of a sarai shall register."))
}

func TestSectionSummaryIsOptional(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	plain := sectionGraph("1851_12", "T", "1", "Short title.")
	summarised := sectionGraph("1851_12", "T", "2", "The Collector may distrain.")
	summarised.Section.Summary = "recovery of arrears"
	mustUpsert(t, s, plain)
	mustUpsert(t, s, summarised)

	sec, err := s.GetSection(ctx, plain.Section.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sec.Summary != "" {
		t.Fatalf("expected empty summary, got %q", sec.Summary)
	}

	for name, search := range map[string]func() ([]string, error){
		"lexical":  func() ([]string, error) { return s.LexicalSearch(ctx, "arrears", 10) },
		"fulltext": func() ([]string, error) { return s.FullTextSearch(ctx, `"arrears"`, 10) },
	} {
		ids, err := search()
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if !reflect.DeepEqual(ids, []string{summarised.Section.ID}) {
			t.Fatalf("%s: expected summary match, got %v", name, ids)
		}
	}
}

func TestLexicalSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedRetrieval(t, s)

	got, err := s.LexicalSearch(ctx, "LAND REVENUE", 50)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"1851_12-sec-10", "1851_12-sec-2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	got, _ = s.LexicalSearch(ctx, "100%", 50)
	if !reflect.DeepEqual(got, []string{"1851_12-sec-2"}) {
		t.Fatalf("wildcards must be literal, got %v", got)
	}
	got, _ = s.LexicalSearch(ctx, "   ", 50)
	if len(got) != 0 {
		t.Fatalf("blank query should match nothing, got %v", got)
	}
}

func TestFullTextSearch(t *testing.T) {
	s := newTestStore(t)
	seedRetrieval(t, s)
	got, err := s.FullTextSearch(context.Background(), "sarai", 10)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"1867_3-sec-1"}) {
		t.Fatalf("got %v", got)
	}
}

func TestSectionsByLocator(t *testing.T) {
	s := newTestStore(t)
	seedRetrieval(t, s)
	got, err := s.SectionsByLocator(context.Background(), "10a")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"1851_12-sec-10A"}) {
		t.Fatalf("got %v", got)
	}
}

func TestSectionsOfActsOrderedByNumber(t *testing.T) {
	s := newTestStore(t)
	seedRetrieval(t, s)
	got, err := s.SectionsOfActs(context.Background(), []string{"1851_12"}, 40)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"1851_12-sec-2", "1851_12-sec-10", "1851_12-sec-10A"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSectionsByActTitle(t *testing.T) {
	s := newTestStore(t)
	seedRetrieval(t, s)
	got, err := s.SectionsByActTitle(context.Background(), "sarais act", 20)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"1867_3-sec-1"}) {
		t.Fatalf("got %v", got)
	}
}

func TestSectionContexts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedRetrieval(t, s)
	if err := s.MergeCites(ctx, "1851_12-sec-10", "1851_12-sec-2"); err != nil {
		t.Fatal(err)
	}

	got, err := s.SectionContexts(ctx, []string{"missing", "1851_12-sec-10"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 context, got %d", len(got))
	}
	c := got[0]
	if c.Act.Title != "THE MADRAS CITY LAND REVENUE ACT, 1851" {
		t.Fatalf("act not loaded: %+v", c.Act)
	}
	if len(c.Cited) != 1 || c.Cited[0].ID != "1851_12-sec-2" {
		t.Fatalf("cited sections: %+v", c.Cited)
	}
}

// ---------------------------------------------------------------------------
// Vectors
// ---------------------------------------------------------------------------

func TestVectorsUpsertAndSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recs := []vector.Record{
		{RefID: "a", Label: "Section", Document: "a", Metadata: map[string]string{"section_no": "1"}, Embedding: []float32{1, 0, 0, 0}},
		{RefID: "b", Label: "Section", Document: "b", Metadata: map[string]string{"section_no": "2"}, Embedding: []float32{0, 1, 0, 0}},
		{RefID: "c", Label: "Section", Document: "c", Metadata: map[string]string{"section_no": "2"}, Embedding: []float32{0.9, 0.1, 0, 0}},
	}
	if err := s.UpsertVectors(ctx, vector.CollectionSections, recs); err != nil {
		t.Fatalf("upserting vectors: %v", err)
	}

	hits, err := s.SearchVectors(ctx, vector.CollectionSections, []float32{1, 0, 0, 0}, 2, nil)
	if err != nil {
		t.Fatalf("searching: %v", err)
	}
	if len(hits) != 2 || hits[0].RefID != "a" || hits[1].RefID != "c" {
		t.Fatalf("unexpected hits: %+v", hits)
	}
	if hits[0].Score < 0.99 {
		t.Fatalf("identical vector should score ~1, got %f", hits[0].Score)
	}

	hits, err = s.SearchVectors(ctx, vector.CollectionSections, []float32{1, 0, 0, 0}, 50, map[string]string{"section_no": "2"})
	if err != nil {
		t.Fatalf("filtered search: %v", err)
	}
	if len(hits) != 2 || hits[0].RefID != "c" || hits[0].Metadata["section_no"] != "2" {
		t.Fatalf("unexpected filtered hits: %+v", hits)
	}

	// Replace by ref id.
	recs[0].Embedding = []float32{0, 0, 1, 0}
	if err := s.UpsertVectors(ctx, vector.CollectionSections, recs[:1]); err != nil {
		t.Fatal(err)
	}
	n, _ := s.CountVectors(ctx, vector.CollectionSections)
	if n != 3 {
		t.Fatalf("expected 3 records after replace, got %d", n)
	}
}

func TestVectorsRejectBadInput(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.UpsertVectors(ctx, "bogus", nil)
	if !errors.Is(err, vector.ErrUnknownCollection) {
		t.Fatalf("expected ErrUnknownCollection, got %v", err)
	}
	err = s.UpsertVectors(ctx, vector.CollectionActs, []vector.Record{{RefID: "x", Embedding: []float32{1}}})
	if err == nil {
		t.Fatal("expected dimension error")
	}
	_, err = s.SearchVectors(ctx, vector.CollectionActs, []float32{1, 0, 0, 0}, 5, map[string]string{"bad key": "x"})
	if err == nil {
		t.Fatal("expected invalid filter key error")
	}
}

func TestLogQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.LogQuery(ctx, QueryLog{Query: "q1", Tier: "primary", SectionIDs: []string{"a", "b"}, DurationMs: 12}); err != nil {
		t.Fatal(err)
	}
	if err := s.LogQuery(ctx, QueryLog{Query: "q2", NoEvidence: true}); err != nil {
		t.Fatal(err)
	}
	got, err := s.RecentQueries(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Query != "q2" || !got[0].NoEvidence {
		t.Fatalf("unexpected log: %+v", got)
	}
	if !reflect.DeepEqual(got[1].SectionIDs, []string{"a", "b"}) {
		t.Fatalf("section ids round trip: %v", got[1].SectionIDs)
	}
}
