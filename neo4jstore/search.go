package neo4jstore

import (
	"context"
	"sort"
	"strings"

	"github.com/brunobiangulo/lexgraph/graph"
)

// LexicalSearch finds sections whose text or summary contains query,
// ignoring case, ordered by first match position in the text, then id.
func (s *Store) LexicalSearch(ctx context.Context, query string, limit int) ([]string, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}
	return s.collectIDs(ctx, `
MATCH (s:Section)
WITH s, toLower(coalesce(s.text, '')) AS text, toLower(coalesce(s.summary, '')) AS summary
WHERE text CONTAINS $q OR summary CONTAINS $q
WITH s, CASE WHEN text CONTAINS $q THEN size(split(text, $q)[0]) ELSE 1000000000 END AS pos
RETURN s.id AS id
ORDER BY pos, id
LIMIT $limit
`, map[string]any{"q": q, "limit": limit})
}

// FullTextSearch queries the section full-text index. The OR-joined
// phrase syntax produced for FTS5 is valid Lucene as well.
func (s *Store) FullTextSearch(ctx context.Context, match string, limit int) ([]string, error) {
	if strings.TrimSpace(match) == "" {
		return nil, nil
	}
	return s.collectIDs(ctx, `
CALL db.index.fulltext.queryNodes('section_fulltext', $q) YIELD node, score
RETURN node.id AS id
ORDER BY score DESC, id
LIMIT $limit
`, map[string]any{"q": match, "limit": limit})
}

// SectionsByLocator finds sections numbered locator, or whose id ends in
// -sec-<locator>, ignoring case.
func (s *Store) SectionsByLocator(ctx context.Context, locator string) ([]string, error) {
	loc := strings.ToUpper(strings.TrimSpace(locator))
	if loc == "" {
		return nil, nil
	}
	return s.collectIDs(ctx, `
MATCH (s:Section)
WHERE toUpper(s.section_no) = $loc OR toUpper(s.id) ENDS WITH $suffix
RETURN s.id AS id
ORDER BY s.act_id, id
`, map[string]any{"loc": loc, "suffix": "-SEC-" + loc})
}

// SectionsOfActs expands acts to their sections ordered by section number.
func (s *Store) SectionsOfActs(ctx context.Context, actIDs []string, limit int) ([]string, error) {
	if len(actIDs) == 0 {
		return nil, nil
	}
	records, err := s.collect(ctx, `
MATCH (s:Section)
WHERE s.act_id IN $acts
RETURN s.id AS id, s.act_id AS act_id, s.section_no AS section_no
`, map[string]any{"acts": actIDs})
	if err != nil {
		return nil, err
	}

	keys := make([]sectionKey, 0, len(records))
	for _, rec := range records {
		keys = append(keys, sectionKey{
			id:    recString(rec, "id"),
			actID: recString(rec, "act_id"),
			no:    recString(rec, "section_no"),
		})
	}
	sortSectionKeys(keys)
	return keyIDs(keys, limit), nil
}

// SectionsByActTitle finds sections of acts whose title contains query,
// ignoring case.
func (s *Store) SectionsByActTitle(ctx context.Context, query string, limit int) ([]string, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}
	records, err := s.collect(ctx, `
MATCH (a:Act)-[:HAS_SECTION]->(s:Section)
WHERE toLower(coalesce(a.title, '')) CONTAINS $q
RETURN s.id AS id, a.id AS act_id, s.section_no AS section_no
`, map[string]any{"q": q})
	if err != nil {
		return nil, err
	}

	keys := make([]sectionKey, 0, len(records))
	for _, rec := range records {
		keys = append(keys, sectionKey{
			id:    recString(rec, "id"),
			actID: recString(rec, "act_id"),
			no:    recString(rec, "section_no"),
		})
	}
	sort.SliceStable(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.actID != b.actID {
			return a.actID < b.actID
		}
		if na, nb := leadingInt(a.no), leadingInt(b.no); na != nb {
			return na < nb
		}
		return a.no < b.no
	})
	return keyIDs(keys, limit), nil
}

func keyIDs(keys []sectionKey, limit int) []string {
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.id
	}
	return out
}

// SectionContexts loads each section with its one-hop neighbourhood.
// Output follows the order of ids; unknown ids are skipped.
func (s *Store) SectionContexts(ctx context.Context, ids []string) ([]graph.SectionContext, error) {
	out := make([]graph.SectionContext, 0, len(ids))
	for _, id := range ids {
		records, err := s.collect(ctx, `
MATCH (s:Section {id: $id})
OPTIONAL MATCH (a:Act {id: s.act_id})
RETURN s, a,
       [(s)-[:CITES]->(c:Section) | c] AS cited,
       [(s)-[:MENTIONS_ROLE]->(r:Role) | r] AS roles,
       [(s)-[:IMPOSES_OBLIGATION]->(o:Obligation) | o] AS obligations,
       [(s)-[:PRESCRIBES_PENALTY]->(p:Penalty) | p] AS penalties
`, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			continue
		}
		rec := records[0]

		node, ok := recNode(rec, "s")
		if !ok {
			continue
		}
		sc := graph.SectionContext{Section: sectionFromNode(node)}
		sc.Act = graph.Act{ID: sc.Section.ActID}
		if a, ok := recNode(rec, "a"); ok {
			sc.Act = actFromNode(a)
		}

		for _, n := range recNodes(rec, "cited") {
			sc.Cited = append(sc.Cited, sectionFromNode(n))
		}
		sortSectionsByAct(sc.Cited)

		for _, n := range recNodes(rec, "roles") {
			sc.Roles = append(sc.Roles, graph.Role{ID: toString(n.Props["id"]), Name: toString(n.Props["name"])})
		}
		sort.Slice(sc.Roles, func(i, j int) bool { return sc.Roles[i].ID < sc.Roles[j].ID })

		for _, n := range recNodes(rec, "obligations") {
			sc.Obligations = append(sc.Obligations, obligationFromNode(n))
		}
		sort.Slice(sc.Obligations, func(i, j int) bool { return sc.Obligations[i].ID < sc.Obligations[j].ID })

		for _, n := range recNodes(rec, "penalties") {
			sc.Penalties = append(sc.Penalties, penaltyFromNode(n))
		}
		sort.Slice(sc.Penalties, func(i, j int) bool { return sc.Penalties[i].ID < sc.Penalties[j].ID })

		out = append(out, sc)
	}
	return out, nil
}
