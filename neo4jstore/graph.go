package neo4jstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/brunobiangulo/lexgraph/graph"
)

// --- Writes ---

// UpsertSection merges the act, the section and every attached entity in
// one write transaction. Pending citations are kept as list properties on
// the section node until the linker resolves them.
func (s *Store) UpsertSection(ctx context.Context, g *graph.SectionGraph) error {
	if err := g.Validate(); err != nil {
		return err
	}
	secID := g.Section.ID

	return s.write(ctx, func(tx neo4j.ManagedTransaction) error {
		if _, err := tx.Run(ctx, `
MERGE (a:Act {id: $id})
SET a.title = CASE WHEN $title <> '' THEN $title ELSE coalesce(a.title, '') END,
    a.year = CASE WHEN $year <> 0 THEN $year ELSE coalesce(a.year, 0) END,
    a.act_number = CASE WHEN $act_number <> 0 THEN $act_number ELSE coalesce(a.act_number, 0) END
`, map[string]any{
			"id":         g.Act.ID,
			"title":      g.Act.Title,
			"year":       g.Act.Year,
			"act_number": g.Act.ActNumber,
		}); err != nil {
			return fmt.Errorf("act %s: %w", g.Act.ID, err)
		}

		var raw, nos, targetActs, targetSecs []string
		seen := make(map[string]bool)
		for _, c := range g.Citations {
			key := c.Raw + "\x00" + c.SectionNo
			if seen[key] {
				continue
			}
			seen[key] = true
			raw = append(raw, c.Raw)
			nos = append(nos, c.SectionNo)
			targetActs = append(targetActs, c.TargetActID)
			targetSecs = append(targetSecs, c.TargetSectionID)
		}

		sec := g.Section
		if _, err := tx.Run(ctx, `
MATCH (a:Act {id: $act_id})
MERGE (s:Section {id: $id})
SET s.act_id = $act_id,
    s.section_no = $section_no,
    s.citation = $citation,
    s.heading = $heading,
    s.text = $text,
    s.summary = $summary,
    s.chapter = $chapter,
    s.pages = $pages,
    s.has_llm = $has_llm,
    s.llm_model = $llm_model,
    s.cite_raw = $cite_raw,
    s.cite_section_no = $cite_section_no,
    s.cite_target_act = $cite_target_act,
    s.cite_target_section = $cite_target_section
MERGE (a)-[:HAS_SECTION]->(s)
MERGE (s)-[:OF_ACT]->(a)
`, map[string]any{
			"id":                  sec.ID,
			"act_id":              sec.ActID,
			"section_no":          sec.SectionNo,
			"citation":            sec.Citation,
			"heading":             sec.Heading,
			"text":                sec.Text,
			"summary":             sec.Summary,
			"chapter":             sec.Chapter,
			"pages":               int64s(sec.Pages),
			"has_llm":             sec.HasLLM,
			"llm_model":           sec.LLMModel,
			"cite_raw":            nonNil(raw),
			"cite_section_no":     nonNil(nos),
			"cite_target_act":     nonNil(targetActs),
			"cite_target_section": nonNil(targetSecs),
		}); err != nil {
			return fmt.Errorf("section %s: %w", sec.ID, err)
		}

		if len(g.Terms) > 0 {
			terms := make([]map[string]any, len(g.Terms))
			for i, t := range g.Terms {
				terms[i] = map[string]any{"id": t.ID, "name": t.Name, "act_id": t.ActID, "section_id": t.SectionID}
			}
			if _, err := tx.Run(ctx, `
MATCH (s:Section {id: $sid})
UNWIND $terms AS t
MERGE (d:DefinedTerm {id: t.id})
ON CREATE SET d.act_id = t.act_id, d.section_id = t.section_id
SET d.name = t.name
MERGE (s)-[:DEFINES]->(d)
`, map[string]any{"sid": secID, "terms": terms}); err != nil {
				return fmt.Errorf("terms of %s: %w", secID, err)
			}
		}

		if len(g.Roles) > 0 {
			roles := make([]map[string]any, len(g.Roles))
			for i, r := range g.Roles {
				roles[i] = map[string]any{"id": r.ID, "name": r.Name}
			}
			if _, err := tx.Run(ctx, `
MATCH (s:Section {id: $sid})
UNWIND $roles AS r
MERGE (n:Role {id: r.id})
ON CREATE SET n.name = r.name
MERGE (s)-[:MENTIONS_ROLE]->(n)
`, map[string]any{"sid": secID, "roles": roles}); err != nil {
				return fmt.Errorf("roles of %s: %w", secID, err)
			}
		}

		var obligations, powers, penalties, rights []map[string]any
		for _, o := range g.Obligations {
			obligations = append(obligations, entityParams(o.ID, o.Actor, map[string]any{
				"id": o.ID, "section_id": o.SectionID, "actor": o.Actor, "action": o.Action,
				"conditions": o.Conditions, "source_span": o.SourceSpan,
			}))
		}
		for _, p := range g.Powers {
			powers = append(powers, entityParams(p.ID, p.Actor, map[string]any{
				"id": p.ID, "section_id": p.SectionID, "actor": p.Actor, "action": p.Action,
				"conditions": p.Conditions, "source_span": p.SourceSpan,
			}))
		}
		for _, p := range g.Penalties {
			penalties = append(penalties, entityParams(p.ID, p.Subject, map[string]any{
				"id": p.ID, "section_id": p.SectionID, "subject": p.Subject, "description": p.Description,
				"imprisonment": p.Imprisonment, "fine_amount": p.FineAmount, "source_span": p.SourceSpan,
			}))
		}
		for _, r := range g.Rights {
			rights = append(rights, entityParams(r.ID, r.Holder, map[string]any{
				"id": r.ID, "section_id": r.SectionID, "holder": r.Holder, "description": r.Description,
				"conditions": r.Conditions, "source_span": r.SourceSpan,
			}))
		}

		kinds := []struct {
			label, secRel, roleRel string
			items                  []map[string]any
		}{
			{graph.LabelObligation, graph.RelImposesObligation, graph.RelObligationOn, obligations},
			{graph.LabelPower, graph.RelGrantsPower, graph.RelPowerOf, powers},
			{graph.LabelPenalty, graph.RelPrescribesPenalty, graph.RelAppliesTo, penalties},
			{graph.LabelRight, graph.RelConfersRight, graph.RelRightOf, rights},
		}
		for _, k := range kinds {
			if len(k.items) == 0 {
				continue
			}
			query := fmt.Sprintf(`
MATCH (s:Section {id: $sid})
UNWIND $items AS it
MERGE (e:%s {id: it.id})
SET e += it.props
MERGE (s)-[:%s]->(e)
WITH e, it WHERE it.role_id <> ''
MERGE (r:Role {id: it.role_id})
ON CREATE SET r.name = it.party
MERGE (e)-[:%s]->(r)
`, k.label, k.secRel, k.roleRel)
			if _, err := tx.Run(ctx, query, map[string]any{"sid": secID, "items": k.items}); err != nil {
				return fmt.Errorf("%s entities of %s: %w", strings.ToLower(k.label), secID, err)
			}
		}
		return nil
	})
}

func entityParams(id, party string, props map[string]any) map[string]any {
	return map[string]any{
		"id":      id,
		"props":   props,
		"role_id": graph.RoleID(party),
		"party":   strings.TrimSpace(party),
	}
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

// SetActTitle sets an act's title, creating the act if needed.
func (s *Store) SetActTitle(ctx context.Context, actID, title string) error {
	return s.run(ctx, `MERGE (a:Act {id: $id}) SET a.title = $title`,
		map[string]any{"id": actID, "title": title})
}

func (s *Store) mergeEdge(ctx context.Context, fromLabel, rel, toLabel, fromID, toID string) error {
	query := fmt.Sprintf(`
MATCH (a:%s {id: $from}), (b:%s {id: $to})
MERGE (a)-[:%s]->(b)
`, fromLabel, toLabel, rel)
	if err := s.run(ctx, query, map[string]any{"from": fromID, "to": toID}); err != nil {
		return fmt.Errorf("edge %s -[%s]-> %s: %w", fromID, rel, toID, err)
	}
	return nil
}

// MergeCites adds a CITES edge.
func (s *Store) MergeCites(ctx context.Context, fromID, toID string) error {
	return s.mergeEdge(ctx, graph.LabelSection, graph.RelCites, graph.LabelSection, fromID, toID)
}

// MergeSameTerm adds a SAME_TERM_AS edge.
func (s *Store) MergeSameTerm(ctx context.Context, fromID, toID string) error {
	return s.mergeEdge(ctx, graph.LabelDefinedTerm, graph.RelSameTermAs, graph.LabelDefinedTerm, fromID, toID)
}

// MergeAppearsInAct adds an APPEARS_IN_ACT edge.
func (s *Store) MergeAppearsInAct(ctx context.Context, roleID, actID string) error {
	return s.mergeEdge(ctx, graph.LabelRole, graph.RelAppearsInAct, graph.LabelAct, roleID, actID)
}

// IncrementCoOccurrence adds n to the CO_OCCURS_WITH count of a role pair.
func (s *Store) IncrementCoOccurrence(ctx context.Context, fromRoleID, toRoleID string, n int) error {
	return s.run(ctx, `
MATCH (a:Role {id: $from}), (b:Role {id: $to})
MERGE (a)-[r:CO_OCCURS_WITH]->(b)
ON CREATE SET r.count = $n
ON MATCH SET r.count = r.count + $n
`, map[string]any{"from": fromRoleID, "to": toRoleID, "n": n})
}

// SetSeverities sets every section's severity_score: the mapped value, or
// zero when absent.
func (s *Store) SetSeverities(ctx context.Context, scores map[string]int) error {
	params := make(map[string]any, len(scores))
	for id, v := range scores {
		params[id] = v
	}
	return s.run(ctx, `
MATCH (s:Section)
SET s.severity_score = coalesce($scores[s.id], 0)
`, map[string]any{"scores": params})
}

// --- Reads ---

// ListCitations returns every recorded citation.
func (s *Store) ListCitations(ctx context.Context) ([]graph.CitationRef, error) {
	records, err := s.collect(ctx, `
MATCH (s:Section)
WHERE size(coalesce(s.cite_raw, [])) > 0
RETURN s.id AS id, s.act_id AS act_id, s.cite_raw AS raw, s.cite_section_no AS nos,
       s.cite_target_act AS target_acts, s.cite_target_section AS target_secs
ORDER BY id
`, nil)
	if err != nil {
		return nil, err
	}

	var out []graph.CitationRef
	for _, rec := range records {
		get := func(key string) []string {
			v, _ := rec.Get(key)
			return toStrings(v)
		}
		raw, nos, acts, secs := get("raw"), get("nos"), get("target_acts"), get("target_secs")
		for i := range raw {
			c := graph.CitationRef{
				SourceID:    recString(rec, "id"),
				SourceActID: recString(rec, "act_id"),
				Raw:         raw[i],
			}
			if i < len(nos) {
				c.SectionNo = nos[i]
			}
			if i < len(acts) {
				c.TargetActID = acts[i]
			}
			if i < len(secs) {
				c.TargetSectionID = secs[i]
			}
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		if a.SectionNo != b.SectionNo {
			return a.SectionNo < b.SectionNo
		}
		return a.Raw < b.Raw
	})
	return out, nil
}

// SectionExists reports whether a section id is present.
func (s *Store) SectionExists(ctx context.Context, id string) (bool, error) {
	records, err := s.collect(ctx, `MATCH (s:Section {id: $id}) RETURN count(s) AS n`, map[string]any{"id": id})
	if err != nil {
		return false, err
	}
	return len(records) > 0 && recInt(records[0], "n") > 0, nil
}

// FindSection resolves a section by act and section number, ignoring case.
func (s *Store) FindSection(ctx context.Context, actID, sectionNo string) (string, bool, error) {
	ids, err := s.collectIDs(ctx, `
MATCH (s:Section {act_id: $act_id})
WHERE toUpper(s.section_no) = toUpper($no)
RETURN s.id AS id ORDER BY id LIMIT 1
`, map[string]any{"act_id": actID, "no": sectionNo})
	if err != nil {
		return "", false, err
	}
	if len(ids) == 0 {
		return "", false, nil
	}
	return ids[0], true, nil
}

// ListDefinedTerms returns all defined terms.
func (s *Store) ListDefinedTerms(ctx context.Context) ([]graph.DefinedTerm, error) {
	records, err := s.collect(ctx, `
MATCH (d:DefinedTerm)
RETURN d.id AS id, d.name AS name, d.act_id AS act_id, d.section_id AS section_id
ORDER BY id
`, nil)
	if err != nil {
		return nil, err
	}
	out := make([]graph.DefinedTerm, 0, len(records))
	for _, rec := range records {
		out = append(out, graph.DefinedTerm{
			ID:        recString(rec, "id"),
			Name:      recString(rec, "name"),
			ActID:     recString(rec, "act_id"),
			SectionID: recString(rec, "section_id"),
		})
	}
	return out, nil
}

// ListSectionRoles returns the roles each section mentions.
func (s *Store) ListSectionRoles(ctx context.Context) ([]graph.SectionRoles, error) {
	records, err := s.collect(ctx, `
MATCH (s:Section)-[:MENTIONS_ROLE]->(r:Role)
RETURN s.id AS section_id, s.act_id AS act_id, r.id AS role_id
ORDER BY section_id, role_id
`, nil)
	if err != nil {
		return nil, err
	}
	var out []graph.SectionRoles
	for _, rec := range records {
		secID, roleID := recString(rec, "section_id"), recString(rec, "role_id")
		if n := len(out); n > 0 && out[n-1].SectionID == secID {
			out[n-1].RoleIDs = append(out[n-1].RoleIDs, roleID)
			continue
		}
		out = append(out, graph.SectionRoles{SectionID: secID, ActID: recString(rec, "act_id"), RoleIDs: []string{roleID}})
	}
	return out, nil
}

func (s *Store) listNodes(ctx context.Context, label string) ([]neo4j.Node, error) {
	records, err := s.collect(ctx, fmt.Sprintf("MATCH (n:%s) RETURN n ORDER BY n.id", label), nil)
	if err != nil {
		return nil, err
	}
	out := make([]neo4j.Node, 0, len(records))
	for _, rec := range records {
		if n, ok := recNode(rec, "n"); ok {
			out = append(out, n)
		}
	}
	return out, nil
}

// ListPenalties returns penalties grouped by section id.
func (s *Store) ListPenalties(ctx context.Context) (map[string][]graph.Penalty, error) {
	nodes, err := s.listNodes(ctx, graph.LabelPenalty)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]graph.Penalty)
	for _, n := range nodes {
		p := penaltyFromNode(n)
		out[p.SectionID] = append(out[p.SectionID], p)
	}
	return out, nil
}

// ListActs returns all acts ordered by id.
func (s *Store) ListActs(ctx context.Context) ([]graph.Act, error) {
	nodes, err := s.listNodes(ctx, graph.LabelAct)
	if err != nil {
		return nil, err
	}
	out := make([]graph.Act, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, actFromNode(n))
	}
	return out, nil
}

// ListSections returns all sections ordered by act and section number.
func (s *Store) ListSections(ctx context.Context) ([]graph.Section, error) {
	nodes, err := s.listNodes(ctx, graph.LabelSection)
	if err != nil {
		return nil, err
	}
	out := make([]graph.Section, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, sectionFromNode(n))
	}
	sortSectionsByAct(out)
	return out, nil
}

// ListEntities reads back every non-structural node.
func (s *Store) ListEntities(ctx context.Context) (*graph.Entities, error) {
	ents := &graph.Entities{RoleActs: map[string][]string{}}
	var err error

	if ents.Terms, err = s.ListDefinedTerms(ctx); err != nil {
		return nil, err
	}

	nodes, err := s.listNodes(ctx, graph.LabelRole)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		ents.Roles = append(ents.Roles, graph.Role{ID: toString(n.Props["id"]), Name: toString(n.Props["name"])})
	}

	if nodes, err = s.listNodes(ctx, graph.LabelObligation); err != nil {
		return nil, err
	}
	for _, n := range nodes {
		ents.Obligations = append(ents.Obligations, obligationFromNode(n))
	}
	if nodes, err = s.listNodes(ctx, graph.LabelPower); err != nil {
		return nil, err
	}
	for _, n := range nodes {
		ents.Powers = append(ents.Powers, powerFromNode(n))
	}
	if nodes, err = s.listNodes(ctx, graph.LabelPenalty); err != nil {
		return nil, err
	}
	for _, n := range nodes {
		ents.Penalties = append(ents.Penalties, penaltyFromNode(n))
	}
	if nodes, err = s.listNodes(ctx, graph.LabelRight); err != nil {
		return nil, err
	}
	for _, n := range nodes {
		ents.Rights = append(ents.Rights, rightFromNode(n))
	}

	records, err := s.collect(ctx, `
MATCH (r:Role)-[:APPEARS_IN_ACT]->(a:Act)
RETURN r.id AS role_id, a.id AS act_id
ORDER BY role_id, act_id
`, nil)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		roleID := recString(rec, "role_id")
		ents.RoleActs[roleID] = append(ents.RoleActs[roleID], recString(rec, "act_id"))
	}
	return ents, nil
}

// CoOccurrence returns the CO_OCCURS_WITH count for a canonical role pair.
func (s *Store) CoOccurrence(ctx context.Context, fromRoleID, toRoleID string) (int, error) {
	records, err := s.collect(ctx, `
MATCH (:Role {id: $from})-[r:CO_OCCURS_WITH]->(:Role {id: $to})
RETURN r.count AS n
`, map[string]any{"from": fromRoleID, "to": toRoleID})
	if err != nil || len(records) == 0 {
		return 0, err
	}
	return recInt(records[0], "n"), nil
}

// Stats counts nodes per label and edges per type.
func (s *Store) Stats(ctx context.Context) (*graph.Stats, error) {
	stats := &graph.Stats{Nodes: map[string]int{}, Edges: map[string]int{}}
	labels := []string{
		graph.LabelAct, graph.LabelSection, graph.LabelDefinedTerm, graph.LabelRole,
		graph.LabelObligation, graph.LabelPower, graph.LabelPenalty, graph.LabelRight,
	}
	for _, l := range labels {
		records, err := s.collect(ctx, fmt.Sprintf("MATCH (n:%s) RETURN count(n) AS n", l), nil)
		if err != nil {
			return nil, fmt.Errorf("counting %s: %w", l, err)
		}
		if len(records) > 0 {
			stats.Nodes[l] = recInt(records[0], "n")
		}
	}

	records, err := s.collect(ctx, "MATCH ()-[r]->() RETURN type(r) AS rel, count(r) AS n", nil)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		stats.Edges[recString(rec, "rel")] = recInt(rec, "n")
	}
	return stats, nil
}
