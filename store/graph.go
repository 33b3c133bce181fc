package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/brunobiangulo/lexgraph/graph"
)

// --- Writes ---

// UpsertSection writes the act, the section and every attached entity in
// one transaction. The act's year and title are only overwritten by
// non-empty values; section properties are always replaced.
func (s *Store) UpsertSection(ctx context.Context, g *graph.SectionGraph) error {
	if err := g.Validate(); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := upsertAct(ctx, tx, g.Act); err != nil {
			return fmt.Errorf("act %s: %w", g.Act.ID, err)
		}
		if err := upsertSectionRow(ctx, tx, g.Section); err != nil {
			return fmt.Errorf("section %s: %w", g.Section.ID, err)
		}
		secID := g.Section.ID
		if err := mergeEdge(ctx, tx, g.Act.ID, graph.RelHasSection, secID); err != nil {
			return err
		}
		if err := mergeEdge(ctx, tx, secID, graph.RelOfAct, g.Act.ID); err != nil {
			return err
		}

		for _, t := range g.Terms {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO defined_terms (id, name, act_id, section_id) VALUES (?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET name = excluded.name
			`, t.ID, t.Name, t.ActID, t.SectionID); err != nil {
				return fmt.Errorf("term %s: %w", t.ID, err)
			}
			if err := mergeEdge(ctx, tx, secID, graph.RelDefines, t.ID); err != nil {
				return err
			}
		}

		for _, r := range g.Roles {
			if err := ensureRole(ctx, tx, r.ID, r.Name); err != nil {
				return err
			}
			if err := mergeEdge(ctx, tx, secID, graph.RelMentionsRole, r.ID); err != nil {
				return err
			}
		}

		for _, o := range g.Obligations {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO obligations (id, section_id, actor, action, conditions, source_span)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					actor = excluded.actor, action = excluded.action,
					conditions = excluded.conditions, source_span = excluded.source_span
			`, o.ID, o.SectionID, o.Actor, o.Action, o.Conditions, o.SourceSpan); err != nil {
				return fmt.Errorf("obligation %s: %w", o.ID, err)
			}
			if err := linkEntity(ctx, tx, secID, graph.RelImposesObligation, o.ID, graph.RelObligationOn, o.Actor); err != nil {
				return err
			}
		}

		for _, p := range g.Powers {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO powers (id, section_id, actor, action, conditions, source_span)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					actor = excluded.actor, action = excluded.action,
					conditions = excluded.conditions, source_span = excluded.source_span
			`, p.ID, p.SectionID, p.Actor, p.Action, p.Conditions, p.SourceSpan); err != nil {
				return fmt.Errorf("power %s: %w", p.ID, err)
			}
			if err := linkEntity(ctx, tx, secID, graph.RelGrantsPower, p.ID, graph.RelPowerOf, p.Actor); err != nil {
				return err
			}
		}

		for _, p := range g.Penalties {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO penalties (id, section_id, subject, description, imprisonment, fine_amount, source_span)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					subject = excluded.subject, description = excluded.description,
					imprisonment = excluded.imprisonment, fine_amount = excluded.fine_amount,
					source_span = excluded.source_span
			`, p.ID, p.SectionID, p.Subject, p.Description, p.Imprisonment, p.FineAmount, p.SourceSpan); err != nil {
				return fmt.Errorf("penalty %s: %w", p.ID, err)
			}
			if err := linkEntity(ctx, tx, secID, graph.RelPrescribesPenalty, p.ID, graph.RelAppliesTo, p.Subject); err != nil {
				return err
			}
		}

		for _, r := range g.Rights {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO rights (id, section_id, holder, description, conditions, source_span)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					holder = excluded.holder, description = excluded.description,
					conditions = excluded.conditions, source_span = excluded.source_span
			`, r.ID, r.SectionID, r.Holder, r.Description, r.Conditions, r.SourceSpan); err != nil {
				return fmt.Errorf("right %s: %w", r.ID, err)
			}
			if err := linkEntity(ctx, tx, secID, graph.RelConfersRight, r.ID, graph.RelRightOf, r.Holder); err != nil {
				return err
			}
		}

		for _, c := range g.Citations {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO citations
					(source_id, raw, section_no, source_act_id, target_act_id, target_section_id)
				VALUES (?, ?, ?, ?, ?, ?)
			`, c.SourceID, c.Raw, c.SectionNo, c.SourceActID, c.TargetActID, c.TargetSectionID); err != nil {
				return fmt.Errorf("citation %q: %w", c.Raw, err)
			}
		}
		return nil
	})
}

func upsertAct(ctx context.Context, x execer, a graph.Act) error {
	_, err := x.ExecContext(ctx, `
		INSERT INTO acts (id, title, year, act_number) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = COALESCE(NULLIF(excluded.title, ''), acts.title),
			year = COALESCE(NULLIF(excluded.year, 0), acts.year),
			act_number = COALESCE(NULLIF(excluded.act_number, 0), acts.act_number)
	`, a.ID, a.Title, a.Year, a.ActNumber)
	return err
}

func upsertSectionRow(ctx context.Context, x execer, sec graph.Section) error {
	pages, err := json.Marshal(sec.Pages)
	if err != nil {
		return err
	}
	_, err = x.ExecContext(ctx, `
		INSERT INTO sections (id, act_id, section_no, citation, heading, text, summary, chapter, pages, has_llm, llm_model)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			act_id = excluded.act_id,
			section_no = excluded.section_no,
			citation = excluded.citation,
			heading = excluded.heading,
			text = excluded.text,
			summary = excluded.summary,
			chapter = excluded.chapter,
			pages = excluded.pages,
			has_llm = excluded.has_llm,
			llm_model = excluded.llm_model,
			updated_at = CURRENT_TIMESTAMP
	`, sec.ID, sec.ActID, sec.SectionNo, sec.Citation, sec.Heading, sec.Text, sec.Summary,
		sec.Chapter, string(pages), sec.HasLLM, sec.LLMModel)
	return err
}

// ensureRole creates a role; an existing role keeps its first name.
func ensureRole(ctx context.Context, x execer, id, name string) error {
	_, err := x.ExecContext(ctx, `INSERT INTO roles (id, name) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`, id, name)
	if err != nil {
		return fmt.Errorf("role %s: %w", id, err)
	}
	return nil
}

// linkEntity attaches an entity to its section and, when the party is
// named, to the party's role.
func linkEntity(ctx context.Context, x execer, secID, secRel, entityID, roleRel, party string) error {
	if err := mergeEdge(ctx, x, secID, secRel, entityID); err != nil {
		return err
	}
	roleID := graph.RoleID(party)
	if roleID == "" {
		return nil
	}
	if err := ensureRole(ctx, x, roleID, strings.TrimSpace(party)); err != nil {
		return err
	}
	return mergeEdge(ctx, x, entityID, roleRel, roleID)
}

func mergeEdge(ctx context.Context, x execer, src, rel, dst string) error {
	_, err := x.ExecContext(ctx,
		"INSERT INTO edges (src, rel, dst) VALUES (?, ?, ?) ON CONFLICT(src, rel, dst) DO NOTHING",
		src, rel, dst)
	if err != nil {
		return fmt.Errorf("edge %s -[%s]-> %s: %w", src, rel, dst, err)
	}
	return nil
}

// SetActTitle sets an act's title, creating the act if needed.
func (s *Store) SetActTitle(ctx context.Context, actID, title string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO acts (id, title) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title
	`, actID, title)
	return err
}

// MergeCites adds a CITES edge.
func (s *Store) MergeCites(ctx context.Context, fromID, toID string) error {
	return mergeEdge(ctx, s.db, fromID, graph.RelCites, toID)
}

// MergeSameTerm adds a SAME_TERM_AS edge.
func (s *Store) MergeSameTerm(ctx context.Context, fromID, toID string) error {
	return mergeEdge(ctx, s.db, fromID, graph.RelSameTermAs, toID)
}

// MergeAppearsInAct adds an APPEARS_IN_ACT edge.
func (s *Store) MergeAppearsInAct(ctx context.Context, roleID, actID string) error {
	return mergeEdge(ctx, s.db, roleID, graph.RelAppearsInAct, actID)
}

// IncrementCoOccurrence adds n to the CO_OCCURS_WITH count of a role pair.
func (s *Store) IncrementCoOccurrence(ctx context.Context, fromRoleID, toRoleID string, n int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO edges (src, rel, dst, count) VALUES (?, ?, ?, ?)
		ON CONFLICT(src, rel, dst) DO UPDATE SET count = edges.count + excluded.count
	`, fromRoleID, graph.RelCoOccursWith, toRoleID, n)
	return err
}

// SetSeverities sets every section's severity_score: the mapped value, or
// zero when absent.
func (s *Store) SetSeverities(ctx context.Context, scores map[string]int) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "UPDATE sections SET severity_score = 0"); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, "UPDATE sections SET severity_score = ? WHERE id = ?")
		if err != nil {
			return err
		}
		defer stmt.Close()
		for id, score := range scores {
			if _, err := stmt.ExecContext(ctx, score, id); err != nil {
				return fmt.Errorf("severity %s: %w", id, err)
			}
		}
		return nil
	})
}

// --- Reads ---

// ListCitations returns every recorded citation.
func (s *Store) ListCitations(ctx context.Context) ([]graph.CitationRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, source_act_id, target_section_id, target_act_id, section_no, raw
		FROM citations ORDER BY source_id, section_no, raw
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []graph.CitationRef
	for rows.Next() {
		var c graph.CitationRef
		if err := rows.Scan(&c.SourceID, &c.SourceActID, &c.TargetSectionID, &c.TargetActID, &c.SectionNo, &c.Raw); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SectionExists reports whether a section id is present.
func (s *Store) SectionExists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sections WHERE id = ?", id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// FindSection resolves a section by act and section number, ignoring case.
func (s *Store) FindSection(ctx context.Context, actID, sectionNo string) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM sections WHERE act_id = ? AND upper(section_no) = upper(?) ORDER BY id LIMIT 1",
		actID, sectionNo).Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// ListDefinedTerms returns all defined terms.
func (s *Store) ListDefinedTerms(ctx context.Context) ([]graph.DefinedTerm, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, act_id, section_id FROM defined_terms ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []graph.DefinedTerm
	for rows.Next() {
		var t graph.DefinedTerm
		if err := rows.Scan(&t.ID, &t.Name, &t.ActID, &t.SectionID); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListSectionRoles returns the roles each section mentions.
func (s *Store) ListSectionRoles(ctx context.Context) ([]graph.SectionRoles, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.src, s.act_id, e.dst
		FROM edges e JOIN sections s ON s.id = e.src
		WHERE e.rel = ?
		ORDER BY e.src, e.dst
	`, graph.RelMentionsRole)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []graph.SectionRoles
	for rows.Next() {
		var secID, actID, roleID string
		if err := rows.Scan(&secID, &actID, &roleID); err != nil {
			return nil, err
		}
		if n := len(out); n > 0 && out[n-1].SectionID == secID {
			out[n-1].RoleIDs = append(out[n-1].RoleIDs, roleID)
			continue
		}
		out = append(out, graph.SectionRoles{SectionID: secID, ActID: actID, RoleIDs: []string{roleID}})
	}
	return out, rows.Err()
}

// ListPenalties returns penalties grouped by section id.
func (s *Store) ListPenalties(ctx context.Context) (map[string][]graph.Penalty, error) {
	ps, err := s.queryPenalties(ctx, "ORDER BY id")
	if err != nil {
		return nil, err
	}
	out := make(map[string][]graph.Penalty)
	for _, p := range ps {
		out[p.SectionID] = append(out[p.SectionID], p)
	}
	return out, nil
}

// ListActs returns all acts ordered by id.
func (s *Store) ListActs(ctx context.Context) ([]graph.Act, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, title, year, act_number FROM acts ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []graph.Act
	for rows.Next() {
		var a graph.Act
		if err := rows.Scan(&a.ID, &a.Title, &a.Year, &a.ActNumber); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetAct returns one act.
func (s *Store) GetAct(ctx context.Context, id string) (*graph.Act, error) {
	var a graph.Act
	err := s.db.QueryRowContext(ctx, "SELECT id, title, year, act_number FROM acts WHERE id = ?", id).
		Scan(&a.ID, &a.Title, &a.Year, &a.ActNumber)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

const sectionColumns = `id, act_id, section_no, citation, heading, text, summary, chapter,
	COALESCE(pages, '[]'), has_llm, llm_model, severity_score`

func scanSection(sc interface{ Scan(...any) error }) (graph.Section, error) {
	var (
		sec      graph.Section
		pages    string
		severity sql.NullInt64
	)
	if err := sc.Scan(&sec.ID, &sec.ActID, &sec.SectionNo, &sec.Citation, &sec.Heading, &sec.Text,
		&sec.Summary, &sec.Chapter, &pages, &sec.HasLLM, &sec.LLMModel, &severity); err != nil {
		return sec, err
	}
	if pages != "" && pages != "null" {
		if err := json.Unmarshal([]byte(pages), &sec.Pages); err != nil {
			return sec, fmt.Errorf("decoding pages of %s: %w", sec.ID, err)
		}
	}
	if severity.Valid {
		v := int(severity.Int64)
		sec.Severity = &v
	}
	return sec, nil
}

// ListSections returns all sections ordered by act and section number.
func (s *Store) ListSections(ctx context.Context) ([]graph.Section, error) {
	return s.querySections(ctx, "ORDER BY act_id, CAST(section_no AS INTEGER), section_no")
}

// GetSection returns one section.
func (s *Store) GetSection(ctx context.Context, id string) (*graph.Section, error) {
	sec, err := scanSection(s.db.QueryRowContext(ctx, "SELECT "+sectionColumns+" FROM sections WHERE id = ?", id))
	if err != nil {
		return nil, err
	}
	return &sec, nil
}

func (s *Store) querySections(ctx context.Context, tail string, args ...any) ([]graph.Section, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+sectionColumns+" FROM sections "+tail, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []graph.Section
	for rows.Next() {
		sec, err := scanSection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sec)
	}
	return out, rows.Err()
}

func (s *Store) queryPenalties(ctx context.Context, tail string, args ...any) ([]graph.Penalty, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, section_id, subject, description, imprisonment, fine_amount, source_span
		FROM penalties `+tail, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []graph.Penalty
	for rows.Next() {
		var p graph.Penalty
		if err := rows.Scan(&p.ID, &p.SectionID, &p.Subject, &p.Description, &p.Imprisonment, &p.FineAmount, &p.SourceSpan); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) queryObligations(ctx context.Context, tail string, args ...any) ([]graph.Obligation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, section_id, actor, action, conditions, source_span
		FROM obligations `+tail, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []graph.Obligation
	for rows.Next() {
		var o graph.Obligation
		if err := rows.Scan(&o.ID, &o.SectionID, &o.Actor, &o.Action, &o.Conditions, &o.SourceSpan); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListEntities reads back every non-structural node.
func (s *Store) ListEntities(ctx context.Context) (*graph.Entities, error) {
	ents := &graph.Entities{RoleActs: map[string][]string{}}
	var err error

	if ents.Terms, err = s.ListDefinedTerms(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM roles ORDER BY id")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var r graph.Role
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			rows.Close()
			return nil, err
		}
		ents.Roles = append(ents.Roles, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if ents.Obligations, err = s.queryObligations(ctx, "ORDER BY id"); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, "SELECT id, section_id, actor, action, conditions, source_span FROM powers ORDER BY id")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var p graph.Power
		if err := rows.Scan(&p.ID, &p.SectionID, &p.Actor, &p.Action, &p.Conditions, &p.SourceSpan); err != nil {
			rows.Close()
			return nil, err
		}
		ents.Powers = append(ents.Powers, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if ents.Penalties, err = s.queryPenalties(ctx, "ORDER BY id"); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, "SELECT id, section_id, holder, description, conditions, source_span FROM rights ORDER BY id")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var r graph.Right
		if err := rows.Scan(&r.ID, &r.SectionID, &r.Holder, &r.Description, &r.Conditions, &r.SourceSpan); err != nil {
			rows.Close()
			return nil, err
		}
		ents.Rights = append(ents.Rights, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, "SELECT src, dst FROM edges WHERE rel = ? ORDER BY src, dst", graph.RelAppearsInAct)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var roleID, actID string
		if err := rows.Scan(&roleID, &actID); err != nil {
			return nil, err
		}
		ents.RoleActs[roleID] = append(ents.RoleActs[roleID], actID)
	}
	return ents, rows.Err()
}

// CoOccurrence returns the CO_OCCURS_WITH count for a canonical role pair.
func (s *Store) CoOccurrence(ctx context.Context, fromRoleID, toRoleID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT count FROM edges WHERE src = ? AND rel = ? AND dst = ?",
		fromRoleID, graph.RelCoOccursWith, toRoleID).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return n, err
}

// Neighbors returns the targets of a node's outgoing edges of one type.
func (s *Store) Neighbors(ctx context.Context, src, rel string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT dst FROM edges WHERE src = ? AND rel = ? ORDER BY dst", src, rel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Stats counts nodes per label and edges per type.
func (s *Store) Stats(ctx context.Context) (*graph.Stats, error) {
	stats := &graph.Stats{Nodes: map[string]int{}, Edges: map[string]int{}}
	tables := []struct {
		label string
		table string
	}{
		{graph.LabelAct, "acts"},
		{graph.LabelSection, "sections"},
		{graph.LabelDefinedTerm, "defined_terms"},
		{graph.LabelRole, "roles"},
		{graph.LabelObligation, "obligations"},
		{graph.LabelPower, "powers"},
		{graph.LabelPenalty, "penalties"},
		{graph.LabelRight, "rights"},
	}
	for _, t := range tables {
		var n int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.table).Scan(&n); err != nil {
			return nil, fmt.Errorf("counting %s: %w", t.table, err)
		}
		stats.Nodes[t.label] = n
	}

	rows, err := s.db.QueryContext(ctx, "SELECT rel, COUNT(*) FROM edges GROUP BY rel")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var rel string
		var n int
		if err := rows.Scan(&rel, &n); err != nil {
			return nil, err
		}
		stats.Edges[rel] = n
	}
	return stats, rows.Err()
}
