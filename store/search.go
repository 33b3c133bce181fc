package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/brunobiangulo/lexgraph/graph"
)

// LexicalSearch finds sections whose text or summary contains query,
// ignoring case. Results are ordered by the position of the first match in
// the text, then by id.
func (s *Store) LexicalSearch(ctx context.Context, query string, limit int) ([]string, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}
	pattern := "%" + escapeLike(q) + "%"
	return s.queryIDs(ctx, `
		SELECT id FROM sections
		WHERE lower(text) LIKE ? ESCAPE '\' OR lower(summary) LIKE ? ESCAPE '\'
		ORDER BY CASE WHEN instr(lower(text), ?) > 0 THEN instr(lower(text), ?) ELSE 1000000000 END, id
		LIMIT ?
	`, pattern, pattern, q, q, limit)
}

// FullTextSearch runs an FTS5 MATCH expression and returns section ids by
// BM25 rank.
func (s *Store) FullTextSearch(ctx context.Context, match string, limit int) ([]string, error) {
	if strings.TrimSpace(match) == "" {
		return nil, nil
	}
	return s.queryIDs(ctx, `
		SELECT s.id
		FROM sections_fts f
		JOIN sections s ON s.rowid = f.rowid
		WHERE sections_fts MATCH ?
		ORDER BY f.rank, s.id
		LIMIT ?
	`, match, limit)
}

// SectionsByLocator finds sections numbered locator, or whose id ends in
// -sec-<locator>, ignoring case.
func (s *Store) SectionsByLocator(ctx context.Context, locator string) ([]string, error) {
	loc := strings.ToUpper(strings.TrimSpace(locator))
	if loc == "" {
		return nil, nil
	}
	return s.queryIDs(ctx, `
		SELECT id FROM sections
		WHERE upper(section_no) = ? OR upper(id) LIKE ? ESCAPE '\'
		ORDER BY act_id, id
	`, loc, "%-SEC-"+escapeLike(loc))
}

// SectionsOfActs expands acts to their sections ordered by section number.
func (s *Store) SectionsOfActs(ctx context.Context, actIDs []string, limit int) ([]string, error) {
	if len(actIDs) == 0 {
		return nil, nil
	}
	args := append(stringArgs(actIDs), limit)
	return s.queryIDs(ctx, `
		SELECT id FROM sections
		WHERE act_id IN (`+repeatPlaceholders(len(actIDs))+`)
		ORDER BY CAST(section_no AS INTEGER), section_no, act_id
		LIMIT ?
	`, args...)
}

// SectionsByActTitle finds sections of acts whose title contains query,
// ignoring case.
func (s *Store) SectionsByActTitle(ctx context.Context, query string, limit int) ([]string, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}
	return s.queryIDs(ctx, `
		SELECT s.id
		FROM sections s JOIN acts a ON a.id = s.act_id
		WHERE instr(lower(a.title), ?) > 0
		ORDER BY a.id, CAST(s.section_no AS INTEGER), s.section_no
		LIMIT ?
	`, q, limit)
}

// SectionContexts loads each section with its act, cited sections, roles,
// obligations and penalties. Output follows the order of ids; unknown ids
// are skipped.
func (s *Store) SectionContexts(ctx context.Context, ids []string) ([]graph.SectionContext, error) {
	out := make([]graph.SectionContext, 0, len(ids))
	for _, id := range ids {
		sec, err := s.GetSection(ctx, id)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}

		sc := graph.SectionContext{Section: *sec, Act: graph.Act{ID: sec.ActID}}
		if act, err := s.GetAct(ctx, sec.ActID); err == nil {
			sc.Act = *act
		} else if err != sql.ErrNoRows {
			return nil, err
		}

		if sc.Cited, err = s.querySections(ctx, `
			WHERE id IN (SELECT dst FROM edges WHERE src = ? AND rel = ?)
			ORDER BY act_id, CAST(section_no AS INTEGER), section_no
		`, id, graph.RelCites); err != nil {
			return nil, err
		}

		rows, err := s.db.QueryContext(ctx, `
			SELECT r.id, r.name FROM edges e JOIN roles r ON r.id = e.dst
			WHERE e.src = ? AND e.rel = ?
			ORDER BY r.id
		`, id, graph.RelMentionsRole)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var r graph.Role
			if err := rows.Scan(&r.ID, &r.Name); err != nil {
				rows.Close()
				return nil, err
			}
			sc.Roles = append(sc.Roles, r)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}

		if sc.Obligations, err = s.queryObligations(ctx, `
			WHERE id IN (SELECT dst FROM edges WHERE src = ? AND rel = ?) ORDER BY id
		`, id, graph.RelImposesObligation); err != nil {
			return nil, err
		}
		if sc.Penalties, err = s.queryPenalties(ctx, `
			WHERE id IN (SELECT dst FROM edges WHERE src = ? AND rel = ?) ORDER BY id
		`, id, graph.RelPrescribesPenalty); err != nil {
			return nil, err
		}

		out = append(out, sc)
	}
	return out, nil
}

func (s *Store) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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
