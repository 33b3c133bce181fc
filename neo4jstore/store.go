// Package neo4jstore is the Neo4j graph backend. It stores the same nodes
// and edges as the SQLite store, merged by id with Cypher, and serves the
// graph reads of the retrieval engine.
package neo4jstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/brunobiangulo/lexgraph/graph"
)

var _ graph.Store = (*Store)(nil)

// Config holds the connection settings.
type Config struct {
	URI      string
	Username string
	Password string
	Database string
}

// Store is a Neo4j-backed graph store. Sessions are opened per call.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
}

// New connects, verifies connectivity and ensures the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verifying neo4j connectivity: %w", err)
	}

	s := &Store{driver: driver, database: cfg.Database}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}
	return s, nil
}

// Close closes the driver.
func (s *Store) Close() error {
	if s == nil || s.driver == nil {
		return nil
	}
	return s.driver.Close(context.Background())
}

// EnsureSchema creates the id constraints and the section full-text index.
func (s *Store) EnsureSchema(ctx context.Context) error {
	labels := []string{
		graph.LabelAct, graph.LabelSection, graph.LabelDefinedTerm, graph.LabelRole,
		graph.LabelObligation, graph.LabelPower, graph.LabelPenalty, graph.LabelRight,
	}
	var statements []string
	for _, l := range labels {
		statements = append(statements, fmt.Sprintf(
			"CREATE CONSTRAINT %s_id IF NOT EXISTS FOR (n:%s) REQUIRE n.id IS UNIQUE",
			strings.ToLower(l), l))
	}
	statements = append(statements,
		`CREATE INDEX section_act IF NOT EXISTS FOR (s:Section) ON (s.act_id)`,
		`CREATE FULLTEXT INDEX section_fulltext IF NOT EXISTS
FOR (s:Section) ON EACH [s.heading, s.text, s.summary]`,
	)

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	for _, stmt := range statements {
		if _, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			_, err := tx.Run(ctx, stmt, nil)
			return nil, err
		}); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	return nil
}

// --- session helpers ---

func (s *Store) write(ctx context.Context, fn func(tx neo4j.ManagedTransaction) error) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(tx)
	})
	return err
}

func (s *Store) run(ctx context.Context, query string, params map[string]any) error {
	return s.write(ctx, func(tx neo4j.ManagedTransaction) error {
		_, err := tx.Run(ctx, query, params)
		return err
	})
}

func (s *Store) collect(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.([]*neo4j.Record), nil
}

func (s *Store) collectIDs(ctx context.Context, query string, params map[string]any) ([]string, error) {
	records, err := s.collect(ctx, query, params)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(records))
	for _, rec := range records {
		out = append(out, recString(rec, "id"))
	}
	return out, nil
}

// --- value conversion ---

func recString(rec *neo4j.Record, key string) string {
	v, _ := rec.Get(key)
	return toString(v)
}

func recInt(rec *neo4j.Record, key string) int {
	v, _ := rec.Get(key)
	return toInt(v)
}

func recNode(rec *neo4j.Record, key string) (neo4j.Node, bool) {
	v, _ := rec.Get(key)
	n, ok := v.(neo4j.Node)
	return n, ok
}

func recNodes(rec *neo4j.Record, key string) []neo4j.Node {
	v, _ := rec.Get(key)
	list, _ := v.([]any)
	out := make([]neo4j.Node, 0, len(list))
	for _, item := range list {
		if n, ok := item.(neo4j.Node); ok {
			out = append(out, n)
		}
	}
	return out
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func toInt(v any) int {
	switch t := v.(type) {
	case int64:
		return int(t)
	case int:
		return t
	case float64:
		return int(t)
	}
	return 0
}

func toStrings(v any) []string {
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, item := range list {
		out = append(out, toString(item))
	}
	return out
}

func toInts(v any) []int {
	list, _ := v.([]any)
	if len(list) == 0 {
		return nil
	}
	out := make([]int, 0, len(list))
	for _, item := range list {
		out = append(out, toInt(item))
	}
	return out
}

func int64s(in []int) []int64 {
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}

func actFromNode(n neo4j.Node) graph.Act {
	p := n.Props
	return graph.Act{
		ID:        toString(p["id"]),
		Title:     toString(p["title"]),
		Year:      toInt(p["year"]),
		ActNumber: toInt(p["act_number"]),
	}
}

func sectionFromNode(n neo4j.Node) graph.Section {
	p := n.Props
	sec := graph.Section{
		ID:        toString(p["id"]),
		ActID:     toString(p["act_id"]),
		SectionNo: toString(p["section_no"]),
		Citation:  toString(p["citation"]),
		Heading:   toString(p["heading"]),
		Text:      toString(p["text"]),
		Summary:   toString(p["summary"]),
		Chapter:   toString(p["chapter"]),
		Pages:     toInts(p["pages"]),
		LLMModel:  toString(p["llm_model"]),
	}
	sec.HasLLM, _ = p["has_llm"].(bool)
	if v, ok := p["severity_score"]; ok && v != nil {
		score := toInt(v)
		sec.Severity = &score
	}
	return sec
}

func obligationFromNode(n neo4j.Node) graph.Obligation {
	p := n.Props
	return graph.Obligation{
		ID:         toString(p["id"]),
		SectionID:  toString(p["section_id"]),
		Actor:      toString(p["actor"]),
		Action:     toString(p["action"]),
		Conditions: toString(p["conditions"]),
		SourceSpan: toString(p["source_span"]),
	}
}

func powerFromNode(n neo4j.Node) graph.Power {
	p := n.Props
	return graph.Power{
		ID:         toString(p["id"]),
		SectionID:  toString(p["section_id"]),
		Actor:      toString(p["actor"]),
		Action:     toString(p["action"]),
		Conditions: toString(p["conditions"]),
		SourceSpan: toString(p["source_span"]),
	}
}

func penaltyFromNode(n neo4j.Node) graph.Penalty {
	p := n.Props
	return graph.Penalty{
		ID:           toString(p["id"]),
		SectionID:    toString(p["section_id"]),
		Subject:      toString(p["subject"]),
		Description:  toString(p["description"]),
		Imprisonment: toString(p["imprisonment"]),
		FineAmount:   toString(p["fine_amount"]),
		SourceSpan:   toString(p["source_span"]),
	}
}

func rightFromNode(n neo4j.Node) graph.Right {
	p := n.Props
	return graph.Right{
		ID:          toString(p["id"]),
		SectionID:   toString(p["section_id"]),
		Holder:      toString(p["holder"]),
		Description: toString(p["description"]),
		Conditions:  toString(p["conditions"]),
		SourceSpan:  toString(p["source_span"]),
	}
}

// leadingInt parses the leading digits of a section number, so "10A"
// sorts as 10. It matches SQLite's CAST(x AS INTEGER).
func leadingInt(s string) int {
	end := 0
	for end < len(s) && unicode.IsDigit(rune(s[end])) {
		end++
	}
	n, _ := strconv.Atoi(s[:end])
	return n
}

type sectionKey struct {
	id, actID, no string
}

// sortSectionKeys orders by section number, then act.
func sortSectionKeys(keys []sectionKey) {
	sort.SliceStable(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if na, nb := leadingInt(a.no), leadingInt(b.no); na != nb {
			return na < nb
		}
		if a.no != b.no {
			return a.no < b.no
		}
		return a.actID < b.actID
	})
}

// sortSectionsByAct orders by act, then section number.
func sortSectionsByAct(secs []graph.Section) {
	sort.SliceStable(secs, func(i, j int) bool {
		a, b := secs[i], secs[j]
		if a.ActID != b.ActID {
			return a.ActID < b.ActID
		}
		if na, nb := leadingInt(a.SectionNo), leadingInt(b.SectionNo); na != nb {
			return na < nb
		}
		return a.SectionNo < b.SectionNo
	})
}
