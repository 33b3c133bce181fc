// Package graph materializes enriched sections as a property graph and runs
// the post-load enrichment passes over it. Persistence is delegated to a
// Store implementation.
package graph

import (
	"context"
	"errors"
)

// ErrInvalidSection is returned when a section lacks the fields its keys
// are derived from.
var ErrInvalidSection = errors.New("graph: invalid section")

// Store is the persistence contract shared by the graph backends. Every
// write merges by key, so repeating a call leaves the graph unchanged.
type Store interface {
	// UpsertSection writes one section and its entities atomically.
	UpsertSection(ctx context.Context, g *SectionGraph) error

	// SetActTitle sets an act's title, creating the act if needed.
	SetActTitle(ctx context.Context, actID, title string) error

	// ListCitations returns every recorded section citation.
	ListCitations(ctx context.Context) ([]CitationRef, error)

	// SectionExists reports whether a section id is present.
	SectionExists(ctx context.Context, id string) (bool, error)

	// FindSection resolves a section by act id and section number.
	FindSection(ctx context.Context, actID, sectionNo string) (string, bool, error)

	// MergeCites adds a CITES edge.
	MergeCites(ctx context.Context, fromID, toID string) error

	// ListDefinedTerms returns all defined terms.
	ListDefinedTerms(ctx context.Context) ([]DefinedTerm, error)

	// MergeSameTerm adds a SAME_TERM_AS edge.
	MergeSameTerm(ctx context.Context, fromID, toID string) error

	// ListSectionRoles returns the roles mentioned by each section.
	ListSectionRoles(ctx context.Context) ([]SectionRoles, error)

	// MergeAppearsInAct adds an APPEARS_IN_ACT edge from a role to an act.
	MergeAppearsInAct(ctx context.Context, roleID, actID string) error

	// IncrementCoOccurrence bumps the CO_OCCURS_WITH count between two roles
	// by n, creating the edge with count n when absent. Callers pass the
	// pair in canonical order.
	IncrementCoOccurrence(ctx context.Context, fromRoleID, toRoleID string, n int) error

	// ListPenalties returns penalties grouped by section id.
	ListPenalties(ctx context.Context) (map[string][]Penalty, error)

	// SetSeverities sets severity_score on every section: the mapped value,
	// or zero for sections not in the map.
	SetSeverities(ctx context.Context, scores map[string]int) error

	// ListActs, ListSections and ListEntities read back the materialized
	// graph for indexing.
	ListActs(ctx context.Context) ([]Act, error)
	ListSections(ctx context.Context) ([]Section, error)
	ListEntities(ctx context.Context) (*Entities, error)

	// Stats counts nodes and edges.
	Stats(ctx context.Context) (*Stats, error)

	Close() error
}
