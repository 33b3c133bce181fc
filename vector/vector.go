// Package vector maintains the semantic index over the materialized graph:
// one collection each for sections, acts and the remaining entities.
package vector

import (
	"context"
	"errors"

	"github.com/brunobiangulo/lexgraph/graph"
)

// Collection names.
const (
	CollectionSections = "sections"
	CollectionActs     = "acts"
	CollectionEntities = "entities"
)

// Metadata keys carried by every record.
const (
	MetaRefID     = "ref_id"
	MetaNodeLabel = "node_label"
	MetaActID     = "act_id"
	MetaActTitle  = "act_title"
	MetaActYear   = "act_year"
	MetaSectionID = "section_id"
	MetaSectionNo = "section_no"
	MetaCitation  = "citation"
)

// ErrUnknownCollection is returned for a collection name other than the
// three above.
var ErrUnknownCollection = errors.New("vector: unknown collection")

// Record is one embedded document.
type Record struct {
	RefID     string
	Label     string
	Document  string
	Metadata  map[string]string
	Embedding []float32
}

// Hit is a search result. Score is 1 - cosine distance.
type Hit struct {
	RefID    string            `json:"ref_id"`
	Label    string            `json:"node_label"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Store persists records per collection and runs nearest-neighbour search.
// UpsertVectors replaces records by RefID.
type Store interface {
	UpsertVectors(ctx context.Context, collection string, recs []Record) error
	SearchVectors(ctx context.Context, collection string, query []float32, k int, filter map[string]string) ([]Hit, error)
	CountVectors(ctx context.Context, collection string) (int, error)
}

// Embedder turns texts into vectors, one per input in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// GraphSource reads back the graph content to index.
type GraphSource interface {
	ListActs(ctx context.Context) ([]graph.Act, error)
	ListSections(ctx context.Context) ([]graph.Section, error)
	ListEntities(ctx context.Context) (*graph.Entities, error)
}

// ValidCollection reports whether name is a known collection.
func ValidCollection(name string) bool {
	switch name {
	case CollectionSections, CollectionActs, CollectionEntities:
		return true
	}
	return false
}
