package lexgraph

import (
	"errors"

	"github.com/brunobiangulo/lexgraph/retrieval"
)

var (
	// ErrSourceMissing is returned when an act's source file does not exist.
	ErrSourceMissing = errors.New("lexgraph: source file missing")

	// ErrUnsupportedFormat is returned for a source file that is neither
	// a PDF nor a JSONL line file.
	ErrUnsupportedFormat = errors.New("lexgraph: unsupported source format")

	// ErrNoSections is returned when segmentation finds no sections.
	ErrNoSections = errors.New("lexgraph: no sections found")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("lexgraph: invalid configuration")

	// ErrEngineClosed is returned when operating on a closed engine.
	ErrEngineClosed = errors.New("lexgraph: engine is closed")

	// ErrNoEvidence is the retrieval exhaustion sentinel.
	ErrNoEvidence = retrieval.ErrNoEvidence
)
