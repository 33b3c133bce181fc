package retrieval

import (
	"github.com/brunobiangulo/lexgraph/graph"
)

// Evidence is the result of one Retrieve call.
type Evidence struct {
	Query      string         `json:"query"`
	Tier       string         `json:"tier"`
	NoEvidence bool           `json:"no_evidence"`
	Message    string         `json:"message,omitempty"`
	Items      []EvidenceItem `json:"items"`
	Trace      *SearchTrace   `json:"trace,omitempty"`
}

// Err returns ErrNoEvidence when the cascade found nothing.
func (e *Evidence) Err() error {
	if e == nil || e.NoEvidence {
		return ErrNoEvidence
	}
	return nil
}

// SectionIDs returns the ids of the evidence items in order.
func (e *Evidence) SectionIDs() []string {
	ids := make([]string, len(e.Items))
	for i, it := range e.Items {
		ids[i] = it.SectionID
	}
	return ids
}

// EvidenceItem is one Section with its graph neighbourhood.
type EvidenceItem struct {
	SectionID   string             `json:"section_id"`
	Citation    string             `json:"citation"`
	Heading     string             `json:"heading,omitempty"`
	Summary     string             `json:"summary,omitempty"`
	Text        string             `json:"text"`
	Severity    int                `json:"severity"`
	Act         ActRef             `json:"act"`
	Cited       []CitedSection     `json:"cited,omitempty"`
	Roles       []string           `json:"roles,omitempty"`
	Obligations []graph.Obligation `json:"obligations,omitempty"`
	Penalties   []graph.Penalty    `json:"penalties,omitempty"`
	Score       float64            `json:"score,omitempty"`
}

// ActRef identifies the Act a Section belongs to.
type ActRef struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	Year  int    `json:"year,omitempty"`
}

// CitedSection is a short preview of a Section the item cites.
type CitedSection struct {
	SectionID string `json:"section_id"`
	Citation  string `json:"citation"`
	Preview   string `json:"preview"`
}

func (e *Engine) assemble(sc graph.SectionContext) EvidenceItem {
	sec := sc.Section
	item := EvidenceItem{
		SectionID:   sec.ID,
		Citation:    FormatCitation(sec.Citation, sc.Act.Title, sc.Act.Year, sec.ID),
		Heading:     sec.Heading,
		Summary:     Trim(sec.Summary, e.cfg.SummaryChars),
		Text:        Trim(sec.Text, e.cfg.TextChars),
		Act:         ActRef{ID: sc.Act.ID, Title: sc.Act.Title, Year: sc.Act.Year},
		Obligations: sc.Obligations,
		Penalties:   sc.Penalties,
	}
	if sec.Severity != nil {
		item.Severity = *sec.Severity
	}
	for _, r := range sc.Roles {
		item.Roles = append(item.Roles, r.Name)
	}
	for _, c := range sc.Cited {
		item.Cited = append(item.Cited, CitedSection{
			SectionID: c.ID,
			Citation:  c.Citation,
			Preview:   Trim(c.Text, e.cfg.CitedPreviewChar),
		})
	}
	return item
}
