package segment

import (
	"regexp"
	"strings"
)

var (
	sectionCiteRe = regexp.MustCompile(`\bsections?\s+\d+[A-Za-z]*(?:\s*,\s*\d+[A-Za-z]*)*`)
	citeNumberRe  = regexp.MustCompile(`\d+[A-Za-z]*`)
	actCiteRe     = regexp.MustCompile(`\b([A-Z][A-Za-z\s]+ Act,\s*\d{4})\b`)
	definitionRe  = regexp.MustCompile(`(?i)"([^"]+)"\s+(means|includes)\s+`)
	amendmentRe   = regexp.MustCompile(`(?i)is hereby (repealed|substituted|omitted)`)
	precedenceRe  = regexp.MustCompile(`(?i)notwithstanding anything contained in`)
)

// Citation kinds.
const (
	CiteSection = "section"
	CiteAct     = "act"
)

// Rule flags recorded on annotated sections.
const (
	FlagHasCitations  = "has_citations"
	FlagHasAmendments = "has_amendments"
)

// Citation is a reference found in section text. Section citations carry a
// SectionNo and resolve within the citing act unless TargetActID or
// TargetSectionID is set.
type Citation struct {
	Kind            string `json:"kind"`
	Raw             string `json:"raw"`
	SectionNo       string `json:"section_no,omitempty"`
	TargetActID     string `json:"target_act_id,omitempty"`
	TargetSectionID string `json:"target_section_id,omitempty"`
	Title           string `json:"title,omitempty"`
}

// Definition is a quoted term introduced with "means" or "includes".
type Definition struct {
	Term string `json:"term"`
	Span string `json:"span"`
}

// Amendment is a repeal/substitution/omission marker.
type Amendment struct {
	Kind string `json:"kind"`
	Span string `json:"span"`
}

// AnnotatedSection is a SegmentedSection plus rule-derived lists.
type AnnotatedSection struct {
	SegmentedSection

	Citations   []Citation   `json:"citations"`
	Definitions []Definition `json:"definitions"`
	Amendments  []Amendment  `json:"amendments"`
	Precedence  []string     `json:"precedence_clauses"`
	Flags       []string     `json:"rule_flags"`
}

// Annotate derives citations, definitions, amendment markers and
// precedence clauses from the section text. Every list is rebuilt from the
// text, so annotating the same section again yields the same result.
func Annotate(sec SegmentedSection) AnnotatedSection {
	out := AnnotatedSection{SegmentedSection: sec}
	text := sec.Text

	seen := make(map[string]bool)
	for _, span := range sectionCiteRe.FindAllString(text, -1) {
		// Skip the leading "section(s)" word before pulling numbers.
		nums := citeNumberRe.FindAllString(span[strings.IndexAny(span, "0123456789"):], -1)
		for _, n := range nums {
			if seen[n] {
				continue
			}
			seen[n] = true
			out.Citations = append(out.Citations, Citation{Kind: CiteSection, Raw: span, SectionNo: n})
		}
	}
	for _, m := range actCiteRe.FindAllStringSubmatch(text, -1) {
		title := strings.TrimSpace(m[1])
		out.Citations = append(out.Citations, Citation{Kind: CiteAct, Raw: m[1], Title: title})
	}

	for _, m := range definitionRe.FindAllStringSubmatch(text, -1) {
		out.Definitions = append(out.Definitions, Definition{Term: m[1], Span: m[0]})
	}
	for _, m := range amendmentRe.FindAllStringSubmatch(text, -1) {
		out.Amendments = append(out.Amendments, Amendment{Kind: strings.ToLower(m[1]), Span: m[0]})
	}
	out.Precedence = precedenceRe.FindAllString(text, -1)

	if len(out.Citations) > 0 {
		out.Flags = append(out.Flags, FlagHasCitations)
	}
	if len(out.Amendments) > 0 {
		out.Flags = append(out.Flags, FlagHasAmendments)
	}
	return out
}

// SectionCitations returns only the section-kind citations.
func (a AnnotatedSection) SectionCitations() []Citation {
	var out []Citation
	for _, c := range a.Citations {
		if c.Kind == CiteSection {
			out = append(out, c)
		}
	}
	return out
}

// HasFlag reports whether a rule flag is set.
func (a AnnotatedSection) HasFlag(flag string) bool {
	for _, f := range a.Flags {
		if f == flag {
			return true
		}
	}
	return false
}
