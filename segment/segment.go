// Package segment splits normalized statute lines into sections and
// annotates each section with pattern-based legal metadata.
package segment

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/brunobiangulo/lexgraph/source"
)

// ---------------------------------------------------------------------------
// Header detection
// ---------------------------------------------------------------------------

// Match is a detected header: the section number (or chapter numeral) and
// the remainder of the header line.
type Match struct {
	Number  string
	Heading string
}

// Matcher detects a header in a single normalized line.
type Matcher interface {
	Detect(text string) (Match, bool)
}

// RegexMatcher is a Matcher backed by a regular expression whose first
// group is the number and optional second group is the heading.
type RegexMatcher struct {
	Name string
	Re   *regexp.Regexp
}

func (m RegexMatcher) Detect(text string) (Match, bool) {
	sub := m.Re.FindStringSubmatch(text)
	if sub == nil {
		return Match{}, false
	}
	out := Match{Number: sub[1]}
	if len(sub) > 2 {
		out.Heading = strings.TrimSpace(sub[2])
	}
	return out, true
}

var (
	// ExplicitSection matches "Section 12." and "Section 12A Heading".
	ExplicitSection = RegexMatcher{Name: "explicit", Re: regexp.MustCompile(`^Section\s+(\d+[A-Za-z]?)\.?\s*(.*)$`)}

	// NumberedHeading matches bare "12. Heading" lines.
	NumberedHeading = RegexMatcher{Name: "numbered", Re: regexp.MustCompile(`^(\d+[A-Za-z]?)\.\s+(.*)$`)}

	// ChapterHeader matches "CHAPTER IV" style headers.
	ChapterHeader = RegexMatcher{Name: "chapter", Re: regexp.MustCompile(`^CHAPTER\s+([IVXLC]+)\b`)}
)

// DefaultSectionMatchers is the section header cascade in priority order.
// The first matcher that fires wins, even if a later one is more specific.
func DefaultSectionMatchers() []Matcher {
	return []Matcher{ExplicitSection, NumberedHeading}
}

// FirstMatch tries matchers in order and returns the first hit.
func FirstMatch(matchers []Matcher, text string) (Match, bool) {
	for _, m := range matchers {
		if hit, ok := m.Detect(text); ok {
			return hit, true
		}
	}
	return Match{}, false
}

// ---------------------------------------------------------------------------
// Segmentation
// ---------------------------------------------------------------------------

// SegmentedSection is one section cut from an act's line stream.
type SegmentedSection struct {
	ActID     string        `json:"act_id"`
	ActYear   int           `json:"act_year"`
	ActSeq    int           `json:"act_seq"`
	ActTitle  string        `json:"act_title,omitempty"`
	SectionID string        `json:"section_id"`
	SectionNo string        `json:"section_no"`
	Citation  string        `json:"citation"`
	Heading   string        `json:"heading,omitempty"`
	Chapter   string        `json:"chapter,omitempty"`
	Text      string        `json:"text"`
	Pages     []int         `json:"pages"`
	RawLines  []source.Line `json:"raw_lines"`
}

// SectionID builds the globally unique section key.
func SectionID(actID, sectionNo string) string {
	return fmt.Sprintf("%s-sec-%s", actID, sectionNo)
}

// Segmenter scans a line stream with a chapter matcher and a section
// header cascade.
type Segmenter struct {
	Chapter  Matcher
	Sections []Matcher
}

// NewSegmenter returns a Segmenter using the default patterns.
func NewSegmenter() *Segmenter {
	return &Segmenter{Chapter: ChapterHeader, Sections: DefaultSectionMatchers()}
}

// Segment splits lines into sections. Chapter headers update the current
// chapter without closing a section; a section header closes the open
// section and starts a new one. Lines before the first section header are
// dropped, and a section whose body is blank is not emitted.
func (s *Segmenter) Segment(act source.ManifestEntry, lines []source.Line) []SegmentedSection {
	var (
		out     []SegmentedSection
		chapter string
		cur     *SegmentedSection
		body    []string
		pages   map[int]struct{}
	)

	flush := func() {
		if cur == nil {
			return
		}
		text := strings.Join(body, "\n")
		if strings.TrimSpace(text) == "" {
			return
		}
		cur.Text = text
		cur.Pages = sortedPages(pages)
		out = append(out, *cur)
	}

	for _, ln := range lines {
		if s.Chapter != nil {
			if m, ok := s.Chapter.Detect(ln.Text); ok {
				chapter = m.Number
				continue
			}
		}

		if m, ok := FirstMatch(s.Sections, ln.Text); ok {
			flush()
			cur = &SegmentedSection{
				ActID:     act.ActID,
				ActYear:   act.Year,
				ActSeq:    act.Seq,
				ActTitle:  act.Title,
				SectionID: SectionID(act.ActID, m.Number),
				SectionNo: m.Number,
				Citation:  "Section " + m.Number,
				Heading:   m.Heading,
				Chapter:   chapter,
			}
			body = nil
			pages = make(map[int]struct{})
			continue
		}

		if cur == nil {
			continue
		}
		body = append(body, ln.Text)
		pages[ln.Page] = struct{}{}
		cur.RawLines = append(cur.RawLines, ln)
	}
	flush()

	return out
}

func sortedPages(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}
