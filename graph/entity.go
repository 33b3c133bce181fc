package graph

import (
	"fmt"
	"strings"
)

// Node labels.
const (
	LabelAct         = "Act"
	LabelSection     = "Section"
	LabelDefinedTerm = "DefinedTerm"
	LabelRole        = "Role"
	LabelObligation  = "Obligation"
	LabelPower       = "Power"
	LabelPenalty     = "Penalty"
	LabelRight       = "Right"
)

// Edge types.
const (
	RelHasSection        = "HAS_SECTION"
	RelOfAct             = "OF_ACT"
	RelCites             = "CITES"
	RelDefines           = "DEFINES"
	RelSameTermAs        = "SAME_TERM_AS"
	RelMentionsRole      = "MENTIONS_ROLE"
	RelAppearsInAct      = "APPEARS_IN_ACT"
	RelCoOccursWith      = "CO_OCCURS_WITH"
	RelImposesObligation = "IMPOSES_OBLIGATION"
	RelObligationOn      = "OBLIGATION_ON"
	RelGrantsPower       = "GRANTS_POWER"
	RelPowerOf           = "POWER_OF"
	RelPrescribesPenalty = "PRESCRIBES_PENALTY"
	RelAppliesTo         = "APPLIES_TO"
	RelConfersRight      = "CONFERS_RIGHT"
	RelRightOf           = "RIGHT_OF"
)

// Entity kinds used in obligation/power/penalty/right keys.
const (
	KindObligation = "ob"
	KindPower      = "pow"
	KindPenalty    = "pen"
	KindRight      = "right"
)

// TermID keys a defined term by act and case-folded name.
func TermID(actID, name string) string {
	return actID + "|" + strings.ToLower(strings.TrimSpace(name))
}

// RoleID keys a role by case-folded name.
func RoleID(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// EntityID keys a section-scoped entity by kind and ordinal.
func EntityID(sectionID, kind string, ordinal int) string {
	return fmt.Sprintf("%s|%s|%d", sectionID, kind, ordinal)
}

// Act is a piece of legislation.
type Act struct {
	ID        string `json:"id"`
	Title     string `json:"title,omitempty"`
	Year      int    `json:"year,omitempty"`
	ActNumber int    `json:"act_number,omitempty"`
}

// Section is the atomic provision unit of an act.
type Section struct {
	ID        string `json:"id"`
	ActID     string `json:"act_id"`
	SectionNo string `json:"section_no"`
	Citation  string `json:"citation"`
	Heading   string `json:"heading,omitempty"`
	Text      string `json:"text"`
	Summary   string `json:"summary,omitempty"`
	Chapter   string `json:"chapter,omitempty"`
	Pages     []int  `json:"pages,omitempty"`
	HasLLM    bool   `json:"has_llm"`
	LLMModel  string `json:"llm_model,omitempty"`
	Severity  *int   `json:"severity_score,omitempty"`
}

// DefinedTerm is a quoted term defined by a section of one act.
type DefinedTerm struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ActID     string `json:"act_id"`
	SectionID string `json:"section_id,omitempty"`
}

// Role is an actor shared across sections and acts.
type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Obligation is a duty imposed by a section.
type Obligation struct {
	ID         string `json:"id"`
	SectionID  string `json:"section_id"`
	Actor      string `json:"actor,omitempty"`
	Action     string `json:"action,omitempty"`
	Conditions string `json:"conditions,omitempty"`
	SourceSpan string `json:"source_span,omitempty"`
}

// Power is an authority granted by a section.
type Power struct {
	ID         string `json:"id"`
	SectionID  string `json:"section_id"`
	Actor      string `json:"actor,omitempty"`
	Action     string `json:"action,omitempty"`
	Conditions string `json:"conditions,omitempty"`
	SourceSpan string `json:"source_span,omitempty"`
}

// Penalty is a consequence prescribed by a section.
type Penalty struct {
	ID           string `json:"id"`
	SectionID    string `json:"section_id"`
	Subject      string `json:"subject,omitempty"`
	Description  string `json:"description,omitempty"`
	Imprisonment string `json:"imprisonment,omitempty"`
	FineAmount   string `json:"fine_amount,omitempty"`
	SourceSpan   string `json:"source_span,omitempty"`
}

// Right is a right conferred by a section.
type Right struct {
	ID          string `json:"id"`
	SectionID   string `json:"section_id"`
	Holder      string `json:"holder,omitempty"`
	Description string `json:"description,omitempty"`
	Conditions  string `json:"conditions,omitempty"`
	SourceSpan  string `json:"source_span,omitempty"`
}

// Severity scores a penalty: 2 for imprisonment, 1 for a fine, plus 1 for
// the penalty itself.
func (p Penalty) Severity() int {
	score := 1
	if strings.TrimSpace(p.Imprisonment) != "" {
		score += 2
	}
	if strings.TrimSpace(p.FineAmount) != "" {
		score++
	}
	return score
}

// SeverityScore sums penalty severities for one section.
func SeverityScore(penalties []Penalty) int {
	total := 0
	for _, p := range penalties {
		total += p.Severity()
	}
	return total
}

// CitationRef is a recorded, not yet resolved, citation from a section.
// Resolution tries TargetSectionID first, then (TargetActID, SectionNo);
// a blank TargetActID means the citing section's own act.
type CitationRef struct {
	SourceID        string `json:"source_id"`
	SourceActID     string `json:"source_act_id"`
	TargetSectionID string `json:"target_section_id,omitempty"`
	TargetActID     string `json:"target_act_id,omitempty"`
	SectionNo       string `json:"section_no,omitempty"`
	Raw             string `json:"raw,omitempty"`
}

// SectionRoles lists the roles one section mentions.
type SectionRoles struct {
	SectionID string
	ActID     string
	RoleIDs   []string
}

// SectionContext is a section with its one-hop neighbourhood.
type SectionContext struct {
	Section     Section      `json:"section"`
	Act         Act          `json:"act"`
	Cited       []Section    `json:"cited_sections"`
	Roles       []Role       `json:"roles"`
	Obligations []Obligation `json:"obligations"`
	Penalties   []Penalty    `json:"penalties"`
}

// Entities holds every non-structural node, for indexing.
type Entities struct {
	Terms       []DefinedTerm
	Roles       []Role
	Obligations []Obligation
	Powers      []Power
	Penalties   []Penalty
	Rights      []Right

	// RoleActs maps a role id to the acts it appears in.
	RoleActs map[string][]string
}

// Stats counts nodes per label and edges per type.
type Stats struct {
	Nodes map[string]int `json:"nodes"`
	Edges map[string]int `json:"edges"`
}
