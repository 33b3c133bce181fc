package vector

import (
	"strconv"
	"strings"

	"github.com/brunobiangulo/lexgraph/graph"
)

// Embedded documents never contain graph ids, section numbers or citation
// strings; those live in metadata only.

// SectionDocument is "act title \n heading \n\n summary \n\n text".
func SectionDocument(sec graph.Section, act graph.Act) string {
	return strings.TrimSpace(act.Title + "\n" + sec.Heading + "\n\n" + sec.Summary + "\n\n" + sec.Text)
}

// ActDocument is the act title, or "Act of <year>" when untitled.
func ActDocument(act graph.Act) string {
	if t := strings.TrimSpace(act.Title); t != "" {
		return t
	}
	if act.Year > 0 {
		return "Act of " + strconv.Itoa(act.Year)
	}
	return "Act"
}

// sectionContext is the trailing block shared by entity documents.
func sectionContext(sec graph.Section) string {
	return sec.Summary + "\n\n" + sec.Text
}

// TermDocument describes a defined term with its defining section.
func TermDocument(t graph.DefinedTerm, sec graph.Section, act graph.Act) string {
	return strings.TrimSpace(
		"Defined term: " + t.Name + "\n" +
			"Act: " + act.Title + "\n" +
			"Section heading: " + sec.Heading + "\n\n" +
			sectionContext(sec))
}

// RoleDocument lists the acts a role appears in.
func RoleDocument(r graph.Role, actTitles []string) string {
	return strings.TrimSpace(
		"Role: " + r.Name + "\n" +
			"Appears in Acts: " + strings.Join(actTitles, ", "))
}

// ObligationDocument reads "Obligation: actor must action when conditions".
func ObligationDocument(o graph.Obligation, sec graph.Section, act graph.Act) string {
	return strings.TrimSpace(
		"Obligation: " + clause(o.Actor, "must", o.Action, o.Conditions) + "\n" +
			"Act: " + act.Title + "\n" +
			"Section heading: " + sec.Heading + "\n\n" +
			sectionContext(sec))
}

// PowerDocument reads "Power: actor may action when conditions".
func PowerDocument(p graph.Power, sec graph.Section, act graph.Act) string {
	return strings.TrimSpace(
		"Power: " + clause(p.Actor, "may", p.Action, p.Conditions) + "\n" +
			"Act: " + act.Title + "\n" +
			"Section heading: " + sec.Heading + "\n\n" +
			sectionContext(sec))
}

// PenaltyDocument describes a penalty and whom it applies to.
func PenaltyDocument(p graph.Penalty, sec graph.Section, act graph.Act) string {
	return strings.TrimSpace(
		"Penalty in Act: " + act.Title + "\n" +
			"Section heading: " + sec.Heading + "\n\n" +
			"Description: " + p.Description + "\n" +
			"Imprisonment: " + p.Imprisonment + "\n" +
			"Fine: " + p.FineAmount + "\n" +
			"Applies to: " + p.Subject + "\n\n" +
			sectionContext(sec))
}

// RightDocument describes a right and its holder.
func RightDocument(r graph.Right, sec graph.Section, act graph.Act) string {
	doc := "Right: " + r.Holder + " has the right to " + r.Description
	if c := strings.TrimSpace(r.Conditions); c != "" {
		doc += " when " + c
	}
	return strings.TrimSpace(doc + "\n" +
		"Act: " + act.Title + "\n" +
		"Section heading: " + sec.Heading + "\n\n" +
		sectionContext(sec))
}

func clause(actor, modal, action, conditions string) string {
	parts := []string{}
	if a := strings.TrimSpace(actor); a != "" {
		parts = append(parts, a)
	}
	parts = append(parts, modal)
	if a := strings.TrimSpace(action); a != "" {
		parts = append(parts, a)
	}
	if c := strings.TrimSpace(conditions); c != "" {
		parts = append(parts, "when", c)
	}
	return strings.Join(parts, " ")
}
