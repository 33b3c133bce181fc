package retrieval

import (
	"regexp"
	"strconv"
	"strings"
)

// locatorRe finds an explicit "Section 12" / "Article 24-A" reference.
var locatorRe = regexp.MustCompile(`(?i)\b(article|section)\s+(\d+[A-Z-]*)`)

// DetectLocator returns the uppercased section number named in the query.
func DetectLocator(query string) (string, bool) {
	m := locatorRe.FindStringSubmatch(query)
	if m == nil {
		return "", false
	}
	return strings.ToUpper(m[2]), true
}

// sanitizeFTSQuery escapes special FTS5 syntax characters and builds
// a basic OR query from the input terms.
func sanitizeFTSQuery(query string) string {
	replacer := strings.NewReplacer(
		"\"", "",
		"*", "",
		"(", "",
		")", "",
		"+", "",
		"-", "",
		"^", "",
		":", "",
		"?", "",
		"[", "",
		"]", "",
		"{", "",
		"}", "",
		"!", "",
		".", "",
		",", "",
		";", "",
		"'", "",
	)
	cleaned := replacer.Replace(query)

	words := strings.Fields(cleaned)
	if len(words) == 0 {
		return ""
	}

	// Use quoted phrase for exact matches plus individual terms
	var parts []string
	if len(words) > 1 {
		parts = append(parts, "\""+strings.Join(words, " ")+"\"")
	}
	for _, w := range words {
		if len(w) > 2 && !isStopWord(w) && !isFTSOperator(w) {
			parts = append(parts, w)
		}
	}

	if len(parts) == 0 {
		return "\"" + strings.Join(words, " ") + "\""
	}
	return strings.Join(parts, " OR ")
}

func isFTSOperator(w string) bool {
	switch w {
	case "AND", "OR", "NOT", "NEAR":
		return true
	}
	return false
}

// TruncationMarker is appended to trimmed evidence fields.
const TruncationMarker = " ...[TRUNCATED]..."

// Trim cuts s to at most limit runes, appending TruncationMarker when
// anything was dropped. A non-positive limit disables trimming.
func Trim(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + TruncationMarker
}

// FormatCitation renders "<citation> of <title>, <year>", dropping the
// parts that are missing. With no citation the section id is used.
func FormatCitation(citation, actTitle string, actYear int, sectionID string) string {
	citation = strings.TrimSpace(citation)
	if citation == "" {
		return sectionID
	}
	actTitle = strings.TrimSpace(actTitle)
	switch {
	case actTitle != "" && actYear > 0:
		return citation + " of " + actTitle + ", " + strconv.Itoa(actYear)
	case actTitle != "":
		return citation + " of " + actTitle
	case actYear > 0:
		return citation + ", " + strconv.Itoa(actYear)
	}
	return citation
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"but": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "with": true, "by": true, "from": true,
	"is": true, "are": true, "was": true, "were": true, "be": true,
	"been": true, "being": true, "have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true, "will": true, "would": true,
	"could": true, "should": true, "may": true, "might": true, "must": true,
	"shall": true, "can": true, "this": true, "that": true, "these": true,
	"those": true, "what": true, "which": true, "who": true, "whom": true,
	"where": true, "when": true, "how": true, "why": true, "not": true,
	"no": true, "nor": true, "if": true, "then": true, "than": true,
	"so": true, "as": true, "about": true, "into": true, "between": true,
}

func isStopWord(w string) bool {
	return stopWords[strings.ToLower(w)]
}
