package enrich

import (
	"strings"
	"unicode"
)

// keywords mark deontic or penal sentences. Each is matched against the
// lowercased sentence padded with a space on both sides.
var keywords = []string{
	" shall ",
	" shall be bound ",
	" may ",
	" punishable ",
	" liable ",
	" offence ",
	" offense ",
}

// SplitSentences splits text after '.', '?' or '!' when followed by
// whitespace. The terminator stays with its sentence.
func SplitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '?', '!':
		default:
			continue
		}
		if i+1 >= len(runes) || !unicode.IsSpace(runes[i+1]) {
			continue
		}
		out = append(out, string(runes[start:i+1]))
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		start = j
		i = j - 1
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

// CandidateSentences returns up to max sentences that contain a keyword.
func CandidateSentences(text string, max int) []string {
	var out []string
	for _, s := range SplitSentences(text) {
		padded := " " + strings.ToLower(s) + " "
		for _, k := range keywords {
			if strings.Contains(padded, k) {
				if clean := strings.TrimSpace(s); clean != "" {
					out = append(out, clean)
				}
				break
			}
		}
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}
