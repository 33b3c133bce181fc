package source

import (
	"regexp"
	"strconv"
)

var actTitleRe = regexp.MustCompile(`(?i)^.*\b(Act|Ordinance|Code)\b.*\b(18|19|20)\d{2}\b`)

var yearRe = regexp.MustCompile(`\b(?:18|19|20)\d{2}\b`)

const (
	titleScanPages = 2
	titleScanLines = 10
)

// ExtractActTitle looks for a title line such as "THE CONTRACT ACT, 1872"
// in the first lines of the first pages. It returns "" when none matches.
func ExtractActTitle(lines []Line) string {
	perPage := make(map[int]int)
	for _, ln := range lines {
		if ln.Page > titleScanPages {
			break
		}
		if perPage[ln.Page] >= titleScanLines {
			continue
		}
		perPage[ln.Page]++
		if actTitleRe.MatchString(ln.Text) {
			return ln.Text
		}
	}
	return ""
}

// TitleYear returns the last plausible year mentioned in a title, or 0.
func TitleYear(title string) int {
	all := yearRe.FindAllString(title, -1)
	if len(all) == 0 {
		return 0
	}
	y, _ := strconv.Atoi(all[len(all)-1])
	return y
}
