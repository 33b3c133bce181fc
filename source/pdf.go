package source

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ExtractPDFLines reads every page of a PDF and returns its non-blank lines,
// normalized, with 1-based page numbers and the line's position on the page.
func ExtractPDFLines(path string) ([]Line, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSourceMissing, path)
	}

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	var lines []Line
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Unreadable pages are skipped, not fatal.
			continue
		}
		lines = append(lines, splitPage(text, i)...)
	}
	return lines, nil
}

func splitPage(text string, page int) []Line {
	var out []Line
	for idx, raw := range strings.Split(text, "\n") {
		norm := NormalizeLine(raw)
		if norm == "" {
			continue
		}
		out = append(out, Line{Page: page, Index: idx, Text: norm})
	}
	return out
}
