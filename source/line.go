// Package source supplies the upstream inputs of the pipeline: normalized
// line records per act, the act manifest, and act-title detection.
package source

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrSourceMissing is returned when the input file for an act does not exist.
var ErrSourceMissing = errors.New("source: input file missing")

// Line is one normalized text line of a document.
type Line struct {
	Page  int    `json:"page" msgpack:"page"`
	Index int    `json:"line_index" msgpack:"line_index"`
	Text  string `json:"text" msgpack:"text"`
}

// NormalizeLine collapses runs of whitespace (tabs included) to a single
// space and trims the result.
func NormalizeLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ReadLines reads a JSONL line file, one {"page","line_index","text"} object
// per line. Text is normalized and blank lines are dropped.
func ReadLines(path string) ([]Line, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceMissing, path)
		}
		return nil, fmt.Errorf("opening line file: %w", err)
	}
	defer f.Close()
	return DecodeLines(f)
}

// DecodeLines decodes JSONL line records from r.
func DecodeLines(r io.Reader) ([]Line, error) {
	var lines []Line
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	n := 0
	for sc.Scan() {
		n++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var ln Line
		if err := json.Unmarshal([]byte(raw), &ln); err != nil {
			return nil, fmt.Errorf("line record %d: %w", n, err)
		}
		ln.Text = NormalizeLine(ln.Text)
		if ln.Text == "" {
			continue
		}
		lines = append(lines, ln)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading line records: %w", err)
	}
	return lines, nil
}

// WriteLines writes line records as JSONL.
func WriteLines(w io.Writer, lines []Line) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, ln := range lines {
		if err := enc.Encode(ln); err != nil {
			return err
		}
	}
	return nil
}
