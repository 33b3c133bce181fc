package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ManifestEntry identifies one act document.
type ManifestEntry struct {
	ActID  string `json:"act_id" msgpack:"act_id"`
	Year   int    `json:"year" msgpack:"year"`
	Seq    int    `json:"seq" msgpack:"seq"`
	Path   string `json:"file_path" msgpack:"file_path"`
	Title  string `json:"act_title" msgpack:"act_title"`
	Status string `json:"status" msgpack:"status"`
}

// ActID builds the canonical act key.
func ActID(year, seq int) string {
	return fmt.Sprintf("%d_%d", year, seq)
}

var manifestColumns = []string{"act_id", "year", "seq", "file_path", "act_title", "status"}

// StatusSkip marks a manifest row that should not be processed.
const StatusSkip = "skip"

// LoadManifest reads a manifest from a .csv or .xlsx file. Rows with status
// "skip" are dropped; blank act ids are derived from year and seq.
func LoadManifest(path string) ([]ManifestEntry, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		rows, err = readXLSXRows(path)
	case ".csv", "":
		rows, err = readCSVRows(path)
	default:
		return nil, fmt.Errorf("unsupported manifest format: %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	return parseManifestRows(rows)
}

func readCSVRows(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceMissing, path)
		}
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading manifest csv: %w", err)
	}
	return rows, nil
}

func readXLSXRows(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening manifest xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("manifest xlsx has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading manifest sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

func parseManifestRows(rows [][]string) ([]ManifestEntry, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	col := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"year", "seq", "file_path"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("manifest missing column %q", required)
		}
	}

	get := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var out []ManifestEntry
	for n, row := range rows[1:] {
		if strings.EqualFold(get(row, "status"), StatusSkip) {
			continue
		}
		year, err := strconv.Atoi(get(row, "year"))
		if err != nil {
			return nil, fmt.Errorf("manifest row %d: bad year %q", n+2, get(row, "year"))
		}
		seq, err := strconv.Atoi(get(row, "seq"))
		if err != nil {
			return nil, fmt.Errorf("manifest row %d: bad seq %q", n+2, get(row, "seq"))
		}
		e := ManifestEntry{
			ActID:  get(row, "act_id"),
			Year:   year,
			Seq:    seq,
			Path:   get(row, "file_path"),
			Title:  get(row, "act_title"),
			Status: get(row, "status"),
		}
		if e.ActID == "" {
			e.ActID = ActID(year, seq)
		}
		out = append(out, e)
	}
	return out, nil
}

// ScanActs builds a manifest from a directory laid out as <root>/<year>/<seq>.pdf.
// Non-numeric directory and file names are ignored.
func ScanActs(root string) ([]ManifestEntry, error) {
	years, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading acts root: %w", err)
	}

	var out []ManifestEntry
	for _, yd := range years {
		if !yd.IsDir() {
			continue
		}
		year, err := strconv.Atoi(yd.Name())
		if err != nil {
			continue
		}
		files, err := os.ReadDir(filepath.Join(root, yd.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", yd.Name(), err)
		}
		for _, f := range files {
			name := f.Name()
			if f.IsDir() || !strings.EqualFold(filepath.Ext(name), ".pdf") {
				continue
			}
			seq, err := strconv.Atoi(strings.TrimSuffix(name, filepath.Ext(name)))
			if err != nil {
				continue
			}
			out = append(out, ManifestEntry{
				ActID:  ActID(year, seq),
				Year:   year,
				Seq:    seq,
				Path:   filepath.Join(root, yd.Name(), name),
				Status: "raw",
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

// WriteManifest writes entries as CSV with the canonical header.
func WriteManifest(w io.Writer, entries []ManifestEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(manifestColumns); err != nil {
		return err
	}
	for _, e := range entries {
		rec := []string{e.ActID, strconv.Itoa(e.Year), strconv.Itoa(e.Seq), e.Path, e.Title, e.Status}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
