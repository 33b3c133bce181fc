package vector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/brunobiangulo/lexgraph/graph"
)

const (
	defaultSectionBatch = 30
	defaultBatch        = 50
)

// Config sets embedding batch sizes. Zero values take defaults.
type Config struct {
	SectionBatchSize int `json:"section_batch_size" yaml:"section_batch_size" mapstructure:"section_batch_size"`
	BatchSize        int `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`
}

// IndexStats reports one Index run.
type IndexStats struct {
	Sections int           `json:"sections"`
	Acts     int           `json:"acts"`
	Entities int           `json:"entities"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

// Manager builds documents from graph content, embeds them and writes them
// to the vector store.
type Manager struct {
	store    Store
	embedder Embedder
	cfg      Config
}

// NewManager creates a Manager.
func NewManager(s Store, e Embedder, cfg Config) *Manager {
	if cfg.SectionBatchSize <= 0 {
		cfg.SectionBatchSize = defaultSectionBatch
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatch
	}
	return &Manager{store: s, embedder: e, cfg: cfg}
}

// Index (re)embeds every act, section and entity from src. Records are
// upserted by ref id, so rerunning refreshes rather than duplicates.
func (m *Manager) Index(ctx context.Context, src GraphSource) (*IndexStats, error) {
	start := time.Now()
	stats := &IndexStats{}

	acts, err := src.ListActs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing acts: %w", err)
	}
	sections, err := src.ListSections(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing sections: %w", err)
	}
	ents, err := src.ListEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}

	actByID := make(map[string]graph.Act, len(acts))
	for _, a := range acts {
		actByID[a.ID] = a
	}
	secByID := make(map[string]graph.Section, len(sections))
	for _, s := range sections {
		secByID[s.ID] = s
	}

	jobs := []struct {
		collection string
		recs       []Record
		batch      int
		count      *int
	}{
		{CollectionSections, SectionRecords(sections, actByID), m.cfg.SectionBatchSize, &stats.Sections},
		{CollectionActs, ActRecords(acts), m.cfg.BatchSize, &stats.Acts},
		{CollectionEntities, EntityRecords(ents, secByID, actByID), m.cfg.BatchSize, &stats.Entities},
	}
	for _, j := range jobs {
		written, skipped, err := m.embedAndStore(ctx, j.collection, j.recs, j.batch)
		*j.count = written
		stats.Skipped += skipped
		if err != nil {
			return stats, fmt.Errorf("indexing %s: %w", j.collection, err)
		}
		slog.Info("vector: collection indexed", "collection", j.collection, "records", written, "skipped", skipped)
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

// embedAndStore embeds records in batches. A failed batch is retried one
// record at a time; a record that still fails is skipped.
func (m *Manager) embedAndStore(ctx context.Context, collection string, recs []Record, batchSize int) (int, int, error) {
	written, skipped := 0, 0
	for start := 0; start < len(recs); start += batchSize {
		if err := ctx.Err(); err != nil {
			return written, skipped, err
		}
		end := min(start+batchSize, len(recs))
		batch := recs[start:end]

		if err := m.embedBatch(ctx, batch); err != nil {
			slog.Warn("vector: batch embed failed, falling back to single items",
				"collection", collection, "offset", start, "size", len(batch), "error", err)
			var ok []Record
			for i := range batch {
				if err := m.embedBatch(ctx, batch[i:i+1]); err != nil {
					slog.Warn("vector: skipping record", "collection", collection, "ref_id", batch[i].RefID, "error", err)
					skipped++
					continue
				}
				ok = append(ok, batch[i])
			}
			batch = ok
		}
		if len(batch) == 0 {
			continue
		}
		if err := m.store.UpsertVectors(ctx, collection, batch); err != nil {
			return written, skipped, err
		}
		written += len(batch)
	}
	return written, skipped, nil
}

func (m *Manager) embedBatch(ctx context.Context, batch []Record) error {
	texts := make([]string, len(batch))
	for i, r := range batch {
		texts[i] = r.Document
	}
	vecs, err := m.embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}
	if len(vecs) != len(batch) {
		return fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(batch))
	}
	for i := range batch {
		batch[i].Embedding = vecs[i]
	}
	return nil
}

// Search embeds the query and searches one collection.
func (m *Manager) Search(ctx context.Context, collection, query string, k int, filter map[string]string) ([]Hit, error) {
	if !ValidCollection(collection) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	vecs, err := m.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedding query: got %d vectors", len(vecs))
	}
	return m.store.SearchVectors(ctx, collection, vecs[0], k, filter)
}

// Counts returns the record count of each collection.
func (m *Manager) Counts(ctx context.Context) (map[string]int, error) {
	out := make(map[string]int, 3)
	for _, c := range []string{CollectionSections, CollectionActs, CollectionEntities} {
		n, err := m.store.CountVectors(ctx, c)
		if err != nil {
			return nil, err
		}
		out[c] = n
	}
	return out, nil
}

func baseMeta(refID, label string, act graph.Act) map[string]string {
	meta := map[string]string{
		MetaRefID:     refID,
		MetaNodeLabel: label,
		MetaActID:     act.ID,
		MetaActTitle:  act.Title,
		MetaActYear:   "",
	}
	if act.Year > 0 {
		meta[MetaActYear] = strconv.Itoa(act.Year)
	}
	return meta
}

func withSection(meta map[string]string, sec graph.Section) map[string]string {
	if sec.ID != "" {
		meta[MetaSectionID] = sec.ID
		meta[MetaSectionNo] = sec.SectionNo
	}
	return meta
}

// SectionRecords builds the sections collection.
func SectionRecords(sections []graph.Section, acts map[string]graph.Act) []Record {
	out := make([]Record, 0, len(sections))
	for _, s := range sections {
		act := acts[s.ActID]
		if act.ID == "" {
			act.ID = s.ActID
		}
		meta := withSection(baseMeta(s.ID, graph.LabelSection, act), s)
		meta[MetaCitation] = s.Citation
		out = append(out, Record{
			RefID:    s.ID,
			Label:    graph.LabelSection,
			Document: SectionDocument(s, act),
			Metadata: meta,
		})
	}
	return out
}

// ActRecords builds the acts collection.
func ActRecords(acts []graph.Act) []Record {
	out := make([]Record, 0, len(acts))
	for _, a := range acts {
		out = append(out, Record{
			RefID:    a.ID,
			Label:    graph.LabelAct,
			Document: ActDocument(a),
			Metadata: baseMeta(a.ID, graph.LabelAct, a),
		})
	}
	return out
}

// EntityRecords builds the entities collection.
func EntityRecords(ents *graph.Entities, sections map[string]graph.Section, acts map[string]graph.Act) []Record {
	if ents == nil {
		return nil
	}
	var out []Record
	add := func(refID, label, doc string, sec graph.Section, actID string) {
		act := acts[actID]
		if act.ID == "" {
			act.ID = actID
		}
		out = append(out, Record{
			RefID:    refID,
			Label:    label,
			Document: doc,
			Metadata: withSection(baseMeta(refID, label, act), sec),
		})
	}

	for _, t := range ents.Terms {
		sec := sections[t.SectionID]
		add(t.ID, graph.LabelDefinedTerm, TermDocument(t, sec, acts[t.ActID]), sec, t.ActID)
	}
	for _, r := range ents.Roles {
		actIDs := append([]string(nil), ents.RoleActs[r.ID]...)
		sort.Strings(actIDs)
		var titles []string
		for _, id := range actIDs {
			if t := acts[id].Title; t != "" {
				titles = append(titles, t)
			}
		}
		add(r.ID, graph.LabelRole, RoleDocument(r, titles), graph.Section{}, "")
	}
	for _, o := range ents.Obligations {
		sec := sections[o.SectionID]
		add(o.ID, graph.LabelObligation, ObligationDocument(o, sec, acts[sec.ActID]), sec, sec.ActID)
	}
	for _, p := range ents.Powers {
		sec := sections[p.SectionID]
		add(p.ID, graph.LabelPower, PowerDocument(p, sec, acts[sec.ActID]), sec, sec.ActID)
	}
	for _, p := range ents.Penalties {
		sec := sections[p.SectionID]
		add(p.ID, graph.LabelPenalty, PenaltyDocument(p, sec, acts[sec.ActID]), sec, sec.ActID)
	}
	for _, r := range ents.Rights {
		sec := sections[r.SectionID]
		add(r.ID, graph.LabelRight, RightDocument(r, sec, acts[sec.ActID]), sec, sec.ActID)
	}
	return out
}
