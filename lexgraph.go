// Package lexgraph turns statute documents into a legal knowledge graph and
// answers queries against it with hybrid retrieval.
package lexgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brunobiangulo/lexgraph/checkpoint"
	"github.com/brunobiangulo/lexgraph/enrich"
	"github.com/brunobiangulo/lexgraph/graph"
	"github.com/brunobiangulo/lexgraph/llm"
	"github.com/brunobiangulo/lexgraph/neo4jstore"
	"github.com/brunobiangulo/lexgraph/retrieval"
	"github.com/brunobiangulo/lexgraph/segment"
	"github.com/brunobiangulo/lexgraph/source"
	"github.com/brunobiangulo/lexgraph/store"
	"github.com/brunobiangulo/lexgraph/vector"
)

// Engine is the main entry point for building and querying the graph.
type Engine interface {
	// Build runs load, segment, annotate, enrich and upsert for each act.
	// A failing act is logged and reported; it does not stop the others.
	Build(ctx context.Context, acts []source.ManifestEntry) (*BuildReport, error)

	// Link runs the post-load passes over the whole graph.
	Link(ctx context.Context) (*graph.LinkStats, error)

	// LinkActs runs the merge passes over the whole graph and adds
	// co-occurrence counts only for the sections of actIDs.
	LinkActs(ctx context.Context, actIDs []string) (*graph.LinkStats, error)

	// Index (re)embeds all graph content into the vector collections.
	Index(ctx context.Context) (*vector.IndexStats, error)

	// Query selects the evidence for a question.
	Query(ctx context.Context, question string) (*retrieval.Evidence, error)

	// Stats returns node, edge and vector counts.
	Stats(ctx context.Context) (*Stats, error)

	// RecentQueries returns the newest query log entries first.
	RecentQueries(ctx context.Context, limit int) ([]store.QueryLog, error)

	// Close cleanly shuts down the engine.
	Close() error
}

// Stats combines graph and vector index counts.
type Stats struct {
	Graph   *graph.Stats   `json:"graph"`
	Vectors map[string]int `json:"vectors"`
}

// ActResult reports the outcome of building one act.
type ActResult struct {
	ActID    string `json:"act_id"`
	Title    string `json:"title,omitempty"`
	Sections int    `json:"sections"`
	Written  int    `json:"written"`
	Failed   int    `json:"failed"`
	LLMUsed  int    `json:"llm_used"`
	Skipped  bool   `json:"skipped,omitempty"`
	Resumed  bool   `json:"resumed,omitempty"`
	Replaced bool   `json:"replaced,omitempty"`
	Error    string `json:"error,omitempty"`

	err error
}

// Err returns the error that stopped this act, if any.
func (r ActResult) Err() error { return r.err }

// BuildReport summarises one Build call.
type BuildReport struct {
	RunID    string        `json:"run_id"`
	Acts     []ActResult   `json:"acts"`
	Built    int           `json:"built"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Option configures New.
type Option func(*options)

type options struct {
	chat        llm.Provider
	embedder    llm.Provider
	checkpoints *checkpoint.Store
}

// WithChatProvider overrides the chat provider built from Config.Chat.
func WithChatProvider(p llm.Provider) Option {
	return func(o *options) { o.chat = p }
}

// WithEmbedder overrides the embedding provider built from Config.Embedding.
func WithEmbedder(p llm.Provider) Option {
	return func(o *options) { o.embedder = p }
}

// WithCheckpoints uses an already open checkpoint store. The engine does
// not close it.
func WithCheckpoints(c *checkpoint.Store) Option {
	return func(o *options) { o.checkpoints = c }
}

// graphBackend is a graph store that also serves retrieval reads.
type graphBackend interface {
	graph.Store
	retrieval.GraphReader
}

var (
	_ graphBackend = (*store.Store)(nil)
	_ graphBackend = (*neo4jstore.Store)(nil)
)

// engine is the concrete implementation of Engine.
type engine struct {
	cfg Config

	db          *store.Store
	graph       graphBackend
	checkpoints *checkpoint.Store
	ownsCkpt    bool

	segmenter *segment.Segmenter
	batcher   *enrich.Batcher
	upserter  *graph.Upserter
	linker    *graph.Linker
	vectors   *vector.Manager
	retriever *retrieval.Engine

	mu     sync.RWMutex
	closed bool
}

// New creates an engine with the given configuration.
func New(cfg Config, opts ...Option) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 1
	}

	dbPath := cfg.resolveDBPath()
	db, err := store.New(dbPath, cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	e := &engine{cfg: cfg, db: db, graph: db}
	fail := func(err error) (Engine, error) {
		e.Close()
		return nil, err
	}

	if cfg.GraphBackend == BackendNeo4j {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		ns, err := neo4jstore.New(ctx, neo4jstore.Config{
			URI:      cfg.Neo4j.URI,
			Username: cfg.Neo4j.Username,
			Password: cfg.Neo4j.Password,
			Database: cfg.Neo4j.Database,
		})
		if err != nil {
			return fail(fmt.Errorf("opening neo4j: %w", err))
		}
		e.graph = ns
	}

	if o.checkpoints != nil {
		e.checkpoints = o.checkpoints
	} else {
		ck, err := checkpoint.Open(cfg.resolveCheckpointDir(dbPath))
		if err != nil {
			return fail(err)
		}
		e.checkpoints = ck
		e.ownsCkpt = true
	}

	chat := o.chat
	if chat == nil {
		if chat, err = llm.NewProvider(enrichChatConfig(cfg.Chat)); err != nil {
			return fail(fmt.Errorf("creating chat provider: %w", err))
		}
	}
	embedder := o.embedder
	if embedder == nil {
		if embedder, err = llm.NewProvider(cfg.Embedding); err != nil {
			return fail(fmt.Errorf("creating embedding provider: %w", err))
		}
	}

	enrichCfg := cfg.Enrich
	if enrichCfg.Model == "" {
		enrichCfg.Model = cfg.Chat.Model
	}

	e.segmenter = segment.NewSegmenter()
	e.batcher = enrich.NewBatcher(chat, enrichCfg)
	e.upserter = graph.NewUpserter(e.graph)
	e.linker = graph.NewLinker(e.graph)
	e.vectors = vector.NewManager(db, embedder, cfg.Vector)
	e.retriever = retrieval.New(e.graph, e.vectors, cfg.Retrieval)

	slog.Info("engine: ready",
		"db", dbPath, "graph_backend", backendName(cfg.GraphBackend),
		"chat_model", cfg.Chat.Model, "embed_model", cfg.Embedding.Model)
	return e, nil
}

// enrichChatConfig limits the extraction client to one retry. The batcher
// already backs off and skips a failed batch, and more retries would spend
// the whole per-batch timeout on a dead endpoint.
func enrichChatConfig(c llm.Config) llm.Config {
	if c.Retries == 0 {
		c.Retries = 1
	}
	return c
}

func backendName(b string) string {
	if b == "" {
		return BackendSQLite
	}
	return b
}

func (e *engine) checkOpen() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrEngineClosed
	}
	return nil
}

// Build processes acts under a semaphore of cfg.Concurrency workers.
func (e *engine) Build(ctx context.Context, acts []source.ManifestEntry) (*BuildReport, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	start := time.Now()
	report := &BuildReport{RunID: uuid.NewString(), Acts: make([]ActResult, len(acts))}
	slog.Info("build: starting", "run_id", report.RunID, "acts", len(acts), "concurrency", e.cfg.Concurrency)

	sem := make(chan struct{}, e.cfg.Concurrency)
	var wg sync.WaitGroup
	for i, act := range acts {
		wg.Add(1)
		go func(i int, act source.ManifestEntry) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				report.Acts[i] = ActResult{ActID: act.ActID, Error: ctx.Err().Error(), err: ctx.Err()}
				return
			}
			defer func() { <-sem }()
			report.Acts[i] = e.buildAct(ctx, report.RunID, act)
		}(i, act)
	}
	wg.Wait()

	for _, r := range report.Acts {
		switch {
		case r.err != nil:
			report.Failed++
		case r.Skipped:
			report.Skipped++
		default:
			report.Built++
		}
	}
	report.Duration = time.Since(start)
	slog.Info("build: complete",
		"run_id", report.RunID, "built", report.Built, "skipped", report.Skipped,
		"failed", report.Failed, "elapsed", report.Duration.Round(time.Millisecond))

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// buildAct runs one act through the pipeline. Errors are captured in the
// result rather than returned.
func (e *engine) buildAct(ctx context.Context, runID string, act source.ManifestEntry) ActResult {
	res := ActResult{ActID: act.ActID, Title: act.Title}
	fail := func(err error) ActResult {
		res.err = err
		res.Error = err.Error()
		if errors.Is(err, ErrSourceMissing) {
			slog.Warn("build: skipping act, source missing", "act_id", act.ActID, "path", act.Path)
		} else {
			slog.Error("build: act failed", "act_id", act.ActID, "error", err)
		}
		return res
	}

	if act.ActID == "" {
		return fail(fmt.Errorf("%w: manifest entry has no act id", graph.ErrInvalidSection))
	}

	if e.cfg.Force {
		replaced, err := e.dropCheckpoints(act.ActID)
		if err != nil {
			return fail(err)
		}
		res.Replaced = replaced
	} else {
		done, err := e.checkpoints.Has(act.ActID, checkpoint.StageKGReady)
		if err != nil {
			return fail(fmt.Errorf("reading checkpoint: %w", err))
		}
		if done {
			slog.Info("build: act already built, skipping", "act_id", act.ActID)
			res.Skipped = true
			return res
		}
	}

	annotated, resumed, err := e.annotated(act)
	if errors.Is(err, ErrNoSections) {
		slog.Warn("build: no sections found, skipping act", "act_id", act.ActID, "error", err)
		res.Skipped = true
		return res
	}
	if err != nil {
		return fail(err)
	}
	res.Resumed = resumed
	res.Sections = len(annotated)
	if len(annotated) > 0 && annotated[0].ActTitle != "" {
		res.Title = annotated[0].ActTitle
	}

	enrichStart := time.Now()
	enriched, est := e.batcher.Enrich(ctx, annotated)
	res.LLMUsed = est.LLMUsed
	slog.Info("build: enrichment complete",
		"act_id", act.ActID, "sections", est.Sections, "batches", est.Batches,
		"failed_batches", est.FailedBatches, "llm_used", est.LLMUsed,
		"elapsed", time.Since(enrichStart).Round(time.Millisecond))
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	ust, err := e.upserter.UpsertAll(ctx, enriched)
	res.Written, res.Failed = ust.Written, ust.Failed
	if err != nil {
		return fail(err)
	}

	if res.Title != "" {
		if err := e.graph.SetActTitle(ctx, act.ActID, res.Title); err != nil {
			slog.Warn("build: setting act title failed", "act_id", act.ActID, "error", err)
		}
	}

	if err := e.checkpoints.Put(act.ActID, checkpoint.StageKGReady, checkpoint.Marker{
		RunID:       runID,
		ActID:       act.ActID,
		Sections:    ust.Written,
		Failed:      ust.Failed,
		CompletedAt: time.Now().UTC(),
	}); err != nil {
		slog.Warn("build: writing kg_ready checkpoint failed", "act_id", act.ActID, "error", err)
	}

	slog.Info("build: act ready",
		"run_id", runID, "act_id", act.ActID, "sections", res.Sections, "written", res.Written)
	return res
}

// dropCheckpoints removes every stage record of an act before a forced
// rebuild, so a rebuild that fails part way is not mistaken for a finished
// one. It reports whether the act had been built before.
func (e *engine) dropCheckpoints(actID string) (bool, error) {
	stages, err := e.checkpoints.Stages(actID)
	if err != nil {
		return false, fmt.Errorf("listing checkpoints: %w", err)
	}
	if len(stages) == 0 {
		return false, nil
	}
	built := false
	for _, st := range stages {
		if st == checkpoint.StageKGReady {
			built = true
		}
	}
	slog.Info("build: forcing rebuild, dropping checkpoints", "act_id", actID, "stages", stages)
	if err := e.checkpoints.Reset(actID); err != nil {
		return false, fmt.Errorf("resetting checkpoints: %w", err)
	}
	return built, nil
}

// annotated returns the act's annotated sections, from the checkpoint when
// one exists and Force is off, otherwise by loading and segmenting.
func (e *engine) annotated(act source.ManifestEntry) ([]segment.AnnotatedSection, bool, error) {
	if !e.cfg.Force {
		var secs []segment.AnnotatedSection
		err := e.checkpoints.Get(act.ActID, checkpoint.StageAnnotated, &secs)
		if err == nil && len(secs) > 0 {
			slog.Info("build: resuming from annotated checkpoint", "act_id", act.ActID, "sections", len(secs))
			return secs, true, nil
		}
		if err != nil && !errors.Is(err, checkpoint.ErrNotFound) {
			slog.Warn("build: unreadable checkpoint, rebuilding", "act_id", act.ActID, "error", err)
		}
	}

	lines, err := loadLines(act.Path)
	if err != nil {
		return nil, false, err
	}

	if act.Title == "" {
		act.Title = source.ExtractActTitle(lines)
	}
	if act.Year == 0 {
		act.Year = source.TitleYear(act.Title)
	}

	segmented := e.segmenter.Segment(act, lines)
	if len(segmented) == 0 {
		return nil, false, fmt.Errorf("%w: act %s (%d lines)", ErrNoSections, act.ActID, len(lines))
	}
	if err := e.checkpoints.Put(act.ActID, checkpoint.StageSegmented, segmented); err != nil {
		slog.Warn("build: writing segmented checkpoint failed", "act_id", act.ActID, "error", err)
	}

	annotated := make([]segment.AnnotatedSection, len(segmented))
	amended := 0
	for i, s := range segmented {
		annotated[i] = segment.Annotate(s)
		if annotated[i].HasFlag(segment.FlagHasAmendments) {
			amended++
		}
	}
	if err := e.checkpoints.Put(act.ActID, checkpoint.StageAnnotated, annotated); err != nil {
		slog.Warn("build: writing annotated checkpoint failed", "act_id", act.ActID, "error", err)
	}

	slog.Info("build: segmented act",
		"act_id", act.ActID, "lines", len(lines), "sections", len(segmented),
		"amended", amended, "title", act.Title, "year", act.Year)
	return annotated, false, nil
}

// loadLines reads an act's line records from a PDF or a JSONL line file.
func loadLines(path string) ([]source.Line, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no file path", ErrSourceMissing)
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceMissing, path)
		}
		return nil, fmt.Errorf("checking source: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return source.ExtractPDFLines(path)
	case ".jsonl":
		return source.ReadLines(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// Link runs the Linker passes.
func (e *engine) Link(ctx context.Context) (*graph.LinkStats, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	return e.linker.Run(ctx)
}

// LinkActs relinks after an incremental build. Only acts built for the
// first time should be passed; their sections were never counted.
func (e *engine) LinkActs(ctx context.Context, actIDs []string) (*graph.LinkStats, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	return e.linker.RunActs(ctx, actIDs)
}

// Index embeds every act, section and entity.
func (e *engine) Index(ctx context.Context) (*vector.IndexStats, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	return e.vectors.Index(ctx, e.graph)
}

// Query runs the retrieval cascade and records it in the query log.
func (e *engine) Query(ctx context.Context, question string) (*retrieval.Evidence, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidConfig)
	}

	start := time.Now()
	ev, err := e.retriever.Retrieve(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("retrieval: %w", err)
	}

	if err := e.db.LogQuery(ctx, store.QueryLog{
		Query:      question,
		Tier:       ev.Tier,
		SectionIDs: ev.SectionIDs(),
		NoEvidence: ev.NoEvidence,
		DurationMs: time.Since(start).Milliseconds(),
	}); err != nil {
		slog.Warn("query: logging failed", "error", err)
	}
	return ev, nil
}

// Stats returns graph and vector counts.
func (e *engine) Stats(ctx context.Context) (*Stats, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	gs, err := e.graph.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph stats: %w", err)
	}
	vs, err := e.vectors.Counts(ctx)
	if err != nil {
		return nil, fmt.Errorf("vector counts: %w", err)
	}
	return &Stats{Graph: gs, Vectors: vs}, nil
}

// RecentQueries reads the query log.
func (e *engine) RecentQueries(ctx context.Context, limit int) ([]store.QueryLog, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	return e.db.RecentQueries(ctx, limit)
}

// Close releases the stores. It is safe to call more than once.
func (e *engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var errs []error
	if e.graph != nil && e.graph != graphBackend(e.db) {
		errs = append(errs, e.graph.Close())
	}
	if e.ownsCkpt && e.checkpoints != nil {
		errs = append(errs, e.checkpoints.Close())
	}
	if e.db != nil {
		errs = append(errs, e.db.Close())
	}
	return errors.Join(errs...)
}
