// Package store is the SQLite backend: the property graph as relational
// tables, an FTS5 index over sections, and one sqlite-vec collection per
// vector index.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/brunobiangulo/lexgraph/graph"
	"github.com/brunobiangulo/lexgraph/vector"
)

func init() {
	sqlite_vec.Auto()
}

var (
	_ graph.Store  = (*Store)(nil)
	_ vector.Store = (*Store)(nil)
)

// QueryLog is a row in the query_log table.
type QueryLog struct {
	Query      string   `json:"query"`
	Tier       string   `json:"tier"`
	SectionIDs []string `json:"section_ids"`
	NoEvidence bool     `json:"no_evidence"`
	DurationMs int64    `json:"duration_ms"`
}

// Store wraps the SQLite database for all lexgraph persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including sqlite-vec and FTS5 virtual tables.
func New(dbPath string, embeddingDim int) (*Store, error) {
	if embeddingDim <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", embeddingDim)
	}

	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// LogQuery appends a retrieval to the audit log.
func (s *Store) LogQuery(ctx context.Context, q QueryLog) error {
	ids, _ := json.Marshal(q.SectionIDs)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_log (query, tier, section_ids, no_evidence, duration_ms)
		VALUES (?, ?, ?, ?, ?)
	`, q.Query, q.Tier, string(ids), q.NoEvidence, q.DurationMs)
	return err
}

// RecentQueries returns the newest query log entries first.
func (s *Store) RecentQueries(ctx context.Context, limit int) ([]QueryLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT query, COALESCE(tier, ''), COALESCE(section_ids, '[]'), no_evidence, duration_ms
		FROM query_log ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QueryLog
	for rows.Next() {
		var q QueryLog
		var ids string
		if err := rows.Scan(&q.Query, &q.Tier, &ids, &q.NoEvidence, &q.DurationMs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(ids), &q.SectionIDs); err != nil {
			return nil, fmt.Errorf("decoding section ids: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// --- helpers ---

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func repeatPlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	return "?" + strings.Repeat(", ?", n-1)
}

func stringArgs(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// escapeLike escapes LIKE wildcards; queries use ESCAPE '\'.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
