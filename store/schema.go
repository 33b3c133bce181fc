package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Graph nodes
CREATE TABLE IF NOT EXISTS acts (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    year INTEGER NOT NULL DEFAULT 0,
    act_number INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sections (
    id TEXT PRIMARY KEY,
    act_id TEXT NOT NULL REFERENCES acts(id),
    section_no TEXT NOT NULL,
    citation TEXT NOT NULL DEFAULT '',
    heading TEXT NOT NULL DEFAULT '',
    text TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL DEFAULT '',
    chapter TEXT NOT NULL DEFAULT '',
    pages JSON,
    has_llm INTEGER NOT NULL DEFAULT 0,
    llm_model TEXT NOT NULL DEFAULT '',
    severity_score INTEGER,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS defined_terms (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    act_id TEXT NOT NULL,
    section_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS roles (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS obligations (
    id TEXT PRIMARY KEY,
    section_id TEXT NOT NULL,
    actor TEXT NOT NULL DEFAULT '',
    action TEXT NOT NULL DEFAULT '',
    conditions TEXT NOT NULL DEFAULT '',
    source_span TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS powers (
    id TEXT PRIMARY KEY,
    section_id TEXT NOT NULL,
    actor TEXT NOT NULL DEFAULT '',
    action TEXT NOT NULL DEFAULT '',
    conditions TEXT NOT NULL DEFAULT '',
    source_span TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS penalties (
    id TEXT PRIMARY KEY,
    section_id TEXT NOT NULL,
    subject TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    imprisonment TEXT NOT NULL DEFAULT '',
    fine_amount TEXT NOT NULL DEFAULT '',
    source_span TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS rights (
    id TEXT PRIMARY KEY,
    section_id TEXT NOT NULL,
    holder TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    conditions TEXT NOT NULL DEFAULT '',
    source_span TEXT NOT NULL DEFAULT ''
);

-- Graph edges, one row per (src, rel, dst). count is used by CO_OCCURS_WITH.
CREATE TABLE IF NOT EXISTS edges (
    src TEXT NOT NULL,
    rel TEXT NOT NULL,
    dst TEXT NOT NULL,
    count INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (src, rel, dst)
);

-- Citations recorded at upsert time, resolved into CITES edges by the linker
CREATE TABLE IF NOT EXISTS citations (
    source_id TEXT NOT NULL,
    raw TEXT NOT NULL,
    section_no TEXT NOT NULL,
    source_act_id TEXT NOT NULL,
    target_act_id TEXT NOT NULL DEFAULT '',
    target_section_id TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (source_id, raw, section_no)
);

-- Full-text search over sections via FTS5
CREATE VIRTUAL TABLE IF NOT EXISTS sections_fts USING fts5(
    heading,
    summary,
    text,
    content='sections',
    content_rowid='rowid',
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS sections_ai AFTER INSERT ON sections BEGIN
    INSERT INTO sections_fts(rowid, heading, summary, text) VALUES (new.rowid, new.heading, new.summary, new.text);
END;
CREATE TRIGGER IF NOT EXISTS sections_ad AFTER DELETE ON sections BEGIN
    INSERT INTO sections_fts(sections_fts, rowid, heading, summary, text) VALUES ('delete', old.rowid, old.heading, old.summary, old.text);
END;
CREATE TRIGGER IF NOT EXISTS sections_au AFTER UPDATE OF heading, summary, text ON sections BEGIN
    INSERT INTO sections_fts(sections_fts, rowid, heading, summary, text) VALUES ('delete', old.rowid, old.heading, old.summary, old.text);
    INSERT INTO sections_fts(rowid, heading, summary, text) VALUES (new.rowid, new.heading, new.summary, new.text);
END;

-- Vector records, one vec0 table per collection keyed by vector_records.id
CREATE TABLE IF NOT EXISTS vector_records (
    id INTEGER PRIMARY KEY,
    collection TEXT NOT NULL,
    ref_id TEXT NOT NULL,
    label TEXT NOT NULL,
    document TEXT NOT NULL,
    metadata JSON,
    UNIQUE(collection, ref_id)
);

CREATE VIRTUAL TABLE IF NOT EXISTS vec_sections USING vec0(
    id INTEGER PRIMARY KEY,
    embedding float[%[1]d] distance_metric=cosine
);
CREATE VIRTUAL TABLE IF NOT EXISTS vec_acts USING vec0(
    id INTEGER PRIMARY KEY,
    embedding float[%[1]d] distance_metric=cosine
);
CREATE VIRTUAL TABLE IF NOT EXISTS vec_entities USING vec0(
    id INTEGER PRIMARY KEY,
    embedding float[%[1]d] distance_metric=cosine
);

-- Query audit log
CREATE TABLE IF NOT EXISTS query_log (
    id INTEGER PRIMARY KEY,
    query TEXT NOT NULL,
    tier TEXT,
    section_ids JSON,
    no_evidence INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_sections_act ON sections(act_id);
CREATE INDEX IF NOT EXISTS idx_terms_name ON defined_terms(name);
CREATE INDEX IF NOT EXISTS idx_obligations_section ON obligations(section_id);
CREATE INDEX IF NOT EXISTS idx_powers_section ON powers(section_id);
CREATE INDEX IF NOT EXISTS idx_penalties_section ON penalties(section_id);
CREATE INDEX IF NOT EXISTS idx_rights_section ON rights(section_id);
CREATE INDEX IF NOT EXISTS idx_edges_dst ON edges(dst, rel);
CREATE INDEX IF NOT EXISTS idx_edges_rel ON edges(rel);
CREATE INDEX IF NOT EXISTS idx_vector_records_collection ON vector_records(collection);
`, embeddingDim)
}
