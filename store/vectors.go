package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/brunobiangulo/lexgraph/vector"
)

var metaKeyRe = regexp.MustCompile(`^[a-z_]+$`)

func vecTable(collection string) (string, error) {
	if !vector.ValidCollection(collection) {
		return "", fmt.Errorf("%w: %q", vector.ErrUnknownCollection, collection)
	}
	return "vec_" + collection, nil
}

// UpsertVectors writes records and their embeddings, replacing any record
// with the same ref id in the collection.
func (s *Store) UpsertVectors(ctx context.Context, collection string, recs []vector.Record) error {
	table, err := vecTable(collection)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, r := range recs {
			if len(r.Embedding) != s.embeddingDim {
				return fmt.Errorf("record %s: embedding has %d dimensions, want %d", r.RefID, len(r.Embedding), s.embeddingDim)
			}
			meta, err := json.Marshal(r.Metadata)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO vector_records (collection, ref_id, label, document, metadata)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(collection, ref_id) DO UPDATE SET
					label = excluded.label,
					document = excluded.document,
					metadata = excluded.metadata
			`, collection, r.RefID, r.Label, r.Document, string(meta)); err != nil {
				return fmt.Errorf("record %s: %w", r.RefID, err)
			}

			var id int64
			if err := tx.QueryRowContext(ctx,
				"SELECT id FROM vector_records WHERE collection = ? AND ref_id = ?",
				collection, r.RefID).Scan(&id); err != nil {
				return fmt.Errorf("record %s id: %w", r.RefID, err)
			}

			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO "+table+" (id, embedding) VALUES (?, ?)",
				id, serializeFloat32(r.Embedding)); err != nil {
				return fmt.Errorf("record %s embedding: %w", r.RefID, err)
			}
		}
		return nil
	})
}

// SearchVectors returns the k nearest records. With a filter, only records
// whose metadata matches every key are ranked.
func (s *Store) SearchVectors(ctx context.Context, collection string, query []float32, k int, filter map[string]string) ([]vector.Hit, error) {
	table, err := vecTable(collection)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	var rows *sql.Rows
	if len(filter) == 0 {
		rows, err = s.db.QueryContext(ctx, `
			SELECT v.distance, r.ref_id, r.label, COALESCE(r.metadata, '{}')
			FROM `+table+` v
			JOIN vector_records r ON r.id = v.id
			WHERE v.embedding MATCH ? AND k = ?
			ORDER BY v.distance
		`, serializeFloat32(query), k)
	} else {
		keys := make([]string, 0, len(filter))
		for key := range filter {
			if !metaKeyRe.MatchString(key) {
				return nil, fmt.Errorf("invalid metadata filter key %q", key)
			}
			keys = append(keys, key)
		}
		sort.Strings(keys)

		conds := make([]string, len(keys))
		args := []any{serializeFloat32(query), collection}
		for i, key := range keys {
			conds[i] = "json_extract(r.metadata, '$." + key + "') = ?"
			args = append(args, filter[key])
		}
		args = append(args, k)

		rows, err = s.db.QueryContext(ctx, `
			SELECT vec_distance_cosine(v.embedding, ?) AS distance, r.ref_id, r.label, COALESCE(r.metadata, '{}')
			FROM vector_records r
			JOIN `+table+` v ON v.id = r.id
			WHERE r.collection = ? AND `+strings.Join(conds, " AND ")+`
			ORDER BY distance, r.ref_id
			LIMIT ?
		`, args...)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []vector.Hit
	for rows.Next() {
		var (
			h        vector.Hit
			distance float64
			meta     string
		)
		if err := rows.Scan(&distance, &h.RefID, &h.Label, &meta); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(meta), &h.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata of %s: %w", h.RefID, err)
		}
		h.Score = 1.0 - distance
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// CountVectors returns the number of records in a collection.
func (s *Store) CountVectors(ctx context.Context, collection string) (int, error) {
	if !vector.ValidCollection(collection) {
		return 0, fmt.Errorf("%w: %q", vector.ErrUnknownCollection, collection)
	}
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vector_records WHERE collection = ?", collection).Scan(&n)
	return n, err
}
