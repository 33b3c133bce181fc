// Package checkpoint persists per-act stage records so a build can resume
// without repeating finished work.
package checkpoint

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// Stage names one step of the per-act pipeline.
type Stage string

const (
	StageSegmented Stage = "segmented"
	StageAnnotated Stage = "annotated"
	StageKGReady   Stage = "kg_ready"
)

// ErrNotFound is returned by Get when no record exists for the act and stage.
var ErrNotFound = errors.New("checkpoint: not found")

const keyPrefix = "ckpt/"

// Marker is the record stored for StageKGReady.
type Marker struct {
	RunID       string    `msgpack:"run_id"`
	ActID       string    `msgpack:"act_id"`
	Sections    int       `msgpack:"sections"`
	Failed      int       `msgpack:"failed"`
	CompletedAt time.Time `msgpack:"completed_at"`
}

// Store is a Badger-backed checkpoint store.
type Store struct {
	db *badger.DB
}

// Open opens or creates a checkpoint store in dir.
func Open(dir string) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a store that lives only for the process.
func OpenInMemory() (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func stageKey(actID string, stage Stage) []byte {
	return []byte(keyPrefix + actID + "/" + string(stage))
}

func actPrefix(actID string) []byte {
	return []byte(keyPrefix + actID + "/")
}

// Put stores v as the act's record for stage, replacing any earlier one.
func (s *Store) Put(actID string, stage Stage, v any) error {
	if actID == "" {
		return errors.New("checkpoint: empty act id")
	}
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", actID, stage, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stageKey(actID, stage), data)
	})
}

// Get decodes the act's record for stage into v.
func (s *Store) Get(actID string, stage Stage, v any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stageKey(actID, stage))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := msgpack.Unmarshal(val, v); err != nil {
				return fmt.Errorf("decode %s/%s: %w", actID, stage, err)
			}
			return nil
		})
	})
}

// Has reports whether a record exists for the act and stage.
func (s *Store) Has(actID string, stage Stage) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(stageKey(actID, stage))
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Stages lists the stages recorded for an act, in key order.
func (s *Store) Stages(actID string) ([]Stage, error) {
	prefix := actPrefix(actID)
	var stages []Stage
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			stages = append(stages, Stage(strings.TrimPrefix(key, string(prefix))))
		}
		return nil
	})
	return stages, err
}

// Reset removes every stage record of an act.
func (s *Store) Reset(actID string) error {
	return s.db.DropPrefix(actPrefix(actID))
}
