// Package changelog provides bbolt-based persistence for the append-only
// mutation log. Records are grouped per scope (the primary dataset or one
// branch's isolated store) and ordered by append sequence within each scope.
package changelog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/kilupskalvis/relbranch/internal/models"
)

// bucketRecords holds one nested bucket per scope, keyed by sequence number.
var bucketRecords = []byte("records")

// DiffUpdater receives every appended record so conflict diff state can be
// kept current. The changelog calls it synchronously after a successful
// append; the implementation lives with the branch service.
type DiffUpdater interface {
	RecordMutation(record *models.MutationRecord) error
}

// Log is the append-only change record store.
type Log struct {
	db      *bolt.DB
	updater DiffUpdater
}

// Open opens or creates the changelog database at the given path.
func Open(path string) (*Log, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create changelog directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open changelog: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRecords)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize changelog: %w", err)
	}

	return &Log{db: db}, nil
}

// Close closes the underlying database.
func (l *Log) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// SetDiffUpdater registers the conflict diff hook invoked on every append.
func (l *Log) SetDiffUpdater(u DiffUpdater) {
	l.updater = u
}

// seqKey builds the key for a record within its scope bucket.
func seqKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%016d", seq))
}

// Append records a new mutation. The record's Seq is assigned from the scope
// bucket's sequence; its Time defaults to now if unset. After the record is
// durably stored, the registered DiffUpdater (if any) is invoked.
func (l *Log) Append(record *models.MutationRecord) error {
	if record.Scope == "" {
		return fmt.Errorf("append: record has no scope")
	}
	if record.Time.IsZero() {
		record.Time = time.Now().UTC()
	}

	err := l.db.Update(func(tx *bolt.Tx) error {
		scopes := tx.Bucket(bucketRecords)
		b, err := scopes.CreateBucketIfNotExists([]byte(record.Scope))
		if err != nil {
			return fmt.Errorf("create scope bucket: %w", err)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		record.Seq = seq

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		return b.Put(seqKey(seq), data)
	})
	if err != nil {
		return err
	}

	if l.updater != nil {
		if err := l.updater.RecordMutation(record); err != nil {
			return fmt.Errorf("update change diff: %w", err)
		}
	}
	return nil
}

// RecordsFor returns all records in the given scope with Time after since,
// in append order. A zero since returns the scope's full history.
func (l *Log) RecordsFor(scope string, since time.Time) ([]*models.MutationRecord, error) {
	var records []*models.MutationRecord
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords).Bucket([]byte(scope))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var rec models.MutationRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal record %s: %w", k, err)
			}
			if !since.IsZero() && !rec.Time.After(since) {
				return nil
			}
			records = append(records, &rec)
			return nil
		})
	})
	return records, err
}

// DropScope removes a scope's entire history. Called during branch teardown.
func (l *Log) DropScope(scope string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		scopes := tx.Bucket(bucketRecords)
		if scopes.Bucket([]byte(scope)) == nil {
			return nil
		}
		return scopes.DeleteBucket([]byte(scope))
	})
}
