package quorumvote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"

	bolt "go.etcd.io/bbolt"
)

// NewBoltHistoryStore opens or creates the history database in DataDir
func NewBoltHistoryStore(options BoltOptions) (*BoltHistoryStore, error) {
	var (
		db  *bolt.DB
		err error
	)
	if options.DataDir == "" {
		return nil, ErrDataDirRequired
	}
	if options.Options == nil {
		options.Options = bolt.DefaultOptions
	}
	dbdir := filepath.Join(options.DataDir, "db")
	if err := createDirectoryIfNotExist(dbdir, 0750); err != nil {
		return nil, fmt.Errorf("fail to create directory %s: %w", dbdir, err)
	}
	if db, err = bolt.Open(filepath.Join(dbdir, dbFileName), 0600, options.Options); err != nil {
		return nil, err
	}

	store := &BoltHistoryStore{
		dataDir: options.DataDir,
		db:      db,
	}

	if !options.Options.ReadOnly {
		if err := store.initializeBuckets(); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return store, nil
}

// initializeBuckets will initialize all buckets
// required by the history
func (b *BoltHistoryStore) initializeBuckets() error {
	tx, err := b.db.Begin(true)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.CreateBucketIfNotExists([]byte(bucketHistoryName)); err != nil {
		return err
	}
	return tx.Commit()
}

// Close will close bolt database
func (b *BoltHistoryStore) Close() error {
	return b.db.Close()
}

// historyKey sorts entries of a run by generation
func historyKey(runID string, generation int) []byte {
	return fmt.Appendf(nil, "%s/%010d", runID, generation)
}

// Append stores a generation conclusion
func (b *BoltHistoryStore) Append(entry HistoryEntry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	tx, err := b.db.Begin(true)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	bucket := tx.Bucket([]byte(bucketHistoryName))
	if err := bucket.Put(historyKey(entry.RunID, entry.Generation), value); err != nil {
		return err
	}
	return tx.Commit()
}

// Get return the entry of the provided run and generation
func (b *BoltHistoryStore) Get(runID string, generation int) (HistoryEntry, error) {
	var entry HistoryEntry
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketHistoryName))
		value := bucket.Get(historyKey(runID, generation))
		if value == nil {
			return ErrNotFound
		}
		return json.Unmarshal(value, &entry)
	})
	return entry, err
}

// List return the entries of the provided run ordered by generation
func (b *BoltHistoryStore) List(runID string) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	err := b.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket([]byte(bucketHistoryName)).Cursor()
		prefix := []byte(runID + "/")

		k, v := cursor.Seek(prefix)
		if runID == "" {
			k, v = cursor.First()
		}
		for ; k != nil; k, v = cursor.Next() {
			if runID != "" && !bytes.HasPrefix(k, prefix) {
				break
			}
			var entry HistoryEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if runID == "" {
		slices.SortStableFunc(entries, compareHistoryEntries)
	}
	return entries, nil
}
