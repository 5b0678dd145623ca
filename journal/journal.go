// Package journal records an append-only history of bootstrap state
// transitions to a small BBolt database for post-mortem diagnosis. The
// state machine's correctness never depends on reading it back; it exists
// purely for operators running `puppetssl status` after a failed run.
package journal

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var entriesBucket = []byte("entries")

// Entry is one recorded state transition.
type Entry struct {
	AttemptID string    `json:"attempt_id"`
	State     string    `json:"state"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	Time      time.Time `json:"time"`
}

// Journal is a handle on the on-disk history. bbolt locks the file
// exclusively while a handle is open, and `puppetssl bootstrap` keeps its
// handle open for the whole run, Wait sleeps included; a second Open of the
// same file, such as the one `puppetssl status` makes, waits up to Open's
// 5-second timeout and then fails while that run lasts.
type Journal struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("journal: opening %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(entriesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: initializing %s: %w", path, err)
	}
	return &Journal{db: db}, nil
}

// Close releases the underlying database file.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append records one state transition, keyed by a monotonically increasing
// bucket sequence number so entries replay in the order they occurred.
func (j *Journal) Append(entry Entry) error {
	return j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put(itob(seq), data)
	})
}

// Recent returns up to limit of the most recently appended entries, oldest
// first within the returned slice.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	var entries []Entry
	err := j.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(entries) < limit; k, v = c.Prev() {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal: reading entries: %w", err)
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}
