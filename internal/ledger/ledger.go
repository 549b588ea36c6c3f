// Package ledger records which (chunk, hmac) pairs a send worker has
// already handed to the transport, so a restarted worker does not
// re-announce a half-sent file (SPEC_FULL §B). This has no direct
// counterpart in spec.md's in-memory SendQueue; it is a durability layer
// sitting alongside it, backed by the teacher's embedded key/value store.
//
// Grounded on daemon/manager/store.go's bucket-per-concern boltdb usage,
// rewritten from peer/transfer records to sent-chunk records keyed by run.
package ledger

import (
	"bytes"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"
)

var sentBucket = []byte("sent_chunks")

// Ledger is a durable record of which chunks a given run has already
// transmitted, keyed by runID (the orchestrator's per-run identifier) and
// chunk name.
type Ledger struct {
	db *bolt.DB
}

// Open opens (creating if absent) the boltdb file at path.
func Open(path string) (*Ledger, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening ledger %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sentBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing ledger buckets: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close releases the underlying boltdb file.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func key(runID, chunkName string) []byte {
	return []byte(runID + "\x00" + chunkName)
}

// MarkSent records that chunkName has been fully handed to the transport
// for runID. Idempotent: marking the same chunk twice is not an error.
func (l *Ledger) MarkSent(runID, chunkName string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sentBucket)
		return b.Put(key(runID, chunkName), []byte{1})
	})
}

// WasSent reports whether chunkName was already marked sent for runID, so
// a restarted send worker can skip re-transmitting it.
func (l *Ledger) WasSent(runID, chunkName string) (bool, error) {
	var sent bool
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(sentBucket)
		sent = b.Get(key(runID, chunkName)) != nil
		return nil
	})
	return sent, err
}

// ForgetRun deletes every sent-chunk record for runID. The orchestrator
// calls it whenever a run ends, whether the run succeeded or failed.
func (l *Ledger) ForgetRun(runID string) error {
	prefix := []byte(runID + "\x00")
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sentBucket)
		c := b.Cursor()
		var toDelete [][]byte
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
