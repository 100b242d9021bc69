// Package audit is a write-mostly, embedded record of what happened
// during a Decide() run: one bucket per run id, holding small JSON
// records in arrival order. It exists purely for post-hoc inspection —
// nothing in the protocol engine ever reads it back, so it plays no part
// in recovery or correctness.
package audit

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Event is one audit record. Kind is one of the Kind* constants below;
// the remaining fields are populated according to Kind.
type Event struct {
	Seq       uint64    `json:"seq"`
	Time      time.Time `json:"time"`
	Kind      string    `json:"kind"`
	Round     uint32    `json:"round,omitempty"`
	Admitted  int       `json:"admitted,omitempty"`
	TimedOut  bool      `json:"timed_out,omitempty"`
	Decision  string    `json:"decision,omitempty"`
	Recipient string    `json:"recipient,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

const (
	KindFanOut          = "fan_out"
	KindRoundTransition = "round_transition"
	KindDecision        = "decision"
)

// Journal is a handle to the on-disk audit database, scoped to a single
// run id.
type Journal struct {
	db    *bolt.DB
	runID string
}

// Open opens (creating if absent) the bbolt database at path and returns
// a Journal scoped to runID. The caller must Close it when the run ends.
func Open(path, runID string) (*Journal, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("audit: opening %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName(runID))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: creating bucket for run %s: %w", runID, err)
	}
	return &Journal{db: db, runID: runID}, nil
}

// Close releases the underlying database handle.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Append records one event. Failures are never fatal to the caller: the
// protocol roles discard the returned error, since the journal is
// observability, not correctness.
func (j *Journal) Append(ev Event) error {
	if j == nil || j.db == nil {
		return nil
	}
	ev.Time = ev.Time.UTC()
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(j.runID))
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		ev.Seq = seq
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), payload)
	})
}

// Events returns every recorded event for runID in the database at path,
// oldest first.
func Events(path, runID string) ([]Event, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("audit: opening %s: %w", path, err)
	}
	defer db.Close()

	var events []Event
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(runID))
		if b == nil {
			return fmt.Errorf("audit: no records for run %s", runID)
		}
		return b.ForEach(func(k, v []byte) error {
			var ev Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			events = append(events, ev)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func bucketName(runID string) []byte {
	return []byte("run:" + runID)
}

func seqKey(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}
