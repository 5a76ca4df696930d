package funderdb

import (
	"bytes"
	"fmt"

	"github.com/credmesh/credmesh/funder"
	bolt "go.etcd.io/bbolt"
)

var (
	// ErrNoState is returned when restoring from a database that holds
	// no snapshot yet.
	ErrNoState = fmt.Errorf("funder db holds no state snapshot")
)

// AppendMutations atomically appends a batch of mutations to the log. The
// whole batch is committed in a single transaction: after a crash either
// every mutation of a handler invocation is durable or none is.
func (d *DB) AppendMutations(mutations []funder.FunderMutation) error {
	if len(mutations) == 0 {
		return nil
	}

	return d.Update(func(tx *bolt.Tx) error {
		logBucket := tx.Bucket(mutationBucket)
		if logBucket == nil {
			return fmt.Errorf("mutation bucket not initialized")
		}

		for _, mutation := range mutations {
			index, err := logBucket.NextSequence()
			if err != nil {
				return err
			}

			var key [8]byte
			byteOrder.PutUint64(key[:], index)

			var value bytes.Buffer
			err = funder.EncodeFunderMutation(&value, mutation)
			if err != nil {
				return err
			}
			if err := logBucket.Put(key[:], value.Bytes()); err != nil {
				return err
			}
		}
		return nil
	})
}

// PutSnapshot stores a full state snapshot and prunes every log entry the
// snapshot already covers.
func (d *DB) PutSnapshot(state *funder.FunderState) error {
	var encoded bytes.Buffer
	if err := funder.EncodeFunderState(&encoded, state); err != nil {
		return err
	}

	return d.Update(func(tx *bolt.Tx) error {
		logBucket := tx.Bucket(mutationBucket)
		snapshot := tx.Bucket(snapshotBucket)
		if logBucket == nil || snapshot == nil {
			return fmt.Errorf("db buckets not initialized")
		}

		coveredIndex := logBucket.Sequence()
		if err := snapshot.Put(
			snapshotStateKey, encoded.Bytes(),
		); err != nil {
			return err
		}
		var scratch [8]byte
		byteOrder.PutUint64(scratch[:], coveredIndex)
		if err := snapshot.Put(
			snapshotIndexKey, scratch[:],
		); err != nil {
			return err
		}

		// Prune everything the snapshot covers.
		cursor := logBucket.Cursor()
		for k, _ := cursor.First(); k != nil; k, _ = cursor.Next() {
			if byteOrder.Uint64(k) > coveredIndex {
				break
			}
			if err := cursor.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// Restore rebuilds the latest durable state: the most recent snapshot with
// every mutation of a higher index replayed on top. ErrNoState is returned
// when no snapshot was ever written.
func (d *DB) Restore() (*funder.FunderState, error) {
	var state *funder.FunderState

	err := d.View(func(tx *bolt.Tx) error {
		snapshot := tx.Bucket(snapshotBucket)
		logBucket := tx.Bucket(mutationBucket)
		if snapshot == nil || logBucket == nil {
			return fmt.Errorf("db buckets not initialized")
		}

		rawState := snapshot.Get(snapshotStateKey)
		if rawState == nil {
			return ErrNoState
		}
		rawIndex := snapshot.Get(snapshotIndexKey)
		if rawIndex == nil {
			return fmt.Errorf("snapshot misses its log index")
		}
		coveredIndex := byteOrder.Uint64(rawIndex)

		decoded, err := funder.DecodeFunderState(
			bytes.NewReader(rawState),
		)
		if err != nil {
			return err
		}

		numReplayed := 0
		cursor := logBucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			if byteOrder.Uint64(k) <= coveredIndex {
				continue
			}
			mutation, err := funder.DecodeFunderMutation(
				bytes.NewReader(v),
			)
			if err != nil {
				return err
			}
			decoded.Mutate(mutation)
			numReplayed++
		}

		log.Infof("Restored funder state: %d friends, %d mutations "+
			"replayed", len(decoded.Friends), numReplayed)

		state = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}

	return state, nil
}

// NumLogEntries returns the number of mutations currently in the log.
func (d *DB) NumLogEntries() (int, error) {
	var numEntries int
	err := d.View(func(tx *bolt.Tx) error {
		logBucket := tx.Bucket(mutationBucket)
		if logBucket == nil {
			return fmt.Errorf("mutation bucket not initialized")
		}
		numEntries = logBucket.Stats().KeyN
		return nil
	})
	return numEntries, err
}
