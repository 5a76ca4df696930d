package funderdb

import (
	"bytes"
	"testing"

	"github.com/credmesh/credmesh/amount"
	"github.com/credmesh/credmesh/funder"
	"github.com/credmesh/credmesh/wire"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("unable to open db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func encodeState(t *testing.T, state *funder.FunderState) []byte {
	t.Helper()

	var b bytes.Buffer
	if err := funder.EncodeFunderState(&b, state); err != nil {
		t.Fatalf("unable to encode state: %v", err)
	}
	return b.Bytes()
}

func TestRestoreEmptyDB(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	if _, err := db.Restore(); err != ErrNoState {
		t.Fatalf("expected ErrNoState, got %v", err)
	}
}

func TestSnapshotReplayRecovery(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)

	var localPK, friendPK wire.PublicKey
	localPK[0] = 0x02
	friendPK[0] = 0x03
	state := funder.NewFunderState(localPK, nil)

	// Initial snapshot of the fresh state.
	if err := db.PutSnapshot(state); err != nil {
		t.Fatalf("unable to snapshot: %v", err)
	}

	// Apply and append a couple of mutation batches, as the handler
	// would.
	batches := [][]funder.FunderMutation{
		{
			&funder.AddFriend{PublicKey: friendPK, Name: "bob"},
		},
		{
			&funder.FriendFunderMutation{
				PublicKey: friendPK,
				Mutation: &funder.SetWantedRemoteMaxDebt{
					Debt: amount.FromUint64(100),
				},
			},
			&funder.FriendFunderMutation{
				PublicKey: friendPK,
				Mutation: &funder.SetStatus{
					Status: funder.FriendEnabled,
				},
			},
		},
	}
	for _, batch := range batches {
		for _, mutation := range batch {
			state.Mutate(mutation)
		}
		if err := db.AppendMutations(batch); err != nil {
			t.Fatalf("unable to append mutations: %v", err)
		}
	}

	// Recovery replays the mutations over the snapshot.
	restored, err := db.Restore()
	if err != nil {
		t.Fatalf("unable to restore: %v", err)
	}
	if !bytes.Equal(encodeState(t, state), encodeState(t, restored)) {
		t.Fatalf("restored state differs from live state")
	}

	// A fresh snapshot prunes the log.
	numEntries, err := db.NumLogEntries()
	if err != nil {
		t.Fatalf("unable to count log entries: %v", err)
	}
	if numEntries != 3 {
		t.Fatalf("expected 3 log entries, got %v", numEntries)
	}
	if err := db.PutSnapshot(state); err != nil {
		t.Fatalf("unable to snapshot: %v", err)
	}
	numEntries, err = db.NumLogEntries()
	if err != nil {
		t.Fatalf("unable to count log entries: %v", err)
	}
	if numEntries != 0 {
		t.Fatalf("snapshot did not prune the log, %v entries left",
			numEntries)
	}

	// Restoring from the pruned db still yields the same state.
	restored, err = db.Restore()
	if err != nil {
		t.Fatalf("unable to restore: %v", err)
	}
	if !bytes.Equal(encodeState(t, state), encodeState(t, restored)) {
		t.Fatalf("restored state differs after pruning")
	}
}

func TestWipe(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)

	var localPK wire.PublicKey
	localPK[0] = 0x02
	state := funder.NewFunderState(localPK, nil)
	if err := db.PutSnapshot(state); err != nil {
		t.Fatalf("unable to snapshot: %v", err)
	}

	if err := db.Wipe(); err != nil {
		t.Fatalf("unable to wipe: %v", err)
	}
	if _, err := db.Restore(); err != ErrNoState {
		t.Fatalf("expected ErrNoState after wipe, got %v", err)
	}
}
