package credmesh

import (
	"sync"
	"testing"
	"time"

	"github.com/credmesh/credmesh/amount"
	"github.com/credmesh/credmesh/channeler"
	"github.com/credmesh/credmesh/funder"
	"github.com/credmesh/credmesh/funderdb"
	"github.com/credmesh/credmesh/identity"
	"github.com/credmesh/credmesh/report"
	"github.com/credmesh/credmesh/wire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
)

// mockChanneler records every command the server issues and lets the test
// inject events.
type mockChanneler struct {
	mtx sync.Mutex

	events chan channeler.Event

	updatedFriends []wire.PublicKey
	removedFriends []wire.PublicKey
	sentMessages   []wire.Message
}

var _ channeler.Channeler = (*mockChanneler)(nil)

func newMockChanneler() *mockChanneler {
	return &mockChanneler{
		events: make(chan channeler.Event, 16),
	}
}

func (m *mockChanneler) SetAddress(relays []wire.NamedRelayAddress) {}

func (m *mockChanneler) UpdateFriend(pk wire.PublicKey,
	relays []wire.RelayAddress) {

	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.updatedFriends = append(m.updatedFriends, pk)
}

func (m *mockChanneler) RemoveFriend(pk wire.PublicKey) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.removedFriends = append(m.removedFriends, pk)
}

func (m *mockChanneler) SendMessage(pk wire.PublicKey, msg wire.Message) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.sentMessages = append(m.sentMessages, msg)
}

func (m *mockChanneler) Events() <-chan channeler.Event {
	return m.events
}

func (m *mockChanneler) numUpdatedFriends() int {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return len(m.updatedFriends)
}

type serverHarness struct {
	server    *Server
	db        *funderdb.DB
	chanler   *mockChanneler
	forceTick *ticker.Force
	app       *App
	snapshot  *report.FunderReport
}

func newServerHarness(t *testing.T, dbPath string) *serverHarness {
	t.Helper()

	id, err := identity.New()
	require.NoError(t, err)

	db, err := funderdb.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})

	chanler := newMockChanneler()
	forceTick := ticker.NewForce(time.Hour)
	server, err := NewServer(&ServerConfig{
		Identity:       id,
		DB:             db,
		Channeler:      chanler,
		HandlerConfig:  funder.DefaultConfig(),
		SnapshotTicker: forceTick,
		Clock:          clock.NewTestClock(time.Unix(1000, 0)),
	})
	require.NoError(t, err)
	require.NoError(t, server.Start())
	t.Cleanup(server.Stop)

	app, snapshot, err := server.RegisterApp()
	require.NoError(t, err)

	return &serverHarness{
		server:    server,
		db:        db,
		chanler:   chanler,
		forceTick: forceTick,
		app:       app,
		snapshot:  snapshot,
	}
}

// awaitResponse reads the app's update stream until the control response
// for requestID arrives.
func (h *serverHarness) awaitResponse(t *testing.T,
	requestID wire.Uid) error {

	t.Helper()

	timeout := time.After(time.Second * 5)
	for {
		select {
		case update := <-h.app.Updates():
			resp, ok := update.(*funder.ControlResponse)
			if ok && resp.RequestID == requestID {
				return resp.Err
			}
		case <-timeout:
			t.Fatalf("no control response within timeout")
		}
	}
}

func TestServerCommandsAndRestart(t *testing.T) {
	t.Parallel()

	dbPath := t.TempDir()
	harness := newServerHarness(t, dbPath)
	require.Empty(t, harness.snapshot.Friends)

	friendID, err := identity.New()
	require.NoError(t, err)
	friendPK := friendID.PublicKey()

	requestID, err := harness.app.SendCommand(&funder.CmdAddFriend{
		PublicKey: friendPK,
		Name:      "bob",
		Relays: []wire.RelayAddress{
			{PublicKey: friendPK, Address: "localhost:9999"},
		},
	})
	require.NoError(t, err)
	require.NoError(t, harness.awaitResponse(t, requestID))

	requestID, err = harness.app.SendCommand(&funder.CmdSetFriendStatus{
		PublicKey: friendPK,
		Status:    funder.FriendEnabled,
	})
	require.NoError(t, err)
	require.NoError(t, harness.awaitResponse(t, requestID))

	// Enabling the friend reconfigured the channeler.
	require.Equal(t, 1, harness.chanler.numUpdatedFriends())

	// Every mutation batch was persisted before the responses arrived.
	numEntries, err := harness.db.NumLogEntries()
	require.NoError(t, err)
	require.NotZero(t, numEntries)

	// A forced snapshot prunes the log.
	harness.forceTick.Force <- time.Unix(1060, 0)
	require.Eventually(t, func() bool {
		numEntries, err := harness.db.NumLogEntries()
		return err == nil && numEntries == 0
	}, time.Second*5, time.Millisecond*10)

	// A duplicate add surfaces as a typed control error.
	requestID, err = harness.app.SendCommand(&funder.CmdAddFriend{
		PublicKey: friendPK,
		Name:      "bob again",
	})
	require.NoError(t, err)
	require.ErrorIs(
		t, harness.awaitResponse(t, requestID),
		funder.ErrFriendAlreadyExists,
	)

	// Restarting over the same database restores the friend and
	// reconnects it.
	harness.server.Stop()
	harness.db.Close()

	restarted := newServerHarness(t, dbPath)
	defer restarted.server.Stop()

	// The restarted harness has its own identity but the state on disk
	// wins; the friend must be there with its configuration.
	friendReport, ok := restarted.snapshot.Friends[friendPK]
	require.True(t, ok, "friend lost across restart")
	require.Equal(t, "bob", friendReport.Name)
	require.Equal(t, funder.FriendEnabled, friendReport.Status)
	require.Equal(t, 1, restarted.chanler.numUpdatedFriends())
}

func TestServerReportStream(t *testing.T) {
	t.Parallel()

	harness := newServerHarness(t, t.TempDir())

	friendID, err := identity.New()
	require.NoError(t, err)
	friendPK := friendID.PublicKey()

	requestID, err := harness.app.SendCommand(&funder.CmdAddFriend{
		PublicKey: friendPK,
		Name:      "carol",
		Balance:   amount.BalanceFromInt64(5),
	})
	require.NoError(t, err)

	// The stream carries the friend's report mutation before the
	// control response.
	var sawFriend bool
	timeout := time.After(time.Second * 5)
	for {
		var update interface{}
		select {
		case update = <-harness.app.Updates():
		case <-timeout:
			t.Fatalf("no control response within timeout")
		}

		if setFriend, ok := update.(*report.SetFriend); ok {
			require.Equal(t, friendPK, setFriend.PublicKey)
			require.Equal(t, "carol", setFriend.Report.Name)
			sawFriend = true
		}
		if resp, ok := update.(*funder.ControlResponse); ok &&
			resp.RequestID == requestID {

			require.NoError(t, resp.Err)
			break
		}
	}
	require.True(t, sawFriend, "report mutation missing from stream")

	// Liveness events reach the stream as well.
	harness.chanler.events <- &channeler.OnlineEvent{PublicKey: friendPK}
	timeout = time.After(time.Second * 5)
	for {
		var update interface{}
		select {
		case update = <-harness.app.Updates():
		case <-timeout:
			t.Fatalf("no liveness report within timeout")
		}
		if online, ok := update.(*report.SetFriendOnline); ok {
			require.True(t, online.Online)
			return
		}
	}
}
