// Package credmesh wires the funder core to its collaborators: the
// channeler transport, the durable mutation log, and local applications.
// The core runs as a single task that owns its state exclusively; all
// collaborators exchange messages with it through ordered channels.
package credmesh

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-errors/errors"

	"github.com/credmesh/credmesh/channeler"
	"github.com/credmesh/credmesh/funder"
	"github.com/credmesh/credmesh/funderdb"
	"github.com/credmesh/credmesh/identity"
	"github.com/credmesh/credmesh/report"
	"github.com/credmesh/credmesh/wire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/queue"
	"github.com/lightningnetwork/lnd/ticker"
)

// ServerConfig bundles the collaborators a Server is built from. ALL
// elements within the configuration MUST be non-nil for the server to
// carry out its duties.
type ServerConfig struct {
	// Identity is the node's signing key.
	Identity *identity.Identity

	// DB is the durable mutation log.
	DB *funderdb.DB

	// Channeler is the transport towards friends.
	Channeler channeler.Channeler

	// HandlerConfig bounds the funder handler.
	HandlerConfig funder.Config

	// BootstrapRelays seeds the relay set of a node started for the
	// first time.
	BootstrapRelays []wire.NamedRelayAddress

	// SnapshotTicker paces full state snapshots.
	SnapshotTicker ticker.Ticker

	// Clock is the server's time source.
	Clock clock.Clock
}

// controlRequest carries one application command into the core task.
type controlRequest struct {
	event *funder.ControlIncoming
}

// appRegisterReq asks the core task to attach a new application.
type appRegisterReq struct {
	reply chan *appRegisterResp
}

type appRegisterResp struct {
	app      *App
	snapshot *report.FunderReport
}

// App is one connected local application: a command surface plus an update
// stream carrying report mutations and control events.
type App struct {
	server  *Server
	updates *queue.ConcurrentQueue
}

// Updates returns the application's ordered update stream. Items are
// report.Mutation, funder.ControlEvent or funder.RouteRequest values.
func (a *App) Updates() <-chan interface{} {
	return a.updates.ChanOut()
}

// SendCommand submits a control command and returns the request id its
// responses will carry.
func (a *App) SendCommand(cmd funder.ControlCommand) (wire.Uid, error) {
	requestID, err := wire.RandomUid()
	if err != nil {
		return wire.Uid{}, err
	}

	req := &controlRequest{
		event: &funder.ControlIncoming{
			RequestID: requestID,
			Command:   cmd,
		},
	}
	select {
	case a.server.controlRequests <- req:
		return requestID, nil
	case <-a.server.quit:
		return wire.Uid{}, errors.New("server shutting down")
	}
}

// Server drives the funder core: it owns the state, serializes all ingress
// events, persists every mutation batch before any resulting message
// leaves the node, and fans report mutations out to applications.
type Server struct {
	started  int32
	shutdown int32

	cfg *ServerConfig

	handler   *funder.Handler
	state     *funder.FunderState
	ephemeral *funder.Ephemeral

	lastSnapshot time.Time

	controlRequests chan *controlRequest
	appRegister     chan *appRegisterReq
	apps            []*App

	wg   sync.WaitGroup
	quit chan struct{}
}

// NewServer restores the node's durable state, creating and snapshotting a
// fresh one on first start, and prepares the core task.
func NewServer(cfg *ServerConfig) (*Server, error) {
	state, err := cfg.DB.Restore()
	switch err {
	case nil:

	case funderdb.ErrNoState:
		state = funder.NewFunderState(
			cfg.Identity.PublicKey(), cfg.BootstrapRelays,
		)
		if err := cfg.DB.PutSnapshot(state); err != nil {
			return nil, err
		}
		srvrLog.Infof("Initialized fresh funder state for %v",
			cfg.Identity.PublicKey())

	default:
		return nil, err
	}

	return &Server{
		cfg:             cfg,
		handler:         funder.NewHandler(cfg.Identity, cfg.HandlerConfig),
		state:           state,
		ephemeral:       funder.NewEphemeral(),
		lastSnapshot:    cfg.Clock.Now(),
		controlRequests: make(chan *controlRequest),
		appRegister:     make(chan *appRegisterReq),
		quit:            make(chan struct{}),
	}, nil
}

// Start launches the core task and reconnects every enabled friend.
func (s *Server) Start() error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return nil
	}

	// Reconnect every enabled friend known from the restored state.
	s.cfg.Channeler.SetAddress(s.state.Relays)
	for pk, friend := range s.state.Friends {
		if friend.Status == funder.FriendEnabled {
			s.cfg.Channeler.UpdateFriend(pk, friend.Relays)
		}
	}

	s.cfg.SnapshotTicker.Resume()
	s.wg.Add(1)
	go s.mainLoop()

	return nil
}

// Stop signals the core task for a graceful shutdown and waits for it to
// exit. An event in flight either commits fully or is discarded.
func (s *Server) Stop() {
	if !atomic.CompareAndSwapInt32(&s.shutdown, 0, 1) {
		return
	}

	close(s.quit)
	s.cfg.SnapshotTicker.Stop()
	s.wg.Wait()

	for _, app := range s.apps {
		app.updates.Stop()
	}
}

// RegisterApp attaches a local application: it receives a consistent
// snapshot of the report plus the live update stream that follows it.
func (s *Server) RegisterApp() (*App, *report.FunderReport, error) {
	req := &appRegisterReq{
		reply: make(chan *appRegisterResp, 1),
	}
	select {
	case s.appRegister <- req:
	case <-s.quit:
		return nil, nil, errors.New("server shutting down")
	}

	select {
	case resp := <-req.reply:
		return resp.app, resp.snapshot, nil
	case <-s.quit:
		return nil, nil, errors.New("server shutting down")
	}
}

// mainLoop is the single-threaded core: it owns the funder state and
// processes one event to completion before accepting the next.
func (s *Server) mainLoop() {
	defer s.wg.Done()

	for {
		select {
		case event := <-s.cfg.Channeler.Events():
			s.processEvent(channelerEventToFunder(event))

		case req := <-s.controlRequests:
			s.processEvent(req.event)

		case req := <-s.appRegister:
			s.registerApp(req)

		case <-s.cfg.SnapshotTicker.Ticks():
			s.snapshot()

		case <-s.quit:
			// Take a final snapshot so restart replays little.
			s.snapshot()
			return
		}
	}
}

// channelerEventToFunder translates transport events into funder events.
func channelerEventToFunder(event channeler.Event) funder.Event {
	switch ev := event.(type) {
	case *channeler.MessageEvent:
		return &funder.FriendIncoming{
			RemotePublicKey: ev.PublicKey,
			Message:         ev.Message,
		}
	case *channeler.OnlineEvent:
		return &funder.LivenessChange{
			PublicKey: ev.PublicKey,
			Online:    true,
		}
	case *channeler.OfflineEvent:
		return &funder.LivenessChange{
			PublicKey: ev.PublicKey,
			Online:    false,
		}
	default:
		return nil
	}
}

// processEvent runs one event through the handler, commits the resulting
// mutations to the durable log, and only then emits the outgoing messages.
// When the commit fails the whole event is abandoned: the in-memory state
// is rolled back and nothing leaves the node.
func (s *Server) processEvent(event funder.Event) {
	if event == nil {
		return
	}

	prevState := s.state.Copy()
	output, err := s.handler.Handle(s.state, s.ephemeral, event)
	if err != nil {
		srvrLog.Errorf("Unable to handle %T: %v", event, err)
		s.state = prevState
		return
	}

	// Persistence is the commit point of the whole invocation.
	if err := s.cfg.DB.AppendMutations(output.Mutations); err != nil {
		srvrLog.Errorf("Unable to persist %d mutations, abandoning "+
			"%T: %v", len(output.Mutations), event, err)
		s.state = prevState
		return
	}

	// Reconfigure the transport.
	for _, chanCfg := range output.ChannelerConfigs {
		switch c := chanCfg.(type) {
		case *funder.ChannelerSetAddress:
			s.cfg.Channeler.SetAddress(c.Relays)
		case *funder.ChannelerUpdateFriend:
			s.cfg.Channeler.UpdateFriend(c.PublicKey, c.Relays)
		case *funder.ChannelerRemoveFriend:
			s.cfg.Channeler.RemoveFriend(c.PublicKey)
		}
	}

	// Emit peer messages in submission order.
	for _, friendMessage := range output.FriendMessages {
		s.cfg.Channeler.SendMessage(
			friendMessage.PublicKey, friendMessage.Message,
		)
	}

	// Stream the observable changes to every connected application.
	for _, mutation := range report.ProjectMutations(
		s.state, output.Mutations,
	) {
		s.broadcast(mutation)
	}
	for _, ephemeralMutation := range output.EphemeralMutations {
		for _, mutation := range report.ProjectEphemeralMutation(
			ephemeralMutation,
		) {
			s.broadcast(mutation)
		}
	}
	for _, controlEvent := range output.ControlEvents {
		s.broadcast(controlEvent)
	}
	for _, routeRequest := range output.RouteRequests {
		s.broadcast(routeRequest)
	}
}

// broadcast pushes one update to every connected application.
func (s *Server) broadcast(update interface{}) {
	for _, app := range s.apps {
		app.updates.ChanIn() <- update
	}
}

// registerApp attaches an application inside the core task, so its
// snapshot is consistent with the stream that follows.
func (s *Server) registerApp(req *appRegisterReq) {
	app := &App{
		server:  s,
		updates: queue.NewConcurrentQueue(16),
	}
	app.updates.Start()
	s.apps = append(s.apps, app)

	snapshot := report.NewFunderReport(s.state)
	for pk := range snapshot.Friends {
		snapshot.Friends[pk].Online = s.ephemeral.IsOnline(pk)
	}

	req.reply <- &appRegisterResp{
		app:      app,
		snapshot: snapshot,
	}
}

// snapshot writes a full state snapshot, pruning the mutation log.
func (s *Server) snapshot() {
	if err := s.cfg.DB.PutSnapshot(s.state); err != nil {
		srvrLog.Errorf("Unable to write state snapshot: %v", err)
		return
	}

	now := s.cfg.Clock.Now()
	srvrLog.Debugf("State snapshot written after %v",
		now.Sub(s.lastSnapshot))
	s.lastSnapshot = now
}
