// Package channeler moves wire messages between a node and its friends.
// The funder core talks to it through a small command surface and receives
// an ordered stream of events: attributed messages plus online/offline
// notifications.
//
// The TCP implementation in this package dials friends directly at their
// first relay address and identifies peers by an exchanged public key. The
// encrypted, relay-hopping transport is a separate deployment concern; the
// funder core is oblivious to which implementation feeds it.
package channeler

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/credmesh/credmesh/wire"
	"github.com/lightningnetwork/lnd/ticker"
)

// Event is a single channeler-to-funder notification.
type Event interface {
	channelerEvent()
}

// MessageEvent carries a peer message attributed to its sender.
type MessageEvent struct {
	PublicKey wire.PublicKey
	Message   wire.Message
}

// OnlineEvent reports a friend becoming reachable.
type OnlineEvent struct {
	PublicKey wire.PublicKey
}

// OfflineEvent reports a friend becoming unreachable.
type OfflineEvent struct {
	PublicKey wire.PublicKey
}

func (*MessageEvent) channelerEvent() {}
func (*OnlineEvent) channelerEvent()  {}
func (*OfflineEvent) channelerEvent() {}

// Channeler is the transport surface the funder drives.
type Channeler interface {
	// SetAddress replaces the relays this node is reachable through.
	SetAddress(relays []wire.NamedRelayAddress)

	// UpdateFriend asks the channeler to keep the friend reachable.
	UpdateFriend(pk wire.PublicKey, relays []wire.RelayAddress)

	// RemoveFriend drops the friend's connection and stops reconnecting.
	RemoveFriend(pk wire.PublicKey)

	// SendMessage delivers a message to a friend. Messages to a given
	// friend are delivered in submission order; messages to unreachable
	// friends are dropped.
	SendMessage(pk wire.PublicKey, msg wire.Message)

	// Events returns the ordered event stream.
	Events() <-chan Event
}

const (
	// defaultRetryInterval is how often a disconnected friend is
	// re-dialed.
	defaultRetryInterval = time.Second * 5

	// maxFrameSize bounds a single framed message on the wire.
	maxFrameSize = wire.MaxMessagePayload + 2

	// eventBufferSize bounds the funder-bound event queue.
	eventBufferSize = 64
)

// peer tracks one friend's connection state.
type peer struct {
	pk     wire.PublicKey
	relays []wire.RelayAddress

	mtx      sync.Mutex
	conn     net.Conn
	outgoing chan []byte

	quit chan struct{}
}

// TCPChanneler is a direct-dial TCP implementation of Channeler. Each
// connection starts with both sides writing their 33 byte public key,
// after which length-prefixed message frames flow in both directions.
type TCPChanneler struct {
	started  bool
	localPK  wire.PublicKey
	listener net.Listener

	retryTicker ticker.Ticker

	mtx   sync.Mutex
	peers map[wire.PublicKey]*peer

	events chan Event

	wg   sync.WaitGroup
	quit chan struct{}
}

// A compile time check to ensure TCPChanneler implements the Channeler
// interface.
var _ Channeler = (*TCPChanneler)(nil)

// NewTCPChanneler creates a channeler listening on listenAddr. An empty
// listen address disables inbound connections.
func NewTCPChanneler(localPK wire.PublicKey,
	listenAddr string) (*TCPChanneler, error) {

	c := &TCPChanneler{
		localPK:     localPK,
		retryTicker: ticker.New(defaultRetryInterval),
		peers:       make(map[wire.PublicKey]*peer),
		events:      make(chan Event, eventBufferSize),
		quit:        make(chan struct{}),
	}

	if listenAddr != "" {
		listener, err := net.Listen("tcp", listenAddr)
		if err != nil {
			return nil, err
		}
		c.listener = listener
	}

	return c, nil
}

// Start launches the accept and reconnect loops.
func (c *TCPChanneler) Start() error {
	if c.started {
		return nil
	}
	c.started = true

	if c.listener != nil {
		c.wg.Add(1)
		go c.acceptLoop()
	}

	c.retryTicker.Resume()
	c.wg.Add(1)
	go c.retryLoop()

	return nil
}

// Stop tears down all connections and waits for the loops to exit.
func (c *TCPChanneler) Stop() {
	close(c.quit)
	if c.listener != nil {
		c.listener.Close()
	}
	c.retryTicker.Stop()

	c.mtx.Lock()
	for _, p := range c.peers {
		c.teardownPeer(p)
	}
	c.mtx.Unlock()

	c.wg.Wait()
}

// Events returns the funder-bound event stream.
func (c *TCPChanneler) Events() <-chan Event {
	return c.events
}

// SetAddress is a no-op for the direct TCP transport: the listen address
// is fixed at construction. It exists to satisfy the Channeler surface the
// relay transport implements fully.
func (c *TCPChanneler) SetAddress(relays []wire.NamedRelayAddress) {}

// UpdateFriend registers or updates a friend. The reconnect loop dials it on
// its next retry tick.
func (c *TCPChanneler) UpdateFriend(pk wire.PublicKey,
	relays []wire.RelayAddress) {

	c.mtx.Lock()
	defer c.mtx.Unlock()

	if existing, ok := c.peers[pk]; ok {
		existing.mtx.Lock()
		existing.relays = append([]wire.RelayAddress(nil), relays...)
		existing.mtx.Unlock()
		return
	}
	c.peers[pk] = &peer{
		pk:     pk,
		relays: append([]wire.RelayAddress(nil), relays...),
		quit:   make(chan struct{}),
	}
}

// RemoveFriend drops a friend.
func (c *TCPChanneler) RemoveFriend(pk wire.PublicKey) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if p, ok := c.peers[pk]; ok {
		c.teardownPeer(p)
		delete(c.peers, pk)
	}
}

// SendMessage frames and queues a message towards a friend.
func (c *TCPChanneler) SendMessage(pk wire.PublicKey, msg wire.Message) {
	c.mtx.Lock()
	p, ok := c.peers[pk]
	c.mtx.Unlock()
	if !ok {
		log.Warnf("Dropping %T to unknown friend %v", msg, pk)
		return
	}

	var payload bytes.Buffer
	if _, err := wire.WriteMessage(&payload, msg, 0); err != nil {
		log.Errorf("Unable to encode %T for %v: %v", msg, pk, err)
		return
	}

	p.mtx.Lock()
	outgoing := p.outgoing
	p.mtx.Unlock()
	if outgoing == nil {
		log.Debugf("Dropping %T to offline friend %v", msg, pk)
		return
	}

	select {
	case outgoing <- payload.Bytes():
	case <-c.quit:
	}
}

// notify pushes an event towards the funder.
func (c *TCPChanneler) notify(event Event) {
	select {
	case c.events <- event:
	case <-c.quit:
	}
}

// teardownPeer closes a peer's connection. The caller holds c.mtx.
func (c *TCPChanneler) teardownPeer(p *peer) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	close(p.quit)
	p.quit = make(chan struct{})
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
		p.outgoing = nil
	}
}

// acceptLoop handles inbound connections.
func (c *TCPChanneler) acceptLoop() {
	defer c.wg.Done()

	for {
		conn, err := c.listener.Accept()
		if err != nil {
			select {
			case <-c.quit:
				return
			default:
			}
			log.Errorf("Accept failed: %v", err)
			return
		}

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.handshake(conn, false)
		}()
	}
}

// retryLoop periodically dials every registered friend that is not
// currently connected.
func (c *TCPChanneler) retryLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.retryTicker.Ticks():
			c.dialPending()
		case <-c.quit:
			return
		}
	}
}

// dialPending starts a dial attempt for every disconnected friend with a
// known address.
func (c *TCPChanneler) dialPending() {
	c.mtx.Lock()
	var pending []*peer
	for _, p := range c.peers {
		p.mtx.Lock()
		if p.conn == nil && len(p.relays) > 0 {
			pending = append(pending, p)
		}
		p.mtx.Unlock()
	}
	c.mtx.Unlock()

	for _, p := range pending {
		p := p
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()

			p.mtx.Lock()
			addr := p.relays[0].Address
			p.mtx.Unlock()

			conn, err := net.DialTimeout(
				"tcp", addr, defaultRetryInterval,
			)
			if err != nil {
				log.Debugf("Unable to dial %v at %v: %v",
					p.pk, addr, err)
				return
			}
			c.handshake(conn, true)
		}()
	}
}

// handshake exchanges public keys on a fresh connection and promotes it to
// a live peer connection.
func (c *TCPChanneler) handshake(conn net.Conn, outbound bool) {
	if _, err := conn.Write(c.localPK[:]); err != nil {
		conn.Close()
		return
	}
	var remotePK wire.PublicKey
	conn.SetReadDeadline(time.Now().Add(defaultRetryInterval))
	if _, err := io.ReadFull(conn, remotePK[:]); err != nil {
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	c.mtx.Lock()
	p, ok := c.peers[remotePK]
	if !ok {
		// Inbound connection from a key we were not told about.
		c.mtx.Unlock()
		log.Warnf("Dropping connection from unknown peer %v",
			remotePK)
		conn.Close()
		return
	}

	p.mtx.Lock()
	if p.conn != nil {
		// Already connected; deterministically keep one connection:
		// the one dialed by the lexicographically smaller key.
		keepNew := outbound ==
			(bytes.Compare(c.localPK[:], remotePK[:]) < 0)
		if !keepNew {
			p.mtx.Unlock()
			c.mtx.Unlock()
			conn.Close()
			return
		}
		p.conn.Close()
	}
	p.conn = conn
	p.outgoing = make(chan []byte, eventBufferSize)
	quit := p.quit
	outgoing := p.outgoing
	p.mtx.Unlock()
	c.mtx.Unlock()

	log.Infof("Friend %v connected (outbound=%v)", remotePK, outbound)
	c.notify(&OnlineEvent{PublicKey: remotePK})

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.writeLoop(conn, outgoing, quit)
	}()
	go func() {
		defer c.wg.Done()
		c.readLoop(p, conn)
	}()
}

// writeLoop drains a peer's outgoing queue onto its connection, framing
// each payload with a 4 byte big endian length.
func (c *TCPChanneler) writeLoop(conn net.Conn, outgoing <-chan []byte,
	quit <-chan struct{}) {

	for {
		select {
		case payload := <-outgoing:
			var frameLen [4]byte
			binary.BigEndian.PutUint32(
				frameLen[:], uint32(len(payload)),
			)
			if _, err := conn.Write(frameLen[:]); err != nil {
				return
			}
			if _, err := conn.Write(payload); err != nil {
				return
			}
		case <-quit:
			return
		case <-c.quit:
			return
		}
	}
}

// readLoop decodes frames off a peer connection until it fails, then
// reports the peer offline.
func (c *TCPChanneler) readLoop(p *peer, conn net.Conn) {
	for {
		var frameLen [4]byte
		if _, err := io.ReadFull(conn, frameLen[:]); err != nil {
			break
		}
		payloadLen := binary.BigEndian.Uint32(frameLen[:])
		if payloadLen > maxFrameSize {
			log.Warnf("Oversized frame (%d bytes) from %v",
				payloadLen, p.pk)
			break
		}

		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(conn, payload); err != nil {
			break
		}

		msg, err := wire.ReadMessage(bytes.NewReader(payload), 0)
		if err != nil {
			// A malformed message is dropped without killing the
			// connection.
			log.Warnf("Unable to decode message from %v: %v",
				p.pk, err)
			continue
		}

		c.notify(&MessageEvent{PublicKey: p.pk, Message: msg})
	}

	conn.Close()
	p.mtx.Lock()
	if p.conn == conn {
		p.conn = nil
		p.outgoing = nil
	}
	p.mtx.Unlock()

	c.notify(&OfflineEvent{PublicKey: p.pk})
}
