// Package tokenchannel implements the bilateral ledger shared by two
// friends. Exactly one side at a time holds the write token; the holder may
// push a signed, hash-chained batch of operations to the other side, handing
// the token over in the process. Both sides replay every batch against their
// own mirror of the channel, so any divergence is detected immediately and
// surfaces as an inconsistency.
package tokenchannel

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/credmesh/credmesh/amount"
	"github.com/credmesh/credmesh/wire"
)

var (
	// ErrNotTokenHolder is returned when attempting to compose an
	// outgoing move token while the remote side holds the token.
	ErrNotTokenHolder = fmt.Errorf("token is held by the remote side")

	// ErrInvalidChainLink is returned when a received move token does not
	// chain onto our current token digest.
	ErrInvalidChainLink = fmt.Errorf("move token breaks the hash chain")

	// ErrInvalidSignature is returned when a received move token carries
	// a bad signature.
	ErrInvalidSignature = fmt.Errorf("invalid move token signature")

	// ErrRequestsClosed is returned when queueing a request towards a
	// side that does not currently accept requests.
	ErrRequestsClosed = fmt.Errorf("requests are closed")

	// ErrCreditExceeded is returned when a request would push a side's
	// effective debt above its credit ceiling.
	ErrCreditExceeded = fmt.Errorf("credit ceiling exceeded")

	// ErrDuplicateRequestId is returned when a new request collides with
	// an in-flight request id.
	ErrDuplicateRequestId = fmt.Errorf("duplicate request id")

	// ErrRouteInvalid is returned when a request's route is malformed or
	// does not traverse this channel.
	ErrRouteInvalid = fmt.Errorf("invalid route")

	// ErrRequestNotFound is returned when an operation references an
	// unknown in-flight request.
	ErrRequestNotFound = fmt.Errorf("unknown request id")

	// ErrInvalidStage is returned when an operation arrives for a request
	// in the wrong stage.
	ErrInvalidStage = fmt.Errorf("request is in the wrong stage")

	// ErrInvalidPreimage is returned when a revealed lock preimage does
	// not match its commitment.
	ErrInvalidPreimage = fmt.Errorf("lock preimage mismatch")

	// ErrBalanceOverflow is returned when an operation would overflow the
	// 128 bit balance arithmetic.
	ErrBalanceOverflow = fmt.Errorf("balance overflow")
)

// Direction indicates which side currently holds the write token.
type Direction uint8

const (
	// DirIncoming means the remote side holds the token: the next move
	// token is expected to arrive from the remote side.
	DirIncoming Direction = iota

	// DirOutgoing means the local side holds the token and may compose
	// the next move token.
	DirOutgoing
)

// String returns a human readable direction.
func (d Direction) String() string {
	switch d {
	case DirIncoming:
		return "Incoming"
	case DirOutgoing:
		return "Outgoing"
	default:
		return "<unknown direction>"
	}
}

// RequestStage tracks how far an in-flight request has progressed on this
// channel.
type RequestStage uint8

const (
	// StageRequested means the request has been pushed and its credit is
	// reserved, but no response has crossed this edge yet.
	StageRequested RequestStage = iota

	// StageResponded means the response has crossed this edge and the
	// reservation has been committed into the balance. The request stays
	// pending until the collect leg reveals the preimages.
	StageResponded
)

// PendingRequest is the in-flight state of a single routed request on one
// channel.
type PendingRequest struct {
	// RequestID identifies the request along the whole route.
	RequestID wire.Uid

	// Route is the full payment route.
	Route wire.FriendsRoute

	// DestPayment is the amount the seller will receive.
	DestPayment amount.Amount

	// LeftFees is the fee budget that was left for downstream hops when
	// the request crossed this edge.
	LeftFees amount.Amount

	// InvoiceID names the invoice being paid.
	InvoiceID wire.InvoiceID

	// SrcHashedLock is the buyer's lock commitment.
	SrcHashedLock wire.HashLock

	// Stage is the request's progress on this channel.
	Stage RequestStage

	// DestHashedLock is the seller's lock commitment. Only valid once
	// Stage is StageResponded.
	DestHashedLock wire.HashLock
}

// Frozen returns the credit reserved on this edge for the request. The sum
// was overflow-checked at admission time.
func (p *PendingRequest) Frozen() amount.Amount {
	return p.DestPayment.AddWrap(p.LeftFees)
}

// Copy returns a deep copy of the pending request.
func (p *PendingRequest) Copy() *PendingRequest {
	cp := *p
	cp.Route = append(wire.FriendsRoute(nil), p.Route...)
	return &cp
}

// TokenChannel is the mirrored state of one bilateral channel. Positive
// balance means the remote side owes the local side. The local side may owe
// at most LocalMaxDebt (a ceiling granted by the remote side), and grants
// the remote side at most RemoteMaxDebt.
type TokenChannel struct {
	// LocalPublicKey and RemotePublicKey identify the two sides.
	LocalPublicKey  wire.PublicKey
	RemotePublicKey wire.PublicKey

	// Direction indicates which side holds the write token.
	Direction Direction

	// Balance is the settled balance; positive means the remote side
	// owes the local side.
	Balance amount.Balance

	// LocalMaxDebt is how much the local side may owe, as granted by the
	// remote side. RemoteMaxDebt is how much the local side is willing
	// to be owed.
	LocalMaxDebt  amount.Amount
	RemoteMaxDebt amount.Amount

	// LocalPendingDebt is the credit reserved by requests the local side
	// pushed onto this channel; RemotePendingDebt mirrors it for the
	// remote side.
	LocalPendingDebt  amount.Amount
	RemotePendingDebt amount.Amount

	// LocalRequestsStatus advertises whether the local side accepts
	// requests; RemoteRequestsStatus mirrors the remote side's
	// advertisement.
	LocalRequestsStatus  wire.RequestsStatus
	RemoteRequestsStatus wire.RequestsStatus

	// LastToken is the digest of the last committed move token, the head
	// of the channel's hash chain.
	LastToken wire.Token

	// LastMoveToken is the last committed move token message. When the
	// remote side holds the token this is the message we sent, retained
	// for retransmission.
	LastMoveToken *wire.MoveToken

	// PendingLocalRequests holds in-flight requests pushed by the local
	// side; PendingRemoteRequests holds those pushed by the remote side.
	PendingLocalRequests  map[wire.Uid]*PendingRequest
	PendingRemoteRequests map[wire.Uid]*PendingRequest

	// LocalRelays and RemoteRelays are the relay sets the two sides have
	// advertised on this channel.
	LocalRelays  []wire.RelayAddress
	RemoteRelays []wire.RelayAddress
}

// firstToken derives the deterministic initial token digest both sides
// compute independently when a channel is created.
func firstToken(a, b wire.PublicKey) wire.Token {
	lo, hi := a, b
	if bytes.Compare(lo[:], hi[:]) > 0 {
		lo, hi = hi, lo
	}

	buf := make([]byte, 0, len("token channel init")+2*wire.PublicKeyLen)
	buf = append(buf, []byte("token channel init")...)
	buf = append(buf, lo[:]...)
	buf = append(buf, hi[:]...)

	return wire.Token(chainhash.HashH(buf))
}

// New creates a fresh consistent channel between the two keys. Both sides
// derive the same initial token; the side with the larger public key starts
// out holding the token.
func New(localPK, remotePK wire.PublicKey) *TokenChannel {
	direction := DirIncoming
	if bytes.Compare(localPK[:], remotePK[:]) > 0 {
		direction = DirOutgoing
	}

	return &TokenChannel{
		LocalPublicKey:        localPK,
		RemotePublicKey:       remotePK,
		Direction:             direction,
		LastToken:             firstToken(localPK, remotePK),
		PendingLocalRequests:  make(map[wire.Uid]*PendingRequest),
		PendingRemoteRequests: make(map[wire.Uid]*PendingRequest),
	}
}

// Copy returns a deep copy of the channel. Mutating the copy never affects
// the original; incoming and outgoing processing run against such mirrors
// before any mutation is committed.
func (tc *TokenChannel) Copy() *TokenChannel {
	cp := *tc

	cp.PendingLocalRequests = make(
		map[wire.Uid]*PendingRequest, len(tc.PendingLocalRequests),
	)
	for rid, pr := range tc.PendingLocalRequests {
		cp.PendingLocalRequests[rid] = pr.Copy()
	}
	cp.PendingRemoteRequests = make(
		map[wire.Uid]*PendingRequest, len(tc.PendingRemoteRequests),
	)
	for rid, pr := range tc.PendingRemoteRequests {
		cp.PendingRemoteRequests[rid] = pr.Copy()
	}

	cp.LocalRelays = append([]wire.RelayAddress(nil), tc.LocalRelays...)
	cp.RemoteRelays = append([]wire.RelayAddress(nil), tc.RemoteRelays...)

	return &cp
}

// localDebt returns the local side's effective debt were extra credits
// added to its pending reservations: -balance + pending + extra.
func (tc *TokenChannel) localDebt(extra amount.Amount) (amount.Balance, error) {
	pending, err := amount.CheckedAdd(tc.LocalPendingDebt, extra)
	if err != nil {
		return amount.Balance{}, ErrBalanceOverflow
	}
	debt, err := tc.Balance.Neg().AddAmount(pending)
	if err != nil {
		return amount.Balance{}, ErrBalanceOverflow
	}
	return debt, nil
}

// remoteDebt mirrors localDebt for the remote side.
func (tc *TokenChannel) remoteDebt(extra amount.Amount) (amount.Balance, error) {
	pending, err := amount.CheckedAdd(tc.RemotePendingDebt, extra)
	if err != nil {
		return amount.Balance{}, ErrBalanceOverflow
	}
	debt, err := tc.Balance.AddAmount(pending)
	if err != nil {
		return amount.Balance{}, ErrBalanceOverflow
	}
	return debt, nil
}

// checkLocalCapacity verifies that reserving frozen additional credits for a
// locally pushed request keeps the local side within its granted ceiling.
func (tc *TokenChannel) checkLocalCapacity(frozen amount.Amount) error {
	debt, err := tc.localDebt(frozen)
	if err != nil {
		return err
	}
	if debt.Sign() > 0 && debt.Magnitude().Cmp(tc.LocalMaxDebt) > 0 {
		return ErrCreditExceeded
	}
	return nil
}

// checkRemoteCapacity verifies that reserving frozen additional credits for
// a remotely pushed request keeps the remote side within the ceiling we
// granted it.
func (tc *TokenChannel) checkRemoteCapacity(frozen amount.Amount) error {
	debt, err := tc.remoteDebt(frozen)
	if err != nil {
		return err
	}
	if debt.Sign() > 0 && debt.Magnitude().Cmp(tc.RemoteMaxDebt) > 0 {
		return ErrCreditExceeded
	}
	return nil
}

// requestIDKnown reports whether a request id is in flight on this channel
// in either direction.
func (tc *TokenChannel) requestIDKnown(rid wire.Uid) bool {
	if _, ok := tc.PendingLocalRequests[rid]; ok {
		return true
	}
	_, ok := tc.PendingRemoteRequests[rid]
	return ok
}
