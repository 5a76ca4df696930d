package tokenchannel

import (
	"fmt"

	"github.com/credmesh/credmesh/identity"
	"github.com/credmesh/credmesh/wire"
)

// OutgoingMoveToken composes the next move token while the local side holds
// the token. Operations are queued one by one, each validated against a
// mirror of the channel, so a rejected operation leaves the batch intact.
type OutgoingMoveToken struct {
	mirror     *TokenChannel
	oldToken   wire.Token
	operations []wire.Operation
	mutations  []TcMutation
}

// NewOutgoingMoveToken starts composing a move token on the channel. It
// fails with ErrNotTokenHolder when the remote side holds the token.
func NewOutgoingMoveToken(tc *TokenChannel) (*OutgoingMoveToken, error) {
	if tc.Direction != DirOutgoing {
		return nil, ErrNotTokenHolder
	}

	return &OutgoingMoveToken{
		mirror:   tc.Copy(),
		oldToken: tc.LastToken,
	}, nil
}

// IsEmpty reports whether no operation has been queued yet.
func (o *OutgoingMoveToken) IsEmpty() bool {
	return len(o.operations) == 0
}

// NumOperations returns the number of queued operations.
func (o *OutgoingMoveToken) NumOperations() int {
	return len(o.operations)
}

// QueueOperation validates op against the mirror and appends it to the
// batch. A returned error means op was rejected; previously queued
// operations are unaffected.
func (o *OutgoingMoveToken) QueueOperation(op wire.Operation) error {
	mutations, err := o.mirror.applyOutgoingOp(op)
	if err != nil {
		return err
	}
	for _, mutation := range mutations {
		o.mirror.Mutate(mutation)
	}

	o.operations = append(o.operations, op)
	o.mutations = append(o.mutations, mutations...)
	return nil
}

// Finalize signs the composed move token and returns it along with the
// mutations to commit. After committing, the remote side holds the token.
func (o *OutgoingMoveToken) Finalize(id *identity.Identity,
	randNonce [wire.NonceLen]byte) (*wire.MoveToken, []TcMutation, error) {

	mt := &wire.MoveToken{
		Operations: o.operations,
		OldToken:   o.oldToken,
		RandNonce:  randNonce,
	}
	newToken, err := mt.NewToken(id.PublicKey())
	if err != nil {
		return nil, nil, err
	}
	mt.Signature = id.Sign(newToken)

	mutations := append(o.mutations, &SetDirection{
		Direction: DirIncoming,
		NewToken:  newToken,
		MoveToken: mt,
	})

	return mt, mutations, nil
}

// applyOutgoingOp validates one operation we are about to send and returns
// the mutations it produces on our side, without applying them. The checks
// mirror applyIncomingOp exactly: anything we would reject as a receiver we
// must refuse to send.
func (tc *TokenChannel) applyOutgoingOp(
	op wire.Operation) ([]TcMutation, error) {

	switch o := op.(type) {
	case *wire.SetRemoteMaxDebt:
		// We raise or lower the ceiling we grant the remote side.
		return []TcMutation{&SetRemoteMaxDebt{Debt: o.Debt}}, nil

	case *wire.SetRequestsStatus:
		return []TcMutation{
			&SetLocalRequestsStatus{Status: o.Status},
		}, nil

	case *wire.SetRelays:
		return []TcMutation{&SetLocalRelays{Relays: o.Relays}}, nil

	case *wire.RequestSendFunds:
		return tc.applyOutgoingRequest(o)

	case *wire.ResponseSendFunds:
		return tc.applyOutgoingResponse(o)

	case *wire.CancelSendFunds:
		return tc.applyOutgoingCancel(o)

	case *wire.CollectSendFunds:
		return tc.applyOutgoingCollect(o)

	default:
		return nil, fmt.Errorf("unknown operation type %T", op)
	}
}

func (tc *TokenChannel) applyOutgoingRequest(
	o *wire.RequestSendFunds) ([]TcMutation, error) {

	if err := o.Route.Validate(); err != nil {
		return nil, ErrRouteInvalid
	}
	next, ok := o.Route.NextHop(tc.LocalPublicKey)
	if !ok || next != tc.RemotePublicKey {
		return nil, ErrRouteInvalid
	}

	// The remote side told us whether it admits requests.
	if tc.RemoteRequestsStatus != wire.RequestsOpen {
		return nil, ErrRequestsClosed
	}
	if tc.requestIDKnown(o.RequestID) {
		return nil, ErrDuplicateRequestId
	}

	frozen, err := o.Frozen()
	if err != nil {
		return nil, ErrBalanceOverflow
	}
	if err := tc.checkLocalCapacity(frozen); err != nil {
		return nil, err
	}

	pending := &PendingRequest{
		RequestID:     o.RequestID,
		Route:         o.Route,
		DestPayment:   o.DestPayment,
		LeftFees:      o.LeftFees,
		InvoiceID:     o.InvoiceID,
		SrcHashedLock: o.SrcHashedLock,
		Stage:         StageRequested,
	}

	return []TcMutation{
		&InsertLocalPendingRequest{Request: pending},
		&SetLocalPendingDebt{
			Debt: tc.LocalPendingDebt.AddWrap(frozen),
		},
	}, nil
}

func (tc *TokenChannel) applyOutgoingResponse(
	o *wire.ResponseSendFunds) ([]TcMutation, error) {

	pending, ok := tc.PendingRemoteRequests[o.RequestID]
	if !ok {
		return nil, ErrRequestNotFound
	}
	if pending.Stage != StageRequested {
		return nil, ErrInvalidStage
	}

	// Commit the reservation: the remote side now owes us the frozen
	// credits.
	frozen := pending.Frozen()
	newBalance, err := tc.Balance.AddAmount(frozen)
	if err != nil {
		return nil, ErrBalanceOverflow
	}

	responded := pending.Copy()
	responded.Stage = StageResponded
	responded.DestHashedLock = o.DestHashedLock

	return []TcMutation{
		&InsertRemotePendingRequest{Request: responded},
		&SetBalance{Balance: newBalance},
		&SetRemotePendingDebt{
			Debt: tc.RemotePendingDebt.Sub(frozen),
		},
	}, nil
}

func (tc *TokenChannel) applyOutgoingCancel(
	o *wire.CancelSendFunds) ([]TcMutation, error) {

	pending, ok := tc.PendingRemoteRequests[o.RequestID]
	if !ok {
		return nil, ErrRequestNotFound
	}
	if pending.Stage != StageRequested {
		return nil, ErrInvalidStage
	}

	return []TcMutation{
		&RemoveRemotePendingRequest{RequestID: o.RequestID},
		&SetRemotePendingDebt{
			Debt: tc.RemotePendingDebt.Sub(pending.Frozen()),
		},
	}, nil
}

func (tc *TokenChannel) applyOutgoingCollect(
	o *wire.CollectSendFunds) ([]TcMutation, error) {

	pending, ok := tc.PendingRemoteRequests[o.RequestID]
	if !ok {
		return nil, ErrRequestNotFound
	}
	if pending.Stage != StageResponded {
		return nil, ErrInvalidStage
	}
	if !pending.SrcHashedLock.Verify(o.SrcPlainLock) {
		return nil, ErrInvalidPreimage
	}
	if !pending.DestHashedLock.Verify(o.DestPlainLock) {
		return nil, ErrInvalidPreimage
	}

	return []TcMutation{
		&RemoveRemotePendingRequest{RequestID: o.RequestID},
	}, nil
}
