package tokenchannel

import (
	"fmt"

	"github.com/credmesh/credmesh/identity"
	"github.com/credmesh/credmesh/wire"
)

// IncomingMessage is a single funds-level event produced while replaying a
// received move token. State-sync operations (max debt, requests status,
// relays) surface only as mutations; funds operations additionally surface
// here so the handler can route them onwards.
type IncomingMessage interface {
	incomingMessage()
}

// IncomingRequest reports a request pushed to us by the remote side. Its
// reservation has already been recorded; the handler decides whether to
// forward it, deliver it to the local seller, or push back a cancel.
type IncomingRequest struct {
	Request wire.RequestSendFunds
}

// IncomingResponse reports a response that crossed this edge, committing
// the request's reservation into the balance.
type IncomingResponse struct {
	// Request is the pending request after the response was recorded.
	Request PendingRequest

	// Signature is the seller's response signature.
	Signature []byte
}

// IncomingCancel reports a cancelled request whose reservation has been
// released.
type IncomingCancel struct {
	Request PendingRequest
	Reason  wire.CancelReason
}

// IncomingCollect reports a collected request: both preimages verified and
// the request removed from the channel.
type IncomingCollect struct {
	Request       PendingRequest
	SrcPlainLock  wire.PlainLock
	DestPlainLock wire.PlainLock
}

func (*IncomingRequest) incomingMessage()  {}
func (*IncomingResponse) incomingMessage() {}
func (*IncomingCancel) incomingMessage()   {}
func (*IncomingCollect) incomingMessage()  {}

// ReceiveOutput is the result of successfully receiving a move token.
type ReceiveOutput struct {
	// Duplicate is set when the message was a retransmission of the move
	// token we already committed. No mutations or messages accompany a
	// duplicate.
	Duplicate bool

	// Mutations is the ordered list of channel mutations the move token
	// produced. They have been validated against a mirror but not yet
	// applied to the channel.
	Mutations []TcMutation

	// Messages is the ordered list of funds-level events for the
	// handler.
	Messages []IncomingMessage
}

// ReceiveMoveToken verifies a received move token against the channel: the
// chain link, the signature, and the effect of every operation replayed in
// order against a mirror. On success it returns the mutations to commit and
// the funds events to act on; the caller becomes the token holder. On any
// failure the channel must be considered inconsistent by the caller.
func (tc *TokenChannel) ReceiveMoveToken(
	mt *wire.MoveToken) (*ReceiveOutput, error) {

	newToken, err := mt.NewToken(tc.RemotePublicKey)
	if err != nil {
		return nil, err
	}

	// A retransmission of the last committed move token is benign: the
	// remote side did not see our implicit acknowledgement yet.
	if newToken == tc.LastToken {
		return &ReceiveOutput{Duplicate: true}, nil
	}

	// The same holds once we have answered it: our retained move token
	// then chains onto the retransmitted one.
	if tc.Direction == DirIncoming && tc.LastMoveToken != nil &&
		tc.LastMoveToken.OldToken == newToken {

		return &ReceiveOutput{Duplicate: true}, nil
	}

	if tc.Direction != DirIncoming {
		return nil, fmt.Errorf("%w: move token received while "+
			"holding the token", ErrInvalidChainLink)
	}
	if mt.OldToken != tc.LastToken {
		return nil, ErrInvalidChainLink
	}
	if err := identity.VerifySig(
		tc.RemotePublicKey, newToken, mt.Signature,
	); err != nil {
		return nil, ErrInvalidSignature
	}

	// Replay the batch against a mirror so a failing operation leaves
	// the channel untouched.
	mirror := tc.Copy()
	var (
		mutations []TcMutation
		messages  []IncomingMessage
	)
	for _, op := range mt.Operations {
		opMutations, msg, err := mirror.applyIncomingOp(op)
		if err != nil {
			return nil, err
		}
		for _, mutation := range opMutations {
			mirror.Mutate(mutation)
		}
		mutations = append(mutations, opMutations...)
		if msg != nil {
			messages = append(messages, msg)
		}
	}

	mutations = append(mutations, &SetDirection{
		Direction: DirOutgoing,
		NewToken:  newToken,
		MoveToken: mt,
	})

	return &ReceiveOutput{
		Mutations: mutations,
		Messages:  messages,
	}, nil
}

// applyIncomingOp validates one received operation against the mirror and
// returns the mutations it produces, without applying them.
func (tc *TokenChannel) applyIncomingOp(
	op wire.Operation) ([]TcMutation, IncomingMessage, error) {

	switch o := op.(type) {
	case *wire.SetRemoteMaxDebt:
		// The remote side raises or lowers the ceiling it grants us.
		return []TcMutation{&SetLocalMaxDebt{Debt: o.Debt}}, nil, nil

	case *wire.SetRequestsStatus:
		return []TcMutation{
			&SetRemoteRequestsStatus{Status: o.Status},
		}, nil, nil

	case *wire.SetRelays:
		return []TcMutation{
			&SetRemoteRelays{Relays: o.Relays},
		}, nil, nil

	case *wire.RequestSendFunds:
		return tc.applyIncomingRequest(o)

	case *wire.ResponseSendFunds:
		return tc.applyIncomingResponse(o)

	case *wire.CancelSendFunds:
		return tc.applyIncomingCancel(o)

	case *wire.CollectSendFunds:
		return tc.applyIncomingCollect(o)

	default:
		return nil, nil, fmt.Errorf("unknown operation type %T", op)
	}
}

func (tc *TokenChannel) applyIncomingRequest(
	o *wire.RequestSendFunds) ([]TcMutation, IncomingMessage, error) {

	if err := o.Route.Validate(); err != nil {
		return nil, nil, ErrRouteInvalid
	}

	// The sender must be on the route and we must be its successor.
	next, ok := o.Route.NextHop(tc.RemotePublicKey)
	if !ok || next != tc.LocalPublicKey {
		return nil, nil, ErrRouteInvalid
	}

	// The sender is bound by our advertised requests status.
	if tc.LocalRequestsStatus != wire.RequestsOpen {
		return nil, nil, ErrRequestsClosed
	}
	if tc.requestIDKnown(o.RequestID) {
		return nil, nil, ErrDuplicateRequestId
	}

	frozen, err := o.Frozen()
	if err != nil {
		return nil, nil, ErrBalanceOverflow
	}
	if err := tc.checkRemoteCapacity(frozen); err != nil {
		return nil, nil, err
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
	mutations := []TcMutation{
		&InsertRemotePendingRequest{Request: pending},
		&SetRemotePendingDebt{
			Debt: tc.RemotePendingDebt.AddWrap(frozen),
		},
	}

	return mutations, &IncomingRequest{Request: *o}, nil
}

func (tc *TokenChannel) applyIncomingResponse(
	o *wire.ResponseSendFunds) ([]TcMutation, IncomingMessage, error) {

	pending, ok := tc.PendingLocalRequests[o.RequestID]
	if !ok {
		return nil, nil, ErrRequestNotFound
	}
	if pending.Stage != StageRequested {
		return nil, nil, ErrInvalidStage
	}

	// Commit the reservation: we now owe the remote side the frozen
	// credits.
	frozen := pending.Frozen()
	newBalance, err := tc.Balance.SubAmount(frozen)
	if err != nil {
		return nil, nil, ErrBalanceOverflow
	}

	responded := pending.Copy()
	responded.Stage = StageResponded
	responded.DestHashedLock = o.DestHashedLock

	mutations := []TcMutation{
		&InsertLocalPendingRequest{Request: responded},
		&SetBalance{Balance: newBalance},
		&SetLocalPendingDebt{
			Debt: tc.LocalPendingDebt.Sub(frozen),
		},
	}

	return mutations, &IncomingResponse{
		Request:   *responded,
		Signature: o.Signature,
	}, nil
}

func (tc *TokenChannel) applyIncomingCancel(
	o *wire.CancelSendFunds) ([]TcMutation, IncomingMessage, error) {

	pending, ok := tc.PendingLocalRequests[o.RequestID]
	if !ok {
		return nil, nil, ErrRequestNotFound
	}

	// Once the response committed the transfer the request can no longer
	// be cancelled.
	if pending.Stage != StageRequested {
		return nil, nil, ErrInvalidStage
	}

	mutations := []TcMutation{
		&RemoveLocalPendingRequest{RequestID: o.RequestID},
		&SetLocalPendingDebt{
			Debt: tc.LocalPendingDebt.Sub(pending.Frozen()),
		},
	}

	return mutations, &IncomingCancel{
		Request: *pending,
		Reason:  o.Reason,
	}, nil
}

func (tc *TokenChannel) applyIncomingCollect(
	o *wire.CollectSendFunds) ([]TcMutation, IncomingMessage, error) {

	pending, ok := tc.PendingLocalRequests[o.RequestID]
	if !ok {
		return nil, nil, ErrRequestNotFound
	}
	if pending.Stage != StageResponded {
		return nil, nil, ErrInvalidStage
	}
	if !pending.SrcHashedLock.Verify(o.SrcPlainLock) {
		return nil, nil, ErrInvalidPreimage
	}
	if !pending.DestHashedLock.Verify(o.DestPlainLock) {
		return nil, nil, ErrInvalidPreimage
	}

	mutations := []TcMutation{
		&RemoveLocalPendingRequest{RequestID: o.RequestID},
	}

	return mutations, &IncomingCollect{
		Request:       *pending,
		SrcPlainLock:  o.SrcPlainLock,
		DestPlainLock: o.DestPlainLock,
	}, nil
}
