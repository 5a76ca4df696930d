package tokenchannel

import (
	"github.com/credmesh/credmesh/amount"
	"github.com/credmesh/credmesh/wire"
)

// TcMutation is a single atomic change to a token channel. The set of
// implementations is closed; Mutate handles every variant exhaustively.
// Mutations are produced by incoming/outgoing move token processing against
// a mirror of the channel, then replayed against the authoritative state and
// appended to the durable log.
type TcMutation interface {
	tcMutation()
}

// SetDirection hands the token over and advances the hash chain head.
type SetDirection struct {
	// Direction is the new token holder from the local point of view.
	Direction Direction

	// NewToken is the digest of the move token that caused the handover.
	NewToken wire.Token

	// MoveToken is the move token message itself, retained so an
	// unacknowledged outgoing message can be retransmitted.
	MoveToken *wire.MoveToken
}

// SetBalance replaces the settled balance.
type SetBalance struct {
	Balance amount.Balance
}

// SetLocalMaxDebt records a new ceiling granted to the local side.
type SetLocalMaxDebt struct {
	Debt amount.Amount
}

// SetRemoteMaxDebt records a new ceiling granted to the remote side.
type SetRemoteMaxDebt struct {
	Debt amount.Amount
}

// SetLocalPendingDebt replaces the local side's pending reservation total.
type SetLocalPendingDebt struct {
	Debt amount.Amount
}

// SetRemotePendingDebt replaces the remote side's pending reservation total.
type SetRemotePendingDebt struct {
	Debt amount.Amount
}

// SetLocalRequestsStatus records the local side's requests advertisement.
type SetLocalRequestsStatus struct {
	Status wire.RequestsStatus
}

// SetRemoteRequestsStatus records the remote side's requests advertisement.
type SetRemoteRequestsStatus struct {
	Status wire.RequestsStatus
}

// InsertLocalPendingRequest inserts or replaces an in-flight request pushed
// by the local side.
type InsertLocalPendingRequest struct {
	Request *PendingRequest
}

// RemoveLocalPendingRequest removes an in-flight request pushed by the
// local side.
type RemoveLocalPendingRequest struct {
	RequestID wire.Uid
}

// InsertRemotePendingRequest inserts or replaces an in-flight request
// pushed by the remote side.
type InsertRemotePendingRequest struct {
	Request *PendingRequest
}

// RemoveRemotePendingRequest removes an in-flight request pushed by the
// remote side.
type RemoveRemotePendingRequest struct {
	RequestID wire.Uid
}

// SetLocalRelays records the relay set the local side advertised.
type SetLocalRelays struct {
	Relays []wire.RelayAddress
}

// SetRemoteRelays records the relay set the remote side advertised.
type SetRemoteRelays struct {
	Relays []wire.RelayAddress
}

func (*SetDirection) tcMutation()              {}
func (*SetBalance) tcMutation()                {}
func (*SetLocalMaxDebt) tcMutation()           {}
func (*SetRemoteMaxDebt) tcMutation()          {}
func (*SetLocalPendingDebt) tcMutation()       {}
func (*SetRemotePendingDebt) tcMutation()      {}
func (*SetLocalRequestsStatus) tcMutation()    {}
func (*SetRemoteRequestsStatus) tcMutation()   {}
func (*InsertLocalPendingRequest) tcMutation() {}
func (*RemoveLocalPendingRequest) tcMutation() {}
func (*InsertRemotePendingRequest) tcMutation() {}
func (*RemoveRemotePendingRequest) tcMutation() {}
func (*SetLocalRelays) tcMutation()            {}
func (*SetRemoteRelays) tcMutation()           {}

// Mutate applies a single mutation to the channel. Application is total:
// every variant is a plain replacement, insertion or deletion, so replaying
// a recorded mutation can never fail. Precondition checking happens where
// mutations are produced.
func (tc *TokenChannel) Mutate(mutation TcMutation) {
	switch m := mutation.(type) {
	case *SetDirection:
		tc.Direction = m.Direction
		tc.LastToken = m.NewToken
		tc.LastMoveToken = m.MoveToken
	case *SetBalance:
		tc.Balance = m.Balance
	case *SetLocalMaxDebt:
		tc.LocalMaxDebt = m.Debt
	case *SetRemoteMaxDebt:
		tc.RemoteMaxDebt = m.Debt
	case *SetLocalPendingDebt:
		tc.LocalPendingDebt = m.Debt
	case *SetRemotePendingDebt:
		tc.RemotePendingDebt = m.Debt
	case *SetLocalRequestsStatus:
		tc.LocalRequestsStatus = m.Status
	case *SetRemoteRequestsStatus:
		tc.RemoteRequestsStatus = m.Status
	case *InsertLocalPendingRequest:
		tc.PendingLocalRequests[m.Request.RequestID] = m.Request.Copy()
	case *RemoveLocalPendingRequest:
		delete(tc.PendingLocalRequests, m.RequestID)
	case *InsertRemotePendingRequest:
		tc.PendingRemoteRequests[m.Request.RequestID] = m.Request.Copy()
	case *RemoveRemotePendingRequest:
		delete(tc.PendingRemoteRequests, m.RequestID)
	case *SetLocalRelays:
		tc.LocalRelays = append([]wire.RelayAddress(nil), m.Relays...)
	case *SetRemoteRelays:
		tc.RemoteRelays = append([]wire.RelayAddress(nil), m.Relays...)
	}
}
