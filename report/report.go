// Package report derives the externally visible read model of a funder and
// the mutation stream that keeps connected applications in sync with it.
// Reports omit secrets: no lock preimages, no private keys. Internal queues
// are collapsed into lengths.
package report

import (
	"github.com/credmesh/credmesh/amount"
	"github.com/credmesh/credmesh/funder"
	"github.com/credmesh/credmesh/tokenchannel"
	"github.com/credmesh/credmesh/wire"
)

// ChannelReport summarizes a friend's channel.
type ChannelReport struct {
	// Inconsistent is set when the channel is in the reset dance.
	Inconsistent bool

	// The following fields describe a consistent channel.
	Direction            tokenchannel.Direction
	Balance              amount.Balance
	LocalMaxDebt         amount.Amount
	RemoteMaxDebt        amount.Amount
	LocalPendingDebt     amount.Amount
	RemotePendingDebt    amount.Amount
	LocalRequestsStatus  wire.RequestsStatus
	RemoteRequestsStatus wire.RequestsStatus
	NumPendingRequests   uint32

	// The following fields describe an inconsistent channel.
	LocalResetToken     wire.Token
	LocalResetBalance   amount.Balance
	RemoteResetTerms    *wire.ResetTerms
}

// FriendReport is the externally visible view of one friend.
type FriendReport struct {
	Name                      string
	Status                    funder.FriendStatus
	Relays                    []wire.RelayAddress
	WantedRemoteMaxDebt       amount.Amount
	WantedLocalRequestsStatus wire.RequestsStatus
	NumPendingOperations      uint32
	NumPendingUserRequests    uint32
	Channel                   ChannelReport

	// Online mirrors the ephemeral liveness state.
	Online bool
}

// FunderReport is the externally visible view of a whole node.
type FunderReport struct {
	LocalPublicKey      wire.PublicKey
	Relays              []wire.NamedRelayAddress
	Friends             map[wire.PublicKey]*FriendReport
	NumOpenInvoices     uint32
	NumOpenTransactions uint32
	NumPayments         uint32
}

// Copy returns a deep copy of the report.
func (r *FunderReport) Copy() *FunderReport {
	cp := *r
	cp.Relays = append([]wire.NamedRelayAddress(nil), r.Relays...)
	cp.Friends = make(map[wire.PublicKey]*FriendReport, len(r.Friends))
	for pk, friend := range r.Friends {
		friendCopy := *friend
		friendCopy.Relays = append(
			[]wire.RelayAddress(nil), friend.Relays...,
		)
		if friend.Channel.RemoteResetTerms != nil {
			terms := *friend.Channel.RemoteResetTerms
			friendCopy.Channel.RemoteResetTerms = &terms
		}
		cp.Friends[pk] = &friendCopy
	}
	return &cp
}

// newChannelReport summarizes a friend's channel status.
func newChannelReport(status funder.ChannelStatus) ChannelReport {
	switch s := status.(type) {
	case *funder.ChannelConsistent:
		channel := s.Channel
		return ChannelReport{
			Direction:            channel.Direction,
			Balance:              channel.Balance,
			LocalMaxDebt:         channel.LocalMaxDebt,
			RemoteMaxDebt:        channel.RemoteMaxDebt,
			LocalPendingDebt:     channel.LocalPendingDebt,
			RemotePendingDebt:    channel.RemotePendingDebt,
			LocalRequestsStatus:  channel.LocalRequestsStatus,
			RemoteRequestsStatus: channel.RemoteRequestsStatus,
			NumPendingRequests: uint32(
				len(channel.PendingLocalRequests) +
					len(channel.PendingRemoteRequests),
			),
		}

	case *funder.ChannelInconsistent:
		report := ChannelReport{
			Inconsistent:      true,
			LocalResetToken:   s.LocalResetTerms.ResetToken,
			LocalResetBalance: s.LocalResetTerms.BalanceForReset,
		}
		if s.RemoteResetTerms != nil {
			terms := *s.RemoteResetTerms
			report.RemoteResetTerms = &terms
		}
		return report

	default:
		return ChannelReport{}
	}
}

// newFriendReport summarizes one friend. Liveness is filled in separately
// from the ephemeral state.
func newFriendReport(friend *funder.FriendState) *FriendReport {
	return &FriendReport{
		Name:                      friend.Name,
		Status:                    friend.Status,
		Relays:                    append([]wire.RelayAddress(nil), friend.Relays...),
		WantedRemoteMaxDebt:       friend.WantedRemoteMaxDebt,
		WantedLocalRequestsStatus: friend.WantedLocalRequestsStatus,
		NumPendingOperations:      uint32(len(friend.PendingOperations)),
		NumPendingUserRequests:    uint32(len(friend.PendingUserRequests)),
		Channel:                   newChannelReport(friend.ChannelStatus),
	}
}

// NewFunderReport derives the full report from a state. Liveness starts out
// all-offline; apply ephemeral report mutations to fill it.
func NewFunderReport(state *funder.FunderState) *FunderReport {
	report := &FunderReport{
		LocalPublicKey: state.LocalPublicKey,
		Relays: append(
			[]wire.NamedRelayAddress(nil), state.Relays...,
		),
		Friends: make(
			map[wire.PublicKey]*FriendReport, len(state.Friends),
		),
		NumOpenInvoices:     uint32(len(state.OpenInvoices)),
		NumOpenTransactions: uint32(len(state.OpenTransactions)),
		NumPayments:         uint32(len(state.Payments)),
	}
	for pk, friend := range state.Friends {
		report.Friends[pk] = newFriendReport(friend)
	}
	return report
}
