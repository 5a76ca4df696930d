package funder

import (
	"fmt"

	"github.com/credmesh/credmesh/amount"
	"github.com/credmesh/credmesh/tokenchannel"
	"github.com/credmesh/credmesh/wire"
)

// FriendStatus indicates whether a friend is administratively enabled.
type FriendStatus uint8

const (
	// FriendDisabled means no connection attempts are made and no
	// messages are exchanged with the friend.
	FriendDisabled FriendStatus = iota

	// FriendEnabled means the channeler keeps trying to reach the
	// friend.
	FriendEnabled
)

// String returns a human readable friend status.
func (f FriendStatus) String() string {
	switch f {
	case FriendDisabled:
		return "Disabled"
	case FriendEnabled:
		return "Enabled"
	default:
		return "<unknown status>"
	}
}

// ChannelStatus is the bilateral channel's high level state: consistent
// with a live token channel, or inconsistent and waiting for the reset
// dance to complete. The set of implementations is closed.
type ChannelStatus interface {
	channelStatus()
}

// ChannelConsistent wraps the live token channel.
type ChannelConsistent struct {
	Channel *tokenchannel.TokenChannel
}

// ChannelInconsistent holds the reset negotiation state: our own signed
// proposal, and the remote side's once received.
type ChannelInconsistent struct {
	LocalResetTerms  wire.ResetTerms
	RemoteResetTerms *wire.ResetTerms
}

func (*ChannelConsistent) channelStatus()   {}
func (*ChannelInconsistent) channelStatus() {}

// FriendState is the per-peer bilateral state.
type FriendState struct {
	// LocalPublicKey is our own identity, carried so the channel can be
	// rebuilt after a reset.
	LocalPublicKey wire.PublicKey

	// RemotePublicKey is the friend's identity.
	RemotePublicKey wire.PublicKey

	// Relays is the friend's last known relay set, from configuration
	// and RelaysUpdate messages.
	Relays []wire.RelayAddress

	// Name is a local human readable label, opaque to the protocol.
	Name string

	// ChannelStatus is the channel's high level state.
	ChannelStatus ChannelStatus

	// WantedRemoteMaxDebt is the ceiling we intend to grant the friend.
	// It is synced into the channel opportunistically.
	WantedRemoteMaxDebt amount.Amount

	// WantedLocalRequestsStatus is whether we intend to accept forwarded
	// requests, synced into the channel opportunistically.
	WantedLocalRequestsStatus wire.RequestsStatus

	// Status is the administrative enable switch.
	Status FriendStatus

	// PendingOperations is the FIFO of outbound channel operations
	// awaiting the next move token.
	PendingOperations []wire.Operation

	// PendingUserRequests is the FIFO of local request-send-funds
	// awaiting admission to the channel.
	PendingUserRequests []wire.RequestSendFunds
}

func newFriendState(localPK, remotePK wire.PublicKey,
	relays []wire.RelayAddress, name string,
	balance amount.Balance) *FriendState {

	channel := tokenchannel.New(localPK, remotePK)
	channel.Balance = balance

	return &FriendState{
		LocalPublicKey:  localPK,
		RemotePublicKey: remotePK,
		Relays:          append([]wire.RelayAddress(nil), relays...),
		Name:            name,
		ChannelStatus:   &ChannelConsistent{Channel: channel},
		Status:          FriendDisabled,
	}
}

// Copy returns a deep copy of the friend state.
func (f *FriendState) Copy() *FriendState {
	cp := *f
	cp.Relays = append([]wire.RelayAddress(nil), f.Relays...)
	cp.PendingOperations = append(
		[]wire.Operation(nil), f.PendingOperations...,
	)
	cp.PendingUserRequests = append(
		[]wire.RequestSendFunds(nil), f.PendingUserRequests...,
	)

	switch status := f.ChannelStatus.(type) {
	case *ChannelConsistent:
		cp.ChannelStatus = &ChannelConsistent{
			Channel: status.Channel.Copy(),
		}
	case *ChannelInconsistent:
		inconsistent := &ChannelInconsistent{
			LocalResetTerms: status.LocalResetTerms,
		}
		if status.RemoteResetTerms != nil {
			terms := *status.RemoteResetTerms
			inconsistent.RemoteResetTerms = &terms
		}
		cp.ChannelStatus = inconsistent
	}

	return &cp
}

// Channel returns the live token channel, or false when the channel is
// inconsistent.
func (f *FriendState) Channel() (*tokenchannel.TokenChannel, bool) {
	consistent, ok := f.ChannelStatus.(*ChannelConsistent)
	if !ok {
		return nil, false
	}
	return consistent.Channel, true
}

// mustChannel returns the live token channel, failing loudly when the
// channel is inconsistent.
func (f *FriendState) mustChannel() *tokenchannel.TokenChannel {
	channel, ok := f.Channel()
	if !ok {
		panic(fmt.Sprintf("friend %v channel is inconsistent",
			f.RemotePublicKey))
	}
	return channel
}

// FriendMutation is a single atomic change to a friend. The set of
// implementations is closed.
type FriendMutation interface {
	friendMutation()
}

// FriendTcMutation applies a nested channel mutation. Only legal while the
// channel is consistent.
type FriendTcMutation struct {
	Mutation tokenchannel.TcMutation
}

// SetWantedRemoteMaxDebt records the ceiling we intend to grant.
type SetWantedRemoteMaxDebt struct {
	Debt amount.Amount
}

// SetWantedLocalRequestsStatus records whether we intend to accept
// forwarded requests.
type SetWantedLocalRequestsStatus struct {
	Status wire.RequestsStatus
}

// PushBackPendingOperation appends an operation to the outbound queue.
type PushBackPendingOperation struct {
	Op wire.Operation
}

// PopFrontPendingOperation drops the head of the outbound queue.
type PopFrontPendingOperation struct{}

// PushBackPendingUserRequest appends a local request to the user queue.
type PushBackPendingUserRequest struct {
	Request wire.RequestSendFunds
}

// PopFrontPendingUserRequest drops the head of the user queue.
type PopFrontPendingUserRequest struct{}

// SetStatus flips the administrative enable switch.
type SetStatus struct {
	Status FriendStatus
}

// SetFriendRelays replaces the friend's known relay set.
type SetFriendRelays struct {
	Relays []wire.RelayAddress
}

// SetChannelInconsistent transitions the channel to the inconsistent state,
// dropping the live token channel and recording our reset proposal. All
// pending queues are cleared: only reset traffic is permitted from here.
type SetChannelInconsistent struct {
	LocalResetTerms wire.ResetTerms
}

// SetRemoteResetTerms records the remote side's reset proposal. Only legal
// while inconsistent.
type SetRemoteResetTerms struct {
	Terms wire.ResetTerms
}

// LocalReset rebuilds a consistent channel from the remote side's recorded
// reset terms and the reset move token we sent to accept them.
type LocalReset struct {
	MoveToken *wire.MoveToken
}

// RemoteReset rebuilds a consistent channel from our own reset terms and
// the reset move token the remote side sent to accept them.
type RemoteReset struct {
	MoveToken *wire.MoveToken
}

func (*FriendTcMutation) friendMutation()             {}
func (*SetWantedRemoteMaxDebt) friendMutation()       {}
func (*SetWantedLocalRequestsStatus) friendMutation() {}
func (*PushBackPendingOperation) friendMutation()     {}
func (*PopFrontPendingOperation) friendMutation()     {}
func (*PushBackPendingUserRequest) friendMutation()   {}
func (*PopFrontPendingUserRequest) friendMutation()   {}
func (*SetStatus) friendMutation()                    {}
func (*SetFriendRelays) friendMutation()              {}
func (*SetChannelInconsistent) friendMutation()       {}
func (*SetRemoteResetTerms) friendMutation()          {}
func (*LocalReset) friendMutation()                   {}
func (*RemoteReset) friendMutation()                  {}

// mutate applies a single friend mutation. Preconditions were checked by
// the handler; violations fail loudly.
func (f *FriendState) mutate(mutation FriendMutation) {
	switch m := mutation.(type) {
	case *FriendTcMutation:
		f.mustChannel().Mutate(m.Mutation)

	case *SetWantedRemoteMaxDebt:
		f.WantedRemoteMaxDebt = m.Debt

	case *SetWantedLocalRequestsStatus:
		f.WantedLocalRequestsStatus = m.Status

	case *PushBackPendingOperation:
		f.PendingOperations = append(f.PendingOperations, m.Op)

	case *PopFrontPendingOperation:
		if len(f.PendingOperations) == 0 {
			panic("pop from empty pending operations queue")
		}
		f.PendingOperations = f.PendingOperations[1:]

	case *PushBackPendingUserRequest:
		f.PendingUserRequests = append(
			f.PendingUserRequests, m.Request,
		)

	case *PopFrontPendingUserRequest:
		if len(f.PendingUserRequests) == 0 {
			panic("pop from empty pending user requests queue")
		}
		f.PendingUserRequests = f.PendingUserRequests[1:]

	case *SetStatus:
		f.Status = m.Status

	case *SetFriendRelays:
		f.Relays = append([]wire.RelayAddress(nil), m.Relays...)

	case *SetChannelInconsistent:
		f.ChannelStatus = &ChannelInconsistent{
			LocalResetTerms: m.LocalResetTerms,
		}
		f.PendingOperations = nil
		f.PendingUserRequests = nil

	case *SetRemoteResetTerms:
		inconsistent, ok := f.ChannelStatus.(*ChannelInconsistent)
		if !ok {
			panic("remote reset terms on a consistent channel")
		}
		terms := m.Terms
		inconsistent.RemoteResetTerms = &terms

	case *LocalReset:
		inconsistent, ok := f.ChannelStatus.(*ChannelInconsistent)
		if !ok || inconsistent.RemoteResetTerms == nil {
			panic("local reset without remote reset terms")
		}
		channel, err := tokenchannel.NewFromLocalReset(
			f.LocalPublicKey, f.RemotePublicKey, m.MoveToken,
			*inconsistent.RemoteResetTerms,
		)
		if err != nil {
			panic(fmt.Sprintf("unable to rebuild channel: %v", err))
		}
		f.ChannelStatus = &ChannelConsistent{Channel: channel}

	case *RemoteReset:
		inconsistent, ok := f.ChannelStatus.(*ChannelInconsistent)
		if !ok {
			panic("remote reset on a consistent channel")
		}
		channel, err := tokenchannel.NewFromRemoteReset(
			f.LocalPublicKey, f.RemotePublicKey, m.MoveToken,
			inconsistent.LocalResetTerms,
		)
		if err != nil {
			panic(fmt.Sprintf("unable to rebuild channel: %v", err))
		}
		f.ChannelStatus = &ChannelConsistent{Channel: channel}
	}
}
