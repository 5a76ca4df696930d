package report

import (
	"github.com/credmesh/credmesh/funder"
	"github.com/credmesh/credmesh/wire"
)

// Mutation is an externally visible state change, streamed to connected
// applications after their initial snapshot. The granularity is one friend:
// any change inside a friend re-emits that friend's summary. Counters over
// invoices, transactions and payments are emitted as plain numbers, never
// their contents.
type Mutation interface {
	reportMutation()
}

// SetRelays replaces the node's relay set.
type SetRelays struct {
	Relays []wire.NamedRelayAddress
}

// SetFriend inserts or replaces one friend's summary.
type SetFriend struct {
	PublicKey wire.PublicKey
	Report    *FriendReport
}

// RemoveFriend drops one friend's summary.
type RemoveFriend struct {
	PublicKey wire.PublicKey
}

// SetFriendOnline updates one friend's liveness.
type SetFriendOnline struct {
	PublicKey wire.PublicKey
	Online    bool
}

// SetNumOpenInvoices updates the invoice counter.
type SetNumOpenInvoices struct {
	Num uint32
}

// SetNumOpenTransactions updates the transaction counter.
type SetNumOpenTransactions struct {
	Num uint32
}

// SetNumPayments updates the payment counter.
type SetNumPayments struct {
	Num uint32
}

func (*SetRelays) reportMutation()              {}
func (*SetFriend) reportMutation()              {}
func (*RemoveFriend) reportMutation()           {}
func (*SetFriendOnline) reportMutation()        {}
func (*SetNumOpenInvoices) reportMutation()     {}
func (*SetNumOpenTransactions) reportMutation() {}
func (*SetNumPayments) reportMutation()         {}

// ProjectMutation maps one applied funder mutation onto report mutations.
// It is a pure function of the mutation and the post-application state.
func ProjectMutation(postState *funder.FunderState,
	mutation funder.FunderMutation) []Mutation {

	switch m := mutation.(type) {
	case *funder.FriendFunderMutation:
		return projectFriend(postState, m.PublicKey)

	case *funder.AddRelay, *funder.RemoveRelay:
		return []Mutation{&SetRelays{
			Relays: append(
				[]wire.NamedRelayAddress(nil),
				postState.Relays...,
			),
		}}

	case *funder.AddFriend:
		return projectFriend(postState, m.PublicKey)

	case *funder.RemoveFriend:
		return []Mutation{&RemoveFriend{PublicKey: m.PublicKey}}

	case *funder.AddInvoice, *funder.RemoveInvoice,
		*funder.AddDestPlainLock:

		// Lock contents are secret; only the counter is visible.
		return []Mutation{&SetNumOpenInvoices{
			Num: uint32(len(postState.OpenInvoices)),
		}}

	case *funder.AddTransaction, *funder.RemoveTransaction,
		*funder.SetTransactionResponse:

		return []Mutation{&SetNumOpenTransactions{
			Num: uint32(len(postState.OpenTransactions)),
		}}

	case *funder.AddPayment, *funder.SetPaymentReceipt,
		*funder.TakePaymentReceipt, *funder.SetPaymentClosing,
		*funder.SetPaymentNumTransactions, *funder.RemovePayment:

		return []Mutation{&SetNumPayments{
			Num: uint32(len(postState.Payments)),
		}}

	default:
		return nil
	}
}

func projectFriend(postState *funder.FunderState,
	pk wire.PublicKey) []Mutation {

	friend, ok := postState.Friends[pk]
	if !ok {
		return []Mutation{&RemoveFriend{PublicKey: pk}}
	}
	return []Mutation{&SetFriend{
		PublicKey: pk,
		Report:    newFriendReport(friend),
	}}
}

// ProjectMutations maps an ordered batch of applied funder mutations onto
// report mutations, preserving order.
func ProjectMutations(postState *funder.FunderState,
	mutations []funder.FunderMutation) []Mutation {

	var out []Mutation
	for _, mutation := range mutations {
		out = append(out, ProjectMutation(postState, mutation)...)
	}
	return out
}

// ProjectEphemeralMutation maps one ephemeral mutation onto report
// mutations.
func ProjectEphemeralMutation(
	mutation funder.EphemeralMutation) []Mutation {

	switch m := mutation.(type) {
	case *funder.SetFriendOnline:
		return []Mutation{&SetFriendOnline{
			PublicKey: m.PublicKey,
			Online:    true,
		}}
	case *funder.SetFriendOffline:
		return []Mutation{&SetFriendOnline{
			PublicKey: m.PublicKey,
			Online:    false,
		}}
	default:
		return nil
	}
}

// Apply replays one report mutation onto a report. Applying the projected
// stream of a handler invocation onto the pre-state report yields exactly
// the post-state report.
func (r *FunderReport) Apply(mutation Mutation) {
	switch m := mutation.(type) {
	case *SetRelays:
		r.Relays = append([]wire.NamedRelayAddress(nil), m.Relays...)

	case *SetFriend:
		// Preserve liveness: the state projection does not know it.
		online := false
		if existing, ok := r.Friends[m.PublicKey]; ok {
			online = existing.Online
		}
		friendCopy := *m.Report
		friendCopy.Online = online
		r.Friends[m.PublicKey] = &friendCopy

	case *RemoveFriend:
		delete(r.Friends, m.PublicKey)

	case *SetFriendOnline:
		if friend, ok := r.Friends[m.PublicKey]; ok {
			friend.Online = m.Online
		}

	case *SetNumOpenInvoices:
		r.NumOpenInvoices = m.Num

	case *SetNumOpenTransactions:
		r.NumOpenTransactions = m.Num

	case *SetNumPayments:
		r.NumPayments = m.Num
	}
}
