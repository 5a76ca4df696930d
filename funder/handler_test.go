package funder_test

import (
	"bytes"
	"testing"

	"github.com/credmesh/credmesh/amount"
	"github.com/credmesh/credmesh/funder"
	"github.com/credmesh/credmesh/identity"
	"github.com/credmesh/credmesh/report"
	"github.com/credmesh/credmesh/tokenchannel"
	"github.com/credmesh/credmesh/wire"
	"github.com/stretchr/testify/require"
)

// testNode is one funder instance driven directly through its handler.
type testNode struct {
	id      *identity.Identity
	handler *funder.Handler

	initialState *funder.FunderState
	state        *funder.FunderState
	ephemeral    *funder.Ephemeral

	// mutations accumulates the durable log across all invocations.
	mutations []funder.FunderMutation

	// controlEvents accumulates everything sent to local applications.
	controlEvents []funder.ControlEvent

	// report is maintained incrementally from projected mutations.
	report *report.FunderReport
}

func (n *testNode) pk() wire.PublicKey {
	return n.id.PublicKey()
}

// lastControlErr returns the error of the most recent control response.
func (n *testNode) lastControlErr(t *testing.T) error {
	t.Helper()
	for i := len(n.controlEvents) - 1; i >= 0; i-- {
		if resp, ok := n.controlEvents[i].(*funder.ControlResponse); ok {
			return resp.Err
		}
	}
	t.Fatalf("no control response recorded")
	return nil
}

// channelWith returns the node's consistent channel towards pk.
func (n *testNode) channelWith(t *testing.T,
	pk wire.PublicKey) *tokenchannel.TokenChannel {

	t.Helper()
	friend, ok := n.state.Friends[pk]
	require.True(t, ok, "friend missing")
	channel, ok := friend.Channel()
	require.True(t, ok, "channel inconsistent")
	return channel
}

type queuedMessage struct {
	from wire.PublicKey
	to   wire.PublicKey
	msg  wire.Message
}

// testNet connects a set of test nodes with an in-memory lossless network.
// Messages are delivered in submission order.
type testNet struct {
	t     *testing.T
	nodes map[wire.PublicKey]*testNode
	queue []queuedMessage
}

func newTestNet(t *testing.T, numNodes int) (*testNet, []*testNode) {
	t.Helper()

	net := &testNet{
		t:     t,
		nodes: make(map[wire.PublicKey]*testNode),
	}
	nodes := make([]*testNode, numNodes)
	for i := range nodes {
		id, err := identity.New()
		require.NoError(t, err)

		state := funder.NewFunderState(id.PublicKey(), nil)
		node := &testNode{
			id:           id,
			handler:      funder.NewHandler(id, funder.DefaultConfig()),
			initialState: state.Copy(),
			state:        state,
			ephemeral:    funder.NewEphemeral(),
			report:       report.NewFunderReport(state),
		}
		nodes[i] = node
		net.nodes[node.pk()] = node
	}
	return net, nodes
}

// handle runs one event on a node, collecting outputs and projecting the
// report stream.
func (net *testNet) handle(node *testNode, event funder.Event) {
	net.t.Helper()

	output, err := node.handler.Handle(node.state, node.ephemeral, event)
	require.NoError(net.t, err)

	node.mutations = append(node.mutations, output.Mutations...)
	node.controlEvents = append(node.controlEvents, output.ControlEvents...)

	for _, mutation := range report.ProjectMutations(
		node.state, output.Mutations,
	) {
		node.report.Apply(mutation)
	}
	for _, ephemeralMutation := range output.EphemeralMutations {
		for _, mutation := range report.ProjectEphemeralMutation(
			ephemeralMutation,
		) {
			node.report.Apply(mutation)
		}
	}

	for _, friendMessage := range output.FriendMessages {
		net.queue = append(net.queue, queuedMessage{
			from: node.pk(),
			to:   friendMessage.PublicKey,
			msg:  friendMessage.Message,
		})
	}
}

// control issues a control command on a node and returns its response
// error.
func (net *testNet) control(node *testNode,
	cmd funder.ControlCommand) error {

	net.t.Helper()

	requestID, err := wire.RandomUid()
	require.NoError(net.t, err)
	net.handle(node, &funder.ControlIncoming{
		RequestID: requestID,
		Command:   cmd,
	})
	return node.lastControlErr(net.t)
}

// run drains the network queue to quiescence.
func (net *testNet) run() {
	net.t.Helper()

	for len(net.queue) > 0 {
		next := net.queue[0]
		net.queue = net.queue[1:]

		node, ok := net.nodes[next.to]
		require.True(net.t, ok, "message to unknown node")
		net.handle(node, &funder.FriendIncoming{
			RemotePublicKey: next.from,
			Message:         next.msg,
		})
	}
}

// connect configures a bidirectional friendship with the given ceiling and
// brings both directions online.
func (net *testNet) connect(a, b *testNode, maxDebt uint64) {
	net.t.Helper()

	for _, pair := range []struct{ node, peer *testNode }{
		{a, b}, {b, a},
	} {
		require.NoError(net.t, net.control(pair.node, &funder.CmdAddFriend{
			PublicKey: pair.peer.pk(),
			Name:      "peer",
		}))
		require.NoError(net.t, net.control(pair.node, &funder.CmdSetFriendStatus{
			PublicKey: pair.peer.pk(),
			Status:    funder.FriendEnabled,
		}))
		require.NoError(net.t, net.control(pair.node, &funder.CmdOpenFriend{
			PublicKey: pair.peer.pk(),
		}))
		require.NoError(net.t, net.control(pair.node, &funder.CmdSetFriendMaxDebt{
			PublicKey: pair.peer.pk(),
			Debt:      amount.FromUint64(maxDebt),
		}))
	}
	for _, pair := range []struct{ node, peer *testNode }{
		{a, b}, {b, a},
	} {
		net.handle(pair.node, &funder.LivenessChange{
			PublicKey: pair.peer.pk(),
			Online:    true,
		})
	}
	net.run()
}

// payInvoice runs a complete single-route payment of amt credits from
// buyer to seller along route and returns the receipt.
func (net *testNet) payInvoice(buyer, seller *testNode,
	route wire.FriendsRoute, amt uint64,
	invoiceID wire.InvoiceID) *wire.Receipt {

	net.t.Helper()
	t := net.t

	require.NoError(t, net.control(seller, &funder.CmdAddInvoice{
		InvoiceID:        invoiceID,
		TotalDestPayment: amount.FromUint64(amt),
	}))

	paymentID, err := wire.RandomPaymentID()
	require.NoError(t, err)
	require.NoError(t, net.control(buyer, &funder.CmdCreatePayment{
		PaymentID:        paymentID,
		InvoiceID:        invoiceID,
		TotalDestPayment: amount.FromUint64(amt),
		DestPublicKey:    seller.pk(),
	}))

	transactionID, err := wire.RandomUid()
	require.NoError(t, err)
	require.NoError(t, net.control(buyer, &funder.CmdCreateTransaction{
		PaymentID:     paymentID,
		TransactionID: transactionID,
		Route:         route,
		DestPayment:   amount.FromUint64(amt),
	}))
	net.run()

	// The buyer now holds the commit for the seller.
	var ready *funder.TransactionReady
	for _, event := range buyer.controlEvents {
		if r, ok := event.(*funder.TransactionReady); ok &&
			r.PaymentID == paymentID {

			ready = r
		}
	}
	require.NotNil(t, ready, "transaction was not accepted end-to-end")

	require.NoError(t, net.control(seller, &funder.CmdCommitInvoice{
		InvoiceID: invoiceID,
		Commits:   []funder.TransactionCommit{ready.Commit},
	}))
	net.run()

	// Close out the payment and take the receipt.
	require.NoError(t, net.control(buyer, &funder.CmdRequestClosePayment{
		PaymentID: paymentID,
	}))
	var done *funder.PaymentDone
	for _, event := range buyer.controlEvents {
		if d, ok := event.(*funder.PaymentDone); ok &&
			d.PaymentID == paymentID {

			done = d
		}
	}
	require.NotNil(t, done, "no close response")
	require.NotNil(t, done.Receipt, "payment yielded no receipt")

	require.NoError(t, net.control(buyer, &funder.CmdAckClosePayment{
		PaymentID: paymentID,
		AckUid:    done.AckUid,
	}))
	require.NotContains(t, buyer.state.Payments, paymentID)

	return done.Receipt
}

// TestChainPayment pushes 10 credits across the topology
//
//	          5
//	          |
//	0 -- 1 -- 2 -- 4
//	     |
//	     3
//
// and verifies the balances along the chosen route, the receipt, and the
// untouched side branches.
func TestChainPayment(t *testing.T) {
	t.Parallel()

	net, nodes := newTestNet(t, 6)
	net.connect(nodes[0], nodes[1], 100)
	net.connect(nodes[1], nodes[2], 100)
	net.connect(nodes[1], nodes[3], 100)
	net.connect(nodes[2], nodes[4], 100)
	net.connect(nodes[2], nodes[5], 100)

	var invoiceID wire.InvoiceID
	route := wire.FriendsRoute{
		nodes[0].pk(), nodes[1].pk(), nodes[2].pk(), nodes[4].pk(),
	}
	receipt := net.payInvoice(nodes[0], nodes[4], route, 10, invoiceID)

	// The receipt must verify against the seller's identity.
	require.NoError(t, receipt.Verify(nodes[4].pk()))
	require.Equal(t, invoiceID, receipt.InvoiceID)

	// Each edge on the route moved by exactly 10 towards the seller.
	for i := 0; i+1 < len(route); i++ {
		up := net.nodes[route[i]]
		down := net.nodes[route[i+1]]

		require.True(t, up.channelWith(t, route[i+1]).Balance.Equal(
			amount.BalanceFromInt64(-10)),
			"edge %d upstream balance", i)
		require.True(t, down.channelWith(t, route[i]).Balance.Equal(
			amount.BalanceFromInt64(10)),
			"edge %d downstream balance", i)

		// No reservations are left behind.
		require.True(t,
			up.channelWith(t, route[i+1]).LocalPendingDebt.IsZero())
		require.True(t,
			down.channelWith(t, route[i]).RemotePendingDebt.IsZero())
	}

	// The side branches never moved.
	require.True(t,
		nodes[3].channelWith(t, nodes[1].pk()).Balance.IsZero())
	require.True(t,
		nodes[5].channelWith(t, nodes[2].pk()).Balance.IsZero())

	// The seller's invoice is gone, the buyer's bookkeeping is empty.
	require.Empty(t, nodes[4].state.OpenInvoices)
	require.Empty(t, nodes[0].state.OpenTransactions)
	require.Empty(t, nodes[0].state.Payments)
}

// TestChainPaymentWithFees verifies the per-hop fee arithmetic: every
// intermediate node earns its fee, the buyer pays amount plus total fees.
func TestChainPaymentWithFees(t *testing.T) {
	t.Parallel()

	net, nodes := newTestNet(t, 3)

	// The middle node charges a fee of 1 credit per forwarded request.
	nodes[1].handler = funder.NewHandler(nodes[1].id, funder.Config{
		MaxOperationsInBatch:   funder.DefaultMaxOperationsInBatch,
		MaxPendingOperations:   funder.DefaultMaxPendingOperations,
		MaxPendingUserRequests: funder.DefaultMaxPendingUserRequests,
		ForwardingFee:          amount.FromUint64(1),
	})

	net.connect(nodes[0], nodes[1], 100)
	net.connect(nodes[1], nodes[2], 100)

	var invoiceID wire.InvoiceID
	invoiceID[0] = 0x05
	require.NoError(t, net.control(nodes[2], &funder.CmdAddInvoice{
		InvoiceID:        invoiceID,
		TotalDestPayment: amount.FromUint64(10),
	}))

	paymentID, err := wire.RandomPaymentID()
	require.NoError(t, err)
	require.NoError(t, net.control(nodes[0], &funder.CmdCreatePayment{
		PaymentID:        paymentID,
		InvoiceID:        invoiceID,
		TotalDestPayment: amount.FromUint64(10),
		DestPublicKey:    nodes[2].pk(),
	}))

	transactionID, err := wire.RandomUid()
	require.NoError(t, err)
	require.NoError(t, net.control(nodes[0], &funder.CmdCreateTransaction{
		PaymentID:     paymentID,
		TransactionID: transactionID,
		Route: wire.FriendsRoute{
			nodes[0].pk(), nodes[1].pk(), nodes[2].pk(),
		},
		DestPayment: amount.FromUint64(10),
		Fees:        amount.FromUint64(1),
	}))
	net.run()

	var ready *funder.TransactionReady
	for _, event := range nodes[0].controlEvents {
		if r, ok := event.(*funder.TransactionReady); ok {
			ready = r
		}
	}
	require.NotNil(t, ready)
	require.NoError(t, net.control(nodes[2], &funder.CmdCommitInvoice{
		InvoiceID: invoiceID,
		Commits:   []funder.TransactionCommit{ready.Commit},
	}))
	net.run()

	// Buyer paid 11, middle node earned 1, seller received 10.
	require.True(t, nodes[0].channelWith(t, nodes[1].pk()).Balance.Equal(
		amount.BalanceFromInt64(-11)))
	require.True(t, nodes[1].channelWith(t, nodes[0].pk()).Balance.Equal(
		amount.BalanceFromInt64(11)))
	require.True(t, nodes[1].channelWith(t, nodes[2].pk()).Balance.Equal(
		amount.BalanceFromInt64(-10)))
	require.True(t, nodes[2].channelWith(t, nodes[1].pk()).Balance.Equal(
		amount.BalanceFromInt64(10)))
}

// TestMultiRouteInvoice pays a single invoice of 20 through two disjoint
// routes of 10 each.
func TestMultiRouteInvoice(t *testing.T) {
	t.Parallel()

	// Diamond: 0 -- 1 -- 3 and 0 -- 2 -- 3.
	net, nodes := newTestNet(t, 4)
	net.connect(nodes[0], nodes[1], 100)
	net.connect(nodes[0], nodes[2], 100)
	net.connect(nodes[1], nodes[3], 100)
	net.connect(nodes[2], nodes[3], 100)

	var invoiceID wire.InvoiceID
	invoiceID[0] = 0x09
	require.NoError(t, net.control(nodes[3], &funder.CmdAddInvoice{
		InvoiceID:        invoiceID,
		TotalDestPayment: amount.FromUint64(20),
	}))

	paymentID, err := wire.RandomPaymentID()
	require.NoError(t, err)
	require.NoError(t, net.control(nodes[0], &funder.CmdCreatePayment{
		PaymentID:        paymentID,
		InvoiceID:        invoiceID,
		TotalDestPayment: amount.FromUint64(20),
		DestPublicKey:    nodes[3].pk(),
	}))

	routes := []wire.FriendsRoute{
		{nodes[0].pk(), nodes[1].pk(), nodes[3].pk()},
		{nodes[0].pk(), nodes[2].pk(), nodes[3].pk()},
	}
	for _, route := range routes {
		transactionID, err := wire.RandomUid()
		require.NoError(t, err)
		require.NoError(t, net.control(nodes[0],
			&funder.CmdCreateTransaction{
				PaymentID:     paymentID,
				TransactionID: transactionID,
				Route:         route,
				DestPayment:   amount.FromUint64(10),
			}))
	}
	net.run()

	// The invoice accumulated one destination lock per route.
	invoice, ok := nodes[3].state.OpenInvoices[invoiceID]
	require.True(t, ok)
	require.Len(t, invoice.DestPlainLocks, 2)

	var commits []funder.TransactionCommit
	for _, event := range nodes[0].controlEvents {
		if r, ok := event.(*funder.TransactionReady); ok {
			commits = append(commits, r.Commit)
		}
	}
	require.Len(t, commits, 2)

	require.NoError(t, net.control(nodes[3], &funder.CmdCommitInvoice{
		InvoiceID: invoiceID,
		Commits:   commits,
	}))
	net.run()

	// Invoice removed, both branches settled.
	require.Empty(t, nodes[3].state.OpenInvoices)
	require.True(t, nodes[3].channelWith(t, nodes[1].pk()).Balance.Equal(
		amount.BalanceFromInt64(10)))
	require.True(t, nodes[3].channelWith(t, nodes[2].pk()).Balance.Equal(
		amount.BalanceFromInt64(10)))

	// The buyer holds one receipt covering the payment.
	require.NoError(t, net.control(nodes[0], &funder.CmdRequestClosePayment{
		PaymentID: paymentID,
	}))
	var done *funder.PaymentDone
	for _, event := range nodes[0].controlEvents {
		if d, ok := event.(*funder.PaymentDone); ok {
			done = d
		}
	}
	require.NotNil(t, done)
	require.NotNil(t, done.Receipt)
	require.NoError(t, done.Receipt.Verify(nodes[3].pk()))
}

// TestDuplicateFriendAdd verifies that a second add of the same key
// surfaces as a control error and leaves the state unchanged.
func TestDuplicateFriendAdd(t *testing.T) {
	t.Parallel()

	net, nodes := newTestNet(t, 2)
	require.NoError(t, net.control(nodes[0], &funder.CmdAddFriend{
		PublicKey: nodes[1].pk(),
		Name:      "first",
	}))

	var before bytes.Buffer
	require.NoError(t, funder.EncodeFunderState(&before, nodes[0].state))

	err := net.control(nodes[0], &funder.CmdAddFriend{
		PublicKey: nodes[1].pk(),
		Name:      "second",
	})
	require.ErrorIs(t, err, funder.ErrFriendAlreadyExists)

	var after bytes.Buffer
	require.NoError(t, funder.EncodeFunderState(&after, nodes[0].state))
	require.Equal(t, before.Bytes(), after.Bytes())
}

// TestCapacityExhaustion verifies that a transaction exceeding the granted
// ceiling is rejected before any mutation reaches the channel.
func TestCapacityExhaustion(t *testing.T) {
	t.Parallel()

	net, nodes := newTestNet(t, 2)
	net.connect(nodes[0], nodes[1], 100)

	paymentID, err := wire.RandomPaymentID()
	require.NoError(t, err)
	var invoiceID wire.InvoiceID
	require.NoError(t, net.control(nodes[0], &funder.CmdCreatePayment{
		PaymentID:        paymentID,
		InvoiceID:        invoiceID,
		TotalDestPayment: amount.FromUint64(101),
		DestPublicKey:    nodes[1].pk(),
	}))

	var before bytes.Buffer
	require.NoError(t, funder.EncodeFunderState(&before, nodes[0].state))

	transactionID, err := wire.RandomUid()
	require.NoError(t, err)
	err = net.control(nodes[0], &funder.CmdCreateTransaction{
		PaymentID:     paymentID,
		TransactionID: transactionID,
		Route:         wire.FriendsRoute{nodes[0].pk(), nodes[1].pk()},
		DestPayment:   amount.FromUint64(101),
	})
	require.ErrorIs(t, err, tokenchannel.ErrCreditExceeded)

	var after bytes.Buffer
	require.NoError(t, funder.EncodeFunderState(&after, nodes[0].state))
	require.Equal(t, before.Bytes(), after.Bytes())
}

// TestInconsistencyRecovery forges a move token on a live edge, watches
// both sides exchange reset terms, and completes the reset from the control
// surface.
func TestInconsistencyRecovery(t *testing.T) {
	t.Parallel()

	net, nodes := newTestNet(t, 2)
	net.connect(nodes[0], nodes[1], 100)

	// Forge a chained but foreign-signed move token towards node 1.
	channel := nodes[1].channelWith(t, nodes[0].pk())
	attacker, err := identity.New()
	require.NoError(t, err)
	forged := &wire.MoveToken{OldToken: channel.LastToken}
	forgedToken, err := forged.NewToken(nodes[0].pk())
	require.NoError(t, err)
	forged.Signature = attacker.Sign(forgedToken)

	net.handle(nodes[1], &funder.FriendIncoming{
		RemotePublicKey: nodes[0].pk(),
		Message:         forged,
	})
	net.run()

	// Both sides are now inconsistent and hold each other's terms.
	for i, node := range nodes {
		peer := nodes[1-i]
		status, ok := node.state.Friends[peer.pk()].
			ChannelStatus.(*funder.ChannelInconsistent)
		require.True(t, ok, "node %d channel still consistent", i)
		require.NotNil(t, status.RemoteResetTerms,
			"node %d misses remote terms", i)
	}

	// Node 1 accepts node 0's terms.
	status := nodes[1].state.Friends[nodes[0].pk()].
		ChannelStatus.(*funder.ChannelInconsistent)
	require.NoError(t, net.control(nodes[1], &funder.CmdResetFriendChannel{
		PublicKey:  nodes[0].pk(),
		ResetToken: status.RemoteResetTerms.ResetToken,
	}))
	net.run()

	// Both channels are consistent again with mirrored balances and an
	// identical deterministic token.
	chan0 := nodes[0].channelWith(t, nodes[1].pk())
	chan1 := nodes[1].channelWith(t, nodes[0].pk())
	require.Equal(t, chan0.LastToken, chan1.LastToken)
	require.True(t, chan0.Balance.Equal(chan1.Balance.Neg()))
	require.Empty(t, chan0.PendingLocalRequests)
	require.Empty(t, chan1.PendingRemoteRequests)

	// The rebuilt edge carries payments again.
	var invoiceID wire.InvoiceID
	invoiceID[0] = 0x33
	receipt := net.payInvoice(
		nodes[0], nodes[1],
		wire.FriendsRoute{nodes[0].pk(), nodes[1].pk()},
		7, invoiceID,
	)
	require.NoError(t, receipt.Verify(nodes[1].pk()))
}

// TestAckIdempotence verifies that taking a receipt twice is rejected the
// second time.
func TestAckIdempotence(t *testing.T) {
	t.Parallel()

	net, nodes := newTestNet(t, 2)
	net.connect(nodes[0], nodes[1], 100)

	var invoiceID wire.InvoiceID
	invoiceID[0] = 0x44
	_ = net.payInvoice(
		nodes[0], nodes[1],
		wire.FriendsRoute{nodes[0].pk(), nodes[1].pk()},
		5, invoiceID,
	)

	// payInvoice already acked and removed the payment; a second ack
	// must be rejected.
	var done *funder.PaymentDone
	for _, event := range nodes[0].controlEvents {
		if d, ok := event.(*funder.PaymentDone); ok {
			done = d
		}
	}
	require.NotNil(t, done)

	err := net.control(nodes[0], &funder.CmdAckClosePayment{
		PaymentID: done.PaymentID,
		AckUid:    done.AckUid,
	})
	require.ErrorIs(t, err, funder.ErrPaymentNotFound)
}

// TestDeterministicReplay re-derives every node's final state by replaying
// its recorded mutation log over the initial state, passing the log and the
// initial state through their canonical serialization on the way.
func TestDeterministicReplay(t *testing.T) {
	t.Parallel()

	net, nodes := newTestNet(t, 3)
	net.connect(nodes[0], nodes[1], 100)
	net.connect(nodes[1], nodes[2], 100)

	var invoiceID wire.InvoiceID
	invoiceID[0] = 0x55
	_ = net.payInvoice(
		nodes[0], nodes[2],
		wire.FriendsRoute{nodes[0].pk(), nodes[1].pk(), nodes[2].pk()},
		10, invoiceID,
	)

	for i, node := range nodes {
		// Round trip the initial state.
		var stateBuf bytes.Buffer
		require.NoError(t, funder.EncodeFunderState(
			&stateBuf, node.initialState,
		))
		replayed, err := funder.DecodeFunderState(&stateBuf)
		require.NoError(t, err, "node %d", i)

		// Round trip and replay the mutation log.
		for j, mutation := range node.mutations {
			var mutationBuf bytes.Buffer
			require.NoError(t, funder.EncodeFunderMutation(
				&mutationBuf, mutation,
			))
			decoded, err := funder.DecodeFunderMutation(&mutationBuf)
			require.NoError(t, err, "node %d mutation %d", i, j)

			replayed.Mutate(decoded)
		}

		// The replayed state must be bit identical to the live one.
		var live, replay bytes.Buffer
		require.NoError(t, funder.EncodeFunderState(&live, node.state))
		require.NoError(t, funder.EncodeFunderState(&replay, replayed))
		require.Equal(t, live.Bytes(), replay.Bytes(), "node %d", i)
	}
}

// TestReportRoundTrip verifies that the incrementally maintained report
// equals the report derived from the final state.
func TestReportRoundTrip(t *testing.T) {
	t.Parallel()

	net, nodes := newTestNet(t, 3)
	net.connect(nodes[0], nodes[1], 100)
	net.connect(nodes[1], nodes[2], 100)

	var invoiceID wire.InvoiceID
	invoiceID[0] = 0x66
	_ = net.payInvoice(
		nodes[0], nodes[2],
		wire.FriendsRoute{nodes[0].pk(), nodes[1].pk(), nodes[2].pk()},
		10, invoiceID,
	)

	for i, node := range nodes {
		expected := report.NewFunderReport(node.state)
		for pk := range expected.Friends {
			expected.Friends[pk].Online = node.ephemeral.IsOnline(pk)
		}
		require.Equal(t, expected, node.report, "node %d", i)
	}
}
