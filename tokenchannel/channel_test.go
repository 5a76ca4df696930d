package tokenchannel

import (
	"bytes"
	"testing"

	"github.com/credmesh/credmesh/amount"
	"github.com/credmesh/credmesh/identity"
	"github.com/credmesh/credmesh/wire"
)

// testPair is a pair of channel mirrors plus their identities, with the
// first element always the side that currently holds the token.
type testPair struct {
	t *testing.T

	idA, idB *identity.Identity
	tcA, tcB *TokenChannel
}

func newTestPair(t *testing.T) *testPair {
	t.Helper()

	idA, err := identity.New()
	if err != nil {
		t.Fatalf("unable to create identity: %v", err)
	}
	idB, err := identity.New()
	if err != nil {
		t.Fatalf("unable to create identity: %v", err)
	}

	// Make A the side that starts out holding the token.
	pkA, pkB := idA.PublicKey(), idB.PublicKey()
	if bytes.Compare(pkA[:], pkB[:]) < 0 {
		idA, idB = idB, idA
		pkA, pkB = pkB, pkA
	}

	p := &testPair{
		t:   t,
		idA: idA,
		idB: idB,
		tcA: New(pkA, pkB),
		tcB: New(pkB, pkA),
	}
	if p.tcA.Direction != DirOutgoing {
		t.Fatalf("side A does not hold the token")
	}
	if p.tcB.Direction != DirIncoming {
		t.Fatalf("side B unexpectedly holds the token")
	}
	if p.tcA.LastToken != p.tcB.LastToken {
		t.Fatalf("initial tokens differ")
	}

	return p
}

// deliver composes a move token with ops on from, commits it locally, then
// receives and commits it on to. It returns the receiver's output.
func deliver(t *testing.T, from *TokenChannel, fromID *identity.Identity,
	to *TokenChannel, ops []wire.Operation) *ReceiveOutput {

	t.Helper()

	outgoing, err := NewOutgoingMoveToken(from)
	if err != nil {
		t.Fatalf("unable to start move token: %v", err)
	}
	for _, op := range ops {
		if err := outgoing.QueueOperation(op); err != nil {
			t.Fatalf("unable to queue %T: %v", op, err)
		}
	}

	nonce, err := wire.RandomNonce()
	if err != nil {
		t.Fatalf("unable to create nonce: %v", err)
	}
	mt, mutations, err := outgoing.Finalize(fromID, nonce)
	if err != nil {
		t.Fatalf("unable to finalize move token: %v", err)
	}
	for _, mutation := range mutations {
		from.Mutate(mutation)
	}

	output, err := to.ReceiveMoveToken(mt)
	if err != nil {
		t.Fatalf("unable to receive move token: %v", err)
	}
	if output.Duplicate {
		t.Fatalf("fresh move token treated as duplicate")
	}
	for _, mutation := range output.Mutations {
		to.Mutate(mutation)
	}

	if from.LastToken != to.LastToken {
		t.Fatalf("tokens diverged after delivery")
	}

	return output
}

// openBothSides exchanges the max debt and requests status operations in
// both directions so funds can flow. On return, A holds the token again.
func (p *testPair) openBothSides(maxDebt uint64) {
	p.t.Helper()

	ops := []wire.Operation{
		&wire.SetRemoteMaxDebt{Debt: amount.FromUint64(maxDebt)},
		&wire.SetRequestsStatus{Status: wire.RequestsOpen},
	}
	deliver(p.t, p.tcA, p.idA, p.tcB, ops)
	deliver(p.t, p.tcB, p.idB, p.tcA, ops)
}

func testRequestOp(route wire.FriendsRoute, destPayment, leftFees uint64,
	srcPlain wire.PlainLock) *wire.RequestSendFunds {

	op := &wire.RequestSendFunds{
		Route:         route,
		DestPayment:   amount.FromUint64(destPayment),
		SrcHashedLock: srcPlain.Hash(),
		LeftFees:      amount.FromUint64(leftFees),
	}
	op.RequestID[0] = 0x01
	op.InvoiceID[0] = 0x02
	return op
}

func TestTokenChannelPaymentCycle(t *testing.T) {
	t.Parallel()

	p := newTestPair(t)
	p.openBothSides(100)

	if p.tcA.LocalMaxDebt.Cmp(amount.FromUint64(100)) != 0 {
		t.Fatalf("granted ceiling not mirrored")
	}
	if p.tcB.RemoteRequestsStatus != wire.RequestsOpen {
		t.Fatalf("requests status not mirrored")
	}

	var srcPlain, destPlain wire.PlainLock
	srcPlain[0] = 0xaa
	destPlain[0] = 0xbb

	route := wire.FriendsRoute{
		p.tcA.LocalPublicKey, p.tcB.LocalPublicKey,
	}
	req := testRequestOp(route, 10, 0, srcPlain)

	// A pushes the request; B reserves the credits.
	output := deliver(t, p.tcA, p.idA, p.tcB, []wire.Operation{req})
	if len(output.Messages) != 1 {
		t.Fatalf("expected 1 message, got %v", len(output.Messages))
	}
	if _, ok := output.Messages[0].(*IncomingRequest); !ok {
		t.Fatalf("expected IncomingRequest, got %T", output.Messages[0])
	}
	if p.tcB.RemotePendingDebt.Cmp(amount.FromUint64(10)) != 0 {
		t.Fatalf("remote pending debt not reserved: %v",
			p.tcB.RemotePendingDebt)
	}
	if p.tcA.LocalPendingDebt.Cmp(amount.FromUint64(10)) != 0 {
		t.Fatalf("local pending debt not reserved: %v",
			p.tcA.LocalPendingDebt)
	}

	// B responds and collects in a single batch.
	sigDigest, err := wire.ResponseSigDigest(
		req.RequestID, req.InvoiceID, destPlain.Hash(),
		req.DestPayment, req.DestPayment,
	)
	if err != nil {
		t.Fatalf("unable to compute response digest: %v", err)
	}
	response := &wire.ResponseSendFunds{
		RequestID:      req.RequestID,
		DestHashedLock: destPlain.Hash(),
		Signature:      p.idB.Sign(sigDigest),
	}
	collect := &wire.CollectSendFunds{
		RequestID:     req.RequestID,
		SrcPlainLock:  srcPlain,
		DestPlainLock: destPlain,
	}
	output = deliver(
		t, p.tcB, p.idB, p.tcA, []wire.Operation{response, collect},
	)
	if len(output.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %v", len(output.Messages))
	}
	if _, ok := output.Messages[0].(*IncomingResponse); !ok {
		t.Fatalf("expected IncomingResponse, got %T",
			output.Messages[0])
	}
	msgCollect, ok := output.Messages[1].(*IncomingCollect)
	if !ok {
		t.Fatalf("expected IncomingCollect, got %T", output.Messages[1])
	}
	if msgCollect.SrcPlainLock != srcPlain {
		t.Fatalf("wrong source preimage in collect")
	}

	// Balances committed, reservations released, no requests in flight.
	if !p.tcA.Balance.Equal(amount.BalanceFromInt64(-10)) {
		t.Fatalf("wrong balance on A: %v", p.tcA.Balance)
	}
	if !p.tcB.Balance.Equal(amount.BalanceFromInt64(10)) {
		t.Fatalf("wrong balance on B: %v", p.tcB.Balance)
	}
	if !p.tcA.LocalPendingDebt.IsZero() || !p.tcB.RemotePendingDebt.IsZero() {
		t.Fatalf("pending debt not released")
	}
	if len(p.tcA.PendingLocalRequests) != 0 ||
		len(p.tcB.PendingRemoteRequests) != 0 {

		t.Fatalf("requests still pending after collect")
	}
}

func TestTokenChannelCancelReleasesReservation(t *testing.T) {
	t.Parallel()

	p := newTestPair(t)
	p.openBothSides(100)

	var srcPlain wire.PlainLock
	srcPlain[0] = 0xcc
	route := wire.FriendsRoute{
		p.tcA.LocalPublicKey, p.tcB.LocalPublicKey,
	}
	req := testRequestOp(route, 30, 0, srcPlain)
	deliver(t, p.tcA, p.idA, p.tcB, []wire.Operation{req})

	cancel := &wire.CancelSendFunds{
		RequestID: req.RequestID,
		Reason:    wire.CancelDestRejected,
	}
	output := deliver(t, p.tcB, p.idB, p.tcA, []wire.Operation{cancel})
	if _, ok := output.Messages[0].(*IncomingCancel); !ok {
		t.Fatalf("expected IncomingCancel, got %T", output.Messages[0])
	}

	if !p.tcA.Balance.IsZero() || !p.tcB.Balance.IsZero() {
		t.Fatalf("cancel moved the balance")
	}
	if !p.tcA.LocalPendingDebt.IsZero() || !p.tcB.RemotePendingDebt.IsZero() {
		t.Fatalf("cancel did not release the reservation")
	}
}

func TestTokenChannelCreditExceeded(t *testing.T) {
	t.Parallel()

	p := newTestPair(t)
	p.openBothSides(100)

	var srcPlain wire.PlainLock
	route := wire.FriendsRoute{
		p.tcA.LocalPublicKey, p.tcB.LocalPublicKey,
	}
	req := testRequestOp(route, 101, 0, srcPlain)

	outgoing, err := NewOutgoingMoveToken(p.tcA)
	if err != nil {
		t.Fatalf("unable to start move token: %v", err)
	}
	if err := outgoing.QueueOperation(req); err != ErrCreditExceeded {
		t.Fatalf("expected ErrCreditExceeded, got %v", err)
	}
	if !outgoing.IsEmpty() {
		t.Fatalf("rejected operation was queued")
	}

	// A partially filled channel only admits the remainder.
	req2 := testRequestOp(route, 60, 0, srcPlain)
	req2.RequestID[0] = 0x07
	if err := outgoing.QueueOperation(req2); err != nil {
		t.Fatalf("unable to queue first request: %v", err)
	}
	req3 := testRequestOp(route, 60, 0, srcPlain)
	req3.RequestID[0] = 0x08
	if err := outgoing.QueueOperation(req3); err != ErrCreditExceeded {
		t.Fatalf("expected ErrCreditExceeded, got %v", err)
	}
}

func TestTokenChannelDuplicateRequestId(t *testing.T) {
	t.Parallel()

	p := newTestPair(t)
	p.openBothSides(100)

	var srcPlain wire.PlainLock
	route := wire.FriendsRoute{
		p.tcA.LocalPublicKey, p.tcB.LocalPublicKey,
	}
	req := testRequestOp(route, 10, 0, srcPlain)

	outgoing, err := NewOutgoingMoveToken(p.tcA)
	if err != nil {
		t.Fatalf("unable to start move token: %v", err)
	}
	if err := outgoing.QueueOperation(req); err != nil {
		t.Fatalf("unable to queue request: %v", err)
	}
	if err := outgoing.QueueOperation(req); err != ErrDuplicateRequestId {
		t.Fatalf("expected ErrDuplicateRequestId, got %v", err)
	}
}

func TestTokenChannelForgedMoveToken(t *testing.T) {
	t.Parallel()

	p := newTestPair(t)
	p.openBothSides(100)

	// A signed move token that does not chain onto B's current token.
	forged := &wire.MoveToken{}
	forged.OldToken[0] = 0xde
	newToken, err := forged.NewToken(p.idA.PublicKey())
	if err != nil {
		t.Fatalf("unable to compute token: %v", err)
	}
	forged.Signature = p.idA.Sign(newToken)

	if _, err := p.tcB.ReceiveMoveToken(forged); err != ErrInvalidChainLink {
		t.Fatalf("expected ErrInvalidChainLink, got %v", err)
	}

	// A correctly chained move token signed by the wrong key.
	outgoing, err := NewOutgoingMoveToken(p.tcA)
	if err != nil {
		t.Fatalf("unable to start move token: %v", err)
	}
	nonce, err := wire.RandomNonce()
	if err != nil {
		t.Fatalf("unable to create nonce: %v", err)
	}
	badSigner, err := identity.New()
	if err != nil {
		t.Fatalf("unable to create identity: %v", err)
	}
	mt, _, err := outgoing.Finalize(badSigner, nonce)
	if err != nil {
		t.Fatalf("unable to finalize move token: %v", err)
	}
	mt.OldToken = p.tcB.LastToken

	if _, err := p.tcB.ReceiveMoveToken(mt); err == nil {
		t.Fatalf("move token with foreign signature accepted")
	}
}

func TestTokenChannelDuplicateDelivery(t *testing.T) {
	t.Parallel()

	p := newTestPair(t)

	outgoing, err := NewOutgoingMoveToken(p.tcA)
	if err != nil {
		t.Fatalf("unable to start move token: %v", err)
	}
	nonce, err := wire.RandomNonce()
	if err != nil {
		t.Fatalf("unable to create nonce: %v", err)
	}
	mt, mutations, err := outgoing.Finalize(p.idA, nonce)
	if err != nil {
		t.Fatalf("unable to finalize move token: %v", err)
	}
	for _, mutation := range mutations {
		p.tcA.Mutate(mutation)
	}

	output, err := p.tcB.ReceiveMoveToken(mt)
	if err != nil {
		t.Fatalf("unable to receive move token: %v", err)
	}
	for _, mutation := range output.Mutations {
		p.tcB.Mutate(mutation)
	}

	// Receiving the exact same message again must be flagged as a
	// duplicate without any effect.
	output, err = p.tcB.ReceiveMoveToken(mt)
	if err != nil {
		t.Fatalf("duplicate delivery rejected: %v", err)
	}
	if !output.Duplicate {
		t.Fatalf("duplicate delivery not detected")
	}
}

func TestTokenChannelResetConvergence(t *testing.T) {
	t.Parallel()

	p := newTestPair(t)
	p.openBothSides(100)

	// Establish a non-zero balance, then simulate divergence.
	var srcPlain, destPlain wire.PlainLock
	srcPlain[0], destPlain[0] = 0x11, 0x22
	route := wire.FriendsRoute{
		p.tcA.LocalPublicKey, p.tcB.LocalPublicKey,
	}
	req := testRequestOp(route, 25, 0, srcPlain)
	deliver(t, p.tcA, p.idA, p.tcB, []wire.Operation{req})

	sigDigest, err := wire.ResponseSigDigest(
		req.RequestID, req.InvoiceID, destPlain.Hash(),
		req.DestPayment, req.DestPayment,
	)
	if err != nil {
		t.Fatalf("unable to compute response digest: %v", err)
	}
	deliver(t, p.tcB, p.idB, p.tcA, []wire.Operation{
		&wire.ResponseSendFunds{
			RequestID:      req.RequestID,
			DestHashedLock: destPlain.Hash(),
			Signature:      p.idB.Sign(sigDigest),
		},
		&wire.CollectSendFunds{
			RequestID:     req.RequestID,
			SrcPlainLock:  srcPlain,
			DestPlainLock: destPlain,
		},
	})

	termsA := p.tcA.ResetTerms()
	termsB := p.tcB.ResetTerms()
	if !termsA.BalanceForReset.Equal(amount.BalanceFromInt64(-25)) {
		t.Fatalf("wrong reset balance on A: %v", termsA.BalanceForReset)
	}

	// A accepts B's terms and sends the reset move token; B rebuilds
	// from it against its own terms.
	resetMT, err := BuildResetMoveToken(p.idA, termsB)
	if err != nil {
		t.Fatalf("unable to build reset move token: %v", err)
	}
	freshA, err := NewFromLocalReset(
		p.tcA.LocalPublicKey, p.tcA.RemotePublicKey, resetMT, termsB,
	)
	if err != nil {
		t.Fatalf("unable to rebuild A: %v", err)
	}
	freshB, err := NewFromRemoteReset(
		p.tcB.LocalPublicKey, p.tcB.RemotePublicKey, resetMT, termsB,
	)
	if err != nil {
		t.Fatalf("unable to rebuild B: %v", err)
	}

	if freshA.LastToken != freshB.LastToken {
		t.Fatalf("post-reset tokens differ")
	}
	if !freshA.Balance.Equal(freshB.Balance.Neg()) {
		t.Fatalf("post-reset balances are not mirrored: %v vs %v",
			freshA.Balance, freshB.Balance)
	}
	if !freshB.Balance.Equal(termsB.BalanceForReset) {
		t.Fatalf("post-reset balance does not honor the agreed terms")
	}
	if freshA.Direction != DirIncoming || freshB.Direction != DirOutgoing {
		t.Fatalf("post-reset directions are wrong")
	}
	if len(freshA.PendingLocalRequests) != 0 ||
		len(freshB.PendingRemoteRequests) != 0 {

		t.Fatalf("post-reset channels carry pending requests")
	}

	// A reset move token chained onto foreign terms must be rejected.
	if _, err := NewFromRemoteReset(
		p.tcB.LocalPublicKey, p.tcB.RemotePublicKey, resetMT, termsA,
	); err == nil {
		t.Fatalf("reset move token accepted against foreign terms")
	}
}
