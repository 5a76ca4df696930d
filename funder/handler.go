package funder

import (
	"fmt"

	"github.com/credmesh/credmesh/amount"
	"github.com/credmesh/credmesh/identity"
	"github.com/credmesh/credmesh/tokenchannel"
	"github.com/credmesh/credmesh/wire"
	"github.com/go-errors/errors"
)

const (
	// DefaultMaxOperationsInBatch bounds the operations packed into one
	// move token.
	DefaultMaxOperationsInBatch = 16

	// DefaultMaxPendingOperations bounds the per-friend outbound
	// operation queue.
	DefaultMaxPendingOperations = 64

	// DefaultMaxPendingUserRequests bounds the per-friend queue of local
	// requests awaiting channel admission.
	DefaultMaxPendingUserRequests = 32
)

// Config bounds and parameterizes a Handler.
type Config struct {
	// MaxOperationsInBatch bounds the operations in one move token.
	MaxOperationsInBatch int

	// MaxPendingOperations bounds the per-friend outbound queue. Further
	// enqueues are rejected with a typed error.
	MaxPendingOperations int

	// MaxPendingUserRequests bounds the per-friend user request queue.
	MaxPendingUserRequests int

	// ForwardingFee is the flat fee this node takes for every request it
	// forwards. A request arriving with a smaller fee budget is
	// cancelled.
	ForwardingFee amount.Amount
}

// DefaultConfig returns the default handler bounds with a zero forwarding
// fee.
func DefaultConfig() Config {
	return Config{
		MaxOperationsInBatch:   DefaultMaxOperationsInBatch,
		MaxPendingOperations:   DefaultMaxPendingOperations,
		MaxPendingUserRequests: DefaultMaxPendingUserRequests,
	}
}

// Handler is the single entry point for all funder ingress events. It is a
// pure state transition: one event in, a list of mutations and outgoing
// communications out. The only sources of nondeterminism are the injected
// randomness hooks, which tests may pin.
type Handler struct {
	cfg Config

	identity *identity.Identity

	// Randomness hooks, replaceable in tests.
	newNonce     func() ([wire.NonceLen]byte, error)
	newPlainLock func() (wire.PlainLock, error)
	newUid       func() (wire.Uid, error)
}

// NewHandler creates a handler bound to the node's identity.
func NewHandler(id *identity.Identity, cfg Config) *Handler {
	return &Handler{
		cfg:          cfg,
		identity:     id,
		newNonce:     wire.RandomNonce,
		newPlainLock: wire.RandomPlainLock,
		newUid:       wire.RandomUid,
	}
}

// handlerCall carries the per-invocation context: the mutation sessions,
// the accumulated outputs, and the set of friends whose channels should be
// flushed before the invocation completes.
type handlerCall struct {
	h *Handler

	m *MutableFunderState
	e *MutableEphemeral

	out *HandlerOutput

	// dirty is the ordered set of friends to flush at the end of the
	// invocation.
	dirty []wire.PublicKey
}

// Handle processes one event against the passed state and ephemeral,
// mutating both in place. The returned output holds the mutation logs and
// all outgoing communications; the caller must persist the durable log
// before emitting any of the messages. A non-nil error means the event
// could not be processed at all and nothing was changed logically; such
// errors are limited to randomness and encoding failures.
func (h *Handler) Handle(state *FunderState, ephemeral *Ephemeral,
	event Event) (*HandlerOutput, error) {

	call := &handlerCall{
		h:   h,
		m:   NewMutableFunderState(state),
		e:   NewMutableEphemeral(ephemeral),
		out: &HandlerOutput{},
	}

	var err error
	switch ev := event.(type) {
	case *ControlIncoming:
		err = call.handleControl(ev)
	case *FriendIncoming:
		err = call.handleFriendIncoming(ev)
	case *LivenessChange:
		err = call.handleLiveness(ev)
	default:
		return nil, errors.Errorf("unknown event type %T", event)
	}
	if err != nil {
		return nil, err
	}

	// Opportunistically drain the pending queues of every friend the
	// event touched.
	for _, pk := range call.dirty {
		if err := call.flushFriend(pk, false); err != nil {
			return nil, err
		}
	}

	_, mutations, _ := call.m.Done()
	ephemeralMutations, _ := call.e.Done()
	call.out.Mutations = mutations
	call.out.EphemeralMutations = ephemeralMutations

	return call.out, nil
}

// state is a shorthand for the live state.
func (c *handlerCall) state() *FunderState {
	return c.m.State()
}

// friendMutate wraps a friend mutation into the funder log.
func (c *handlerCall) friendMutate(pk wire.PublicKey, fm FriendMutation) {
	c.m.Mutate(&FriendFunderMutation{PublicKey: pk, Mutation: fm})
}

// markDirty schedules a friend for flushing at the end of the invocation.
func (c *handlerCall) markDirty(pk wire.PublicKey) {
	for _, existing := range c.dirty {
		if existing == pk {
			return
		}
	}
	c.dirty = append(c.dirty, pk)
}

// sendFriendMessage queues an outgoing peer message.
func (c *handlerCall) sendFriendMessage(pk wire.PublicKey, msg wire.Message) {
	c.out.FriendMessages = append(c.out.FriendMessages, FriendMessage{
		PublicKey: pk,
		Message:   msg,
	})
}

// sendControlEvent queues an outgoing control event.
func (c *handlerCall) sendControlEvent(event ControlEvent) {
	c.out.ControlEvents = append(c.out.ControlEvents, event)
}

// localRelayAddrs strips the local names off the node's relay set.
func (c *handlerCall) localRelayAddrs() []wire.RelayAddress {
	relays := make([]wire.RelayAddress, 0, len(c.state().Relays))
	for _, relay := range c.state().Relays {
		relays = append(relays, relay.RelayAddress)
	}
	return relays
}

func relaySetsEqual(a, b []wire.RelayAddress) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// friendSendable reports whether messages can flow to the friend right now.
func (c *handlerCall) friendSendable(friend *FriendState) bool {
	return friend.Status == FriendEnabled &&
		c.e.Ephemeral().IsOnline(friend.RemotePublicKey)
}

// hasChannelWork reports whether the friend has anything waiting for the
// next move token.
func (c *handlerCall) hasChannelWork(friend *FriendState,
	channel *tokenchannel.TokenChannel) bool {

	if len(friend.PendingOperations) > 0 ||
		len(friend.PendingUserRequests) > 0 {

		return true
	}
	if channel.RemoteMaxDebt.Cmp(friend.WantedRemoteMaxDebt) != 0 {
		return true
	}
	if channel.LocalRequestsStatus != friend.WantedLocalRequestsStatus {
		return true
	}
	if !relaySetsEqual(channel.LocalRelays, c.localRelayAddrs()) {
		return true
	}
	return false
}

// flushFriend drains the friend's pending work into a move token if we hold
// the token, or requests the token if we don't. With force set, an empty
// move token is sent to hand the token over even when we have nothing to
// say.
func (c *handlerCall) flushFriend(pk wire.PublicKey, force bool) error {
	friend, ok := c.state().Friends[pk]
	if !ok {
		return nil
	}
	if !c.friendSendable(friend) {
		return nil
	}
	channel, ok := friend.Channel()
	if !ok {
		return nil
	}

	if channel.Direction == tokenchannel.DirIncoming {
		if c.hasChannelWork(friend, channel) {
			c.sendFriendMessage(pk, &wire.RequestToken{})
		}
		return nil
	}

	outgoing, err := tokenchannel.NewOutgoingMoveToken(channel)
	if err != nil {
		return err
	}

	// Sync the wanted channel configuration first: the ceiling we grant,
	// our requests status, and our relay set.
	if channel.RemoteMaxDebt.Cmp(friend.WantedRemoteMaxDebt) != 0 {
		err := outgoing.QueueOperation(&wire.SetRemoteMaxDebt{
			Debt: friend.WantedRemoteMaxDebt,
		})
		if err != nil {
			return err
		}
	}
	if channel.LocalRequestsStatus != friend.WantedLocalRequestsStatus {
		err := outgoing.QueueOperation(&wire.SetRequestsStatus{
			Status: friend.WantedLocalRequestsStatus,
		})
		if err != nil {
			return err
		}
	}
	if localRelays := c.localRelayAddrs(); !relaySetsEqual(
		channel.LocalRelays, localRelays,
	) {
		err := outgoing.QueueOperation(&wire.SetRelays{
			Relays: localRelays,
		})
		if err != nil {
			return err
		}
	}

	// Drain the outbound operation queue front to back until the batch
	// is full.
	for len(friend.PendingOperations) > 0 &&
		outgoing.NumOperations() < c.h.cfg.MaxOperationsInBatch {

		op := friend.PendingOperations[0]
		c.friendMutate(pk, &PopFrontPendingOperation{})

		if err := outgoing.QueueOperation(op); err != nil {
			// The operation was admissible when queued but the
			// channel has moved since. Dropping it is safe: the
			// request it belongs to is no longer in a state this
			// operation could act on.
			log.Warnf("Dropping stale operation %T for friend "+
				"%v: %v", op, pk, err)
		}
	}

	// Then admit local user requests.
	for len(friend.PendingUserRequests) > 0 &&
		outgoing.NumOperations() < c.h.cfg.MaxOperationsInBatch {

		request := friend.PendingUserRequests[0]
		c.friendMutate(pk, &PopFrontPendingUserRequest{})

		if err := outgoing.QueueOperation(&request); err != nil {
			c.cancelLocalTransaction(
				request.RequestID, cancelReasonFromErr(err),
			)
		}
	}

	if outgoing.IsEmpty() && !force {
		return nil
	}

	nonce, err := c.h.newNonce()
	if err != nil {
		return err
	}
	moveToken, mutations, err := outgoing.Finalize(c.h.identity, nonce)
	if err != nil {
		return err
	}
	for _, mutation := range mutations {
		c.friendMutate(pk, &FriendTcMutation{Mutation: mutation})
	}
	c.sendFriendMessage(pk, moveToken)

	return nil
}

// cancelReasonFromErr maps a channel admission error onto the wire level
// cancellation reason.
func cancelReasonFromErr(err error) wire.CancelReason {
	switch err {
	case tokenchannel.ErrCreditExceeded, tokenchannel.ErrBalanceOverflow:
		return wire.CancelCreditExceeded
	case tokenchannel.ErrRequestsClosed:
		return wire.CancelRequestsClosed
	case tokenchannel.ErrDuplicateRequestId:
		return wire.CancelDuplicateRequestId
	case tokenchannel.ErrRouteInvalid:
		return wire.CancelRouteInvalid
	default:
		return wire.CancelDestRejected
	}
}

// cancelLocalTransaction unwinds a buyer-side transaction that failed
// before or during admission and notifies the local application.
func (c *handlerCall) cancelLocalTransaction(transactionID wire.Uid,
	reason wire.CancelReason) {

	transaction, ok := c.state().OpenTransactions[transactionID]
	if !ok {
		return
	}
	paymentID := transaction.PaymentID
	payment, ok := c.state().Payments[paymentID]
	if !ok {
		panic(fmt.Sprintf("transaction %v references unknown "+
			"payment %v", transactionID, paymentID))
	}

	c.m.Mutate(&RemoveTransaction{TransactionID: transactionID})
	c.m.Mutate(&SetPaymentNumTransactions{
		PaymentID:       paymentID,
		NumTransactions: payment.NumTransactions - 1,
	})
	c.sendControlEvent(&TransactionFailed{
		PaymentID:     paymentID,
		TransactionID: transactionID,
		Reason:        reason,
	})

	c.maybeFinishClosingPayment(paymentID)
}

// maybeFinishClosingPayment emits the close response once a closing payment
// has no transactions left in flight.
func (c *handlerCall) maybeFinishClosingPayment(paymentID wire.PaymentID) {
	payment, ok := c.state().Payments[paymentID]
	if !ok {
		return
	}
	if payment.AckUid == nil || payment.NumTransactions != 0 {
		return
	}

	done := &PaymentDone{
		PaymentID: paymentID,
		AckUid:    *payment.AckUid,
	}
	if payment.ReceiptStatus == ReceiptPending {
		receipt := *payment.Receipt
		done.Receipt = &receipt
	}
	c.sendControlEvent(done)
}

// checkRequestAdmission verifies that a request would currently be admitted
// to the friend's channel even after all already-queued operations are
// applied. Pending queues never hold a request the channel lacks capacity
// for.
func (c *handlerCall) checkRequestAdmission(friend *FriendState,
	request *wire.RequestSendFunds) error {

	channel, ok := friend.Channel()
	if !ok {
		return ErrChannelInconsistent
	}

	// Simulate on a mirror that already holds the token, replaying the
	// queued work first.
	mirror := channel.Copy()
	mirror.Direction = tokenchannel.DirOutgoing
	outgoing, err := tokenchannel.NewOutgoingMoveToken(mirror)
	if err != nil {
		return err
	}
	for _, op := range friend.PendingOperations {
		// Stale operations are dropped at flush time; ignore them
		// here as well.
		_ = outgoing.QueueOperation(op)
	}
	for i := range friend.PendingUserRequests {
		_ = outgoing.QueueOperation(&friend.PendingUserRequests[i])
	}

	return outgoing.QueueOperation(request)
}

// pushOp appends an operation to a friend's outbound queue, honoring the
// hard bound.
func (c *handlerCall) pushOp(pk wire.PublicKey, op wire.Operation) error {
	friend, ok := c.state().Friends[pk]
	if !ok {
		return ErrFriendNotFound
	}

	// An inconsistent channel carries no pending operations; only reset
	// traffic may flow until it is rebuilt.
	if _, ok := friend.Channel(); !ok {
		return ErrChannelInconsistent
	}
	if len(friend.PendingOperations) >= c.h.cfg.MaxPendingOperations {
		return ErrQueueFull
	}

	c.friendMutate(pk, &PushBackPendingOperation{Op: op})
	c.markDirty(pk)
	return nil
}
