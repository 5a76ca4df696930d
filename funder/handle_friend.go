package funder

import (
	"github.com/credmesh/credmesh/amount"
	"github.com/credmesh/credmesh/identity"
	"github.com/credmesh/credmesh/tokenchannel"
	"github.com/credmesh/credmesh/wire"
)

// handleFriendIncoming dispatches a message received from a peer. Messages
// from unknown peers are dropped: the channeler should not have delivered
// them in the first place.
func (c *handlerCall) handleFriendIncoming(ev *FriendIncoming) error {
	pk := ev.RemotePublicKey
	if _, ok := c.state().Friends[pk]; !ok {
		log.Warnf("Dropping %T from unknown peer %v", ev.Message, pk)
		return nil
	}

	switch msg := ev.Message.(type) {
	case *wire.MoveToken:
		return c.handleMoveToken(pk, msg)
	case *wire.InconsistencyError:
		return c.handleInconsistencyError(pk, msg)
	case *wire.RelaysUpdate:
		return c.handleRelaysUpdate(pk, msg)
	case *wire.RequestToken:
		return c.handleRequestToken(pk)
	default:
		log.Warnf("Dropping message of unknown type %T from %v",
			ev.Message, pk)
		return nil
	}
}

// handleRelaysUpdate refreshes the friend's relay set and reconfigures the
// channeler.
func (c *handlerCall) handleRelaysUpdate(pk wire.PublicKey,
	msg *wire.RelaysUpdate) error {

	c.friendMutate(pk, &SetFriendRelays{Relays: msg.Relays})

	friend := c.state().Friends[pk]
	if friend.Status == FriendEnabled {
		c.out.ChannelerConfigs = append(
			c.out.ChannelerConfigs, &ChannelerUpdateFriend{
				PublicKey: pk,
				Relays:    friend.Relays,
			},
		)
	}
	return nil
}

// handleRequestToken hands the token over to a friend that asked for it.
func (c *handlerCall) handleRequestToken(pk wire.PublicKey) error {
	friend := c.state().Friends[pk]
	channel, ok := friend.Channel()
	if !ok {
		return nil
	}
	if channel.Direction != tokenchannel.DirOutgoing {
		return nil
	}
	return c.flushFriend(pk, true)
}

// handleMoveToken runs the full receive path: reset completion while
// inconsistent, duplicate retransmission, verification and replay while
// consistent, and the transition to inconsistent on any verification
// failure.
func (c *handlerCall) handleMoveToken(pk wire.PublicKey,
	msg *wire.MoveToken) error {

	friend := c.state().Friends[pk]

	if status, ok := friend.ChannelStatus.(*ChannelInconsistent); ok {
		return c.handleResetMoveToken(pk, status, msg)
	}

	channel := friend.mustChannel()
	output, err := channel.ReceiveMoveToken(msg)
	if err != nil {
		log.Warnf("Move token from %v failed verification: %v; "+
			"marking channel inconsistent", pk, err)
		return c.goInconsistent(pk)
	}

	if output.Duplicate {
		// The remote side retransmitted its last move token, which
		// means it has not seen our answer. Retransmit it.
		if channel.Direction == tokenchannel.DirIncoming &&
			channel.LastMoveToken != nil {

			c.sendFriendMessage(pk, channel.LastMoveToken)
		}
		return nil
	}

	for _, mutation := range output.Mutations {
		c.friendMutate(pk, &FriendTcMutation{Mutation: mutation})
	}
	for _, message := range output.Messages {
		if err := c.processIncomingMessage(pk, message); err != nil {
			return err
		}
	}

	c.markDirty(pk)
	return nil
}

// handleResetMoveToken checks whether a move token received on an
// inconsistent channel completes the reset dance by chaining onto our reset
// terms.
func (c *handlerCall) handleResetMoveToken(pk wire.PublicKey,
	status *ChannelInconsistent, msg *wire.MoveToken) error {

	if msg.OldToken != status.LocalResetTerms.ResetToken {
		log.Debugf("Ignoring move token from %v on inconsistent "+
			"channel", pk)
		return nil
	}

	friend := c.state().Friends[pk]
	if _, err := tokenchannel.NewFromRemoteReset(
		friend.LocalPublicKey, pk, msg, status.LocalResetTerms,
	); err != nil {
		log.Warnf("Invalid reset move token from %v: %v", pk, err)
		return nil
	}

	c.friendMutate(pk, &RemoteReset{MoveToken: msg})
	log.Infof("Channel with %v rebuilt from remote reset", pk)

	c.markDirty(pk)
	return nil
}

// handleInconsistencyError records the remote side's reset terms, moving to
// the inconsistent state first if we had not noticed the divergence
// ourselves yet.
func (c *handlerCall) handleInconsistencyError(pk wire.PublicKey,
	msg *wire.InconsistencyError) error {

	digest, err := msg.Terms.SigDigest()
	if err != nil {
		return err
	}
	if err := identity.VerifySig(pk, digest, msg.Signature); err != nil {
		log.Warnf("Dropping inconsistency error from %v with bad "+
			"signature: %v", pk, err)
		return nil
	}

	friend := c.state().Friends[pk]
	if _, ok := friend.ChannelStatus.(*ChannelConsistent); ok {
		if err := c.goInconsistent(pk); err != nil {
			return err
		}
	}

	c.friendMutate(pk, &SetRemoteResetTerms{Terms: msg.Terms})
	return nil
}

// goInconsistent transitions a friend's channel to the inconsistent state
// and sends our signed reset terms.
func (c *handlerCall) goInconsistent(pk wire.PublicKey) error {
	friend := c.state().Friends[pk]
	channel := friend.mustChannel()

	// Buyer-side transactions riding on this channel die with it: their
	// reservations are dropped by the reset.
	for requestID := range channel.PendingLocalRequests {
		c.cancelLocalTransaction(
			requestID, wire.CancelFriendNotReady,
		)
	}
	for _, request := range friend.PendingUserRequests {
		c.cancelLocalTransaction(
			request.RequestID, wire.CancelFriendNotReady,
		)
	}

	terms := channel.ResetTerms()
	c.friendMutate(pk, &SetChannelInconsistent{LocalResetTerms: terms})

	return c.sendInconsistencyError(pk, terms)
}

// sendInconsistencyError signs and sends our reset terms.
func (c *handlerCall) sendInconsistencyError(pk wire.PublicKey,
	terms wire.ResetTerms) error {

	digest, err := terms.SigDigest()
	if err != nil {
		return err
	}
	c.sendFriendMessage(pk, &wire.InconsistencyError{
		Terms:     terms,
		Signature: c.h.identity.Sign(digest),
	})
	return nil
}

// processIncomingMessage routes one funds-level event produced by the
// channel replay: deliver to the local node if we are the destination or
// origin, forward along the route otherwise.
func (c *handlerCall) processIncomingMessage(pk wire.PublicKey,
	message tokenchannel.IncomingMessage) error {

	switch msg := message.(type) {
	case *tokenchannel.IncomingRequest:
		return c.processIncomingRequest(pk, msg)
	case *tokenchannel.IncomingResponse:
		return c.processIncomingResponse(pk, msg)
	case *tokenchannel.IncomingCancel:
		return c.processIncomingCancel(pk, msg)
	case *tokenchannel.IncomingCollect:
		return c.processIncomingCollect(pk, msg)
	default:
		log.Errorf("Unknown incoming message type %T", message)
		return nil
	}
}

// cancelUpstream pushes a cancel for a request we cannot serve back to the
// friend that sent it.
func (c *handlerCall) cancelUpstream(pk wire.PublicKey, requestID wire.Uid,
	reason wire.CancelReason) error {

	return c.pushOp(pk, &wire.CancelSendFunds{
		RequestID: requestID,
		Reason:    reason,
	})
}

// processIncomingRequest handles a request pushed to us: either we are the
// destination seller, or we forward it one hop further.
func (c *handlerCall) processIncomingRequest(pk wire.PublicKey,
	msg *tokenchannel.IncomingRequest) error {

	request := msg.Request
	localPK := c.state().LocalPublicKey

	if request.Route.IsDest(localPK) {
		return c.processRequestAsDest(pk, request)
	}

	nextPK, ok := request.Route.NextHop(localPK)
	if !ok {
		return c.cancelUpstream(
			pk, request.RequestID, wire.CancelRouteInvalid,
		)
	}

	nextFriend, ok := c.state().Friends[nextPK]
	if !ok {
		return c.cancelUpstream(
			pk, request.RequestID, wire.CancelFriendNotReady,
		)
	}
	if !c.friendSendable(nextFriend) {
		return c.cancelUpstream(
			pk, request.RequestID, wire.CancelFriendNotReady,
		)
	}
	if len(nextFriend.PendingOperations) >=
		c.h.cfg.MaxPendingOperations {

		return c.cancelUpstream(
			pk, request.RequestID, wire.CancelQueueFull,
		)
	}

	// Take our forwarding fee out of the remaining budget.
	leftFees, err := amount.CheckedSub(
		request.LeftFees, c.h.cfg.ForwardingFee,
	)
	if err != nil {
		return c.cancelUpstream(
			pk, request.RequestID, wire.CancelCreditExceeded,
		)
	}

	forwarded := request
	forwarded.LeftFees = leftFees
	if err := c.checkRequestAdmission(nextFriend, &forwarded); err != nil {
		return c.cancelUpstream(
			pk, request.RequestID, cancelReasonFromErr(err),
		)
	}

	return c.pushOp(nextPK, &forwarded)
}

// processRequestAsDest handles a request paying one of our open invoices:
// record a fresh destination lock and answer with a signed response. The
// collect leg is released later, when the buyer's commit arrives through
// the seller application.
func (c *handlerCall) processRequestAsDest(pk wire.PublicKey,
	request wire.RequestSendFunds) error {

	invoice, ok := c.state().OpenInvoices[request.InvoiceID]
	if !ok {
		return c.cancelUpstream(
			pk, request.RequestID, wire.CancelDestRejected,
		)
	}
	if request.DestPayment.Cmp(invoice.TotalDestPayment) > 0 {
		return c.cancelUpstream(
			pk, request.RequestID, wire.CancelDestRejected,
		)
	}

	destPlainLock, err := c.h.newPlainLock()
	if err != nil {
		return err
	}
	c.m.Mutate(&AddDestPlainLock{
		InvoiceID: request.InvoiceID,
		RequestID: request.RequestID,
		PlainLock: destPlainLock,
	})

	sigDigest, err := wire.ResponseSigDigest(
		request.RequestID, request.InvoiceID, destPlainLock.Hash(),
		request.DestPayment, invoice.TotalDestPayment,
	)
	if err != nil {
		return err
	}

	return c.pushOp(pk, &wire.ResponseSendFunds{
		RequestID:      request.RequestID,
		DestHashedLock: destPlainLock.Hash(),
		Signature:      c.h.identity.Sign(sigDigest),
	})
}

// processIncomingResponse handles a response crossing back towards the
// buyer.
func (c *handlerCall) processIncomingResponse(pk wire.PublicKey,
	msg *tokenchannel.IncomingResponse) error {

	requestID := msg.Request.RequestID
	localPK := c.state().LocalPublicKey

	transaction, ok := c.state().OpenTransactions[requestID]
	if ok {
		// We are the buyer. Record the seller material and hand the
		// commit to the local application; it reaches the seller out
		// of band.
		payment, ok := c.state().Payments[transaction.PaymentID]
		if !ok {
			log.Errorf("Transaction %v references unknown "+
				"payment %v", requestID, transaction.PaymentID)
			return nil
		}

		sigDigest, err := wire.ResponseSigDigest(
			requestID, payment.InvoiceID, msg.Request.DestHashedLock,
			msg.Request.DestPayment, payment.TotalDestPayment,
		)
		if err != nil {
			return err
		}
		if err := identity.VerifySig(
			payment.DestPublicKey, sigDigest, msg.Signature,
		); err != nil {
			log.Warnf("Response signature for transaction %v "+
				"does not verify: %v", requestID, err)
		}

		c.m.Mutate(&SetTransactionResponse{
			TransactionID:  requestID,
			DestHashedLock: msg.Request.DestHashedLock,
			Signature:      msg.Signature,
		})
		c.sendControlEvent(&TransactionReady{
			PaymentID: transaction.PaymentID,
			InvoiceID: payment.InvoiceID,
			Commit: TransactionCommit{
				RequestID:    requestID,
				SrcPlainLock: transaction.SrcPlainLock,
			},
		})
		return nil
	}

	// Forward the response towards the buyer.
	prevPK, ok := msg.Request.Route.PrevHop(localPK)
	if !ok {
		log.Errorf("Response for %v has no upstream hop", requestID)
		return nil
	}
	err := c.pushOp(prevPK, &wire.ResponseSendFunds{
		RequestID:      requestID,
		DestHashedLock: msg.Request.DestHashedLock,
		Signature:      msg.Signature,
	})
	if err != nil {
		// The committed credits on the upstream edge stay frozen
		// until the channel recovers; nothing else can be done here.
		log.Warnf("Unable to forward response for %v upstream: %v",
			requestID, err)
	}
	return nil
}

// processIncomingCancel handles a cancel crossing back towards the buyer.
func (c *handlerCall) processIncomingCancel(pk wire.PublicKey,
	msg *tokenchannel.IncomingCancel) error {

	requestID := msg.Request.RequestID
	localPK := c.state().LocalPublicKey

	if _, ok := c.state().OpenTransactions[requestID]; ok {
		c.cancelLocalTransaction(requestID, msg.Reason)
		return nil
	}

	prevPK, ok := msg.Request.Route.PrevHop(localPK)
	if !ok {
		log.Errorf("Cancel for %v has no upstream hop", requestID)
		return nil
	}
	err := c.pushOp(prevPK, &wire.CancelSendFunds{
		RequestID: requestID,
		Reason:    msg.Reason,
	})
	if err != nil {
		log.Warnf("Unable to forward cancel for %v upstream: %v",
			requestID, err)
	}
	return nil
}

// processIncomingCollect handles a collect crossing back towards the buyer:
// at intermediate hops it is forwarded; at the buyer it yields the receipt.
func (c *handlerCall) processIncomingCollect(pk wire.PublicKey,
	msg *tokenchannel.IncomingCollect) error {

	requestID := msg.Request.RequestID
	localPK := c.state().LocalPublicKey

	transaction, ok := c.state().OpenTransactions[requestID]
	if ok {
		return c.processCollectAsBuyer(requestID, transaction, msg)
	}

	prevPK, ok := msg.Request.Route.PrevHop(localPK)
	if !ok {
		log.Errorf("Collect for %v has no upstream hop", requestID)
		return nil
	}
	err := c.pushOp(prevPK, &wire.CollectSendFunds{
		RequestID:     requestID,
		SrcPlainLock:  msg.SrcPlainLock,
		DestPlainLock: msg.DestPlainLock,
	})
	if err != nil {
		log.Warnf("Unable to forward collect for %v upstream: %v",
			requestID, err)
	}
	return nil
}

// processCollectAsBuyer closes out one of our own transactions with a
// receipt.
func (c *handlerCall) processCollectAsBuyer(requestID wire.Uid,
	transaction *OpenTransaction,
	msg *tokenchannel.IncomingCollect) error {

	paymentID := transaction.PaymentID
	payment, ok := c.state().Payments[paymentID]
	if !ok {
		log.Errorf("Transaction %v references unknown payment %v",
			requestID, paymentID)
		return nil
	}

	receipt := wire.Receipt{
		RequestID:        requestID,
		InvoiceID:        payment.InvoiceID,
		SrcPlainLock:     msg.SrcPlainLock,
		DestPlainLock:    msg.DestPlainLock,
		DestPayment:      msg.Request.DestPayment,
		TotalDestPayment: payment.TotalDestPayment,
		Signature:        transaction.ResponseSignature,
	}

	c.m.Mutate(&RemoveTransaction{TransactionID: requestID})
	c.m.Mutate(&SetPaymentNumTransactions{
		PaymentID:       paymentID,
		NumTransactions: payment.NumTransactions - 1,
	})
	if payment.Receipt == nil && payment.ReceiptStatus == ReceiptEmpty {
		c.m.Mutate(&SetPaymentReceipt{
			PaymentID: paymentID,
			Receipt:   receipt,
		})
	}

	c.maybeFinishClosingPayment(paymentID)
	return nil
}
