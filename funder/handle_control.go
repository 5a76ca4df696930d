package funder

import (
	"github.com/credmesh/credmesh/amount"
	"github.com/credmesh/credmesh/tokenchannel"
	"github.com/credmesh/credmesh/wire"
)

// handleControl dispatches one control command and answers it. Command
// failures become typed errors in the control response; they never abort
// the invocation.
func (c *handlerCall) handleControl(ev *ControlIncoming) error {
	var err error
	switch cmd := ev.Command.(type) {
	case *CmdAddFriend:
		err = c.controlAddFriend(cmd)
	case *CmdRemoveFriend:
		err = c.controlRemoveFriend(cmd)
	case *CmdSetFriendStatus:
		err = c.controlSetFriendStatus(cmd)
	case *CmdOpenFriend:
		err = c.controlSetRequestsStatus(cmd.PublicKey, wire.RequestsOpen)
	case *CmdCloseFriend:
		err = c.controlSetRequestsStatus(cmd.PublicKey, wire.RequestsClosed)
	case *CmdSetFriendMaxDebt:
		err = c.controlSetFriendMaxDebt(cmd)
	case *CmdSetFriendRelays:
		err = c.controlSetFriendRelays(cmd)
	case *CmdResetFriendChannel:
		err = c.controlResetFriendChannel(cmd)
	case *CmdAddRelay:
		err = c.controlAddRelay(cmd)
	case *CmdRemoveRelay:
		err = c.controlRemoveRelay(cmd)
	case *CmdCreatePayment:
		err = c.controlCreatePayment(cmd)
	case *CmdCreateTransaction:
		err = c.controlCreateTransaction(cmd)
	case *CmdRequestClosePayment:
		err = c.controlRequestClosePayment(cmd)
	case *CmdAckClosePayment:
		err = c.controlAckClosePayment(cmd)
	case *CmdAddInvoice:
		err = c.controlAddInvoice(cmd)
	case *CmdCancelInvoice:
		err = c.controlCancelInvoice(cmd)
	case *CmdCommitInvoice:
		err = c.controlCommitInvoice(cmd)
	case *CmdRequestRoutes:
		c.out.RouteRequests = append(c.out.RouteRequests, RouteRequest{
			RequestID: ev.RequestID,
			Capacity:  cmd.Capacity,
			Source:    cmd.Source,
			Dest:      cmd.Dest,
		})
	default:
		log.Errorf("Unknown control command type %T", ev.Command)
	}

	c.sendControlEvent(&ControlResponse{
		RequestID: ev.RequestID,
		Err:       err,
	})
	return nil
}

func (c *handlerCall) controlAddFriend(cmd *CmdAddFriend) error {
	if _, ok := c.state().Friends[cmd.PublicKey]; ok {
		return ErrFriendAlreadyExists
	}

	c.m.Mutate(&AddFriend{
		PublicKey: cmd.PublicKey,
		Relays:    cmd.Relays,
		Name:      cmd.Name,
		Balance:   cmd.Balance,
	})
	return nil
}

func (c *handlerCall) controlRemoveFriend(cmd *CmdRemoveFriend) error {
	friend, ok := c.state().Friends[cmd.PublicKey]
	if !ok {
		return ErrFriendNotFound
	}

	// Unwind buyer-side transactions that were riding on this channel.
	if channel, ok := friend.Channel(); ok {
		for requestID := range channel.PendingLocalRequests {
			c.cancelLocalTransaction(
				requestID, wire.CancelFriendNotReady,
			)
		}
	}

	c.m.Mutate(&RemoveFriend{PublicKey: cmd.PublicKey})
	c.e.Mutate(&SetFriendOffline{PublicKey: cmd.PublicKey})
	c.out.ChannelerConfigs = append(
		c.out.ChannelerConfigs,
		&ChannelerRemoveFriend{PublicKey: cmd.PublicKey},
	)
	return nil
}

func (c *handlerCall) controlSetFriendStatus(cmd *CmdSetFriendStatus) error {
	friend, ok := c.state().Friends[cmd.PublicKey]
	if !ok {
		return ErrFriendNotFound
	}
	if friend.Status == cmd.Status {
		return nil
	}

	c.friendMutate(cmd.PublicKey, &SetStatus{Status: cmd.Status})

	switch cmd.Status {
	case FriendEnabled:
		c.out.ChannelerConfigs = append(
			c.out.ChannelerConfigs, &ChannelerUpdateFriend{
				PublicKey: cmd.PublicKey,
				Relays:    friend.Relays,
			},
		)
	case FriendDisabled:
		c.e.Mutate(&SetFriendOffline{PublicKey: cmd.PublicKey})
		c.out.ChannelerConfigs = append(
			c.out.ChannelerConfigs,
			&ChannelerRemoveFriend{PublicKey: cmd.PublicKey},
		)
	}
	return nil
}

func (c *handlerCall) controlSetRequestsStatus(pk wire.PublicKey,
	status wire.RequestsStatus) error {

	if _, ok := c.state().Friends[pk]; !ok {
		return ErrFriendNotFound
	}

	c.friendMutate(pk, &SetWantedLocalRequestsStatus{Status: status})
	c.markDirty(pk)
	return nil
}

func (c *handlerCall) controlSetFriendMaxDebt(cmd *CmdSetFriendMaxDebt) error {
	if _, ok := c.state().Friends[cmd.PublicKey]; !ok {
		return ErrFriendNotFound
	}

	c.friendMutate(cmd.PublicKey, &SetWantedRemoteMaxDebt{Debt: cmd.Debt})
	c.markDirty(cmd.PublicKey)
	return nil
}

func (c *handlerCall) controlSetFriendRelays(cmd *CmdSetFriendRelays) error {
	friend, ok := c.state().Friends[cmd.PublicKey]
	if !ok {
		return ErrFriendNotFound
	}

	c.friendMutate(cmd.PublicKey, &SetFriendRelays{Relays: cmd.Relays})
	if friend.Status == FriendEnabled {
		c.out.ChannelerConfigs = append(
			c.out.ChannelerConfigs, &ChannelerUpdateFriend{
				PublicKey: cmd.PublicKey,
				Relays:    cmd.Relays,
			},
		)
	}
	return nil
}

func (c *handlerCall) controlResetFriendChannel(
	cmd *CmdResetFriendChannel) error {

	friend, ok := c.state().Friends[cmd.PublicKey]
	if !ok {
		return ErrFriendNotFound
	}
	status, ok := friend.ChannelStatus.(*ChannelInconsistent)
	if !ok {
		return ErrChannelConsistent
	}
	if status.RemoteResetTerms == nil ||
		status.RemoteResetTerms.ResetToken != cmd.ResetToken {

		return ErrUnknownResetTerms
	}

	moveToken, err := tokenchannel.BuildResetMoveToken(
		c.h.identity, *status.RemoteResetTerms,
	)
	if err != nil {
		return err
	}

	c.friendMutate(cmd.PublicKey, &LocalReset{MoveToken: moveToken})
	c.sendFriendMessage(cmd.PublicKey, moveToken)
	log.Infof("Channel with %v rebuilt from local reset", cmd.PublicKey)
	return nil
}

func (c *handlerCall) controlAddRelay(cmd *CmdAddRelay) error {
	c.m.Mutate(&AddRelay{Relay: cmd.Relay})

	c.out.ChannelerConfigs = append(
		c.out.ChannelerConfigs,
		&ChannelerSetAddress{Relays: c.state().Relays},
	)

	// Every consistent channel eventually syncs the new relay set.
	for pk := range c.state().Friends {
		c.markDirty(pk)
	}
	return nil
}

func (c *handlerCall) controlRemoveRelay(cmd *CmdRemoveRelay) error {
	found := false
	for _, relay := range c.state().Relays {
		if relay.PublicKey == cmd.PublicKey {
			found = true
			break
		}
	}
	if !found {
		return ErrRelayNotFound
	}

	c.m.Mutate(&RemoveRelay{PublicKey: cmd.PublicKey})
	c.out.ChannelerConfigs = append(
		c.out.ChannelerConfigs,
		&ChannelerSetAddress{Relays: c.state().Relays},
	)
	for pk := range c.state().Friends {
		c.markDirty(pk)
	}
	return nil
}

func (c *handlerCall) controlCreatePayment(cmd *CmdCreatePayment) error {
	if _, ok := c.state().Payments[cmd.PaymentID]; ok {
		return ErrDuplicatePayment
	}

	c.m.Mutate(&AddPayment{
		PaymentID:        cmd.PaymentID,
		InvoiceID:        cmd.InvoiceID,
		TotalDestPayment: cmd.TotalDestPayment,
		DestPublicKey:    cmd.DestPublicKey,
	})
	return nil
}

func (c *handlerCall) controlCreateTransaction(
	cmd *CmdCreateTransaction) error {

	payment, ok := c.state().Payments[cmd.PaymentID]
	if !ok {
		return ErrPaymentNotFound
	}
	if !payment.Open {
		return ErrPaymentNotOpen
	}
	if _, ok := c.state().OpenTransactions[cmd.TransactionID]; ok {
		return ErrDuplicateTransaction
	}

	if err := cmd.Route.Validate(); err != nil {
		return ErrInvalidRoute
	}
	localPK := c.state().LocalPublicKey
	if cmd.Route[0] != localPK {
		return ErrInvalidRoute
	}
	if !cmd.Route.IsDest(payment.DestPublicKey) {
		return ErrInvalidRoute
	}

	firstHop := cmd.Route[1]
	friend, ok := c.state().Friends[firstHop]
	if !ok {
		return ErrFriendNotFound
	}
	if len(friend.PendingUserRequests) >=
		c.h.cfg.MaxPendingUserRequests {

		return ErrQueueFull
	}

	srcPlainLock, err := c.h.newPlainLock()
	if err != nil {
		return err
	}
	request := wire.RequestSendFunds{
		RequestID:     cmd.TransactionID,
		Route:         cmd.Route,
		DestPayment:   cmd.DestPayment,
		InvoiceID:     payment.InvoiceID,
		SrcHashedLock: srcPlainLock.Hash(),
		LeftFees:      cmd.Fees,
	}

	// A request enters the queue only when the channel, with all queued
	// work accounted for, still has capacity for it.
	if err := c.checkRequestAdmission(friend, &request); err != nil {
		return err
	}

	c.m.Mutate(&AddTransaction{
		TransactionID: cmd.TransactionID,
		PaymentID:     cmd.PaymentID,
		SrcPlainLock:  srcPlainLock,
	})
	c.m.Mutate(&SetPaymentNumTransactions{
		PaymentID:       cmd.PaymentID,
		NumTransactions: payment.NumTransactions + 1,
	})
	c.friendMutate(firstHop, &PushBackPendingUserRequest{Request: request})
	c.markDirty(firstHop)
	return nil
}

func (c *handlerCall) controlRequestClosePayment(
	cmd *CmdRequestClosePayment) error {

	payment, ok := c.state().Payments[cmd.PaymentID]
	if !ok {
		return ErrPaymentNotFound
	}

	if payment.AckUid == nil {
		ackUid, err := c.h.newUid()
		if err != nil {
			return err
		}
		c.m.Mutate(&SetPaymentClosing{
			PaymentID: cmd.PaymentID,
			AckUid:    ackUid,
		})
	}

	c.maybeFinishClosingPayment(cmd.PaymentID)
	return nil
}

func (c *handlerCall) controlAckClosePayment(cmd *CmdAckClosePayment) error {
	payment, ok := c.state().Payments[cmd.PaymentID]
	if !ok {
		return ErrPaymentNotFound
	}
	if payment.Open || payment.AckUid == nil {
		return ErrNoReceipt
	}
	if *payment.AckUid != cmd.AckUid {
		return ErrInvalidAckUid
	}

	switch payment.ReceiptStatus {
	case ReceiptPending:
		c.m.Mutate(&TakePaymentReceipt{PaymentID: cmd.PaymentID})
	case ReceiptEmpty:
		// A failed payment: nothing to take.
	default:
		return ErrNoReceipt
	}

	if payment.NumTransactions == 0 {
		c.m.Mutate(&RemovePayment{PaymentID: cmd.PaymentID})
	}
	return nil
}

func (c *handlerCall) controlAddInvoice(cmd *CmdAddInvoice) error {
	if _, ok := c.state().OpenInvoices[cmd.InvoiceID]; ok {
		return ErrDuplicateInvoice
	}

	c.m.Mutate(&AddInvoice{
		InvoiceID:        cmd.InvoiceID,
		TotalDestPayment: cmd.TotalDestPayment,
	})
	return nil
}

func (c *handlerCall) controlCancelInvoice(cmd *CmdCancelInvoice) error {
	if _, ok := c.state().OpenInvoices[cmd.InvoiceID]; !ok {
		return ErrInvoiceNotFound
	}

	c.m.Mutate(&RemoveInvoice{InvoiceID: cmd.InvoiceID})
	return nil
}

// findRespondedRequest locates the channel holding an in-flight request we
// responded to as the seller.
func (c *handlerCall) findRespondedRequest(
	requestID wire.Uid) (wire.PublicKey, *tokenchannel.PendingRequest) {

	for pk, friend := range c.state().Friends {
		channel, ok := friend.Channel()
		if !ok {
			continue
		}
		pending, ok := channel.PendingRemoteRequests[requestID]
		if !ok || pending.Stage != tokenchannel.StageResponded {
			continue
		}
		return pk, pending
	}
	return wire.PublicKey{}, nil
}

func (c *handlerCall) controlCommitInvoice(cmd *CmdCommitInvoice) error {
	invoice, ok := c.state().OpenInvoices[cmd.InvoiceID]
	if !ok {
		return ErrInvoiceNotFound
	}

	// Validate every commit against the invoice's recorded requests and
	// make sure they cover the invoice in full.
	type collectTarget struct {
		friendPK wire.PublicKey
		collect  *wire.CollectSendFunds
	}
	var (
		targets []collectTarget
		total   = amount.Zero
	)
	seen := make(map[wire.Uid]struct{}, len(cmd.Commits))
	for _, commit := range cmd.Commits {
		if _, ok := seen[commit.RequestID]; ok {
			return ErrInvalidCommit
		}
		seen[commit.RequestID] = struct{}{}

		destPlainLock, ok := invoice.DestPlainLocks[commit.RequestID]
		if !ok {
			return ErrInvalidCommit
		}
		friendPK, pending := c.findRespondedRequest(commit.RequestID)
		if pending == nil {
			return ErrInvalidCommit
		}
		if pending.InvoiceID != cmd.InvoiceID {
			return ErrInvalidCommit
		}
		if !pending.SrcHashedLock.Verify(commit.SrcPlainLock) {
			return ErrInvalidCommit
		}

		sum, err := amount.CheckedAdd(total, pending.DestPayment)
		if err != nil {
			return ErrInvalidCommit
		}
		total = sum

		targets = append(targets, collectTarget{
			friendPK: friendPK,
			collect: &wire.CollectSendFunds{
				RequestID:     commit.RequestID,
				SrcPlainLock:  commit.SrcPlainLock,
				DestPlainLock: destPlainLock,
			},
		})
	}
	if total.Cmp(invoice.TotalDestPayment) != 0 {
		return ErrInvalidCommit
	}

	// Screen the queue bounds up front so the command applies all of
	// its collects or none of them.
	pushes := make(map[wire.PublicKey]int)
	for _, target := range targets {
		pushes[target.friendPK]++
	}
	for friendPK, numPushes := range pushes {
		friend := c.state().Friends[friendPK]
		if len(friend.PendingOperations)+numPushes >
			c.h.cfg.MaxPendingOperations {

			return ErrQueueFull
		}
	}

	for _, target := range targets {
		if err := c.pushOp(target.friendPK, target.collect); err != nil {
			return err
		}
	}

	c.m.Mutate(&RemoveInvoice{InvoiceID: cmd.InvoiceID})
	return nil
}
