package funder

import (
	"testing"

	"github.com/credmesh/credmesh/amount"
	"github.com/credmesh/credmesh/wire"
)

func testState(t *testing.T) *FunderState {
	t.Helper()

	var localPK wire.PublicKey
	localPK[0] = 0x02
	localPK[1] = 0xaa
	return NewFunderState(localPK, nil)
}

func TestRelayMutations(t *testing.T) {
	t.Parallel()

	state := testState(t)

	relay := wire.NamedRelayAddress{
		RelayAddress: wire.RelayAddress{Address: "relay1:1337"},
		Name:         "relay1",
	}
	relay.PublicKey[0] = 0x03

	state.Mutate(&AddRelay{Relay: relay})
	if len(state.Relays) != 1 {
		t.Fatalf("expected 1 relay, got %v", len(state.Relays))
	}

	// Adding a relay with the same public key replaces it.
	relay.Address = "relay1:1338"
	state.Mutate(&AddRelay{Relay: relay})
	if len(state.Relays) != 1 {
		t.Fatalf("duplicate relay key was not replaced")
	}
	if state.Relays[0].Address != "relay1:1338" {
		t.Fatalf("relay address not updated")
	}

	state.Mutate(&RemoveRelay{PublicKey: relay.PublicKey})
	if len(state.Relays) != 0 {
		t.Fatalf("relay was not removed")
	}
}

func TestPaymentLifecycle(t *testing.T) {
	t.Parallel()

	state := testState(t)

	var (
		paymentID wire.PaymentID
		invoiceID wire.InvoiceID
		destPK    wire.PublicKey
		ackUid    wire.Uid
	)
	paymentID[0] = 0x01
	ackUid[0] = 0x07

	state.Mutate(&AddPayment{
		PaymentID:        paymentID,
		InvoiceID:        invoiceID,
		TotalDestPayment: amount.FromUint64(50),
		DestPublicKey:    destPK,
	})
	payment := state.Payments[paymentID]
	if !payment.Open {
		t.Fatalf("fresh payment is not open")
	}

	state.Mutate(&SetPaymentNumTransactions{
		PaymentID:       paymentID,
		NumTransactions: 1,
	})

	receipt := wire.Receipt{
		InvoiceID:        invoiceID,
		DestPayment:      amount.FromUint64(50),
		TotalDestPayment: amount.FromUint64(50),
	}
	state.Mutate(&SetPaymentReceipt{
		PaymentID: paymentID,
		Receipt:   receipt,
	})
	if payment.Open {
		t.Fatalf("receipt did not close the payment")
	}
	if payment.ReceiptStatus != ReceiptPending {
		t.Fatalf("wrong receipt status: %v", payment.ReceiptStatus)
	}

	state.Mutate(&SetPaymentClosing{
		PaymentID: paymentID,
		AckUid:    ackUid,
	})
	if payment.AckUid == nil || *payment.AckUid != ackUid {
		t.Fatalf("ack uid not recorded")
	}

	state.Mutate(&TakePaymentReceipt{PaymentID: paymentID})
	if payment.ReceiptStatus != ReceiptTaken {
		t.Fatalf("receipt was not taken")
	}
	if payment.Receipt != nil {
		t.Fatalf("taken receipt still stored")
	}

	// Taking the receipt a second time is a programming error.
	assertPanics(t, func() {
		state.Mutate(&TakePaymentReceipt{PaymentID: paymentID})
	})

	// Removal requires zero live transactions.
	assertPanics(t, func() {
		state.Mutate(&RemovePayment{PaymentID: paymentID})
	})

	state.Mutate(&SetPaymentNumTransactions{
		PaymentID:       paymentID,
		NumTransactions: 0,
	})
	state.Mutate(&RemovePayment{PaymentID: paymentID})
	if _, ok := state.Payments[paymentID]; ok {
		t.Fatalf("payment was not removed")
	}
}

func TestFriendPreconditionsAreLoud(t *testing.T) {
	t.Parallel()

	state := testState(t)

	var friendPK wire.PublicKey
	friendPK[0] = 0x03

	// A friend mutation referencing an absent friend is a bug.
	assertPanics(t, func() {
		state.Mutate(&FriendFunderMutation{
			PublicKey: friendPK,
			Mutation:  &SetStatus{Status: FriendEnabled},
		})
	})

	state.Mutate(&AddFriend{PublicKey: friendPK, Name: "bob"})

	// Adding the same friend twice is a bug at the mutation layer; the
	// handler screens it as a control error before ever mutating.
	assertPanics(t, func() {
		state.Mutate(&AddFriend{PublicKey: friendPK, Name: "bob2"})
	})

	// Popping from an empty queue is a bug.
	assertPanics(t, func() {
		state.Mutate(&FriendFunderMutation{
			PublicKey: friendPK,
			Mutation:  &PopFrontPendingOperation{},
		})
	})
}

func TestMutableFunderState(t *testing.T) {
	t.Parallel()

	state := testState(t)
	mutable := NewMutableFunderState(state)

	var friendPK wire.PublicKey
	friendPK[0] = 0x09
	mutable.Mutate(&AddFriend{PublicKey: friendPK, Name: "carol"})

	initial, mutations, final := mutable.Done()
	if len(initial.Friends) != 0 {
		t.Fatalf("initial state was mutated")
	}
	if len(final.Friends) != 1 {
		t.Fatalf("final state misses the friend")
	}
	if len(mutations) != 1 {
		t.Fatalf("expected 1 logged mutation, got %v", len(mutations))
	}

	// The live state is the same object that was passed in.
	if final != state {
		t.Fatalf("final state is not the adopted state")
	}
}

func assertPanics(t *testing.T, f func()) {
	t.Helper()

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	f()
}
