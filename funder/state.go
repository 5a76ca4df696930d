// Package funder implements the per-node state machine that owns the set of
// friend channels and the in-flight invoices, transactions and payments.
// Every change to the state is expressed as a mutation: the handler computes
// mutations, the state applies them, and the same mutations are appended to
// the durable log so the state can be rebuilt deterministically by replay.
package funder

import (
	"fmt"

	"github.com/credmesh/credmesh/amount"
	"github.com/credmesh/credmesh/wire"
)

// ReceiptStatus tracks the lifecycle of a closed payment's receipt.
type ReceiptStatus uint8

const (
	// ReceiptEmpty means no receipt has been obtained yet.
	ReceiptEmpty ReceiptStatus = iota

	// ReceiptPending means a receipt is held, waiting to be handed to
	// the user.
	ReceiptPending

	// ReceiptTaken means the receipt was already handed to the user.
	ReceiptTaken
)

// String returns a human readable receipt status.
func (r ReceiptStatus) String() string {
	switch r {
	case ReceiptEmpty:
		return "Empty"
	case ReceiptPending:
		return "Pending"
	case ReceiptTaken:
		return "Taken"
	default:
		return "<unknown status>"
	}
}

// Payment is a buyer-side aggregate of one or more routed transactions that
// together pay a single remote invoice. A payment starts open, admitting new
// transactions, and is closed either by the user or by obtaining a receipt.
type Payment struct {
	// Open reports whether new transactions may still be added.
	Open bool

	// InvoiceID is the remote invoice being paid.
	InvoiceID wire.InvoiceID

	// TotalDestPayment is the full amount the seller asked for.
	TotalDestPayment amount.Amount

	// DestPublicKey is the seller's identity.
	DestPublicKey wire.PublicKey

	// NumTransactions counts the in-flight transactions belonging to
	// this payment.
	NumTransactions uint64

	// ReceiptStatus is only meaningful once the payment is closed.
	ReceiptStatus ReceiptStatus

	// Receipt is set while ReceiptStatus is ReceiptPending.
	Receipt *wire.Receipt

	// AckUid is the id the user must echo to acknowledge the close
	// response. Nil until the payment starts closing.
	AckUid *wire.Uid
}

// Copy returns a deep copy of the payment.
func (p *Payment) Copy() *Payment {
	cp := *p
	if p.Receipt != nil {
		receipt := *p.Receipt
		cp.Receipt = &receipt
	}
	if p.AckUid != nil {
		uid := *p.AckUid
		cp.AckUid = &uid
	}
	return &cp
}

// OpenInvoice is a seller-side receivable in progress. Multi-route payments
// may accumulate several destination locks, one per incoming request.
type OpenInvoice struct {
	// TotalDestPayment is the total payment required to fulfill this
	// invoice.
	TotalDestPayment amount.Amount

	// DestPlainLocks maps each incoming request id to the lock preimage
	// only this node knows.
	DestPlainLocks map[wire.Uid]wire.PlainLock
}

// NewOpenInvoice creates an empty invoice over the given total.
func NewOpenInvoice(totalDestPayment amount.Amount) *OpenInvoice {
	return &OpenInvoice{
		TotalDestPayment: totalDestPayment,
		DestPlainLocks:   make(map[wire.Uid]wire.PlainLock),
	}
}

// Copy returns a deep copy of the invoice.
func (o *OpenInvoice) Copy() *OpenInvoice {
	cp := &OpenInvoice{
		TotalDestPayment: o.TotalDestPayment,
		DestPlainLocks: make(
			map[wire.Uid]wire.PlainLock, len(o.DestPlainLocks),
		),
	}
	for rid, lock := range o.DestPlainLocks {
		cp.DestPlainLocks[rid] = lock
	}
	return cp
}

// OpenTransaction is a single routed request originated by this node, in
// progress.
type OpenTransaction struct {
	// PaymentID is the payment this transaction belongs to.
	PaymentID wire.PaymentID

	// SrcPlainLock is the buyer half of the transaction's hash lock.
	SrcPlainLock wire.PlainLock

	// DestHashedLock and ResponseSignature are recorded once the
	// response crosses back; they are needed to assemble the receipt.
	DestHashedLock    wire.HashLock
	ResponseSignature []byte
	Responded         bool
}

// Copy returns a deep copy of the transaction.
func (o *OpenTransaction) Copy() *OpenTransaction {
	cp := *o
	cp.ResponseSignature = append([]byte(nil), o.ResponseSignature...)
	return &cp
}

// FunderState is the durable root aggregate of a node.
type FunderState struct {
	// LocalPublicKey is the identity of this node.
	LocalPublicKey wire.PublicKey

	// Relays is the ordered set of relays this node connects through.
	// Duplicates by public key are forbidden.
	Relays []wire.NamedRelayAddress

	// Friends maps a peer public key to its bilateral state.
	Friends map[wire.PublicKey]*FriendState

	// OpenInvoices holds invoices this node is collecting on.
	OpenInvoices map[wire.InvoiceID]*OpenInvoice

	// OpenTransactions holds requests this node originated and awaits
	// responses for.
	OpenTransactions map[wire.Uid]*OpenTransaction

	// Payments holds user-level payments this node originated.
	Payments map[wire.PaymentID]*Payment
}

// NewFunderState creates the state of a fresh node from its identity and a
// bootstrap relay list.
func NewFunderState(localPublicKey wire.PublicKey,
	relays []wire.NamedRelayAddress) *FunderState {

	return &FunderState{
		LocalPublicKey:   localPublicKey,
		Relays:           append([]wire.NamedRelayAddress(nil), relays...),
		Friends:          make(map[wire.PublicKey]*FriendState),
		OpenInvoices:     make(map[wire.InvoiceID]*OpenInvoice),
		OpenTransactions: make(map[wire.Uid]*OpenTransaction),
		Payments:         make(map[wire.PaymentID]*Payment),
	}
}

// Copy returns a deep copy of the state. The handler clones the state at
// the start of every invocation so the pre-image is available for report
// projection even after mutations are applied.
func (s *FunderState) Copy() *FunderState {
	cp := &FunderState{
		LocalPublicKey: s.LocalPublicKey,
		Relays: append(
			[]wire.NamedRelayAddress(nil), s.Relays...,
		),
		Friends: make(
			map[wire.PublicKey]*FriendState, len(s.Friends),
		),
		OpenInvoices: make(
			map[wire.InvoiceID]*OpenInvoice, len(s.OpenInvoices),
		),
		OpenTransactions: make(
			map[wire.Uid]*OpenTransaction, len(s.OpenTransactions),
		),
		Payments: make(map[wire.PaymentID]*Payment, len(s.Payments)),
	}
	for pk, friend := range s.Friends {
		cp.Friends[pk] = friend.Copy()
	}
	for invoiceID, invoice := range s.OpenInvoices {
		cp.OpenInvoices[invoiceID] = invoice.Copy()
	}
	for uid, transaction := range s.OpenTransactions {
		cp.OpenTransactions[uid] = transaction.Copy()
	}
	for paymentID, payment := range s.Payments {
		cp.Payments[paymentID] = payment.Copy()
	}
	return cp
}

// mustFriend returns the friend state for pk, failing loudly when absent. A
// mutation referencing a missing friend is a programming error, not a
// runtime condition.
func (s *FunderState) mustFriend(pk wire.PublicKey) *FriendState {
	friend, ok := s.Friends[pk]
	if !ok {
		panic(fmt.Sprintf("mutation references unknown friend %v", pk))
	}
	return friend
}

// mustPayment returns the payment for pid, failing loudly when absent.
func (s *FunderState) mustPayment(pid wire.PaymentID) *Payment {
	payment, ok := s.Payments[pid]
	if !ok {
		panic(fmt.Sprintf("mutation references unknown payment %v", pid))
	}
	return payment
}
