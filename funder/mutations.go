package funder

import (
	"fmt"

	"github.com/credmesh/credmesh/amount"
	"github.com/credmesh/credmesh/wire"
)

// FunderMutation is a single atomic change to a FunderState. The set of
// implementations is closed so that Mutate can handle every variant
// exhaustively, and every variant has a canonical serialization for the
// durable log. Application is deterministic: the same mutation applied to
// the same prior state always yields the same result.
type FunderMutation interface {
	funderMutation()
}

// FriendFunderMutation applies a nested friend mutation to one friend.
type FriendFunderMutation struct {
	PublicKey wire.PublicKey
	Mutation  FriendMutation
}

// AddRelay appends a relay, replacing any relay with the same public key.
type AddRelay struct {
	Relay wire.NamedRelayAddress
}

// RemoveRelay removes the relay with the given public key.
type RemoveRelay struct {
	PublicKey wire.PublicKey
}

// AddFriend creates a fresh friend with a consistent channel starting at
// the configured balance. Both sides must configure mirrored balances or
// the channel becomes inconsistent on first contact.
type AddFriend struct {
	PublicKey wire.PublicKey
	Relays    []wire.RelayAddress
	Name      string
	Balance   amount.Balance
}

// RemoveFriend deletes a friend and its channel.
type RemoveFriend struct {
	PublicKey wire.PublicKey
}

// AddInvoice opens a seller-side invoice.
type AddInvoice struct {
	InvoiceID        wire.InvoiceID
	TotalDestPayment amount.Amount
}

// AddDestPlainLock records the destination lock preimage generated for one
// incoming request paying an open invoice.
type AddDestPlainLock struct {
	InvoiceID wire.InvoiceID
	RequestID wire.Uid
	PlainLock wire.PlainLock
}

// RemoveInvoice deletes an open invoice.
type RemoveInvoice struct {
	InvoiceID wire.InvoiceID
}

// AddTransaction records a buyer-side routed request in progress.
type AddTransaction struct {
	TransactionID wire.Uid
	PaymentID     wire.PaymentID
	SrcPlainLock  wire.PlainLock
}

// SetTransactionResponse records the seller's response material on an open
// transaction. It is needed later to assemble the receipt.
type SetTransactionResponse struct {
	TransactionID  wire.Uid
	DestHashedLock wire.HashLock
	Signature      []byte
}

// RemoveTransaction deletes an open transaction.
type RemoveTransaction struct {
	TransactionID wire.Uid
}

// AddPayment opens a buyer-side payment aggregate.
type AddPayment struct {
	PaymentID        wire.PaymentID
	InvoiceID        wire.InvoiceID
	TotalDestPayment amount.Amount
	DestPublicKey    wire.PublicKey
}

// SetPaymentReceipt stores a pending receipt on a payment, closing it if it
// was still open.
type SetPaymentReceipt struct {
	PaymentID wire.PaymentID
	Receipt   wire.Receipt
}

// TakePaymentReceipt marks a pending receipt as handed over to the user.
// Only legal on a closed payment holding a pending receipt.
type TakePaymentReceipt struct {
	PaymentID wire.PaymentID
}

// SetPaymentClosing closes a payment to new transactions and records the
// ack id the user must echo.
type SetPaymentClosing struct {
	PaymentID wire.PaymentID
	AckUid    wire.Uid
}

// SetPaymentNumTransactions updates the live transaction count of a
// payment.
type SetPaymentNumTransactions struct {
	PaymentID       wire.PaymentID
	NumTransactions uint64
}

// RemovePayment deletes a payment. Only legal once the payment is closed,
// carries no live transactions, and its receipt is not pending.
type RemovePayment struct {
	PaymentID wire.PaymentID
}

func (*FriendFunderMutation) funderMutation()      {}
func (*AddRelay) funderMutation()                  {}
func (*RemoveRelay) funderMutation()               {}
func (*AddFriend) funderMutation()                 {}
func (*RemoveFriend) funderMutation()              {}
func (*AddInvoice) funderMutation()                {}
func (*AddDestPlainLock) funderMutation()          {}
func (*RemoveInvoice) funderMutation()             {}
func (*AddTransaction) funderMutation()            {}
func (*SetTransactionResponse) funderMutation()    {}
func (*RemoveTransaction) funderMutation()         {}
func (*AddPayment) funderMutation()                {}
func (*SetPaymentReceipt) funderMutation()         {}
func (*TakePaymentReceipt) funderMutation()        {}
func (*SetPaymentClosing) funderMutation()         {}
func (*SetPaymentNumTransactions) funderMutation() {}
func (*RemovePayment) funderMutation()             {}

// Mutate applies a single mutation to the state. The handler is responsible
// for all precondition checks; a mutation that references missing state or
// violates a lifecycle rule is a programming error and fails loudly.
func (s *FunderState) Mutate(mutation FunderMutation) {
	switch m := mutation.(type) {
	case *FriendFunderMutation:
		s.mustFriend(m.PublicKey).mutate(m.Mutation)

	case *AddRelay:
		relays := s.Relays[:0]
		for _, relay := range s.Relays {
			if relay.PublicKey != m.Relay.PublicKey {
				relays = append(relays, relay)
			}
		}
		s.Relays = append(relays, m.Relay)

	case *RemoveRelay:
		relays := s.Relays[:0]
		for _, relay := range s.Relays {
			if relay.PublicKey != m.PublicKey {
				relays = append(relays, relay)
			}
		}
		s.Relays = relays

	case *AddFriend:
		if _, ok := s.Friends[m.PublicKey]; ok {
			panic(fmt.Sprintf("friend %v already exists",
				m.PublicKey))
		}
		s.Friends[m.PublicKey] = newFriendState(
			s.LocalPublicKey, m.PublicKey, m.Relays, m.Name,
			m.Balance,
		)

	case *RemoveFriend:
		delete(s.Friends, m.PublicKey)

	case *AddInvoice:
		s.OpenInvoices[m.InvoiceID] = NewOpenInvoice(m.TotalDestPayment)

	case *AddDestPlainLock:
		invoice, ok := s.OpenInvoices[m.InvoiceID]
		if !ok {
			panic(fmt.Sprintf("mutation references unknown "+
				"invoice %v", m.InvoiceID))
		}
		invoice.DestPlainLocks[m.RequestID] = m.PlainLock

	case *RemoveInvoice:
		delete(s.OpenInvoices, m.InvoiceID)

	case *AddTransaction:
		s.OpenTransactions[m.TransactionID] = &OpenTransaction{
			PaymentID:    m.PaymentID,
			SrcPlainLock: m.SrcPlainLock,
		}

	case *SetTransactionResponse:
		transaction, ok := s.OpenTransactions[m.TransactionID]
		if !ok {
			panic(fmt.Sprintf("mutation references unknown "+
				"transaction %v", m.TransactionID))
		}
		transaction.DestHashedLock = m.DestHashedLock
		transaction.ResponseSignature = append(
			[]byte(nil), m.Signature...,
		)
		transaction.Responded = true

	case *RemoveTransaction:
		delete(s.OpenTransactions, m.TransactionID)

	case *AddPayment:
		s.Payments[m.PaymentID] = &Payment{
			Open:             true,
			InvoiceID:        m.InvoiceID,
			TotalDestPayment: m.TotalDestPayment,
			DestPublicKey:    m.DestPublicKey,
		}

	case *SetPaymentReceipt:
		payment := s.mustPayment(m.PaymentID)
		if !payment.Open && payment.ReceiptStatus != ReceiptEmpty {
			panic(fmt.Sprintf("payment %v already has a receipt",
				m.PaymentID))
		}
		receipt := m.Receipt
		payment.Open = false
		payment.ReceiptStatus = ReceiptPending
		payment.Receipt = &receipt

	case *TakePaymentReceipt:
		payment := s.mustPayment(m.PaymentID)
		if payment.Open || payment.ReceiptStatus != ReceiptPending {
			panic(fmt.Sprintf("payment %v has no receipt to take",
				m.PaymentID))
		}
		payment.ReceiptStatus = ReceiptTaken
		payment.Receipt = nil

	case *SetPaymentClosing:
		payment := s.mustPayment(m.PaymentID)
		if payment.AckUid != nil {
			panic(fmt.Sprintf("payment %v is already closing",
				m.PaymentID))
		}
		ackUid := m.AckUid
		payment.Open = false
		payment.AckUid = &ackUid

	case *SetPaymentNumTransactions:
		s.mustPayment(m.PaymentID).NumTransactions = m.NumTransactions

	case *RemovePayment:
		payment := s.mustPayment(m.PaymentID)
		if payment.Open || payment.NumTransactions != 0 ||
			payment.ReceiptStatus == ReceiptPending {

			panic(fmt.Sprintf("payment %v is not ready for "+
				"removal", m.PaymentID))
		}
		delete(s.Payments, m.PaymentID)
	}
}
