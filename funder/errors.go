package funder

import "fmt"

var (
	// ErrFriendNotFound is returned when an event references an unknown
	// peer.
	ErrFriendNotFound = fmt.Errorf("friend with target identity not found")

	// ErrFriendAlreadyExists is returned when adding a friend whose
	// public key is already configured.
	ErrFriendAlreadyExists = fmt.Errorf("friend already exists")

	// ErrRelayNotFound is returned when removing an unknown relay.
	ErrRelayNotFound = fmt.Errorf("relay with target identity not found")

	// ErrInvoiceNotFound is returned when an event references an unknown
	// invoice.
	ErrInvoiceNotFound = fmt.Errorf("unable to locate invoice")

	// ErrDuplicateInvoice is returned when adding an invoice whose id
	// already exists.
	ErrDuplicateInvoice = fmt.Errorf("invoice with this id already exists")

	// ErrPaymentNotFound is returned when an event references an unknown
	// payment.
	ErrPaymentNotFound = fmt.Errorf("unable to locate payment")

	// ErrDuplicatePayment is returned when creating a payment whose id
	// already exists.
	ErrDuplicatePayment = fmt.Errorf("payment with this id already exists")

	// ErrPaymentNotOpen is returned when adding a transaction to a
	// payment that no longer admits transactions.
	ErrPaymentNotOpen = fmt.Errorf("payment is closed to new transactions")

	// ErrDuplicateTransaction is returned when a new transaction collides
	// with an in-flight transaction id.
	ErrDuplicateTransaction = fmt.Errorf("transaction id already in flight")

	// ErrQueueFull is returned when a per-friend pending queue hit its
	// hard bound.
	ErrQueueFull = fmt.Errorf("pending queue is full")

	// ErrChannelInconsistent is returned when an operation requires a
	// consistent channel.
	ErrChannelInconsistent = fmt.Errorf("channel is inconsistent")

	// ErrChannelConsistent is returned when a reset is requested on a
	// consistent channel.
	ErrChannelConsistent = fmt.Errorf("channel is not inconsistent")

	// ErrUnknownResetTerms is returned when accepting reset terms that
	// do not match the remote side's outstanding proposal.
	ErrUnknownResetTerms = fmt.Errorf("reset terms unknown or outdated")

	// ErrInvalidRoute is returned when a control command carries a
	// malformed route or one that does not start at this node.
	ErrInvalidRoute = fmt.Errorf("invalid route")

	// ErrNoReceipt is returned when acknowledging a payment that holds
	// no pending receipt.
	ErrNoReceipt = fmt.Errorf("payment holds no pending receipt")

	// ErrInvalidAckUid is returned when an acknowledgement does not echo
	// the ack id of the close response.
	ErrInvalidAckUid = fmt.Errorf("wrong ack id")

	// ErrInvalidCommit is returned when a commit handed to the seller
	// does not match an outstanding request of the invoice.
	ErrInvalidCommit = fmt.Errorf("commit does not match invoice state")
)
