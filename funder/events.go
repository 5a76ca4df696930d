package funder

import (
	"github.com/credmesh/credmesh/amount"
	"github.com/credmesh/credmesh/wire"
)

// Event is a single input to the handler: an incoming peer message, a
// control command from a local application, or a liveness notification from
// the channeler.
type Event interface {
	funderEvent()
}

// FriendIncoming carries a peer message attributed to a remote public key
// by the channeler's authenticated transport.
type FriendIncoming struct {
	RemotePublicKey wire.PublicKey
	Message         wire.Message
}

// LivenessChange reports a friend going online or offline.
type LivenessChange struct {
	PublicKey wire.PublicKey
	Online    bool
}

// ControlIncoming carries a command from a local application. Every command
// is answered with a ControlResponse echoing the request id.
type ControlIncoming struct {
	RequestID wire.Uid
	Command   ControlCommand
}

func (*FriendIncoming) funderEvent()  {}
func (*LivenessChange) funderEvent()  {}
func (*ControlIncoming) funderEvent() {}

// ControlCommand is the closed set of commands a local application may
// issue.
type ControlCommand interface {
	controlCommand()
}

// CmdAddFriend configures a new friend.
type CmdAddFriend struct {
	PublicKey wire.PublicKey
	Relays    []wire.RelayAddress
	Name      string
	Balance   amount.Balance
}

// CmdRemoveFriend deletes a friend.
type CmdRemoveFriend struct {
	PublicKey wire.PublicKey
}

// CmdSetFriendStatus enables or disables a friend.
type CmdSetFriendStatus struct {
	PublicKey wire.PublicKey
	Status    FriendStatus
}

// CmdOpenFriend starts accepting forwarded requests from the friend.
type CmdOpenFriend struct {
	PublicKey wire.PublicKey
}

// CmdCloseFriend stops accepting forwarded requests from the friend.
type CmdCloseFriend struct {
	PublicKey wire.PublicKey
}

// CmdSetFriendMaxDebt sets the credit ceiling we grant the friend.
type CmdSetFriendMaxDebt struct {
	PublicKey wire.PublicKey
	Debt      amount.Amount
}

// CmdSetFriendRelays replaces the configured relay set of a friend.
type CmdSetFriendRelays struct {
	PublicKey wire.PublicKey
	Relays    []wire.RelayAddress
}

// CmdResetFriendChannel accepts the friend's outstanding reset terms,
// identified by their reset token.
type CmdResetFriendChannel struct {
	PublicKey  wire.PublicKey
	ResetToken wire.Token
}

// CmdAddRelay adds a relay to this node's relay set.
type CmdAddRelay struct {
	Relay wire.NamedRelayAddress
}

// CmdRemoveRelay removes a relay from this node's relay set.
type CmdRemoveRelay struct {
	PublicKey wire.PublicKey
}

// CmdCreatePayment opens a buyer-side payment towards a seller's invoice.
type CmdCreatePayment struct {
	PaymentID        wire.PaymentID
	InvoiceID        wire.InvoiceID
	TotalDestPayment amount.Amount
	DestPublicKey    wire.PublicKey
}

// CmdCreateTransaction adds one routed transaction to an open payment.
type CmdCreateTransaction struct {
	PaymentID     wire.PaymentID
	TransactionID wire.Uid
	Route         wire.FriendsRoute
	DestPayment   amount.Amount
	Fees          amount.Amount
}

// CmdRequestClosePayment closes a payment to new transactions and asks for
// its final status.
type CmdRequestClosePayment struct {
	PaymentID wire.PaymentID
}

// CmdAckClosePayment acknowledges the close response, allowing the payment
// to be forgotten.
type CmdAckClosePayment struct {
	PaymentID wire.PaymentID
	AckUid    wire.Uid
}

// CmdAddInvoice opens a seller-side invoice.
type CmdAddInvoice struct {
	InvoiceID        wire.InvoiceID
	TotalDestPayment amount.Amount
}

// CmdCancelInvoice abandons an open invoice.
type CmdCancelInvoice struct {
	InvoiceID wire.InvoiceID
}

// TransactionCommit is the buyer's out-of-band proof handed to the seller:
// it reveals the source preimage of one responded transaction.
type TransactionCommit struct {
	RequestID    wire.Uid
	SrcPlainLock wire.PlainLock
}

// CmdCommitInvoice completes an invoice with the buyer's commits, releasing
// the collect leg for every transaction.
type CmdCommitInvoice struct {
	InvoiceID wire.InvoiceID
	Commits   []TransactionCommit
}

// CmdRequestRoutes asks the index client for routes towards a destination.
// The funder forwards it; responses flow back outside the funder.
type CmdRequestRoutes struct {
	Capacity  amount.Amount
	Source    wire.PublicKey
	Dest      wire.PublicKey
}

func (*CmdAddFriend) controlCommand()           {}
func (*CmdRemoveFriend) controlCommand()        {}
func (*CmdSetFriendStatus) controlCommand()     {}
func (*CmdOpenFriend) controlCommand()          {}
func (*CmdCloseFriend) controlCommand()         {}
func (*CmdSetFriendMaxDebt) controlCommand()    {}
func (*CmdSetFriendRelays) controlCommand()     {}
func (*CmdResetFriendChannel) controlCommand()  {}
func (*CmdAddRelay) controlCommand()            {}
func (*CmdRemoveRelay) controlCommand()         {}
func (*CmdCreatePayment) controlCommand()       {}
func (*CmdCreateTransaction) controlCommand()   {}
func (*CmdRequestClosePayment) controlCommand() {}
func (*CmdAckClosePayment) controlCommand()     {}
func (*CmdAddInvoice) controlCommand()          {}
func (*CmdCancelInvoice) controlCommand()       {}
func (*CmdCommitInvoice) controlCommand()       {}
func (*CmdRequestRoutes) controlCommand()       {}

// FriendMessage is an outgoing peer message to be delivered by the
// channeler.
type FriendMessage struct {
	PublicKey wire.PublicKey
	Message   wire.Message
}

// ChannelerConfig is a configuration update for the channeler.
type ChannelerConfig interface {
	channelerConfig()
}

// ChannelerSetAddress replaces the relays this node listens through.
type ChannelerSetAddress struct {
	Relays []wire.NamedRelayAddress
}

// ChannelerUpdateFriend asks the channeler to keep a friend reachable at
// the given relays.
type ChannelerUpdateFriend struct {
	PublicKey wire.PublicKey
	Relays    []wire.RelayAddress
}

// ChannelerRemoveFriend asks the channeler to drop a friend.
type ChannelerRemoveFriend struct {
	PublicKey wire.PublicKey
}

func (*ChannelerSetAddress) channelerConfig()   {}
func (*ChannelerUpdateFriend) channelerConfig() {}
func (*ChannelerRemoveFriend) channelerConfig() {}

// ControlEvent is an outgoing event towards local applications.
type ControlEvent interface {
	controlEvent()
}

// ControlResponse answers a control command. A nil Err means success.
type ControlResponse struct {
	RequestID wire.Uid
	Err       error
}

// TransactionReady reports that a transaction was accepted end-to-end. The
// commit must be handed to the seller out of band to release the funds.
type TransactionReady struct {
	PaymentID wire.PaymentID
	InvoiceID wire.InvoiceID
	Commit    TransactionCommit
}

// TransactionFailed reports that a transaction was cancelled on its way.
type TransactionFailed struct {
	PaymentID     wire.PaymentID
	TransactionID wire.Uid
	Reason        wire.CancelReason
}

// PaymentDone reports the final status of a closing payment. A nil receipt
// means the payment yielded nothing. The user acknowledges with AckUid.
type PaymentDone struct {
	PaymentID wire.PaymentID
	AckUid    wire.Uid
	Receipt   *wire.Receipt
}

func (*ControlResponse) controlEvent()   {}
func (*TransactionReady) controlEvent()  {}
func (*TransactionFailed) controlEvent() {}
func (*PaymentDone) controlEvent()       {}

// RouteRequest is a forwarded route query for the index client.
type RouteRequest struct {
	RequestID wire.Uid
	Capacity  amount.Amount
	Source    wire.PublicKey
	Dest      wire.PublicKey
}

// HandlerOutput is everything one handler invocation produced. Either all
// of it takes effect (mutations persisted and applied, messages sent) or
// none of it does.
type HandlerOutput struct {
	// Mutations is the ordered durable mutation log of this invocation.
	Mutations []FunderMutation

	// EphemeralMutations is the ordered volatile mutation log.
	EphemeralMutations []EphemeralMutation

	// FriendMessages are outgoing peer messages, in submission order.
	FriendMessages []FriendMessage

	// ChannelerConfigs are configuration updates for the channeler.
	ChannelerConfigs []ChannelerConfig

	// ControlEvents are events for local applications.
	ControlEvents []ControlEvent

	// RouteRequests are queries forwarded to the index client.
	RouteRequests []RouteRequest
}
