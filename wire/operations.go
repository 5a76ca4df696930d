package wire

import (
	"fmt"
	"io"

	"github.com/credmesh/credmesh/amount"
)

// OpType is the unique byte prefix that identifies a channel operation
// within a MoveToken batch.
type OpType uint8

// The currently defined channel operation types.
const (
	OpSetRemoteMaxDebt  OpType = 1
	OpSetRequestsStatus OpType = 2
	OpSetRelays         OpType = 3
	OpRequestSendFunds  OpType = 10
	OpResponseSendFunds OpType = 11
	OpCancelSendFunds   OpType = 12
	OpCollectSendFunds  OpType = 13
)

// RequestsStatus signals whether a side of a channel is currently willing to
// accept forwarded requests.
type RequestsStatus uint8

const (
	// RequestsClosed means no new requests are admitted.
	RequestsClosed RequestsStatus = 0

	// RequestsOpen means new requests are admitted.
	RequestsOpen RequestsStatus = 1
)

// String returns a human readable requests status.
func (r RequestsStatus) String() string {
	switch r {
	case RequestsClosed:
		return "Closed"
	case RequestsOpen:
		return "Open"
	default:
		return "<unknown status>"
	}
}

// CancelReason enumerates why an in-flight request was cancelled.
type CancelReason uint8

const (
	// CancelFriendNotReady signals the next hop was offline or disabled.
	CancelFriendNotReady CancelReason = 0

	// CancelRequestsClosed signals the next hop does not accept requests.
	CancelRequestsClosed CancelReason = 1

	// CancelCreditExceeded signals the channel lacked capacity for the
	// request.
	CancelCreditExceeded CancelReason = 2

	// CancelDuplicateRequestId signals the request id collided with an
	// in-flight request.
	CancelDuplicateRequestId CancelReason = 3

	// CancelRouteInvalid signals a malformed or foreign route.
	CancelRouteInvalid CancelReason = 4

	// CancelDestRejected signals the destination refused the request.
	CancelDestRejected CancelReason = 5

	// CancelQueueFull signals a pending queue hit its hard bound.
	CancelQueueFull CancelReason = 6
)

// String returns a human readable cancellation reason.
func (c CancelReason) String() string {
	switch c {
	case CancelFriendNotReady:
		return "FriendNotReady"
	case CancelRequestsClosed:
		return "RequestsClosed"
	case CancelCreditExceeded:
		return "CreditExceeded"
	case CancelDuplicateRequestId:
		return "DuplicateRequestId"
	case CancelRouteInvalid:
		return "RouteInvalid"
	case CancelDestRejected:
		return "DestRejected"
	case CancelQueueFull:
		return "QueueFull"
	default:
		return "<unknown reason>"
	}
}

// Operation is a single channel operation carried inside a MoveToken batch.
// The set of implementations is closed: the operation stream is replayed
// verbatim by both sides of a channel, so every operation must have exactly
// one canonical encoding.
type Operation interface {
	// OpType returns the byte uniquely identifying the operation kind.
	OpType() OpType

	// Encode serializes the operation body (without the type byte).
	Encode(w io.Writer) error

	// Decode deserializes the operation body (without the type byte).
	Decode(r io.Reader) error
}

// SetRemoteMaxDebt grants the receiving side a new credit ceiling.
type SetRemoteMaxDebt struct {
	// Debt is how much the sender is now willing to be owed by the
	// receiver.
	Debt amount.Amount
}

// OpType returns the operation type byte.
func (o *SetRemoteMaxDebt) OpType() OpType { return OpSetRemoteMaxDebt }

// Encode serializes the operation body.
func (o *SetRemoteMaxDebt) Encode(w io.Writer) error {
	return WriteElement(w, o.Debt)
}

// Decode deserializes the operation body.
func (o *SetRemoteMaxDebt) Decode(r io.Reader) error {
	return ReadElement(r, &o.Debt)
}

// SetRequestsStatus advertises whether the sender accepts forwarded
// requests.
type SetRequestsStatus struct {
	Status RequestsStatus
}

// OpType returns the operation type byte.
func (o *SetRequestsStatus) OpType() OpType { return OpSetRequestsStatus }

// Encode serializes the operation body.
func (o *SetRequestsStatus) Encode(w io.Writer) error {
	return WriteElement(w, uint8(o.Status))
}

// Decode deserializes the operation body.
func (o *SetRequestsStatus) Decode(r io.Reader) error {
	var status uint8
	if err := ReadElement(r, &status); err != nil {
		return err
	}
	if status > uint8(RequestsOpen) {
		return fmt.Errorf("invalid requests status: %v", status)
	}
	o.Status = RequestsStatus(status)
	return nil
}

// SetRelays advertises the sender's current relay set to the receiver.
type SetRelays struct {
	Relays []RelayAddress
}

// OpType returns the operation type byte.
func (o *SetRelays) OpType() OpType { return OpSetRelays }

// Encode serializes the operation body.
func (o *SetRelays) Encode(w io.Writer) error {
	return WriteElement(w, o.Relays)
}

// Decode deserializes the operation body.
func (o *SetRelays) Decode(r io.Reader) error {
	return ReadElement(r, &o.Relays)
}

// RequestSendFunds pushes a payment request one hop along its route. The
// receiving side reserves DestPayment+LeftFees from the sender's available
// credit until the request is responded to or cancelled.
type RequestSendFunds struct {
	// RequestID uniquely identifies the request along the whole route.
	RequestID Uid

	// Route is the full chain of nodes, buyer first, seller last.
	Route FriendsRoute

	// DestPayment is the amount the seller will receive.
	DestPayment amount.Amount

	// InvoiceID names the invoice this request pays into.
	InvoiceID InvoiceID

	// SrcHashedLock commits to the buyer's secret. The buyer reveals the
	// preimage only in the final CollectSendFunds leg.
	SrcHashedLock HashLock

	// LeftFees is the fee budget remaining for the hops that are still
	// ahead of this edge.
	LeftFees amount.Amount
}

// OpType returns the operation type byte.
func (o *RequestSendFunds) OpType() OpType { return OpRequestSendFunds }

// Encode serializes the operation body.
func (o *RequestSendFunds) Encode(w io.Writer) error {
	return WriteElements(w,
		o.RequestID,
		o.Route,
		o.DestPayment,
		o.InvoiceID,
		o.SrcHashedLock,
		o.LeftFees,
	)
}

// Decode deserializes the operation body.
func (o *RequestSendFunds) Decode(r io.Reader) error {
	return ReadElements(r,
		&o.RequestID,
		&o.Route,
		&o.DestPayment,
		&o.InvoiceID,
		&o.SrcHashedLock,
		&o.LeftFees,
	)
}

// Frozen returns the credit reserved on an edge for this request.
func (o *RequestSendFunds) Frozen() (amount.Amount, error) {
	return amount.CheckedAdd(o.DestPayment, o.LeftFees)
}

// ResponseSendFunds confirms end-to-end delivery of a request. It travels
// from the seller back towards the buyer, committing the reserved credit
// into the balance on every edge it crosses.
type ResponseSendFunds struct {
	// RequestID names the request being responded to.
	RequestID Uid

	// DestHashedLock commits to the seller's secret.
	DestHashedLock HashLock

	// Signature is the seller's signature over the response digest. It
	// later becomes part of the buyer's receipt.
	Signature []byte
}

// OpType returns the operation type byte.
func (o *ResponseSendFunds) OpType() OpType { return OpResponseSendFunds }

// Encode serializes the operation body.
func (o *ResponseSendFunds) Encode(w io.Writer) error {
	return WriteElements(w, o.RequestID, o.DestHashedLock, o.Signature)
}

// Decode deserializes the operation body.
func (o *ResponseSendFunds) Decode(r io.Reader) error {
	return ReadElements(r, &o.RequestID, &o.DestHashedLock, &o.Signature)
}

// CancelSendFunds releases the reservation of an in-flight request without
// any transfer. It travels back towards the buyer.
type CancelSendFunds struct {
	// RequestID names the request being cancelled.
	RequestID Uid

	// Reason describes why the request failed.
	Reason CancelReason
}

// OpType returns the operation type byte.
func (o *CancelSendFunds) OpType() OpType { return OpCancelSendFunds }

// Encode serializes the operation body.
func (o *CancelSendFunds) Encode(w io.Writer) error {
	return WriteElements(w, o.RequestID, uint8(o.Reason))
}

// Decode deserializes the operation body.
func (o *CancelSendFunds) Decode(r io.Reader) error {
	var reason uint8
	if err := ReadElements(r, &o.RequestID, &reason); err != nil {
		return err
	}
	o.Reason = CancelReason(reason)
	return nil
}

// CollectSendFunds closes out a responded request by revealing both lock
// preimages. When it reaches the buyer it proves the payment was accepted
// and yields a receipt.
type CollectSendFunds struct {
	// RequestID names the request being collected.
	RequestID Uid

	// SrcPlainLock is the preimage of the buyer's hash lock.
	SrcPlainLock PlainLock

	// DestPlainLock is the preimage of the seller's hash lock.
	DestPlainLock PlainLock
}

// OpType returns the operation type byte.
func (o *CollectSendFunds) OpType() OpType { return OpCollectSendFunds }

// Encode serializes the operation body.
func (o *CollectSendFunds) Encode(w io.Writer) error {
	return WriteElements(w, o.RequestID, o.SrcPlainLock, o.DestPlainLock)
}

// Decode deserializes the operation body.
func (o *CollectSendFunds) Decode(r io.Reader) error {
	return ReadElements(r, &o.RequestID, &o.SrcPlainLock, &o.DestPlainLock)
}

// makeEmptyOperation creates a new empty operation of the proper concrete
// type based on the passed operation type byte.
func makeEmptyOperation(opType OpType) (Operation, error) {
	switch opType {
	case OpSetRemoteMaxDebt:
		return &SetRemoteMaxDebt{}, nil
	case OpSetRequestsStatus:
		return &SetRequestsStatus{}, nil
	case OpSetRelays:
		return &SetRelays{}, nil
	case OpRequestSendFunds:
		return &RequestSendFunds{}, nil
	case OpResponseSendFunds:
		return &ResponseSendFunds{}, nil
	case OpCancelSendFunds:
		return &CancelSendFunds{}, nil
	case OpCollectSendFunds:
		return &CollectSendFunds{}, nil
	default:
		return nil, fmt.Errorf("unknown operation type [%d]", opType)
	}
}

// WriteOperation serializes an operation, prefixed by its type byte.
func WriteOperation(w io.Writer, op Operation) error {
	if err := WriteElement(w, uint8(op.OpType())); err != nil {
		return err
	}
	return op.Encode(w)
}

// ReadOperation deserializes the next operation from r.
func ReadOperation(r io.Reader) (Operation, error) {
	var opType uint8
	if err := ReadElement(r, &opType); err != nil {
		return nil, err
	}
	op, err := makeEmptyOperation(OpType(opType))
	if err != nil {
		return nil, err
	}
	if err := op.Decode(r); err != nil {
		return nil, err
	}
	return op, nil
}

// WriteOperations serializes a batch of operations prefixed by a 16-bit
// count.
func WriteOperations(w io.Writer, ops []Operation) error {
	if len(ops) > MaxVarBytesLen {
		return fmt.Errorf("too many operations: %v", len(ops))
	}
	if err := WriteElement(w, uint16(len(ops))); err != nil {
		return err
	}
	for _, op := range ops {
		if err := WriteOperation(w, op); err != nil {
			return err
		}
	}
	return nil
}

// ReadOperations deserializes a batch of operations.
func ReadOperations(r io.Reader) ([]Operation, error) {
	var numOps uint16
	if err := ReadElement(r, &numOps); err != nil {
		return nil, err
	}
	ops := make([]Operation, 0, numOps)
	for i := uint16(0); i < numOps; i++ {
		op, err := ReadOperation(r)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}
