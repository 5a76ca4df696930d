package wire

import (
	"bytes"
	"math"
	"math/rand"
	"reflect"
	"testing"
	"testing/quick"

	"github.com/credmesh/credmesh/amount"
	"github.com/davecgh/go-spew/spew"
)

func randBytes(r *rand.Rand, n int) []byte {
	b := make([]byte, n)
	r.Read(b)
	return b
}

func randPublicKey(r *rand.Rand) PublicKey {
	var pk PublicKey
	r.Read(pk[:])

	// Keep a plausible compressed key prefix.
	pk[0] = byte(2 + r.Intn(2))
	return pk
}

func randRelays(r *rand.Rand) []RelayAddress {
	relays := make([]RelayAddress, r.Intn(4))
	for i := range relays {
		relays[i] = RelayAddress{
			PublicKey: randPublicKey(r),
			Address:   string(randBytes(r, 1+r.Intn(20))),
		}
	}
	return relays
}

func randRoute(r *rand.Rand) FriendsRoute {
	route := make(FriendsRoute, 2+r.Intn(5))
	for i := range route {
		route[i] = randPublicKey(r)
	}
	return route
}

func randOperations(r *rand.Rand) []Operation {
	numOps := r.Intn(6)
	ops := make([]Operation, 0, numOps)
	for i := 0; i < numOps; i++ {
		switch r.Intn(7) {
		case 0:
			ops = append(ops, &SetRemoteMaxDebt{
				Debt: amount.FromUint64(r.Uint64()),
			})
		case 1:
			ops = append(ops, &SetRequestsStatus{
				Status: RequestsStatus(r.Intn(2)),
			})
		case 2:
			ops = append(ops, &SetRelays{Relays: randRelays(r)})
		case 3:
			op := &RequestSendFunds{
				Route:       randRoute(r),
				DestPayment: amount.FromUint64(r.Uint64()),
				LeftFees:    amount.FromUint64(uint64(r.Intn(100))),
			}
			r.Read(op.RequestID[:])
			r.Read(op.InvoiceID[:])
			r.Read(op.SrcHashedLock[:])
			ops = append(ops, op)
		case 4:
			op := &ResponseSendFunds{
				Signature: randBytes(r, 70+r.Intn(3)),
			}
			r.Read(op.RequestID[:])
			r.Read(op.DestHashedLock[:])
			ops = append(ops, op)
		case 5:
			op := &CancelSendFunds{
				Reason: CancelReason(r.Intn(7)),
			}
			r.Read(op.RequestID[:])
			ops = append(ops, op)
		default:
			op := &CollectSendFunds{}
			r.Read(op.RequestID[:])
			r.Read(op.SrcPlainLock[:])
			r.Read(op.DestPlainLock[:])
			ops = append(ops, op)
		}
	}
	return ops
}

func TestEmptyMessageUnknownType(t *testing.T) {
	t.Parallel()

	fakeType := MessageType(math.MaxUint16)
	if _, err := makeEmptyMessage(fakeType); err == nil {
		t.Fatalf("should not be able to make an empty message of an " +
			"unknown type")
	}
}

// TestWireProtocol uses the testing/quick package to create a series of fuzz
// tests to attempt to break a primary scenario which is implemented as
// property based testing scenario.
func TestWireProtocol(t *testing.T) {
	t.Parallel()

	// mainScenario is the primary test that will programmatically be
	// executed for all registered wire messages. The quick-checker within
	// testing/quick will attempt to find an input to this function, s.t
	// the function returns false, if so then we've found an input that
	// violates our model of the system.
	mainScenario := func(msg Message) bool {
		// Give a new message, we'll serialize the message into a new
		// bytes buffer.
		var b bytes.Buffer
		if _, err := WriteMessage(&b, msg, 0); err != nil {
			t.Fatalf("unable to write msg: %v", err)
			return false
		}

		// Next, we'll ensure that the serialized payload (subtracting
		// the 2 bytes for the message type) is _below_ the specified
		// max payload size for this message.
		payloadLen := uint32(b.Len()) - 2
		if payloadLen > msg.MaxPayloadLength(0) {
			t.Fatalf("msg payload constraint violated: %v > %v",
				payloadLen, msg.MaxPayloadLength(0))
			return false
		}

		// Finally, we'll deserialize the message from the written
		// buffer, and finally assert that the messages are equal.
		newMsg, err := ReadMessage(&b, 0)
		if err != nil {
			t.Fatalf("unable to read msg: %v", err)
			return false
		}
		if !reflect.DeepEqual(msg, newMsg) {
			t.Fatalf("messages don't match after re-encoding: %v "+
				"vs %v", spew.Sdump(msg), spew.Sdump(newMsg))
			return false
		}

		return true
	}

	// customTypeGen is a map of functions that are able to randomly
	// generate a given type. These functions are needed for types which
	// are too complex for the testing/quick package to automatically
	// generate.
	customTypeGen := map[MessageType]func([]reflect.Value, *rand.Rand){
		MsgMoveToken: func(v []reflect.Value, r *rand.Rand) {
			msg := &MoveToken{
				Operations: randOperations(r),
				Signature:  randBytes(r, 70+r.Intn(3)),
			}
			r.Read(msg.OldToken[:])
			r.Read(msg.RandNonce[:])

			v[0] = reflect.ValueOf(*msg)
		},
		MsgInconsistencyError: func(v []reflect.Value, r *rand.Rand) {
			msg := &InconsistencyError{
				Terms: ResetTerms{
					BalanceForReset: amount.BalanceFromInt64(
						r.Int63() - math.MaxInt64/2,
					),
				},
				Signature: randBytes(r, 70+r.Intn(3)),
			}
			r.Read(msg.Terms.ResetToken[:])

			v[0] = reflect.ValueOf(*msg)
		},
		MsgRelaysUpdate: func(v []reflect.Value, r *rand.Rand) {
			msg := &RelaysUpdate{Relays: randRelays(r)}

			v[0] = reflect.ValueOf(*msg)
		},
	}

	tests := []struct {
		msgType  MessageType
		scenario interface{}
	}{
		{
			msgType: MsgMoveToken,
			scenario: func(m MoveToken) bool {
				return mainScenario(&m)
			},
		},
		{
			msgType: MsgInconsistencyError,
			scenario: func(m InconsistencyError) bool {
				return mainScenario(&m)
			},
		},
		{
			msgType: MsgRelaysUpdate,
			scenario: func(m RelaysUpdate) bool {
				return mainScenario(&m)
			},
		},
	}
	for _, test := range tests {
		var config *quick.Config
		if gen, ok := customTypeGen[test.msgType]; ok {
			config = &quick.Config{
				Values: gen,
			}
		}

		if err := quick.Check(test.scenario, config); err != nil {
			t.Fatalf("msg: %v, %v", test.msgType, err)
		}
	}
}

func TestMoveTokenDigestDeterministic(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewSource(42))
	mt := &MoveToken{
		Operations: randOperations(r),
	}
	r.Read(mt.OldToken[:])
	r.Read(mt.RandNonce[:])
	signer := randPublicKey(r)

	tok1, err := mt.NewToken(signer)
	if err != nil {
		t.Fatalf("unable to compute token: %v", err)
	}
	tok2, err := mt.NewToken(signer)
	if err != nil {
		t.Fatalf("unable to compute token: %v", err)
	}
	if tok1 != tok2 {
		t.Fatalf("token digest is not deterministic")
	}

	// The digest must not depend on the signature.
	mt.Signature = randBytes(r, 71)
	tok3, err := mt.NewToken(signer)
	if err != nil {
		t.Fatalf("unable to compute token: %v", err)
	}
	if tok1 != tok3 {
		t.Fatalf("token digest depends on the signature")
	}

	// But it must depend on the signer.
	tok4, err := mt.NewToken(randPublicKey(r))
	if err != nil {
		t.Fatalf("unable to compute token: %v", err)
	}
	if tok1 == tok4 {
		t.Fatalf("token digest ignores the signer")
	}
}

func TestRouteValidate(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewSource(7))

	route := randRoute(r)
	if err := route.Validate(); err != nil {
		t.Fatalf("valid route rejected: %v", err)
	}

	if err := (FriendsRoute{randPublicKey(r)}).Validate(); err == nil {
		t.Fatalf("single hop route accepted")
	}

	dup := append(FriendsRoute{}, route...)
	dup = append(dup, route[0])
	if err := dup.Validate(); err == nil {
		t.Fatalf("route with duplicate hop accepted")
	}
}

func TestHashLock(t *testing.T) {
	t.Parallel()

	plain, err := RandomPlainLock()
	if err != nil {
		t.Fatalf("unable to generate plain lock: %v", err)
	}
	lock := plain.Hash()
	if !lock.Verify(plain) {
		t.Fatalf("preimage does not verify against its own hash")
	}

	var other PlainLock
	if lock.Verify(other) {
		t.Fatalf("zero preimage verified against random lock")
	}
}
