package wire

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	// PublicKeyLen is the length of a serialized compressed secp256k1
	// public key.
	PublicKeyLen = 33

	// InvoiceIDLen is the length of an invoice id.
	InvoiceIDLen = 32

	// PaymentIDLen is the length of a payment id.
	PaymentIDLen = 16

	// UidLen is the length of a request/transaction id.
	UidLen = 16

	// LockLen is the length of both halves of a hash lock.
	LockLen = 32

	// TokenLen is the length of a channel token digest.
	TokenLen = 32

	// NonceLen is the length of the random nonce carried by a MoveToken.
	NonceLen = 32
)

// PublicKey is the serialized compressed form of a node's identity key.
// It is used directly as a map key throughout the funder.
type PublicKey [PublicKeyLen]byte

// NewPublicKey serializes a btcec public key into its wire form.
func NewPublicKey(pub *btcec.PublicKey) PublicKey {
	var pk PublicKey
	copy(pk[:], pub.SerializeCompressed())
	return pk
}

// ParsePublicKey deserializes the wire form back into a btcec public key.
func (p PublicKey) ParsePublicKey() (*btcec.PublicKey, error) {
	return btcec.ParsePubKey(p[:])
}

// String returns the hex encoding of the public key.
func (p PublicKey) String() string {
	return hex.EncodeToString(p[:])
}

// InvoiceID identifies an invoice issued by a seller.
type InvoiceID [InvoiceIDLen]byte

// String returns the hex encoding of the invoice id.
func (i InvoiceID) String() string {
	return hex.EncodeToString(i[:])
}

// PaymentID identifies a buyer-side payment aggregate.
type PaymentID [PaymentIDLen]byte

// String returns the hex encoding of the payment id.
func (p PaymentID) String() string {
	return hex.EncodeToString(p[:])
}

// Uid identifies a single routed request. Request ids must be unique among
// the in-flight requests of a channel.
type Uid [UidLen]byte

// String returns the hex encoding of the uid.
func (u Uid) String() string {
	return hex.EncodeToString(u[:])
}

// PlainLock is the secret half of a hash lock.
type PlainLock [LockLen]byte

// Hash returns the public half of the lock.
func (p PlainLock) Hash() HashLock {
	return HashLock(chainhash.HashH(p[:]))
}

// HashLock is the public commitment half of a hash lock. A request carrying
// a hash lock can only be collected by revealing the matching PlainLock.
type HashLock [LockLen]byte

// Verify reports whether plain is the preimage of the lock.
func (h HashLock) Verify(plain PlainLock) bool {
	return plain.Hash() == h
}

// Token is the digest that binds a channel's move token history.
type Token [TokenLen]byte

// String returns the hex encoding of the token.
func (t Token) String() string {
	return hex.EncodeToString(t[:])
}

// RandomUid returns a fresh random request id.
func RandomUid() (Uid, error) {
	var u Uid
	if _, err := rand.Read(u[:]); err != nil {
		return u, err
	}
	return u, nil
}

// RandomPaymentID returns a fresh random payment id.
func RandomPaymentID() (PaymentID, error) {
	var p PaymentID
	if _, err := rand.Read(p[:]); err != nil {
		return p, err
	}
	return p, nil
}

// RandomPlainLock returns a fresh random lock preimage.
func RandomPlainLock() (PlainLock, error) {
	var p PlainLock
	if _, err := rand.Read(p[:]); err != nil {
		return p, err
	}
	return p, nil
}

// RandomNonce returns a fresh random move token nonce.
func RandomNonce() ([NonceLen]byte, error) {
	var n [NonceLen]byte
	if _, err := rand.Read(n[:]); err != nil {
		return n, err
	}
	return n, nil
}

// RelayAddress is the address of a relay server a node can be reached
// through.
type RelayAddress struct {
	// PublicKey is the identity of the relay.
	PublicKey PublicKey

	// Address is the network address of the relay, opaque to the funder.
	Address string
}

// NamedRelayAddress is a relay address carrying a human readable label. The
// label never leaves the local node.
type NamedRelayAddress struct {
	RelayAddress

	// Name is a local human readable label for the relay.
	Name string
}

// FriendsRoute is an ordered chain of nodes a payment is pushed through.
// The first hop is the buyer, the last is the seller.
type FriendsRoute []PublicKey

// Validate checks the basic wellformedness of a route: at least two hops
// and no duplicate nodes.
func (r FriendsRoute) Validate() error {
	if len(r) < 2 {
		return fmt.Errorf("route too short: %v hops", len(r))
	}
	seen := make(map[PublicKey]struct{}, len(r))
	for _, hop := range r {
		if _, ok := seen[hop]; ok {
			return fmt.Errorf("route visits %v twice", hop)
		}
		seen[hop] = struct{}{}
	}
	return nil
}

// NextHop returns the node that follows pk on the route, or false if pk is
// the final hop or not on the route at all.
func (r FriendsRoute) NextHop(pk PublicKey) (PublicKey, bool) {
	for i, hop := range r {
		if hop == pk && i+1 < len(r) {
			return r[i+1], true
		}
	}
	return PublicKey{}, false
}

// PrevHop returns the node that precedes pk on the route, or false if pk is
// the first hop or not on the route at all.
func (r FriendsRoute) PrevHop(pk PublicKey) (PublicKey, bool) {
	for i, hop := range r {
		if hop == pk && i > 0 {
			return r[i-1], true
		}
	}
	return PublicKey{}, false
}

// IsDest reports whether pk is the final hop of the route.
func (r FriendsRoute) IsDest(pk PublicKey) bool {
	return len(r) > 0 && r[len(r)-1] == pk
}
