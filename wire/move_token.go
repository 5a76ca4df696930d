package wire

import (
	"bytes"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// MoveToken is sent by the side of a channel that currently holds the write
// token. It hands the token over to the receiver along with a batch of
// channel operations. Every MoveToken carries the digest of the preceding
// one, forming a hash chain over the full channel history that both sides
// verify before committing.
type MoveToken struct {
	// Operations is the batch of channel operations the sender wishes to
	// apply, in order.
	Operations []Operation

	// OldToken is the digest of the previous move token, binding this
	// message into the channel's hash chain.
	OldToken Token

	// RandNonce is fresh randomness mixed into the new token digest.
	RandNonce [NonceLen]byte

	// Signature is the sender's signature (DER encoded) over the new
	// token digest.
	Signature []byte
}

// A compile time check to ensure MoveToken implements the wire.Message
// interface.
var _ Message = (*MoveToken)(nil)

// Decode deserializes a serialized MoveToken message stored in the passed
// io.Reader observing the specified protocol version.
//
// This is part of the wire.Message interface.
func (m *MoveToken) Decode(r io.Reader, pver uint32) error {
	ops, err := ReadOperations(r)
	if err != nil {
		return err
	}
	m.Operations = ops

	return ReadElements(r,
		&m.OldToken,
		&m.RandNonce,
		&m.Signature,
	)
}

// Encode serializes the target MoveToken into the passed io.Writer observing
// the protocol version specified.
//
// This is part of the wire.Message interface.
func (m *MoveToken) Encode(w io.Writer, pver uint32) error {
	if err := WriteOperations(w, m.Operations); err != nil {
		return err
	}

	return WriteElements(w,
		m.OldToken,
		m.RandNonce,
		m.Signature,
	)
}

// MsgType returns the integer uniquely identifying this message type on the
// wire.
//
// This is part of the wire.Message interface.
func (m *MoveToken) MsgType() MessageType {
	return MsgMoveToken
}

// MaxPayloadLength returns the maximum allowed payload size for a MoveToken
// complete message observing the specified protocol version.
//
// This is part of the wire.Message interface.
func (m *MoveToken) MaxPayloadLength(uint32) uint32 {
	return MaxMessagePayload
}

// NewToken computes the token digest this MoveToken establishes: the hash
// over (previous token, operations, nonce, signer). The signature is
// excluded so that the digest can be computed before signing; the same
// digest doubles as the value the sender signs.
func (m *MoveToken) NewToken(signer PublicKey) (Token, error) {
	var b bytes.Buffer
	if err := WriteOperations(&b, m.Operations); err != nil {
		return Token{}, err
	}
	if err := WriteElements(&b, m.OldToken, m.RandNonce, signer); err != nil {
		return Token{}, err
	}

	return Token(chainhash.HashH(b.Bytes())), nil
}
