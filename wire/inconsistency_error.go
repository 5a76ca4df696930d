package wire

import (
	"bytes"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/credmesh/credmesh/amount"
)

// ResetTerms is one side's proposal for rebuilding an inconsistent channel:
// the digest its chain currently ends at, and the balance (from the
// proposer's point of view) the fresh channel should start with.
type ResetTerms struct {
	// ResetToken is the token digest the proposer's chain currently ends
	// at. It doubles as the identifier of the proposal.
	ResetToken Token

	// BalanceForReset is the balance the proposer wants the rebuilt
	// channel to carry, from the proposer's perspective.
	BalanceForReset amount.Balance
}

// SigDigest returns the digest a proposer signs over its reset terms.
func (t *ResetTerms) SigDigest() ([32]byte, error) {
	var b bytes.Buffer
	if err := WriteElements(&b, t.ResetToken, t.BalanceForReset); err != nil {
		return [32]byte{}, err
	}
	return [32]byte(chainhash.HashH(b.Bytes())), nil
}

// InconsistencyError is sent by a side that has detected a violation of its
// channel invariants. It carries the sender's signed reset terms. The
// channel stays unusable until both sides hold each other's terms and one of
// them accepts by sending a MoveToken chained onto the other's reset token.
type InconsistencyError struct {
	// Terms is the sender's reset proposal.
	Terms ResetTerms

	// Signature is the sender's signature (DER encoded) over the terms.
	Signature []byte
}

// A compile time check to ensure InconsistencyError implements the
// wire.Message interface.
var _ Message = (*InconsistencyError)(nil)

// Decode deserializes a serialized InconsistencyError message stored in the
// passed io.Reader observing the specified protocol version.
//
// This is part of the wire.Message interface.
func (m *InconsistencyError) Decode(r io.Reader, pver uint32) error {
	return ReadElements(r,
		&m.Terms.ResetToken,
		&m.Terms.BalanceForReset,
		&m.Signature,
	)
}

// Encode serializes the target InconsistencyError into the passed io.Writer
// observing the protocol version specified.
//
// This is part of the wire.Message interface.
func (m *InconsistencyError) Encode(w io.Writer, pver uint32) error {
	return WriteElements(w,
		m.Terms.ResetToken,
		m.Terms.BalanceForReset,
		m.Signature,
	)
}

// MsgType returns the integer uniquely identifying this message type on the
// wire.
//
// This is part of the wire.Message interface.
func (m *InconsistencyError) MsgType() MessageType {
	return MsgInconsistencyError
}

// MaxPayloadLength returns the maximum allowed payload size for an
// InconsistencyError complete message observing the specified protocol
// version.
//
// This is part of the wire.Message interface.
func (m *InconsistencyError) MaxPayloadLength(uint32) uint32 {
	// 32 + 16 + 2 + 72
	return 122
}
