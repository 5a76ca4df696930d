package tokenchannel

import (
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/credmesh/credmesh/identity"
	"github.com/credmesh/credmesh/wire"
	"golang.org/x/crypto/hkdf"
)

// ResetTerms returns the terms the local side proposes for rebuilding the
// channel: the current head of its hash chain and its committed balance.
// Pending reservations are dropped by a reset.
func (tc *TokenChannel) ResetTerms() wire.ResetTerms {
	return wire.ResetTerms{
		ResetToken:      tc.LastToken,
		BalanceForReset: tc.Balance,
	}
}

// deriveResetNonce derives the nonce of a reset move token from the agreed
// reset terms: the reset token and the balance for reset. Using HKDF here
// makes the reset move token, and with it the fresh chain head, a pure
// function of the agreed terms: both sides compute identical values without
// further communication, and a reset move token built for other terms does
// not verify.
func deriveResetNonce(terms wire.ResetTerms) [wire.NonceLen]byte {
	var secret [wire.TokenLen + 16]byte
	copy(secret[:], terms.ResetToken[:])
	terms.BalanceForReset.PutBytes(secret[wire.TokenLen:])

	var nonce [wire.NonceLen]byte
	r := hkdf.New(
		sha256.New, secret[:], nil, []byte("channel reset nonce"),
	)
	if _, err := io.ReadFull(r, nonce[:]); err != nil {
		// HKDF cannot fail for a 32 byte read.
		panic(err)
	}
	return nonce
}

// BuildResetMoveToken constructs the empty move token that accepts the
// remote side's reset terms. It chains onto the remote reset token and is
// fully deterministic apart from the signature.
func BuildResetMoveToken(id *identity.Identity,
	remoteTerms wire.ResetTerms) (*wire.MoveToken, error) {

	mt := &wire.MoveToken{
		OldToken:  remoteTerms.ResetToken,
		RandNonce: deriveResetNonce(remoteTerms),
	}
	newToken, err := mt.NewToken(id.PublicKey())
	if err != nil {
		return nil, err
	}
	mt.Signature = id.Sign(newToken)

	return mt, nil
}

// NewFromLocalReset rebuilds a consistent channel after the local side
// accepted the remote side's reset terms and sent resetMT. The balance is
// the remote proposal seen from our side, pending debts are empty, and the
// remote side holds the token.
func NewFromLocalReset(localPK, remotePK wire.PublicKey,
	resetMT *wire.MoveToken,
	remoteTerms wire.ResetTerms) (*TokenChannel, error) {

	newToken, err := resetMT.NewToken(localPK)
	if err != nil {
		return nil, err
	}

	return &TokenChannel{
		LocalPublicKey:        localPK,
		RemotePublicKey:       remotePK,
		Direction:             DirIncoming,
		Balance:               remoteTerms.BalanceForReset.Neg(),
		LastToken:             newToken,
		LastMoveToken:         resetMT,
		PendingLocalRequests:  make(map[wire.Uid]*PendingRequest),
		PendingRemoteRequests: make(map[wire.Uid]*PendingRequest),
	}, nil
}

// NewFromRemoteReset rebuilds a consistent channel after the remote side
// accepted our reset terms by sending resetMT chained onto our reset token.
// The balance is our own proposal, pending debts are empty, and the local
// side holds the token.
func NewFromRemoteReset(localPK, remotePK wire.PublicKey,
	resetMT *wire.MoveToken,
	localTerms wire.ResetTerms) (*TokenChannel, error) {

	if resetMT.OldToken != localTerms.ResetToken {
		return nil, ErrInvalidChainLink
	}
	if len(resetMT.Operations) != 0 {
		return nil, fmt.Errorf("reset move token carries operations")
	}
	if resetMT.RandNonce != deriveResetNonce(localTerms) {
		return nil, ErrInvalidChainLink
	}

	newToken, err := resetMT.NewToken(remotePK)
	if err != nil {
		return nil, err
	}
	if err := identity.VerifySig(
		remotePK, newToken, resetMT.Signature,
	); err != nil {
		return nil, ErrInvalidSignature
	}

	return &TokenChannel{
		LocalPublicKey:        localPK,
		RemotePublicKey:       remotePK,
		Direction:             DirOutgoing,
		Balance:               localTerms.BalanceForReset,
		LastToken:             newToken,
		LastMoveToken:         resetMT,
		PendingLocalRequests:  make(map[wire.Uid]*PendingRequest),
		PendingRemoteRequests: make(map[wire.Uid]*PendingRequest),
	}, nil
}
