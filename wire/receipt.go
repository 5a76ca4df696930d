package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/credmesh/credmesh/amount"
)

// ResponseSigDigest computes the digest a seller signs when responding to a
// request. The digest binds the request id, the invoice being paid, the
// seller's hash lock and both amounts, so the resulting signature can later
// serve as the seller half of a receipt.
func ResponseSigDigest(requestID Uid, invoiceID InvoiceID,
	destHashedLock HashLock, destPayment,
	totalDestPayment amount.Amount) ([32]byte, error) {

	var b bytes.Buffer
	err := WriteElements(&b,
		requestID,
		invoiceID,
		destHashedLock,
		destPayment,
		totalDestPayment,
	)
	if err != nil {
		return [32]byte{}, err
	}

	return [32]byte(chainhash.HashH(b.Bytes())), nil
}

// Receipt is the buyer's proof that a payment was accepted end-to-end: the
// seller's response signature together with both revealed lock preimages.
// Anyone holding the seller's public key can verify it offline.
type Receipt struct {
	// RequestID is the id of the transaction the receipt closes out.
	RequestID Uid

	// InvoiceID names the invoice that was paid.
	InvoiceID InvoiceID

	// SrcPlainLock is the buyer's revealed lock preimage.
	SrcPlainLock PlainLock

	// DestPlainLock is the seller's revealed lock preimage.
	DestPlainLock PlainLock

	// DestPayment is the amount this transaction carried.
	DestPayment amount.Amount

	// TotalDestPayment is the full amount of the invoice, possibly spread
	// over multiple transactions.
	TotalDestPayment amount.Amount

	// Signature is the seller's response signature (DER encoded).
	Signature []byte
}

// Encode serializes the receipt canonically.
func (r *Receipt) Encode(w io.Writer) error {
	return WriteElements(w,
		r.RequestID,
		r.InvoiceID,
		r.SrcPlainLock,
		r.DestPlainLock,
		r.DestPayment,
		r.TotalDestPayment,
		r.Signature,
	)
}

// Decode deserializes the receipt.
func (r *Receipt) Decode(rd io.Reader) error {
	return ReadElements(rd,
		&r.RequestID,
		&r.InvoiceID,
		&r.SrcPlainLock,
		&r.DestPlainLock,
		&r.DestPayment,
		&r.TotalDestPayment,
		&r.Signature,
	)
}

// Verify checks the receipt against the seller's identity: the seller
// signature must cover the receipt's contents with the hash of the revealed
// destination preimage in place of the preimage itself.
func (r *Receipt) Verify(seller PublicKey) error {
	digest, err := ResponseSigDigest(
		r.RequestID, r.InvoiceID, r.DestPlainLock.Hash(),
		r.DestPayment, r.TotalDestPayment,
	)
	if err != nil {
		return err
	}

	sellerKey, err := seller.ParsePublicKey()
	if err != nil {
		return fmt.Errorf("invalid seller key: %v", err)
	}
	sig, err := ecdsa.ParseDERSignature(r.Signature)
	if err != nil {
		return fmt.Errorf("invalid receipt signature: %v", err)
	}
	if !sig.Verify(digest[:], sellerKey) {
		return fmt.Errorf("receipt signature verification failed")
	}

	return nil
}
