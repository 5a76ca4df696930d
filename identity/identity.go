// Package identity holds a node's long-lived signing key and is the only
// place private key material is handled. The rest of the system deals in
// serialized public keys and DER signatures.
package identity

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/credmesh/credmesh/wire"
)

// PrivateKeyLen is the length of a serialized private key.
const PrivateKeyLen = 32

// Identity wraps a node's secp256k1 keypair.
type Identity struct {
	priv *btcec.PrivateKey
}

// New generates a fresh random identity.
func New() (*Identity, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return &Identity{priv: priv}, nil
}

// FromBytes rebuilds an identity from its serialized private key.
func FromBytes(b []byte) (*Identity, error) {
	if len(b) != PrivateKeyLen {
		return nil, fmt.Errorf("invalid private key length: %v", len(b))
	}
	priv, _ := btcec.PrivKeyFromBytes(b)
	return &Identity{priv: priv}, nil
}

// PublicKey returns the node's serialized public key.
func (id *Identity) PublicKey() wire.PublicKey {
	return wire.NewPublicKey(id.priv.PubKey())
}

// Sign signs the passed digest, returning a DER encoded signature.
func (id *Identity) Sign(digest [32]byte) []byte {
	return ecdsa.Sign(id.priv, digest[:]).Serialize()
}

// Serialize returns the raw private key bytes.
func (id *Identity) Serialize() []byte {
	return id.priv.Serialize()
}

// VerifySig checks a DER encoded signature over digest against the passed
// public key.
func VerifySig(pk wire.PublicKey, digest [32]byte, sigBytes []byte) error {
	pub, err := pk.ParsePublicKey()
	if err != nil {
		return fmt.Errorf("invalid public key: %v", err)
	}
	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %v", err)
	}
	if !sig.Verify(digest[:], pub) {
		return fmt.Errorf("signature verification failed")
	}
	return nil
}
