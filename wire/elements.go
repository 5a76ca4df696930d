package wire

// code derived from https://github.com/btcsuite/btcd/blob/master/wire/common.go

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/credmesh/credmesh/amount"
)

// MaxVarBytesLen is the largest variable length byte slice an element may
// carry. Signatures and addresses are all far below this bound.
const MaxVarBytesLen = 65535

// WriteElement is a one-stop shop to write the big endian representation of
// any element which is to be serialized for the wire protocol. The passed
// io.Writer should be backed by an appropriately sized byte slice, or be able
// to dynamically expand. The element's encoding is canonical: a given value
// has exactly one serialization, as channel token digests are computed over
// encoded elements.
func WriteElement(w io.Writer, element interface{}) error {
	switch e := element.(type) {
	case uint8:
		var b [1]byte
		b[0] = e
		if _, err := w.Write(b[:]); err != nil {
			return err
		}
	case bool:
		var b [1]byte
		if e {
			b[0] = 1
		}
		if _, err := w.Write(b[:]); err != nil {
			return err
		}
	case uint16:
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], e)
		if _, err := w.Write(b[:]); err != nil {
			return err
		}
	case uint32:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], e)
		if _, err := w.Write(b[:]); err != nil {
			return err
		}
	case uint64:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], e)
		if _, err := w.Write(b[:]); err != nil {
			return err
		}
	case amount.Amount:
		var b [16]byte
		amount.PutAmountBytes(b[:], e)
		if _, err := w.Write(b[:]); err != nil {
			return err
		}
	case amount.Balance:
		var b [16]byte
		e.PutBytes(b[:])
		if _, err := w.Write(b[:]); err != nil {
			return err
		}
	case PublicKey:
		if _, err := w.Write(e[:]); err != nil {
			return err
		}
	case InvoiceID:
		if _, err := w.Write(e[:]); err != nil {
			return err
		}
	case PaymentID:
		if _, err := w.Write(e[:]); err != nil {
			return err
		}
	case Uid:
		if _, err := w.Write(e[:]); err != nil {
			return err
		}
	case PlainLock:
		if _, err := w.Write(e[:]); err != nil {
			return err
		}
	case HashLock:
		if _, err := w.Write(e[:]); err != nil {
			return err
		}
	case Token:
		if _, err := w.Write(e[:]); err != nil {
			return err
		}
	case [NonceLen]byte:
		if _, err := w.Write(e[:]); err != nil {
			return err
		}
	case []byte:
		if len(e) > MaxVarBytesLen {
			return fmt.Errorf("var bytes too long: %v", len(e))
		}
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(e)))
		if _, err := w.Write(l[:]); err != nil {
			return err
		}
		if _, err := w.Write(e); err != nil {
			return err
		}
	case string:
		return WriteElement(w, []byte(e))
	case FriendsRoute:
		if len(e) > 255 {
			return fmt.Errorf("route too long: %v", len(e))
		}
		if err := WriteElement(w, uint8(len(e))); err != nil {
			return err
		}
		for _, hop := range e {
			if err := WriteElement(w, hop); err != nil {
				return err
			}
		}
	case RelayAddress:
		return WriteElements(w, e.PublicKey, e.Address)
	case []RelayAddress:
		if len(e) > 255 {
			return fmt.Errorf("too many relays: %v", len(e))
		}
		if err := WriteElement(w, uint8(len(e))); err != nil {
			return err
		}
		for _, relay := range e {
			if err := WriteElement(w, relay); err != nil {
				return err
			}
		}
	case NamedRelayAddress:
		return WriteElements(w, e.RelayAddress, e.Name)
	case []NamedRelayAddress:
		if len(e) > 255 {
			return fmt.Errorf("too many relays: %v", len(e))
		}
		if err := WriteElement(w, uint8(len(e))); err != nil {
			return err
		}
		for _, relay := range e {
			if err := WriteElement(w, relay); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown type in WriteElement: %T", e)
	}

	return nil
}

// WriteElements is writes each element in the elements slice to the passed
// io.Writer using WriteElement.
func WriteElements(w io.Writer, elements ...interface{}) error {
	for _, element := range elements {
		err := WriteElement(w, element)
		if err != nil {
			return err
		}
	}
	return nil
}

// ReadElement is a one-stop utility function to deserialize any datastructure
// encoded using the serialization format of the wire protocol.
func ReadElement(r io.Reader, element interface{}) error {
	switch e := element.(type) {
	case *uint8:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = b[0]
	case *bool:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		if b[0] > 1 {
			return fmt.Errorf("corrupt boolean: %v", b[0])
		}
		*e = b[0] == 1
	case *uint16:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = binary.BigEndian.Uint16(b[:])
	case *uint32:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = binary.BigEndian.Uint32(b[:])
	case *uint64:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = binary.BigEndian.Uint64(b[:])
	case *amount.Amount:
		var b [16]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = amount.AmountFromBytes(b[:])
	case *amount.Balance:
		var b [16]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = amount.BalanceFromBytes(b[:])
	case *PublicKey:
		if _, err := io.ReadFull(r, e[:]); err != nil {
			return err
		}
	case *InvoiceID:
		if _, err := io.ReadFull(r, e[:]); err != nil {
			return err
		}
	case *PaymentID:
		if _, err := io.ReadFull(r, e[:]); err != nil {
			return err
		}
	case *Uid:
		if _, err := io.ReadFull(r, e[:]); err != nil {
			return err
		}
	case *PlainLock:
		if _, err := io.ReadFull(r, e[:]); err != nil {
			return err
		}
	case *HashLock:
		if _, err := io.ReadFull(r, e[:]); err != nil {
			return err
		}
	case *Token:
		if _, err := io.ReadFull(r, e[:]); err != nil {
			return err
		}
	case *[NonceLen]byte:
		if _, err := io.ReadFull(r, e[:]); err != nil {
			return err
		}
	case *[]byte:
		var l [2]byte
		if _, err := io.ReadFull(r, l[:]); err != nil {
			return err
		}
		length := binary.BigEndian.Uint16(l[:])
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			return err
		}
		*e = buf
	case *string:
		var buf []byte
		if err := ReadElement(r, &buf); err != nil {
			return err
		}
		*e = string(buf)
	case *FriendsRoute:
		var numHops uint8
		if err := ReadElement(r, &numHops); err != nil {
			return err
		}
		route := make(FriendsRoute, numHops)
		for i := range route {
			if err := ReadElement(r, &route[i]); err != nil {
				return err
			}
		}
		*e = route
	case *RelayAddress:
		return ReadElements(r, &e.PublicKey, &e.Address)
	case *[]RelayAddress:
		var numRelays uint8
		if err := ReadElement(r, &numRelays); err != nil {
			return err
		}
		relays := make([]RelayAddress, numRelays)
		for i := range relays {
			if err := ReadElement(r, &relays[i]); err != nil {
				return err
			}
		}
		*e = relays
	case *NamedRelayAddress:
		return ReadElements(r, &e.RelayAddress, &e.Name)
	case *[]NamedRelayAddress:
		var numRelays uint8
		if err := ReadElement(r, &numRelays); err != nil {
			return err
		}
		relays := make([]NamedRelayAddress, numRelays)
		for i := range relays {
			if err := ReadElement(r, &relays[i]); err != nil {
				return err
			}
		}
		*e = relays
	default:
		return fmt.Errorf("unknown type in ReadElement: %T", e)
	}

	return nil
}

// ReadElements deserializes a variable number of elements into the passed
// io.Reader, with each element being deserialized according to the ReadElement
// function.
func ReadElements(r io.Reader, elements ...interface{}) error {
	for _, element := range elements {
		err := ReadElement(r, element)
		if err != nil {
			return err
		}
	}
	return nil
}
