package amount

import (
	"fmt"

	"lukechampine.com/uint128"
)

var (
	// ErrOverflow is returned when the result of an operation cannot be
	// represented within 128 bits.
	ErrOverflow = fmt.Errorf("amount overflow")

	// ErrUnderflow is returned when an unsigned subtraction would produce
	// a negative result.
	ErrUnderflow = fmt.Errorf("amount underflow")
)

// Amount is an unsigned 128-bit quantity of credits. All credit ceilings,
// payments and pending reservations within a token channel are expressed as
// Amounts.
type Amount = uint128.Uint128

// Zero is the zero Amount.
var Zero = uint128.Zero

// FromUint64 lifts a 64-bit value into an Amount.
func FromUint64(v uint64) Amount {
	return uint128.From64(v)
}

// CheckedAdd returns a+b, or ErrOverflow if the sum exceeds 128 bits.
func CheckedAdd(a, b Amount) (Amount, error) {
	sum := a.AddWrap(b)
	if sum.Cmp(a) < 0 {
		return Zero, ErrOverflow
	}
	return sum, nil
}

// CheckedSub returns a-b, or ErrUnderflow if b exceeds a.
func CheckedSub(a, b Amount) (Amount, error) {
	if a.Cmp(b) < 0 {
		return Zero, ErrUnderflow
	}
	return a.Sub(b), nil
}

// maxMagnitude is the largest absolute value a Balance may carry. The
// asymmetry of two's complement is deliberately ignored: |balance| is capped
// at 2^127-1 in both directions so that negation is always defined.
var maxMagnitude = uint128.New(^uint64(0), ^uint64(0)>>1)

// Balance is a signed 128-bit quantity of credits. A positive balance means
// the remote side owes the local side.
type Balance struct {
	neg bool
	mag uint128.Uint128
}

// NewBalance returns a Balance with the given sign and magnitude.
func NewBalance(neg bool, mag Amount) (Balance, error) {
	if mag.Cmp(maxMagnitude) > 0 {
		return Balance{}, ErrOverflow
	}
	if mag.IsZero() {
		neg = false
	}
	return Balance{neg: neg, mag: mag}, nil
}

// BalanceFromInt64 lifts a signed 64-bit value into a Balance.
func BalanceFromInt64(v int64) Balance {
	if v < 0 {
		return Balance{neg: true, mag: uint128.From64(uint64(-v))}
	}
	return Balance{mag: uint128.From64(uint64(v))}
}

// IsZero reports whether the balance is exactly zero.
func (b Balance) IsZero() bool {
	return b.mag.IsZero()
}

// Sign returns -1, 0 or 1 depending on the sign of the balance.
func (b Balance) Sign() int {
	switch {
	case b.mag.IsZero():
		return 0
	case b.neg:
		return -1
	default:
		return 1
	}
}

// Magnitude returns the absolute value of the balance.
func (b Balance) Magnitude() Amount {
	return b.mag
}

// Neg returns the balance with its sign flipped.
func (b Balance) Neg() Balance {
	if b.mag.IsZero() {
		return b
	}
	return Balance{neg: !b.neg, mag: b.mag}
}

// Equal reports whether two balances carry the same value.
func (b Balance) Equal(o Balance) bool {
	return b.neg == o.neg && b.mag.Equals(o.mag)
}

// Cmp compares two balances, returning -1, 0 or 1.
func (b Balance) Cmp(o Balance) int {
	switch {
	case b.neg && !o.neg:
		return -1
	case !b.neg && o.neg:
		return 1
	case b.neg:
		// Both negative, larger magnitude is smaller.
		return o.mag.Cmp(b.mag)
	default:
		return b.mag.Cmp(o.mag)
	}
}

// AddAmount returns b+a, rejecting results whose magnitude exceeds 2^127-1.
func (b Balance) AddAmount(a Amount) (Balance, error) {
	if !b.neg {
		mag, err := CheckedAdd(b.mag, a)
		if err != nil {
			return Balance{}, err
		}
		return NewBalance(false, mag)
	}

	// Negative balance moving towards zero, possibly crossing it.
	if b.mag.Cmp(a) >= 0 {
		return NewBalance(true, b.mag.Sub(a))
	}
	return NewBalance(false, a.Sub(b.mag))
}

// SubAmount returns b-a, rejecting results whose magnitude exceeds 2^127-1.
func (b Balance) SubAmount(a Amount) (Balance, error) {
	neg, err := b.Neg().AddAmount(a)
	if err != nil {
		return Balance{}, err
	}
	return neg.Neg(), nil
}

// CheckedAddBalance returns b+o.
func (b Balance) CheckedAddBalance(o Balance) (Balance, error) {
	if o.neg {
		return b.SubAmount(o.mag)
	}
	return b.AddAmount(o.mag)
}

// String renders the balance in decimal with an optional leading minus.
func (b Balance) String() string {
	if b.neg {
		return "-" + b.mag.String()
	}
	return b.mag.String()
}

// twosComplement converts the magnitude of a negative balance into its 128
// bit two's complement representation.
func (b Balance) twosComplement() uint128.Uint128 {
	if !b.neg {
		return b.mag
	}
	lo := ^b.mag.Lo
	hi := ^b.mag.Hi
	lo++
	if lo == 0 {
		hi++
	}
	return uint128.Uint128{Lo: lo, Hi: hi}
}

// PutBytes writes the balance as 16 big-endian two's complement bytes.
func (b Balance) PutBytes(buf []byte) {
	raw := b.twosComplement()
	putUint128(buf, raw)
}

// BalanceFromBytes reads a balance from 16 big-endian two's complement
// bytes.
func BalanceFromBytes(buf []byte) Balance {
	raw := uint128FromBytes(buf)
	if raw.Hi>>63 == 0 {
		return Balance{mag: raw}
	}

	// Negative: invert the complement.
	lo := ^raw.Lo
	hi := ^raw.Hi
	lo++
	if lo == 0 {
		hi++
	}
	return Balance{neg: true, mag: uint128.Uint128{Lo: lo, Hi: hi}}
}

// PutAmountBytes writes an amount as 16 big-endian bytes.
func PutAmountBytes(buf []byte, a Amount) {
	putUint128(buf, a)
}

// AmountFromBytes reads an amount from 16 big-endian bytes.
func AmountFromBytes(buf []byte) Amount {
	return uint128FromBytes(buf)
}

func putUint128(buf []byte, v uint128.Uint128) {
	_ = buf[15]
	for i := 0; i < 8; i++ {
		buf[i] = byte(v.Hi >> (56 - 8*uint(i)))
		buf[8+i] = byte(v.Lo >> (56 - 8*uint(i)))
	}
}

func uint128FromBytes(buf []byte) uint128.Uint128 {
	_ = buf[15]
	var v uint128.Uint128
	for i := 0; i < 8; i++ {
		v.Hi = v.Hi<<8 | uint64(buf[i])
		v.Lo = v.Lo<<8 | uint64(buf[8+i])
	}
	return v
}
