package types

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Atomic is a non-negative token quantity in atomic units (amount scaled by
// 10^decimals). It is backed by a 256-bit integer so balances of high-decimal
// assets cannot overflow, and marshals as a base-10 string to keep persisted
// records readable and precision-safe.
type Atomic uint256.Int

// NewAtomic returns an Atomic holding the given small value.
func NewAtomic(v uint64) *Atomic {
	return (*Atomic)(uint256.NewInt(v))
}

// AtomicFromString parses a base-10 atomic quantity.
func AtomicFromString(s string) (*Atomic, error) {
	b, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("types: invalid atomic amount %q", s)
	}
	if b.Sign() < 0 {
		return nil, fmt.Errorf("types: negative atomic amount %q", s)
	}
	u, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("types: atomic amount %q overflows 256 bits", s)
	}
	return (*Atomic)(u), nil
}

// AtomicFromDecimal scales a human-readable decimal amount into atomic units:
//
//	atomic = amount * 10^decimals
//
// The conversion happens in arbitrary-precision decimal; amounts with more
// fractional digits than the asset supports are rejected rather than rounded.
func AtomicFromDecimal(amount decimal.Decimal, decimals uint8) (*Atomic, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("types: negative amount %s", amount)
	}
	scaled := amount.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("types: amount %s has more than %d decimal places", amount, decimals)
	}
	u, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("types: amount %s overflows 256 bits at %d decimals", amount, decimals)
	}
	return (*Atomic)(u), nil
}

// U256 exposes the underlying 256-bit integer. The returned pointer aliases
// the receiver; callers doing arithmetic must work on a copy.
func (a *Atomic) U256() *uint256.Int {
	return (*uint256.Int)(a)
}

// Clone returns an independent copy.
func (a *Atomic) Clone() *Atomic {
	if a == nil {
		return nil
	}
	return (*Atomic)(new(uint256.Int).Set(a.U256()))
}

// IsZero reports whether the quantity is zero. A nil Atomic counts as zero.
func (a *Atomic) IsZero() bool {
	return a == nil || a.U256().IsZero()
}

// Cmp compares a and b, treating nil as zero.
func (a *Atomic) Cmp(b *Atomic) int {
	au, bu := uint256.NewInt(0), uint256.NewInt(0)
	if a != nil {
		au = a.U256()
	}
	if b != nil {
		bu = b.U256()
	}
	return au.Cmp(bu)
}

// String formats the quantity in base 10.
func (a *Atomic) String() string {
	if a == nil {
		return "0"
	}
	return a.U256().ToBig().String()
}

// ToDecimal converts the atomic quantity back to a human-readable amount
// given the asset's decimals.
func (a *Atomic) ToDecimal(decimals uint8) decimal.Decimal {
	if a == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(a.U256().ToBig(), 0).Shift(-int32(decimals))
}

// MarshalJSON encodes the quantity as a quoted base-10 string.
func (a *Atomic) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts both a quoted base-10 string and a bare JSON number.
func (a *Atomic) UnmarshalJSON(input []byte) error {
	s := strings.Trim(string(input), `"`)
	if s == "null" || s == "" {
		*a = Atomic{}
		return nil
	}
	parsed, err := AtomicFromString(s)
	if err != nil {
		return err
	}
	*a = *parsed
	return nil
}
