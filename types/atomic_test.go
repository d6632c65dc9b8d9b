package types

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestAtomicFromDecimal(t *testing.T) {
	a, err := AtomicFromDecimal(decimal.RequireFromString("1.5"), 8)
	assert.NoError(t, err)
	assert.Equal(t, "150000000", a.String())

	a, err = AtomicFromDecimal(decimal.RequireFromString("0.000001"), 6)
	assert.NoError(t, err)
	assert.Equal(t, "1", a.String())

	a, err = AtomicFromDecimal(decimal.RequireFromString("25"), 0)
	assert.NoError(t, err)
	assert.Equal(t, "25", a.String())

	_, err = AtomicFromDecimal(decimal.RequireFromString("-1"), 8)
	assert.Error(t, err)

	// More fractional digits than the asset supports must not be rounded.
	_, err = AtomicFromDecimal(decimal.RequireFromString("0.123"), 2)
	assert.Error(t, err)

	// 2 * 10^77 does not fit in 256 bits.
	_, err = AtomicFromDecimal(decimal.New(2, 77), 0)
	assert.Error(t, err)
}

func TestAtomicFromString(t *testing.T) {
	a, err := AtomicFromString("150000000")
	assert.NoError(t, err)
	assert.Equal(t, "150000000", a.String())

	a, err = AtomicFromString("  42 ")
	assert.NoError(t, err)
	assert.Equal(t, "42", a.String())

	_, err = AtomicFromString("-5")
	assert.Error(t, err)

	_, err = AtomicFromString("1.5")
	assert.Error(t, err)

	_, err = AtomicFromString("not a number")
	assert.Error(t, err)

	// 2 * 10^77 does not fit in 256 bits.
	_, err = AtomicFromString("2" + strings.Repeat("0", 77))
	assert.Error(t, err)
}

func TestAtomicToDecimal(t *testing.T) {
	a := NewAtomic(150000000)
	assert.True(t, decimal.RequireFromString("1.5").Equal(a.ToDecimal(8)))
	assert.True(t, decimal.RequireFromString("150000000").Equal(a.ToDecimal(0)))
	assert.True(t, decimal.Zero.Equal((*Atomic)(nil).ToDecimal(8)))
}

func TestAtomicJSON(t *testing.T) {
	blob, err := json.Marshal(NewAtomic(123456))
	assert.NoError(t, err)
	assert.Equal(t, `"123456"`, string(blob))

	var a Atomic
	assert.NoError(t, json.Unmarshal([]byte(`"987"`), &a))
	assert.Equal(t, "987", a.String())

	// Bare JSON numbers are accepted too.
	assert.NoError(t, json.Unmarshal([]byte(`654`), &a))
	assert.Equal(t, "654", a.String())

	assert.NoError(t, json.Unmarshal([]byte(`null`), &a))
	assert.True(t, a.IsZero())

	assert.Error(t, json.Unmarshal([]byte(`"-1"`), &a))
}

func TestAtomicCmp(t *testing.T) {
	small, big := NewAtomic(5), NewAtomic(7)
	assert.Equal(t, -1, small.Cmp(big))
	assert.Equal(t, 1, big.Cmp(small))
	assert.Equal(t, 0, small.Cmp(NewAtomic(5)))

	// nil counts as zero on either side.
	assert.Equal(t, 1, small.Cmp(nil))
	assert.Equal(t, -1, (*Atomic)(nil).Cmp(small))
	assert.Equal(t, 0, (*Atomic)(nil).Cmp(nil))
}

func TestAtomicClone(t *testing.T) {
	orig := NewAtomic(100)
	cpy := orig.Clone()
	cpy.U256().SetUint64(999)
	assert.Equal(t, "100", orig.String())
	assert.Equal(t, "999", cpy.String())
	assert.Nil(t, (*Atomic)(nil).Clone())
}

func TestAtomicNilZero(t *testing.T) {
	var a *Atomic
	assert.True(t, a.IsZero())
	assert.Equal(t, "0", a.String())
	assert.False(t, NewAtomic(1).IsZero())
	assert.True(t, NewAtomic(0).IsZero())
}
