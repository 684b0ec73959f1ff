// Package amount implements unbounded-precision non-negative token amounts.
//
// Token values routinely exceed 64 bits (uint256 on EVM chains), so amounts are
// kept as big integers and persisted as canonical decimal strings.
package amount

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
)

// ErrInvalid is returned by ParseStrict for input that is not a non-negative
// decimal integer.
var ErrInvalid = errors.New("invalid decimal amount")

// Amount is an immutable non-negative integer. The zero value is zero.
type Amount struct {
	v *big.Int
}

// Zero returns the zero amount.
func Zero() Amount {
	return Amount{}
}

// FromBig copies b into an Amount. Negative or nil values become zero.
func FromBig(b *big.Int) Amount {
	if b == nil || b.Sign() <= 0 {
		return Amount{}
	}
	return Amount{v: new(big.Int).Set(b)}
}

// FromUint64 converts a native integer.
func FromUint64(n uint64) Amount {
	return FromBig(new(big.Int).SetUint64(n))
}

// ParseStrict parses a string of ASCII decimal digits. Leading zeros are
// accepted; signs, whitespace, and empty input are not.
func ParseStrict(s string) (Amount, error) {
	if s == "" {
		return Amount{}, fmt.Errorf("%w: empty string", ErrInvalid)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return Amount{}, fmt.Errorf("%w: %q", ErrInvalid, s)
		}
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	return FromBig(v), nil
}

// Parse is the lenient form of ParseStrict: malformed input yields zero.
// Callers that need to know about malformed input use ParseStrict.
func Parse(s string) Amount {
	a, err := ParseStrict(s)
	if err != nil {
		return Amount{}
	}
	return a
}

func (a Amount) big() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return a.v
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	return Amount{v: new(big.Int).Add(a.big(), b.big())}
}

// SaturatingSub returns a - b, or zero when b > a.
func (a Amount) SaturatingSub(b Amount) Amount {
	if a.Cmp(b) <= 0 {
		return Amount{}
	}
	return Amount{v: new(big.Int).Sub(a.big(), b.big())}
}

// Cmp compares a and b and returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int {
	return a.big().Cmp(b.big())
}

// IsZero reports whether a == 0.
func (a Amount) IsZero() bool {
	return a.v == nil || a.v.Sign() == 0
}

// Big returns a copy of the underlying integer.
func (a Amount) Big() *big.Int {
	return new(big.Int).Set(a.big())
}

// String returns the canonical decimal form: no sign, no leading zeros, "0" for zero.
func (a Amount) String() string {
	return a.big().String()
}

// MarshalJSON encodes the amount as a quoted decimal string so that values
// beyond 2^53 survive JSON consumers.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts a quoted decimal string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("amount must be a decimal string: %w", err)
	}
	parsed, err := ParseStrict(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
