package price

import (
	"github.com/shopspring/decimal"
)

// Size is a non-negative amount held in cents. Every constructor truncates
// to two decimal places and clamps negatives to zero.
type Size struct {
	c int64
}

var Zero = Size{}

func SizeFromCents(cents int64) Size {
	if cents < 0 {
		return Size{}
	}
	return Size{c: cents}
}

func SizeFromDecimal(d decimal.Decimal) Size {
	if d.Sign() <= 0 {
		return Size{}
	}
	return Size{c: d.Shift(2).IntPart()}
}

// SizeOf converts a float64 amount. 7.069 -> 7.06, -5 -> 0.
func SizeOf(v float64) Size {
	return SizeFromDecimal(decimal.NewFromFloat(v))
}

func ParseSize(s string) (Size, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Size{}, err
	}
	return SizeFromDecimal(d), nil
}

func (s Size) Cents() int64 { return s.c }

func (s Size) Value() decimal.Decimal { return decimal.New(s.c, -2) }

func (s Size) Float64() float64 { return float64(s.c) / 100 }

func (s Size) IsZero() bool { return s.c == 0 }

func (s Size) Add(o Size) Size { return SizeFromCents(s.c + o.c) }

func (s Size) Sub(o Size) Size { return SizeFromCents(s.c - o.c) }

func (s Size) Mul(f float64) Size {
	return SizeFromDecimal(s.Value().Mul(decimal.NewFromFloat(f)))
}

// Div returns zero for a zero divisor.
func (s Size) Div(f float64) Size {
	if f == 0 {
		return Size{}
	}
	return SizeFromDecimal(s.Value().Div(decimal.NewFromFloat(f)))
}

func (s Size) Cmp(o Size) int {
	switch {
	case s.c < o.c:
		return -1
	case s.c > o.c:
		return 1
	}
	return 0
}

func (s Size) String() string { return s.Value().StringFixed(2) }

func (s Size) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Size) UnmarshalText(b []byte) error {
	v, err := ParseSize(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
