package price

import (
	"slices"

	"github.com/shopspring/decimal"
)

// Price is a decimal odds value on the exchange tick ladder, held as
// hundredths (1.01 -> 101). Values off the ladder collapse to Invalid.
type Price struct {
	h int32
}

// tier is one range of the tick ladder in hundredths: [lo, hi] in steps of step.
type tier struct {
	lo, hi, step int32
}

var tiers = []tier{
	{101, 200, 1},
	{200, 300, 2},
	{300, 400, 5},
	{400, 600, 10},
	{600, 1000, 20},
	{1000, 2000, 50},
	{2000, 3000, 100},
	{3000, 5000, 200},
	{5000, 10000, 500},
	{10000, 100000, 1000},
}

// ticks holds every legal price in ascending order.
var ticks = buildTicks()

const invalidHundredths = 100000

var (
	// Invalid is the sentinel for any value outside the ladder. Its odds read 1000.
	Invalid = Price{h: invalidHundredths}
	Min     = Price{h: 101}
	Max     = Price{h: 100000}
)

var hundred = decimal.NewFromInt(100)

func buildTicks() []int32 {
	out := make([]int32, 0, 352)
	for _, t := range tiers {
		for v := t.lo; v <= t.hi; v += t.step {
			if n := len(out); n > 0 && out[n-1] == v {
				continue
			}
			out = append(out, v)
		}
	}
	return out
}

// Ticks returns the number of legal prices on the ladder.
func Ticks() int { return len(ticks) }

// FromHundredths validates h against the ladder.
func FromHundredths(h int64) Price {
	if h < int64(ticks[0]) || h > int64(ticks[len(ticks)-1]) {
		return Invalid
	}
	if _, ok := slices.BinarySearch(ticks, int32(h)); !ok {
		return Invalid
	}
	return Price{h: int32(h)}
}

func FromDecimal(d decimal.Decimal) Price {
	scaled := d.Mul(hundred)
	if !scaled.Equal(scaled.Truncate(0)) {
		return Invalid
	}
	return FromHundredths(scaled.IntPart())
}

// Of converts a float64 odds value, e.g. one decoded from a REST payload.
func Of(odds float64) Price {
	return FromDecimal(decimal.NewFromFloat(odds))
}

// Parse reads a textual odds value; unparseable text yields Invalid.
func Parse(s string) Price {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Invalid
	}
	return FromDecimal(d)
}

// FromTick returns the price at ladder index i, clamped to the ladder ends.
func FromTick(i int) Price {
	i = max(0, min(i, len(ticks)-1))
	return Price{h: ticks[i]}
}

func (p Price) Hundredths() int64 { return int64(p.h) }

func (p Price) DecimalOdds() decimal.Decimal { return decimal.New(int64(p.h), -2) }

func (p Price) Float64() float64 { return float64(p.h) / 100 }

// IsZero reports whether p is the zero value, which no constructor returns.
func (p Price) IsZero() bool { return p.h == 0 }

// Tick returns the index of p on the ladder, or -1 for the zero value.
func (p Price) Tick() int {
	i, ok := slices.BinarySearch(ticks, p.h)
	if !ok {
		return -1
	}
	return i
}

// Add moves n ticks along the ladder (negative n moves down).
func (p Price) Add(n int) Price {
	i := p.Tick()
	if i < 0 {
		return p
	}
	return FromTick(i + n)
}

// Chance is the implied probability 1/odds.
func (p Price) Chance() float64 {
	if p.h == 0 {
		return 0
	}
	return 100 / float64(p.h)
}

// MinimumStake is the smallest accepted stake at p: the 1.00 base stake,
// or less when the stake still returns at least 10.00 at these odds.
func (p Price) MinimumStake() Size {
	if p.h == 0 {
		return baseMinimumStake
	}
	// ceil(1000 / odds) in cents == ceil(100000 / h)
	cents := (minimumPayoutCents*100 + int64(p.h) - 1) / int64(p.h)
	if cents >= baseMinimumStake.c {
		return baseMinimumStake
	}
	return SizeFromCents(cents)
}

const minimumPayoutCents = 1000

var baseMinimumStake = Size{c: 100}

// Cmp orders prices numerically.
func (p Price) Cmp(o Price) int {
	switch {
	case p.h < o.h:
		return -1
	case p.h > o.h:
		return 1
	}
	return 0
}

func (p Price) Less(o Price) bool { return p.h < o.h }

func (p Price) String() string { return p.DecimalOdds().StringFixed(2) }

func (p Price) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Price) UnmarshalText(b []byte) error {
	*p = Parse(string(b))
	return nil
}
