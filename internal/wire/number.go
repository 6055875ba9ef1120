package wire

import (
	"bytes"
	"errors"
	"math"
	"strconv"

	"github.com/shopspring/decimal"

	"market-stream/internal/price"
)

var errNumber = errors.New("invalid number")

// parseFixed reads a JSON number span as an integer scaled by 10^places
// ("7.06", 2 -> 706), truncating extra digits. exact is false when a
// non-zero digit was dropped.
func parseFixed(b []byte, places int) (v int64, exact bool, err error) {
	if bytes.ContainsAny(b, "eE") {
		f, err := strconv.ParseFloat(string(b), 64)
		if err != nil {
			return 0, false, err
		}
		d := decimal.NewFromFloat(f).Shift(int32(places))
		t := d.Truncate(0)
		return t.IntPart(), d.Equal(t), nil
	}

	i, neg := 0, false
	if len(b) > 0 && b[0] == '-' {
		neg = true
		i++
	}
	if i == len(b) {
		return 0, false, errNumber
	}

	exact = true
	frac := -1 // digits seen after the point, -1 before it
	for ; i < len(b); i++ {
		c := b[i]
		switch {
		case c == '.':
			if frac >= 0 {
				return 0, false, errNumber
			}
			frac = 0
		case c >= '0' && c <= '9':
			if frac >= places {
				if c != '0' {
					exact = false
				}
				continue
			}
			if v > (math.MaxInt64-9)/10 {
				return 0, false, errNumber
			}
			v = v*10 + int64(c-'0')
			if frac >= 0 {
				frac++
			}
		default:
			return 0, false, errNumber
		}
	}
	if frac < 0 {
		frac = 0
	}
	for ; frac < places; frac++ {
		v *= 10
	}
	if neg {
		v = -v
	}
	return v, exact, nil
}

func parsePrice(b []byte) (price.Price, error) {
	h, exact, err := parseFixed(b, 2)
	if err != nil {
		return price.Invalid, err
	}
	if !exact {
		return price.Invalid, nil
	}
	return price.FromHundredths(h), nil
}

func parseSize(b []byte) (price.Size, error) {
	c, _, err := parseFixed(b, 2)
	if err != nil {
		return price.Zero, err
	}
	return price.SizeFromCents(c), nil
}

func parseInt(b []byte) (int64, error) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err == nil {
		return n, nil
	}
	// integral values sent as 5.0
	f, ferr := strconv.ParseFloat(string(b), 64)
	if ferr != nil || f != math.Trunc(f) {
		return 0, err
	}
	return int64(f), nil
}
