// Package format renders prices and volumes for chat replies.
//
// Values arrive as decimals decoded straight from the upstream JSON, so
// sub-cent prices keep every digit the API sent.
package format

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Sentinel is returned when a value cannot be shown meaningfully: it is
// missing, negative, or too small for the sub-cent window. It is not a
// price of zero.
const Sentinel = "0"

// maxDigits bounds the decimal places shown for sub-cent values.
const maxDigits = 16

var (
	one  = decimal.NewFromInt(1)
	cent = decimal.New(1, -2)
)

// Price formats a USD value with a tiered precision policy:
//
//	>= 1.00       rounded to 2 places with thousands separators
//	0.01 to 1.00  truncated to 4 places, trailing zeros removed
//	< 0.01        two digits past the first non-zero decimal, at most 16 places
func Price(v decimal.NullDecimal) string {
	if !v.Valid {
		return Sentinel
	}

	p := v.Decimal

	switch {
	case p.IsNegative():
		return Sentinel
	case p.GreaterThanOrEqual(one):
		return "$" + group(p.StringFixedBank(2))
	case p.GreaterThanOrEqual(cent):
		return "$" + trimZeros(p.Truncate(4).StringFixed(4))
	default:
		return subCent(p)
	}
}

// USD formats a value that is known to be present.
func USD(d decimal.Decimal) string {
	return Price(decimal.NewNullDecimal(d))
}

// Whole formats a value as whole dollars with thousands separators, e.g.
// a market cap.
func Whole(d decimal.Decimal) string {
	return "$" + group(d.StringFixedBank(0))
}

func subCent(p decimal.Decimal) string {
	fixed := p.Truncate(maxDigits).StringFixed(maxDigits)
	frac := fixed[strings.IndexByte(fixed, '.')+1:]

	k := strings.IndexFunc(frac, func(r rune) bool { return r != '0' })
	if k < 0 {
		return Sentinel
	}

	// k is 0-indexed here
	places := min(k+3, maxDigits)
	return "$" + p.StringFixedBank(int32(places))
}

// trimZeros drops trailing zeros but always leaves one digit after the point.
func trimZeros(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	if strings.HasSuffix(s, ".") {
		s += "0"
	}
	return s
}

// group inserts thousands separators into the integer part of a fixed-point
// decimal string.
func group(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i:]
	}

	if len(whole) <= 3 {
		return sign + whole + frac
	}

	var b strings.Builder
	lead := len(whole) % 3
	if lead > 0 {
		b.WriteString(whole[:lead])
	}
	for i := lead; i < len(whole); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(whole[i : i+3])
	}

	return sign + b.String() + frac
}
