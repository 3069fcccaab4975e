// Package normalize turns raw cell values into comparison keys.
//
// Numeric-looking values are canonicalized so "5", "5.0", "+5" and "5e0"
// produce the same key; text is trimmed, NFC-normalized and, when the
// comparison is case insensitive, case folded with the Unicode default
// (locale independent) folding.
package normalize

import (
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// maxExponent bounds the exponent accepted as a number; larger values are
// compared as text so a single hostile cell cannot allocate a huge integer.
const maxExponent = 1000

var (
	reNumeric = regexp.MustCompile(`^[+-]?(?:\d+\.?\d*|\.\d+)(?:[eE]([+-]?\d+))?$`)

	// cases.Caser is stateful and must not be shared between goroutines.
	folders = sync.Pool{
		New: func() any {
			c := cases.Fold()
			return &c
		},
	}
)

// Normalize returns the comparison key for raw. It is a pure function of its
// arguments.
func Normalize(raw string, caseSensitive bool) Key {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Empty
	}

	if n, ok := CanonicalNumber(s); ok {
		return Key{kind: KindNumber, text: n}
	}

	s = norm.NFC.String(s)
	if !caseSensitive {
		s = fold(s)
	}
	return Key{kind: KindText, text: s}
}

// IsNumeric reports whether the trimmed value parses as a decimal number.
func IsNumeric(raw string) bool {
	_, ok := CanonicalNumber(strings.TrimSpace(raw))
	return ok
}

// CanonicalNumber returns the canonical decimal form of s: no exponent, no
// leading or trailing zeros, no sign on zero. ok is false when s is not a
// plain decimal number.
func CanonicalNumber(s string) (string, bool) {
	m := reNumeric.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}

	exp := 0
	if m[1] != "" {
		e, err := strconv.Atoi(m[1])
		if err != nil || e > maxExponent || e < -maxExponent {
			return "", false
		}
		exp = e
	}

	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return "", false
	}
	if r.IsInt() {
		return r.Num().String(), true
	}

	// The value is an exact decimal, so the fractional digit count of the
	// mantissa minus the exponent is enough precision to print it exactly.
	prec := fractionDigits(s) - exp
	if prec < 1 {
		prec = 1
	}
	out := r.FloatString(prec)
	out = strings.TrimRight(out, "0")
	out = strings.TrimSuffix(out, ".")
	return out, true
}

func fractionDigits(s string) int {
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		s = s[:i]
	}
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return 0
	}
	return len(s) - dot - 1
}

func fold(s string) string {
	c := folders.Get().(*cases.Caser)
	defer folders.Put(c)
	c.Reset()
	return c.String(s)
}
