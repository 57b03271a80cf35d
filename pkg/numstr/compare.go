// Package numstr compares non-negative integers written as decimal digit
// strings. Twitter issues 64-bit snowflake IDs which lose precision once
// they pass through a float64, so IDs are kept as strings and compared here.
package numstr

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MaxSafeInteger is the largest integer a float64 represents exactly.
const MaxSafeInteger = 1<<53 - 1

var (
	// ErrNaN is returned when one of the operands is not a number at all.
	ErrNaN = errors.New("trying to compare something to NaN")

	// ErrNotDigits is returned when an operand too large for native comparison
	// contains anything other than decimal digits.
	ErrNotDigits = errors.New("strings must contain only digits")
)

// Compare returns -1 if a < b, 0 if a == b and 1 if a > b.
//
// Values that fit in the safe float64 range are compared numerically. Larger
// values are compared digit by digit after trimming whitespace and leading
// zeros. Sorting with Compare yields ascending order.
func Compare(a, b string) (int, error) {
	af, aNaN := parse(a)
	bf, bNaN := parse(b)

	if !aNaN && !bNaN && math.Abs(af) < MaxSafeInteger && math.Abs(bf) < MaxSafeInteger {
		switch {
		case af == bf:
			return 0, nil
		case af < bf:
			return -1, nil
		default:
			return 1, nil
		}
	}

	if aNaN || bNaN {
		return 0, fmt.Errorf("%w: %q, %q", ErrNaN, a, b)
	}

	a = trim(a)
	b = trim(b)
	if !digitsOnly(a) || !digitsOnly(b) {
		return 0, fmt.Errorf("%w: %q, %q", ErrNotDigits, a, b)
	}

	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1, nil
		}
		return 1, nil
	}

	// most significant digit first
	for i := 0; i < len(a); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1, nil
			}
			return 1, nil
		}
	}
	return 0, nil
}

// Less reports whether a sorts before b.
func Less(a, b string) (bool, error) {
	c, err := Compare(a, b)
	return c < 0, err
}

// Min returns the smallest of the given IDs, or "" when none are given.
func Min(ids ...string) (string, error) {
	var smallest string
	for i, id := range ids {
		if i == 0 {
			smallest = id
			continue
		}
		c, err := Compare(smallest, id)
		if err != nil {
			return "", err
		}
		if c == 1 {
			smallest = id
		}
	}
	return smallest, nil
}

// parse converts s the way a loose numeric cast would: surrounding
// whitespace is ignored and an empty string is zero. Values beyond the
// float64 range are not NaN, they are just large.
func parse(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, true
	}
	return f, math.IsNaN(f)
}

func trim(s string) string {
	return strings.TrimLeft(strings.TrimSpace(s), "0 \t\r\n")
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
