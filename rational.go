package cardano

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Rational is an exact fraction. Protocol thresholds and pool margins are
// ratios on chain and go through fee calculations, so they are never held
// as floats.
type Rational struct {
	Numerator   int64 `json:"numerator"`
	Denominator int64 `json:"denominator"`
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Numerator, r.Denominator)
}

func (r Rational) Float64() float64 {
	if r.Denominator == 0 {
		return 0
	}
	return float64(r.Numerator) / float64(r.Denominator)
}

// ParseRational parses the "numerator/denominator" wire form used by Ogmios
// and the cardano-cli, and also accepts a bare integer as n/1.
func ParseRational(s string) (r Rational, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		err = errors.Wrap(ErrValueParse, "empty ratio")
		return
	}

	parts := strings.SplitN(s, "/", 2)

	num, err2 := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err2 != nil {
		err = errors.Wrapf(ErrValueParse, "ratio numerator '%s': %v", s, err2)
		return
	}

	den := int64(1)
	if len(parts) == 2 {
		den, err2 = strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err2 != nil {
			err = errors.Wrapf(ErrValueParse, "ratio denominator '%s': %v", s, err2)
			return
		}
	}

	if den == 0 {
		err = errors.Wrapf(ErrValueParse, "ratio '%s' has zero denominator", s)
		return
	}

	r = Rational{Numerator: num, Denominator: den}
	return
}

// RationalFromDecimal converts a decimal string such as "0.003" into an
// exact fraction (3/1000), reducing by gcd. Blockfrost expresses ratio
// parameters as decimals; it would lose precision as a float.
func RationalFromDecimal(s string) (r Rational, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		err = errors.Wrap(ErrValueParse, "empty decimal")
		return
	}

	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, fracPart, _ := strings.Cut(s, ".")
	if intPart == "" {
		intPart = "0"
	}

	num, err2 := strconv.ParseInt(intPart+fracPart, 10, 64)
	if err2 != nil {
		err = errors.Wrapf(ErrValueParse, "decimal '%s': %v", s, err2)
		return
	}
	if neg {
		num = -num
	}

	den := int64(1)
	for range fracPart {
		den *= 10
	}

	if g := gcd64(num, den); g > 1 {
		num /= g
		den /= g
	}

	r = Rational{Numerator: num, Denominator: den}
	return
}

func gcd64(a, b int64) int64 {
	if a < 0 {
		a = -a
	}
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
