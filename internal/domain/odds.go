package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// OddsScale is the canonical fixed-point factor: decimal odds are stored and
// transported as the decimal value x1000, truncated.
const OddsScale = 1000

// Odds bounds at the chain boundary. Moneyline prices up to 50.0, totals up
// to 10.0; anything at or below 1.0 carries no payout and is invalid.
const (
	MaxMoneylineOdd = 50 * OddsScale
	MaxOverUnderOdd = 10 * OddsScale
)

var scaleDec = decimal.NewFromInt(OddsScale)

// ScaleOdd converts a decimal odd to the canonical scaled-integer form.
// Values in scientific notation or with more than three fractional digits
// are rejected rather than silently rounded.
func ScaleOdd(d decimal.Decimal) (uint32, error) {
	if d.Exponent() < -3 {
		return 0, ErrValidationFailed(fmt.Sprintf("odd %s has more than 3 fractional digits", d))
	}
	scaled := d.Mul(scaleDec)
	if !scaled.IsInteger() {
		return 0, ErrValidationFailed(fmt.Sprintf("odd %s does not scale to an integer", d))
	}
	v := scaled.IntPart()
	if v <= OddsScale || v > MaxMoneylineOdd {
		return 0, ErrValidationFailed(fmt.Sprintf("odd %s out of range (1.0, 50.0]", d))
	}
	return uint32(v), nil
}

// ParseOdd parses a decimal string into canonical scaled form. Scientific
// notation is an invariant violation coming out of the fixtures store.
func ParseOdd(s string) (uint32, error) {
	if strings.ContainsAny(s, "eE") {
		return 0, &AppError{Code: "SCIENTIFIC_NOTATION_IN_ODDS", Message: fmt.Sprintf("odd %q uses scientific notation", s), Status: 500}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrValidationFailed(fmt.Sprintf("unparseable odd %q", s))
	}
	return ScaleOdd(d)
}

// OddToDecimal converts the canonical scaled form back to a display decimal.
// Round-trips exactly for any decimal with at most three fractional digits.
func OddToDecimal(v uint32) decimal.Decimal {
	return decimal.NewFromInt(int64(v)).Div(scaleDec)
}
