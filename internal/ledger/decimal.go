package ledger

import (
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

// FractionDigits is the fixed number of fractional digits every
// monetary and quantity value carries in its canonical string form.
const FractionDigits = 18

// Epsilon absorbs floating-point artifacts from upstream price feeds
// when a SELL is checked against a holding. It must not be applied to
// comparisons between the ledger's own fixed-point values.
var Epsilon = decimal.New(1, -12)

var amountPattern = regexp.MustCompile(`^\d+(\.\d+)?$`)

// ParseAmount parses a non-negative decimal string as used in request
// fields. The accepted grammar is deliberately strict: digits with an
// optional fractional part, no sign, no exponent.
func ParseAmount(s string) (decimal.Decimal, error) {
	if !amountPattern.MatchString(s) {
		return decimal.Zero, fmt.Errorf("%w: malformed decimal %q", ErrValidation, s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: malformed decimal %q", ErrValidation, s)
	}
	return d, nil
}

// ParseBalance parses a possibly signed decimal string, as stored in
// the cached balance projection.
func ParseBalance(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: malformed balance %q", ErrValidation, s)
	}
	return d, nil
}

// FormatAmount renders a decimal in the canonical form used everywhere
// a balance is stored or returned: fixed 18 fractional digits, with
// negative zero normalized to the positive zero string.
func FormatAmount(d decimal.Decimal) string {
	if d.IsZero() {
		return decimal.Zero.StringFixed(FractionDigits)
	}
	return d.StringFixed(FractionDigits)
}

// ZeroAmount is the canonical zero string.
func ZeroAmount() string {
	return decimal.Zero.StringFixed(FractionDigits)
}
