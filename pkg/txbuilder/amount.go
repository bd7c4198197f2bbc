package txbuilder

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/triggerfi/chainflow/pkg/models"
)

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// resolveAmount turns an amount spec into smallest units against the
// token's decimals and the signer's current balance. Percentage amounts
// resolve against the balance now, not at trigger registration. Amounts
// that resolve to zero, or exceed the balance, fail the build rather than
// being clamped.
func resolveAmount(spec models.AmountSpec, decimals int, balance int64) (int64, error) {
	if err := spec.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	var amount int64

	if spec.Decimal != "" {
		parsed, err := decimalToSmallestUnit(spec.Decimal, decimals)
		if err != nil {
			return 0, err
		}

		amount = parsed
	} else {
		amount = int64(math.Floor(float64(balance) * spec.PctBalance / 100))
	}

	if amount <= 0 {
		return 0, fmt.Errorf("%w: amount resolves to zero", ErrInvalidAmount)
	}

	if amount > balance {
		return 0, fmt.Errorf("%w: need %d, have %d", ErrInsufficientBalance, amount, balance)
	}

	return amount, nil
}

// decimalToSmallestUnit converts a decimal token amount like "1.5" into
// smallest units. Precision beyond the token's decimals is an error, not
// a truncation.
func decimalToSmallestUnit(decimal string, decimals int) (int64, error) {
	if !decimalPattern.MatchString(decimal) {
		return 0, fmt.Errorf("%w: %q is not a decimal amount", ErrInvalidAmount, decimal)
	}

	intPart, fracPart, _ := strings.Cut(decimal, ".")

	if len(fracPart) > decimals {
		return 0, fmt.Errorf("%w: %q exceeds token precision of %d decimals", ErrInvalidAmount, decimal, decimals)
	}

	fracPart += strings.Repeat("0", decimals-len(fracPart))

	combined := strings.TrimLeft(intPart+fracPart, "0")
	if combined == "" {
		return 0, fmt.Errorf("%w: amount resolves to zero", ErrInvalidAmount)
	}

	amount, err := strconv.ParseInt(combined, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidAmount, decimal)
	}

	return amount, nil
}
