// Package money holds the pure calculation rules for early-payment
// discounting. All amounts are currency-exact decimals rounded half-up to
// two minor units; net amounts are derived by subtraction from the total so
// discount + net always reconciles exactly.
package money

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/credinvoice/credinvoice/internal/shared"
)

var (
	hundred    = decimal.NewFromInt(100)
	maxPercent = decimal.NewFromInt(50)
)

// ValidatePercent enforces 0 < percent <= 50.
func ValidatePercent(percent decimal.Decimal) error {
	if percent.LessThanOrEqual(decimal.Zero) || percent.GreaterThan(maxPercent) {
		return fmt.Errorf("money: discount percent %s out of range (0, 50]: %w", percent, shared.ErrValidation)
	}
	return nil
}

// DiscountAmount returns total * percent / 100 rounded half-up to cents.
func DiscountAmount(total, percent decimal.Decimal) decimal.Decimal {
	return total.Mul(percent).Div(hundred).Round(2)
}

// NetAmount returns the payable amount after discount. Derived by subtraction
// so DiscountAmount + NetAmount == total to currency precision.
func NetAmount(total, percent decimal.Decimal) decimal.Decimal {
	return total.Sub(DiscountAmount(total, percent))
}

// BidNetAmount returns the seller proceeds for a financier bid:
// total minus discount minus processing fee, each rounded independently.
func BidNetAmount(total, discountRate, processingFeeRate decimal.Decimal) decimal.Decimal {
	return total.Sub(DiscountAmount(total, discountRate)).Sub(DiscountAmount(total, processingFeeRate))
}

// DaysEarly returns the number of days the seller is paid ahead of the due
// date, rounded up. earlyDate must be strictly before dueDate.
func DaysEarly(dueDate, earlyDate time.Time) (int, error) {
	diff := dueDate.Sub(earlyDate)
	if diff <= 0 {
		return 0, fmt.Errorf("money: early payment date must be before due date: %w", shared.ErrValidation)
	}
	return int(math.Ceil(diff.Hours() / 24)), nil
}
