package library

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

// DefaultFinePerDay is the overdue rate used when none is configured, and the
// fixed rate of the simplified borrow/return path.
var DefaultFinePerDay = decimal.NewFromInt(1)

// DaysOverdue returns the whole days between due and returned. Anything
// under 24 hours late counts as zero days.
func DaysOverdue(due, returned time.Time) int {
	if !returned.After(due) {
		return 0
	}
	return int(returned.Sub(due) / day)
}

// Fine computes the overdue fine for a loan returned at returned.
func Fine(due, returned time.Time, ratePerDay decimal.Decimal) decimal.Decimal {
	days := DaysOverdue(due, returned)
	if days == 0 {
		return decimal.Zero
	}
	return ratePerDay.Mul(decimal.NewFromInt(int64(days)))
}

// floorDays is the signed whole-day count of d, rounded towards minus infinity.
func floorDays(d time.Duration) int {
	days := d / day
	if d < 0 && d%day != 0 {
		days--
	}
	return int(days)
}

// FeeSchedule holds the default surcharges for copies that come back unusable.
type FeeSchedule struct {
	Damaged decimal.Decimal
	Lost    decimal.Decimal
}

// DefaultFeeSchedule charges 15 for damaged and 50 for lost copies.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		Damaged: decimal.NewFromInt(15),
		Lost:    decimal.NewFromInt(50),
	}
}

// Default returns the surcharge for a condition when the caller gave none.
func (s FeeSchedule) Default(c Condition) decimal.Decimal {
	switch c {
	case ConditionDamaged:
		return s.Damaged
	case ConditionLost:
		return s.Lost
	default:
		return decimal.Zero
	}
}

// Resolve picks the condition fee to charge. A supplied non-zero fee always
// wins. A zero fee falls back to the schedule unless explicit is set, in which
// case zero is charged as given.
func (s FeeSchedule) Resolve(c Condition, supplied decimal.Decimal, explicit bool) decimal.Decimal {
	if explicit || !supplied.IsZero() {
		return supplied
	}
	return s.Default(c)
}

// ParseFee reads a caller-supplied condition fee. Empty or unparseable input
// becomes zero; a negative amount is rejected.
func ParseFee(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	fee, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, nil
	}
	if fee.IsNegative() {
		return decimal.Zero, invalid("condition_fee", "cannot be negative")
	}
	return fee, nil
}
