/*
calculator.go - Pay computation per charge strategy

PURPOSE:
  The single formula answering "what is this assignment worth?". Pure: no
  I/O, no state, no error returns. Malformed inputs price to zero so an
  incomplete assignment never surfaces as a failure to the caller.

FORMULAS:
  PER_MILE            chargeValue x distanceMiles
  PER_HOUR            chargeValue x durationHours
  FIXED_PAY           chargeValue (billing inputs ignored)
  PERCENTAGE_OF_LOAD  loadRate x chargeValue / 100
  anything else       0

UNITS:
  Distance and duration arrive pre-resolved in natural units - miles and
  hours. No meter/second conversion happens here or anywhere else.

ROUNDING:
  The result is exact. Rounding to cents is deferred to the consumer
  (TotalDue sums first and rounds once; persistence and display round
  single values) so multi-assignment totals never compound per-term error.
*/
package compensation

import "github.com/shopspring/decimal"

var oneHundred = decimal.NewFromInt(100)

// PayInputs are the resolved billing inputs for one assignment: overrides
// already applied against the leg/load natural values by the caller.
type PayInputs struct {
	DistanceMiles decimal.Decimal
	DurationHours decimal.Decimal
	LoadRate      decimal.Decimal
}

// CalculatePay returns the exact amount owed for one assignment.
func CalculatePay(chargeType ChargeType, chargeValue decimal.Decimal, in PayInputs) Money {
	if !chargeType.Valid() || chargeValue.IsZero() {
		return ZeroMoney()
	}

	switch chargeType {
	case ChargePerMile:
		return NewMoney(chargeValue.Mul(in.DistanceMiles))
	case ChargePerHour:
		return NewMoney(chargeValue.Mul(in.DurationHours))
	case ChargeFixedPay:
		return NewMoney(chargeValue)
	case ChargePercentageOfLoad:
		return NewMoney(in.LoadRate.Mul(chargeValue).Div(oneHundred))
	}
	return ZeroMoney()
}

// =============================================================================
// DUE AGGREGATION - One driver's total obligation
// =============================================================================

// TotalDue sums the exact pay of each billing detail and rounds the sum once,
// half-up to cents. Summing rounded per-assignment values instead would
// compound rounding error (three 33.333 assignments must total 100.00,
// not 99.99).
func TotalDue(details []*BillingDetail) Money {
	total := ZeroMoney()
	for _, d := range details {
		total = total.Add(d.Pay())
	}
	return total.Round()
}
