/*
Package compensation is the driver pay and payment reconciliation engine.

PURPOSE:
  Computes how much a driver is owed for hauling assignments under several
  mutually exclusive charge strategies, tracks what has already been paid
  through a many-to-many payment ledger, and orchestrates reconciliation
  runs that create payments and persist billing overrides.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: exact decimal amount, normalized to cents with round-half-up
  - ChargeType: the strategy used to price an assignment
  - Assignment: a driver's participation in one route leg of one load
  - Payment / AssignmentPayment: disbursements and their links to assignments

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere, never binary floating point
  2. Type Safety: strong ID types prevent mixing driver/assignment/payment IDs
  3. Late Rounding: pay amounts stay exact until a sum, a persisted value,
     or a displayed value forces a single round to cents

SEE ALSO:
  - calculator.go: pay formula per charge type
  - ledger.go: paid-to-date with payment deduplication
  - run.go: reconciliation run context and submission
*/
package compensation

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Exact decimal amount in a single unit of account
// =============================================================================

// Money wraps a decimal value. In-memory values may carry more than two
// fractional digits; Round() is the single normalization point.
type Money struct {
	value decimal.Decimal
}

var zeroMoney = Money{value: decimal.Zero}

func ZeroMoney() Money { return zeroMoney }

func NewMoney(d decimal.Decimal) Money { return Money{value: d} }

func MoneyFromFloat(f float64) Money { return Money{value: decimal.NewFromFloat(f)} }

// MoneyFromString parses a decimal string, returning zero on malformed input.
// Storage layers use this when scanning persisted amounts.
func MoneyFromString(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return zeroMoney
	}
	return Money{value: d}
}

func (m Money) Add(o Money) Money            { return Money{value: m.value.Add(o.value)} }
func (m Money) Sub(o Money) Money            { return Money{value: m.value.Sub(o.value)} }
func (m Money) Mul(d decimal.Decimal) Money  { return Money{value: m.value.Mul(d)} }
func (m Money) Div(d decimal.Decimal) Money  { return Money{value: m.value.Div(d)} }
func (m Money) Neg() Money                   { return Money{value: m.value.Neg()} }
func (m Money) IsZero() bool                 { return m.value.IsZero() }
func (m Money) IsNegative() bool             { return m.value.IsNegative() }
func (m Money) IsPositive() bool             { return m.value.IsPositive() }
func (m Money) Equal(o Money) bool           { return m.value.Equal(o.value) }
func (m Money) GreaterThan(o Money) bool     { return m.value.GreaterThan(o.value) }
func (m Money) GreaterOrEqual(o Money) bool  { return m.value.GreaterThanOrEqual(o.value) }
func (m Money) LessThan(o Money) bool        { return m.value.LessThan(o.value) }
func (m Money) Decimal() decimal.Decimal     { return m.value }

// Round normalizes to cents, half-up. Amounts in this system are
// non-negative, so decimal's round-half-away-from-zero is half-up here.
func (m Money) Round() Money { return Money{value: m.value.Round(2)} }

// Max returns the larger of m and o.
func (m Money) Max(o Money) Money {
	if m.GreaterThan(o) {
		return m
	}
	return o
}

// String renders with exactly two fractional digits. This is the wire and
// storage representation of persisted amounts.
func (m Money) String() string { return m.value.StringFixed(2) }

// =============================================================================
// CHARGE TYPE - Pricing strategy for an assignment
// =============================================================================

type ChargeType string

const (
	ChargePerMile          ChargeType = "PER_MILE"
	ChargePerHour          ChargeType = "PER_HOUR"
	ChargeFixedPay         ChargeType = "FIXED_PAY"
	ChargePercentageOfLoad ChargeType = "PERCENTAGE_OF_LOAD"
)

// Valid reports whether ct is one of the known strategies. Unknown strategies
// are not an error at calculation time; they price to zero.
func (ct ChargeType) Valid() bool {
	switch ct {
	case ChargePerMile, ChargePerHour, ChargeFixedPay, ChargePercentageOfLoad:
		return true
	}
	return false
}

func ParseChargeType(s string) (ChargeType, bool) {
	ct := ChargeType(s)
	return ct, ct.Valid()
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type DriverID string
type AssignmentID string
type PaymentID string
type LoadID string
type RouteLegID string

// =============================================================================
// DISPATCH ENTITIES
// =============================================================================

// RouteLeg carries the natural distance and duration of the leg an assignment
// covers. These are the fallback billing inputs when no override is set.
type RouteLeg struct {
	ID            RouteLegID
	DistanceMiles decimal.Decimal
	DurationHours decimal.Decimal
}

// Load carries the natural rate used by percentage-of-load assignments.
type Load struct {
	ID        LoadID
	Reference string
	Rate      decimal.Decimal
}

type Driver struct {
	ID   DriverID
	Name string
}

// Assignment is one driver's participation in one route leg of one load.
//
// The three Billed* fields are user-entered overrides; nil means "use the
// leg/load's natural value". Once cleared back to nil, billing re-derives
// from the current natural value, never a cached copy.
type Assignment struct {
	ID       AssignmentID
	DriverID DriverID
	Driver   Driver
	LoadID   LoadID

	ChargeType  ChargeType
	ChargeValue decimal.Decimal

	BilledDistanceMiles *decimal.Decimal
	BilledDurationHours *decimal.Decimal
	BilledLoadRate      *decimal.Decimal

	RouteLeg RouteLeg
	Load     Load

	// Prior payment links, as loaded from the store.
	PaymentLinks []AssignmentPayment
}

// ResolvedInputs returns the billing inputs for pay calculation with
// overrides resolved against the leg/load naturals.
func (a Assignment) ResolvedInputs() PayInputs {
	return PayInputs{
		DistanceMiles: resolve(a.BilledDistanceMiles, a.RouteLeg.DistanceMiles),
		DurationHours: resolve(a.BilledDurationHours, a.RouteLeg.DurationHours),
		LoadRate:      resolve(a.BilledLoadRate, a.Load.Rate),
	}
}

func resolve(override *decimal.Decimal, natural decimal.Decimal) decimal.Decimal {
	if override != nil {
		return *override
	}
	return natural
}

// =============================================================================
// PAYMENTS
// =============================================================================

// Payment is a monetary disbursement to one driver. Amount must be positive
// to count as an active disbursement.
type Payment struct {
	ID             PaymentID
	DriverID       DriverID
	Amount         Money
	PaymentDate    time.Time
	Notes          string
	IsBatchPayment bool
	CreatedAt      time.Time
}

// AssignmentPayment links one Payment to one Assignment it settles. A payment
// may settle several assignments for the same driver in one transaction; an
// assignment accumulates links across its lifetime.
type AssignmentPayment struct {
	AssignmentID AssignmentID
	PaymentID    PaymentID
	Payment      Payment
}

// NewPayment is the create request crossing the store boundary.
type NewPayment struct {
	DriverID      DriverID
	AssignmentIDs []AssignmentID
	Amount        Money
	PaymentDate   time.Time
	Notes         string
}
