/*
diff.go - Editable billing details and field-level diffing

PURPOSE:
  A BillingDetail is the in-memory, editable copy of an assignment's billing
  terms inside a reconciliation run. Edits flow through a closed set of
  field-specific operations (one type per editable field) dispatched by
  Run.ApplyEdit, and Changes() computes the minimal field set that actually
  differs from the persisted assignment - the store is only asked to write
  fields that changed.

INVARIANTS:
  - Charge value is never negative; PERCENTAGE_OF_LOAD is capped at 100.
  - Numeric billing inputs are normalized to cents on entry.
  - An untouched detail diffs to an empty change set (idempotent submits).
*/
package compensation

import "github.com/shopspring/decimal"

// =============================================================================
// BILLING DETAIL - Editable per-assignment record within a run
// =============================================================================

// BillingDetail holds the current (possibly overridden) billing terms for one
// assignment. The embedded assignment snapshot supplies persisted values for
// diffing and natural leg/load values for resets.
type BillingDetail struct {
	assignment Assignment

	ChargeType          ChargeType
	ChargeValue         decimal.Decimal
	BilledDistanceMiles decimal.Decimal
	BilledDurationHours decimal.Decimal
	BilledLoadRate      decimal.Decimal
}

// newBillingDetail seeds a detail from a stored assignment: overrides resolved
// against naturals and normalized to cents.
func newBillingDetail(a Assignment) *BillingDetail {
	in := a.ResolvedInputs()
	return &BillingDetail{
		assignment:          a,
		ChargeType:          a.ChargeType,
		ChargeValue:         a.ChargeValue,
		BilledDistanceMiles: in.DistanceMiles.Round(2),
		BilledDurationHours: in.DurationHours.Round(2),
		BilledLoadRate:      in.LoadRate.Round(2),
	}
}

func (d *BillingDetail) AssignmentID() AssignmentID { return d.assignment.ID }
func (d *BillingDetail) DriverID() DriverID         { return d.assignment.DriverID }
func (d *BillingDetail) Assignment() Assignment     { return d.assignment }

// Pay returns the exact amount owed under the detail's current terms.
func (d *BillingDetail) Pay() Money {
	return CalculatePay(d.ChargeType, d.ChargeValue, PayInputs{
		DistanceMiles: d.BilledDistanceMiles,
		DurationHours: d.BilledDurationHours,
		LoadRate:      d.BilledLoadRate,
	})
}

// =============================================================================
// FIELD EDITS - One operation type per editable field
// =============================================================================

// DetailEdit is a closed set of billing-detail mutations. Each variant
// validates and applies one field; Run.ApplyEdit is the single entry point.
type DetailEdit interface {
	apply(d *BillingDetail) error
}

type SetChargeType struct{ Value ChargeType }
type SetChargeValue struct{ Value decimal.Decimal }
type SetBilledDistance struct{ Value decimal.Decimal }
type SetBilledDuration struct{ Value decimal.Decimal }
type SetBilledLoadRate struct{ Value decimal.Decimal }

func (e SetChargeType) apply(d *BillingDetail) error {
	if !e.Value.Valid() {
		return &ChargeValueError{
			AssignmentID: d.assignment.ID,
			ChargeType:   e.Value,
			Value:        d.ChargeValue.String(),
			Reason:       "unknown charge type",
		}
	}
	if err := validateChargeValue(d.assignment.ID, e.Value, d.ChargeValue); err != nil {
		return err
	}
	d.ChargeType = e.Value
	return nil
}

func (e SetChargeValue) apply(d *BillingDetail) error {
	if err := validateChargeValue(d.assignment.ID, d.ChargeType, e.Value); err != nil {
		return err
	}
	d.ChargeValue = e.Value
	return nil
}

func (e SetBilledDistance) apply(d *BillingDetail) error {
	d.BilledDistanceMiles = e.Value.Round(2)
	return nil
}

func (e SetBilledDuration) apply(d *BillingDetail) error {
	d.BilledDurationHours = e.Value.Round(2)
	return nil
}

func (e SetBilledLoadRate) apply(d *BillingDetail) error {
	d.BilledLoadRate = e.Value.Round(2)
	return nil
}

func validateChargeValue(id AssignmentID, ct ChargeType, v decimal.Decimal) error {
	if v.IsNegative() {
		return &ChargeValueError{AssignmentID: id, ChargeType: ct, Value: v.String(), Reason: "must not be negative"}
	}
	if ct == ChargePercentageOfLoad && v.GreaterThan(oneHundred) {
		return &ChargeValueError{AssignmentID: id, ChargeType: ct, Value: v.String(), Reason: "percentage must not exceed 100"}
	}
	return nil
}

// =============================================================================
// RESETTABLE FIELDS - Restore an override to the natural leg/load value
// =============================================================================

type BilledField string

const (
	FieldBilledDistance BilledField = "billedDistanceMiles"
	FieldBilledDuration BilledField = "billedDurationHours"
	FieldBilledLoadRate BilledField = "billedLoadRate"
)

// resetEdit maps a billed field to the edit restoring its natural value.
// Naturals are read from the assignment's current leg/load, never a cached
// override.
func (d *BillingDetail) resetEdit(field BilledField) DetailEdit {
	switch field {
	case FieldBilledDistance:
		return SetBilledDistance{Value: d.assignment.RouteLeg.DistanceMiles}
	case FieldBilledDuration:
		return SetBilledDuration{Value: d.assignment.RouteLeg.DurationHours}
	case FieldBilledLoadRate:
		return SetBilledLoadRate{Value: d.assignment.Load.Rate}
	}
	return nil
}

// =============================================================================
// CHANGE SET - Minimal field diff against persisted values
// =============================================================================

// AssignmentChanges lists the billing fields whose in-memory value differs
// from the persisted assignment. Nil fields are untouched; the store must
// only write the fields that are set.
type AssignmentChanges struct {
	ChargeType          *ChargeType
	ChargeValue         *decimal.Decimal
	BilledDistanceMiles *decimal.Decimal
	BilledDurationHours *decimal.Decimal
	BilledLoadRate      *decimal.Decimal
}

// Empty reports whether no field changed. An empty change set must not
// reach the store at all.
func (c AssignmentChanges) Empty() bool {
	return c.ChargeType == nil &&
		c.ChargeValue == nil &&
		c.BilledDistanceMiles == nil &&
		c.BilledDurationHours == nil &&
		c.BilledLoadRate == nil
}

// markPersisted folds a successfully written change set back into the
// assignment snapshot, so the next Changes() call diffs empty.
func (d *BillingDetail) markPersisted(c AssignmentChanges) {
	if c.ChargeType != nil {
		d.assignment.ChargeType = *c.ChargeType
	}
	if c.ChargeValue != nil {
		d.assignment.ChargeValue = *c.ChargeValue
	}
	if c.BilledDistanceMiles != nil {
		v := *c.BilledDistanceMiles
		d.assignment.BilledDistanceMiles = &v
	}
	if c.BilledDurationHours != nil {
		v := *c.BilledDurationHours
		d.assignment.BilledDurationHours = &v
	}
	if c.BilledLoadRate != nil {
		v := *c.BilledLoadRate
		d.assignment.BilledLoadRate = &v
	}
}

// Changes diffs the detail against its assignment's last-known persisted
// values. Billed fields compare against the persisted override resolved to
// cents the same way the detail was seeded, so an untouched detail always
// diffs empty.
func (d *BillingDetail) Changes() AssignmentChanges {
	var c AssignmentChanges
	a := d.assignment

	if d.ChargeType != a.ChargeType {
		ct := d.ChargeType
		c.ChargeType = &ct
	}
	if !d.ChargeValue.Equal(a.ChargeValue) {
		v := d.ChargeValue
		c.ChargeValue = &v
	}

	in := a.ResolvedInputs()
	if !d.BilledDistanceMiles.Equal(in.DistanceMiles.Round(2)) {
		v := d.BilledDistanceMiles
		c.BilledDistanceMiles = &v
	}
	if !d.BilledDurationHours.Equal(in.DurationHours.Round(2)) {
		v := d.BilledDurationHours
		c.BilledDurationHours = &v
	}
	if !d.BilledLoadRate.Equal(in.LoadRate.Round(2)) {
		v := d.BilledLoadRate
		c.BilledLoadRate = &v
	}
	return c
}
