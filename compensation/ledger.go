/*
ledger.go - Paid-to-date view over assignment-payment links

PURPOSE:
  Answers "how much has this driver already been paid?" for the assignments
  selected into a run. The raw material is the many-to-many link table: one
  payment may settle several assignments, so the same payment appears on
  several links and MUST be counted exactly once.

CRITICAL INVARIANTS:
  1. DEDUPLICATED: totals key on payment identity, never on the link
  2. ACTIVE ONLY: a payment counts only while its amount is positive
  3. OWNED: every deletion must resolve an owning driver first

SEE ALSO:
  - run.go: derives remaining balance as due minus this ledger's total
  - store.go: persistence contracts for creating/deleting payments
*/
package compensation

import "sort"

// =============================================================================
// PAYMENT LEDGER - Distinct payments per driver
// =============================================================================

// PaymentLedger is the in-memory view of existing payments for one run's
// drivers, deduplicated by payment identity.
type PaymentLedger struct {
	byDriver map[DriverID][]Payment
	owner    map[PaymentID]DriverID
}

// NewPaymentLedger collects the distinct payments linked to the given
// assignments, grouped by driver. A payment linked to five of the driver's
// assignments appears once.
func NewPaymentLedger(assignments []Assignment) *PaymentLedger {
	l := &PaymentLedger{
		byDriver: make(map[DriverID][]Payment),
		owner:    make(map[PaymentID]DriverID),
	}
	for _, a := range assignments {
		for _, link := range a.PaymentLinks {
			l.Add(a.DriverID, link.Payment)
		}
	}
	for id := range l.byDriver {
		l.sortDriver(id)
	}
	return l
}

// Add records a payment for a driver. Duplicate payment IDs are ignored,
// keeping the one-payment-one-count invariant under repeated links.
func (l *PaymentLedger) Add(driverID DriverID, p Payment) {
	if _, seen := l.owner[p.ID]; seen {
		return
	}
	l.owner[p.ID] = driverID
	l.byDriver[driverID] = append(l.byDriver[driverID], p)
	l.sortDriver(driverID)
}

// Remove drops a payment from the view after a successful deletion.
func (l *PaymentLedger) Remove(paymentID PaymentID) {
	driverID, ok := l.owner[paymentID]
	if !ok {
		return
	}
	delete(l.owner, paymentID)

	payments := l.byDriver[driverID]
	for i, p := range payments {
		if p.ID == paymentID {
			l.byDriver[driverID] = append(payments[:i], payments[i+1:]...)
			break
		}
	}
}

// OwnerOf resolves the driver a payment belongs to. The second return is
// false when the payment is unknown to this ledger; deletion must treat
// that as a blocking precondition failure.
func (l *PaymentLedger) OwnerOf(paymentID PaymentID) (DriverID, bool) {
	driverID, ok := l.owner[paymentID]
	return driverID, ok
}

// TotalPaid sums the driver's distinct payments, counting only active
// disbursements (amount > 0), and rounds to cents.
func (l *PaymentLedger) TotalPaid(driverID DriverID) Money {
	total := ZeroMoney()
	for _, p := range l.byDriver[driverID] {
		if p.Amount.IsPositive() {
			total = total.Add(p.Amount)
		}
	}
	return total.Round()
}

// Payments returns the driver's distinct payments in payment-date order.
// The slice is a copy; callers may not mutate ledger state through it.
func (l *PaymentLedger) Payments(driverID DriverID) []Payment {
	payments := l.byDriver[driverID]
	out := make([]Payment, len(payments))
	copy(out, payments)
	return out
}

// HasPayments reports whether the driver has any recorded payment.
func (l *PaymentLedger) HasPayments(driverID DriverID) bool {
	return len(l.byDriver[driverID]) > 0
}

func (l *PaymentLedger) sortDriver(driverID DriverID) {
	payments := l.byDriver[driverID]
	sort.SliceStable(payments, func(i, j int) bool {
		if payments[i].PaymentDate.Equal(payments[j].PaymentDate) {
			return payments[i].CreatedAt.Before(payments[j].CreatedAt)
		}
		return payments[i].PaymentDate.Before(payments[j].PaymentDate)
	})
}
