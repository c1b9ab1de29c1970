/*
store.go - Persistence contracts consumed by the engine

PURPOSE:
  The engine never talks to a database directly. It reads expanded
  assignments through AssignmentSource and issues its three write
  operations through PaymentStore. Implementations live in
  compensation/store (in-memory) and store/sqlite (durable).

ORDERING CONTRACT:
  Within one driver's slice of a run, UpdateAssignment calls are issued
  only after that driver's CreatePayment has resolved. Across drivers, and
  across one driver's assignment updates, no ordering is guaranteed.

TRANSACTIONS:
  Stores that can make a driver's payment-creation and assignment-updates
  atomic implement TxPaymentStore; the engine uses WithTx per driver when
  available and falls back to a compensating payment-delete otherwise.

MONEY AT THE BOUNDARY:
  Amounts cross as exact decimals and persist as strings with two
  fractional digits. Never binary floats.
*/
package compensation

import "context"

// AssignmentSource loads assignments expanded with their route leg, load,
// and prior payment links. It seeds a run's detail sets and ledger.
type AssignmentSource interface {
	AssignmentsByIDs(ctx context.Context, ids []AssignmentID) ([]Assignment, error)
}

// PaymentStore is the write side of reconciliation.
type PaymentStore interface {
	// CreatePayment creates one payment and links it to every listed
	// assignment. The returned payment carries the generated ID.
	CreatePayment(ctx context.Context, np NewPayment) (Payment, error)

	// UpdateAssignment persists only the fields set in changes. Callers
	// never invoke it with an empty change set.
	UpdateAssignment(ctx context.Context, id AssignmentID, changes AssignmentChanges) error

	// DeletePayment removes a payment and all its assignment links as a
	// unit. driverID routes the deletion and must be resolvable.
	DeletePayment(ctx context.Context, driverID DriverID, paymentID PaymentID) error
}

// TxPaymentStore adds per-driver atomicity. If fn returns an error, none of
// its writes survive.
type TxPaymentStore interface {
	PaymentStore

	WithTx(ctx context.Context, fn func(PaymentStore) error) error
}
