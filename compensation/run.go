/*
run.go - Reconciliation run context and submission

PURPOSE:
  A Run owns everything one reconciliation touches: the per-driver billing
  detail sets, the payment ledger, proposed payment amounts, and edit-mode
  flags. All state is explicit per run instance - nothing ambient - so
  concurrent runs over disjoint selections cannot leak into each other.

LIFECYCLE:
  NewRun(assignments, date)  seed details + ledger, propose remaining balance
  ApplyEdit / ResetField     mutate details while the driver is not fully paid
  Submit(ctx, store)         per driver: create payment, then persist diffs
  DeletePayment(ctx, ...)    remove a payment and restore the ledger view

SUBMISSION ORDERING:
  For each driver with a positive proposed amount, the payment is created
  first; only after it resolves are that driver's changed billing details
  written. Drivers proceed concurrently and independently: one driver's
  failure never blocks another's run.

FAILURE SEMANTICS:
  With a TxPaymentStore, a driver's payment and updates commit atomically.
  Without one, a failed update triggers a compensating delete of the
  just-created payment. Per-driver outcomes are collected in RunResult;
  nothing is retried.
*/
package compensation

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// RUN - One reconciliation over a selection of assignments
// =============================================================================

type Run struct {
	mu sync.Mutex

	drivers      []DriverID
	details      map[DriverID][]*BillingDetail
	byAssignment map[AssignmentID]*BillingDetail
	ledger       *PaymentLedger
	proposed     map[DriverID]Money
	editMode     map[AssignmentID]bool

	paymentDate time.Time
	notes       string
	busy        bool

	logger *slog.Logger
}

// NewRun seeds a run from the selected assignments. Assignments are grouped
// by driver; a driver appears only if at least one assignment was selected
// for them. Each driver's proposed amount defaults to their remaining
// balance.
func NewRun(assignments []Assignment, paymentDate time.Time, logger *slog.Logger) (*Run, error) {
	if len(assignments) == 0 {
		return nil, ErrNoAssignments
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Run{
		details:      make(map[DriverID][]*BillingDetail),
		byAssignment: make(map[AssignmentID]*BillingDetail),
		ledger:       NewPaymentLedger(assignments),
		proposed:     make(map[DriverID]Money),
		editMode:     make(map[AssignmentID]bool),
		paymentDate:  paymentDate,
		logger:       logger,
	}

	for _, a := range assignments {
		d := newBillingDetail(a)
		if _, seen := r.details[a.DriverID]; !seen {
			r.drivers = append(r.drivers, a.DriverID)
		}
		r.details[a.DriverID] = append(r.details[a.DriverID], d)
		r.byAssignment[a.ID] = d
	}
	for _, driverID := range r.drivers {
		r.proposed[driverID] = r.remainingLocked(driverID)
	}
	return r, nil
}

// Drivers returns the run's drivers in selection order.
func (r *Run) Drivers() []DriverID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DriverID, len(r.drivers))
	copy(out, r.drivers)
	return out
}

// Details returns value copies of a driver's billing details.
func (r *Run) Details(driverID DriverID) []BillingDetail {
	r.mu.Lock()
	defer r.mu.Unlock()
	details := r.details[driverID]
	out := make([]BillingDetail, len(details))
	for i, d := range details {
		out[i] = *d
	}
	return out
}

// PaymentHistory returns the driver's distinct prior payments.
func (r *Run) PaymentHistory(driverID DriverID) []Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledger.Payments(driverID)
}

// SetNotes attaches notes carried onto every payment this run creates.
func (r *Run) SetNotes(notes string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = notes
}

// =============================================================================
// BALANCES
// =============================================================================

// TotalDue is the driver's full due under the current billing details.
func (r *Run) TotalDue(driverID DriverID) Money {
	r.mu.Lock()
	defer r.mu.Unlock()
	return TotalDue(r.details[driverID])
}

// TotalPaid is the driver's deduplicated paid-to-date.
func (r *Run) TotalPaid(driverID DriverID) Money {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledger.TotalPaid(driverID)
}

// RemainingBalance is max(0, due - paid). Overrides can push due below what
// was already paid; the balance floors at zero rather than going negative.
func (r *Run) RemainingBalance(driverID DriverID) Money {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remainingLocked(driverID)
}

func (r *Run) remainingLocked(driverID DriverID) Money {
	due := TotalDue(r.details[driverID])
	paid := r.ledger.TotalPaid(driverID)
	return due.Sub(paid).Max(ZeroMoney()).Round()
}

// fullyPaidLocked gates billing edits: once recorded payments cover the
// total due, the driver's details are read-only.
func (r *Run) fullyPaidLocked(driverID DriverID) bool {
	return r.ledger.TotalPaid(driverID).GreaterOrEqual(TotalDue(r.details[driverID]))
}

// =============================================================================
// PROPOSED AMOUNTS
// =============================================================================

func (r *Run) ProposedAmount(driverID DriverID) Money {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.proposed[driverID]
}

// SetProposedAmount overrides the payment amount for one driver.
func (r *Run) SetProposedAmount(driverID DriverID, amount Money) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.details[driverID]; !ok {
		return ErrUnknownDriver
	}
	if amount.IsNegative() {
		return ErrNothingToPay
	}
	r.proposed[driverID] = amount.Round()
	return nil
}

// SetToFullDue proposes exactly the driver's remaining balance.
func (r *Run) SetToFullDue(driverID DriverID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.details[driverID]; !ok {
		return ErrUnknownDriver
	}
	r.proposed[driverID] = r.remainingLocked(driverID)
	return nil
}

// =============================================================================
// BILLING DETAIL EDITS
// =============================================================================

// EnterEditMode opens an assignment's details for editing. Rejected once the
// owning driver is fully paid.
func (r *Run) EnterEditMode(assignmentID AssignmentID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byAssignment[assignmentID]
	if !ok {
		return ErrUnknownAssignment
	}
	if r.fullyPaidLocked(d.DriverID()) {
		return ErrDriverFullyPaid
	}
	r.editMode[assignmentID] = true
	return nil
}

func (r *Run) ExitEditMode(assignmentID AssignmentID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.editMode, assignmentID)
}

func (r *Run) InEditMode(assignmentID AssignmentID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.editMode[assignmentID]
}

// ApplyEdit mutates one billing-detail field and recomputes the owning
// driver's proposed amount from the new remaining balance.
func (r *Run) ApplyEdit(assignmentID AssignmentID, edit DetailEdit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byAssignment[assignmentID]
	if !ok {
		return ErrUnknownAssignment
	}
	if r.fullyPaidLocked(d.DriverID()) {
		return ErrDriverFullyPaid
	}
	if err := edit.apply(d); err != nil {
		return err
	}
	r.proposed[d.DriverID()] = r.remainingLocked(d.DriverID())
	return nil
}

// ResetField restores a billed override to the assignment's natural leg/load
// value and recomputes the balance like any other edit.
func (r *Run) ResetField(assignmentID AssignmentID, field BilledField) error {
	r.mu.Lock()
	d, ok := r.byAssignment[assignmentID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownAssignment
	}
	edit := d.resetEdit(field)
	r.mu.Unlock()
	if edit == nil {
		return ErrUnknownAssignment
	}
	return r.ApplyEdit(assignmentID, edit)
}

// =============================================================================
// SUBMISSION
// =============================================================================

// RunResult reports per-driver outcomes of one submission. A driver appears
// in exactly one of the two maps.
type RunResult struct {
	Payments map[DriverID]Payment
	Errors   map[DriverID]error
}

func (rr *RunResult) Failed() bool { return len(rr.Errors) > 0 }

// driverWork is the per-driver snapshot taken under lock before dispatch, so
// in-flight persistence never races detail edits.
type driverWork struct {
	driverID      DriverID
	amount        Money
	assignmentIDs []AssignmentID
	changes       map[AssignmentID]AssignmentChanges
}

// Submit executes the run: for every driver with a positive proposed amount,
// create one payment linked to all their selected assignments, then persist
// only the billing fields that changed. Drivers are submitted concurrently.
//
// Re-entrant submission fails with ErrRunBusy until the in-flight run ends.
func (r *Run) Submit(ctx context.Context, store PaymentStore) (*RunResult, error) {
	r.mu.Lock()
	if r.busy {
		r.mu.Unlock()
		return nil, ErrRunBusy
	}
	if r.paymentDate.IsZero() {
		r.mu.Unlock()
		return nil, ErrNoPaymentDate
	}

	var work []driverWork
	for _, driverID := range r.drivers {
		amount := r.proposed[driverID]
		if !amount.IsPositive() {
			continue
		}
		w := driverWork{
			driverID: driverID,
			amount:   amount,
			changes:  make(map[AssignmentID]AssignmentChanges),
		}
		for _, d := range r.details[driverID] {
			w.assignmentIDs = append(w.assignmentIDs, d.AssignmentID())
			if c := d.Changes(); !c.Empty() {
				w.changes[d.AssignmentID()] = c
			}
		}
		work = append(work, w)
	}
	if len(work) == 0 {
		r.mu.Unlock()
		return nil, ErrNothingToPay
	}
	r.busy = true
	paymentDate, notes := r.paymentDate, r.notes
	r.mu.Unlock()

	result := &RunResult{
		Payments: make(map[DriverID]Payment),
		Errors:   make(map[DriverID]error),
	}
	var (
		wg       sync.WaitGroup
		resultMu sync.Mutex
	)
	for _, w := range work {
		wg.Add(1)
		go func(w driverWork) {
			defer wg.Done()
			payment, err := r.submitDriver(ctx, store, w, paymentDate, notes)
			resultMu.Lock()
			defer resultMu.Unlock()
			if err != nil {
				result.Errors[w.driverID] = err
				return
			}
			result.Payments[w.driverID] = payment
		}(w)
	}
	wg.Wait()

	r.mu.Lock()
	for _, w := range work {
		payment, ok := result.Payments[w.driverID]
		if !ok {
			continue
		}
		r.ledger.Add(w.driverID, payment)
		for _, d := range r.details[w.driverID] {
			if c, changed := w.changes[d.AssignmentID()]; changed {
				d.markPersisted(c)
			}
			delete(r.editMode, d.AssignmentID())
		}
		r.proposed[w.driverID] = r.remainingLocked(w.driverID)
	}
	r.busy = false
	r.mu.Unlock()

	if result.Failed() {
		r.logger.Error("reconciliation run completed with failures",
			"drivers_failed", len(result.Errors),
			"drivers_paid", len(result.Payments),
		)
		for driverID, err := range result.Errors {
			r.logger.Error("driver submission failed", "driver_id", string(driverID), "error", err)
		}
	}
	return result, nil
}

// submitDriver issues one driver's payment and assignment updates. Payment
// creation strictly precedes the updates; the updates themselves target
// disjoint assignments and run concurrently on non-transactional stores.
func (r *Run) submitDriver(ctx context.Context, store PaymentStore, w driverWork, paymentDate time.Time, notes string) (Payment, error) {
	np := NewPayment{
		DriverID:      w.driverID,
		AssignmentIDs: w.assignmentIDs,
		Amount:        w.amount.Round(),
		PaymentDate:   paymentDate,
		Notes:         notes,
	}

	if tx, ok := store.(TxPaymentStore); ok {
		var payment Payment
		err := tx.WithTx(ctx, func(s PaymentStore) error {
			created, err := s.CreatePayment(ctx, np)
			if err != nil {
				return &DriverSubmitError{DriverID: w.driverID, Stage: "create_payment", Err: err}
			}
			payment = created
			for id, changes := range w.changes {
				if err := s.UpdateAssignment(ctx, id, changes); err != nil {
					return &DriverSubmitError{DriverID: w.driverID, Stage: "update_assignment", Err: err}
				}
			}
			return nil
		})
		if err != nil {
			return Payment{}, err
		}
		return payment, nil
	}

	payment, err := store.CreatePayment(ctx, np)
	if err != nil {
		return Payment{}, &DriverSubmitError{DriverID: w.driverID, Stage: "create_payment", Err: err}
	}

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	for id, changes := range w.changes {
		wg.Add(1)
		go func(id AssignmentID, changes AssignmentChanges) {
			defer wg.Done()
			if err := store.UpdateAssignment(ctx, id, changes); err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
			}
		}(id, changes)
	}
	wg.Wait()

	if firstErr != nil {
		// No durable transaction available: reverse the payment so the
		// driver's slice of the run fails as a unit.
		if derr := store.DeletePayment(ctx, w.driverID, payment.ID); derr != nil {
			r.logger.Error("compensating payment delete failed",
				"driver_id", string(w.driverID),
				"payment_id", string(payment.ID),
				"error", derr,
			)
			return Payment{}, &DriverSubmitError{DriverID: w.driverID, Stage: "compensate", Err: derr}
		}
		return Payment{}, &DriverSubmitError{DriverID: w.driverID, Stage: "update_assignment", Err: firstErr}
	}
	return payment, nil
}

// =============================================================================
// PAYMENT DELETION
// =============================================================================

// DeletePayment reverses a payment: the payment row and all its assignment
// links are removed as a unit, and the driver's balance view is restored to
// its pre-payment value. Fails fast when the owning driver cannot be
// resolved.
func (r *Run) DeletePayment(ctx context.Context, store PaymentStore, paymentID PaymentID) error {
	r.mu.Lock()
	driverID, ok := r.ledger.OwnerOf(paymentID)
	r.mu.Unlock()
	if !ok {
		return ErrUnresolvedDriver
	}

	if err := store.DeletePayment(ctx, driverID, paymentID); err != nil {
		r.logger.Error("payment delete failed",
			"driver_id", string(driverID),
			"payment_id", string(paymentID),
			"error", err,
		)
		return err
	}

	r.mu.Lock()
	r.ledger.Remove(paymentID)
	r.proposed[driverID] = r.remainingLocked(driverID)
	r.mu.Unlock()
	return nil
}
