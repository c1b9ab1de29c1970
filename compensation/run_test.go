package compensation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linehaul/dispatch-engine/compensation"
	memstore "github.com/linehaul/dispatch-engine/compensation/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func mustDec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func asg(id, driver string, ct compensation.ChargeType, value, miles, hours, rate string) compensation.Assignment {
	return compensation.Assignment{
		ID:          compensation.AssignmentID(id),
		DriverID:    compensation.DriverID(driver),
		Driver:      compensation.Driver{ID: compensation.DriverID(driver), Name: driver},
		LoadID:      compensation.LoadID("load-" + id),
		ChargeType:  ct,
		ChargeValue: mustDec(value),
		RouteLeg: compensation.RouteLeg{
			ID:            compensation.RouteLegID("leg-" + id),
			DistanceMiles: mustDec(miles),
			DurationHours: mustDec(hours),
		},
		Load: compensation.Load{
			ID:        compensation.LoadID("load-" + id),
			Reference: "LD-" + id,
			Rate:      mustDec(rate),
		},
	}
}

func fixedAsg(id, driver, value string) compensation.Assignment {
	return asg(id, driver, compensation.ChargeFixedPay, value, "0", "0", "0")
}

func pmt(id, driver, amount string, date time.Time) compensation.Payment {
	return compensation.Payment{
		ID:          compensation.PaymentID(id),
		DriverID:    compensation.DriverID(driver),
		Amount:      compensation.MoneyFromString(amount),
		PaymentDate: date,
		CreatedAt:   date,
	}
}

func withPayment(a compensation.Assignment, p compensation.Payment) compensation.Assignment {
	a.PaymentLinks = append(a.PaymentLinks, compensation.AssignmentPayment{
		AssignmentID: a.ID,
		PaymentID:    p.ID,
		Payment:      p,
	})
	return a
}

func newRunWithStore(t *testing.T, assignments ...compensation.Assignment) (*compensation.Run, *memstore.Memory) {
	t.Helper()
	st := memstore.NewMemory()
	st.Seed(assignments...)
	run, err := compensation.NewRun(assignments, time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	return run, st
}

// =============================================================================
// BALANCE TESTS
// =============================================================================

func TestNewRun_NoAssignments_Rejected(t *testing.T) {
	_, err := compensation.NewRun(nil, time.Now(), nil)
	assert.ErrorIs(t, err, compensation.ErrNoAssignments)
}

func TestRun_PartialPayment_RemainingBalance(t *testing.T) {
	// GIVEN: assignments worth $200 and $150, with $100 already paid
	// THEN: due 350.00, paid 100.00, remaining 250.00, proposed 250.00

	prior := pmt("p-1", "drv-1", "100.00", time.Now().AddDate(0, 0, -7))
	a1 := withPayment(asg("a-1", "drv-1", compensation.ChargePerMile, "0.40", "500", "0", "0"), prior)
	a2 := fixedAsg("a-2", "drv-1", "150")

	run, _ := newRunWithStore(t, a1, a2)

	assert.Equal(t, "350.00", run.TotalDue("drv-1").String())
	assert.Equal(t, "100.00", run.TotalPaid("drv-1").String())
	assert.Equal(t, "250.00", run.RemainingBalance("drv-1").String())
	assert.Equal(t, "250.00", run.ProposedAmount("drv-1").String())
}

func TestRun_Overpaid_RemainingFloorsAtZero(t *testing.T) {
	// GIVEN: due $150, paid $200
	// THEN: remaining balance is 0.00, never negative

	prior := pmt("p-1", "drv-1", "200.00", time.Now().AddDate(0, 0, -7))
	a1 := withPayment(fixedAsg("a-1", "drv-1", "150"), prior)

	run, _ := newRunWithStore(t, a1)

	assert.Equal(t, "0.00", run.RemainingBalance("drv-1").String())
	assert.False(t, run.RemainingBalance("drv-1").IsNegative())
}

func TestRun_ProposedAmount_UnknownDriver(t *testing.T) {
	run, _ := newRunWithStore(t, fixedAsg("a-1", "drv-1", "100"))

	err := run.SetProposedAmount("drv-ghost", compensation.MoneyFromString("10.00"))
	assert.ErrorIs(t, err, compensation.ErrUnknownDriver)
}

func TestRun_ProposedAmount_NegativeRejected(t *testing.T) {
	run, _ := newRunWithStore(t, fixedAsg("a-1", "drv-1", "100"))

	err := run.SetProposedAmount("drv-1", compensation.MoneyFromString("-5.00"))
	assert.Error(t, err)
}

// =============================================================================
// BILLING EDIT TESTS
// =============================================================================

func TestRun_ApplyEdit_RecomputesBalance(t *testing.T) {
	// GIVEN: a per-mile assignment at 500 miles
	// WHEN: the billed distance is overridden to 400
	// THEN: due and proposed amount follow the new terms

	run, _ := newRunWithStore(t, asg("a-1", "drv-1", compensation.ChargePerMile, "0.50", "500", "0", "0"))
	require.Equal(t, "250.00", run.TotalDue("drv-1").String())

	err := run.ApplyEdit("a-1", compensation.SetBilledDistance{Value: mustDec("400")})
	require.NoError(t, err)

	assert.Equal(t, "200.00", run.TotalDue("drv-1").String())
	assert.Equal(t, "200.00", run.ProposedAmount("drv-1").String())
}

func TestRun_ResetField_RestoresNaturalValue(t *testing.T) {
	// GIVEN: a billed-distance override
	// WHEN: the field is reset
	// THEN: pay derives from the leg's natural distance again

	run, _ := newRunWithStore(t, asg("a-1", "drv-1", compensation.ChargePerMile, "0.50", "500", "0", "0"))
	require.NoError(t, run.ApplyEdit("a-1", compensation.SetBilledDistance{Value: mustDec("400")}))
	require.Equal(t, "200.00", run.TotalDue("drv-1").String())

	require.NoError(t, run.ResetField("a-1", compensation.FieldBilledDistance))
	assert.Equal(t, "250.00", run.TotalDue("drv-1").String())
}

func TestRun_ApplyEdit_FullyPaidDriver_Rejected(t *testing.T) {
	// GIVEN: a driver whose payments already cover the due
	// WHEN: editing billing details or entering edit mode
	// THEN: rejected with ErrDriverFullyPaid

	prior := pmt("p-1", "drv-1", "150.00", time.Now().AddDate(0, 0, -7))
	run, _ := newRunWithStore(t, withPayment(fixedAsg("a-1", "drv-1", "150"), prior))

	err := run.EnterEditMode("a-1")
	assert.ErrorIs(t, err, compensation.ErrDriverFullyPaid)

	err = run.ApplyEdit("a-1", compensation.SetChargeValue{Value: mustDec("200")})
	assert.ErrorIs(t, err, compensation.ErrDriverFullyPaid)
}

func TestRun_ApplyEdit_NegativeChargeValue_Rejected(t *testing.T) {
	run, _ := newRunWithStore(t, fixedAsg("a-1", "drv-1", "100"))

	err := run.ApplyEdit("a-1", compensation.SetChargeValue{Value: mustDec("-10")})
	assert.ErrorIs(t, err, compensation.ErrInvalidChargeValue)

	var cvErr *compensation.ChargeValueError
	assert.ErrorAs(t, err, &cvErr)
}

func TestRun_ApplyEdit_PercentageOverHundred_Rejected(t *testing.T) {
	run, _ := newRunWithStore(t, asg("a-1", "drv-1", compensation.ChargePercentageOfLoad, "25", "0", "0", "1000"))

	err := run.ApplyEdit("a-1", compensation.SetChargeValue{Value: mustDec("101")})
	assert.ErrorIs(t, err, compensation.ErrInvalidChargeValue)
}

func TestRun_ApplyEdit_SwitchToPercentage_ValidatesExistingValue(t *testing.T) {
	// GIVEN: a fixed-pay assignment with charge value 150
	// WHEN: switching the strategy to percentage-of-load
	// THEN: rejected because 150 exceeds 100 percent

	run, _ := newRunWithStore(t, fixedAsg("a-1", "drv-1", "150"))

	err := run.ApplyEdit("a-1", compensation.SetChargeType{Value: compensation.ChargePercentageOfLoad})
	assert.ErrorIs(t, err, compensation.ErrInvalidChargeValue)
}

func TestRun_ApplyEdit_UnknownAssignment(t *testing.T) {
	run, _ := newRunWithStore(t, fixedAsg("a-1", "drv-1", "100"))

	err := run.ApplyEdit("a-ghost", compensation.SetChargeValue{Value: mustDec("1")})
	assert.ErrorIs(t, err, compensation.ErrUnknownAssignment)
}

// =============================================================================
// SUBMISSION TESTS
// =============================================================================

func TestRun_Submit_CreatesOnePaymentPerDriver(t *testing.T) {
	// GIVEN: two drivers, one with two assignments
	// WHEN: submitting with default proposed amounts
	// THEN: each driver gets one payment; the two-assignment driver's
	//       payment is flagged as a batch payment

	run, st := newRunWithStore(t,
		fixedAsg("a-1", "drv-1", "200"),
		fixedAsg("a-2", "drv-1", "150"),
		fixedAsg("a-3", "drv-2", "90"),
	)

	result, err := run.Submit(context.Background(), st)
	require.NoError(t, err)
	assert.False(t, result.Failed())
	require.Len(t, result.Payments, 2)

	p1 := result.Payments["drv-1"]
	assert.Equal(t, "350.00", p1.Amount.String())
	assert.True(t, p1.IsBatchPayment, "payment covering two assignments is a batch payment")

	p2 := result.Payments["drv-2"]
	assert.Equal(t, "90.00", p2.Amount.String())
	assert.False(t, p2.IsBatchPayment)

	payments, err := st.PaymentsByDriver(context.Background(), "drv-1")
	require.NoError(t, err)
	require.Len(t, payments, 1)
}

func TestRun_Submit_UntouchedDetails_NoAssignmentWrites(t *testing.T) {
	// GIVEN: no billing edits
	// WHEN: submitting
	// THEN: payments are created but no assignment update is issued

	run, st := newRunWithStore(t, fixedAsg("a-1", "drv-1", "200"))

	_, err := run.Submit(context.Background(), st)
	require.NoError(t, err)

	creates, updates, _ := st.Counters()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 0, updates, "untouched details must not reach the store")
}

func TestRun_Submit_PersistsOnlyChangedFields(t *testing.T) {
	// GIVEN: one edited detail among two
	// WHEN: submitting
	// THEN: exactly one assignment update is issued

	run, st := newRunWithStore(t,
		asg("a-1", "drv-1", compensation.ChargePerMile, "0.50", "500", "0", "0"),
		fixedAsg("a-2", "drv-1", "150"),
	)
	require.NoError(t, run.ApplyEdit("a-1", compensation.SetBilledDistance{Value: mustDec("400")}))

	_, err := run.Submit(context.Background(), st)
	require.NoError(t, err)

	_, updates, _ := st.Counters()
	assert.Equal(t, 1, updates)
}

func TestRun_Submit_UpdatesLedgerAndLocksEdits(t *testing.T) {
	// GIVEN: a successful full-due submission
	// THEN: remaining balance drops to zero and further edits are rejected

	run, st := newRunWithStore(t, fixedAsg("a-1", "drv-1", "200"))

	_, err := run.Submit(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, "200.00", run.TotalPaid("drv-1").String())
	assert.Equal(t, "0.00", run.RemainingBalance("drv-1").String())

	err = run.EnterEditMode("a-1")
	assert.ErrorIs(t, err, compensation.ErrDriverFullyPaid)

	// Nothing left to pay on a second pass.
	_, err = run.Submit(context.Background(), st)
	assert.ErrorIs(t, err, compensation.ErrNothingToPay)
}

func TestRun_Submit_ZeroDate_Rejected(t *testing.T) {
	st := memstore.NewMemory()
	a := fixedAsg("a-1", "drv-1", "100")
	st.Seed(a)
	run, err := compensation.NewRun([]compensation.Assignment{a}, time.Time{}, nil)
	require.NoError(t, err)

	_, err = run.Submit(context.Background(), st)
	assert.ErrorIs(t, err, compensation.ErrNoPaymentDate)
	assert.True(t, compensation.IsValidation(err))
}

func TestRun_Submit_NothingToPay_Rejected(t *testing.T) {
	run, st := newRunWithStore(t, fixedAsg("a-1", "drv-1", "100"))
	require.NoError(t, run.SetProposedAmount("drv-1", compensation.ZeroMoney()))

	_, err := run.Submit(context.Background(), st)
	assert.ErrorIs(t, err, compensation.ErrNothingToPay)
}

func TestRun_Submit_SkipsZeroAmountDrivers(t *testing.T) {
	// GIVEN: one driver zeroed out, one owed
	// THEN: only the owed driver is paid

	run, st := newRunWithStore(t,
		fixedAsg("a-1", "drv-1", "100"),
		fixedAsg("a-2", "drv-2", "80"),
	)
	require.NoError(t, run.SetProposedAmount("drv-1", compensation.ZeroMoney()))

	result, err := run.Submit(context.Background(), st)
	require.NoError(t, err)
	assert.NotContains(t, result.Payments, compensation.DriverID("drv-1"))
	assert.Contains(t, result.Payments, compensation.DriverID("drv-2"))
}

// =============================================================================
// FAILURE ISOLATION
// =============================================================================

// flakyStore fails UpdateAssignment for one assignment, leaving every other
// operation to the wrapped memory store. It deliberately does not implement
// TxPaymentStore so the compensating-delete path runs.
type flakyStore struct {
	*memstore.Memory
	failID compensation.AssignmentID
}

func (f *flakyStore) UpdateAssignment(ctx context.Context, id compensation.AssignmentID, changes compensation.AssignmentChanges) error {
	if id == f.failID {
		return errors.New("disk full")
	}
	return f.Memory.UpdateAssignment(ctx, id, changes)
}

func TestRun_Submit_CompensatingDelete_OnUpdateFailure(t *testing.T) {
	// GIVEN: a non-transactional store whose assignment update fails
	// WHEN: submitting an edited detail
	// THEN: the just-created payment is deleted and the driver's slice fails
	//       as a unit

	a := asg("a-1", "drv-1", compensation.ChargePerMile, "0.50", "500", "0", "0")
	st := memstore.NewMemory()
	st.Seed(a)
	flaky := &flakyStore{Memory: st, failID: "a-1"}

	run, err := compensation.NewRun([]compensation.Assignment{a}, time.Now(), nil)
	require.NoError(t, err)
	require.NoError(t, run.ApplyEdit("a-1", compensation.SetBilledDistance{Value: mustDec("400")}))

	result, err := run.Submit(context.Background(), flaky)
	require.NoError(t, err)
	assert.True(t, result.Failed())

	var submitErr *compensation.DriverSubmitError
	require.ErrorAs(t, result.Errors["drv-1"], &submitErr)
	assert.Equal(t, "update_assignment", submitErr.Stage)

	payments, err := st.PaymentsByDriver(context.Background(), "drv-1")
	require.NoError(t, err)
	assert.Empty(t, payments, "compensating delete must reverse the payment")

	assert.Equal(t, "0.00", run.TotalPaid("drv-1").String())
}

type flakyTxStore struct {
	*memstore.TxMemory
	failID compensation.AssignmentID
}

func (f *flakyTxStore) WithTx(ctx context.Context, fn func(compensation.PaymentStore) error) error {
	return f.TxMemory.WithTx(ctx, func(s compensation.PaymentStore) error {
		return fn(&flakyTxView{inner: s, failID: f.failID})
	})
}

type flakyTxView struct {
	inner  compensation.PaymentStore
	failID compensation.AssignmentID
}

func (v *flakyTxView) CreatePayment(ctx context.Context, np compensation.NewPayment) (compensation.Payment, error) {
	return v.inner.CreatePayment(ctx, np)
}

func (v *flakyTxView) UpdateAssignment(ctx context.Context, id compensation.AssignmentID, changes compensation.AssignmentChanges) error {
	if id == v.failID {
		return errors.New("disk full")
	}
	return v.inner.UpdateAssignment(ctx, id, changes)
}

func (v *flakyTxView) DeletePayment(ctx context.Context, driverID compensation.DriverID, paymentID compensation.PaymentID) error {
	return v.inner.DeletePayment(ctx, driverID, paymentID)
}

func TestRun_Submit_TxRollback_OnUpdateFailure(t *testing.T) {
	// GIVEN: a transactional store whose assignment update fails
	// THEN: the payment never persists - the transaction rolls back

	a := asg("a-1", "drv-1", compensation.ChargePerMile, "0.50", "500", "0", "0")
	st := memstore.NewTxMemory()
	st.Seed(a)
	flaky := &flakyTxStore{TxMemory: st, failID: "a-1"}

	run, err := compensation.NewRun([]compensation.Assignment{a}, time.Now(), nil)
	require.NoError(t, err)
	require.NoError(t, run.ApplyEdit("a-1", compensation.SetBilledDistance{Value: mustDec("400")}))

	result, err := run.Submit(context.Background(), flaky)
	require.NoError(t, err)
	assert.True(t, result.Failed())

	payments, err := st.PaymentsByDriver(context.Background(), "drv-1")
	require.NoError(t, err)
	assert.Empty(t, payments, "rolled-back payment must not persist")
}

func TestRun_Submit_OneDriverFailing_DoesNotBlockOthers(t *testing.T) {
	// GIVEN: driver 1's update fails, driver 2 is clean
	// THEN: driver 2 is paid regardless

	a1 := asg("a-1", "drv-1", compensation.ChargePerMile, "0.50", "500", "0", "0")
	a2 := fixedAsg("a-2", "drv-2", "90")
	st := memstore.NewMemory()
	st.Seed(a1, a2)
	flaky := &flakyStore{Memory: st, failID: "a-1"}

	run, err := compensation.NewRun([]compensation.Assignment{a1, a2}, time.Now(), nil)
	require.NoError(t, err)
	require.NoError(t, run.ApplyEdit("a-1", compensation.SetBilledDistance{Value: mustDec("400")}))

	result, err := run.Submit(context.Background(), flaky)
	require.NoError(t, err)

	assert.Contains(t, result.Errors, compensation.DriverID("drv-1"))
	assert.Contains(t, result.Payments, compensation.DriverID("drv-2"))
	assert.Equal(t, "90.00", run.TotalPaid("drv-2").String())
}

// blockingStore parks CreatePayment until released, to hold a run in flight.
type blockingStore struct {
	*memstore.Memory
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) CreatePayment(ctx context.Context, np compensation.NewPayment) (compensation.Payment, error) {
	close(b.entered)
	<-b.release
	return b.Memory.CreatePayment(ctx, np)
}

func TestRun_Submit_Reentrant_Busy(t *testing.T) {
	// GIVEN: a submission in flight
	// WHEN: submitting again
	// THEN: ErrRunBusy until the first run completes

	a := fixedAsg("a-1", "drv-1", "100")
	st := memstore.NewMemory()
	st.Seed(a)
	blocking := &blockingStore{
		Memory:  st,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}

	run, err := compensation.NewRun([]compensation.Assignment{a}, time.Now(), nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := run.Submit(context.Background(), blocking)
		done <- err
	}()

	<-blocking.entered
	_, err = run.Submit(context.Background(), blocking)
	assert.ErrorIs(t, err, compensation.ErrRunBusy)

	close(blocking.release)
	require.NoError(t, <-done)
}

// =============================================================================
// PAYMENT DELETION
// =============================================================================

func TestRun_DeletePayment_RestoresBalance(t *testing.T) {
	// GIVEN: a submitted payment
	// WHEN: deleting it
	// THEN: paid drops, remaining balance is restored, edits reopen

	run, st := newRunWithStore(t, fixedAsg("a-1", "drv-1", "200"))

	result, err := run.Submit(context.Background(), st)
	require.NoError(t, err)
	payment := result.Payments["drv-1"]

	require.NoError(t, run.DeletePayment(context.Background(), st, payment.ID))

	assert.Equal(t, "0.00", run.TotalPaid("drv-1").String())
	assert.Equal(t, "200.00", run.RemainingBalance("drv-1").String())
	assert.NoError(t, run.EnterEditMode("a-1"))

	payments, err := st.PaymentsByDriver(context.Background(), "drv-1")
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestRun_DeletePayment_UnresolvedDriver_Rejected(t *testing.T) {
	// GIVEN: a payment the run has never seen
	// THEN: deletion is refused before touching the store

	run, st := newRunWithStore(t, fixedAsg("a-1", "drv-1", "200"))

	err := run.DeletePayment(context.Background(), st, "p-ghost")
	assert.ErrorIs(t, err, compensation.ErrUnresolvedDriver)

	_, _, deletes := st.Counters()
	assert.Equal(t, 0, deletes)
}
