package compensation_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linehaul/dispatch-engine/compensation"
)

// =============================================================================
// DEDUPLICATION INVARIANT
// =============================================================================

func TestPaymentLedger_BatchPayment_CountedOnce(t *testing.T) {
	// GIVEN: one $500 payment linked to five assignments of the same driver
	// WHEN: totaling paid-to-date
	// THEN: $500.00, not $2500.00

	batch := pmt("p-1", "drv-1", "500.00", time.Now())
	var assignments []compensation.Assignment
	for _, id := range []string{"a-1", "a-2", "a-3", "a-4", "a-5"} {
		assignments = append(assignments, withPayment(fixedAsg(id, "drv-1", "100"), batch))
	}

	ledger := compensation.NewPaymentLedger(assignments)
	assert.Equal(t, "500.00", ledger.TotalPaid("drv-1").String())

	payments := ledger.Payments("drv-1")
	require.Len(t, payments, 1)
}

func TestPaymentLedger_Add_DuplicateIgnored(t *testing.T) {
	ledger := compensation.NewPaymentLedger(nil)
	p := pmt("p-1", "drv-1", "100.00", time.Now())

	ledger.Add("drv-1", p)
	ledger.Add("drv-1", p)

	assert.Equal(t, "100.00", ledger.TotalPaid("drv-1").String())
}

// =============================================================================
// ACTIVE-ONLY COUNTING
// =============================================================================

func TestPaymentLedger_NonPositiveAmounts_NotCounted(t *testing.T) {
	// GIVEN: a positive, a zero, and a negative payment
	// THEN: only the positive one counts toward paid-to-date

	ledger := compensation.NewPaymentLedger(nil)
	ledger.Add("drv-1", pmt("p-1", "drv-1", "120.00", time.Now()))
	ledger.Add("drv-1", pmt("p-2", "drv-1", "0.00", time.Now()))
	ledger.Add("drv-1", pmt("p-3", "drv-1", "-40.00", time.Now()))

	assert.Equal(t, "120.00", ledger.TotalPaid("drv-1").String())
	assert.True(t, ledger.HasPayments("drv-1"))
}

// =============================================================================
// OWNERSHIP AND REMOVAL
// =============================================================================

func TestPaymentLedger_OwnerOf(t *testing.T) {
	ledger := compensation.NewPaymentLedger(nil)
	ledger.Add("drv-1", pmt("p-1", "drv-1", "100.00", time.Now()))

	owner, ok := ledger.OwnerOf("p-1")
	require.True(t, ok)
	assert.Equal(t, compensation.DriverID("drv-1"), owner)

	_, ok = ledger.OwnerOf("p-ghost")
	assert.False(t, ok, "unknown payment must not resolve an owner")
}

func TestPaymentLedger_Remove(t *testing.T) {
	ledger := compensation.NewPaymentLedger(nil)
	ledger.Add("drv-1", pmt("p-1", "drv-1", "100.00", time.Now()))
	ledger.Add("drv-1", pmt("p-2", "drv-1", "50.00", time.Now()))

	ledger.Remove("p-1")

	assert.Equal(t, "50.00", ledger.TotalPaid("drv-1").String())
	_, ok := ledger.OwnerOf("p-1")
	assert.False(t, ok)
}

func TestPaymentLedger_Payments_SortedByDate(t *testing.T) {
	ledger := compensation.NewPaymentLedger(nil)
	jan := time.Date(2026, time.January, 5, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2026, time.March, 5, 0, 0, 0, 0, time.UTC)

	ledger.Add("drv-1", pmt("p-later", "drv-1", "10.00", mar))
	ledger.Add("drv-1", pmt("p-earlier", "drv-1", "20.00", jan))

	payments := ledger.Payments("drv-1")
	require.Len(t, payments, 2)
	assert.Equal(t, compensation.PaymentID("p-earlier"), payments[0].ID)
	assert.Equal(t, compensation.PaymentID("p-later"), payments[1].ID)
}
