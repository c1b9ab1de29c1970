// Package store provides AssignmentSource/PaymentStore implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/linehaul/dispatch-engine/compensation"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	assignments map[compensation.AssignmentID]compensation.Assignment
	payments    map[compensation.PaymentID]compensation.Payment
	links       []compensation.AssignmentPayment

	// Write counters, handy for asserting idempotence in tests.
	paymentCreates    int
	assignmentUpdates int
	paymentDeletes    int
}

func NewMemory() *Memory {
	return &Memory{
		assignments: make(map[compensation.AssignmentID]compensation.Assignment),
		payments:    make(map[compensation.PaymentID]compensation.Payment),
	}
}

// Seed loads assignments into the store, replacing any prior entry with the
// same ID. Payment links carried on the assignment are registered too.
func (m *Memory) Seed(assignments ...compensation.Assignment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range assignments {
		links := a.PaymentLinks
		a.PaymentLinks = nil
		m.assignments[a.ID] = a
		for _, link := range links {
			if _, seen := m.payments[link.PaymentID]; !seen {
				m.payments[link.PaymentID] = link.Payment
			}
			m.links = append(m.links, compensation.AssignmentPayment{
				AssignmentID: a.ID,
				PaymentID:    link.PaymentID,
				Payment:      link.Payment,
			})
		}
	}
}

// AssignmentsByIDs returns the expanded assignments in request order. Unknown
// IDs fail the whole load; a run must never start on a partial selection.
func (m *Memory) AssignmentsByIDs(_ context.Context, ids []compensation.AssignmentID) ([]compensation.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]compensation.Assignment, 0, len(ids))
	for _, id := range ids {
		a, ok := m.assignments[id]
		if !ok {
			return nil, fmt.Errorf("assignment %s: %w", id, compensation.ErrUnknownAssignment)
		}
		out = append(out, m.expandLocked(a))
	}
	return out, nil
}

func (m *Memory) expandLocked(a compensation.Assignment) compensation.Assignment {
	a.PaymentLinks = nil
	for _, link := range m.links {
		if link.AssignmentID != a.ID {
			continue
		}
		link.Payment = m.payments[link.PaymentID]
		a.PaymentLinks = append(a.PaymentLinks, link)
	}
	return a
}

// CreatePayment creates a payment plus one link per assignment. Payments
// covering more than one assignment are flagged as batch payments.
func (m *Memory) CreatePayment(_ context.Context, np compensation.NewPayment) (compensation.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createPaymentLocked(np)
}

func (m *Memory) createPaymentLocked(np compensation.NewPayment) (compensation.Payment, error) {
	if len(np.AssignmentIDs) == 0 {
		return compensation.Payment{}, compensation.ErrNoAssignments
	}
	for _, id := range np.AssignmentIDs {
		a, ok := m.assignments[id]
		if !ok {
			return compensation.Payment{}, fmt.Errorf("assignment %s: %w", id, compensation.ErrUnknownAssignment)
		}
		if a.DriverID != np.DriverID {
			return compensation.Payment{}, fmt.Errorf("assignment %s belongs to driver %s: %w", id, a.DriverID, compensation.ErrUnknownDriver)
		}
	}

	p := compensation.Payment{
		ID:             compensation.PaymentID(uuid.NewString()),
		DriverID:       np.DriverID,
		Amount:         np.Amount.Round(),
		PaymentDate:    np.PaymentDate,
		Notes:          np.Notes,
		IsBatchPayment: len(np.AssignmentIDs) > 1,
		CreatedAt:      time.Now().UTC(),
	}
	m.payments[p.ID] = p
	for _, id := range np.AssignmentIDs {
		m.links = append(m.links, compensation.AssignmentPayment{
			AssignmentID: id,
			PaymentID:    p.ID,
			Payment:      p,
		})
	}
	m.paymentCreates++
	return p, nil
}

// UpdateAssignment writes only the fields set in changes.
func (m *Memory) UpdateAssignment(_ context.Context, id compensation.AssignmentID, changes compensation.AssignmentChanges) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateAssignmentLocked(id, changes)
}

func (m *Memory) updateAssignmentLocked(id compensation.AssignmentID, changes compensation.AssignmentChanges) error {
	a, ok := m.assignments[id]
	if !ok {
		return fmt.Errorf("assignment %s: %w", id, compensation.ErrUnknownAssignment)
	}
	if changes.ChargeType != nil {
		a.ChargeType = *changes.ChargeType
	}
	if changes.ChargeValue != nil {
		a.ChargeValue = *changes.ChargeValue
	}
	if changes.BilledDistanceMiles != nil {
		v := *changes.BilledDistanceMiles
		a.BilledDistanceMiles = &v
	}
	if changes.BilledDurationHours != nil {
		v := *changes.BilledDurationHours
		a.BilledDurationHours = &v
	}
	if changes.BilledLoadRate != nil {
		v := *changes.BilledLoadRate
		a.BilledLoadRate = &v
	}
	m.assignments[id] = a
	m.assignmentUpdates++
	return nil
}

// DeletePayment removes the payment and all its links as a unit.
func (m *Memory) DeletePayment(_ context.Context, driverID compensation.DriverID, paymentID compensation.PaymentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletePaymentLocked(driverID, paymentID)
}

func (m *Memory) deletePaymentLocked(driverID compensation.DriverID, paymentID compensation.PaymentID) error {
	p, ok := m.payments[paymentID]
	if !ok {
		return fmt.Errorf("payment %s: %w", paymentID, compensation.ErrUnresolvedDriver)
	}
	if p.DriverID != driverID {
		return fmt.Errorf("payment %s belongs to driver %s: %w", paymentID, p.DriverID, compensation.ErrUnresolvedDriver)
	}
	delete(m.payments, paymentID)

	kept := m.links[:0]
	for _, link := range m.links {
		if link.PaymentID != paymentID {
			kept = append(kept, link)
		}
	}
	m.links = kept
	m.paymentDeletes++
	return nil
}

// PaymentsByDriver returns the driver's payments in payment-date order.
func (m *Memory) PaymentsByDriver(_ context.Context, driverID compensation.DriverID) ([]compensation.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []compensation.Payment
	for _, p := range m.payments {
		if p.DriverID == driverID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PaymentDate.Equal(out[j].PaymentDate) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].PaymentDate.Before(out[j].PaymentDate)
	})
	return out, nil
}

// Counters reports total writes since construction: creates, updates, deletes.
func (m *Memory) Counters() (int, int, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paymentCreates, m.assignmentUpdates, m.paymentDeletes
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(_ context.Context, fn func(compensation.PaymentStore) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	txStore := &txMemoryView{parent: tm}

	if err := fn(txStore); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	assignments := make(map[compensation.AssignmentID]compensation.Assignment, len(tm.assignments))
	for k, v := range tm.assignments {
		assignments[k] = v
	}
	payments := make(map[compensation.PaymentID]compensation.Payment, len(tm.payments))
	for k, v := range tm.payments {
		payments[k] = v
	}
	links := append([]compensation.AssignmentPayment{}, tm.links...)
	return memorySnapshot{
		assignments: assignments,
		payments:    payments,
		links:       links,
		creates:     tm.paymentCreates,
		updates:     tm.assignmentUpdates,
		deletes:     tm.paymentDeletes,
	}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.assignments = s.assignments
	tm.payments = s.payments
	tm.links = s.links
	tm.paymentCreates = s.creates
	tm.assignmentUpdates = s.updates
	tm.paymentDeletes = s.deletes
}

type memorySnapshot struct {
	assignments map[compensation.AssignmentID]compensation.Assignment
	payments    map[compensation.PaymentID]compensation.Payment
	links       []compensation.AssignmentPayment
	creates     int
	updates     int
	deletes     int
}

// txMemoryView issues writes against the already-locked parent.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) CreatePayment(_ context.Context, np compensation.NewPayment) (compensation.Payment, error) {
	return tv.parent.createPaymentLocked(np)
}

func (tv *txMemoryView) UpdateAssignment(_ context.Context, id compensation.AssignmentID, changes compensation.AssignmentChanges) error {
	return tv.parent.updateAssignmentLocked(id, changes)
}

func (tv *txMemoryView) DeletePayment(_ context.Context, driverID compensation.DriverID, paymentID compensation.PaymentID) error {
	return tv.parent.deletePaymentLocked(driverID, paymentID)
}
