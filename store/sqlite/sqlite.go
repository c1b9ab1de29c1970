/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements compensation.AssignmentSource and compensation.TxPaymentStore
  using SQLite. In production, the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

KEY TABLES:
  drivers:             Driver records
  loads:               Loads with their natural rate
  route_legs:          Leg distance/duration naturals
  assignments:         Charge terms + nullable billed overrides
  payments:            Disbursements to drivers
  assignment_payments: Many-to-many payment links

MONEY:
  Amounts and decimal billing fields persist as TEXT. Payment amounts are
  written with two fractional digits; billing fields keep the exact decimal
  string. Never REAL - binary floats corrupt cents.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety plus WAL mode for better read
  concurrency. Multiple readers don't block; a single writer at a time.

USAGE:
  store, err := sqlite.New("./data/dispatch.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - compensation/store.go: Interface definitions
  - compensation/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/linehaul/dispatch-engine/compensation"
)

// Store implements AssignmentSource and TxPaymentStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Drivers
	CREATE TABLE IF NOT EXISTS drivers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Loads
	CREATE TABLE IF NOT EXISTS loads (
		id TEXT PRIMARY KEY,
		reference TEXT NOT NULL,
		rate TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	-- Route legs (natural billing inputs)
	CREATE TABLE IF NOT EXISTS route_legs (
		id TEXT PRIMARY KEY,
		distance_miles TEXT NOT NULL DEFAULT '0',
		duration_hours TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	-- Assignments (charge terms + nullable billed overrides)
	CREATE TABLE IF NOT EXISTS assignments (
		id TEXT PRIMARY KEY,
		driver_id TEXT NOT NULL REFERENCES drivers(id),
		load_id TEXT NOT NULL REFERENCES loads(id),
		route_leg_id TEXT NOT NULL REFERENCES route_legs(id),
		charge_type TEXT NOT NULL,
		charge_value TEXT NOT NULL DEFAULT '0',
		billed_distance_miles TEXT,
		billed_duration_hours TEXT,
		billed_load_rate TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_assignments_driver
		ON assignments(driver_id);
	CREATE INDEX IF NOT EXISTS idx_assignments_load
		ON assignments(load_id);

	-- Payments
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		driver_id TEXT NOT NULL REFERENCES drivers(id),
		amount TEXT NOT NULL,
		payment_date TEXT NOT NULL,
		notes TEXT,
		is_batch_payment BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_driver_date
		ON payments(driver_id, payment_date);

	-- Payment links (one payment may settle several assignments)
	CREATE TABLE IF NOT EXISTS assignment_payments (
		assignment_id TEXT NOT NULL REFERENCES assignments(id),
		payment_id TEXT NOT NULL REFERENCES payments(id) ON DELETE CASCADE,
		PRIMARY KEY (assignment_id, payment_id)
	);

	CREATE INDEX IF NOT EXISTS idx_assignment_payments_payment
		ON assignment_payments(payment_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// ASSIGNMENT SOURCE (compensation.AssignmentSource interface)
// =============================================================================

// AssignmentsByIDs loads assignments expanded with their driver, leg, load,
// and payment links, in request order. Unknown IDs fail the whole load.
func (s *Store) AssignmentsByIDs(ctx context.Context, ids []compensation.AssignmentID) ([]compensation.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	query := fmt.Sprintf(`
		SELECT a.id, a.driver_id, d.name, a.load_id, l.reference, l.rate,
		       r.id, r.distance_miles, r.duration_hours,
		       a.charge_type, a.charge_value,
		       a.billed_distance_miles, a.billed_duration_hours, a.billed_load_rate
		FROM assignments a
		JOIN drivers d ON d.id = a.driver_id
		JOIN loads l ON l.id = a.load_id
		JOIN route_legs r ON r.id = a.route_leg_id
		WHERE a.id IN (%s)
	`, placeholders)

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	byID := make(map[compensation.AssignmentID]compensation.Assignment, len(ids))
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		byID[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]compensation.Assignment, 0, len(ids))
	for _, id := range ids {
		a, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("assignment %s: %w", id, compensation.ErrUnknownAssignment)
		}
		links, err := s.paymentLinks(ctx, id)
		if err != nil {
			return nil, err
		}
		a.PaymentLinks = links
		out = append(out, a)
	}
	return out, nil
}

func scanAssignment(rows *sql.Rows) (compensation.Assignment, error) {
	var (
		a              compensation.Assignment
		rate           string
		distance       string
		duration       string
		chargeValue    string
		billedDistance sql.NullString
		billedDuration sql.NullString
		billedRate     sql.NullString
	)

	err := rows.Scan(
		&a.ID, &a.DriverID, &a.Driver.Name, &a.LoadID, &a.Load.Reference, &rate,
		&a.RouteLeg.ID, &distance, &duration,
		&a.ChargeType, &chargeValue,
		&billedDistance, &billedDuration, &billedRate,
	)
	if err != nil {
		return a, fmt.Errorf("failed to scan assignment: %w", err)
	}

	a.Driver.ID = a.DriverID
	a.Load.ID = a.LoadID
	a.Load.Rate = mustDecimal(rate)
	a.RouteLeg.DistanceMiles = mustDecimal(distance)
	a.RouteLeg.DurationHours = mustDecimal(duration)
	a.ChargeValue = mustDecimal(chargeValue)
	a.BilledDistanceMiles = nullDecimal(billedDistance)
	a.BilledDurationHours = nullDecimal(billedDuration)
	a.BilledLoadRate = nullDecimal(billedRate)
	return a, nil
}

func (s *Store) paymentLinks(ctx context.Context, id compensation.AssignmentID) ([]compensation.AssignmentPayment, error) {
	query := `
		SELECT p.id, p.driver_id, p.amount, p.payment_date, p.notes, p.is_batch_payment, p.created_at
		FROM assignment_payments ap
		JOIN payments p ON p.id = ap.payment_id
		WHERE ap.assignment_id = ?
		ORDER BY p.payment_date ASC, p.created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment links: %w", err)
	}
	defer rows.Close()

	var links []compensation.AssignmentPayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, compensation.AssignmentPayment{
			AssignmentID: id,
			PaymentID:    p.ID,
			Payment:      p,
		})
	}
	return links, rows.Err()
}

func scanPayment(rows *sql.Rows) (compensation.Payment, error) {
	var (
		p           compensation.Payment
		amount      string
		paymentDate string
		notes       sql.NullString
		createdAt   string
	)

	err := rows.Scan(&p.ID, &p.DriverID, &amount, &paymentDate, &notes, &p.IsBatchPayment, &createdAt)
	if err != nil {
		return p, fmt.Errorf("failed to scan payment: %w", err)
	}

	p.Amount = compensation.MoneyFromString(amount)
	p.PaymentDate, _ = time.Parse(time.RFC3339, paymentDate)
	p.Notes = notes.String
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return p, nil
}

// =============================================================================
// PAYMENT STORE (compensation.PaymentStore interface)
// =============================================================================

// CreatePayment creates a payment plus one link row per assignment, in one
// database transaction. Payments covering more than one assignment are
// flagged as batch payments.
func (s *Store) CreatePayment(ctx context.Context, np compensation.NewPayment) (compensation.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return compensation.Payment{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	payment, err := s.createPaymentTx(ctx, sqlTx, np)
	if err != nil {
		return compensation.Payment{}, err
	}
	if err := sqlTx.Commit(); err != nil {
		return compensation.Payment{}, err
	}
	return payment, nil
}

func (s *Store) createPaymentTx(ctx context.Context, db execer, np compensation.NewPayment) (compensation.Payment, error) {
	if len(np.AssignmentIDs) == 0 {
		return compensation.Payment{}, compensation.ErrNoAssignments
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

	query := `
		INSERT INTO payments (id, driver_id, amount, payment_date, notes, is_batch_payment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		p.ID,
		p.DriverID,
		p.Amount.String(),
		p.PaymentDate.Format(time.RFC3339),
		nullString(p.Notes),
		p.IsBatchPayment,
		p.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return compensation.Payment{}, fmt.Errorf("failed to insert payment: %w", err)
	}

	for _, id := range np.AssignmentIDs {
		_, err := db.ExecContext(ctx,
			"INSERT INTO assignment_payments (assignment_id, payment_id) VALUES (?, ?)",
			id, p.ID,
		)
		if err != nil {
			return compensation.Payment{}, fmt.Errorf("failed to link payment to assignment %s: %w", id, err)
		}
	}
	return p, nil
}

// UpdateAssignment writes only the fields set in changes.
func (s *Store) UpdateAssignment(ctx context.Context, id compensation.AssignmentID, changes compensation.AssignmentChanges) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateAssignmentTx(ctx, s.db, id, changes)
}

func (s *Store) updateAssignmentTx(ctx context.Context, db execer, id compensation.AssignmentID, changes compensation.AssignmentChanges) error {
	var (
		sets []string
		args []any
	)
	if changes.ChargeType != nil {
		sets = append(sets, "charge_type = ?")
		args = append(args, string(*changes.ChargeType))
	}
	if changes.ChargeValue != nil {
		sets = append(sets, "charge_value = ?")
		args = append(args, changes.ChargeValue.String())
	}
	if changes.BilledDistanceMiles != nil {
		sets = append(sets, "billed_distance_miles = ?")
		args = append(args, changes.BilledDistanceMiles.String())
	}
	if changes.BilledDurationHours != nil {
		sets = append(sets, "billed_duration_hours = ?")
		args = append(args, changes.BilledDurationHours.String())
	}
	if changes.BilledLoadRate != nil {
		sets = append(sets, "billed_load_rate = ?")
		args = append(args, changes.BilledLoadRate.String())
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	query := "UPDATE assignments SET " + strings.Join(sets, ", ") + " WHERE id = ?"

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update assignment %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("assignment %s: %w", id, compensation.ErrUnknownAssignment)
	}
	return nil
}

// DeletePayment removes the payment and all its links as a unit. The payment
// must belong to driverID.
func (s *Store) DeletePayment(ctx context.Context, driverID compensation.DriverID, paymentID compensation.PaymentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := s.deletePaymentTx(ctx, sqlTx, driverID, paymentID); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) deletePaymentTx(ctx context.Context, db execer, driverID compensation.DriverID, paymentID compensation.PaymentID) error {
	if _, err := db.ExecContext(ctx,
		"DELETE FROM assignment_payments WHERE payment_id = ?", paymentID,
	); err != nil {
		return fmt.Errorf("failed to delete payment links: %w", err)
	}

	res, err := db.ExecContext(ctx,
		"DELETE FROM payments WHERE id = ? AND driver_id = ?", paymentID, driverID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete payment %s: %w", paymentID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("payment %s for driver %s: %w", paymentID, driverID, compensation.ErrUnresolvedDriver)
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (compensation.TxPaymentStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store compensation.PaymentStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	txStore := &txStore{tx: sqlTx, parent: s}
	if err := fn(txStore); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) CreatePayment(ctx context.Context, np compensation.NewPayment) (compensation.Payment, error) {
	return ts.parent.createPaymentTx(ctx, ts.tx, np)
}

func (ts *txStore) UpdateAssignment(ctx context.Context, id compensation.AssignmentID, changes compensation.AssignmentChanges) error {
	return ts.parent.updateAssignmentTx(ctx, ts.tx, id, changes)
}

func (ts *txStore) DeletePayment(ctx context.Context, driverID compensation.DriverID, paymentID compensation.PaymentID) error {
	return ts.parent.deletePaymentTx(ctx, ts.tx, driverID, paymentID)
}

// =============================================================================
// DISPATCH ENTITY STORE (seeding and listings)
// =============================================================================

// SaveDriver saves a driver.
func (s *Store) SaveDriver(ctx context.Context, d compensation.Driver) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO drivers (id, name, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name
	`
	_, err := s.db.ExecContext(ctx, query, d.ID, d.Name, now())
	return err
}

// SaveLoad saves a load.
func (s *Store) SaveLoad(ctx context.Context, l compensation.Load) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO loads (id, reference, rate, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			reference = excluded.reference,
			rate = excluded.rate
	`
	_, err := s.db.ExecContext(ctx, query, l.ID, l.Reference, l.Rate.String(), now())
	return err
}

// SaveRouteLeg saves a route leg.
func (s *Store) SaveRouteLeg(ctx context.Context, r compensation.RouteLeg) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO route_legs (id, distance_miles, duration_hours, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			distance_miles = excluded.distance_miles,
			duration_hours = excluded.duration_hours
	`
	_, err := s.db.ExecContext(ctx, query, r.ID, r.DistanceMiles.String(), r.DurationHours.String(), now())
	return err
}

// SaveAssignment saves an assignment's charge terms and overrides.
func (s *Store) SaveAssignment(ctx context.Context, a compensation.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO assignments
		(id, driver_id, load_id, route_leg_id, charge_type, charge_value,
		 billed_distance_miles, billed_duration_hours, billed_load_rate, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			charge_type = excluded.charge_type,
			charge_value = excluded.charge_value,
			billed_distance_miles = excluded.billed_distance_miles,
			billed_duration_hours = excluded.billed_duration_hours,
			billed_load_rate = excluded.billed_load_rate
	`
	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.DriverID, a.LoadID, a.RouteLeg.ID,
		string(a.ChargeType), a.ChargeValue.String(),
		decimalPtrString(a.BilledDistanceMiles),
		decimalPtrString(a.BilledDurationHours),
		decimalPtrString(a.BilledLoadRate),
		now(),
	)
	return err
}

// ListAssignmentIDs returns every assignment ID, ordered by driver then ID.
func (s *Store) ListAssignmentIDs(ctx context.Context) ([]compensation.AssignmentID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM assignments ORDER BY driver_id, id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []compensation.AssignmentID
	for rows.Next() {
		var id compensation.AssignmentID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetDriver retrieves a driver by ID. Returns nil when not found.
func (s *Store) GetDriver(ctx context.Context, id compensation.DriverID) (*compensation.Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var d compensation.Driver
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name FROM drivers WHERE id = ?", id,
	).Scan(&d.ID, &d.Name)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// PaymentsByDriver returns the driver's payments in payment-date order.
func (s *Store) PaymentsByDriver(ctx context.Context, driverID compensation.DriverID) ([]compensation.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, driver_id, amount, payment_date, notes, is_batch_payment, created_at
		FROM payments
		WHERE driver_id = ?
		ORDER BY payment_date ASC, created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, driverID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []compensation.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"assignment_payments", "payments", "assignments", "route_legs", "loads", "drivers"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func nullDecimal(ns sql.NullString) *decimal.Decimal {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	d := mustDecimal(ns.String)
	return &d
}

func decimalPtrString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}
