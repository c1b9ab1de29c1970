/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY ON THE WIRE:
  All amounts are JSON strings with two fractional digits ("112.50").
  Never JSON numbers - clients must not round-trip money through float64.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - compensation/run.go: The domain model these project
*/
package api

import (
	"github.com/linehaul/dispatch-engine/compensation"
)

// =============================================================================
// ASSIGNMENT TYPES
// =============================================================================

// AssignmentDTO represents an assignment with its computed pay.
type AssignmentDTO struct {
	ID            string `json:"id"`
	DriverID      string `json:"driver_id"`
	DriverName    string `json:"driver_name"`
	LoadID        string `json:"load_id"`
	LoadReference string `json:"load_reference"`
	ChargeType    string `json:"charge_type"`
	ChargeValue   string `json:"charge_value"`
	DistanceMiles string `json:"distance_miles"`
	DurationHours string `json:"duration_hours"`
	LoadRate      string `json:"load_rate"`
	Pay           string `json:"pay"`
	Overridden    bool   `json:"overridden"`
}

// PaymentDTO represents a payment in API responses.
type PaymentDTO struct {
	ID             string `json:"id"`
	DriverID       string `json:"driver_id"`
	Amount         string `json:"amount"`
	PaymentDate    string `json:"payment_date"`
	Notes          string `json:"notes,omitempty"`
	IsBatchPayment bool   `json:"is_batch_payment"`
	CreatedAt      string `json:"created_at,omitempty"`
}

// =============================================================================
// RECONCILIATION TYPES
// =============================================================================

// PreviewRequest selects assignments for a reconciliation preview or run.
type PreviewRequest struct {
	AssignmentIDs []string `json:"assignment_ids"`
}

// DriverPreviewDTO is one driver's balance view within a run.
type DriverPreviewDTO struct {
	DriverID         string          `json:"driver_id"`
	DriverName       string          `json:"driver_name"`
	TotalDue         string          `json:"total_due"`
	TotalPaid        string          `json:"total_paid"`
	RemainingBalance string          `json:"remaining_balance"`
	ProposedAmount   string          `json:"proposed_amount"`
	Assignments      []AssignmentDTO `json:"assignments"`
	Payments         []PaymentDTO    `json:"payments"`
}

// PreviewResponse is the computed state of a prospective run.
type PreviewResponse struct {
	Drivers []DriverPreviewDTO `json:"drivers"`
}

// DetailEditRequest is one billing-detail mutation applied before submission.
// Field is one of chargeType, chargeValue, billedDistanceMiles,
// billedDurationHours, billedLoadRate. Reset restores a billed field to its
// natural leg/load value; Value is ignored when Reset is true.
type DetailEditRequest struct {
	AssignmentID string `json:"assignment_id"`
	Field        string `json:"field"`
	Value        string `json:"value,omitempty"`
	Reset        bool   `json:"reset,omitempty"`
}

// SubmitRunRequest executes a reconciliation run.
type SubmitRunRequest struct {
	AssignmentIDs []string            `json:"assignment_ids"`
	PaymentDate   string              `json:"payment_date"` // YYYY-MM-DD
	Notes         string              `json:"notes,omitempty"`
	Edits         []DetailEditRequest `json:"edits,omitempty"`
	// Amounts overrides the proposed payment per driver; drivers absent
	// from the map keep their remaining balance.
	Amounts map[string]string `json:"amounts,omitempty"`
}

// DriverOutcomeDTO is one driver's result within a completed run.
type DriverOutcomeDTO struct {
	DriverID string      `json:"driver_id"`
	Payment  *PaymentDTO `json:"payment,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// SubmitRunResponse reports per-driver outcomes.
type SubmitRunResponse struct {
	Outcomes []DriverOutcomeDTO `json:"outcomes"`
	Failed   bool               `json:"failed"`
}

// =============================================================================
// SEED TYPES
// =============================================================================

// SeedResponse reports what the demo seed created.
type SeedResponse struct {
	Drivers     int `json:"drivers"`
	Loads       int `json:"loads"`
	Assignments int `json:"assignments"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toPaymentDTO(p compensation.Payment) PaymentDTO {
	return PaymentDTO{
		ID:             string(p.ID),
		DriverID:       string(p.DriverID),
		Amount:         p.Amount.String(),
		PaymentDate:    p.PaymentDate.Format("2006-01-02"),
		Notes:          p.Notes,
		IsBatchPayment: p.IsBatchPayment,
		CreatedAt:      p.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func toAssignmentDTO(d compensation.BillingDetail) AssignmentDTO {
	a := d.Assignment()
	return AssignmentDTO{
		ID:            string(a.ID),
		DriverID:      string(a.DriverID),
		DriverName:    a.Driver.Name,
		LoadID:        string(a.LoadID),
		LoadReference: a.Load.Reference,
		ChargeType:    string(d.ChargeType),
		ChargeValue:   d.ChargeValue.String(),
		DistanceMiles: d.BilledDistanceMiles.StringFixed(2),
		DurationHours: d.BilledDurationHours.StringFixed(2),
		LoadRate:      d.BilledLoadRate.StringFixed(2),
		Pay:           d.Pay().Round().String(),
		Overridden: a.BilledDistanceMiles != nil ||
			a.BilledDurationHours != nil ||
			a.BilledLoadRate != nil,
	}
}
