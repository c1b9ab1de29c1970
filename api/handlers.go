/*
handlers.go - HTTP API handlers for the dispatch compensation engine

PURPOSE:
  Exposes the compensation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Assignments:
    GET    /api/assignments                          List assignments with computed pay

  Reconciliation:
    POST   /api/reconciliation/preview               Compute balances for a selection
    POST   /api/reconciliation/runs                  Execute a reconciliation run

  Payments:
    GET    /api/drivers/{id}/payments                Payment history
    GET    /api/drivers/{id}/payments/export         Payment history as .xlsx
    DELETE /api/drivers/{id}/payments/{paymentID}    Delete a payment

  Admin:
    POST   /api/seed                                 Load demo data
    POST   /api/reset                                Clear all data (dev only)

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Build a reconciliation run over the selected assignments
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (run in flight, driver fully paid)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - compensation/run.go: Run lifecycle this layer drives
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/linehaul/dispatch-engine/compensation"
	"github.com/linehaul/dispatch-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  *sqlite.Store
	Logger *slog.Logger
}

// NewHandler creates a new handler with the given store.
func NewHandler(store *sqlite.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Store: store, Logger: logger}
}

// =============================================================================
// ASSIGNMENT ENDPOINTS
// =============================================================================

// ListAssignments returns every assignment with its computed pay.
// GET /api/assignments
func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ids, err := h.Store.ListAssignmentIDs(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list assignments", err)
		return
	}
	if len(ids) == 0 {
		writeJSON(w, http.StatusOK, []AssignmentDTO{})
		return
	}

	assignments, err := h.Store.AssignmentsByIDs(ctx, ids)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load assignments", err)
		return
	}

	run, err := compensation.NewRun(assignments, time.Now(), h.Logger)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build assignment view", err)
		return
	}

	dtos := make([]AssignmentDTO, 0, len(assignments))
	for _, driverID := range run.Drivers() {
		for _, d := range run.Details(driverID) {
			dtos = append(dtos, toAssignmentDTO(d))
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RECONCILIATION ENDPOINTS
// =============================================================================

// PreviewRun computes per-driver balances for a selection without writing.
// POST /api/reconciliation/preview
func (h *Handler) PreviewRun(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	run, status, err := h.buildRun(r, req.AssignmentIDs, time.Now())
	if err != nil {
		writeError(w, status, "Failed to build run", err)
		return
	}

	writeJSON(w, http.StatusOK, h.toPreviewResponse(run))
}

// SubmitRun executes a reconciliation run: edits first, then one payment per
// driver with a positive amount.
// POST /api/reconciliation/runs
func (h *Handler) SubmitRun(w http.ResponseWriter, r *http.Request) {
	var req SubmitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.PaymentDate == "" {
		writeError(w, http.StatusBadRequest, "payment_date is required", compensation.ErrNoPaymentDate)
		return
	}
	paymentDate, err := time.Parse("2006-01-02", req.PaymentDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payment_date format (use YYYY-MM-DD)", err)
		return
	}

	run, status, err := h.buildRun(r, req.AssignmentIDs, paymentDate)
	if err != nil {
		writeError(w, status, "Failed to build run", err)
		return
	}
	run.SetNotes(req.Notes)

	for _, edit := range req.Edits {
		if err := h.applyEdit(run, edit); err != nil {
			writeError(w, editStatus(err), "Failed to apply edit", err)
			return
		}
	}
	for driverID, amount := range req.Amounts {
		value, err := decimal.NewFromString(amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid amount for driver "+driverID, err)
			return
		}
		if err := run.SetProposedAmount(compensation.DriverID(driverID), compensation.NewMoney(value)); err != nil {
			writeError(w, editStatus(err), "Failed to set amount", err)
			return
		}
	}

	result, err := run.Submit(r.Context(), h.Store)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case compensation.IsValidation(err):
			status = http.StatusBadRequest
		case errors.Is(err, compensation.ErrRunBusy):
			status = http.StatusConflict
		}
		writeError(w, status, "Run submission failed", err)
		return
	}

	resp := SubmitRunResponse{Failed: result.Failed()}
	for _, driverID := range run.Drivers() {
		if p, ok := result.Payments[driverID]; ok {
			dto := toPaymentDTO(p)
			resp.Outcomes = append(resp.Outcomes, DriverOutcomeDTO{
				DriverID: string(driverID),
				Payment:  &dto,
			})
		} else if err, ok := result.Errors[driverID]; ok {
			resp.Outcomes = append(resp.Outcomes, DriverOutcomeDTO{
				DriverID: string(driverID),
				Error:    err.Error(),
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// buildRun loads the selected assignments and seeds a run over them.
func (h *Handler) buildRun(r *http.Request, rawIDs []string, paymentDate time.Time) (*compensation.Run, int, error) {
	if len(rawIDs) == 0 {
		return nil, http.StatusBadRequest, compensation.ErrNoAssignments
	}

	ids := make([]compensation.AssignmentID, len(rawIDs))
	for i, id := range rawIDs {
		ids[i] = compensation.AssignmentID(id)
	}

	assignments, err := h.Store.AssignmentsByIDs(r.Context(), ids)
	if err != nil {
		if errors.Is(err, compensation.ErrUnknownAssignment) {
			return nil, http.StatusNotFound, err
		}
		return nil, http.StatusInternalServerError, err
	}

	run, err := compensation.NewRun(assignments, paymentDate, h.Logger)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	return run, http.StatusOK, nil
}

func (h *Handler) applyEdit(run *compensation.Run, req DetailEditRequest) error {
	id := compensation.AssignmentID(req.AssignmentID)

	if err := run.EnterEditMode(id); err != nil {
		return err
	}
	defer run.ExitEditMode(id)

	if req.Reset {
		field, ok := parseBilledField(req.Field)
		if !ok {
			return &compensation.ChargeValueError{
				AssignmentID: id, Value: req.Field, Reason: "not a resettable field",
			}
		}
		return run.ResetField(id, field)
	}

	var edit compensation.DetailEdit
	switch req.Field {
	case "chargeType":
		ct, ok := compensation.ParseChargeType(req.Value)
		if !ok {
			return &compensation.ChargeValueError{
				AssignmentID: id, Value: req.Value, Reason: "unknown charge type",
			}
		}
		edit = compensation.SetChargeType{Value: ct}
	case "chargeValue", "billedDistanceMiles", "billedDurationHours", "billedLoadRate":
		value, err := decimal.NewFromString(req.Value)
		if err != nil {
			return &compensation.ChargeValueError{
				AssignmentID: id, Value: req.Value, Reason: "not a decimal number",
			}
		}
		switch req.Field {
		case "chargeValue":
			edit = compensation.SetChargeValue{Value: value}
		case "billedDistanceMiles":
			edit = compensation.SetBilledDistance{Value: value}
		case "billedDurationHours":
			edit = compensation.SetBilledDuration{Value: value}
		case "billedLoadRate":
			edit = compensation.SetBilledLoadRate{Value: value}
		}
	default:
		return &compensation.ChargeValueError{
			AssignmentID: id, Value: req.Field, Reason: "unknown field",
		}
	}
	return run.ApplyEdit(id, edit)
}

func parseBilledField(s string) (compensation.BilledField, bool) {
	switch compensation.BilledField(s) {
	case compensation.FieldBilledDistance, compensation.FieldBilledDuration, compensation.FieldBilledLoadRate:
		return compensation.BilledField(s), true
	}
	return "", false
}

func (h *Handler) toPreviewResponse(run *compensation.Run) PreviewResponse {
	resp := PreviewResponse{Drivers: []DriverPreviewDTO{}}
	for _, driverID := range run.Drivers() {
		details := run.Details(driverID)

		dto := DriverPreviewDTO{
			DriverID:         string(driverID),
			TotalDue:         run.TotalDue(driverID).String(),
			TotalPaid:        run.TotalPaid(driverID).String(),
			RemainingBalance: run.RemainingBalance(driverID).String(),
			ProposedAmount:   run.ProposedAmount(driverID).String(),
			Assignments:      make([]AssignmentDTO, 0, len(details)),
			Payments:         []PaymentDTO{},
		}
		for _, d := range details {
			dto.Assignments = append(dto.Assignments, toAssignmentDTO(d))
		}
		if len(details) > 0 {
			dto.DriverName = details[0].Assignment().Driver.Name
		}
		for _, p := range run.PaymentHistory(driverID) {
			dto.Payments = append(dto.Payments, toPaymentDTO(p))
		}
		resp.Drivers = append(resp.Drivers, dto)
	}
	return resp
}

// =============================================================================
// PAYMENT ENDPOINTS
// =============================================================================

// ListPayments returns a driver's payment history.
// GET /api/drivers/{id}/payments
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	driverID := compensation.DriverID(chi.URLParam(r, "id"))

	driver, err := h.Store.GetDriver(ctx, driverID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get driver", err)
		return
	}
	if driver == nil {
		writeError(w, http.StatusNotFound, "Driver not found", nil)
		return
	}

	payments, err := h.Store.PaymentsByDriver(ctx, driverID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list payments", err)
		return
	}

	dtos := make([]PaymentDTO, 0, len(payments))
	for _, p := range payments {
		dtos = append(dtos, toPaymentDTO(p))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// DeletePayment removes a payment and all its assignment links.
// DELETE /api/drivers/{id}/payments/{paymentID}
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	driverID := chi.URLParam(r, "id")
	paymentID := chi.URLParam(r, "paymentID")

	if driverID == "" {
		// A payment with no resolvable owner must never be deleted.
		writeError(w, http.StatusBadRequest, "Driver is required", compensation.ErrUnresolvedDriver)
		return
	}

	err := h.Store.DeletePayment(ctx, compensation.DriverID(driverID), compensation.PaymentID(paymentID))
	if err != nil {
		if errors.Is(err, compensation.ErrUnresolvedDriver) {
			writeError(w, http.StatusNotFound, "Payment not found for driver", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete payment", err)
		return
	}

	h.Logger.Info("payment deleted", "driver_id", driverID, "payment_id", paymentID)
	writeJSON(w, http.StatusOK, map[string]any{"deleted": paymentID})
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

// ResetDatabase clears all data.
// POST /api/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reset": true})
}

// =============================================================================
// HELPERS
// =============================================================================

func editStatus(err error) int {
	switch {
	case errors.Is(err, compensation.ErrUnknownAssignment),
		errors.Is(err, compensation.ErrUnknownDriver):
		return http.StatusNotFound
	case errors.Is(err, compensation.ErrDriverFullyPaid):
		return http.StatusConflict
	case errors.Is(err, compensation.ErrInvalidChargeValue):
		return http.StatusBadRequest
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
