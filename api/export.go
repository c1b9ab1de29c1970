/*
export.go - Payment history export to .xlsx

PURPOSE:
  Back-office clerks hand payment summaries to accounting as spreadsheets.
  One sheet per export: the driver's payments in date order plus a total
  row, streamed straight to the HTTP response.
*/
package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xuri/excelize/v2"

	"github.com/linehaul/dispatch-engine/compensation"
)

// ExportPayments writes a driver's payment history as an .xlsx workbook.
// GET /api/drivers/{id}/payments/export
func (h *Handler) ExportPayments(w http.ResponseWriter, r *http.Request) {
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

	f := excelize.NewFile()
	defer f.Close()

	sheet := "Payments"
	index, err := f.NewSheet(sheet)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build workbook", err)
		return
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headers := []string{"Payment ID", "Date", "Amount", "Batch", "Notes"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, header)
	}

	total := compensation.ZeroMoney()
	row := 2
	for _, p := range payments {
		batch := "no"
		if p.IsBatchPayment {
			batch = "yes"
		}
		values := []any{string(p.ID), p.PaymentDate.Format("2006-01-02"), p.Amount.String(), batch, p.Notes}
		for i, v := range values {
			cell, _ := excelize.CoordinatesToCellName(i+1, row)
			f.SetCellValue(sheet, cell, v)
		}
		if p.Amount.IsPositive() {
			total = total.Add(p.Amount)
		}
		row++
	}

	totalLabel, _ := excelize.CoordinatesToCellName(2, row+1)
	totalCell, _ := excelize.CoordinatesToCellName(3, row+1)
	f.SetCellValue(sheet, totalLabel, "Total")
	f.SetCellValue(sheet, totalCell, total.Round().String())

	filename := fmt.Sprintf("payments-%s.xlsx", driverID)
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	if err := f.Write(w); err != nil {
		h.Logger.Error("payment export failed", "driver_id", string(driverID), "error", err)
	}
}
